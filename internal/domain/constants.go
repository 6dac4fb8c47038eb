package domain

import "time"

const (
	// BasisPointDenominator represents 100% in basis points.
	BasisPointDenominator = 10_000.0

	// SharePoolBalanceBps is the fraction of the pool's selling-side
	// balance (in bps) that bounds a sized trade.
	SharePoolBalanceBps = 0.1

	// PriceMoveThresholdBps gates the tick pipeline: nothing runs until the
	// reference moved more than this much since the last qualifying tick.
	PriceMoveThresholdBps = 0.5

	// ApproveGasLimit is the gas limit set on approval transactions.
	ApproveGasLimit = 75_000

	// SwapGasLimit is the gas limit set on swap transactions.
	SwapGasLimit = 300_000

	// RestartDelay is how long the supervisor waits before rebuilding the
	// stream after a fatal error. Divided by 10 in testing mode.
	RestartDelay = 60 * time.Second
)
