package domain

import "math/big"

// SwapResult is what a simulator returns for one exact-in quote.
type SwapResult struct {
	AmountOut   *big.Int
	GasEstimate uint64
	// NewState is the simulator after the swap has been applied. The
	// pre-swap simulator is left untouched.
	NewState Simulator
}

// Simulator answers price questions for a single pool. One simulator per
// pool id; its lifetime is tied to the pool's presence in the index.
type Simulator interface {
	// SpotPrice returns the marginal price of tokenIn denominated in
	// tokenOut, in normalized units.
	SpotPrice(tokenIn, tokenOut Token) (float64, error)

	// GetAmountOut quotes an exact-in swap of amountIn smallest units.
	GetAmountOut(amountIn *big.Int, tokenIn, tokenOut Token) (*SwapResult, error)
}
