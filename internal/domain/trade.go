package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// TxRequest is an unsigned transaction request. The execution strategy signs
// it right before broadcast.
type TxRequest struct {
	To                   common.Address
	From                 common.Address
	Input                []byte
	GasLimit             uint64
	ChainID              uint64
	MaxFeePerGas         *big.Int
	MaxPriorityFeePerGas *big.Int
	Nonce                uint64
	Value                *big.Int
}

// PreparedTrade is an accepted order materialised as the (approval, swap)
// transaction pair, nonces n and n+1.
type PreparedTrade struct {
	Order    ExecutionOrder
	Approval TxRequest
	Swap     TxRequest
}

// TradeStatus is a monotonic lattice: Prepared -> SimulationPassed ->
// Broadcast -> IncludedSuccess | IncludedFailure, with SimulationRejected
// and BroadcastFailed as terminal side exits.
type TradeStatus uint8

const (
	TradePrepared TradeStatus = iota
	TradeSimulationPassed
	TradeSimulationRejected
	TradeBroadcast
	TradeIncludedSuccess
	TradeIncludedFailure
	TradeBroadcastFailed
)

func (s TradeStatus) String() string {
	switch s {
	case TradePrepared:
		return "prepared"
	case TradeSimulationPassed:
		return "simulation_passed"
	case TradeSimulationRejected:
		return "simulation_rejected"
	case TradeBroadcast:
		return "broadcast"
	case TradeIncludedSuccess:
		return "included_success"
	case TradeIncludedFailure:
		return "included_failure"
	case TradeBroadcastFailed:
		return "broadcast_failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status admits no further transition.
func (s TradeStatus) Terminal() bool {
	switch s {
	case TradeSimulationRejected, TradeIncludedSuccess, TradeIncludedFailure, TradeBroadcastFailed:
		return true
	default:
		return false
	}
}

// TradeRecord is a prepared trade plus its simulation and broadcast outcome.
type TradeRecord struct {
	Trade        PreparedTrade
	Status       TradeStatus
	SimulatedGas uint64
	RevertReason string
	ApprovalHash common.Hash
	SwapHash     common.Hash
	Error        string
	BroadcastMs  int64
}
