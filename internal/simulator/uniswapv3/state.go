package uniswapv3

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Schema identifies this protocol family on the pool-update stream.
const Schema = "uniswap_v3"

// TickInfo represents the information about an initialized tick.
// i know big.Int is not the most cache-friendly type, but it is accurate and
// required for this implementation.
type TickInfo struct {
	Index          int64    `json:"index"`
	LiquidityGross *big.Int `json:"liquidityGross"`
	LiquidityNet   *big.Int `json:"liquidityNet"`
	// presence of this object implicitly means the tick is initialized
}

// State is the full simulation state of a single concentrated-liquidity
// pool: the core price/liquidity view plus the initialized tick ladder,
// which must be kept sorted by Index. Updates from the stream replace it
// wholesale.
type State struct {
	Address      common.Address `json:"address"`
	Token0       common.Address `json:"token0"`
	Token1       common.Address `json:"token1"`
	Fee          uint64         `json:"fee"` // in hundredths of a bip, i.e 3000 for 0.3%
	TickSpacing  uint64         `json:"tickSpacing"`
	Tick         int64          `json:"tick"`
	Liquidity    *big.Int       `json:"liquidity"`
	SqrtPriceX96 *big.Int       `json:"sqrtPriceX96"`
	Ticks        []TickInfo     `json:"ticks"`
}

// DeepCopy returns a State whose mutable members have their own memory, so
// a post-swap state never aliases its predecessor.
func (s State) DeepCopy() State {
	out := s
	if s.Liquidity != nil {
		out.Liquidity = new(big.Int).Set(s.Liquidity)
	}
	if s.SqrtPriceX96 != nil {
		out.SqrtPriceX96 = new(big.Int).Set(s.SqrtPriceX96)
	}
	if s.Ticks != nil {
		out.Ticks = make([]TickInfo, len(s.Ticks))
		for i, t := range s.Ticks {
			copied := t
			if t.LiquidityGross != nil {
				copied.LiquidityGross = new(big.Int).Set(t.LiquidityGross)
			}
			if t.LiquidityNet != nil {
				copied.LiquidityNet = new(big.Int).Set(t.LiquidityNet)
			}
			out.Ticks[i] = copied
		}
	}
	return out
}
