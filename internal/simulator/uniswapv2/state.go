package uniswapv2

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Schema identifies this protocol family on the pool-update stream.
const Schema = "uniswap_v2"

// State is the full simulation state of a single constant-product pool.
// Updates from the stream replace it wholesale.
type State struct {
	Address  common.Address `json:"address"`
	Token0   common.Address `json:"token0"`
	Token1   common.Address `json:"token1"`
	Reserve0 *big.Int       `json:"reserve0"`
	Reserve1 *big.Int       `json:"reserve1"`
	FeeBps   uint16         `json:"feeBps"` // i.e 30 for 0.3%
}

// DeepCopy returns a State with its own memory for the reserve pointers, so
// a post-swap state never shares *big.Int storage with its predecessor.
func (s State) DeepCopy() State {
	out := s
	if s.Reserve0 != nil {
		out.Reserve0 = new(big.Int).Set(s.Reserve0)
	}
	if s.Reserve1 != nil {
		out.Reserve1 = new(big.Int).Set(s.Reserve1)
	}
	return out
}
