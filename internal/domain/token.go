package domain

import (
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Token is an immutable ERC-20 descriptor. The address is the equality key.
type Token struct {
	Address  common.Address
	Decimals uint8
	Symbol   string
	// GasUsage is the per-transfer gas estimate used when accounting a swap
	// that touches this token.
	GasUsage uint64
}

func (t Token) Equal(o Token) bool {
	return t.Address == o.Address
}

// Pow returns 10^decimals as a float, the divisor between scaled (smallest
// unit) and normalized amounts.
func (t Token) Pow() float64 {
	return math.Pow(10, float64(t.Decimals))
}

// Normalize converts an amount in smallest units to normalized units.
func (t Token) Normalize(scaled *big.Int) float64 {
	if scaled == nil {
		return 0
	}
	f, _ := new(big.Float).Quo(new(big.Float).SetInt(scaled), big.NewFloat(t.Pow())).Float64()
	return f
}

// Scaled converts a normalized amount to smallest units, truncating toward
// zero. Amounts that cross into a transaction must go through here: floats
// never reach the chain directly.
func (t Token) Scaled(normalized float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(normalized), big.NewFloat(t.Pow()))
	out, _ := scaled.Int(nil)
	if out.Sign() < 0 {
		return new(big.Int)
	}
	return out
}
