// Package simulator wires the per-protocol pool states and calculators into
// the Simulator interface the decision loop consumes, and exposes the
// schema-keyed decoder registry the pool-update stream uses to materialise
// simulators from raw payloads.
package simulator

import (
	"encoding/json"
	"fmt"
	"math"
	"math/big"

	"github.com/tychomaker/divergence-bot/internal/domain"
	uniswapv2 "github.com/tychomaker/divergence-bot/internal/simulator/uniswapv2"
	uniswapv2calculator "github.com/tychomaker/divergence-bot/internal/simulator/uniswapv2/calculator"
	uniswapv3 "github.com/tychomaker/divergence-bot/internal/simulator/uniswapv3"
	uniswapv3calculator "github.com/tychomaker/divergence-bot/internal/simulator/uniswapv3/calculator"
)

// Per-family swap gas estimates, returned alongside quotes so the sizer can
// account execution cost before a transaction exists.
const (
	uniswapV2SwapGas = 120_000
	uniswapV3SwapGas = 160_000
)

// DecoderFunc turns a raw stream payload into a live simulator.
type DecoderFunc func(data json.RawMessage) (domain.Simulator, error)

// Decoders returns the registry of supported protocol families.
func Decoders() map[string]DecoderFunc {
	return map[string]DecoderFunc{
		uniswapv2.Schema: DecodeUniswapV2,
		uniswapv3.Schema: DecodeUniswapV3,
	}
}

// -----------------------------------------------------------------------------
// Uniswap V2
// -----------------------------------------------------------------------------

type v2Simulator struct {
	state uniswapv2.State
}

// NewUniswapV2 wraps a constant-product pool state as a Simulator.
func NewUniswapV2(state uniswapv2.State) domain.Simulator {
	return &v2Simulator{state: state}
}

// DecodeUniswapV2 materialises a V2 simulator from a stream payload.
func DecodeUniswapV2(data json.RawMessage) (domain.Simulator, error) {
	var state uniswapv2.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode %s state: %w", uniswapv2.Schema, err)
	}
	if state.Reserve0 == nil || state.Reserve1 == nil {
		return nil, fmt.Errorf("%s state %s is missing reserves", uniswapv2.Schema, state.Address)
	}
	return &v2Simulator{state: state}, nil
}

func (s *v2Simulator) SpotPrice(tokenIn, tokenOut domain.Token) (float64, error) {
	rate, err := uniswapv2calculator.GetExchangeRate(tokenIn.Address, tokenOut.Address, tokenIn.Decimals, s.state)
	if err != nil {
		return 0, err
	}
	// rate is in tokenOut smallest units per one normalized tokenIn.
	price, _ := new(big.Float).SetInt(rate).Float64()
	return price / math.Pow(10, float64(tokenOut.Decimals)), nil
}

func (s *v2Simulator) GetAmountOut(amountIn *big.Int, tokenIn, tokenOut domain.Token) (*domain.SwapResult, error) {
	amountOut, newState, err := uniswapv2calculator.SimulateSwap(amountIn, tokenIn.Address, tokenOut.Address, s.state.DeepCopy())
	if err != nil {
		return nil, err
	}
	return &domain.SwapResult{
		AmountOut:   amountOut,
		GasEstimate: uniswapV2SwapGas,
		NewState:    &v2Simulator{state: newState},
	}, nil
}

// -----------------------------------------------------------------------------
// Uniswap V3
// -----------------------------------------------------------------------------

type v3Simulator struct {
	state uniswapv3.State
}

// NewUniswapV3 wraps a concentrated-liquidity pool state as a Simulator.
func NewUniswapV3(state uniswapv3.State) domain.Simulator {
	return &v3Simulator{state: state}
}

// DecodeUniswapV3 materialises a V3 simulator from a stream payload.
func DecodeUniswapV3(data json.RawMessage) (domain.Simulator, error) {
	var state uniswapv3.State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to decode %s state: %w", uniswapv3.Schema, err)
	}
	if state.Liquidity == nil || state.SqrtPriceX96 == nil {
		return nil, fmt.Errorf("%s state %s is missing liquidity or price", uniswapv3.Schema, state.Address)
	}
	return &v3Simulator{state: state}, nil
}

func (s *v3Simulator) SpotPrice(tokenIn, tokenOut domain.Token) (float64, error) {
	for _, tk := range []domain.Token{tokenIn, tokenOut} {
		if tk.Address != s.state.Token0 && tk.Address != s.state.Token1 {
			return 0, fmt.Errorf("token %s is not in pool %s", tk.Address, s.state.Address)
		}
	}
	sp, err := uniswapv3calculator.GetSpotPrice(tokenIn.Address, tokenOut.Address, tokenIn.Decimals, tokenOut.Decimals, s.state)
	if err != nil {
		return 0, err
	}
	// sp is scaled by tokenOut decimals.
	price, _ := new(big.Float).SetInt(sp).Float64()
	return price / math.Pow(10, float64(tokenOut.Decimals)), nil
}

func (s *v3Simulator) GetAmountOut(amountIn *big.Int, tokenIn, tokenOut domain.Token) (*domain.SwapResult, error) {
	if tokenOut.Address != s.state.Token0 && tokenOut.Address != s.state.Token1 {
		return nil, fmt.Errorf("token %s is not in pool %s", tokenOut.Address, s.state.Address)
	}
	amountOut, newState, err := uniswapv3calculator.SimulateExactInSwap(amountIn, nil, tokenIn.Address, s.state.DeepCopy())
	if err != nil {
		return nil, err
	}
	return &domain.SwapResult{
		AmountOut:   amountOut,
		GasEstimate: uniswapV3SwapGas,
		NewState:    &v3Simulator{state: newState},
	}, nil
}
