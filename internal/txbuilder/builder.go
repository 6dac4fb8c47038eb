// Package txbuilder materialises accepted execution orders into transaction
// request pairs: an exact-amount approval of the permit2 spender, then the
// router swap produced by the external calldata encoder. Nonces are assigned
// sequentially across the cycle.
package txbuilder

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/logging"
)

const erc20ApproveABI = `[{"name":"approve","type":"function","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]}]`

var approveABI = func() abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(erc20ApproveABI))
	if err != nil {
		panic(err)
	}
	return parsed
}()

// Solution is the logical swap handed to the external calldata encoder.
type Solution struct {
	Sender        common.Address
	Receiver      common.Address
	GivenToken    domain.Token
	CheckedToken  domain.Token
	GivenAmount   *big.Int
	ExpectedAmount *big.Int
	CheckedAmount *big.Int
	Slippage      float64
	ExactIn       bool
	Pool          domain.Pool
}

// Encoder turns a logical solution into router-specific calldata.
type Encoder interface {
	Encode(ctx context.Context, solution Solution) (to common.Address, data []byte, err error)
}

type Builder struct {
	chainID  uint64
	wallet   common.Address
	permit2  common.Address
	slippage float64
	encoder  Encoder
	logger   logging.Logger
}

func New(chainID uint64, wallet, permit2 common.Address, slippage float64, encoder Encoder, logger logging.Logger) *Builder {
	return &Builder{
		chainID:  chainID,
		wallet:   wallet,
		permit2:  permit2,
		slippage: slippage,
		encoder:  encoder,
		logger:   logger,
	}
}

// Build prepares one (approval, swap) pair per order. The approval amount is
// always exactly the swap's given amount, never infinite. Nonces occupy
// inventory.Nonce, +1, +2, ... in emission order; conflicts between orders
// are left for the execution strategy to resolve.
func (b *Builder) Build(ctx context.Context, orders []domain.ExecutionOrder, mctx domain.MarketContext, inventory domain.Inventory) ([]domain.PreparedTrade, error) {
	trades := make([]domain.PreparedTrade, 0, len(orders))
	nonce := inventory.Nonce

	for _, order := range orders {
		trade, err := b.build(ctx, order, mctx, nonce)
		if err != nil {
			b.logger.Error("Failed to prepare trade", "pool", order.Intent.Pool.ID, "error", err)
			continue
		}
		trades = append(trades, trade)
		nonce += 2
	}
	return trades, nil
}

func (b *Builder) build(ctx context.Context, order domain.ExecutionOrder, mctx domain.MarketContext, nonce uint64) (domain.PreparedTrade, error) {
	calc := order.Calculation
	if calc.ScaledSellingAmount == nil || calc.ScaledSellingAmount.Sign() <= 0 {
		return domain.PreparedTrade{}, fmt.Errorf("order has no positive selling amount")
	}
	if _, overflow := uint256.FromBig(calc.ScaledSellingAmount); overflow {
		return domain.PreparedTrade{}, fmt.Errorf("selling amount does not fit in a uint256")
	}

	solution := Solution{
		Sender:         b.wallet,
		Receiver:       b.wallet,
		GivenToken:     order.Intent.Selling,
		CheckedToken:   order.Intent.Buying,
		GivenAmount:    calc.ScaledSellingAmount,
		ExpectedAmount: calc.AmountOut,
		CheckedAmount:  calc.AmountOutMin,
		Slippage:       b.slippage,
		ExactIn:        true,
		Pool:           order.Intent.Pool,
	}

	swapTo, swapData, err := b.encoder.Encode(ctx, solution)
	if err != nil {
		return domain.PreparedTrade{}, fmt.Errorf("failed to encode swap calldata: %w", err)
	}

	approveData, err := approveABI.Pack("approve", b.permit2, calc.ScaledSellingAmount)
	if err != nil {
		return domain.PreparedTrade{}, fmt.Errorf("failed to pack approval calldata: %w", err)
	}

	b.logger.Debug("Prepared trade",
		"pool", order.Intent.Pool.ID,
		"selling", order.Intent.Selling.Symbol,
		"buying", order.Intent.Buying.Symbol,
		"amount_in", calc.ScaledSellingAmount.String(),
		"amount_out_min", calc.AmountOutMin.String(),
		"nonce", nonce,
	)

	approval := domain.TxRequest{
		To:                   order.Intent.Selling.Address,
		From:                 b.wallet,
		Input:                approveData,
		GasLimit:             domain.ApproveGasLimit,
		ChainID:              b.chainID,
		MaxFeePerGas:         mctx.MaxFeePerGas,
		MaxPriorityFeePerGas: mctx.MaxPriorityFeePerGas,
		Nonce:                nonce,
	}
	swap := domain.TxRequest{
		To:                   swapTo,
		From:                 b.wallet,
		Input:                swapData,
		GasLimit:             domain.SwapGasLimit,
		ChainID:              b.chainID,
		MaxFeePerGas:         mctx.MaxFeePerGas,
		MaxPriorityFeePerGas: mctx.MaxPriorityFeePerGas,
		Nonce:                nonce + 1,
		Value:                new(big.Int),
	}

	return domain.PreparedTrade{Order: order, Approval: approval, Swap: swap}, nil
}
