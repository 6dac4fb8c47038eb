// Package sizing converts rebalancement intents into concrete, gas-accounted
// execution orders. Sizes are derived as floats for the profit model and
// re-derived in integer smallest units before anything reaches a transaction.
package sizing

import (
	"context"
	"math"
	"math/big"
	"sort"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/logging"
)

// epsilon is the double-precision machine epsilon, the threshold below
// which a normalized pool balance counts as empty.
var epsilon = math.Nextafter(1, 2) - 1

// BalanceFetcher reads a pool's current token balances from an external
// source. Fetched per intent, never cached across blocks.
type BalanceFetcher interface {
	ComponentBalances(ctx context.Context, pool domain.Pool) (map[common.Address]*big.Int, error)
}

// Config carries the sizing knobs from the market maker configuration.
type Config struct {
	MaxInventoryRatio float64
	MaxSlippagePct    float64
	MinExecSpreadBps  float64
}

type Sizer struct {
	cfg      Config
	balances BalanceFetcher
	logger   logging.Logger
	metrics  *Metrics
}

func New(cfg Config, balances BalanceFetcher, logger logging.Logger, reg prometheus.Registerer) *Sizer {
	return &Sizer{
		cfg:      cfg,
		balances: balances,
		logger:   logger,
		metrics:  NewMetrics(reg),
	}
}

// Size works through intents in signed-spread order and returns the orders
// that survive balance, simulation and profitability checks. Per-intent
// failures skip the intent; they are never fatal.
func (s *Sizer) Size(ctx context.Context, mctx domain.MarketContext, inventory domain.Inventory, intents []domain.RebalancementIntent) []domain.ExecutionOrder {
	sorted := make([]domain.RebalancementIntent, len(intents))
	copy(sorted, intents)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].SpreadBps < sorted[j].SpreadBps
	})

	attempted := mapset.NewThreadUnsafeSet[string]()
	orders := make([]domain.ExecutionOrder, 0)
	for _, intent := range sorted {
		if !attempted.Add(intent.Pool.ID) {
			s.logger.Debug("Pool already sized this cycle, skipping", "pool", intent.Pool.ID)
			continue
		}
		order, ok := s.size(ctx, mctx, inventory, intent)
		if !ok {
			s.metrics.skipped.Inc()
			continue
		}
		s.metrics.accepted.Inc()
		orders = append(orders, order)
	}
	return orders
}

func (s *Sizer) size(ctx context.Context, mctx domain.MarketContext, inventory domain.Inventory, intent domain.RebalancementIntent) (domain.ExecutionOrder, bool) {
	balances, err := s.balances.ComponentBalances(ctx, intent.Pool)
	if err != nil {
		s.logger.Warn("Failed to get pool balances", "pool", intent.Pool.ID, "error", err)
		return domain.ExecutionOrder{}, false
	}

	selling, buying := intent.Selling, intent.Buying

	poolSelling, ok := balances[selling.Address]
	if !ok {
		s.logger.Warn("Failed to get selling-side pool balance", "pool", intent.Pool.ID, "token", selling.Symbol)
		return domain.ExecutionOrder{}, false
	}
	poolSellingNormalized := selling.Normalize(poolSelling)
	if poolSellingNormalized < epsilon {
		s.logger.Warn("Cannot size, selling-side pool balance is empty", "pool", intent.Pool.ID)
		return domain.ExecutionOrder{}, false
	}
	if poolBuying, ok := balances[buying.Address]; ok {
		if buying.Normalize(poolBuying) < epsilon {
			s.logger.Info("Buying-side pool balance is empty", "pool", intent.Pool.ID)
		}
	}

	baseToQuote := intent.Direction == domain.SellBase
	inventoryBalance := inventory.QuoteBalance
	if baseToQuote {
		inventoryBalance = inventory.BaseBalance
	}
	inventoryNormalized := selling.Normalize(inventoryBalance)

	// Bounded both by a share of the pool's own depth and by how much of
	// the inventory the configuration allows to deploy at once.
	optimal := poolSellingNormalized * domain.SharePoolBalanceBps / domain.BasisPointDenominator
	maxAlloc := inventoryNormalized * s.cfg.MaxInventoryRatio
	sellingAmount := math.Min(optimal, maxAlloc)
	if sellingAmount <= 0 {
		s.logger.Debug("Sized amount is zero", "pool", intent.Pool.ID, "optimal", optimal, "max_alloc", maxAlloc)
		return domain.ExecutionOrder{}, false
	}

	scaledSellingAmount := selling.Scaled(sellingAmount)
	result, err := intent.Simulator.GetAmountOut(scaledSellingAmount, selling, buying)
	if err != nil {
		s.logger.Warn("Failed to simulate amount out", "pool", intent.Pool.ID, "error", err)
		return domain.ExecutionOrder{}, false
	}

	amountOutNormalized := buying.Normalize(result.AmountOut)
	amountOutMinNormalized := amountOutNormalized * (domain.BasisPointDenominator - s.cfg.MaxSlippagePct*domain.BasisPointDenominator) / domain.BasisPointDenominator
	amountOutMin := buying.Scaled(amountOutMinNormalized)

	gasPrice, _ := new(big.Float).SetInt(mctx.GasPrice).Float64()
	gasCostNative := float64(result.GasEstimate) * gasPrice / 1e18
	gasCostUSD := gasCostNative * mctx.GasToUSD

	outputToGas := mctx.BaseToGas
	if baseToQuote {
		outputToGas = mctx.QuoteToGas
	}
	if outputToGas <= 0 {
		s.logger.Warn("No gas-token valuation for output side", "pool", intent.Pool.ID)
		return domain.ExecutionOrder{}, false
	}
	gasCostInOutput := gasCostNative / outputToGas

	netOut := amountOutNormalized - gasCostInOutput
	if netOut <= 0 {
		s.logger.Debug("Gas cost swallows the output", "pool", intent.Pool.ID, "amount_out", amountOutNormalized, "gas_in_output", gasCostInOutput)
		return domain.ExecutionOrder{}, false
	}

	averageExecPrice := amountOutNormalized / sellingAmount
	averageExecPriceNetGas := netOut / sellingAmount
	if !baseToQuote {
		// Selling the quote: the execution price must be expressed as
		// quote-per-base to compare against the reference.
		averageExecPrice = sellingAmount / amountOutNormalized
		averageExecPriceNetGas = sellingAmount / netOut
	}

	// Sign chosen so positive always means the bot wins: selling base wants
	// a higher-than-reference execution price, buying base a lower one.
	profitDelta := averageExecPriceNetGas - intent.Reference
	if !baseToQuote {
		profitDelta = intent.Reference - averageExecPriceNetGas
	}
	profitDeltaBps := profitDelta / intent.Reference * domain.BasisPointDenominator
	profitable := profitDeltaBps > s.cfg.MinExecSpreadBps

	sellingToGas := mctx.QuoteToGas
	if baseToQuote {
		sellingToGas = mctx.BaseToGas
	}
	sellingWorthUSD := sellingAmount * sellingToGas * mctx.GasToUSD
	buyingWorthUSD := amountOutNormalized * outputToGas * mctx.GasToUSD

	s.logger.Debug("Sized intent",
		"pool", intent.Pool.ID,
		"direction", intent.Direction.String(),
		"selling_amount", sellingAmount,
		"amount_out", amountOutNormalized,
		"gas_cost_usd", gasCostUSD,
		"avg_exec_price_net_gas", averageExecPriceNetGas,
		"profit_delta_bps", profitDeltaBps,
		"profitable", profitable,
	)

	if !profitable {
		return domain.ExecutionOrder{}, false
	}

	return domain.ExecutionOrder{
		Intent: intent,
		Calculation: domain.SwapCalculation{
			BaseToQuote:            baseToQuote,
			SellingAmount:          sellingAmount,
			ScaledSellingAmount:    scaledSellingAmount,
			AmountOut:              result.AmountOut,
			AmountOutNormalized:    amountOutNormalized,
			AmountOutMin:           amountOutMin,
			AmountOutMinNormalized: amountOutMinNormalized,
			GasUnits:               result.GasEstimate,
			GasCostNative:          gasCostNative,
			GasCostUSD:             gasCostUSD,
			GasCostInOutput:        gasCostInOutput,
			AverageExecPrice:       averageExecPrice,
			AverageExecPriceNetGas: averageExecPriceNetGas,
			SellingWorthUSD:        sellingWorthUSD,
			BuyingWorthUSD:         buyingWorthUSD,
			ProfitDeltaBps:         profitDeltaBps,
			Profitable:             profitable,
		},
	}, true
}
