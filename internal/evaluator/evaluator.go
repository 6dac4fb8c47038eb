// Package evaluator compares each monitored pool's marginal price against
// the external reference and emits rebalancement intents for pools that
// drifted outside the configured band. It is pure: same inputs, same intents.
package evaluator

import (
	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/logging"
	"github.com/tychomaker/divergence-bot/internal/poolindex"
)

// ComponentPrice is one monitored pool's current quote-per-base spot.
type ComponentPrice struct {
	Address  string  `json:"address"`
	Protocol string  `json:"type"`
	Price    float64 `json:"price"`
}

type Evaluator struct {
	base            domain.Token
	quote           domain.Token
	targetSpreadBps float64
	logger          logging.Logger
}

func New(base, quote domain.Token, targetSpreadBps float64, logger logging.Logger) *Evaluator {
	return &Evaluator{
		base:            base,
		quote:           quote,
		targetSpreadBps: targetSpreadBps,
		logger:          logger,
	}
}

// Prices computes the quote-per-base spot for every monitored pool, in
// target order. Pools whose simulator refuses to price are skipped.
func (e *Evaluator) Prices(targets []poolindex.Target) []ComponentPrice {
	prices := make([]ComponentPrice, 0, len(targets))
	for _, target := range targets {
		base, okBase := target.Pool.Token(e.base.Address)
		quote, okQuote := target.Pool.Token(e.quote.Address)
		if !okBase || !okQuote {
			e.logger.Warn("Monitored pool is missing a pair leg", "pool", target.Pool.ID)
			continue
		}
		price, err := target.Simulator.SpotPrice(base, quote)
		if err != nil {
			e.logger.Warn("Failed to get spot price on pool", "pool", target.Pool.ID, "error", err)
			continue
		}
		prices = append(prices, ComponentPrice{
			Address:  target.Pool.ID,
			Protocol: target.Pool.Protocol,
			Price:    price,
		})
	}
	return prices
}

// Evaluate emits one intent per pool whose absolute spread against the
// reference exceeds the target band. A positive spread means the pool
// over-prices the quote relative to the market, so the bot sells base into
// it; a negative spread buys base. The targets and spots vectors must match
// in length; a mismatch yields no intents.
func (e *Evaluator) Evaluate(targets []poolindex.Target, spots []float64, reference float64) []domain.RebalancementIntent {
	if len(spots) == 0 || len(targets) != len(spots) {
		e.logger.Warn("Pool targets and spot prices length mismatch", "targets", len(targets), "spots", len(spots))
		return nil
	}

	intents := make([]domain.RebalancementIntent, 0)
	for i, target := range targets {
		spot := spots[i]
		spread := spot - reference
		spreadBps := spread / reference * domain.BasisPointDenominator

		e.logger.Debug("Evaluating pool",
			"pool", target.Pool.ID,
			"spot", spot,
			"reference", reference,
			"spread_bps", spreadBps,
		)

		if abs(spreadBps) <= e.targetSpreadBps {
			continue
		}

		intent := domain.RebalancementIntent{
			Pool:      target.Pool,
			Simulator: target.Simulator,
			Spot:      spot,
			Reference: reference,
			Spread:    spread,
			SpreadBps: spreadBps,
		}
		if spreadBps > 0 {
			intent.Direction = domain.SellBase
			intent.Selling = e.base
			intent.Buying = e.quote
		} else {
			intent.Direction = domain.BuyBase
			intent.Selling = e.quote
			intent.Buying = e.base
		}
		intents = append(intents, intent)
	}
	return intents
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
