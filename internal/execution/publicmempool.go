package execution

import (
	"context"
	"fmt"
	"time"

	"github.com/tychomaker/divergence-bot/internal/domain"
)

// PublicMempool sends trades straight to the chain's public mempool after a
// batched EVM simulation against the latest block. Used on L2s where private
// order flow is not available.
type PublicMempool struct {
	deps Deps
}

func NewPublicMempool(deps Deps) *PublicMempool {
	return &PublicMempool{deps: deps}
}

func (s *PublicMempool) Name() string {
	return "public-mempool"
}

func (s *PublicMempool) Execute(ctx context.Context, trades []domain.PreparedTrade) ([]domain.TradeRecord, error) {
	preExecHook(s.deps.Logger, s.Name())

	simulated := trades
	if s.deps.SkipSimulation {
		s.deps.Logger.Info("Skipping simulation, direct execution enabled", "strategy", s.Name())
	} else {
		var err error
		simulated, err = s.Simulate(ctx, trades)
		if err != nil {
			return nil, err
		}
		s.deps.Logger.Info("Simulation completed", "strategy", s.Name(), "passed", len(simulated), "submitted", len(trades))
	}

	records := []domain.TradeRecord{}
	if len(simulated) > 0 {
		var err error
		records, err = s.Broadcast(ctx, simulated)
		if err != nil {
			return nil, err
		}
	}

	postExecHook(s.deps.Logger, s.Name(), s.deps.Publisher, records)
	return records, nil
}

// Simulate batches each trade's (approval, swap) pair into one simulated
// block and retains only trades whose both calls succeed.
func (s *PublicMempool) Simulate(ctx context.Context, trades []domain.PreparedTrade) ([]domain.PreparedTrade, error) {
	passed := make([]domain.PreparedTrade, 0, len(trades))
	for _, trade := range trades {
		results, err := s.deps.Chain.SimulateCalls(ctx, []domain.TxRequest{trade.Approval, trade.Swap})
		if err != nil {
			return nil, fmt.Errorf("simulation call failed: %w", err)
		}
		ok := true
		for i, result := range results {
			name := "approval"
			if i == 1 {
				name = "swap"
			}
			if !result.Status {
				ok = false
				s.deps.Logger.Warn("Simulation rejected trade, no broadcast",
					"pool", trade.Order.Intent.Pool.ID,
					"call", name,
					"reason", result.Error,
				)
			}
		}
		if ok {
			passed = append(passed, trade)
		}
	}
	return passed, nil
}

// Broadcast signs and sends approval then swap sequentially, records both
// hashes, and awaits inclusion. In testing mode it is a no-op returning an
// empty record list.
func (s *PublicMempool) Broadcast(ctx context.Context, trades []domain.PreparedTrade) ([]domain.TradeRecord, error) {
	records := []domain.TradeRecord{}
	if s.deps.Testing {
		s.deps.Logger.Info("Skipping broadcast, testing mode enabled", "strategy", s.Name())
		return records, nil
	}

	for _, trade := range trades {
		records = append(records, s.broadcastOne(ctx, trade))
	}
	return records, nil
}

func (s *PublicMempool) broadcastOne(ctx context.Context, trade domain.PreparedTrade) domain.TradeRecord {
	rec := domain.TradeRecord{Trade: trade, Status: domain.TradeSimulationPassed}
	start := time.Now()

	approvalTx, err := s.deps.Wallet.Sign(trade.Approval)
	if err != nil {
		rec.Status = domain.TradeBroadcastFailed
		rec.Error = err.Error()
		return rec
	}
	if err := s.deps.Chain.SendTransaction(ctx, approvalTx); err != nil {
		s.deps.Logger.Error("Failed to send approval transaction", "error", err)
		rec.Status = domain.TradeBroadcastFailed
		rec.Error = err.Error()
		return rec
	}
	rec.ApprovalHash = approvalTx.Hash()

	swapTx, err := s.deps.Wallet.Sign(trade.Swap)
	if err != nil {
		rec.Status = domain.TradeBroadcastFailed
		rec.Error = err.Error()
		return rec
	}
	if err := s.deps.Chain.SendTransaction(ctx, swapTx); err != nil {
		s.deps.Logger.Error("Failed to send swap transaction", "error", err)
		rec.Status = domain.TradeBroadcastFailed
		rec.Error = err.Error()
		return rec
	}
	rec.SwapHash = swapTx.Hash()
	rec.Status = domain.TradeBroadcast
	rec.BroadcastMs = time.Since(start).Milliseconds()

	s.deps.Logger.Debug("Trade broadcast",
		"approval", fmt.Sprintf("%stx/%s", s.deps.ExplorerURL, rec.ApprovalHash),
		"swap", fmt.Sprintf("%stx/%s", s.deps.ExplorerURL, rec.SwapHash),
		"took_ms", rec.BroadcastMs,
	)

	approvalReceipt, approvalErr := s.deps.Chain.WaitReceipt(ctx, rec.ApprovalHash)
	swapReceipt, swapErr := s.deps.Chain.WaitReceipt(ctx, rec.SwapHash)
	if approvalErr != nil || swapErr != nil {
		s.deps.Logger.Error("Failed to get receipt", "approval_err", approvalErr, "swap_err", swapErr)
		if swapErr != nil {
			rec.Error = swapErr.Error()
		} else {
			rec.Error = approvalErr.Error()
		}
		return rec
	}

	if approvalReceipt.Status == 1 && swapReceipt.Status == 1 {
		rec.Status = domain.TradeIncludedSuccess
	} else {
		rec.Status = domain.TradeIncludedFailure
	}
	rec.SimulatedGas = swapReceipt.GasUsed
	return rec
}
