// Package execution dispatches prepared trades: simulate-then-broadcast on
// public-mempool chains, private bundles on mainnet. At most one cycle
// broadcasts at a time; the supervisor owns that discipline.
package execution

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/tychomaker/divergence-bot/internal/chainclient"
	"github.com/tychomaker/divergence-bot/internal/config"
	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/logging"
)

// Strategy is the chain-specific execution hook.
type Strategy interface {
	// Name identifies the strategy for logging.
	Name() string

	// Simulate validates trades and returns the ones that may broadcast.
	Simulate(ctx context.Context, trades []domain.PreparedTrade) ([]domain.PreparedTrade, error)

	// Broadcast dispatches trades and returns their records.
	Broadcast(ctx context.Context, trades []domain.PreparedTrade) ([]domain.TradeRecord, error)

	// Execute chains pre-hook, optional simulation, broadcast and post-hook.
	Execute(ctx context.Context, trades []domain.PreparedTrade) ([]domain.TradeRecord, error)
}

// TradePublisher receives a trade event per broadcast record. The
// observability emitter implements it.
type TradePublisher interface {
	Trade(record domain.TradeRecord)
}

// ChainBackend is the slice of the chain client the strategies need.
type ChainBackend interface {
	BlockNumber(ctx context.Context) (uint64, error)
	SimulateCalls(ctx context.Context, requests []domain.TxRequest) ([]chainclient.SimulatedCall, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error)
}

// Deps carries the collaborators shared by every strategy variant.
type Deps struct {
	Chain          ChainBackend
	Wallet         *chainclient.Wallet
	Publisher      TradePublisher
	Logger         logging.Logger
	Testing        bool
	SkipSimulation bool
	ExplorerURL    string
}

// New selects the strategy variant for a network tag.
func New(cfg *config.Config, deps Deps, bundleSigner *chainclient.Wallet) (Strategy, error) {
	switch cfg.NetworkName {
	case config.NetworkEthereum:
		return NewPrivateBundle(deps, BundleConfig{
			Endpoints:      splitEndpoints(cfg.BroadcastURL),
			InclusionDelay: cfg.BlockOffset,
			Signer:         bundleSigner,
		})
	case config.NetworkBase, config.NetworkUnichain:
		return NewPublicMempool(deps), nil
	default:
		return nil, fmt.Errorf("no execution strategy for network %q", cfg.NetworkName)
	}
}

func preExecHook(logger logging.Logger, name string) {
	logger.Info("Pre-exec hook", "strategy", name)
}

// postExecHook publishes a trade event per successfully broadcast record.
// Publishing is fire-and-forget; it never blocks the loop.
func postExecHook(logger logging.Logger, name string, publisher TradePublisher, records []domain.TradeRecord) {
	logger.Info("Post-exec hook", "strategy", name, "records", len(records))
	if publisher == nil {
		return
	}
	for _, rec := range records {
		switch rec.Status {
		case domain.TradeBroadcast, domain.TradeIncludedSuccess, domain.TradeIncludedFailure:
			publisher.Trade(rec)
		}
	}
}
