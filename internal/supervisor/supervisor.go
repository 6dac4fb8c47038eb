// Package supervisor drives the per-block decision pipeline: consume a
// stream message, refresh the index, gate on the reference price move,
// evaluate divergences, size them, build transactions and hand them to the
// execution strategy. Phases are strictly sequential per tick and no two
// cycles broadcast concurrently.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/tychomaker/divergence-bot/internal/config"
	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/evaluator"
	"github.com/tychomaker/divergence-bot/internal/execution"
	"github.com/tychomaker/divergence-bot/internal/logging"
	"github.com/tychomaker/divergence-bot/internal/poolindex"
	"github.com/tychomaker/divergence-bot/internal/pricefeed"
	"github.com/tychomaker/divergence-bot/internal/routing"
	"github.com/tychomaker/divergence-bot/internal/sizing"
	"github.com/tychomaker/divergence-bot/internal/stream"
	"github.com/tychomaker/divergence-bot/internal/txbuilder"
)

// Stream is the pool-update subscription the supervisor consumes.
type Stream interface {
	Messages() <-chan *stream.Message
	Err() <-chan error
}

// StreamFactory builds a fresh stream; called on every (re)start.
type StreamFactory func(ctx context.Context) (Stream, error)

// ChainClient is the slice of the chain client the supervisor reads.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	EIP1559Fees(ctx context.Context) (maxFee, priorityFee *big.Int, err error)
	TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error)
	Nonce(ctx context.Context, account common.Address) (uint64, error)
}

// PricePublisher receives the price snapshot of each qualifying tick.
type PricePublisher interface {
	Prices(block uint64, reference float64, components []evaluator.ComponentPrice)
}

// Config wires the supervisor's collaborators.
type Config struct {
	Cfg      *config.Config
	Env      config.Env
	Logger   logging.Logger
	Registry prometheus.Registerer

	Base   domain.Token
	Quote  domain.Token
	Wallet common.Address

	NewStream StreamFactory
	Chain     ChainClient
	Feed      pricefeed.PriceFeed
	GasFeed   pricefeed.PriceFeed
	Balances  sizing.BalanceFetcher
	Builder   *txbuilder.Builder
	Strategy  execution.Strategy
	Publisher PricePublisher

	// RestartDelay overrides the default backoff; zero keeps the default
	// (divided by 10 in testing mode).
	RestartDelay time.Duration
}

func (c *Config) validate() error {
	if c.Cfg == nil {
		return errors.New("config: Cfg is required")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Registry == nil {
		return errors.New("config: Registry is required")
	}
	if c.NewStream == nil {
		return errors.New("config: NewStream is required")
	}
	if c.Chain == nil {
		return errors.New("config: Chain is required")
	}
	if c.Feed == nil {
		return errors.New("config: Feed is required")
	}
	if c.GasFeed == nil {
		return errors.New("config: GasFeed is required")
	}
	if c.Balances == nil {
		return errors.New("config: Balances is required")
	}
	if c.Builder == nil {
		return errors.New("config: Builder is required")
	}
	if c.Strategy == nil {
		return errors.New("config: Strategy is required")
	}
	return nil
}

// Supervisor owns the pool index and the loop state. Single long-running
// task; the index is mutated only here.
type Supervisor struct {
	cfg    *config.Config
	env    config.Env
	logger logging.Logger

	index  *poolindex.Index
	router *routing.Router
	eval   *evaluator.Evaluator
	sizer  *sizing.Sizer

	builder   *txbuilder.Builder
	strategy  execution.Strategy
	chain     ChainClient
	feed      pricefeed.PriceFeed
	gasFeed   pricefeed.PriceFeed
	publisher PricePublisher
	newStream StreamFactory

	base   domain.Token
	quote  domain.Token
	wallet common.Address

	restartDelay time.Duration

	readyLogged   bool
	referencePrev float64
	// broadcasts counts records handed back by the strategy across the
	// process lifetime; the old process-wide has-executed flag, owned here.
	broadcasts uint64
}

func New(cfg Config) (*Supervisor, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	restartDelay := cfg.RestartDelay
	if restartDelay == 0 {
		restartDelay = domain.RestartDelay
		if cfg.Env.Testing {
			restartDelay = domain.RestartDelay / 10
		}
	}

	return &Supervisor{
		cfg:    cfg.Cfg,
		env:    cfg.Env,
		logger: cfg.Logger,
		index:  poolindex.New(cfg.Logger, cfg.Registry),
		router: routing.New(cfg.Logger, cfg.Registry),
		eval:   evaluator.New(cfg.Base, cfg.Quote, float64(cfg.Cfg.TargetSpreadBps), cfg.Logger),
		sizer: sizing.New(sizing.Config{
			MaxInventoryRatio: cfg.Cfg.MaxInventoryRatio,
			MaxSlippagePct:    cfg.Cfg.MaxSlippagePct,
			MinExecSpreadBps:  cfg.Cfg.MinExecSpreadBps,
		}, cfg.Balances, cfg.Logger, cfg.Registry),
		builder:      cfg.Builder,
		strategy:     cfg.Strategy,
		chain:        cfg.Chain,
		feed:         cfg.Feed,
		gasFeed:      cfg.GasFeed,
		publisher:    cfg.Publisher,
		newStream:    cfg.NewStream,
		base:         cfg.Base,
		quote:        cfg.Quote,
		wallet:       cfg.Wallet,
		restartDelay: restartDelay,
	}, nil
}

// Broadcasts returns how many trade records the strategies have produced.
func (s *Supervisor) Broadcasts() uint64 {
	return s.broadcasts
}

// Run loops forever, rebuilding the stream after fatal errors with a
// backoff. It returns only when the context is cancelled: a single bad tick
// never exits the process.
func (s *Supervisor) Run(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		s.logger.Info("Starting market maker loop", "identifier", s.cfg.Identifier(), "network", s.cfg.NetworkName)
		err := s.runStream(ctx)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		s.logger.Error("Maker stream ended, restarting", "error", err, "delay", s.restartDelay)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.restartDelay):
		}
	}
}

func (s *Supervisor) runStream(ctx context.Context) error {
	st, err := s.newStream(ctx)
	if err != nil {
		return fmt.Errorf("failed to build stream: %w", err)
	}

	// Nothing persists across reconnects.
	s.index.Reset()
	s.readyLogged = false
	s.referencePrev = 0

	for {
		select {
		case msg, ok := <-st.Messages():
			if !ok {
				return errors.New("stream closed")
			}
			if err := s.tick(ctx, msg); err != nil {
				var fatal *FatalError
				if errors.As(err, &fatal) {
					return err
				}
				s.logger.Warn("Tick aborted", "block", msg.BlockNumber, "error", err)
			}
		case err := <-st.Err():
			if err == nil {
				return errors.New("stream closed")
			}
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// tick runs one full pipeline pass. The recover is the outermost backstop
// for genuinely unrecoverable bugs; strategies signal restart through
// FatalError instead.
func (s *Supervisor) tick(ctx context.Context, msg *stream.Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Fatal(fmt.Errorf("tick panicked: %v", r))
		}
	}()

	wasReady := s.index.Ready()
	if err := s.index.Apply(msg); err != nil {
		return err
	}
	if !s.index.Ready() {
		return nil
	}
	if !wasReady || !s.readyLogged {
		s.readyLogged = true
		s.logger.Info("Pool stream initialised",
			"monitoring", len(s.index.Monitored(s.base.Address, s.quote.Address)),
			"pools", s.index.Len(),
			"block", msg.BlockNumber,
		)
		return nil
	}

	s.logger.Info("Stream tick",
		"pair", s.cfg.PairTag,
		"network", s.cfg.NetworkName,
		"block", msg.BlockNumber,
		"state_updates", len(msg.StateUpdates),
	)

	targets := s.index.Monitored(s.base.Address, s.quote.Address)

	reference, err := s.feed.Get(ctx)
	if err != nil {
		return fmt.Errorf("failed to fetch reference price: %w", err)
	}

	prices := s.eval.Prices(targets)

	// Price-move gate: until the reference moved enough since the last
	// qualifying tick, the tick publishes nothing and runs nothing. The
	// first tick always qualifies.
	moveBps := domain.PriceMoveThresholdBps + 1
	if s.referencePrev != 0 {
		moveBps = abs(reference-s.referencePrev) / s.referencePrev * domain.BasisPointDenominator
	}
	if moveBps <= domain.PriceMoveThresholdBps {
		s.logger.Debug("Reference price move below threshold",
			"move_bps", moveBps,
			"previous", s.referencePrev,
			"reference", reference,
		)
		return nil
	}
	if s.publisher != nil {
		s.publisher.Prices(msg.BlockNumber, reference, prices)
	}
	s.referencePrev = reference

	// Align targets with the prices that actually resolved; pools whose
	// simulator refused to price drop out of this tick.
	pricedTargets := make([]poolindex.Target, 0, len(prices))
	spots := make([]float64, 0, len(prices))
	cursor := 0
	for _, price := range prices {
		for cursor < len(targets) && targets[cursor].Pool.ID != price.Address {
			cursor++
		}
		if cursor == len(targets) {
			break
		}
		pricedTargets = append(pricedTargets, targets[cursor])
		spots = append(spots, price.Price)
		cursor++
	}

	intents := s.eval.Evaluate(pricedTargets, spots, reference)
	if len(intents) == 0 {
		s.logger.Debug("No rebalancements found", "block", msg.BlockNumber)
		return nil
	}

	mctx, err := s.marketContext(ctx)
	if err != nil {
		s.logger.Warn("Failed to get market context", "error", err)
		return nil
	}
	s.logger.Info("Market context",
		"base_to_gas", mctx.BaseToGas,
		"quote_to_gas", mctx.QuoteToGas,
		"gas_to_usd", mctx.GasToUSD,
		"block", mctx.Block,
	)

	inventory, err := s.inventory(ctx)
	if err != nil {
		s.logger.Warn("Failed to get inventory", "error", err)
		return nil
	}

	orders := s.sizer.Size(ctx, mctx, inventory, intents)
	if len(orders) == 0 {
		return nil
	}

	trades, err := s.builder.Build(ctx, orders, mctx, inventory)
	if err != nil {
		return err
	}
	if len(trades) == 0 {
		return nil
	}

	records, err := s.strategy.Execute(ctx, trades)
	if err != nil {
		return Fatal(fmt.Errorf("execution strategy failed: %w", err))
	}
	s.broadcasts += uint64(len(records))
	s.logger.Info("Cycle executed", "trades", len(trades), "records", len(records), "total_broadcasts", s.broadcasts)
	return nil
}

// marketContext gathers fee context, the gas-token valuations of both pair
// legs, and the gas token's USD price. The two valuations run concurrently
// and join before the sizer runs.
func (s *Supervisor) marketContext(ctx context.Context) (domain.MarketContext, error) {
	gasToken, err := s.resolveGasToken()
	if err != nil {
		return domain.MarketContext{}, err
	}

	pools := s.index.Pools()

	var (
		mctx       domain.MarketContext
		baseToGas  float64
		quoteToGas float64
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		maxFee, tip, err := s.chain.EIP1559Fees(gctx)
		if err != nil {
			return err
		}
		mctx.MaxFeePerGas, mctx.MaxPriorityFeePerGas = maxFee, tip
		return nil
	})
	g.Go(func() error {
		gasPrice, err := s.chain.GasPrice(gctx)
		if err != nil {
			return err
		}
		mctx.GasPrice = gasPrice
		return nil
	})
	g.Go(func() error {
		block, err := s.chain.BlockNumber(gctx)
		if err != nil {
			return err
		}
		mctx.Block = block
		return nil
	})
	g.Go(func() error {
		gasUSD, err := s.gasFeed.Get(gctx)
		if err != nil {
			return err
		}
		mctx.GasToUSD = gasUSD
		return nil
	})
	g.Go(func() error {
		rate, err := s.valueInGas(s.base.Address, gasToken, pools)
		if err != nil {
			return err
		}
		baseToGas = rate
		return nil
	})
	g.Go(func() error {
		rate, err := s.valueInGas(s.quote.Address, gasToken, pools)
		if err != nil {
			return err
		}
		quoteToGas = rate
		return nil
	})
	if err := g.Wait(); err != nil {
		return domain.MarketContext{}, err
	}

	mctx.BaseToGas = baseToGas
	mctx.QuoteToGas = quoteToGas
	return mctx, nil
}

func (s *Supervisor) valueInGas(src, gasToken common.Address, pools []domain.Pool) (float64, error) {
	path, err := s.router.FindPath(pools, src, gasToken)
	if err != nil {
		return 0, err
	}
	priced := make([]routing.PricedPool, 0, len(path.PoolIDs))
	for _, id := range path.PoolIDs {
		sim, ok := s.index.Simulator(id)
		if !ok {
			return 0, fmt.Errorf("no simulator for pool %s on valuation path", id)
		}
		for _, pool := range pools {
			if pool.ID == id {
				priced = append(priced, routing.PricedPool{Pool: pool, Simulator: sim})
				break
			}
		}
	}
	return s.router.Quote(priced, path)
}

// resolveGasToken finds the wrapped gas token among the indexed pools'
// tokens by its configured symbol. The base or quote leg may itself be the
// gas token.
func (s *Supervisor) resolveGasToken() (common.Address, error) {
	symbol := s.cfg.GasTokenSymbol
	if strings.EqualFold(s.base.Symbol, symbol) {
		return s.base.Address, nil
	}
	if strings.EqualFold(s.quote.Symbol, symbol) {
		return s.quote.Address, nil
	}
	for _, pool := range s.index.Pools() {
		for _, token := range pool.Tokens {
			if strings.EqualFold(token.Symbol, symbol) {
				return token.Address, nil
			}
		}
	}
	return common.Address{}, fmt.Errorf("gas token %q not found in any indexed pool", symbol)
}

// inventory reads both wallet balances and the nonce, fresh per cycle.
func (s *Supervisor) inventory(ctx context.Context) (domain.Inventory, error) {
	baseBalance, err := s.chain.TokenBalance(ctx, s.base.Address, s.wallet)
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("failed to get base balance: %w", err)
	}
	quoteBalance, err := s.chain.TokenBalance(ctx, s.quote.Address, s.wallet)
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("failed to get quote balance: %w", err)
	}
	nonce, err := s.chain.Nonce(ctx, s.wallet)
	if err != nil {
		return domain.Inventory{}, fmt.Errorf("failed to get nonce: %w", err)
	}

	s.logger.Debug("Inventory",
		"wallet", s.wallet,
		"base", s.base.Normalize(baseBalance),
		"quote", s.quote.Normalize(quoteBalance),
		"nonce", nonce,
	)
	return domain.Inventory{
		BaseBalance:  baseBalance,
		QuoteBalance: quoteBalance,
		Nonce:        nonce,
	}, nil
}

func abs(x float64) float64 {
	if x < 0 {
		return -x
	}
	return x
}
