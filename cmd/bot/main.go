package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/tychomaker/divergence-bot/internal/chainclient"
	"github.com/tychomaker/divergence-bot/internal/config"
	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/execution"
	"github.com/tychomaker/divergence-bot/internal/pricefeed"
	"github.com/tychomaker/divergence-bot/internal/simulator"
	"github.com/tychomaker/divergence-bot/internal/stream"
	"github.com/tychomaker/divergence-bot/internal/supervisor"
	"github.com/tychomaker/divergence-bot/internal/telemetry"
	"github.com/tychomaker/divergence-bot/internal/txbuilder"
	"github.com/tychomaker/divergence-bot/internal/tycho"
)

const (
	defaultRedisAddr = "127.0.0.1:42044"

	StreamBufferSize = 100
)

// commit is the code fingerprint, set at build time:
// -ldflags "-X main.commit=$(git rev-parse --short HEAD)"
var commit = "dev"

func main() {
	rootLogHandler := slog.NewJSONHandler(os.Stdout, nil)
	rootLogger := slog.New(rootLogHandler)
	close := func() {
		os.Exit(1)
	}

	prometheusRegistry := prometheus.DefaultRegisterer

	env, err := config.LoadEnv()
	if err != nil {
		rootLogger.Error("Failed to load environment", "error", err)
		close()
	}

	configPath := flag.String("config", "", "Path to the configuration file (overrides CONFIG_PATH).")
	flag.Parse()
	path := env.ConfigPath
	if *configPath != "" {
		path = *configPath
	}

	cfg, err := config.Load(path)
	if err != nil {
		rootLogger.Error("Failed to load configuration", "path", path, "error", err)
		close()
	}
	rootLogger.Info("Configuration loaded",
		"identifier", cfg.Identifier(),
		"network", cfg.NetworkName,
		"pair", cfg.PairTag,
		"testing", env.Testing,
		"commit", commit,
	)

	// Create a context that cancels when the OS sends an interrupt (Ctrl+C) or termination signal.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	chain, err := chainclient.Dial(ctx, cfg.RPCURL, rootLogger.With("component", "chainclient"))
	if err != nil {
		rootLogger.Error("Failed to dial rpc", "url", cfg.RPCURL, "error", err)
		close()
	}
	defer chain.Close()

	wallet, err := chainclient.NewWallet(env.WalletPrivateKey, cfg.ChainID)
	if err != nil {
		rootLogger.Error("Failed to load wallet key", "error", err)
		close()
	}
	if !strings.EqualFold(wallet.Address().Hex(), env.WalletPublicKey) {
		rootLogger.Error("WALLET_PUBLIC_KEY does not match the private key", "derived", wallet.Address())
		close()
	}

	latest, err := chain.BlockNumber(ctx)
	if err != nil {
		rootLogger.Error("Failed to get latest block", "error", err)
		close()
	}
	rootLogger.Info("Launching market maker", "latest_block", latest, "wallet", wallet.Address())

	base, err := resolveToken(ctx, chain, cfg.BaseTokenAddress, cfg.BaseToken)
	if err != nil {
		rootLogger.Error("Failed to resolve base token", "error", err)
		close()
	}
	quote, err := resolveToken(ctx, chain, cfg.QuoteTokenAddress, cfg.QuoteToken)
	if err != nil {
		rootLogger.Error("Failed to resolve quote token", "error", err)
		close()
	}
	rootLogger.Info("Pair resolved",
		"base", base.Symbol, "base_decimals", base.Decimals,
		"quote", quote.Symbol, "quote_decimals", quote.Decimals,
	)

	emitter := telemetry.NewEmitter(
		telemetry.NewRedisSink(defaultRedisAddr),
		telemetry.Channel,
		cfg.Identifier(),
		cfg.PublishEvents,
		rootLogger.With("component", "telemetry"),
	)
	emitter.Instance(cfg, commit)

	feed, err := pricefeed.New(cfg, chain, rootLogger.With("component", "pricefeed"))
	if err != nil {
		rootLogger.Error("Failed to build price feed", "error", err)
		close()
	}
	gasFeed := pricefeed.NewGasFeed(cfg, chain, rootLogger.With("component", "pricefeed"))

	tychoClient := tycho.NewClient(cfg.TychoAPI, env.TychoAPIKey, rootLogger.With("component", "tycho"))

	builder := txbuilder.New(
		cfg.ChainID,
		wallet.Address(),
		common.HexToAddress(cfg.Permit2Address),
		cfg.MaxSlippagePct,
		tychoClient,
		rootLogger.With("component", "txbuilder"),
	)

	strategy, err := execution.New(cfg, execution.Deps{
		Chain:          chain,
		Wallet:         wallet,
		Publisher:      emitter,
		Logger:         rootLogger.With("component", "execution"),
		Testing:        env.Testing,
		SkipSimulation: cfg.SkipSimulation,
		ExplorerURL:    cfg.ExplorerURL,
	}, wallet)
	if err != nil {
		rootLogger.Error("Failed to build execution strategy", "error", err)
		close()
	}
	rootLogger.Info("Using execution strategy", "strategy", strategy.Name())

	streamURL := cfg.TychoAPI
	if !strings.Contains(streamURL, "://") {
		streamURL = "wss://" + streamURL
	}
	newStream := func(ctx context.Context) (supervisor.Stream, error) {
		return stream.NewClient(ctx, stream.Config{
			URL:        streamURL,
			Logger:     rootLogger.With("component", "stream"),
			BufferSize: StreamBufferSize,
			Decoders:   simulator.Decoders(),
		})
	}

	sup, err := supervisor.New(supervisor.Config{
		Cfg:       cfg,
		Env:       env,
		Logger:    rootLogger.With("component", "supervisor"),
		Registry:  prometheusRegistry,
		Base:      base,
		Quote:     quote,
		Wallet:    wallet.Address(),
		NewStream: newStream,
		Chain:     chain,
		Feed:      feed,
		GasFeed:   gasFeed,
		Balances:  tychoClient,
		Builder:   builder,
		Strategy:  strategy,
		Publisher: emitter,
	})
	if err != nil {
		rootLogger.Error("Failed to build supervisor", "error", err)
		close()
	}

	if err := sup.Run(ctx); err != nil && ctx.Err() == nil {
		rootLogger.Error("Supervisor stopped", "error", err)
		close()
	}
	rootLogger.Info("Shutdown complete", "broadcasts", sup.Broadcasts())
}

func resolveToken(ctx context.Context, chain *chainclient.Client, address, fallbackSymbol string) (domain.Token, error) {
	if !common.IsHexAddress(address) {
		return domain.Token{}, fmt.Errorf("%q is not an address", address)
	}
	addr := common.HexToAddress(address)
	symbol, decimals, err := chain.TokenMetadata(ctx, addr)
	if err != nil {
		return domain.Token{}, err
	}
	if symbol == "" {
		symbol = fallbackSymbol
	}
	return domain.Token{Address: addr, Decimals: decimals, Symbol: symbol}, nil
}
