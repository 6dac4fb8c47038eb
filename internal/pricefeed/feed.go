// Package pricefeed provides the authoritative external reference price:
// a REST ticker endpoint or an on-chain oracle, selected by configuration.
package pricefeed

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tychomaker/divergence-bot/internal/chainclient"
	"github.com/tychomaker/divergence-bot/internal/config"
	"github.com/tychomaker/divergence-bot/internal/logging"
)

// Feed types recognised in price_feed_config.
const (
	TypeBinance   = "binance"
	TypeChainlink = "chainlink"
)

// PriceFeed returns the current reference price for the configured pair.
type PriceFeed interface {
	Get(ctx context.Context) (float64, error)
}

// New selects the feed implementation from the configuration.
func New(cfg *config.Config, chain *chainclient.Client, logger logging.Logger) (PriceFeed, error) {
	switch cfg.PriceFeed.Type {
	case TypeBinance:
		return NewRESTFeed(cfg.PriceFeed.Source, cfg.BaseToken, cfg.QuoteToken, logger), nil
	case TypeChainlink:
		if !common.IsHexAddress(cfg.PriceFeed.Source) {
			return nil, fmt.Errorf("price_feed_config.source %q is not an address", cfg.PriceFeed.Source)
		}
		return NewChainlinkFeed(chain, common.HexToAddress(cfg.PriceFeed.Source)), nil
	default:
		return nil, fmt.Errorf("unknown price feed type %q", cfg.PriceFeed.Type)
	}
}

// ChainlinkFeed reads latestAnswer / 10^decimals from an on-chain aggregator.
type ChainlinkFeed struct {
	chain *chainclient.Client
	feed  common.Address
}

func NewChainlinkFeed(chain *chainclient.Client, feed common.Address) *ChainlinkFeed {
	return &ChainlinkFeed{chain: chain, feed: feed}
}

func (f *ChainlinkFeed) Get(ctx context.Context) (float64, error) {
	return f.chain.ChainlinkPrice(ctx, f.feed)
}

// GasFeed values the gas token in USD: a configured oracle when available,
// otherwise the REST source with a logged warning.
type GasFeed struct {
	primary  PriceFeed
	fallback PriceFeed
	logger   logging.Logger
}

func NewGasFeed(cfg *config.Config, chain *chainclient.Client, logger logging.Logger) *GasFeed {
	gf := &GasFeed{
		fallback: NewRESTFeed(cfg.PriceFeed.Source, cfg.GasTokenSymbol, "USDT", logger),
		logger:   logger,
	}
	if cfg.GasTokenChainlinkPriceFeed != "" && common.IsHexAddress(cfg.GasTokenChainlinkPriceFeed) {
		gf.primary = NewChainlinkFeed(chain, common.HexToAddress(cfg.GasTokenChainlinkPriceFeed))
	}
	return gf
}

func (f *GasFeed) Get(ctx context.Context) (float64, error) {
	if f.primary == nil {
		f.logger.Warn("No gas oracle feed configured, falling back to REST source")
		return f.fallback.Get(ctx)
	}
	return f.primary.Get(ctx)
}
