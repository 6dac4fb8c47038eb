package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Known network names. The execution strategy variant is selected by this tag.
const (
	NetworkEthereum = "ethereum"
	NetworkBase     = "base"
	NetworkUnichain = "unichain"
)

// PriceFeedConfig selects the reference price provider.
// Type "binance" uses a REST ticker endpoint at Source; type "chainlink"
// reads an on-chain aggregator at the Source address.
type PriceFeedConfig struct {
	Type   string `toml:"type"`
	Source string `toml:"source"`
}

// Config is the market maker configuration, loaded from a TOML file.
type Config struct {
	BaseToken                  string          `toml:"base_token"`
	BaseTokenAddress           string          `toml:"base_token_address"`
	QuoteToken                 string          `toml:"quote_token"`
	QuoteTokenAddress          string          `toml:"quote_token_address"`
	PairTag                    string          `toml:"pair_tag"`
	NetworkName                string          `toml:"network_name"`
	ChainID                    uint64          `toml:"chain_id"`
	GasTokenSymbol             string          `toml:"gas_token_symbol"`
	GasTokenChainlinkPriceFeed string          `toml:"gas_token_chainlink_price_feed"`
	RPCURL                     string          `toml:"rpc_url"`
	ExplorerURL                string          `toml:"explorer_url"`
	TargetSpreadBps            uint32          `toml:"target_spread_bps"`
	MinExecSpreadBps           float64         `toml:"min_exec_spread_bps"`
	MaxSlippagePct             float64         `toml:"max_slippage_pct"`
	ProfitabilityCheck         bool            `toml:"profitability_check"`
	MaxInventoryRatio          float64         `toml:"max_inventory_ratio"`
	BroadcastURL               string          `toml:"broadcast_url"`
	QuoteDepths                []float64       `toml:"quote_depths"`
	TxGasLimit                 uint64          `toml:"tx_gas_limit"`
	BlockOffset                uint64          `toml:"block_offset"`
	TychoAPI                   string          `toml:"tycho_api"`
	PollIntervalMs             uint64          `toml:"poll_interval_ms"`
	Permit2Address             string          `toml:"permit2_address"`
	TychoRouterAddress         string          `toml:"tycho_router_address"`
	PriceFeed                  PriceFeedConfig `toml:"price_feed_config"`
	SkipSimulation             bool            `toml:"skip_simulation"`
	PublishEvents              bool            `toml:"publish_events"`
}

// Load reads and validates a TOML configuration file.
func Load(path string) (*Config, error) {
	contents, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	var cfg Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate returns the first violated constraint.
func (c *Config) Validate() error {
	if c.TargetSpreadBps > 10_000 {
		return errors.New("target_spread_bps must be <= 10000 bps (100%)")
	}
	if c.MaxSlippagePct > 1.0 {
		return errors.New("max_slippage_pct must be <= 1.0 (100%)")
	}
	if c.MaxInventoryRatio < 0 || c.MaxInventoryRatio > 1.0 {
		return errors.New("max_inventory_ratio must be between 0.0 and 1.0")
	}
	switch c.NetworkName {
	case NetworkEthereum, NetworkBase, NetworkUnichain:
	default:
		return fmt.Errorf("unknown network_name %q", c.NetworkName)
	}
	if c.RPCURL == "" {
		return errors.New("rpc_url is required")
	}
	return nil
}

// Identifier names this instance in logs and published events.
func (c *Config) Identifier() string {
	return fmt.Sprintf("%s-%s-%d", c.PairTag, c.NetworkName, c.ChainID)
}

func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}
