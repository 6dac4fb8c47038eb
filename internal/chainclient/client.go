// Package chainclient is the facade over the chain RPC node: block and fee
// context, balances, nonces, transaction send, receipt wait and batched EVM
// simulation. cmd/bot dials one Client at startup and shares it across every
// supervisor loop iteration; it is not re-created when the supervisor
// rebuilds the stream.
package chainclient

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tychomaker/divergence-bot/internal/logging"
)

const (
	defaultReceiptPollInterval = 2 * time.Second
	defaultReceiptTimeout      = 2 * time.Minute
)

const erc20ABIJSON = `[
	{"name":"balanceOf","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]},
	{"name":"symbol","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"string"}]}
]`

const chainlinkABIJSON = `[
	{"name":"latestAnswer","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"int256"}]},
	{"name":"decimals","type":"function","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"uint8"}]}
]`

var (
	erc20ABI     = mustParseABI(erc20ABIJSON)
	chainlinkABI = mustParseABI(chainlinkABIJSON)
)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

// Client wraps one RPC connection.
type Client struct {
	eth    *ethclient.Client
	rpc    *rpc.Client
	logger logging.Logger

	receiptPollInterval time.Duration
	receiptTimeout      time.Duration
}

// Option configures the Client.
// The interface method is unexported to prevent external modification after Dial.
type Option interface {
	apply(*Client)
}

type funcOption func(*Client)

func (f funcOption) apply(c *Client) {
	f(c)
}

func newOption(f func(*Client)) Option {
	return funcOption(f)
}

// WithReceiptPollInterval overrides how often receipt polling retries.
func WithReceiptPollInterval(interval time.Duration) Option {
	return newOption(func(c *Client) {
		c.receiptPollInterval = interval
	})
}

// WithReceiptTimeout overrides how long a receipt wait may take.
func WithReceiptTimeout(timeout time.Duration) Option {
	return newOption(func(c *Client) {
		c.receiptTimeout = timeout
	})
}

// Dial establishes the connection.
func Dial(ctx context.Context, url string, logger logging.Logger, opts ...Option) (*Client, error) {
	rpcClient, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rpc url: %w", err)
	}

	c := &Client{
		eth:                 ethclient.NewClient(rpcClient),
		rpc:                 rpcClient,
		logger:              logger,
		receiptPollInterval: defaultReceiptPollInterval,
		receiptTimeout:      defaultReceiptTimeout,
	}
	for _, opt := range opts {
		opt.apply(c)
	}

	logger.Info("Chain client connected", "url", url)
	return c, nil
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// BlockNumber returns the latest block height.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// GasPrice returns the legacy gas price suggestion.
func (c *Client) GasPrice(ctx context.Context) (*big.Int, error) {
	return c.eth.SuggestGasPrice(ctx)
}

// EIP1559Fees estimates (max fee, priority fee) for the next block: twice
// the current base fee plus the suggested tip.
func (c *Client) EIP1559Fees(ctx context.Context) (maxFee, priorityFee *big.Int, err error) {
	tip, err := c.eth.SuggestGasTipCap(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to suggest gas tip cap: %w", err)
	}
	head, err := c.eth.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to get latest header: %w", err)
	}
	if head.BaseFee == nil {
		return nil, nil, errors.New("chain has no base fee, EIP-1559 unsupported")
	}
	maxFee = new(big.Int).Add(new(big.Int).Mul(head.BaseFee, big.NewInt(2)), tip)
	return maxFee, tip, nil
}

// TokenBalance reads owner's ERC-20 balance.
func (c *Client) TokenBalance(ctx context.Context, token, owner common.Address) (*big.Int, error) {
	input, err := erc20ABI.Pack("balanceOf", owner)
	if err != nil {
		return nil, err
	}
	output, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get balance for %s: %w", token, err)
	}
	results, err := erc20ABI.Unpack("balanceOf", output)
	if err != nil {
		return nil, err
	}
	return results[0].(*big.Int), nil
}

// TokenMetadata reads an ERC-20's symbol and decimals.
func (c *Client) TokenMetadata(ctx context.Context, token common.Address) (symbol string, decimals uint8, err error) {
	symInput, err := erc20ABI.Pack("symbol")
	if err != nil {
		return "", 0, err
	}
	symOutput, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: symInput}, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get symbol for %s: %w", token, err)
	}
	symResults, err := erc20ABI.Unpack("symbol", symOutput)
	if err != nil {
		return "", 0, err
	}

	decInput, err := erc20ABI.Pack("decimals")
	if err != nil {
		return "", 0, err
	}
	decOutput, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &token, Data: decInput}, nil)
	if err != nil {
		return "", 0, fmt.Errorf("failed to get decimals for %s: %w", token, err)
	}
	decResults, err := erc20ABI.Unpack("decimals", decOutput)
	if err != nil {
		return "", 0, err
	}

	return symResults[0].(string), decResults[0].(uint8), nil
}

// Nonce returns the account's next nonce including pending transactions.
func (c *Client) Nonce(ctx context.Context, account common.Address) (uint64, error) {
	return c.eth.PendingNonceAt(ctx, account)
}

// SendTransaction broadcasts a signed transaction.
func (c *Client) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	return c.eth.SendTransaction(ctx, tx)
}

// WaitReceipt polls until the transaction is included or the wait times out.
func (c *Client) WaitReceipt(ctx context.Context, hash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, c.receiptTimeout)
	defer cancel()

	ticker := time.NewTicker(c.receiptPollInterval)
	defer ticker.Stop()

	for {
		receipt, err := c.eth.TransactionReceipt(ctx, hash)
		if err == nil {
			return receipt, nil
		}
		if !errors.Is(err, ethereum.NotFound) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("timed out waiting for receipt of %s: %w", hash, ctx.Err())
		case <-ticker.C:
		}
	}
}

// ChainlinkPrice reads latestAnswer / 10^decimals from an on-chain oracle.
func (c *Client) ChainlinkPrice(ctx context.Context, feed common.Address) (float64, error) {
	answerInput, err := chainlinkABI.Pack("latestAnswer")
	if err != nil {
		return 0, err
	}
	answerOutput, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: answerInput}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call latestAnswer on %s: %w", feed, err)
	}
	answerResults, err := chainlinkABI.Unpack("latestAnswer", answerOutput)
	if err != nil {
		return 0, err
	}
	answer := answerResults[0].(*big.Int)

	decInput, err := chainlinkABI.Pack("decimals")
	if err != nil {
		return 0, err
	}
	decOutput, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &feed, Data: decInput}, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to call decimals on %s: %w", feed, err)
	}
	decResults, err := chainlinkABI.Unpack("decimals", decOutput)
	if err != nil {
		return 0, err
	}
	decimals := decResults[0].(uint8)

	value, _ := new(big.Float).Quo(
		new(big.Float).SetInt(answer),
		new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)),
	).Float64()
	return value, nil
}
