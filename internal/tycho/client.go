// Package tycho holds the HTTP collaborators backed by the Tycho API: the
// per-pool balance reads the sizer needs and the router calldata encoder.
package tycho

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/logging"
	"github.com/tychomaker/divergence-bot/internal/txbuilder"
)

const requestTimeout = 10 * time.Second

// Client talks to one Tycho API host.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	logger  logging.Logger
}

func NewClient(host, apiKey string, logger logging.Logger) *Client {
	baseURL := host
	if !strings.Contains(baseURL, "://") {
		baseURL = "https://" + baseURL
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{Timeout: requestTimeout},
		logger:  logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("tycho api returned status %d: %s", res.StatusCode, strings.TrimSpace(string(payload)))
	}
	return json.NewDecoder(res.Body).Decode(out)
}

// ComponentBalances reads the pool's current token balances. Implements the
// sizer's balance fetcher.
func (c *Client) ComponentBalances(ctx context.Context, pool domain.Pool) (map[common.Address]*big.Int, error) {
	var payload struct {
		Balances map[string]string `json:"balances"`
	}
	path := fmt.Sprintf("/v1/components/%s/balances", domain.NormalizeID(pool.ID))
	if err := c.do(ctx, http.MethodGet, path, nil, &payload); err != nil {
		return nil, fmt.Errorf("failed to get component balances for %s: %w", pool.ID, err)
	}

	balances := make(map[common.Address]*big.Int, len(payload.Balances))
	for token, raw := range payload.Balances {
		value, ok := new(big.Int).SetString(strings.TrimPrefix(raw, "0x"), pickBase(raw))
		if !ok {
			return nil, fmt.Errorf("unparseable balance %q for token %s", raw, token)
		}
		balances[common.HexToAddress(token)] = value
	}
	return balances, nil
}

func pickBase(raw string) int {
	if strings.HasPrefix(raw, "0x") {
		return 16
	}
	return 10
}

// Encode asks the API's encoding service for router calldata. Implements
// the transaction builder's encoder.
func (c *Client) Encode(ctx context.Context, solution txbuilder.Solution) (common.Address, []byte, error) {
	request := map[string]any{
		"sender":          solution.Sender.Hex(),
		"receiver":        solution.Receiver.Hex(),
		"given_token":     solution.GivenToken.Address.Hex(),
		"checked_token":   solution.CheckedToken.Address.Hex(),
		"given_amount":    solution.GivenAmount.String(),
		"expected_amount": solution.ExpectedAmount.String(),
		"checked_amount":  solution.CheckedAmount.String(),
		"slippage":        solution.Slippage,
		"exact_out":       !solution.ExactIn,
		"component":       domain.NormalizeID(solution.Pool.ID),
		"protocol_system": solution.Pool.Protocol,
	}

	var payload struct {
		To   string `json:"to"`
		Data string `json:"data"`
	}
	if err := c.do(ctx, http.MethodPost, "/v1/encode", request, &payload); err != nil {
		return common.Address{}, nil, fmt.Errorf("failed to encode solution: %w", err)
	}
	if !common.IsHexAddress(payload.To) {
		return common.Address{}, nil, fmt.Errorf("encoder returned invalid to address %q", payload.To)
	}
	data, err := decodeHex(payload.Data)
	if err != nil {
		return common.Address{}, nil, fmt.Errorf("encoder returned invalid data: %w", err)
	}
	return common.HexToAddress(payload.To), data, nil
}

func decodeHex(raw string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(raw, "0x"))
}
