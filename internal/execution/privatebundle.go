package execution

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tychomaker/divergence-bot/internal/chainclient"
	"github.com/tychomaker/divergence-bot/internal/domain"
)

const bundleSubmitTimeout = 10 * time.Second

// BundleConfig configures the private-bundle variant.
type BundleConfig struct {
	// Endpoints are the block-builder RPC urls the bundle is submitted to.
	Endpoints []string
	// InclusionDelay is added to the current height to pick the target block.
	InclusionDelay uint64
	// Signer authenticates bundle submissions for builder reputation. It is
	// a configured key, never a throwaway.
	Signer *chainclient.Wallet
}

func splitEndpoints(broadcastURL string) []string {
	parts := strings.Split(broadcastURL, ",")
	endpoints := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			endpoints = append(endpoints, trimmed)
		}
	}
	return endpoints
}

// PrivateBundle wraps approval+swap into a single bundle targeted a few
// blocks ahead and submits it to a set of builder endpoints. Swaps are MEV
// sensitive on mainnet; nothing is pre-simulated in a public call.
type PrivateBundle struct {
	deps   Deps
	bundle BundleConfig
	client *http.Client
}

func NewPrivateBundle(deps Deps, bundle BundleConfig) (*PrivateBundle, error) {
	if len(bundle.Endpoints) == 0 {
		return nil, errors.New("private bundle strategy needs at least one builder endpoint")
	}
	if bundle.Signer == nil {
		return nil, errors.New("private bundle strategy needs a configured bundle signer")
	}
	return &PrivateBundle{
		deps:   deps,
		bundle: bundle,
		client: &http.Client{Timeout: bundleSubmitTimeout},
	}, nil
}

func (s *PrivateBundle) Name() string {
	return "private-bundle"
}

func (s *PrivateBundle) Execute(ctx context.Context, trades []domain.PreparedTrade) ([]domain.TradeRecord, error) {
	preExecHook(s.deps.Logger, s.Name())

	simulated, err := s.Simulate(ctx, trades)
	if err != nil {
		return nil, err
	}

	records := []domain.TradeRecord{}
	if len(simulated) > 0 {
		records, err = s.Broadcast(ctx, simulated)
		if err != nil {
			return nil, err
		}
	}

	postExecHook(s.deps.Logger, s.Name(), s.deps.Publisher, records)
	return records, nil
}

// Simulate passes trades through untouched: bundles are validated by the
// builders, not by a public simulation call that would leak the flow.
func (s *PrivateBundle) Simulate(_ context.Context, trades []domain.PreparedTrade) ([]domain.PreparedTrade, error) {
	return trades, nil
}

// Broadcast submits one single-trade bundle. More than one trade per cycle
// is an error: bundles share nonces and the variant does not merge them.
func (s *PrivateBundle) Broadcast(ctx context.Context, trades []domain.PreparedTrade) ([]domain.TradeRecord, error) {
	records := []domain.TradeRecord{}
	if s.deps.Testing {
		s.deps.Logger.Info("Skipping broadcast, testing mode enabled", "strategy", s.Name())
		return records, nil
	}
	if len(trades) != 1 {
		return nil, fmt.Errorf("private bundle strategy only supports single-trade bundles, got %d", len(trades))
	}
	trade := trades[0]

	height, err := s.deps.Chain.BlockNumber(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get block number: %w", err)
	}
	targetBlock := height + s.bundle.InclusionDelay
	s.deps.Logger.Info("Submitting bundle", "current_block", height, "target_block", targetBlock, "builders", len(s.bundle.Endpoints))

	rawApproval, approvalHash, err := s.deps.Wallet.SignRaw(trade.Approval)
	if err != nil {
		return nil, fmt.Errorf("failed to sign approval: %w", err)
	}
	rawSwap, swapHash, err := s.deps.Wallet.SignRaw(trade.Swap)
	if err != nil {
		return nil, fmt.Errorf("failed to sign swap: %w", err)
	}

	body, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_sendBundle",
		"params": []any{map[string]any{
			"txs":         []string{hexutil.Encode(rawApproval), hexutil.Encode(rawSwap)},
			"blockNumber": hexutil.EncodeUint64(targetBlock),
		}},
	})
	if err != nil {
		return nil, err
	}

	signature, err := s.bundle.Signer.SignFlashbotsPayload(body)
	if err != nil {
		return nil, fmt.Errorf("failed to sign bundle payload: %w", err)
	}

	start := time.Now()
	accepted := 0
	var lastErr error
	for _, endpoint := range s.bundle.Endpoints {
		if err := s.submit(ctx, endpoint, body, signature); err != nil {
			s.deps.Logger.Error("Builder rejected bundle", "endpoint", endpoint, "error", err)
			lastErr = err
			continue
		}
		accepted++
	}

	rec := domain.TradeRecord{
		Trade:        trade,
		ApprovalHash: approvalHash,
		SwapHash:     swapHash,
		BroadcastMs:  time.Since(start).Milliseconds(),
	}
	if accepted > 0 {
		rec.Status = domain.TradeBroadcast
		s.deps.Logger.Info("Bundle sent successfully", "accepted_by", accepted, "target_block", targetBlock)
	} else {
		rec.Status = domain.TradeBroadcastFailed
		if lastErr != nil {
			rec.Error = lastErr.Error()
		}
	}
	records = append(records, rec)
	return records, nil
}

func (s *PrivateBundle) submit(ctx context.Context, endpoint string, body []byte, signature string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Flashbots-Signature", signature)

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(res.Body, 1024))
		return fmt.Errorf("builder returned status %d: %s", res.StatusCode, strings.TrimSpace(string(payload)))
	}

	var rpcRes struct {
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(res.Body).Decode(&rpcRes); err != nil {
		return fmt.Errorf("failed to decode builder response: %w", err)
	}
	if rpcRes.Error != nil {
		return fmt.Errorf("builder error: %s", rpcRes.Error.Message)
	}
	return nil
}
