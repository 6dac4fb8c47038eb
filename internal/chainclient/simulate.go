package chainclient

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/tychomaker/divergence-bot/internal/domain"
)

// SimulatedCall is one call's outcome from a batched simulation.
type SimulatedCall struct {
	Status  bool
	GasUsed uint64
	Error   string
}

type simCallArgs struct {
	From                 string `json:"from"`
	To                   string `json:"to"`
	Input                string `json:"input,omitempty"`
	Gas                  string `json:"gas,omitempty"`
	MaxFeePerGas         string `json:"maxFeePerGas,omitempty"`
	MaxPriorityFeePerGas string `json:"maxPriorityFeePerGas,omitempty"`
	Nonce                string `json:"nonce,omitempty"`
	Value                string `json:"value,omitempty"`
}

type simBlockPayload struct {
	Calls []simCallArgs `json:"calls"`
}

type simPayload struct {
	BlockStateCalls []simBlockPayload `json:"blockStateCalls"`
	Validation      bool              `json:"validation"`
	TraceTransfers  bool              `json:"traceTransfers"`
}

type simCallResult struct {
	Status  hexutil.Uint64 `json:"status"`
	GasUsed hexutil.Uint64 `json:"gasUsed"`
	Error   *struct {
		Message string `json:"message"`
	} `json:"error"`
}

type simBlockResult struct {
	Calls []simCallResult `json:"calls"`
}

// SimulateCalls runs the requests as one simulated block against the latest
// state via eth_simulateV1 and returns per-call outcomes in order.
func (c *Client) SimulateCalls(ctx context.Context, requests []domain.TxRequest) ([]SimulatedCall, error) {
	calls := make([]simCallArgs, 0, len(requests))
	for _, req := range requests {
		args := simCallArgs{
			From:  req.From.Hex(),
			To:    req.To.Hex(),
			Input: hexutil.Encode(req.Input),
			Gas:   hexutil.EncodeUint64(req.GasLimit),
			Nonce: hexutil.EncodeUint64(req.Nonce),
		}
		if req.MaxFeePerGas != nil {
			args.MaxFeePerGas = hexutil.EncodeBig(req.MaxFeePerGas)
		}
		if req.MaxPriorityFeePerGas != nil {
			args.MaxPriorityFeePerGas = hexutil.EncodeBig(req.MaxPriorityFeePerGas)
		}
		if req.Value != nil && req.Value.Sign() > 0 {
			args.Value = hexutil.EncodeBig(req.Value)
		}
		calls = append(calls, args)
	}

	payload := simPayload{
		BlockStateCalls: []simBlockPayload{{Calls: calls}},
		Validation:      true,
	}

	var blocks []simBlockResult
	if err := c.rpc.CallContext(ctx, &blocks, "eth_simulateV1", payload, "latest"); err != nil {
		return nil, fmt.Errorf("failed to simulate calls: %w", err)
	}
	if len(blocks) != 1 {
		return nil, fmt.Errorf("simulation returned %d blocks, expected 1", len(blocks))
	}
	if len(blocks[0].Calls) != len(requests) {
		return nil, fmt.Errorf("simulation returned %d call results for %d calls", len(blocks[0].Calls), len(requests))
	}

	results := make([]SimulatedCall, 0, len(requests))
	for _, call := range blocks[0].Calls {
		result := SimulatedCall{
			Status:  call.Status == 1,
			GasUsed: uint64(call.GasUsed),
		}
		if call.Error != nil {
			result.Error = call.Error.Message
		}
		results = append(results, result)
	}
	return results, nil
}
