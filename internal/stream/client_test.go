package stream

import (
	"encoding/json"
	"fmt"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/logging"
	"github.com/tychomaker/divergence-bot/internal/simulator"
)

type staticSim struct {
	price float64
}

func (s staticSim) SpotPrice(domain.Token, domain.Token) (float64, error) {
	return s.price, nil
}

func (s staticSim) GetAmountOut(*big.Int, domain.Token, domain.Token) (*domain.SwapResult, error) {
	return nil, fmt.Errorf("not supported")
}

func testDecoders(t *testing.T) map[string]simulator.DecoderFunc {
	t.Helper()
	return map[string]simulator.DecoderFunc{
		"test_protocol": func(data json.RawMessage) (domain.Simulator, error) {
			var payload struct {
				Price float64 `json:"price"`
			}
			if err := json.Unmarshal(data, &payload); err != nil {
				return nil, err
			}
			return staticSim{price: payload.Price}, nil
		},
	}
}

func event(t *testing.T, payload string) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(SubscriptionEvent{Type: "pool_update", Payload: json.RawMessage(payload)})
	require.NoError(t, err)
	return raw
}

func TestProcessorDecodesPoolUpdate(t *testing.T) {
	p := NewProcessor(logging.Nop(), 4, testDecoders(t))

	raw := event(t, `{
		"block_number": 123,
		"states": {
			"0xAAA1000000000000000000000000000000000001": {"schema": "test_protocol", "data": {"price": 2000.0}}
		},
		"new_pairs": {
			"0xAAA1000000000000000000000000000000000001": {
				"id": "0xAAA1000000000000000000000000000000000001",
				"protocol_system": "test_protocol",
				"tokens": [
					{"address": "0xc02aaa39b223fe8d0a0e5c4f27ead9083c756cc2", "decimals": 18, "symbol": "WETH"},
					{"address": "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "decimals": 6, "symbol": "USDC"}
				]
			}
		},
		"removed_pairs": {"0xBBB2000000000000000000000000000000000002": {}}
	}`)

	require.NoError(t, p.ProcessRaw(raw))

	msg := <-p.Messages()
	assert.Equal(t, uint64(123), msg.BlockNumber)

	// Ids are normalized to lowercase.
	sim, ok := msg.StateUpdates["0xaaa1000000000000000000000000000000000001"]
	require.True(t, ok)
	price, err := sim.SpotPrice(domain.Token{}, domain.Token{})
	require.NoError(t, err)
	assert.Equal(t, 2000.0, price)

	pool, ok := msg.NewPairs["0xaaa1000000000000000000000000000000000001"]
	require.True(t, ok)
	assert.Equal(t, "test_protocol", pool.Protocol)
	require.Len(t, pool.Tokens, 2)
	assert.Equal(t, "WETH", pool.Tokens[0].Symbol)
	assert.Equal(t, uint8(6), pool.Tokens[1].Decimals)

	_, removed := msg.RemovedPairs["0xbbb2000000000000000000000000000000000002"]
	assert.True(t, removed)
	assert.False(t, msg.Empty())
}

func TestProcessorRejectsMalformed(t *testing.T) {
	p := NewProcessor(logging.Nop(), 1, testDecoders(t))

	require.Error(t, p.ProcessRaw([]byte(`not json`)))

	raw, err := json.Marshal(SubscriptionEvent{Type: "something_else", Payload: json.RawMessage(`{}`)})
	require.NoError(t, err)
	assert.ErrorContains(t, p.ProcessRaw(raw), "unknown event type")

	// Unknown schema terminates the stream rather than dropping the pool.
	assert.ErrorContains(t, p.ProcessRaw(event(t, `{
		"block_number": 1,
		"states": {"0x1": {"schema": "who_knows", "data": {}}}
	}`)), "no decoder registered")
}

func TestProcessorEmptyMessage(t *testing.T) {
	p := NewProcessor(logging.Nop(), 1, testDecoders(t))

	require.NoError(t, p.ProcessRaw(event(t, `{"block_number": 7}`)))
	msg := <-p.Messages()
	assert.True(t, msg.Empty())
	assert.Equal(t, uint64(7), msg.BlockNumber)
}

func TestConfigValidate(t *testing.T) {
	valid := Config{URL: "ws://localhost:1234", Logger: logging.Nop(), BufferSize: 1, Decoders: testDecoders(t)}
	require.NoError(t, valid.validate())

	missingURL := valid
	missingURL.URL = ""
	assert.ErrorContains(t, missingURL.validate(), "URL")

	missingBuffer := valid
	missingBuffer.BufferSize = 0
	assert.ErrorContains(t, missingBuffer.validate(), "BufferSize")

	missingLogger := valid
	missingLogger.Logger = nil
	assert.ErrorContains(t, missingLogger.validate(), "Logger")

	missingDecoders := valid
	missingDecoders.Decoders = nil
	assert.ErrorContains(t, missingDecoders.validate(), "Decoders")
}
