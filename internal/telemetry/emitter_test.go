package telemetry

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tychomaker/divergence-bot/internal/config"
	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/evaluator"
	"github.com/tychomaker/divergence-bot/internal/logging"
)

type memorySink struct {
	mu       sync.Mutex
	payloads [][]byte
	channel  string
	err      error
}

func (s *memorySink) Publish(_ context.Context, channel string, payload []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.channel = channel
	s.payloads = append(s.payloads, payload)
	return nil
}

func (s *memorySink) envelopes(t *testing.T) []Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Envelope, 0, len(s.payloads))
	for _, p := range s.payloads {
		var env Envelope
		require.NoError(t, json.Unmarshal(p, &env))
		out = append(out, env)
	}
	return out
}

func TestEmitterPublishes(t *testing.T) {
	sink := &memorySink{}
	e := NewEmitter(sink, Channel, "ethusdc-base-8453", true, logging.Nop())

	e.Instance(&config.Config{PairTag: "ethusdc"}, "3f1a9c2")
	e.Prices(123, 2000.5, []evaluator.ComponentPrice{{Address: "0xp1", Protocol: "uniswap_v2", Price: 2001}})
	e.Trade(domain.TradeRecord{
		Trade: domain.PreparedTrade{Order: domain.ExecutionOrder{Intent: domain.RebalancementIntent{
			Pool:      domain.Pool{ID: "0xp1"},
			Direction: domain.SellBase,
		}}},
		Status:   domain.TradeBroadcast,
		SwapHash: common.HexToHash("0xbeef"),
	})

	envs := sink.envelopes(t)
	require.Len(t, envs, 3)
	assert.Equal(t, Channel, sink.channel)
	assert.Equal(t, MessageNewInstance, envs[0].Message)
	assert.Equal(t, MessageNewPrices, envs[1].Message)
	assert.Equal(t, MessageNewTrade, envs[2].Message)
}

func TestEmitterTimestampsMonotonic(t *testing.T) {
	sink := &memorySink{}
	e := NewEmitter(sink, Channel, "id", true, logging.Nop())

	for i := 0; i < 5; i++ {
		e.Prices(uint64(i), 2000, nil)
	}

	envs := sink.envelopes(t)
	require.Len(t, envs, 5)
	for i := 1; i < len(envs); i++ {
		assert.Greater(t, envs[i].Timestamp, envs[i-1].Timestamp)
	}
}

func TestEmitterDisabled(t *testing.T) {
	sink := &memorySink{}
	e := NewEmitter(sink, Channel, "id", false, logging.Nop())

	e.Prices(1, 2000, nil)
	assert.Empty(t, sink.payloads)
}

func TestEmitterSwallowsPublishFailures(t *testing.T) {
	rec := logging.NewRecorder()
	sink := &memorySink{err: fmt.Errorf("connection refused")}
	e := NewEmitter(sink, Channel, "id", true, rec)

	// Must not panic or block.
	e.Prices(1, 2000, nil)
	assert.True(t, rec.Contains("Publish message error"))
}

func TestReplayFixtureMatchesEmitterShape(t *testing.T) {
	events, err := LoadRecordedEvents("testdata/events.yaml")
	require.NoError(t, err)
	require.Len(t, events, 3)

	assert.Equal(t, "new_instance", events[0].Message)
	assert.Equal(t, "new_prices", events[1].Message)
	assert.Equal(t, "new_trade", events[2].Message)

	// Replayed names must be the same set the emitter produces.
	sink := &memorySink{}
	e := NewEmitter(sink, Channel, "ethusdc-base-8453", true, logging.Nop())
	e.Instance(&config.Config{}, "3f1a9c2")
	e.Prices(123, 2000.5, nil)
	e.Trade(domain.TradeRecord{Status: domain.TradeBroadcast})

	envs := sink.envelopes(t)
	require.Len(t, envs, len(events))
	for i := range events {
		assert.Equal(t, events[i].Message, string(envs[i].Message))
	}
}

func TestLoadRecordedEventsMissingFile(t *testing.T) {
	_, err := LoadRecordedEvents("testdata/never-there.yaml")
	assert.Error(t, err)
}
