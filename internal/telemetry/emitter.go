// Package telemetry publishes lifecycle, price and trade events to a
// pub/sub sink for the observability sidecar. Publishing is fire-and-forget:
// failures are logged and swallowed, never blocking the trading loop.
package telemetry

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/tychomaker/divergence-bot/internal/config"
	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/evaluator"
	"github.com/tychomaker/divergence-bot/internal/logging"
)

// Channel is the pub/sub channel every message goes to.
const Channel = "tycho_market_maker"

const publishTimeout = 2 * time.Second

// MessageType tags the envelope.
type MessageType string

const (
	MessageNewInstance MessageType = "new_instance"
	MessageNewPrices   MessageType = "new_prices"
	MessageNewTrade    MessageType = "new_trade"
)

// Envelope is the wire shape of every published message.
type Envelope struct {
	Message   MessageType `json:"message"`
	Timestamp uint64      `json:"timestamp"`
	Data      any         `json:"data"`
}

// Sink delivers serialized messages to a named channel.
type Sink interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// NewInstanceData announces a starting instance.
type NewInstanceData struct {
	Identifier string         `json:"identifier"`
	Commit     string         `json:"commit"`
	Config     *config.Config `json:"config"`
}

// NewPricesData is the per-tick price snapshot: the reference plus every
// monitored pool's own spot, enough to chart per-pool divergence.
type NewPricesData struct {
	Identifier     string                     `json:"identifier"`
	Block          uint64                     `json:"block"`
	ReferencePrice float64                    `json:"reference_price"`
	Components     []evaluator.ComponentPrice `json:"components"`
}

// NewTradeData is one broadcast outcome.
type NewTradeData struct {
	Identifier     string  `json:"identifier"`
	Pool           string  `json:"pool"`
	Direction      string  `json:"direction"`
	Status         string  `json:"status"`
	ApprovalHash   string  `json:"approval_hash"`
	SwapHash       string  `json:"swap_hash"`
	ProfitDeltaBps float64 `json:"profit_delta_bps"`
	Error          string  `json:"error,omitempty"`
}

// Emitter builds typed messages and hands them to the sink. Timestamps are
// wall-clock seconds, forced monotonically increasing across messages.
type Emitter struct {
	sink       Sink
	channel    string
	identifier string
	enabled    bool
	logger     logging.Logger

	mu            sync.Mutex
	lastTimestamp uint64
}

func NewEmitter(sink Sink, channel, identifier string, enabled bool, logger logging.Logger) *Emitter {
	return &Emitter{
		sink:       sink,
		channel:    channel,
		identifier: identifier,
		enabled:    enabled,
		logger:     logger,
	}
}

// Instance publishes the startup announcement with the effective config and
// the code-commit fingerprint.
func (e *Emitter) Instance(cfg *config.Config, commit string) {
	e.publish(MessageNewInstance, NewInstanceData{
		Identifier: e.identifier,
		Commit:     commit,
		Config:     cfg,
	})
}

// Prices publishes a qualifying tick's price snapshot.
func (e *Emitter) Prices(block uint64, reference float64, components []evaluator.ComponentPrice) {
	e.publish(MessageNewPrices, NewPricesData{
		Identifier:     e.identifier,
		Block:          block,
		ReferencePrice: reference,
		Components:     components,
	})
}

// Trade publishes one broadcast outcome. Implements the execution
// strategies' post-hook publisher.
func (e *Emitter) Trade(record domain.TradeRecord) {
	e.publish(MessageNewTrade, NewTradeData{
		Identifier:     e.identifier,
		Pool:           record.Trade.Order.Intent.Pool.ID,
		Direction:      record.Trade.Order.Intent.Direction.String(),
		Status:         record.Status.String(),
		ApprovalHash:   record.ApprovalHash.Hex(),
		SwapHash:       record.SwapHash.Hex(),
		ProfitDeltaBps: record.Trade.Order.Calculation.ProfitDeltaBps,
		Error:          record.Error,
	})
}

func (e *Emitter) publish(message MessageType, data any) {
	if !e.enabled || e.sink == nil {
		return
	}

	payload, err := json.Marshal(Envelope{
		Message:   message,
		Timestamp: e.timestamp(),
		Data:      data,
	})
	if err != nil {
		e.logger.Error("Failed to serialize message", "message", message, "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := e.sink.Publish(ctx, e.channel, payload); err != nil {
		e.logger.Error("Publish message error", "message", message, "error", err)
	}
}

func (e *Emitter) timestamp() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	now := uint64(time.Now().Unix())
	if now <= e.lastTimestamp {
		now = e.lastTimestamp + 1
	}
	e.lastTimestamp = now
	return now
}
