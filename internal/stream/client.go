package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/rpc"

	"github.com/tychomaker/divergence-bot/internal/domain"
	"github.com/tychomaker/divergence-bot/internal/logging"
	"github.com/tychomaker/divergence-bot/internal/simulator"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	// RpcNamespace is the namespace under which the pool streamer is registered.
	RpcNamespace                 = "tycho"
	PoolStreamSubscriptionMethod = "subscribePoolStream"
)

// Config holds the configuration for the client.
type Config struct {
	URL        string
	Logger     logging.Logger
	BufferSize uint
	// Decoders maps a protocol schema to its simulator decoder.
	Decoders map[string]simulator.DecoderFunc
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if len(c.Decoders) == 0 {
		return errors.New("config: Decoders is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// Processor
// -----------------------------------------------------------------------------

// Processor handles the business logic of parsing subscription events into
// pool-update messages. It is decoupled from the networking layer.
type Processor struct {
	decoders map[string]simulator.DecoderFunc
	msgCh    chan *Message
	logger   logging.Logger
}

// NewProcessor creates a pure logic processor without networking.
func NewProcessor(logger logging.Logger, bufferSize uint, decoders map[string]simulator.DecoderFunc) *Processor {
	return &Processor{
		logger:   logger,
		msgCh:    make(chan *Message, bufferSize),
		decoders: decoders,
	}
}

// Messages returns a read-only channel for receiving decoded updates.
func (p *Processor) Messages() <-chan *Message {
	return p.msgCh
}

// ProcessRaw decodes one raw subscription event and pushes the resulting
// message. A decode failure is returned to the caller: a malformed message
// terminates the stream and the supervisor rebuilds it.
func (p *Processor) ProcessRaw(rawData json.RawMessage) error {
	processingStart := time.Now()

	var event SubscriptionEvent
	if err := json.Unmarshal(rawData, &event); err != nil {
		return fmt.Errorf("failed to unmarshal subscription event: %w", err)
	}

	if event.Type != "pool_update" {
		return fmt.Errorf("received unknown event type: %s", event.Type)
	}

	msg, err := p.decode(event.Payload)
	if err != nil {
		return err
	}

	p.logger.Debug("Pool update processed",
		"block", msg.BlockNumber,
		"state_updates", len(msg.StateUpdates),
		"new_pairs", len(msg.NewPairs),
		"removed_pairs", len(msg.RemovedPairs),
		"latency_proc_ms", time.Since(processingStart).Milliseconds(),
	)

	p.msgCh <- msg
	return nil
}

func (p *Processor) decode(payload json.RawMessage) (*Message, error) {
	var wire messagePayload
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("failed to unmarshal pool update payload: %w", err)
	}

	msg := &Message{
		BlockNumber:  wire.BlockNumber,
		StateUpdates: make(map[string]domain.Simulator, len(wire.States)),
		NewPairs:     make(map[string]domain.Pool, len(wire.NewPairs)),
		RemovedPairs: make(map[string]struct{}, len(wire.RemovedPairs)),
	}

	for id, state := range wire.States {
		decoder, ok := p.decoders[state.Schema]
		if !ok {
			return nil, fmt.Errorf("no decoder registered for schema %q", state.Schema)
		}
		sim, err := decoder(state.Data)
		if err != nil {
			return nil, fmt.Errorf("failed to decode state for pool %s: %w", id, err)
		}
		msg.StateUpdates[domain.NormalizeID(id)] = sim
	}

	for id, pair := range wire.NewPairs {
		msg.NewPairs[domain.NormalizeID(id)] = pair.toDomain(id)
	}

	for id := range wire.RemovedPairs {
		msg.RemovedPairs[domain.NormalizeID(id)] = struct{}{}
	}

	return msg, nil
}

// -----------------------------------------------------------------------------
// Client (Networking Wrapper)
// -----------------------------------------------------------------------------

// Client manages the connection and uses Processor for logic.
type Client struct {
	processor *Processor
	errCh     chan error
	logger    logging.Logger
}

// NewClient creates a new client with networking enabled.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		processor: NewProcessor(cfg.Logger, cfg.BufferSize, cfg.Decoders),
		errCh:     make(chan error, 1),
		logger:    cfg.Logger,
	}

	go client.run(ctx, cfg.URL)
	return client, nil
}

// Messages delegates to the processor's message channel.
func (c *Client) Messages() <-chan *Message {
	return c.processor.Messages()
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the networking lifecycle and feeds data to the processor.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.errCh)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Stream client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to pool stream", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to pool stream, will retry...", "error", err, "delay", reconnectDelay)
			time.Sleep(reconnectDelay)
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to pool stream.")
		reconnectDelay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			c.logger.Info("Context canceled, shutting down.")
			return
		}
		// A failed or terminated subscription ends this client: the error
		// goes out on Err() and the supervisor rebuilds the stream.
		c.logger.Error("Subscription failed, handing over to the supervisor", "error", err)
		c.errCh <- err
		return
	}
}

func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, RpcNamespace, rawCh, PoolStreamSubscriptionMethod)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for pool updates...")
	for {
		select {
		case rawData := <-rawCh:
			if err := c.processor.ProcessRaw(rawData); err != nil {
				// A malformed message terminates the stream; the index is
				// rebuilt from the next first-message after reconnect.
				return fmt.Errorf("error processing message: %w", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}
