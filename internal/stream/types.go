package stream

import (
	"encoding/json"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/tychomaker/divergence-bot/internal/domain"
)

// SubscriptionEvent is the wrapper object received from the server.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	SentAt  int64           `json:"sentAt"`
}

// Message is one decoded pool-update: simulators replaced wholesale for the
// ids in StateUpdates, pools upserted from NewPairs, pools dropped for the
// ids in RemovedPairs.
type Message struct {
	BlockNumber  uint64
	StateUpdates map[string]domain.Simulator
	NewPairs     map[string]domain.Pool
	RemovedPairs map[string]struct{}
}

// Empty reports whether the message carries no content at all. The index is
// only initialised from the first non-empty message.
func (m *Message) Empty() bool {
	return len(m.StateUpdates) == 0 && len(m.NewPairs) == 0 && len(m.RemovedPairs) == 0
}

// --- wire shapes ---

type statePayload struct {
	Schema string          `json:"schema"`
	Data   json.RawMessage `json:"data"`
}

type tokenPayload struct {
	Address  string `json:"address"`
	Decimals uint8  `json:"decimals"`
	Symbol   string `json:"symbol"`
	Gas      uint64 `json:"gas"`
}

type pairPayload struct {
	ID               string            `json:"id"`
	ProtocolSystem   string            `json:"protocol_system"`
	Tokens           []tokenPayload    `json:"tokens"`
	StaticAttributes map[string]string `json:"static_attributes"`
	CreatedAt        time.Time         `json:"created_at"`
}

type messagePayload struct {
	BlockNumber  uint64                     `json:"block_number"`
	States       map[string]statePayload    `json:"states"`
	NewPairs     map[string]pairPayload     `json:"new_pairs"`
	RemovedPairs map[string]json.RawMessage `json:"removed_pairs"`
}

func (p pairPayload) toDomain(id string) domain.Pool {
	tokens := make([]domain.Token, 0, len(p.Tokens))
	for _, t := range p.Tokens {
		tokens = append(tokens, domain.Token{
			Address:  common.HexToAddress(t.Address),
			Decimals: t.Decimals,
			Symbol:   t.Symbol,
			GasUsage: t.Gas,
		})
	}
	return domain.Pool{
		ID:               domain.NormalizeID(id),
		Protocol:         p.ProtocolSystem,
		Tokens:           tokens,
		StaticAttributes: p.StaticAttributes,
		CreatedAt:        p.CreatedAt,
	}
}
