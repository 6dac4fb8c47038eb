package domain

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// NullAddressHex marks pool ids that must never be monitored.
const NullAddressHex = "0x0000000000000000000000000000000000000000"

// Pool describes one venue (a "protocol component"): an address-like id, the
// protocol family it belongs to, and its ordered token list. Mutable members
// are replaced wholesale on stream updates, never patched in place.
type Pool struct {
	ID               string
	Protocol         string
	Tokens           []Token
	StaticAttributes map[string]string
	CreatedAt        time.Time
}

// NormalizeID lowercases an id so map lookups and comparisons are stable
// regardless of how the provider cased it.
func NormalizeID(id string) string {
	return strings.ToLower(id)
}

// HasNullID reports whether the pool id embeds the all-zero address.
func (p Pool) HasNullID() bool {
	return strings.Contains(NormalizeID(p.ID), NullAddressHex[2:])
}

// Contains reports whether the pool's token list includes addr.
func (p Pool) Contains(addr common.Address) bool {
	for _, t := range p.Tokens {
		if t.Address == addr {
			return true
		}
	}
	return false
}

// ContainsPair reports whether both addresses appear in the token list.
func (p Pool) ContainsPair(a, b common.Address) bool {
	return p.Contains(a) && p.Contains(b)
}

// Token resolves a token descriptor by address.
func (p Pool) Token(addr common.Address) (Token, bool) {
	for _, t := range p.Tokens {
		if t.Address == addr {
			return t, true
		}
	}
	return Token{}, false
}
