package mints

import (
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/froc-multiverse/froc-mint/internal/metadata"
)

type State uint8

const (
	StateUnknown State = iota
	StateSubmitted
	StateMined
	StateResolved
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateSubmitted:
		return "submitted"
	case StateMined:
		return "mined"
	case StateResolved:
		return "resolved"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// Token is one minted token of a mint transaction, in receipt log order.
type Token struct {
	TokenID     *big.Int
	Name        string
	Image       string
	Attributes  []metadata.Attribute
	ExternalURL string
	ResolvedAt  time.Time
}

func (t Token) Resolved() bool { return !t.ResolvedAt.IsZero() }

func (t Token) clone() Token {
	out := t
	if t.TokenID != nil {
		out.TokenID = new(big.Int).Set(t.TokenID)
	}
	if t.Attributes != nil {
		out.Attributes = make([]metadata.Attribute, len(t.Attributes))
		copy(out.Attributes, t.Attributes)
	}
	return out
}

// Mint tracks one submitted mint transaction through receipt and metadata
// resolution.
type Mint struct {
	TxHash      common.Hash
	State       State
	BlockNumber uint64
	Failure     string
	Tokens      []Token

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (m Mint) clone() Mint {
	out := m
	if m.Tokens != nil {
		out.Tokens = make([]Token, len(m.Tokens))
		for i, t := range m.Tokens {
			out.Tokens[i] = t.clone()
		}
	}
	return out
}
