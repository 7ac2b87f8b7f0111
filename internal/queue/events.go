package queue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/froc-multiverse/froc-mint/internal/metadata"
)

const (
	TopicMintSubmitted = "froc.mints.submitted.v1"
	TopicMintResolved  = "froc.mints.resolved.v1"
)

var ErrInvalidPayload = errors.New("queue: invalid payload")

// MintSubmitted asks the watcher to follow a mint transaction.
type MintSubmitted struct {
	Version string `json:"version"`
	TxHash  string `json:"txHash"`
}

// MintResolved carries one token whose metadata has landed.
type MintResolved struct {
	Version     string               `json:"version"`
	TxHash      string               `json:"txHash"`
	TokenID     string               `json:"tokenId"`
	Name        string               `json:"name"`
	Image       string               `json:"image,omitempty"`
	Attributes  []metadata.Attribute `json:"attributes,omitempty"`
	ExternalURL string               `json:"externalUrl"`
	ResolvedAt  time.Time            `json:"resolvedAt"`
}

func EncodeMintSubmitted(txHash common.Hash) ([]byte, error) {
	return json.Marshal(MintSubmitted{Version: TopicMintSubmitted, TxHash: txHash.Hex()})
}

func DecodeMintSubmitted(payload []byte) (common.Hash, error) {
	var ev MintSubmitted
	if err := json.Unmarshal(payload, &ev); err != nil {
		return common.Hash{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.Version != TopicMintSubmitted {
		return common.Hash{}, fmt.Errorf("%w: unexpected version %q", ErrInvalidPayload, ev.Version)
	}
	return ParseTxHash(ev.TxHash)
}

func EncodeMintResolved(ev MintResolved) ([]byte, error) {
	ev.Version = TopicMintResolved
	return json.Marshal(ev)
}

func DecodeMintResolved(payload []byte) (MintResolved, error) {
	var ev MintResolved
	if err := json.Unmarshal(payload, &ev); err != nil {
		return MintResolved{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if ev.Version != TopicMintResolved {
		return MintResolved{}, fmt.Errorf("%w: unexpected version %q", ErrInvalidPayload, ev.Version)
	}
	return ev, nil
}

// ParseTxHash accepts a 0x-prefixed 32-byte hex hash.
func ParseTxHash(s string) (common.Hash, error) {
	s = strings.TrimSpace(s)
	if len(s) != 66 || !strings.HasPrefix(s, "0x") {
		return common.Hash{}, fmt.Errorf("%w: tx hash must be 0x + 64 hex chars", ErrInvalidPayload)
	}
	for _, r := range s[2:] {
		if !isHex(r) {
			return common.Hash{}, fmt.Errorf("%w: tx hash is not hex", ErrInvalidPayload)
		}
	}
	h := common.HexToHash(s)
	if h == (common.Hash{}) {
		return common.Hash{}, fmt.Errorf("%w: zero tx hash", ErrInvalidPayload)
	}
	return h, nil
}

func isHex(r rune) bool {
	return ('0' <= r && r <= '9') || ('a' <= r && r <= 'f') || ('A' <= r && r <= 'F')
}
