package mints

import (
	"context"
	"errors"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrNotFound          = errors.New("mints: not found")
	ErrInvalidTransition = errors.New("mints: invalid transition")
	ErrInvalidToken      = errors.New("mints: invalid token")
)

// Store persists mint jobs. State only moves forward:
// submitted -> mined -> resolved, or submitted -> failed.
type Store interface {
	// Submit records a mint tx hash. It is idempotent and reports whether the
	// row is new.
	Submit(ctx context.Context, txHash common.Hash) (Mint, bool, error)
	Get(ctx context.Context, txHash common.Hash) (Mint, error)

	// MarkMined stores the provisional tokens from the receipt. Repeating it
	// on an already mined job keeps the stored tokens.
	MarkMined(ctx context.Context, txHash common.Hash, blockNumber uint64, tokens []Token) error
	MarkFailed(ctx context.Context, txHash common.Hash, reason string) error
	// UpdateToken replaces the metadata of every token row with tok.TokenID.
	UpdateToken(ctx context.Context, txHash common.Hash, tok Token) error
	MarkResolved(ctx context.Context, txHash common.Hash) error
}

func validTokenID(id *big.Int) bool {
	return id != nil && id.Sign() >= 0 && id.BitLen() <= 256
}
