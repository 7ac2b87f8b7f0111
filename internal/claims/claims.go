package claims

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	ErrInvalidInput = errors.New("claims: invalid input")
	ErrNotFound     = errors.New("claims: not found")
	ErrNotOwner     = errors.New("claims: not owner")
)

// Claim records which watcher replica is processing a mint and until when.
type Claim struct {
	TxHash    common.Hash
	Owner     string
	ExpiresAt time.Time
}

// Store hands out expiring per-mint claims.
//
// Acquire succeeds when no claim exists or the existing one has expired at the
// store's notion of now, and otherwise returns the current holder. Acquiring
// a claim one already holds refreshes it. Extend only
// succeeds for the owner. Release of an absent claim is a no-op.
type Store interface {
	Acquire(ctx context.Context, txHash common.Hash, owner string, ttl time.Duration) (Claim, bool, error)
	Extend(ctx context.Context, txHash common.Hash, owner string, ttl time.Duration) (Claim, error)
	Release(ctx context.Context, txHash common.Hash, owner string) error
	Get(ctx context.Context, txHash common.Hash) (Claim, error)
}

func Validate(txHash common.Hash, owner string, ttl time.Duration) error {
	if txHash == (common.Hash{}) || owner == "" || ttl <= 0 {
		return fmt.Errorf("%w: tx hash and owner must be set and ttl must be > 0", ErrInvalidInput)
	}
	return nil
}
