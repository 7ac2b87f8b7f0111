package claims

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// MemoryStore keeps claims in process. It is safe for concurrent use.
type MemoryStore struct {
	mu     sync.Mutex
	now    func() time.Time
	claims map[common.Hash]Claim
}

func NewMemoryStore(now func() time.Time) *MemoryStore {
	if now == nil {
		now = time.Now
	}
	return &MemoryStore{now: now, claims: make(map[common.Hash]Claim)}
}

func (s *MemoryStore) Acquire(_ context.Context, txHash common.Hash, owner string, ttl time.Duration) (Claim, bool, error) {
	if err := Validate(txHash, owner, ttl); err != nil {
		return Claim{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	c, ok := s.claims[txHash]
	if ok && c.ExpiresAt.After(now) && c.Owner != owner {
		return c, false, nil
	}
	c = Claim{TxHash: txHash, Owner: owner, ExpiresAt: now.Add(ttl)}
	s.claims[txHash] = c
	return c, true, nil
}

func (s *MemoryStore) Extend(_ context.Context, txHash common.Hash, owner string, ttl time.Duration) (Claim, error) {
	if err := Validate(txHash, owner, ttl); err != nil {
		return Claim{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[txHash]
	if !ok {
		return Claim{}, ErrNotFound
	}
	if c.Owner != owner {
		return Claim{}, ErrNotOwner
	}
	c.ExpiresAt = s.now().Add(ttl)
	s.claims[txHash] = c
	return c, nil
}

func (s *MemoryStore) Release(_ context.Context, txHash common.Hash, owner string) error {
	if txHash == (common.Hash{}) || owner == "" {
		return ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[txHash]
	if !ok {
		return nil
	}
	if c.Owner != owner {
		return ErrNotOwner
	}
	delete(s.claims, txHash)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, txHash common.Hash) (Claim, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.claims[txHash]
	if !ok {
		return Claim{}, ErrNotFound
	}
	return c, nil
}
