package mints

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

type MemoryStore struct {
	mu  sync.Mutex
	now func() time.Time
	m   map[common.Hash]Mint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{now: time.Now, m: make(map[common.Hash]Mint)}
}

func (s *MemoryStore) Submit(_ context.Context, txHash common.Hash) (Mint, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if m, ok := s.m[txHash]; ok {
		return m.clone(), false, nil
	}
	now := s.now().UTC()
	m := Mint{TxHash: txHash, State: StateSubmitted, CreatedAt: now, UpdatedAt: now}
	s.m[txHash] = m
	return m.clone(), true, nil
}

func (s *MemoryStore) Get(_ context.Context, txHash common.Hash) (Mint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.m[txHash]
	if !ok {
		return Mint{}, ErrNotFound
	}
	return m.clone(), nil
}

func (s *MemoryStore) MarkMined(_ context.Context, txHash common.Hash, blockNumber uint64, tokens []Token) error {
	for _, t := range tokens {
		if !validTokenID(t.TokenID) {
			return ErrInvalidToken
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.m[txHash]
	if !ok {
		return ErrNotFound
	}
	switch m.State {
	case StateSubmitted:
	case StateMined, StateResolved:
		return nil
	default:
		return fmt.Errorf("%w: %s -> mined", ErrInvalidTransition, m.State)
	}

	m.State = StateMined
	m.BlockNumber = blockNumber
	m.Tokens = make([]Token, len(tokens))
	for i, t := range tokens {
		m.Tokens[i] = t.clone()
	}
	m.UpdatedAt = s.now().UTC()
	s.m[txHash] = m
	return nil
}

func (s *MemoryStore) MarkFailed(_ context.Context, txHash common.Hash, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.m[txHash]
	if !ok {
		return ErrNotFound
	}
	switch m.State {
	case StateSubmitted:
	case StateFailed:
		return nil
	default:
		return fmt.Errorf("%w: %s -> failed", ErrInvalidTransition, m.State)
	}
	m.State = StateFailed
	m.Failure = reason
	m.UpdatedAt = s.now().UTC()
	s.m[txHash] = m
	return nil
}

func (s *MemoryStore) UpdateToken(_ context.Context, txHash common.Hash, tok Token) error {
	if !validTokenID(tok.TokenID) {
		return ErrInvalidToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.m[txHash]
	if !ok {
		return ErrNotFound
	}
	if m.State != StateMined && m.State != StateResolved {
		return fmt.Errorf("%w: update token while %s", ErrInvalidTransition, m.State)
	}

	now := s.now().UTC()
	found := false
	for i := range m.Tokens {
		if m.Tokens[i].TokenID.Cmp(tok.TokenID) != 0 {
			continue
		}
		m.Tokens[i].Image = tok.Image
		m.Tokens[i].Attributes = tok.clone().Attributes
		m.Tokens[i].ResolvedAt = now
		found = true
	}
	if !found {
		return ErrNotFound
	}
	m.UpdatedAt = now
	s.m[txHash] = m
	return nil
}

func (s *MemoryStore) MarkResolved(_ context.Context, txHash common.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.m[txHash]
	if !ok {
		return ErrNotFound
	}
	switch m.State {
	case StateMined:
	case StateResolved:
		return nil
	default:
		return fmt.Errorf("%w: %s -> resolved", ErrInvalidTransition, m.State)
	}
	m.State = StateResolved
	m.UpdatedAt = s.now().UTC()
	s.m[txHash] = m
	return nil
}

var _ Store = (*MemoryStore)(nil)
