package claims

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestMemoryStore_AcquireExtendReleaseAndTakeover(t *testing.T) {
	t.Parallel()

	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	s := NewMemoryStore(func() time.Time { return now })
	ctx := context.Background()
	tx := common.HexToHash("0x01")

	c, ok, err := s.Acquire(ctx, tx, "a", 10*time.Second)
	if err != nil || !ok {
		t.Fatalf("Acquire: ok=%v err=%v", ok, err)
	}
	if c.Owner != "a" || !c.ExpiresAt.Equal(now.Add(10*time.Second)) {
		t.Fatalf("unexpected claim: %+v", c)
	}

	held, ok, err := s.Acquire(ctx, tx, "b", 10*time.Second)
	if err != nil {
		t.Fatalf("Acquire b: %v", err)
	}
	if ok || held.Owner != "a" {
		t.Fatalf("expected claim held by a: ok=%v owner=%q", ok, held.Owner)
	}

	// Re-acquiring an owned claim refreshes it.
	now = now.Add(3 * time.Second)
	c, ok, err = s.Acquire(ctx, tx, "a", 10*time.Second)
	if err != nil || !ok || !c.ExpiresAt.Equal(now.Add(10*time.Second)) {
		t.Fatalf("re-acquire: ok=%v err=%v claim=%+v", ok, err, c)
	}

	now = now.Add(5 * time.Second)
	c, err = s.Extend(ctx, tx, "a", 10*time.Second)
	if err != nil || !c.ExpiresAt.Equal(now.Add(10*time.Second)) {
		t.Fatalf("Extend: err=%v claim=%+v", err, c)
	}
	if _, err := s.Extend(ctx, tx, "b", 10*time.Second); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Extend by b: got %v want ErrNotOwner", err)
	}
	if err := s.Release(ctx, tx, "b"); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("Release by b: got %v want ErrNotOwner", err)
	}

	// Expired claims can be taken over.
	now = now.Add(11 * time.Second)
	c, ok, err = s.Acquire(ctx, tx, "b", 10*time.Second)
	if err != nil || !ok || c.Owner != "b" {
		t.Fatalf("takeover: ok=%v err=%v claim=%+v", ok, err, c)
	}

	if err := s.Release(ctx, tx, "b"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	if err := s.Release(ctx, tx, "b"); err != nil {
		t.Fatalf("Release idempotent: %v", err)
	}
	if _, err := s.Get(ctx, tx); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get after release: got %v want ErrNotFound", err)
	}
	if _, err := s.Extend(ctx, tx, "b", time.Second); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Extend after release: got %v want ErrNotFound", err)
	}
}

func TestMemoryStore_RejectsInvalidInput(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore(nil)
	ctx := context.Background()
	tx := common.HexToHash("0x01")

	if _, _, err := s.Acquire(ctx, common.Hash{}, "a", time.Second); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero hash: %v", err)
	}
	if _, _, err := s.Acquire(ctx, tx, "", time.Second); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("empty owner: %v", err)
	}
	if _, _, err := s.Acquire(ctx, tx, "a", 0); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("zero ttl: %v", err)
	}
	if err := s.Release(ctx, tx, ""); !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("release empty owner: %v", err)
	}
}
