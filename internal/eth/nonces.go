package eth

import (
	"context"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

type PendingNoncer interface {
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
}

// Nonces hands out nonces for one account. The counter is seeded from the
// node's pending nonce on first use and only moves backwards through Release.
type Nonces struct {
	backend PendingNoncer
	addr    common.Address

	mu     sync.Mutex
	next   uint64
	seeded bool
}

func NewNonces(backend PendingNoncer, addr common.Address) *Nonces {
	return &Nonces{backend: backend, addr: addr}
}

func (n *Nonces) Next(ctx context.Context) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.seeded {
		pending, err := n.backend.PendingNonceAt(ctx, n.addr)
		if err != nil {
			return 0, err
		}
		n.next = pending
		n.seeded = true
	}
	out := n.next
	n.next++
	return out, nil
}

// Release returns a nonce whose transaction never reached the node. Only the
// most recently issued nonce can be returned; anything else is ignored.
func (n *Nonces) Release(nonce uint64) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.seeded || n.next == 0 || nonce != n.next-1 {
		return false
	}
	n.next--
	return true
}

// Sync pulls the node's pending nonce forward into the counter. It never
// lowers a counter that already has locally reserved nonces.
func (n *Nonces) Sync(ctx context.Context) (uint64, error) {
	pending, err := n.backend.PendingNonceAt(ctx, n.addr)
	if err != nil {
		return 0, err
	}

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.seeded || pending > n.next {
		n.next = pending
		n.seeded = true
	}
	return pending, nil
}
