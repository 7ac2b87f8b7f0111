package mintresult

import (
	"math/big"
	"sync"

	"github.com/froc-multiverse/froc-mint/internal/metadata"
)

// Item is one minted token as shown in the result view. Image and Attributes
// stay empty until metadata resolves.
type Item struct {
	TokenID     *big.Int             `json:"-"`
	Name        string               `json:"name"`
	Image       string               `json:"image,omitempty"`
	Attributes  []metadata.Attribute `json:"attributes,omitempty"`
	ExternalURL string               `json:"externalUrl"`
}

func (it Item) Resolved() bool {
	return it.Image != "" || it.Attributes != nil
}

func (it Item) clone() Item {
	out := it
	if it.TokenID != nil {
		out.TokenID = new(big.Int).Set(it.TokenID)
	}
	if it.Attributes != nil {
		out.Attributes = make([]metadata.Attribute, len(it.Attributes))
		copy(out.Attributes, it.Attributes)
	}
	return out
}

// ItemList is the progressively updated result of one mint. Entries are never
// removed; Update replaces entries in place by token id.
type ItemList struct {
	mu    sync.Mutex
	items []Item
	subs  map[int]chan []Item
	next  int
	done  bool

	doneCh chan struct{}
}

func NewItemList(items []Item) *ItemList {
	l := &ItemList{
		subs:   make(map[int]chan []Item),
		doneCh: make(chan struct{}),
	}
	for _, it := range items {
		l.items = append(l.items, it.clone())
	}
	return l
}

func (l *ItemList) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.items)
}

// Snapshot returns a deep copy of the current entries.
func (l *ItemList) Snapshot() []Item {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.snapshotLocked()
}

func (l *ItemList) snapshotLocked() []Item {
	out := make([]Item, len(l.items))
	for i, it := range l.items {
		out[i] = it.clone()
	}
	return out
}

// Update replaces every entry whose token id matches item.TokenID and reports
// whether any entry changed.
func (l *ItemList) Update(item Item) bool {
	if item.TokenID == nil {
		return false
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	found := false
	for i := range l.items {
		if l.items[i].TokenID != nil && l.items[i].TokenID.Cmp(item.TokenID) == 0 {
			l.items[i] = item.clone()
			found = true
		}
	}
	if found {
		l.broadcastLocked()
	}
	return found
}

// Subscribe returns a channel that receives the latest snapshot after each
// change. Slow readers only see the most recent snapshot. The channel is
// closed when resolution finishes or cancel is called.
func (l *ItemList) Subscribe() (<-chan []Item, func()) {
	l.mu.Lock()
	defer l.mu.Unlock()

	ch := make(chan []Item, 1)
	ch <- l.snapshotLocked()
	if l.done {
		close(ch)
		return ch, func() {}
	}

	id := l.next
	l.next++
	l.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			l.mu.Lock()
			defer l.mu.Unlock()
			if c, ok := l.subs[id]; ok {
				delete(l.subs, id)
				close(c)
			}
		})
	}
}

// Done is closed once every token has finished resolving.
func (l *ItemList) Done() <-chan struct{} { return l.doneCh }

func (l *ItemList) Wait() { <-l.doneCh }

func (l *ItemList) finish() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.done {
		return
	}
	l.done = true
	for id, ch := range l.subs {
		delete(l.subs, id)
		close(ch)
	}
	close(l.doneCh)
}

func (l *ItemList) broadcastLocked() {
	for _, ch := range l.subs {
		select {
		case <-ch:
		default:
		}
		ch <- l.snapshotLocked()
	}
}
