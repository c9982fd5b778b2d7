// Package tracker is the core of the bot: per-owner tracked URL slots, the
// price-drop notification policy, and the periodic poller.
package tracker

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/shopspring/decimal"
)

const (
	MinSlot = 1
	MaxSlot = 10
)

var (
	ErrInvalidSlot  = errors.New("tracker: slot out of range")
	ErrInvalidURL   = errors.New("tracker: empty url")
	ErrInvalidPrice = errors.New("tracker: price must be positive")
	ErrNotFound     = errors.New("tracker: no url set for slot")
)

// Item is one tracked URL slot.
type Item struct {
	Slot int
	URL  string
	// Target is the price threshold; nil until the owner sets one.
	Target *decimal.Decimal
	// LastNotified is the price of the last notification sent for this
	// URL+target combination; nil means none sent yet.
	LastNotified *decimal.Decimal
}

// OwnedItem pairs an item with its owner for poll snapshots.
type OwnedItem struct {
	Owner int64
	Item  Item
}

// Store holds all tracked items in memory, keyed by (owner, slot).
// All methods are safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	items map[int64]map[int]*Item
}

func NewStore() *Store {
	return &Store{items: make(map[int64]map[int]*Item)}
}

func validSlot(slot int) bool { return slot >= MinSlot && slot <= MaxSlot }

// SetURL registers url under (owner, slot). Re-registering a slot replaces
// the URL and clears its target price and notification memory.
func (s *Store) SetURL(owner int64, slot int, url string) error {
	if !validSlot(slot) {
		return ErrInvalidSlot
	}
	if strings.TrimSpace(url) == "" {
		return ErrInvalidURL
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.items[owner]
	if owned == nil {
		owned = make(map[int]*Item)
		s.items[owner] = owned
	}
	owned[slot] = &Item{Slot: slot, URL: url}
	return nil
}

// SetTargetPrice sets the notification threshold for (owner, slot).
// Changing the target resets notification memory, so a price that already
// triggered once may notify again under the new target.
func (s *Store) SetTargetPrice(owner int64, slot int, price decimal.Decimal) error {
	if !validSlot(slot) {
		return ErrInvalidSlot
	}
	if !price.IsPositive() {
		return ErrInvalidPrice
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.items[owner][slot]
	if it == nil {
		return ErrNotFound
	}
	p := price
	it.Target = &p
	it.LastNotified = nil
	return nil
}

// Get returns a copy of the item at (owner, slot).
func (s *Store) Get(owner int64, slot int) (Item, error) {
	if !validSlot(slot) {
		return Item{}, ErrInvalidSlot
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	it := s.items[owner][slot]
	if it == nil {
		return Item{}, ErrNotFound
	}
	return copyItem(it), nil
}

// List returns the owner's items in ascending slot order.
func (s *Store) List(owner int64) []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()

	owned := s.items[owner]
	out := make([]Item, 0, len(owned))
	for _, it := range owned {
		out = append(out, copyItem(it))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slot < out[j].Slot })
	return out
}

// Delete removes (owner, slot). It reports ErrNotFound when nothing was set.
func (s *Store) Delete(owner int64, slot int) error {
	if !validSlot(slot) {
		return ErrInvalidSlot
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	owned := s.items[owner]
	if owned == nil || owned[slot] == nil {
		return ErrNotFound
	}
	delete(owned, slot)
	if len(owned) == 0 {
		delete(s.items, owner)
	}
	return nil
}

// All returns a snapshot of every tracked item across owners, ordered by
// owner then slot.
func (s *Store) All() []OwnedItem {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]OwnedItem, 0, 16)
	for owner, owned := range s.items {
		for _, it := range owned {
			out = append(out, OwnedItem{Owner: owner, Item: copyItem(it)})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Owner != out[j].Owner {
			return out[i].Owner < out[j].Owner
		}
		return out[i].Item.Slot < out[j].Item.Slot
	})
	return out
}

// RecordNotified persists notification memory for (owner, slot), but only if
// the slot still holds the same url and target it held when the poll snapshot
// was taken. It reports whether the record was applied; false means the item
// was deleted or reconfigured mid-poll and the stale result was discarded.
func (s *Store) RecordNotified(owner int64, slot int, url string, target *decimal.Decimal, price decimal.Decimal) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	it := s.items[owner][slot]
	if it == nil || it.URL != url {
		return false
	}
	if !decimalPtrEqual(it.Target, target) {
		return false
	}
	p := price
	it.LastNotified = &p
	return true
}

func copyItem(it *Item) Item {
	cp := Item{Slot: it.Slot, URL: it.URL}
	if it.Target != nil {
		t := *it.Target
		cp.Target = &t
	}
	if it.LastNotified != nil {
		n := *it.LastNotified
		cp.LastNotified = &n
	}
	return cp
}

func decimalPtrEqual(a, b *decimal.Decimal) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}
