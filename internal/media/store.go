package media

import (
	"errors"
	"sync"
)

// ErrItemNotFound is returned when an item cannot be found by ID.
var ErrItemNotFound = errors.New("media item not found")

// Store is the in-memory collection of media items. The orchestrator owns
// the only instance and is the only writer; readers receive clones so that
// UI snapshots never observe partial mutations.
type Store struct {
	mu    sync.RWMutex
	items map[string]*Item
	order []string
}

// NewStore creates an empty item store.
func NewStore() *Store {
	return &Store{items: make(map[string]*Item)}
}

// Add inserts an item. Insertion order is preserved for listing.
func (s *Store) Add(item *Item) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[item.ID]; !ok {
		s.order = append(s.order, item.ID)
	}
	s.items[item.ID] = item
}

// Get returns the live item for internal mutation through its methods.
// Returns ErrItemNotFound if the item does not exist.
func (s *Store) Get(id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	item, ok := s.items[id]
	if !ok {
		return nil, ErrItemNotFound
	}
	return item, nil
}

// Snapshot returns clones of all items in insertion order.
func (s *Store) Snapshot() []*Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	result := make([]*Item, 0, len(s.order))
	for _, id := range s.order {
		if item, ok := s.items[id]; ok {
			result = append(result, item.Clone())
		}
	}
	return result
}

// Remove deletes an item from the collection.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.items[id]; !ok {
		return ErrItemNotFound
	}
	delete(s.items, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// Len returns the number of items.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}
