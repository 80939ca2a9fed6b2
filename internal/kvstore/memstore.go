package kvstore

import (
	"context"
	"fmt"
	"sync"
)

// MemStore is an in-memory Store for tests and single-process use.
//
// By default Set notifies change handlers inline, before it returns, which
// mimics a store whose notifications are never outrun by new writes. A
// manual store (NewManualMemStore) instead queues notifications until
// Flush, so tests can stack several writes into one notification window and
// observe coalescing.
type MemStore struct {
	mu       sync.Mutex
	values   map[string]string
	handlers []handlerEntry
	nextID   uint64
	manual   bool
	pending  []string
	failing  bool
}

type handlerEntry struct {
	id uint64
	fn ChangeHandler
}

// NewMemStore returns a MemStore that delivers notifications inline on Set.
func NewMemStore() *MemStore {
	return &MemStore{values: make(map[string]string)}
}

// NewManualMemStore returns a MemStore that queues notifications until
// Flush is called.
func NewManualMemStore() *MemStore {
	return &MemStore{values: make(map[string]string), manual: true}
}

// Get returns the current value for key.
func (s *MemStore) Get(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failing {
		return "", fmt.Errorf("get %q: %w", key, ErrUnavailable)
	}
	value, ok := s.values[key]
	if !ok {
		return "", ErrNotFound
	}
	return value, nil
}

// Set writes value under key and notifies handlers (inline, or on the next
// Flush for a manual store).
func (s *MemStore) Set(ctx context.Context, key, value string) error {
	s.mu.Lock()
	if s.failing {
		s.mu.Unlock()
		return fmt.Errorf("set %q: %w", key, ErrUnavailable)
	}
	s.values[key] = value

	if s.manual {
		for _, pending := range s.pending {
			if pending == key {
				s.mu.Unlock()
				return nil
			}
		}
		s.pending = append(s.pending, key)
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.notify(key)
	return nil
}

// Delete removes key, without notifying. Lets tests race a deletion against
// a pending notification.
func (s *MemStore) Delete(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.values, key)
}

// OnChange registers fn for change notifications.
func (s *MemStore) OnChange(fn ChangeHandler) (cancel func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextID++
	id := s.nextID
	s.handlers = append(s.handlers, handlerEntry{id: id, fn: fn})

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, entry := range s.handlers {
			if entry.id == id {
				s.handlers = append(s.handlers[:i], s.handlers[i+1:]...)
				break
			}
		}
	}
}

// Flush delivers all queued notifications of a manual store, one per
// distinct key, in first-write order.
func (s *MemStore) Flush() {
	s.mu.Lock()
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	for _, key := range pending {
		s.notify(key)
	}
}

// SetFailing toggles simulated unavailability: while failing, Get and Set
// return ErrUnavailable.
func (s *MemStore) SetFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

// notify calls every registered handler with key. Handlers run outside the
// store lock so they can call Get.
func (s *MemStore) notify(key string) {
	s.mu.Lock()
	handlers := make([]ChangeHandler, 0, len(s.handlers))
	for _, entry := range s.handlers {
		handlers = append(handlers, entry.fn)
	}
	s.mu.Unlock()

	for _, fn := range handlers {
		fn(key)
	}
}
