package state

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps encoded sessions in process memory. Stored values are
// snapshots: mutating a loaded state never leaks back into the store.
type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	opts    storeOptions
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

var _ Store = (*MemoryStore)(nil)

func NewMemoryStore(opts ...StoreOption) *MemoryStore {
	o, err := newStoreOptions(opts)
	if err != nil {
		o.ttl = 0
	}
	return &MemoryStore{entries: make(map[string]memoryEntry), opts: o}
}

func (s *MemoryStore) Load(_ context.Context, sessionID string) (*ConversationState, error) {
	key, err := s.opts.key(sessionID)
	if err != nil {
		return nil, err
	}

	s.mu.RLock()
	entry, ok := s.entries[key]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrStateNotFound
	}
	if !entry.expiresAt.IsZero() && s.opts.now().After(entry.expiresAt) {
		s.mu.Lock()
		delete(s.entries, key)
		s.mu.Unlock()
		return nil, ErrStateNotFound
	}
	return decodeState(entry.payload)
}

func (s *MemoryStore) Save(_ context.Context, st *ConversationState) error {
	payload, err := prepareForSave(st)
	if err != nil {
		return err
	}
	key, err := s.opts.key(st.SessionID)
	if err != nil {
		return err
	}

	entry := memoryEntry{payload: payload}
	if s.opts.ttl > 0 {
		entry.expiresAt = s.opts.now().Add(s.opts.ttl)
	}

	s.mu.Lock()
	s.entries[key] = entry
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, sessionID string) error {
	key, err := s.opts.key(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}
