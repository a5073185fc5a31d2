package keystore

import (
	"fmt"
	"sync"

	"github.com/wealthwise/sessionguard/internal/util"
)

// MemoryStore is a thread-safe in-memory Store. Keys are lost on process
// exit; it is intended for tests and ephemeral sessions.
type MemoryStore struct {
	mu   sync.Mutex
	keys map[string]KeyHandle
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory key store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{keys: make(map[string]KeyHandle)}
}

func (s *MemoryStore) Retrieve(id string) (KeyHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.keys[id]
	if !ok {
		return KeyHandle{}, fmt.Errorf("%s: %w", id, ErrKeyNotFound)
	}
	return h, nil
}

func (s *MemoryStore) Generate(id string, policy Policy) (KeyHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; ok {
		return KeyHandle{}, fmt.Errorf("%s: %w", id, ErrKeyExists)
	}
	raw, err := util.NewAESKey()
	if err != nil {
		return KeyHandle{}, err
	}
	h := newHandle(id, policy, raw)
	s.keys[id] = h
	return h, nil
}

func (s *MemoryStore) Put(handle KeyHandle, id string, policy Policy) error {
	buf, err := handle.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[id] = newHandle(id, policy, util.CopyBytes(buf.Bytes()))
	return nil
}

func (s *MemoryStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.keys, id)
	return nil
}
