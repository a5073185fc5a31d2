package keystore

import (
	"errors"
	"fmt"
	"sync"

	"github.com/awnumar/memguard"

	"github.com/wealthwise/sessionguard/internal/aad"
	"github.com/wealthwise/sessionguard/internal/util"
	"github.com/wealthwise/sessionguard/storage"
)

const keyWrapVersion = 1

// PersistentStore is a Store whose keys survive process restarts. Each key
// is wrapped under a per-key wrapping key derived from a master key via
// HKDF, then written to a storage.Repository as a sealed envelope. The
// master key itself lives in a memguard Enclave and never leaves it in
// plaintext for longer than a single wrap or unwrap.
type PersistentStore struct {
	mu        sync.Mutex
	repo      storage.Repository
	namespace string
	master    *memguard.Enclave
}

var _ Store = (*PersistentStore)(nil)

// NewPersistentStore creates a persistent key store. masterKey must be 32
// bytes; it is wiped after the enclave takes ownership.
func NewPersistentStore(repo storage.Repository, namespace string, masterKey []byte) (*PersistentStore, error) {
	if len(masterKey) != util.AESKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", util.AESKeySize, len(masterKey))
	}
	return &PersistentStore{
		repo:      repo,
		namespace: namespace,
		master:    memguard.NewEnclave(masterKey),
	}, nil
}

// wrappingKeyFor derives the per-key wrapping key. Deriving per key ID means
// a leaked wrapping key exposes only its single key.
func (s *PersistentStore) wrappingKeyFor(id string) ([]byte, error) {
	buf, err := s.master.Open()
	if err != nil {
		return nil, fmt.Errorf("opening master key: %w", err)
	}
	defer buf.Destroy()
	return util.HKDF(buf.Bytes(), nil, []byte("sessionguard:keywrap:v1:"+id))
}

func (s *PersistentStore) Retrieve(id string) (KeyHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	env, err := s.repo.Get(s.namespace, storage.RecordWrappedKey, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return KeyHandle{}, fmt.Errorf("%s: %w", id, ErrKeyNotFound)
		}
		return KeyHandle{}, fmt.Errorf("loading wrapped key: %w", err)
	}

	wk, err := s.wrappingKeyFor(id)
	if err != nil {
		return KeyHandle{}, err
	}
	defer util.WipeBytes(wk)

	plain, err := storage.Open(wk, env, aad.KeyWrap(s.namespace, id, keyWrapVersion))
	if err != nil {
		return KeyHandle{}, fmt.Errorf("unwrapping key %s: %w", id, err)
	}
	if len(plain) != 1+util.AESKeySize {
		util.WipeBytes(plain)
		return KeyHandle{}, fmt.Errorf("wrapped key %s has unexpected length", id)
	}

	policy := Policy(plain[0])
	raw := util.CopyBytes(plain[1:])
	util.WipeBytes(plain)

	return newHandle(id, policy, raw), nil
}

func (s *PersistentStore) Generate(id string, policy Policy) (KeyHandle, error) {
	raw, err := util.NewAESKey()
	if err != nil {
		return KeyHandle{}, err
	}
	if err := s.wrapAndStore(id, policy, raw); err != nil {
		util.WipeBytes(raw)
		return KeyHandle{}, err
	}
	return newHandle(id, policy, raw), nil
}

func (s *PersistentStore) Put(handle KeyHandle, id string, policy Policy) error {
	buf, err := handle.Open()
	if err != nil {
		return err
	}
	defer buf.Destroy()
	return s.wrapAndStore(id, policy, util.CopyBytes(buf.Bytes()))
}

// wrapAndStore seals policy || raw under the per-key wrapping key. raw is
// wiped before returning on the Put path via the caller; here the sealed
// plaintext copy is wiped locally.
func (s *PersistentStore) wrapAndStore(id string, policy Policy, raw []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	wk, err := s.wrappingKeyFor(id)
	if err != nil {
		return err
	}
	defer util.WipeBytes(wk)

	plain := make([]byte, 1+len(raw))
	plain[0] = byte(policy)
	copy(plain[1:], raw)
	defer util.WipeBytes(plain)

	env, err := storage.Seal(wk, plain, aad.KeyWrap(s.namespace, id, keyWrapVersion))
	if err != nil {
		return fmt.Errorf("wrapping key %s: %w", id, err)
	}
	return s.repo.Put(s.namespace, storage.RecordWrappedKey, id, env)
}

// IDs returns the identifiers of all wrapped keys in the store.
func (s *PersistentStore) IDs() ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids, err := s.repo.List(s.namespace, storage.RecordWrappedKey)
	if err != nil {
		return nil, fmt.Errorf("listing wrapped keys: %w", err)
	}
	return ids, nil
}

func (s *PersistentStore) Delete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := s.repo.Delete(s.namespace, storage.RecordWrappedKey, id)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("deleting key %s: %w", id, err)
	}
	return nil
}
