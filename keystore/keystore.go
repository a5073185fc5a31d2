// Package keystore provides durable, access-controlled storage of named
// symmetric key handles. Key material is only ever exposed through a
// memguard LockedBuffer scoped to a single operation; nothing outside this
// package holds raw key bytes between uses.
package keystore

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
)

var (
	// ErrKeyNotFound is returned when the referenced key ID does not exist.
	ErrKeyNotFound = errors.New("key not found")
	// ErrKeyExists is returned by Generate when the key ID is already in use.
	ErrKeyExists = errors.New("key already exists")
	// ErrInvalidHandle is returned when operating on a zero or destroyed handle.
	ErrInvalidHandle = errors.New("invalid key handle")
)

// Policy is advisory access metadata persisted alongside a key. It mirrors
// the host platform's keychain accessibility classes.
type Policy uint8

const (
	// PolicyWhenUnlocked keys are only available while the installation is unlocked.
	PolicyWhenUnlocked Policy = iota
	// PolicyAfterFirstUnlock keys become available after the first unlock and stay so.
	PolicyAfterFirstUnlock
)

func (p Policy) String() string {
	switch p {
	case PolicyWhenUnlocked:
		return "when-unlocked"
	case PolicyAfterFirstUnlock:
		return "after-first-unlock"
	default:
		return fmt.Sprintf("policy(%d)", uint8(p))
	}
}

// KeyHandle references a stored key. The material lives in a memguard
// Enclave (encrypted at rest in memory) and is decrypted only for the
// duration of an Open'd LockedBuffer, which the caller must Destroy.
type KeyHandle struct {
	id      string
	policy  Policy
	enclave *memguard.Enclave
}

// ID returns the stable identifier of the key.
func (h KeyHandle) ID() string {
	return h.id
}

// AccessPolicy returns the access policy recorded for the key.
func (h KeyHandle) AccessPolicy() Policy {
	return h.policy
}

// Open decrypts the key material into a LockedBuffer. The caller must call
// Destroy on the returned buffer as soon as the operation completes.
func (h KeyHandle) Open() (*memguard.LockedBuffer, error) {
	if h.enclave == nil {
		return nil, ErrInvalidHandle
	}
	buf, err := h.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening key enclave: %w", err)
	}
	return buf, nil
}

func newHandle(id string, policy Policy, raw []byte) KeyHandle {
	// memguard.NewEnclave wipes raw after sealing it.
	return KeyHandle{id: id, policy: policy, enclave: memguard.NewEnclave(raw)}
}

// Store is the secure key-value store the session core requires.
// Delete is idempotent: removing an absent key is not an error, so cleanup
// paths can run unconditionally.
type Store interface {
	// Retrieve returns the handle for id, or ErrKeyNotFound.
	Retrieve(id string) (KeyHandle, error)
	// Generate creates a fresh AES-256 key under id.
	Generate(id string, policy Policy) (KeyHandle, error)
	// Put stores externally created key material under id.
	Put(handle KeyHandle, id string, policy Policy) error
	// Delete removes the key under id.
	Delete(id string) error
}

// RetrieveOrGenerate returns the existing key for id, creating it on first use.
func RetrieveOrGenerate(s Store, id string, policy Policy) (KeyHandle, error) {
	h, err := s.Retrieve(id)
	if err == nil {
		return h, nil
	}
	if !errors.Is(err, ErrKeyNotFound) {
		return KeyHandle{}, err
	}
	return s.Generate(id, policy)
}
