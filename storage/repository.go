// Package storage provides the storage abstraction layer for encrypted
// session records. Every record is sealed into an Envelope before it
// reaches a Repository; plaintext session state never touches a backend.
package storage

import "errors"

// ErrNotFound is returned when the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// Record type names used by the session core.
const (
	RecordSessionToken = "SESSION_TOKEN"
	RecordIdentity     = "IDENTITY"
	RecordWrappedKey   = "WRAPPED_KEY"
	RecordDeviceID     = "DEVICE_ID"
)

// Repository defines the interface for encrypted record storage.
// Namespace isolates installations sharing a backend (one per app profile).
type Repository interface {
	Put(namespace string, recordType string, recordID string, envelope *Envelope) error
	Get(namespace string, recordType string, recordID string) (*Envelope, error)
	Delete(namespace string, recordType string, recordID string) error
	// List returns the record IDs of the given type, in no particular order.
	List(namespace string, recordType string) ([]string, error)
}
