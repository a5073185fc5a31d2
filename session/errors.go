package session

import "errors"

var (
	// ErrNoSession indicates no persisted session exists to restore.
	ErrNoSession = errors.New("no persisted session")
	// ErrRestore indicates a persisted session failed to load or validate.
	// The machine has already invalidated and cleared storage when this is
	// returned; it is not retried automatically.
	ErrRestore = errors.New("session restore failed")
	// ErrEstablish indicates a successful ceremony could not be turned into
	// a session (mint or persistence failure). No session is installed.
	ErrEstablish = errors.New("session not established")
)
