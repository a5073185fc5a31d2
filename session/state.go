// Package session implements the authentication-state core: a serialized
// state machine that owns the current authentication state, an expiry
// monitor, and encrypted persistence that survives process restarts.
package session

import "fmt"

// State is the authentication state of the installation. Exactly one state
// is current at any time, held exclusively by the Machine.
type State uint8

const (
	// StateUnauthenticated is the idle state; no identity is installed.
	StateUnauthenticated State = iota
	// StateAuthenticating is held while a proof-of-identity ceremony runs.
	StateAuthenticating
	// StateAuthenticated implies a live identity and a non-expired token.
	StateAuthenticated
	// StateSessionExpired is entered when the session timeout elapses;
	// it immediately drains into StateUnauthenticated via invalidation.
	StateSessionExpired
	// StateLocked marks an installation administratively locked out.
	StateLocked
	// StateCompromised is entered on any integrity failure; treated as a
	// possible tampering signal, never as a transient fault.
	StateCompromised
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticated:
		return "authenticated"
	case StateSessionExpired:
		return "session-expired"
	case StateLocked:
		return "locked"
	case StateCompromised:
		return "compromised"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}
