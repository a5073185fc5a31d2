// Package authn defines the proof-of-identity boundary: the assurance and
// proof-kind vocabulary, the ceremony result, and the Authenticator
// interface the session core delegates to.
package authn

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Assurance is an ordered strength-of-proof classification for an
// authentication event. Comparisons are monotonic: High > Standard > Minimal.
type Assurance uint8

const (
	AssuranceMinimal Assurance = iota
	AssuranceStandard
	AssuranceHigh
)

func (a Assurance) String() string {
	switch a {
	case AssuranceMinimal:
		return "minimal"
	case AssuranceStandard:
		return "standard"
	case AssuranceHigh:
		return "high"
	default:
		return fmt.Sprintf("assurance(%d)", uint8(a))
	}
}

// AtLeast reports whether a proves identity at least as strongly as other.
func (a Assurance) AtLeast(other Assurance) bool {
	return a >= other
}

// Method identifies the proof mechanism used. It is carried for audit and
// display only; it has no security meaning beyond provenance.
type Method uint8

const (
	MethodNone Method = iota
	MethodBiometric
	MethodPasskey
	MethodVoiceProfile
	MethodCompanionDevice
	MethodCredential
)

func (m Method) String() string {
	switch m {
	case MethodNone:
		return "none"
	case MethodBiometric:
		return "biometric"
	case MethodPasskey:
		return "passkey"
	case MethodVoiceProfile:
		return "voice-profile"
	case MethodCompanionDevice:
		return "companion-device"
	case MethodCredential:
		return "credential"
	default:
		return fmt.Sprintf("method(%d)", uint8(m))
	}
}

// Credentials carries caller-supplied secrets for methods that need them.
// Biometric and passkey ceremonies ignore it.
type Credentials struct {
	Passphrase string
}

// Result is produced by an Authenticator and consumed exactly once by the
// state machine to mint a session.
type Result struct {
	Success    bool
	IdentityID string
	Proof      Method
	Assurance  Assurance
	Timestamp  time.Time
}

// Authenticator performs a proof-of-identity ceremony. Implementations may
// block on user interaction; they must honor ctx cancellation.
type Authenticator interface {
	ProveIdentity(ctx context.Context, method Method, creds *Credentials) (Result, error)
}

// Ceremony failures. These are recoverable: the caller may retry.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrCeremonyCancelled   = errors.New("authentication cancelled")
	ErrHardwareUnavailable = errors.New("authentication hardware unavailable")
	ErrUnsupportedMethod   = errors.New("unsupported authentication method")
)
