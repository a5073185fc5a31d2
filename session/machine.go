package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/wealthwise/sessionguard/authn"
	"github.com/wealthwise/sessionguard/clock"
	"github.com/wealthwise/sessionguard/token"
)

// RoleResolver supplies role tags for an identity at session establishment.
type RoleResolver func(ctx context.Context, identityID string) ([]Role, error)

// Machine is the authentication state machine: the single writer of
// authentication state. All methods serialize on an internal lock, so
// concurrent callers queue rather than race; the monitor issues its health
// checks through the same lock.
type Machine struct {
	mu                 sync.Mutex
	cfg                Config
	state              State
	identity           *Identity
	monitor            *monitor
	gen                uint64
	lastIntegrityCheck time.Time

	authenticator authn.Authenticator
	codec         *token.Codec
	persistence   *Persistence
	clock         clock.Clock
	logger        *slog.Logger
	sinks         []Sink
	roles         RoleResolver
	tickObserver  func(remaining time.Duration)
}

// Option configures a Machine.
type Option func(*Machine)

// WithClock overrides the machine's time source. It should match the clock
// the token codec was built with.
func WithClock(c clock.Clock) Option {
	return func(m *Machine) {
		m.clock = c
	}
}

// WithLogger sets the structured logger. If not set, a JSON logger writing
// to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Machine) {
		m.logger = logger
	}
}

// WithEventSink registers a sink for state-transition events. May be given
// multiple times.
func WithEventSink(s Sink) Option {
	return func(m *Machine) {
		m.sinks = append(m.sinks, s)
	}
}

// WithRoleResolver sets the resolver consulted at session establishment to
// attach role tags to the identity.
func WithRoleResolver(r RoleResolver) Option {
	return func(m *Machine) {
		m.roles = r
	}
}

// WithTickObserver registers a callback invoked on every monitor tick with
// the remaining session time, for UI countdown displays.
func WithTickObserver(fn func(remaining time.Duration)) Option {
	return func(m *Machine) {
		m.tickObserver = fn
	}
}

// New creates a Machine in StateUnauthenticated.
func New(cfg Config, authenticator authn.Authenticator, codec *token.Codec, persistence *Persistence, opts ...Option) (*Machine, error) {
	if authenticator == nil || codec == nil || persistence == nil {
		return nil, errors.New("authenticator, codec, and persistence are required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	m := &Machine{
		cfg:           cfg.withDefaults(),
		state:         StateUnauthenticated,
		authenticator: authenticator,
		codec:         codec,
		persistence:   persistence,
		clock:         clock.System(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	return m, nil
}

// CurrentState returns the state as of the last completed transition.
func (m *Machine) CurrentState() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// RemainingSessionTime returns how long the current session has left, or
// zero when no live session exists.
func (m *Machine) RemainingSessionTime() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated || m.identity == nil || m.identity.Token == nil {
		return 0
	}
	remaining := m.identity.Token.ExpiresAt.Sub(m.clock.Now())
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Transition applies a state change. The transition function is total:
// every state accepts every other state as a target, and behavior is
// driven entirely by side effects: entering StateAuthenticated starts the
// monitor, entering any other state stops it and purges in-memory secrets.
// This permissive design is intentional; do not add transition validation.
func (m *Machine) Transition(to State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.applyTransitionLocked(to, "host requested")
}

func (m *Machine) applyTransitionLocked(to State, reason string) {
	from := m.state
	m.state = to

	if to == StateAuthenticated {
		if m.identity != nil && m.identity.Token != nil {
			m.startMonitorLocked()
		} else {
			m.logger.Warn("entered authenticated state with no identity installed")
		}
	} else {
		m.stopMonitorLocked()
		m.purgeIdentityLocked()
	}

	if from != to {
		m.emitLocked(Event{From: from, To: to, At: m.clock.Now(), Reason: reason})
	}
}

// Authenticate runs a proof-of-identity ceremony and, on success,
// establishes a session. Ceremony failures are recoverable: the machine
// returns to StateUnauthenticated and the caller may retry.
func (m *Machine) Authenticate(ctx context.Context, method authn.Method, creds *authn.Credentials) (authn.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.applyTransitionLocked(StateAuthenticating, "authentication ceremony started")

	result, err := m.authenticator.ProveIdentity(ctx, method, creds)
	if err != nil || !result.Success {
		m.applyTransitionLocked(StateUnauthenticated, "authentication failed")
		if err == nil {
			err = authn.ErrInvalidCredentials
		}
		m.logger.Warn("authentication ceremony failed", "method", method.String(), "error", err.Error())
		return authn.Result{}, err
	}

	if err := m.establishSessionLocked(ctx, result); err != nil {
		m.applyTransitionLocked(StateUnauthenticated, "session establishment failed")
		m.logger.Error("session establishment failed", "error", err.Error())
		return authn.Result{}, fmt.Errorf("%w: %v", ErrEstablish, err)
	}
	return result, nil
}

// establishSessionLocked mints a token, persists the session, installs the
// identity, and enters StateAuthenticated. Minting a new session always
// invalidates the previous one first.
func (m *Machine) establishSessionLocked(ctx context.Context, result authn.Result) error {
	if m.identity != nil {
		m.stopMonitorLocked()
		m.purgeIdentityLocked()
	}

	tok, err := m.codec.Mint(result, m.cfg.SessionTimeout)
	if err != nil {
		return fmt.Errorf("minting session token: %w", err)
	}

	ident := &Identity{
		ID:              result.IdentityID,
		Proof:           result.Proof,
		Assurance:       result.Assurance,
		Token:           tok,
		AuthenticatedAt: m.clock.Now().UTC(),
	}
	if m.roles != nil {
		roles, err := m.roles(ctx, result.IdentityID)
		if err != nil {
			return fmt.Errorf("resolving roles: %w", err)
		}
		if len(roles) > 0 {
			ident.Roles = make(map[Role]struct{}, len(roles))
			for _, r := range roles {
				ident.Roles[r] = struct{}{}
			}
		}
	}

	if err := m.persistence.Save(tok, ident); err != nil {
		return fmt.Errorf("persisting session: %w", err)
	}

	m.identity = ident
	m.lastIntegrityCheck = m.clock.Now()
	m.applyTransitionLocked(StateAuthenticated, "authentication succeeded")
	return nil
}

// IsSessionValid reports whether the current session is live: state is
// Authenticated, the token is not expired (inclusive boundary), and the
// integrity re-check passes. An expired session reads as invalid even
// before any monitor tick has noticed.
func (m *Machine) IsSessionValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateAuthenticated || m.identity == nil || m.identity.Token == nil {
		return false
	}
	if m.identity.Token.Expired(m.clock.Now()) {
		return false
	}
	_, err := m.codec.Validate(m.identity.Token, token.Expected{
		IdentityID: m.identity.ID,
		Assurance:  m.identity.Assurance,
	})
	return err == nil
}

// InvalidateSession tears the session down: monitor stopped, in-memory
// secrets wiped, persisted material deleted, state Unauthenticated.
// It is idempotent; a second call is a no-op.
func (m *Machine) InvalidateSession() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidateLocked("session invalidated")
}

// invalidateLocked invalidates in memory first; storage cleanup is
// best-effort and never blocks the in-memory invalidation.
func (m *Machine) invalidateLocked(reason string) {
	alreadyIdle := m.state == StateUnauthenticated && m.identity == nil
	if !alreadyIdle {
		m.applyTransitionLocked(StateUnauthenticated, reason)
	}
	if err := m.persistence.Clear(); err != nil {
		m.logger.Warn("clearing persisted session failed", "error", err.Error())
	}
}

// RestoreSession attempts to re-enter StateAuthenticated from persisted
// state without a new ceremony. It returns (false, nil) when nothing is
// persisted or the persisted session has expired; any decrypt or integrity
// failure invalidates, clears storage, and returns ErrRestore. The machine
// is never left half-restored.
func (m *Machine) RestoreSession(ctx context.Context) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return false, err
	}

	tok, ident, err := m.persistence.Load()
	if err != nil {
		if errors.Is(err, ErrNoSession) {
			return false, nil
		}
		m.invalidateLocked("session restore failed")
		return false, fmt.Errorf("%w: %v", ErrRestore, err)
	}

	if _, err := m.codec.Validate(tok, token.Expected{IdentityID: ident.ID, Assurance: ident.Assurance}); err != nil {
		m.invalidateLocked("restored session failed validation")
		return false, fmt.Errorf("%w: %v", ErrRestore, err)
	}

	if tok.Expired(m.clock.Now()) {
		m.invalidateLocked("restored session already expired")
		return false, nil
	}

	ident.Token = tok
	m.identity = ident
	m.lastIntegrityCheck = m.clock.Now()
	m.applyTransitionLocked(StateAuthenticated, "session restored")
	return true, nil
}

// StartSessionTimeout starts the expiry monitor for the current session.
// It is a no-op unless the machine is authenticated.
func (m *Machine) StartSessionTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == StateAuthenticated && m.identity != nil && m.identity.Token != nil {
		m.startMonitorLocked()
	}
}

// ResetSessionTimeout restarts the countdown by minting a replacement
// token for the current identity, as if a refresh had just run.
func (m *Machine) ResetSessionTimeout() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateAuthenticated || m.identity == nil || m.identity.Token == nil {
		return
	}
	if m.identity.Token.Expired(m.clock.Now()) {
		m.expireLocked()
		return
	}
	if err := m.refreshLocked(); err != nil {
		m.logger.Warn("session timeout reset failed", "error", err.Error())
	}
}

// Suspend tells the monitor the host process is being backgrounded. Ticks
// are not trusted while suspended; Resume re-validates before anything else.
func (m *Machine) Suspend() {
	if mon := m.activeMonitor(); mon != nil {
		mon.suspend()
	}
}

// Resume runs a full re-validation of the session, expiry first, before
// the monitor resumes ticking. A session whose timeout elapsed while the
// process was suspended is invalidated here, before any other operation is
// served.
func (m *Machine) Resume() {
	if mon := m.activeMonitor(); mon != nil {
		mon.resume()
	}
}

func (m *Machine) activeMonitor() *monitor {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.monitor
}

// refreshLocked mints a replacement token for the current identity and
// re-persists. The caller must have verified the session is live.
func (m *Machine) refreshLocked() error {
	result := authn.Result{
		Success:    true,
		IdentityID: m.identity.ID,
		Proof:      m.identity.Proof,
		Assurance:  m.identity.Assurance,
		Timestamp:  m.clock.Now(),
	}

	tok, err := m.codec.Mint(result, m.cfg.SessionTimeout)
	if err != nil {
		return fmt.Errorf("minting refreshed token: %w", err)
	}
	if err := m.persistence.Save(tok, m.identity); err != nil {
		return fmt.Errorf("persisting refreshed token: %w", err)
	}

	old := m.identity.Token
	m.identity.Token = tok
	if old != nil && old.EncryptedPayload != nil {
		// Drop the superseded token's material.
		old.EncryptedPayload.Nonce = nil
		old.EncryptedPayload.Ciphertext = nil
	}

	m.logger.Info("session token refreshed", "expires_at", tok.ExpiresAt)
	m.emitLocked(Event{From: StateAuthenticated, To: StateAuthenticated, At: m.clock.Now(), Reason: "token refreshed"})
	return nil
}

func (m *Machine) expireLocked() {
	m.applyTransitionLocked(StateSessionExpired, "session timeout elapsed")
	m.invalidateLocked("session expired")
}

func (m *Machine) compromiseLocked(cause error) {
	m.logger.Error("session integrity check failed", "error", cause.Error())
	m.applyTransitionLocked(StateCompromised, "integrity check failed")
	m.invalidateLocked("session compromised")
}

// healthCheck is the monitor's entry point. gen guards against stale
// monitors: once the session that created the monitor has been purged, its
// checks are discarded. Returns ok=false when the monitor should stop.
func (m *Machine) healthCheck(gen uint64) (remaining time.Duration, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.gen != gen || m.state != StateAuthenticated || m.identity == nil || m.identity.Token == nil {
		return 0, false
	}

	now := m.clock.Now()
	tok := m.identity.Token

	// Expiry always takes precedence over refresh.
	if tok.Expired(now) {
		m.expireLocked()
		return 0, false
	}

	if now.Sub(m.lastIntegrityCheck) >= m.cfg.IntegrityInterval {
		if _, err := m.codec.Validate(tok, token.Expected{IdentityID: m.identity.ID, Assurance: m.identity.Assurance}); err != nil {
			m.compromiseLocked(err)
			return 0, false
		}
		m.lastIntegrityCheck = now
	}

	remaining = tok.ExpiresAt.Sub(now)
	if remaining <= m.cfg.RefreshThreshold {
		if err := m.refreshLocked(); err != nil {
			// The old token stays installed; expiry will catch it if
			// refresh keeps failing.
			m.logger.Warn("session refresh failed", "error", err.Error())
		} else {
			remaining = m.identity.Token.ExpiresAt.Sub(now)
		}
	}

	return remaining, true
}

// forceValidation marks the integrity check stale and runs a health check,
// used on resumption from suspension.
func (m *Machine) forceValidation(gen uint64) {
	m.mu.Lock()
	if m.gen == gen {
		m.lastIntegrityCheck = time.Time{}
	}
	m.mu.Unlock()
	m.healthCheck(gen)
}

func (m *Machine) observeTick(remaining time.Duration) {
	if m.tickObserver != nil {
		m.tickObserver(remaining)
	}
}

func (m *Machine) startMonitorLocked() {
	if m.monitor != nil {
		return
	}
	mon := newMonitor(m, m.gen, m.cfg.TickInterval)
	m.monitor = mon
	go mon.run()
}

func (m *Machine) stopMonitorLocked() {
	if m.monitor != nil {
		m.monitor.stop()
		m.monitor = nil
	}
}

// purgeIdentityLocked wipes in-memory secrets and advances the session
// generation so any in-flight monitor work against the old session is
// discarded when it lands.
func (m *Machine) purgeIdentityLocked() {
	if m.identity != nil {
		m.identity.wipe()
		m.identity = nil
		m.gen++
	}
}

func (m *Machine) emitLocked(event Event) {
	for _, s := range m.sinks {
		s.Emit(event)
	}
}
