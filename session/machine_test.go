package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wealthwise/sessionguard/authn"
	"github.com/wealthwise/sessionguard/clock"
	sgcrypto "github.com/wealthwise/sessionguard/crypto"
	"github.com/wealthwise/sessionguard/keystore"
	"github.com/wealthwise/sessionguard/storage"
	"github.com/wealthwise/sessionguard/storage/memory"
	"github.com/wealthwise/sessionguard/token"
)

type staticDevice string

func (d staticDevice) CurrentDeviceID() (string, error) {
	return string(d), nil
}

type testStack struct {
	machine *Machine
	mock    *clock.Mock
	repo    *memory.Repository
	keys    *keystore.MemoryStore
	codec   *token.Codec
	persist *Persistence
	events  *ChannelSink
}

// quietConfig keeps the monitor out of the way: a huge tick interval and a
// tiny refresh threshold, so tests drive time purely through the mock clock.
func quietConfig() Config {
	return Config{
		Namespace:         "testapp",
		SessionTimeout:    30 * time.Minute,
		RefreshThreshold:  time.Millisecond,
		TickInterval:      time.Hour,
		IntegrityInterval: time.Hour,
	}
}

func newTestStack(t *testing.T, cfg Config, authenticator authn.Authenticator, opts ...Option) *testStack {
	t.Helper()

	mock := clock.NewMock(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	repo := memory.NewRepository()
	keys := keystore.NewMemoryStore()
	enc := sgcrypto.AESGCM{}

	codec := token.NewCodec(keys, enc, staticDevice("device-1"), cfg.Namespace, token.WithClock(mock))
	persist := NewPersistence(repo, keys, enc, cfg.Namespace)
	events := NewChannelSink(64)

	opts = append([]Option{WithClock(mock), WithEventSink(events)}, opts...)
	machine, err := New(cfg, authenticator, codec, persist, opts...)
	require.NoError(t, err)
	t.Cleanup(machine.InvalidateSession)

	return &testStack{
		machine: machine,
		mock:    mock,
		repo:    repo,
		keys:    keys,
		codec:   codec,
		persist: persist,
		events:  events,
	}
}

func successAuthenticator() authn.Static {
	return authn.Static{Result: authn.Result{
		Success:    true,
		IdentityID: "user-1",
		Assurance:  authn.AssuranceHigh,
	}}
}

func authenticate(t *testing.T, s *testStack) authn.Result {
	t.Helper()
	result, err := s.machine.Authenticate(context.Background(), authn.MethodBiometric, nil)
	require.NoError(t, err)
	return result
}

func (s *testStack) drainEvents() []Event {
	var out []Event
	for {
		select {
		case e := <-s.events.Events():
			out = append(out, e)
		default:
			return out
		}
	}
}

func TestMachine_InitialState(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())
	assert.Equal(t, StateUnauthenticated, s.machine.CurrentState())
	assert.False(t, s.machine.IsSessionValid())
	assert.Equal(t, time.Duration(0), s.machine.RemainingSessionTime())
}

func TestMachine_AuthenticateSuccess(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())

	result := authenticate(t, s)
	assert.Equal(t, "user-1", result.IdentityID)

	assert.Equal(t, StateAuthenticated, s.machine.CurrentState())
	assert.True(t, s.machine.IsSessionValid())
	assert.Equal(t, 30*time.Minute, s.machine.RemainingSessionTime())

	events := s.drainEvents()
	require.Len(t, events, 2)
	assert.Equal(t, StateUnauthenticated, events[0].From)
	assert.Equal(t, StateAuthenticating, events[0].To)
	assert.Equal(t, StateAuthenticating, events[1].From)
	assert.Equal(t, StateAuthenticated, events[1].To)
}

func TestMachine_AuthenticateFailureIsRecoverable(t *testing.T) {
	fail := authn.Static{Err: authn.ErrInvalidCredentials}
	s := newTestStack(t, quietConfig(), fail)

	_, err := s.machine.Authenticate(context.Background(), authn.MethodBiometric, nil)
	assert.ErrorIs(t, err, authn.ErrInvalidCredentials)
	assert.Equal(t, StateUnauthenticated, s.machine.CurrentState())
	assert.False(t, s.machine.IsSessionValid())
}

func TestMachine_SessionValidityOverTime(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())
	authenticate(t, s)

	s.mock.Advance(29 * time.Minute)
	assert.True(t, s.machine.IsSessionValid())
	assert.Equal(t, time.Minute, s.machine.RemainingSessionTime())

	// The boundary is inclusive: invalid at exactly the timeout.
	s.mock.Advance(time.Minute)
	assert.False(t, s.machine.IsSessionValid())
	assert.Equal(t, time.Duration(0), s.machine.RemainingSessionTime())
}

func TestMachine_InvalidateIsIdempotent(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())
	authenticate(t, s)

	s.machine.InvalidateSession()
	assert.Equal(t, StateUnauthenticated, s.machine.CurrentState())
	assert.False(t, s.machine.IsSessionValid())

	_, _, err := s.persist.Load()
	assert.ErrorIs(t, err, ErrNoSession)

	s.drainEvents()
	s.machine.InvalidateSession()
	assert.Empty(t, s.drainEvents())
}

func TestMachine_ReauthenticationReplacesSession(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())
	authenticate(t, s)

	s.mock.Advance(10 * time.Minute)
	authenticate(t, s)

	assert.Equal(t, 30*time.Minute, s.machine.RemainingSessionTime())
	assert.True(t, s.machine.IsSessionValid())
}

func TestMachine_RestoreSession(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())
	authenticate(t, s)

	// A fresh machine over the same storage restores without a ceremony.
	restored, err := New(quietConfig(), successAuthenticator(), s.codec, s.persist, WithClock(s.mock))
	require.NoError(t, err)
	t.Cleanup(restored.InvalidateSession)

	ok, err := restored.RestoreSession(context.Background())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, StateAuthenticated, restored.CurrentState())
	assert.True(t, restored.IsSessionValid())
	assert.Equal(t, 30*time.Minute, restored.RemainingSessionTime())
}

func TestMachine_RestoreSession_NothingPersisted(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())

	ok, err := s.machine.RestoreSession(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateUnauthenticated, s.machine.CurrentState())
}

func TestMachine_RestoreSession_Expired(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())
	authenticate(t, s)

	restored, err := New(quietConfig(), successAuthenticator(), s.codec, s.persist, WithClock(s.mock))
	require.NoError(t, err)

	s.mock.Advance(31 * time.Minute)
	ok, err := restored.RestoreSession(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, StateUnauthenticated, restored.CurrentState())

	// The stale persisted session was cleaned up.
	_, _, err = s.persist.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestMachine_RestoreSession_Tampered(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())
	authenticate(t, s)

	env, err := s.repo.Get("testapp", storage.RecordSessionToken, "current")
	require.NoError(t, err)
	env.Ciphertext[0] ^= 0x01
	require.NoError(t, s.repo.Put("testapp", storage.RecordSessionToken, "current", env))

	restored, err := New(quietConfig(), successAuthenticator(), s.codec, s.persist, WithClock(s.mock))
	require.NoError(t, err)

	_, err = restored.RestoreSession(context.Background())
	assert.ErrorIs(t, err, ErrRestore)
	assert.Equal(t, StateUnauthenticated, restored.CurrentState())

	_, _, err = s.persist.Load()
	assert.ErrorIs(t, err, ErrNoSession)
}

func TestMachine_ResetSessionTimeout(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())
	authenticate(t, s)

	s.mock.Advance(20 * time.Minute)
	assert.Equal(t, 10*time.Minute, s.machine.RemainingSessionTime())

	s.machine.ResetSessionTimeout()
	assert.Equal(t, 30*time.Minute, s.machine.RemainingSessionTime())
	assert.True(t, s.machine.IsSessionValid())
}

func TestMachine_ResetSessionTimeout_AfterExpiry(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())
	authenticate(t, s)

	s.mock.Advance(31 * time.Minute)
	s.machine.ResetSessionTimeout()

	assert.Equal(t, StateUnauthenticated, s.machine.CurrentState())
	assert.False(t, s.machine.IsSessionValid())
}

func TestMachine_TransitionToLockedPurgesSession(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())
	authenticate(t, s)

	s.machine.Transition(StateLocked)
	assert.Equal(t, StateLocked, s.machine.CurrentState())
	assert.False(t, s.machine.IsSessionValid())
	assert.Equal(t, time.Duration(0), s.machine.RemainingSessionTime())
}

func TestMachine_RoleResolver(t *testing.T) {
	resolver := func(ctx context.Context, identityID string) ([]Role, error) {
		return []Role{"account-holder", "advisor"}, nil
	}
	s := newTestStack(t, quietConfig(), successAuthenticator(), WithRoleResolver(resolver))
	authenticate(t, s)

	s.machine.mu.Lock()
	defer s.machine.mu.Unlock()
	require.NotNil(t, s.machine.identity)
	assert.True(t, s.machine.identity.HasRole("account-holder"))
	assert.True(t, s.machine.identity.HasRole("advisor"))
	assert.False(t, s.machine.identity.HasRole("auditor"))
}

func TestMachine_RoleResolverFailureAbortsEstablishment(t *testing.T) {
	resolver := func(ctx context.Context, identityID string) ([]Role, error) {
		return nil, errors.New("directory unavailable")
	}
	s := newTestStack(t, quietConfig(), successAuthenticator(), WithRoleResolver(resolver))

	_, err := s.machine.Authenticate(context.Background(), authn.MethodBiometric, nil)
	assert.ErrorIs(t, err, ErrEstablish)
	assert.Equal(t, StateUnauthenticated, s.machine.CurrentState())
}

func TestMachine_ConcurrentAuthenticate(t *testing.T) {
	s := newTestStack(t, quietConfig(), successAuthenticator())

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.machine.Authenticate(context.Background(), authn.MethodBiometric, nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, StateAuthenticated, s.machine.CurrentState())
	assert.True(t, s.machine.IsSessionValid())
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, DefaultConfig().Validate())

	bad := DefaultConfig()
	bad.RefreshThreshold = bad.SessionTimeout
	assert.Error(t, bad.Validate())

	bad = DefaultConfig()
	bad.SessionTimeout = -time.Minute
	assert.Error(t, bad.Validate())
}
