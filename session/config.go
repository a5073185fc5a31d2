package session

import (
	"fmt"
	"time"

	"github.com/wealthwise/sessionguard/keystore"
)

// Default timing values. The session timeout and refresh threshold follow
// the host application's security posture; the tick interval drives the
// UI-facing countdown.
const (
	DefaultSessionTimeout    = 30 * time.Minute
	DefaultRefreshThreshold  = 5 * time.Minute
	DefaultTickInterval      = time.Second
	DefaultIntegrityInterval = 5 * time.Second
	DefaultNamespace         = "sessionguard"
)

// Config carries the tunable parameters of the session core. Zero fields
// take their defaults; construct with DefaultConfig and override.
type Config struct {
	// Namespace is the application identifier bound into the token
	// integrity hash and all storage AADs. It must match the namespace the
	// token codec and persistence were built with.
	Namespace string
	// SessionTimeout is the lifetime of a freshly minted session token.
	SessionTimeout time.Duration
	// RefreshThreshold is the remaining-time cutoff below which the
	// monitor proactively mints a replacement token.
	RefreshThreshold time.Duration
	// TickInterval is the monitor's countdown cadence.
	TickInterval time.Duration
	// IntegrityInterval is how often the monitor re-validates the token.
	IntegrityInterval time.Duration
	// KeyPolicy is applied when session keys are first generated.
	KeyPolicy keystore.Policy
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		Namespace:         DefaultNamespace,
		SessionTimeout:    DefaultSessionTimeout,
		RefreshThreshold:  DefaultRefreshThreshold,
		TickInterval:      DefaultTickInterval,
		IntegrityInterval: DefaultIntegrityInterval,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Namespace == "" {
		c.Namespace = d.Namespace
	}
	if c.SessionTimeout == 0 {
		c.SessionTimeout = d.SessionTimeout
	}
	if c.RefreshThreshold == 0 {
		c.RefreshThreshold = d.RefreshThreshold
	}
	if c.TickInterval == 0 {
		c.TickInterval = d.TickInterval
	}
	if c.IntegrityInterval == 0 {
		c.IntegrityInterval = d.IntegrityInterval
	}
	return c
}

// Validate checks the configuration for internally inconsistent values.
func (c Config) Validate() error {
	c = c.withDefaults()
	if c.SessionTimeout <= 0 {
		return fmt.Errorf("session timeout must be positive")
	}
	if c.RefreshThreshold < 0 || c.RefreshThreshold >= c.SessionTimeout {
		return fmt.Errorf("refresh threshold must be shorter than the session timeout")
	}
	if c.TickInterval <= 0 || c.IntegrityInterval <= 0 {
		return fmt.Errorf("monitor intervals must be positive")
	}
	return nil
}
