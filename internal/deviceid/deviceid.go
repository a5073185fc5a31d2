// Package deviceid resolves a stable identifier for the machine a session
// is bound to. Hardware identifiers are preferred; when none is readable a
// random identifier is generated once and persisted alongside the
// application state.
package deviceid

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Provider resolves the current device identifier. The value is computed
// once and cached for the lifetime of the process.
type Provider struct {
	fallbackPath string

	once sync.Once
	id   string
	err  error
}

// New creates a Provider. fallbackPath names the file used to persist a
// generated identifier when no hardware identifier is available; it may be
// empty, in which case resolution fails instead of falling back.
func New(fallbackPath string) *Provider {
	return &Provider{fallbackPath: fallbackPath}
}

// CurrentDeviceID returns the device identifier.
func (p *Provider) CurrentDeviceID() (string, error) {
	p.once.Do(func() {
		p.id, p.err = p.resolve()
	})
	return p.id, p.err
}

func (p *Provider) resolve() (string, error) {
	id, err := hardwareID()
	if err == nil && id != "" {
		return id, nil
	}
	if p.fallbackPath == "" {
		return "", fmt.Errorf("resolving hardware identifier: %w", err)
	}
	return p.persistedID()
}

// persistedID reads the fallback identifier, generating and writing one on
// first use.
func (p *Provider) persistedID() (string, error) {
	data, err := os.ReadFile(p.fallbackPath)
	if err == nil {
		id := strings.TrimSpace(string(data))
		if id != "" {
			return id, nil
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading device identifier: %w", err)
	}

	id := uuid.NewString()
	if err := os.MkdirAll(filepath.Dir(p.fallbackPath), 0o700); err != nil {
		return "", fmt.Errorf("creating device identifier directory: %w", err)
	}
	if err := os.WriteFile(p.fallbackPath, []byte(id+"\n"), 0o600); err != nil {
		return "", fmt.Errorf("writing device identifier: %w", err)
	}
	return id, nil
}

func hardwareID() (string, error) {
	switch runtime.GOOS {
	case "linux":
		return linuxID()
	case "darwin":
		return darwinID()
	case "windows":
		return windowsID()
	default:
		return "", fmt.Errorf("no hardware identifier source on %s", runtime.GOOS)
	}
}

func linuxID() (string, error) {
	for _, path := range []string{
		"/sys/class/dmi/id/product_uuid",
		"/etc/machine-id",
		"/var/lib/dbus/machine-id",
	} {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		if id := strings.TrimSpace(string(data)); id != "" {
			return id, nil
		}
	}
	return "", errors.New("no machine identifier readable")
}

func darwinID() (string, error) {
	out, err := exec.Command("ioreg", "-rd1", "-c", "IOPlatformExpertDevice").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		if !strings.Contains(line, "IOPlatformUUID") {
			continue
		}
		parts := strings.Split(line, "\"")
		if len(parts) >= 4 {
			return parts[3], nil
		}
	}
	return "", errors.New("IOPlatformUUID not found")
}

func windowsID() (string, error) {
	out, err := exec.Command("wmic", "csproduct", "get", "UUID").Output()
	if err != nil {
		return "", err
	}
	for _, line := range strings.Split(string(out), "\n") {
		id := strings.TrimSpace(line)
		if id != "" && !strings.EqualFold(id, "UUID") {
			return id, nil
		}
	}
	return "", errors.New("csproduct UUID not found")
}

// Static is a fixed device identifier, useful in tests and for platforms
// where the host application supplies the identifier itself.
type Static string

func (s Static) CurrentDeviceID() (string, error) {
	if s == "" {
		return "", errors.New("empty device identifier")
	}
	return string(s), nil
}
