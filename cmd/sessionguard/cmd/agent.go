package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/wealthwise/sessionguard/authn"
	sgcrypto "github.com/wealthwise/sessionguard/crypto"
	"github.com/wealthwise/sessionguard/internal/deviceid"
	"github.com/wealthwise/sessionguard/internal/util"
	"github.com/wealthwise/sessionguard/keystore"
	"github.com/wealthwise/sessionguard/session"
	bboltstorage "github.com/wealthwise/sessionguard/storage/bbolt"
	"github.com/wealthwise/sessionguard/token"
)

var (
	listenAddr      string
	dataDir         string
	identityID      string
	sessionTimeout  time.Duration
	refreshInterval time.Duration
)

const masterSaltLen = 16

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the local session agent",
	Long: `Starts the session agent: opens the encrypted session store, attempts to
restore a persisted session, and serves the local control API.

The passphrase is read from the SESSIONGUARD_PASSPHRASE environment
variable. It both unlocks the key store's master key and enrolls the
credential the /v1/authenticate ceremony verifies against.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		passphrase := os.Getenv("SESSIONGUARD_PASSPHRASE")
		if passphrase == "" {
			return fmt.Errorf("SESSIONGUARD_PASSPHRASE is not set")
		}

		if err := os.MkdirAll(dataDir, 0o700); err != nil {
			return fmt.Errorf("failed to create data directory: %w", err)
		}

		logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

		repo, err := bboltstorage.NewRepositoryFromFile(filepath.Join(dataDir, "sessionguard.db"), nil)
		if err != nil {
			return fmt.Errorf("failed to open session storage: %w", err)
		}
		defer repo.Close()

		masterKey, err := deriveMasterKey(passphrase, filepath.Join(dataDir, "master.salt"))
		if err != nil {
			return err
		}

		cfg := session.DefaultConfig()
		if sessionTimeout > 0 {
			cfg.SessionTimeout = sessionTimeout
		}
		if refreshInterval > 0 {
			cfg.RefreshThreshold = refreshInterval
		}

		keys, err := keystore.NewPersistentStore(repo, cfg.Namespace+".keys", masterKey)
		if err != nil {
			return fmt.Errorf("failed to open key store: %w", err)
		}

		enc := sgcrypto.AESGCM{}
		device := deviceid.New(filepath.Join(dataDir, "device-id"))
		codec := token.NewCodec(keys, enc, device, cfg.Namespace)
		persist := session.NewPersistence(repo, keys, enc, cfg.Namespace)

		authenticator, err := authn.NewCredentialAuthenticator(identityID, passphrase)
		if err != nil {
			return fmt.Errorf("failed to enroll credential: %w", err)
		}

		machine, err := session.New(cfg, authenticator, codec, persist,
			session.WithLogger(logger),
			session.WithEventSink(session.NewLogSink(logger)),
		)
		if err != nil {
			return fmt.Errorf("failed to create session machine: %w", err)
		}

		restored, err := machine.RestoreSession(cmd.Context())
		switch {
		case err != nil:
			logger.Warn("persisted session rejected", "error", err.Error())
		case restored:
			logger.Info("session restored", "remaining", machine.RemainingSessionTime().String())
		default:
			logger.Info("no persisted session")
		}

		server := &http.Server{
			Addr:              listenAddr,
			Handler:           agentRouter(machine),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		logger.Info("session agent listening", "addr", listenAddr, "data", dataDir)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("shutting down", "signal", sig.String())
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			machine.InvalidateSession()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// deriveMasterKey stretches the passphrase into the key store's master key.
// The salt is generated on first run and persisted next to the database.
func deriveMasterKey(passphrase, saltPath string) ([]byte, error) {
	salt, err := os.ReadFile(saltPath)
	if errors.Is(err, os.ErrNotExist) {
		salt, err = util.RandomBytes(masterSaltLen)
		if err != nil {
			return nil, fmt.Errorf("failed to generate master salt: %w", err)
		}
		if err := os.WriteFile(saltPath, salt, 0o600); err != nil {
			return nil, fmt.Errorf("failed to write master salt: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read master salt: %w", err)
	}

	key, err := util.DeriveArgon2idKey(util.Normalize(passphrase), salt, util.DefaultArgon2idParams())
	if err != nil {
		return nil, fmt.Errorf("failed to derive master key: %w", err)
	}
	return key, nil
}

func agentRouter(machine *session.Machine) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})

	r.Get("/v1/state", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"state": machine.CurrentState().String(),
			"valid": machine.IsSessionValid(),
		})
	})

	r.Get("/v1/remaining", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"remaining_seconds": int64(machine.RemainingSessionTime().Seconds()),
		})
	})

	r.Post("/v1/authenticate", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Passphrase string `json:"passphrase"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "invalid request body"})
			return
		}
		result, err := machine.Authenticate(r.Context(), authn.MethodCredential, &authn.Credentials{Passphrase: req.Passphrase})
		if err != nil {
			status := http.StatusUnauthorized
			if !errors.Is(err, authn.ErrInvalidCredentials) {
				status = http.StatusInternalServerError
			}
			writeJSON(w, status, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"identity":  result.IdentityID,
			"assurance": result.Assurance.String(),
			"remaining": int64(machine.RemainingSessionTime().Seconds()),
		})
	})

	r.Post("/v1/refresh", func(w http.ResponseWriter, r *http.Request) {
		machine.ResetSessionTimeout()
		writeJSON(w, http.StatusOK, map[string]any{
			"state":             machine.CurrentState().String(),
			"remaining_seconds": int64(machine.RemainingSessionTime().Seconds()),
		})
	})

	r.Post("/v1/invalidate", func(w http.ResponseWriter, r *http.Request) {
		machine.InvalidateSession()
		writeJSON(w, http.StatusOK, map[string]any{"state": machine.CurrentState().String()})
	})

	r.Post("/v1/restore", func(w http.ResponseWriter, r *http.Request) {
		restored, err := machine.RestoreSession(r.Context())
		if err != nil {
			writeJSON(w, http.StatusConflict, map[string]any{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"restored": restored,
			"state":    machine.CurrentState().String(),
		})
	})

	r.Post("/v1/suspend", func(w http.ResponseWriter, r *http.Request) {
		machine.Suspend()
		writeJSON(w, http.StatusOK, map[string]any{"state": machine.CurrentState().String()})
	})

	r.Post("/v1/resume", func(w http.ResponseWriter, r *http.Request) {
		machine.Resume()
		writeJSON(w, http.StatusOK, map[string]any{
			"state": machine.CurrentState().String(),
			"valid": machine.IsSessionValid(),
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func init() {
	rootCmd.AddCommand(agentCmd)
	agentCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:7780", "Address for the local control API")
	agentCmd.Flags().StringVar(&dataDir, "data-dir", "./data", "Directory for persistent session data")
	agentCmd.Flags().StringVar(&identityID, "identity", "local-user", "Identity enrolled for credential authentication")
	agentCmd.Flags().DurationVar(&sessionTimeout, "session-timeout", 0, "Session lifetime (default 30m)")
	agentCmd.Flags().DurationVar(&refreshInterval, "refresh-threshold", 0, "Remaining time below which tokens are refreshed (default 5m)")
}
