package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/forest6511/sessionvault/internal/config"
	"github.com/forest6511/sessionvault/internal/flock"
	"github.com/forest6511/sessionvault/internal/logger"
	"github.com/forest6511/sessionvault/pkg/audit"
	"github.com/forest6511/sessionvault/pkg/session"
	"github.com/forest6511/sessionvault/pkg/vault"
)

const version = "0.1.0"

// errNoSession makes load exit with status 1 without an error message.
var errNoSession = errors.New("no session stored")

var lockFileName = strings.NewReplacer("/", "_", "\\", "_", ":", "_")

// Global flags
var (
	configPath   string
	backendFlag  string
	purposeFlag  string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:   "sessionvault",
	Short: "sessionvault stores an authentication session in the OS credential vault",
	Long: `sessionvault persists one opaque session payload (typically a JSON token
document) in a credential vault whose entries are much smaller than the payload.
The payload is compressed, base64 encoded, and split across numbered entries.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default is $SESSIONVAULT_HOME/config.yaml or ~/.sessionvault/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&backendFlag, "backend", "", "vault backend: keyring, sqlite, redis, memory")
	rootCmd.PersistentFlags().StringVar(&purposeFlag, "purpose", "", "session purpose, the second part of the vault key")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "log level (trace, debug, info, warn, error)")

	_ = rootCmd.RegisterFlagCompletionFunc("backend", func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
		return config.Backends, cobra.ShellCompDirectiveNoFileComp
	})
}

// loadConfig loads the config file and applies command-line overrides.
func loadConfig() (*config.Config, string, error) {
	path := configPath
	if path == "" {
		home, err := config.Home()
		if err != nil {
			return nil, "", err
		}
		path = filepath.Join(home, config.FileName)
	}

	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	if backendFlag != "" {
		cfg.Backend = backendFlag
	}
	if purposeFlag != "" {
		cfg.Purpose = purposeFlag
	}
	if logLevelFlag != "" {
		cfg.Log.Level = logLevelFlag
	}
	if err := cfg.Validate(); err != nil {
		return nil, "", err
	}
	return cfg, filepath.Dir(path), nil
}

// app holds everything a session command needs for one invocation.
type app struct {
	cfg     *config.Config
	log     *logger.Logger
	store   *session.Store
	journal *audit.Journal
	closers []func() error
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			zl := a.log.Zerolog()
			zl.Warn().Err(err).Msg("cleanup failed")
		}
	}
	a.log.Close()
}

// withSession opens the configured vault, takes the cross-process lock for
// the session key, and runs fn with a session store.
func withSession(cmd *cobra.Command, fn func(*app) error) error {
	cfg, stateDir, err := loadConfig()
	if err != nil {
		return err
	}

	l, err := logger.New(logger.Config{
		Level:   cfg.Log.Level,
		File:    cfg.Log.File,
		Console: true,
		Pretty:  cfg.Log.Pretty,
	})
	if err != nil {
		return err
	}
	a := &app{cfg: cfg, log: l}
	defer a.close()

	key, err := vault.NewKey(cfg.Service, cfg.Purpose)
	if err != nil {
		return err
	}

	lock := flock.New(filepath.Join(stateDir, "locks", lockFileName.Replace(key.String())+".lock"))
	if err := lock.Lock(); err != nil {
		return err
	}
	a.closers = append(a.closers, lock.Unlock)

	v, closeVault, err := openVault(cmd, cfg, a.log.Component("vault"))
	if err != nil {
		return err
	}
	a.closers = append(a.closers, closeVault)

	opts := []session.Option{
		session.WithChunkSize(cfg.ChunkSize),
		session.WithLogger(a.log.Component("session")),
	}
	if cfg.Audit.Enabled {
		a.journal, err = audit.Open(cfg.Audit.Dir)
		if err != nil {
			return err
		}
		auditLog := a.log.Component("audit")
		opts = append(opts, session.WithObserver(a.journal.Observer(func(err error) {
			auditLog.Warn().Err(err).Msg("failed to record audit event")
		})))
	}

	a.store, err = session.New(v, key, opts...)
	if err != nil {
		return err
	}
	zl := a.log.Zerolog()
	zl.Debug().
		Str("backend", cfg.Backend).
		Str("key", key.String()).
		Int("chunk_size", cfg.ChunkSize).
		Msg("session store ready")
	return fn(a)
}

// writeFile writes data with owner-only permissions.
func writeFile(path string, data []byte) error {
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return os.Chmod(path, 0600)
}
