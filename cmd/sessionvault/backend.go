package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/forest6511/sessionvault/internal/config"
	"github.com/forest6511/sessionvault/pkg/vault"
)

var errPassphraseRequired = fmt.Errorf("passphrase required: set %s or run from a terminal", config.EnvPassphrase)

// openVault opens the configured backend. Every backend is wrapped with the
// per-entry size limit when max_entry_size is set.
func openVault(cmd *cobra.Command, cfg *config.Config, log zerolog.Logger) (vault.Store, func() error, error) {
	noop := func() error { return nil }

	var (
		store   vault.Store
		closeFn = noop
	)
	switch cfg.Backend {
	case config.BackendKeyring:
		passphrase := cfg.Passphrase
		if passphrase == "" && slices.Contains(cfg.Keyring.Backends, "file") {
			p, err := promptPassphrase(cmd, "Keyring file passphrase: ")
			if err != nil {
				return nil, nil, err
			}
			passphrase = p
		}
		label := ""
		if cfg.Keyring.Label {
			label = cfg.Service
		}
		ks, err := vault.OpenKeyring(vault.KeyringConfig{
			ServiceName: cfg.Service,
			Backends:    cfg.Keyring.Backends,
			FileDir:     cfg.Keyring.FileDir,
			Passphrase:  passphrase,
			Label:       label,
		})
		if err != nil {
			return nil, nil, err
		}
		store = ks

	case config.BackendSQLite:
		passphrase := ""
		if cfg.SQLite.Encrypt {
			passphrase = cfg.Passphrase
			if passphrase == "" {
				p, err := promptPassphrase(cmd, "Vault passphrase: ")
				if err != nil {
					return nil, nil, err
				}
				passphrase = p
			}
		}
		ss, err := vault.OpenSQLite(vault.SQLiteConfig{Path: cfg.SQLite.Path, Passphrase: passphrase})
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = ss, ss.Close

	case config.BackendRedis:
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			DB:       cfg.Redis.DB,
			Password: cfg.Redis.Password,
		})
		timeout := cfg.Redis.Timeout
		if timeout <= 0 {
			timeout = vault.DefaultRedisTimeout
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rdb.Close()
			return nil, nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Redis.Addr, err)
		}
		store = vault.NewRedisStore(rdb, vault.RedisConfig{Prefix: cfg.Redis.Prefix, OpTimeout: timeout})
		closeFn = rdb.Close

	case config.BackendMemory:
		log.Warn().Msg("memory backend does not persist across invocations")
		store = vault.NewMemoryStore()

	default:
		return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
	}

	log.Debug().Str("backend", cfg.Backend).Int("max_entry_size", cfg.MaxEntrySize).Msg("vault opened")
	return vault.Limit(store, cfg.MaxEntrySize), closeFn, nil
}

// promptPassphrase reads a passphrase without echo. It fails when stdin is
// not a terminal.
func promptPassphrase(cmd *cobra.Command, prompt string) (string, error) {
	f, ok := cmd.InOrStdin().(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return "", errPassphraseRequired
	}
	fmt.Fprint(cmd.ErrOrStderr(), prompt)
	p, err := term.ReadPassword(int(f.Fd()))
	fmt.Fprintln(cmd.ErrOrStderr())
	if err != nil {
		return "", fmt.Errorf("failed to read passphrase: %w", err)
	}
	if len(p) == 0 {
		return "", errPassphraseRequired
	}
	return string(p), nil
}

// readPayload reads the session payload from path, or from stdin when path is
// empty. A terminal on stdin is prompted without echo.
func readPayload(cmd *cobra.Command, path string) ([]byte, error) {
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		return data, nil
	}

	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		fmt.Fprint(cmd.ErrOrStderr(), "Enter session payload: ")
		data, err := term.ReadPassword(int(f.Fd()))
		fmt.Fprintln(cmd.ErrOrStderr())
		if err != nil {
			return nil, fmt.Errorf("failed to read payload: %w", err)
		}
		return data, nil
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return nil, fmt.Errorf("failed to read payload from stdin: %w", err)
	}
	if len(data) == 0 {
		return nil, errors.New("empty payload on stdin")
	}
	return data, nil
}
