package vault

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/forest6511/sessionvault/pkg/crypto"

	_ "modernc.org/sqlite"
)

const (
	FileMode = 0600 // Owner read/write only
	DirMode  = 0700 // Owner read/write/execute only
)

// ErrPassphraseMismatch is returned when an existing sealed vault cannot be
// opened with the supplied passphrase.
var ErrPassphraseMismatch = errors.New("vault: passphrase does not match sealed vault")

// Sealing mode errors
var (
	ErrPassphraseRequired = errors.New("vault: vault is sealed, a passphrase is required")
	ErrUnsealedVault      = errors.New("vault: vault holds unsealed records, cannot enable sealing")
)

// SQLiteConfig configures the single-file vault.
type SQLiteConfig struct {
	Path       string // database file; parent directory is created with DirMode
	Passphrase string // when set, records are sealed with pkg/crypto
}

// SQLiteStore keeps records in a single SQLite file. When opened with a
// passphrase every value is sealed with AES-256-GCM bound to its record name.
type SQLiteStore struct {
	db     *sql.DB
	sealer *crypto.Sealer
}

// sealCheck is sealed under sealCheckName to detect a wrong passphrase at open time.
const (
	sealCheckName  = "__seal_check__"
	sealCheckValue = "sessionvault"
)

// OpenSQLite opens or creates the vault file at cfg.Path.
func OpenSQLite(cfg SQLiteConfig) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("vault: sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), DirMode); err != nil {
		return nil, fmt.Errorf("vault: failed to create vault directory: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path+"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open database: %w", err)
	}
	// A single connection keeps writes serialized within the process.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := migrateSchema(db); err != nil {
		db.Close()
		return nil, err
	}
	if err := os.Chmod(cfg.Path, FileMode); err != nil {
		db.Close()
		return nil, fmt.Errorf("vault: failed to set database permissions: %w", err)
	}
	if err := s.initSealer([]byte(cfg.Passphrase)); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// initSealer checks that the passphrase matches how the vault was created.
// A sealed vault requires the passphrase it was created with; an unsealed
// vault that already holds records cannot be switched to sealing.
func (s *SQLiteStore) initSealer(passphrase []byte) error {
	var check []byte
	err := s.db.QueryRow(`SELECT value FROM meta WHERE name = 'check'`).Scan(&check)
	sealed := err == nil
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("vault: failed to read seal check: %w", err)
	}

	if len(passphrase) == 0 {
		if sealed {
			return ErrPassphraseRequired
		}
		return nil
	}
	if !sealed {
		var n int
		if err := s.db.QueryRow(`SELECT COUNT(*) FROM entries`).Scan(&n); err != nil {
			return fmt.Errorf("vault: failed to count records: %w", err)
		}
		if n > 0 {
			return ErrUnsealedVault
		}
	}

	var salt []byte
	err = s.db.QueryRow(`SELECT value FROM meta WHERE name = 'salt'`).Scan(&salt)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		salt, err = crypto.NewSalt()
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(`INSERT INTO meta(name, value) VALUES('salt', ?)`, salt); err != nil {
			return fmt.Errorf("vault: failed to save salt: %w", err)
		}
	case err != nil:
		return fmt.Errorf("vault: failed to read salt: %w", err)
	}

	key := crypto.DeriveKey(passphrase, salt)
	defer crypto.SecureWipe(key)
	sealer, err := crypto.NewSealer(key)
	if err != nil {
		return err
	}

	if sealed {
		if _, err := sealer.Open(sealCheckName, check); err != nil {
			return ErrPassphraseMismatch
		}
	} else {
		sealedCheck, err := sealer.Seal(sealCheckName, []byte(sealCheckValue))
		if err != nil {
			return err
		}
		if _, err := s.db.Exec(`INSERT INTO meta(name, value) VALUES('check', ?)`, sealedCheck); err != nil {
			return fmt.Errorf("vault: failed to save seal check: %w", err)
		}
	}

	s.sealer = sealer
	return nil
}

// Write implements Store.
func (s *SQLiteStore) Write(key string, value []byte) error {
	if s.db == nil {
		return storeErr("sqlite", "write", key, ErrClosed)
	}
	stored := value
	if s.sealer != nil {
		sealed, err := s.sealer.Seal(key, value)
		if err != nil {
			return storeErr("sqlite", "write", key, err)
		}
		stored = sealed
	}
	_, err := s.db.Exec(
		`INSERT INTO entries(key, value, updated_at) VALUES(?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, stored, time.Now().UTC().Unix(),
	)
	return storeErr("sqlite", "write", key, err)
}

// Read implements Store.
func (s *SQLiteStore) Read(key string) ([]byte, error) {
	if s.db == nil {
		return nil, storeErr("sqlite", "read", key, ErrClosed)
	}
	var stored []byte
	err := s.db.QueryRow(`SELECT value FROM entries WHERE key = ?`, key).Scan(&stored)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, storeErr("sqlite", "read", key, err)
	}
	if s.sealer == nil {
		return stored, nil
	}
	value, err := s.sealer.Open(key, stored)
	if err != nil {
		return nil, storeErr("sqlite", "read", key, err)
	}
	return value, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(key string) error {
	if s.db == nil {
		return storeErr("sqlite", "delete", key, ErrClosed)
	}
	_, err := s.db.Exec(`DELETE FROM entries WHERE key = ?`, key)
	return storeErr("sqlite", "delete", key, err)
}

// Sealed reports whether values are sealed at rest.
func (s *SQLiteStore) Sealed() bool {
	return s.sealer != nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}
