package vault

import (
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/forest6511/sessionvault/pkg/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLitePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "vault.db")

	s, err := OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Write("svc_p_n", []byte("1")))
	require.NoError(t, s.Close())
	require.NoError(t, s.Close(), "second Close is a no-op")

	s, err = OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	defer s.Close()
	got, err := s.Read("svc_p_n")
	require.NoError(t, err)
	assert.Equal(t, "1", string(got))

	if runtime.GOOS != "windows" {
		info, err := os.Stat(path)
		require.NoError(t, err)
		assert.Equal(t, os.FileMode(FileMode), info.Mode().Perm())
	}
}

func TestSQLiteSealed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")

	s, err := OpenSQLite(SQLiteConfig{Path: path, Passphrase: "hunter2"})
	require.NoError(t, err)
	assert.True(t, s.Sealed())
	require.NoError(t, s.Write("svc_p_0", []byte("chunk")))
	require.NoError(t, s.Close())

	t.Run("wrong passphrase", func(t *testing.T) {
		_, err := OpenSQLite(SQLiteConfig{Path: path, Passphrase: "hunter3"})
		assert.ErrorIs(t, err, ErrPassphraseMismatch)
	})

	t.Run("passphrase required", func(t *testing.T) {
		_, err := OpenSQLite(SQLiteConfig{Path: path})
		assert.ErrorIs(t, err, ErrPassphraseRequired)
	})

	t.Run("values are not stored in the clear", func(t *testing.T) {
		db, err := sql.Open("sqlite", path)
		require.NoError(t, err)
		defer db.Close()
		var raw []byte
		require.NoError(t, db.QueryRow(`SELECT value FROM entries WHERE key = 'svc_p_0'`).Scan(&raw))
		assert.NotContains(t, string(raw), "chunk")
	})

	t.Run("reopen with passphrase", func(t *testing.T) {
		s, err := OpenSQLite(SQLiteConfig{Path: path, Passphrase: "hunter2"})
		require.NoError(t, err)
		defer s.Close()
		got, err := s.Read("svc_p_0")
		require.NoError(t, err)
		assert.Equal(t, "chunk", string(got))
	})
}

func TestSQLiteSealedRejectsMovedRecord(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	s, err := OpenSQLite(SQLiteConfig{Path: path, Passphrase: "hunter2"})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Write("svc_p_0", []byte("zero")))

	// Copy the sealed bytes of chunk 0 under chunk 1.
	_, err = s.db.Exec(`INSERT INTO entries(key, value, updated_at)
		SELECT 'svc_p_1', value, updated_at FROM entries WHERE key = 'svc_p_0'`)
	require.NoError(t, err)

	_, err = s.Read("svc_p_1")
	require.Error(t, err)
	assert.ErrorIs(t, err, crypto.ErrOpenFailed)
	assert.False(t, IsNotFound(err))
}

func TestSQLiteClosed(t *testing.T) {
	s, err := OpenSQLite(SQLiteConfig{Path: filepath.Join(t.TempDir(), "vault.db")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	err = s.Write("k", []byte("v"))
	assert.ErrorIs(t, err, ErrClosed)
	var se *StoreError
	assert.True(t, errors.As(err, &se))

	_, err = s.Read("k")
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.Delete("k"), ErrClosed)
}

func TestOpenSQLiteRequiresPath(t *testing.T) {
	_, err := OpenSQLite(SQLiteConfig{})
	assert.Error(t, err)
}

func TestSQLiteCannotSealPopulatedVault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")
	s, err := OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	require.NoError(t, s.Write("svc_p_n", []byte("1")))
	require.NoError(t, s.Close())

	_, err = OpenSQLite(SQLiteConfig{Path: path, Passphrase: "hunter2"})
	assert.ErrorIs(t, err, ErrUnsealedVault)
}

func TestSQLiteSchemaVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vault.db")

	db, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	version, err := getSchemaVersion(db)
	require.NoError(t, err)
	assert.Equal(t, 0, version, "fresh database has no schema")
	require.NoError(t, db.Close())

	s, err := OpenSQLite(SQLiteConfig{Path: path})
	require.NoError(t, err)
	version, err = getSchemaVersion(s.db)
	require.NoError(t, err)
	assert.Equal(t, CurrentSchemaVersion, version)

	// Migrating again is a no-op.
	require.NoError(t, migrateSchema(s.db))

	_, err = s.db.Exec(`INSERT INTO schema_version (version) VALUES (?)`, CurrentSchemaVersion+1)
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = OpenSQLite(SQLiteConfig{Path: path})
	assert.ErrorIs(t, err, ErrSchemaTooNew)
}
