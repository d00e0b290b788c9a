package vault

import (
	"errors"
	"testing"

	"github.com/99designs/keyring"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// failingKeyring fails every call with err.
type failingKeyring struct {
	keyring.Keyring
	err error
}

func (f failingKeyring) Get(string) (keyring.Item, error) { return keyring.Item{}, f.err }
func (f failingKeyring) Set(keyring.Item) error { return f.err }
func (f failingKeyring) Remove(string) error { return f.err }

func TestKeyringStoreLabels(t *testing.T) {
	ring := keyring.NewArrayKeyring(nil)
	s := NewKeyringStore(ring, "sessionvault session")

	require.NoError(t, s.Write("svc_p_0", []byte("chunk")))

	item, err := ring.Get("svc_p_0")
	require.NoError(t, err)
	assert.Equal(t, "chunk", string(item.Data))
	assert.Equal(t, "sessionvault session (svc_p_0)", item.Label)
}

func TestKeyringStoreErrors(t *testing.T) {
	denied := errors.New("access denied")
	s := NewKeyringStore(failingKeyring{err: denied}, "")

	err := s.Write("k", []byte("v"))
	assert.ErrorIs(t, err, denied)
	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "keyring", se.Backend)

	_, err = s.Read("k")
	assert.ErrorIs(t, err, denied)
	assert.False(t, IsNotFound(err))

	assert.ErrorIs(t, s.Delete("k"), denied)
}

func TestKeyringStoreNotFound(t *testing.T) {
	s := NewKeyringStore(failingKeyring{err: keyring.ErrKeyNotFound}, "")

	_, err := s.Read("k")
	assert.Equal(t, ErrNotFound, err)
	assert.NoError(t, s.Delete("k"))
}

func TestParseBackendType(t *testing.T) {
	bt, err := parseBackendType("wincred")
	require.NoError(t, err)
	assert.Equal(t, keyring.WinCredBackend, bt)

	_, err = parseBackendType("floppy")
	assert.Error(t, err)
}

func TestOpenKeyringRequiresServiceName(t *testing.T) {
	_, err := OpenKeyring(KeyringConfig{})
	assert.Error(t, err)
}

func TestOpenKeyringFileBackend(t *testing.T) {
	s, err := OpenKeyring(KeyringConfig{
		ServiceName: "sessionvault-test",
		Backends:    []string{"file"},
		FileDir:     t.TempDir(),
		Passphrase:  "test-passphrase",
	})
	require.NoError(t, err)

	require.NoError(t, s.Write("svc_p_n", []byte("2")))
	got, err := s.Read("svc_p_n")
	require.NoError(t, err)
	assert.Equal(t, "2", string(got))
	require.NoError(t, s.Delete("svc_p_n"))
	_, err = s.Read("svc_p_n")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, s.Delete("svc_p_n"))
}
