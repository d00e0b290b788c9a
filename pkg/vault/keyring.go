package vault

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/99designs/keyring"
)

// KeyringConfig configures the platform keyring backend.
type KeyringConfig struct {
	ServiceName string   // keyring service / collection name
	Backends    []string // allowed backend names; empty means platform default order
	FileDir     string   // directory for the encrypted file backend
	Passphrase  string   // passphrase for the file backend, prompts are not supported
	Label       string   // optional item label prefix, shown in OS keychain UIs
}

// KeyringStore persists records as items of the platform secret service
// (Windows Credential Manager, macOS Keychain, Secret Service, KWallet, pass,
// or an encrypted file).
type KeyringStore struct {
	ring  keyring.Keyring
	label string
}

// OpenKeyring opens the platform keyring described by cfg.
func OpenKeyring(cfg KeyringConfig) (*KeyringStore, error) {
	if cfg.ServiceName == "" {
		return nil, fmt.Errorf("vault: keyring service name is required")
	}

	kc := keyring.Config{
		ServiceName:              cfg.ServiceName,
		KeychainName:             "login",
		KeychainTrustApplication: true,
		LibSecretCollectionName:  "login",
		KWalletAppID:             cfg.ServiceName,
		KWalletFolder:            cfg.ServiceName,
		WinCredPrefix:            cfg.ServiceName,
		FileDir:                  cfg.FileDir,
	}
	if cfg.Passphrase != "" {
		kc.FilePasswordFunc = keyring.FixedStringPrompt(cfg.Passphrase)
	}
	for _, name := range cfg.Backends {
		bt, err := parseBackendType(name)
		if err != nil {
			return nil, err
		}
		kc.AllowedBackends = append(kc.AllowedBackends, bt)
	}

	ring, err := keyring.Open(kc)
	if err != nil {
		return nil, fmt.Errorf("vault: failed to open keyring: %w", err)
	}
	return NewKeyringStore(ring, cfg.Label), nil
}

// NewKeyringStore wraps an already opened keyring.
func NewKeyringStore(ring keyring.Keyring, label string) *KeyringStore {
	return &KeyringStore{ring: ring, label: label}
}

// Write implements Store.
func (k *KeyringStore) Write(key string, value []byte) error {
	item := keyring.Item{
		Key:  key,
		Data: value,
	}
	// Labels only help humans browsing the keychain; they carry no meaning here.
	if k.label != "" {
		item.Label = k.label + " (" + key + ")"
		item.Description = k.label
	}
	return storeErr("keyring", "write", key, k.ring.Set(item))
}

// Read implements Store.
func (k *KeyringStore) Read(key string) ([]byte, error) {
	item, err := k.ring.Get(key)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr("keyring", "read", key, err)
	}
	return item.Data, nil
}

// Delete implements Store.
func (k *KeyringStore) Delete(key string) error {
	err := k.ring.Remove(key)
	// The file backend reports a missing item as a filesystem error.
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) && !errors.Is(err, fs.ErrNotExist) {
		return storeErr("keyring", "delete", key, err)
	}
	return nil
}

var backendNames = map[string]keyring.BackendType{
	"wincred":        keyring.WinCredBackend,
	"keychain":       keyring.KeychainBackend,
	"secret-service": keyring.SecretServiceBackend,
	"kwallet":        keyring.KWalletBackend,
	"pass":           keyring.PassBackend,
	"file":           keyring.FileBackend,
	"keyctl":         keyring.KeyCtlBackend,
}

func parseBackendType(name string) (keyring.BackendType, error) {
	bt, ok := backendNames[name]
	if !ok {
		return keyring.InvalidBackend, fmt.Errorf("vault: unknown keyring backend %q", name)
	}
	return bt, nil
}

// AvailableKeyringBackends lists the keyring backends usable on this platform.
func AvailableKeyringBackends() []string {
	var names []string
	for _, bt := range keyring.AvailableBackends() {
		names = append(names, string(bt))
	}
	return names
}
