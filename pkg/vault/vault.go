// Package vault provides the small keyed record store that session state is
// persisted into. A Store writes, reads, and deletes short opaque records; a
// missing record is reported with ErrNotFound and is never a StoreError.
//
// Backends are provided for the platform keyring, a single-file SQLite vault,
// Redis, and process memory.
package vault

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// Constants
const (
	// CountSuffix is the record suffix reserved for the chunk count.
	CountSuffix = "n"

	// KeySeparator joins the key components.
	KeySeparator = "_"

	// MaxKeyLength bounds the full record name. WinCred target names are
	// limited to 32767 characters but most backends are far stricter in practice.
	MaxKeyLength = 256

	// WinCredMaxBlob is the largest credential blob Windows Credential Manager accepts.
	WinCredMaxBlob = 2560
)

// Errors
var (
	ErrNotFound      = errors.New("vault: entry not found")
	ErrEntryTooLarge = errors.New("vault: entry exceeds backend size limit")
	ErrKeyInvalid    = errors.New("vault: key contains invalid characters")
	ErrKeyEmpty      = errors.New("vault: key component is empty")
	ErrKeyTooLong    = errors.New("vault: key too long")
	ErrClosed        = errors.New("vault: store is closed")
)

// Store is a keyed record store. Implementations are synchronous and do not
// retry. Delete of a missing key succeeds.
type Store interface {
	// Write stores value under key, replacing any existing record.
	Write(key string, value []byte) error

	// Read returns the record stored under key.
	// Returns ErrNotFound if the record does not exist.
	Read(key string) ([]byte, error)

	// Delete removes the record stored under key.
	// Returns nil if the record does not exist.
	Delete(key string) error
}

// StoreError reports a backend failure other than absence.
type StoreError struct {
	Backend string // keyring | sqlite | redis | memory | limit
	Op      string // write | read | delete
	Key     string
	Err     error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("vault: %s %s %q: %v", e.Backend, e.Op, e.Key, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err marks an absent record.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

func storeErr(backend, op, key string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	var se *StoreError
	if errors.As(err, &se) {
		return err
	}
	return &StoreError{Backend: backend, Op: op, Key: key, Err: err}
}

// Key identifies the records of one logical secret: {service}_{purpose}_{suffix}.
type Key struct {
	Service string
	Purpose string
}

// NewKey returns a normalized, validated key.
func NewKey(service, purpose string) (Key, error) {
	k := Key{Service: service, Purpose: purpose}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k.normalized(), nil
}

func (k Key) normalized() Key {
	return Key{
		Service: norm.NFC.String(strings.TrimSpace(k.Service)),
		Purpose: norm.NFC.String(strings.TrimSpace(k.Purpose)),
	}
}

// Validate checks that both components are present and printable.
func (k Key) Validate() error {
	n := k.normalized()
	for _, part := range []string{n.Service, n.Purpose} {
		if part == "" {
			return ErrKeyEmpty
		}
		for _, r := range part {
			if unicode.IsControl(r) || r == unicode.ReplacementChar {
				return ErrKeyInvalid
			}
		}
	}
	// Longest suffix is a chunk index; leave room for ten digits.
	if len(n.Name("0000000000")) > MaxKeyLength {
		return ErrKeyTooLong
	}
	return nil
}

// Name returns the record name for suffix.
func (k Key) Name(suffix string) string {
	return k.Service + KeySeparator + k.Purpose + KeySeparator + suffix
}

// CountName returns the name of the count record.
func (k Key) CountName() string {
	return k.Name(CountSuffix)
}

// ChunkName returns the name of chunk record i.
func (k Key) ChunkName(i int) string {
	return k.Name(strconv.Itoa(i))
}

// String implements fmt.Stringer.
func (k Key) String() string {
	return k.Service + KeySeparator + k.Purpose
}
