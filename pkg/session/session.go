// Package session persists one opaque authentication-session payload in a
// vault whose records are far smaller than the payload.
//
// The payload is encoded with pkg/codec and laid out as a count record
// followed by N ordered chunk records:
//
//	{service}_{purpose}_n   decimal chunk count N
//	{service}_{purpose}_0   first window of encoded text
//	...
//	{service}_{purpose}_N-1 last window
//
// The vault has no multi-record transactions. Save clears the previous layout,
// writes the count, then writes chunks in ascending order, and does not roll
// back on failure. Load treats a missing count or any missing chunk as "no
// session" and reports an error only when every record is present but the
// payload cannot be decoded.
//
// A Store performs no locking of its own unless WithLocker is given. Callers
// sharing one key across goroutines or processes must serialize Save, Load,
// and Clear themselves.
package session

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/forest6511/sessionvault/pkg/codec"
	"github.com/forest6511/sessionvault/pkg/vault"

	"github.com/rs/zerolog"
)

// Errors
var (
	// ErrCorrupted is returned by Load when the count and every chunk were read
	// but the reassembled payload does not decode.
	ErrCorrupted = errors.New("session: stored session is corrupted")

	ErrChunkSizeInvalid = errors.New("session: chunk size must be positive")
)

// Operation names reported in events.
const (
	OpSave    = "save"
	OpLoad    = "load"
	OpClear   = "clear"
	OpInspect = "inspect"
)

// Outcome describes how an operation ended.
type Outcome string

const (
	OutcomeSaved     Outcome = "saved"
	OutcomeLoaded    Outcome = "loaded"
	OutcomeAbsent    Outcome = "absent"
	OutcomePartial   Outcome = "partial"
	OutcomeCorrupted Outcome = "corrupted"
	OutcomeCleared   Outcome = "cleared"
	OutcomeFailed    Outcome = "failed"
)

// Event is emitted to the observer after every operation.
type Event struct {
	Op        string
	Key       vault.Key
	Count     int // chunk count written or read; 0 when unknown
	Outcome   Outcome
	Discarded int // failures swallowed by the clear step
	Err       error
}

// SaveError reports the record at which Save stopped. Records written before
// the failure are left in place.
type SaveError struct {
	Record string // "n" for the count record, otherwise the chunk index
	Count  int    // chunk count of the payload being saved
	Err    error
}

func (e *SaveError) Error() string {
	if e.Record == vault.CountSuffix {
		return fmt.Sprintf("session: failed to write chunk count %d: %v", e.Count, e.Err)
	}
	return fmt.Sprintf("session: failed to write chunk %s of %d: %v", e.Record, e.Count, e.Err)
}

func (e *SaveError) Unwrap() error {
	return e.Err
}

// Store is the session façade over one vault key.
type Store struct {
	vault     vault.Store
	key       vault.Key
	chunkSize int
	log       zerolog.Logger
	locker    sync.Locker
	observer  func(Event)
}

// Option configures a Store.
type Option func(*Store)

// WithChunkSize sets the window width of encoded text per record.
func WithChunkSize(n int) Option {
	return func(s *Store) { s.chunkSize = n }
}

// WithLogger sets the diagnostics logger. Payload bytes are never logged.
func WithLogger(l zerolog.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithLocker makes every operation hold l for its duration.
func WithLocker(l sync.Locker) Option {
	return func(s *Store) { s.locker = l }
}

// WithObserver registers fn to receive an Event after each operation.
func WithObserver(fn func(Event)) Option {
	return func(s *Store) { s.observer = fn }
}

// New returns a Store that keeps the session under key in v.
func New(v vault.Store, key vault.Key, opts ...Option) (*Store, error) {
	if v == nil {
		return nil, fmt.Errorf("session: vault store is required")
	}
	k, err := vault.NewKey(key.Service, key.Purpose)
	if err != nil {
		return nil, err
	}

	s := &Store{
		vault:     v,
		key:       k,
		chunkSize: codec.DefaultChunkSize,
		log:       zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.chunkSize <= 0 {
		return nil, ErrChunkSizeInvalid
	}
	s.log = s.log.With().Str("key", k.String()).Logger()
	return s, nil
}

// Key returns the vault key of this store.
func (s *Store) Key() vault.Key {
	return s.key
}

// ChunkSize returns the configured window width.
func (s *Store) ChunkSize() int {
	return s.chunkSize
}

func (s *Store) lock() func() {
	if s.locker == nil {
		return func() {}
	}
	s.locker.Lock()
	return s.locker.Unlock
}

func (s *Store) emit(ev Event) {
	ev.Key = s.key
	if s.observer != nil {
		s.observer(ev)
	}
}

// Save replaces the stored session with secret.
//
// Prior state is cleared first on a best-effort basis. A failure writing the
// count or any chunk aborts immediately with a *SaveError; chunks already
// written remain and Load will report them as absent.
func (s *Store) Save(secret []byte) error {
	defer s.lock()()

	discarded := s.clear()

	encoded, err := codec.Encode(secret)
	if err != nil {
		err = fmt.Errorf("session: failed to encode payload: %w", err)
		s.emit(Event{Op: OpSave, Outcome: OutcomeFailed, Discarded: discarded, Err: err})
		return err
	}
	windows := codec.Split(encoded, s.chunkSize)
	n := len(windows)

	if err := s.vault.Write(s.key.CountName(), []byte(strconv.Itoa(n))); err != nil {
		serr := &SaveError{Record: vault.CountSuffix, Count: n, Err: err}
		s.log.Error().Err(err).Int("count", n).Msg("session save failed writing count")
		s.emit(Event{Op: OpSave, Count: n, Outcome: OutcomeFailed, Discarded: discarded, Err: serr})
		return serr
	}

	for i, window := range windows {
		if err := s.vault.Write(s.key.ChunkName(i), []byte(window)); err != nil {
			serr := &SaveError{Record: strconv.Itoa(i), Count: n, Err: err}
			s.log.Error().Err(err).Int("index", i).Int("count", n).Msg("session save failed writing chunk")
			s.emit(Event{Op: OpSave, Count: n, Outcome: OutcomeFailed, Discarded: discarded, Err: serr})
			return serr
		}
	}

	s.log.Debug().Int("count", n).Int("encoded_len", len(encoded)).Msg("session saved")
	s.emit(Event{Op: OpSave, Count: n, Outcome: OutcomeSaved, Discarded: discarded})
	return nil
}

// Load returns the stored session. ok is false when no session is stored,
// including when the count record exists but a chunk is missing or
// unreadable. err is non-nil only when every record was read and the payload
// failed to decode; it matches ErrCorrupted.
func (s *Store) Load() (secret []byte, ok bool, err error) {
	defer s.lock()()

	n, present := s.readCount()
	if !present {
		s.emit(Event{Op: OpLoad, Outcome: OutcomeAbsent})
		return nil, false, nil
	}

	var encoded strings.Builder
	for i := 0; i < n; i++ {
		chunk, err := s.vault.Read(s.key.ChunkName(i))
		if err != nil {
			// A partially written or partially deleted session reads as absent.
			s.log.Warn().Err(err).Int("index", i).Int("count", n).Msg("session chunk unavailable, treating session as absent")
			s.emit(Event{Op: OpLoad, Count: n, Outcome: OutcomePartial, Err: err})
			return nil, false, nil
		}
		encoded.Write(chunk)
	}

	secret, err = codec.Decode(encoded.String())
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrCorrupted, err)
		s.log.Error().Err(err).Int("count", n).Msg("session payload failed to decode")
		s.emit(Event{Op: OpLoad, Count: n, Outcome: OutcomeCorrupted, Err: err})
		return nil, false, err
	}

	s.emit(Event{Op: OpLoad, Count: n, Outcome: OutcomeLoaded})
	return secret, true, nil
}

// Clear removes the stored session. It never fails; every discarded error is
// logged at warn level and counted in the emitted event.
func (s *Store) Clear() {
	defer s.lock()()
	discarded := s.clear()
	s.emit(Event{Op: OpClear, Outcome: OutcomeCleared, Discarded: discarded})
}

// clear deletes the count and the chunks it names, returning the number of
// failures it discarded.
func (s *Store) clear() (discarded int) {
	raw, err := s.vault.Read(s.key.CountName())
	switch {
	case err == nil:
		if n, ok := parseCount(raw); ok {
			for i := 0; i < n; i++ {
				if err := s.vault.Delete(s.key.ChunkName(i)); err != nil {
					discarded++
					s.log.Warn().Err(err).Int("index", i).Msg("session clear: chunk delete failed")
				}
			}
		}
	case vault.IsNotFound(err):
	default:
		discarded++
		s.log.Warn().Err(err).Msg("session clear: count read failed")
	}

	if err := s.vault.Delete(s.key.CountName()); err != nil {
		discarded++
		s.log.Warn().Err(err).Msg("session clear: count delete failed")
	}
	return discarded
}

// readCount returns the chunk count, or false when the session is absent.
func (s *Store) readCount() (int, bool) {
	raw, err := s.vault.Read(s.key.CountName())
	if err != nil {
		if !vault.IsNotFound(err) {
			s.log.Warn().Err(err).Msg("session count unreadable, treating session as absent")
		}
		return 0, false
	}
	n, ok := parseCount(raw)
	if !ok {
		s.log.Warn().Str("count", string(raw)).Msg("session count invalid, treating session as absent")
		return 0, false
	}
	return n, true
}

// parseCount parses decimal count text; only N > 0 names a session.
func parseCount(raw []byte) (int, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(string(raw)))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}
