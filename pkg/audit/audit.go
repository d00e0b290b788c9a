// Package audit records session operations in an append-only JSONL journal
// protected by an HMAC chain. Session payloads are never written; key names
// are stored only as HMACs.
package audit

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/hkdf"

	"github.com/forest6511/sessionvault/pkg/session"
)

// Disk space constants
const (
	MinAuditDiskSpace = 1024 * 1024 // 1 MB minimum for audit logs
)

// Journal files
const (
	KeyFileName   = "audit.key"
	metaFileName  = "audit.meta"
	filePrefix    = "audit-"
	fileSuffix    = ".jsonl"
	genesis       = "genesis"
	schemaVersion = 1
	keyLength     = 32
)

// Operation types recorded in the journal
const (
	OpSessionSave    = "session.save"
	OpSessionLoad    = "session.load"
	OpSessionClear   = "session.clear"
	OpSessionInspect = "session.inspect"
)

var opNames = map[string]string{
	session.OpSave:    OpSessionSave,
	session.OpLoad:    OpSessionLoad,
	session.OpClear:   OpSessionClear,
	session.OpInspect: OpSessionInspect,
}

// ErrKeyFile is returned when the journal key file is unusable.
var ErrKeyFile = errors.New("audit: invalid key file")

// Event is a single journal record.
type Event struct {
	Version   int    `json:"v"`
	ID        string `json:"id"`
	Timestamp string `json:"ts"` // RFC 3339 nanosecond precision

	Operation string `json:"op"`
	KeyHMAC   string `json:"key_hmac"`
	Result    string `json:"result"` // session outcome
	Count     int    `json:"count,omitempty"`
	Discarded int    `json:"discarded,omitempty"`
	Error     string `json:"error,omitempty"`

	Chain Chain `json:"chain"`
}

// Chain provides HMAC chain for tamper detection
type Chain struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
	HMAC     string `json:"hmac"`
}

type chainState struct {
	Sequence int64  `json:"seq"`
	PrevHash string `json:"prev"`
}

// Journal appends events to monthly files under one directory.
type Journal struct {
	path    string
	hmacKey []byte

	mu       sync.Mutex
	sequence int64
	prevHash string
	now      func() time.Time
}

// Open opens the journal in dir, creating the directory and a random key file
// on first use.
func Open(dir string) (*Journal, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("audit: failed to create directory: %w", err)
	}
	secret, err := loadOrCreateKey(filepath.Join(dir, KeyFileName))
	if err != nil {
		return nil, err
	}

	hmacKey := make([]byte, keyLength)
	if _, err := hkdf.New(sha256.New, secret, nil, []byte("sessionvault-audit-v1")).Read(hmacKey); err != nil {
		return nil, fmt.Errorf("audit: failed to derive HMAC key: %w", err)
	}

	j := &Journal{
		path:     dir,
		hmacKey:  hmacKey,
		prevHash: genesis,
		now:      time.Now,
	}
	if err := j.loadChainState(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}
	return j, nil
}

func loadOrCreateKey(path string) ([]byte, error) {
	secret, err := os.ReadFile(path)
	switch {
	case err == nil:
		if len(secret) != keyLength {
			return nil, fmt.Errorf("%w: expected %d bytes, got %d", ErrKeyFile, keyLength, len(secret))
		}
		return secret, nil
	case !errors.Is(err, fs.ErrNotExist):
		return nil, fmt.Errorf("audit: failed to read key file: %w", err)
	}

	secret = make([]byte, keyLength)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("audit: failed to generate key: %w", err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: failed to create key file: %w", err)
	}
	if _, err := f.Write(secret); err != nil {
		f.Close()
		return nil, fmt.Errorf("audit: failed to write key file: %w", err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("audit: failed to write key file: %w", err)
	}
	return secret, nil
}

// Path returns the journal directory.
func (j *Journal) Path() string {
	return j.path
}

// Record appends ev to the journal. Op must be a session operation name.
func (j *Journal) Record(ev session.Event) error {
	op, ok := opNames[ev.Op]
	if !ok {
		return fmt.Errorf("audit: unknown operation %q", ev.Op)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.checkDiskSpace(); err != nil {
		return err
	}

	now := j.now().UTC()
	event := Event{
		Version:   schemaVersion,
		ID:        uuid.NewString(),
		Timestamp: now.Format(time.RFC3339Nano),
		Operation: op,
		KeyHMAC:   j.mac([]byte(ev.Key.String())),
		Result:    string(ev.Outcome),
		Count:     ev.Count,
		Discarded: ev.Discarded,
	}
	if ev.Err != nil {
		event.Error = ev.Err.Error()
	}

	event.Chain.Sequence = j.sequence + 1
	event.Chain.PrevHash = j.prevHash
	event.Chain.HMAC = j.mac(recordData(&event))

	if err := j.writeEvent(now, &event); err != nil {
		return err
	}
	j.sequence = event.Chain.Sequence
	j.prevHash = event.Chain.HMAC
	return j.saveChainState()
}

// Observer adapts Record to session.WithObserver. Journal failures are
// passed to onErr, which may be nil.
func (j *Journal) Observer(onErr func(error)) func(session.Event) {
	return func(ev session.Event) {
		if err := j.Record(ev); err != nil && onErr != nil {
			onErr(err)
		}
	}
}

// KeyHMAC returns the HMAC under which key appears in the journal.
func (j *Journal) KeyHMAC(key string) string {
	return j.mac([]byte(key))
}

func (j *Journal) mac(data []byte) string {
	m := hmac.New(sha256.New, j.hmacKey)
	m.Write(data)
	return hex.EncodeToString(m.Sum(nil))
}

// recordData is the canonical form covered by the chain HMAC.
func recordData(e *Event) []byte {
	fields := []string{
		strconv.Itoa(e.Version),
		e.ID,
		e.Timestamp,
		e.Operation,
		e.KeyHMAC,
		e.Result,
		strconv.Itoa(e.Count),
		strconv.Itoa(e.Discarded),
		e.Error,
		strconv.FormatInt(e.Chain.Sequence, 10),
		e.Chain.PrevHash,
	}
	data, _ := json.Marshal(fields)
	return data
}

func (j *Journal) writeEvent(now time.Time, event *Event) error {
	name := filepath.Join(j.path, filePrefix+now.Format("2006-01")+fileSuffix)
	f, err := os.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("audit: failed to open log file: %w", err)
	}
	defer f.Close()

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("audit: failed to marshal event: %w", err)
	}
	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("audit: failed to write event: %w", err)
	}
	return nil
}

func (j *Journal) loadChainState() error {
	data, err := os.ReadFile(filepath.Join(j.path, metaFileName))
	if err != nil {
		return err
	}
	var state chainState
	if err := json.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("audit: failed to parse chain state: %w", err)
	}
	j.sequence = state.Sequence
	j.prevHash = state.PrevHash
	return nil
}

func (j *Journal) saveChainState() error {
	data, err := json.Marshal(chainState{Sequence: j.sequence, PrevHash: j.prevHash})
	if err != nil {
		return fmt.Errorf("audit: failed to marshal chain state: %w", err)
	}
	if err := os.WriteFile(filepath.Join(j.path, metaFileName), data, 0600); err != nil {
		return fmt.Errorf("audit: failed to save chain state: %w", err)
	}
	return nil
}

// VerifyResult contains the results of chain verification
type VerifyResult struct {
	Valid        bool     `json:"valid"`
	RecordsTotal int      `json:"records_total"`
	Errors       []string `json:"errors,omitempty"`
}

// Verify walks every journal file in order and checks sequence numbers,
// chain links, and record HMACs.
func (j *Journal) Verify() (*VerifyResult, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	events, err := j.readAll()
	if err != nil {
		return nil, err
	}

	result := &VerifyResult{Valid: true}
	expectedPrev := genesis
	var expectedSeq int64 = 1
	for _, event := range events {
		result.RecordsTotal++
		if event.Chain.Sequence != expectedSeq {
			result.Errors = append(result.Errors, fmt.Sprintf(
				"sequence gap at record %s: expected %d, got %d", event.ID, expectedSeq, event.Chain.Sequence))
		}
		if event.Chain.PrevHash != expectedPrev {
			result.Errors = append(result.Errors, fmt.Sprintf(
				"chain broken at record %s: expected prev %s, got %s", event.ID, expectedPrev, event.Chain.PrevHash))
		}
		if !hmac.Equal([]byte(event.Chain.HMAC), []byte(j.mac(recordData(&event)))) {
			result.Errors = append(result.Errors, fmt.Sprintf(
				"HMAC mismatch at record %s: possible tampering", event.ID))
		}
		expectedPrev = event.Chain.HMAC
		expectedSeq = event.Chain.Sequence + 1
	}
	result.Valid = len(result.Errors) == 0
	return result, nil
}

// List returns the most recent limit events, oldest first. limit <= 0
// returns every event.
func (j *Journal) List(limit int) ([]Event, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	events, err := j.readAll()
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(events) > limit {
		events = events[len(events)-limit:]
	}
	return events, nil
}

func (j *Journal) readAll() ([]Event, error) {
	files, err := filepath.Glob(filepath.Join(j.path, filePrefix+"*"+fileSuffix))
	if err != nil {
		return nil, fmt.Errorf("audit: failed to list log files: %w", err)
	}
	// audit-YYYY-MM.jsonl sorts chronologically
	slices.Sort(files)

	var events []Event
	for _, file := range files {
		fileEvents, err := readLogFile(file)
		if err != nil {
			return nil, fmt.Errorf("audit: failed to read %s: %w", filepath.Base(file), err)
		}
		events = append(events, fileEvents...)
	}
	return events, nil
}

func readLogFile(path string) ([]Event, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var event Event
		if err := json.Unmarshal(scanner.Bytes(), &event); err != nil {
			return nil, fmt.Errorf("failed to parse line %d: %w", line, err)
		}
		events = append(events, event)
	}
	return events, scanner.Err()
}
