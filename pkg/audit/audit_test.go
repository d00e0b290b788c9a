package audit

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/forest6511/sessionvault/pkg/session"
	"github.com/forest6511/sessionvault/pkg/vault"
)

var testKey = vault.Key{Service: "svc", Purpose: "github-session"}

func openJournal(t *testing.T) (*Journal, string) {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "audit")
	j, err := Open(dir)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	return j, dir
}

func readEvents(t *testing.T, dir string) []Event {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	if err != nil {
		t.Fatalf("failed to list log files: %v", err)
	}
	var events []Event
	for _, f := range files {
		got, err := readLogFile(f)
		if err != nil {
			t.Fatalf("failed to read %s: %v", f, err)
		}
		events = append(events, got...)
	}
	return events
}

func TestOpenCreatesKeyFile(t *testing.T) {
	j, dir := openJournal(t)

	info, err := os.Stat(filepath.Join(dir, KeyFileName))
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if info.Size() != keyLength {
		t.Errorf("expected key file of %d bytes, got %d", keyLength, info.Size())
	}
	if perm := info.Mode().Perm(); perm != 0600 && runtime.GOOS != "windows" {
		t.Errorf("expected key file mode 0600, got %o", perm)
	}
	if j.Path() != dir {
		t.Errorf("expected path %s, got %s", dir, j.Path())
	}

	// Reopening reuses the same key.
	again, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if j.KeyHMAC("k") != again.KeyHMAC("k") {
		t.Error("expected the same HMAC key after reopen")
	}
}

func TestOpenRejectsBadKeyFile(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, KeyFileName), []byte("short"), 0600); err != nil {
		t.Fatalf("failed to write key file: %v", err)
	}
	if _, err := Open(dir); !errors.Is(err, ErrKeyFile) {
		t.Errorf("expected ErrKeyFile, got %v", err)
	}
}

func TestRecord(t *testing.T) {
	j, dir := openJournal(t)

	err := j.Record(session.Event{Op: session.OpSave, Key: testKey, Count: 3, Outcome: session.OutcomeSaved, Discarded: 1})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	events := readEvents(t, dir)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	event := events[0]
	if event.Version != 1 {
		t.Errorf("expected version 1, got %d", event.Version)
	}
	if event.Operation != OpSessionSave {
		t.Errorf("expected operation %s, got %s", OpSessionSave, event.Operation)
	}
	if event.Result != "saved" {
		t.Errorf("expected result saved, got %s", event.Result)
	}
	if event.Count != 3 || event.Discarded != 1 {
		t.Errorf("unexpected count/discarded %d/%d", event.Count, event.Discarded)
	}
	if event.KeyHMAC != j.KeyHMAC(testKey.String()) {
		t.Error("expected key HMAC of the session key")
	}
	if event.ID == "" {
		t.Error("expected non-empty ID")
	}
	if event.Chain.Sequence != 1 || event.Chain.PrevHash != "genesis" || event.Chain.HMAC == "" {
		t.Errorf("unexpected chain %+v", event.Chain)
	}
}

func TestRecordNeverWritesKeyName(t *testing.T) {
	j, dir := openJournal(t)
	if err := j.Record(session.Event{Op: session.OpLoad, Key: testKey, Outcome: session.OutcomeAbsent}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	files, _ := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	if bytes.Contains(data, []byte("github-session")) {
		t.Error("key name must not appear in the journal")
	}
}

func TestRecordError(t *testing.T) {
	j, dir := openJournal(t)
	err := j.Record(session.Event{
		Op:      session.OpSave,
		Key:     testKey,
		Outcome: session.OutcomeFailed,
		Err:     errors.New("backend unavailable"),
	})
	if err != nil {
		t.Fatalf("Record failed: %v", err)
	}
	events := readEvents(t, dir)
	if events[0].Error != "backend unavailable" {
		t.Errorf("expected error message recorded, got %q", events[0].Error)
	}
}

func TestRecordUnknownOp(t *testing.T) {
	j, _ := openJournal(t)
	if err := j.Record(session.Event{Op: "rename"}); err == nil {
		t.Error("expected error for unknown operation")
	}
}

func TestChainIntegrity(t *testing.T) {
	j, _ := openJournal(t)
	for _, op := range []string{session.OpSave, session.OpLoad, session.OpInspect, session.OpClear} {
		if err := j.Record(session.Event{Op: op, Key: testKey, Outcome: session.OutcomeCleared}); err != nil {
			t.Fatalf("Record(%s) failed: %v", op, err)
		}
	}

	result, err := j.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain, got errors: %v", result.Errors)
	}
	if result.RecordsTotal != 4 {
		t.Errorf("expected 4 records, got %d", result.RecordsTotal)
	}
}

func TestChainPersistence(t *testing.T) {
	j, dir := openJournal(t)
	if err := j.Record(session.Event{Op: session.OpSave, Key: testKey, Outcome: session.OutcomeSaved}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	reopened, err := Open(dir)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	if err := reopened.Record(session.Event{Op: session.OpLoad, Key: testKey, Outcome: session.OutcomeLoaded}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	events := readEvents(t, dir)
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[1].Chain.Sequence != 2 {
		t.Errorf("expected sequence 2, got %d", events[1].Chain.Sequence)
	}
	if events[1].Chain.PrevHash != events[0].Chain.HMAC {
		t.Error("expected second record to link to the first")
	}

	result, err := reopened.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid {
		t.Errorf("expected valid chain, got errors: %v", result.Errors)
	}
}

func TestMonthlyFiles(t *testing.T) {
	j, dir := openJournal(t)
	months := []time.Time{
		time.Date(2026, 1, 31, 23, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 1, 1, 0, 0, 0, time.UTC),
	}
	for _, m := range months {
		j.now = func() time.Time { return m }
		if err := j.Record(session.Event{Op: session.OpSave, Key: testKey, Outcome: session.OutcomeSaved}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	for _, name := range []string{"audit-2026-01.jsonl", "audit-2026-02.jsonl"} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("expected %s: %v", name, err)
		}
	}
	result, err := j.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.RecordsTotal != 2 {
		t.Errorf("expected valid chain across files, got %+v", result)
	}
}

func TestTamperingDetection(t *testing.T) {
	j, dir := openJournal(t)
	for i := 0; i < 3; i++ {
		if err := j.Record(session.Event{Op: session.OpLoad, Key: testKey, Outcome: session.OutcomeAbsent}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	files, _ := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	data, err := os.ReadFile(files[0])
	if err != nil {
		t.Fatalf("failed to read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	var event Event
	if err := json.Unmarshal([]byte(lines[1]), &event); err != nil {
		t.Fatalf("failed to parse event: %v", err)
	}
	event.Result = "loaded"
	modified, err := json.Marshal(event)
	if err != nil {
		t.Fatalf("failed to marshal event: %v", err)
	}
	lines[1] = string(modified)
	if err := os.WriteFile(files[0], []byte(strings.Join(lines, "\n")+"\n"), 0600); err != nil {
		t.Fatalf("failed to write tampered file: %v", err)
	}

	result, err := j.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Fatal("expected tampering to be detected")
	}
	if len(result.Errors) != 1 || !strings.Contains(result.Errors[0], "HMAC mismatch") {
		t.Errorf("expected one HMAC mismatch, got %v", result.Errors)
	}
}

func TestDeletedRecordDetected(t *testing.T) {
	j, dir := openJournal(t)
	for i := 0; i < 3; i++ {
		if err := j.Record(session.Event{Op: session.OpClear, Key: testKey, Outcome: session.OutcomeCleared}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	files, _ := filepath.Glob(filepath.Join(dir, "audit-*.jsonl"))
	data, _ := os.ReadFile(files[0])
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	kept := lines[0] + "\n" + lines[2] + "\n"
	if err := os.WriteFile(files[0], []byte(kept), 0600); err != nil {
		t.Fatalf("failed to write file: %v", err)
	}

	result, err := j.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if result.Valid {
		t.Error("expected removed record to break the chain")
	}
}

func TestVerifyEmptyLog(t *testing.T) {
	j, _ := openJournal(t)
	result, err := j.Verify()
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !result.Valid || result.RecordsTotal != 0 {
		t.Errorf("expected empty valid result, got %+v", result)
	}
}

func TestList(t *testing.T) {
	j, _ := openJournal(t)
	outcomes := []session.Outcome{session.OutcomeSaved, session.OutcomeLoaded, session.OutcomeCleared}
	ops := []string{session.OpSave, session.OpLoad, session.OpClear}
	for i := range ops {
		if err := j.Record(session.Event{Op: ops[i], Key: testKey, Outcome: outcomes[i]}); err != nil {
			t.Fatalf("Record failed: %v", err)
		}
	}

	all, err := j.List(0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 events, got %d", len(all))
	}

	recent, err := j.List(2)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(recent) != 2 || recent[0].Operation != OpSessionLoad || recent[1].Operation != OpSessionClear {
		t.Errorf("unexpected recent events %+v", recent)
	}
}

func TestObserverRecordsSessionOperations(t *testing.T) {
	j, _ := openJournal(t)
	var journalErrs []error
	store, err := session.New(vault.NewMemoryStore(), testKey,
		session.WithObserver(j.Observer(func(err error) { journalErrs = append(journalErrs, err) })))
	if err != nil {
		t.Fatalf("session.New failed: %v", err)
	}

	if err := store.Save([]byte(`{"token":"abc"}`)); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, ok, err := store.Load(); err != nil || !ok {
		t.Fatalf("Load failed: ok=%v err=%v", ok, err)
	}
	store.Clear()

	if len(journalErrs) != 0 {
		t.Fatalf("unexpected journal errors: %v", journalErrs)
	}
	events, err := j.List(0)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	want := []string{OpSessionSave, OpSessionLoad, OpSessionClear}
	if len(events) != len(want) {
		t.Fatalf("expected %d events, got %d", len(want), len(events))
	}
	for i, op := range want {
		if events[i].Operation != op {
			t.Errorf("event %d: expected %s, got %s", i, op, events[i].Operation)
		}
	}
	if events[0].Count < 1 {
		t.Errorf("expected save to record chunk count, got %d", events[0].Count)
	}
}
