package session

import (
	"strings"

	"github.com/forest6511/sessionvault/pkg/codec"
	"github.com/forest6511/sessionvault/pkg/vault"
)

// ProbeSlack is how many indices past the declared count Inspect probes for
// leftover chunks.
const ProbeSlack = 8

// State classifies the on-vault layout of a session.
type State string

const (
	StateAbsent     State = "absent"     // no usable count record
	StatePresent    State = "present"    // count and every chunk present, payload decodes
	StatePartial    State = "partial"    // count present, at least one chunk missing
	StateUnreadable State = "unreadable" // every record present, payload does not decode
)

// ChunkInfo describes one chunk record.
type ChunkInfo struct {
	Index   int
	Present bool
	Length  int
}

// Layout is a read-only view of the records that make up a session.
type Layout struct {
	Key          vault.Key
	CountPresent bool
	CountText    string
	Count        int
	Chunks       []ChunkInfo
	Stale        []int // indices at or beyond Count that still hold a record
	EncodedLen   int
	State        State
}

// Inspect reads the count record, every chunk it names, and up to ProbeSlack
// indices beyond it, without modifying anything. Absent records are reported in
// the layout; only vault failures other than absence are returned as errors.
func (s *Store) Inspect() (Layout, error) {
	defer s.lock()()

	layout := Layout{Key: s.key, State: StateAbsent}

	raw, err := s.vault.Read(s.key.CountName())
	switch {
	case err == nil:
		layout.CountPresent = true
		layout.CountText = string(raw)
		if n, ok := parseCount(raw); ok {
			layout.Count = n
		}
	case !vault.IsNotFound(err):
		s.emit(Event{Op: OpInspect, Outcome: OutcomeFailed, Err: err})
		return layout, err
	}

	var encoded strings.Builder
	missing := false
	for i := 0; i < layout.Count; i++ {
		chunk, err := s.vault.Read(s.key.ChunkName(i))
		switch {
		case err == nil:
			layout.Chunks = append(layout.Chunks, ChunkInfo{Index: i, Present: true, Length: len(chunk)})
			encoded.Write(chunk)
		case vault.IsNotFound(err):
			layout.Chunks = append(layout.Chunks, ChunkInfo{Index: i})
			missing = true
		default:
			s.emit(Event{Op: OpInspect, Count: layout.Count, Outcome: OutcomeFailed, Err: err})
			return layout, err
		}
	}
	layout.EncodedLen = encoded.Len()

	for i := layout.Count; i < layout.Count+ProbeSlack; i++ {
		_, err := s.vault.Read(s.key.ChunkName(i))
		switch {
		case err == nil:
			layout.Stale = append(layout.Stale, i)
		case !vault.IsNotFound(err):
			s.emit(Event{Op: OpInspect, Count: layout.Count, Outcome: OutcomeFailed, Err: err})
			return layout, err
		}
	}

	outcome := OutcomeAbsent
	switch {
	case layout.Count == 0:
	case missing:
		layout.State = StatePartial
		outcome = OutcomePartial
	default:
		if _, err := codec.Decode(encoded.String()); err != nil {
			layout.State = StateUnreadable
			outcome = OutcomeCorrupted
		} else {
			layout.State = StatePresent
			outcome = OutcomeLoaded
		}
	}
	s.emit(Event{Op: OpInspect, Count: layout.Count, Outcome: outcome})
	return layout, nil
}
