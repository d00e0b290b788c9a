package session

import (
	"encoding/json"
	"fmt"
)

// SaveJSON marshals v and saves it as the session payload.
func (s *Store) SaveJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("session: failed to marshal session document: %w", err)
	}
	return s.Save(data)
}

// LoadJSON loads the session payload into v. It returns false with a nil
// error when no session is stored. A payload that decodes but is not valid
// JSON for v is reported as ErrCorrupted.
func (s *Store) LoadJSON(v any) (bool, error) {
	data, ok, err := s.Load()
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, fmt.Errorf("%w: %w", ErrCorrupted, err)
	}
	return true, nil
}
