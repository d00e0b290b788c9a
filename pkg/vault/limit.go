package vault

import "fmt"

// limitStore rejects records larger than max bytes before they reach the backend.
type limitStore struct {
	Store
	max int
}

// Limit wraps s so that writes larger than max bytes fail with ErrEntryTooLarge.
// A non-positive max returns s unchanged.
func Limit(s Store, max int) Store {
	if max <= 0 {
		return s
	}
	return &limitStore{Store: s, max: max}
}

func (l *limitStore) Write(key string, value []byte) error {
	if len(value) > l.max {
		return &StoreError{
			Backend: "limit",
			Op:      "write",
			Key:     key,
			Err:     fmt.Errorf("%w: %d bytes (max %d)", ErrEntryTooLarge, len(value), l.max),
		}
	}
	return l.Store.Write(key, value)
}
