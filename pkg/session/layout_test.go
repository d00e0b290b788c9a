package session

import (
	"errors"
	"strings"
	"testing"

	"github.com/forest6511/sessionvault/pkg/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInspect(t *testing.T) {
	t.Run("absent", func(t *testing.T) {
		s, _ := newTestStore(t)
		layout, err := s.Inspect()
		require.NoError(t, err)
		assert.Equal(t, StateAbsent, layout.State)
		assert.False(t, layout.CountPresent)
		assert.Empty(t, layout.Chunks)
	})

	t.Run("present", func(t *testing.T) {
		s, mem := newTestStore(t, WithChunkSize(100))
		require.NoError(t, s.Save(randomText(t, 1000)))
		n := readCount(t, mem)

		layout, err := s.Inspect()
		require.NoError(t, err)
		assert.Equal(t, StatePresent, layout.State)
		assert.Equal(t, n, layout.Count)
		require.Len(t, layout.Chunks, n)
		total := 0
		for i, c := range layout.Chunks {
			assert.Equal(t, i, c.Index)
			assert.True(t, c.Present)
			total += c.Length
		}
		assert.Equal(t, total, layout.EncodedLen)
		assert.Empty(t, layout.Stale)
	})

	t.Run("partial", func(t *testing.T) {
		s, mem := newTestStore(t, WithChunkSize(100))
		require.NoError(t, s.Save(randomText(t, 1000)))
		require.NoError(t, mem.Delete(testKey.ChunkName(1)))

		layout, err := s.Inspect()
		require.NoError(t, err)
		assert.Equal(t, StatePartial, layout.State)
		assert.False(t, layout.Chunks[1].Present)
	})

	t.Run("unreadable", func(t *testing.T) {
		s, mem := newTestStore(t, WithChunkSize(100))
		require.NoError(t, s.Save(randomText(t, 1000)))
		require.NoError(t, mem.Write(testKey.ChunkName(0), []byte(strings.Repeat("A", 100))))

		layout, err := s.Inspect()
		require.NoError(t, err)
		assert.Equal(t, StateUnreadable, layout.State)
	})

	t.Run("invalid count", func(t *testing.T) {
		s, mem := newTestStore(t)
		require.NoError(t, mem.Write(testKey.CountName(), []byte("many")))

		layout, err := s.Inspect()
		require.NoError(t, err)
		assert.True(t, layout.CountPresent)
		assert.Equal(t, "many", layout.CountText)
		assert.Equal(t, StateAbsent, layout.State)
	})

	t.Run("stale chunks beyond count", func(t *testing.T) {
		s, mem := newTestStore(t)
		require.NoError(t, s.Save([]byte("one chunk")))
		require.NoError(t, mem.Write(testKey.ChunkName(3), []byte("left over")))

		layout, err := s.Inspect()
		require.NoError(t, err)
		assert.Equal(t, StatePresent, layout.State)
		assert.Equal(t, []int{3}, layout.Stale)
	})

	t.Run("vault failure", func(t *testing.T) {
		s, mem := newTestStore(t)
		mem.FailWith(func(op, key string) error { return errors.New("locked") })

		_, err := s.Inspect()
		require.Error(t, err)
		var se *vault.StoreError
		assert.True(t, errors.As(err, &se))
	})
}

func TestInspectDoesNotModify(t *testing.T) {
	s, mem := newTestStore(t, WithChunkSize(100))
	require.NoError(t, s.Save(randomText(t, 700)))
	before := mem.Keys()
	writes := len(mem.WriteLog())

	_, err := s.Inspect()
	require.NoError(t, err)
	assert.Equal(t, before, mem.Keys())
	assert.Len(t, mem.WriteLog(), writes)
}
