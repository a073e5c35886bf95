package history

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/ragchat/internal/rag"
)

func openTestStore(t *testing.T, maxTurns int) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "data", "history.db"), maxTurns)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_AppendRecent(t *testing.T) {
	s := openTestStore(t, 3)

	turns, err := s.Recent("alice", 5)
	require.NoError(t, err)
	assert.Empty(t, turns)

	for i := 0; i < 5; i++ {
		require.NoError(t, s.Append("alice", rag.Turn{Query: fmt.Sprintf("q%d", i), Response: "r"}))
	}
	require.NoError(t, s.Append("bob", rag.Turn{Query: "bq"}))

	turns, err = s.Recent("alice", 10)
	require.NoError(t, err)
	require.Len(t, turns, 3, "capped at max turns")
	assert.Equal(t, "q2", turns[0].Query)
	assert.Equal(t, "q4", turns[2].Query)
	assert.False(t, turns[0].At.IsZero())

	turns, err = s.Recent("alice", 1)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "q4", turns[0].Query)

	turns, err = s.Recent("alice", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)

	bob, err := s.Recent("bob", 10)
	require.NoError(t, err)
	assert.Len(t, bob, 1)
}

func TestStore_Clear(t *testing.T) {
	s := openTestStore(t, 0)
	require.NoError(t, s.Append("alice", rag.Turn{Query: "q"}))
	require.NoError(t, s.Clear("alice"))

	turns, err := s.Recent("alice", 10)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestStore_AnonymousUser(t *testing.T) {
	s, err := Open(filepath.Join(t.TempDir(), "h.db"), 3)
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Append("", rag.Turn{Query: "q", Response: "r"}))
	turns, err := s.Recent("", 5)
	require.NoError(t, err)
	require.Len(t, turns, 1)
	assert.Equal(t, "q", turns[0].Query)
}
