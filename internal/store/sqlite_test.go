package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekailabs/sekai-memory/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestSQLite_AddAndQuery(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	rec, outcome, err := s.Add(ctx, icRecord([]string{"dimitri", "byleth"}, "contact", "exchanged_numbers",
		"Dimitri and Byleth exchanged numbers", 2), 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.Equal(t, 1, rec.Version)

	at2, err := s.MemoriesAt(ctx, 2)
	require.NoError(t, err)
	require.Len(t, at2, 1)
	assert.Equal(t, rec.ID, at2[0].ID)
	assert.Equal(t, []string{"dimitri", "byleth"}, at2[0].Subjects)

	at1, err := s.MemoriesAt(ctx, 1)
	require.NoError(t, err)
	assert.Empty(t, at1)
}

func TestSQLite_IdempotentUpsert(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	rec := icRecord([]string{"dimitri", "byleth"}, "secrecy_pact", "true", "They agreed to keep it secret", 3)
	first, _, err := s.Add(ctx, rec, 3)
	require.NoError(t, err)

	second, outcome, err := s.Add(ctx, rec, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, first.ID, second.ID)

	n, _ := s.Total(ctx)
	assert.Equal(t, 1, n)
}

func TestSQLite_Supersession(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	v1, _, err := s.Add(ctx, icRecord([]string{"dimitri", "byleth"}, "relationship_status", "jealous",
		"Dimitri grew jealous", 4), 4)
	require.NoError(t, err)

	v2, outcome, err := s.Add(ctx, icRecord([]string{"dimitri", "byleth"}, "relationship_status", "jealous",
		"Dimitri's jealousy boiled over", 6), 6)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSuperseded, outcome)
	assert.Equal(t, v1.ID, v2.Supersedes)
	assert.Equal(t, 2, v2.Version)

	timeline, err := s.Timeline(ctx, v2.CanonicalKey())
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.False(t, timeline[0].Active)
	require.NotNil(t, timeline[0].ChapterEnd)
	assert.Equal(t, 5, *timeline[0].ChapterEnd)
	assert.True(t, timeline[1].Active)

	chain, err := s.Evolution(ctx, v1.ID)
	require.NoError(t, err)
	require.Len(t, chain, 2)
	assert.Equal(t, v1.ID, chain[0].ID)
	assert.Equal(t, v2.ID, chain[1].ID)

	// The superseded version no longer shows up in chapter reads past its end.
	at6, _ := s.MemoriesAt(ctx, 6)
	require.Len(t, at6, 1)
	assert.Equal(t, v2.ID, at6[0].ID)
}

func TestSQLite_ValidationRejected(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	bad := icRecord([]string{"dimitri"}, "contact", "x", "only one subject on an IC memory", 1)
	_, _, err := s.Add(ctx, bad, 1)
	assert.ErrorIs(t, err, model.ErrValidation)

	n, _ := s.Total(ctx)
	assert.Zero(t, n)
}

func TestSQLite_Chapters(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t)

	s.Add(ctx, icRecord([]string{"a", "b"}, "contact", "x", "fact one", 5), 5)
	s.Add(ctx, icRecord([]string{"c", "d"}, "contact", "y", "fact two", 2), 2)

	chapters, err := s.Chapters(ctx)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 5}, chapters)
}
