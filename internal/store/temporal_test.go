package store

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekailabs/sekai-memory/internal/model"
)

func icRecord(subjects []string, predicate, object, fact string, chapter int) *model.MemoryRecord {
	return &model.MemoryRecord{
		MemType:      model.MemIC,
		Subjects:     subjects,
		Predicate:    predicate,
		Object:       object,
		FactText:     fact,
		ChapterStart: chapter,
		Confidence:   0.9,
	}
}

func TestAdd_CreatesAndDefaults(t *testing.T) {
	ctx := context.Background()
	s, err := NewTemporalStore("")
	require.NoError(t, err)

	rec, outcome, err := s.Add(ctx, icRecord([]string{"dimitri", "byleth"}, "contact", "exchanged_numbers",
		"Dimitri and Byleth exchanged numbers", 2), 2)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, outcome)
	assert.NotEmpty(t, rec.ID)
	assert.True(t, rec.Active)
	assert.Equal(t, 1, rec.Version)
	assert.Equal(t, model.VisibilityShared, rec.Visibility)
	assert.Equal(t, 2, rec.Provenance.Chapter)
}

func TestAdd_RejectsInvalid(t *testing.T) {
	ctx := context.Background()
	s, _ := NewTemporalStore("")

	bad := icRecord([]string{"dimitri", "byleth"}, "contact", "x", "some fact", 2)
	bad.Confidence = 1.5
	_, _, err := s.Add(ctx, bad, 2)
	assert.ErrorIs(t, err, model.ErrValidation)

	n, _ := s.Total(ctx)
	assert.Zero(t, n, "rejected record must not enter the store")
}

func TestAdd_IdempotentUpsert(t *testing.T) {
	ctx := context.Background()
	s, _ := NewTemporalStore("")

	rec := icRecord([]string{"dimitri", "byleth"}, "secrecy_pact", "true",
		"They agreed to keep it secret", 3)
	first, _, err := s.Add(ctx, rec, 3)
	require.NoError(t, err)

	second, outcome, err := s.Add(ctx, rec, 3)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUnchanged, outcome)
	assert.Equal(t, first.ID, second.ID)

	n, _ := s.Total(ctx)
	assert.Equal(t, 1, n)
}

func TestAdd_SupersessionChain(t *testing.T) {
	ctx := context.Background()
	s, _ := NewTemporalStore("")

	const n = 4
	var last *model.MemoryRecord
	for i := 1; i <= n; i++ {
		rec := icRecord([]string{"dimitri", "byleth"}, "relationship_status", "reconciled",
			fmt.Sprintf("Version %d of the reconciliation", i), i)
		var err error
		last, _, err = s.Add(ctx, rec, i)
		require.NoError(t, err)
	}

	assert.Equal(t, n, last.Version)
	assert.True(t, last.Active)

	// Exactly one active record per canonical key.
	timeline, err := s.Timeline(ctx, last.CanonicalKey())
	require.NoError(t, err)
	require.Len(t, timeline, n)
	active := 0
	for _, r := range timeline {
		if r.Active {
			active++
		}
	}
	assert.Equal(t, 1, active)

	// The chain walked via supersedes covers every version, oldest first.
	chain, err := s.Evolution(ctx, last.ID)
	require.NoError(t, err)
	require.Len(t, chain, n)
	for i, r := range chain {
		assert.Equal(t, i+1, r.Version)
		if i > 0 {
			assert.Equal(t, chain[i-1].ID, r.Supersedes)
			assert.Equal(t, r.ID, chain[i-1].SupersededBy)
			assert.False(t, chain[i-1].Active)
		}
	}

	// Superseded versions got their chapter windows closed.
	assert.NotNil(t, chain[0].ChapterEnd)
	assert.Equal(t, 1, *chain[0].ChapterEnd)
}

func TestMemoriesAt_ChapterWindow(t *testing.T) {
	ctx := context.Background()
	s, _ := NewTemporalStore("")

	early := icRecord([]string{"felix", "annette"}, "contact", "private_meeting", "Felix met Annette privately", 1)
	s.Add(ctx, early, 1)
	mid := icRecord([]string{"dimitri", "byleth"}, "contact", "exchanged_numbers", "Dimitri and Byleth exchanged numbers", 3)
	s.Add(ctx, mid, 3)
	closed := icRecord([]string{"sylvain", "mercedes"}, "secrecy_pact", "true", "Sylvain swore Mercedes to secrecy", 2)
	end := 4
	closed.ChapterEnd = &end
	s.Add(ctx, closed, 2)

	at2, err := s.MemoriesAt(ctx, 2)
	require.NoError(t, err)
	require.Len(t, at2, 2)
	// Ordered by chapter_start ascending.
	assert.Equal(t, 1, at2[0].ChapterStart)
	assert.Equal(t, 2, at2[1].ChapterStart)

	at5, err := s.MemoriesAt(ctx, 5)
	require.NoError(t, err)
	assert.Len(t, at5, 2, "closed window must drop out after chapter_end")

	for _, r := range at5 {
		assert.LessOrEqual(t, r.ChapterStart, 5)
	}
}

func TestTimeline_NotFound(t *testing.T) {
	ctx := context.Background()
	s, _ := NewTemporalStore("")
	_, err := s.Timeline(ctx, "nobody::nothing::never")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSaveAndReload(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "memories.jsonl")

	s, err := NewTemporalStore(path)
	require.NoError(t, err)
	s.Add(ctx, icRecord([]string{"dimitri", "byleth"}, "contact", "exchanged_numbers", "v1 of the fact", 1), 1)
	s.Add(ctx, icRecord([]string{"dimitri", "byleth"}, "contact", "exchanged_numbers", "v2 of the fact", 3), 3)
	s.Add(ctx, icRecord([]string{"felix", "annette"}, "evidence", "public_display", "Felix saw it happen", 2), 2)
	require.NoError(t, s.Save(ctx))

	reloaded, err := NewTemporalStore(path)
	require.NoError(t, err)

	n, _ := reloaded.Total(ctx)
	assert.Equal(t, 3, n)

	chapters, _ := reloaded.Chapters(ctx)
	assert.Equal(t, []int{1, 2, 3}, chapters)

	// The version chain survives the round trip.
	timeline, err := reloaded.Timeline(ctx, icRecord([]string{"dimitri", "byleth"}, "contact", "exchanged_numbers", "", 1).CanonicalKey())
	require.NoError(t, err)
	require.Len(t, timeline, 2)
	assert.False(t, timeline[0].Active)
	assert.True(t, timeline[1].Active)
}

func TestSummarize(t *testing.T) {
	ctx := context.Background()
	s, _ := NewTemporalStore("")

	s.Add(ctx, icRecord([]string{"dimitri", "byleth"}, "contact", "exchanged_numbers", "Dimitri and Byleth exchanged numbers", 1), 1)
	wm := &model.MemoryRecord{
		MemType: model.MemWM, Subjects: []string{"world"},
		FactText: "A memo circulated", ChapterStart: 1, Confidence: 0.5,
	}
	s.Add(ctx, wm, 1)

	recs, _ := s.MemoriesAt(ctx, 1)
	sum := Summarize(1, recs)
	assert.Equal(t, 2, sum.Total)
	assert.Equal(t, 1, sum.ByType[model.MemIC])
	assert.Equal(t, 1, sum.ByType[model.MemWM])
	assert.Equal(t, 1, sum.ByConfidence["high"])
	assert.Equal(t, 1, sum.ByConfidence["low"])
	assert.Equal(t, []string{"byleth", "dimitri", "world"}, sum.Characters)
}
