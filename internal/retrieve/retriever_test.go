package retrieve

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sekailabs/sekai-memory/internal/model"
	"github.com/sekailabs/sekai-memory/internal/policy"
	"github.com/sekailabs/sekai-memory/internal/store"
)

func seedStore(t *testing.T) *store.TemporalStore {
	t.Helper()
	ctx := context.Background()
	s, err := store.NewTemporalStore("")
	require.NoError(t, err)

	add := func(rec *model.MemoryRecord, chapter int) {
		t.Helper()
		_, _, err := s.Add(ctx, rec, chapter)
		require.NoError(t, err)
	}

	add(&model.MemoryRecord{
		MemType: model.MemIC, Subjects: []string{"dimitri", "byleth"},
		Predicate: "relationship_status", Object: "jealous",
		FactText: "Dimitri grew jealous of Byleth's attention to Sylvain",
		ChapterStart: 4, Confidence: 0.9,
	}, 4)
	add(&model.MemoryRecord{
		MemType: model.MemIC, Subjects: []string{"felix", "annette"},
		Predicate: "contact", Object: "private_meeting",
		FactText: "Felix and Annette met privately in the archive",
		ChapterStart: 2, Confidence: 0.8,
	}, 2)
	add(&model.MemoryRecord{
		MemType: model.MemWM, Subjects: []string{"world"},
		Predicate: "alert", Object: "health_alert_circulated",
		FactText: "A health alert circulated through the office",
		ChapterStart: 3, Confidence: 0.7,
	}, 3)
	add(&model.MemoryRecord{
		MemType: model.MemC2U, Subjects: []string{"dimitri", "user_123"},
		FactText: "Dimitri confided his jealousy to the user",
		ChapterStart: 5, Confidence: 0.95,
	}, 5)
	return s
}

func TestSearchAtChapter_RanksLexicalMatchFirst(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), Weights{})
	viewer := policy.ViewerContext{Participants: []string{"dimitri", "user_123"}}

	results, err := r.SearchAtChapter(ctx, "dimitri jealous", viewer, 6, 3)
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, "jealous", results[0].Record.Object)

	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
}

func TestSearchAtChapter_EnforcesVisibility(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), Weights{})

	// Felix sees his own interaction and the world memory, nothing private
	// to Dimitri and nothing from interactions he was not part of.
	results, err := r.SearchAtChapter(ctx, "", policy.ViewerContext{Participants: []string{"felix"}}, 6, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		assert.NotEqual(t, model.MemC2U, res.Record.MemType)
		if res.Record.MemType == model.MemIC {
			assert.True(t, res.Record.HasSubject("felix"))
		}
	}
}

func TestSearchAtChapter_ChapterGatesResults(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), Weights{})
	viewer := policy.ViewerContext{Participants: []string{"dimitri", "user_123"}}

	// At chapter 3 the jealousy (ch 4) and the confession (ch 5) do not
	// exist yet.
	results, err := r.SearchAtChapter(ctx, "jealous", viewer, 3, 10)
	require.NoError(t, err)
	for _, res := range results {
		assert.LessOrEqual(t, res.Record.ChapterStart, 3)
	}
}

func TestSearchAtChapter_EmptyResultIsNotAnError(t *testing.T) {
	ctx := context.Background()
	s, _ := store.NewTemporalStore("")
	r := New(s, Weights{})

	results, err := r.SearchAtChapter(ctx, "anything", policy.ViewerContext{}, 1, 5)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchAtChapter_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), Weights{})

	_, err := r.SearchAtChapter(ctx, "q", policy.ViewerContext{}, 3, 0)
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = r.SearchAtChapter(ctx, "q", policy.ViewerContext{}, 0, 5)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestSearchAtChapter_TruncatesToK(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), Weights{})
	viewer := policy.ViewerContext{Participants: []string{"dimitri", "byleth", "felix", "annette"}}

	results, err := r.SearchAtChapter(ctx, "", viewer, 6, 1)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestByCharacterAtChapter(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), Weights{})

	results, err := r.ByCharacterAtChapter(ctx, "felix", 6, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Record.HasSubject("felix"))

	_, err = r.ByCharacterAtChapter(ctx, " ", 6, 10)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestByTypeAtChapter(t *testing.T) {
	ctx := context.Background()
	r := New(seedStore(t), Weights{})
	viewer := policy.ViewerContext{Participants: []string{"dimitri"}}

	results, err := r.ByTypeAtChapter(ctx, model.MemWM, viewer, 6, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, model.MemWM, results[0].Record.MemType)

	_, err = r.ByTypeAtChapter(ctx, "XX", viewer, 6, 10)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
