// Package retrieve scores and ranks chapter-visible memories against a query.
package retrieve

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sekailabs/sekai-memory/internal/lexical"
	"github.com/sekailabs/sekai-memory/internal/model"
	"github.com/sekailabs/sekai-memory/internal/policy"
	"github.com/sekailabs/sekai-memory/internal/store"
)

// ErrInvalidArgument is returned for malformed retrieval requests. An empty
// result set is a valid outcome, not an error.
var ErrInvalidArgument = errors.New("invalid argument")

// Weights control the score mix. They should sum to 1.
type Weights struct {
	// Lexical is the weight of token overlap between the query and the
	// record's fact text, subjects, predicate and object.
	Lexical float64
	// Confidence is the weight of the record's own confidence.
	Confidence float64
	// Recency is the weight of chapter proximity: facts established closer
	// to the query chapter carry more salience.
	Recency float64
}

// DefaultWeights is the standard score mix.
func DefaultWeights() Weights {
	return Weights{Lexical: 0.45, Confidence: 0.30, Recency: 0.25}
}

// Result is one ranked retrieval hit.
type Result struct {
	Record *model.MemoryRecord `json:"record"`
	Score  float64             `json:"score"`
}

// Retriever ranks the visible subset of the store. Visibility decisions are
// delegated to the policy package, never re-implemented here.
type Retriever struct {
	store   store.Store
	weights Weights
}

// New creates a Retriever over the given store.
func New(s store.Store, weights Weights) *Retriever {
	if weights == (Weights{}) {
		weights = DefaultWeights()
	}
	return &Retriever{store: s, weights: weights}
}

// SearchAtChapter returns the top k visible records for the query at the
// given chapter, best first. Ties break toward the later chapter_start, then
// the lexicographically smaller id.
func (r *Retriever) SearchAtChapter(ctx context.Context, query string, viewer policy.ViewerContext, chapter, k int) ([]Result, error) {
	return r.search(ctx, query, viewer, chapter, k, nil)
}

// ByCharacterAtChapter is SearchAtChapter restricted to records involving the
// character.
func (r *Retriever) ByCharacterAtChapter(ctx context.Context, character string, chapter, k int) ([]Result, error) {
	if strings.TrimSpace(character) == "" {
		return nil, fmt.Errorf("%w: character is required", ErrInvalidArgument)
	}
	viewer := policy.ViewerContext{Participants: []string{character}, Chapter: chapter}
	return r.search(ctx, "", viewer, chapter, k, func(rec *model.MemoryRecord) bool {
		return rec.HasSubject(character)
	})
}

// ByTypeAtChapter returns the top k visible records of one memory type.
func (r *Retriever) ByTypeAtChapter(ctx context.Context, memType model.MemType, viewer policy.ViewerContext, chapter, k int) ([]Result, error) {
	if !model.ValidMemTypes[memType] {
		return nil, fmt.Errorf("%w: unknown mem_type %q", ErrInvalidArgument, memType)
	}
	return r.search(ctx, "", viewer, chapter, k, func(rec *model.MemoryRecord) bool {
		return rec.MemType == memType
	})
}

func (r *Retriever) search(ctx context.Context, query string, viewer policy.ViewerContext, chapter, k int, keep func(*model.MemoryRecord) bool) ([]Result, error) {
	if k <= 0 {
		return nil, fmt.Errorf("%w: k must be positive, got %d", ErrInvalidArgument, k)
	}
	if chapter < 1 {
		return nil, fmt.Errorf("%w: unknown chapter %d", ErrInvalidArgument, chapter)
	}
	viewer.Chapter = chapter

	candidates, err := r.store.MemoriesAt(ctx, chapter)
	if err != nil {
		return nil, fmt.Errorf("load chapter %d: %w", chapter, err)
	}

	queryTokens := lexical.TokenSet(query)
	var results []Result
	for _, rec := range candidates {
		if !policy.Visible(rec, viewer) {
			continue
		}
		if keep != nil && !keep(rec) {
			continue
		}
		results = append(results, Result{Record: rec, Score: r.score(rec, queryTokens, chapter)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		a, b := results[i], results[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.Record.ChapterStart != b.Record.ChapterStart {
			return a.Record.ChapterStart > b.Record.ChapterStart
		}
		return a.Record.ID < b.Record.ID
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// score combines lexical overlap, record confidence and chapter proximity.
// With no query tokens the lexical term drops out and the remaining weights
// are renormalized, so query-less listing still ranks sensibly.
func (r *Retriever) score(rec *model.MemoryRecord, queryTokens map[string]bool, chapter int) float64 {
	w := r.weights
	if len(queryTokens) == 0 {
		scale := w.Confidence + w.Recency
		if scale == 0 {
			return 0
		}
		return (rec.Confidence*w.Confidence + recency(rec.ChapterStart, chapter)*w.Recency) / scale
	}
	lex := lexical.JaccardSets(queryTokens, recordTokens(rec))
	return lex*w.Lexical + rec.Confidence*w.Confidence + recency(rec.ChapterStart, chapter)*w.Recency
}

func recordTokens(rec *model.MemoryRecord) map[string]bool {
	parts := []string{rec.FactText, rec.Predicate, rec.Object}
	parts = append(parts, rec.Subjects...)
	return lexical.TokenSet(strings.Join(parts, " "))
}

// recency models salience decay: facts from the query chapter score highest,
// then fade in steps the further back they were established.
func recency(start, chapter int) float64 {
	switch gap := chapter - start; {
	case gap == 0:
		return 1.0
	case gap <= 3:
		return 0.8
	case gap <= 10:
		return 0.6
	default:
		return 0.4
	}
}
