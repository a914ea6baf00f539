// Package store provides the temporal memory storage interface and its
// JSONL and SQLite implementations.
package store

import (
	"context"
	"errors"
	"sort"

	"github.com/sekailabs/sekai-memory/internal/model"
)

// ErrNotFound indicates that a requested record or version chain was not found.
var ErrNotFound = errors.New("memory not found")

// AddOutcome describes what an upsert did.
type AddOutcome string

const (
	// OutcomeCreated means a new fact slot was opened.
	OutcomeCreated AddOutcome = "created"
	// OutcomeUnchanged means an identical record already held the slot.
	OutcomeUnchanged AddOutcome = "unchanged"
	// OutcomeSuperseded means the new record replaced the previously active
	// version via the supersession chain.
	OutcomeSuperseded AddOutcome = "superseded"
)

// ChapterSummary aggregates the memories known at one chapter.
type ChapterSummary struct {
	Chapter      int                   `json:"chapter"`
	Total        int                   `json:"total"`
	ByType       map[model.MemType]int `json:"by_type"`
	ByConfidence map[string]int        `json:"by_confidence"`
	Characters   []string              `json:"characters"`
}

// Store defines the versioned, chapter-indexed memory store.
//
// Records are never deleted or edited in place: an upsert either no-ops on
// identical content or supersedes the active version, and every version stays
// queryable through the chain.
type Store interface {
	// Add validates and upserts a record ingested at the given chapter.
	// Returns the stored record and what happened to it.
	Add(ctx context.Context, rec *model.MemoryRecord, chapter int) (*model.MemoryRecord, AddOutcome, error)

	// MemoriesAt returns all active records whose chapter window covers the
	// given chapter, ordered by chapter_start then id.
	MemoriesAt(ctx context.Context, chapter int) ([]*model.MemoryRecord, error)

	// Timeline returns every version (active and inactive) sharing the
	// canonical key, ordered by chapter_start then version.
	Timeline(ctx context.Context, canonicalKey string) ([]*model.MemoryRecord, error)

	// Evolution returns the full supersession chain containing the record id,
	// oldest first.
	Evolution(ctx context.Context, id string) ([]*model.MemoryRecord, error)

	// All returns every record in the store, ordered by chapter_start then id.
	All(ctx context.Context) ([]*model.MemoryRecord, error)

	// Total returns the number of records, historical versions included.
	Total(ctx context.Context) (int, error)

	// Chapters returns the sorted distinct chapters that hold memories.
	Chapters(ctx context.Context) ([]int, error)

	// Close releases any underlying resources.
	Close() error
}

// Summarize builds a ChapterSummary from the records known at a chapter.
func Summarize(chapter int, recs []*model.MemoryRecord) *ChapterSummary {
	s := &ChapterSummary{
		Chapter:      chapter,
		Total:        len(recs),
		ByType:       map[model.MemType]int{},
		ByConfidence: map[string]int{},
	}
	seen := map[string]bool{}
	for _, r := range recs {
		s.ByType[r.MemType]++
		switch {
		case r.Confidence >= 0.8:
			s.ByConfidence["high"]++
		case r.Confidence >= 0.6:
			s.ByConfidence["medium"]++
		default:
			s.ByConfidence["low"]++
		}
		for _, sub := range r.Subjects {
			if !seen[sub] {
				seen[sub] = true
				s.Characters = append(s.Characters, sub)
			}
		}
	}
	sort.Strings(s.Characters)
	return s
}
