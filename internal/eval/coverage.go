package eval

import (
	"context"
	"fmt"
	"sort"

	"github.com/sekailabs/sekai-memory/internal/lexical"
	"github.com/sekailabs/sekai-memory/internal/model"
	"github.com/sekailabs/sekai-memory/internal/store"
)

// GoldFact is one expected key fact of a chapter.
type GoldFact struct {
	ID        string   `json:"id"`
	Fact      string   `json:"fact"`
	Subjects  []string `json:"subjects"`
	Predicate string   `json:"predicate,omitempty"`
	Object    string   `json:"object,omitempty"`
	// Weight scales the fact's contribution to coverage. Zero means 1.
	Weight float64 `json:"weight,omitempty"`
}

// ChapterFacts groups the gold facts of one chapter.
type ChapterFacts struct {
	Chapter int        `json:"chapter"`
	Facts   []GoldFact `json:"facts"`
}

// Match types reported per fact.
const (
	MatchExactKey   = "exact_key_match"
	MatchTextSim    = "text_similarity"
	MatchNotCovered = "not_covered"
)

// DefaultSimilarityThreshold is the minimum fact-text Jaccard similarity for
// a fuzzy match.
const DefaultSimilarityThreshold = 0.7

// importantWeight marks facts that get individually reported when missed.
const importantWeight = 2.0

// FactCoverage is the verdict for one gold fact.
type FactCoverage struct {
	Chapter     int     `json:"chapter"`
	FactID      string  `json:"fact_id"`
	Fact        string  `json:"fact"`
	Weight      float64 `json:"weight"`
	Covered     bool    `json:"covered"`
	MatchType   string  `json:"match_type"`
	MatchedID   string  `json:"matched_id,omitempty"`
	MatchedText string  `json:"matched_text,omitempty"`
	Similarity  float64 `json:"similarity,omitempty"`
}

// ChapterCoverage aggregates one chapter's facts.
type ChapterCoverage struct {
	Chapter       int            `json:"chapter"`
	Rate          float64        `json:"rate"`
	TotalWeight   float64        `json:"total_weight"`
	CoveredWeight float64        `json:"covered_weight"`
	Facts         []FactCoverage `json:"facts"`
}

// CoverageReport is the result of scoring a store against gold key facts.
type CoverageReport struct {
	Overall       float64           `json:"overall"`
	TotalWeight   float64           `json:"total_weight"`
	CoveredWeight float64           `json:"covered_weight"`
	Chapters      []ChapterCoverage `json:"chapters"`
	// MissedImportant lists uncovered facts of weight >= 2, the ones worth
	// chasing first.
	MissedImportant []FactCoverage `json:"missed_important"`
}

// CoverageScorer measures how much of the gold fact set the store captured.
type CoverageScorer struct {
	store     store.Store
	threshold float64
}

// NewCoverageScorer creates a scorer. A non-positive threshold falls back to
// the default.
func NewCoverageScorer(s store.Store, threshold float64) *CoverageScorer {
	if threshold <= 0 {
		threshold = DefaultSimilarityThreshold
	}
	return &CoverageScorer{store: s, threshold: threshold}
}

// Score evaluates the store against the gold facts, weighting per-fact and
// rolling up per-chapter and overall rates.
func (c *CoverageScorer) Score(ctx context.Context, gold []ChapterFacts) (*CoverageReport, error) {
	rep := &CoverageReport{}

	chapters := append([]ChapterFacts(nil), gold...)
	sort.Slice(chapters, func(i, j int) bool { return chapters[i].Chapter < chapters[j].Chapter })

	for _, cf := range chapters {
		candidates, err := c.store.MemoriesAt(ctx, cf.Chapter)
		if err != nil {
			return nil, fmt.Errorf("load chapter %d: %w", cf.Chapter, err)
		}

		cc := ChapterCoverage{Chapter: cf.Chapter}
		for _, fact := range cf.Facts {
			fc := c.matchFact(cf.Chapter, fact, candidates)
			cc.TotalWeight += fc.Weight
			if fc.Covered {
				cc.CoveredWeight += fc.Weight
			} else if fc.Weight >= importantWeight {
				rep.MissedImportant = append(rep.MissedImportant, fc)
			}
			cc.Facts = append(cc.Facts, fc)
		}
		if cc.TotalWeight > 0 {
			cc.Rate = cc.CoveredWeight / cc.TotalWeight
		}
		rep.TotalWeight += cc.TotalWeight
		rep.CoveredWeight += cc.CoveredWeight
		rep.Chapters = append(rep.Chapters, cc)
	}

	if rep.TotalWeight > 0 {
		rep.Overall = rep.CoveredWeight / rep.TotalWeight
	}
	return rep, nil
}

// matchFact finds the best matching record for one gold fact. A match always
// requires subject-set equality; on top of that either the predicate/object
// pair matches exactly or the fact texts are similar enough.
func (c *CoverageScorer) matchFact(chapter int, fact GoldFact, candidates []*model.MemoryRecord) FactCoverage {
	fc := FactCoverage{
		Chapter:   chapter,
		FactID:    fact.ID,
		Fact:      fact.Fact,
		Weight:    fact.Weight,
		MatchType: MatchNotCovered,
	}
	if fc.Weight == 0 {
		fc.Weight = 1
	}

	goldTokens := lexical.TokenSet(fact.Fact)
	bestSim := 0.0
	for _, rec := range candidates {
		if !rec.SubjectSetEqual(fact.Subjects) {
			continue
		}
		if fact.Predicate != "" && rec.Predicate == fact.Predicate && rec.Object == fact.Object {
			fc.Covered = true
			fc.MatchType = MatchExactKey
			fc.MatchedID = rec.ID
			fc.MatchedText = rec.FactText
			fc.Similarity = 1
			return fc
		}
		sim := lexical.JaccardSets(goldTokens, lexical.TokenSet(rec.FactText))
		if sim >= c.threshold && sim > bestSim {
			bestSim = sim
			fc.Covered = true
			fc.MatchType = MatchTextSim
			fc.MatchedID = rec.ID
			fc.MatchedText = rec.FactText
			fc.Similarity = sim
		}
	}
	return fc
}
