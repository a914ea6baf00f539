// Package eval implements the evaluation engine: consistency auditing,
// coverage scoring and retrieval quality measurement. Every check is
// read-only over the store and failures stay local to one finding, so a run
// always produces a full best-effort report.
package eval

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/sekailabs/sekai-memory/internal/config"
	"github.com/sekailabs/sekai-memory/internal/lexical"
	"github.com/sekailabs/sekai-memory/internal/model"
	"github.com/sekailabs/sekai-memory/internal/policy"
	"github.com/sekailabs/sekai-memory/internal/store"
)

// FindingKind names one class of consistency violation.
type FindingKind string

const (
	FindingTimeOverlap FindingKind = "time_overlap_conflict"
	FindingFutureLeak  FindingKind = "world_future_leak"
	FindingCrosstalk   FindingKind = "crosstalk_violation"
	FindingSymmetry    FindingKind = "symmetry_violation"
)

// Finding is one detected violation.
type Finding struct {
	Kind        FindingKind `json:"kind"`
	RecordIDs   []string    `json:"record_ids"`
	Chapters    []int       `json:"chapters"`
	Explanation string      `json:"explanation"`
}

// RetrievalTrace records what a retrieval actually delivered, for trace-mode
// auditing of future leaks and crosstalk.
type RetrievalTrace struct {
	Viewer    policy.ViewerContext `json:"viewer"`
	RecordIDs []string             `json:"record_ids"`
}

// CheckerOptions tune the consistency detectors.
type CheckerOptions struct {
	Registry   *config.Registry
	Vocabulary config.Vocabulary
	// SymmetryTolerance is the chapter window within which the swapped
	// counterpart of a bidirectional relationship must exist.
	SymmetryTolerance int
	// Traces enables auditing of actual retrieval deliveries in addition to
	// the batch store audit.
	Traces []RetrievalTrace
}

// DefaultSymmetryTolerance is the default counterpart chapter window.
const DefaultSymmetryTolerance = 2

// futureIndicators are the phrases that mark a world memory as referencing
// events that have not happened yet.
var futureIndicators = []string{
	"will", "going to", "plan to", "intend to", "future", "upcoming",
	"next week", "next month", "next year", "tomorrow", "later",
}

// Checker runs the four consistency detectors over the full store.
type Checker struct {
	store store.Store
	opts  CheckerOptions
}

// NewChecker creates a Checker. Missing options fall back to defaults.
func NewChecker(s store.Store, opts CheckerOptions) *Checker {
	if opts.Registry == nil {
		opts.Registry = config.DefaultRegistry()
	}
	if opts.Vocabulary == nil {
		opts.Vocabulary = config.DefaultVocabulary()
	}
	if opts.SymmetryTolerance <= 0 {
		opts.SymmetryTolerance = DefaultSymmetryTolerance
	}
	return &Checker{store: s, opts: opts}
}

// ConsistencyReport aggregates the findings of one run.
type ConsistencyReport struct {
	TimeOverlapConflicts []Finding          `json:"time_overlap_conflicts"`
	WorldFutureLeaks     []Finding          `json:"world_future_leaks"`
	CrosstalkViolations  []Finding          `json:"crosstalk_violations"`
	SymmetryViolations   []Finding          `json:"symmetry_violations"`
	Summary              ConsistencySummary `json:"summary"`
}

// ConsistencySummary carries the per-kind and total counts.
type ConsistencySummary struct {
	TotalConflicts       int `json:"total_conflicts"`
	TimeOverlapConflicts int `json:"time_overlap_conflicts"`
	WorldFutureLeaks     int `json:"world_future_leaks"`
	CrosstalkViolations  int `json:"crosstalk_violations"`
	SymmetryViolations   int `json:"symmetry_violations"`
}

// Run executes all four detectors. The detectors are independent and
// order-insensitive; none of them mutates the store.
func (c *Checker) Run(ctx context.Context) (*ConsistencyReport, error) {
	records, err := c.store.All(ctx)
	if err != nil {
		return nil, fmt.Errorf("load store: %w", err)
	}

	byID := make(map[string]*model.MemoryRecord, len(records))
	for _, r := range records {
		byID[r.ID] = r
	}

	rep := &ConsistencyReport{
		TimeOverlapConflicts: c.checkTimeOverlap(records),
		WorldFutureLeaks:     c.checkFutureLeaks(records, byID),
		CrosstalkViolations:  c.checkCrosstalk(records, byID),
		SymmetryViolations:   c.checkSymmetry(records),
	}
	rep.Summary = ConsistencySummary{
		TimeOverlapConflicts: len(rep.TimeOverlapConflicts),
		WorldFutureLeaks:     len(rep.WorldFutureLeaks),
		CrosstalkViolations:  len(rep.CrosstalkViolations),
		SymmetryViolations:   len(rep.SymmetryViolations),
	}
	rep.Summary.TotalConflicts = rep.Summary.TimeOverlapConflicts +
		rep.Summary.WorldFutureLeaks + rep.Summary.CrosstalkViolations +
		rep.Summary.SymmetryViolations
	return rep, nil
}

// slotKey groups records that claim the same subject/predicate slot,
// regardless of object: candidates for contradicting each other.
func slotKey(r *model.MemoryRecord) string {
	subjects := append([]string(nil), r.Subjects...)
	sort.Strings(subjects)
	if r.Predicate == "" {
		return string(r.MemType) + "::" + strings.Join(subjects, "::")
	}
	return strings.Join(subjects, "::") + "::" + r.Predicate
}

// checkTimeOverlap flags pairs claiming incompatible facts for the same
// subject/predicate slot in overlapping chapter windows. Versions of the
// same canonical key are one evolving fact, not a contradiction, and are
// skipped.
func (c *Checker) checkTimeOverlap(records []*model.MemoryRecord) []Finding {
	groups := map[string][]*model.MemoryRecord{}
	for _, r := range records {
		k := slotKey(r)
		groups[k] = append(groups[k], r)
	}

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var findings []Finding
	for _, k := range keys {
		group := groups[k]
		for i := 0; i < len(group); i++ {
			for j := i + 1; j < len(group); j++ {
				a, b := group[i], group[j]
				if a.CanonicalKey() == b.CanonicalKey() {
					continue
				}
				if !windowsOverlap(a, b) {
					continue
				}
				findings = append(findings, Finding{
					Kind:      FindingTimeOverlap,
					RecordIDs: []string{a.ID, b.ID},
					Chapters:  []int{a.ChapterStart, b.ChapterStart},
					Explanation: fmt.Sprintf(
						"%s claims %q while %s claims %q for the same slot %s in overlapping chapter windows",
						a.ID, contentOf(a), b.ID, contentOf(b), k),
				})
			}
		}
	}
	return findings
}

func contentOf(r *model.MemoryRecord) string {
	if r.Object != "" {
		return r.Object
	}
	return r.FactText
}

func windowsOverlap(a, b *model.MemoryRecord) bool {
	aEnds := a.ChapterEnd == nil || *a.ChapterEnd >= b.ChapterStart
	bEnds := b.ChapterEnd == nil || *b.ChapterEnd >= a.ChapterStart
	return aEnds && bEnds
}

// checkFutureLeaks flags knowledge attributed before its chapter: records
// ingested at a chapter earlier than their chapter_start, world memories
// whose text references upcoming events, and traced deliveries of
// not-yet-started records.
func (c *Checker) checkFutureLeaks(records []*model.MemoryRecord, byID map[string]*model.MemoryRecord) []Finding {
	var findings []Finding
	for _, r := range records {
		if r.Provenance.Chapter > 0 && r.ChapterStart > r.Provenance.Chapter {
			findings = append(findings, Finding{
				Kind:      FindingFutureLeak,
				RecordIDs: []string{r.ID},
				Chapters:  []int{r.Provenance.Chapter, r.ChapterStart},
				Explanation: fmt.Sprintf(
					"%s was recorded at chapter %d but its fact only starts at chapter %d",
					r.ID, r.Provenance.Chapter, r.ChapterStart),
			})
		}
		if r.MemType == model.MemWM && r.Active {
			for _, indicator := range futureIndicators {
				if lexical.Contains(r.FactText, indicator) {
					findings = append(findings, Finding{
						Kind:      FindingFutureLeak,
						RecordIDs: []string{r.ID},
						Chapters:  []int{r.ChapterStart},
						Explanation: fmt.Sprintf(
							"world memory %s contains future reference %q", r.ID, indicator),
					})
					break
				}
			}
		}
	}
	for _, trace := range c.opts.Traces {
		for _, id := range trace.RecordIDs {
			r, ok := byID[id]
			if !ok {
				continue
			}
			if r.ChapterStart > trace.Viewer.Chapter {
				findings = append(findings, Finding{
					Kind:      FindingFutureLeak,
					RecordIDs: []string{r.ID},
					Chapters:  []int{trace.Viewer.Chapter, r.ChapterStart},
					Explanation: fmt.Sprintf(
						"%s (chapter %d) was delivered to a query at chapter %d",
						r.ID, r.ChapterStart, trace.Viewer.Chapter),
				})
			}
		}
	}
	return findings
}

// checkCrosstalk flags knowledge crossing visibility boundaries: traced
// deliveries the policy would deny, and records whose text references
// another character's later private knowledge.
func (c *Checker) checkCrosstalk(records []*model.MemoryRecord, byID map[string]*model.MemoryRecord) []Finding {
	var findings []Finding

	for _, trace := range c.opts.Traces {
		for _, id := range trace.RecordIDs {
			r, ok := byID[id]
			if !ok {
				continue
			}
			if !policy.Visible(r, trace.Viewer) {
				findings = append(findings, Finding{
					Kind:      FindingCrosstalk,
					RecordIDs: []string{r.ID},
					Chapters:  []int{trace.Viewer.Chapter},
					Explanation: fmt.Sprintf(
						"%s was delivered to viewer %v at chapter %d despite failing the visibility policy",
						r.ID, trace.Viewer.Participants, trace.Viewer.Chapter),
				})
			}
		}
	}

	// Batch heuristic: a character's memory naming another character who
	// only later holds private (C2U) knowledge suggests leaked context.
	private := map[string][]*model.MemoryRecord{}
	for _, r := range records {
		if r.MemType != model.MemC2U || !r.Active {
			continue
		}
		for _, s := range r.Subjects {
			if c.opts.Registry.IsCharacter(s) {
				private[s] = append(private[s], r)
			}
		}
	}

	for _, r := range records {
		if !r.Active || r.MemType == model.MemWM {
			continue
		}
		for other, recs := range private {
			if r.HasSubject(other) {
				continue
			}
			if !mentions(r.FactText, other, c.opts.Registry) {
				continue
			}
			for _, p := range recs {
				if p.ID == r.ID || p.ChapterStart <= r.ChapterStart {
					continue
				}
				findings = append(findings, Finding{
					Kind:      FindingCrosstalk,
					RecordIDs: []string{r.ID, p.ID},
					Chapters:  []int{r.ChapterStart, p.ChapterStart},
					Explanation: fmt.Sprintf(
						"%s (chapter %d) references %s, whose private knowledge %s only exists from chapter %d",
						r.ID, r.ChapterStart, other, p.ID, p.ChapterStart),
				})
				break
			}
		}
	}

	return findings
}

// mentions reports whether the text names the entity by id or by any alias.
func mentions(text, entity string, reg *config.Registry) bool {
	if lexical.Contains(text, entity) {
		return true
	}
	for alias, id := range reg.CharacterAliases {
		if id == entity && lexical.Contains(text, alias) {
			return true
		}
	}
	return false
}

// checkSymmetry requires every active bidirectional IC relationship (A, B)
// to have a roles-swapped counterpart (B, A) within the chapter tolerance.
func (c *Checker) checkSymmetry(records []*model.MemoryRecord) []Finding {
	var findings []Finding
	for _, r := range records {
		if !r.Active || r.MemType != model.MemIC || len(r.Subjects) != 2 {
			continue
		}
		if !c.opts.Vocabulary.Bidirectional(r.Predicate) {
			continue
		}
		if r.Subjects[0] == r.Subjects[1] {
			continue
		}
		if c.findCounterpart(records, r) {
			continue
		}
		findings = append(findings, Finding{
			Kind:      FindingSymmetry,
			RecordIDs: []string{r.ID},
			Chapters:  []int{r.ChapterStart},
			Explanation: fmt.Sprintf(
				"%s records %s %s %s but no counterpart from %s exists within %d chapters",
				r.ID, r.Subjects[0], r.Predicate, r.Subjects[1], r.Subjects[1], c.opts.SymmetryTolerance),
		})
	}
	return findings
}

func (c *Checker) findCounterpart(records []*model.MemoryRecord, r *model.MemoryRecord) bool {
	for _, other := range records {
		if other.ID == r.ID || other.MemType != model.MemIC || len(other.Subjects) != 2 {
			continue
		}
		if other.Predicate != r.Predicate {
			continue
		}
		if other.Subjects[0] != r.Subjects[1] || other.Subjects[1] != r.Subjects[0] {
			continue
		}
		gap := other.ChapterStart - r.ChapterStart
		if gap < 0 {
			gap = -gap
		}
		if gap <= c.opts.SymmetryTolerance {
			return true
		}
	}
	return false
}
