// Package model defines the core memory data types.
package model

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrValidation is returned when a record fails validation at the store boundary.
var ErrValidation = errors.New("invalid memory record")

// MemType classifies who a memory belongs to.
type MemType string

const (
	// MemC2U is a character-to-user memory: one character plus the user.
	MemC2U MemType = "C2U"
	// MemIC is an inter-character memory: two or more characters.
	MemIC MemType = "IC"
	// MemWM is a world memory: world-level facts, not owned by a character.
	MemWM MemType = "WM"
)

// ValidMemTypes are the allowed memory types.
var ValidMemTypes = map[MemType]bool{
	MemC2U: true,
	MemIC:  true,
	MemWM:  true,
}

// Visibility controls who may retrieve a memory.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityShared  Visibility = "shared"
	VisibilityWorld   Visibility = "world"
)

// ValidVisibilities are the allowed visibility levels.
var ValidVisibilities = map[Visibility]bool{
	VisibilityPrivate: true,
	VisibilityShared:  true,
	VisibilityWorld:   true,
}

// DefaultVisibility maps a memory type to its default visibility.
func DefaultVisibility(t MemType) Visibility {
	switch t {
	case MemC2U:
		return VisibilityPrivate
	case MemWM:
		return VisibilityWorld
	default:
		return VisibilityShared
	}
}

// Provenance records where a memory came from.
type Provenance struct {
	Chapter   int    `json:"chapter"`
	Source    string `json:"source,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// MemoryRecord is a single versioned fact. Records are immutable once created;
// updates go through supersession, never in-place edits.
type MemoryRecord struct {
	ID           string         `json:"id"`
	MemType      MemType        `json:"mem_type"`
	Subjects     []string       `json:"subjects"`
	Predicate    string         `json:"predicate,omitempty"`
	Object       string         `json:"object,omitempty"`
	FactText     string         `json:"fact_text"`
	ChapterStart int            `json:"chapter_start"`
	ChapterEnd   *int           `json:"chapter_end,omitempty"`
	Visibility   Visibility     `json:"visibility"`
	Confidence   float64        `json:"confidence"`
	Active       bool           `json:"active"`
	Version      int            `json:"version"`
	Supersedes   string         `json:"supersedes,omitempty"`
	SupersededBy string         `json:"superseded_by,omitempty"`
	UpdateReason string         `json:"update_reason,omitempty"`
	Provenance   Provenance     `json:"provenance"`
	Attrs        map[string]any `json:"attrs,omitempty"`
}

// CanonicalKey identifies the fact slot this record occupies across versions:
// sorted subjects + predicate + object, or mem_type + sorted subjects when
// the record has no structured predicate.
func (r *MemoryRecord) CanonicalKey() string {
	subjects := append([]string(nil), r.Subjects...)
	sort.Strings(subjects)
	if r.Predicate == "" {
		return string(r.MemType) + "::" + strings.Join(subjects, "::")
	}
	return strings.Join(subjects, "::") + "::" + r.Predicate + "::" + r.Object
}

// HeldAt reports whether the fact holds at the given chapter.
func (r *MemoryRecord) HeldAt(chapter int) bool {
	if r.ChapterStart > chapter {
		return false
	}
	return r.ChapterEnd == nil || *r.ChapterEnd >= chapter
}

// SameContent reports whether two records state the same thing, used for
// idempotent upserts.
func (r *MemoryRecord) SameContent(other *MemoryRecord) bool {
	return r.Object == other.Object && strings.TrimSpace(r.FactText) == strings.TrimSpace(other.FactText)
}

// Validate checks the record's structural invariants. It returns an error
// wrapping ErrValidation; the offending record must not enter the store.
func (r *MemoryRecord) Validate() error {
	if strings.TrimSpace(r.FactText) == "" {
		return fmt.Errorf("%w: fact_text is required", ErrValidation)
	}
	if !ValidMemTypes[r.MemType] {
		return fmt.Errorf("%w: unknown mem_type %q", ErrValidation, r.MemType)
	}
	if r.Visibility != "" && !ValidVisibilities[r.Visibility] {
		return fmt.Errorf("%w: unknown visibility %q", ErrValidation, r.Visibility)
	}
	if r.Confidence < 0 || r.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrValidation, r.Confidence)
	}
	if r.ChapterStart < 1 {
		return fmt.Errorf("%w: chapter_start %d must be >= 1", ErrValidation, r.ChapterStart)
	}
	if r.ChapterEnd != nil && *r.ChapterEnd < r.ChapterStart {
		return fmt.Errorf("%w: chapter_end %d before chapter_start %d", ErrValidation, *r.ChapterEnd, r.ChapterStart)
	}
	switch r.MemType {
	case MemC2U:
		if len(r.Subjects) != 2 {
			return fmt.Errorf("%w: C2U memory needs exactly one character and the user, got %d subjects", ErrValidation, len(r.Subjects))
		}
	case MemIC:
		if len(r.Subjects) < 2 {
			return fmt.Errorf("%w: IC memory needs at least two characters, got %d subjects", ErrValidation, len(r.Subjects))
		}
	case MemWM:
		// World memories may have empty or world-level subjects.
	}
	return nil
}

// Clone returns a deep copy of the record.
func (r *MemoryRecord) Clone() *MemoryRecord {
	c := *r
	c.Subjects = append([]string(nil), r.Subjects...)
	if r.ChapterEnd != nil {
		end := *r.ChapterEnd
		c.ChapterEnd = &end
	}
	if r.Attrs != nil {
		c.Attrs = make(map[string]any, len(r.Attrs))
		for k, v := range r.Attrs {
			c.Attrs[k] = v
		}
	}
	return &c
}

// SubjectSetEqual reports whether the record's subjects equal the given set,
// ignoring order.
func (r *MemoryRecord) SubjectSetEqual(subjects []string) bool {
	if len(r.Subjects) != len(subjects) {
		return false
	}
	a := append([]string(nil), r.Subjects...)
	b := append([]string(nil), subjects...)
	sort.Strings(a)
	sort.Strings(b)
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// HasSubject reports whether the record involves the given entity.
func (r *MemoryRecord) HasSubject(entity string) bool {
	for _, s := range r.Subjects {
		if s == entity {
			return true
		}
	}
	return false
}
