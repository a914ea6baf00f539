package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/sekailabs/sekai-memory/internal/model"
)

// TemporalStore is the in-memory temporal store backed by a JSONL file:
// one self-describing JSON record per line, append-friendly and diffable.
//
// Writes are single-writer and batch-oriented; reads operate over an
// immutable snapshot guarded by an RWMutex.
type TemporalStore struct {
	mu      sync.RWMutex
	path    string
	byID    map[string]*model.MemoryRecord
	byKey   map[string]*model.MemoryRecord // active record per canonical key
	order   []string                       // insertion order of ids
	entropy *rand.Rand
}

// NewTemporalStore opens a store. If path is non-empty and the file exists,
// existing records are loaded. An empty path gives a purely in-memory store.
func NewTemporalStore(path string) (*TemporalStore, error) {
	s := &TemporalStore{
		path:    path,
		byID:    map[string]*model.MemoryRecord{},
		byKey:   map[string]*model.MemoryRecord{},
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	if path != "" {
		if err := s.load(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *TemporalStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *TemporalStore) load() error {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open store: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	line := 0
	for sc.Scan() {
		line++
		text := strings.TrimSpace(sc.Text())
		if text == "" {
			continue
		}
		var rec model.MemoryRecord
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return fmt.Errorf("parse store line %d: %w", line, err)
		}
		s.insert(&rec)
	}
	return sc.Err()
}

// insert indexes a record without upsert logic, used on load.
func (s *TemporalStore) insert(rec *model.MemoryRecord) {
	s.byID[rec.ID] = rec
	s.order = append(s.order, rec.ID)
	if rec.Active {
		s.byKey[rec.CanonicalKey()] = rec
	}
}

// Save writes the full store back to its JSONL file. The write goes through
// a temp file and a rename so a crash never leaves a partial store on disk.
func (s *TemporalStore) Save(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.path == "" {
		return nil
	}
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create store dir: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".memories-*.jsonl")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := bufio.NewWriter(tmp)
	for _, id := range s.order {
		b, err := json.Marshal(s.byID[id])
		if err != nil {
			tmp.Close()
			return fmt.Errorf("encode record %s: %w", id, err)
		}
		w.Write(b)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("write store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp store: %w", err)
	}
	return os.Rename(tmp.Name(), s.path)
}

// Add validates and upserts a record ingested at the given chapter.
//
// If an active record with the same canonical key already states the same
// content, the call is an idempotent no-op. If the content differs, the old
// version is deactivated, its chapter window closed, and the new record is
// linked to it via the supersession chain. Nothing is ever overwritten.
func (s *TemporalStore) Add(ctx context.Context, rec *model.MemoryRecord, chapter int) (*model.MemoryRecord, AddOutcome, error) {
	if rec == nil {
		return nil, "", fmt.Errorf("%w: nil record", model.ErrValidation)
	}
	r := rec.Clone()
	normalize(r, chapter)
	if err := r.Validate(); err != nil {
		return nil, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	key := r.CanonicalKey()
	if old, ok := s.byKey[key]; ok {
		if old.SameContent(r) {
			return old, OutcomeUnchanged, nil
		}
		if r.ID == "" {
			r.ID = s.newID()
		}
		end := r.ChapterStart - 1
		if end < old.ChapterStart {
			end = old.ChapterStart
		}
		old.Active = false
		old.ChapterEnd = &end
		old.SupersededBy = r.ID
		r.Active = true
		r.Version = old.Version + 1
		r.Supersedes = old.ID
		if r.UpdateReason == "" {
			r.UpdateReason = "new_information"
		}
		s.insert(r)
		return r, OutcomeSuperseded, nil
	}

	if r.ID == "" {
		r.ID = s.newID()
	}
	r.Active = true
	r.Version = 1
	s.insert(r)
	return r, OutcomeCreated, nil
}

// normalize fills derivable fields before validation: the ingest chapter
// becomes provenance (and chapter_start when the record carries none), and
// visibility defaults per memory type.
func normalize(r *model.MemoryRecord, chapter int) {
	if r.ChapterStart == 0 && chapter > 0 {
		r.ChapterStart = chapter
	}
	if chapter > 0 {
		r.Provenance.Chapter = chapter
	} else if r.Provenance.Chapter == 0 {
		r.Provenance.Chapter = r.ChapterStart
	}
	if r.Provenance.Timestamp == "" {
		r.Provenance.Timestamp = time.Now().UTC().Format(time.RFC3339)
	}
	if r.Visibility == "" {
		r.Visibility = model.DefaultVisibility(r.MemType)
	}
}

// MemoriesAt returns active records whose window covers the chapter.
func (s *TemporalStore) MemoriesAt(ctx context.Context, chapter int) ([]*model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.MemoryRecord
	for _, id := range s.order {
		r := s.byID[id]
		if r.Active && r.HeldAt(chapter) {
			out = append(out, r)
		}
	}
	sortRecords(out)
	return out, nil
}

// Timeline returns every version sharing the canonical key, oldest first.
func (s *TemporalStore) Timeline(ctx context.Context, canonicalKey string) ([]*model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*model.MemoryRecord
	for _, id := range s.order {
		if r := s.byID[id]; r.CanonicalKey() == canonicalKey {
			out = append(out, r)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("timeline %q: %w", canonicalKey, ErrNotFound)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].ChapterStart != out[j].ChapterStart {
			return out[i].ChapterStart < out[j].ChapterStart
		}
		return out[i].Version < out[j].Version
	})
	return out, nil
}

// Evolution walks the supersession chain containing the given id, oldest first.
func (s *TemporalStore) Evolution(ctx context.Context, id string) ([]*model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("evolution %q: %w", id, ErrNotFound)
	}
	// Back to the root, then forward to the newest version.
	for r.Supersedes != "" {
		prev, ok := s.byID[r.Supersedes]
		if !ok {
			break
		}
		r = prev
	}
	var chain []*model.MemoryRecord
	for r != nil {
		chain = append(chain, r)
		r = s.byID[r.SupersededBy]
	}
	return chain, nil
}

// All returns every record, ordered by chapter_start then id.
func (s *TemporalStore) All(ctx context.Context) ([]*model.MemoryRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*model.MemoryRecord, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.byID[id])
	}
	sortRecords(out)
	return out, nil
}

// Total returns the number of records, historical versions included.
func (s *TemporalStore) Total(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.byID), nil
}

// Chapters returns the sorted distinct chapters that hold memories.
func (s *TemporalStore) Chapters(ctx context.Context) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := map[int]bool{}
	var out []int
	for _, r := range s.byID {
		if !seen[r.ChapterStart] {
			seen[r.ChapterStart] = true
			out = append(out, r.ChapterStart)
		}
	}
	sort.Ints(out)
	return out, nil
}

// Close is a no-op for the in-memory store; callers persist via Save.
func (s *TemporalStore) Close() error { return nil }

func sortRecords(recs []*model.MemoryRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].ChapterStart != recs[j].ChapterStart {
			return recs[i].ChapterStart < recs[j].ChapterStart
		}
		return recs[i].ID < recs[j].ID
	})
}
