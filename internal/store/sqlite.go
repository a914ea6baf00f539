package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"
	_ "modernc.org/sqlite"

	"github.com/sekailabs/sekai-memory/internal/model"
)

// SQLiteStore implements Store on SQLite, for stores too large to keep as a
// flat JSONL file. The upsert runs in a transaction so a crash can never
// leave two active records for one canonical key.
type SQLiteStore struct {
	db      *sql.DB
	entropy *rand.Rand
}

// NewSQLiteStore opens or creates a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=foreign_keys(on)")
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	s := &SQLiteStore{
		db:      db,
		entropy: rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) newID() string {
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy).String()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS memories (
		id             TEXT PRIMARY KEY,
		canonical_key  TEXT NOT NULL,
		mem_type       TEXT NOT NULL,
		subjects       TEXT NOT NULL,
		predicate      TEXT,
		object         TEXT,
		fact_text      TEXT NOT NULL,
		chapter_start  INTEGER NOT NULL,
		chapter_end    INTEGER,
		visibility     TEXT NOT NULL,
		confidence     REAL NOT NULL,
		active         INTEGER NOT NULL DEFAULT 1,
		version        INTEGER NOT NULL DEFAULT 1,
		supersedes     TEXT,
		superseded_by  TEXT,
		update_reason  TEXT,
		prov_chapter   INTEGER NOT NULL,
		prov_source    TEXT,
		prov_timestamp TEXT,
		attrs          TEXT,
		created_at     TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_memories_key ON memories(canonical_key);
	CREATE INDEX IF NOT EXISTS idx_memories_chapter ON memories(chapter_start);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_memories_active_key
		ON memories(canonical_key) WHERE active = 1;
	`
	_, err := s.db.Exec(schema)
	return err
}

const recordColumns = `id, canonical_key, mem_type, subjects, predicate, object, fact_text,
	chapter_start, chapter_end, visibility, confidence, active, version,
	supersedes, superseded_by, update_reason, prov_chapter, prov_source, prov_timestamp, attrs`

// Add validates and upserts a record, mirroring TemporalStore.Add semantics.
func (s *SQLiteStore) Add(ctx context.Context, rec *model.MemoryRecord, chapter int) (*model.MemoryRecord, AddOutcome, error) {
	if rec == nil {
		return nil, "", fmt.Errorf("%w: nil record", model.ErrValidation)
	}
	r := rec.Clone()
	normalize(r, chapter)
	if err := r.Validate(); err != nil {
		return nil, "", err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, "", fmt.Errorf("begin upsert: %w", err)
	}
	defer tx.Rollback()

	key := r.CanonicalKey()
	row := tx.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE canonical_key = ? AND active = 1`, key)
	old, err := scanRecord(row)
	switch {
	case err == sql.ErrNoRows:
		old = nil
	case err != nil:
		return nil, "", fmt.Errorf("lookup active record: %w", err)
	}

	outcome := OutcomeCreated
	if old != nil {
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
		if _, err := tx.ExecContext(ctx,
			`UPDATE memories SET active = 0, chapter_end = ?, superseded_by = ? WHERE id = ?`,
			end, r.ID, old.ID); err != nil {
			return nil, "", fmt.Errorf("deactivate old version: %w", err)
		}
		r.Version = old.Version + 1
		r.Supersedes = old.ID
		if r.UpdateReason == "" {
			r.UpdateReason = "new_information"
		}
		outcome = OutcomeSuperseded
	} else {
		if r.ID == "" {
			r.ID = s.newID()
		}
		r.Version = 1
	}
	r.Active = true

	subjects, _ := json.Marshal(r.Subjects)
	var attrs *string
	if len(r.Attrs) > 0 {
		b, _ := json.Marshal(r.Attrs)
		str := string(b)
		attrs = &str
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO memories (`+recordColumns+`, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, key, string(r.MemType), string(subjects), r.Predicate, r.Object, r.FactText,
		r.ChapterStart, r.ChapterEnd, string(r.Visibility), r.Confidence, r.Version,
		nullable(r.Supersedes), nullable(r.SupersededBy), nullable(r.UpdateReason),
		r.Provenance.Chapter, nullable(r.Provenance.Source), nullable(r.Provenance.Timestamp),
		attrs, time.Now().UTC().Format(time.RFC3339)); err != nil {
		return nil, "", fmt.Errorf("insert record: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, "", fmt.Errorf("commit upsert: %w", err)
	}
	return r, outcome, nil
}

// MemoriesAt returns active records whose window covers the chapter.
func (s *SQLiteStore) MemoriesAt(ctx context.Context, chapter int) ([]*model.MemoryRecord, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM memories
		WHERE active = 1 AND chapter_start <= ? AND (chapter_end IS NULL OR chapter_end >= ?)
		ORDER BY chapter_start, id`, chapter, chapter)
}

// Timeline returns every version sharing the canonical key, oldest first.
func (s *SQLiteStore) Timeline(ctx context.Context, canonicalKey string) ([]*model.MemoryRecord, error) {
	recs, err := s.query(ctx, `SELECT `+recordColumns+` FROM memories
		WHERE canonical_key = ? ORDER BY chapter_start, version`, canonicalKey)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("timeline %q: %w", canonicalKey, ErrNotFound)
	}
	return recs, nil
}

// Evolution walks the supersession chain containing the given id, oldest first.
func (s *SQLiteStore) Evolution(ctx context.Context, id string) ([]*model.MemoryRecord, error) {
	rec, err := s.get(ctx, id)
	if err != nil {
		return nil, err
	}
	for rec.Supersedes != "" {
		prev, err := s.get(ctx, rec.Supersedes)
		if err != nil {
			break
		}
		rec = prev
	}
	var chain []*model.MemoryRecord
	for rec != nil {
		chain = append(chain, rec)
		if rec.SupersededBy == "" {
			break
		}
		next, err := s.get(ctx, rec.SupersededBy)
		if err != nil {
			break
		}
		rec = next
	}
	return chain, nil
}

// All returns every record in the store.
func (s *SQLiteStore) All(ctx context.Context) ([]*model.MemoryRecord, error) {
	return s.query(ctx, `SELECT `+recordColumns+` FROM memories ORDER BY chapter_start, id`)
}

// Total returns the number of records, historical versions included.
func (s *SQLiteStore) Total(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// Chapters returns the sorted distinct chapters that hold memories.
func (s *SQLiteStore) Chapters(ctx context.Context) ([]int, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT chapter_start FROM memories ORDER BY chapter_start`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int
	for rows.Next() {
		var c int
		if err := rows.Scan(&c); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Close closes the database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

func (s *SQLiteStore) get(ctx context.Context, id string) (*model.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+recordColumns+` FROM memories WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("record %q: %w", id, ErrNotFound)
	}
	return rec, err
}

func (s *SQLiteStore) query(ctx context.Context, q string, args ...any) ([]*model.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.MemoryRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*model.MemoryRecord, error) {
	var (
		r             model.MemoryRecord
		key           string
		memType       string
		subjects      string
		predicate     sql.NullString
		object        sql.NullString
		chapterEnd    sql.NullInt64
		visibility    string
		active        int
		supersedes    sql.NullString
		supersededBy  sql.NullString
		updateReason  sql.NullString
		provSource    sql.NullString
		provTimestamp sql.NullString
		attrs         sql.NullString
	)
	err := row.Scan(&r.ID, &key, &memType, &subjects, &predicate, &object, &r.FactText,
		&r.ChapterStart, &chapterEnd, &visibility, &r.Confidence, &active, &r.Version,
		&supersedes, &supersededBy, &updateReason, &r.Provenance.Chapter, &provSource,
		&provTimestamp, &attrs)
	if err != nil {
		return nil, err
	}
	r.MemType = model.MemType(memType)
	r.Visibility = model.Visibility(visibility)
	r.Active = active == 1
	r.Predicate = predicate.String
	r.Object = object.String
	r.Supersedes = supersedes.String
	r.SupersededBy = supersededBy.String
	r.UpdateReason = updateReason.String
	r.Provenance.Source = provSource.String
	r.Provenance.Timestamp = provTimestamp.String
	if chapterEnd.Valid {
		end := int(chapterEnd.Int64)
		r.ChapterEnd = &end
	}
	if err := json.Unmarshal([]byte(subjects), &r.Subjects); err != nil {
		return nil, fmt.Errorf("decode subjects for %s: %w", r.ID, err)
	}
	if attrs.Valid && attrs.String != "" {
		if err := json.Unmarshal([]byte(attrs.String), &r.Attrs); err != nil {
			return nil, fmt.Errorf("decode attrs for %s: %w", r.ID, err)
		}
	}
	return &r, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
