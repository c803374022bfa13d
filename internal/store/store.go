// Package store persists evidence records in SQLite, keyed by work ID
// and ordered by insertion time, with a recent-N scan used by
// perceptual-hash lookup and a detection-history log.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"watermarkd/internal/evidence"
	"watermarkd/internal/phash"
)

// Schema for the evidence store.
const schema = `
CREATE TABLE IF NOT EXISTS works (
    work_id     TEXT PRIMARY KEY,
    created_at  INTEGER NOT NULL,
    phash       TEXT NOT NULL,
    ahash       TEXT NOT NULL,
    dhash       TEXT NOT NULL,
    record      TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_works_created ON works(created_at);

CREATE TABLE IF NOT EXISTS detection_history (
    id          TEXT PRIMARY KEY,
    work_id     TEXT NOT NULL REFERENCES works(work_id),
    detected_at INTEGER NOT NULL,
    source      TEXT NOT NULL,
    confidence  REAL NOT NULL,
    grade       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_detections_work ON detection_history(work_id, detected_at);
`

// ErrDuplicateWork is returned when a work ID is inserted twice; evidence
// records are immutable once written.
var ErrDuplicateWork = errors.New("store: work already recorded")

// Store is the SQLite evidence store.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and applies the schema.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("create store directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Put inserts an immutable evidence record.
func (s *Store) Put(rec *evidence.Record) error {
	blob, err := rec.Marshal()
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}

	_, err = s.db.Exec(`
		INSERT INTO works (work_id, created_at, phash, ahash, dhash, record)
		VALUES (?, ?, ?, ?, ?, ?)`,
		rec.WorkID, rec.TimestampMillis,
		rec.Fingerprint.PHash.String(), rec.Fingerprint.AHash.String(), rec.Fingerprint.DHash.String(),
		string(blob),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicateWork, rec.WorkID)
		}
		return fmt.Errorf("insert work: %w", err)
	}
	return nil
}

// Get retrieves a record by work ID; nil when absent.
func (s *Store) Get(workID string) (*evidence.Record, error) {
	var blob string
	err := s.db.QueryRow(`SELECT record FROM works WHERE work_id = ?`, workID).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get work: %w", err)
	}
	return evidence.ParseRecord([]byte(blob))
}

// Recent returns the n most recently inserted records, newest first.
func (s *Store) Recent(n int) ([]*evidence.Record, error) {
	rows, err := s.db.Query(`SELECT record FROM works ORDER BY rowid DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("query recent works: %w", err)
	}
	defer rows.Close()

	var records []*evidence.Record
	for rows.Next() {
		var blob string
		if err := rows.Scan(&blob); err != nil {
			return nil, fmt.Errorf("scan work: %w", err)
		}
		rec, err := evidence.ParseRecord([]byte(blob))
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate works: %w", err)
	}
	return records, nil
}

// Count reports the number of stored works.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM works`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count works: %w", err)
	}
	return n, nil
}

// Match is a fingerprint-lookup hit.
type Match struct {
	Record     *evidence.Record
	Similarity float64
	Grade      phash.Grade
}

// lookupWindow bounds the recent-N scan backing FindSimilar.
const lookupWindow = 500

// FindSimilar scans recent records and returns those whose combined
// fingerprint similarity clears the detection threshold, best first.
func (s *Store) FindSimilar(fp phash.Fingerprint, limit int) ([]Match, error) {
	records, err := s.Recent(lookupWindow)
	if err != nil {
		return nil, err
	}

	var matches []Match
	for _, rec := range records {
		sim := fp.Similarity(rec.Fingerprint)
		if sim < phash.MatchThreshold {
			continue
		}
		matches = append(matches, Match{
			Record:     rec,
			Similarity: sim,
			Grade:      phash.GradeFor(sim),
		})
	}

	sort.Slice(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// RecordDetection appends a detection event for a work and returns it.
func (s *Store) RecordDetection(workID, source string, confidence float64, at time.Time) (*evidence.DetectionEvent, error) {
	ev := evidence.DetectionEvent{
		ID:         uuid.NewString(),
		DetectedAt: at.UTC().Format(time.RFC3339),
		Source:     source,
		Confidence: confidence,
		Grade:      phash.GradeFor(confidence).String(),
	}

	_, err := s.db.Exec(`
		INSERT INTO detection_history (id, work_id, detected_at, source, confidence, grade)
		VALUES (?, ?, ?, ?, ?, ?)`,
		ev.ID, workID, at.UnixMilli(), ev.Source, ev.Confidence, ev.Grade,
	)
	if err != nil {
		return nil, fmt.Errorf("insert detection: %w", err)
	}
	return &ev, nil
}

// Detections returns a work's detection history, oldest first.
func (s *Store) Detections(workID string) ([]evidence.DetectionEvent, error) {
	rows, err := s.db.Query(`
		SELECT id, detected_at, source, confidence, grade
		FROM detection_history
		WHERE work_id = ?
		ORDER BY detected_at ASC`, workID)
	if err != nil {
		return nil, fmt.Errorf("query detections: %w", err)
	}
	defer rows.Close()

	var events []evidence.DetectionEvent
	for rows.Next() {
		var ev evidence.DetectionEvent
		var at int64
		if err := rows.Scan(&ev.ID, &at, &ev.Source, &ev.Confidence, &ev.Grade); err != nil {
			return nil, fmt.Errorf("scan detection: %w", err)
		}
		ev.DetectedAt = time.UnixMilli(at).UTC().Format(time.RFC3339)
		events = append(events, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate detections: %w", err)
	}
	return events, nil
}

func isUniqueViolation(err error) bool {
	// mattn/go-sqlite3 wraps SQLITE_CONSTRAINT; string match keeps the
	// driver type out of the public surface.
	return err != nil && strings.Contains(err.Error(), "constraint failed")
}
