// Package sqlite stores the history of classification runs.
package sqlite

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"shenbaosift/internal/domain"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

func InitDB(path string) (*sql.DB, error) {
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id            TEXT PRIMARY KEY,
		source        TEXT NOT NULL DEFAULT 'web',
		source_name   TEXT DEFAULT '',
		source_ref    TEXT DEFAULT '',
		llm_provider  TEXT DEFAULT '',
		llm_model     TEXT DEFAULT '',
		total_records INTEGER NOT NULL DEFAULT 0,
		total_batches INTEGER NOT NULL DEFAULT 0,
		matched_count INTEGER NOT NULL DEFAULT 0,
		status        TEXT NOT NULL DEFAULT 'done',
		error         TEXT DEFAULT '',
		started_at    DATETIME NOT NULL,
		finished_at   DATETIME NOT NULL,
		created_at    DATETIME DEFAULT CURRENT_TIMESTAMP
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_runs_source_ref ON runs(source_ref);
	`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// InsertRun stores r and returns its ID, generating one when r.ID is empty.
func InsertRun(db *sql.DB, r domain.RunRecord) (string, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	_, err := db.Exec(
		`INSERT INTO runs (id, source, source_name, source_ref, llm_provider, llm_model,
		                   total_records, total_batches, matched_count, status, error, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.Source, r.SourceName, r.SourceRef, r.LLMProvider, r.LLMModel,
		r.TotalRecords, r.TotalBatches, r.MatchedCount, r.Status, r.Error,
		r.StartedAt.UTC(), r.FinishedAt.UTC(),
	)
	if err != nil {
		return "", err
	}
	return r.ID, nil
}

// ListRuns returns the most recent runs first.
func ListRuns(db *sql.DB, limit int) ([]domain.RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.Query(
		`SELECT id, source, source_name, source_ref, llm_provider, llm_model,
		        total_records, total_batches, matched_count, status, error, started_at, finished_at
		 FROM runs ORDER BY started_at DESC, created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	runs := []domain.RunRecord{}
	for rows.Next() {
		var r domain.RunRecord
		err := rows.Scan(
			&r.ID, &r.Source, &r.SourceName, &r.SourceRef, &r.LLMProvider, &r.LLMModel,
			&r.TotalRecords, &r.TotalBatches, &r.MatchedCount, &r.Status, &r.Error,
			&r.StartedAt, &r.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

func GetRunByID(db *sql.DB, id string) (domain.RunRecord, error) {
	var r domain.RunRecord
	err := db.QueryRow(
		`SELECT id, source, source_name, source_ref, llm_provider, llm_model,
		        total_records, total_batches, matched_count, status, error, started_at, finished_at
		 FROM runs WHERE id = ?`,
		id,
	).Scan(
		&r.ID, &r.Source, &r.SourceName, &r.SourceRef, &r.LLMProvider, &r.LLMModel,
		&r.TotalRecords, &r.TotalBatches, &r.MatchedCount, &r.Status, &r.Error,
		&r.StartedAt, &r.FinishedAt,
	)
	return r, err
}

// SourceRefExists reports whether a successful run already covered sourceRef.
// Failed runs do not count so the inbox retries them on the next tick.
func SourceRefExists(db *sql.DB, sourceRef string) (bool, error) {
	var count int
	err := db.QueryRow(
		"SELECT COUNT(*) FROM runs WHERE source_ref = ? AND status = ?",
		sourceRef, domain.RunStatusDone,
	).Scan(&count)
	return count > 0, err
}

type RunStats struct {
	TotalRuns    int
	FailedRuns   int
	TotalRecords int
	TotalMatched int
}

func GetRunStats(db *sql.DB, since time.Time) (RunStats, error) {
	var s RunStats
	err := db.QueryRow(
		`SELECT COUNT(*),
		        COALESCE(SUM(CASE WHEN status = ? THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(total_records), 0),
		        COALESCE(SUM(matched_count), 0)
		 FROM runs WHERE started_at >= ?`,
		domain.RunStatusError, since.UTC(),
	).Scan(&s.TotalRuns, &s.FailedRuns, &s.TotalRecords, &s.TotalMatched)
	return s, err
}
