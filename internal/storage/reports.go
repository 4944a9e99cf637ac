// Package storage persists health reports in a local SQLite archive.
//
// Reports are stored as their canonical JSON alongside the columns the list
// and retention queries need. The archive is an append-only record of runs;
// nothing updates a report after it is written.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // CGO-free SQLite
)

// DB is the report archive.
type DB struct {
	db *sql.DB
}

// Open opens (or creates) the archive at path and applies the schema.
func Open(path string) (*DB, error) {
	// WAL + busy timeout to avoid "database is locked" under concurrent
	// runs.
	db, err := sql.Open("sqlite", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("storage: open %s: %w", path, err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
	CREATE TABLE IF NOT EXISTS reports(
	  id          TEXT    PRIMARY KEY,
	  url         TEXT    NOT NULL,
	  status      TEXT    NOT NULL CHECK (status IN ('HEALTHY','WARNING','FAILING','ERROR')),
	  created_utc INTEGER NOT NULL,
	  report_json TEXT    NOT NULL CHECK (json_valid(report_json))
	);
	CREATE INDEX IF NOT EXISTS idx_reports_created ON reports(created_utc);
	CREATE INDEX IF NOT EXISTS idx_reports_url     ON reports(url);
	`)
	if err != nil {
		return fmt.Errorf("storage: create tables: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (d *DB) Close() error {
	return d.db.Close()
}

// ReportSummary is one row of a report listing.
type ReportSummary struct {
	ID        uuid.UUID `json:"id"`
	URL       string    `json:"url"`
	Status    string    `json:"overall_status"`
	Timestamp time.Time `json:"timestamp"`
}

// SaveReport archives one finished report. The report's JSON form is the
// source of truth; columns exist for listing and pruning only.
func (d *DB) SaveReport(ctx context.Context, id uuid.UUID, url, status string, createdAt time.Time, report any) error {
	body, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("storage: marshal report %s: %w", id, err)
	}
	_, err = d.db.ExecContext(ctx,
		`INSERT INTO reports(id, url, status, created_utc, report_json) VALUES(?,?,?,?,json(?))`,
		id.String(), url, status, createdAt.UTC().Unix(), string(body),
	)
	if err != nil {
		return fmt.Errorf("storage: save report %s: %w", id, err)
	}
	return nil
}

// GetReport returns the archived JSON of one report, or ErrNotFound.
func (d *DB) GetReport(ctx context.Context, id uuid.UUID) (json.RawMessage, error) {
	var body string
	err := d.db.QueryRowContext(ctx,
		`SELECT report_json FROM reports WHERE id = ?`, id.String(),
	).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: get report %s: %w", id, err)
	}
	return json.RawMessage(body), nil
}

// ListReports returns summaries, newest first. An empty url matches all;
// limit <= 0 means no limit.
func (d *DB) ListReports(ctx context.Context, url string, limit int) ([]ReportSummary, error) {
	query := `SELECT id, url, status, created_utc FROM reports`
	var args []any
	if url != "" {
		query += ` WHERE url = ?`
		args = append(args, url)
	}
	query += ` ORDER BY created_utc DESC, id`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("storage: list reports: %w", err)
	}
	defer rows.Close()

	var out []ReportSummary
	for rows.Next() {
		var (
			rawID   string
			s       ReportSummary
			created int64
		)
		if err := rows.Scan(&rawID, &s.URL, &s.Status, &created); err != nil {
			return nil, fmt.Errorf("storage: scan report row: %w", err)
		}
		id, err := uuid.Parse(rawID)
		if err != nil {
			return nil, fmt.Errorf("storage: report id %q: %w", rawID, err)
		}
		s.ID = id
		s.Timestamp = time.Unix(created, 0).UTC()
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("storage: list reports: %w", err)
	}
	return out, nil
}

// PruneBefore deletes reports created before the cutoff and returns how
// many were removed.
func (d *DB) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM reports WHERE created_utc < ?`, cutoff.UTC().Unix(),
	)
	if err != nil {
		return 0, fmt.Errorf("storage: prune reports: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("storage: prune reports: %w", err)
	}
	return n, nil
}
