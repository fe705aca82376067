package runstore

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/palisade-labs/chatflow"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLite persists run records to a SQLite database. It enables WAL mode so a
// pipeline's status polls can read while the host writes.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite run store at dsn.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("runstore: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstore: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("runstore: create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Create persists a new record.
func (s *SQLite) Create(ctx context.Context, rec *Record) error {
	if rec.ID == "" {
		return fmt.Errorf("runstore: record has no id")
	}
	now := time.Now().UTC()
	created := rec.Created
	if created.IsZero() {
		created = now
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, group_id, analysis_id, team, status, provider, model, created, updated)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.GroupID, rec.AnalysisID, rec.Team, string(rec.Status),
		rec.Provider, rec.Model,
		created.Format(time.RFC3339Nano), now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("runstore: create %s: %w", rec.ID, err)
	}
	for _, resourceID := range rec.Outputs {
		if err := s.AddOutput(ctx, rec.ID, resourceID); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the record with the given id, outputs included.
func (s *SQLite) Get(ctx context.Context, id string) (*Record, error) {
	var (
		rec                 Record
		status              string
		createdStr, updated string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT id, group_id, analysis_id, team, status, provider, model, created, updated
		 FROM runs WHERE id = ?`, id,
	).Scan(&rec.ID, &rec.GroupID, &rec.AnalysisID, &rec.Team, &status,
		&rec.Provider, &rec.Model, &createdStr, &updated)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("runstore: get %s: %w", id, err)
	}

	rec.Status = chatflow.RunStatus(status)
	if rec.Created, err = time.Parse(time.RFC3339Nano, createdStr); err != nil {
		return nil, fmt.Errorf("runstore: parse created %q: %w", createdStr, err)
	}
	if rec.Updated, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return nil, fmt.Errorf("runstore: parse updated %q: %w", updated, err)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT resource_id FROM run_outputs WHERE run_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("runstore: outputs for %s: %w", id, err)
	}
	defer rows.Close()
	for rows.Next() {
		var resourceID string
		if err := rows.Scan(&resourceID); err != nil {
			return nil, fmt.Errorf("runstore: scan output: %w", err)
		}
		rec.Outputs = append(rec.Outputs, resourceID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runstore: outputs for %s: %w", id, err)
	}
	return &rec, nil
}

// SetStatus updates the record's status.
func (s *SQLite) SetStatus(ctx context.Context, id string, status chatflow.RunStatus) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, updated = ? WHERE id = ?`,
		string(status), time.Now().UTC().Format(time.RFC3339Nano), id)
	if err != nil {
		return fmt.Errorf("runstore: set status %s: %w", id, err)
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	return nil
}

// AddOutput appends a resource id to the record's outputs.
func (s *SQLite) AddOutput(ctx context.Context, id, resourceID string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_outputs (run_id, resource_id) VALUES (?, ?)`, id, resourceID)
	if err != nil {
		return fmt.Errorf("runstore: add output to %s: %w", id, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

var _ Store = (*SQLite)(nil)
