package resourcestore

import (
	"bytes"
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	_ "modernc.org/sqlite"

	"github.com/palisade-labs/chatflow"
)

//go:embed sqlite_schema.sql
var sqliteSchema string

// SQLite persists resources to a SQLite database. It enables WAL mode for
// concurrent read access.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens (or creates) a SQLite resource store at dsn.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("resourcestore: open: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resourcestore: set WAL mode: %w", err)
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("resourcestore: create schema: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Get returns the resource with the given id. The returned handle re-reads
// the body from the database each time it is opened.
func (s *SQLite) Get(ctx context.Context, id string) (*chatflow.Resource, error) {
	var (
		team, name, typ string
		metadataJSON    string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT team, name, type, metadata FROM resources WHERE id = ?`, id,
	).Scan(&team, &name, &typ, &metadataJSON)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("resource %s not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("resourcestore: get %s: %w", id, err)
	}

	metadata, err := decodeMetadata(metadataJSON)
	if err != nil {
		return nil, fmt.Errorf("resourcestore: get %s: %w", id, err)
	}

	return chatflow.NewResource(id, team, name, chatflow.ResourceType(typ), metadata, s.bodyOpener(id)), nil
}

// Create persists a new resource, assigning it an id.
func (s *SQLite) Create(ctx context.Context, res *chatflow.Resource, body io.Reader) (*chatflow.Resource, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("resourcestore: read body: %w", err)
	}

	metadata := res.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	metadataJSON, err := json.Marshal(metadata)
	if err != nil {
		return nil, fmt.Errorf("resourcestore: marshal metadata: %w", err)
	}

	id := uuid.NewString()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO resources (id, team, name, type, metadata, body, created)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, res.Team, res.Name, string(res.Type), string(metadataJSON), data,
		time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("resourcestore: create: %w", err)
	}

	return chatflow.NewResource(id, res.Team, res.Name, res.Type, metadata, s.bodyOpener(id)), nil
}

// Close closes the database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

func (s *SQLite) bodyOpener(id string) func(ctx context.Context) (io.ReadCloser, error) {
	return func(ctx context.Context) (io.ReadCloser, error) {
		var data []byte
		err := s.db.QueryRowContext(ctx,
			`SELECT body FROM resources WHERE id = ?`, id,
		).Scan(&data)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("resource %s not found", id)
		}
		if err != nil {
			return nil, fmt.Errorf("resourcestore: open %s: %w", id, err)
		}
		return io.NopCloser(bytes.NewReader(data)), nil
	}
}

func decodeMetadata(metadataJSON string) (map[string]any, error) {
	metadata := map[string]any{}
	if metadataJSON != "" && metadataJSON != "{}" {
		if err := json.Unmarshal([]byte(metadataJSON), &metadata); err != nil {
			return nil, fmt.Errorf("unmarshal metadata: %w", err)
		}
	}
	return metadata, nil
}

var _ chatflow.ResourceStore = (*SQLite)(nil)
