package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
)

// Store provides access to the PostgreSQL database for project and policy
// lookup.
type Store struct {
	db *sql.DB
}

// NewStore creates a Store backed by the given database connection pool.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// ProjectRow holds the columns the auth path needs for one project.
type ProjectRow struct {
	ID         string
	APIKeyHash string
	Config     sql.NullString // JSONB from policies table (NULL if no policy row)
}

// LookupByPrefix returns the project matching an API key prefix, joined with
// its policy config. Returns nil when no project has the prefix.
func (s *Store) LookupByPrefix(ctx context.Context, prefix string) (*ProjectRow, error) {
	row := &ProjectRow{}
	err := s.db.QueryRowContext(ctx,
		`SELECT p.id, p.api_key_hash, pol.config
		 FROM projects p
		 LEFT JOIN policies pol ON pol.project_id = p.id
		 WHERE p.api_key_prefix = $1`,
		prefix,
	).Scan(&row.ID, &row.APIKeyHash, &row.Config)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("Store.LookupByPrefix: %w", err)
	}
	return row, nil
}

// nullableJSON converts an optional RawMessage to a driver-friendly value.
func nullableJSON(m *json.RawMessage) interface{} {
	if m == nil {
		return nil
	}
	return []byte(*m)
}
