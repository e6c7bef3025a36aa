package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Policy represents a row in the policies table.
type Policy struct {
	ID        string
	ProjectID string
	Config    json.RawMessage // JSONB — raw bytes
	CreatedAt time.Time
	UpdatedAt time.Time
}

// UpdatePolicyParams holds optional fields for partial policy updates.
type UpdatePolicyParams struct {
	Config *json.RawMessage // nil = don't change
}

// ReplacePolicyParams holds fields for a full policy replace.
type ReplacePolicyParams struct {
	Config json.RawMessage
}

// GetPolicy returns the policy for a project, or nil if not found.
func (s *Store) GetPolicy(ctx context.Context, projectID string) (*Policy, error) {
	var p Policy
	err := s.db.QueryRowContext(ctx, `
		SELECT id, project_id, config, created_at, updated_at
		FROM policies WHERE project_id = $1`, projectID,
	).Scan(&p.ID, &p.ProjectID, &p.Config, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("GetPolicy: %w", err)
	}
	return &p, nil
}

// UpdatePolicy applies a partial update to a policy. Only non-nil fields are
// changed.
func (s *Store) UpdatePolicy(ctx context.Context, projectID string, params UpdatePolicyParams) (*Policy, error) {
	var p Policy
	err := s.db.QueryRowContext(ctx, `
		UPDATE policies SET
			config     = COALESCE($2, config),
			updated_at = now()
		WHERE project_id = $1
		RETURNING id, project_id, config, created_at, updated_at`,
		projectID, nullableJSON(params.Config),
	).Scan(&p.ID, &p.ProjectID, &p.Config, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("UpdatePolicy: %w", err)
	}
	return &p, nil
}

// ReplacePolicy fully replaces a policy's configuration, creating the row if
// the project has none yet.
func (s *Store) ReplacePolicy(ctx context.Context, projectID string, params ReplacePolicyParams) (*Policy, error) {
	cfg := params.Config
	if cfg == nil {
		cfg = json.RawMessage(`{}`)
	}

	var p Policy
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO policies (project_id, config)
		VALUES ($1, $2)
		ON CONFLICT (project_id) DO UPDATE SET
			config     = EXCLUDED.config,
			updated_at = now()
		RETURNING id, project_id, config, created_at, updated_at`,
		projectID, []byte(cfg),
	).Scan(&p.ID, &p.ProjectID, &p.Config, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("ReplacePolicy: %w", err)
	}
	return &p, nil
}
