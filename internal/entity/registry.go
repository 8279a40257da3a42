package entity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// HiddenByIntegration marks entities hidden by this service.
const HiddenByIntegration = "integration"

// Entity is the visibility record of one source switch.
type Entity struct {
	EntityID  string    `json:"entity_id"`
	HiddenBy  string    `json:"hidden_by,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Registry stores source entity visibility in SQLite.
type Registry struct {
	db  *sql.DB
	now func() time.Time
}

// NewRegistry creates a Registry backed by db.
func NewRegistry(db *sql.DB) *Registry {
	return &Registry{db: db, now: time.Now}
}

// Hide marks entityID hidden by the integration unless it is already hidden
// by anyone. It reports whether anything changed.
func (r *Registry) Hide(ctx context.Context, entityID string) (bool, error) {
	if entityID == "" {
		return false, ErrInvalidEntityID
	}

	const query = `INSERT INTO source_entities (entity_id, hidden_by, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			hidden_by = excluded.hidden_by,
			updated_at = excluded.updated_at
		WHERE source_entities.hidden_by IS NULL`
	res, err := r.db.ExecContext(ctx, query, entityID, HiddenByIntegration, r.timestamp())
	if err != nil {
		return false, fmt.Errorf("hiding entity %s: %w", entityID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("hiding entity %s: %w", entityID, err)
	}
	return n > 0, nil
}

// SetHiddenBy records who hid entityID. An empty hiddenBy makes it visible.
func (r *Registry) SetHiddenBy(ctx context.Context, entityID, hiddenBy string) error {
	if entityID == "" {
		return ErrInvalidEntityID
	}

	const query = `INSERT INTO source_entities (entity_id, hidden_by, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(entity_id) DO UPDATE SET
			hidden_by = excluded.hidden_by,
			updated_at = excluded.updated_at`
	_, err := r.db.ExecContext(ctx, query, entityID, nullStr(hiddenBy), r.timestamp())
	if err != nil {
		return fmt.Errorf("updating entity %s: %w", entityID, err)
	}
	return nil
}

// HiddenBy returns who hid entityID, or "" when it is visible or unknown.
func (r *Registry) HiddenBy(ctx context.Context, entityID string) (string, error) {
	const query = `SELECT hidden_by FROM source_entities WHERE entity_id = ?`

	var hiddenBy sql.NullString
	err := r.db.QueryRowContext(ctx, query, entityID).Scan(&hiddenBy)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("querying entity %s: %w", entityID, err)
	}
	return hiddenBy.String, nil
}

// ListHidden returns every hidden entity ordered by id.
func (r *Registry) ListHidden(ctx context.Context) ([]Entity, error) {
	const query = `SELECT entity_id, hidden_by, updated_at FROM source_entities
		WHERE hidden_by IS NOT NULL ORDER BY entity_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing hidden entities: %w", err)
	}
	defer rows.Close()

	out := []Entity{}
	for rows.Next() {
		var (
			e       Entity
			updated string
		)
		if err := rows.Scan(&e.EntityID, &e.HiddenBy, &updated); err != nil {
			return nil, fmt.Errorf("scanning entity: %w", err)
		}
		e.UpdatedAt, _ = time.Parse(time.RFC3339, updated) //nolint:errcheck // zero time on bad value
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating entities: %w", err)
	}
	return out, nil
}

func (r *Registry) timestamp() string {
	return r.now().UTC().Format(time.RFC3339)
}

func nullStr(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}
