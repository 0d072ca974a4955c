package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/postwave/postwave/internal/domain"
)

const integrationColumns = `
	id, name, kind, settings, priority, active,
	COALESCE(from_name, ''), COALESCE(from_email, ''), created_at`

func scanIntegration(row interface{ Scan(...any) error }) (*domain.Integration, error) {
	var in domain.Integration
	err := row.Scan(&in.ID, &in.Name, &in.Kind, &in.Settings, &in.Priority, &in.Active,
		&in.FromName, &in.FromEmail, &in.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &in, nil
}

// GetIntegration loads one integration by ID, active or not.
func (s *Store) GetIntegration(ctx context.Context, id int64) (*domain.Integration, error) {
	in, err := scanIntegration(s.db.QueryRowContext(ctx,
		`SELECT `+integrationColumns+` FROM integrations WHERE id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get integration %d: %w", id, err)
	}
	return in, nil
}

// ActiveIntegrations lists active integrations in fallback order:
// priority ascending, then ID for a stable tiebreak.
func (s *Store) ActiveIntegrations(ctx context.Context) ([]domain.Integration, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations WHERE active
		ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("list active integrations: %w", err)
	}
	defer rows.Close()

	var out []domain.Integration
	for rows.Next() {
		in, err := scanIntegration(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *in)
	}
	return out, rows.Err()
}
