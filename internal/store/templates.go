package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/postwave/postwave/internal/domain"
)

// GetTemplate loads a stored template by ID.
func (s *Store) GetTemplate(ctx context.Context, id int64) (*domain.Template, error) {
	var t domain.Template
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, subject, html, COALESCE(css, ''), created_at, updated_at
		FROM templates WHERE id = $1`, id).
		Scan(&t.ID, &t.Name, &t.Subject, &t.HTML, &t.CSS, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get template %d: %w", id, err)
	}
	return &t, nil
}
