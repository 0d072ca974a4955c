package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/postwave/postwave/internal/domain"
)

// GetSegment loads a stored segment, decoding its criteria JSON.
func (s *Store) GetSegment(ctx context.Context, id int64) (*domain.Segment, error) {
	var seg domain.Segment
	var criteria []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, criteria, created_at
		FROM segments WHERE id = $1`, id).
		Scan(&seg.ID, &seg.Name, &criteria, &seg.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get segment %d: %w", id, err)
	}
	if err := json.Unmarshal(criteria, &seg.Criteria); err != nil {
		return nil, fmt.Errorf("decode segment %d criteria: %w", id, err)
	}
	return &seg, nil
}
