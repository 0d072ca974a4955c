// Package segment resolves segment criteria into contact lists.
// Membership is computed against the live contact base at call time;
// nothing is materialized.
package segment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/lib/pq"

	"github.com/postwave/postwave/internal/domain"
)

// ErrInvalidCriteria is returned when a criteria set contains a key
// outside the allow-list or a value of the wrong shape. Resolution is
// all-or-nothing: no partial filter is ever applied.
var ErrInvalidCriteria = errors.New("segment: invalid criteria")

// exactKeys match with equality; substringKeys match case-insensitive
// anywhere in the field. "tags" is handled separately.
var (
	exactKeys = map[string]string{
		"id":     "id",
		"status": "status",
	}
	substringKeys = map[string]string{
		"email":   "email",
		"name":    "name",
		"role":    "role",
		"company": "company",
		"phone":   "phone",
		"group":   "contact_group",
	}
)

// Resolver turns criteria into parameterized contact queries.
type Resolver struct {
	db *sql.DB
}

// New creates a Resolver over the given handle.
func New(db *sql.DB) *Resolver {
	return &Resolver{db: db}
}

// Resolve returns every contact matching all criteria entries, ordered
// by ID. Empty criteria matches the entire contact base.
func (r *Resolver) Resolve(ctx context.Context, criteria domain.Criteria) ([]domain.Contact, error) {
	where, args, err := buildWhere(criteria)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, email, name, COALESCE(company, ''), COALESCE(role, ''),
		       COALESCE(phone, ''), COALESCE(contact_group, ''), tags, status,
		       created_at, updated_at
		FROM contacts` + where + `
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("resolve segment: %w", err)
	}
	defer rows.Close()

	var out []domain.Contact
	for rows.Next() {
		var c domain.Contact
		var tags pq.StringArray
		err := rows.Scan(&c.ID, &c.Email, &c.Name, &c.Company, &c.Role,
			&c.Phone, &c.Group, &tags, &c.Status, &c.CreatedAt, &c.UpdatedAt)
		if err != nil {
			return nil, err
		}
		c.Tags = tags
		out = append(out, c)
	}
	return out, rows.Err()
}

// Count returns the number of matching contacts without loading them.
func (r *Resolver) Count(ctx context.Context, criteria domain.Criteria) (int, error) {
	where, args, err := buildWhere(criteria)
	if err != nil {
		return 0, err
	}

	var n int
	err = r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contacts`+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count segment: %w", err)
	}
	return n, nil
}

// buildWhere validates every key before emitting any SQL, so an unknown
// key can never leak a partially-filtered result.
func buildWhere(criteria domain.Criteria) (string, []any, error) {
	if len(criteria) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(criteria))
	for key := range criteria {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	for _, key := range keys {
		value := criteria[key]
		switch {
		case key == "tags":
			tags, err := tagList(value)
			if err != nil {
				return "", nil, err
			}
			for _, tag := range tags {
				conds = append(conds,
					"EXISTS (SELECT 1 FROM unnest(tags) AS t WHERE t ILIKE "+arg("%"+tag+"%")+")")
			}

		case exactKeys[key] != "":
			s, err := scalar(key, value)
			if err != nil {
				return "", nil, err
			}
			if key == "status" {
				conds = append(conds, "LOWER(status) = LOWER("+arg(s)+")")
			} else {
				conds = append(conds, exactKeys[key]+" = "+arg(s))
			}

		case substringKeys[key] != "":
			s, err := scalar(key, value)
			if err != nil {
				return "", nil, err
			}
			conds = append(conds, substringKeys[key]+" ILIKE "+arg("%"+s+"%"))

		default:
			return "", nil, fmt.Errorf("%w: unknown key %q", ErrInvalidCriteria, key)
		}
	}

	return " WHERE " + strings.Join(conds, " AND "), args, nil
}

// scalar accepts strings and JSON numbers; anything else is rejected.
func scalar(key string, v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		if x == float64(int64(x)) {
			return fmt.Sprintf("%d", int64(x)), nil
		}
		return fmt.Sprintf("%v", x), nil
	case int:
		return fmt.Sprintf("%d", x), nil
	case int64:
		return fmt.Sprintf("%d", x), nil
	default:
		return "", fmt.Errorf("%w: key %q wants a scalar value", ErrInvalidCriteria, key)
	}
}

// tagList accepts a list of strings or a single string.
func tagList(v any) ([]string, error) {
	switch x := v.(type) {
	case string:
		return []string{x}, nil
	case []string:
		return x, nil
	case []any:
		out := make([]string, 0, len(x))
		for _, item := range x {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: tags must be strings", ErrInvalidCriteria)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: tags must be a list", ErrInvalidCriteria)
	}
}
