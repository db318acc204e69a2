package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
)

// CreateGenerator inserts a new generator with the given name and PAK hash.
func (s *Store) CreateGenerator(ctx context.Context, tx pgx.Tx, name, pakHash string) (*Generator, error) {
	row := s.conn(tx).QueryRow(ctx, `
		INSERT INTO generators (name, pak_hash, is_active) VALUES ($1, $2, true)
		RETURNING id, name, pak_hash, last_active_at, is_active, created_at, updated_at, deleted_at
	`, name, pakHash)
	g, err := scanGenerator(row)
	if err != nil {
		return nil, classify("CreateGenerator", err)
	}
	return g, nil
}

// GetGenerator fetches a live generator by id.
func (s *Store) GetGenerator(ctx context.Context, id string) (*Generator, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, name, pak_hash, last_active_at, is_active, created_at, updated_at, deleted_at
		FROM generators WHERE id = $1 AND deleted_at IS NULL
	`, id)
	g, err := scanGenerator(row)
	if err != nil {
		return nil, classify("GetGenerator", err)
	}
	return g, nil
}

// ListLiveGenerators returns every non-deleted, active generator that has a
// PAK hash, used by the auth
// resolver to narrow a PAK lookup (spec.md §4.2 step 3).
func (s *Store) ListLiveGenerators(ctx context.Context) ([]*Generator, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, pak_hash, last_active_at, is_active, created_at, updated_at, deleted_at
		FROM generators WHERE deleted_at IS NULL AND is_active = true AND pak_hash IS NOT NULL
	`)
	if err != nil {
		return nil, classify("ListLiveGenerators", err)
	}
	defer rows.Close()

	var out []*Generator
	for rows.Next() {
		g, err := scanGenerator(rows)
		if err != nil {
			return nil, classify("ListLiveGenerators", err)
		}
		out = append(out, g)
	}
	return out, classify("ListLiveGenerators", rows.Err())
}

// TouchGeneratorActivity updates last_active_at to now.
func (s *Store) TouchGeneratorActivity(ctx context.Context, id string) error {
	_, err := s.pool.Exec(ctx, `UPDATE generators SET last_active_at = now() WHERE id = $1`, id)
	return classify("TouchGeneratorActivity", err)
}

// SetGeneratorPAKHash rotates a generator's PAK hash.
func (s *Store) SetGeneratorPAKHash(ctx context.Context, id, hash string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE generators SET pak_hash = $1, updated_at = now() WHERE id = $2 AND deleted_at IS NULL`, hash, id)
	if err != nil {
		return classify("SetGeneratorPAKHash", err)
	}
	if tag.RowsAffected() == 0 {
		return NotFound("SetGeneratorPAKHash", pgx.ErrNoRows)
	}
	return nil
}

func scanGenerator(row pgx.Row) (*Generator, error) {
	var g Generator
	var lastActive *time.Time
	var deleted *time.Time
	if err := row.Scan(&g.ID, &g.Name, &g.PAKHash, &lastActive, &g.IsActive, &g.CreatedAt, &g.UpdatedAt, &deleted); err != nil {
		return nil, err
	}
	g.LastActiveAt = lastActive
	g.DeletedAt = deleted
	return &g, nil
}
