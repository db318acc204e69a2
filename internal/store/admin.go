package store

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
)

// AdminPAKHash returns the current admin PAK hash, or ("", false) if no
// admin_role row exists yet (first-start case).
func (s *Store) AdminPAKHash(ctx context.Context) (string, bool, error) {
	var hash string
	err := s.pool.QueryRow(ctx, `SELECT pak_hash FROM admin_role WHERE id = true`).Scan(&hash)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, classify("AdminPAKHash", err)
	}
	return hash, true, nil
}

// SetAdminPAKHash creates or overwrites the singleton admin_role row. Used
// both for the first-start bootstrap and for `broker rotate admin`.
func (s *Store) SetAdminPAKHash(ctx context.Context, hash string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO admin_role (id, pak_hash) VALUES (true, $1)
		ON CONFLICT (id) DO UPDATE SET pak_hash = EXCLUDED.pak_hash, updated_at = now()
	`, hash)
	return classify("SetAdminPAKHash", err)
}
