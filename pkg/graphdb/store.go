package graphdb

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Store exposes the user-identity operations backing the name cache.
type Store struct {
	DB *sqlx.DB
}

// ScanUsers loads the full name → id mapping.
func (s *Store) ScanUsers(ctx context.Context) (map[string]int64, error) {
	rows, err := s.DB.QueryxContext(ctx, `SELECT id, name FROM users`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	users := make(map[string]int64)
	for rows.Next() {
		var (
			id   int64
			name string
		)
		if err := rows.Scan(&id, &name); err != nil {
			return nil, err
		}
		users[name] = id
	}
	return users, rows.Err()
}

// InsertUser creates a user and returns its id.
// A concurrent creation of the same name surfaces as a unique violation;
// callers resolve it with LookupUser.
func (s *Store) InsertUser(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.DB.GetContext(ctx, &id,
		`INSERT INTO users (name) VALUES ($1) RETURNING id`, name)
	return id, err
}

// LookupUser returns the id for a name, or sql.ErrNoRows.
func (s *Store) LookupUser(ctx context.Context, name string) (int64, error) {
	var id int64
	err := s.DB.GetContext(ctx, &id,
		`SELECT id FROM users WHERE name = $1`, name)
	return id, err
}
