// Package graphdb persists the social graph: users, friendships, referrals
// and the append-only transaction log. All writes happen in READ COMMITTED
// transactions; batch commits retry on deadlock.
package graphdb

import (
	"context"

	"github.com/jmoiron/sqlx"
)

// Friendship status values.
const (
	StatusActive   = "ACTIVE"
	StatusInactive = "INACTIVE"
)

// Schema is the full DDL for the projection store.
const Schema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	name VARCHAR(255) NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS friendships (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	user1_id BIGINT NOT NULL REFERENCES users (id),
	user2_id BIGINT NOT NULL REFERENCES users (id),
	status VARCHAR(16) NOT NULL DEFAULT 'ACTIVE',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (user1_id, user2_id)
);

CREATE TABLE IF NOT EXISTS referrals (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	referrer_id BIGINT NOT NULL REFERENCES users (id),
	referred_id BIGINT NOT NULL REFERENCES users (id),
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (referrer_id, referred_id)
);

CREATE TABLE IF NOT EXISTS transaction_logs (
	id BIGINT GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
	user_id BIGINT REFERENCES users (id),
	transaction_type VARCHAR(32) NOT NULL,
	transaction_data JSONB NOT NULL,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// CreateSchema creates all projection tables if they don't exist yet.
func CreateSchema(ctx context.Context, db *sqlx.DB) error {
	_, err := db.ExecContext(ctx, Schema)
	return err
}
