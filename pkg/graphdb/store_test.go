package graphdb

import (
	"context"
	"database/sql"
	"errors"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.grapht.network/grapht/pkg/pgtest"
)

// testDB returns a clean database with the projection schema applied.
func testDB(t *testing.T) *sqlx.DB {
	db := predefinedDB
	if db == nil {
		t.Log("No pre-defined DB, using Docker")
		pg := pgtest.New(t)
		t.Cleanup(func() { pg.Close(t) })
		db = pg.DB
	}
	ctx := context.Background()
	_, err := db.ExecContext(ctx,
		`DROP TABLE IF EXISTS transaction_logs, friendships, referrals, users CASCADE`)
	require.NoError(t, err)
	require.NoError(t, CreateSchema(ctx, db))
	return db
}

func TestStoreUsers(t *testing.T) {
	db := testDB(t)
	store := &Store{DB: db}
	ctx := context.Background()

	aliceID, err := store.InsertUser(ctx, "alice")
	require.NoError(t, err)
	bobID, err := store.InsertUser(ctx, "bob")
	require.NoError(t, err)
	assert.NotEqual(t, aliceID, bobID)

	// Second insert of the same name raises a unique violation,
	// resolved through a lookup.
	_, err = store.InsertUser(ctx, "alice")
	require.Error(t, err)
	assert.True(t, IsUniqueViolation(err))
	assert.False(t, IsDeadlock(err))
	id, err := store.LookupUser(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, aliceID, id)

	_, err = store.LookupUser(ctx, "nobody")
	assert.True(t, errors.Is(err, sql.ErrNoRows))

	users, err := store.ScanUsers(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"alice": aliceID, "bob": bobID}, users)
}

func TestStoreNameBoundaries(t *testing.T) {
	db := testDB(t)
	store := &Store{DB: db}
	ctx := context.Background()

	long := make([]byte, 255)
	for i := range long {
		long[i] = 'x'
	}
	for _, name := range []string{"a", string(long)} {
		id, err := store.InsertUser(ctx, name)
		require.NoError(t, err)
		got, err := store.LookupUser(ctx, name)
		require.NoError(t, err)
		assert.Equal(t, id, got)
	}
}
