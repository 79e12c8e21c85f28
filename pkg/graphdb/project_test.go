package graphdb

import (
	"context"
	"fmt"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"go.grapht.network/grapht/pkg/event"
	"go.grapht.network/grapht/pkg/plan"
)

// project decodes the payloads, plans them, resolves ids through the store
// and commits, mirroring one worker iteration.
func project(t *testing.T, db *sqlx.DB, payloads ...string) *plan.Batch {
	t.Helper()
	ctx := context.Background()
	events := make([]event.Event, 0, len(payloads))
	for _, payload := range payloads {
		ev, err := event.Decode([]byte(payload))
		require.NoError(t, err)
		events = append(events, ev)
	}
	batch := plan.New(events)
	store := &Store{DB: db}
	ids := make(map[string]int64, len(batch.NewUsers))
	for _, name := range batch.NewUsers {
		id, err := store.InsertUser(ctx, name)
		if IsUniqueViolation(err) {
			id, err = store.LookupUser(ctx, name)
		}
		require.NoError(t, err)
		ids[name] = id
	}
	res, err := batch.Resolve(ids)
	require.NoError(t, err)
	projector := &Projector{DB: db, Log: zaptest.NewLogger(t)}
	require.NoError(t, projector.Project(ctx, res))
	return batch
}

type friendshipRow struct {
	User1ID int64  `db:"user1_id"`
	User2ID int64  `db:"user2_id"`
	Status  string `db:"status"`
}

func scanFriendships(t *testing.T, db *sqlx.DB) []friendshipRow {
	t.Helper()
	var rows []friendshipRow
	require.NoError(t, db.Select(&rows,
		`SELECT user1_id, user2_id, status FROM friendships ORDER BY user1_id, user2_id`))
	return rows
}

func countRows(t *testing.T, db *sqlx.DB, table string) int {
	t.Helper()
	var n int
	require.NoError(t, db.Get(&n, fmt.Sprintf(`SELECT count(*) FROM %s`, table)))
	return n
}

func userID(t *testing.T, db *sqlx.DB, name string) int64 {
	t.Helper()
	id, err := (&Store{DB: db}).LookupUser(context.Background(), name)
	require.NoError(t, err)
	return id
}

func TestProjectRegistrationThenFriendship(t *testing.T) {
	db := testDB(t)
	project(t, db,
		`{"type":"register","name":"alice","created_at":"2024-01-01T12:00:00.000Z"}`,
		`{"type":"register","name":"bob","created_at":"2024-01-01T12:00:01.000Z"}`,
		`{"type":"addfriend","user1_name":"alice","user2_name":"bob","created_at":"2024-01-01T12:00:02.000Z"}`,
	)
	assert.Equal(t, 2, countRows(t, db, "users"))
	assert.Equal(t, 3, countRows(t, db, "transaction_logs"))
	rows := scanFriendships(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusActive, rows[0].Status)
	assert.Less(t, rows[0].User1ID, rows[0].User2ID)
}

func TestProjectReferralBootstrapsUsers(t *testing.T) {
	db := testDB(t)
	project(t, db,
		`{"type":"referral","referredBy":"alice","user":"carol","created_at":"2024-01-01T12:00:00.000Z"}`,
	)
	aliceID := userID(t, db, "alice")
	carolID := userID(t, db, "carol")
	var referrals []struct {
		ReferrerID int64 `db:"referrer_id"`
		ReferredID int64 `db:"referred_id"`
	}
	require.NoError(t, db.Select(&referrals, `SELECT referrer_id, referred_id FROM referrals`))
	require.Len(t, referrals, 1)
	assert.Equal(t, aliceID, referrals[0].ReferrerID)
	assert.Equal(t, carolID, referrals[0].ReferredID)
	// The log row is attributed to the referred user.
	var logUserID int64
	require.NoError(t, db.Get(&logUserID, `SELECT user_id FROM transaction_logs`))
	assert.Equal(t, carolID, logUserID)
}

func TestProjectFriendshipToggleWithinBatch(t *testing.T) {
	db := testDB(t)
	project(t, db,
		`{"type":"addfriend","user1_name":"a","user2_name":"b","created_at":"2024-01-01T12:00:00.000Z"}`,
		`{"type":"unfriend","user1_name":"a","user2_name":"b","created_at":"2024-01-01T12:00:01.000Z"}`,
		`{"type":"addfriend","user1_name":"a","user2_name":"b","created_at":"2024-01-01T12:00:02.000Z"}`,
	)
	rows := scanFriendships(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusActive, rows[0].Status)
	assert.Equal(t, 3, countRows(t, db, "transaction_logs"))
}

func TestProjectAddThenUnfriendWithinBatch(t *testing.T) {
	db := testDB(t)
	project(t, db,
		`{"type":"addfriend","user1_name":"a","user2_name":"b","created_at":"2024-01-01T12:00:00.000Z"}`,
		`{"type":"unfriend","user1_name":"a","user2_name":"b","created_at":"2024-01-01T12:00:01.000Z"}`,
	)
	rows := scanFriendships(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusInactive, rows[0].Status)
}

func TestProjectUnfriendWithoutFriendship(t *testing.T) {
	db := testDB(t)
	project(t, db,
		`{"type":"unfriend","user1_name":"a","user2_name":"b","created_at":"2024-01-01T12:00:00.000Z"}`,
	)
	assert.Empty(t, scanFriendships(t, db))
	assert.Equal(t, 2, countRows(t, db, "users"))
	assert.Equal(t, 1, countRows(t, db, "transaction_logs"))
}

func TestProjectFriendshipToggleAcrossBatches(t *testing.T) {
	db := testDB(t)
	project(t, db,
		`{"type":"addfriend","user1_name":"a","user2_name":"b","created_at":"2024-01-01T12:00:00.000Z"}`,
	)
	project(t, db,
		`{"type":"unfriend","user1_name":"a","user2_name":"b","created_at":"2024-01-01T12:00:01.000Z"}`,
	)
	rows := scanFriendships(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusInactive, rows[0].Status)
	project(t, db,
		`{"type":"addfriend","user1_name":"a","user2_name":"b","created_at":"2024-01-01T12:00:02.000Z"}`,
	)
	rows = scanFriendships(t, db)
	require.Len(t, rows, 1)
	assert.Equal(t, StatusActive, rows[0].Status)
}

func TestProjectDuplicateReferralAcrossBatches(t *testing.T) {
	db := testDB(t)
	project(t, db,
		`{"type":"referral","referredBy":"a","user":"b","created_at":"2024-01-01T12:00:00.000Z"}`,
	)
	project(t, db,
		`{"type":"referral","referredBy":"a","user":"b","created_at":"2024-01-01T12:00:01.000Z"}`,
	)
	assert.Equal(t, 1, countRows(t, db, "referrals"))
	assert.Equal(t, 2, countRows(t, db, "transaction_logs"))
}

func TestProjectIdempotentExceptLogs(t *testing.T) {
	db := testDB(t)
	payloads := []string{
		`{"type":"register","name":"alice","created_at":"2024-01-01T12:00:00.000Z"}`,
		`{"type":"referral","referredBy":"alice","user":"bob","created_at":"2024-01-01T12:00:01.000Z"}`,
		`{"type":"addfriend","user1_name":"alice","user2_name":"bob","created_at":"2024-01-01T12:00:02.000Z"}`,
	}
	project(t, db, payloads...)
	usersBefore := countRows(t, db, "users")
	friendshipsBefore := scanFriendships(t, db)
	referralsBefore := countRows(t, db, "referrals")
	project(t, db, payloads...)
	assert.Equal(t, usersBefore, countRows(t, db, "users"))
	assert.Equal(t, friendshipsBefore, scanFriendships(t, db))
	assert.Equal(t, referralsBefore, countRows(t, db, "referrals"))
	assert.Equal(t, 6, countRows(t, db, "transaction_logs"))
}

func TestProjectEmptyBatch(t *testing.T) {
	projector := &Projector{Log: zaptest.NewLogger(t)}
	require.NoError(t, projector.Project(context.Background(), &plan.Resolved{}))
}

func TestProjectChunkedUpserts(t *testing.T) {
	db := testDB(t)
	ctx := context.Background()
	store := &Store{DB: db}
	ids := make([]int64, 7)
	for i := range ids {
		id, err := store.InsertUser(ctx, fmt.Sprintf("user%02d", i))
		require.NoError(t, err)
		ids[i] = id
	}
	var pairs []plan.IDPair
	for i := 1; i < len(ids); i++ {
		pairs = append(pairs, plan.IDPair{ID1: ids[0], ID2: ids[i]})
	}
	projector := &Projector{DB: db, Log: zaptest.NewLogger(t), upsertChunk: 2, insertChunk: 2}
	require.NoError(t, projector.Project(ctx, &plan.Resolved{Friendships: pairs}))
	assert.Len(t, scanFriendships(t, db), len(pairs))
}
