package names

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeStore implements Store in memory and counts operations.
type fakeStore struct {
	mu      sync.Mutex
	users   map[string]int64
	nextID  int64
	inserts int
	scans   int

	insertDelay time.Duration
	insertErrs  []error // consumed one per InsertUser call
}

func newFakeStore() *fakeStore {
	return &fakeStore{users: make(map[string]int64)}
}

// add creates a user behind the cache's back, like another process would.
func (f *fakeStore) add(name string) int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	f.users[name] = f.nextID
	return f.nextID
}

func (f *fakeStore) ScanUsers(_ context.Context) (map[string]int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scans++
	users := make(map[string]int64, len(f.users))
	for name, id := range f.users {
		users[name] = id
	}
	return users, nil
}

func (f *fakeStore) InsertUser(_ context.Context, name string) (int64, error) {
	if f.insertDelay > 0 {
		time.Sleep(f.insertDelay)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	if len(f.insertErrs) > 0 {
		err := f.insertErrs[0]
		f.insertErrs = f.insertErrs[1:]
		if err != nil {
			return 0, err
		}
	}
	if _, ok := f.users[name]; ok {
		return 0, &pgconn.PgError{Code: "23505", Message: "duplicate key value violates unique constraint"}
	}
	f.nextID++
	f.users[name] = f.nextID
	return f.nextID, nil
}

func (f *fakeStore) LookupUser(_ context.Context, name string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.users[name]
	if !ok {
		return 0, sql.ErrNoRows
	}
	return id, nil
}

func (f *fakeStore) insertCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inserts
}

func setupCache(t *testing.T, store *fakeStore) *Cache {
	t.Helper()
	cache := &Cache{Store: store, Log: zaptest.NewLogger(t)}
	require.NoError(t, cache.Connect(context.Background()))
	return cache
}

func TestEnsureUsersCreatesMissing(t *testing.T) {
	store := newFakeStore()
	cache := setupCache(t, store)
	ctx := context.Background()

	ids, err := cache.EnsureUsers(ctx, []string{"alice", "bob"})
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.NotEqual(t, ids["alice"], ids["bob"])
	assert.Equal(t, 2, store.insertCount())

	// Second batch hits the overlay, no further inserts.
	again, err := cache.EnsureUsers(ctx, []string{"alice", "bob"})
	require.NoError(t, err)
	assert.Equal(t, ids, again)
	assert.Equal(t, 2, store.insertCount())
}

func TestEnsureUsersAbsorbsConflict(t *testing.T) {
	store := newFakeStore()
	cache := setupCache(t, store)
	// dave appears in the store after the cache connected, so the insert
	// races and loses.
	daveID := store.add("dave")

	ids, err := cache.EnsureUsers(context.Background(), []string{"dave"})
	require.NoError(t, err)
	assert.Equal(t, daveID, ids["dave"])
	assert.Equal(t, 1, store.insertCount())
}

func TestRefreshAfterTTL(t *testing.T) {
	store := newFakeStore()
	cache := &Cache{Store: store, Log: zaptest.NewLogger(t), TTL: time.Millisecond}
	require.NoError(t, cache.Connect(context.Background()))
	daveID := store.add("dave")
	time.Sleep(5 * time.Millisecond)

	// The stale snapshot is refreshed before resolution, so dave is a
	// cache hit and no insert is attempted.
	ids, err := cache.EnsureUsers(context.Background(), []string{"dave"})
	require.NoError(t, err)
	assert.Equal(t, daveID, ids["dave"])
	assert.Equal(t, 0, store.insertCount())
	assert.GreaterOrEqual(t, store.scans, 2)
}

func TestSingleFlight(t *testing.T) {
	store := newFakeStore()
	store.insertDelay = 20 * time.Millisecond
	cache := setupCache(t, store)

	var wg sync.WaitGroup
	results := make([]map[string]int64, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			ids, err := cache.EnsureUsers(context.Background(), []string{"mallory"})
			assert.NoError(t, err)
			results[i] = ids
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, store.insertCount())
	for _, ids := range results {
		assert.Equal(t, results[0]["mallory"], ids["mallory"])
	}
}

func TestDeadlockRetry(t *testing.T) {
	store := newFakeStore()
	deadlock := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	store.insertErrs = []error{deadlock, deadlock, nil}
	cache := setupCache(t, store)

	ids, err := cache.EnsureUsers(context.Background(), []string{"alice"})
	require.NoError(t, err)
	assert.NotZero(t, ids["alice"])
	assert.Equal(t, 3, store.insertCount())
}

func TestDeadlockRetryExhausted(t *testing.T) {
	store := newFakeStore()
	deadlock := &pgconn.PgError{Code: "40P01", Message: "deadlock detected"}
	store.insertErrs = []error{deadlock, deadlock, deadlock, deadlock}
	cache := &Cache{Store: store, Log: zaptest.NewLogger(t), MaxRetries: 3}
	require.NoError(t, cache.Connect(context.Background()))

	_, err := cache.EnsureUsers(context.Background(), []string{"alice"})
	require.Error(t, err)
	assert.Equal(t, 3, store.insertCount())
}

func TestFatalInsertError(t *testing.T) {
	store := newFakeStore()
	store.insertErrs = []error{errors.New("connection reset")}
	cache := setupCache(t, store)

	_, err := cache.EnsureUsers(context.Background(), []string{"alice"})
	require.Error(t, err)
	assert.Equal(t, 1, store.insertCount())
}
