// Package names maintains the process-wide user-identity cache that maps
// user names to store ids, creating users lazily the first time a name is
// observed.
package names

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"go.grapht.network/grapht/pkg/graphdb"
)

// Store is the subset of user operations the cache needs.
// *graphdb.Store implements it.
type Store interface {
	ScanUsers(ctx context.Context) (map[string]int64, error)
	InsertUser(ctx context.Context, name string) (int64, error)
	LookupUser(ctx context.Context, name string) (int64, error)
}

// Defaults.
const (
	DefaultTTL         = 30 * time.Second
	DefaultMaxRetries  = 3
	DefaultOverlaySize = 1 << 16
)

// Cache resolves user names to ids.
//
// A full snapshot of the user table is loaded on Connect and replaced
// wholesale when it turns stale. Ids created between refreshes live in a
// bounded LRU overlay; losing an overlay entry to eviction only costs an
// extra insert attempt that collapses into a lookup.
type Cache struct {
	// Required components
	Store Store
	Log   *zap.Logger
	// Optional config, zero values pick the defaults above.
	TTL         time.Duration
	MaxRetries  int
	OverlaySize int

	mu          sync.RWMutex
	snapshot    map[string]int64
	lastRefresh time.Time
	overlay     *lru.Cache

	flight singleflight.Group
}

func (c *Cache) ttl() time.Duration {
	if c.TTL > 0 {
		return c.TTL
	}
	return DefaultTTL
}

func (c *Cache) maxRetries() int {
	if c.MaxRetries > 0 {
		return c.MaxRetries
	}
	return DefaultMaxRetries
}

// Connect performs the initial full scan of the user table.
func (c *Cache) Connect(ctx context.Context) error {
	size := c.OverlaySize
	if size <= 0 {
		size = DefaultOverlaySize
	}
	overlay, err := lru.New(size)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.overlay = overlay
	c.mu.Unlock()
	return c.refresh(ctx)
}

// RefreshIfStale re-scans the user table if the snapshot outlived the TTL.
// Concurrent callers during a refresh observe either the old or the new
// snapshot, never a partial one.
func (c *Cache) RefreshIfStale(ctx context.Context) error {
	c.mu.RLock()
	stale := time.Since(c.lastRefresh) > c.ttl()
	c.mu.RUnlock()
	if !stale {
		return nil
	}
	_, err, _ := c.flight.Do("\x00refresh", func() (interface{}, error) {
		c.mu.RLock()
		stale := time.Since(c.lastRefresh) > c.ttl()
		c.mu.RUnlock()
		if !stale {
			return nil, nil
		}
		return nil, c.refresh(ctx)
	})
	return err
}

func (c *Cache) refresh(ctx context.Context) error {
	start := time.Now()
	users, err := c.Store.ScanUsers(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan users: %w", err)
	}
	c.mu.Lock()
	c.snapshot = users
	c.lastRefresh = time.Now()
	if c.overlay != nil {
		c.overlay.Purge()
	}
	c.mu.Unlock()
	c.Log.Debug("Refreshed identity cache",
		zap.Int("users", len(users)),
		zap.Duration("elapsed", time.Since(start)))
	return nil
}

// lookup consults snapshot and overlay.
func (c *Cache) lookup(name string) (int64, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if id, ok := c.snapshot[name]; ok {
		return id, true
	}
	if c.overlay != nil {
		if id, ok := c.overlay.Get(name); ok {
			return id.(int64), true
		}
	}
	return 0, false
}

func (c *Cache) remember(name string, id int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.overlay != nil {
		c.overlay.Add(name, id)
	}
}

// EnsureUsers resolves every name to an id, creating missing users.
// Concurrent batches demanding the same unknown name share one insert
// through the per-name single-flight group.
func (c *Cache) EnsureUsers(ctx context.Context, userNames []string) (map[string]int64, error) {
	if err := c.RefreshIfStale(ctx); err != nil {
		return nil, err
	}
	ids := make(map[string]int64, len(userNames))
	var misses []string
	for _, name := range userNames {
		if id, ok := c.lookup(name); ok {
			ids[name] = id
		} else {
			misses = append(misses, name)
		}
	}
	for _, name := range misses {
		id, err, _ := c.flight.Do(name, func() (interface{}, error) {
			if id, ok := c.lookup(name); ok {
				return id, nil
			}
			id, err := c.createUser(ctx, name)
			if err != nil {
				return int64(0), err
			}
			c.remember(name, id)
			return id, nil
		})
		if err != nil {
			return nil, fmt.Errorf("failed to ensure user %q: %w", name, err)
		}
		ids[name] = id.(int64)
	}
	return ids, nil
}

// createUser inserts the user, absorbing the unique violation raised when
// another worker created it first. Deadlocks retry with exponential backoff.
func (c *Cache) createUser(ctx context.Context, name string) (int64, error) {
	var id int64
	attempt := 0
	operation := func() error {
		attempt++
		var err error
		id, err = c.Store.InsertUser(ctx, name)
		if err == nil {
			return nil
		}
		if graphdb.IsUniqueViolation(err) {
			id, err = c.Store.LookupUser(ctx, name)
			if errors.Is(err, sql.ErrNoRows) {
				// The winning insert rolled back after we lost the race.
				return fmt.Errorf("user %q vanished after conflict", name)
			}
			return err
		}
		if graphdb.IsDeadlock(err) {
			c.Log.Warn("Deadlock during user insert, retrying",
				zap.String("name", name),
				zap.Int("attempt", attempt))
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(operation,
		backoff.WithContext(graphdb.RetryBackOff(c.maxRetries()), ctx))
	return id, err
}
