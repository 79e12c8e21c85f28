package graphdb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"go.grapht.network/grapht/pkg/plan"
)

// Projector commits resolved batches to the store.
// One call is one transaction; deadlocks retry the whole transaction.
type Projector struct {
	// Required components
	DB  *sqlx.DB
	Log *zap.Logger
	// Optional config, zero values pick the defaults below.
	TxTimeout   time.Duration // per-transaction deadline (default 60s)
	MaxAttempts int           // total transaction attempts on deadlock (default 5)
	// OnDeadlock is called once per deadlock retry, if set.
	OnDeadlock func()

	// chunk sizes, overridable in tests
	upsertChunk int
	insertChunk int
}

const (
	defaultTxTimeout   = 60 * time.Second
	defaultMaxAttempts = 5
	defaultUpsertChunk = 100
	defaultInsertChunk = 1000
)

func (p *Projector) txTimeout() time.Duration {
	if p.TxTimeout > 0 {
		return p.TxTimeout
	}
	return defaultTxTimeout
}

func (p *Projector) attempts() int {
	if p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return defaultMaxAttempts
}

// RetryBackOff builds the deadlock-retry schedule: exponential from 100ms,
// doubling per attempt, randomized around each interval.
func RetryBackOff(maxAttempts int) backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.Multiplier = 2
	bo.RandomizationFactor = 0.5
	bo.MaxInterval = 10 * time.Second
	bo.MaxElapsedTime = 0
	return backoff.WithMaxRetries(bo, uint64(maxAttempts-1))
}

// Project materializes a resolved batch in one READ COMMITTED transaction.
// On deadlock the whole transaction is retried with exponential backoff;
// any other error fails the batch.
func (p *Projector) Project(ctx context.Context, res *plan.Resolved) error {
	if res.Empty() {
		return nil
	}
	attempt := 0
	operation := func() error {
		attempt++
		err := p.projectOnce(ctx, res)
		if err == nil {
			return nil
		}
		if IsDeadlock(err) {
			if attempt >= p.attempts() {
				return backoff.Permanent(err)
			}
			p.Log.Warn("Deadlock detected, retrying transaction",
				zap.Int("attempt", attempt),
				zap.Int("max_attempts", p.attempts()),
				zap.Error(err))
			if p.OnDeadlock != nil {
				p.OnDeadlock()
			}
			return err
		}
		return backoff.Permanent(err)
	}
	return backoff.Retry(operation, backoff.WithContext(RetryBackOff(p.attempts()), ctx))
}

func (p *Projector) projectOnce(ctx context.Context, res *plan.Resolved) error {
	ctx, cancel := context.WithTimeout(ctx, p.txTimeout())
	defer cancel()
	tx, err := p.DB.BeginTxx(ctx, &sql.TxOptions{
		Isolation: sql.LevelReadCommitted,
		ReadOnly:  false,
	})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()
	if err := p.insertReferrals(ctx, tx, res.Referrals); err != nil {
		return fmt.Errorf("referrals: %w", err)
	}
	if err := p.upsertFriendships(ctx, tx, res.Friendships); err != nil {
		return fmt.Errorf("friendships: %w", err)
	}
	if err := p.deactivateFriendships(ctx, tx, res.Unfriendships); err != nil {
		return fmt.Errorf("unfriendships: %w", err)
	}
	if err := p.insertLogs(ctx, tx, res.Logs); err != nil {
		return fmt.Errorf("transaction logs: %w", err)
	}
	return tx.Commit()
}

type referralRow struct {
	ReferrerID int64 `db:"referrer_id"`
	ReferredID int64 `db:"referred_id"`
}

func (p *Projector) insertReferrals(ctx context.Context, tx *sqlx.Tx, edges []plan.IDPair) error {
	const stmt = `INSERT INTO referrals (referrer_id, referred_id)
VALUES (:referrer_id, :referred_id)
ON CONFLICT (referrer_id, referred_id) DO NOTHING`
	rows := make([]referralRow, len(edges))
	for i, edge := range edges {
		rows[i] = referralRow{ReferrerID: edge.ID1, ReferredID: edge.ID2}
	}
	return namedChunked(ctx, tx, stmt, rows, p.chunkOr(p.insertChunk, defaultInsertChunk))
}

func (p *Projector) upsertFriendships(ctx context.Context, tx *sqlx.Tx, pairs []plan.IDPair) error {
	const stmt = `INSERT INTO friendships (user1_id, user2_id, status)
VALUES (:user1_id, :user2_id, 'ACTIVE')
ON CONFLICT (user1_id, user2_id)
DO UPDATE SET status = 'ACTIVE', updated_at = now()`
	return namedChunked(ctx, tx, stmt, pairs, p.chunkOr(p.upsertChunk, defaultUpsertChunk))
}

// deactivateFriendships flips matching ACTIVE rows to INACTIVE.
// Pairs without a row, or already INACTIVE, are left alone.
func (p *Projector) deactivateFriendships(ctx context.Context, tx *sqlx.Tx, pairs []plan.IDPair) error {
	chunk := p.chunkOr(p.insertChunk, defaultInsertChunk)
	for len(pairs) > 0 {
		n := len(pairs)
		if n > chunk {
			n = chunk
		}
		var sb strings.Builder
		args := make([]interface{}, 0, 2*n)
		for i, pair := range pairs[:n] {
			if i > 0 {
				sb.WriteString(", ")
			}
			fmt.Fprintf(&sb, "($%d::bigint, $%d::bigint)", 2*i+1, 2*i+2)
			args = append(args, pair.ID1, pair.ID2)
		}
		stmt := fmt.Sprintf(`UPDATE friendships AS f
SET status = 'INACTIVE', updated_at = now()
FROM (VALUES %s) AS v (user1_id, user2_id)
WHERE f.user1_id = v.user1_id AND f.user2_id = v.user2_id AND f.status = 'ACTIVE'`,
			sb.String())
		if _, err := tx.ExecContext(ctx, stmt, args...); err != nil {
			return err
		}
		pairs = pairs[n:]
	}
	return nil
}

func (p *Projector) insertLogs(ctx context.Context, tx *sqlx.Tx, logs []plan.ResolvedLog) error {
	const stmt = `INSERT INTO transaction_logs (user_id, transaction_type, transaction_data)
VALUES (:user_id, :transaction_type, CAST(:transaction_data AS JSONB))`
	return namedChunked(ctx, tx, stmt, logs, p.chunkOr(p.insertChunk, defaultInsertChunk))
}

func (p *Projector) chunkOr(v, def int) int {
	if v > 0 {
		return v
	}
	return def
}

// namedChunked runs a named multi-row statement in chunks so large batches
// stay under the wire-protocol parameter limit.
func namedChunked[T any](ctx context.Context, tx *sqlx.Tx, stmt string, rows []T, chunk int) error {
	for len(rows) > 0 {
		n := len(rows)
		if n > chunk {
			n = chunk
		}
		if _, err := tx.NamedExecContext(ctx, stmt, rows[:n]); err != nil {
			return err
		}
		rows = rows[n:]
	}
	return nil
}
