package checkpoint

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	pkgcheckpoint "github.com/goran-ethernal/StarboardIndexor/pkg/checkpoint"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/russross/meddler"
)

// sqlLease keeps the owner and expiry in the checkpoint row itself.
type sqlLease struct {
	process string
	owner   string
	ttl     time.Duration
}

func (l *sqlLease) backend() string { return config.CheckpointBackendSQLite }

func (l *sqlLease) read(tx *sql.Tx) (*checkpointRow, error) {
	var row checkpointRow
	if err := meddler.QueryRow(tx, &row, `SELECT * FROM checkpoint WHERE process = ?`, l.process); err != nil {
		return nil, fmt.Errorf("failed to read lease: %w", err)
	}
	return &row, nil
}

func (l *sqlLease) extend(ctx context.Context, tx *sql.Tx, now time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE checkpoint SET owner = ?, lease_expires_at = ? WHERE process = ?`,
		l.owner, now.Add(l.ttl).UnixMilli(), l.process)
	if err != nil {
		return fmt.Errorf("failed to extend lease: %w", err)
	}
	return nil
}

func (l *sqlLease) acquire(ctx context.Context, tx *sql.Tx, now time.Time) error {
	row, err := l.read(tx)
	if err != nil {
		return err
	}

	if row.Owner != "" && row.Owner != l.owner && row.LeaseExpiresAt > now.UnixMilli() {
		return fmt.Errorf("%w: owner %s until %s", pkgcheckpoint.ErrLeaseHeld,
			row.Owner, time.UnixMilli(row.LeaseExpiresAt).UTC().Format(time.RFC3339))
	}

	return l.extend(ctx, tx, now)
}

func (l *sqlLease) renew(ctx context.Context, tx *sql.Tx, now time.Time) error {
	row, err := l.read(tx)
	if err != nil {
		return err
	}

	if row.Owner != l.owner {
		return fmt.Errorf("%w: now owned by %q", pkgcheckpoint.ErrLeaseLost, row.Owner)
	}

	return l.extend(ctx, tx, now)
}

func (l *sqlLease) release(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE checkpoint SET owner = '', lease_expires_at = 0 WHERE process = ? AND owner = ?`,
		l.process, l.owner)
	if err != nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}

// RedisClient is the subset of the redis client used by the lease. *redis.Client satisfies it.
type RedisClient interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
	Close() error
}

const (
	renewScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`

	releaseScript = `if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`
)

// redisLease is a SET NX PX key whose value is the owner.
type redisLease struct {
	client RedisClient
	key    string
	owner  string
	ttl    time.Duration
}

func (l *redisLease) backend() string { return config.CheckpointBackendRedis }

func (l *redisLease) close() error { return l.client.Close() }

func (l *redisLease) extend(ctx context.Context) (bool, error) {
	n, err := l.client.Eval(ctx, renewScript, []string{l.key}, l.owner, l.ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("failed to renew redis lease %s: %w", l.key, err)
	}
	return n == 1, nil
}

func (l *redisLease) acquire(ctx context.Context, _ *sql.Tx, _ time.Time) error {
	ok, err := l.client.SetNX(ctx, l.key, l.owner, l.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire redis lease %s: %w", l.key, err)
	}
	if ok {
		return nil
	}

	renewed, err := l.extend(ctx)
	if err != nil {
		return err
	}
	if !renewed {
		return fmt.Errorf("%w: redis key %s", pkgcheckpoint.ErrLeaseHeld, l.key)
	}
	return nil
}

func (l *redisLease) renew(ctx context.Context, _ *sql.Tx, _ time.Time) error {
	renewed, err := l.extend(ctx)
	if err != nil {
		return err
	}
	if !renewed {
		return fmt.Errorf("%w: redis key %s", pkgcheckpoint.ErrLeaseLost, l.key)
	}
	return nil
}

func (l *redisLease) release(ctx context.Context, _ *sql.Tx) error {
	if err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.owner).Err(); err != nil {
		return fmt.Errorf("failed to release redis lease %s: %w", l.key, err)
	}
	return nil
}
