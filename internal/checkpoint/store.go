package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/ethereum/go-ethereum/common"
	icommon "github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/internal/metrics"
	pkgcheckpoint "github.com/goran-ethernal/StarboardIndexor/pkg/checkpoint"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/redis/go-redis/v9"
	"github.com/russross/meddler"
)

// Compile-time check to ensure Store implements the checkpoint.Store interface.
var _ pkgcheckpoint.Store = (*Store)(nil)

// checkpointRow is the stored form of a checkpoint.
type checkpointRow struct {
	Process        string       `meddler:"process"`
	Height         uint64       `meddler:"height"`
	BlockHash      *common.Hash `meddler:"block_hash,hash"`
	HasHeight      bool         `meddler:"has_height"`
	Owner          string       `meddler:"owner"`
	LeaseExpiresAt int64        `meddler:"lease_expires_at"`
	UpdatedAt      int64        `meddler:"updated_at"`
}

// lease guards the checkpoint row. Methods run inside the checkpoint transaction.
type lease interface {
	acquire(ctx context.Context, tx *sql.Tx, now time.Time) error
	renew(ctx context.Context, tx *sql.Tx, now time.Time) error
	release(ctx context.Context, tx *sql.Tx) error
	backend() string
}

// Store keeps the checkpoint in the entity database. Ownership is guarded by a
// lease held either in the same row or in redis.
type Store struct {
	db      *sql.DB
	process string
	owner   string
	lease   lease
	log     *logger.Logger
	now     func() time.Time
}

// DefaultOwner returns an owner identity unique to this process instance.
func DefaultOwner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// New creates the checkpoint store selected by cfg.
func New(cfg config.CheckpointConfig, process string, sqlDB *sql.DB, log *logger.Logger) (*Store, error) {
	owner := cfg.Owner
	if owner == "" {
		owner = DefaultOwner()
	}

	switch cfg.Backend {
	case config.CheckpointBackendSQLite, "":
		return NewSQLiteStore(sqlDB, process, owner, cfg.LeaseTTL.Duration, log), nil
	case config.CheckpointBackendRedis:
		if cfg.Redis == nil {
			return nil, errors.New("redis configuration is required for the redis backend")
		}
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		return NewRedisStore(sqlDB, client, cfg.Redis.KeyPrefix, process, owner, cfg.LeaseTTL.Duration, log), nil
	default:
		return nil, fmt.Errorf("unknown checkpoint backend %q", cfg.Backend)
	}
}

// NewSQLiteStore creates a store whose lease lives in the checkpoint row.
func NewSQLiteStore(sqlDB *sql.DB, process, owner string, ttl time.Duration, log *logger.Logger) *Store {
	return newStore(sqlDB, process, owner, &sqlLease{process: process, owner: owner, ttl: ttl}, log)
}

// NewRedisStore creates a store whose lease is a redis key.
func NewRedisStore(
	sqlDB *sql.DB,
	client RedisClient,
	keyPrefix, process, owner string,
	ttl time.Duration,
	log *logger.Logger,
) *Store {
	return newStore(sqlDB, process, owner, &redisLease{
		client: client,
		key:    keyPrefix + process,
		owner:  owner,
		ttl:    ttl,
	}, log)
}

func newStore(sqlDB *sql.DB, process, owner string, l lease, log *logger.Logger) *Store {
	return &Store{
		db:      sqlDB,
		process: process,
		owner:   owner,
		lease:   l,
		log:     log.WithComponent(icommon.ComponentCheckpoint),
		now:     time.Now,
	}
}

// Owner returns the owner identity of this store.
func (s *Store) Owner() string {
	return s.owner
}

// Acquire takes the lease, or renews it when this owner already holds it.
func (s *Store) Acquire(ctx context.Context) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return s.lease.acquire(ctx, tx, s.now())
	})
	if err != nil {
		return err
	}

	s.log.Infow("checkpoint lease acquired", "process", s.process, "owner", s.owner, "backend", s.lease.backend())
	return nil
}

// Load returns the stored checkpoint.
func (s *Store) Load(ctx context.Context) (pkgcheckpoint.Checkpoint, error) {
	var row checkpointRow

	err := meddler.QueryRow(s.db, &row, `SELECT * FROM checkpoint WHERE process = ?`, s.process)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return pkgcheckpoint.Checkpoint{Process: s.process}, nil
		}
		return pkgcheckpoint.Checkpoint{}, fmt.Errorf("failed to load checkpoint: %w", err)
	}

	cp := pkgcheckpoint.Checkpoint{
		Process:   row.Process,
		Height:    row.Height,
		HasHeight: row.HasHeight,
	}
	if row.BlockHash != nil {
		cp.BlockHash = *row.BlockHash
	}
	if row.UpdatedAt > 0 {
		cp.UpdatedAt = time.UnixMilli(row.UpdatedAt).UTC()
	}

	return cp, nil
}

// Save advances the checkpoint and renews the lease.
func (s *Store) Save(ctx context.Context, height uint64, blockHash common.Hash) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()

		if err := s.renew(ctx, tx, now); err != nil {
			return err
		}

		row, err := s.readRow(tx)
		if err != nil {
			return err
		}
		if row.HasHeight && height < row.Height {
			return fmt.Errorf("checkpoint cannot move backwards from %d to %d", row.Height, height)
		}

		_, err = tx.ExecContext(ctx,
			`UPDATE checkpoint SET height = ?, block_hash = ?, has_height = 1, updated_at = ? WHERE process = ?`,
			height, blockHash.Hex(), now.UnixMilli(), s.process)
		if err != nil {
			return fmt.Errorf("failed to save checkpoint: %w", err)
		}
		return nil
	})
}

// Renew extends the lease. It returns ErrLeaseLost once another owner took over.
func (s *Store) Renew(ctx context.Context) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		return s.renew(ctx, tx, s.now())
	})
}

// Fence renews the lease inside tx, the transaction about to write entities, so
// the writes only commit while this owner holds the lease. The redis backend
// renews its key right before the writes instead.
func (s *Store) Fence(ctx context.Context, tx *sql.Tx) error {
	return s.renew(ctx, tx, s.now())
}

// Reset moves the checkpoint to height, or clears it when height is nil. Entities
// and processed receipt markers are left untouched.
func (s *Store) Reset(ctx context.Context, height *uint64) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		now := s.now()

		if err := s.renew(ctx, tx, now); err != nil {
			return err
		}

		var err error
		if height == nil {
			_, err = tx.ExecContext(ctx,
				`UPDATE checkpoint SET height = 0, block_hash = NULL, has_height = 0, updated_at = ? WHERE process = ?`,
				now.UnixMilli(), s.process)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE checkpoint SET height = ?, block_hash = NULL, has_height = 1, updated_at = ? WHERE process = ?`,
				*height, now.UnixMilli(), s.process)
		}
		if err != nil {
			return fmt.Errorf("failed to reset checkpoint: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	if height == nil {
		s.log.Warnw("checkpoint cleared", "process", s.process)
	} else {
		s.log.Warnw("checkpoint reset", "process", s.process, "height", *height)
	}
	return nil
}

// Release gives up the lease.
func (s *Store) Release(ctx context.Context) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		return s.lease.release(ctx, tx)
	})
	if err != nil {
		return err
	}

	s.log.Infow("checkpoint lease released", "process", s.process, "owner", s.owner)
	return nil
}

// Close releases resources held by the lease backend.
func (s *Store) Close() error {
	if c, ok := s.lease.(interface{ close() error }); ok {
		return c.close()
	}
	return nil
}

func (s *Store) renew(ctx context.Context, tx *sql.Tx, now time.Time) error {
	if err := s.lease.renew(ctx, tx, now); err != nil {
		if errors.Is(err, pkgcheckpoint.ErrLeaseLost) {
			metrics.LeaseRenewalInc(s.lease.backend(), "lost")
		} else {
			metrics.LeaseRenewalInc(s.lease.backend(), "error")
		}
		return err
	}
	metrics.LeaseRenewalInc(s.lease.backend(), "ok")
	return nil
}

func (s *Store) readRow(tx *sql.Tx) (*checkpointRow, error) {
	var row checkpointRow
	if err := meddler.QueryRow(tx, &row, `SELECT * FROM checkpoint WHERE process = ?`, s.process); err != nil {
		return nil, fmt.Errorf("failed to read checkpoint: %w", err)
	}
	return &row, nil
}

// inTx runs fn in a write transaction after making sure the checkpoint row exists.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO checkpoint (process) VALUES (?) ON CONFLICT(process) DO NOTHING`, s.process)
	if err != nil {
		return fmt.Errorf("failed to initialize checkpoint: %w", err)
	}

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}
