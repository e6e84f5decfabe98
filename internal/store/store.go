// Package store persists the materialized entities in SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/db"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/internal/metrics"
	"github.com/goran-ethernal/StarboardIndexor/internal/migrations"
	"github.com/goran-ethernal/StarboardIndexor/internal/state"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/goran-ethernal/StarboardIndexor/pkg/model"
	"github.com/russross/meddler"
)

// Compile-time check to ensure Store implements state.Storage.
var _ state.Storage = (*Store)(nil)

// Store is the SQLite entity store.
type Store struct {
	db          *sql.DB
	log         *logger.Logger
	maintenance db.Maintenance
	upserts     map[model.Kind]string
}

// New creates a store over an already migrated database.
func New(sqlDB *sql.DB, maintenance db.Maintenance, log *logger.Logger) (*Store, error) {
	if maintenance == nil {
		maintenance = &db.NoOpMaintenance{}
	}

	s := &Store{
		db:          sqlDB,
		log:         log.WithComponent(common.ComponentStore),
		maintenance: maintenance,
		upserts:     make(map[model.Kind]string, len(model.Kinds)),
	}

	for _, kind := range model.Kinds {
		query, err := upsertQuery(kind)
		if err != nil {
			return nil, err
		}
		s.upserts[kind] = query
	}

	return s, nil
}

// Open opens the database described by cfg, brings its schema up to date and returns a store over it.
// The caller owns the returned *sql.DB.
func Open(cfg config.DatabaseConfig, maintenance db.Maintenance, log *logger.Logger) (*Store, *sql.DB, error) {
	sqlDB, err := db.NewSQLiteDBFromConfig(cfg)
	if err != nil {
		return nil, nil, err
	}

	if err := migrations.RunMigrations(log, sqlDB); err != nil {
		sqlDB.Close()
		return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	s, err := New(sqlDB, maintenance, log)
	if err != nil {
		sqlDB.Close()
		return nil, nil, err
	}

	return s, sqlDB, nil
}

// DB returns the underlying database handle.
func (s *Store) DB() *sql.DB {
	return s.db
}

// upsertQuery builds an INSERT ... ON CONFLICT(id) DO UPDATE statement from the meddler tags of kind.
func upsertQuery(kind model.Kind) (string, error) {
	columns, err := meddler.SQLite.Columns(model.New(kind), true)
	if err != nil {
		return "", fmt.Errorf("failed to read columns of %s: %w", kind, err)
	}

	quoted := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	updates := make([]string, 0, len(columns))
	for i, col := range columns {
		quoted[i] = `"` + col + `"`
		placeholders[i] = "?"
		if col != "id" {
			updates = append(updates, fmt.Sprintf(`"%s" = excluded."%s"`, col, col))
		}
	}

	return fmt.Sprintf(`INSERT INTO "%s" (%s) VALUES (%s) ON CONFLICT("id") DO UPDATE SET %s`,
		kind,
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	), nil
}

// Get loads one entity by kind and id.
func (s *Store) Get(ctx context.Context, kind model.Kind, id string) (model.Entity, error) {
	dst := model.New(kind)
	if dst == nil {
		return nil, fmt.Errorf("unknown entity kind %s", kind)
	}

	query := fmt.Sprintf(`SELECT * FROM "%s" WHERE id = ?`, kind)
	if err := meddler.QueryRow(s.db, dst, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, state.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get %s %s: %w", kind, id, err)
	}

	return dst, nil
}

// ListOpenPositions returns the stored open positions of a market ordered by id.
func (s *Store) ListOpenPositions(ctx context.Context, marketID string) ([]*model.Position, error) {
	var positions []*model.Position

	err := meddler.QueryAll(s.db, &positions,
		`SELECT * FROM position WHERE market_id = ? AND status = ? ORDER BY id ASC`,
		marketID, model.PositionStatusOpen)
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions: %w", err)
	}

	return positions, nil
}

// ListPositionTrades returns the stored trades of a position id ordered by id.
func (s *Store) ListPositionTrades(ctx context.Context, positionID string) ([]*model.Trade, error) {
	var trades []*model.Trade

	err := meddler.QueryAll(s.db, &trades,
		`SELECT * FROM trade WHERE position_id = ? ORDER BY id ASC`, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list position trades: %w", err)
	}

	return trades, nil
}

// ProcessedReceipts returns the receipts committed within [fromHeight, toHeight].
func (s *Store) ProcessedReceipts(ctx context.Context, fromHeight, toHeight uint64) ([]state.ReceiptKey, error) {
	var rows []*state.ReceiptKey

	err := meddler.QueryAll(s.db, &rows,
		`SELECT height, receipt_index, tx_id FROM processed_receipt
		 WHERE height >= ? AND height <= ? ORDER BY height ASC, receipt_index ASC`,
		fromHeight, toHeight)
	if err != nil {
		return nil, fmt.Errorf("failed to query processed receipts: %w", err)
	}

	keys := make([]state.ReceiptKey, len(rows))
	for i, r := range rows {
		keys[i] = *r
	}

	return keys, nil
}

// Commit upserts every entity of the write set and records its receipts in one
// transaction. The fences run first, inside the same transaction.
func (s *Store) Commit(ctx context.Context, ws *state.WriteSet, fences ...state.Fence) error {
	if ws.Empty() {
		return nil
	}

	unlock := s.maintenance.AcquireOperationLock()
	defer unlock()

	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Errorf("failed to rollback transaction: %v", err)
		}
	}()

	for _, fence := range fences {
		if err := fence(ctx, tx); err != nil {
			return err
		}
	}

	err = ws.Each(func(e model.Entity) error {
		values, err := meddler.SQLite.Values(e, true)
		if err != nil {
			return fmt.Errorf("failed to encode %s %s: %w", e.EntityKind(), e.EntityID(), err)
		}

		if _, err := tx.ExecContext(ctx, s.upserts[e.EntityKind()], values...); err != nil {
			return fmt.Errorf("failed to upsert %s %s: %w", e.EntityKind(), e.EntityID(), err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	const markQuery = `INSERT INTO processed_receipt (height, receipt_index, tx_id) VALUES (?, ?, ?)
		ON CONFLICT(height, receipt_index) DO NOTHING`
	for _, r := range ws.Receipts() {
		if _, err := tx.ExecContext(ctx, markQuery, r.Height, r.Index, r.TxID); err != nil {
			return fmt.Errorf("failed to record receipt %d/%d: %w", r.Height, r.Index, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	for kind, n := range ws.Counts() {
		metrics.EntitiesWrittenAdd(string(kind), n)
	}
	metrics.CommitDurationLog(time.Since(start))

	s.log.Debugf("committed %d entities and %d receipts in %v", ws.Len(), len(ws.Receipts()), time.Since(start))

	return nil
}

// All returns every stored entity of a kind ordered by id.
func (s *Store) All(ctx context.Context, kind model.Kind) ([]model.Entity, error) {
	query := fmt.Sprintf(`SELECT id FROM "%s" ORDER BY id ASC`, kind)

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan %s id: %w", kind, err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", kind, err)
	}

	out := make([]model.Entity, 0, len(ids))
	for _, id := range ids {
		e, err := s.Get(ctx, kind, id)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}

	return out, nil
}

// Count returns the number of stored entities of a kind.
func (s *Store) Count(ctx context.Context, kind model.Kind) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, fmt.Sprintf(`SELECT COUNT(*) FROM "%s"`, kind)).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count %s: %w", kind, err)
	}
	return n, nil
}
