package checkpoint

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrLeaseHeld is returned by Acquire while another owner holds an unexpired lease.
	ErrLeaseHeld = errors.New("checkpoint lease is held by another owner")

	// ErrLeaseLost is returned when this owner no longer holds the lease.
	ErrLeaseLost = errors.New("checkpoint lease lost")
)

// Checkpoint is the durable progress marker of one process.
type Checkpoint struct {
	Process   string
	Height    uint64
	BlockHash common.Hash
	// HasHeight is false until the first batch is committed.
	HasHeight bool
	UpdatedAt time.Time
}

// NextHeight returns the first height that still needs processing.
func (c Checkpoint) NextHeight(startBlock uint64) uint64 {
	if !c.HasHeight {
		return startBlock
	}
	return c.Height + 1
}

// Store persists the checkpoint of a fixed process name and guards it with a
// single-owner lease.
type Store interface {
	// Acquire takes the lease, or renews it when this owner already holds it.
	Acquire(ctx context.Context) error

	// Load returns the stored checkpoint. A fresh store returns a checkpoint with HasHeight false.
	Load(ctx context.Context) (Checkpoint, error)

	// Save advances the checkpoint and renews the lease.
	Save(ctx context.Context, height uint64, blockHash common.Hash) error

	// Renew extends the lease without touching the checkpoint.
	Renew(ctx context.Context) error

	// Fence renews the lease inside tx and fails with ErrLeaseLost when the lease
	// is gone. Entity commits run it before writing.
	Fence(ctx context.Context, tx *sql.Tx) error

	// Reset moves the checkpoint to height, or clears it when height is nil. The lease must be held.
	Reset(ctx context.Context, height *uint64) error

	// Release gives up the lease.
	Release(ctx context.Context) error

	// Owner returns the owner identity of this store.
	Owner() string
}
