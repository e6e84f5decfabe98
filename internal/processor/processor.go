// Package processor drives blocks from the source through decoding and the
// event handlers into atomic batch commits.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/abi"
	"github.com/goran-ethernal/StarboardIndexor/internal/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/handlers"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/internal/metrics"
	"github.com/goran-ethernal/StarboardIndexor/internal/notify"
	"github.com/goran-ethernal/StarboardIndexor/internal/retry"
	"github.com/goran-ethernal/StarboardIndexor/internal/state"
	"github.com/goran-ethernal/StarboardIndexor/pkg/checkpoint"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/goran-ethernal/StarboardIndexor/pkg/source"
	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of the processing loop.
type State string

const (
	StateIdle       State = "idle"
	StateFetching   State = "fetching"
	StateProcessing State = "processing"
	StateCommitting State = "committing"
	StateFailed     State = "failed"
)

var allStates = []string{
	string(StateIdle),
	string(StateFetching),
	string(StateProcessing),
	string(StateCommitting),
	string(StateFailed),
}

// Receipt outcomes reported to metrics.
const (
	outcomeApplied      = "applied"
	outcomeUnhandled    = "unhandled"
	outcomeUnknown      = "unknown_log"
	outcomeDuplicate    = "duplicate"
	outcomeFiltered     = "filtered"
	outcomeDecodeError  = "decode_error"
	outcomeHandlerError = "handler_error"
)

// ErrFailed is returned by Run once the loop has given up.
var ErrFailed = errors.New("processor failed")

// headSource is implemented by sources that can report the chain head.
type headSource interface {
	Head(ctx context.Context) (uint64, error)
}

// Config configures the processing loop.
type Config struct {
	Process      string
	StartBlock   uint64
	BatchSize    uint64
	PollInterval time.Duration
	// Contracts restricts processing to these contract ids when not empty.
	Contracts         []string
	CommitRetry       *config.RetryConfig
	MaxCommitAttempts int
	// StopWhenCaughtUp makes Run return once the source has no more blocks.
	StopWhenCaughtUp bool
	// LeaseRenewInterval bounds how long the loop sleeps between lease renewals
	// while caught up or backing off. 0 renews only before and after each wait.
	LeaseRenewInterval time.Duration
}

// NewConfig builds the loop configuration from the application config.
func NewConfig(cfg *config.Config) Config {
	return Config{
		Process:           cfg.Processor.Name,
		StartBlock:        cfg.Source.StartBlock,
		BatchSize:         cfg.Source.BatchSize,
		PollInterval:      cfg.Source.PollInterval.Duration,
		Contracts:         cfg.Source.Contracts,
		CommitRetry:       cfg.Processor.CommitRetry,
		MaxCommitAttempts: cfg.Processor.MaxCommitAttempts,
		// three renewals per lease period
		LeaseRenewInterval: cfg.Checkpoint.LeaseTTL.Duration / 3, //nolint:mnd
	}
}

// Processor is the single-writer block processing loop.
type Processor struct {
	cfg         Config
	source      source.Source
	decoder     *abi.Decoder
	registry    *handlers.Registry
	storage     state.Storage
	checkpoints checkpoint.Store
	notifier    notify.Notifier
	log         *logger.Logger
	contracts   map[string]struct{}

	mu    sync.RWMutex
	state State
}

// New creates a processor. A nil notifier disables batch notifications.
func New(
	cfg Config,
	src source.Source,
	decoder *abi.Decoder,
	registry *handlers.Registry,
	storage state.Storage,
	checkpoints checkpoint.Store,
	notifier notify.Notifier,
	log *logger.Logger,
) *Processor {
	if cfg.BatchSize == 0 {
		cfg.BatchSize = 1
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}

	contracts := make(map[string]struct{}, len(cfg.Contracts))
	for _, c := range cfg.Contracts {
		contracts[common.ToLowerWithTrim(c)] = struct{}{}
	}

	p := &Processor{
		cfg:         cfg,
		source:      src,
		decoder:     decoder,
		registry:    registry,
		storage:     storage,
		checkpoints: checkpoints,
		notifier:    notifier,
		log:         log.WithComponent(common.ComponentProcessor),
		contracts:   contracts,
	}
	p.setState(StateIdle)

	return p
}

// State returns the current lifecycle state.
func (p *Processor) State() State {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.state
}

// Healthy reports an error once the loop has failed.
func (p *Processor) Healthy() error {
	if p.State() == StateFailed {
		return ErrFailed
	}
	return nil
}

func (p *Processor) setState(s State) {
	p.mu.Lock()
	p.state = s
	p.mu.Unlock()

	metrics.ProcessorStateSet(p.cfg.Process, string(s), allStates)
}

func (p *Processor) fail(cause error) error {
	p.setState(StateFailed)
	metrics.ErrorInc(common.ComponentProcessor, "fatal")
	metrics.ComponentHealthSet(common.ComponentProcessor, false)
	p.log.Errorw("processor failed", "error", cause)
	return fmt.Errorf("%w: %w", ErrFailed, cause)
}

// Run processes batches until ctx is cancelled or the loop fails. The checkpoint
// lease must already be held. Cancellation is observed between batches and
// never interrupts a commit.
func (p *Processor) Run(ctx context.Context) error {
	cp, err := p.checkpoints.Load(ctx)
	if err != nil {
		return p.fail(fmt.Errorf("failed to load checkpoint: %w", err))
	}

	next := cp.NextHeight(p.cfg.StartBlock)
	if cp.HasHeight {
		p.log.Infow("resuming", "process", p.cfg.Process, "last_height", cp.Height, "block_hash", cp.BlockHash.Hex())
	} else {
		p.log.Infow("starting fresh", "process", p.cfg.Process, "start_block", next)
	}
	metrics.ComponentHealthSet(common.ComponentProcessor, true)

	var (
		prefetched []source.Block
		failures   int
	)

	for {
		if err := ctx.Err(); err != nil {
			p.setState(StateIdle)
			p.log.Info("processor stopped")
			return err
		}

		blocks := prefetched
		prefetched = nil

		if blocks == nil {
			p.setState(StateFetching)
			blocks, err = p.source.Fetch(ctx, next, p.cfg.BatchSize)
			if err != nil {
				if ctx.Err() != nil {
					continue
				}
				failures++
				p.log.Warnw("failed to fetch blocks", "from", next, "attempt", failures, "error", err)
				metrics.ErrorInc(common.ComponentSource, "warning")
				if p.exhausted(failures) {
					return p.fail(fmt.Errorf("fetch from %d: %w", next, err))
				}
				if err := p.backoff(ctx, failures); err != nil {
					return p.fail(err)
				}
				continue
			}
		}

		if len(blocks) == 0 {
			p.setState(StateIdle)
			if p.cfg.StopWhenCaughtUp {
				p.log.Infow("caught up, stopping", "next", next)
				return nil
			}
			if err := p.waitForBlocks(ctx, next); err != nil {
				return p.fail(err)
			}
			continue
		}

		started := time.Now()

		p.setState(StateProcessing)
		ws, summary, err := p.apply(ctx, blocks)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			failures++
			p.log.Warnw("failed to apply batch", "from", next, "attempt", failures, "error", err)
			if p.exhausted(failures) {
				return p.fail(err)
			}
			if err := p.backoff(ctx, failures); err != nil {
				return p.fail(err)
			}
			continue
		}

		p.setState(StateCommitting)
		last := blocks[len(blocks)-1]
		prefetched, err = p.commitAndPrefetch(ctx, ws, last)
		if err != nil {
			failures++
			metrics.CommitFailureInc()
			p.log.Warnw("failed to commit batch",
				"from", summary.FromHeight,
				"to", summary.ToHeight,
				"attempt", failures,
				"error", err,
			)
			if errors.Is(err, checkpoint.ErrLeaseLost) || p.exhausted(failures) {
				return p.fail(err)
			}
			prefetched = nil
			if err := p.backoff(ctx, failures); err != nil {
				return p.fail(err)
			}
			continue
		}

		failures = 0
		next = last.Height + 1

		elapsed := time.Since(started)
		metrics.LastProcessedHeightSet(p.cfg.Process, last.Height)
		metrics.BlocksProcessedAdd(p.cfg.Process, len(blocks))
		metrics.BatchProcessingTimeLog(p.cfg.Process, elapsed)
		if elapsed > 0 {
			metrics.ProcessingRateLog(p.cfg.Process, float64(len(blocks))/elapsed.Seconds())
		}

		p.log.Infow("batch committed",
			"from", summary.FromHeight,
			"to", summary.ToHeight,
			"receipts", summary.Receipts,
			"applied", summary.Applied,
			"failed", summary.Failed,
			"duration", elapsed,
		)

		summary.CommittedAt = time.Now().UTC()
		if err := p.notifier.Notify(ctx, summary); err != nil {
			p.log.Warnw("failed to publish batch summary", "error", err)
		}
	}
}

func (p *Processor) exhausted(failures int) bool {
	return p.cfg.MaxCommitAttempts > 0 && failures >= p.cfg.MaxCommitAttempts
}

func (p *Processor) backoff(ctx context.Context, failures int) error {
	return p.pause(ctx, retry.Backoff(failures+1, p.cfg.CommitRetry))
}

func (p *Processor) waitForBlocks(ctx context.Context, next uint64) error {
	if hs, ok := p.source.(headSource); ok {
		head, err := hs.Head(ctx)
		if err == nil {
			p.log.Debugw("caught up with chain head", "next", next, "head", head)
		}
	}
	return p.pause(ctx, p.cfg.PollInterval)
}

// pause sleeps for d while keeping the checkpoint lease alive. It returns
// ErrLeaseLost as soon as another owner holds the lease, and nil when ctx is
// cancelled.
func (p *Processor) pause(ctx context.Context, d time.Duration) error {
	deadline := time.Now().Add(d)

	for {
		if err := p.checkpoints.Renew(ctx); err != nil {
			if errors.Is(err, checkpoint.ErrLeaseLost) {
				return fmt.Errorf("renew lease while idle: %w", err)
			}
			if ctx.Err() != nil {
				return nil
			}
			p.log.Warnw("failed to renew checkpoint lease", "error", err)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil
		}
		if p.cfg.LeaseRenewInterval > 0 && remaining > p.cfg.LeaseRenewInterval {
			remaining = p.cfg.LeaseRenewInterval
		}
		if err := retry.Sleep(ctx, remaining); err != nil {
			return nil
		}
	}
}

// commitAndPrefetch durably commits ws and advances the checkpoint while the
// next batch is fetched. The commit runs to completion even if ctx is cancelled.
// The prefetched blocks are nil when the fetch failed or was cancelled.
func (p *Processor) commitAndPrefetch(ctx context.Context, ws *state.WriteSet, last source.Block) ([]source.Block, error) {
	var (
		g    errgroup.Group
		next []source.Block
	)

	g.Go(func() error {
		blocks, err := p.source.Fetch(ctx, last.Height+1, p.cfg.BatchSize)
		if err != nil {
			p.log.Debugw("prefetch failed", "from", last.Height+1, "error", err)
			return nil
		}
		next = blocks
		return nil
	})

	commitErr := p.commit(context.WithoutCancel(ctx), ws, last)

	_ = g.Wait()

	if commitErr != nil {
		return nil, commitErr
	}
	return next, nil
}

func (p *Processor) commit(ctx context.Context, ws *state.WriteSet, last source.Block) error {
	if err := p.storage.Commit(ctx, ws, p.checkpoints.Fence); err != nil {
		return fmt.Errorf("commit entities: %w", err)
	}

	if err := p.checkpoints.Save(ctx, last.Height, ethcommon.HexToHash(last.Hash)); err != nil {
		return fmt.Errorf("save checkpoint at %d: %w", last.Height, err)
	}

	return nil
}

type receiptPosition struct {
	height uint64
	index  uint32
}

// apply decodes and dispatches every vault log of the batch into one write set.
// Failures are isolated per receipt.
func (p *Processor) apply(ctx context.Context, blocks []source.Block) (*state.WriteSet, notify.Summary, error) {
	from, to := blocks[0].Height, blocks[len(blocks)-1].Height

	summary := notify.Summary{
		Process:    p.cfg.Process,
		FromHeight: from,
		ToHeight:   to,
		BlockHash:  blocks[len(blocks)-1].Hash,
	}

	keys, err := p.storage.ProcessedReceipts(ctx, from, to)
	if err != nil {
		return nil, summary, fmt.Errorf("load processed receipts: %w", err)
	}

	done := make(map[receiptPosition]struct{}, len(keys))
	for _, k := range keys {
		done[receiptPosition{k.Height, k.Index}] = struct{}{}
	}

	ws := state.NewWriteSet()

	for _, block := range blocks {
		for i, receipt := range block.Receipts {
			summary.Receipts++

			if !receipt.IsContractLog() {
				continue
			}

			contract := common.ToLowerWithTrim(*receipt.Contract)
			if len(p.contracts) > 0 {
				if _, ok := p.contracts[contract]; !ok {
					metrics.ReceiptInc(outcomeFiltered)
					continue
				}
			}

			rc := state.ReceiptContext{
				Height:       block.Height,
				BlockHash:    block.Hash,
				Timestamp:    block.Time,
				TxID:         receipt.TxID,
				ReceiptIndex: uint32(i), //nolint:gosec
				ContractID:   contract,
			}

			if _, ok := done[receiptPosition{rc.Height, rc.ReceiptIndex}]; ok {
				metrics.ReceiptInc(outcomeDuplicate)
				continue
			}

			outcome := p.applyReceipt(ctx, ws, rc, receipt)
			metrics.ReceiptInc(outcome)

			switch outcome {
			case outcomeApplied:
				summary.Applied++
			case outcomeDecodeError, outcomeHandlerError:
				summary.Failed++
			}
		}
	}

	summary.Entities = make(map[string]int)
	for kind, n := range ws.Counts() {
		summary.Entities[string(kind)] = n
	}

	return ws, summary, nil
}

func (p *Processor) applyReceipt(ctx context.Context, ws *state.WriteSet, rc state.ReceiptContext, receipt source.Receipt) string {
	log, err := p.decoder.Decode(receipt.RB, receipt.Data, receipt.TxID)
	if err != nil {
		if errors.Is(err, abi.ErrNoMatch) {
			p.log.Debugw("skipping unknown log", "log_id", receipt.RB, "tx", receipt.TxID, "height", rc.Height)
			return outcomeUnknown
		}

		var decodeErr *abi.DecodeError
		if errors.As(err, &decodeErr) {
			p.log.Warnw("failed to decode log",
				"event", decodeErr.Name,
				"log_id", decodeErr.LogID,
				"tx", decodeErr.TxID,
				"height", rc.Height,
				"receipt", rc.ReceiptIndex,
				"error", decodeErr.Err,
			)
		} else {
			p.log.Warnw("failed to decode log", "log_id", receipt.RB, "tx", receipt.TxID, "error", err)
		}
		metrics.ErrorInc(common.ComponentDecoder, "warning")
		return outcomeDecodeError
	}

	tx := state.Begin(ws, rc)
	handled, err := p.registry.Dispatch(ctx, log, tx)
	if err != nil {
		tx.Discard()
		p.log.Warnw("failed to handle event",
			"event", log.Name,
			"log_id", log.LogID,
			"tx", rc.TxID,
			"height", rc.Height,
			"receipt", rc.ReceiptIndex,
			"error", err,
		)
		metrics.ErrorInc(common.ComponentHandlers, "warning")
		return outcomeHandlerError
	}

	tx.Commit()
	if !handled {
		return outcomeUnhandled
	}
	return outcomeApplied
}
