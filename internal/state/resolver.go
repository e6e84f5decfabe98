package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"

	"github.com/goran-ethernal/StarboardIndexor/pkg/model"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned by Storage.Get for unknown ids.
var ErrNotFound = errors.New("entity not found")

// Storage is the durable side of the resolver.
type Storage interface {
	// Get returns a fresh copy of the stored entity or ErrNotFound.
	Get(ctx context.Context, kind model.Kind, id string) (model.Entity, error)
	// ListOpenPositions returns the stored open positions of a market ordered by id.
	ListOpenPositions(ctx context.Context, marketID string) ([]*model.Position, error)
	// ListPositionTrades returns the stored trades of a position id ordered by id.
	ListPositionTrades(ctx context.Context, positionID string) ([]*model.Trade, error)
	// ProcessedReceipts returns the receipts already committed in the height range.
	ProcessedReceipts(ctx context.Context, fromHeight, toHeight uint64) ([]ReceiptKey, error)
	// Commit durably applies the write set in one transaction. Every fence runs
	// inside that transaction before the first write.
	Commit(ctx context.Context, ws *WriteSet, fences ...Fence) error
}

// Fence guards a commit. A non-nil error aborts the commit before anything is written.
type Fence func(ctx context.Context, tx *sql.Tx) error

// AssetInfo carries operator-provided naming for an asset id.
type AssetInfo struct {
	Symbol string
	Name   string
}

// Resolver implements get-or-create for every entity kind. It never mutates
// a stored entity: existing entities are returned as copies and new ones are
// returned with defaults, unsaved.
type Resolver struct {
	storage Storage
	assets  map[string]AssetInfo
}

// NewResolver creates a resolver. assets maps lowercase asset ids to display names.
func NewResolver(storage Storage, assets map[string]AssetInfo) *Resolver {
	if assets == nil {
		assets = make(map[string]AssetInfo)
	}
	return &Resolver{storage: storage, assets: assets}
}

func lookup[T model.Entity](ctx context.Context, r *Resolver, tx *Tx, kind model.Kind, id string) (T, bool, error) {
	var zero T

	if e, ok := tx.lookup(kind, id); ok {
		return model.Clone(e).(T), true, nil
	}

	e, err := r.storage.Get(ctx, kind, id)
	if err == nil {
		typed, ok := e.(T)
		if !ok {
			return zero, false, fmt.Errorf("storage returned %T for %s %s", e, kind, id)
		}
		return typed, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return zero, false, fmt.Errorf("failed to load %s %s: %w", kind, id, err)
	}

	return zero, false, nil
}

func getOrCreate[T model.Entity](
	ctx context.Context,
	r *Resolver,
	tx *Tx,
	kind model.Kind,
	id string,
	build func() T,
	overrides []func(T),
) (T, error) {
	existing, found, err := lookup[T](ctx, r, tx, kind, id)
	if err != nil || found {
		return existing, err
	}

	created := build()
	for _, apply := range overrides {
		apply(created)
	}
	return created, nil
}

// Find returns the pending or stored entity without creating one.
func Find[T model.Entity](ctx context.Context, r *Resolver, tx *Tx, kind model.Kind, id string) (T, bool, error) {
	return lookup[T](ctx, r, tx, kind, id)
}

// GetOrCreateAccount resolves an account by identity.
func (r *Resolver) GetOrCreateAccount(
	ctx context.Context, tx *Tx, id string, overrides ...func(*model.Account),
) (*model.Account, error) {
	return getOrCreate(ctx, r, tx, model.KindAccount, id, func() *model.Account {
		return &model.Account{
			ID:              id,
			Kind:            model.AccountKindAddress,
			CreatedAt:       tx.rc.Timestamp,
			CreatedAtHeight: tx.rc.Height,
			UpdatedAtHeight: tx.rc.Height,
		}
	}, overrides)
}

// GetOrCreateAsset resolves an asset. New assets take their symbol from the configured asset list.
func (r *Resolver) GetOrCreateAsset(
	ctx context.Context, tx *Tx, id string, overrides ...func(*model.Asset),
) (*model.Asset, error) {
	return getOrCreate(ctx, r, tx, model.KindAsset, id, func() *model.Asset {
		info := r.assets[id]
		return &model.Asset{
			ID:              id,
			Symbol:          info.Symbol,
			Name:            info.Name,
			MaxRusdAmount:   decimal.Zero,
			Price:           decimal.Zero,
			UpdatedAtHeight: tx.rc.Height,
		}
	}, overrides)
}

// GetOrCreateMarket resolves the market of an index asset.
func (r *Resolver) GetOrCreateMarket(
	ctx context.Context, tx *Tx, indexAsset *model.Asset, overrides ...func(*model.Market),
) (*model.Market, error) {
	id := model.MarketID(indexAsset.ID)
	return getOrCreate(ctx, r, tx, model.KindMarket, id, func() *model.Market {
		return &model.Market{
			ID:                        id,
			IndexAssetID:              indexAsset.ID,
			Ticker:                    model.MarketTicker(indexAsset.DisplaySymbol()),
			AtomicResolution:          -9,
			QuantumConversionExponent: -6,
			StepBaseQuantums:          1_000_000_000,
			SubticksPerTick:           100_000,
			StepSize:                  decimal.NewFromInt(1),
			TickSize:                  decimal.New(1, -2),
			InitialMarginFraction:     decimal.Zero,
			MaintenanceMarginFraction: decimal.Zero,
			OpenInterest:              decimal.Zero,
			OpenInterestLowerCap:      decimal.Zero,
			OpenInterestUpperCap:      decimal.Zero,
			BaseOpenInterest:          decimal.Zero,
			OraclePrice:               decimal.Zero,
			PriceChange24H:            decimal.Zero,
			Volume24H:                 decimal.Zero,
			DefaultFundingRate1H:      decimal.Zero,
			NextFundingRate:           decimal.Zero,
			CumulativeFundingRate:     decimal.Zero,
			Status:                    model.MarketStatusActive,
			MarketType:                model.MarketTypePerp,
			CreatedAtHeight:           tx.rc.Height,
			UpdatedAtHeight:           tx.rc.Height,
		}
	}, overrides)
}

// GetOrCreatePosition resolves the live lifecycle of a position key.
func (r *Resolver) GetOrCreatePosition(
	ctx context.Context, tx *Tx, id string, overrides ...func(*model.Position),
) (*model.Position, error) {
	return getOrCreate(ctx, r, tx, model.KindPosition, id, func() *model.Position {
		return newPosition(id, tx.rc)
	}, overrides)
}

// FreshPosition returns a new open lifecycle for id without consulting storage.
// It is used when a terminal position key is reopened.
func (r *Resolver) FreshPosition(tx *Tx, id string, overrides ...func(*model.Position)) *model.Position {
	p := newPosition(id, tx.rc)
	for _, apply := range overrides {
		apply(p)
	}
	return p
}

func newPosition(id string, rc ReceiptContext) *model.Position {
	return &model.Position{
		ID:                id,
		Status:            model.PositionStatusOpen,
		Size:              decimal.Zero,
		MaxSize:           decimal.Zero,
		EntryPrice:        decimal.Zero,
		ExitPrice:         decimal.Zero,
		RealizedPnl:       decimal.Zero,
		UnrealizedPnl:     decimal.Zero,
		Collateral:        decimal.Zero,
		NetFunding:        decimal.Zero,
		LastFundingRate:   decimal.Zero,
		SumOpen:           decimal.Zero,
		SumClose:          decimal.Zero,
		Fees:              decimal.Zero,
		CreatedAt:         rc.Timestamp,
		CreatedAtHeight:   rc.Height,
		LastIncreasedTime: rc.Timestamp,
	}
}

// GetOrCreateTrade resolves a trade.
func (r *Resolver) GetOrCreateTrade(
	ctx context.Context, tx *Tx, id string, overrides ...func(*model.Trade),
) (*model.Trade, error) {
	return getOrCreate(ctx, r, tx, model.KindTrade, id, func() *model.Trade {
		return &model.Trade{
			ID:              id,
			Side:            model.TradeSideBuy,
			Size:            decimal.Zero,
			Price:           decimal.Zero,
			Fee:             decimal.Zero,
			TradeType:       model.TradeTypeLimit,
			CreatedAt:       tx.rc.Timestamp,
			CreatedAtHeight: tx.rc.Height,
			TxID:            tx.rc.TxID,
		}
	}, overrides)
}

// GetOrCreatePayment resolves a payment.
func (r *Resolver) GetOrCreatePayment(
	ctx context.Context, tx *Tx, id string, overrides ...func(*model.Payment),
) (*model.Payment, error) {
	return getOrCreate(ctx, r, tx, model.KindPayment, id, func() *model.Payment {
		return &model.Payment{
			ID:              id,
			Amount:          decimal.Zero,
			CreatedAt:       tx.rc.Timestamp,
			CreatedAtHeight: tx.rc.Height,
			TxID:            tx.rc.TxID,
		}
	}, overrides)
}

// GetOrCreateCandle resolves the candle of a market bucket.
func (r *Resolver) GetOrCreateCandle(
	ctx context.Context, tx *Tx, market *model.Market, resolution model.CandleResolution, overrides ...func(*model.Candle),
) (*model.Candle, error) {
	startedAt := resolution.BucketStart(tx.rc.Timestamp)
	id := model.CandleID(market.ID, resolution, startedAt)
	return getOrCreate(ctx, r, tx, model.KindCandle, id, func() *model.Candle {
		return &model.Candle{
			ID:                   id,
			MarketID:             market.ID,
			Ticker:               market.Ticker,
			Resolution:           resolution,
			StartedAt:            startedAt,
			Open:                 decimal.Zero,
			High:                 decimal.Zero,
			Low:                  decimal.Zero,
			Close:                decimal.Zero,
			BaseTokenVolume:      decimal.Zero,
			UsdVolume:            decimal.Zero,
			StartingOpenInterest: market.OpenInterest,
		}
	}, overrides)
}

// GetOrCreatePriceTick resolves a price observation.
func (r *Resolver) GetOrCreatePriceTick(
	ctx context.Context, tx *Tx, id string, overrides ...func(*model.PriceTick),
) (*model.PriceTick, error) {
	return getOrCreate(ctx, r, tx, model.KindPriceTick, id, func() *model.PriceTick {
		return &model.PriceTick{
			ID:        id,
			Timestamp: tx.rc.Timestamp,
			Height:    tx.rc.Height,
			Price:     decimal.Zero,
		}
	}, overrides)
}

// OpenPositions returns every open position of a market as currently seen by
// the receipt: stored positions overlaid with the batch and receipt versions.
func (r *Resolver) OpenPositions(ctx context.Context, tx *Tx, marketID string) ([]*model.Position, error) {
	stored, err := r.storage.ListOpenPositions(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("failed to list open positions of %s: %w", marketID, err)
	}

	byID := make(map[string]*model.Position, len(stored))
	for _, p := range stored {
		byID[p.ID] = p
	}

	for id, e := range tx.pending(model.KindPosition) {
		p, ok := e.(*model.Position)
		if !ok || p.MarketID != marketID {
			continue
		}
		byID[id] = model.Clone(p).(*model.Position)
	}

	out := make([]*model.Position, 0, len(byID))
	for _, p := range byID {
		if p.IsOpen() {
			out = append(out, p)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}

// PositionTrades returns the trades currently attached to a position id,
// stored trades overlaid with the batch and receipt versions.
func (r *Resolver) PositionTrades(ctx context.Context, tx *Tx, positionID string) ([]*model.Trade, error) {
	stored, err := r.storage.ListPositionTrades(ctx, positionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list trades of %s: %w", positionID, err)
	}

	byID := make(map[string]*model.Trade, len(stored))
	for _, t := range stored {
		byID[t.ID] = t
	}

	for id, e := range tx.pending(model.KindTrade) {
		t, ok := e.(*model.Trade)
		if !ok {
			continue
		}
		if t.PositionID != positionID {
			delete(byID, id)
			continue
		}
		byID[id] = model.Clone(t).(*model.Trade)
	}

	out := make([]*model.Trade, 0, len(byID))
	for _, t := range byID {
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })

	return out, nil
}
