package state_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/internal/state"
	"github.com/goran-ethernal/StarboardIndexor/internal/store"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/goran-ethernal/StarboardIndexor/pkg/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *store.Store {
	t.Helper()

	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "state.sqlite")}
	cfg.ApplyDefaults()

	s, sqlDB, err := store.Open(cfg, nil, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })
	return s
}

func receipt(height uint64, index uint32) state.ReceiptContext {
	return state.ReceiptContext{Height: height, ReceiptIndex: index, Timestamp: 1_700_000_000 + int64(height), TxID: "0xtx"}
}

func TestResolver_GetOrCreateIsStable(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	r := state.NewResolver(s, map[string]state.AssetInfo{"0xbtc": {Symbol: "BTC", Name: "Bitcoin"}})

	batch := state.NewWriteSet()
	tx := state.Begin(batch, receipt(5, 0))

	asset, err := r.GetOrCreateAsset(ctx, tx, "0xbtc")
	require.NoError(t, err)
	require.Equal(t, "BTC", asset.Symbol)
	require.Zero(t, tx.Len(), "get-or-create never stages")

	market, err := r.GetOrCreateMarket(ctx, tx, asset)
	require.NoError(t, err)
	require.Equal(t, "BTC-USD", market.Ticker)
	require.Equal(t, int32(-9), market.AtomicResolution)
	require.Equal(t, model.MarketStatusActive, market.Status)

	market.OraclePrice = decimal.NewFromInt(42)
	tx.Save(asset)
	tx.Save(market)

	// the overlay is visible to the same receipt
	again, err := r.GetOrCreateMarket(ctx, tx, asset, func(m *model.Market) { m.Ticker = "IGNORED" })
	require.NoError(t, err)
	require.Equal(t, "BTC-USD", again.Ticker, "overrides apply only on creation")
	require.True(t, again.OraclePrice.Equal(decimal.NewFromInt(42)))

	// mutating a resolved copy does not leak into the overlay
	again.OraclePrice = decimal.NewFromInt(7)
	third, err := r.GetOrCreateMarket(ctx, tx, asset)
	require.NoError(t, err)
	require.True(t, third.OraclePrice.Equal(decimal.NewFromInt(42)))

	tx.Commit()
	require.True(t, batch.Processed(state.ReceiptKey{Height: 5, Index: 0}))
	require.NoError(t, s.Commit(ctx, batch))

	// a fresh batch resolves the stored entity
	tx = state.Begin(state.NewWriteSet(), receipt(6, 0))
	stored, err := r.GetOrCreateMarket(ctx, tx, asset)
	require.NoError(t, err)
	require.True(t, stored.OraclePrice.Equal(decimal.NewFromInt(42)))
	require.Equal(t, uint64(5), stored.CreatedAtHeight)
}

func TestResolver_UnknownAssetFallsBackToID(t *testing.T) {
	r := state.NewResolver(newStore(t), nil)
	tx := state.Begin(state.NewWriteSet(), receipt(1, 0))

	asset, err := r.GetOrCreateAsset(context.Background(), tx, "0xfeed")
	require.NoError(t, err)
	require.Empty(t, asset.Symbol)

	market, err := r.GetOrCreateMarket(context.Background(), tx, asset)
	require.NoError(t, err)
	require.Equal(t, "0xfeed-USD", market.Ticker)
}

func TestTx_DiscardDropsOverlay(t *testing.T) {
	ctx := context.Background()
	r := state.NewResolver(newStore(t), nil)
	batch := state.NewWriteSet()

	tx := state.Begin(batch, receipt(3, 1))
	account, err := r.GetOrCreateAccount(ctx, tx, "0xacc")
	require.NoError(t, err)
	tx.Save(account)
	tx.Discard()

	require.True(t, batch.Empty())
	require.False(t, batch.Processed(state.ReceiptKey{Height: 3, Index: 1}))

	_, found, err := state.Find[*model.Account](ctx, r, state.Begin(batch, receipt(3, 2)), model.KindAccount, "0xacc")
	require.NoError(t, err)
	require.False(t, found)
}

func TestResolver_OpenPositionsMergesPending(t *testing.T) {
	ctx := context.Background()
	s := newStore(t)
	r := state.NewResolver(s, nil)

	open := func(id string) *model.Position {
		return &model.Position{
			ID: id, MarketID: "0xbtc", Status: model.PositionStatusOpen,
			Size: decimal.NewFromInt(1), EntryPrice: decimal.NewFromInt(1),
		}
	}

	stored := state.NewWriteSet()
	stored.Put(open("p-a"))
	stored.Put(open("p-b"))
	require.NoError(t, s.Commit(ctx, stored))

	batch := state.NewWriteSet()
	tx := state.Begin(batch, receipt(9, 0))

	closed := open("p-a")
	closed.Status = model.PositionStatusClosed
	tx.Save(closed)
	tx.Save(open("p-c"))
	other := open("p-x")
	other.MarketID = "0xeth"
	tx.Save(other)

	positions, err := r.OpenPositions(ctx, tx, "0xbtc")
	require.NoError(t, err)

	ids := make([]string, 0, len(positions))
	for _, p := range positions {
		ids = append(ids, p.ID)
	}
	require.Equal(t, []string{"p-b", "p-c"}, ids)
}

func TestWriteSet_OrderAndMerge(t *testing.T) {
	a := state.NewWriteSet()
	a.Put(&model.Trade{ID: "t-2"})
	a.Put(&model.Account{ID: "acc"})
	a.Put(&model.Trade{ID: "t-1"})
	a.MarkProcessed(state.ReceiptKey{Height: 1, Index: 0})

	b := state.NewWriteSet()
	b.Put(&model.Trade{ID: "t-2", TxID: "updated"})
	b.MarkProcessed(state.ReceiptKey{Height: 1, Index: 0})
	b.MarkProcessed(state.ReceiptKey{Height: 1, Index: 1})

	a.Merge(b)

	var visited []string
	require.NoError(t, a.Each(func(e model.Entity) error {
		visited = append(visited, string(e.EntityKind())+":"+e.EntityID())
		return nil
	}))
	require.Equal(t, []string{"account:acc", "trade:t-2", "trade:t-1"}, visited)

	t2, ok := a.Get(model.KindTrade, "t-2")
	require.True(t, ok)
	require.Equal(t, "updated", t2.(*model.Trade).TxID)

	require.Len(t, a.Receipts(), 2)
	require.Equal(t, map[model.Kind]int{model.KindAccount: 1, model.KindTrade: 2}, a.Counts())
}
