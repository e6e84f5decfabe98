package handlers

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goran-ethernal/StarboardIndexor/internal/abi"
	"github.com/goran-ethernal/StarboardIndexor/internal/logger"
	"github.com/goran-ethernal/StarboardIndexor/internal/state"
	"github.com/goran-ethernal/StarboardIndexor/internal/store"
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/goran-ethernal/StarboardIndexor/pkg/model"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

var (
	alice = common.HexToHash("0xa11ce")
	bob   = common.HexToHash("0xb0b")
	btc   = common.HexToHash("0xb7c")
	usdc  = common.HexToHash("0x05dc")
)

type harness struct {
	t        *testing.T
	ctx      context.Context
	store    *store.Store
	resolver *state.Resolver
	registry *Registry
	decoder  *abi.Decoder
	batch    *state.WriteSet
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	cfg := config.DatabaseConfig{Path: filepath.Join(t.TempDir(), "handlers.sqlite")}
	cfg.ApplyDefaults()

	s, sqlDB, err := store.Open(cfg, nil, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	table, err := abi.DefaultTable()
	require.NoError(t, err)

	resolver := state.NewResolver(s, map[string]state.AssetInfo{
		btc.Hex():  {Symbol: "BTC", Name: "Bitcoin"},
		usdc.Hex(): {Symbol: "USDC", Name: "USD Coin"},
	})

	registry, err := NewRegistry(Deps{
		Resolver: resolver,
		Units:    NewUnits(config.UnitsConfig{FundingRatePrecision: 1_000_000}),
		Log:      logger.NewNopLogger(),
	})
	require.NoError(t, err)

	return &harness{
		t:        t,
		ctx:      context.Background(),
		store:    s,
		resolver: resolver,
		registry: registry,
		decoder:  abi.NewDecoder(table),
		batch:    state.NewWriteSet(),
	}
}

// apply runs one event through the encoder, the decoder and the registry as a single receipt.
func (h *harness) apply(height uint64, index uint32, name string, fields abi.Fields) error {
	h.t.Helper()

	logID, payload, err := h.decoder.Table().Encode(name, fields)
	require.NoError(h.t, err)

	log, err := h.decoder.Decode(logID, payload, "0xtx")
	require.NoError(h.t, err)

	tx := state.Begin(h.batch, state.ReceiptContext{
		Height:       height,
		Timestamp:    1_700_000_000 + int64(height)*60,
		TxID:         "0xtx",
		ReceiptIndex: index,
	})

	if _, err := h.registry.Dispatch(h.ctx, log, tx); err != nil {
		tx.Discard()
		return err
	}
	tx.Commit()
	return nil
}

func (h *harness) mustApply(height uint64, index uint32, name string, fields abi.Fields) {
	h.t.Helper()
	require.NoError(h.t, h.apply(height, index, name, fields))
}

func (h *harness) flush() {
	h.t.Helper()
	require.NoError(h.t, h.store.Commit(h.ctx, h.batch))
	h.batch = state.NewWriteSet()
}

func find[T model.Entity](h *harness, kind model.Kind, id string) T {
	h.t.Helper()

	v, found, err := state.Find[T](h.ctx, h.resolver, state.Begin(h.batch, state.ReceiptContext{}), kind, id)
	require.NoError(h.t, err)
	require.True(h.t, found, "%s %s not found", kind, id)
	return v
}

func requireDecimal(t *testing.T, expected string, actual decimal.Decimal, msgAndArgs ...any) {
	t.Helper()
	require.Equal(t, decimal.RequireFromString(expected).String(), actual.String(), msgAndArgs...)
}

func positionFields(account common.Hash, isLong bool, collateral, size, price, fee uint64) abi.Fields {
	return abi.Fields{
		"key":              common.HexToHash("0x01"),
		"account":          abi.AddressIdentity(account),
		"collateral_asset": usdc,
		"index_asset":      btc,
		"collateral_delta": collateral,
		"size_delta":       size,
		"is_long":          isLong,
		"price":            price,
		"fee":              fee,
	}
}

func decreaseFields(account common.Hash, isLong bool, collateral, size, price, fee uint64) abi.Fields {
	f := positionFields(account, isLong, collateral, size, price, fee)
	f["receiver"] = abi.AddressIdentity(account)
	return f
}

func positionID(account common.Hash, side model.PositionSide) string {
	return model.PositionID(account.Hex(), btc.Hex(), side, 0)
}

func TestIncreasePosition_OpensPosition(t *testing.T) {
	h := newHarness(t)

	h.mustApply(100, 2, "IncreasePosition", positionFields(alice, true, 1000, 10, 50000, 3))
	h.flush()

	market := find[*model.Market](h, model.KindMarket, btc.Hex())
	require.Equal(t, "BTC-USD", market.Ticker)
	require.Equal(t, uint64(1), market.Trades24H)
	requireDecimal(t, "10", market.OpenInterest)
	requireDecimal(t, "500000", market.Volume24H)

	trade := find[*model.Trade](h, model.KindTrade, model.TradeID(btc.Hex(), usdc.Hex(), alice.Hex(), 100, 2))
	require.Equal(t, model.TradeSideBuy, trade.Side)
	require.Equal(t, model.TradeTypeLimit, trade.TradeType)
	requireDecimal(t, "10", trade.Size)
	requireDecimal(t, "50000", trade.Price)
	require.Equal(t, positionID(alice, model.PositionSideLong), trade.PositionID)

	pos := find[*model.Position](h, model.KindPosition, positionID(alice, model.PositionSideLong))
	require.Equal(t, model.PositionStatusOpen, pos.Status)
	require.Equal(t, "BTC-USD", pos.Ticker)
	requireDecimal(t, "10", pos.Size)
	requireDecimal(t, "10", pos.MaxSize)
	requireDecimal(t, "50000", pos.EntryPrice)
	requireDecimal(t, "1000", pos.Collateral)
	requireDecimal(t, "3", pos.Fees)
	require.Equal(t, uint64(100), pos.CreatedAtHeight)

	fee := find[*model.Payment](h, model.KindPayment, model.PaymentID(model.PaymentKindFee, 100, 2, ""))
	require.Equal(t, alice.Hex(), fee.AccountID)
	require.Equal(t, usdc.Hex(), fee.AssetID)
	requireDecimal(t, "3", fee.Amount)

	count, err := h.store.Count(h.ctx, model.KindCandle)
	require.NoError(t, err)
	require.Equal(t, len(model.CandleResolutions), count)

	account := find[*model.Account](h, model.KindAccount, alice.Hex())
	require.Equal(t, model.AccountKindAddress, account.Kind)
}

func TestIncreasePosition_WeightedEntryPrice(t *testing.T) {
	h := newHarness(t)

	h.mustApply(100, 0, "IncreasePosition", positionFields(alice, true, 100, 10, 100, 0))
	h.mustApply(101, 0, "IncreasePosition", positionFields(alice, true, 100, 10, 200, 0))

	pos := find[*model.Position](h, model.KindPosition, positionID(alice, model.PositionSideLong))
	requireDecimal(t, "20", pos.Size)
	requireDecimal(t, "150", pos.EntryPrice)
	requireDecimal(t, "20", pos.SumOpen)
	requireDecimal(t, "1000", pos.UnrealizedPnl)

	market := find[*model.Market](h, model.KindMarket, btc.Hex())
	requireDecimal(t, "20", market.OpenInterest)
	require.Equal(t, uint64(2), market.Trades24H)

	_, found, err := state.Find[*model.Payment](h.ctx, h.resolver, state.Begin(h.batch, state.ReceiptContext{}),
		model.KindPayment, model.PaymentID(model.PaymentKindFee, 100, 0, ""))
	require.NoError(t, err)
	require.False(t, found, "zero fee writes no payment")
}

func TestDecreasePosition_FullClose(t *testing.T) {
	h := newHarness(t)

	h.mustApply(100, 0, "IncreasePosition", positionFields(alice, true, 1000, 10, 50000, 0))
	h.flush()
	h.mustApply(200, 1, "DecreasePosition", decreaseFields(alice, true, 1000, 10, 51000, 5))
	h.flush()

	pos := find[*model.Position](h, model.KindPosition, positionID(alice, model.PositionSideLong))
	require.Equal(t, model.PositionStatusClosed, pos.Status)
	requireDecimal(t, "0", pos.Size)
	requireDecimal(t, "0", pos.Collateral)
	requireDecimal(t, "10000", pos.RealizedPnl)
	requireDecimal(t, "51000", pos.ExitPrice)
	requireDecimal(t, "0", pos.UnrealizedPnl)
	requireDecimal(t, "10", pos.SumClose)
	require.Equal(t, uint64(200), pos.ClosedAtHeight)

	trade := find[*model.Trade](h, model.KindTrade, model.TradeID(btc.Hex(), usdc.Hex(), alice.Hex(), 200, 1))
	require.Equal(t, model.TradeSideSell, trade.Side)

	market := find[*model.Market](h, model.KindMarket, btc.Hex())
	requireDecimal(t, "0", market.OpenInterest)
	require.Equal(t, uint64(2), market.Trades24H)
}

func TestDecreasePosition_PartialShortClampsSize(t *testing.T) {
	h := newHarness(t)

	h.mustApply(100, 0, "IncreasePosition", positionFields(alice, false, 500, 10, 100, 0))
	h.mustApply(101, 0, "DecreasePosition", decreaseFields(alice, false, 800, 4, 90, 0))

	pos := find[*model.Position](h, model.KindPosition, positionID(alice, model.PositionSideShort))
	require.Equal(t, model.PositionStatusOpen, pos.Status)
	requireDecimal(t, "6", pos.Size)
	requireDecimal(t, "40", pos.RealizedPnl)
	requireDecimal(t, "0", pos.Collateral, "collateral never goes negative")
	requireDecimal(t, "60", pos.UnrealizedPnl)

	h.mustApply(102, 0, "DecreasePosition", decreaseFields(alice, false, 0, 100, 110, 0))
	pos = find[*model.Position](h, model.KindPosition, positionID(alice, model.PositionSideShort))
	require.Equal(t, model.PositionStatusClosed, pos.Status)
	requireDecimal(t, "0", pos.Size)
	requireDecimal(t, "-20", pos.RealizedPnl)

	trade := find[*model.Trade](h, model.KindTrade, model.TradeID(btc.Hex(), usdc.Hex(), alice.Hex(), 102, 0))
	require.Equal(t, model.TradeSideBuy, trade.Side)
	requireDecimal(t, "6", trade.Size)
}

func TestDecreasePosition_Errors(t *testing.T) {
	h := newHarness(t)

	err := h.apply(100, 0, "DecreasePosition", decreaseFields(alice, true, 0, 1, 100, 0))
	require.ErrorIs(t, err, ErrPositionNotFound)
	require.True(t, h.batch.Empty(), "failed receipts stage nothing")

	h.mustApply(101, 0, "IncreasePosition", positionFields(alice, true, 0, 1, 100, 0))
	h.mustApply(102, 0, "DecreasePosition", decreaseFields(alice, true, 0, 1, 100, 0))

	err = h.apply(103, 0, "DecreasePosition", decreaseFields(alice, true, 0, 1, 100, 0))
	require.ErrorIs(t, err, ErrPositionClosed)
	require.False(t, h.batch.Processed(state.ReceiptKey{Height: 103}))
}

func TestLiquidatePosition(t *testing.T) {
	h := newHarness(t)

	h.mustApply(100, 0, "IncreasePosition", positionFields(alice, true, 1000, 10, 50000, 0))
	h.mustApply(150, 0, "IncreasePosition", positionFields(bob, true, 1000, 4, 50000, 0))
	h.flush()

	h.mustApply(200, 3, "LiquidatePosition", abi.Fields{
		"key":              common.HexToHash("0x01"),
		"account":          abi.AddressIdentity(alice),
		"collateral_asset": usdc,
		"index_asset":      btc,
		"is_long":          true,
		"size":             uint64(10),
		"collateral":       uint64(200),
		"reserve_amount":   uint64(0),
		"mark_price":       uint64(45000),
	})

	pos := find[*model.Position](h, model.KindPosition, positionID(alice, model.PositionSideLong))
	require.Equal(t, model.PositionStatusLiquidated, pos.Status)
	requireDecimal(t, "0", pos.Size)
	requireDecimal(t, "0", pos.Collateral)
	requireDecimal(t, "-200", pos.RealizedPnl)
	requireDecimal(t, "45000", pos.ExitPrice)

	trade := find[*model.Trade](h, model.KindTrade, model.TradeID(btc.Hex(), usdc.Hex(), alice.Hex(), 200, 3))
	require.Equal(t, model.TradeTypeLiquidated, trade.TradeType)
	require.Equal(t, model.TradeSideSell, trade.Side)
	requireDecimal(t, "10", trade.Size)

	market := find[*model.Market](h, model.KindMarket, btc.Hex())
	requireDecimal(t, "4", market.OpenInterest)
}

func TestIncreasePosition_ReopenArchivesTerminalLifecycle(t *testing.T) {
	h := newHarness(t)
	id := positionID(alice, model.PositionSideLong)

	h.mustApply(100, 0, "IncreasePosition", positionFields(alice, true, 0, 10, 100, 0))
	h.mustApply(200, 0, "DecreasePosition", decreaseFields(alice, true, 0, 10, 120, 0))
	h.flush()
	h.mustApply(300, 0, "IncreasePosition", positionFields(alice, true, 0, 2, 130, 0))
	h.flush()

	archived := find[*model.Position](h, model.KindPosition, model.ArchivedPositionID(id, 200, 0))
	require.Equal(t, model.PositionStatusClosed, archived.Status)
	requireDecimal(t, "200", archived.RealizedPnl)
	require.Equal(t, uint64(100), archived.CreatedAtHeight)

	live := find[*model.Position](h, model.KindPosition, id)
	require.Equal(t, model.PositionStatusOpen, live.Status)
	requireDecimal(t, "2", live.Size)
	requireDecimal(t, "130", live.EntryPrice)
	requireDecimal(t, "0", live.RealizedPnl)
	require.Equal(t, uint64(300), live.CreatedAtHeight)

	market := find[*model.Market](h, model.KindMarket, btc.Hex())
	requireDecimal(t, "2", market.OpenInterest)

	archivedID := model.ArchivedPositionID(id, 200, 0)
	for _, tr := range []struct {
		height     uint64
		positionID string
	}{
		{height: 100, positionID: archivedID},
		{height: 200, positionID: archivedID},
		{height: 300, positionID: id},
	} {
		trade := find[*model.Trade](h, model.KindTrade, model.TradeID(btc.Hex(), usdc.Hex(), alice.Hex(), tr.height, 0))
		require.Equal(t, tr.positionID, trade.PositionID, "trade at %d", tr.height)
	}
}

func TestIncreasePosition_TwoClosesInOneBlock(t *testing.T) {
	h := newHarness(t)
	id := positionID(alice, model.PositionSideLong)

	h.mustApply(200, 0, "IncreasePosition", positionFields(alice, true, 0, 10, 100, 0))
	h.mustApply(200, 1, "DecreasePosition", decreaseFields(alice, true, 0, 10, 120, 0))
	h.mustApply(200, 2, "IncreasePosition", positionFields(alice, true, 0, 5, 100, 0))
	h.mustApply(200, 3, "DecreasePosition", decreaseFields(alice, true, 0, 5, 90, 0))
	h.mustApply(200, 4, "IncreasePosition", positionFields(alice, true, 0, 2, 130, 0))
	h.flush()

	first := find[*model.Position](h, model.KindPosition, model.ArchivedPositionID(id, 200, 1))
	require.Equal(t, model.PositionStatusClosed, first.Status)
	require.Equal(t, uint32(1), first.ClosedAtIndex)
	requireDecimal(t, "200", first.RealizedPnl)
	requireDecimal(t, "10", first.MaxSize)

	second := find[*model.Position](h, model.KindPosition, model.ArchivedPositionID(id, 200, 3))
	require.Equal(t, model.PositionStatusClosed, second.Status)
	require.Equal(t, uint32(3), second.ClosedAtIndex)
	requireDecimal(t, "-50", second.RealizedPnl)
	requireDecimal(t, "5", second.MaxSize)

	live := find[*model.Position](h, model.KindPosition, id)
	require.True(t, live.IsOpen())
	requireDecimal(t, "2", live.Size)
	requireDecimal(t, "0", live.RealizedPnl)

	for index, want := range []string{first.ID, first.ID, second.ID, second.ID, id} {
		trade := find[*model.Trade](h, model.KindTrade, model.TradeID(btc.Hex(), usdc.Hex(), alice.Hex(), 200, uint32(index)))
		require.Equal(t, want, trade.PositionID, "trade %d", index)
	}

	trades, err := h.store.ListPositionTrades(h.ctx, second.ID)
	require.NoError(t, err)
	require.Len(t, trades, 2)
}

func TestUpdateFundingRate(t *testing.T) {
	h := newHarness(t)

	h.mustApply(100, 0, "IncreasePosition", positionFields(alice, true, 0, 10, 100, 0))
	h.mustApply(100, 1, "IncreasePosition", positionFields(bob, false, 0, 5, 100, 0))
	h.flush()

	funding := func(rate uint64) abi.Fields {
		return abi.Fields{"asset": btc, "funding_rate": rate}
	}

	h.mustApply(110, 0, "UpdateFundingRate", funding(2_000_000))

	long := find[*model.Position](h, model.KindPosition, positionID(alice, model.PositionSideLong))
	short := find[*model.Position](h, model.KindPosition, positionID(bob, model.PositionSideShort))
	requireDecimal(t, "-20", long.NetFunding)
	requireDecimal(t, "10", short.NetFunding)
	requireDecimal(t, "2000000", long.LastFundingRate)

	payment := find[*model.Payment](h, model.KindPayment, model.PaymentID(model.PaymentKindFunding, 110, 0, long.ID))
	require.Equal(t, model.PaymentKindFunding, payment.Kind)
	require.Equal(t, btc.Hex(), payment.AssetID)
	requireDecimal(t, "-20", payment.Amount)

	h.flush()
	h.mustApply(120, 0, "UpdateFundingRate", funding(3_000_000))

	long = find[*model.Position](h, model.KindPosition, positionID(alice, model.PositionSideLong))
	requireDecimal(t, "-30", long.NetFunding)

	market := find[*model.Market](h, model.KindMarket, btc.Hex())
	requireDecimal(t, "3000000", market.CumulativeFundingRate)
	requireDecimal(t, "1000000", market.NextFundingRate)

	// Positions opened after an update only accrue from their opening rate.
	h.mustApply(130, 0, "IncreasePosition", positionFields(bob, true, 0, 1, 100, 0))
	h.mustApply(140, 0, "UpdateFundingRate", funding(4_000_000))
	late := find[*model.Position](h, model.KindPosition, positionID(bob, model.PositionSideLong))
	requireDecimal(t, "-1", late.NetFunding)
}

func TestAssetAndPriceFeedConfig(t *testing.T) {
	h := newHarness(t)

	h.mustApply(10, 0, "SetAssetConfig", abi.Fields{
		"asset":           usdc,
		"asset_decimals":  uint64(6),
		"asset_weight":    uint64(100),
		"min_profit_bps":  uint64(0),
		"max_rusd_amount": uint64(5_000_000),
		"is_stable":       true,
		"is_shortable":    false,
	})
	h.mustApply(10, 1, "SetAssetConfig", abi.Fields{
		"asset":           btc,
		"asset_decimals":  uint64(8),
		"asset_weight":    uint64(50),
		"min_profit_bps":  uint64(150),
		"max_rusd_amount": uint64(0),
		"is_stable":       false,
		"is_shortable":    true,
	})
	h.mustApply(11, 0, "SetPricefeedConfig", abi.Fields{
		"asset":          btc,
		"price_feed":     common.HexToHash("0xfeed"),
		"price_decimals": uint64(2),
	})
	h.flush()

	stable := find[*model.Asset](h, model.KindAsset, usdc.Hex())
	require.True(t, stable.Whitelisted)
	require.True(t, stable.Stable)
	require.Equal(t, uint32(6), stable.Decimals)
	requireDecimal(t, "5000000", stable.MaxRusdAmount)

	count, err := h.store.Count(h.ctx, model.KindMarket)
	require.NoError(t, err)
	require.Equal(t, 1, count, "stable assets get no market")

	asset := find[*model.Asset](h, model.KindAsset, btc.Hex())
	require.True(t, asset.Shortable)
	require.Equal(t, uint64(150), asset.MinProfitBasisPoints)
	require.Equal(t, common.HexToHash("0xfeed").Hex(), asset.FeedID)
	require.Equal(t, uint32(2), asset.PriceDecimals)

	market := find[*model.Market](h, model.KindMarket, btc.Hex())
	require.Equal(t, model.MarketStatusActive, market.Status)
}

func TestSetPricefeedConfig_RejectsOversizedPrecision(t *testing.T) {
	h := newHarness(t)

	h.mustApply(10, 0, "SetPricefeedConfig", abi.Fields{
		"asset":          btc,
		"price_feed":     common.HexToHash("0xfeed"),
		"price_decimals": uint64(MaxPriceDecimals),
	})
	h.flush()
	require.Equal(t, uint32(MaxPriceDecimals), find[*model.Asset](h, model.KindAsset, btc.Hex()).PriceDecimals)

	for _, decimals := range []uint64{MaxPriceDecimals + 1, 1 << 31, 1 << 32} {
		err := h.apply(11, 0, "SetPricefeedConfig", abi.Fields{
			"asset":          btc,
			"price_feed":     common.HexToHash("0xfeed"),
			"price_decimals": decimals,
		})
		require.ErrorIs(t, err, ErrInvalidEvent, "price_decimals %d", decimals)
		require.True(t, h.batch.Empty())
	}

	asset := find[*model.Asset](h, model.KindAsset, btc.Hex())
	require.Equal(t, uint32(MaxPriceDecimals), asset.PriceDecimals)

	raw := new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(MaxPriceDecimals))
	requireDecimal(t, "1", NewUnits(config.UnitsConfig{}).Price(raw, asset.PriceDecimals))
}

func TestPriceUpdate_MarksOpenPositions(t *testing.T) {
	h := newHarness(t)

	h.mustApply(100, 0, "IncreasePosition", positionFields(alice, true, 0, 10, 50000, 0))
	h.mustApply(100, 1, "IncreasePosition", positionFields(bob, false, 0, 2, 50000, 0))
	h.mustApply(101, 0, "SetPricefeedConfig", abi.Fields{
		"asset":          btc,
		"price_feed":     common.HexToHash("0xfeed"),
		"price_decimals": uint64(2),
	})
	h.flush()

	h.mustApply(102, 4, "PriceUpdate", abi.Fields{"asset": btc, "price": uint256.NewInt(5_100_000)})
	h.flush()

	asset := find[*model.Asset](h, model.KindAsset, btc.Hex())
	requireDecimal(t, "51000", asset.Price)

	market := find[*model.Market](h, model.KindMarket, btc.Hex())
	requireDecimal(t, "51000", market.OraclePrice)

	tick := find[*model.PriceTick](h, model.KindPriceTick, model.PriceTickID(btc.Hex(), 102, 4))
	require.Equal(t, "BTC-USD", tick.Ticker)
	requireDecimal(t, "51000", tick.Price)

	long := find[*model.Position](h, model.KindPosition, positionID(alice, model.PositionSideLong))
	requireDecimal(t, "10000", long.UnrealizedPnl)
	short := find[*model.Position](h, model.KindPosition, positionID(bob, model.PositionSideShort))
	requireDecimal(t, "-2000", short.UnrealizedPnl)
}

func TestSwap(t *testing.T) {
	h := newHarness(t)

	h.mustApply(50, 7, "Swap", abi.Fields{
		"account":          abi.ContractIdentity(bob),
		"asset_in":         usdc,
		"asset_out":        btc,
		"amount_in":        uint64(1000),
		"amount_out":       uint64(1),
		"fee_basis_points": uint64(30),
	})

	payment := find[*model.Payment](h, model.KindPayment, model.PaymentID(model.PaymentKindSwap, 50, 7, ""))
	require.Equal(t, model.PaymentKindSwap, payment.Kind)
	require.Equal(t, usdc.Hex(), payment.AssetID)
	requireDecimal(t, "1000", payment.Amount)

	account := find[*model.Account](h, model.KindAccount, bob.Hex())
	require.Equal(t, model.AccountKindContract, account.Kind)
	find[*model.Asset](h, model.KindAsset, btc.Hex())
}

func TestHandlers_OrderSensitive(t *testing.T) {
	run := func(order []int) decimal.Decimal {
		h := newHarness(t)
		events := []abi.Fields{
			positionFields(alice, true, 0, 10, 100, 0),
			decreaseFields(alice, true, 0, 5, 200, 0),
			positionFields(alice, true, 0, 5, 300, 0),
		}
		names := []string{"IncreasePosition", "DecreasePosition", "IncreasePosition"}
		for i, idx := range order {
			h.mustApply(100, uint32(i), names[idx], events[idx])
		}
		return find[*model.Position](h, model.KindPosition, positionID(alice, model.PositionSideLong)).RealizedPnl
	}

	inOrder := run([]int{0, 1, 2})
	swapped := run([]int{0, 2, 1})

	requireDecimal(t, "500", inOrder)
	require.False(t, inOrder.Equal(swapped), "reordering receipts changes the result")
}

func TestRegistry(t *testing.T) {
	h := newHarness(t)

	require.Equal(t, []string{
		"DecreasePosition", "IncreasePosition", "LiquidatePosition", "PriceUpdate",
		"SetAssetConfig", "SetPricefeedConfig", "Swap", "UpdateFundingRate",
	}, h.registry.Names())

	tx := state.Begin(h.batch, state.ReceiptContext{Height: 1})
	handled, err := h.registry.Dispatch(h.ctx, abi.Log{Name: "Unknown", LogID: "1"}, tx)
	require.NoError(t, err)
	require.False(t, handled)
	require.Zero(t, tx.Len())

	_, err = NewRegistryWith(logger.NewNopLogger(), &swap{}, &swap{})
	require.ErrorContains(t, err, "duplicate handler")
}

func TestHandlers_InvalidEvent(t *testing.T) {
	h := newHarness(t)

	tx := state.Begin(h.batch, state.ReceiptContext{Height: 1})
	_, err := h.registry.Dispatch(h.ctx, abi.Log{Name: "PriceUpdate", Fields: abi.Fields{"asset": btc}}, tx)
	require.ErrorIs(t, err, ErrInvalidEvent)
	require.ErrorContains(t, err, "price")
}
