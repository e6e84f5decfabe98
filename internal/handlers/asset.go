package handlers

import (
	"context"
	"fmt"
	"math"

	"github.com/goran-ethernal/StarboardIndexor/internal/abi"
	"github.com/goran-ethernal/StarboardIndexor/internal/state"
	"github.com/goran-ethernal/StarboardIndexor/pkg/model"
)

type setAssetConfig struct{ *base }

func (h *setAssetConfig) Name() string { return "SetAssetConfig" }

func (h *setAssetConfig) Handle(ctx context.Context, log abi.Log, tx *state.Tx) error {
	r := &eventReader{fields: log.Fields}
	assetID := r.id("asset")
	decimals := r.uint64("asset_decimals")
	weight := r.uint64("asset_weight")
	minProfit := r.uint64("min_profit_bps")
	maxRusd := r.u256("max_rusd_amount")
	stable := r.bool("is_stable")
	shortable := r.bool("is_shortable")
	if err := r.Err(); err != nil {
		return err
	}
	if decimals > math.MaxUint32 {
		return fmt.Errorf("%w: asset_decimals %d", ErrInvalidEvent, decimals)
	}

	asset, err := h.resolver.GetOrCreateAsset(ctx, tx, assetID)
	if err != nil {
		return err
	}

	asset.Decimals = uint32(decimals)
	asset.Weight = weight
	asset.MinProfitBasisPoints = minProfit
	asset.MaxRusdAmount = h.units.Amount(maxRusd)
	asset.Stable = stable
	asset.Shortable = shortable
	asset.Whitelisted = true
	asset.UpdatedAtHeight = tx.Receipt().Height
	tx.Save(asset)

	if stable {
		return nil
	}

	market, err := h.resolver.GetOrCreateMarket(ctx, tx, asset)
	if err != nil {
		return err
	}
	market.UpdatedAtHeight = tx.Receipt().Height
	tx.Save(market)

	return nil
}

type setPricefeedConfig struct{ *base }

func (h *setPricefeedConfig) Name() string { return "SetPricefeedConfig" }

func (h *setPricefeedConfig) Handle(ctx context.Context, log abi.Log, tx *state.Tx) error {
	r := &eventReader{fields: log.Fields}
	assetID := r.id("asset")
	feed := r.id("price_feed")
	decimals := r.uint64("price_decimals")
	if err := r.Err(); err != nil {
		return err
	}
	if decimals > MaxPriceDecimals {
		return fmt.Errorf("%w: price_decimals %d above %d", ErrInvalidEvent, decimals, MaxPriceDecimals)
	}

	asset, err := h.resolver.GetOrCreateAsset(ctx, tx, assetID)
	if err != nil {
		return err
	}

	asset.FeedID = feed
	asset.PriceDecimals = uint32(decimals)
	asset.UpdatedAtHeight = tx.Receipt().Height
	tx.Save(asset)

	return nil
}

type priceUpdate struct{ *base }

func (h *priceUpdate) Name() string { return "PriceUpdate" }

// Handle records the oracle price and marks every open position of the market to it.
func (h *priceUpdate) Handle(ctx context.Context, log abi.Log, tx *state.Tx) error {
	r := &eventReader{fields: log.Fields}
	assetID := r.id("asset")
	raw := r.u256("price")
	if err := r.Err(); err != nil {
		return err
	}

	rc := tx.Receipt()

	asset, err := h.resolver.GetOrCreateAsset(ctx, tx, assetID)
	if err != nil {
		return err
	}

	price := h.units.Price(raw, asset.PriceDecimals)
	asset.Price = price
	asset.UpdatedAtHeight = rc.Height
	tx.Save(asset)

	tick, err := h.resolver.GetOrCreatePriceTick(ctx, tx, model.PriceTickID(asset.ID, rc.Height, rc.ReceiptIndex))
	if err != nil {
		return err
	}
	tick.AssetID = asset.ID
	tick.Ticker = model.MarketTicker(asset.DisplaySymbol())
	tick.Price = price
	tx.Save(tick)

	if asset.Stable {
		return nil
	}

	market, err := h.resolver.GetOrCreateMarket(ctx, tx, asset)
	if err != nil {
		return err
	}
	market.OraclePrice = price
	market.UpdatedAtHeight = rc.Height
	tx.Save(market)

	open, err := h.resolver.OpenPositions(ctx, tx, market.ID)
	if err != nil {
		return err
	}
	for _, pos := range open {
		pos.UnrealizedPnl = unrealizedPnl(pos, price)
		tx.Save(pos)
	}

	return nil
}
