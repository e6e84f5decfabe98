package handlers

import (
	"context"

	"github.com/goran-ethernal/StarboardIndexor/internal/abi"
	"github.com/goran-ethernal/StarboardIndexor/internal/state"
	"github.com/goran-ethernal/StarboardIndexor/pkg/model"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// positionChange is the common payload of IncreasePosition and DecreasePosition.
type positionChange struct {
	account         abi.Identity
	collateralAsset string
	indexAsset      string
	collateralDelta *uint256.Int
	sizeDelta       *uint256.Int
	isLong          bool
	price           *uint256.Int
	fee             *uint256.Int
}

func readPositionChange(r *eventReader) positionChange {
	return positionChange{
		account:         r.identity("account"),
		collateralAsset: r.id("collateral_asset"),
		indexAsset:      r.id("index_asset"),
		collateralDelta: r.u256("collateral_delta"),
		sizeDelta:       r.u256("size_delta"),
		isLong:          r.bool("is_long"),
		price:           r.u256("price"),
		fee:             r.u256("fee"),
	}
}

type increasePosition struct{ *base }

func (h *increasePosition) Name() string { return "IncreasePosition" }

func (h *increasePosition) Handle(ctx context.Context, log abi.Log, tx *state.Tx) error {
	r := &eventReader{fields: log.Fields}
	ev := readPositionChange(r)
	if err := r.Err(); err != nil {
		return err
	}

	rc := tx.Receipt()

	account, err := h.touchAccount(ctx, tx, ev.account)
	if err != nil {
		return err
	}
	collateral, err := h.touchAsset(ctx, tx, ev.collateralAsset)
	if err != nil {
		return err
	}
	index, market, err := h.resolveMarket(ctx, tx, ev.indexAsset)
	if err != nil {
		return err
	}

	price := h.units.Price(ev.price, index.PriceDecimals)
	sizeDelta := h.units.Amount(ev.sizeDelta)
	collateralDelta := h.units.Amount(ev.collateralDelta)
	fee := h.units.Amount(ev.fee)
	side := sideOf(ev.isLong)

	init := func(p *model.Position) {
		p.AccountID = account.ID
		p.MarketID = market.ID
		p.Side = side
		p.Ticker = market.Ticker
		p.LastFundingRate = market.CumulativeFundingRate
	}

	posID := model.PositionID(account.ID, market.ID, side, 0)
	pos, err := h.resolver.GetOrCreatePosition(ctx, tx, posID, init)
	if err != nil {
		return err
	}
	if !pos.IsOpen() {
		archived := model.Clone(pos).(*model.Position)
		archived.ID = model.ArchivedPositionID(pos.ID, pos.ClosedAtHeight, pos.ClosedAtIndex)
		tx.Save(archived)

		trades, err := h.resolver.PositionTrades(ctx, tx, posID)
		if err != nil {
			return err
		}
		for _, trade := range trades {
			trade.PositionID = archived.ID
			tx.Save(trade)
		}

		pos = h.resolver.FreshPosition(tx, posID, init)
	}

	if pos.Size.IsZero() {
		pos.EntryPrice = price
	} else if total := pos.Size.Add(sizeDelta); total.IsPositive() {
		pos.EntryPrice = pos.EntryPrice.Mul(pos.Size).Add(price.Mul(sizeDelta)).Div(total)
	}

	pos.Size = pos.Size.Add(sizeDelta)
	pos.Collateral = pos.Collateral.Add(collateralDelta)
	pos.SumOpen = pos.SumOpen.Add(sizeDelta)
	pos.MaxSize = decimal.Max(pos.MaxSize, pos.Size)
	pos.Fees = pos.Fees.Add(fee)
	pos.LastIncreasedTime = rc.Timestamp
	pos.UnrealizedPnl = unrealizedPnl(pos, price)
	tx.Save(pos)

	tradeID := model.TradeID(index.ID, collateral.ID, account.ID, rc.Height, rc.ReceiptIndex)
	if err := h.recordTrade(ctx, tx, tradeID, pos, openingSide(side), model.TradeTypeLimit, sizeDelta, price, fee); err != nil {
		return err
	}
	if err := h.recordFee(ctx, tx, pos, collateral.ID, fee); err != nil {
		return err
	}

	return h.recordFill(ctx, tx, market, price, sizeDelta)
}

type decreasePosition struct{ *base }

func (h *decreasePosition) Name() string { return "DecreasePosition" }

func (h *decreasePosition) Handle(ctx context.Context, log abi.Log, tx *state.Tx) error {
	r := &eventReader{fields: log.Fields}
	ev := readPositionChange(r)
	receiver := r.identity("receiver")
	if err := r.Err(); err != nil {
		return err
	}

	rc := tx.Receipt()

	account, err := h.touchAccount(ctx, tx, ev.account)
	if err != nil {
		return err
	}
	if _, err := h.touchAccount(ctx, tx, receiver); err != nil {
		return err
	}
	collateral, err := h.touchAsset(ctx, tx, ev.collateralAsset)
	if err != nil {
		return err
	}
	index, market, err := h.resolveMarket(ctx, tx, ev.indexAsset)
	if err != nil {
		return err
	}

	side := sideOf(ev.isLong)
	pos, err := h.findOpenPosition(ctx, tx, model.PositionID(account.ID, market.ID, side, 0))
	if err != nil {
		return err
	}

	price := h.units.Price(ev.price, index.PriceDecimals)
	sizeDelta := decimal.Min(h.units.Amount(ev.sizeDelta), pos.Size)
	collateralDelta := h.units.Amount(ev.collateralDelta)
	fee := h.units.Amount(ev.fee)

	pos.RealizedPnl = pos.RealizedPnl.Add(pnl(side, sizeDelta, pos.EntryPrice, price))
	pos.Collateral = decimal.Max(decimal.Zero, pos.Collateral.Sub(collateralDelta))
	pos.SumClose = pos.SumClose.Add(sizeDelta)
	pos.Fees = pos.Fees.Add(fee)
	pos.Size = pos.Size.Sub(sizeDelta)

	if pos.Size.IsZero() {
		h.closePosition(tx, pos, model.PositionStatusClosed, price)
	} else {
		pos.UnrealizedPnl = unrealizedPnl(pos, price)
	}
	tx.Save(pos)

	tradeID := model.TradeID(index.ID, collateral.ID, account.ID, rc.Height, rc.ReceiptIndex)
	if err := h.recordTrade(ctx, tx, tradeID, pos, closingSide(side), model.TradeTypeLimit, sizeDelta, price, fee); err != nil {
		return err
	}
	if err := h.recordFee(ctx, tx, pos, collateral.ID, fee); err != nil {
		return err
	}

	return h.recordFill(ctx, tx, market, price, sizeDelta)
}

type liquidatePosition struct{ *base }

func (h *liquidatePosition) Name() string { return "LiquidatePosition" }

func (h *liquidatePosition) Handle(ctx context.Context, log abi.Log, tx *state.Tx) error {
	r := &eventReader{fields: log.Fields}
	accountID := r.identity("account")
	collateralAsset := r.id("collateral_asset")
	indexAsset := r.id("index_asset")
	isLong := r.bool("is_long")
	remaining := r.u256("collateral")
	markPrice := r.u256("mark_price")
	if err := r.Err(); err != nil {
		return err
	}

	rc := tx.Receipt()

	account, err := h.touchAccount(ctx, tx, accountID)
	if err != nil {
		return err
	}
	collateral, err := h.touchAsset(ctx, tx, collateralAsset)
	if err != nil {
		return err
	}
	index, market, err := h.resolveMarket(ctx, tx, indexAsset)
	if err != nil {
		return err
	}

	side := sideOf(isLong)
	pos, err := h.findOpenPosition(ctx, tx, model.PositionID(account.ID, market.ID, side, 0))
	if err != nil {
		return err
	}

	mark := h.units.Price(markPrice, index.PriceDecimals)
	closedSize := pos.Size

	pos.RealizedPnl = pos.RealizedPnl.Sub(h.units.Amount(remaining))
	pos.SumClose = pos.SumClose.Add(closedSize)
	pos.Size = decimal.Zero
	pos.Collateral = decimal.Zero
	h.closePosition(tx, pos, model.PositionStatusLiquidated, mark)
	tx.Save(pos)

	tradeID := model.TradeID(index.ID, collateral.ID, account.ID, rc.Height, rc.ReceiptIndex)
	if err := h.recordTrade(ctx, tx, tradeID, pos, closingSide(side), model.TradeTypeLiquidated, closedSize, mark, decimal.Zero); err != nil {
		return err
	}

	return h.recordFill(ctx, tx, market, mark, closedSize)
}
