package handlers

import (
	"context"
	"fmt"

	"github.com/goran-ethernal/StarboardIndexor/internal/abi"
	"github.com/goran-ethernal/StarboardIndexor/internal/state"
	"github.com/goran-ethernal/StarboardIndexor/pkg/model"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

type base struct {
	resolver *state.Resolver
	units    Units
}

// eventReader collects the first field error so handlers can read a whole event before checking.
type eventReader struct {
	fields abi.Fields
	err    error
}

func (r *eventReader) fail(err error) {
	if r.err == nil && err != nil {
		r.err = err
	}
}

func (r *eventReader) id(name string) string {
	h, err := r.fields.Bits(name)
	r.fail(err)
	return h.Hex()
}

func (r *eventReader) identity(name string) abi.Identity {
	v, err := r.fields.Identity(name)
	r.fail(err)
	return v
}

func (r *eventReader) u256(name string) *uint256.Int {
	v, err := r.fields.U256(name)
	r.fail(err)
	if v == nil {
		return new(uint256.Int)
	}
	return v
}

func (r *eventReader) uint64(name string) uint64 {
	v, err := r.fields.Uint64(name)
	r.fail(err)
	return v
}

func (r *eventReader) bool(name string) bool {
	v, err := r.fields.Bool(name)
	r.fail(err)
	return v
}

func (r *eventReader) Err() error {
	if r.err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEvent, r.err)
	}
	return nil
}

func sideOf(isLong bool) model.PositionSide {
	if isLong {
		return model.PositionSideLong
	}
	return model.PositionSideShort
}

// openingSide is the trade side that grows a position; the opposite side shrinks it.
func openingSide(side model.PositionSide) model.TradeSide {
	if side == model.PositionSideLong {
		return model.TradeSideBuy
	}
	return model.TradeSideSell
}

func closingSide(side model.PositionSide) model.TradeSide {
	if side == model.PositionSideLong {
		return model.TradeSideSell
	}
	return model.TradeSideBuy
}

// pnl is the profit of size units moved from entry to exit.
func pnl(side model.PositionSide, size, entry, exit decimal.Decimal) decimal.Decimal {
	if side == model.PositionSideLong {
		return size.Mul(exit.Sub(entry))
	}
	return size.Mul(entry.Sub(exit))
}

func unrealizedPnl(p *model.Position, mark decimal.Decimal) decimal.Decimal {
	if p.Size.IsZero() || mark.IsZero() {
		return decimal.Zero
	}
	return pnl(p.Side, p.Size, p.EntryPrice, mark)
}

func (b *base) touchAccount(ctx context.Context, tx *state.Tx, id abi.Identity) (*model.Account, error) {
	account, err := b.resolver.GetOrCreateAccount(ctx, tx, id.Hex(), func(a *model.Account) {
		if id.IsContract() {
			a.Kind = model.AccountKindContract
		}
	})
	if err != nil {
		return nil, err
	}

	account.UpdatedAtHeight = tx.Receipt().Height
	tx.Save(account)

	return account, nil
}

func (b *base) touchAsset(ctx context.Context, tx *state.Tx, id string) (*model.Asset, error) {
	asset, err := b.resolver.GetOrCreateAsset(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	tx.Save(asset)
	return asset, nil
}

// resolveMarket returns the index asset and its market, both staged.
func (b *base) resolveMarket(ctx context.Context, tx *state.Tx, indexAssetID string) (*model.Asset, *model.Market, error) {
	asset, err := b.touchAsset(ctx, tx, indexAssetID)
	if err != nil {
		return nil, nil, err
	}

	market, err := b.resolver.GetOrCreateMarket(ctx, tx, asset)
	if err != nil {
		return nil, nil, err
	}
	market.UpdatedAtHeight = tx.Receipt().Height
	tx.Save(market)

	return asset, market, nil
}

func (b *base) recordTrade(
	ctx context.Context,
	tx *state.Tx,
	id string,
	pos *model.Position,
	side model.TradeSide,
	tradeType model.TradeType,
	size, price, fee decimal.Decimal,
) error {
	trade, err := b.resolver.GetOrCreateTrade(ctx, tx, id)
	if err != nil {
		return err
	}

	trade.AccountID = pos.AccountID
	trade.MarketID = pos.MarketID
	trade.PositionID = pos.ID
	trade.Side = side
	trade.TradeType = tradeType
	trade.Size = size
	trade.Price = price
	trade.Fee = fee
	tx.Save(trade)

	return nil
}

func (b *base) recordFee(ctx context.Context, tx *state.Tx, pos *model.Position, assetID string, fee decimal.Decimal) error {
	if !fee.IsPositive() {
		return nil
	}

	rc := tx.Receipt()
	payment, err := b.resolver.GetOrCreatePayment(ctx, tx, model.PaymentID(model.PaymentKindFee, rc.Height, rc.ReceiptIndex, ""))
	if err != nil {
		return err
	}

	payment.AccountID = pos.AccountID
	payment.MarketID = pos.MarketID
	payment.Kind = model.PaymentKindFee
	payment.AssetID = assetID
	payment.Amount = fee
	tx.Save(payment)

	return nil
}

// recordFill folds a fill into the market counters and candles, then refreshes
// open interest. The position the fill belongs to must already be staged.
func (b *base) recordFill(ctx context.Context, tx *state.Tx, market *model.Market, price, size decimal.Decimal) error {
	market.Trades24H++
	market.Volume24H = market.Volume24H.Add(size.Mul(price))
	market.UpdatedAtHeight = tx.Receipt().Height

	for _, resolution := range model.CandleResolutions {
		candle, err := b.resolver.GetOrCreateCandle(ctx, tx, market, resolution)
		if err != nil {
			return err
		}
		candle.Apply(price, size)
		tx.Save(candle)
	}

	return b.recomputeOpenInterest(ctx, tx, market)
}

// recomputeOpenInterest sets open interest to the total size of the market's open positions.
func (b *base) recomputeOpenInterest(ctx context.Context, tx *state.Tx, market *model.Market) error {
	open, err := b.resolver.OpenPositions(ctx, tx, market.ID)
	if err != nil {
		return err
	}

	total := decimal.Zero
	for _, p := range open {
		total = total.Add(p.Size)
	}

	market.OpenInterest = total
	tx.Save(market)

	return nil
}

// findOpenPosition returns the live lifecycle of id, failing for missing and terminal positions.
func (b *base) findOpenPosition(ctx context.Context, tx *state.Tx, id string) (*model.Position, error) {
	pos, found, err := state.Find[*model.Position](ctx, b.resolver, tx, model.KindPosition, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrPositionNotFound, id)
	}
	if !pos.IsOpen() {
		return nil, fmt.Errorf("%w: %s is %s", ErrPositionClosed, id, pos.Status)
	}
	return pos, nil
}

func (b *base) closePosition(tx *state.Tx, pos *model.Position, status model.PositionStatus, exit decimal.Decimal) {
	rc := tx.Receipt()
	pos.Status = status
	pos.ExitPrice = exit
	pos.UnrealizedPnl = decimal.Zero
	pos.ClosedAt = rc.Timestamp
	pos.ClosedAtHeight = rc.Height
	pos.ClosedAtIndex = rc.ReceiptIndex
}
