package handlers

import (
	"context"

	"github.com/goran-ethernal/StarboardIndexor/internal/abi"
	"github.com/goran-ethernal/StarboardIndexor/internal/state"
	"github.com/goran-ethernal/StarboardIndexor/pkg/model"
)

type updateFundingRate struct{ *base }

func (h *updateFundingRate) Name() string { return "UpdateFundingRate" }

// Handle moves the market's cumulative rate and settles the difference into
// every open position. Longs pay and shorts receive.
func (h *updateFundingRate) Handle(ctx context.Context, log abi.Log, tx *state.Tx) error {
	r := &eventReader{fields: log.Fields}
	assetID := r.id("asset")
	rate := r.u256("funding_rate")
	if err := r.Err(); err != nil {
		return err
	}

	rc := tx.Receipt()

	_, market, err := h.resolveMarket(ctx, tx, assetID)
	if err != nil {
		return err
	}

	cumulative := h.units.Raw(rate)
	market.NextFundingRate = cumulative.Sub(market.CumulativeFundingRate)
	market.CumulativeFundingRate = cumulative
	tx.Save(market)

	open, err := h.resolver.OpenPositions(ctx, tx, market.ID)
	if err != nil {
		return err
	}

	for _, pos := range open {
		accrual := pos.Size.Mul(cumulative.Sub(pos.LastFundingRate)).Div(h.units.FundingRatePrecision)
		if pos.Side == model.PositionSideLong {
			accrual = accrual.Neg()
		}

		pos.NetFunding = pos.NetFunding.Add(accrual)
		pos.LastFundingRate = cumulative
		tx.Save(pos)

		if accrual.IsZero() {
			continue
		}

		payment, err := h.resolver.GetOrCreatePayment(ctx, tx,
			model.PaymentID(model.PaymentKindFunding, rc.Height, rc.ReceiptIndex, pos.ID))
		if err != nil {
			return err
		}
		payment.AccountID = pos.AccountID
		payment.MarketID = pos.MarketID
		payment.Kind = model.PaymentKindFunding
		payment.AssetID = market.IndexAssetID
		payment.Amount = accrual
		tx.Save(payment)
	}

	return nil
}
