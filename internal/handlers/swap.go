package handlers

import (
	"context"

	"github.com/goran-ethernal/StarboardIndexor/internal/abi"
	"github.com/goran-ethernal/StarboardIndexor/internal/state"
	"github.com/goran-ethernal/StarboardIndexor/pkg/model"
)

type swap struct{ *base }

func (h *swap) Name() string { return "Swap" }

func (h *swap) Handle(ctx context.Context, log abi.Log, tx *state.Tx) error {
	r := &eventReader{fields: log.Fields}
	accountID := r.identity("account")
	assetIn := r.id("asset_in")
	assetOut := r.id("asset_out")
	amountIn := r.u256("amount_in")
	if err := r.Err(); err != nil {
		return err
	}

	rc := tx.Receipt()

	account, err := h.touchAccount(ctx, tx, accountID)
	if err != nil {
		return err
	}
	in, err := h.touchAsset(ctx, tx, assetIn)
	if err != nil {
		return err
	}
	if _, err := h.touchAsset(ctx, tx, assetOut); err != nil {
		return err
	}

	payment, err := h.resolver.GetOrCreatePayment(ctx, tx, model.PaymentID(model.PaymentKindSwap, rc.Height, rc.ReceiptIndex, ""))
	if err != nil {
		return err
	}
	payment.AccountID = account.ID
	payment.Kind = model.PaymentKindSwap
	payment.AssetID = in.ID
	payment.Amount = h.units.Amount(amountIn)
	tx.Save(payment)

	return nil
}
