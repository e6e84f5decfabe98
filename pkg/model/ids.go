package model

import "fmt"

// MarketID derives the market id from its index asset.
func MarketID(indexAssetID string) string {
	return indexAssetID
}

// MarketTicker returns the display ticker of a market on the given index symbol.
func MarketTicker(symbol string) string {
	return symbol + "-USD"
}

// TradeID derives a trade id. The receipt index disambiguates fills of the same
// account and market within one block.
func TradeID(indexAssetID, collateralAssetID, accountID string, height uint64, receiptIndex uint32) string {
	return fmt.Sprintf("%s-%s-%s-%d-%d", indexAssetID, collateralAssetID, accountID, height, receiptIndex)
}

// PositionID derives the id of the live lifecycle of a position key.
func PositionID(accountID, marketID string, side PositionSide, subaccount uint32) string {
	return fmt.Sprintf("%s-%s-%s-%d", accountID, marketID, side, subaccount)
}

// ArchivedPositionID is the id a terminal lifecycle is moved to when the key is
// reopened. The closing receipt keeps two lifecycles closed in one block apart.
func ArchivedPositionID(positionID string, closedAtHeight uint64, closedAtIndex uint32) string {
	return fmt.Sprintf("%s@%d-%d", positionID, closedAtHeight, closedAtIndex)
}

// PaymentID derives a payment id from its receipt and a per-receipt discriminator.
func PaymentID(kind PaymentKind, height uint64, receiptIndex uint32, discriminator string) string {
	if discriminator == "" {
		return fmt.Sprintf("%s-%d-%d", kind, height, receiptIndex)
	}
	return fmt.Sprintf("%s-%d-%d-%s", kind, height, receiptIndex, discriminator)
}

// PriceTickID derives the id of a price observation.
func PriceTickID(assetID string, height uint64, receiptIndex uint32) string {
	return fmt.Sprintf("%s-%d-%d", assetID, height, receiptIndex)
}
