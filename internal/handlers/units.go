package handlers

import (
	"github.com/goran-ethernal/StarboardIndexor/pkg/config"
	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// MaxPriceDecimals is the largest feed precision accepted. 10^77 is the largest
// power of ten that fits in a u256.
const MaxPriceDecimals = 77

// Units scales decoded integers into decimals.
type Units struct {
	PriceDecimals        int32
	SizeDecimals         int32
	FundingRatePrecision decimal.Decimal
}

// NewUnits creates the scales configured in cfg.
func NewUnits(cfg config.UnitsConfig) Units {
	precision := cfg.FundingRatePrecision
	if precision == 0 {
		precision = 1
	}

	return Units{
		PriceDecimals:        cfg.PriceDecimals,
		SizeDecimals:         cfg.SizeDecimals,
		FundingRatePrecision: decimal.NewFromUint64(precision),
	}
}

func scale(v *uint256.Int, decimals int32) decimal.Decimal {
	return decimal.NewFromBigInt(v.ToBig(), -decimals)
}

// Price scales an oracle or execution price. A positive feed precision overrides the default.
func (u Units) Price(v *uint256.Int, feedDecimals uint32) decimal.Decimal {
	if feedDecimals > 0 {
		return scale(v, int32(feedDecimals)) //nolint:gosec
	}
	return scale(v, u.PriceDecimals)
}

// Amount scales sizes, collateral, fees and token amounts.
func (u Units) Amount(v *uint256.Int) decimal.Decimal {
	return scale(v, u.SizeDecimals)
}

// Raw returns the integer unscaled.
func (u Units) Raw(v *uint256.Int) decimal.Decimal {
	return scale(v, 0)
}
