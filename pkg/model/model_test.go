package model

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestCandleResolution_BucketStart(t *testing.T) {
	tests := []struct {
		resolution CandleResolution
		ts         int64
		want       int64
	}{
		{CandleResolution1Min, 1_700_000_059, 1_700_000_040},
		{CandleResolution5Mins, 1_700_000_059, 1_699_999_800},
		{CandleResolution1Hour, 1_700_000_059, 1_699_999_200},
		{CandleResolution1Day, 1_700_000_059, 1_699_920_000},
		{CandleResolution("2MINS"), 1_700_000_059, 1_700_000_059},
	}

	for _, tt := range tests {
		t.Run(string(tt.resolution), func(t *testing.T) {
			require.Equal(t, tt.want, tt.resolution.BucketStart(tt.ts))
		})
	}
}

func TestCandle_Apply(t *testing.T) {
	c := &Candle{}
	c.Apply(decimal.NewFromInt(100), decimal.NewFromInt(2))
	c.Apply(decimal.NewFromInt(120), decimal.NewFromInt(1))
	c.Apply(decimal.NewFromInt(90), decimal.NewFromInt(1))

	require.True(t, c.Open.Equal(decimal.NewFromInt(100)))
	require.True(t, c.High.Equal(decimal.NewFromInt(120)))
	require.True(t, c.Low.Equal(decimal.NewFromInt(90)))
	require.True(t, c.Close.Equal(decimal.NewFromInt(90)))
	require.True(t, c.BaseTokenVolume.Equal(decimal.NewFromInt(4)))
	require.True(t, c.UsdVolume.Equal(decimal.NewFromInt(410)))
	require.Equal(t, uint64(3), c.Trades)
}

func TestClone_IsIndependent(t *testing.T) {
	p := &Position{ID: "p", Size: decimal.NewFromInt(10)}
	c := Clone(p).(*Position)
	c.Size = decimal.NewFromInt(3)

	require.True(t, p.Size.Equal(decimal.NewFromInt(10)))
	require.Equal(t, p.ID, c.ID)
}

func TestIDs(t *testing.T) {
	require.Equal(t, "btc-usdc-0xa-100-3", TradeID("btc", "usdc", "0xa", 100, 3))
	require.Equal(t, "0xa-btc-LONG-0", PositionID("0xa", "btc", PositionSideLong, 0))
	require.Equal(t, "0xa-btc-LONG-0@200-3", ArchivedPositionID("0xa-btc-LONG-0", 200, 3))
	require.Equal(t, "FEE-100-3", PaymentID(PaymentKindFee, 100, 3, ""))
	require.Equal(t, "FUNDING-100-3-p1", PaymentID(PaymentKindFunding, 100, 3, "p1"))
	require.Equal(t, "BTC-USD", MarketTicker("BTC"))

	for _, kind := range Kinds {
		e := New(kind)
		require.NotNil(t, e)
		require.Equal(t, kind, e.EntityKind())
	}
	require.Nil(t, New("unknown"))
}
