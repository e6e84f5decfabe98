package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

type CandleResolution string

const (
	CandleResolution1Min   CandleResolution = "1MIN"
	CandleResolution5Mins  CandleResolution = "5MINS"
	CandleResolution15Mins CandleResolution = "15MINS"
	CandleResolution30Mins CandleResolution = "30MINS"
	CandleResolution1Hour  CandleResolution = "1HOUR"
	CandleResolution4Hours CandleResolution = "4HOURS"
	CandleResolution1Day   CandleResolution = "1DAY"
)

// CandleResolutions lists every resolution a trade is bucketed into.
var CandleResolutions = []CandleResolution{
	CandleResolution1Min,
	CandleResolution5Mins,
	CandleResolution15Mins,
	CandleResolution30Mins,
	CandleResolution1Hour,
	CandleResolution4Hours,
	CandleResolution1Day,
}

var resolutionSeconds = map[CandleResolution]int64{
	CandleResolution1Min:   60,
	CandleResolution5Mins:  5 * 60,
	CandleResolution15Mins: 15 * 60,
	CandleResolution30Mins: 30 * 60,
	CandleResolution1Hour:  60 * 60,
	CandleResolution4Hours: 4 * 60 * 60,
	CandleResolution1Day:   24 * 60 * 60,
}

// Seconds returns the bucket width of the resolution.
func (r CandleResolution) Seconds() int64 {
	return resolutionSeconds[r]
}

// BucketStart returns the start of the bucket containing the unix timestamp ts.
func (r CandleResolution) BucketStart(ts int64) int64 {
	width := r.Seconds()
	if width == 0 {
		return ts
	}
	return ts - ts%width
}

// CandleID derives the id of the candle covering startedAt.
func CandleID(marketID string, resolution CandleResolution, startedAt int64) string {
	return fmt.Sprintf("%s-%s-%d", marketID, resolution, startedAt)
}

// Candle is an OHLCV bucket for one market and resolution.
type Candle struct {
	ID                   string           `meddler:"id"`
	MarketID             string           `meddler:"market_id"`
	Ticker               string           `meddler:"ticker"`
	Resolution           CandleResolution `meddler:"resolution"`
	StartedAt            int64            `meddler:"started_at"`
	Open                 decimal.Decimal  `meddler:"open,decimal"`
	High                 decimal.Decimal  `meddler:"high,decimal"`
	Low                  decimal.Decimal  `meddler:"low,decimal"`
	Close                decimal.Decimal  `meddler:"close,decimal"`
	BaseTokenVolume      decimal.Decimal  `meddler:"base_token_volume,decimal"`
	UsdVolume            decimal.Decimal  `meddler:"usd_volume,decimal"`
	Trades               uint64           `meddler:"trades"`
	StartingOpenInterest decimal.Decimal  `meddler:"starting_open_interest,decimal"`
}

func (c *Candle) EntityKind() Kind { return KindCandle }
func (c *Candle) EntityID() string { return c.ID }

// Apply folds a fill into the candle. The first fill opens it.
func (c *Candle) Apply(price, size decimal.Decimal) {
	if c.Trades == 0 {
		c.Open = price
		c.High = price
		c.Low = price
	} else {
		if price.GreaterThan(c.High) {
			c.High = price
		}
		if price.LessThan(c.Low) {
			c.Low = price
		}
	}

	c.Close = price
	c.BaseTokenVolume = c.BaseTokenVolume.Add(size)
	c.UsdVolume = c.UsdVolume.Add(size.Mul(price))
	c.Trades++
}
