// Package model defines the canonical entities of the materialized trading view.
// Every entity is keyed by a deterministic string id derived from on-chain data.
package model

import (
	"github.com/shopspring/decimal"
)

// Kind names an entity type. It doubles as the storage table name.
type Kind string

const (
	KindAccount   Kind = "account"
	KindAsset     Kind = "asset"
	KindMarket    Kind = "market"
	KindPosition  Kind = "position"
	KindTrade     Kind = "trade"
	KindPayment   Kind = "payment"
	KindCandle    Kind = "candle"
	KindPriceTick Kind = "price_tick"
)

// Kinds lists every entity kind in commit order. Referenced kinds come before the kinds referencing them.
var Kinds = []Kind{
	KindAccount,
	KindAsset,
	KindMarket,
	KindPosition,
	KindTrade,
	KindPayment,
	KindCandle,
	KindPriceTick,
}

// Entity is implemented by every canonical entity.
type Entity interface {
	EntityKind() Kind
	EntityID() string
}

// New returns an empty entity of the given kind, used as a scan target.
func New(kind Kind) Entity {
	switch kind {
	case KindAccount:
		return &Account{}
	case KindAsset:
		return &Asset{}
	case KindMarket:
		return &Market{}
	case KindPosition:
		return &Position{}
	case KindTrade:
		return &Trade{}
	case KindPayment:
		return &Payment{}
	case KindCandle:
		return &Candle{}
	case KindPriceTick:
		return &PriceTick{}
	default:
		return nil
	}
}

// Clone returns an independent copy of e. Decimal values are immutable, so a struct copy suffices.
func Clone(e Entity) Entity {
	switch v := e.(type) {
	case *Account:
		c := *v
		return &c
	case *Asset:
		c := *v
		return &c
	case *Market:
		c := *v
		return &c
	case *Position:
		c := *v
		return &c
	case *Trade:
		c := *v
		return &c
	case *Payment:
		c := *v
		return &c
	case *Candle:
		c := *v
		return &c
	case *PriceTick:
		c := *v
		return &c
	default:
		return e
	}
}

type AccountKind string

const (
	AccountKindAddress  AccountKind = "ADDRESS"
	AccountKindContract AccountKind = "CONTRACT"
)

// Account is a trader identity.
type Account struct {
	ID              string      `meddler:"id"`
	Kind            AccountKind `meddler:"kind"`
	CreatedAt       int64       `meddler:"created_at"`
	CreatedAtHeight uint64      `meddler:"created_at_height"`
	UpdatedAtHeight uint64      `meddler:"updated_at_height"`
}

func (a *Account) EntityKind() Kind { return KindAccount }
func (a *Account) EntityID() string { return a.ID }

// Asset is a token known to the vault or the price feed.
type Asset struct {
	ID                   string          `meddler:"id"`
	Symbol               string          `meddler:"symbol"`
	Name                 string          `meddler:"name"`
	Decimals             uint32          `meddler:"decimals"`
	Whitelisted          bool            `meddler:"whitelisted"`
	Stable               bool            `meddler:"stable"`
	Shortable            bool            `meddler:"shortable"`
	MinProfitBasisPoints uint64          `meddler:"min_profit_basis_points"`
	Weight               uint64          `meddler:"weight"`
	MaxRusdAmount        decimal.Decimal `meddler:"max_rusd_amount,decimal"`
	FeedID               string          `meddler:"feed_id"`
	PriceDecimals        uint32          `meddler:"price_decimals"`
	Price                decimal.Decimal `meddler:"price,decimal"`
	UpdatedAtHeight      uint64          `meddler:"updated_at_height"`
}

func (a *Asset) EntityKind() Kind { return KindAsset }
func (a *Asset) EntityID() string { return a.ID }

// DisplaySymbol returns the symbol, falling back to the asset id.
func (a *Asset) DisplaySymbol() string {
	if a.Symbol != "" {
		return a.Symbol
	}
	return a.ID
}

type MarketStatus string

const (
	MarketStatusActive          MarketStatus = "ACTIVE"
	MarketStatusPaused          MarketStatus = "PAUSED"
	MarketStatusCancelOnly      MarketStatus = "CANCEL_ONLY"
	MarketStatusPostOnly        MarketStatus = "POST_ONLY"
	MarketStatusInitializing    MarketStatus = "INITIALIZING"
	MarketStatusFinalSettlement MarketStatus = "FINAL_SETTLEMENT"
)

type MarketType string

const (
	MarketTypePerp MarketType = "PERP"
	MarketTypeSpot MarketType = "SPOT"
)

// Market is a perpetual market keyed by its index asset.
type Market struct {
	ID                        string          `meddler:"id"`
	IndexAssetID              string          `meddler:"index_asset_id"`
	Ticker                    string          `meddler:"ticker"`
	AtomicResolution          int32           `meddler:"atomic_resolution"`
	QuantumConversionExponent int32           `meddler:"quantum_conversion_exponent"`
	StepBaseQuantums          uint64          `meddler:"step_base_quantums"`
	SubticksPerTick           uint64          `meddler:"subticks_per_tick"`
	StepSize                  decimal.Decimal `meddler:"step_size,decimal"`
	TickSize                  decimal.Decimal `meddler:"tick_size,decimal"`
	InitialMarginFraction     decimal.Decimal `meddler:"initial_margin_fraction,decimal"`
	MaintenanceMarginFraction decimal.Decimal `meddler:"maintenance_margin_fraction,decimal"`
	OpenInterest              decimal.Decimal `meddler:"open_interest,decimal"`
	OpenInterestLowerCap      decimal.Decimal `meddler:"open_interest_lower_cap,decimal"`
	OpenInterestUpperCap      decimal.Decimal `meddler:"open_interest_upper_cap,decimal"`
	BaseOpenInterest          decimal.Decimal `meddler:"base_open_interest,decimal"`
	OraclePrice               decimal.Decimal `meddler:"oracle_price,decimal"`
	PriceChange24H            decimal.Decimal `meddler:"price_change_24h,decimal"`
	Trades24H                 uint64          `meddler:"trades_24h"`
	Volume24H                 decimal.Decimal `meddler:"volume_24h,decimal"`
	DefaultFundingRate1H      decimal.Decimal `meddler:"default_funding_rate_1h,decimal"`
	NextFundingRate           decimal.Decimal `meddler:"next_funding_rate,decimal"`
	CumulativeFundingRate     decimal.Decimal `meddler:"cumulative_funding_rate,decimal"`
	Status                    MarketStatus    `meddler:"status"`
	MarketType                MarketType      `meddler:"market_type"`
	ClobPairID                uint32          `meddler:"clob_pair_id"`
	CreatedAtHeight           uint64          `meddler:"created_at_height"`
	UpdatedAtHeight           uint64          `meddler:"updated_at_height"`
}

func (m *Market) EntityKind() Kind { return KindMarket }
func (m *Market) EntityID() string { return m.ID }

type TradeSide string

const (
	TradeSideBuy  TradeSide = "BUY"
	TradeSideSell TradeSide = "SELL"
)

type TradeType string

const (
	TradeTypeLimit       TradeType = "LIMIT"
	TradeTypeMarket      TradeType = "MARKET"
	TradeTypeLiquidated  TradeType = "LIQUIDATED"
	TradeTypeDeleveraged TradeType = "DELEVERAGED"
)

// Trade is one fill against a position.
type Trade struct {
	ID              string          `meddler:"id"`
	AccountID       string          `meddler:"account_id"`
	MarketID        string          `meddler:"market_id"`
	PositionID      string          `meddler:"position_id"`
	Side            TradeSide       `meddler:"side"`
	Size            decimal.Decimal `meddler:"size,decimal"`
	Price           decimal.Decimal `meddler:"price,decimal"`
	Fee             decimal.Decimal `meddler:"fee,decimal"`
	TradeType       TradeType       `meddler:"trade_type"`
	CreatedAt       int64           `meddler:"created_at"`
	CreatedAtHeight uint64          `meddler:"created_at_height"`
	TxID            string          `meddler:"tx_id"`
}

func (t *Trade) EntityKind() Kind { return KindTrade }
func (t *Trade) EntityID() string { return t.ID }

type PositionSide string

const (
	PositionSideLong  PositionSide = "LONG"
	PositionSideShort PositionSide = "SHORT"
)

type PositionStatus string

const (
	PositionStatusOpen       PositionStatus = "OPEN"
	PositionStatusClosed     PositionStatus = "CLOSED"
	PositionStatusLiquidated PositionStatus = "LIQUIDATED"
)

// Position is one lifecycle of an (account, market, side, subaccount) exposure.
type Position struct {
	ID                string          `meddler:"id"`
	AccountID         string          `meddler:"account_id"`
	MarketID          string          `meddler:"market_id"`
	Side              PositionSide    `meddler:"side"`
	SubaccountNumber  uint32          `meddler:"subaccount_number"`
	Status            PositionStatus  `meddler:"status"`
	Ticker            string          `meddler:"ticker"`
	Size              decimal.Decimal `meddler:"size,decimal"`
	MaxSize           decimal.Decimal `meddler:"max_size,decimal"`
	EntryPrice        decimal.Decimal `meddler:"entry_price,decimal"`
	ExitPrice         decimal.Decimal `meddler:"exit_price,decimal"`
	RealizedPnl       decimal.Decimal `meddler:"realized_pnl,decimal"`
	UnrealizedPnl     decimal.Decimal `meddler:"unrealized_pnl,decimal"`
	Collateral        decimal.Decimal `meddler:"collateral,decimal"`
	NetFunding        decimal.Decimal `meddler:"net_funding,decimal"`
	LastFundingRate   decimal.Decimal `meddler:"last_funding_rate,decimal"`
	SumOpen           decimal.Decimal `meddler:"sum_open,decimal"`
	SumClose          decimal.Decimal `meddler:"sum_close,decimal"`
	Fees              decimal.Decimal `meddler:"fees,decimal"`
	CreatedAt         int64           `meddler:"created_at"`
	CreatedAtHeight   uint64          `meddler:"created_at_height"`
	LastIncreasedTime int64           `meddler:"last_increased_time"`
	ClosedAt          int64           `meddler:"closed_at"`
	ClosedAtHeight    uint64          `meddler:"closed_at_height"`
	ClosedAtIndex     uint32          `meddler:"closed_at_index"`
}

func (p *Position) EntityKind() Kind { return KindPosition }
func (p *Position) EntityID() string { return p.ID }

// IsOpen reports whether the position is in its open lifecycle state.
func (p *Position) IsOpen() bool {
	return p.Status == PositionStatusOpen
}

type PaymentKind string

const (
	PaymentKindFee     PaymentKind = "FEE"
	PaymentKindFunding PaymentKind = "FUNDING"
	PaymentKindSwap    PaymentKind = "SWAP"
)

// Payment is a value transfer attributed to an account.
type Payment struct {
	ID              string          `meddler:"id"`
	AccountID       string          `meddler:"account_id"`
	MarketID        string          `meddler:"market_id"`
	Kind            PaymentKind     `meddler:"kind"`
	AssetID         string          `meddler:"asset_id"`
	Amount          decimal.Decimal `meddler:"amount,decimal"`
	CreatedAt       int64           `meddler:"created_at"`
	CreatedAtHeight uint64          `meddler:"created_at_height"`
	TxID            string          `meddler:"tx_id"`
}

func (p *Payment) EntityKind() Kind { return KindPayment }
func (p *Payment) EntityID() string { return p.ID }

// PriceTick is one oracle observation.
type PriceTick struct {
	ID        string          `meddler:"id"`
	AssetID   string          `meddler:"asset_id"`
	Ticker    string          `meddler:"ticker"`
	Timestamp int64           `meddler:"timestamp"`
	Height    uint64          `meddler:"height"`
	Price     decimal.Decimal `meddler:"price,decimal"`
}

func (p *PriceTick) EntityKind() Kind { return KindPriceTick }
func (p *PriceTick) EntityID() string { return p.ID }
