// Package model defines the core domain types shared across the ledger engine.
// All monetary values and quantities use shopspring/decimal, never float64.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TradeType is the side of an equity trade. On a Position it carries the
// direction of the holding: buy = long, sell = short.
type TradeType string

const (
	Buy  TradeType = "buy"
	Sell TradeType = "sell"
)

// Valid reports whether t is a known trade type.
func (t TradeType) Valid() bool { return t == Buy || t == Sell }

// Sign is +1 for long (buy) and -1 for short (sell).
func (t TradeType) Sign() decimal.Decimal {
	if t == Sell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Opposite returns the other side.
func (t TradeType) Opposite() TradeType {
	if t == Buy {
		return Sell
	}
	return Buy
}

// PositionStatus is the lifecycle state of a derived Position row.
type PositionStatus string

const (
	PositionOpen   PositionStatus = "open"
	PositionClosed PositionStatus = "closed"
)

// OptionStatus is the lifecycle state of an option trade.
type OptionStatus string

const (
	OptionOpen      OptionStatus = "open"
	OptionClosed    OptionStatus = "closed"
	OptionExpired   OptionStatus = "expired"
	OptionExercised OptionStatus = "exercised"
)

// Terminal reports whether no further transition is allowed.
func (s OptionStatus) Terminal() bool {
	return s == OptionClosed || s == OptionExpired || s == OptionExercised
}

// TransactionType tells whether opening an option received (credit) or paid (debit) premium.
type TransactionType string

const (
	Credit TransactionType = "credit"
	Debit  TransactionType = "debit"
)

// Strategy is the option strategy recorded with an option trade.
type Strategy string

const (
	StrategyCall           Strategy = "call"
	StrategyPut            Strategy = "put"
	StrategyCashSecuredPut Strategy = "cash secured put"
	StrategyCoveredCall    Strategy = "covered call"
)

// IsCall reports whether the strategy is built on a call contract.
func (s Strategy) IsCall() bool { return s == StrategyCall || s == StrategyCoveredCall }

// FlowType is the kind of an external cash movement.
type FlowType string

const (
	Deposit    FlowType = "deposit"
	Withdrawal FlowType = "withdrawal"
)

// Platform is a brokerage account. CashAvailable is derived state owned by
// the reconciliation engine.
type Platform struct {
	ID            int64           `json:"id" db:"id"`
	Name          string          `json:"name" db:"name"`
	CashAvailable decimal.Decimal `json:"cash_available" db:"cash_available"`
}

// Trade is an immutable record of an equity execution.
// Once created, these are never modified or deleted.
type Trade struct {
	ID         int64           `json:"id" db:"id"`
	Ticker     string          `json:"ticker" db:"ticker"`
	PlatformID int64           `json:"platform_id" db:"platform_id"`
	Price      decimal.Decimal `json:"price" db:"price"`
	Quantity   decimal.Decimal `json:"quantity" db:"quantity"` // always positive
	Date       time.Time       `json:"date" db:"date"`
	TradeType  TradeType       `json:"trade_type" db:"trade_type"`

	// OptionID is set on trades synthesized from an exercised option. Such
	// trades never live in the trades table.
	OptionID int64 `json:"option_id,omitempty" db:"-"`
}

// Synthetic reports whether the trade was derived from an option exercise.
func (t Trade) Synthetic() bool { return t.OptionID != 0 }

// Notional is price × quantity.
func (t Trade) Notional() decimal.Decimal { return t.Price.Mul(t.Quantity) }

// Position is a derived row describing a holding of one ticker on one platform.
// Quantity is always positive; TradeType carries the direction.
type Position struct {
	ID         int64               `json:"id" db:"id"`
	Ticker     string              `json:"ticker" db:"ticker"`
	TradeType  TradeType           `json:"trade_type" db:"trade_type"`
	Status     PositionStatus      `json:"position_status" db:"position_status"`
	EntryPrice decimal.Decimal     `json:"entry_price" db:"entry_price"`
	Quantity   decimal.Decimal     `json:"quantity" db:"quantity"`
	ExitPrice  decimal.NullDecimal `json:"exit_price" db:"exit_price"`
	ExitDate   *time.Time          `json:"exit_date" db:"exit_date"`
	EntryDate  time.Time           `json:"entry_date" db:"entry_date"`
	ProfitLoss decimal.NullDecimal `json:"profit_loss" db:"profit_loss"`
	PlatformID int64               `json:"platform_id" db:"platform_id"`
}

// Key identifies the (ticker, platform) group a trade or position belongs to.
type Key struct {
	Ticker     string
	PlatformID int64
}

// OptionTrade is an option position with its own one-shot lifecycle.
type OptionTrade struct {
	ID              int64               `json:"id" db:"id"`
	Ticker          string              `json:"ticker" db:"ticker"`
	PlatformID      int64               `json:"platform_id" db:"platform_id"`
	Strategy        Strategy            `json:"strategy" db:"strategy"`
	StrikePrice     decimal.Decimal     `json:"strike_price" db:"strike_price"`
	ExpiryDate      time.Time           `json:"expiry_date" db:"expiry_date"`
	TradeDate       time.Time           `json:"trade_date" db:"trade_date"`
	TransactionType TransactionType     `json:"transaction_type" db:"transaction_type"`
	OpenPrice       decimal.Decimal     `json:"option_open_price" db:"option_open_price"`
	OpenFee         decimal.Decimal     `json:"open_fee" db:"open_fee"`
	ClosePrice      decimal.NullDecimal `json:"option_close_price" db:"option_close_price"`
	CloseFee        decimal.Decimal     `json:"close_fee" db:"close_fee"`
	ProfitLoss      decimal.NullDecimal `json:"profit_loss" db:"profit_loss"`
	Status          OptionStatus        `json:"status" db:"status"`
	CloseDate       *time.Time          `json:"close_date" db:"close_date"`
	Notes           string              `json:"notes" db:"notes"`
}

// CashFlow is an immutable deposit or withdrawal.
type CashFlow struct {
	ID         int64           `json:"id" db:"id"`
	PlatformID int64           `json:"platform_id" db:"platform_id"`
	FlowType   FlowType        `json:"flow_type" db:"flow_type"`
	Amount     decimal.Decimal `json:"amount" db:"amount"`
	FlowDate   time.Time       `json:"flow_date" db:"flow_date"`
	Notes      string          `json:"notes" db:"notes"`
	CreatedAt  time.Time       `json:"created_at" db:"created_at"`
}

// DateRange is an inclusive calendar window. A zero bound is open-ended.
type DateRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// Contains reports whether t falls inside the window.
func (r DateRange) Contains(t time.Time) bool {
	d := Day(t)
	if !r.From.IsZero() && d.Before(Day(r.From)) {
		return false
	}
	if !r.To.IsZero() && d.After(Day(r.To)) {
		return false
	}
	return true
}

// Day truncates t to a UTC calendar date.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateLayout is the wire format of calendar dates.
const DateLayout = "2006-01-02"

// ParseDay parses a YYYY-MM-DD date.
func ParseDay(s string) (time.Time, error) {
	return time.Parse(DateLayout, s)
}
