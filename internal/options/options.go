// Package options implements the option trade lifecycle and premium
// accounting. An option is created open and moves exactly once to closed,
// expired or exercised.
package options

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
)

var (
	// DefaultContractSize is the number of shares one contract settles into.
	DefaultContractSize = decimal.NewFromInt(100)

	// DefaultPremiumMultiplier leaves premiums as entered (total premium per trade).
	DefaultPremiumMultiplier = decimal.NewFromInt(1)
)

// Accountant applies lifecycle transitions and computes premium P&L.
type Accountant struct {
	ContractSize      decimal.Decimal
	PremiumMultiplier decimal.Decimal
}

// NewAccountant returns an Accountant, substituting defaults for
// non-positive arguments.
func NewAccountant(contractSize, premiumMultiplier decimal.Decimal) *Accountant {
	if !contractSize.IsPositive() {
		contractSize = DefaultContractSize
	}
	if !premiumMultiplier.IsPositive() {
		premiumMultiplier = DefaultPremiumMultiplier
	}
	return &Accountant{ContractSize: contractSize, PremiumMultiplier: premiumMultiplier}
}

// Premium scales a quoted premium by the multiplier.
func (a *Accountant) Premium(price decimal.Decimal) decimal.Decimal {
	return price.Mul(a.PremiumMultiplier)
}

// Open prepares a newly entered option trade: status open, no close data.
func (a *Accountant) Open(opt model.OptionTrade) model.OptionTrade {
	opt.Status = model.OptionOpen
	opt.ClosePrice = decimal.NullDecimal{}
	opt.CloseFee = decimal.Zero
	opt.CloseDate = nil
	opt.ProfitLoss = decimal.NullDecimal{}
	return opt
}

// Close buys back (credit) or sells (debit) the option at price.
func (a *Accountant) Close(opt model.OptionTrade, price, fee decimal.Decimal, date time.Time) (model.OptionTrade, error) {
	if price.IsNegative() {
		return opt, model.Invalid("option_close_price", "must not be negative")
	}
	return a.transition(opt, model.OptionClosed, decimal.NewNullDecimal(price), fee, date)
}

// Expire marks the option as expired worthless. No close fee applies.
func (a *Accountant) Expire(opt model.OptionTrade, date time.Time) (model.OptionTrade, error) {
	return a.transition(opt, model.OptionExpired, decimal.NullDecimal{}, decimal.Zero, date)
}

// Exercise settles the option. Its own P&L is premium only; the share
// delivery is accounted for by SyntheticTrade.
func (a *Accountant) Exercise(opt model.OptionTrade, fee decimal.Decimal, date time.Time) (model.OptionTrade, error) {
	return a.transition(opt, model.OptionExercised, decimal.NewNullDecimal(decimal.Zero), fee, date)
}

func (a *Accountant) transition(opt model.OptionTrade, to model.OptionStatus, price decimal.NullDecimal, fee decimal.Decimal, date time.Time) (model.OptionTrade, error) {
	if opt.Status != model.OptionOpen {
		return opt, fmt.Errorf("option %d is %s, cannot move to %s: %w", opt.ID, opt.Status, to, model.ErrInvalidTransition)
	}
	if fee.IsNegative() {
		return opt, model.Invalid("close_fee", "must not be negative")
	}
	day := model.Day(date)
	if day.Before(model.Day(opt.TradeDate)) {
		return opt, model.Invalid("close_date", "precedes trade_date")
	}

	opt.Status = to
	opt.ClosePrice = price
	opt.CloseFee = fee
	opt.CloseDate = &day
	opt.ProfitLoss = decimal.NewNullDecimal(a.ProfitLoss(opt))
	return opt, nil
}

// ProfitLoss computes the premium P&L of a terminal option trade. It
// returns zero for an open one.
//
//	credit: (open − close) × m − open_fee − close_fee
//	debit:  (close − open) × m − open_fee − close_fee
//
// with close treated as 0 for expired and exercised options.
func (a *Accountant) ProfitLoss(opt model.OptionTrade) decimal.Decimal {
	if !opt.Status.Terminal() {
		return decimal.Zero
	}
	closePrice := decimal.Zero
	if opt.Status == model.OptionClosed && opt.ClosePrice.Valid {
		closePrice = opt.ClosePrice.Decimal
	}
	closeFee := opt.CloseFee
	if opt.Status == model.OptionExpired {
		closeFee = decimal.Zero
	}

	premium := closePrice.Sub(opt.OpenPrice)
	if opt.TransactionType == model.Credit {
		premium = premium.Neg()
	}
	return a.Premium(premium).Sub(opt.OpenFee).Sub(closeFee)
}

// Direction is the side of the equity trade an exercise settles into:
// long calls and short puts buy shares, long puts and short calls sell.
func Direction(opt model.OptionTrade) model.TradeType {
	long := opt.TransactionType == model.Debit
	if long == opt.Strategy.IsCall() {
		return model.Buy
	}
	return model.Sell
}

// SyntheticTrade returns the equity trade an exercised option hands to the
// position matcher. ok is false for any other status.
func (a *Accountant) SyntheticTrade(opt model.OptionTrade) (model.Trade, bool) {
	if opt.Status != model.OptionExercised || opt.CloseDate == nil {
		return model.Trade{}, false
	}
	return model.Trade{
		Ticker:     opt.Ticker,
		PlatformID: opt.PlatformID,
		Price:      opt.StrikePrice,
		Quantity:   a.ContractSize,
		Date:       model.Day(*opt.CloseDate),
		TradeType:  Direction(opt),
		OptionID:   opt.ID,
	}, true
}

// SyntheticTrades collects the synthetic trades of every exercised option.
func (a *Accountant) SyntheticTrades(opts []model.OptionTrade) []model.Trade {
	var out []model.Trade
	for _, o := range opts {
		if t, ok := a.SyntheticTrade(o); ok {
			out = append(out, t)
		}
	}
	return out
}

// Summary aggregates a listing of option trades.
type Summary struct {
	Open      int             `json:"open"`
	Closed    int             `json:"closed"`
	Expired   int             `json:"expired"`
	Exercised int             `json:"exercised"`
	TotalPnL  decimal.Decimal `json:"total_profit_loss"`
}

// Summarize counts options by status and totals the P&L of terminal ones.
func Summarize(opts []model.OptionTrade) Summary {
	s := Summary{TotalPnL: decimal.Zero}
	for _, o := range opts {
		switch o.Status {
		case model.OptionOpen:
			s.Open++
			continue
		case model.OptionClosed:
			s.Closed++
		case model.OptionExpired:
			s.Expired++
		case model.OptionExercised:
			s.Exercised++
		}
		if o.ProfitLoss.Valid {
			s.TotalPnL = s.TotalPnL.Add(o.ProfitLoss.Decimal)
		}
	}
	return s
}
