// Package validate checks ledger input at the boundary, before it is written.
// Everything rejected here returns a *model.ValidationError.
package validate

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/microcosm-cc/bluemonday"
	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
)

// tickerRegex matches exchange symbols such as AAPL, BRK.B, RDS-A or 7203.T.
var tickerRegex = regexp.MustCompile(`^[A-Z0-9][A-Z0-9.\-]{0,14}$`)

// notesPolicy removes all HTML from free-text notes.
var notesPolicy = bluemonday.StrictPolicy()

// MaxNotesLength bounds stored notes, in runes.
const MaxNotesLength = 1000

// Ticker normalizes a symbol to upper case and checks its format.
func Ticker(s string) (string, error) {
	t := strings.ToUpper(strings.TrimSpace(s))
	if t == "" {
		return "", model.Invalid("ticker", "is required")
	}
	if !tickerRegex.MatchString(t) {
		return "", model.Invalid("ticker", "has invalid format: "+s)
	}
	return t, nil
}

// Notes strips markup and unprintable characters and bounds the length.
func Notes(s string) string {
	s = notesPolicy.Sanitize(s)
	s = strings.Map(func(r rune) rune {
		if unicode.IsPrint(r) || r == '\n' || r == '\t' {
			return r
		}
		return -1
	}, s)
	s = strings.TrimSpace(s)
	if r := []rune(s); len(r) > MaxNotesLength {
		s = string(r[:MaxNotesLength])
	}
	return s
}

// Trade validates and normalizes t in place.
func Trade(t *model.Trade) error {
	ticker, err := Ticker(t.Ticker)
	if err != nil {
		return err
	}
	t.Ticker = ticker
	t.TradeType = model.TradeType(strings.ToLower(strings.TrimSpace(string(t.TradeType))))

	switch {
	case t.PlatformID <= 0:
		return model.Invalid("platform_id", "is required")
	case !t.TradeType.Valid():
		return model.Invalid("trade_type", "must be buy or sell")
	case !t.Price.IsPositive():
		return model.Invalid("price", "must be positive")
	case !t.Quantity.IsPositive():
		return model.Invalid("quantity", "must be positive")
	case t.Date.IsZero():
		return model.Invalid("date", "is required")
	case t.Synthetic():
		return model.Invalid("option_id", "is derived and cannot be recorded")
	}
	t.Date = model.Day(t.Date)
	return nil
}

// CashFlow validates and normalizes f in place.
func CashFlow(f *model.CashFlow) error {
	f.FlowType = model.FlowType(strings.ToLower(strings.TrimSpace(string(f.FlowType))))
	switch {
	case f.PlatformID <= 0:
		return model.Invalid("platform_id", "is required")
	case f.FlowType != model.Deposit && f.FlowType != model.Withdrawal:
		return model.Invalid("flow_type", "must be deposit or withdrawal")
	case !f.Amount.IsPositive():
		return model.Invalid("amount", "must be positive")
	case f.FlowDate.IsZero():
		return model.Invalid("flow_date", "is required")
	}
	f.FlowDate = model.Day(f.FlowDate)
	f.Notes = Notes(f.Notes)
	return nil
}

var strategies = map[model.Strategy]bool{
	model.StrategyCall:           true,
	model.StrategyPut:            true,
	model.StrategyCashSecuredPut: true,
	model.StrategyCoveredCall:    true,
}

// OptionTrade validates and normalizes a newly entered option trade in place.
func OptionTrade(o *model.OptionTrade) error {
	ticker, err := Ticker(o.Ticker)
	if err != nil {
		return err
	}
	o.Ticker = ticker
	o.Strategy = model.Strategy(strings.ToLower(strings.TrimSpace(string(o.Strategy))))
	o.TransactionType = model.TransactionType(strings.ToLower(strings.TrimSpace(string(o.TransactionType))))

	switch {
	case o.PlatformID <= 0:
		return model.Invalid("platform_id", "is required")
	case !strategies[o.Strategy]:
		return model.Invalid("strategy", "must be one of call, put, cash secured put, covered call")
	case o.TransactionType != model.Credit && o.TransactionType != model.Debit:
		return model.Invalid("transaction_type", "must be credit or debit")
	case !o.StrikePrice.IsPositive():
		return model.Invalid("strike_price", "must be positive")
	case o.OpenPrice.IsNegative():
		return model.Invalid("option_open_price", "must not be negative")
	case o.OpenFee.IsNegative():
		return model.Invalid("open_fee", "must not be negative")
	case o.TradeDate.IsZero():
		return model.Invalid("trade_date", "is required")
	case o.ExpiryDate.IsZero():
		return model.Invalid("expiry_date", "is required")
	case model.Day(o.ExpiryDate).Before(model.Day(o.TradeDate)):
		return model.Invalid("expiry_date", "precedes trade_date")
	}
	o.TradeDate = model.Day(o.TradeDate)
	o.ExpiryDate = model.Day(o.ExpiryDate)
	o.Notes = Notes(o.Notes)
	return nil
}

// NonNegative rejects negative amounts such as fees.
func NonNegative(field string, v decimal.Decimal) error {
	if v.IsNegative() {
		return model.Invalid(field, "must not be negative")
	}
	return nil
}

// PlatformName trims and checks a platform name.
func PlatformName(s string) (string, error) {
	name := strings.TrimSpace(Notes(s))
	if name == "" {
		return "", model.Invalid("name", "is required")
	}
	if len([]rune(name)) > 100 {
		return "", model.Invalid("name", "must be at most 100 characters")
	}
	return name, nil
}
