// Package report aggregates realized results into periodic P&L, tax and
// cash-flow summaries. The aggregations are pure functions over ledger and
// derived rows; Reporter adds caching on top.
package report

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
)

// Tax assumptions: gains held longer than LongTermDays are long term.
const LongTermDays = 365

var (
	LongTermRate  = decimal.RequireFromString("0.15")
	ShortTermRate = decimal.RequireFromString("0.24")
)

// Asset classes and holding terms used in the tax breakdown.
const (
	AssetStock   = "Stock"
	AssetOptions = "Options"

	TermLong  = "Long Term"
	TermShort = "Short Term"
)

// PeriodRow is the realized P&L of one week or month.
type PeriodRow struct {
	Year       int             `json:"year"`
	Period     int             `json:"period"` // ISO week or calendar month
	WeekEnding string          `json:"week_ending,omitempty"`
	StockPnL   decimal.Decimal `json:"stock_pnl"`
	OptionPnL  decimal.Decimal `json:"option_pnl"`
	TotalPnL   decimal.Decimal `json:"total_pnl"`
}

// TaxRow is the gain of one (year, asset, term) bucket.
type TaxRow struct {
	Year  int             `json:"year"`
	Asset string          `json:"asset"`
	Term  string          `json:"term"`
	Gain  decimal.Decimal `json:"gain"`
	Tax   decimal.Decimal `json:"estimated_tax"`
}

// TaxYear totals one tax year.
type TaxYear struct {
	Year int             `json:"year"`
	Gain decimal.Decimal `json:"gain"`
	Tax  decimal.Decimal `json:"estimated_tax"`
}

// TaxReport is the yearly summary with its breakdown.
type TaxReport struct {
	Years     []TaxYear `json:"years"`
	Breakdown []TaxRow  `json:"breakdown"`
}

// CashFlowRow totals deposits and withdrawals of one platform in one year.
type CashFlowRow struct {
	Year        int             `json:"year"`
	PlatformID  int64           `json:"platform_id"`
	Platform    string          `json:"platform"`
	Deposits    decimal.Decimal `json:"deposits"`
	Withdrawals decimal.Decimal `json:"withdrawals"`
	Net         decimal.Decimal `json:"net"`
}

type periodKey struct{ year, period int }

// Weekly groups realized P&L by ISO week of the exit (stocks) or close
// (options) date. Weeks end on Friday.
func Weekly(positions []model.Position, opts []model.OptionTrade) []PeriodRow {
	rows := aggregate(positions, opts, func(t time.Time) periodKey {
		y, w := t.ISOWeek()
		return periodKey{y, w}
	})
	for i := range rows {
		rows[i].WeekEnding = WeekEnding(rows[i].Year, rows[i].Period).Format(model.DateLayout)
	}
	return rows
}

// Monthly groups realized P&L by calendar month.
func Monthly(positions []model.Position, opts []model.OptionTrade) []PeriodRow {
	return aggregate(positions, opts, func(t time.Time) periodKey {
		return periodKey{t.Year(), int(t.Month())}
	})
}

func aggregate(positions []model.Position, opts []model.OptionTrade, key func(time.Time) periodKey) []PeriodRow {
	buckets := make(map[periodKey]*PeriodRow)
	get := func(k periodKey) *PeriodRow {
		r, ok := buckets[k]
		if !ok {
			r = &PeriodRow{Year: k.year, Period: k.period, StockPnL: decimal.Zero, OptionPnL: decimal.Zero}
			buckets[k] = r
		}
		return r
	}

	for _, p := range positions {
		if p.Status != model.PositionClosed || p.ExitDate == nil || !p.ProfitLoss.Valid {
			continue
		}
		r := get(key(*p.ExitDate))
		r.StockPnL = r.StockPnL.Add(p.ProfitLoss.Decimal)
	}
	for _, o := range opts {
		if !o.Status.Terminal() || o.CloseDate == nil || !o.ProfitLoss.Valid {
			continue
		}
		r := get(key(*o.CloseDate))
		r.OptionPnL = r.OptionPnL.Add(o.ProfitLoss.Decimal)
	}

	rows := make([]PeriodRow, 0, len(buckets))
	for _, r := range buckets {
		r.TotalPnL = r.StockPnL.Add(r.OptionPnL)
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Year != rows[j].Year {
			return rows[i].Year < rows[j].Year
		}
		return rows[i].Period < rows[j].Period
	})
	return rows
}

// WeekEnding returns the Friday of ISO week (year, week).
func WeekEnding(year, week int) time.Time {
	// January 4th is always in ISO week 1.
	jan4 := time.Date(year, time.January, 4, 0, 0, 0, 0, time.UTC)
	isoDay := (int(jan4.Weekday())+6)%7 + 1
	monday := jan4.AddDate(0, 0, 1-isoDay)
	return monday.AddDate(0, 0, (week-1)*7+4)
}

// Term classifies a holding period.
func Term(opened, closed time.Time) string {
	days := int(model.Day(closed).Sub(model.Day(opened)).Hours() / 24)
	if days > LongTermDays {
		return TermLong
	}
	return TermShort
}

func rate(term string) decimal.Decimal {
	if term == TermLong {
		return LongTermRate
	}
	return ShortTermRate
}

// Taxes estimates tax per year, asset class and term. Losses produce
// negative estimates.
func Taxes(positions []model.Position, opts []model.OptionTrade) TaxReport {
	type bucket struct {
		year        int
		asset, term string
	}
	gains := make(map[bucket]decimal.Decimal)

	for _, p := range positions {
		if p.Status != model.PositionClosed || p.ExitDate == nil || !p.ProfitLoss.Valid {
			continue
		}
		b := bucket{p.ExitDate.Year(), AssetStock, Term(p.EntryDate, *p.ExitDate)}
		gains[b] = gains[b].Add(p.ProfitLoss.Decimal)
	}
	for _, o := range opts {
		if !o.Status.Terminal() || o.CloseDate == nil || !o.ProfitLoss.Valid {
			continue
		}
		b := bucket{o.CloseDate.Year(), AssetOptions, Term(o.TradeDate, *o.CloseDate)}
		gains[b] = gains[b].Add(o.ProfitLoss.Decimal)
	}

	out := TaxReport{Years: []TaxYear{}, Breakdown: []TaxRow{}}
	years := make(map[int]*TaxYear)
	for b, gain := range gains {
		tax := gain.Mul(rate(b.term))
		out.Breakdown = append(out.Breakdown, TaxRow{Year: b.year, Asset: b.asset, Term: b.term, Gain: gain, Tax: tax})
		y, ok := years[b.year]
		if !ok {
			y = &TaxYear{Year: b.year, Gain: decimal.Zero, Tax: decimal.Zero}
			years[b.year] = y
		}
		y.Gain = y.Gain.Add(gain)
		y.Tax = y.Tax.Add(tax)
	}
	for _, y := range years {
		out.Years = append(out.Years, *y)
	}
	sort.Slice(out.Years, func(i, j int) bool { return out.Years[i].Year < out.Years[j].Year })
	sort.Slice(out.Breakdown, func(i, j int) bool {
		a, b := out.Breakdown[i], out.Breakdown[j]
		if a.Year != b.Year {
			return a.Year < b.Year
		}
		if a.Asset != b.Asset {
			return a.Asset > b.Asset // Stock before Options
		}
		return a.Term < b.Term
	})
	return out
}

// CashFlows totals deposits and withdrawals per year and platform.
func CashFlows(flows []model.CashFlow, platforms []model.Platform) []CashFlowRow {
	names := make(map[int64]string, len(platforms))
	for _, p := range platforms {
		names[p.ID] = p.Name
	}

	type key struct {
		year int
		pid  int64
	}
	buckets := make(map[key]*CashFlowRow)
	for _, f := range flows {
		k := key{f.FlowDate.Year(), f.PlatformID}
		r, ok := buckets[k]
		if !ok {
			r = &CashFlowRow{Year: k.year, PlatformID: k.pid, Platform: names[k.pid], Deposits: decimal.Zero, Withdrawals: decimal.Zero}
			buckets[k] = r
		}
		switch f.FlowType {
		case model.Deposit:
			r.Deposits = r.Deposits.Add(f.Amount)
		case model.Withdrawal:
			r.Withdrawals = r.Withdrawals.Add(f.Amount)
		}
	}

	rows := make([]CashFlowRow, 0, len(buckets))
	for _, r := range buckets {
		r.Net = r.Deposits.Sub(r.Withdrawals)
		rows = append(rows, *r)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Year != rows[j].Year {
			return rows[i].Year < rows[j].Year
		}
		return rows[i].PlatformID < rows[j].PlatformID
	})
	return rows
}
