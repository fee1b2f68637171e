// Package pnl computes realized and unrealized profit and loss over derived
// positions.
//
// Realized P&L of a closing event is (exit − entry) × quantity × sign, where
// sign is +1 for long and −1 for short holdings. Unrealized P&L applies the
// same formula to an externally supplied current price and is never persisted.
package pnl

import (
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
)

// Realized returns the profit or loss of closing qty of a side-directed
// holding entered at entry and exited at exit.
func Realized(side model.TradeType, entry, exit, qty decimal.Decimal) decimal.Decimal {
	return exit.Sub(entry).Mul(qty).Mul(side.Sign())
}

// Unrealized marks an open position to price.
func Unrealized(p model.Position, price decimal.Decimal) decimal.Decimal {
	return Realized(p.TradeType, p.EntryPrice, price, p.Quantity)
}

// RealizedTotal sums the P&L of closed positions whose exit date falls in
// window. A nil window includes everything. Open positions are ignored.
func RealizedTotal(positions []model.Position, window *model.DateRange) decimal.Decimal {
	total := decimal.Zero
	for _, p := range positions {
		if !InWindow(p, window) {
			continue
		}
		total = total.Add(p.ProfitLoss.Decimal)
	}
	return total
}

// InWindow reports whether p is a closed position realized inside window.
func InWindow(p model.Position, window *model.DateRange) bool {
	if p.Status != model.PositionClosed || !p.ProfitLoss.Valid || p.ExitDate == nil {
		return false
	}
	return window == nil || window.Contains(*p.ExitDate)
}

// UnrealizedReport is the mark-to-market of a set of open positions.
type UnrealizedReport struct {
	Total     decimal.Decimal            `json:"total"`
	ByTicker  map[string]decimal.Decimal `json:"by_ticker"`
	Missing   []string                   `json:"missing_tickers"`
	Holdings  []Holding                  `json:"holdings"`
	Platforms []PlatformSummary          `json:"platforms"`
}

// Holding aggregates the priced open lots of one ticker on one platform.
// Quantity is net of direction: shorts count negative.
type Holding struct {
	PlatformID   int64           `json:"platform_id"`
	Ticker       string          `json:"ticker"`
	Quantity     decimal.Decimal `json:"quantity"`
	AveragePrice decimal.Decimal `json:"average_price"`
	Cost         decimal.Decimal `json:"cost"`
	Price        decimal.Decimal `json:"current_price"`
	Value        decimal.Decimal `json:"current_value"`
	Unrealized   decimal.Decimal `json:"unrealized"`
	Pct          decimal.Decimal `json:"pct_unrealized"`
}

// PlatformSummary totals the holdings of a platform. The last row of a
// report sums every platform and is labelled TotalLabel with a zero id.
type PlatformSummary struct {
	PlatformID int64           `json:"platform_id,omitempty"`
	Platform   string          `json:"platform"`
	Cost       decimal.Decimal `json:"cost"`
	Value      decimal.Decimal `json:"current_value"`
	Unrealized decimal.Decimal `json:"unrealized"`
	Pct        decimal.Decimal `json:"pct_unrealized"`
}

// TotalLabel names the summary row covering all platforms.
const TotalLabel = "Total"

// PctOf returns gain as a percentage of cost rounded to two places, or zero
// when nothing was invested.
func PctOf(gain, cost decimal.Decimal) decimal.Decimal {
	if cost.IsZero() {
		return decimal.Zero
	}
	return gain.Div(cost).Mul(decimal.NewFromInt(100)).Round(2)
}

// UnrealizedTotal marks every open position to prices (keyed by ticker,
// case-insensitive). Positions without a price are skipped and reported; in
// that case the partial report is returned together with a
// *model.StaleDataWarning.
func UnrealizedTotal(positions []model.Position, prices map[string]decimal.Decimal) (UnrealizedReport, error) {
	normalized := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		normalized[strings.ToUpper(strings.TrimSpace(k))] = v
	}

	report := UnrealizedReport{
		Total:     decimal.Zero,
		ByTicker:  make(map[string]decimal.Decimal),
		Missing:   []string{},
		Holdings:  []Holding{},
		Platforms: []PlatformSummary{},
	}
	missing := make(map[string]bool)
	type holdingKey struct {
		platform int64
		ticker   string
	}
	holdings := make(map[holdingKey]*Holding)
	lots := make(map[holdingKey]decimal.Decimal)

	for _, p := range positions {
		if p.Status != model.PositionOpen {
			continue
		}
		price, ok := normalized[strings.ToUpper(p.Ticker)]
		if !ok {
			missing[p.Ticker] = true
			continue
		}
		u := Unrealized(p, price)
		report.Total = report.Total.Add(u)
		report.ByTicker[p.Ticker] = report.ByTicker[p.Ticker].Add(u)

		key := holdingKey{p.PlatformID, p.Ticker}
		h, ok := holdings[key]
		if !ok {
			h = &Holding{PlatformID: p.PlatformID, Ticker: p.Ticker, Price: price}
			holdings[key] = h
		}
		h.Quantity = h.Quantity.Add(p.Quantity.Mul(p.TradeType.Sign()))
		h.Cost = h.Cost.Add(p.EntryPrice.Mul(p.Quantity))
		h.Value = h.Value.Add(price.Mul(p.Quantity))
		h.Unrealized = h.Unrealized.Add(u)
		lots[key] = lots[key].Add(p.Quantity)
	}
	summarize(&report, holdings, lots)

	if len(missing) == 0 {
		return report, nil
	}
	for t := range missing {
		report.Missing = append(report.Missing, t)
	}
	sort.Strings(report.Missing)
	return report, &model.StaleDataWarning{Missing: report.Missing}
}

func summarize[K comparable](report *UnrealizedReport, holdings map[K]*Holding, lots map[K]decimal.Decimal) {
	byPlatform := make(map[int64]*PlatformSummary)
	var ids []int64
	for key, h := range holdings {
		if q := lots[key]; !q.IsZero() {
			h.AveragePrice = h.Cost.Div(q).Round(4)
		}
		h.Pct = PctOf(h.Unrealized, h.Cost)
		report.Holdings = append(report.Holdings, *h)

		ps, ok := byPlatform[h.PlatformID]
		if !ok {
			ps = &PlatformSummary{PlatformID: h.PlatformID}
			byPlatform[h.PlatformID] = ps
			ids = append(ids, h.PlatformID)
		}
		ps.Cost = ps.Cost.Add(h.Cost)
		ps.Value = ps.Value.Add(h.Value)
		ps.Unrealized = ps.Unrealized.Add(h.Unrealized)
	}
	sort.Slice(report.Holdings, func(i, j int) bool {
		a, b := report.Holdings[i], report.Holdings[j]
		if a.PlatformID != b.PlatformID {
			return a.PlatformID < b.PlatformID
		}
		return a.Ticker < b.Ticker
	})
	if len(ids) == 0 {
		return
	}

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	total := PlatformSummary{Platform: TotalLabel}
	for _, id := range ids {
		ps := byPlatform[id]
		ps.Pct = PctOf(ps.Unrealized, ps.Cost)
		report.Platforms = append(report.Platforms, *ps)
		total.Cost = total.Cost.Add(ps.Cost)
		total.Value = total.Value.Add(ps.Value)
		total.Unrealized = total.Unrealized.Add(ps.Unrealized)
	}
	total.Pct = PctOf(total.Unrealized, total.Cost)
	report.Platforms = append(report.Platforms, total)
}
