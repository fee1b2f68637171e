// Package matcher turns the ordered trade history of one (ticker, platform)
// pair into position rows using quantity-weighted average cost.
//
// A holding is built up by same-direction trades and reduced by opposite
// ones. Every reducing event is emitted as its own closed row for the reduced
// quantity, carrying the weighted cost at that moment as entry price, so that
// each row satisfies profit_loss == (exit − entry) × quantity × sign exactly.
// Whatever remains after the last trade is a single open row.
package matcher

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/pnl"
)

// CostScale is the number of decimal places kept for weighted average cost.
const CostScale = 10

// Options tune how the matcher treats short exposure.
type Options struct {
	// AllowShort lets a sell open (or flip into) a short holding. When false
	// such a sell is an InconsistentLedgerError.
	AllowShort bool
}

// Matcher derives positions from trades. It is stateless and safe for
// concurrent use.
type Matcher struct {
	opts Options
}

// New creates a matcher.
func New(opts Options) *Matcher {
	return &Matcher{opts: opts}
}

// Less is the reconciliation order: date, then ledger trades before trades
// synthesized from option exercises, then id.
func Less(a, b model.Trade) bool {
	da, db := model.Day(a.Date), model.Day(b.Date)
	if !da.Equal(db) {
		return da.Before(db)
	}
	if a.Synthetic() != b.Synthetic() {
		return !a.Synthetic()
	}
	if a.Synthetic() {
		return a.OptionID < b.OptionID
	}
	return a.ID < b.ID
}

// Sort orders trades in place by (ticker, platform, Less).
func Sort(trades []model.Trade) {
	sort.SliceStable(trades, func(i, j int) bool {
		a, b := trades[i], trades[j]
		if a.Ticker != b.Ticker {
			return a.Ticker < b.Ticker
		}
		if a.PlatformID != b.PlatformID {
			return a.PlatformID < b.PlatformID
		}
		return Less(a, b)
	})
}

// segment is the running state of the current holding.
type segment struct {
	side   model.TradeType
	qty    decimal.Decimal
	cost   decimal.Decimal
	opened time.Time
}

// Match derives the positions of a single (ticker, platform) group. The
// input is sorted on a copy, so the result depends only on its contents.
func (m *Matcher) Match(key model.Key, trades []model.Trade) ([]model.Position, error) {
	ordered := make([]model.Trade, len(trades))
	copy(ordered, trades)
	sort.SliceStable(ordered, func(i, j int) bool { return Less(ordered[i], ordered[j]) })

	var (
		seg       *segment
		positions []model.Position
	)

	for _, t := range ordered {
		if err := m.check(key, t); err != nil {
			return nil, err
		}
		date := model.Day(t.Date)

		if seg == nil {
			if t.TradeType == model.Sell && !m.opts.AllowShort {
				return nil, inconsistent(key, t, "sell with no matching open position")
			}
			seg = &segment{side: t.TradeType, qty: t.Quantity, cost: t.Price, opened: date}
			continue
		}

		if t.TradeType == seg.side {
			total := seg.qty.Add(t.Quantity)
			seg.cost = seg.qty.Mul(seg.cost).Add(t.Quantity.Mul(t.Price)).DivRound(total, CostScale)
			seg.qty = total
			continue
		}

		matched := decimal.Min(t.Quantity, seg.qty)
		positions = append(positions, closedRow(key, seg, matched, t.Price, date))

		switch t.Quantity.Cmp(seg.qty) {
		case -1:
			// Partial close: cost basis per share is unchanged.
			seg.qty = seg.qty.Sub(t.Quantity)
		case 0:
			seg = nil
		case 1:
			// Overshoot: the residual opens a holding in the other direction.
			if t.TradeType == model.Sell && !m.opts.AllowShort {
				return nil, inconsistent(key, t, "sell exceeds the open quantity")
			}
			seg = &segment{
				side:   t.TradeType,
				qty:    t.Quantity.Sub(matched),
				cost:   t.Price,
				opened: date,
			}
		}
	}

	if seg != nil {
		positions = append(positions, model.Position{
			Ticker:     key.Ticker,
			PlatformID: key.PlatformID,
			TradeType:  seg.side,
			Status:     model.PositionOpen,
			EntryPrice: seg.cost,
			Quantity:   seg.qty,
			EntryDate:  seg.opened,
		})
	}
	return positions, nil
}

// MatchAll groups trades by (ticker, platform) and matches each group.
// Output is ordered by ticker, platform and then event order.
func (m *Matcher) MatchAll(trades []model.Trade) ([]model.Position, error) {
	groups := make(map[model.Key][]model.Trade)
	var keys []model.Key
	for _, t := range trades {
		k := model.Key{Ticker: t.Ticker, PlatformID: t.PlatformID}
		if _, ok := groups[k]; !ok {
			keys = append(keys, k)
		}
		groups[k] = append(groups[k], t)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Ticker != keys[j].Ticker {
			return keys[i].Ticker < keys[j].Ticker
		}
		return keys[i].PlatformID < keys[j].PlatformID
	})

	var out []model.Position
	for _, k := range keys {
		ps, err := m.Match(k, groups[k])
		if err != nil {
			return nil, err
		}
		out = append(out, ps...)
	}
	return out, nil
}

func (m *Matcher) check(key model.Key, t model.Trade) error {
	switch {
	case t.Ticker != key.Ticker || t.PlatformID != key.PlatformID:
		return inconsistent(key, t, "trade belongs to another ticker/platform group")
	case !t.Quantity.IsPositive():
		return inconsistent(key, t, "quantity must be positive, got "+t.Quantity.String())
	case !t.Price.IsPositive():
		return inconsistent(key, t, "price must be positive, got "+t.Price.String())
	case !t.TradeType.Valid():
		return inconsistent(key, t, "unknown trade type "+string(t.TradeType))
	}
	return nil
}

func closedRow(key model.Key, seg *segment, qty, exit decimal.Decimal, date time.Time) model.Position {
	exitDate := date
	return model.Position{
		Ticker:     key.Ticker,
		PlatformID: key.PlatformID,
		TradeType:  seg.side,
		Status:     model.PositionClosed,
		EntryPrice: seg.cost,
		Quantity:   qty,
		ExitPrice:  decimal.NewNullDecimal(exit),
		ExitDate:   &exitDate,
		EntryDate:  seg.opened,
		ProfitLoss: decimal.NewNullDecimal(pnl.Realized(seg.side, seg.cost, exit, qty)),
	}
}

func inconsistent(key model.Key, t model.Trade, reason string) error {
	return &model.InconsistentLedgerError{
		Ticker:     key.Ticker,
		PlatformID: key.PlatformID,
		TradeID:    t.ID,
		Reason:     reason,
	}
}
