// Package cash derives platform cash balances from the ledger.
//
// A balance is the sum of cash events: deposits and withdrawals, the notional
// of every equity trade (buys negative, sells positive), and option premium
// and fee movements. Recompute replays the whole ledger; Apply adjusts a
// known balance by the events of one new record. Both must agree.
package cash

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/options"
)

// Source names what produced a cash event.
type Source string

const (
	SourceFlow        Source = "cash_flow"
	SourceTrade       Source = "trade"
	SourceOptionOpen  Source = "option_open"
	SourceOptionClose Source = "option_close"
	SourceExercise    Source = "option_exercise"
)

// Event is a signed cash movement on a platform at a date.
type Event struct {
	PlatformID int64           `json:"platform_id"`
	Date       time.Time       `json:"date"`
	Amount     decimal.Decimal `json:"amount"`
	Source     Source          `json:"source"`
	RefID      int64           `json:"ref_id"`
}

// Ledger turns ledger records into cash events.
type Ledger struct {
	acct *options.Accountant
}

// NewLedger creates a cash ledger that prices option events with acct.
func NewLedger(acct *options.Accountant) *Ledger {
	return &Ledger{acct: acct}
}

// FlowEvent is +amount for deposits and −amount for withdrawals.
func FlowEvent(f model.CashFlow) Event {
	amount := f.Amount
	if f.FlowType == model.Withdrawal {
		amount = amount.Neg()
	}
	return Event{PlatformID: f.PlatformID, Date: model.Day(f.FlowDate), Amount: amount, Source: SourceFlow, RefID: f.ID}
}

// TradeEvent is −notional for buys and +notional for sells.
func TradeEvent(t model.Trade) Event {
	src, ref := SourceTrade, t.ID
	if t.Synthetic() {
		src, ref = SourceExercise, t.OptionID
	}
	return Event{
		PlatformID: t.PlatformID,
		Date:       model.Day(t.Date),
		Amount:     t.Notional().Mul(t.TradeType.Sign()).Neg(),
		Source:     src,
		RefID:      ref,
	}
}

// OptionEvents returns the cash events of an option in its current state,
// including the share settlement of an exercise. The events of an option
// sum to its profit_loss plus any settlement notional.
func (l *Ledger) OptionEvents(opt model.OptionTrade) []Event {
	premium := l.acct.Premium(opt.OpenPrice)
	if opt.TransactionType == model.Debit {
		premium = premium.Neg()
	}
	events := []Event{{
		PlatformID: opt.PlatformID,
		Date:       model.Day(opt.TradeDate),
		Amount:     premium.Sub(opt.OpenFee),
		Source:     SourceOptionOpen,
		RefID:      opt.ID,
	}}
	if !opt.Status.Terminal() || opt.CloseDate == nil {
		return events
	}

	closing := decimal.Zero
	if opt.Status == model.OptionClosed && opt.ClosePrice.Valid {
		closing = l.acct.Premium(opt.ClosePrice.Decimal)
		if opt.TransactionType == model.Credit {
			closing = closing.Neg()
		}
	}
	fee := opt.CloseFee
	if opt.Status == model.OptionExpired {
		fee = decimal.Zero
	}
	events = append(events, Event{
		PlatformID: opt.PlatformID,
		Date:       model.Day(*opt.CloseDate),
		Amount:     closing.Sub(fee),
		Source:     SourceOptionClose,
		RefID:      opt.ID,
	})

	if t, ok := l.acct.SyntheticTrade(opt); ok {
		events = append(events, TradeEvent(t))
	}
	return events
}

// Events collects the cash events of a ledger, ordered by date then
// platform. Synthetic trades are derived from opts, not expected in trades.
func (l *Ledger) Events(trades []model.Trade, flows []model.CashFlow, opts []model.OptionTrade) []Event {
	events := make([]Event, 0, len(trades)+len(flows)+2*len(opts))
	for _, f := range flows {
		events = append(events, FlowEvent(f))
	}
	for _, t := range trades {
		events = append(events, TradeEvent(t))
	}
	for _, o := range opts {
		events = append(events, l.OptionEvents(o)...)
	}
	sort.SliceStable(events, func(i, j int) bool {
		if !events[i].Date.Equal(events[j].Date) {
			return events[i].Date.Before(events[j].Date)
		}
		return events[i].PlatformID < events[j].PlatformID
	})
	return events
}

// Recompute replays the ledger from empty state and returns the balance of
// every platform that has at least one event. Platforms listed in seed
// start at zero even without events.
func (l *Ledger) Recompute(seed []int64, trades []model.Trade, flows []model.CashFlow, opts []model.OptionTrade) map[int64]decimal.Decimal {
	balances := make(map[int64]decimal.Decimal, len(seed))
	for _, id := range seed {
		balances[id] = decimal.Zero
	}
	for _, e := range l.Events(trades, flows, opts) {
		balances[e.PlatformID] = balances[e.PlatformID].Add(e.Amount)
	}
	return balances
}

// Apply adds the events to balance.
func Apply(balance decimal.Decimal, events ...Event) decimal.Decimal {
	for _, e := range events {
		balance = balance.Add(e.Amount)
	}
	return balance
}

// Sum totals the events.
func Sum(events []Event) decimal.Decimal {
	return Apply(decimal.Zero, events...)
}

// OptionDelta is the balance change caused by moving an option from prev to
// next. prev is nil for a newly opened option.
func (l *Ledger) OptionDelta(prev *model.OptionTrade, next model.OptionTrade) decimal.Decimal {
	delta := Sum(l.OptionEvents(next))
	if prev != nil {
		delta = delta.Sub(Sum(l.OptionEvents(*prev)))
	}
	return delta
}
