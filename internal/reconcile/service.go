// Package reconcile is the entry point of the ledger engine. It owns every
// write to the ledger and is the only writer of derived state: position rows
// and platform cash balances.
//
// Ledger writes are validated at the boundary, checked against the matcher
// before they are stored, appended together with their incremental cash
// delta, and followed by a reconciliation of the affected (ticker, platform)
// group. Reconcile re-derives a whole scope from the immutable ledger in a
// single store transaction.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/cash"
	"github.com/atmx/ledger-engine/internal/matcher"
	"github.com/atmx/ledger-engine/internal/metrics"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/options"
	"github.com/atmx/ledger-engine/internal/pnl"
	"github.com/atmx/ledger-engine/internal/store"
	"github.com/atmx/ledger-engine/internal/validate"
)

// Scope selects what a reconciliation re-derives. The zero Scope is the
// whole ledger.
type Scope struct {
	PlatformID *int64 `json:"platform_id,omitempty"`
	Ticker     string `json:"ticker,omitempty"`
}

func (s Scope) label() string {
	switch {
	case s.PlatformID != nil && s.Ticker != "":
		return "group"
	case s.PlatformID != nil:
		return "platform"
	case s.Ticker != "":
		return "ticker"
	default:
		return "all"
	}
}

// Result summarizes one reconciliation run.
type Result struct {
	RunID      uuid.UUID     `json:"run_id"`
	Scope      Scope         `json:"scope"`
	Groups     int           `json:"groups"`
	Changed    int           `json:"changed_groups"`
	Open       int           `json:"open_positions"`
	Closed     int           `json:"closed_positions"`
	Platforms  int           `json:"platforms"`
	Duration   time.Duration `json:"duration_ns"`
	FinishedAt time.Time     `json:"finished_at"`
}

// EventKind names a committed change.
type EventKind string

const (
	EventReconciled   EventKind = "reconciled"
	EventTrade        EventKind = "trade_recorded"
	EventCashFlow     EventKind = "cash_flow_recorded"
	EventOption       EventKind = "option_updated"
	EventPlatform     EventKind = "platform_created"
	EventImportFinish EventKind = "import_finished"
)

// Event is delivered to observers after a change is committed.
type Event struct {
	Kind       EventKind `json:"kind"`
	PlatformID int64     `json:"platform_id,omitempty"`
	Ticker     string    `json:"ticker,omitempty"`
	Result     *Result   `json:"result,omitempty"`
	At         time.Time `json:"at"`
}

// Observer is notified synchronously after commits; implementations must
// not block.
type Observer interface {
	Notify(ctx context.Context, e Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, e Event)

// Notify calls f.
func (f ObserverFunc) Notify(ctx context.Context, e Event) { f(ctx, e) }

// Options configures the engine.
type Options struct {
	AllowShort        bool
	ContractSize      decimal.Decimal
	PremiumMultiplier decimal.Decimal
}

// Service is the reconciliation orchestrator.
type Service struct {
	store   store.Store
	matcher *matcher.Matcher
	acct    *options.Accountant
	cash    *cash.Ledger
	locks   *platformLocks

	obsMu     sync.RWMutex
	observers []Observer
}

// NewService creates the orchestrator over st.
func NewService(st store.Store, opts Options) *Service {
	acct := options.NewAccountant(opts.ContractSize, opts.PremiumMultiplier)
	return &Service{
		store:   st,
		matcher: matcher.New(matcher.Options{AllowShort: opts.AllowShort}),
		acct:    acct,
		cash:    cash.NewLedger(acct),
		locks:   newPlatformLocks(),
	}
}

// Observe registers an observer.
func (s *Service) Observe(o Observer) {
	s.obsMu.Lock()
	defer s.obsMu.Unlock()
	s.observers = append(s.observers, o)
}

// Store exposes the underlying store for read-only collaborators.
func (s *Service) Store() store.Store { return s.store }

func (s *Service) notify(ctx context.Context, e Event) {
	e.At = time.Now().UTC()
	s.obsMu.RLock()
	obs := append([]Observer(nil), s.observers...)
	s.obsMu.RUnlock()
	for _, o := range obs {
		o.Notify(ctx, e)
	}
}

// --- Reconciliation ---

// Reconcile re-derives the position rows of scope and the cash of every
// platform in it, and writes both atomically. Running it again without an
// intervening ledger change writes nothing new.
func (s *Service) Reconcile(ctx context.Context, scope Scope) (Result, error) {
	scope.Ticker = strings.ToUpper(strings.TrimSpace(scope.Ticker))
	platforms, err := s.scopePlatforms(ctx, scope)
	if err != nil {
		return Result{}, err
	}
	unlock := s.locks.lock(platforms...)
	defer unlock()

	res, err := s.reconcileLocked(ctx, scope, platforms)
	if err != nil {
		return res, err
	}
	s.notify(ctx, Event{Kind: EventReconciled, PlatformID: deref(scope.PlatformID), Ticker: scope.Ticker, Result: &res})
	return res, nil
}

func (s *Service) scopePlatforms(ctx context.Context, scope Scope) ([]int64, error) {
	if scope.PlatformID != nil {
		if _, err := s.store.GetPlatform(ctx, *scope.PlatformID); err != nil {
			return nil, err
		}
		return []int64{*scope.PlatformID}, nil
	}
	all, err := s.store.ListPlatforms(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(all))
	for i, p := range all {
		ids[i] = p.ID
	}
	return ids, nil
}

// reconcileLocked must be called with the locks of platforms held.
func (s *Service) reconcileLocked(ctx context.Context, scope Scope, platforms []int64) (res Result, err error) {
	start := time.Now()
	res = Result{RunID: uuid.New(), Scope: scope}
	label := scope.label()
	defer func() {
		result := "ok"
		var ile *model.InconsistentLedgerError
		switch {
		case errors.As(err, &ile):
			result = "inconsistent"
			metrics.InconsistentLedger.Inc()
		case err != nil:
			result = "error"
		}
		metrics.ReconcileTotal.WithLabelValues(label, result).Inc()
		metrics.ReconcileDuration.WithLabelValues(label).Observe(time.Since(start).Seconds())
	}()

	if err := ctx.Err(); err != nil {
		return res, err
	}

	// Cash needs the whole ledger of each platform even when the position
	// scope is narrowed to a ticker.
	trades, err := s.store.ListTrades(ctx, store.TradeFilter{PlatformID: scope.PlatformID})
	if err != nil {
		return res, err
	}
	opts, err := s.store.ListOptionTrades(ctx, store.OptionFilter{PlatformID: scope.PlatformID})
	if err != nil {
		return res, err
	}
	flows, err := s.store.ListCashFlows(ctx, store.CashFlowFilter{PlatformID: scope.PlatformID})
	if err != nil {
		return res, err
	}

	// Platforms created after the locks were taken belong to their own
	// writer; leave their rows and cash alone.
	if scope.PlatformID == nil {
		locked := lockedSet(platforms)
		trades = onPlatforms(trades, locked, func(t model.Trade) int64 { return t.PlatformID })
		opts = onPlatforms(opts, locked, func(o model.OptionTrade) int64 { return o.PlatformID })
		flows = onPlatforms(flows, locked, func(f model.CashFlow) int64 { return f.PlatformID })
	}

	stream := append([]model.Trade(nil), trades...)
	stream = append(stream, s.acct.SyntheticTrades(opts)...)
	if scope.Ticker != "" {
		stream = filterTicker(stream, scope.Ticker)
	}

	derived, err := s.matcher.MatchAll(stream)
	if err != nil {
		slog.Warn("reconciliation aborted", "run_id", res.RunID, "scope", label, "err", err)
		return res, err
	}

	existing, err := s.store.ListPositions(ctx, store.PositionFilter{PlatformID: scope.PlatformID, Ticker: scope.Ticker})
	if err != nil {
		return res, err
	}

	if scope.PlatformID == nil {
		existing = onPlatforms(existing, lockedSet(platforms), func(p model.Position) int64 { return p.PlatformID })
	}

	next := groupByKey(derived)
	prev := groupByKey(existing)
	res.Groups = len(next)

	var write store.Derived
	for _, k := range unionKeys(prev, next) {
		if samePositions(prev[k], next[k]) {
			continue
		}
		write.Keys = append(write.Keys, k)
		write.Positions = append(write.Positions, next[k]...)
	}
	res.Changed = len(write.Keys)

	write.Balances = s.cash.Recompute(platforms, trades, flows, opts)
	res.Platforms = len(write.Balances)

	if err := s.store.ReplaceDerived(ctx, write); err != nil {
		slog.Error("derived state write failed", "run_id", res.RunID, "scope", label, "err", err)
		return res, err
	}

	for _, p := range derived {
		if p.Status == model.PositionOpen {
			res.Open++
		} else {
			res.Closed++
		}
	}
	if label == "all" {
		metrics.PositionsDerived.WithLabelValues(string(model.PositionOpen)).Set(float64(res.Open))
		metrics.PositionsDerived.WithLabelValues(string(model.PositionClosed)).Set(float64(res.Closed))
	}

	res.FinishedAt = time.Now().UTC()
	res.Duration = time.Since(start)
	slog.Info("reconciled",
		"run_id", res.RunID,
		"scope", label,
		"groups", res.Groups,
		"changed", res.Changed,
		"open", res.Open,
		"closed", res.Closed,
		"duration", res.Duration,
	)
	return res, nil
}

// --- Ledger writes ---

// CreatePlatform registers a brokerage platform with zero cash.
func (s *Service) CreatePlatform(ctx context.Context, name string) (*model.Platform, error) {
	name, err := validate.PlatformName(name)
	if err != nil {
		return nil, err
	}
	p := &model.Platform{Name: name, CashAvailable: decimal.Zero}
	if err := s.store.CreatePlatform(ctx, p); err != nil {
		return nil, err
	}
	slog.Info("platform created", "platform_id", p.ID, "name", p.Name)
	s.notify(ctx, Event{Kind: EventPlatform, PlatformID: p.ID})
	return p, nil
}

// RecordTrade appends one trade and reconciles its group.
func (s *Service) RecordTrade(ctx context.Context, t model.Trade) (model.Trade, Result, error) {
	if err := validate.Trade(&t); err != nil {
		return t, Result{}, err
	}
	if _, err := s.store.GetPlatform(ctx, t.PlatformID); err != nil {
		return t, Result{}, asValidation("platform_id", err)
	}

	unlock := s.locks.lock(t.PlatformID)
	defer unlock()

	trades := []model.Trade{t}
	if err := s.appendLocked(ctx, trades); err != nil {
		return t, Result{}, err
	}
	t = trades[0]

	pid := t.PlatformID
	res, err := s.reconcileLocked(ctx, Scope{PlatformID: &pid, Ticker: t.Ticker}, []int64{pid})
	if err != nil {
		return t, res, err
	}
	s.notify(ctx, Event{Kind: EventTrade, PlatformID: pid, Ticker: t.Ticker, Result: &res})
	return t, res, nil
}

// RecordTrades validates and appends trades without reconciling. The
// caller is expected to reconcile once afterwards; bulk import does this.
// The batch is rejected as a whole if any trade is invalid or would leave
// its group inconsistent.
func (s *Service) RecordTrades(ctx context.Context, trades []model.Trade) error {
	platforms := make(map[int64]bool)
	for i := range trades {
		if err := validate.Trade(&trades[i]); err != nil {
			return fmt.Errorf("trade %d: %w", i, err)
		}
		platforms[trades[i].PlatformID] = true
	}
	ids := make([]int64, 0, len(platforms))
	for id := range platforms {
		if _, err := s.store.GetPlatform(ctx, id); err != nil {
			return asValidation("platform_id", err)
		}
		ids = append(ids, id)
	}

	unlock := s.locks.lock(ids...)
	defer unlock()
	return s.appendLocked(ctx, trades)
}

// appendLocked checks every affected group against the matcher with the new
// trades included, then stores them with their cash deltas.
func (s *Service) appendLocked(ctx context.Context, trades []model.Trade) error {
	if len(trades) == 0 {
		return nil
	}
	byKey := make(map[model.Key][]model.Trade)
	deltas := make(map[int64]decimal.Decimal)
	for _, t := range trades {
		k := model.Key{Ticker: t.Ticker, PlatformID: t.PlatformID}
		byKey[k] = append(byKey[k], t)
		deltas[t.PlatformID] = deltas[t.PlatformID].Add(cash.TradeEvent(t).Amount)
	}
	for k, extra := range byKey {
		if err := s.checkGroup(ctx, k, extra); err != nil {
			return err
		}
	}

	if err := s.store.AppendTrades(ctx, trades, deltas); err != nil {
		return err
	}
	metrics.LedgerWritesTotal.WithLabelValues("trade").Add(float64(len(trades)))
	return nil
}

// checkGroup runs the matcher over a group's ledger plus extra. Extra
// trades without an ID are ordered after every stored trade, in slice order.
func (s *Service) checkGroup(ctx context.Context, k model.Key, extra []model.Trade) error {
	pid := k.PlatformID
	stored, err := s.store.ListTrades(ctx, store.TradeFilter{PlatformID: &pid, Ticker: k.Ticker})
	if err != nil {
		return err
	}
	opts, err := s.store.ListOptionTrades(ctx, store.OptionFilter{PlatformID: &pid, Ticker: k.Ticker})
	if err != nil {
		return err
	}

	var maxID int64
	for _, t := range stored {
		if t.ID > maxID {
			maxID = t.ID
		}
	}
	stream := append(stored, s.acct.SyntheticTrades(opts)...)
	for i, t := range extra {
		if !t.Synthetic() {
			t.ID = maxID + int64(i) + 1
		}
		stream = append(stream, t)
	}
	_, err = s.matcher.Match(k, stream)
	return err
}

// RecordCashFlow appends a deposit or withdrawal and adjusts cash.
func (s *Service) RecordCashFlow(ctx context.Context, f model.CashFlow) (model.CashFlow, error) {
	if err := validate.CashFlow(&f); err != nil {
		return f, err
	}
	if _, err := s.store.GetPlatform(ctx, f.PlatformID); err != nil {
		return f, asValidation("platform_id", err)
	}
	f.CreatedAt = time.Now().UTC()

	unlock := s.locks.lock(f.PlatformID)
	defer unlock()

	if err := s.store.InsertCashFlow(ctx, &f, cash.FlowEvent(f).Amount); err != nil {
		return f, err
	}
	metrics.LedgerWritesTotal.WithLabelValues("cash_flow").Inc()
	slog.Info("cash flow recorded", "platform_id", f.PlatformID, "flow_type", f.FlowType, "amount", f.Amount.String())
	s.notify(ctx, Event{Kind: EventCashFlow, PlatformID: f.PlatformID})
	return f, nil
}

// OpenOption records a new option trade.
func (s *Service) OpenOption(ctx context.Context, o model.OptionTrade) (model.OptionTrade, error) {
	if err := validate.OptionTrade(&o); err != nil {
		return o, err
	}
	if _, err := s.store.GetPlatform(ctx, o.PlatformID); err != nil {
		return o, asValidation("platform_id", err)
	}
	o = s.acct.Open(o)

	unlock := s.locks.lock(o.PlatformID)
	defer unlock()

	if err := s.store.InsertOptionTrade(ctx, &o, s.cash.OptionDelta(nil, o)); err != nil {
		return o, err
	}
	metrics.LedgerWritesTotal.WithLabelValues("option_open").Inc()
	s.notify(ctx, Event{Kind: EventOption, PlatformID: o.PlatformID, Ticker: o.Ticker})
	return o, nil
}

// CloseOption closes an open option at price.
func (s *Service) CloseOption(ctx context.Context, id int64, price, fee decimal.Decimal, date time.Time) (model.OptionTrade, error) {
	return s.transitionOption(ctx, id, "option_close", func(o model.OptionTrade) (model.OptionTrade, error) {
		return s.acct.Close(o, price, fee, date)
	})
}

// ExpireOption marks an open option as expired worthless.
func (s *Service) ExpireOption(ctx context.Context, id int64, date time.Time) (model.OptionTrade, error) {
	return s.transitionOption(ctx, id, "option_expire", func(o model.OptionTrade) (model.OptionTrade, error) {
		return s.acct.Expire(o, date)
	})
}

// ExerciseOption settles an open option into shares at its strike and
// reconciles the underlying's group.
func (s *Service) ExerciseOption(ctx context.Context, id int64, fee decimal.Decimal, date time.Time) (model.OptionTrade, error) {
	return s.transitionOption(ctx, id, "option_exercise", func(o model.OptionTrade) (model.OptionTrade, error) {
		return s.acct.Exercise(o, fee, date)
	})
}

func (s *Service) transitionOption(ctx context.Context, id int64, kind string, apply func(model.OptionTrade) (model.OptionTrade, error)) (model.OptionTrade, error) {
	current, err := s.store.GetOptionTrade(ctx, id)
	if err != nil {
		return model.OptionTrade{}, err
	}

	unlock := s.locks.lock(current.PlatformID)
	defer unlock()

	// Re-read under the lock; another writer may have moved it.
	prev, err := s.store.GetOptionTrade(ctx, id)
	if err != nil {
		return model.OptionTrade{}, err
	}
	next, err := apply(*prev)
	if err != nil {
		return *prev, err
	}

	key := model.Key{Ticker: next.Ticker, PlatformID: next.PlatformID}
	synthetic, exercised := s.acct.SyntheticTrade(next)
	if exercised {
		if err := s.checkGroup(ctx, key, []model.Trade{synthetic}); err != nil {
			return *prev, err
		}
	}

	if err := s.store.TransitionOptionTrade(ctx, &next, prev.Status, s.cash.OptionDelta(prev, next)); err != nil {
		return *prev, err
	}
	metrics.LedgerWritesTotal.WithLabelValues(kind).Inc()
	slog.Info("option transitioned",
		"option_id", next.ID,
		"status", next.Status,
		"profit_loss", next.ProfitLoss.Decimal.String(),
	)

	ev := Event{Kind: EventOption, PlatformID: next.PlatformID, Ticker: next.Ticker}
	if exercised {
		pid := next.PlatformID
		res, err := s.reconcileLocked(ctx, Scope{PlatformID: &pid, Ticker: next.Ticker}, []int64{pid})
		if err != nil {
			return next, err
		}
		ev.Result = &res
	}
	s.notify(ctx, ev)
	return next, nil
}

// --- Queries ---

// Platforms lists every platform with its derived cash.
func (s *Service) Platforms(ctx context.Context) ([]model.Platform, error) {
	return s.store.ListPlatforms(ctx)
}

// PlatformByName looks a platform up by its unique name.
func (s *Service) PlatformByName(ctx context.Context, name string) (*model.Platform, error) {
	return s.store.GetPlatformByName(ctx, name)
}

// OpenPositions lists open positions, optionally for one platform.
func (s *Service) OpenPositions(ctx context.Context, platformID *int64) ([]model.Position, error) {
	return s.store.ListPositions(ctx, store.PositionFilter{PlatformID: platformID, Status: model.PositionOpen})
}

// ClosedPositions lists closed positions whose exit date falls in window.
func (s *Service) ClosedPositions(ctx context.Context, platformID *int64, window *model.DateRange) ([]model.Position, error) {
	return s.store.ListPositions(ctx, store.PositionFilter{PlatformID: platformID, Status: model.PositionClosed, Window: window})
}

// RealizedPnL sums realized P&L of closed positions in window.
func (s *Service) RealizedPnL(ctx context.Context, platformID *int64, window *model.DateRange) (decimal.Decimal, error) {
	closed, err := s.ClosedPositions(ctx, platformID, window)
	if err != nil {
		return decimal.Zero, err
	}
	return pnl.RealizedTotal(closed, window), nil
}

// UnrealizedPnL marks open positions to prices. Missing prices produce a
// partial report together with a *model.StaleDataWarning.
func (s *Service) UnrealizedPnL(ctx context.Context, platformID *int64, prices map[string]decimal.Decimal) (pnl.UnrealizedReport, error) {
	open, err := s.OpenPositions(ctx, platformID)
	if err != nil {
		return pnl.UnrealizedReport{}, err
	}
	report, err := pnl.UnrealizedTotal(open, prices)
	var stale *model.StaleDataWarning
	if errors.As(err, &stale) {
		metrics.StalePrices.Inc()
	}
	if len(report.Platforms) > 0 {
		platforms, perr := s.store.ListPlatforms(ctx)
		if perr != nil {
			return pnl.UnrealizedReport{}, perr
		}
		names := make(map[int64]string, len(platforms))
		for _, p := range platforms {
			names[p.ID] = p.Name
		}
		for i := range report.Platforms {
			if id := report.Platforms[i].PlatformID; id != 0 {
				report.Platforms[i].Platform = names[id]
			}
		}
	}
	return report, err
}

// CashBalance returns the derived cash of a platform.
func (s *Service) CashBalance(ctx context.Context, platformID int64) (decimal.Decimal, error) {
	p, err := s.store.GetPlatform(ctx, platformID)
	if err != nil {
		return decimal.Zero, err
	}
	return p.CashAvailable, nil
}

// Trades lists ledger trades.
func (s *Service) Trades(ctx context.Context, f store.TradeFilter) ([]model.Trade, error) {
	return s.store.ListTrades(ctx, f)
}

// CashFlows lists deposits and withdrawals.
func (s *Service) CashFlows(ctx context.Context, f store.CashFlowFilter) ([]model.CashFlow, error) {
	return s.store.ListCashFlows(ctx, f)
}

// OptionTrades lists option trades with a status summary.
func (s *Service) OptionTrades(ctx context.Context, f store.OptionFilter) ([]model.OptionTrade, options.Summary, error) {
	opts, err := s.store.ListOptionTrades(ctx, f)
	if err != nil {
		return nil, options.Summary{}, err
	}
	return opts, options.Summarize(opts), nil
}

// LastImport returns when the last CSV import finished, or the zero time.
func (s *Service) LastImport(ctx context.Context) (time.Time, error) {
	v, err := s.store.GetMeta(ctx, store.MetaLastCSVUpload)
	if errors.Is(err, model.ErrNotFound) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

// MarkImport records a finished import and notifies observers.
func (s *Service) MarkImport(ctx context.Context, at time.Time, res *Result) error {
	if err := s.store.SetMeta(ctx, store.MetaLastCSVUpload, at.UTC().Format(time.RFC3339)); err != nil {
		return err
	}
	s.notify(ctx, Event{Kind: EventImportFinish, Result: res})
	return nil
}

// --- Helpers ---

func asValidation(field string, err error) error {
	if errors.Is(err, model.ErrNotFound) {
		return model.Invalid(field, "refers to an unknown platform")
	}
	return err
}

func deref(p *int64) int64 {
	if p == nil {
		return 0
	}
	return *p
}

func lockedSet(ids []int64) map[int64]bool {
	set := make(map[int64]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}
	return set
}

func onPlatforms[T any](items []T, keep map[int64]bool, platform func(T) int64) []T {
	out := items[:0:0]
	for _, it := range items {
		if keep[platform(it)] {
			out = append(out, it)
		}
	}
	return out
}

func filterTicker(trades []model.Trade, ticker string) []model.Trade {
	out := trades[:0]
	for _, t := range trades {
		if t.Ticker == ticker {
			out = append(out, t)
		}
	}
	return out
}

func groupByKey(positions []model.Position) map[model.Key][]model.Position {
	out := make(map[model.Key][]model.Position)
	for _, p := range positions {
		k := model.Key{Ticker: p.Ticker, PlatformID: p.PlatformID}
		out[k] = append(out[k], p)
	}
	return out
}

func unionKeys(a, b map[model.Key][]model.Position) []model.Key {
	seen := make(map[model.Key]bool, len(a)+len(b))
	var keys []model.Key
	for _, m := range []map[model.Key][]model.Position{a, b} {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				keys = append(keys, k)
			}
		}
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Ticker != keys[j].Ticker {
			return keys[i].Ticker < keys[j].Ticker
		}
		return keys[i].PlatformID < keys[j].PlatformID
	})
	return keys
}

// samePositions compares two derived row sets ignoring row ids. Both are in
// matcher order (stored rows are listed by id, which follows insertion).
func samePositions(a, b []model.Position) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		x, y := a[i], b[i]
		if x.Ticker != y.Ticker || x.PlatformID != y.PlatformID || x.TradeType != y.TradeType ||
			x.Status != y.Status || !x.EntryPrice.Equal(y.EntryPrice) || !x.Quantity.Equal(y.Quantity) ||
			!model.Day(x.EntryDate).Equal(model.Day(y.EntryDate)) ||
			!sameNull(x.ExitPrice, y.ExitPrice) || !sameNull(x.ProfitLoss, y.ProfitLoss) ||
			!sameDate(x.ExitDate, y.ExitDate) {
			return false
		}
	}
	return true
}

func sameNull(a, b decimal.NullDecimal) bool {
	if a.Valid != b.Valid {
		return false
	}
	return !a.Valid || a.Decimal.Equal(b.Decimal)
}

func sameDate(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return model.Day(*a).Equal(model.Day(*b))
}
