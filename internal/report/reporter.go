package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/atmx/ledger-engine/internal/metrics"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/options"
	"github.com/atmx/ledger-engine/internal/reconcile"
	"github.com/atmx/ledger-engine/internal/store"
)

// Report kinds, also used as cache key prefixes and API path segments.
const (
	KindWeekly    = "weekly"
	KindMonthly   = "monthly"
	KindTaxes     = "taxes"
	KindCashFlows = "cash-flows"
)

// Source is the read side of the reconciliation service.
type Source interface {
	ClosedPositions(ctx context.Context, platformID *int64, window *model.DateRange) ([]model.Position, error)
	OptionTrades(ctx context.Context, f store.OptionFilter) ([]model.OptionTrade, options.Summary, error)
	CashFlows(ctx context.Context, f store.CashFlowFilter) ([]model.CashFlow, error)
	Platforms(ctx context.Context) ([]model.Platform, error)
}

// Reporter serves reports from an in-process cache that is flushed
// whenever the ledger changes.
type Reporter struct {
	src   Source
	cache *cache.Cache
	ttl   time.Duration
}

// NewReporter creates a reporter. Register it as an observer of the
// reconciliation service so writes flush the cache.
func NewReporter(src Source, ttl time.Duration) *Reporter {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Reporter{
		src:   src,
		cache: cache.New(ttl, 2*ttl),
		ttl:   ttl,
	}
}

// Notify flushes cached reports after any committed change.
func (r *Reporter) Notify(_ context.Context, e reconcile.Event) {
	r.cache.Flush()
	slog.Debug("report cache flushed", "event", e.Kind)
}

// Weekly returns realized P&L per ISO week.
func (r *Reporter) Weekly(ctx context.Context, platformID *int64) ([]PeriodRow, error) {
	return cached(r, KindWeekly, platformID, func() ([]PeriodRow, error) {
		positions, opts, err := r.realized(ctx, platformID)
		if err != nil {
			return nil, err
		}
		return Weekly(positions, opts), nil
	})
}

// Monthly returns realized P&L per calendar month.
func (r *Reporter) Monthly(ctx context.Context, platformID *int64) ([]PeriodRow, error) {
	return cached(r, KindMonthly, platformID, func() ([]PeriodRow, error) {
		positions, opts, err := r.realized(ctx, platformID)
		if err != nil {
			return nil, err
		}
		return Monthly(positions, opts), nil
	})
}

// Taxes returns the estimated tax summary.
func (r *Reporter) Taxes(ctx context.Context, platformID *int64) (TaxReport, error) {
	return cached(r, KindTaxes, platformID, func() (TaxReport, error) {
		positions, opts, err := r.realized(ctx, platformID)
		if err != nil {
			return TaxReport{}, err
		}
		return Taxes(positions, opts), nil
	})
}

// CashFlows returns deposits and withdrawals per year and platform.
func (r *Reporter) CashFlows(ctx context.Context, platformID *int64) ([]CashFlowRow, error) {
	return cached(r, KindCashFlows, platformID, func() ([]CashFlowRow, error) {
		flows, err := r.src.CashFlows(ctx, store.CashFlowFilter{PlatformID: platformID})
		if err != nil {
			return nil, err
		}
		platforms, err := r.src.Platforms(ctx)
		if err != nil {
			return nil, err
		}
		return CashFlows(flows, platforms), nil
	})
}

func (r *Reporter) realized(ctx context.Context, platformID *int64) ([]model.Position, []model.OptionTrade, error) {
	positions, err := r.src.ClosedPositions(ctx, platformID, nil)
	if err != nil {
		return nil, nil, err
	}
	opts, _, err := r.src.OptionTrades(ctx, store.OptionFilter{PlatformID: platformID})
	if err != nil {
		return nil, nil, err
	}
	return positions, opts, nil
}

func cached[T any](r *Reporter, kind string, platformID *int64, build func() (T, error)) (T, error) {
	key := cacheKey(kind, platformID)
	if v, ok := r.cache.Get(key); ok {
		if out, ok := v.(T); ok {
			metrics.ReportCacheHits.WithLabelValues("hit").Inc()
			return out, nil
		}
	}
	metrics.ReportCacheHits.WithLabelValues("miss").Inc()

	out, err := build()
	if err != nil {
		return out, err
	}
	r.cache.Set(key, out, r.ttl)
	return out, nil
}

func cacheKey(kind string, platformID *int64) string {
	if platformID == nil {
		return kind + ":all"
	}
	return fmt.Sprintf("%s:%d", kind, *platformID)
}
