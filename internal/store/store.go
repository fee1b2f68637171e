// Package store defines the persistence interface for the ledger engine.
// Implementations include PostgreSQL (source of truth), Redis (read-through
// cache), and in-memory (for testing).
package store

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
)

// MetaLastCSVUpload is the app_metadata key holding the time of the last
// successful CSV import.
const MetaLastCSVUpload = "last_csv_upload"

// TradeFilter narrows ListTrades. Zero values match everything.
type TradeFilter struct {
	PlatformID *int64
	Ticker     string
}

// PositionFilter narrows ListPositions. Window applies to exit_date and so
// only matches closed rows.
type PositionFilter struct {
	PlatformID *int64
	Ticker     string
	Status     model.PositionStatus
	Window     *model.DateRange
}

// OptionFilter narrows ListOptionTrades.
type OptionFilter struct {
	PlatformID *int64
	Ticker     string
	Status     model.OptionStatus
}

// CashFlowFilter narrows ListCashFlows. Window applies to flow_date.
type CashFlowFilter struct {
	PlatformID *int64
	Window     *model.DateRange
}

// Derived is one atomic write of reconciled state: the position rows of
// Keys are replaced by Positions, and every platform in Balances gets its
// cash_available set.
type Derived struct {
	Keys      []model.Key
	Positions []model.Position
	Balances  map[int64]decimal.Decimal
}

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer.
//
// Ledger rows (trades, option trades, cash flows) are append-only apart
// from the one-shot option status transition. Writes that change a
// platform's cash take the incremental delta and apply it in the same
// transaction as the ledger write.
type Store interface {
	// --- Platforms ---

	// CreatePlatform persists a new platform and sets its ID. Duplicate
	// names return model.ErrConflict.
	CreatePlatform(ctx context.Context, p *model.Platform) error

	// GetPlatform retrieves a platform by ID.
	GetPlatform(ctx context.Context, id int64) (*model.Platform, error)

	// GetPlatformByName retrieves a platform by its unique name.
	GetPlatformByName(ctx context.Context, name string) (*model.Platform, error)

	// ListPlatforms returns all platforms ordered by ID.
	ListPlatforms(ctx context.Context) ([]model.Platform, error)

	// --- Immutable ledger ---

	// AppendTrades inserts trades, assigning IDs in slice order, and adds
	// the per-platform cash deltas.
	AppendTrades(ctx context.Context, trades []model.Trade, deltas map[int64]decimal.Decimal) error

	// ListTrades returns trades ordered by (ticker, platform_id, date, id).
	ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, error)

	// InsertCashFlow appends a deposit or withdrawal and applies delta.
	InsertCashFlow(ctx context.Context, flow *model.CashFlow, delta decimal.Decimal) error

	// ListCashFlows returns cash flows ordered by (flow_date, id).
	ListCashFlows(ctx context.Context, f CashFlowFilter) ([]model.CashFlow, error)

	// --- Options ---

	// InsertOptionTrade persists a new option trade and applies delta.
	InsertOptionTrade(ctx context.Context, opt *model.OptionTrade, delta decimal.Decimal) error

	// GetOptionTrade retrieves an option trade by ID.
	GetOptionTrade(ctx context.Context, id int64) (*model.OptionTrade, error)

	// TransitionOptionTrade writes the terminal state of opt only if the
	// stored row still has status from; otherwise model.ErrInvalidTransition.
	TransitionOptionTrade(ctx context.Context, opt *model.OptionTrade, from model.OptionStatus, delta decimal.Decimal) error

	// ListOptionTrades returns option trades ordered by (trade_date, id).
	ListOptionTrades(ctx context.Context, f OptionFilter) ([]model.OptionTrade, error)

	// --- Derived state ---

	// ListPositions returns positions ordered by (ticker, platform_id, id).
	ListPositions(ctx context.Context, f PositionFilter) ([]model.Position, error)

	// ReplaceDerived applies d atomically: either all of it is visible or
	// none of it.
	ReplaceDerived(ctx context.Context, d Derived) error

	// --- Metadata ---

	// GetMeta returns a metadata value or model.ErrNotFound.
	GetMeta(ctx context.Context, key string) (string, error)

	// SetMeta upserts a metadata value.
	SetMeta(ctx context.Context, key, value string) error
}
