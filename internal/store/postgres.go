package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- Platforms ---

func (s *PostgresStore) CreatePlatform(ctx context.Context, p *model.Platform) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO platforms (name, cash_available) VALUES ($1, $2::NUMERIC) RETURNING id`,
		p.Name, p.CashAvailable.String(),
	).Scan(&p.ID)
	return classify("create platform", err)
}

const platformColumns = `id, name, cash_available::TEXT`

func (s *PostgresStore) GetPlatform(ctx context.Context, id int64) (*model.Platform, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+platformColumns+` FROM platforms WHERE id = $1`, id)
	p, err := scanPlatform(row)
	if err != nil {
		return nil, classify(fmt.Sprintf("get platform %d", id), err)
	}
	return p, nil
}

func (s *PostgresStore) GetPlatformByName(ctx context.Context, name string) (*model.Platform, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+platformColumns+` FROM platforms WHERE name = $1`, name)
	p, err := scanPlatform(row)
	if err != nil {
		return nil, classify(fmt.Sprintf("get platform %q", name), err)
	}
	return p, nil
}

func (s *PostgresStore) ListPlatforms(ctx context.Context) ([]model.Platform, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+platformColumns+` FROM platforms ORDER BY id`)
	if err != nil {
		return nil, classify("list platforms", err)
	}
	defer rows.Close()

	var platforms []model.Platform
	for rows.Next() {
		p, err := scanPlatform(rows)
		if err != nil {
			return nil, classify("list platforms", err)
		}
		platforms = append(platforms, *p)
	}
	return platforms, classify("list platforms", rows.Err())
}

// --- Immutable ledger ---

func (s *PostgresStore) AppendTrades(ctx context.Context, trades []model.Trade, deltas map[int64]decimal.Decimal) error {
	return s.inTx(ctx, "append trades", func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for i := range trades {
			t := &trades[i]
			batch.Queue(
				`INSERT INTO trades (ticker, platform_id, price, quantity, date, trade_type)
				 VALUES ($1, $2, $3::NUMERIC, $4::NUMERIC, $5, $6) RETURNING id`,
				t.Ticker, t.PlatformID, t.Price.String(), t.Quantity.String(), model.Day(t.Date), string(t.TradeType),
			).QueryRow(func(row pgx.Row) error {
				return row.Scan(&t.ID)
			})
		}
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return err
		}
		return applyDeltas(ctx, tx, deltas)
	})
}

func (s *PostgresStore) ListTrades(ctx context.Context, f TradeFilter) ([]model.Trade, error) {
	var w where
	if f.PlatformID != nil {
		w.add("platform_id = $%d", *f.PlatformID)
	}
	if f.Ticker != "" {
		w.add("ticker = $%d", f.Ticker)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, ticker, platform_id, price::TEXT, quantity::TEXT, date, trade_type
		 FROM trades`+w.String()+` ORDER BY ticker, platform_id, date, id`, w.args...)
	if err != nil {
		return nil, classify("list trades", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		var priceS, qtyS, side string
		if err := rows.Scan(&t.ID, &t.Ticker, &t.PlatformID, &priceS, &qtyS, &t.Date, &side); err != nil {
			return nil, classify("list trades", err)
		}
		t.Price, _ = decimal.NewFromString(priceS)
		t.Quantity, _ = decimal.NewFromString(qtyS)
		t.TradeType = model.TradeType(side)
		trades = append(trades, t)
	}
	return trades, classify("list trades", rows.Err())
}

func (s *PostgresStore) InsertCashFlow(ctx context.Context, cf *model.CashFlow, delta decimal.Decimal) error {
	return s.inTx(ctx, "insert cash flow", func(tx pgx.Tx) error {
		if cf.CreatedAt.IsZero() {
			cf.CreatedAt = time.Now().UTC()
		}
		err := tx.QueryRow(ctx,
			`INSERT INTO cash_flows (platform_id, flow_type, amount, flow_date, notes, created_at)
			 VALUES ($1, $2, $3::NUMERIC, $4, $5, $6) RETURNING id`,
			cf.PlatformID, string(cf.FlowType), cf.Amount.String(), model.Day(cf.FlowDate), cf.Notes, cf.CreatedAt,
		).Scan(&cf.ID)
		if err != nil {
			return err
		}
		return applyDeltas(ctx, tx, map[int64]decimal.Decimal{cf.PlatformID: delta})
	})
}

func (s *PostgresStore) ListCashFlows(ctx context.Context, f CashFlowFilter) ([]model.CashFlow, error) {
	var w where
	if f.PlatformID != nil {
		w.add("platform_id = $%d", *f.PlatformID)
	}
	w.window("flow_date", f.Window)
	rows, err := s.pool.Query(ctx,
		`SELECT id, platform_id, flow_type, amount::TEXT, flow_date, notes, created_at
		 FROM cash_flows`+w.String()+` ORDER BY flow_date, id`, w.args...)
	if err != nil {
		return nil, classify("list cash flows", err)
	}
	defer rows.Close()

	var flows []model.CashFlow
	for rows.Next() {
		var cf model.CashFlow
		var flowType, amountS string
		if err := rows.Scan(&cf.ID, &cf.PlatformID, &flowType, &amountS, &cf.FlowDate, &cf.Notes, &cf.CreatedAt); err != nil {
			return nil, classify("list cash flows", err)
		}
		cf.FlowType = model.FlowType(flowType)
		cf.Amount, _ = decimal.NewFromString(amountS)
		flows = append(flows, cf)
	}
	return flows, classify("list cash flows", rows.Err())
}

// --- Options ---

const optionColumns = `id, ticker, platform_id, strategy, strike_price::TEXT, expiry_date, trade_date,
	transaction_type, option_open_price::TEXT, open_fee::TEXT, option_close_price::TEXT,
	close_fee::TEXT, profit_loss::TEXT, status, close_date, notes`

func (s *PostgresStore) InsertOptionTrade(ctx context.Context, o *model.OptionTrade, delta decimal.Decimal) error {
	return s.inTx(ctx, "insert option trade", func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO option_trades (ticker, platform_id, strategy, strike_price, expiry_date, trade_date,
			     transaction_type, option_open_price, open_fee, option_close_price, close_fee, profit_loss,
			     status, close_date, notes)
			 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6, $7, $8::NUMERIC, $9::NUMERIC, $10::NUMERIC,
			     $11::NUMERIC, $12::NUMERIC, $13, $14, $15)
			 RETURNING id`,
			o.Ticker, o.PlatformID, string(o.Strategy), o.StrikePrice.String(), model.Day(o.ExpiryDate),
			model.Day(o.TradeDate), string(o.TransactionType), o.OpenPrice.String(), o.OpenFee.String(),
			nullString(o.ClosePrice), o.CloseFee.String(), nullString(o.ProfitLoss),
			string(o.Status), o.CloseDate, o.Notes,
		).Scan(&o.ID)
		if err != nil {
			return err
		}
		return applyDeltas(ctx, tx, map[int64]decimal.Decimal{o.PlatformID: delta})
	})
}

func (s *PostgresStore) GetOptionTrade(ctx context.Context, id int64) (*model.OptionTrade, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+optionColumns+` FROM option_trades WHERE id = $1`, id)
	o, err := scanOption(row)
	if err != nil {
		return nil, classify(fmt.Sprintf("get option trade %d", id), err)
	}
	return o, nil
}

func (s *PostgresStore) TransitionOptionTrade(ctx context.Context, o *model.OptionTrade, from model.OptionStatus, delta decimal.Decimal) error {
	return s.inTx(ctx, "transition option trade", func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx,
			`UPDATE option_trades
			 SET status = $2, option_close_price = $3::NUMERIC, close_fee = $4::NUMERIC,
			     profit_loss = $5::NUMERIC, close_date = $6
			 WHERE id = $1 AND status = $7`,
			o.ID, string(o.Status), nullString(o.ClosePrice), o.CloseFee.String(),
			nullString(o.ProfitLoss), o.CloseDate, string(from),
		)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			var exists bool
			if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM option_trades WHERE id = $1)`, o.ID).Scan(&exists); err != nil {
				return err
			}
			if !exists {
				return fmt.Errorf("option trade %d: %w", o.ID, model.ErrNotFound)
			}
			return fmt.Errorf("option trade %d is no longer %s: %w", o.ID, from, model.ErrInvalidTransition)
		}
		return applyDeltas(ctx, tx, map[int64]decimal.Decimal{o.PlatformID: delta})
	})
}

func (s *PostgresStore) ListOptionTrades(ctx context.Context, f OptionFilter) ([]model.OptionTrade, error) {
	var w where
	if f.PlatformID != nil {
		w.add("platform_id = $%d", *f.PlatformID)
	}
	if f.Ticker != "" {
		w.add("ticker = $%d", f.Ticker)
	}
	if f.Status != "" {
		w.add("status = $%d", string(f.Status))
	}
	rows, err := s.pool.Query(ctx,
		`SELECT `+optionColumns+` FROM option_trades`+w.String()+` ORDER BY trade_date, id`, w.args...)
	if err != nil {
		return nil, classify("list option trades", err)
	}
	defer rows.Close()

	var opts []model.OptionTrade
	for rows.Next() {
		o, err := scanOption(rows)
		if err != nil {
			return nil, classify("list option trades", err)
		}
		opts = append(opts, *o)
	}
	return opts, classify("list option trades", rows.Err())
}

// --- Derived state ---

func (s *PostgresStore) ListPositions(ctx context.Context, f PositionFilter) ([]model.Position, error) {
	var w where
	if f.PlatformID != nil {
		w.add("platform_id = $%d", *f.PlatformID)
	}
	if f.Ticker != "" {
		w.add("ticker = $%d", f.Ticker)
	}
	if f.Status != "" {
		w.add("position_status = $%d", string(f.Status))
	}
	if f.Window != nil {
		w.cond("exit_date IS NOT NULL")
		w.window("exit_date", f.Window)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, ticker, trade_type, position_status, entry_price::TEXT, quantity::TEXT,
		        exit_price::TEXT, exit_date, entry_date, profit_loss::TEXT, platform_id
		 FROM positions`+w.String()+` ORDER BY ticker, platform_id, id`, w.args...)
	if err != nil {
		return nil, classify("list positions", err)
	}
	defer rows.Close()

	var positions []model.Position
	for rows.Next() {
		var p model.Position
		var side, status, entryS, qtyS string
		var exitS, plS *string
		if err := rows.Scan(&p.ID, &p.Ticker, &side, &status, &entryS, &qtyS,
			&exitS, &p.ExitDate, &p.EntryDate, &plS, &p.PlatformID); err != nil {
			return nil, classify("list positions", err)
		}
		p.TradeType = model.TradeType(side)
		p.Status = model.PositionStatus(status)
		p.EntryPrice, _ = decimal.NewFromString(entryS)
		p.Quantity, _ = decimal.NewFromString(qtyS)
		p.ExitPrice = parseNull(exitS)
		p.ProfitLoss = parseNull(plS)
		positions = append(positions, p)
	}
	return positions, classify("list positions", rows.Err())
}

// ReplaceDerived deletes the position rows of d.Keys, inserts d.Positions
// and sets balances in a single serializable transaction.
func (s *PostgresStore) ReplaceDerived(ctx context.Context, d Derived) error {
	return s.inTx(ctx, "replace derived state", func(tx pgx.Tx) error {
		if len(d.Keys) > 0 {
			tickers := make([]string, len(d.Keys))
			platforms := make([]int64, len(d.Keys))
			for i, k := range d.Keys {
				tickers[i], platforms[i] = k.Ticker, k.PlatformID
			}
			if _, err := tx.Exec(ctx,
				`DELETE FROM positions
				 WHERE (ticker, platform_id) IN (SELECT * FROM unnest($1::TEXT[], $2::BIGINT[]))`,
				tickers, platforms); err != nil {
				return err
			}
		}

		if len(d.Positions) > 0 {
			batch := &pgx.Batch{}
			for _, p := range d.Positions {
				batch.Queue(
					`INSERT INTO positions (ticker, trade_type, position_status, entry_price, quantity,
					     exit_price, exit_date, entry_date, profit_loss, platform_id)
					 VALUES ($1, $2, $3, $4::NUMERIC, $5::NUMERIC, $6::NUMERIC, $7, $8, $9::NUMERIC, $10)`,
					p.Ticker, string(p.TradeType), string(p.Status), p.EntryPrice.String(), p.Quantity.String(),
					nullString(p.ExitPrice), p.ExitDate, model.Day(p.EntryDate), nullString(p.ProfitLoss), p.PlatformID,
				)
			}
			if err := tx.SendBatch(ctx, batch).Close(); err != nil {
				return err
			}
		}

		for pid, bal := range d.Balances {
			tag, err := tx.Exec(ctx,
				`UPDATE platforms SET cash_available = $2::NUMERIC WHERE id = $1`, pid, bal.String())
			if err != nil {
				return err
			}
			if tag.RowsAffected() == 0 {
				return fmt.Errorf("platform %d: %w", pid, model.ErrNotFound)
			}
		}
		return nil
	})
}

// --- Metadata ---

func (s *PostgresStore) GetMeta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.pool.QueryRow(ctx, `SELECT value FROM app_metadata WHERE key = $1`, key).Scan(&v)
	if err != nil {
		return "", classify(fmt.Sprintf("get metadata %q", key), err)
	}
	return v, nil
}

func (s *PostgresStore) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO app_metadata (key, value) VALUES ($1, $2)
		 ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return classify("set metadata", err)
}

// --- Helpers ---

// inTx runs fn in a serializable transaction, rolling back on any error.
func (s *PostgresStore) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return classify(op, err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return classify(op, err)
	}
	return classify(op, tx.Commit(ctx))
}

func applyDeltas(ctx context.Context, tx pgx.Tx, deltas map[int64]decimal.Decimal) error {
	for pid, delta := range deltas {
		tag, err := tx.Exec(ctx,
			`UPDATE platforms SET cash_available = cash_available + $2::NUMERIC WHERE id = $1`,
			pid, delta.String())
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return fmt.Errorf("platform %d: %w", pid, model.ErrNotFound)
		}
	}
	return nil
}

// classify maps driver errors onto the model taxonomy.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, model.ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505":
			return fmt.Errorf("%s: %s: %w", op, pgErr.Detail, model.ErrConflict)
		case "23503":
			return fmt.Errorf("%s: %s: %w", op, pgErr.Detail, model.ErrNotFound)
		}
	}
	return model.Storage(op, err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPlatform(row rowScanner) (*model.Platform, error) {
	var p model.Platform
	var cashS string
	if err := row.Scan(&p.ID, &p.Name, &cashS); err != nil {
		return nil, err
	}
	p.CashAvailable, _ = decimal.NewFromString(cashS)
	return &p, nil
}

func scanOption(row rowScanner) (*model.OptionTrade, error) {
	var o model.OptionTrade
	var strategy, tt, status, strikeS, openS, openFeeS, closeFeeS string
	var closeS, plS *string
	if err := row.Scan(&o.ID, &o.Ticker, &o.PlatformID, &strategy, &strikeS, &o.ExpiryDate, &o.TradeDate,
		&tt, &openS, &openFeeS, &closeS, &closeFeeS, &plS, &status, &o.CloseDate, &o.Notes); err != nil {
		return nil, err
	}
	o.Strategy = model.Strategy(strategy)
	o.TransactionType = model.TransactionType(tt)
	o.Status = model.OptionStatus(status)
	o.StrikePrice, _ = decimal.NewFromString(strikeS)
	o.OpenPrice, _ = decimal.NewFromString(openS)
	o.OpenFee, _ = decimal.NewFromString(openFeeS)
	o.CloseFee, _ = decimal.NewFromString(closeFeeS)
	o.ClosePrice = parseNull(closeS)
	o.ProfitLoss = parseNull(plS)
	return &o, nil
}

func nullString(d decimal.NullDecimal) *string {
	if !d.Valid {
		return nil
	}
	s := d.Decimal.String()
	return &s
}

func parseNull(s *string) decimal.NullDecimal {
	if s == nil {
		return decimal.NullDecimal{}
	}
	d, err := decimal.NewFromString(*s)
	if err != nil {
		return decimal.NullDecimal{}
	}
	return decimal.NewNullDecimal(d)
}

// where accumulates AND-ed conditions with positional arguments.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(format string, arg interface{}) {
	w.args = append(w.args, arg)
	w.conds = append(w.conds, fmt.Sprintf(format, len(w.args)))
}

func (w *where) cond(c string) { w.conds = append(w.conds, c) }

func (w *where) window(column string, r *model.DateRange) {
	if r == nil {
		return
	}
	if !r.From.IsZero() {
		w.add(column+" >= $%d", model.Day(r.From))
	}
	if !r.To.IsZero() {
		w.add(column+" <= $%d", model.Day(r.To))
	}
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}
