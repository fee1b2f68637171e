// Package importer loads trades from broker CSV exports. Rows are mapped
// onto trade fields per platform, written to the ledger in paced batches,
// and followed by a single reconciliation pass.
package importer

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/atmx/ledger-engine/internal/metrics"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/reconcile"
	"github.com/atmx/ledger-engine/internal/validate"
)

// Defaults applied when Options leave a field unset.
const (
	DefaultBatchSize     = 500
	DefaultBatchesPerSec = 20
)

// Ledger is the part of the reconciliation service the importer writes
// through.
type Ledger interface {
	PlatformByName(ctx context.Context, name string) (*model.Platform, error)
	RecordTrades(ctx context.Context, trades []model.Trade) error
	Reconcile(ctx context.Context, scope reconcile.Scope) (reconcile.Result, error)
	MarkImport(ctx context.Context, at time.Time, res *reconcile.Result) error
}

// Options tune batching.
type Options struct {
	BatchSize     int
	BatchesPerSec float64
}

// Importer turns CSV exports into ledger trades.
type Importer struct {
	ledger    Ledger
	mappings  Mappings
	batchSize int
	limiter   *rate.Limiter
}

// New creates an importer. Nil mappings use DefaultMappings.
func New(ledger Ledger, mappings Mappings, opts Options) *Importer {
	if mappings == nil {
		mappings = DefaultMappings()
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.BatchesPerSec <= 0 {
		opts.BatchesPerSec = DefaultBatchesPerSec
	}
	return &Importer{
		ledger:    ledger,
		mappings:  mappings,
		batchSize: opts.BatchSize,
		limiter:   rate.NewLimiter(rate.Limit(opts.BatchesPerSec), 1),
	}
}

// RowError describes a CSV row that could not become a trade.
type RowError struct {
	Line   int    `json:"line"`
	Reason string `json:"reason"`
}

// Report summarizes one import.
type Report struct {
	ID        uuid.UUID         `json:"id"`
	Platform  string            `json:"platform"`
	Rows      int               `json:"rows"`
	Imported  int               `json:"imported"`
	Skipped   int               `json:"skipped"`
	Rejected  []RowError        `json:"rejected"`
	Batches   int               `json:"batches"`
	Reconcile *reconcile.Result `json:"reconcile,omitempty"`
}

// Import reads a CSV export of platform from r. Rows lacking a ticker or a
// date are skipped; rows that fail to parse or validate are rejected and
// reported. If a batch write fails, the import stops there, and trades from
// batches already committed are still reconciled.
func (im *Importer) Import(ctx context.Context, platform string, r io.Reader) (*Report, error) {
	platform = strings.TrimSpace(platform)
	report := &Report{ID: uuid.New(), Platform: platform, Rejected: []RowError{}}
	log := slog.With("import_id", report.ID, "platform", platform)

	var platformID int64
	if !IsOther(platform) {
		p, err := im.ledger.PlatformByName(ctx, platform)
		if errors.Is(err, model.ErrNotFound) {
			return nil, model.Invalid("platform", "unknown platform "+strconv.Quote(platform))
		}
		if err != nil {
			return nil, err
		}
		platformID = p.ID
	}

	trades, err := im.parse(r, im.mappings.For(platform), platformID, report)
	if err != nil {
		return nil, err
	}
	metrics.ImportRowsTotal.WithLabelValues("skipped").Add(float64(report.Skipped))
	metrics.ImportRowsTotal.WithLabelValues("rejected").Add(float64(len(report.Rejected)))
	if len(trades) == 0 {
		log.Warn("no valid rows in upload", "rows", report.Rows, "skipped", report.Skipped)
		return report, nil
	}

	writeErr := im.write(ctx, log, trades, report)
	if report.Imported == 0 {
		return report, writeErr
	}

	scope := reconcile.Scope{}
	if platformID != 0 {
		scope.PlatformID = &platformID
	}
	res, err := im.ledger.Reconcile(ctx, scope)
	if err != nil {
		return report, errors.Join(writeErr, fmt.Errorf("reconcile after import: %w", err))
	}
	report.Reconcile = &res

	if err := im.ledger.MarkImport(ctx, time.Now(), &res); err != nil {
		// The trades are in and reconciled; only the timestamp is missing.
		log.Error("failed to record upload time", "err", err)
	}

	log.Info("import finished",
		"rows", report.Rows,
		"imported", report.Imported,
		"skipped", report.Skipped,
		"rejected", len(report.Rejected),
		"batches", report.Batches,
	)
	return report, writeErr
}

func (im *Importer) write(ctx context.Context, log *slog.Logger, trades []model.Trade, report *Report) error {
	for start := 0; start < len(trades); start += im.batchSize {
		end := min(start+im.batchSize, len(trades))
		batch := trades[start:end]

		if err := im.limiter.Wait(ctx); err != nil {
			return err
		}
		batchID := uuid.New()
		began := time.Now()
		err := im.ledger.RecordTrades(ctx, batch)
		metrics.ImportBatchDuration.Observe(time.Since(began).Seconds())
		if err != nil {
			log.Error("import batch failed", "batch_id", batchID, "offset", start, "size", len(batch), "err", err)
			return fmt.Errorf("import batch at row offset %d: %w", start, err)
		}
		report.Batches++
		report.Imported += len(batch)
		metrics.ImportRowsTotal.WithLabelValues("imported").Add(float64(len(batch)))
		log.Debug("import batch committed", "batch_id", batchID, "size", len(batch))
	}
	return nil
}

// parse maps and converts every data row. Line numbers count the header as
// line 1.
func (im *Importer) parse(r io.Reader, mapping Mapping, platformID int64, report *Report) ([]model.Trade, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, model.Invalid("file", "is empty")
	}
	if err != nil {
		return nil, model.Invalid("file", "unreadable CSV header: "+err.Error())
	}
	columns := make(map[int]string, len(header))
	for i, h := range header {
		h = strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))
		if field := mapping[h]; field != "" {
			columns[i] = field
		}
	}

	var trades []model.Trade
	line := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		line++
		if err != nil {
			return nil, model.Invalid("file", fmt.Sprintf("line %d: %v", line, err))
		}
		report.Rows++

		row := make(map[string]string, len(columns))
		for i, field := range columns {
			if i < len(record) {
				row[field] = strings.TrimSpace(record[i])
			}
		}
		if row[FieldTicker] == "" || row[FieldDate] == "" {
			report.Skipped++
			continue
		}

		t, err := toTrade(row, platformID)
		if err == nil {
			err = validate.Trade(&t)
		}
		if err != nil {
			report.Rejected = append(report.Rejected, RowError{Line: line, Reason: err.Error()})
			continue
		}
		trades = append(trades, t)
	}
	return trades, nil
}

func toTrade(row map[string]string, platformID int64) (model.Trade, error) {
	t := model.Trade{Ticker: row[FieldTicker], PlatformID: platformID}

	if platformID == 0 {
		id, err := strconv.ParseInt(row[FieldPlatformID], 10, 64)
		if err != nil {
			return t, model.Invalid("platform_id", "must be an integer")
		}
		t.PlatformID = id
	}

	var err error
	if t.Date, err = parseDate(row[FieldDate]); err != nil {
		return t, model.Invalid("date", "unrecognized date "+strconv.Quote(row[FieldDate]))
	}
	if t.Price, err = parseAmount(row[FieldPrice]); err != nil {
		return t, model.Invalid("price", "not a number")
	}
	if t.Quantity, err = parseAmount(row[FieldQuantity]); err != nil {
		return t, model.Invalid("quantity", "not a number")
	}

	side, ok := parseSide(row[FieldTradeType])
	switch {
	case ok:
		t.TradeType = side
	case row[FieldTradeType] == "" && t.Quantity.IsNegative():
		t.TradeType = model.Sell
	case row[FieldTradeType] == "":
		t.TradeType = model.Buy
	default:
		t.TradeType = model.TradeType(row[FieldTradeType])
	}
	// Some brokers export sells as negative quantities.
	t.Quantity = t.Quantity.Abs()
	return t, nil
}

var dateLayouts = []string{
	model.DateLayout,
	"2006-01-02 15:04:05",
	time.RFC3339,
	"01/02/2006",
	"1/2/2006",
	"2006/01/02",
}

func parseDate(s string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return model.Day(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("importer: unrecognized date %q", s)
}

func parseAmount(s string) (decimal.Decimal, error) {
	s = strings.NewReplacer("$", "", ",", "", " ", "").Replace(s)
	if strings.HasPrefix(s, "(") && strings.HasSuffix(s, ")") {
		s = "-" + strings.Trim(s, "()")
	}
	return decimal.NewFromString(s)
}

func parseSide(s string) (model.TradeType, bool) {
	switch strings.ToLower(s) {
	case "buy", "b", "bought", "bot":
		return model.Buy, true
	case "sell", "s", "sold", "sld":
		return model.Sell, true
	}
	return "", false
}
