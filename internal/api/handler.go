// Package api exposes the ledger engine over HTTP: ledger writes,
// reconciliation, position and P&L queries, reports and CSV import.
//
// All monetary values are shopspring/decimal, encoded as JSON strings.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/importer"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/options"
	"github.com/atmx/ledger-engine/internal/pnl"
	"github.com/atmx/ledger-engine/internal/reconcile"
	"github.com/atmx/ledger-engine/internal/report"
	"github.com/atmx/ledger-engine/internal/store"
)

// MaxUploadBytes bounds a CSV upload.
const MaxUploadBytes = 10 << 20

// Handler serves the engine's HTTP endpoints.
type Handler struct {
	engine   *reconcile.Service
	reports  *report.Reporter
	importer *importer.Importer
}

// NewHandler creates the HTTP handlers.
func NewHandler(engine *reconcile.Service, reports *report.Reporter, imp *importer.Importer) *Handler {
	return &Handler{engine: engine, reports: reports, importer: imp}
}

// --- Request/Response types ---

// CreatePlatformRequest is the JSON body for POST /platforms.
type CreatePlatformRequest struct {
	Name string `json:"name"`
}

// TradeRequest is the JSON body for POST /trades.
type TradeRequest struct {
	Ticker     string          `json:"ticker"`
	PlatformID int64           `json:"platform_id"`
	Price      decimal.Decimal `json:"price"`
	Quantity   decimal.Decimal `json:"quantity"`
	Date       string          `json:"date"` // YYYY-MM-DD
	TradeType  string          `json:"trade_type"`
}

// TradeResponse is returned from POST /trades.
type TradeResponse struct {
	Trade     model.Trade      `json:"trade"`
	Reconcile reconcile.Result `json:"reconcile"`
}

// CashFlowRequest is the JSON body for POST /cash-flows.
type CashFlowRequest struct {
	PlatformID int64           `json:"platform_id"`
	FlowType   string          `json:"flow_type"`
	Amount     decimal.Decimal `json:"amount"`
	FlowDate   string          `json:"flow_date"`
	Notes      string          `json:"notes"`
}

// OptionRequest is the JSON body for POST /options.
type OptionRequest struct {
	Ticker          string          `json:"ticker"`
	PlatformID      int64           `json:"platform_id"`
	Strategy        string          `json:"strategy"`
	StrikePrice     decimal.Decimal `json:"strike_price"`
	ExpiryDate      string          `json:"expiry_date"`
	TradeDate       string          `json:"trade_date"`
	TransactionType string          `json:"transaction_type"`
	OpenPrice       decimal.Decimal `json:"option_open_price"`
	OpenFee         decimal.Decimal `json:"open_fee"`
	Notes           string          `json:"notes"`
}

// OptionTransitionRequest is the JSON body for closing, expiring or
// exercising an option. Price is only read by close, where it is required.
type OptionTransitionRequest struct {
	ClosePrice decimal.NullDecimal `json:"option_close_price"`
	CloseFee   decimal.Decimal     `json:"close_fee"`
	CloseDate  string              `json:"close_date"`
}

// OptionListResponse is returned from GET /options.
type OptionListResponse struct {
	Options []model.OptionTrade `json:"options"`
	Summary options.Summary     `json:"summary"`
}

// ReconcileRequest is the JSON body for POST /reconcile. An empty body
// reconciles the whole ledger.
type ReconcileRequest struct {
	PlatformID *int64 `json:"platform_id"`
	Ticker     string `json:"ticker"`
}

// UnrealizedRequest is the JSON body for POST /pnl/unrealized.
type UnrealizedRequest struct {
	PlatformID *int64                     `json:"platform_id"`
	Prices     map[string]decimal.Decimal `json:"prices"`
}

// UnrealizedResponse carries the mark-to-market and, when prices were
// missing, a warning.
type UnrealizedResponse struct {
	pnl.UnrealizedReport
	Warning string `json:"warning,omitempty"`
}

// --- Platforms ---

// ListPlatforms handles GET /api/v1/platforms
func (h *Handler) ListPlatforms(w http.ResponseWriter, r *http.Request) {
	platforms, err := h.engine.Platforms(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if platforms == nil {
		platforms = []model.Platform{}
	}
	writeJSON(w, http.StatusOK, platforms)
}

// CreatePlatform handles POST /api/v1/platforms
func (h *Handler) CreatePlatform(w http.ResponseWriter, r *http.Request) {
	var req CreatePlatformRequest
	if !decode(w, r, &req) {
		return
	}
	p, err := h.engine.CreatePlatform(r.Context(), req.Name)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// GetCash handles GET /api/v1/platforms/{platformID}/cash
func (h *Handler) GetCash(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "platformID"), 10, 64)
	if err != nil {
		writeError(w, "invalid platform id", http.StatusBadRequest)
		return
	}
	cash, err := h.engine.CashBalance(r.Context(), id)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"platform_id": id, "cash_available": cash})
}

// --- Ledger writes ---

// RecordTrade handles POST /api/v1/trades
// Appends the trade and reconciles its (ticker, platform) group.
func (h *Handler) RecordTrade(w http.ResponseWriter, r *http.Request) {
	var req TradeRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("date", req.Date)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	t, res, err := h.engine.RecordTrade(r.Context(), model.Trade{
		Ticker:     req.Ticker,
		PlatformID: req.PlatformID,
		Price:      req.Price,
		Quantity:   req.Quantity,
		Date:       date,
		TradeType:  model.TradeType(req.TradeType),
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, TradeResponse{Trade: t, Reconcile: res})
}

// ListTrades handles GET /api/v1/trades?platform_id=&ticker=
func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	pid, err := platformParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	trades, err := h.engine.Trades(r.Context(), store.TradeFilter{
		PlatformID: pid,
		Ticker:     strings.ToUpper(r.URL.Query().Get("ticker")),
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}
	writeJSON(w, http.StatusOK, trades)
}

// RecordCashFlow handles POST /api/v1/cash-flows
func (h *Handler) RecordCashFlow(w http.ResponseWriter, r *http.Request) {
	var req CashFlowRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("flow_date", req.FlowDate)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	f, err := h.engine.RecordCashFlow(r.Context(), model.CashFlow{
		PlatformID: req.PlatformID,
		FlowType:   model.FlowType(req.FlowType),
		Amount:     req.Amount,
		FlowDate:   date,
		Notes:      req.Notes,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, f)
}

// ListCashFlows handles GET /api/v1/cash-flows?platform_id=&from=&to=
func (h *Handler) ListCashFlows(w http.ResponseWriter, r *http.Request) {
	pid, err := platformParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	window, err := windowParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	flows, err := h.engine.CashFlows(r.Context(), store.CashFlowFilter{PlatformID: pid, Window: window})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if flows == nil {
		flows = []model.CashFlow{}
	}
	writeJSON(w, http.StatusOK, flows)
}

// --- Options ---

// OpenOption handles POST /api/v1/options
func (h *Handler) OpenOption(w http.ResponseWriter, r *http.Request) {
	var req OptionRequest
	if !decode(w, r, &req) {
		return
	}
	tradeDate, err := parseDate("trade_date", req.TradeDate)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	expiry, err := parseDate("expiry_date", req.ExpiryDate)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	o, err := h.engine.OpenOption(r.Context(), model.OptionTrade{
		Ticker:          req.Ticker,
		PlatformID:      req.PlatformID,
		Strategy:        model.Strategy(req.Strategy),
		StrikePrice:     req.StrikePrice,
		ExpiryDate:      expiry,
		TradeDate:       tradeDate,
		TransactionType: model.TransactionType(req.TransactionType),
		OpenPrice:       req.OpenPrice,
		OpenFee:         req.OpenFee,
		Notes:           req.Notes,
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

// ListOptions handles GET /api/v1/options?platform_id=&ticker=&status=
func (h *Handler) ListOptions(w http.ResponseWriter, r *http.Request) {
	pid, err := platformParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	q := r.URL.Query()
	opts, summary, err := h.engine.OptionTrades(r.Context(), store.OptionFilter{
		PlatformID: pid,
		Ticker:     strings.ToUpper(q.Get("ticker")),
		Status:     model.OptionStatus(strings.ToLower(q.Get("status"))),
	})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if opts == nil {
		opts = []model.OptionTrade{}
	}
	writeJSON(w, http.StatusOK, OptionListResponse{Options: opts, Summary: summary})
}

// TransitionOption handles POST /api/v1/options/{optionID}/{action}
// where action is close, expire or exercise.
func (h *Handler) TransitionOption(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "optionID"), 10, 64)
	if err != nil {
		writeError(w, "invalid option id", http.StatusBadRequest)
		return
	}
	var req OptionTransitionRequest
	if !decode(w, r, &req) {
		return
	}
	date, err := parseDate("close_date", req.CloseDate)
	if err != nil {
		writeErr(w, r, err)
		return
	}

	var o model.OptionTrade
	switch action := chi.URLParam(r, "action"); action {
	case "close":
		if !req.ClosePrice.Valid {
			writeErr(w, r, model.Invalid("option_close_price", "is required"))
			return
		}
		o, err = h.engine.CloseOption(r.Context(), id, req.ClosePrice.Decimal, req.CloseFee, date)
	case "expire":
		o, err = h.engine.ExpireOption(r.Context(), id, date)
	case "exercise":
		o, err = h.engine.ExerciseOption(r.Context(), id, req.CloseFee, date)
	default:
		writeError(w, "unknown option action: "+action, http.StatusNotFound)
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, o)
}

// --- Reconciliation and queries ---

// Reconcile handles POST /api/v1/reconcile
func (h *Handler) Reconcile(w http.ResponseWriter, r *http.Request) {
	var req ReconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	res, err := h.engine.Reconcile(r.Context(), reconcile.Scope{PlatformID: req.PlatformID, Ticker: req.Ticker})
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// OpenPositions handles GET /api/v1/positions/open?platform_id=
func (h *Handler) OpenPositions(w http.ResponseWriter, r *http.Request) {
	pid, err := platformParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	positions, err := h.engine.OpenPositions(r.Context(), pid)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// ClosedPositions handles GET /api/v1/positions/closed?platform_id=&from=&to=
func (h *Handler) ClosedPositions(w http.ResponseWriter, r *http.Request) {
	pid, err := platformParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	window, err := windowParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	positions, err := h.engine.ClosedPositions(r.Context(), pid, window)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	if positions == nil {
		positions = []model.Position{}
	}
	writeJSON(w, http.StatusOK, positions)
}

// RealizedPnL handles GET /api/v1/pnl/realized?platform_id=&from=&to=
func (h *Handler) RealizedPnL(w http.ResponseWriter, r *http.Request) {
	pid, err := platformParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	window, err := windowParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	total, err := h.engine.RealizedPnL(r.Context(), pid, window)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]decimal.Decimal{"realized_pnl": total})
}

// UnrealizedPnL handles POST /api/v1/pnl/unrealized
// Missing prices yield a partial total with a warning, not an error.
func (h *Handler) UnrealizedPnL(w http.ResponseWriter, r *http.Request) {
	var req UnrealizedRequest
	if !decode(w, r, &req) {
		return
	}
	rep, err := h.engine.UnrealizedPnL(r.Context(), req.PlatformID, req.Prices)
	resp := UnrealizedResponse{UnrealizedReport: rep}
	var stale *model.StaleDataWarning
	switch {
	case errors.As(err, &stale):
		resp.Warning = stale.Error()
	case err != nil:
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// --- Reports ---

// Report handles GET /api/v1/reports/{kind}?platform_id=
func (h *Handler) Report(w http.ResponseWriter, r *http.Request) {
	pid, err := platformParam(r)
	if err != nil {
		writeErr(w, r, err)
		return
	}
	ctx := r.Context()

	var out any
	switch kind := chi.URLParam(r, "kind"); kind {
	case report.KindWeekly:
		out, err = h.reports.Weekly(ctx, pid)
	case report.KindMonthly:
		out, err = h.reports.Monthly(ctx, pid)
	case report.KindTaxes:
		out, err = h.reports.Taxes(ctx, pid)
	case report.KindCashFlows:
		out, err = h.reports.CashFlows(ctx, pid)
	default:
		writeError(w, "unknown report: "+kind, http.StatusNotFound)
		return
	}
	if err != nil {
		writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

// --- Import ---

// Import handles POST /api/v1/import/{platform}
// The CSV is read from a multipart "file" field or the raw request body.
func (h *Handler) Import(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes)

	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			writeError(w, "missing file field", http.StatusBadRequest)
			return
		}
		defer file.Close()
		body = file
	}

	rep, err := h.importer.Import(r.Context(), chi.URLParam(r, "platform"), body)
	if err != nil && rep == nil {
		writeErr(w, r, err)
		return
	}
	if err != nil {
		// Some batches may have committed; report them alongside the error.
		status, msg := classify(err)
		slog.Warn("import partially failed", "import_id", rep.ID, "err", err)
		writeJSON(w, status, map[string]any{"error": msg, "report": rep})
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

// LastImport handles GET /api/v1/import/last
func (h *Handler) LastImport(w http.ResponseWriter, r *http.Request) {
	at, err := h.engine.LastImport(r.Context())
	if err != nil {
		writeErr(w, r, err)
		return
	}
	var v *time.Time
	if !at.IsZero() {
		v = &at
	}
	writeJSON(w, http.StatusOK, map[string]*time.Time{"last_csv_upload": v})
}

// --- Helpers ---

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

func parseDate(field, s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, model.Invalid(field, "is required")
	}
	t, err := model.ParseDay(s)
	if err != nil {
		return time.Time{}, model.Invalid(field, "must be YYYY-MM-DD")
	}
	return t, nil
}

func platformParam(r *http.Request) (*int64, error) {
	s := r.URL.Query().Get("platform_id")
	if s == "" {
		return nil, nil
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, model.Invalid("platform_id", "must be an integer")
	}
	return &id, nil
}

func windowParam(r *http.Request) (*model.DateRange, error) {
	q := r.URL.Query()
	from, to := q.Get("from"), q.Get("to")
	if from == "" && to == "" {
		return nil, nil
	}
	var window model.DateRange
	var err error
	if from != "" {
		if window.From, err = parseDate("from", from); err != nil {
			return nil, err
		}
	}
	if to != "" {
		if window.To, err = parseDate("to", to); err != nil {
			return nil, err
		}
	}
	return &window, nil
}

// classify maps engine errors onto HTTP statuses.
func classify(err error) (int, string) {
	var (
		ve  *model.ValidationError
		ile *model.InconsistentLedgerError
	)
	switch {
	case errors.As(err, &ve):
		return http.StatusBadRequest, err.Error()
	case errors.As(err, &ile):
		return http.StatusUnprocessableEntity, err.Error()
	case errors.Is(err, model.ErrNotFound):
		return http.StatusNotFound, err.Error()
	case errors.Is(err, model.ErrConflict), errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict, err.Error()
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeErr(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := classify(err)
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "err", err)
	}
	writeError(w, msg, status)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
