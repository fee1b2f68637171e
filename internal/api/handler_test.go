package api_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/api"
	"github.com/atmx/ledger-engine/internal/importer"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/reconcile"
	"github.com/atmx/ledger-engine/internal/report"
	"github.com/atmx/ledger-engine/internal/store"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

type testEnv struct {
	svc    *reconcile.Service
	router http.Handler
}

// newTestEnv wires the full router over an in-memory store.
func newTestEnv(t *testing.T, allowShort bool) *testEnv {
	t.Helper()
	svc := reconcile.NewService(store.NewMemoryStore(), reconcile.Options{AllowShort: allowShort})
	reports := report.NewReporter(svc, 0)
	svc.Observe(reports)
	imp := importer.New(svc, importer.DefaultMappings(), importer.Options{BatchesPerSec: 1000})
	h := api.NewHandler(svc, reports, imp)
	return &testEnv{svc: svc, router: api.NewRouter(h, nil, api.RouterOptions{})}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) platform(t *testing.T, name string) int64 {
	t.Helper()
	w := e.do(t, "POST", "/api/v1/platforms", api.CreatePlatformRequest{Name: name})
	if w.Code != http.StatusCreated {
		t.Fatalf("create platform: expected 201, got %d: %s", w.Code, w.Body.String())
	}
	var p model.Platform
	json.Unmarshal(w.Body.Bytes(), &p)
	return p.ID
}

func tradeReq(pid int64, side, price, qty, date string) api.TradeRequest {
	return api.TradeRequest{
		Ticker: "X", PlatformID: pid, TradeType: side,
		Price: d(price), Quantity: d(qty), Date: date,
	}
}

func expectStatus(t *testing.T, w *httptest.ResponseRecorder, want int) {
	t.Helper()
	if w.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, w.Code, w.Body.String())
	}
}

// --- Ledger writes ---

func TestRecordTrade_DerivesPositionsAndCash(t *testing.T) {
	e := newTestEnv(t, true)
	pid := e.platform(t, "Alpaca")

	w := e.do(t, "POST", "/api/v1/cash-flows", api.CashFlowRequest{
		PlatformID: pid, FlowType: "deposit", Amount: d("1000"), FlowDate: "2024-01-01",
	})
	expectStatus(t, w, http.StatusCreated)

	w = e.do(t, "POST", "/api/v1/trades", tradeReq(pid, "buy", "50", "10", "2024-01-02"))
	expectStatus(t, w, http.StatusCreated)
	var resp api.TradeResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Trade.ID == 0 {
		t.Error("expected trade id to be assigned")
	}
	if resp.Reconcile.Open != 1 {
		t.Errorf("expected 1 open position after buy, got %d", resp.Reconcile.Open)
	}

	for _, req := range []api.TradeRequest{
		tradeReq(pid, "sell", "60", "4", "2024-01-03"),
		tradeReq(pid, "sell", "55", "6", "2024-01-04"),
	} {
		expectStatus(t, e.do(t, "POST", "/api/v1/trades", req), http.StatusCreated)
	}

	w = e.do(t, "GET", fmt.Sprintf("/api/v1/platforms/%d/cash", pid), nil)
	expectStatus(t, w, http.StatusOK)
	var cash struct {
		Cash decimal.Decimal `json:"cash_available"`
	}
	json.Unmarshal(w.Body.Bytes(), &cash)
	if !cash.Cash.Equal(d("1070")) {
		t.Errorf("expected cash 1070, got %s", cash.Cash)
	}

	w = e.do(t, "GET", fmt.Sprintf("/api/v1/positions/closed?platform_id=%d", pid), nil)
	expectStatus(t, w, http.StatusOK)
	var closed []model.Position
	json.Unmarshal(w.Body.Bytes(), &closed)
	if len(closed) != 2 {
		t.Fatalf("expected 2 closed positions, got %d", len(closed))
	}

	w = e.do(t, "GET", "/api/v1/positions/open", nil)
	expectStatus(t, w, http.StatusOK)
	if strings.TrimSpace(w.Body.String()) != "[]" {
		t.Errorf("expected empty open positions, got %s", w.Body.String())
	}

	w = e.do(t, "GET", "/api/v1/pnl/realized?from=2024-01-01&to=2024-01-31", nil)
	expectStatus(t, w, http.StatusOK)
	var realized map[string]decimal.Decimal
	json.Unmarshal(w.Body.Bytes(), &realized)
	if !realized["realized_pnl"].Equal(d("70")) {
		t.Errorf("expected realized 70, got %s", realized["realized_pnl"])
	}
}

func TestRecordTrade_ValidationErrors(t *testing.T) {
	e := newTestEnv(t, true)
	pid := e.platform(t, "Alpaca")

	tests := []struct {
		name string
		req  api.TradeRequest
	}{
		{"zero quantity", tradeReq(pid, "buy", "10", "0", "2024-01-01")},
		{"negative price", tradeReq(pid, "buy", "-1", "1", "2024-01-01")},
		{"bad side", tradeReq(pid, "hold", "10", "1", "2024-01-01")},
		{"missing date", tradeReq(pid, "buy", "10", "1", "")},
		{"bad date", tradeReq(pid, "buy", "10", "1", "01/02/2024")},
		{"unknown platform", tradeReq(pid+100, "buy", "10", "1", "2024-01-01")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			expectStatus(t, e.do(t, "POST", "/api/v1/trades", tt.req), http.StatusBadRequest)
		})
	}

	req := httptest.NewRequest("POST", "/api/v1/trades", strings.NewReader("{not json"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestRecordTrade_ShortDisabledIsUnprocessable(t *testing.T) {
	e := newTestEnv(t, false)
	pid := e.platform(t, "Alpaca")

	w := e.do(t, "POST", "/api/v1/trades", tradeReq(pid, "sell", "10", "5", "2024-01-01"))
	expectStatus(t, w, http.StatusUnprocessableEntity)

	trades, err := e.svc.Trades(context.Background(), store.TradeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 0 {
		t.Errorf("rejected trade must not be stored, found %d", len(trades))
	}
}

func TestCreatePlatform_DuplicateConflicts(t *testing.T) {
	e := newTestEnv(t, true)
	e.platform(t, "Alpaca")
	expectStatus(t, e.do(t, "POST", "/api/v1/platforms", api.CreatePlatformRequest{Name: "Alpaca"}), http.StatusConflict)
	expectStatus(t, e.do(t, "POST", "/api/v1/platforms", api.CreatePlatformRequest{Name: " "}), http.StatusBadRequest)
}

func TestGetCash_UnknownPlatform(t *testing.T) {
	e := newTestEnv(t, true)
	expectStatus(t, e.do(t, "GET", "/api/v1/platforms/42/cash", nil), http.StatusNotFound)
	expectStatus(t, e.do(t, "GET", "/api/v1/platforms/abc/cash", nil), http.StatusBadRequest)
}

// --- Options ---

func TestOptionLifecycle(t *testing.T) {
	e := newTestEnv(t, true)
	pid := e.platform(t, "Alpaca")

	w := e.do(t, "POST", "/api/v1/options", api.OptionRequest{
		Ticker: "AAPL", PlatformID: pid, Strategy: "call",
		StrikePrice: d("150"), ExpiryDate: "2024-02-16", TradeDate: "2024-01-02",
		TransactionType: "credit", OpenPrice: d("2.00"), OpenFee: d("0.05"),
	})
	expectStatus(t, w, http.StatusCreated)
	var opt model.OptionTrade
	json.Unmarshal(w.Body.Bytes(), &opt)

	path := fmt.Sprintf("/api/v1/options/%d/", opt.ID)

	// Closing without a price must not book a $0 buy-back.
	w = e.do(t, "POST", path+"close", api.OptionTransitionRequest{CloseFee: d("0.05"), CloseDate: "2024-01-10"})
	expectStatus(t, w, http.StatusBadRequest)
	if !strings.Contains(w.Body.String(), "option_close_price") {
		t.Errorf("expected error naming option_close_price, got %s", w.Body.String())
	}
	w = e.do(t, "GET", "/api/v1/options?status=open", nil)
	expectStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), `"status":"open"`) {
		t.Errorf("option should still be open after a rejected close: %s", w.Body.String())
	}

	w = e.do(t, "POST", path+"close", api.OptionTransitionRequest{
		ClosePrice: decimal.NewNullDecimal(d("0.50")), CloseFee: d("0.05"), CloseDate: "2024-01-10",
	})
	expectStatus(t, w, http.StatusOK)
	json.Unmarshal(w.Body.Bytes(), &opt)
	if opt.Status != model.OptionClosed {
		t.Errorf("expected closed, got %s", opt.Status)
	}
	if !opt.ProfitLoss.Decimal.Equal(d("1.40")) {
		t.Errorf("expected P&L 1.40, got %s", opt.ProfitLoss.Decimal)
	}

	// Terminal options cannot transition again.
	w = e.do(t, "POST", path+"expire", api.OptionTransitionRequest{CloseDate: "2024-02-16"})
	expectStatus(t, w, http.StatusConflict)

	w = e.do(t, "POST", path+"roll", api.OptionTransitionRequest{CloseDate: "2024-02-16"})
	expectStatus(t, w, http.StatusNotFound)

	w = e.do(t, "POST", "/api/v1/options/999/close", api.OptionTransitionRequest{
		ClosePrice: decimal.NewNullDecimal(d("1")), CloseDate: "2024-02-16",
	})
	expectStatus(t, w, http.StatusNotFound)

	w = e.do(t, "GET", "/api/v1/options?status=closed", nil)
	expectStatus(t, w, http.StatusOK)
	var list api.OptionListResponse
	json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Options) != 1 || list.Summary.Closed != 1 {
		t.Errorf("expected 1 closed option in listing, got %+v", list.Summary)
	}
}

// --- Reconcile and P&L ---

func TestReconcile_EmptyBodyReconcilesEverything(t *testing.T) {
	e := newTestEnv(t, true)
	pid := e.platform(t, "Alpaca")
	expectStatus(t, e.do(t, "POST", "/api/v1/trades", tradeReq(pid, "buy", "10", "5", "2024-01-02")), http.StatusCreated)

	req := httptest.NewRequest("POST", "/api/v1/reconcile", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusOK)

	var res reconcile.Result
	json.Unmarshal(w.Body.Bytes(), &res)
	if res.Changed != 0 {
		t.Errorf("ledger already reconciled, expected 0 changed groups, got %d", res.Changed)
	}
	if res.Open != 1 {
		t.Errorf("expected 1 open position, got %d", res.Open)
	}

	w = e.do(t, "POST", "/api/v1/reconcile", api.ReconcileRequest{PlatformID: &pid, Ticker: "x"})
	expectStatus(t, w, http.StatusOK)
}

func TestUnrealizedPnL_MissingPriceWarns(t *testing.T) {
	e := newTestEnv(t, true)
	pid := e.platform(t, "Alpaca")
	expectStatus(t, e.do(t, "POST", "/api/v1/trades", tradeReq(pid, "buy", "10", "5", "2024-01-02")), http.StatusCreated)
	y := tradeReq(pid, "buy", "20", "1", "2024-01-02")
	y.Ticker = "Y"
	expectStatus(t, e.do(t, "POST", "/api/v1/trades", y), http.StatusCreated)

	w := e.do(t, "POST", "/api/v1/pnl/unrealized", api.UnrealizedRequest{
		Prices: map[string]decimal.Decimal{"X": d("12")},
	})
	expectStatus(t, w, http.StatusOK)

	var resp struct {
		Total   decimal.Decimal `json:"total"`
		Warning string          `json:"warning"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !resp.Total.Equal(d("10")) {
		t.Errorf("expected partial total 10, got %s", resp.Total)
	}
	if !strings.Contains(resp.Warning, "Y") {
		t.Errorf("expected warning naming Y, got %q", resp.Warning)
	}
}

func TestUnrealizedPnL_PortfolioSummary(t *testing.T) {
	e := newTestEnv(t, true)
	alpaca := e.platform(t, "Alpaca")
	robinhood := e.platform(t, "Robinhood")
	expectStatus(t, e.do(t, "POST", "/api/v1/trades", tradeReq(alpaca, "buy", "10", "5", "2024-01-02")), http.StatusCreated)
	expectStatus(t, e.do(t, "POST", "/api/v1/trades", tradeReq(robinhood, "buy", "20", "5", "2024-01-02")), http.StatusCreated)

	w := e.do(t, "POST", "/api/v1/pnl/unrealized", api.UnrealizedRequest{
		Prices: map[string]decimal.Decimal{"X": d("12")},
	})
	expectStatus(t, w, http.StatusOK)

	var resp api.UnrealizedResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Holdings) != 2 {
		t.Fatalf("expected 2 holdings, got %d", len(resp.Holdings))
	}
	if h := resp.Holdings[0]; h.PlatformID != alpaca || !h.Cost.Equal(d("50")) || !h.Value.Equal(d("60")) || !h.Pct.Equal(d("20")) {
		t.Errorf("unexpected Alpaca holding: %+v", h)
	}
	if len(resp.Platforms) != 3 {
		t.Fatalf("expected two platforms and a total row, got %d", len(resp.Platforms))
	}
	if resp.Platforms[0].Platform != "Alpaca" || resp.Platforms[1].Platform != "Robinhood" {
		t.Errorf("expected platform names, got %q and %q", resp.Platforms[0].Platform, resp.Platforms[1].Platform)
	}
	total := resp.Platforms[2]
	if total.Platform != "Total" || !total.Cost.Equal(d("150")) || !total.Value.Equal(d("120")) || !total.Unrealized.Equal(d("-30")) {
		t.Errorf("unexpected total row: %+v", total)
	}
	if !total.Pct.Equal(d("-20")) {
		t.Errorf("expected -20%% overall, got %s", total.Pct)
	}
}

// --- Reports ---

func TestReports(t *testing.T) {
	e := newTestEnv(t, true)
	pid := e.platform(t, "Alpaca")
	for _, req := range []api.TradeRequest{
		tradeReq(pid, "buy", "50", "10", "2024-01-02"),
		tradeReq(pid, "sell", "60", "10", "2024-01-03"),
	} {
		expectStatus(t, e.do(t, "POST", "/api/v1/trades", req), http.StatusCreated)
	}

	w := e.do(t, "GET", "/api/v1/reports/monthly", nil)
	expectStatus(t, w, http.StatusOK)
	var rows []report.PeriodRow
	json.Unmarshal(w.Body.Bytes(), &rows)
	if len(rows) != 1 || !rows[0].TotalPnL.Equal(d("100")) {
		t.Fatalf("expected one month with 100 realized, got %+v", rows)
	}

	// A later trade must flush the cached report.
	expectStatus(t, e.do(t, "POST", "/api/v1/trades", tradeReq(pid, "buy", "50", "1", "2024-02-01")), http.StatusCreated)
	expectStatus(t, e.do(t, "POST", "/api/v1/trades", tradeReq(pid, "sell", "55", "1", "2024-02-02")), http.StatusCreated)
	w = e.do(t, "GET", "/api/v1/reports/monthly", nil)
	json.Unmarshal(w.Body.Bytes(), &rows)
	if len(rows) != 2 {
		t.Fatalf("expected cache flush to surface second month, got %d rows", len(rows))
	}

	for _, kind := range []string{"weekly", "taxes", "cash-flows"} {
		expectStatus(t, e.do(t, "GET", "/api/v1/reports/"+kind, nil), http.StatusOK)
	}
	expectStatus(t, e.do(t, "GET", "/api/v1/reports/yearly", nil), http.StatusNotFound)
}

// --- Import ---

func TestImport_Multipart(t *testing.T) {
	e := newTestEnv(t, true)
	pid := e.platform(t, "Alpaca")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", "trades.csv")
	if err != nil {
		t.Fatal(err)
	}
	fmt.Fprintf(part, "ticker,price,quantity,date,trade_type\nX,10,5,2024-01-02,buy\nX,12,5,2024-01-03,sell\n")
	mw.Close()

	req := httptest.NewRequest("POST", "/api/v1/import/Alpaca", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusOK)

	var rep importer.Report
	json.Unmarshal(w.Body.Bytes(), &rep)
	if rep.Imported != 2 {
		t.Errorf("expected 2 imported rows, got %d", rep.Imported)
	}

	realized, err := e.svc.RealizedPnL(context.Background(), &pid, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !realized.Equal(d("10")) {
		t.Errorf("expected realized 10 after import, got %s", realized)
	}

	w = e.do(t, "GET", "/api/v1/import/last", nil)
	expectStatus(t, w, http.StatusOK)
	if strings.Contains(w.Body.String(), "null") {
		t.Errorf("expected last import timestamp, got %s", w.Body.String())
	}
}

func TestImport_UnknownPlatform(t *testing.T) {
	e := newTestEnv(t, true)
	req := httptest.NewRequest("POST", "/api/v1/import/Nowhere", strings.NewReader("ticker\n"))
	req.Header.Set("Content-Type", "text/csv")
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	expectStatus(t, w, http.StatusBadRequest)
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, true)
	w := e.do(t, "GET", "/health", nil)
	expectStatus(t, w, http.StatusOK)
	if !strings.Contains(w.Body.String(), "ledger-engine") {
		t.Errorf("unexpected health body: %s", w.Body.String())
	}
}
