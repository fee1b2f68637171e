package importer_test

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/ledger-engine/internal/importer"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/reconcile"
	"github.com/atmx/ledger-engine/internal/store"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

const robinhoodMapping = `{
  "Robinhood": {"Symbol": "ticker", "Activity Date": "date", "Price": "price", "Quantity": "quantity", "Trans Code": "trade_type", "Description": ""},
  "OTHER": {"ticker": "ticker", "platform_id": "platform_id", "price": "price", "quantity": "quantity", "date": "date", "trade_type": "trade_type"}
}`

func setup(t *testing.T) (*reconcile.Service, *importer.Importer, int64) {
	t.Helper()
	svc := reconcile.NewService(store.NewMemoryStore(), reconcile.Options{AllowShort: true})
	p, err := svc.CreatePlatform(context.Background(), "Robinhood")
	require.NoError(t, err)
	mappings, err := importer.ParseMappings([]byte(robinhoodMapping))
	require.NoError(t, err)
	im := importer.New(svc, mappings, importer.Options{BatchSize: 2, BatchesPerSec: 1000})
	return svc, im, p.ID
}

func TestImport_MappedPlatform(t *testing.T) {
	ctx := context.Background()
	svc, im, pid := setup(t)

	csv := strings.Join([]string{
		"Activity Date,Symbol,Description,Trans Code,Quantity,Price",
		"01/02/2024,aapl,Apple Inc,Buy,10,$150.00",
		"01/03/2024,AAPL,Apple Inc,Sell,4,\"$1,160.00\"",
		"01/03/2024,,Interest,INT,,",
		"01/04/2024,MSFT,Microsoft,Buy,abc,300",
		"2024-01-05,MSFT,Microsoft,BOT,2,300",
	}, "\n")

	report, err := im.Import(ctx, "Robinhood", strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 5, report.Rows)
	assert.Equal(t, 3, report.Imported)
	assert.Equal(t, 1, report.Skipped)
	require.Len(t, report.Rejected, 1)
	assert.Equal(t, 5, report.Rejected[0].Line)
	assert.Equal(t, 2, report.Batches)
	require.NotNil(t, report.Reconcile)
	assert.Equal(t, 2, report.Reconcile.Groups)

	open, err := svc.OpenPositions(ctx, &pid)
	require.NoError(t, err)
	require.Len(t, open, 2)
	assert.Equal(t, "AAPL", open[0].Ticker)
	assert.True(t, d("6").Equal(open[0].Quantity))

	realized, err := svc.RealizedPnL(ctx, &pid, nil)
	require.NoError(t, err)
	assert.True(t, d("4040").Equal(realized), "got %s", realized)

	last, err := svc.LastImport(ctx)
	require.NoError(t, err)
	assert.False(t, last.IsZero())
}

func TestImport_OtherCarriesPlatformColumn(t *testing.T) {
	ctx := context.Background()
	svc, im, pid := setup(t)

	csv := "ticker,platform_id,price,quantity,date,trade_type\n" +
		"X," + strconv.FormatInt(pid, 10) + ",10,-5,2024-02-01,\n"

	report, err := im.Import(ctx, "OTHER", strings.NewReader(csv))
	require.NoError(t, err)
	assert.Equal(t, 1, report.Imported)

	trades, err := svc.Trades(ctx, store.TradeFilter{})
	require.NoError(t, err)
	require.Len(t, trades, 1)
	assert.Equal(t, model.Sell, trades[0].TradeType, "negative quantity without a side is a sell")
	assert.True(t, d("5").Equal(trades[0].Quantity))
}

func TestImport_UnknownPlatform(t *testing.T) {
	_, im, _ := setup(t)
	_, err := im.Import(context.Background(), "Nope", strings.NewReader("ticker,date\n"))
	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "platform", ve.Field)
}

func TestImport_NoValidRowsWritesNothing(t *testing.T) {
	ctx := context.Background()
	svc, im, _ := setup(t)

	report, err := im.Import(ctx, "Robinhood", strings.NewReader("Symbol,Activity Date\n,2024-01-01\nX,\n"))
	require.NoError(t, err)
	assert.Equal(t, 2, report.Skipped)
	assert.Nil(t, report.Reconcile)

	last, err := svc.LastImport(ctx)
	require.NoError(t, err)
	assert.True(t, last.IsZero())
}

func TestImport_FailedBatchStillReconcilesCommitted(t *testing.T) {
	ctx := context.Background()
	svc := reconcile.NewService(store.NewMemoryStore(), reconcile.Options{AllowShort: false})
	p, err := svc.CreatePlatform(ctx, "Robinhood")
	require.NoError(t, err)
	mappings, err := importer.ParseMappings([]byte(robinhoodMapping))
	require.NoError(t, err)
	im := importer.New(svc, mappings, importer.Options{BatchSize: 1, BatchesPerSec: 1000})

	csv := "Symbol,Activity Date,Trans Code,Quantity,Price\n" +
		"X,2024-01-01,Buy,1,10\n" +
		"Y,2024-01-01,Sell,1,10\n"

	report, err := im.Import(ctx, "Robinhood", strings.NewReader(csv))
	var ile *model.InconsistentLedgerError
	require.True(t, errors.As(err, &ile))
	assert.Equal(t, 1, report.Imported)
	require.NotNil(t, report.Reconcile)

	open, err := svc.OpenPositions(ctx, &p.ID)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "X", open[0].Ticker)
}

func TestParseMappings_RejectsUnknownField(t *testing.T) {
	_, err := importer.ParseMappings([]byte(`{"Robinhood": {"Symbol": "symbol"}}`))
	require.Error(t, err)

	m, err := importer.ParseMappings([]byte(`{"Robinhood": {"Symbol": "ticker"}}`))
	require.NoError(t, err)
	assert.Equal(t, "ticker", m.For("Robinhood")["Symbol"])
	assert.Equal(t, "date", m.For("Webull")["date"], "unknown platforms fall back to OTHER")
}
