package matcher

import (
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/ledger-engine/internal/model"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func day(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, n)
}

var key = model.Key{Ticker: "X", PlatformID: 1}

func tr(id int64, side model.TradeType, qty, price string, dayN int) model.Trade {
	return model.Trade{
		ID:         id,
		Ticker:     key.Ticker,
		PlatformID: key.PlatformID,
		Price:      d(price),
		Quantity:   d(qty),
		Date:       day(dayN),
		TradeType:  side,
	}
}

func assertDec(t *testing.T, want string, got decimal.Decimal, msgAndArgs ...interface{}) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s %v", want, got, msgAndArgs)
}

func assertConservation(t *testing.T, positions []model.Position) {
	t.Helper()
	for _, p := range positions {
		if p.Status != model.PositionClosed {
			assert.False(t, p.ProfitLoss.Valid, "open position must not carry profit_loss")
			continue
		}
		want := p.ExitPrice.Decimal.Sub(p.EntryPrice).Mul(p.Quantity).Mul(p.TradeType.Sign())
		assert.Truef(t, want.Equal(p.ProfitLoss.Decimal), "conservation violated: %+v", p)
	}
}

func countOpen(positions []model.Position) int {
	n := 0
	for _, p := range positions {
		if p.Status == model.PositionOpen {
			n++
		}
	}
	return n
}

func TestMatch_PartialThenFullClose(t *testing.T) {
	m := New(Options{AllowShort: true})
	ps, err := m.Match(key, []model.Trade{
		tr(1, model.Buy, "10", "50", 0),
		tr(2, model.Sell, "4", "60", 1),
		tr(3, model.Sell, "6", "55", 2),
	})
	require.NoError(t, err)
	require.Len(t, ps, 2)

	assert.Equal(t, model.PositionClosed, ps[0].Status)
	assertDec(t, "4", ps[0].Quantity)
	assertDec(t, "50", ps[0].EntryPrice)
	assertDec(t, "60", ps[0].ExitPrice.Decimal)
	assertDec(t, "40", ps[0].ProfitLoss.Decimal)

	assertDec(t, "6", ps[1].Quantity)
	assertDec(t, "55", ps[1].ExitPrice.Decimal)
	assertDec(t, "30", ps[1].ProfitLoss.Decimal)
	assert.Equal(t, day(0), ps[1].EntryDate)
	assert.Equal(t, day(2), *ps[1].ExitDate)

	assert.Equal(t, 0, countOpen(ps))
	assertConservation(t, ps)
}

func TestMatch_PartialCloseLeavesOpenRemainder(t *testing.T) {
	m := New(Options{AllowShort: true})
	ps, err := m.Match(key, []model.Trade{
		tr(1, model.Buy, "10", "50", 0),
		tr(2, model.Sell, "4", "60", 1),
	})
	require.NoError(t, err)
	require.Len(t, ps, 2)

	open := ps[1]
	assert.Equal(t, model.PositionOpen, open.Status)
	assert.Equal(t, model.Buy, open.TradeType)
	assertDec(t, "6", open.Quantity)
	assertDec(t, "50", open.EntryPrice)
	assert.False(t, open.ExitPrice.Valid)
	assert.Nil(t, open.ExitDate)
}

func TestMatch_WeightedAverageCost(t *testing.T) {
	m := New(Options{})
	ps, err := m.Match(key, []model.Trade{
		tr(1, model.Buy, "10", "50", 0),
		tr(2, model.Buy, "10", "60", 1),
	})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assertDec(t, "55", ps[0].EntryPrice)
	assertDec(t, "20", ps[0].Quantity)
	assert.Equal(t, day(0), ps[0].EntryDate)
}

func TestMatch_WeightedCostRounding(t *testing.T) {
	m := New(Options{})
	ps, err := m.Match(key, []model.Trade{
		tr(1, model.Buy, "1", "10", 0),
		tr(2, model.Buy, "2", "11", 0),
	})
	require.NoError(t, err)
	assertDec(t, "10.6666666667", ps[0].EntryPrice)
}

func TestMatch_CostUnchangedByReduction(t *testing.T) {
	m := New(Options{})
	ps, err := m.Match(key, []model.Trade{
		tr(1, model.Buy, "10", "50", 0),
		tr(2, model.Sell, "4", "60", 1),
		tr(3, model.Buy, "4", "70", 2),
		tr(4, model.Sell, "10", "55", 3),
	})
	require.NoError(t, err)
	require.Len(t, ps, 2)
	// After the reduction 6 shares at 50 remain; adding 4 at 70 gives 58.
	assertDec(t, "58", ps[1].EntryPrice)
	assertDec(t, "-30", ps[1].ProfitLoss.Decimal)
	assertConservation(t, ps)
}

func TestMatch_OvershootFlipsDirection(t *testing.T) {
	m := New(Options{AllowShort: true})
	ps, err := m.Match(key, []model.Trade{
		tr(1, model.Buy, "10", "50", 0),
		tr(2, model.Sell, "15", "60", 1),
	})
	require.NoError(t, err)
	require.Len(t, ps, 2)

	closed := ps[0]
	assert.Equal(t, model.PositionClosed, closed.Status)
	assertDec(t, "10", closed.Quantity)
	assertDec(t, "100", closed.ProfitLoss.Decimal)

	short := ps[1]
	assert.Equal(t, model.PositionOpen, short.Status)
	assert.Equal(t, model.Sell, short.TradeType)
	assertDec(t, "5", short.Quantity)
	assertDec(t, "60", short.EntryPrice)
	assert.Equal(t, day(1), short.EntryDate)
}

func TestMatch_OvershootResidualNotDoubleCounted(t *testing.T) {
	m := New(Options{AllowShort: true})
	ps, err := m.Match(key, []model.Trade{
		tr(1, model.Buy, "10", "50", 0),
		tr(2, model.Sell, "15", "60", 1),
		tr(3, model.Buy, "5", "55", 2),
	})
	require.NoError(t, err)
	require.Len(t, ps, 2)

	// The short 5 opened at 60 and covered at 55 earns 25.
	assert.Equal(t, model.Sell, ps[1].TradeType)
	assertDec(t, "25", ps[1].ProfitLoss.Decimal)
	assertDec(t, "5", ps[1].Quantity)
	assert.Equal(t, 0, countOpen(ps))

	total := ps[0].ProfitLoss.Decimal.Add(ps[1].ProfitLoss.Decimal)
	// Cash identity: -500 + 900 - 275 = 125.
	assertDec(t, "125", total)
	assertConservation(t, ps)
}

func TestMatch_ShortDisabled(t *testing.T) {
	m := New(Options{AllowShort: false})

	_, err := m.Match(key, []model.Trade{tr(1, model.Sell, "1", "10", 0)})
	var ile *model.InconsistentLedgerError
	require.True(t, errors.As(err, &ile))
	assert.Equal(t, int64(1), ile.TradeID)

	_, err = m.Match(key, []model.Trade{
		tr(1, model.Buy, "1", "10", 0),
		tr(2, model.Sell, "2", "10", 1),
	})
	require.True(t, errors.As(err, &ile))
	assert.Equal(t, int64(2), ile.TradeID)
}

func TestMatch_ZeroQuantityRejected(t *testing.T) {
	m := New(Options{AllowShort: true})
	_, err := m.Match(key, []model.Trade{
		tr(1, model.Buy, "10", "50", 0),
		tr(2, model.Sell, "0", "55", 1),
	})
	var ile *model.InconsistentLedgerError
	require.True(t, errors.As(err, &ile))
	assert.Contains(t, ile.Reason, "quantity")
}

func TestMatch_NonPositivePriceRejected(t *testing.T) {
	m := New(Options{AllowShort: true})
	_, err := m.Match(key, []model.Trade{tr(1, model.Buy, "10", "0", 0)})
	var ile *model.InconsistentLedgerError
	require.True(t, errors.As(err, &ile))
}

func TestMatch_SameDayOrderedByID(t *testing.T) {
	m := New(Options{AllowShort: false})
	// Insertion order lists the sell first; id order makes it valid.
	ps, err := m.Match(key, []model.Trade{
		tr(2, model.Sell, "5", "12", 0),
		tr(1, model.Buy, "5", "10", 0),
	})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assertDec(t, "10", ps[0].ProfitLoss.Decimal)
}

func TestMatch_SyntheticTradesAfterLedgerTradesSameDay(t *testing.T) {
	m := New(Options{AllowShort: false})
	exercise := tr(0, model.Sell, "100", "45", 3)
	exercise.OptionID = 7
	ps, err := m.Match(key, []model.Trade{
		exercise,
		tr(9, model.Buy, "100", "40", 3),
	})
	require.NoError(t, err)
	require.Len(t, ps, 1)
	assertDec(t, "500", ps[0].ProfitLoss.Decimal)
}

func TestMatch_InsertionOrderIndependent(t *testing.T) {
	m := New(Options{AllowShort: true})
	trades := []model.Trade{
		tr(1, model.Buy, "10", "50", 0),
		tr(2, model.Buy, "5", "52", 0),
		tr(3, model.Sell, "12", "55", 1),
		tr(4, model.Sell, "8", "51", 1),
		tr(5, model.Buy, "7", "49.5", 2),
		tr(6, model.Sell, "1.5", "50.25", 3),
	}
	want, err := m.Match(key, trades)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 20; i++ {
		shuffled := append([]model.Trade(nil), trades...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got, err := m.Match(key, shuffled)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	assertConservation(t, want)
	assert.LessOrEqual(t, countOpen(want), 1)
}

func TestMatchAll_AtMostOneOpenPerGroup(t *testing.T) {
	m := New(Options{AllowShort: true})
	var trades []model.Trade
	id := int64(0)
	for _, ticker := range []string{"AAA", "BBB"} {
		for platform := int64(1); platform <= 2; platform++ {
			for i := 0; i < 6; i++ {
				id++
				side := model.Buy
				if i%3 == 2 {
					side = model.Sell
				}
				trades = append(trades, model.Trade{
					ID: id, Ticker: ticker, PlatformID: platform,
					Price: d("10").Add(decimal.NewFromInt(int64(i))), Quantity: d("4"),
					Date: day(i), TradeType: side,
				})
			}
		}
	}
	ps, err := m.MatchAll(trades)
	require.NoError(t, err)

	open := make(map[model.Key]int)
	for _, p := range ps {
		if p.Status == model.PositionOpen {
			open[model.Key{Ticker: p.Ticker, PlatformID: p.PlatformID}]++
		}
	}
	assert.Len(t, open, 4)
	for k, n := range open {
		assert.Equalf(t, 1, n, "group %v", k)
	}
	assertConservation(t, ps)
}
