package options_test

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/options"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

var (
	tradeDay = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	closeDay = time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)
)

func option(tt model.TransactionType, strategy model.Strategy, open, fee string) model.OptionTrade {
	acct := options.NewAccountant(decimal.Zero, decimal.Zero)
	return acct.Open(model.OptionTrade{
		ID:              11,
		Ticker:          "AAPL",
		PlatformID:      1,
		Strategy:        strategy,
		StrikePrice:     d("150"),
		ExpiryDate:      closeDay,
		TradeDate:       tradeDay,
		TransactionType: tt,
		OpenPrice:       d(open),
		OpenFee:         d(fee),
	})
}

func TestNewAccountantDefaults(t *testing.T) {
	acct := options.NewAccountant(decimal.Zero, decimal.NewFromInt(-3))
	assert.True(t, acct.ContractSize.Equal(d("100")))
	assert.True(t, acct.PremiumMultiplier.Equal(d("1")))
}

func TestClose_CreditBuyBack(t *testing.T) {
	acct := options.NewAccountant(decimal.Zero, decimal.Zero)
	opt := option(model.Credit, model.StrategyCall, "2.00", "0.05")

	closed, err := acct.Close(opt, d("0.50"), d("0.05"), closeDay)
	require.NoError(t, err)
	assert.Equal(t, model.OptionClosed, closed.Status)
	require.True(t, closed.ProfitLoss.Valid)
	assert.True(t, d("1.40").Equal(closed.ProfitLoss.Decimal), "got %s", closed.ProfitLoss.Decimal)
	require.NotNil(t, closed.CloseDate)
	assert.Equal(t, closeDay, *closed.CloseDate)
}

func TestExpire_Credit(t *testing.T) {
	acct := options.NewAccountant(decimal.Zero, decimal.Zero)
	opt := option(model.Credit, model.StrategyCashSecuredPut, "1.00", "0.05")

	expired, err := acct.Expire(opt, closeDay)
	require.NoError(t, err)
	assert.Equal(t, model.OptionExpired, expired.Status)
	assert.False(t, expired.ClosePrice.Valid)
	assert.True(t, expired.CloseFee.IsZero())
	assert.True(t, d("0.95").Equal(expired.ProfitLoss.Decimal))
}

func TestDebitProfitLoss(t *testing.T) {
	acct := options.NewAccountant(decimal.Zero, decimal.Zero)

	closed, err := acct.Close(option(model.Debit, model.StrategyCall, "1.20", "0.10"), d("2.00"), d("0.10"), closeDay)
	require.NoError(t, err)
	assert.True(t, d("0.60").Equal(closed.ProfitLoss.Decimal), "got %s", closed.ProfitLoss.Decimal)

	expired, err := acct.Expire(option(model.Debit, model.StrategyPut, "1.20", "0.10"), closeDay)
	require.NoError(t, err)
	assert.True(t, d("-1.30").Equal(expired.ProfitLoss.Decimal), "got %s", expired.ProfitLoss.Decimal)
}

func TestPremiumMultiplier(t *testing.T) {
	acct := options.NewAccountant(decimal.Zero, d("100"))
	closed, err := acct.Close(option(model.Credit, model.StrategyCall, "2.00", "0.65"), d("0.50"), d("0.65"), closeDay)
	require.NoError(t, err)
	assert.True(t, d("148.70").Equal(closed.ProfitLoss.Decimal), "got %s", closed.ProfitLoss.Decimal)
}

func TestTransitionsAreOneShot(t *testing.T) {
	acct := options.NewAccountant(decimal.Zero, decimal.Zero)
	expired, err := acct.Expire(option(model.Credit, model.StrategyCall, "1", "0"), closeDay)
	require.NoError(t, err)

	_, err = acct.Close(expired, d("0.1"), decimal.Zero, closeDay)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	_, err = acct.Expire(expired, closeDay)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
	_, err = acct.Exercise(expired, decimal.Zero, closeDay)
	assert.True(t, errors.Is(err, model.ErrInvalidTransition))
}

func TestTransitionValidation(t *testing.T) {
	acct := options.NewAccountant(decimal.Zero, decimal.Zero)
	opt := option(model.Credit, model.StrategyCall, "1", "0")

	_, err := acct.Close(opt, d("0.5"), decimal.Zero, tradeDay.AddDate(0, 0, -1))
	var ve *model.ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "close_date", ve.Field)

	_, err = acct.Close(opt, d("-0.5"), decimal.Zero, closeDay)
	require.True(t, errors.As(err, &ve))

	_, err = acct.Exercise(opt, d("-1"), closeDay)
	require.True(t, errors.As(err, &ve))
}

func TestExercise(t *testing.T) {
	acct := options.NewAccountant(decimal.Zero, decimal.Zero)
	opt := option(model.Credit, model.StrategyCashSecuredPut, "3.00", "0.05")

	ex, err := acct.Exercise(opt, d("0.10"), closeDay)
	require.NoError(t, err)
	assert.Equal(t, model.OptionExercised, ex.Status)
	assert.True(t, d("2.85").Equal(ex.ProfitLoss.Decimal), "got %s", ex.ProfitLoss.Decimal)

	trade, ok := acct.SyntheticTrade(ex)
	require.True(t, ok)
	assert.Equal(t, model.Buy, trade.TradeType)
	assert.Equal(t, int64(11), trade.OptionID)
	assert.Equal(t, int64(0), trade.ID)
	assert.True(t, trade.Synthetic())
	assert.True(t, d("150").Equal(trade.Price))
	assert.True(t, d("100").Equal(trade.Quantity))
	assert.Equal(t, closeDay, trade.Date)

	_, ok = acct.SyntheticTrade(opt)
	assert.False(t, ok, "open option has no synthetic trade")
}

func TestDirection(t *testing.T) {
	tests := []struct {
		tt       model.TransactionType
		strategy model.Strategy
		want     model.TradeType
	}{
		{model.Debit, model.StrategyCall, model.Buy},
		{model.Debit, model.StrategyPut, model.Sell},
		{model.Credit, model.StrategyCall, model.Sell},
		{model.Credit, model.StrategyCoveredCall, model.Sell},
		{model.Credit, model.StrategyPut, model.Buy},
		{model.Credit, model.StrategyCashSecuredPut, model.Buy},
	}
	for _, tt := range tests {
		t.Run(string(tt.tt)+" "+string(tt.strategy), func(t *testing.T) {
			assert.Equal(t, tt.want, options.Direction(model.OptionTrade{TransactionType: tt.tt, Strategy: tt.strategy}))
		})
	}
}

func TestSummarize(t *testing.T) {
	acct := options.NewAccountant(decimal.Zero, decimal.Zero)
	closed, _ := acct.Close(option(model.Credit, model.StrategyCall, "2.00", "0.05"), d("0.50"), d("0.05"), closeDay)
	expired, _ := acct.Expire(option(model.Credit, model.StrategyPut, "1.00", "0.05"), closeDay)
	open := option(model.Debit, model.StrategyCall, "5", "0")

	s := options.Summarize([]model.OptionTrade{closed, expired, open})
	assert.Equal(t, 1, s.Open)
	assert.Equal(t, 1, s.Closed)
	assert.Equal(t, 1, s.Expired)
	assert.True(t, d("2.35").Equal(s.TotalPnL), "got %s", s.TotalPnL)
}
