package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/glamour"
	"github.com/shopspring/decimal"

	"github.com/atmx/ledger-engine/internal/importer"
	"github.com/atmx/ledger-engine/internal/model"
	"github.com/atmx/ledger-engine/internal/reconcile"
	"github.com/atmx/ledger-engine/internal/report"
)

// usd formats an amount in dollars, rounded to cents.
func usd(d decimal.Decimal) string {
	cur := money.GetCurrency(money.USD)
	cents := d.Shift(int32(cur.Fraction)).Round(0).IntPart()
	return money.New(cents, money.USD).Display()
}

func usdNull(d decimal.NullDecimal) string {
	if !d.Valid {
		return "-"
	}
	return usd(d.Decimal)
}

func windowLabel(t *model.DateRange) string {
	if t == nil {
		return "all time"
	}
	from, to := "start", "today"
	if !t.From.IsZero() {
		from = t.From.Format(model.DateLayout)
	}
	if !t.To.IsZero() {
		to = t.To.Format(model.DateLayout)
	}
	return from + " to " + to
}

type table struct {
	header []string
	align  []bool // true = right
	rows   [][]string
}

func (t *table) add(cells ...string) { t.rows = append(t.rows, cells) }

func (t *table) write(b *strings.Builder) {
	if len(t.rows) == 0 {
		b.WriteString("_none_\n\n")
		return
	}
	b.WriteString("| " + strings.Join(t.header, " | ") + " |\n|")
	for i := range t.header {
		if i < len(t.align) && t.align[i] {
			b.WriteString("---:|")
		} else {
			b.WriteString(":---|")
		}
	}
	b.WriteString("\n")
	for _, r := range t.rows {
		b.WriteString("| " + strings.Join(r, " | ") + " |\n")
	}
	b.WriteString("\n")
}

// PositionsMarkdown renders open or closed positions.
func PositionsMarkdown(title string, positions []model.Position, names map[int64]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", title)
	t := table{
		header: []string{"Ticker", "Platform", "Side", "Quantity", "Entry", "Entry Date", "Exit", "Exit Date", "P&L"},
		align:  []bool{false, false, false, true, true, false, true, false, true},
	}
	total := decimal.Zero
	for _, p := range positions {
		exitDate := "-"
		if p.ExitDate != nil {
			exitDate = p.ExitDate.Format(model.DateLayout)
		}
		side := "long"
		if p.TradeType == model.Sell {
			side = "short"
		}
		t.add(p.Ticker, names[p.PlatformID], side, p.Quantity.String(), usd(p.EntryPrice),
			p.EntryDate.Format(model.DateLayout), usdNull(p.ExitPrice), exitDate, usdNull(p.ProfitLoss))
		if p.ProfitLoss.Valid {
			total = total.Add(p.ProfitLoss.Decimal)
		}
	}
	t.write(&b)
	if !total.IsZero() {
		fmt.Fprintf(&b, "**Realized P&L:** %s\n", usd(total))
	}
	return b.String()
}

// BalanceMarkdown renders the derived cash of each platform.
func BalanceMarkdown(platforms []model.Platform) string {
	var b strings.Builder
	b.WriteString("# Cash Balances\n\n")
	t := table{header: []string{"Platform", "Cash Available"}, align: []bool{false, true}}
	total := decimal.Zero
	for _, p := range platforms {
		t.add(p.Name, usd(p.CashAvailable))
		total = total.Add(p.CashAvailable)
	}
	if len(platforms) > 1 {
		t.add("**Total**", "**"+usd(total)+"**")
	}
	t.write(&b)
	return b.String()
}

// PeriodMarkdown renders a weekly or monthly P&L report.
func PeriodMarkdown(kind string, rows []report.PeriodRow) string {
	var b strings.Builder
	label := "Month"
	if kind == report.KindWeekly {
		label = "Week Ending"
	}
	fmt.Fprintf(&b, "# %s P&L\n\n", strings.ToUpper(kind[:1])+kind[1:])
	t := table{header: []string{label, "Stocks", "Options", "Total"}, align: []bool{false, true, true, true}}
	for _, r := range rows {
		period := fmt.Sprintf("%d-%02d", r.Year, r.Period)
		if r.WeekEnding != "" {
			period = r.WeekEnding
		}
		t.add(period, usd(r.StockPnL), usd(r.OptionPnL), usd(r.TotalPnL))
	}
	t.write(&b)
	return b.String()
}

// TaxMarkdown renders the estimated tax summary.
func TaxMarkdown(r report.TaxReport) string {
	var b strings.Builder
	b.WriteString("# Estimated Taxes\n\n")
	years := table{header: []string{"Year", "Gain", "Estimated Tax"}, align: []bool{false, true, true}}
	for _, y := range r.Years {
		years.add(fmt.Sprint(y.Year), usd(y.Gain), usd(y.Tax))
	}
	years.write(&b)

	b.WriteString("## Breakdown\n\n")
	rows := table{header: []string{"Year", "Asset", "Term", "Gain", "Estimated Tax"}, align: []bool{false, false, false, true, true}}
	for _, t := range r.Breakdown {
		rows.add(fmt.Sprint(t.Year), t.Asset, t.Term, usd(t.Gain), usd(t.Tax))
	}
	rows.write(&b)
	return b.String()
}

// CashFlowMarkdown renders yearly deposits and withdrawals.
func CashFlowMarkdown(rows []report.CashFlowRow) string {
	var b strings.Builder
	b.WriteString("# Cash Flows\n\n")
	t := table{header: []string{"Year", "Platform", "Deposits", "Withdrawals", "Net"}, align: []bool{false, false, true, true, true}}
	for _, r := range rows {
		t.add(fmt.Sprint(r.Year), r.Platform, usd(r.Deposits), usd(r.Withdrawals), usd(r.Net))
	}
	t.write(&b)
	return b.String()
}

// ResultMarkdown renders a reconciliation run.
func ResultMarkdown(res reconcile.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Reconciliation %s\n\n", res.RunID)
	fmt.Fprintf(&b, "- Groups: %d (%d rewritten)\n", res.Groups, res.Changed)
	fmt.Fprintf(&b, "- Open positions: %d\n", res.Open)
	fmt.Fprintf(&b, "- Closed positions: %d\n", res.Closed)
	fmt.Fprintf(&b, "- Platforms: %d\n", res.Platforms)
	fmt.Fprintf(&b, "- Duration: %s\n", res.Duration)
	return b.String()
}

// ImportMarkdown renders an import report.
func ImportMarkdown(rep *importer.Report) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Import %s\n\n", rep.Platform)
	fmt.Fprintf(&b, "- Rows: %d\n- Imported: %d\n- Skipped: %d\n- Rejected: %d\n- Batches: %d\n\n",
		rep.Rows, rep.Imported, rep.Skipped, len(rep.Rejected), rep.Batches)
	if len(rep.Rejected) > 0 {
		t := table{header: []string{"Line", "Reason"}, align: []bool{true, false}}
		for _, r := range rep.Rejected {
			t.add(fmt.Sprint(r.Line), r.Reason)
		}
		t.write(&b)
	}
	if rep.Reconcile != nil {
		b.WriteString(strings.Replace(ResultMarkdown(*rep.Reconcile), "# ", "## ", 1))
	}
	return b.String()
}

// printMarkdown renders md for the terminal, falling back to raw markdown.
func printMarkdown(md string) {
	out, err := glamour.Render(md, "auto")
	if err != nil {
		fmt.Fprint(os.Stdout, md)
		return
	}
	fmt.Fprint(os.Stdout, out)
}
