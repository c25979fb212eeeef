package backtest

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#7C3AED")).
		Padding(0, 1)

	summaryStyle = lipgloss.NewStyle().
		BorderStyle(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("#3B82F6")).
		Padding(0, 2)

	labelStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#6B7280")).
		Width(18)

	gainStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#10B981")).
		Bold(true)

	lossStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("#EF4444")).
		Bold(true)

	tradeHeaderStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("#F59E0B"))
)

// Render writes a console summary of the report. maxTrades bounds the trade
// log; zero prints all of it.
func Render(w io.Writer, r Report, maxTrades int) error {
	var b strings.Builder
	b.WriteString(titleStyle.Render(fmt.Sprintf("%s %s %s", r.Pair, r.Strategy, r.Interval)))
	b.WriteString("\n")

	rows := []string{
		row("Period", fmt.Sprintf("%s - %s", r.Start.Format("2006-01-02 15:04"), r.End.Format("2006-01-02 15:04"))),
		row("Cycles", fmt.Sprintf("%d", r.Cycles)),
		row("Executions", fmt.Sprintf("%d", r.Executions)),
		row("Round trips", fmt.Sprintf("%d (%d wins / %d losses)", r.RoundTrips, r.Wins, r.Losses)),
		row("Win rate", fmt.Sprintf("%.2f%%", r.WinRate)),
		row("Realized P&L", signed(r.RealizedPnL, "%+.4f")),
		row("Fees paid", fmt.Sprintf("%.4f", r.FeesPaid)),
		row("Initial balance", fmt.Sprintf("%.4f", r.InitialBalance)),
		row("Final equity", fmt.Sprintf("%.4f", r.FinalEquity)),
		row("Return", signed(r.ReturnPct, "%+.2f%%")),
		row("Buy and hold", signed(r.BuyAndHoldPct, "%+.2f%%")),
		row("Max drawdown", fmt.Sprintf("%.2f%%", r.MaxDrawdownPct)),
	}
	if r.OpenPosition {
		rows = append(rows, row("Open position", "yes"))
	}
	if r.FailedOrders > 0 || r.SkippedCycles > 0 {
		rows = append(rows, row("Failed / skipped", fmt.Sprintf("%d / %d", r.FailedOrders, r.SkippedCycles)))
	}
	b.WriteString(summaryStyle.Render(strings.Join(rows, "\n")))
	b.WriteString("\n")

	trades := r.Trades
	if maxTrades > 0 && len(trades) > maxTrades {
		trades = trades[len(trades)-maxTrades:]
	}
	if len(trades) > 0 {
		b.WriteString(tradeHeaderStyle.Render(fmt.Sprintf("%-17s %-4s %-16s %14s %14s %9s", "time", "side", "reason", "quantity", "price", "result")))
		b.WriteString("\n")
		for _, tr := range trades {
			result := ""
			if tr.Side == "SELL" {
				result = signed(tr.ResultPct, "%+.2f%%")
			}
			fmt.Fprintf(&b, "%-17s %-4s %-16s %14.8f %14.4f %9s\n",
				tr.Time.Format("2006-01-02 15:04"), tr.Side, tr.Reason, tr.Quantity, tr.Price, result)
		}
	}
	_, err := io.WriteString(w, b.String())
	return err
}

func row(label, value string) string {
	return labelStyle.Render(label) + value
}

func signed(v float64, format string) string {
	text := fmt.Sprintf(format, v)
	switch {
	case v > 0:
		return gainStyle.Render(text)
	case v < 0:
		return lossStyle.Render(text)
	}
	return text
}
