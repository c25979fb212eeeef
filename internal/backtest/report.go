package backtest

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"candlebot/internal/position"

	"github.com/shopspring/decimal"
)

type Trade struct {
	Time          time.Time `json:"time"`
	Side          string    `json:"side"`
	Reason        string    `json:"reason"`
	ClientOrderID string    `json:"client_order_id"`
	OrderID       string    `json:"order_id"`
	Quantity      float64   `json:"quantity"`
	Price         float64   `json:"price"`
	Fee           float64   `json:"fee"`
	ResultPct     float64   `json:"result_pct"`
}

// CycleLog is the decision taken on one replayed candle.
type CycleLog struct {
	Time     time.Time `json:"time"`
	Close    float64   `json:"close"`
	Decision string    `json:"decision"`
	Source   string    `json:"source"`
	Fallback bool      `json:"fallback,omitempty"`
	Action   string    `json:"action"`
}

// Report summarizes one replay. RealizedPnL includes every exit, tier exits of
// a position still open at the end included. Break-even round trips count as
// neither a win nor a loss.
type Report struct {
	Pair           string     `json:"pair"`
	Strategy       string     `json:"strategy"`
	Interval       string     `json:"interval"`
	Start          time.Time  `json:"start"`
	End            time.Time  `json:"end"`
	Cycles         int        `json:"cycles"`
	Executions     int        `json:"executions"`
	RoundTrips     int        `json:"round_trips"`
	Wins           int        `json:"wins"`
	Losses         int        `json:"losses"`
	WinRate        float64    `json:"win_rate"`
	RealizedPnL    float64    `json:"realized_pnl"`
	FeesPaid       float64    `json:"fees_paid"`
	InitialBalance float64    `json:"initial_balance"`
	FinalEquity    float64    `json:"final_equity"`
	ReturnPct      float64    `json:"return_pct"`
	BuyAndHoldPct  float64    `json:"buy_and_hold_pct"`
	MaxDrawdownPct float64    `json:"max_drawdown_pct"`
	OpenPosition   bool       `json:"open_position"`
	FailedOrders   int        `json:"failed_orders"`
	SkippedCycles  int        `json:"skipped_cycles"`
	Trades         []Trade    `json:"trades"`
	Decisions      []CycleLog `json:"decisions,omitempty"`
}

// WriteJSON stores the report at path, creating parent directories.
func (r Report) WriteJSON(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	payload, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o644)
}

var hundred = decimal.NewFromInt(100)

// tally accumulates round trips and the equity curve while a replay runs.
type tally struct {
	report *Report

	open     bool
	cost     decimal.Decimal
	proceeds decimal.Decimal
	realized decimal.Decimal

	// Cost basis still carried by the open quantity.
	basisCost decimal.Decimal
	basisQty  decimal.Decimal

	peak        decimal.Decimal
	maxDrawdown decimal.Decimal
}

func newTally(report *Report, initial decimal.Decimal) *tally {
	return &tally{report: report, peak: initial}
}

func (t *tally) observe(out position.Outcome, equity decimal.Decimal) {
	t.report.Cycles++
	t.report.Decisions = append(t.report.Decisions, CycleLog{
		Time:     out.CandleTime,
		Close:    out.Price,
		Decision: out.Decision.String(),
		Source:   out.Source,
		Fallback: out.Fallback,
		Action:   string(out.Action),
	})
	sold := false
	for _, exec := range out.Executions {
		qty := decimal.NewFromFloat(exec.Fill.Quantity)
		notional := qty.Mul(decimal.NewFromFloat(exec.Fill.Price))
		fee := decimal.NewFromFloat(exec.Fill.Fee)
		switch exec.Intent.Side {
		case position.SideBuy:
			t.open = true
			t.cost = notional.Add(fee)
			t.proceeds = decimal.Zero
			t.basisCost = t.cost
			t.basisQty = qty
		case position.SideSell:
			net := notional.Sub(fee)
			t.proceeds = t.proceeds.Add(net)
			t.realized = t.realized.Add(net.Sub(t.releaseBasis(qty)))
			sold = true
		}
		t.report.Executions++
		t.report.Trades = append(t.report.Trades, Trade{
			Time:          exec.Intent.CandleTime,
			Side:          string(exec.Intent.Side),
			Reason:        string(exec.Intent.Reason),
			ClientOrderID: exec.Intent.ClientOrderID(),
			OrderID:       exec.Fill.OrderID,
			Quantity:      exec.Fill.Quantity,
			Price:         exec.Fill.Price,
			Fee:           exec.Fill.Fee,
			ResultPct:     exec.ResultPct,
		})
	}
	if sold && t.open && out.Status == position.StatusFlat {
		// Quantity rounding can leave a sliver of basis behind.
		t.realized = t.realized.Sub(t.basisCost)
		t.basisCost, t.basisQty = decimal.Zero, decimal.Zero

		pnl := t.proceeds.Sub(t.cost)
		t.report.RoundTrips++
		switch {
		case pnl.IsPositive():
			t.report.Wins++
		case pnl.IsNegative():
			t.report.Losses++
		}
		t.open = false
	}

	if equity.GreaterThan(t.peak) {
		t.peak = equity
	}
	if t.peak.IsPositive() {
		dd := t.peak.Sub(equity).Div(t.peak).Mul(hundred)
		if dd.GreaterThan(t.maxDrawdown) {
			t.maxDrawdown = dd
		}
	}
}

// releaseBasis removes the pro-rata cost of qty from the open basis and
// returns it.
func (t *tally) releaseBasis(qty decimal.Decimal) decimal.Decimal {
	if !t.basisQty.IsPositive() {
		return decimal.Zero
	}
	if qty.GreaterThanOrEqual(t.basisQty) {
		released := t.basisCost
		t.basisCost, t.basisQty = decimal.Zero, decimal.Zero
		return released
	}
	released := t.basisCost.Mul(qty).Div(t.basisQty)
	t.basisCost = t.basisCost.Sub(released)
	t.basisQty = t.basisQty.Sub(qty)
	return released
}

func (t *tally) finish(ledger *Ledger, initial decimal.Decimal, lastClose float64) {
	r := t.report
	final := ledger.Equity(lastClose)
	r.FinalEquity = final.InexactFloat64()
	r.FeesPaid = ledger.Fees().InexactFloat64()
	r.RealizedPnL = t.realized.InexactFloat64()
	r.MaxDrawdownPct = t.maxDrawdown.InexactFloat64()
	r.OpenPosition = t.open
	if initial.IsPositive() {
		r.ReturnPct = final.Div(initial).Sub(decimal.NewFromInt(1)).Mul(hundred).InexactFloat64()
	}
	if r.RoundTrips > 0 {
		r.WinRate = float64(r.Wins) / float64(r.RoundTrips) * 100
	}
}

func percentChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return decimal.NewFromFloat(to).Div(decimal.NewFromFloat(from)).Sub(decimal.NewFromInt(1)).Mul(hundred).InexactFloat64()
}
