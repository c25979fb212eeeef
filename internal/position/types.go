package position

import (
	"context"
	"errors"
	"fmt"
	"time"

	"candlebot/internal/strategy"
)

var (
	ErrOrderExecution      = errors.New("order execution failed")
	ErrInsufficientBalance = errors.New("insufficient balance for order")
)

type Status string

const (
	StatusFlat Status = "FLAT"
	StatusOpen Status = "OPEN"
)

type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

type Reason string

const (
	ReasonStrategySignal Reason = "strategy_signal"
	ReasonTakeProfit     Reason = "take_profit"
	ReasonStopLoss       Reason = "stop_loss"
	// ReasonLossGate marks a discretionary exit taken at a loss the gate accepted.
	ReasonLossGate Reason = "loss_gate"
)

// Tier is one rung of the take-profit ladder, both values in percent.
type Tier struct {
	Trigger float64 `json:"trigger"`
	Exit    float64 `json:"exit"`
}

// OrderIntent is what the engine asks a Venue to execute.
type OrderIntent struct {
	Pair           string
	Side           Side
	Quantity       float64
	ReferencePrice float64
	Reason         Reason
	// Tier is the 1-based ladder rung for take-profit exits.
	Tier       int
	CandleTime time.Time
	Seq        int64
}

// ClientOrderID is stable for a given decision so a retried submission of the
// same intent can be deduplicated.
func (o OrderIntent) ClientOrderID() string {
	tag := ""
	switch o.Reason {
	case ReasonTakeProfit:
		tag = fmt.Sprintf("tp%d", o.Tier)
	case ReasonStopLoss:
		tag = "sl"
	case ReasonLossGate:
		tag = "lg"
	default:
		tag = "buy"
		if o.Side == SideSell {
			tag = "sell"
		}
	}
	return fmt.Sprintf("%s-%s-%d-%d", o.Pair, tag, o.CandleTime.Unix(), o.Seq)
}

type Fill struct {
	OrderID  string    `json:"order_id"`
	Quantity float64   `json:"quantity"`
	Price    float64   `json:"price"`
	Fee      float64   `json:"fee,omitempty"`
	Time     time.Time `json:"time"`
}

// Venue executes order intents. The live exchange and the backtest ledger both
// implement it.
type Venue interface {
	Submit(ctx context.Context, intent OrderIntent) (Fill, error)
	QuoteBalance(ctx context.Context) (float64, error)
}

// State is the position owned by one engine.
type State struct {
	Status           Status    `json:"status"`
	EntryPrice       float64   `json:"entry_price"`
	Quantity         float64   `json:"quantity"`
	OriginalQuantity float64   `json:"original_quantity"`
	EntryTime        time.Time `json:"entry_time"`
	TiersRemaining   []Tier    `json:"tiers_remaining"`
	HighWaterMark    float64   `json:"high_water_mark"`
	// Seq counts fills over the engine's lifetime and keeps client order ids
	// unique across positions opened on the same candle.
	Seq int64 `json:"seq"`
}

func (s State) clone() State {
	s.TiersRemaining = append([]Tier(nil), s.TiersRemaining...)
	return s
}

type Action string

const (
	ActionHold             Action = "hold"
	ActionBought           Action = "bought"
	ActionStopLoss         Action = "stop_loss"
	ActionTakeProfit       Action = "take_profit"
	ActionSold             Action = "sold"
	ActionLossGate         Action = "loss_gate"
	ActionNoPosition       Action = "no_position"
	ActionInsufficientData Action = "insufficient_data"
)

type Execution struct {
	Intent OrderIntent
	Fill   Fill
	// ResultPct is the return of the exited quantity versus the entry price;
	// zero for buys.
	ResultPct float64
}

// Outcome describes what one cycle decided and executed.
type Outcome struct {
	Pair       string
	Action     Action
	Decision   strategy.Decision
	Source     string
	Fallback   bool
	Price      float64
	PnLPct     float64
	CandleTime time.Time
	Indicators map[string]float64
	Executions []Execution
	Status     Status
}

// OrderSubmitted reports whether any order was filled during the cycle.
func (o Outcome) OrderSubmitted() bool {
	return len(o.Executions) > 0
}
