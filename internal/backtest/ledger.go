package backtest

import (
	"context"
	"errors"
	"fmt"

	"candlebot/internal/position"

	"github.com/shopspring/decimal"
)

var ErrInsufficientFunds = errors.New("simulated balance too low")

var bpsDivisor = decimal.NewFromInt(10_000)

// Ledger is the simulated account of one pair. It fills every order at the
// intent's reference price, the close of the candle being evaluated.
type Ledger struct {
	quote    decimal.Decimal
	base     decimal.Decimal
	feeRate  decimal.Decimal
	fees     decimal.Decimal
	decimals int32
	orders   int
}

func NewLedger(initialQuote, feeBps float64, decimals int) *Ledger {
	return &Ledger{
		quote:    decimal.NewFromFloat(initialQuote),
		feeRate:  decimal.NewFromFloat(feeBps).Div(bpsDivisor),
		decimals: int32(decimals),
	}
}

func (l *Ledger) QuoteBalance(ctx context.Context) (float64, error) {
	return l.quote.InexactFloat64(), nil
}

func (l *Ledger) Submit(ctx context.Context, intent position.OrderIntent) (position.Fill, error) {
	price := decimal.NewFromFloat(intent.ReferencePrice)
	if !price.IsPositive() {
		return position.Fill{}, fmt.Errorf("simulated fill: non-positive price %v", intent.ReferencePrice)
	}
	qty := decimal.NewFromFloat(intent.Quantity).Truncate(l.decimals)
	var fee decimal.Decimal
	switch intent.Side {
	case position.SideBuy:
		// Buys larger than the balance are cut to what the balance covers,
		// fee included.
		unit := price.Mul(decimal.NewFromInt(1).Add(l.feeRate))
		if qty.Mul(unit).GreaterThan(l.quote) {
			qty = l.quote.Div(unit).Truncate(l.decimals)
		}
		if !qty.IsPositive() {
			return position.Fill{}, fmt.Errorf("%w: %s quote %s", ErrInsufficientFunds, intent.Pair, l.quote)
		}
		notional := qty.Mul(price)
		fee = notional.Mul(l.feeRate)
		l.quote = l.quote.Sub(notional).Sub(fee)
		l.base = l.base.Add(qty)
	case position.SideSell:
		if qty.GreaterThan(l.base) {
			qty = l.base
		}
		if !qty.IsPositive() {
			return position.Fill{}, fmt.Errorf("%w: %s holds nothing to sell", ErrInsufficientFunds, intent.Pair)
		}
		notional := qty.Mul(price)
		fee = notional.Mul(l.feeRate)
		l.quote = l.quote.Add(notional).Sub(fee)
		l.base = l.base.Sub(qty)
	default:
		return position.Fill{}, fmt.Errorf("simulated fill: unknown side %q", intent.Side)
	}
	l.fees = l.fees.Add(fee)
	l.orders++
	return position.Fill{
		OrderID:  fmt.Sprintf("sim-%d", l.orders),
		Quantity: qty.InexactFloat64(),
		Price:    intent.ReferencePrice,
		Fee:      fee.InexactFloat64(),
		Time:     intent.CandleTime,
	}, nil
}

// Equity values the ledger at price.
func (l *Ledger) Equity(price float64) decimal.Decimal {
	return l.quote.Add(l.base.Mul(decimal.NewFromFloat(price)))
}

func (l *Ledger) Quote() decimal.Decimal { return l.quote }
func (l *Ledger) Base() decimal.Decimal  { return l.base }
func (l *Ledger) Fees() decimal.Decimal  { return l.fees }
