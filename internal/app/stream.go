package app

import (
	"context"
	"errors"

	"candlebot/internal/binance"
	"candlebot/internal/market"
	"candlebot/internal/timescale"

	"go.uber.org/zap"
)

func (a *App) runStream(ctx context.Context) {
	subs := make([]binance.Subscription, 0, len(a.cfg.Assets))
	for _, asset := range a.cfg.Assets {
		subs = append(subs, binance.Subscription{Pair: asset.Pair, Interval: asset.CandleInterval})
	}
	if err := a.stream.Run(ctx, subs, a.handleKline); err != nil && !errors.Is(err, context.Canceled) {
		a.log.Warn("kline stream stopped", zap.Error(err))
	}
}

// handleKline keeps the feed current and archives candles once they close.
func (a *App) handleKline(pair, interval string, candle market.Candle, closed bool) {
	a.feed.Apply(pair, interval, candle)
	if !closed || a.timescale == nil {
		return
	}
	a.timescale.EnqueueCandle(timescale.Candle{Pair: pair, Interval: interval, Candle: candle})
}
