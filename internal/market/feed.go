package market

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// KlineSource serves historical candles ordered oldest first.
type KlineSource interface {
	Klines(ctx context.Context, pair, interval string, limit int) ([]Candle, error)
}

// Feed keeps one append-only candle series per pair and interval. Series are
// backfilled over REST and kept current by stream updates when a stream is
// attached; without stream updates every request goes back to REST.
type Feed struct {
	source KlineSource
	log    *zap.Logger
	now    func() time.Time

	mu     sync.RWMutex
	series map[string]*trackedSeries
}

type trackedSeries struct {
	candles    []Candle
	limit      int
	period     time.Duration
	fetchedAt  time.Time
	streamedAt time.Time
}

func NewFeed(source KlineSource, log *zap.Logger) *Feed {
	if log == nil {
		log = zap.NewNop()
	}
	return &Feed{
		source: source,
		log:    log,
		now:    time.Now,
		series: make(map[string]*trackedSeries),
	}
}

func seriesKey(pair, interval string) string {
	return pair + "|" + interval
}

// Track registers a series so stream updates for it are retained.
func (f *Feed) Track(pair, interval string, period time.Duration, limit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := seriesKey(pair, interval)
	if s, ok := f.series[key]; ok {
		if limit > s.limit {
			s.limit = limit
		}
		return
	}
	f.series[key] = &trackedSeries{limit: limit, period: period}
}

// Candles returns a copy of the latest limit candles for pair.
func (f *Feed) Candles(ctx context.Context, pair, interval string, limit int) ([]Candle, error) {
	if cached, ok := f.fresh(pair, interval, limit); ok {
		return cached, nil
	}
	if f.source == nil {
		return nil, fmt.Errorf("%w: no kline source for %s", ErrDataFetch, pair)
	}
	candles, err := f.source.Klines(ctx, pair, interval, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrDataFetch, pair, interval, err)
	}
	if len(candles) == 0 {
		return nil, fmt.Errorf("%w: %s %s: empty response", ErrDataFetch, pair, interval)
	}
	if err := Validate(candles); err != nil {
		return nil, fmt.Errorf("%w: %s %s: %v", ErrDataFetch, pair, interval, err)
	}
	f.store(pair, interval, candles, limit)
	return Tail(candles, limit), nil
}

func (f *Feed) fresh(pair, interval string, limit int) ([]Candle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.series[seriesKey(pair, interval)]
	if !ok || len(s.candles) < limit || s.period <= 0 {
		return nil, false
	}
	if !s.streamedAt.After(s.fetchedAt) {
		return nil, false
	}
	if f.now().Sub(s.streamedAt) > 2*s.period {
		return nil, false
	}
	return Tail(s.candles, limit), true
}

func (f *Feed) store(pair, interval string, candles []Candle, limit int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := seriesKey(pair, interval)
	s, ok := f.series[key]
	if !ok {
		s = &trackedSeries{limit: limit}
		f.series[key] = s
	}
	if limit > s.limit {
		s.limit = limit
	}
	s.candles = Tail(candles, s.limit)
	s.fetchedAt = f.now()
}

// Apply merges one streamed candle: an update of the in-progress candle
// replaces it, a newer candle is appended, older candles are ignored.
func (f *Feed) Apply(pair, interval string, candle Candle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.series[seriesKey(pair, interval)]
	if !ok || len(s.candles) == 0 {
		return
	}
	last := s.candles[len(s.candles)-1]
	switch {
	case candle.OpenTime.Equal(last.OpenTime):
		s.candles[len(s.candles)-1] = candle
	case candle.OpenTime.After(last.OpenTime):
		s.candles = append(s.candles, candle)
		if s.limit > 0 && len(s.candles) > s.limit {
			s.candles = append([]Candle(nil), s.candles[len(s.candles)-s.limit:]...)
		}
	default:
		f.log.Debug("stale stream candle ignored", zap.String("pair", pair), zap.Time("open_time", candle.OpenTime))
		return
	}
	s.streamedAt = f.now()
}

// Latest returns the most recent known candle for a tracked series.
func (f *Feed) Latest(pair, interval string) (Candle, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	s, ok := f.series[seriesKey(pair, interval)]
	if !ok || len(s.candles) == 0 {
		return Candle{}, false
	}
	return s.candles[len(s.candles)-1], true
}
