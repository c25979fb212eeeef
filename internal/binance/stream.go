package binance

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"candlebot/internal/market"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

type Subscription struct {
	Pair     string
	Interval string
}

func (s Subscription) streamName() string {
	return strings.ToLower(s.Pair) + "@kline_" + s.Interval
}

// KlineHandler receives every kline update, including updates of the candle
// that is still forming.
type KlineHandler func(pair, interval string, candle market.Candle, closed bool)

// Stream follows the combined kline stream of several pairs and reconnects
// after read failures.
type Stream struct {
	baseURL        string
	reconnectDelay time.Duration
	log            *zap.Logger

	mu   sync.Mutex
	conn *websocket.Conn
}

func NewStream(baseURL string, reconnectDelay time.Duration, log *zap.Logger) *Stream {
	if log == nil {
		log = zap.NewNop()
	}
	return &Stream{baseURL: strings.TrimRight(baseURL, "/"), reconnectDelay: reconnectDelay, log: log}
}

func (s *Stream) URL(subs []Subscription) string {
	names := make([]string, 0, len(subs))
	for _, sub := range subs {
		names = append(names, sub.streamName())
	}
	return s.baseURL + "/stream?streams=" + strings.Join(names, "/")
}

// Run blocks until ctx is done.
func (s *Stream) Run(ctx context.Context, subs []Subscription, handler KlineHandler) error {
	if len(subs) == 0 {
		return errors.New("no kline subscriptions")
	}
	url := s.URL(subs)
	for {
		err := s.connect(ctx, url)
		if err == nil {
			s.log.Info("kline stream connected", zap.Int("streams", len(subs)))
			err = s.readLoop(ctx, handler)
		}
		if ctx.Err() != nil {
			s.resetConn()
			return ctx.Err()
		}
		s.logReadLoopError(err)
		s.resetConn()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.reconnectDelay):
		}
	}
}

func (s *Stream) connect(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		return nil
	}
	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		return err
	}
	conn.SetReadLimit(1 << 20)
	s.conn = conn
	return nil
}

func (s *Stream) readLoop(ctx context.Context, handler KlineHandler) error {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return errors.New("ws not connected")
	}
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		pair, interval, candle, closed, err := parseKlineEvent(data)
		if err != nil {
			s.log.Debug("ignoring stream message", zap.Error(err))
			continue
		}
		if handler != nil {
			handler(pair, interval, candle, closed)
		}
	}
}

func (s *Stream) logReadLoopError(err error) {
	status := websocket.CloseStatus(err)
	if status == websocket.StatusNormalClosure {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			s.log.Info("ws read loop ended", zap.Int("status", int(closeErr.Code)), zap.String("reason", closeErr.Reason))
			return
		}
		s.log.Info("ws read loop ended", zap.Error(err))
		return
	}
	s.log.Warn("ws read loop ended", zap.Error(err))
}

func (s *Stream) resetConn() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		_ = s.conn.Close(websocket.StatusNormalClosure, "reset")
		s.conn = nil
	}
}

type klineEvent struct {
	Stream string `json:"stream"`
	Data   struct {
		Event  string `json:"e"`
		Symbol string `json:"s"`
		Kline  struct {
			OpenTime int64  `json:"t"`
			Interval string `json:"i"`
			Open     string `json:"o"`
			High     string `json:"h"`
			Low      string `json:"l"`
			Close    string `json:"c"`
			Volume   string `json:"v"`
			Closed   bool   `json:"x"`
		} `json:"k"`
	} `json:"data"`
}

func parseKlineEvent(data []byte) (string, string, market.Candle, bool, error) {
	var ev klineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", "", market.Candle{}, false, err
	}
	if ev.Data.Event != "kline" {
		return "", "", market.Candle{}, false, fmt.Errorf("unexpected event %q", ev.Data.Event)
	}
	k := ev.Data.Kline
	fields := []string{k.Open, k.High, k.Low, k.Close, k.Volume}
	values := make([]float64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return "", "", market.Candle{}, false, fmt.Errorf("kline field %d: %w", i, err)
		}
		values[i] = v
	}
	candle := market.Candle{
		OpenTime: time.UnixMilli(k.OpenTime).UTC(),
		Open:     values[0],
		High:     values[1],
		Low:      values[2],
		Close:    values[3],
		Volume:   values[4],
	}
	return strings.ToUpper(ev.Data.Symbol), k.Interval, candle, k.Closed, nil
}
