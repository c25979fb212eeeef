package timescale

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"candlebot/internal/config"
	"candlebot/internal/market"
	"candlebot/internal/position"

	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

const writeTimeout = 3 * time.Second

type Candle struct {
	Pair     string
	Interval string
	market.Candle
}

// CycleRecord is one row of the trading_cycles table.
type CycleRecord struct {
	Time       time.Time
	Pair       string
	Action     string
	Decision   string
	Source     string
	Fallback   bool
	Price      float64
	PnLPct     float64
	Status     string
	Quantity   float64
	Executions int
}

// CycleRecordFromOutcome flattens an engine outcome for storage.
func CycleRecordFromOutcome(now time.Time, outcome position.Outcome, pos position.State) CycleRecord {
	return CycleRecord{
		Time:       now.UTC(),
		Pair:       outcome.Pair,
		Action:     string(outcome.Action),
		Decision:   outcome.Decision.String(),
		Source:     outcome.Source,
		Fallback:   outcome.Fallback,
		Price:      outcome.Price,
		PnLPct:     outcome.PnLPct,
		Status:     string(pos.Status),
		Quantity:   pos.Quantity,
		Executions: len(outcome.Executions),
	}
}

// Writer persists candles and cycle records asynchronously. Enqueueing never
// blocks; records are dropped when the queue is full.
type Writer struct {
	db         *sql.DB
	log        *zap.Logger
	schema     string
	cycles     chan CycleRecord
	candles    chan Candle
	started    atomic.Bool
	dropCycle  atomic.Uint64
	dropCandle atomic.Uint64
}

func New(cfg config.TimescaleConfig, log *zap.Logger) (*Writer, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	dsn := strings.TrimSpace(cfg.DSN)
	if dsn == "" {
		return nil, errors.New("timescale dsn is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	writer := newWriter(db, cfg.Schema, cfg.QueueSize, log)
	if err := writer.ensureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return writer, nil
}

func newWriter(db *sql.DB, schema string, queueSize int, log *zap.Logger) *Writer {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		schema = "public"
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Writer{
		db:      db,
		log:     log,
		schema:  schema,
		cycles:  make(chan CycleRecord, queueSize),
		candles: make(chan Candle, queueSize),
	}
}

func (w *Writer) Start(ctx context.Context) {
	if w == nil {
		return
	}
	if !w.started.CompareAndSwap(false, true) {
		return
	}
	go w.run(ctx)
}

func (w *Writer) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}

func (w *Writer) EnqueueCycle(rec CycleRecord) {
	if w == nil {
		return
	}
	select {
	case w.cycles <- rec:
	default:
		if w.dropCycle.Add(1) == 1 {
			w.log.Warn("timescale cycle queue full")
		}
	}
}

func (w *Writer) EnqueueCandle(candle Candle) {
	if w == nil {
		return
	}
	select {
	case w.candles <- candle:
	default:
		if w.dropCandle.Add(1) == 1 {
			w.log.Warn("timescale candle queue full")
		}
	}
}

// Dropped reports how many cycle records and candles were discarded.
func (w *Writer) Dropped() (uint64, uint64) {
	if w == nil {
		return 0, 0
	}
	return w.dropCycle.Load(), w.dropCandle.Load()
}

func (w *Writer) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-w.cycles:
			w.writeCycle(ctx, rec)
		case candle := <-w.candles:
			w.writeCandle(ctx, candle)
		}
	}
}

func (w *Writer) ensureSchema(ctx context.Context) error {
	if w.db == nil {
		return errors.New("timescale db not initialized")
	}
	if w.schema != "public" {
		if err := w.exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", w.schema)); err != nil {
			return err
		}
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair TEXT NOT NULL,
		interval TEXT NOT NULL,
		open DOUBLE PRECISION NOT NULL,
		high DOUBLE PRECISION NOT NULL,
		low DOUBLE PRECISION NOT NULL,
		close DOUBLE PRECISION NOT NULL,
		volume DOUBLE PRECISION NOT NULL DEFAULT 0,
		PRIMARY KEY (ts, pair, interval)
	)`, w.table("market_ohlc"))); err != nil {
		return err
	}
	if err := w.exec(ctx, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		ts TIMESTAMPTZ NOT NULL,
		pair TEXT NOT NULL,
		action TEXT NOT NULL,
		decision TEXT NOT NULL,
		source TEXT NOT NULL,
		fallback BOOLEAN NOT NULL,
		price DOUBLE PRECISION NOT NULL,
		pnl_pct DOUBLE PRECISION NOT NULL,
		status TEXT NOT NULL,
		quantity DOUBLE PRECISION NOT NULL,
		executions INTEGER NOT NULL
	)`, w.table("trading_cycles"))); err != nil {
		return err
	}
	if err := w.exec(ctx, "CREATE EXTENSION IF NOT EXISTS timescaledb"); err != nil {
		w.log.Warn("timescale extension ensure failed", zap.Error(err))
		return nil
	}
	for _, name := range []string{"market_ohlc", "trading_cycles"} {
		if err := w.exec(ctx, fmt.Sprintf("SELECT create_hypertable('%s', 'ts', if_not_exists => TRUE)", w.table(name))); err != nil {
			w.log.Warn("timescale hypertable create failed", zap.String("table", name), zap.Error(err))
		}
	}
	return nil
}

func (w *Writer) writeCycle(ctx context.Context, rec CycleRecord) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pair, action, decision, source, fallback, price, pnl_pct, status, quantity, executions
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
	)`, w.table("trading_cycles"))
	if _, err := w.db.ExecContext(ctx, query,
		rec.Time,
		rec.Pair,
		rec.Action,
		rec.Decision,
		rec.Source,
		rec.Fallback,
		rec.Price,
		rec.PnLPct,
		rec.Status,
		rec.Quantity,
		rec.Executions,
	); err != nil {
		w.log.Warn("timescale cycle insert failed", zap.Error(err))
	}
}

func (w *Writer) writeCandle(ctx context.Context, candle Candle) {
	if w.db == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	query := fmt.Sprintf(`INSERT INTO %s (
		ts, pair, interval, open, high, low, close, volume
	) VALUES (
		$1,$2,$3,$4,$5,$6,$7,$8
	)
	ON CONFLICT (ts, pair, interval) DO UPDATE SET
		open = EXCLUDED.open,
		high = EXCLUDED.high,
		low = EXCLUDED.low,
		close = EXCLUDED.close,
		volume = EXCLUDED.volume`, w.table("market_ohlc"))
	if _, err := w.db.ExecContext(ctx, query,
		candle.OpenTime,
		candle.Pair,
		candle.Interval,
		candle.Open,
		candle.High,
		candle.Low,
		candle.Close,
		candle.Volume,
	); err != nil {
		w.log.Warn("timescale candle upsert failed", zap.Error(err))
	}
}

func (w *Writer) exec(ctx context.Context, query string) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	_, err := w.db.ExecContext(ctx, query)
	return err
}

func (w *Writer) table(name string) string {
	return w.schema + "." + name
}
