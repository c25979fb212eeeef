package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"candlebot/internal/alerts"
	"candlebot/internal/binance"
	"candlebot/internal/config"
	"candlebot/internal/exec"
	"candlebot/internal/logging"
	"candlebot/internal/market"
	"candlebot/internal/metrics"
	"candlebot/internal/position"
	"candlebot/internal/scheduler"
	"candlebot/internal/state"
	"candlebot/internal/state/sqlite"
	"candlebot/internal/timescale"
	"candlebot/internal/trader"

	"go.uber.org/zap"
)

// journalStore is the persistence the live app needs: key/value state plus the
// execution journal.
type journalStore interface {
	state.Store
	state.Journal
}

type App struct {
	cfg       *config.Config
	log       *zap.Logger
	store     journalStore
	client    *binance.Client
	stream    *binance.Stream
	feed      *market.Feed
	executor  *exec.Executor
	prom      *metrics.Prometheus
	metrics   *metrics.Metrics
	alerts    *alerts.Telegram
	timescale *timescale.Writer
	traders   []*trader.Trader
	startedAt time.Time

	opsMu          sync.RWMutex
	paused         bool
	operatorWarned bool
}

func New(cfg *config.Config, log *zap.Logger) (*App, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.State.SQLitePath), 0o755); err != nil {
		return nil, err
	}
	store, err := sqlite.New(cfg.State.SQLitePath)
	if err != nil {
		return nil, err
	}
	creds := config.BinanceCredentials()
	if creds.APIKey == "" || creds.SecretKey == "" {
		_ = store.Close()
		return nil, errors.New("BINANCE_API_KEY and BINANCE_SECRET_KEY are required")
	}
	client := binance.New(cfg.Binance, creds, log)
	writer, err := timescale.New(cfg.Timescale, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("timescale: %w", err)
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		store:     store,
		client:    client,
		feed:      market.NewFeed(client, log),
		executor:  exec.New(client, store, log),
		metrics:   metrics.NewNoop(),
		alerts:    alerts.NewTelegram(cfg.Telegram, log),
		timescale: writer,
	}
	if cfg.Binance.StreamEnabled {
		a.stream = binance.NewStream(cfg.Binance.WSURL, cfg.Binance.ReconnectDelay, log)
	}
	if cfg.Metrics.Enabled {
		a.prom = metrics.NewPrometheus()
		a.metrics = a.prom.Metrics
	}
	if err := a.buildTraders(); err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

func (a *App) buildTraders() error {
	for _, asset := range a.cfg.Assets {
		pairLog := logging.ForPair(a.log, asset.Pair)
		engine, err := position.New(asset, pairLog)
		if err != nil {
			return fmt.Errorf("%s: %w", asset.Pair, err)
		}
		period, err := config.IntervalDuration(asset.CandleInterval)
		if err != nil {
			return err
		}
		a.feed.Track(asset.Pair, asset.CandleInterval, period, max(asset.CandleWindow, engine.MinWindow()))
		deps := trader.Deps{
			Candles:  a.feed,
			Venue:    a.executor.Venue(asset.Quote),
			Store:    a.store,
			Journal:  a.store,
			Notifier: a.alerts,
			Metrics:  a.metrics,
			Log:      pairLog,
			Paused:   a.isPaused,
		}
		if a.timescale != nil {
			deps.Recorder = a.timescale
		}
		a.traders = append(a.traders, trader.New(asset, engine, deps))
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	defer a.close()
	a.startedAt = time.Now().UTC()
	a.timescale.Start(ctx)

	if a.cfg.State.RestorePositions {
		for _, tr := range a.traders {
			if _, err := tr.Restore(ctx); err != nil {
				return fmt.Errorf("restore %s: %w", tr.Name(), err)
			}
		}
	}
	if a.cfg.Metrics.Enabled {
		a.startServer(ctx)
	}
	a.startOperator(ctx)
	if a.stream != nil {
		go a.runStream(ctx)
	}

	units := make([]scheduler.Unit, 0, len(a.traders))
	for _, tr := range a.traders {
		units = append(units, tr)
	}
	a.log.Info("trading started",
		zap.Int("assets", len(a.traders)),
		zap.String("execution_mode", string(a.cfg.ExecutionMode)),
	)
	if err := scheduler.New(a.cfg.ExecutionMode, units, a.log).Run(ctx); err != nil {
		return err
	}
	return ctx.Err()
}

func (a *App) startServer(ctx context.Context) {
	server := &http.Server{
		Addr:              a.cfg.Metrics.Addr,
		Handler:           a.router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.log.Error("http server failed", zap.Error(err))
		}
	}()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()
	a.log.Info("http server listening", zap.String("addr", a.cfg.Metrics.Addr))
}

func (a *App) close() {
	if a.timescale != nil {
		if err := a.timescale.Close(); err != nil {
			a.log.Warn("timescale close failed", zap.Error(err))
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.log.Warn("store close failed", zap.Error(err))
		}
	}
}

func (a *App) isPaused() bool {
	a.opsMu.RLock()
	defer a.opsMu.RUnlock()
	return a.paused
}

func (a *App) setPaused(paused bool) bool {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	a.paused = paused
	return a.paused
}
