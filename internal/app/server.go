package app

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"candlebot/internal/state"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

const requestIDHeader = "X-Request-ID"

func (a *App) router() http.Handler {
	r := mux.NewRouter()
	r.Use(requestIDMiddleware, a.accessLogMiddleware)
	if a.prom != nil {
		r.Handle("/metrics", a.prom.Handler()).Methods(http.MethodGet)
	}
	r.HandleFunc("/healthz", a.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/positions", a.handlePositions).Methods(http.MethodGet)
	r.HandleFunc("/positions/{pair}", a.handlePosition).Methods(http.MethodGet)
	r.HandleFunc("/executions/{pair}", a.handleExecutions).Methods(http.MethodGet)
	return r
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (a *App) accessLogMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		a.log.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("request_id", w.Header().Get(requestIDHeader)),
			zap.Duration("latency", time.Since(start)),
		)
	})
}

func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"paused":     a.isPaused(),
		"assets":     len(a.traders),
		"started_at": a.startedAt.Format(time.RFC3339),
	})
}

func (a *App) positions() []state.PositionSnapshot {
	now := time.Now().UnixMilli()
	out := make([]state.PositionSnapshot, 0, len(a.traders))
	for _, tr := range a.traders {
		out = append(out, state.PositionSnapshot{Pair: tr.Name(), Position: tr.Engine().Position(), UpdatedAtMS: now})
	}
	return out
}

func (a *App) handlePositions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.positions())
}

func (a *App) handlePosition(w http.ResponseWriter, r *http.Request) {
	pair := strings.ToUpper(mux.Vars(r)["pair"])
	for _, snapshot := range a.positions() {
		if snapshot.Pair == pair {
			writeJSON(w, http.StatusOK, snapshot)
			return
		}
	}
	writeError(w, http.StatusNotFound, "unknown pair "+pair)
}

func (a *App) handleExecutions(w http.ResponseWriter, r *http.Request) {
	if a.store == nil {
		writeError(w, http.StatusServiceUnavailable, "journal unavailable")
		return
	}
	pair := strings.ToUpper(mux.Vars(r)["pair"])
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 || parsed > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be within [1, 1000]")
			return
		}
		limit = parsed
	}
	records, err := a.store.Executions(r.Context(), pair, limit)
	if err != nil {
		a.log.Warn("executions query failed", zap.String("pair", pair), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "executions unavailable")
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
