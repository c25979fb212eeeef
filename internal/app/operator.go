package app

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"candlebot/internal/alerts"
	"candlebot/internal/position"

	"go.uber.org/zap"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

type operatorMeta struct {
	UpdateID int64
	UserID   int64
	Username string
	ChatID   int64
	Raw      string
}

type operatorAuditEvent struct {
	UpdateID     int64     `json:"update_id"`
	Time         time.Time `json:"time"`
	Action       string    `json:"action"`
	Command      string    `json:"command"`
	UserID       int64     `json:"user_id"`
	Username     string    `json:"username,omitempty"`
	ChatID       int64     `json:"chat_id"`
	PausedBefore bool      `json:"paused_before"`
	PausedAfter  bool      `json:"paused_after"`
}

// updateSource is the bot API side of the operator loop.
type updateSource interface {
	GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]alerts.Update, error)
	Send(ctx context.Context, message string) error
}

func (a *App) startOperator(ctx context.Context) {
	if a.cfg == nil || a.alerts == nil || !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	pollInterval := a.cfg.Telegram.OperatorPollInterval
	if pollInterval <= 0 {
		pollInterval = 3 * time.Second
	}
	allowedUsers := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowedUsers[id] = struct{}{}
	}
	go a.operatorLoop(ctx, a.alerts, chatID, allowedUsers, pollInterval)
}

func (a *App) operatorLoop(ctx context.Context, bot updateSource, chatID int64, allowedUsers map[int64]struct{}, pollInterval time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := bot.GetUpdates(ctx, offset, pollInterval)
		if err != nil {
			a.logOperatorError(err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(pollInterval):
			}
			continue
		}
		if a.operatorWarned {
			a.log.Info("telegram operator recovered")
			a.operatorWarned = false
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, bot, upd, chatID, allowedUsers)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, bot updateSource, upd alerts.Update, chatID int64, allowedUsers map[int64]struct{}) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowedUsers) > 0 {
		if _, ok := allowedUsers[msg.From.ID]; !ok {
			return
		}
	}
	cmd, args, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	meta := operatorMeta{
		UpdateID: upd.UpdateID,
		UserID:   msg.From.ID,
		Username: msg.From.Username,
		ChatID:   msg.Chat.ID,
		Raw:      msg.Text,
	}
	resp := a.handleOperatorCommand(ctx, cmd, args, meta)
	if resp == "" {
		return
	}
	if err := bot.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, []string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", nil, false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", nil, false
	}
	cmd := strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	// Group chats address commands as /status@botname.
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return cmd, fields[1:], true
}

func (a *App) handleOperatorCommand(ctx context.Context, cmd string, args []string, meta operatorMeta) string {
	switch cmd {
	case "status":
		return a.operatorStatus()
	case "positions":
		return a.operatorPositions(args)
	case "pause", "resume":
		want := cmd == "pause"
		before := a.isPaused()
		after := a.setPaused(want)
		a.auditOperatorEvent(ctx, operatorAuditEvent{
			UpdateID:     meta.UpdateID,
			Time:         time.Now().UTC(),
			Action:       cmd,
			Command:      meta.Raw,
			UserID:       meta.UserID,
			Username:     meta.Username,
			ChatID:       meta.ChatID,
			PausedBefore: before,
			PausedAfter:  after,
		})
		switch {
		case before == after && want:
			return "trading already paused"
		case before == after:
			return "trading already active"
		case want:
			return "trading paused"
		default:
			return "trading resumed"
		}
	default:
		return operatorHelpText()
	}
}

func (a *App) operatorStatus() string {
	open := 0
	for _, tr := range a.traders {
		if tr.Engine().Position().Status == position.StatusOpen {
			open++
		}
	}
	mode := "unknown"
	if a.cfg != nil {
		mode = string(a.cfg.ExecutionMode)
	}
	return strings.Join([]string{
		fmt.Sprintf("paused: %t", a.isPaused()),
		fmt.Sprintf("execution_mode: %s", mode),
		fmt.Sprintf("assets: %d", len(a.traders)),
		fmt.Sprintf("open_positions: %d", open),
	}, "\n")
}

// operatorPositions lists open positions with their unrealized result at the
// latest known close. Arguments filter by pair.
func (a *App) operatorPositions(args []string) string {
	filter := make(map[string]struct{}, len(args))
	for _, arg := range args {
		filter[strings.ToUpper(arg)] = struct{}{}
	}
	var lines []string
	for _, snapshot := range a.positions() {
		if _, ok := filter[snapshot.Pair]; len(filter) > 0 && !ok {
			continue
		}
		pos := snapshot.Position
		if pos.Status != position.StatusOpen {
			lines = append(lines, fmt.Sprintf("%s: flat", snapshot.Pair))
			continue
		}
		line := fmt.Sprintf("%s: %g @ %g, %d tiers left", snapshot.Pair, pos.Quantity, pos.EntryPrice, len(pos.TiersRemaining))
		if price, ok := a.latestClose(snapshot.Pair); ok {
			line += fmt.Sprintf(", pnl %+.2f%%", position.UnrealizedPct(pos.EntryPrice, price))
		}
		lines = append(lines, line)
	}
	if len(lines) == 0 {
		return "no matching pairs"
	}
	return strings.Join(lines, "\n")
}

func (a *App) latestClose(pair string) (float64, bool) {
	if a.feed == nil || a.cfg == nil {
		return 0, false
	}
	for _, asset := range a.cfg.Assets {
		if asset.Pair == pair {
			candle, ok := a.feed.Latest(pair, asset.CandleInterval)
			return candle.Close, ok
		}
	}
	return 0, false
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - bot status",
		"/positions [PAIR ...] - open positions",
		"/pause - skip trading cycles",
		"/resume - resume trading cycles",
	}, "\n")
}

func (a *App) logOperatorError(err error) {
	if a.operatorWarned {
		return
	}
	a.operatorWarned = true
	a.log.Warn("telegram operator failed", zap.Error(err))
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	if a.store == nil {
		return 0
	}
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if a.store == nil {
		return
	}
	_ = a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10))
}

func (a *App) auditOperatorEvent(ctx context.Context, event operatorAuditEvent) {
	if a.store == nil {
		return
	}
	key := fmt.Sprintf("ops:audit:%d:%d", event.Time.UnixNano(), event.UpdateID)
	payload, err := json.Marshal(event)
	if err != nil {
		return
	}
	_ = a.store.Set(ctx, key, string(payload))
}
