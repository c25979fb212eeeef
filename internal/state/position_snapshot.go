package state

import (
	"context"
	"encoding/json"
	"strings"

	"candlebot/internal/position"
)

const positionKeyPrefix = "position:"

type PositionSnapshot struct {
	Pair        string         `json:"pair"`
	Position    position.State `json:"position"`
	UpdatedAtMS int64          `json:"updated_at_ms"`
}

func PositionKey(pair string) string {
	return positionKeyPrefix + strings.ToUpper(pair)
}

func LoadPositionSnapshot(ctx context.Context, store Store, pair string) (PositionSnapshot, bool, error) {
	if store == nil {
		return PositionSnapshot{}, false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, PositionKey(pair))
	if err != nil {
		return PositionSnapshot{}, false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return PositionSnapshot{}, false, nil
	}
	var snapshot PositionSnapshot
	if err := json.Unmarshal([]byte(raw), &snapshot); err != nil {
		return PositionSnapshot{}, false, err
	}
	return snapshot, true, nil
}

func SavePositionSnapshot(ctx context.Context, store Store, snapshot PositionSnapshot) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(snapshot)
	if err != nil {
		return err
	}
	return store.Set(ctx, PositionKey(snapshot.Pair), string(payload))
}
