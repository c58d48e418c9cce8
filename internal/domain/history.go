package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Resolution history event types. mode_config and live_info_snapshot double
// as persistence channels: the most recent event of each type is
// authoritative for its bet.
const (
	EventModeConfig       = "mode_config"
	EventLiveInfoSnapshot = "live_info_snapshot"
	EventBetResolved      = "bet_resolved"
	EventBetWashed        = "bet_washed"
	EventBetPoked         = "bet_poked"
)

// ResolutionHistoryEvent is one row of the append-only per-bet audit log.
type ResolutionHistoryEvent struct {
	ID        int64           `json:"id"`
	BetID     uuid.UUID       `json:"bet_id"`
	EventType string          `json:"event_type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// LiveInfoField is a single projected field of the active-bet UI view.
type LiveInfoField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// LiveInfo is a mode-computed projection of current game state against the
// bet's baseline.
type LiveInfo struct {
	Fields []LiveInfoField `json:"fields"`
}
