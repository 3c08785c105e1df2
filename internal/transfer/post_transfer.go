package transfer

import (
	"encoding/json"
	"time"
)

type ScheduleRequest struct {
	UserID         int64           `json:"user_id"`
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	ContentKind    string          `json:"content_kind"`
	ScheduledTime  time.Time       `json:"scheduled_time"`
	CredentialIDs  []int64         `json:"credential_ids"`
	Media          []MediaRef      `json:"media"`
	PlatformConfig json.RawMessage `json:"platform_config,omitempty"`
}

// MediaRef points at an object already stored by the media service.
type MediaRef struct {
	Key      string `json:"key"`
	MimeType string `json:"mime_type"`
	Size     int64  `json:"size"`
}

type PoolStats struct {
	Name    string `json:"name"`
	Pending int64  `json:"pending"`
	Due     int64  `json:"due"`
}
