package lifecycle

import (
	"time"

	"github.com/botoralo/botworker/internal/botworker/store"
)

// BotInfo is the full view of one bot.
type BotInfo struct {
	ID              string     `json:"id"`
	ExternalID      string     `json:"botoraloBotId"`
	Name            string     `json:"name"`
	MemoryMB        int        `json:"memory_mb"`
	Status          string     `json:"status"`
	ContainerID     *string    `json:"container_id"`
	UptimeStartedAt *time.Time `json:"uptime_started_at"`
	AutoRestart     bool       `json:"auto_restart"`
	CreatedAt       time.Time  `json:"created_at"`
}

// BotSummary is the list view of a bot. It never carries the sandbox handle.
type BotSummary struct {
	ID         string `json:"id"`
	ExternalID string `json:"botoraloBotId"`
	Name       string `json:"name"`
	Status     string `json:"status"`
}

// StartResult reports the sandbox a start produced or found.
type StartResult struct {
	// Status is "started" for a new sandbox and "running" when the bot's
	// sandbox was already alive.
	Status      string `json:"status"`
	ContainerID string `json:"container_id"`
}

func infoFrom(b *store.Bot) *BotInfo {
	info := &BotInfo{
		ID:          b.ID,
		ExternalID:  b.ExternalID,
		Name:        b.Name,
		MemoryMB:    b.MemoryMB,
		Status:      string(b.Status),
		AutoRestart: b.AutoRestart,
		CreatedAt:   b.CreatedAt,
	}
	if b.ContainerID.Valid {
		id := b.ContainerID.String
		info.ContainerID = &id
	}
	if b.UptimeStartedAt.Valid {
		t := b.UptimeStartedAt.Time
		info.UptimeStartedAt = &t
	}
	return info
}

func summaryFrom(b *store.Bot) BotSummary {
	return BotSummary{ID: b.ID, ExternalID: b.ExternalID, Name: b.Name, Status: string(b.Status)}
}
