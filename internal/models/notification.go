package models

import (
	"time"

	"github.com/uptrace/bun"
)

// ProcessedNotification marks a gateway notification id as fully handled.
type ProcessedNotification struct {
	bun.BaseModel `bun:"table:processed_notifications"`

	NotificationID string    `bun:"notification_id,pk" json:"notification_id"`
	Kind           string    `bun:"kind,notnull" json:"kind"`
	Outcome        string    `bun:"outcome,notnull" json:"outcome"`
	ProcessedAt    time.Time `bun:"processed_at,notnull" json:"processed_at"`
}
