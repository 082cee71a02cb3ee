package models

import (
	"time"

	"github.com/uptrace/bun"
)

type DonationKind string

const (
	DonationOneTime   DonationKind = "one_time"
	DonationRecurring DonationKind = "recurring"
)

// Donation records a realized charge. Rows are only ever inserted.
type Donation struct {
	bun.BaseModel `bun:"table:donations"`

	ID               string       `bun:"id,pk" json:"id"`
	Kind             DonationKind `bun:"kind,notnull" json:"kind"`
	RegistrationID   string       `bun:"registration_id,nullzero" json:"registration_id,omitempty"`
	SubscriptionID   string       `bun:"subscription_id,nullzero" json:"subscription_id,omitempty"`
	GatewayReference string       `bun:"gateway_reference,notnull" json:"gateway_reference"`
	Amount           int64        `bun:"amount,notnull" json:"amount"`
	Currency         string       `bun:"currency,notnull" json:"currency"`
	CreatedAt        time.Time    `bun:"created_at,notnull" json:"created_at"`
}
