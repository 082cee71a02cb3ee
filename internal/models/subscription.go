package models

import (
	"time"

	"github.com/uptrace/bun"
)

type SubscriptionStatus string

const (
	SubscriptionActive        SubscriptionStatus = "active"
	SubscriptionPaymentFailed SubscriptionStatus = "payment_failed"
	SubscriptionCanceled      SubscriptionStatus = "canceled"
)

// Subscription is a recurring donation. Updates copy the gateway's status
// verbatim, so values outside the constants above can appear.
type Subscription struct {
	bun.BaseModel `bun:"table:subscriptions"`

	ID                   string             `bun:"id,pk" json:"id"`
	StripeSubscriptionID string             `bun:"stripe_subscription_id,notnull,unique" json:"stripe_subscription_id"`
	Status               SubscriptionStatus `bun:"status,notnull" json:"status"`
	NextPaymentDate      *time.Time         `bun:"next_payment_date" json:"next_payment_date,omitempty"`
	DonorEmail           string             `bun:"donor_email,nullzero" json:"donor_email,omitempty"`
	Amount               int64              `bun:"amount,notnull" json:"amount"`
	Currency             string             `bun:"currency,nullzero" json:"currency,omitempty"`
	CreatedAt            time.Time          `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt            time.Time          `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

func (s *Subscription) IsActive() bool {
	return s.Status == SubscriptionActive
}

// IsTerminal reports whether the subscription can no longer be charged.
func (s *Subscription) IsTerminal() bool {
	switch s.Status {
	case SubscriptionCanceled, "incomplete_expired":
		return true
	}
	return false
}
