package models

import (
	"time"

	"github.com/uptrace/bun"
)

type RegistrationStatus string

const (
	RegistrationConfirmed RegistrationStatus = "confirmed"
	RegistrationWaitlist  RegistrationStatus = "waitlist"
	RegistrationCancelled RegistrationStatus = "cancelled"
)

type PaymentStatus string

const (
	PaymentNotRequired PaymentStatus = "not_required"
	PaymentPending     PaymentStatus = "pending"
	PaymentPaid        PaymentStatus = "paid"
	PaymentRefunded    PaymentStatus = "refunded"
	PaymentFailed      PaymentStatus = "failed"
)

type Registration struct {
	bun.BaseModel `bun:"table:registrations"`

	ID                 string             `bun:"id,pk" json:"id"`
	EventID            string             `bun:"event_id,notnull" json:"event_id"`
	AttendeeEmail      string             `bun:"attendee_email,notnull" json:"attendee_email"`
	AttendeeName       string             `bun:"attendee_name,nullzero" json:"attendee_name,omitempty"`
	PartySize          int                `bun:"party_size,notnull" json:"party_size"`
	RegistrationStatus RegistrationStatus `bun:"registration_status,notnull" json:"registration_status"`
	PaymentStatus      PaymentStatus      `bun:"payment_status,notnull" json:"payment_status"`
	PaymentIntentID    string             `bun:"payment_intent_id,nullzero" json:"payment_intent_id,omitempty"`
	CreatedAt          time.Time          `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt          time.Time          `bun:"updated_at,nullzero" json:"updated_at,omitempty"`
}

func (r *Registration) IsConfirmed() bool {
	return r.RegistrationStatus == RegistrationConfirmed
}

func (r *Registration) IsCancelled() bool {
	return r.RegistrationStatus == RegistrationCancelled
}
