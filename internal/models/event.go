package models

import (
	"time"

	"github.com/uptrace/bun"
)

type Event struct {
	bun.BaseModel `bun:"table:events"`

	ID                   string     `bun:"id,pk" json:"id"`
	Title                string     `bun:"title,notnull" json:"title"`
	MaxCapacity          *int       `bun:"max_capacity" json:"max_capacity,omitempty"` // nil means unlimited
	RegistrationRequired bool       `bun:"registration_required,notnull" json:"registration_required"`
	CostAmount           int64      `bun:"cost_amount,notnull" json:"cost_amount"` // minor units
	Currency             string     `bun:"currency,notnull" json:"currency"`
	RegistrationDeadline *time.Time `bun:"registration_deadline" json:"registration_deadline,omitempty"`
	CreatedAt            time.Time  `bun:"created_at,notnull,default:current_timestamp" json:"created_at"`
}

// RequiresPayment reports whether registrants are charged for a seat.
func (e *Event) RequiresPayment() bool {
	return e.CostAmount > 0
}

// RegistrationClosed reports whether the deadline has passed at the given instant.
func (e *Event) RegistrationClosed(at time.Time) bool {
	return e.RegistrationDeadline != nil && at.After(*e.RegistrationDeadline)
}

// FreeCapacity returns the seats left once confirmed seats are subtracted.
// The second value is false for events without a capacity limit.
func (e *Event) FreeCapacity(confirmed int) (int, bool) {
	if e.MaxCapacity == nil {
		return 0, false
	}
	free := *e.MaxCapacity - confirmed
	if free < 0 {
		free = 0
	}
	return free, true
}
