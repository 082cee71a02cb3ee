package models

import "time"

// MessageKind selects the attendee email the notifier should send.
type MessageKind string

const (
	MessageConfirmed     MessageKind = "registration.confirmed"
	MessageWaitlisted    MessageKind = "registration.waitlisted"
	MessagePromoted      MessageKind = "registration.promoted"
	MessageCancelled     MessageKind = "registration.cancelled"
	MessagePaymentFailed MessageKind = "registration.payment_failed"
	MessageRefunded      MessageKind = "registration.refunded"
)

// AttendeeMessage is the payload published for the mail service.
type AttendeeMessage struct {
	Kind           MessageKind `json:"kind"`
	RegistrationID string      `json:"registration_id"`
	CheckInPass    string      `json:"checkin_pass,omitempty"` // base64 PNG
	Timestamp      time.Time   `json:"timestamp"`
}

// CarriesCheckInPass reports whether the attendee now holds a seat.
func (k MessageKind) CarriesCheckInPass() bool {
	return k == MessageConfirmed || k == MessagePromoted
}
