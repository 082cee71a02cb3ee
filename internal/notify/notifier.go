package notify

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"ms-registration/internal/logger"
	"ms-registration/internal/models"
)

// Publisher is satisfied by *kafka.Producer.
type Publisher interface {
	Publish(ctx context.Context, key string, value interface{}) error
}

// PassIssuer is satisfied by *checkin.PassGenerator.
type PassIssuer interface {
	PNG(registrationID string) ([]byte, error)
}

// KafkaNotifier publishes attendee messages for the mail service. Messages
// that give the attendee a seat carry a QR check-in pass.
type KafkaNotifier struct {
	publisher Publisher
	passes    PassIssuer
	log       *logger.Logger
	now       func() time.Time
}

func NewKafkaNotifier(publisher Publisher, passes PassIssuer, log *logger.Logger) *KafkaNotifier {
	return &KafkaNotifier{publisher: publisher, passes: passes, log: log, now: time.Now}
}

func (n *KafkaNotifier) Notify(ctx context.Context, kind models.MessageKind, registrationID string) error {
	msg := models.AttendeeMessage{
		Kind:           kind,
		RegistrationID: registrationID,
		Timestamp:      n.now().UTC(),
	}
	if kind.CarriesCheckInPass() && n.passes != nil {
		png, err := n.passes.PNG(registrationID)
		if err != nil {
			// Send without the pass; it can be reissued.
			n.log.Warn("NOTIFY", fmt.Sprintf("Failed to render check-in pass for %s: %v", registrationID, err))
		} else {
			msg.CheckInPass = base64.StdEncoding.EncodeToString(png)
		}
	}
	return n.publisher.Publish(ctx, registrationID, msg)
}

// LogNotifier only logs. Used when Kafka is disabled.
type LogNotifier struct {
	Logger *logger.Logger
}

func (n LogNotifier) Notify(_ context.Context, kind models.MessageKind, registrationID string) error {
	n.Logger.Info("NOTIFY", fmt.Sprintf("%s -> %s", kind, registrationID))
	return nil
}
