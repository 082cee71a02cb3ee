package registration

import (
	"context"
	"fmt"

	"ms-registration/internal/logger"
	"ms-registration/internal/models"
)

// intentIssuer creates gateway payment intents after the admitting unit has
// committed, then records the intent id in a unit of its own.
type intentIssuer struct {
	store   Datastore
	gateway PaymentGateway
	logger  *logger.Logger
}

func (i *intentIssuer) issue(ctx context.Context, reg *models.Registration, event *models.Event) (*models.PaymentIntent, error) {
	amount := event.CostAmount * int64(reg.PartySize)
	intent, err := i.gateway.CreatePaymentIntent(ctx, amount, event.Currency, map[string]string{
		"registration_id": reg.ID,
		"event_id":        reg.EventID,
	})
	if err != nil {
		return nil, fmt.Errorf("create payment intent for registration %s: %w", reg.ID, err)
	}

	tx, err := i.store.BeginAtomic(ctx)
	if err != nil {
		return nil, AsTransient("begin payment intent update", err)
	}
	defer tx.Rollback()

	current, err := tx.LockRegistration(ctx, reg.ID)
	if err != nil {
		return nil, AsTransient("lock registration", err)
	}
	if !current.IsConfirmed() || current.PaymentStatus != models.PaymentPending {
		tx.Rollback()
		i.discard(ctx, intent.ID)
		return nil, invalidf("registration %s no longer awaits payment (%s/%s)", reg.ID, current.RegistrationStatus, current.PaymentStatus)
	}
	if err := tx.SetPaymentIntent(ctx, reg.ID, intent.ID); err != nil {
		return nil, AsTransient("store payment intent", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, AsTransient("commit payment intent", err)
	}
	if current.PaymentIntentID != "" && current.PaymentIntentID != intent.ID {
		i.discard(ctx, current.PaymentIntentID)
	}

	i.logger.LogAdmission("PAYMENT_INTENT", reg.ID, fmt.Sprintf("intent %s for %d %s", intent.ID, amount, event.Currency))
	return intent, nil
}

// discard cancels an intent nobody can use anymore.
func (i *intentIssuer) discard(ctx context.Context, intentID string) {
	if err := i.gateway.CancelPaymentIntent(ctx, intentID); err != nil {
		i.logger.Warn("PAYMENT", fmt.Sprintf("Failed to cancel payment intent %s: %v", intentID, err))
	}
}

func notify(ctx context.Context, n Notifier, log *logger.Logger, kind models.MessageKind, registrationID string) {
	if n == nil {
		return
	}
	if err := n.Notify(ctx, kind, registrationID); err != nil {
		log.Warn("NOTIFY", fmt.Sprintf("Failed to send %s for registration %s: %v", kind, registrationID, err))
	}
}
