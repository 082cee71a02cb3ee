package registration

import (
	"context"
	"fmt"

	"ms-registration/internal/logger"
	"ms-registration/internal/models"
)

type Promotion struct {
	RegistrationID string `json:"registration_id,omitempty"`
	EventID        string `json:"event_id"`
	PartySize      int    `json:"party_size,omitempty"`
	Promoted       bool   `json:"promoted"`
}

type WaitlistManager struct {
	store    Datastore
	notifier Notifier
	logger   *logger.Logger
	intents  *intentIssuer
}

func NewWaitlistManager(deps Deps) *WaitlistManager {
	return &WaitlistManager{
		store:    deps.Store,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		intents:  &intentIssuer{store: deps.Store, gateway: deps.Gateway, logger: deps.Logger},
	}
}

// PromoteNext confirms the oldest waitlisted party that fits the capacity
// free right now. Larger parties ahead of it keep their place. Promoted is
// false when nobody fits.
func (w *WaitlistManager) PromoteNext(ctx context.Context, eventID string) (Promotion, error) {
	none := Promotion{EventID: eventID}

	tx, err := w.store.BeginAtomic(ctx)
	if err != nil {
		return none, AsTransient("begin promotion", err)
	}
	defer tx.Rollback()

	event, err := tx.GetEventCapacity(ctx, eventID)
	if err != nil {
		return none, AsTransient("lock event", err)
	}
	confirmed, err := tx.SumConfirmedPartySize(ctx, eventID)
	if err != nil {
		return none, AsTransient("sum confirmed seats", err)
	}
	free, limited := event.FreeCapacity(confirmed)
	if limited && free == 0 {
		return none, nil
	}

	waiting, err := tx.ListWaitlisted(ctx, eventID)
	if err != nil {
		return none, AsTransient("list waitlist", err)
	}

	payment := initialPaymentStatus(event)
	var chosen *models.Registration
	for i := range waiting {
		candidate := &waiting[i]
		if limited && candidate.PartySize > free {
			w.logger.Debug("WAITLIST", fmt.Sprintf("Skipping registration %s: party of %d exceeds %d free seats", candidate.ID, candidate.PartySize, free))
			continue
		}
		ok, err := tx.UpdateRegistrationStatus(ctx, candidate.ID, models.RegistrationWaitlist, models.RegistrationConfirmed, payment)
		if err != nil {
			return none, AsTransient("promote registration", err)
		}
		if !ok {
			// Cancelled while we were choosing.
			continue
		}
		candidate.RegistrationStatus = models.RegistrationConfirmed
		candidate.PaymentStatus = payment
		chosen = candidate
		break
	}
	if chosen == nil {
		return none, nil
	}
	if err := tx.Commit(); err != nil {
		return none, AsTransient("commit promotion", err)
	}

	w.logger.LogWaitlist("PROMOTE", eventID, fmt.Sprintf("registration %s (party %d) confirmed, %d seats were free", chosen.ID, chosen.PartySize, free))
	notify(ctx, w.notifier, w.logger, models.MessagePromoted, chosen.ID)

	if payment == models.PaymentPending {
		if _, err := w.intents.issue(ctx, chosen, event); err != nil {
			w.logger.Error("PAYMENT", fmt.Sprintf("Promoted registration %s without payment intent: %v", chosen.ID, err))
		}
	}

	return Promotion{
		RegistrationID: chosen.ID,
		EventID:        eventID,
		PartySize:      chosen.PartySize,
		Promoted:       true,
	}, nil
}

// FillFreedCapacity promotes until nothing else fits. Each promotion is its
// own atomic unit, so a racing admission may take the seats first.
func (w *WaitlistManager) FillFreedCapacity(ctx context.Context, eventID string) ([]Promotion, error) {
	var promoted []Promotion
	for {
		p, err := w.PromoteNext(ctx, eventID)
		if err != nil {
			return promoted, err
		}
		if !p.Promoted {
			return promoted, nil
		}
		promoted = append(promoted, p)
	}
}
