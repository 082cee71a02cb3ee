package registration

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"ms-registration/internal/logger"
	"ms-registration/internal/models"
)

type AdmissionRequest struct {
	EventID       string
	AttendeeEmail string
	AttendeeName  string
	PartySize     int
}

type Admission struct {
	RegistrationID  string                    `json:"registration_id"`
	EventID         string                    `json:"event_id"`
	Outcome         models.RegistrationStatus `json:"registration_status"`
	PaymentStatus   models.PaymentStatus      `json:"payment_status"`
	PaymentIntentID string                    `json:"payment_intent_id,omitempty"`
	ClientSecret    string                    `json:"client_secret,omitempty"`
}

// Deps are the collaborators shared by the admission controller and the
// waitlist manager.
type Deps struct {
	Store    Datastore
	Gateway  PaymentGateway
	Notifier Notifier
	Logger   *logger.Logger
	Now      func() time.Time
}

func (d Deps) clock() func() time.Time {
	if d.Now != nil {
		return d.Now
	}
	return time.Now
}

type AdmissionController struct {
	store    Datastore
	gateway  PaymentGateway
	notifier Notifier
	logger   *logger.Logger
	now      func() time.Time
	intents  *intentIssuer
	waitlist *WaitlistManager
}

func NewAdmissionController(deps Deps, waitlist *WaitlistManager) *AdmissionController {
	return &AdmissionController{
		store:    deps.Store,
		gateway:  deps.Gateway,
		notifier: deps.Notifier,
		logger:   deps.Logger,
		now:      deps.clock(),
		intents:  &intentIssuer{store: deps.Store, gateway: deps.Gateway, logger: deps.Logger},
		waitlist: waitlist,
	}
}

// Decide places a party against the event's remaining capacity. Parties are
// never split: one that does not fit whole goes to the waitlist.
func Decide(event *models.Event, confirmed, partySize int) models.RegistrationStatus {
	free, limited := event.FreeCapacity(confirmed)
	if !limited || partySize <= free {
		return models.RegistrationConfirmed
	}
	return models.RegistrationWaitlist
}

func initialPaymentStatus(event *models.Event) models.PaymentStatus {
	if event.RequiresPayment() {
		return models.PaymentPending
	}
	return models.PaymentNotRequired
}

// TryAdmit reads capacity and inserts the registration in one atomic unit.
func (a *AdmissionController) TryAdmit(ctx context.Context, req AdmissionRequest) (*Admission, error) {
	email := strings.ToLower(strings.TrimSpace(req.AttendeeEmail))
	switch {
	case req.PartySize < 1:
		return nil, invalidf("party size must be at least 1, got %d", req.PartySize)
	case email == "":
		return nil, invalidf("attendee email is required")
	case strings.TrimSpace(req.EventID) == "":
		return nil, invalidf("event id is required")
	}

	tx, err := a.store.BeginAtomic(ctx)
	if err != nil {
		return nil, AsTransient("begin admission", err)
	}
	defer tx.Rollback()

	event, err := tx.GetEventCapacity(ctx, req.EventID)
	if err != nil {
		return nil, AsTransient("lock event", err)
	}
	if !event.RegistrationRequired {
		return nil, invalidf("event %s does not take registrations", event.ID)
	}
	now := a.now().UTC()
	if event.RegistrationClosed(now) {
		return nil, fmt.Errorf("event %s: %w", event.ID, ErrRegistrationClosed)
	}

	confirmed, err := tx.SumConfirmedPartySize(ctx, event.ID)
	if err != nil {
		return nil, AsTransient("sum confirmed seats", err)
	}

	reg := &models.Registration{
		ID:                 uuid.NewString(),
		EventID:            event.ID,
		AttendeeEmail:      email,
		AttendeeName:       strings.TrimSpace(req.AttendeeName),
		PartySize:          req.PartySize,
		RegistrationStatus: Decide(event, confirmed, req.PartySize),
		PaymentStatus:      initialPaymentStatus(event),
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if err := tx.InsertRegistration(ctx, reg); err != nil {
		return nil, AsTransient("insert registration", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, AsTransient("commit admission", err)
	}

	a.logger.LogAdmission("ADMIT", reg.ID, fmt.Sprintf("event=%s party=%d confirmed_before=%d status=%s payment=%s",
		event.ID, reg.PartySize, confirmed, reg.RegistrationStatus, reg.PaymentStatus))

	admission := &Admission{
		RegistrationID: reg.ID,
		EventID:        reg.EventID,
		Outcome:        reg.RegistrationStatus,
		PaymentStatus:  reg.PaymentStatus,
	}

	if !reg.IsConfirmed() {
		notify(ctx, a.notifier, a.logger, models.MessageWaitlisted, reg.ID)
		return admission, nil
	}
	notify(ctx, a.notifier, a.logger, models.MessageConfirmed, reg.ID)

	if reg.PaymentStatus == models.PaymentPending {
		intent, err := a.intents.issue(ctx, reg, event)
		if err != nil {
			// The seat stays held as pending; EnsurePaymentIntent retries.
			a.logger.Error("PAYMENT", fmt.Sprintf("Registration %s admitted without payment intent: %v", reg.ID, err))
		} else {
			admission.PaymentIntentID = intent.ID
			admission.ClientSecret = intent.ClientSecret
		}
	}
	return admission, nil
}

// EnsurePaymentIntent issues a fresh intent for a confirmed registration that
// still owes payment. A failed payment goes back to pending.
func (a *AdmissionController) EnsurePaymentIntent(ctx context.Context, registrationID string) (*models.PaymentIntent, error) {
	tx, err := a.store.BeginAtomic(ctx)
	if err != nil {
		return nil, AsTransient("begin payment retry", err)
	}
	defer tx.Rollback()

	reg, err := tx.LockRegistration(ctx, registrationID)
	if err != nil {
		return nil, AsTransient("lock registration", err)
	}
	if !reg.IsConfirmed() {
		return nil, invalidf("registration %s is %s; only confirmed seats are charged", reg.ID, reg.RegistrationStatus)
	}
	switch reg.PaymentStatus {
	case models.PaymentPending:
	case models.PaymentFailed:
		if _, err := tx.UpdateRegistrationStatus(ctx, reg.ID, models.RegistrationConfirmed, models.RegistrationConfirmed, models.PaymentPending); err != nil {
			return nil, AsTransient("reset failed payment", err)
		}
		reg.PaymentStatus = models.PaymentPending
	default:
		return nil, invalidf("registration %s has payment status %s", reg.ID, reg.PaymentStatus)
	}

	event, err := tx.GetEvent(ctx, reg.EventID)
	if err != nil {
		return nil, AsTransient("read event", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, AsTransient("commit payment retry", err)
	}
	return a.intents.issue(ctx, reg, event)
}

func (a *AdmissionController) Get(ctx context.Context, registrationID string) (*models.Registration, error) {
	tx, err := a.store.BeginAtomic(ctx)
	if err != nil {
		return nil, AsTransient("begin read", err)
	}
	defer tx.Rollback()

	reg, err := tx.GetRegistration(ctx, registrationID)
	if err != nil {
		return nil, AsTransient("read registration", err)
	}
	return reg, nil
}
