package registration_test

import (
	"context"
	"sync"

	"ms-registration/internal/models"
	"ms-registration/internal/registration"
)

// faultyStore passes through to a real store and fails the writes a test
// arms, leaving the underlying unit to roll back.
type faultyStore struct {
	registration.Datastore

	mu                 sync.Mutex
	insertRegistration error
	insertDonation     error
	commit             error
}

func (s *faultyStore) arm(fn func(s *faultyStore)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(s)
}

func (s *faultyStore) reset() {
	s.arm(func(s *faultyStore) {
		s.insertRegistration, s.insertDonation, s.commit = nil, nil, nil
	})
}

func (s *faultyStore) fault(pick func(s *faultyStore) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return pick(s)
}

func (s *faultyStore) BeginAtomic(ctx context.Context) (registration.Txn, error) {
	tx, err := s.Datastore.BeginAtomic(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTxn{Txn: tx, store: s}, nil
}

type faultyTxn struct {
	registration.Txn
	store *faultyStore
}

func (t *faultyTxn) InsertRegistration(ctx context.Context, reg *models.Registration) error {
	if err := t.store.fault(func(s *faultyStore) error { return s.insertRegistration }); err != nil {
		return err
	}
	return t.Txn.InsertRegistration(ctx, reg)
}

func (t *faultyTxn) InsertDonation(ctx context.Context, donation *models.Donation) error {
	if err := t.store.fault(func(s *faultyStore) error { return s.insertDonation }); err != nil {
		return err
	}
	return t.Txn.InsertDonation(ctx, donation)
}

// Commit fails without committing. The caller's deferred Rollback discards
// the unit.
func (t *faultyTxn) Commit() error {
	if err := t.store.fault(func(s *faultyStore) error { return s.commit }); err != nil {
		return err
	}
	return t.Txn.Commit()
}
