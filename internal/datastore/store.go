package datastore

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"ms-registration/internal/models"
	"ms-registration/internal/registration"
)

// Store implements registration.Datastore on bun. On Postgres every lock
// read is SELECT ... FOR UPDATE. SQLite has no row locks, so the sqlite
// store runs on a single connection and transactions serialize whole.
type Store struct {
	Bun      *bun.DB
	lockRows bool
}

var _ registration.Datastore = (*Store)(nil)

type PoolOptions struct {
	MaxOpenConns int
	MaxIdleConns int
	MaxLifetime  time.Duration
}

func New(db *bun.DB) *Store {
	return &Store{Bun: db, lockRows: db.Dialect().Name() == dialect.PG}
}

func OpenPostgres(ctx context.Context, dsn string, pool PoolOptions) (*Store, error) {
	sqldb, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		sqldb.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.MaxLifetime > 0 {
		sqldb.SetConnMaxLifetime(pool.MaxLifetime)
	}
	if err := sqldb.PingContext(ctx); err != nil {
		sqldb.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return New(bun.NewDB(sqldb, pgdialect.New())), nil
}

// OpenSQLite opens a sqlite store and creates its schema. Use ":memory:"
// for a throwaway database.
func OpenSQLite(ctx context.Context, dsn string) (*Store, error) {
	sqldb, err := sql.Open(sqliteshim.ShimName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	sqldb.SetMaxOpenConns(1)
	sqldb.SetMaxIdleConns(1)
	sqldb.SetConnMaxLifetime(0)

	s := New(bun.NewDB(sqldb, sqlitedialect.New()))
	if err := s.CreateSchema(ctx); err != nil {
		sqldb.Close()
		return nil, err
	}
	return s, nil
}

// CreateSchema creates the tables from the bun models. Postgres deployments
// use the SQL migrations instead.
func (s *Store) CreateSchema(ctx context.Context) error {
	tables := []interface{}{
		(*models.Event)(nil),
		(*models.Registration)(nil),
		(*models.Donation)(nil),
		(*models.Subscription)(nil),
		(*models.ProcessedNotification)(nil),
	}
	for _, m := range tables {
		if _, err := s.Bun.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("create table for %T: %w", m, err)
		}
	}

	_, err := s.Bun.NewCreateIndex().
		Model((*models.Registration)(nil)).
		Index("registrations_event_status_created_idx").
		Column("event_id", "registration_status", "created_at").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create registrations index: %w", err)
	}
	return nil
}

func (s *Store) BeginAtomic(ctx context.Context) (registration.Txn, error) {
	tx, err := s.Bun.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &Txn{tx: tx, lockRows: s.lockRows}, nil
}

// InsertEvent is used by seeding and tests; events are otherwise managed by
// the CMS.
func (s *Store) InsertEvent(ctx context.Context, event *models.Event) error {
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now().UTC()
	}
	_, err := s.Bun.NewInsert().Model(event).Exec(ctx)
	return err
}

func (s *Store) Close() error {
	return s.Bun.Close()
}
