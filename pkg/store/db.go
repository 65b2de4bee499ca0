// Package store provides the Postgres-backed durable state: consent history,
// trust profiles, the undelivered-message outbox and check-in records.
package store

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Connect opens a Postgres connection pool and verifies it with a ping.
func Connect(dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	return db, nil
}

// Migrate applies any pending schema migrations.
func Migrate(db *sqlx.DB) error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("loading migrations: %w", err)
	}
	driver, err := postgres.WithInstance(db.DB, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("preparing migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("preparing migrations: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("applying migrations: %w", err)
	}
	return nil
}

// Stores bundles every record set the services persist.
type Stores struct {
	Consent  ConsentStore
	Trust    TrustProfileStore
	Outbox   OutboxStore
	CheckIns CheckInStore
}

// NewStores builds the full store set over one connection pool.
func NewStores(db *sqlx.DB) *Stores {
	return &Stores{
		Consent:  NewConsentStore(db),
		Trust:    NewTrustProfileStore(db),
		Outbox:   NewOutboxStore(db),
		CheckIns: NewCheckInStore(db),
	}
}
