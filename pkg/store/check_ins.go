package store

import (
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/wpamesh/sonny-mesh/pkg/models"
)

// CheckInStore persists check-in history.
type CheckInStore interface {
	// Add records one check-in.
	Add(c models.CheckIn) error
	// Latest retrieves an owner's most recent check-in, nil when none.
	Latest(ownerID string) (*models.CheckIn, error)
}

type postgresCheckInStore struct {
	db *sqlx.DB
}

// NewCheckInStore creates a Postgres-backed check-in store.
func NewCheckInStore(db *sqlx.DB) CheckInStore {
	return &postgresCheckInStore{db: db}
}

func (s *postgresCheckInStore) Add(c models.CheckIn) error {
	stmt := `
	INSERT INTO check_ins (owner_id, latitude, longitude, checked_at)
	VALUES (:owner_id, :latitude, :longitude, :checked_at);
	`
	_, err := s.db.NamedExec(stmt, c)
	return err
}

func (s *postgresCheckInStore) Latest(ownerID string) (*models.CheckIn, error) {
	query := `SELECT * FROM check_ins WHERE owner_id = $1 ORDER BY checked_at DESC LIMIT 1;`
	var c models.CheckIn
	err := s.db.Get(&c, query, ownerID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}
