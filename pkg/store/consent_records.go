package store

import (
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/wpamesh/sonny-mesh/pkg/models"
)

var selectConsentRecords = `SELECT * FROM consent_records`

// ConsentStore persists the append-only consent ledger. Entries are never
// updated or deleted; the chain is the audit history.
type ConsentStore interface {
	// Append inserts one ledger entry.
	Append(rec models.ConsentRecord) error
	// ListByOwner retrieves an owner's full history, oldest first.
	ListByOwner(ownerID string) ([]models.ConsentRecord, error)
	// Chain retrieves one (requester, grantee, scope) chain, oldest first.
	Chain(requesterID, granteeID, scope string) ([]models.ConsentRecord, error)
}

type postgresConsentStore struct {
	db *sqlx.DB
}

// NewConsentStore creates a Postgres-backed consent store.
func NewConsentStore(db *sqlx.DB) ConsentStore {
	return &postgresConsentStore{db: db}
}

func (s *postgresConsentStore) Append(rec models.ConsentRecord) error {
	stmt := `
	INSERT INTO consent_records
		(id, owner_id, requester_id, grantee_id, scope, status, reason, prev_id, created_at, granted_at, expires_at)
	VALUES
		(:id, :owner_id, :requester_id, :grantee_id, :scope, :status, :reason, :prev_id, :created_at, :granted_at, :expires_at);
	`
	_, err := s.db.NamedExec(stmt, rec)
	return err
}

func (s *postgresConsentStore) ListByOwner(ownerID string) ([]models.ConsentRecord, error) {
	query := selectConsentRecords + ` WHERE owner_id = $1 ORDER BY created_at, id;`
	recs := []models.ConsentRecord{}
	err := s.db.Select(&recs, query, ownerID)
	if err == sql.ErrNoRows {
		return recs, nil
	}
	return recs, err
}

func (s *postgresConsentStore) Chain(requesterID, granteeID, scope string) ([]models.ConsentRecord, error) {
	query := selectConsentRecords + `
	WHERE requester_id = $1 AND grantee_id = $2 AND scope = $3
	ORDER BY created_at, id;`
	recs := []models.ConsentRecord{}
	err := s.db.Select(&recs, query, requesterID, granteeID, scope)
	if err == sql.ErrNoRows {
		return recs, nil
	}
	return recs, err
}
