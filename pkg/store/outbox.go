package store

import (
	"database/sql"

	"github.com/jmoiron/sqlx"

	"github.com/wpamesh/sonny-mesh/pkg/models"
)

var selectOutbox = `SELECT * FROM message_outbox`

// OutboxStore parks messages that exhausted their retry budget so they can
// be resent manually later.
type OutboxStore interface {
	// Add inserts or replaces a parked message.
	Add(msg models.Message) error
	// ListPending retrieves up to limit parked messages, oldest first.
	ListPending(limit int) ([]models.Message, error)
	// Delete removes a parked message after successful resend.
	Delete(messageID string) error
}

type postgresOutboxStore struct {
	db *sqlx.DB
}

// NewOutboxStore creates a Postgres-backed outbox.
func NewOutboxStore(db *sqlx.DB) OutboxStore {
	return &postgresOutboxStore{db: db}
}

func (s *postgresOutboxStore) Add(msg models.Message) error {
	stmt := `
	INSERT INTO message_outbox
		(message_id, sender_id, recipient_id, broadcast_scope, scope, payload, created_at, delivery_state, retry_count)
	VALUES
		(:message_id, :sender_id, :recipient_id, :broadcast_scope, :scope, :payload, :created_at, :delivery_state, :retry_count)
	ON CONFLICT (message_id) DO NOTHING
	;`
	_, err := s.db.NamedExec(stmt, msg)
	return err
}

func (s *postgresOutboxStore) ListPending(limit int) ([]models.Message, error) {
	query := selectOutbox + ` ORDER BY created_at LIMIT $1;`
	msgs := []models.Message{}
	err := s.db.Select(&msgs, query, limit)
	if err == sql.ErrNoRows {
		return msgs, nil
	}
	return msgs, err
}

func (s *postgresOutboxStore) Delete(messageID string) error {
	_, err := s.db.Exec(`DELETE FROM message_outbox WHERE message_id = $1;`, messageID)
	return err
}
