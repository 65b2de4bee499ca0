package store

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/wpamesh/sonny-mesh/pkg/models"
)

// TrustProfileStore persists trust profiles.
type TrustProfileStore interface {
	// Get retrieves a profile, nil when none exists.
	Get(userID string) (*models.TrustProfile, error)
	// Save inserts or updates a profile.
	Save(p models.TrustProfile) error
}

type trustProfileRow struct {
	UserID           string    `db:"user_id"`
	UbuntuScore      float64   `db:"ubuntu_score"`
	InteractionCount int       `db:"interaction_count"`
	Qualities        []byte    `db:"qualities"`
	UpdatedAt        time.Time `db:"updated_at"`
}

type postgresTrustProfileStore struct {
	db *sqlx.DB
}

// NewTrustProfileStore creates a Postgres-backed trust profile store.
func NewTrustProfileStore(db *sqlx.DB) TrustProfileStore {
	return &postgresTrustProfileStore{db: db}
}

func (s *postgresTrustProfileStore) Get(userID string) (*models.TrustProfile, error) {
	query := `SELECT * FROM trust_profiles WHERE user_id = $1;`
	var row trustProfileRow
	err := s.db.Get(&row, query, userID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	p := &models.TrustProfile{
		UserID:           row.UserID,
		UbuntuScore:      row.UbuntuScore,
		InteractionCount: row.InteractionCount,
		Qualities:        map[string]float64{},
		UpdatedAt:        row.UpdatedAt,
	}
	if len(row.Qualities) > 0 {
		if err := json.Unmarshal(row.Qualities, &p.Qualities); err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s *postgresTrustProfileStore) Save(p models.TrustProfile) error {
	qualities, err := json.Marshal(p.Qualities)
	if err != nil {
		return err
	}
	row := trustProfileRow{
		UserID:           p.UserID,
		UbuntuScore:      p.UbuntuScore,
		InteractionCount: p.InteractionCount,
		Qualities:        qualities,
		UpdatedAt:        p.UpdatedAt,
	}
	stmt := `
	INSERT INTO trust_profiles (user_id, ubuntu_score, interaction_count, qualities, updated_at)
	VALUES (:user_id, :ubuntu_score, :interaction_count, :qualities, :updated_at)
	ON CONFLICT (user_id)
	DO UPDATE SET
		ubuntu_score = :ubuntu_score,
		interaction_count = :interaction_count,
		qualities = :qualities,
		updated_at = :updated_at
	;`
	_, err = s.db.NamedExec(stmt, row)
	return err
}
