package conferences

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnsphere/backend/internal/models"
)

// Repository handles conference persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a conference repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new conference in draft status.
func (r *Repository) Create(ctx context.Context, c *models.Conference) error {
	const q = `INSERT INTO conferences (id, host_id, title, description, status)
		VALUES (gen_random_uuid(), $1, $2, $3, 'draft')
		RETURNING id, status, created_at, updated_at`
	return r.pool.QueryRow(ctx, q, c.HostID, c.Title, c.Description).
		Scan(&c.ID, &c.Status, &c.CreatedAt, &c.UpdatedAt)
}

// FindConferenceByID returns a conference by ID, or nil when absent.
func (r *Repository) FindConferenceByID(ctx context.Context, id uuid.UUID) (*models.Conference, error) {
	const q = `SELECT id, host_id, title, description, status, created_at, updated_at
		FROM conferences WHERE id = $1`
	var c models.Conference
	err := r.pool.QueryRow(ctx, q, id).
		Scan(&c.ID, &c.HostID, &c.Title, &c.Description, &c.Status, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// List returns conferences, optionally filtered by host.
func (r *Repository) List(ctx context.Context, hostID *uuid.UUID) ([]models.Conference, error) {
	base := `SELECT id, host_id, title, description, status, created_at, updated_at FROM conferences`
	var args []interface{}
	if hostID != nil {
		base += ` WHERE host_id = $1`
		args = append(args, *hostID)
	}
	rows, err := r.pool.Query(ctx, base+` ORDER BY created_at DESC`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.Conference
	for rows.Next() {
		var c models.Conference
		if err := rows.Scan(&c.ID, &c.HostID, &c.Title, &c.Description, &c.Status, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

// UpdateStatus sets the conference lifecycle status.
func (r *Repository) UpdateStatus(ctx context.Context, id uuid.UUID, status models.ConferenceStatus) error {
	const q = `UPDATE conferences SET status = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.pool.Exec(ctx, q, id, status)
	return err
}
