package questions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/learnsphere/backend/internal/models"
)

// Repository handles conference-question persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository creates a questions repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Create inserts a new question in idle status.
func (r *Repository) Create(ctx context.Context, q *models.ConferenceQuestion) error {
	options, err := json.Marshal(q.Options)
	if err != nil {
		return fmt.Errorf("marshal options: %w", err)
	}
	const query = `INSERT INTO conference_questions (id, conference_id, question_text, options, correct_option, status, is_live)
		VALUES (gen_random_uuid(), $1, $2, $3, $4, 'idle', FALSE)
		RETURNING id, status, is_live, created_at, updated_at`
	return r.pool.QueryRow(ctx, query, q.ConferenceID, q.QuestionText, options, q.CorrectOption).
		Scan(&q.ID, &q.Status, &q.IsLive, &q.CreatedAt, &q.UpdatedAt)
}

// FindQuestionByID returns a question by ID, or nil when absent.
func (r *Repository) FindQuestionByID(ctx context.Context, id uuid.UUID) (*models.ConferenceQuestion, error) {
	const query = `SELECT id, conference_id, question_text, options, correct_option, status, is_live, results, created_at, updated_at
		FROM conference_questions WHERE id = $1`
	q, err := scanQuestion(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return q, nil
}

// ListByConference returns all questions of a conference, newest first.
func (r *Repository) ListByConference(ctx context.Context, conferenceID uuid.UUID) ([]models.ConferenceQuestion, error) {
	const query = `SELECT id, conference_id, question_text, options, correct_option, status, is_live, results, created_at, updated_at
		FROM conference_questions WHERE conference_id = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, conferenceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []models.ConferenceQuestion
	for rows.Next() {
		q, err := scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *q)
	}
	return list, rows.Err()
}

// BatchUpdateLiveFlag marks liveQuestionID live/active and batch-closes
// every other question of the conference, in one transaction.
func (r *Repository) BatchUpdateLiveFlag(ctx context.Context, conferenceID, liveQuestionID uuid.UUID) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	const closeOthers = `UPDATE conference_questions
		SET is_live = FALSE, status = 'closed', updated_at = NOW()
		WHERE conference_id = $1 AND id <> $2 AND is_live = TRUE`
	if _, err := tx.Exec(ctx, closeOthers, conferenceID, liveQuestionID); err != nil {
		return err
	}
	const markLive = `UPDATE conference_questions
		SET is_live = TRUE, status = 'active', updated_at = NOW()
		WHERE id = $1`
	if _, err := tx.Exec(ctx, markLive, liveQuestionID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// PersistQuestionCloseSnapshot writes the final results onto the question's
// closed record.
func (r *Repository) PersistQuestionCloseSnapshot(ctx context.Context, questionID uuid.UUID, results models.QuestionResults) error {
	body, err := json.Marshal(results)
	if err != nil {
		return fmt.Errorf("marshal results: %w", err)
	}
	const query = `UPDATE conference_questions
		SET results = $2, status = 'closed', is_live = FALSE, updated_at = NOW()
		WHERE id = $1`
	_, err = r.pool.Exec(ctx, query, questionID, body)
	return err
}

func scanQuestion(row pgx.Row) (*models.ConferenceQuestion, error) {
	var q models.ConferenceQuestion
	var options []byte
	var results []byte
	err := row.Scan(&q.ID, &q.ConferenceID, &q.QuestionText, &options, &q.CorrectOption, &q.Status, &q.IsLive, &results, &q.CreatedAt, &q.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(options, &q.Options); err != nil {
		return nil, fmt.Errorf("unmarshal options: %w", err)
	}
	if len(results) > 0 {
		var res models.QuestionResults
		if err := json.Unmarshal(results, &res); err != nil {
			return nil, fmt.Errorf("unmarshal results: %w", err)
		}
		q.Results = &res
	}
	return &q, nil
}
