package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/prime-exam-api/internal/models"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
)

// ScoreRepository manages derived score rows with change-detecting upserts.
type ScoreRepository struct {
	db *sqlx.DB
}

// NewScoreRepository constructs a ScoreRepository.
func NewScoreRepository(db *sqlx.DB) *ScoreRepository {
	return &ScoreRepository{db: db}
}

// StudentFieldScore pairs a student with their score for one field.
type StudentFieldScore struct {
	StudentID string  `db:"student_id"`
	Points    float64 `db:"points"`
}

// UpsertBatch writes a student's recomputed score rows. Rows whose stored
// values already match are skipped; the whole batch commits or rolls back as
// one transaction. A unique-violation surfaces as ErrConflict so the caller
// can retry the recomputation.
func (r *ScoreRepository) UpsertBatch(ctx context.Context, scores []models.Score) (Outcome, error) {
	if len(scores) == 0 {
		return OutcomeUnchanged, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return OutcomeUnchanged, err
	}
	outcome := OutcomeUnchanged
	now := time.Now().UTC()
	const lookup = `SELECT id, student_id, exam_id, field, correct_count, points, updated_at
        FROM scores WHERE student_id = $1 AND field = $2 FOR UPDATE`
	const insert = `INSERT INTO scores (id, student_id, exam_id, field, correct_count, points, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`
	const update = `UPDATE scores SET correct_count = $2, points = $3, updated_at = $4 WHERE id = $1`
	for i := range scores {
		var existing models.Score
		err := tx.GetContext(ctx, &existing, lookup, scores[i].StudentID, scores[i].Field)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			scores[i].ID = uuid.NewString()
			scores[i].UpdatedAt = now
			if _, err := tx.ExecContext(ctx, insert, scores[i].ID, scores[i].StudentID, scores[i].ExamID,
				scores[i].Field, scores[i].CorrectCount, scores[i].Points, scores[i].UpdatedAt); err != nil {
				tx.Rollback() //nolint:errcheck
				return OutcomeUnchanged, wrapWriteConflict(err, "insert score")
			}
			outcome = outcome.Merge(OutcomeCreated)
		case err != nil:
			tx.Rollback() //nolint:errcheck
			return OutcomeUnchanged, fmt.Errorf("lookup score: %w", err)
		case existing.CorrectCount == scores[i].CorrectCount && existing.Points == scores[i].Points:
			scores[i].ID = existing.ID
			scores[i].UpdatedAt = existing.UpdatedAt
		default:
			scores[i].ID = existing.ID
			scores[i].UpdatedAt = now
			if _, err := tx.ExecContext(ctx, update, existing.ID, scores[i].CorrectCount, scores[i].Points, now); err != nil {
				tx.Rollback() //nolint:errcheck
				return OutcomeUnchanged, wrapWriteConflict(err, "update score")
			}
			outcome = outcome.Merge(OutcomeUpdated)
		}
	}
	if err := tx.Commit(); err != nil {
		return OutcomeUnchanged, fmt.Errorf("commit scores: %w", err)
	}
	return outcome, nil
}

// ListByStudent returns a student's score rows.
func (r *ScoreRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Score, error) {
	const query = `SELECT id, student_id, exam_id, field, correct_count, points, updated_at
        FROM scores WHERE student_id = $1 ORDER BY field ASC`
	var scores []models.Score
	if err := r.db.SelectContext(ctx, &scores, query, studentID); err != nil {
		return nil, fmt.Errorf("list student scores: %w", err)
	}
	return scores, nil
}

// FieldScores returns every student's score for one field of an exam,
// optionally restricted to a set of students.
func (r *ScoreRepository) FieldScores(ctx context.Context, examID, field string, studentIDs []string) ([]StudentFieldScore, error) {
	query := `SELECT student_id, points FROM scores WHERE exam_id = $1 AND field = $2`
	args := []interface{}{examID, field}
	if len(studentIDs) > 0 {
		query += ` AND student_id = ANY($3)`
		args = append(args, pq.Array(studentIDs))
	}
	var scores []StudentFieldScore
	if err := r.db.SelectContext(ctx, &scores, query, args...); err != nil {
		return nil, fmt.Errorf("field scores: %w", err)
	}
	return scores, nil
}

func wrapWriteConflict(err error, msg string) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code.Class() == "23" {
		return appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, appErrors.ErrConflict.Message)
	}
	return fmt.Errorf("%s: %w", msg, err)
}
