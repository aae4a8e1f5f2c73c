package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/prime-exam-api/internal/models"
)

// RankRepository manages derived standing rows with change-detecting upserts.
type RankRepository struct {
	db *sqlx.DB
}

// NewRankRepository constructs a RankRepository.
func NewRankRepository(db *sqlx.DB) *RankRepository {
	return &RankRepository{db: db}
}

// UpsertBatch writes one student's recomputed rank rows inside a single
// transaction, skipping rows whose stored values already match.
func (r *RankRepository) UpsertBatch(ctx context.Context, ranks []models.Rank) (Outcome, error) {
	if len(ranks) == 0 {
		return OutcomeUnchanged, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return OutcomeUnchanged, err
	}
	outcome := OutcomeUnchanged
	now := time.Now().UTC()
	const lookup = `SELECT id, student_id, exam_id, cohort_type, field, position, participants, updated_at
        FROM ranks WHERE student_id = $1 AND cohort_type = $2 AND field = $3 FOR UPDATE`
	const insert = `INSERT INTO ranks (id, student_id, exam_id, cohort_type, field, position, participants, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`
	const update = `UPDATE ranks SET position = $2, participants = $3, updated_at = $4 WHERE id = $1`
	for i := range ranks {
		var existing models.Rank
		err := tx.GetContext(ctx, &existing, lookup, ranks[i].StudentID, ranks[i].CohortType, ranks[i].Field)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			ranks[i].ID = uuid.NewString()
			ranks[i].UpdatedAt = now
			if _, err := tx.ExecContext(ctx, insert, ranks[i].ID, ranks[i].StudentID, ranks[i].ExamID,
				ranks[i].CohortType, ranks[i].Field, ranks[i].Position, ranks[i].Participants, now); err != nil {
				tx.Rollback() //nolint:errcheck
				return OutcomeUnchanged, wrapWriteConflict(err, "insert rank")
			}
			outcome = outcome.Merge(OutcomeCreated)
		case err != nil:
			tx.Rollback() //nolint:errcheck
			return OutcomeUnchanged, fmt.Errorf("lookup rank: %w", err)
		case existing.Position == ranks[i].Position && existing.Participants == ranks[i].Participants:
			ranks[i].ID = existing.ID
			ranks[i].UpdatedAt = existing.UpdatedAt
		default:
			ranks[i].ID = existing.ID
			ranks[i].UpdatedAt = now
			if _, err := tx.ExecContext(ctx, update, existing.ID, ranks[i].Position, ranks[i].Participants, now); err != nil {
				tx.Rollback() //nolint:errcheck
				return OutcomeUnchanged, wrapWriteConflict(err, "update rank")
			}
			outcome = outcome.Merge(OutcomeUpdated)
		}
	}
	if err := tx.Commit(); err != nil {
		return OutcomeUnchanged, fmt.Errorf("commit ranks: %w", err)
	}
	return outcome, nil
}

// ListByStudent returns a student's standing rows.
func (r *RankRepository) ListByStudent(ctx context.Context, studentID string) ([]models.Rank, error) {
	const query = `SELECT id, student_id, exam_id, cohort_type, field, position, participants, updated_at
        FROM ranks WHERE student_id = $1 ORDER BY cohort_type ASC, field ASC`
	var ranks []models.Rank
	if err := r.db.SelectContext(ctx, &ranks, query, studentID); err != nil {
		return nil, fmt.Errorf("list student ranks: %w", err)
	}
	return ranks, nil
}

// FindForStudent returns one standing row, sql.ErrNoRows when absent.
func (r *RankRepository) FindForStudent(ctx context.Context, studentID string, cohortType models.CohortType, field string) (*models.Rank, error) {
	const query = `SELECT id, student_id, exam_id, cohort_type, field, position, participants, updated_at
        FROM ranks WHERE student_id = $1 AND cohort_type = $2 AND field = $3 LIMIT 1`
	var rank models.Rank
	if err := r.db.GetContext(ctx, &rank, query, studentID, cohortType, field); err != nil {
		return nil, err
	}
	return &rank, nil
}
