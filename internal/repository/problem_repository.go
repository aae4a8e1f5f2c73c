package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/prime-exam-api/internal/models"
)

// ProblemRepository manages persistence for problems and their official keys.
type ProblemRepository struct {
	db *sqlx.DB
}

// NewProblemRepository constructs a ProblemRepository.
func NewProblemRepository(db *sqlx.DB) *ProblemRepository {
	return &ProblemRepository{db: db}
}

// BulkCreate inserts the problem skeleton for an exam in one transaction.
func (r *ProblemRepository) BulkCreate(ctx context.Context, problems []models.Problem) error {
	if len(problems) == 0 {
		return nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	const query = `INSERT INTO problems (id, exam_id, subject_code, number, official_answers, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6)`
	now := time.Now().UTC()
	for i := range problems {
		if problems[i].ID == "" {
			problems[i].ID = uuid.NewString()
		}
		problems[i].UpdatedAt = now
		if _, err := tx.ExecContext(ctx, query,
			problems[i].ID, problems[i].ExamID, problems[i].SubjectCode,
			problems[i].Number, problems[i].OfficialAnswers, problems[i].UpdatedAt); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert problem: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit problems: %w", err)
	}
	return nil
}

// FindByID returns one problem.
func (r *ProblemRepository) FindByID(ctx context.Context, id string) (*models.Problem, error) {
	const query = `SELECT id, exam_id, subject_code, number, official_answers, updated_at FROM problems WHERE id = $1 LIMIT 1`
	var problem models.Problem
	if err := r.db.GetContext(ctx, &problem, query, id); err != nil {
		return nil, err
	}
	return &problem, nil
}

// ListByExam returns every problem of an exam ordered by subject and number.
func (r *ProblemRepository) ListByExam(ctx context.Context, examID string) ([]models.Problem, error) {
	const query = `SELECT id, exam_id, subject_code, number, official_answers, updated_at
        FROM problems WHERE exam_id = $1 ORDER BY subject_code ASC, number ASC`
	var problems []models.Problem
	if err := r.db.SelectContext(ctx, &problems, query, examID); err != nil {
		return nil, fmt.Errorf("list problems: %w", err)
	}
	return problems, nil
}

// ListBySubject returns the problems of one subject ordered by number.
func (r *ProblemRepository) ListBySubject(ctx context.Context, examID, subjectCode string) ([]models.Problem, error) {
	const query = `SELECT id, exam_id, subject_code, number, official_answers, updated_at
        FROM problems WHERE exam_id = $1 AND subject_code = $2 ORDER BY number ASC`
	var problems []models.Problem
	if err := r.db.SelectContext(ctx, &problems, query, examID, subjectCode); err != nil {
		return nil, fmt.Errorf("list subject problems: %w", err)
	}
	return problems, nil
}

// UpsertOfficialAnswer writes the official key for one problem only when the
// stored set differs from the computed one.
func (r *ProblemRepository) UpsertOfficialAnswer(ctx context.Context, examID, subjectCode string, number int, answers []int) (Outcome, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return OutcomeUnchanged, err
	}
	const lookup = `SELECT id, exam_id, subject_code, number, official_answers, updated_at
        FROM problems WHERE exam_id = $1 AND subject_code = $2 AND number = $3 FOR UPDATE`
	var existing models.Problem
	err = tx.GetContext(ctx, &existing, lookup, examID, subjectCode, number)
	if err != nil {
		tx.Rollback() //nolint:errcheck
		return OutcomeUnchanged, err
	}
	next := make(pq.Int64Array, 0, len(answers))
	for _, a := range answers {
		next = append(next, int64(a))
	}
	if equalInt64Arrays(existing.OfficialAnswers, next) {
		tx.Rollback() //nolint:errcheck
		return OutcomeUnchanged, nil
	}
	const update = `UPDATE problems SET official_answers = $2, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, update, existing.ID, next, time.Now().UTC()); err != nil {
		tx.Rollback() //nolint:errcheck
		return OutcomeUnchanged, fmt.Errorf("update official answer: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return OutcomeUnchanged, fmt.Errorf("commit official answer: %w", err)
	}
	return OutcomeUpdated, nil
}

func equalInt64Arrays(a, b pq.Int64Array) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
