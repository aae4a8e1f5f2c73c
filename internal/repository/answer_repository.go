package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/prime-exam-api/internal/models"
)

// AnswerRepository manages draft submissions and subject confirmations.
type AnswerRepository struct {
	db *sqlx.DB
}

// NewAnswerRepository constructs an AnswerRepository.
func NewAnswerRepository(db *sqlx.DB) *AnswerRepository {
	return &AnswerRepository{db: db}
}

// Upsert writes a draft answer. The unique key on (student_id, problem_id)
// keeps at most one row per pair.
func (r *AnswerRepository) Upsert(ctx context.Context, answer *models.Answer) error {
	if answer.ID == "" {
		answer.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if answer.CreatedAt.IsZero() {
		answer.CreatedAt = now
	}
	answer.UpdatedAt = now
	const query = `INSERT INTO answers (id, student_id, problem_id, chosen, created_at, updated_at)
        VALUES (:id, :student_id, :problem_id, :chosen, :created_at, :updated_at)
        ON CONFLICT (student_id, problem_id)
        DO UPDATE SET chosen = EXCLUDED.chosen, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, answer); err != nil {
		return fmt.Errorf("upsert answer: %w", err)
	}
	return nil
}

// ListBySubject returns one student's answers for a subject ordered by
// problem number. Problems without an answer row are absent from the result.
func (r *AnswerRepository) ListBySubject(ctx context.Context, studentID, examID, subjectCode string) ([]models.SubjectAnswer, error) {
	const query = `SELECT a.problem_id, p.number AS problem_number, a.chosen
        FROM answers a
        JOIN problems p ON p.id = a.problem_id
        WHERE a.student_id = $1 AND p.exam_id = $2 AND p.subject_code = $3
        ORDER BY p.number ASC`
	var answers []models.SubjectAnswer
	if err := r.db.SelectContext(ctx, &answers, query, studentID, examID, subjectCode); err != nil {
		return nil, fmt.Errorf("list subject answers: %w", err)
	}
	return answers, nil
}

// ChosenByProblem returns every confirmed student's chosen value for one
// problem, keyed by student. Used by the distribution rebuild path.
func (r *AnswerRepository) ChosenByProblem(ctx context.Context, problemID string) (map[string]int, error) {
	const query = `SELECT a.student_id, a.chosen
        FROM answers a
        JOIN problems p ON p.id = a.problem_id
        JOIN subject_confirmations c ON c.student_id = a.student_id AND c.subject_code = p.subject_code
        WHERE a.problem_id = $1`
	rows, err := r.db.QueryxContext(ctx, query, problemID)
	if err != nil {
		return nil, fmt.Errorf("chosen by problem: %w", err)
	}
	defer rows.Close()
	result := make(map[string]int)
	for rows.Next() {
		var studentID string
		var chosen int
		if err := rows.Scan(&studentID, &chosen); err != nil {
			return nil, fmt.Errorf("scan chosen: %w", err)
		}
		result[studentID] = chosen
	}
	return result, rows.Err()
}

// Confirm records the draft-to-final transition for one student's subject.
func (r *AnswerRepository) Confirm(ctx context.Context, studentID, subjectCode string) error {
	const query = `INSERT INTO subject_confirmations (id, student_id, subject_code, confirmed_at)
        VALUES ($1, $2, $3, $4)
        ON CONFLICT (student_id, subject_code) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), studentID, subjectCode, time.Now().UTC()); err != nil {
		return fmt.Errorf("confirm subject: %w", err)
	}
	return nil
}

// IsConfirmed reports whether the student already confirmed the subject.
func (r *AnswerRepository) IsConfirmed(ctx context.Context, studentID, subjectCode string) (bool, error) {
	const query = `SELECT COUNT(*) FROM subject_confirmations WHERE student_id = $1 AND subject_code = $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, studentID, subjectCode); err != nil {
		return false, fmt.Errorf("check confirmation: %w", err)
	}
	return count > 0, nil
}

// ConfirmedSubjects returns the subject codes a student has confirmed.
func (r *AnswerRepository) ConfirmedSubjects(ctx context.Context, studentID string) ([]string, error) {
	const query = `SELECT subject_code FROM subject_confirmations WHERE student_id = $1 ORDER BY subject_code ASC`
	var subjects []string
	if err := r.db.SelectContext(ctx, &subjects, query, studentID); err != nil {
		return nil, fmt.Errorf("confirmed subjects: %w", err)
	}
	return subjects, nil
}
