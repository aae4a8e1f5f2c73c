package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/prime-exam-api/internal/models"
)

// ExamRepository manages persistence for exam instances and their subjects.
type ExamRepository struct {
	db *sqlx.DB
}

// NewExamRepository constructs an ExamRepository.
func NewExamRepository(db *sqlx.DB) *ExamRepository {
	return &ExamRepository{db: db}
}

// Create persists an exam instance with its subject layout in one transaction.
func (r *ExamRepository) Create(ctx context.Context, exam *models.ExamInstance) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	if exam.ID == "" {
		exam.ID = uuid.NewString()
	}
	exam.CreatedAt = now
	exam.UpdatedAt = now
	const examQuery = `INSERT INTO exams (id, year, round, exam_type, label, answers_published, prediction_open, created_at, updated_at)
        VALUES (:id, :year, :round, :exam_type, :label, :answers_published, :prediction_open, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, examQuery, exam); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("insert exam: %w", err)
	}
	const subjectQuery = `INSERT INTO exam_subjects (id, exam_id, code, name, problem_count, position, exclude_from_aggregate, created_at)
        VALUES (:id, :exam_id, :code, :name, :problem_count, :position, :exclude_from_aggregate, :created_at)`
	for i := range exam.Subjects {
		if exam.Subjects[i].ID == "" {
			exam.Subjects[i].ID = uuid.NewString()
		}
		exam.Subjects[i].ExamID = exam.ID
		exam.Subjects[i].CreatedAt = now
		if _, err := tx.NamedExecContext(ctx, subjectQuery, exam.Subjects[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return fmt.Errorf("insert exam subject: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit exam: %w", err)
	}
	return nil
}

// FindByID returns an exam with its ordered subject layout.
func (r *ExamRepository) FindByID(ctx context.Context, id string) (*models.ExamInstance, error) {
	const examQuery = `SELECT id, year, round, exam_type, label, answers_published, prediction_open, created_at, updated_at
        FROM exams WHERE id = $1 LIMIT 1`
	var exam models.ExamInstance
	if err := r.db.GetContext(ctx, &exam, examQuery, id); err != nil {
		return nil, err
	}
	const subjectQuery = `SELECT id, exam_id, code, name, problem_count, position, exclude_from_aggregate, created_at
        FROM exam_subjects WHERE exam_id = $1 ORDER BY position ASC`
	if err := r.db.SelectContext(ctx, &exam.Subjects, subjectQuery, id); err != nil {
		return nil, fmt.Errorf("load exam subjects: %w", err)
	}
	return &exam, nil
}

// List returns exams matching the filter with a total count.
func (r *ExamRepository) List(ctx context.Context, filter models.ExamFilter) ([]models.ExamInstance, int, error) {
	query := `SELECT id, year, round, exam_type, label, answers_published, prediction_open, created_at, updated_at FROM exams WHERE 1=1`
	countQuery := `SELECT COUNT(*) FROM exams WHERE 1=1`
	var args []interface{}
	if filter.Year > 0 {
		clause := fmt.Sprintf(" AND year = $%d", len(args)+1)
		query += clause
		countQuery += clause
		args = append(args, filter.Year)
	}
	if filter.ExamType != "" {
		clause := fmt.Sprintf(" AND exam_type = $%d", len(args)+1)
		query += clause
		countQuery += clause
		args = append(args, filter.ExamType)
	}
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count exams: %w", err)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	query += fmt.Sprintf(" ORDER BY year DESC, round DESC LIMIT %d OFFSET %d", size, (page-1)*size)
	var exams []models.ExamInstance
	if err := r.db.SelectContext(ctx, &exams, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list exams: %w", err)
	}
	return exams, total, nil
}

// SetAnswersPublished flips the official-key lifecycle flag.
func (r *ExamRepository) SetAnswersPublished(ctx context.Context, id string, published bool) error {
	const query = `UPDATE exams SET answers_published = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, published, time.Now().UTC()); err != nil {
		return fmt.Errorf("set answers published: %w", err)
	}
	return nil
}

// SetPredictionOpen flips the prediction window flag.
func (r *ExamRepository) SetPredictionOpen(ctx context.Context, id string, open bool) error {
	const query = `UPDATE exams SET prediction_open = $2, updated_at = $3 WHERE id = $1`
	if _, err := r.db.ExecContext(ctx, query, id, open, time.Now().UTC()); err != nil {
		return fmt.Errorf("set prediction open: %w", err)
	}
	return nil
}
