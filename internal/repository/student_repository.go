package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/prime-exam-api/internal/models"
)

// StudentRepository manages exam registrations.
type StudentRepository struct {
	db *sqlx.DB
}

// NewStudentRepository constructs a StudentRepository.
func NewStudentRepository(db *sqlx.DB) *StudentRepository {
	return &StudentRepository{db: db}
}

// Create persists a registration.
func (r *StudentRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	student.CreatedAt = now
	student.UpdatedAt = now
	const query = `INSERT INTO students (id, exam_id, serial, name, password_hash, department, aspiration_1, aspiration_2, created_at, updated_at)
        VALUES (:id, :exam_id, :serial, :name, :password_hash, :department, :aspiration_1, :aspiration_2, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, student); err != nil {
		return fmt.Errorf("insert student: %w", err)
	}
	return nil
}

// FindByID returns a registration by identifier.
func (r *StudentRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	const query = `SELECT id, exam_id, serial, name, password_hash, department, aspiration_1, aspiration_2, created_at, updated_at
        FROM students WHERE id = $1 LIMIT 1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, id); err != nil {
		return nil, err
	}
	return &student, nil
}

// FindBySerial returns a registration by exam + serial number.
func (r *StudentRepository) FindBySerial(ctx context.Context, examID, serial string) (*models.Student, error) {
	const query = `SELECT id, exam_id, serial, name, password_hash, department, aspiration_1, aspiration_2, created_at, updated_at
        FROM students WHERE exam_id = $1 AND serial = $2 LIMIT 1`
	var student models.Student
	if err := r.db.GetContext(ctx, &student, query, examID, serial); err != nil {
		return nil, err
	}
	return &student, nil
}

// List returns registrations matching the filter with a total count.
func (r *StudentRepository) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	base := `FROM students WHERE 1=1`
	var args []interface{}
	if filter.ExamID != "" {
		base += fmt.Sprintf(" AND exam_id = $%d", len(args)+1)
		args = append(args, filter.ExamID)
	}
	if filter.Department != "" {
		base += fmt.Sprintf(" AND department = $%d", len(args)+1)
		args = append(args, filter.Department)
	}
	if filter.Search != "" {
		base += fmt.Sprintf(" AND (LOWER(name) LIKE $%d OR serial LIKE $%d)", len(args)+1, len(args)+1)
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) "+base, args...); err != nil {
		return nil, 0, fmt.Errorf("count students: %w", err)
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	query := fmt.Sprintf(`SELECT id, exam_id, serial, name, password_hash, department, aspiration_1, aspiration_2, created_at, updated_at
        %s ORDER BY serial ASC LIMIT %d OFFSET %d`, base, size, (page-1)*size)
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list students: %w", err)
	}
	return students, total, nil
}

// ListByExam returns every registration of an exam.
func (r *StudentRepository) ListByExam(ctx context.Context, examID string) ([]models.Student, error) {
	const query = `SELECT id, exam_id, serial, name, password_hash, department, aspiration_1, aspiration_2, created_at, updated_at
        FROM students WHERE exam_id = $1 ORDER BY serial ASC`
	var students []models.Student
	if err := r.db.SelectContext(ctx, &students, query, examID); err != nil {
		return nil, fmt.Errorf("list exam students: %w", err)
	}
	return students, nil
}

// DistinctCohortLabels returns the distinct non-empty labels observed for a
// cohort dimension among an exam's registrations.
func (r *StudentRepository) DistinctCohortLabels(ctx context.Context, examID string, cohortType models.CohortType) ([]string, error) {
	column, ok := cohortColumn(cohortType)
	if !ok {
		return nil, fmt.Errorf("cohort type %q has no label column", cohortType)
	}
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM students WHERE exam_id = $1 AND %s <> '' ORDER BY %s ASC`, column, column, column)
	var labels []string
	if err := r.db.SelectContext(ctx, &labels, query, examID); err != nil {
		return nil, fmt.Errorf("distinct cohort labels: %w", err)
	}
	return labels, nil
}

func cohortColumn(cohortType models.CohortType) (string, bool) {
	switch cohortType {
	case models.CohortDepartment:
		return "department", true
	case models.CohortAspiration1:
		return "aspiration_1", true
	case models.CohortAspiration2:
		return "aspiration_2", true
	default:
		return "", false
	}
}
