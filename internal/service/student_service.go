package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/noah-isme/prime-exam-api/internal/models"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
)

type studentRepo interface {
	Create(ctx context.Context, student *models.Student) error
	FindByID(ctx context.Context, id string) (*models.Student, error)
	FindBySerial(ctx context.Context, examID, serial string) (*models.Student, error)
	List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error)
}

type resultScoreReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Score, error)
}

type resultRankReader interface {
	ListByStudent(ctx context.Context, studentID string) ([]models.Rank, error)
}

type resultStatsReader interface {
	ListByExam(ctx context.Context, examID string) ([]models.CohortStatistics, error)
}

type resultCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

type cacheObserver interface {
	RecordCacheOperation(hit bool)
}

// RegisterStudentRequest registers one person to one exam instance.
type RegisterStudentRequest struct {
	ExamID      string `json:"exam_id" validate:"required"`
	Serial      string `json:"serial" validate:"required"`
	Name        string `json:"name" validate:"required"`
	Password    string `json:"password" validate:"required,min=4"`
	Department  string `json:"department"`
	Aspiration1 string `json:"aspiration_1"`
	Aspiration2 string `json:"aspiration_2"`
}

// StudentService manages registrations and the assembled result view.
type StudentService struct {
	students  studentRepo
	scores    resultScoreReader
	ranks     resultRankReader
	stats     resultStatsReader
	cache     resultCache
	cacheTTL  time.Duration
	metrics   cacheObserver
	validator *validator.Validate
	logger    *zap.Logger
}

// NewStudentService constructs StudentService. The cache is optional.
func NewStudentService(students studentRepo, scores resultScoreReader, ranks resultRankReader, stats resultStatsReader, cache resultCache, cacheTTL time.Duration, validate *validator.Validate, logger *zap.Logger) *StudentService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &StudentService{
		students:  students,
		scores:    scores,
		ranks:     ranks,
		stats:     stats,
		cache:     cache,
		cacheTTL:  cacheTTL,
		validator: validate,
		logger:    logger,
	}
}

// AttachMetrics registers the instrumentation hook for cache lookups.
func (s *StudentService) AttachMetrics(metrics cacheObserver) {
	s.metrics = metrics
}

// Register stores one student with a bcrypt-hashed lookup password. The
// serial must be unique within the exam.
func (s *StudentService) Register(ctx context.Context, req RegisterStudentRequest) (*models.Student, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid student payload")
	}
	if existing, err := s.students.FindBySerial(ctx, req.ExamID, req.Serial); err == nil && existing != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("serial %s already registered", req.Serial))
	} else if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check serial")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}
	student := &models.Student{
		ExamID:       req.ExamID,
		Serial:       req.Serial,
		Name:         req.Name,
		PasswordHash: string(hash),
		Department:   req.Department,
		Aspiration1:  req.Aspiration1,
		Aspiration2:  req.Aspiration2,
	}
	if err := s.students.Create(ctx, student); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create student")
	}
	return student, nil
}

// Get returns one student.
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.students.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	return student, nil
}

// List returns students matching the filter with the total count.
func (s *StudentService) List(ctx context.Context, filter models.StudentFilter) ([]models.Student, int, error) {
	students, total, err := s.students.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	return students, total, nil
}

// Result assembles a student's full view: scores, standings across every
// cohort type and the exam's cohort statistics. Cached briefly; confirms and
// batch refreshes invalidate by pattern.
func (s *StudentService) Result(ctx context.Context, studentID string) (*models.StudentResult, error) {
	cacheKey := resultCacheKey(studentID)
	if s.cache != nil {
		var cached models.StudentResult
		err := s.cache.Get(ctx, cacheKey, &cached)
		if s.metrics != nil {
			s.metrics.RecordCacheOperation(err == nil)
		}
		if err == nil {
			return &cached, nil
		}
	}
	student, err := s.Get(ctx, studentID)
	if err != nil {
		return nil, err
	}
	scores, err := s.scores.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores")
	}
	ranks, err := s.ranks.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load ranks")
	}
	stats, err := s.stats.ListByExam(ctx, student.ExamID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load statistics")
	}
	result := &models.StudentResult{Student: *student, Scores: scores, Ranks: ranks, Statistics: stats}
	if s.cache != nil {
		if err := s.cache.Set(ctx, cacheKey, result, s.cacheTTL); err != nil {
			s.logger.Sugar().Warnw("result cache write failed", "student_id", studentID, "error", err)
		}
	}
	return result, nil
}

// InvalidateResults drops every cached result view. Exam-wide refreshes use
// this; keys are per student so a single confirm only drops its own entry.
func (s *StudentService) InvalidateResults(ctx context.Context) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeleteByPattern(ctx, "result:*")
}

// InvalidateStudentResult drops one student's cached result.
func (s *StudentService) InvalidateStudentResult(ctx context.Context, studentID string) error {
	if s.cache == nil {
		return nil
	}
	return s.cache.DeleteByPattern(ctx, resultCacheKey(studentID))
}

func resultCacheKey(studentID string) string {
	return fmt.Sprintf("result:%s", studentID)
}
