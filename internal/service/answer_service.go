package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/prime-exam-api/internal/models"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
)

type answerRepo interface {
	Upsert(ctx context.Context, answer *models.Answer) error
	ListBySubject(ctx context.Context, studentID, examID, subjectCode string) ([]models.SubjectAnswer, error)
	Confirm(ctx context.Context, studentID, subjectCode string) error
	IsConfirmed(ctx context.Context, studentID, subjectCode string) (bool, error)
	ConfirmedSubjects(ctx context.Context, studentID string) ([]string, error)
}

type answerStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
}

type answerProblemReader interface {
	FindByID(ctx context.Context, id string) (*models.Problem, error)
	ListBySubject(ctx context.Context, examID, subjectCode string) ([]models.Problem, error)
}

type profileProvider interface {
	Profile(ctx context.Context, examID string) (models.ExamProfile, error)
}

type resultInvalidator interface {
	InvalidateStudentResult(ctx context.Context, studentID string) error
}

type confirmObserver interface {
	RecordConfirmation()
}

// UpsertAnswerRequest is one draft submission write.
type UpsertAnswerRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	ProblemID string `json:"problem_id" validate:"required"`
	Chosen    int    `json:"chosen" validate:"min=0,max=5"`
}

// ConfirmSubjectRequest freezes one student's subject answers and runs the
// scoring pipeline.
type ConfirmSubjectRequest struct {
	StudentID   string `json:"student_id" validate:"required"`
	SubjectCode string `json:"subject_code" validate:"required"`
}

// AnswerService owns the submission lifecycle: draft upserts while the
// subject is open, then the confirm transition which runs, in order, score
// recompute, the acting student's rank refresh, distribution increments and
// the statistics participant bump. The order matters: ranking before scoring
// would read stale scores.
type AnswerService struct {
	answers      answerRepo
	students     answerStudentReader
	problems     answerProblemReader
	profiles     profileProvider
	scoring      *ScoringService
	ranks        *RankService
	distribution *DistributionService
	statistics   *StatisticsService
	results      resultInvalidator
	metrics      confirmObserver
	validator    *validator.Validate
	logger       *zap.Logger
}

// NewAnswerService constructs AnswerService.
func NewAnswerService(answers answerRepo, students answerStudentReader, problems answerProblemReader, profiles profileProvider, scoring *ScoringService, ranks *RankService, distribution *DistributionService, statistics *StatisticsService, validate *validator.Validate, logger *zap.Logger) *AnswerService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AnswerService{
		answers:      answers,
		students:     students,
		problems:     problems,
		profiles:     profiles,
		scoring:      scoring,
		ranks:        ranks,
		distribution: distribution,
		statistics:   statistics,
		validator:    validate,
		logger:       logger,
	}
}

// AttachResultInvalidator registers the cached-result eviction hook used
// after a confirmation changes derived data.
func (s *AnswerService) AttachResultInvalidator(inv resultInvalidator) {
	s.results = inv
}

// AttachMetrics registers the confirmation counter hook.
func (s *AnswerService) AttachMetrics(metrics confirmObserver) {
	s.metrics = metrics
}

// UpsertAnswer writes or replaces one draft submission. Rejected once the
// subject has been confirmed.
func (s *AnswerService) UpsertAnswer(ctx context.Context, req UpsertAnswerRequest) (*models.Answer, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid answer payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	problem, err := s.problems.FindByID(ctx, req.ProblemID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "problem not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load problem")
	}
	if problem.ExamID != student.ExamID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "problem does not belong to the student's exam")
	}
	confirmed, err := s.answers.IsConfirmed(ctx, req.StudentID, problem.SubjectCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check confirmation")
	}
	if confirmed {
		return nil, appErrors.Clone(appErrors.ErrConfirmed, fmt.Sprintf("subject %s already confirmed", problem.SubjectCode))
	}
	answer := &models.Answer{StudentID: req.StudentID, ProblemID: req.ProblemID, Chosen: req.Chosen}
	if err := s.answers.Upsert(ctx, answer); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store answer")
	}
	return answer, nil
}

// ConfirmSubject validates completeness, freezes the subject's answers and
// runs the recomputation pipeline for the acting student. A subject confirmed
// before its key is published freezes unscored; the publish-triggered rescore
// fills the scores in later.
func (s *AnswerService) ConfirmSubject(ctx context.Context, req ConfirmSubjectRequest) (*models.ScoreSet, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid confirm payload")
	}
	student, err := s.students.FindByID(ctx, req.StudentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	profile, err := s.profiles.Profile(ctx, student.ExamID)
	if err != nil {
		return nil, err
	}
	spec, ok := profile.Subject(req.SubjectCode)
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown subject %s", req.SubjectCode))
	}
	confirmed, err := s.answers.IsConfirmed(ctx, req.StudentID, req.SubjectCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check confirmation")
	}
	if confirmed {
		return nil, appErrors.Clone(appErrors.ErrConfirmed, fmt.Sprintf("subject %s already confirmed", req.SubjectCode))
	}
	firstConfirm, err := s.isFirstConfirmation(ctx, req.StudentID)
	if err != nil {
		return nil, err
	}
	if err := s.validateCompleteness(ctx, profile, spec, req.StudentID); err != nil {
		return nil, err
	}

	if err := s.answers.Confirm(ctx, req.StudentID, req.SubjectCode); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to confirm subject")
	}
	_, set, err := s.scoring.RecomputeStudent(ctx, profile, req.StudentID)
	if err != nil {
		return nil, err
	}
	if _, err := s.ranks.RefreshStudent(ctx, profile, req.StudentID); err != nil {
		return nil, err
	}
	if err := s.distribution.RecordConfirmation(ctx, profile, req.StudentID, req.SubjectCode); err != nil {
		return nil, err
	}
	if err := s.statistics.BumpParticipants(ctx, profile, student, req.SubjectCode); err != nil {
		return nil, err
	}
	if firstConfirm {
		for _, field := range []string{models.FieldTotal, models.FieldAverage} {
			if err := s.statistics.BumpParticipants(ctx, profile, student, field); err != nil {
				return nil, err
			}
		}
	}
	if s.results != nil {
		if err := s.results.InvalidateStudentResult(ctx, req.StudentID); err != nil {
			s.logger.Sugar().Warnw("result cache invalidation failed", "student_id", req.StudentID, "error", err)
		}
	}
	if s.metrics != nil {
		s.metrics.RecordConfirmation()
	}
	s.logger.Sugar().Infow("subject confirmed", "student_id", req.StudentID, "subject", req.SubjectCode)
	return set, nil
}

// SubjectAnswers returns the student's stored answers for one subject.
func (s *AnswerService) SubjectAnswers(ctx context.Context, studentID, examID, subjectCode string) ([]models.SubjectAnswer, error) {
	answers, err := s.answers.ListBySubject(ctx, studentID, examID, subjectCode)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list answers")
	}
	return answers, nil
}

func (s *AnswerService) isFirstConfirmation(ctx context.Context, studentID string) (bool, error) {
	confirmed, err := s.answers.ConfirmedSubjects(ctx, studentID)
	if err != nil {
		return false, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list confirmed subjects")
	}
	return len(confirmed) == 0, nil
}

// validateCompleteness requires an in-range answer for every problem of the
// subject before the freeze. Rejected before any scoring is attempted.
func (s *AnswerService) validateCompleteness(ctx context.Context, profile models.ExamProfile, spec models.SubjectSpec, studentID string) error {
	problems, err := s.problems.ListBySubject(ctx, profile.ExamID, spec.Code)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load problems")
	}
	if len(problems) == 0 || spec.ProblemCount <= 0 {
		return appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("subject %s has no problems configured", spec.Code))
	}
	answers, err := s.answers.ListBySubject(ctx, studentID, profile.ExamID, spec.Code)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load answers")
	}
	answered := make(map[string]int, len(answers))
	for _, answer := range answers {
		answered[answer.ProblemID] = answer.Chosen
	}
	for _, problem := range problems {
		chosen, ok := answered[problem.ID]
		if !ok || chosen < models.ChoiceMin || chosen > models.ChoiceMax {
			return appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("problem %d of subject %s is unanswered", problem.Number, spec.Code))
		}
	}
	return nil
}
