package service

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/prime-exam-api/internal/models"
	"github.com/noah-isme/prime-exam-api/internal/repository"
	"github.com/noah-isme/prime-exam-api/pkg/config"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
	"github.com/noah-isme/prime-exam-api/pkg/jobs"
)

type examRepo interface {
	Create(ctx context.Context, exam *models.ExamInstance) error
	FindByID(ctx context.Context, id string) (*models.ExamInstance, error)
	List(ctx context.Context, filter models.ExamFilter) ([]models.ExamInstance, int, error)
	SetAnswersPublished(ctx context.Context, id string, published bool) error
	SetPredictionOpen(ctx context.Context, id string, open bool) error
}

type examProblemRepo interface {
	BulkCreate(ctx context.Context, problems []models.Problem) error
	UpsertOfficialAnswer(ctx context.Context, examID, subjectCode string, number int, answers []int) (repository.Outcome, error)
}

type examStudentReader interface {
	ListByExam(ctx context.Context, examID string) ([]models.Student, error)
}

// CreateExamSubject is one subject section in a create payload. ProblemCount
// carries no validation tag: a non-positive count is a configuration fault,
// checked after struct validation.
type CreateExamSubject struct {
	Code                 string `json:"code" validate:"required"`
	Name                 string `json:"name" validate:"required"`
	ProblemCount         int    `json:"problem_count"`
	ExcludeFromAggregate bool   `json:"exclude_from_aggregate"`
}

// CreateExamRequest creates one exam instance with its subject layout.
type CreateExamRequest struct {
	Year     int                 `json:"year" validate:"required"`
	Round    int                 `json:"round" validate:"required"`
	ExamType models.ExamType     `json:"exam_type" validate:"required,oneof=psat leet prime"`
	Label    string              `json:"label" validate:"required"`
	Subjects []CreateExamSubject `json:"subjects" validate:"required,dive"`
}

// AnswerKeyEntry is one official-answer write with the accepted choices
// already explicit. A disputed key simply lists more than one value.
type AnswerKeyEntry struct {
	SubjectCode string `json:"subject_code" validate:"required"`
	Number      int    `json:"number" validate:"required,min=1"`
	Answers     []int  `json:"answers" validate:"required,min=1,dive,min=1,max=5"`
}

// LegacyKeyEntry carries the historical encoding where a value above 5 packs
// multiple accepted choices into its decimal digits (12 means 1 or 2).
type LegacyKeyEntry struct {
	SubjectCode string `json:"subject_code" validate:"required"`
	Number      int    `json:"number" validate:"required,min=1"`
	Encoded     int    `json:"encoded" validate:"required,min=1"`
}

const jobTypeRescoreExam = "rescore_exam"

// ExamService manages the exam catalog and the official answer key, and
// orchestrates the full rescore pipeline that a key publication triggers.
type ExamService struct {
	exams        examRepo
	problems     examProblemRepo
	students     examStudentReader
	scoring      *ScoringService
	ranks        *RankService
	statistics   *StatisticsService
	distribution *DistributionService
	scoringCfg   config.ScoringConfig
	queue        *jobs.Queue
	results      examResultInvalidator
	validator    *validator.Validate
	logger       *zap.Logger
}

type examResultInvalidator interface {
	InvalidateResults(ctx context.Context) error
}

// NewExamService constructs ExamService. The queue is optional; without it
// publish-triggered rescores run synchronously.
func NewExamService(exams examRepo, problems examProblemRepo, students examStudentReader, scoring *ScoringService, ranks *RankService, statistics *StatisticsService, distribution *DistributionService, scoringCfg config.ScoringConfig, validate *validator.Validate, logger *zap.Logger) *ExamService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExamService{
		exams:        exams,
		problems:     problems,
		students:     students,
		scoring:      scoring,
		ranks:        ranks,
		statistics:   statistics,
		distribution: distribution,
		scoringCfg:   scoringCfg,
		validator:    validate,
		logger:       logger,
	}
}

// AttachQueue wires the background queue used for publish-triggered rescores.
func (s *ExamService) AttachQueue(queue *jobs.Queue) {
	s.queue = queue
}

// AttachResultInvalidator registers the cached-result eviction hook run after
// a full rescore.
func (s *ExamService) AttachResultInvalidator(inv examResultInvalidator) {
	s.results = inv
}

// Create stores a new exam instance together with its subjects and one empty
// problem row per (subject, number).
func (s *ExamService) Create(ctx context.Context, req CreateExamRequest) (*models.ExamInstance, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid exam payload")
	}
	seen := make(map[string]bool, len(req.Subjects))
	for _, subject := range req.Subjects {
		if subject.ProblemCount <= 0 {
			return nil, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("subject %s must have a positive problem count", subject.Code))
		}
		if seen[subject.Code] {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("duplicate subject %s", subject.Code))
		}
		seen[subject.Code] = true
	}

	exam := &models.ExamInstance{
		Year:     req.Year,
		Round:    req.Round,
		ExamType: req.ExamType,
		Label:    req.Label,
	}
	for i, subject := range req.Subjects {
		exam.Subjects = append(exam.Subjects, models.ExamSubject{
			Code:                 subject.Code,
			Name:                 subject.Name,
			ProblemCount:         subject.ProblemCount,
			Position:             i + 1,
			ExcludeFromAggregate: subject.ExcludeFromAggregate,
		})
	}
	if err := s.exams.Create(ctx, exam); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create exam")
	}

	problems := make([]models.Problem, 0)
	for _, subject := range exam.Subjects {
		for number := 1; number <= subject.ProblemCount; number++ {
			problems = append(problems, models.Problem{
				ID:          uuid.NewString(),
				ExamID:      exam.ID,
				SubjectCode: subject.Code,
				Number:      number,
			})
		}
	}
	if err := s.problems.BulkCreate(ctx, problems); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create problems")
	}
	return exam, nil
}

// Get returns one exam with its subjects.
func (s *ExamService) Get(ctx context.Context, id string) (*models.ExamInstance, error) {
	exam, err := s.exams.FindByID(ctx, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "exam not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load exam")
	}
	return exam, nil
}

// List returns exams matching the filter with pagination metadata.
func (s *ExamService) List(ctx context.Context, filter models.ExamFilter) ([]models.ExamInstance, int, error) {
	exams, total, err := s.exams.List(ctx, filter)
	if err != nil {
		return nil, 0, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list exams")
	}
	return exams, total, nil
}

// Profile builds the engine parameter object for one exam: subject layout
// plus the configured percentile cuts, band boundaries and aggregate
// exclusions.
func (s *ExamService) Profile(ctx context.Context, examID string) (models.ExamProfile, error) {
	exam, err := s.Get(ctx, examID)
	if err != nil {
		return models.ExamProfile{}, err
	}
	excluded := make(map[string]bool, len(s.scoringCfg.ExcludedSubjects))
	for _, code := range s.scoringCfg.ExcludedSubjects {
		excluded[code] = true
	}
	profile := models.ExamProfile{
		ExamID:         exam.ID,
		PercentileCuts: s.scoringCfg.PercentileCuts,
		TopBandPercent: s.scoringCfg.TopBandPercent,
		MidBandPercent: s.scoringCfg.MidBandPercent,
	}
	for _, subject := range exam.Subjects {
		profile.Subjects = append(profile.Subjects, models.SubjectSpec{
			Code:                 subject.Code,
			Name:                 subject.Name,
			ProblemCount:         subject.ProblemCount,
			ExcludeFromAggregate: subject.ExcludeFromAggregate || excluded[subject.Code],
		})
	}
	return profile, nil
}

// UpsertOfficialAnswers writes official answers with write-if-changed
// semantics and reports the merged outcome.
func (s *ExamService) UpsertOfficialAnswers(ctx context.Context, examID string, entries []AnswerKeyEntry) (repository.Outcome, error) {
	if len(entries) == 0 {
		return repository.OutcomeUnchanged, appErrors.Clone(appErrors.ErrValidation, "no answer key entries")
	}
	profile, err := s.Profile(ctx, examID)
	if err != nil {
		return repository.OutcomeUnchanged, err
	}
	outcome := repository.OutcomeUnchanged
	for _, entry := range entries {
		if err := s.validator.Struct(entry); err != nil {
			return outcome, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid answer key entry")
		}
		spec, ok := profile.Subject(entry.SubjectCode)
		if !ok {
			return outcome, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("unknown subject %s", entry.SubjectCode))
		}
		if entry.Number > spec.ProblemCount {
			return outcome, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("problem %d out of range for subject %s", entry.Number, entry.SubjectCode))
		}
		entryOutcome, err := s.problems.UpsertOfficialAnswer(ctx, examID, entry.SubjectCode, entry.Number, entry.Answers)
		if err != nil {
			return outcome, err
		}
		outcome = outcome.Merge(entryOutcome)
	}
	return outcome, nil
}

// ImportLegacyKey decodes the historical multi-digit encoding at this
// boundary only; storage and scoring never re-derive digit sets.
func (s *ExamService) ImportLegacyKey(ctx context.Context, examID string, entries []LegacyKeyEntry) (repository.Outcome, error) {
	decoded := make([]AnswerKeyEntry, 0, len(entries))
	for _, entry := range entries {
		answers, err := DecodeOfficialAnswer(entry.Encoded)
		if err != nil {
			return repository.OutcomeUnchanged, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("subject %s problem %d: %v", entry.SubjectCode, entry.Number, err))
		}
		decoded = append(decoded, AnswerKeyEntry{SubjectCode: entry.SubjectCode, Number: entry.Number, Answers: answers})
	}
	return s.UpsertOfficialAnswers(ctx, examID, decoded)
}

// ImportAnswerKeyCSV reads "subject,number,answer" rows where answer uses
// the legacy encoding, then upserts the decoded key. A header row is
// tolerated.
func (s *ExamService) ImportAnswerKeyCSV(ctx context.Context, examID string, r io.Reader) (repository.Outcome, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	entries := make([]LegacyKeyEntry, 0)
	line := 0
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return repository.OutcomeUnchanged, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "malformed CSV")
		}
		line++
		if len(record) < 3 {
			return repository.OutcomeUnchanged, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("line %d: expected subject,number,answer", line))
		}
		number, numErr := strconv.Atoi(strings.TrimSpace(record[1]))
		encoded, encErr := strconv.Atoi(strings.TrimSpace(record[2]))
		if numErr != nil || encErr != nil {
			if line == 1 {
				// header row
				continue
			}
			return repository.OutcomeUnchanged, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("line %d: numeric fields required", line))
		}
		entries = append(entries, LegacyKeyEntry{
			SubjectCode: strings.TrimSpace(record[0]),
			Number:      number,
			Encoded:     encoded,
		})
	}
	if len(entries) == 0 {
		return repository.OutcomeUnchanged, appErrors.Clone(appErrors.ErrValidation, "no answer key rows")
	}
	return s.ImportLegacyKey(ctx, examID, entries)
}

// PublishAnswers flips the lifecycle flag and triggers the full rescore
// pipeline, queued when a worker pool is attached.
func (s *ExamService) PublishAnswers(ctx context.Context, examID string) error {
	if _, err := s.Get(ctx, examID); err != nil {
		return err
	}
	if err := s.exams.SetAnswersPublished(ctx, examID, true); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to publish answers")
	}
	if s.queue != nil {
		job := jobs.Job{ID: uuid.NewString(), Type: jobTypeRescoreExam, Payload: examID}
		if err := s.queue.Enqueue(job); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to queue rescore")
		}
		return nil
	}
	return s.RescoreExam(ctx, examID)
}

// SetPredictionOpen toggles the prediction window flag.
func (s *ExamService) SetPredictionOpen(ctx context.Context, examID string, open bool) error {
	if _, err := s.Get(ctx, examID); err != nil {
		return err
	}
	if err := s.exams.SetPredictionOpen(ctx, examID, open); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to toggle prediction window")
	}
	return nil
}

// RescoreExam reruns the whole pipeline for every student of the exam:
// scores for all students, then a full statistics refresh, then a full rank
// refresh, then a distribution rebuild. Idempotent and safe to re-run.
func (s *ExamService) RescoreExam(ctx context.Context, examID string) error {
	profile, err := s.Profile(ctx, examID)
	if err != nil {
		return err
	}
	students, err := s.students.ListByExam(ctx, examID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	for _, student := range students {
		if _, _, err := s.scoring.RecomputeStudent(ctx, profile, student.ID); err != nil {
			return err
		}
	}
	if _, err := s.statistics.RefreshExam(ctx, profile); err != nil {
		return err
	}
	if _, err := s.ranks.RefreshExam(ctx, profile); err != nil {
		return err
	}
	if err := s.distribution.RebuildExam(ctx, profile); err != nil {
		return err
	}
	if s.results != nil {
		if err := s.results.InvalidateResults(ctx); err != nil {
			s.logger.Sugar().Warnw("result cache invalidation failed", "exam_id", examID, "error", err)
		}
	}
	s.logger.Sugar().Infow("exam rescored", "exam_id", examID, "students", len(students))
	return nil
}

// RescoreJobHandler adapts RescoreExam for the background queue.
func (s *ExamService) RescoreJobHandler() jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		examID, ok := job.Payload.(string)
		if !ok {
			return fmt.Errorf("rescore job %s: unexpected payload %T", job.ID, job.Payload)
		}
		return s.RescoreExam(ctx, examID)
	}
}

// DecodeOfficialAnswer expands the legacy encoding: 1..5 is a single
// accepted choice, larger values pack one accepted choice per decimal digit
// (12 means 1 or 2). Digits outside 1..5 and repeats are rejected.
func DecodeOfficialAnswer(encoded int) ([]int, error) {
	if encoded >= 1 && encoded <= 5 {
		return []int{encoded}, nil
	}
	if encoded < 1 {
		return nil, fmt.Errorf("answer %d out of range", encoded)
	}
	digits := strconv.Itoa(encoded)
	seen := make(map[int]bool, len(digits))
	answers := make([]int, 0, len(digits))
	for _, d := range digits {
		v := int(d - '0')
		if v < 1 || v > 5 {
			return nil, fmt.Errorf("answer %d contains invalid digit %d", encoded, v)
		}
		if seen[v] {
			return nil, fmt.Errorf("answer %d repeats digit %d", encoded, v)
		}
		seen[v] = true
		answers = append(answers, v)
	}
	return answers, nil
}
