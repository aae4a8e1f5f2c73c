package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/noah-isme/prime-exam-api/internal/models"
	"github.com/noah-isme/prime-exam-api/internal/repository"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
)

type rankScoreReader interface {
	FieldScores(ctx context.Context, examID, field string, studentIDs []string) ([]repository.StudentFieldScore, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Score, error)
}

type rankStudentReader interface {
	FindByID(ctx context.Context, id string) (*models.Student, error)
	ListByExam(ctx context.Context, examID string) ([]models.Student, error)
}

type rankWriter interface {
	UpsertBatch(ctx context.Context, ranks []models.Rank) (repository.Outcome, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Rank, error)
	FindForStudent(ctx context.Context, studentID string, cohortType models.CohortType, field string) (*models.Rank, error)
}

// RankService maintains competition-rank rows per student, cohort type and
// field. Only the acting student's rows are refreshed on confirmation; the
// rest of the cohort goes stale until its own refresh or a batch run. That
// eventual consistency is deliberate: re-ranking the whole cohort on every
// write does not scale.
type RankService struct {
	scores   rankScoreReader
	students rankStudentReader
	ranks    rankWriter
	logger   *zap.Logger
}

// NewRankService constructs RankService.
func NewRankService(scores rankScoreReader, students rankStudentReader, ranks rankWriter, logger *zap.Logger) *RankService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RankService{scores: scores, students: students, ranks: ranks, logger: logger}
}

// competitionRank returns the 1-based standing of points within the cohort:
// 1 plus the number of strictly greater values. Ties share a position and
// the next distinct value skips ahead, RANK() window semantics.
func competitionRank(points float64, cohort []float64) int {
	greater := 0
	for _, v := range cohort {
		if v > points {
			greater++
		}
	}
	return greater + 1
}

// RefreshStudent recomputes every rank row of one student across all tracked
// cohort types and the fields the student has scores for.
func (s *RankService) RefreshStudent(ctx context.Context, profile models.ExamProfile, studentID string) (repository.Outcome, error) {
	student, err := s.students.FindByID(ctx, studentID)
	if err != nil {
		if err == sql.ErrNoRows {
			return repository.OutcomeUnchanged, appErrors.Clone(appErrors.ErrNotFound, "student not found")
		}
		return repository.OutcomeUnchanged, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student")
	}
	scores, err := s.scores.ListByStudent(ctx, studentID)
	if err != nil {
		return repository.OutcomeUnchanged, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load scores")
	}
	if len(scores) == 0 {
		return repository.OutcomeUnchanged, nil
	}
	members, err := s.cohortMembers(ctx, profile.ExamID, student)
	if err != nil {
		return repository.OutcomeUnchanged, err
	}

	rows := make([]models.Rank, 0, len(scores)*len(models.AllCohortTypes))
	for _, cohortType := range models.AllCohortTypes {
		memberIDs := members[cohortType]
		for _, score := range scores {
			rank, err := s.rankWithin(ctx, profile.ExamID, score.Field, score.Points, memberIDs)
			if err != nil {
				return repository.OutcomeUnchanged, err
			}
			rank.StudentID = studentID
			rank.ExamID = profile.ExamID
			rank.CohortType = cohortType
			rank.Field = score.Field
			rows = append(rows, rank)
		}
	}
	outcome, err := s.ranks.UpsertBatch(ctx, rows)
	if err != nil {
		return repository.OutcomeUnchanged, err
	}
	if outcome.Changed() {
		s.logger.Sugar().Infow("ranks refreshed", "student_id", studentID, "exam_id", profile.ExamID, "outcome", outcome.String())
	}
	return outcome, nil
}

// RefreshExam recomputes rank rows for every student of the exam. Used by
// the batch job after an official key is republished; idempotent and safe to
// re-run.
func (s *RankService) RefreshExam(ctx context.Context, profile models.ExamProfile) (repository.Outcome, error) {
	students, err := s.students.ListByExam(ctx, profile.ExamID)
	if err != nil {
		return repository.OutcomeUnchanged, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	outcome := repository.OutcomeUnchanged
	for _, student := range students {
		studentOutcome, err := s.RefreshStudent(ctx, profile, student.ID)
		if err != nil {
			return outcome, err
		}
		outcome = outcome.Merge(studentOutcome)
	}
	return outcome, nil
}

// StudentRanks returns the stored rank rows of a student.
func (s *RankService) StudentRanks(ctx context.Context, studentID string) ([]models.Rank, error) {
	ranks, err := s.ranks.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list ranks")
	}
	return ranks, nil
}

// TotalRankPercentile reports the student's stored standing for the total
// field within the whole population, nil when no rank row exists yet.
func (s *RankService) TotalRankPercentile(ctx context.Context, studentID string) (*float64, error) {
	rank, err := s.ranks.FindForStudent(ctx, studentID, models.CohortTotal, models.FieldTotal)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load rank")
	}
	return rank.Percentile(), nil
}

// cohortMembers resolves, per cohort type, the student ids of the acting
// student's own cohort. The total cohort has a nil member set meaning the
// whole population.
func (s *RankService) cohortMembers(ctx context.Context, examID string, student *models.Student) (map[models.CohortType][]string, error) {
	population, err := s.students.ListByExam(ctx, examID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}
	members := make(map[models.CohortType][]string, len(models.AllCohortTypes))
	for _, cohortType := range models.AllCohortTypes {
		if cohortType == models.CohortTotal {
			members[cohortType] = nil
			continue
		}
		label := student.CohortValue(cohortType)
		ids := make([]string, 0, len(population))
		for _, member := range population {
			if member.CohortValue(cohortType) == label {
				ids = append(ids, member.ID)
			}
		}
		members[cohortType] = ids
	}
	return members, nil
}

func (s *RankService) rankWithin(ctx context.Context, examID, field string, points float64, memberIDs []string) (models.Rank, error) {
	fieldScores, err := s.scores.FieldScores(ctx, examID, field, memberIDs)
	if err != nil {
		return models.Rank{}, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort scores")
	}
	if len(fieldScores) == 0 {
		// No rank sentinel, kept explicit instead of dividing by zero.
		return models.Rank{Position: 0, Participants: 0}, nil
	}
	cohort := make([]float64, 0, len(fieldScores))
	for _, fs := range fieldScores {
		cohort = append(cohort, fs.Points)
	}
	return models.Rank{Position: competitionRank(points, cohort), Participants: len(cohort)}, nil
}
