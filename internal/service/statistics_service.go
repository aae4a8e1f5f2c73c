package service

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	"github.com/noah-isme/prime-exam-api/internal/models"
	"github.com/noah-isme/prime-exam-api/internal/repository"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
)

type statsScoreReader interface {
	FieldScores(ctx context.Context, examID, field string, studentIDs []string) ([]repository.StudentFieldScore, error)
}

type statsStudentReader interface {
	ListByExam(ctx context.Context, examID string) ([]models.Student, error)
}

type statsWriter interface {
	UpsertBatch(ctx context.Context, stats []models.CohortStatistics) (repository.Outcome, error)
	IncrementParticipants(ctx context.Context, examID string, cohortType models.CohortType, label, field string) error
	ListByExam(ctx context.Context, examID string) ([]models.CohortStatistics, error)
}

// StatisticsService recomputes cohort statistics snapshots for an exam. This
// is a batch operation over the full current population, triggered by admin
// action or key publication rather than per submission.
type StatisticsService struct {
	scores   statsScoreReader
	students statsStudentReader
	stats    statsWriter
	logger   *zap.Logger
}

// NewStatisticsService constructs StatisticsService.
func NewStatisticsService(scores statsScoreReader, students statsStudentReader, stats statsWriter, logger *zap.Logger) *StatisticsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatisticsService{scores: scores, students: students, stats: stats, logger: logger}
}

// computeSnapshot derives one statistics row from a cohort's scores. The
// threshold is an index into the descending-sorted list, not an interpolated
// percentile; historical reports depend on this exact formula. An empty
// cohort keeps every value nil since zero is a valid score.
func computeSnapshot(scores []float64, cuts []int) models.CohortStatistics {
	snapshot := models.CohortStatistics{Participants: len(scores)}
	if len(scores) == 0 {
		return snapshot
	}
	sorted := make([]float64, len(scores))
	copy(sorted, scores)
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))

	max := sorted[0]
	snapshot.Max = &max
	sum := 0.0
	for _, v := range sorted {
		sum += v
	}
	avg := sum / float64(len(sorted))
	snapshot.Average = &avg

	for _, p := range cuts {
		idx := len(sorted) * p / 100
		if idx < 1 {
			idx = 1
		}
		value := sorted[idx-1]
		snapshot.SetThreshold(p, &value)
	}
	return snapshot
}

// RefreshExam recomputes every cohort statistics row of the exam and writes
// the snapshot as one transactional batch. Idempotent: rerunning on
// unchanged scores reports Unchanged.
func (s *StatisticsService) RefreshExam(ctx context.Context, profile models.ExamProfile) (repository.Outcome, error) {
	for _, cut := range profile.PercentileCuts {
		if !supportedCut(cut) {
			return repository.OutcomeUnchanged, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("unsupported percentile cut %d", cut))
		}
	}
	population, err := s.students.ListByExam(ctx, profile.ExamID)
	if err != nil {
		return repository.OutcomeUnchanged, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list students")
	}

	fields := statisticsFields(profile)
	rows := make([]models.CohortStatistics, 0, len(fields)*4)
	for _, cohort := range enumerateCohorts(population) {
		for _, field := range fields {
			fieldScores, err := s.scores.FieldScores(ctx, profile.ExamID, field, cohort.memberIDs)
			if err != nil {
				return repository.OutcomeUnchanged, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load cohort scores")
			}
			values := make([]float64, 0, len(fieldScores))
			for _, fs := range fieldScores {
				values = append(values, fs.Points)
			}
			row := computeSnapshot(values, profile.PercentileCuts)
			row.ExamID = profile.ExamID
			row.CohortType = cohort.cohortType
			row.CohortLabel = cohort.label
			row.Field = field
			rows = append(rows, row)
		}
	}
	outcome, err := s.stats.UpsertBatch(ctx, rows)
	if err != nil {
		return repository.OutcomeUnchanged, err
	}
	s.logger.Sugar().Infow("statistics refreshed", "exam_id", profile.ExamID, "rows", len(rows), "outcome", outcome.String())
	return outcome, nil
}

// BumpParticipants increments the stored participant counters touched by
// one student's subject confirmation: the ALL cohort plus the student's own
// label in every partition dimension, for the given field. Values beyond the
// counter stay stale until the next batch refresh.
func (s *StatisticsService) BumpParticipants(ctx context.Context, profile models.ExamProfile, student *models.Student, field string) error {
	for _, cohortType := range models.AllCohortTypes {
		label := student.CohortValue(cohortType)
		if label == "" {
			continue
		}
		if err := s.stats.IncrementParticipants(ctx, profile.ExamID, cohortType, label, field); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to bump participants")
		}
	}
	return nil
}

// ExamStatistics returns the stored statistics rows of an exam.
func (s *StatisticsService) ExamStatistics(ctx context.Context, examID string) ([]models.CohortStatistics, error) {
	stats, err := s.stats.ListByExam(ctx, examID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list statistics")
	}
	return stats, nil
}

type cohortScope struct {
	cohortType models.CohortType
	label      string
	memberIDs  []string
}

// enumerateCohorts returns the ALL cohort plus one scope per distinct label
// observed in the population for each partition dimension.
func enumerateCohorts(population []models.Student) []cohortScope {
	scopes := []cohortScope{{cohortType: models.CohortTotal, label: models.CohortLabelAll}}
	for _, cohortType := range models.AllCohortTypes {
		if cohortType == models.CohortTotal {
			continue
		}
		byLabel := make(map[string][]string)
		order := make([]string, 0)
		for _, student := range population {
			label := student.CohortValue(cohortType)
			if label == "" {
				continue
			}
			if _, seen := byLabel[label]; !seen {
				order = append(order, label)
			}
			byLabel[label] = append(byLabel[label], student.ID)
		}
		sort.Strings(order)
		for _, label := range order {
			scopes = append(scopes, cohortScope{cohortType: cohortType, label: label, memberIDs: byLabel[label]})
		}
	}
	return scopes
}

func statisticsFields(profile models.ExamProfile) []string {
	fields := make([]string, 0, len(profile.Subjects)+2)
	for _, spec := range profile.Subjects {
		fields = append(fields, spec.Code)
	}
	return append(fields, models.FieldTotal, models.FieldAverage)
}

func supportedCut(cut int) bool {
	for _, c := range models.SupportedPercentileCuts {
		if c == cut {
			return true
		}
	}
	return false
}
