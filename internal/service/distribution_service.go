package service

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/noah-isme/prime-exam-api/internal/models"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
)

type distributionRepo interface {
	Increment(ctx context.Context, problemID string, band models.RankBand, choice int) error
	ReplaceForProblem(ctx context.Context, problemID string, counts []models.AnswerCount) error
	ListByProblem(ctx context.Context, problemID string) ([]models.AnswerCount, error)
}

type distributionAnswerReader interface {
	ListBySubject(ctx context.Context, studentID, examID, subjectCode string) ([]models.SubjectAnswer, error)
	ChosenByProblem(ctx context.Context, problemID string) (map[string]int, error)
}

type distributionProblemReader interface {
	FindByID(ctx context.Context, id string) (*models.Problem, error)
	ListByExam(ctx context.Context, examID string) ([]models.Problem, error)
}

type percentileReader interface {
	TotalRankPercentile(ctx context.Context, studentID string) (*float64, error)
}

// DistributionService keeps the per-problem answer tallies. Confirmations
// feed the counters incrementally; the rebuild path recomputes the same rows
// from all confirmed submissions. Both paths must agree on identical input.
type DistributionService struct {
	counts      distributionRepo
	answers     distributionAnswerReader
	problems    distributionProblemReader
	percentiles percentileReader
	logger      *zap.Logger
}

// NewDistributionService constructs DistributionService.
func NewDistributionService(counts distributionRepo, answers distributionAnswerReader, problems distributionProblemReader, percentiles percentileReader, logger *zap.Logger) *DistributionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DistributionService{counts: counts, answers: answers, problems: problems, percentiles: percentiles, logger: logger}
}

// bandFor maps a total-rank percentile onto the top/mid/low partition.
func bandFor(percentile float64, profile models.ExamProfile) models.RankBand {
	switch {
	case percentile <= float64(profile.TopBandPercent):
		return models.BandTop
	case percentile <= float64(profile.MidBandPercent):
		return models.BandMid
	default:
		return models.BandLow
	}
}

// tallyChoice normalises a submission value into a counter bucket.
func tallyChoice(chosen int) int {
	if chosen < models.ChoiceNone || chosen > models.ChoiceMax {
		return models.ChoiceMultiple
	}
	return chosen
}

// RecordConfirmation feeds one student's freshly confirmed subject answers
// into the counters: the all-population row plus the band row picked from
// the student's current total-rank percentile. Runs after the rank refresh
// so the percentile is fresh.
func (s *DistributionService) RecordConfirmation(ctx context.Context, profile models.ExamProfile, studentID, subjectCode string) error {
	answers, err := s.answers.ListBySubject(ctx, studentID, profile.ExamID, subjectCode)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load answers")
	}
	percentile, err := s.percentiles.TotalRankPercentile(ctx, studentID)
	if err != nil {
		return err
	}
	for _, answer := range answers {
		choice := tallyChoice(answer.Chosen)
		if err := s.counts.Increment(ctx, answer.ProblemID, models.BandAll, choice); err != nil {
			return err
		}
		if percentile == nil {
			// Unranked students only feed the all-population row.
			continue
		}
		if err := s.counts.Increment(ctx, answer.ProblemID, bandFor(*percentile, profile), choice); err != nil {
			return err
		}
	}
	return nil
}

// RebuildProblem recomputes all four band rows of one problem from every
// confirmed submission. Used for backfill and as the verification side of
// the incremental path.
func (s *DistributionService) RebuildProblem(ctx context.Context, profile models.ExamProfile, problemID string) error {
	chosenByStudent, err := s.answers.ChosenByProblem(ctx, problemID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load submissions")
	}
	rows := make(map[models.RankBand]*models.AnswerCount, len(models.AllRankBands))
	for _, band := range models.AllRankBands {
		rows[band] = &models.AnswerCount{ProblemID: problemID, Band: band}
	}
	for studentID, chosen := range chosenByStudent {
		choice := tallyChoice(chosen)
		rows[models.BandAll].Record(choice)
		percentile, err := s.percentiles.TotalRankPercentile(ctx, studentID)
		if err != nil {
			return err
		}
		if percentile == nil {
			continue
		}
		rows[bandFor(*percentile, profile)].Record(choice)
	}
	counts := make([]models.AnswerCount, 0, len(models.AllRankBands))
	for _, band := range models.AllRankBands {
		counts = append(counts, *rows[band])
	}
	return s.counts.ReplaceForProblem(ctx, problemID, counts)
}

// RebuildExam rebuilds the counters of every problem of the exam.
func (s *DistributionService) RebuildExam(ctx context.Context, profile models.ExamProfile) error {
	problems, err := s.problems.ListByExam(ctx, profile.ExamID)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list problems")
	}
	for _, problem := range problems {
		if err := s.RebuildProblem(ctx, profile, problem.ID); err != nil {
			return err
		}
	}
	s.logger.Sugar().Infow("distribution rebuilt", "exam_id", profile.ExamID, "problems", len(problems))
	return nil
}

// ProblemDistribution assembles the read view of one problem: band tallies
// plus predicted answer, accuracy and selection rates derived from the
// all-population row.
func (s *DistributionService) ProblemDistribution(ctx context.Context, problemID string) (*models.ProblemDistribution, error) {
	problem, err := s.problems.FindByID(ctx, problemID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "problem not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load problem")
	}
	bands, err := s.counts.ListByProblem(ctx, problemID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load answer counts")
	}
	view := &models.ProblemDistribution{
		ProblemID:       problem.ID,
		SubjectCode:     problem.SubjectCode,
		ProblemNumber:   problem.Number,
		OfficialAnswers: problem.AcceptedAnswers(),
		Bands:           bands,
	}
	for i := range bands {
		if bands[i].Band != models.BandAll {
			continue
		}
		view.PredictedAnswer = bands[i].PredictedAnswer()
		view.AccuracyRate = bands[i].AccuracyRate()
		if bands[i].CountTotal > 0 {
			view.SelectionRates = make(map[int]float64, models.ChoiceMax)
			for choice := models.ChoiceMin; choice <= models.ChoiceMax; choice++ {
				if rate := bands[i].SelectionRate(choice); rate != nil {
					view.SelectionRates[choice] = *rate
				}
			}
		}
	}
	return view, nil
}
