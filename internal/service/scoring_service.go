package service

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/noah-isme/prime-exam-api/internal/models"
	"github.com/noah-isme/prime-exam-api/internal/repository"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
)

type scoringProblemRepo interface {
	ListBySubject(ctx context.Context, examID, subjectCode string) ([]models.Problem, error)
}

type scoringAnswerRepo interface {
	ListBySubject(ctx context.Context, studentID, examID, subjectCode string) ([]models.SubjectAnswer, error)
	ConfirmedSubjects(ctx context.Context, studentID string) ([]string, error)
}

type scoreWriter interface {
	UpsertBatch(ctx context.Context, scores []models.Score) (repository.Outcome, error)
	ListByStudent(ctx context.Context, studentID string) ([]models.Score, error)
}

// ScoringService computes subject and aggregate scores for one student and
// persists them through the change-detecting upsert layer. Scoring is a full
// recompute over the student's confirmed subjects, never a partial patch.
type ScoringService struct {
	problems scoringProblemRepo
	answers  scoringAnswerRepo
	scores   scoreWriter
	logger   *zap.Logger
}

// NewScoringService constructs ScoringService.
func NewScoringService(problems scoringProblemRepo, answers scoringAnswerRepo, scores scoreWriter, logger *zap.Logger) *ScoringService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScoringService{problems: problems, answers: answers, scores: scores, logger: logger}
}

// ScoreSubject grades one subject from its problems and the student's
// answers. Pure: no persistence, no mutation of inputs.
func (s *ScoringService) ScoreSubject(spec models.SubjectSpec, problems []models.Problem, answers []models.SubjectAnswer) (models.SubjectScore, error) {
	if spec.ProblemCount <= 0 {
		return models.SubjectScore{}, appErrors.Clone(appErrors.ErrConfiguration, fmt.Sprintf("subject %s has no problems configured", spec.Code))
	}
	byID := make(map[string]*models.Problem, len(problems))
	for i := range problems {
		byID[problems[i].ID] = &problems[i]
	}
	correct := 0
	for _, answer := range answers {
		problem, ok := byID[answer.ProblemID]
		if !ok {
			return models.SubjectScore{}, appErrors.Clone(appErrors.ErrDataIntegrity, fmt.Sprintf("answer references unknown problem %s", answer.ProblemID))
		}
		if len(problem.OfficialAnswers) == 0 {
			return models.SubjectScore{}, appErrors.Clone(appErrors.ErrDataIntegrity, fmt.Sprintf("official answer missing for problem %d of subject %s", problem.Number, spec.Code))
		}
		if answer.Chosen != models.ChoiceNone && problem.Accepts(answer.Chosen) {
			correct++
		}
	}
	return models.SubjectScore{
		SubjectCode:  spec.Code,
		CorrectCount: correct,
		Points:       100 * float64(correct) / float64(spec.ProblemCount),
	}, nil
}

// keyPublished reports whether any problem of the subject carries an
// official answer. A subject with no keyed problem predates key publication
// and stays unscored until the publish-triggered rescore; a partially keyed
// subject is a data fault surfaced by ScoreSubject.
func keyPublished(problems []models.Problem) bool {
	for i := range problems {
		if len(problems[i].OfficialAnswers) > 0 {
			return true
		}
	}
	return false
}

// ComputeScoreSet grades every confirmed subject of the student and derives
// the aggregate total and average over non-excluded subjects. Subjects
// confirmed before their key is published are skipped, not failed: the
// confirmation freeze must survive an unpublished key.
func (s *ScoringService) ComputeScoreSet(ctx context.Context, profile models.ExamProfile, studentID string) (*models.ScoreSet, error) {
	confirmed, err := s.answers.ConfirmedSubjects(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list confirmed subjects")
	}
	confirmedSet := make(map[string]bool, len(confirmed))
	for _, code := range confirmed {
		confirmedSet[code] = true
	}

	set := &models.ScoreSet{StudentID: studentID, ExamID: profile.ExamID}
	aggregated := 0
	for _, spec := range profile.Subjects {
		if !confirmedSet[spec.Code] {
			continue
		}
		problems, err := s.problems.ListBySubject(ctx, profile.ExamID, spec.Code)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load problems")
		}
		if !keyPublished(problems) {
			continue
		}
		answers, err := s.answers.ListBySubject(ctx, studentID, profile.ExamID, spec.Code)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load answers")
		}
		score, err := s.ScoreSubject(spec, problems, answers)
		if err != nil {
			return nil, err
		}
		set.Subjects = append(set.Subjects, score)
		if !spec.ExcludeFromAggregate {
			set.Total += score.Points
			aggregated++
		}
	}
	if aggregated > 0 {
		set.Average = set.Total / float64(aggregated)
	}
	return set, nil
}

// RecomputeStudent grades the student and persists the resulting score rows
// as one transactional batch. Nothing is written when no subject has been
// confirmed yet.
func (s *ScoringService) RecomputeStudent(ctx context.Context, profile models.ExamProfile, studentID string) (repository.Outcome, *models.ScoreSet, error) {
	set, err := s.ComputeScoreSet(ctx, profile, studentID)
	if err != nil {
		return repository.OutcomeUnchanged, nil, err
	}
	if len(set.Subjects) == 0 {
		return repository.OutcomeUnchanged, set, nil
	}
	rows := make([]models.Score, 0, len(set.Subjects)+2)
	for _, subject := range set.Subjects {
		rows = append(rows, models.Score{
			StudentID:    studentID,
			ExamID:       profile.ExamID,
			Field:        subject.SubjectCode,
			CorrectCount: subject.CorrectCount,
			Points:       subject.Points,
		})
	}
	rows = append(rows,
		models.Score{StudentID: studentID, ExamID: profile.ExamID, Field: models.FieldTotal, Points: set.Total},
		models.Score{StudentID: studentID, ExamID: profile.ExamID, Field: models.FieldAverage, Points: set.Average},
	)
	outcome, err := s.scores.UpsertBatch(ctx, rows)
	if err != nil {
		return repository.OutcomeUnchanged, nil, err
	}
	if outcome.Changed() {
		s.logger.Sugar().Infow("score recomputed", "student_id", studentID, "exam_id", profile.ExamID, "outcome", outcome.String())
	}
	return outcome, set, nil
}

// StudentScores returns the stored score rows of a student.
func (s *ScoringService) StudentScores(ctx context.Context, studentID string) ([]models.Score, error) {
	scores, err := s.scores.ListByStudent(ctx, studentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list scores")
	}
	return scores, nil
}
