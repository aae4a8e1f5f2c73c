package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/prime-exam-api/internal/models"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
)

func TestScoreSubjectAllCorrect(t *testing.T) {
	h := newEngineHarness()
	p1 := h.store.addProblem("exam-1", "language", 1, 1)
	p2 := h.store.addProblem("exam-1", "language", 2, 2)

	spec := models.SubjectSpec{Code: "language", ProblemCount: 2}
	problems := []models.Problem{*p1, *p2}
	answers := []models.SubjectAnswer{
		{ProblemID: p1.ID, ProblemNumber: 1, Chosen: 1},
		{ProblemID: p2.ID, ProblemNumber: 2, Chosen: 2},
	}

	score, err := h.scoring.ScoreSubject(spec, problems, answers)
	require.NoError(t, err)
	assert.Equal(t, 2, score.CorrectCount)
	assert.Equal(t, 100.0, score.Points)
}

func TestScoreSubjectAllWrong(t *testing.T) {
	h := newEngineHarness()
	p1 := h.store.addProblem("exam-1", "language", 1, 1)
	p2 := h.store.addProblem("exam-1", "language", 2, 2)

	spec := models.SubjectSpec{Code: "language", ProblemCount: 2}
	answers := []models.SubjectAnswer{
		{ProblemID: p1.ID, ProblemNumber: 1, Chosen: 3},
		{ProblemID: p2.ID, ProblemNumber: 2, Chosen: 4},
	}

	score, err := h.scoring.ScoreSubject(spec, []models.Problem{*p1, *p2}, answers)
	require.NoError(t, err)
	assert.Equal(t, 0, score.CorrectCount)
	assert.Equal(t, 0.0, score.Points)
}

func TestScoreSubjectDisputedKeyAcceptsEitherChoice(t *testing.T) {
	h := newEngineHarness()
	problem := h.store.addProblem("exam-1", "language", 1, 1, 2)
	spec := models.SubjectSpec{Code: "language", ProblemCount: 1}

	for chosen, wantCorrect := range map[int]int{1: 1, 2: 1, 3: 0} {
		score, err := h.scoring.ScoreSubject(spec, []models.Problem{*problem}, []models.SubjectAnswer{
			{ProblemID: problem.ID, ProblemNumber: 1, Chosen: chosen},
		})
		require.NoError(t, err)
		assert.Equal(t, wantCorrect, score.CorrectCount, "chosen %d", chosen)
	}
}

func TestScoreSubjectBlankNeverCorrect(t *testing.T) {
	h := newEngineHarness()
	problem := h.store.addProblem("exam-1", "language", 1, 1)
	spec := models.SubjectSpec{Code: "language", ProblemCount: 1}

	score, err := h.scoring.ScoreSubject(spec, []models.Problem{*problem}, []models.SubjectAnswer{
		{ProblemID: problem.ID, ProblemNumber: 1, Chosen: models.ChoiceNone},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, score.CorrectCount)
}

func TestScoreSubjectMissingOfficialAnswer(t *testing.T) {
	h := newEngineHarness()
	problem := h.store.addProblem("exam-1", "language", 1)
	spec := models.SubjectSpec{Code: "language", ProblemCount: 1}

	_, err := h.scoring.ScoreSubject(spec, []models.Problem{*problem}, []models.SubjectAnswer{
		{ProblemID: problem.ID, ProblemNumber: 1, Chosen: 1},
	})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrDataIntegrity.Code, appErr.Code)
}

func TestScoreSubjectNoProblemsConfigured(t *testing.T) {
	h := newEngineHarness()
	_, err := h.scoring.ScoreSubject(models.SubjectSpec{Code: "language"}, nil, nil)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConfiguration.Code, appErr.Code)
}

func TestComputeScoreSetAggregatesConfirmedSubjects(t *testing.T) {
	h := newEngineHarness()
	profile := models.ExamProfile{
		ExamID: "exam-1",
		Subjects: []models.SubjectSpec{
			{Code: "language", ProblemCount: 2},
			{Code: "reasoning", ProblemCount: 2},
			{Code: "essay", ProblemCount: 2, ExcludeFromAggregate: true},
		},
	}
	student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1", Name: "Kim"})

	lang1 := h.store.addProblem("exam-1", "language", 1, 1)
	lang2 := h.store.addProblem("exam-1", "language", 2, 2)
	rsn1 := h.store.addProblem("exam-1", "reasoning", 1, 3)
	rsn2 := h.store.addProblem("exam-1", "reasoning", 2, 4)
	essay1 := h.store.addProblem("exam-1", "essay", 1, 5)
	essay2 := h.store.addProblem("exam-1", "essay", 2, 5)

	h.store.setAnswer(student.ID, lang1.ID, 1)
	h.store.setAnswer(student.ID, lang2.ID, 2)
	h.store.setAnswer(student.ID, rsn1.ID, 3)
	h.store.setAnswer(student.ID, rsn2.ID, 1)
	h.store.setAnswer(student.ID, essay1.ID, 5)
	h.store.setAnswer(student.ID, essay2.ID, 5)
	h.store.confirm(student.ID, "language")
	h.store.confirm(student.ID, "reasoning")
	h.store.confirm(student.ID, "essay")

	set, err := h.scoring.ComputeScoreSet(context.Background(), profile, student.ID)
	require.NoError(t, err)
	require.Len(t, set.Subjects, 3)

	// language 100 + reasoning 50, essay excluded from the aggregate.
	assert.Equal(t, 150.0, set.Total)
	assert.Equal(t, 75.0, set.Average)
}

func TestComputeScoreSetSkipsUnconfirmedSubjects(t *testing.T) {
	h := newEngineHarness()
	profile := models.ExamProfile{
		ExamID: "exam-1",
		Subjects: []models.SubjectSpec{
			{Code: "language", ProblemCount: 1},
			{Code: "reasoning", ProblemCount: 1},
		},
	}
	student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1"})
	lang := h.store.addProblem("exam-1", "language", 1, 1)
	h.store.addProblem("exam-1", "reasoning", 1, 2)
	h.store.setAnswer(student.ID, lang.ID, 1)
	h.store.confirm(student.ID, "language")

	set, err := h.scoring.ComputeScoreSet(context.Background(), profile, student.ID)
	require.NoError(t, err)
	require.Len(t, set.Subjects, 1)
	assert.Equal(t, "language", set.Subjects[0].SubjectCode)
	assert.Equal(t, 100.0, set.Total)
	assert.Equal(t, 100.0, set.Average)
}

func TestComputeScoreSetDefersUnkeyedSubjects(t *testing.T) {
	h := newEngineHarness()
	profile := models.ExamProfile{
		ExamID: "exam-1",
		Subjects: []models.SubjectSpec{
			{Code: "language", ProblemCount: 1},
			{Code: "reasoning", ProblemCount: 1},
		},
	}
	student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1"})
	lang := h.store.addProblem("exam-1", "language", 1, 1)
	rsn := h.store.addProblem("exam-1", "reasoning", 1)
	h.store.setAnswer(student.ID, lang.ID, 1)
	h.store.setAnswer(student.ID, rsn.ID, 2)
	h.store.confirm(student.ID, "language")
	h.store.confirm(student.ID, "reasoning")

	// Reasoning has no key yet: confirmed but deferred, not an error.
	set, err := h.scoring.ComputeScoreSet(context.Background(), profile, student.ID)
	require.NoError(t, err)
	require.Len(t, set.Subjects, 1)
	assert.Equal(t, "language", set.Subjects[0].SubjectCode)
	assert.Equal(t, 100.0, set.Total)
}

func TestRecomputeStudentPersistsAggregateRows(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1"})
	p1 := h.store.addProblem("exam-1", "language", 1, 1)
	p2 := h.store.addProblem("exam-1", "language", 2, 2)
	h.store.setAnswer(student.ID, p1.ID, 1)
	h.store.setAnswer(student.ID, p2.ID, 5)
	h.store.confirm(student.ID, "language")

	outcome, set, err := h.scoring.RecomputeStudent(context.Background(), profile, student.ID)
	require.NoError(t, err)
	assert.True(t, outcome.Changed())
	assert.Equal(t, 50.0, set.Total)

	subject, ok := h.store.scoreFor(student.ID, "language")
	require.True(t, ok)
	assert.Equal(t, 1, subject.CorrectCount)
	assert.Equal(t, 50.0, subject.Points)

	total, ok := h.store.scoreFor(student.ID, models.FieldTotal)
	require.True(t, ok)
	assert.Equal(t, 50.0, total.Points)

	average, ok := h.store.scoreFor(student.ID, models.FieldAverage)
	require.True(t, ok)
	assert.Equal(t, 50.0, average.Points)
}

func TestRecomputeStudentIdempotent(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1"})
	p1 := h.store.addProblem("exam-1", "language", 1, 1)
	p2 := h.store.addProblem("exam-1", "language", 2, 2)
	h.store.setAnswer(student.ID, p1.ID, 1)
	h.store.setAnswer(student.ID, p2.ID, 2)
	h.store.confirm(student.ID, "language")

	first, _, err := h.scoring.RecomputeStudent(context.Background(), profile, student.ID)
	require.NoError(t, err)
	assert.True(t, first.Changed())

	second, _, err := h.scoring.RecomputeStudent(context.Background(), profile, student.ID)
	require.NoError(t, err)
	assert.False(t, second.Changed())
}

func TestRecomputeStudentNothingConfirmed(t *testing.T) {
	h := newEngineHarness()
	student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1"})

	outcome, set, err := h.scoring.RecomputeStudent(context.Background(), twoProblemProfile("exam-1"), student.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Changed())
	assert.Empty(t, set.Subjects)
	_, ok := h.store.scoreFor(student.ID, models.FieldTotal)
	assert.False(t, ok)
}
