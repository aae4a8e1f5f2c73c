package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/prime-exam-api/internal/models"
)

func TestCompetitionRankSkipsAfterTies(t *testing.T) {
	cohort := []float64{90, 90, 80, 70}
	assert.Equal(t, 1, competitionRank(90, cohort))
	assert.Equal(t, 3, competitionRank(80, cohort))
	assert.Equal(t, 4, competitionRank(70, cohort))
}

func TestCompetitionRankSingleton(t *testing.T) {
	assert.Equal(t, 1, competitionRank(42, []float64{42}))
}

// seedScoredStudent registers a student and writes a total score directly,
// bypassing the scoring pipeline.
func seedScoredStudent(h *engineHarness, examID, serial, department string, total float64) *models.Student {
	student := h.store.addStudent(models.Student{ExamID: examID, Serial: serial, Name: serial, Department: department, Aspiration1: "SNU", Aspiration2: "Yonsei"})
	_, _ = h.scores.UpsertBatch(context.Background(), []models.Score{
		{StudentID: student.ID, ExamID: examID, Field: models.FieldTotal, Points: total},
	})
	return student
}

func TestRefreshStudentCompetitionPositions(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")

	s1 := seedScoredStudent(h, "exam-1", "S1", "law", 90)
	s2 := seedScoredStudent(h, "exam-1", "S2", "law", 90)
	s3 := seedScoredStudent(h, "exam-1", "S3", "law", 80)
	s4 := seedScoredStudent(h, "exam-1", "S4", "law", 70)

	for _, student := range []*models.Student{s1, s2, s3, s4} {
		_, err := h.ranking.RefreshStudent(context.Background(), profile, student.ID)
		require.NoError(t, err)
	}

	expected := map[string]int{s1.ID: 1, s2.ID: 1, s3.ID: 3, s4.ID: 4}
	for studentID, position := range expected {
		rank, ok := h.store.rankFor(studentID, models.CohortTotal, models.FieldTotal)
		require.True(t, ok)
		assert.Equal(t, position, rank.Position)
		assert.Equal(t, 4, rank.Participants)
	}
}

func TestRefreshStudentCohortPartitions(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")

	law := seedScoredStudent(h, "exam-1", "S1", "law", 60)
	med := seedScoredStudent(h, "exam-1", "S2", "medicine", 95)

	_, err := h.ranking.RefreshStudent(context.Background(), profile, law.ID)
	require.NoError(t, err)

	// Whole population: second behind the medicine student.
	total, ok := h.store.rankFor(law.ID, models.CohortTotal, models.FieldTotal)
	require.True(t, ok)
	assert.Equal(t, 2, total.Position)
	assert.Equal(t, 2, total.Participants)

	// Department cohort only contains the one law student.
	dept, ok := h.store.rankFor(law.ID, models.CohortDepartment, models.FieldTotal)
	require.True(t, ok)
	assert.Equal(t, 1, dept.Position)
	assert.Equal(t, 1, dept.Participants)

	// Only the acting student's rows were refreshed.
	_, ok = h.store.rankFor(med.ID, models.CohortTotal, models.FieldTotal)
	assert.False(t, ok)
}

func TestRefreshStudentWithoutScoresWritesNothing(t *testing.T) {
	h := newEngineHarness()
	student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1"})

	outcome, err := h.ranking.RefreshStudent(context.Background(), twoProblemProfile("exam-1"), student.ID)
	require.NoError(t, err)
	assert.False(t, outcome.Changed())
	_, ok := h.store.rankFor(student.ID, models.CohortTotal, models.FieldTotal)
	assert.False(t, ok)
}

func TestRefreshStudentUnknownStudent(t *testing.T) {
	h := newEngineHarness()
	_, err := h.ranking.RefreshStudent(context.Background(), twoProblemProfile("exam-1"), "missing")
	require.Error(t, err)
}

func TestRefreshExamIdempotent(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	seedScoredStudent(h, "exam-1", "S1", "law", 90)
	seedScoredStudent(h, "exam-1", "S2", "law", 80)

	first, err := h.ranking.RefreshExam(context.Background(), profile)
	require.NoError(t, err)
	assert.True(t, first.Changed())

	second, err := h.ranking.RefreshExam(context.Background(), profile)
	require.NoError(t, err)
	assert.False(t, second.Changed())
}

func TestRankPercentile(t *testing.T) {
	rank := models.Rank{Position: 1, Participants: 4}
	pct := rank.Percentile()
	require.NotNil(t, pct)
	assert.Equal(t, 25.0, *pct)

	sentinel := models.Rank{Position: 0, Participants: 0}
	assert.Nil(t, sentinel.Percentile())
}

func TestTotalRankPercentileMissingRow(t *testing.T) {
	h := newEngineHarness()
	pct, err := h.ranking.TotalRankPercentile(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, pct)
}
