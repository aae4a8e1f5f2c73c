package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/prime-exam-api/internal/models"
	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"
)

func TestComputeSnapshotThresholdIndexing(t *testing.T) {
	scores := []float64{100, 90, 80, 70, 60, 50, 40, 30, 20, 10}
	snapshot := computeSnapshot(scores, []int{10, 25, 50})

	assert.Equal(t, 10, snapshot.Participants)
	require.NotNil(t, snapshot.Max)
	assert.Equal(t, 100.0, *snapshot.Max)
	require.NotNil(t, snapshot.Average)
	assert.Equal(t, 55.0, *snapshot.Average)

	// 10 participants: top-10 index collapses to the maximum.
	require.NotNil(t, snapshot.Top10)
	assert.Equal(t, 100.0, *snapshot.Top10)
	require.NotNil(t, snapshot.Top25)
	assert.Equal(t, 90.0, *snapshot.Top25)
	require.NotNil(t, snapshot.Top50)
	assert.Equal(t, 60.0, *snapshot.Top50)
}

func TestComputeSnapshotSmallCohortCollapsesToMax(t *testing.T) {
	snapshot := computeSnapshot([]float64{80, 70, 60}, []int{10, 25, 50})
	for _, cut := range []int{10, 25, 50} {
		value := snapshot.Threshold(cut)
		require.NotNil(t, value, "cut %d", cut)
		assert.Equal(t, 80.0, *value, "cut %d", cut)
	}
}

func TestComputeSnapshotEmptyCohort(t *testing.T) {
	snapshot := computeSnapshot(nil, []int{10, 25, 50})
	assert.Equal(t, 0, snapshot.Participants)
	assert.Nil(t, snapshot.Max)
	assert.Nil(t, snapshot.Average)
	assert.Nil(t, snapshot.Top10)
	assert.Nil(t, snapshot.Top25)
	assert.Nil(t, snapshot.Top50)
}

func TestComputeSnapshotSkipsUnconfiguredCuts(t *testing.T) {
	snapshot := computeSnapshot([]float64{90, 50}, []int{50})
	assert.Nil(t, snapshot.Top10)
	assert.Nil(t, snapshot.Top25)
	require.NotNil(t, snapshot.Top50)
	assert.Equal(t, 90.0, *snapshot.Top50)
}

func TestRefreshExamWritesEveryCohortRow(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")

	seedScoredStudent(h, "exam-1", "S1", "law", 90)
	seedScoredStudent(h, "exam-1", "S2", "medicine", 70)

	outcome, err := h.statistics.RefreshExam(context.Background(), profile)
	require.NoError(t, err)
	assert.True(t, outcome.Changed())

	all, ok := h.store.statFor("exam-1", models.CohortTotal, models.CohortLabelAll, models.FieldTotal)
	require.True(t, ok)
	assert.Equal(t, 2, all.Participants)
	require.NotNil(t, all.Max)
	assert.Equal(t, 90.0, *all.Max)
	require.NotNil(t, all.Average)
	assert.Equal(t, 80.0, *all.Average)

	law, ok := h.store.statFor("exam-1", models.CohortDepartment, "law", models.FieldTotal)
	require.True(t, ok)
	assert.Equal(t, 1, law.Participants)
	require.NotNil(t, law.Max)
	assert.Equal(t, 90.0, *law.Max)

	medicine, ok := h.store.statFor("exam-1", models.CohortDepartment, "medicine", models.FieldTotal)
	require.True(t, ok)
	assert.Equal(t, 1, medicine.Participants)
}

func TestRefreshExamIdempotentOnUnchangedScores(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	seedScoredStudent(h, "exam-1", "S1", "law", 90)

	first, err := h.statistics.RefreshExam(context.Background(), profile)
	require.NoError(t, err)
	assert.True(t, first.Changed())

	second, err := h.statistics.RefreshExam(context.Background(), profile)
	require.NoError(t, err)
	assert.False(t, second.Changed())
}

func TestRefreshExamRejectsUnsupportedCut(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	profile.PercentileCuts = []int{30}

	_, err := h.statistics.RefreshExam(context.Background(), profile)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConfiguration.Code, appErrors.FromError(err).Code)
}

func TestRefreshExamSkipsEmptyLabels(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1", Department: ""})
	_, _ = h.scores.UpsertBatch(context.Background(), []models.Score{
		{StudentID: student.ID, ExamID: "exam-1", Field: models.FieldTotal, Points: 50},
	})

	_, err := h.statistics.RefreshExam(context.Background(), profile)
	require.NoError(t, err)

	_, ok := h.store.statFor("exam-1", models.CohortDepartment, "", models.FieldTotal)
	assert.False(t, ok)
	all, ok := h.store.statFor("exam-1", models.CohortTotal, models.CohortLabelAll, models.FieldTotal)
	require.True(t, ok)
	assert.Equal(t, 1, all.Participants)
}

func TestBumpParticipantsOnlyTouchesExistingRows(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1", Department: "law", Aspiration1: "SNU", Aspiration2: "Yonsei"})

	// No statistics rows yet: bump is a no-op, not an error.
	require.NoError(t, h.statistics.BumpParticipants(context.Background(), profile, student, "language"))
	_, ok := h.store.statFor("exam-1", models.CohortTotal, models.CohortLabelAll, "language")
	assert.False(t, ok)

	_, _ = h.stats.UpsertBatch(context.Background(), []models.CohortStatistics{
		{ExamID: "exam-1", CohortType: models.CohortTotal, CohortLabel: models.CohortLabelAll, Field: "language", Participants: 3},
	})
	require.NoError(t, h.statistics.BumpParticipants(context.Background(), profile, student, "language"))

	all, ok := h.store.statFor("exam-1", models.CohortTotal, models.CohortLabelAll, "language")
	require.True(t, ok)
	assert.Equal(t, 4, all.Participants)
}
