package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/prime-exam-api/internal/models"
)

func TestBandForBoundaries(t *testing.T) {
	profile := models.ExamProfile{TopBandPercent: 27, MidBandPercent: 73}
	assert.Equal(t, models.BandTop, bandFor(1, profile))
	assert.Equal(t, models.BandTop, bandFor(27, profile))
	assert.Equal(t, models.BandMid, bandFor(27.5, profile))
	assert.Equal(t, models.BandMid, bandFor(73, profile))
	assert.Equal(t, models.BandLow, bandFor(74, profile))
	assert.Equal(t, models.BandLow, bandFor(100, profile))
}

func TestTallyChoiceBuckets(t *testing.T) {
	assert.Equal(t, 0, tallyChoice(0))
	assert.Equal(t, 3, tallyChoice(3))
	assert.Equal(t, 5, tallyChoice(5))
	assert.Equal(t, models.ChoiceMultiple, tallyChoice(6))
	assert.Equal(t, models.ChoiceMultiple, tallyChoice(-2))
}

func TestRecordConfirmationFeedsAllAndBandRows(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1"})
	p1 := h.store.addProblem("exam-1", "language", 1, 1)
	p2 := h.store.addProblem("exam-1", "language", 2, 2)
	h.store.setAnswer(student.ID, p1.ID, 1)
	h.store.setAnswer(student.ID, p2.ID, 3)
	h.store.confirm(student.ID, "language")

	// Rank at position 1 of 1: percentile 100, low band.
	_, _ = h.ranks.UpsertBatch(context.Background(), []models.Rank{
		{StudentID: student.ID, ExamID: "exam-1", CohortType: models.CohortTotal, Field: models.FieldTotal, Position: 1, Participants: 1},
	})

	require.NoError(t, h.distribution.RecordConfirmation(context.Background(), profile, student.ID, "language"))

	all := h.store.countFor(p1.ID, models.BandAll)
	assert.Equal(t, 1, all.Count1)
	assert.Equal(t, 1, all.CountTotal)
	low := h.store.countFor(p1.ID, models.BandLow)
	assert.Equal(t, 1, low.Count1)

	all2 := h.store.countFor(p2.ID, models.BandAll)
	assert.Equal(t, 1, all2.Count3)
}

func TestRecordConfirmationUnrankedOnlyFeedsAllRow(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1"})
	p1 := h.store.addProblem("exam-1", "language", 1, 1)
	h.store.setAnswer(student.ID, p1.ID, 2)
	h.store.confirm(student.ID, "language")

	require.NoError(t, h.distribution.RecordConfirmation(context.Background(), profile, student.ID, "language"))

	all := h.store.countFor(p1.ID, models.BandAll)
	assert.Equal(t, 1, all.Count2)
	for _, band := range []models.RankBand{models.BandTop, models.BandMid, models.BandLow} {
		assert.Equal(t, 0, h.store.countFor(p1.ID, band).CountTotal, "band %s", band)
	}
}

func TestRebuildMatchesIncrementalTallies(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	p1 := h.store.addProblem("exam-1", "language", 1, 1)
	p2 := h.store.addProblem("exam-1", "language", 2, 2)

	choices := []struct {
		serial string
		p1, p2 int
	}{
		{"S1", 1, 2},
		{"S2", 1, 1},
		{"S3", 4, 2},
	}
	for _, c := range choices {
		student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: c.serial})
		h.store.setAnswer(student.ID, p1.ID, c.p1)
		h.store.setAnswer(student.ID, p2.ID, c.p2)
		h.store.confirm(student.ID, "language")
		require.NoError(t, h.distribution.RecordConfirmation(context.Background(), profile, student.ID, "language"))
	}

	incremental := h.store.countFor(p1.ID, models.BandAll)

	require.NoError(t, h.distribution.RebuildExam(context.Background(), profile))
	rebuilt := h.store.countFor(p1.ID, models.BandAll)

	assert.Equal(t, incremental.Count1, rebuilt.Count1)
	assert.Equal(t, incremental.Count4, rebuilt.Count4)
	assert.Equal(t, incremental.CountTotal, rebuilt.CountTotal)
	assert.Equal(t, 2, rebuilt.Count1)
	assert.Equal(t, 1, rebuilt.Count4)
	assert.Equal(t, 3, rebuilt.CountTotal)
}

// Same equivalence with ranked students, so the top/mid/low rows carry real
// tallies on both paths rather than staying empty.
func TestRebuildMatchesIncrementalBandTallies(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	p1 := h.store.addProblem("exam-1", "language", 1, 1)
	p2 := h.store.addProblem("exam-1", "language", 2, 2)

	// Positions 1..4 of 4: percentiles 25/50/75/100, bands top/mid/low/low.
	choices := []struct {
		serial   string
		position int
		p1, p2   int
	}{
		{"S1", 1, 1, 2},
		{"S2", 2, 1, 1},
		{"S3", 3, 4, 2},
		{"S4", 4, 2, 2},
	}
	for _, c := range choices {
		student := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: c.serial})
		h.store.setAnswer(student.ID, p1.ID, c.p1)
		h.store.setAnswer(student.ID, p2.ID, c.p2)
		h.store.confirm(student.ID, "language")
		_, _ = h.ranks.UpsertBatch(context.Background(), []models.Rank{
			{StudentID: student.ID, ExamID: "exam-1", CohortType: models.CohortTotal, Field: models.FieldTotal, Position: c.position, Participants: 4},
		})
		require.NoError(t, h.distribution.RecordConfirmation(context.Background(), profile, student.ID, "language"))
	}

	incremental := make(map[models.RankBand]models.AnswerCount, len(models.AllRankBands))
	for _, band := range models.AllRankBands {
		incremental[band] = h.store.countFor(p1.ID, band)
	}
	require.Equal(t, 1, incremental[models.BandTop].CountTotal)
	require.Equal(t, 1, incremental[models.BandMid].CountTotal)
	require.Equal(t, 2, incremental[models.BandLow].CountTotal)

	require.NoError(t, h.distribution.RebuildExam(context.Background(), profile))

	for _, band := range models.AllRankBands {
		rebuilt := h.store.countFor(p1.ID, band)
		assert.Equal(t, incremental[band].Count1, rebuilt.Count1, "band %s", band)
		assert.Equal(t, incremental[band].Count2, rebuilt.Count2, "band %s", band)
		assert.Equal(t, incremental[band].Count3, rebuilt.Count3, "band %s", band)
		assert.Equal(t, incremental[band].Count4, rebuilt.Count4, "band %s", band)
		assert.Equal(t, incremental[band].Count5, rebuilt.Count5, "band %s", band)
		assert.Equal(t, incremental[band].CountTotal, rebuilt.CountTotal, "band %s", band)
	}
	low := h.store.countFor(p1.ID, models.BandLow)
	assert.Equal(t, 1, low.Count4)
	assert.Equal(t, 1, low.Count2)
}

func TestRebuildProblemIgnoresDraftAnswers(t *testing.T) {
	h := newEngineHarness()
	profile := twoProblemProfile("exam-1")
	p1 := h.store.addProblem("exam-1", "language", 1, 1)

	confirmed := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S1"})
	h.store.setAnswer(confirmed.ID, p1.ID, 1)
	h.store.confirm(confirmed.ID, "language")

	draft := h.store.addStudent(models.Student{ExamID: "exam-1", Serial: "S2"})
	h.store.setAnswer(draft.ID, p1.ID, 2)

	require.NoError(t, h.distribution.RebuildProblem(context.Background(), profile, p1.ID))

	all := h.store.countFor(p1.ID, models.BandAll)
	assert.Equal(t, 1, all.CountTotal)
	assert.Equal(t, 1, all.Count1)
	assert.Equal(t, 0, all.Count2)
}

func TestProblemDistributionView(t *testing.T) {
	h := newEngineHarness()
	p1 := h.store.addProblem("exam-1", "language", 1, 2)

	// 3 of 4 picked choice 2, one picked 1.
	for choice, count := range map[int]int{1: 1, 2: 3} {
		for i := 0; i < count; i++ {
			require.NoError(t, h.counts.Increment(context.Background(), p1.ID, models.BandAll, choice))
		}
	}

	view, err := h.distribution.ProblemDistribution(context.Background(), p1.ID)
	require.NoError(t, err)
	assert.Equal(t, "language", view.SubjectCode)
	assert.Equal(t, []int{2}, view.OfficialAnswers)
	require.NotNil(t, view.PredictedAnswer)
	assert.Equal(t, 2, *view.PredictedAnswer)
	require.NotNil(t, view.AccuracyRate)
	assert.Equal(t, 75.0, *view.AccuracyRate)
	assert.Equal(t, 25.0, view.SelectionRates[1])
	assert.Equal(t, 75.0, view.SelectionRates[2])
}

func TestProblemDistributionEmptyBands(t *testing.T) {
	h := newEngineHarness()
	p1 := h.store.addProblem("exam-1", "language", 1, 1)

	view, err := h.distribution.ProblemDistribution(context.Background(), p1.ID)
	require.NoError(t, err)
	assert.Nil(t, view.PredictedAnswer)
	assert.Nil(t, view.AccuracyRate)
	assert.Nil(t, view.SelectionRates)
}

func TestProblemDistributionUnknownProblem(t *testing.T) {
	h := newEngineHarness()
	_, err := h.distribution.ProblemDistribution(context.Background(), "missing")
	require.Error(t, err)
}
