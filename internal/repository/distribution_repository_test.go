package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/prime-exam-api/internal/models"
)

func TestDistributionRepositoryIncrement(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDistributionRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("ON CONFLICT (problem_id, band)")).
		WithArgs(sqlmock.AnyArg(), "prob-1", models.BandTop, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Increment(context.Background(), "prob-1", models.BandTop, 3))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributionRepositoryIncrementRejectsBadChoice(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDistributionRepository(db)

	err := repo.Increment(context.Background(), "prob-1", models.BandAll, 7)
	require.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributionRepositoryReplaceForProblem(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDistributionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM answer_counts WHERE problem_id = $1")).
		WithArgs("prob-1").
		WillReturnResult(sqlmock.NewResult(0, 4))
	for range models.AllRankBands {
		mock.ExpectExec(regexp.QuoteMeta("INSERT INTO answer_counts")).
			WillReturnResult(sqlmock.NewResult(1, 1))
	}
	mock.ExpectCommit()

	counts := make([]models.AnswerCount, 0, len(models.AllRankBands))
	for _, band := range models.AllRankBands {
		counts = append(counts, models.AnswerCount{Band: band, Count1: 2, CountTotal: 2})
	}
	require.NoError(t, repo.ReplaceForProblem(context.Background(), "prob-1", counts))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDistributionRepositoryListByProblem(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewDistributionRepository(db)

	rows := sqlmock.NewRows([]string{"id", "problem_id", "band", "count_0", "count_1", "count_2", "count_3", "count_4", "count_5", "count_multiple", "count_total", "updated_at"}).
		AddRow("ac-1", "prob-1", "all", 1, 5, 2, 0, 0, 0, 0, 8, time.Now()).
		AddRow("ac-2", "prob-1", "top", 0, 3, 0, 0, 0, 0, 0, 3, time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("FROM answer_counts WHERE problem_id = $1 ORDER BY band ASC")).
		WithArgs("prob-1").
		WillReturnRows(rows)

	counts, err := repo.ListByProblem(context.Background(), "prob-1")
	require.NoError(t, err)
	require.Len(t, counts, 2)
	require.Equal(t, 8, counts[0].CountTotal)
	require.NoError(t, mock.ExpectationsWereMet())
}
