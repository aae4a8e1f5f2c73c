package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/prime-exam-api/internal/models"
)

// StatisticsRepository manages derived cohort statistics rows.
type StatisticsRepository struct {
	db *sqlx.DB
}

// NewStatisticsRepository constructs a StatisticsRepository.
func NewStatisticsRepository(db *sqlx.DB) *StatisticsRepository {
	return &StatisticsRepository{db: db}
}

// UpsertBatch writes a refreshed statistics snapshot for an exam inside one
// transaction, skipping rows whose stored values already match.
func (r *StatisticsRepository) UpsertBatch(ctx context.Context, stats []models.CohortStatistics) (Outcome, error) {
	if len(stats) == 0 {
		return OutcomeUnchanged, nil
	}
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return OutcomeUnchanged, err
	}
	outcome := OutcomeUnchanged
	now := time.Now().UTC()
	const lookup = `SELECT id, exam_id, cohort_type, cohort_label, field, participants, max, top_10, top_20, top_25, top_50, average, updated_at
        FROM cohort_statistics WHERE exam_id = $1 AND cohort_type = $2 AND cohort_label = $3 AND field = $4 FOR UPDATE`
	const insert = `INSERT INTO cohort_statistics (id, exam_id, cohort_type, cohort_label, field, participants, max, top_10, top_20, top_25, top_50, average, updated_at)
        VALUES (:id, :exam_id, :cohort_type, :cohort_label, :field, :participants, :max, :top_10, :top_20, :top_25, :top_50, :average, :updated_at)`
	const update = `UPDATE cohort_statistics SET participants = :participants, max = :max, top_10 = :top_10, top_20 = :top_20, top_25 = :top_25, top_50 = :top_50, average = :average, updated_at = :updated_at
        WHERE id = :id`
	for i := range stats {
		var existing models.CohortStatistics
		err := tx.GetContext(ctx, &existing, lookup, stats[i].ExamID, stats[i].CohortType, stats[i].CohortLabel, stats[i].Field)
		switch {
		case errors.Is(err, sql.ErrNoRows):
			stats[i].ID = uuid.NewString()
			stats[i].UpdatedAt = now
			if _, err := tx.NamedExecContext(ctx, insert, stats[i]); err != nil {
				tx.Rollback() //nolint:errcheck
				return OutcomeUnchanged, wrapWriteConflict(err, "insert statistics")
			}
			outcome = outcome.Merge(OutcomeCreated)
		case err != nil:
			tx.Rollback() //nolint:errcheck
			return OutcomeUnchanged, fmt.Errorf("lookup statistics: %w", err)
		case statisticsEqual(existing, stats[i]):
			stats[i].ID = existing.ID
			stats[i].UpdatedAt = existing.UpdatedAt
		default:
			stats[i].ID = existing.ID
			stats[i].UpdatedAt = now
			if _, err := tx.NamedExecContext(ctx, update, stats[i]); err != nil {
				tx.Rollback() //nolint:errcheck
				return OutcomeUnchanged, wrapWriteConflict(err, "update statistics")
			}
			outcome = outcome.Merge(OutcomeUpdated)
		}
	}
	if err := tx.Commit(); err != nil {
		return OutcomeUnchanged, fmt.Errorf("commit statistics: %w", err)
	}
	return outcome, nil
}

// IncrementParticipants bumps the participant counter of one statistics row
// in place. Rows that do not exist yet are left for the next batch refresh;
// the stored snapshot stays eventually consistent.
func (r *StatisticsRepository) IncrementParticipants(ctx context.Context, examID string, cohortType models.CohortType, label, field string) error {
	const query = `UPDATE cohort_statistics SET participants = participants + 1, updated_at = $5
        WHERE exam_id = $1 AND cohort_type = $2 AND cohort_label = $3 AND field = $4`
	if _, err := r.db.ExecContext(ctx, query, examID, cohortType, label, field, time.Now().UTC()); err != nil {
		return fmt.Errorf("bump statistics participants: %w", err)
	}
	return nil
}

// ListByExam returns every statistics row of an exam.
func (r *StatisticsRepository) ListByExam(ctx context.Context, examID string) ([]models.CohortStatistics, error) {
	const query = `SELECT id, exam_id, cohort_type, cohort_label, field, participants, max, top_10, top_20, top_25, top_50, average, updated_at
        FROM cohort_statistics WHERE exam_id = $1 ORDER BY cohort_type ASC, cohort_label ASC, field ASC`
	var stats []models.CohortStatistics
	if err := r.db.SelectContext(ctx, &stats, query, examID); err != nil {
		return nil, fmt.Errorf("list statistics: %w", err)
	}
	return stats, nil
}

// ListByCohort returns the statistics rows for one cohort of an exam.
func (r *StatisticsRepository) ListByCohort(ctx context.Context, examID string, cohortType models.CohortType, label string) ([]models.CohortStatistics, error) {
	const query = `SELECT id, exam_id, cohort_type, cohort_label, field, participants, max, top_10, top_20, top_25, top_50, average, updated_at
        FROM cohort_statistics WHERE exam_id = $1 AND cohort_type = $2 AND cohort_label = $3 ORDER BY field ASC`
	var stats []models.CohortStatistics
	if err := r.db.SelectContext(ctx, &stats, query, examID, cohortType, label); err != nil {
		return nil, fmt.Errorf("list cohort statistics: %w", err)
	}
	return stats, nil
}

func statisticsEqual(a, b models.CohortStatistics) bool {
	if a.Participants != b.Participants {
		return false
	}
	pairs := [][2]*float64{
		{a.Max, b.Max},
		{a.Top10, b.Top10},
		{a.Top20, b.Top20},
		{a.Top25, b.Top25},
		{a.Top50, b.Top50},
		{a.Average, b.Average},
	}
	for _, pair := range pairs {
		if !floatPtrEqual(pair[0], pair[1]) {
			return false
		}
	}
	return true
}

func floatPtrEqual(a, b *float64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
