package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	appErrors "github.com/noah-isme/prime-exam-api/pkg/errors"

	"github.com/noah-isme/prime-exam-api/internal/models"
)

// DistributionRepository stores per-problem answer tallies split by rank band.
type DistributionRepository struct {
	db *sqlx.DB
}

// NewDistributionRepository constructs a DistributionRepository.
func NewDistributionRepository(db *sqlx.DB) *DistributionRepository {
	return &DistributionRepository{db: db}
}

// Increment bumps one band tally for a problem atomically, creating the row
// when it does not exist yet.
func (r *DistributionRepository) Increment(ctx context.Context, problemID string, band models.RankBand, choice int) error {
	column, err := countColumn(choice)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`INSERT INTO answer_counts (id, problem_id, band, %s, count_total, updated_at)
        VALUES ($1, $2, $3, 1, 1, $4)
        ON CONFLICT (problem_id, band)
        DO UPDATE SET %s = answer_counts.%s + 1, count_total = answer_counts.count_total + 1, updated_at = $4`,
		column, column, column)
	if _, err := r.db.ExecContext(ctx, query, uuid.NewString(), problemID, band, time.Now().UTC()); err != nil {
		return wrapWriteConflict(err, "increment answer count")
	}
	return nil
}

// ReplaceForProblem overwrites every band row of a problem with a freshly
// computed tally set inside one transaction.
func (r *DistributionRepository) ReplaceForProblem(ctx context.Context, problemID string, counts []models.AnswerCount) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM answer_counts WHERE problem_id = $1`, problemID); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("clear answer counts: %w", err)
	}
	const insert = `INSERT INTO answer_counts (id, problem_id, band, count_0, count_1, count_2, count_3, count_4, count_5, count_multiple, count_total, updated_at)
        VALUES (:id, :problem_id, :band, :count_0, :count_1, :count_2, :count_3, :count_4, :count_5, :count_multiple, :count_total, :updated_at)`
	now := time.Now().UTC()
	for i := range counts {
		counts[i].ProblemID = problemID
		if counts[i].ID == "" {
			counts[i].ID = uuid.NewString()
		}
		counts[i].UpdatedAt = now
		if _, err := tx.NamedExecContext(ctx, insert, counts[i]); err != nil {
			tx.Rollback() //nolint:errcheck
			return wrapWriteConflict(err, "insert answer count")
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit answer counts: %w", err)
	}
	return nil
}

// Get returns one band row for a problem.
func (r *DistributionRepository) Get(ctx context.Context, problemID string, band models.RankBand) (*models.AnswerCount, error) {
	const query = `SELECT id, problem_id, band, count_0, count_1, count_2, count_3, count_4, count_5, count_multiple, count_total, updated_at
        FROM answer_counts WHERE problem_id = $1 AND band = $2`
	var count models.AnswerCount
	if err := r.db.GetContext(ctx, &count, query, problemID, band); err != nil {
		return nil, err
	}
	return &count, nil
}

// ListByProblem returns every band row of a problem.
func (r *DistributionRepository) ListByProblem(ctx context.Context, problemID string) ([]models.AnswerCount, error) {
	const query = `SELECT id, problem_id, band, count_0, count_1, count_2, count_3, count_4, count_5, count_multiple, count_total, updated_at
        FROM answer_counts WHERE problem_id = $1 ORDER BY band ASC`
	var counts []models.AnswerCount
	if err := r.db.SelectContext(ctx, &counts, query, problemID); err != nil {
		return nil, fmt.Errorf("list answer counts: %w", err)
	}
	return counts, nil
}

// ListByProblems returns band rows for a set of problems keyed by problem id.
func (r *DistributionRepository) ListByProblems(ctx context.Context, problemIDs []string) (map[string][]models.AnswerCount, error) {
	if len(problemIDs) == 0 {
		return map[string][]models.AnswerCount{}, nil
	}
	const query = `SELECT id, problem_id, band, count_0, count_1, count_2, count_3, count_4, count_5, count_multiple, count_total, updated_at
        FROM answer_counts WHERE problem_id = ANY($1) ORDER BY problem_id ASC, band ASC`
	var counts []models.AnswerCount
	if err := r.db.SelectContext(ctx, &counts, query, pq.Array(problemIDs)); err != nil {
		return nil, fmt.Errorf("list answer counts: %w", err)
	}
	byProblem := make(map[string][]models.AnswerCount, len(problemIDs))
	for _, c := range counts {
		byProblem[c.ProblemID] = append(byProblem[c.ProblemID], c)
	}
	return byProblem, nil
}

func countColumn(choice int) (string, error) {
	switch choice {
	case 0:
		return "count_0", nil
	case 1:
		return "count_1", nil
	case 2:
		return "count_2", nil
	case 3:
		return "count_3", nil
	case 4:
		return "count_4", nil
	case 5:
		return "count_5", nil
	case models.ChoiceMultiple:
		return "count_multiple", nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unsupported choice value %d", choice))
	}
}
