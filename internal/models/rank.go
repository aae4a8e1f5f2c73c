package models

import "time"

// CohortType selects which population partition a rank or statistic applies to.
type CohortType string

const (
	// CohortTotal is the whole exam-instance population.
	CohortTotal       CohortType = "total"
	CohortDepartment  CohortType = "department"
	CohortAspiration1 CohortType = "aspiration_1"
	CohortAspiration2 CohortType = "aspiration_2"
)

// CohortLabelAll is the reserved label for the whole-population cohort.
const CohortLabelAll = "ALL"

// AllCohortTypes lists every partition the platform tracks, in the order
// rank rows are refreshed for an acting student.
var AllCohortTypes = []CohortType{CohortTotal, CohortDepartment, CohortAspiration1, CohortAspiration2}

// Rank is one derived standing row per (student, cohort type, field).
// Position uses competition ranking: 1 plus the number of strictly greater
// scores in the cohort, so ties share a position and the next distinct score
// skips ahead. Position 0 with Participants 0 is the "no rank" sentinel for
// an empty cohort.
type Rank struct {
	ID           string     `db:"id" json:"id"`
	StudentID    string     `db:"student_id" json:"student_id"`
	ExamID       string     `db:"exam_id" json:"exam_id"`
	CohortType   CohortType `db:"cohort_type" json:"cohort_type"`
	Field        string     `db:"field" json:"field"`
	Position     int        `db:"position" json:"position"`
	Participants int        `db:"participants" json:"participants"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Percentile returns the student's standing as a 0-100 percentage of the
// cohort (1 of 4 → 25.0). Nil when the rank is the empty-cohort sentinel.
func (r *Rank) Percentile() *float64 {
	if r.Participants == 0 || r.Position == 0 {
		return nil
	}
	p := float64(r.Position) / float64(r.Participants) * 100
	return &p
}
