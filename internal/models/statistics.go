package models

import "time"

// CohortStatistics is one derived statistics row per (exam, cohort, field).
// All value columns are pointers: an empty cohort legitimately has no data,
// which must never be conflated with a population whose top score is zero.
// Threshold columns not covered by the exam profile's percentile cuts stay
// nil.
type CohortStatistics struct {
	ID           string     `db:"id" json:"id"`
	ExamID       string     `db:"exam_id" json:"exam_id"`
	CohortType   CohortType `db:"cohort_type" json:"cohort_type"`
	CohortLabel  string     `db:"cohort_label" json:"cohort_label"`
	Field        string     `db:"field" json:"field"`
	Participants int        `db:"participants" json:"participants"`
	Max          *float64   `db:"max" json:"max,omitempty"`
	Top10        *float64   `db:"top_10" json:"top_10,omitempty"`
	Top20        *float64   `db:"top_20" json:"top_20,omitempty"`
	Top25        *float64   `db:"top_25" json:"top_25,omitempty"`
	Top50        *float64   `db:"top_50" json:"top_50,omitempty"`
	Average      *float64   `db:"average" json:"average,omitempty"`
	UpdatedAt    time.Time  `db:"updated_at" json:"updated_at"`
}

// Threshold returns the stored cut value for a supported percentile.
func (s *CohortStatistics) Threshold(percent int) *float64 {
	switch percent {
	case 10:
		return s.Top10
	case 20:
		return s.Top20
	case 25:
		return s.Top25
	case 50:
		return s.Top50
	default:
		return nil
	}
}

// SetThreshold stores the cut value for a supported percentile. Unsupported
// percentiles are ignored; the configured cut set is validated upstream.
func (s *CohortStatistics) SetThreshold(percent int, value *float64) {
	switch percent {
	case 10:
		s.Top10 = value
	case 20:
		s.Top20 = value
	case 25:
		s.Top25 = value
	case 50:
		s.Top50 = value
	}
}

// SupportedPercentileCuts are the threshold columns the data model carries.
var SupportedPercentileCuts = []int{10, 20, 25, 50}
