package models

import "time"

// Student is one person's registration to one exam instance. The same person
// sitting two exams has two independent Student rows; no cross-exam identity
// is kept at this layer.
type Student struct {
	ID           string    `db:"id" json:"id"`
	ExamID       string    `db:"exam_id" json:"exam_id"`
	Serial       string    `db:"serial" json:"serial"`
	Name         string    `db:"name" json:"name"`
	PasswordHash string    `db:"password_hash" json:"-"`
	Department   string    `db:"department" json:"department"`
	Aspiration1  string    `db:"aspiration_1" json:"aspiration_1"`
	Aspiration2  string    `db:"aspiration_2" json:"aspiration_2"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// CohortValue returns the student's label for the given cohort dimension.
// The total cohort has no label; it always returns the reserved ALL value.
func (s *Student) CohortValue(cohortType CohortType) string {
	switch cohortType {
	case CohortDepartment:
		return s.Department
	case CohortAspiration1:
		return s.Aspiration1
	case CohortAspiration2:
		return s.Aspiration2
	default:
		return CohortLabelAll
	}
}

// StudentFilter captures filtering criteria for listing students.
type StudentFilter struct {
	ExamID     string
	Department string
	Search     string
	Page       int
	PageSize   int
}

// StudentResult is the full result view a student (or admin) reads back:
// scores, standings across every tracked cohort, and the cohort statistics
// of the student's own exam.
type StudentResult struct {
	Student    Student            `json:"student"`
	Scores     []Score            `json:"scores"`
	Ranks      []Rank             `json:"ranks"`
	Statistics []CohortStatistics `json:"statistics"`
}
