package models

import "time"

// Choice boundaries for a five-option multiple-choice problem. Zero encodes
// "left blank"; values outside 0..5 are rejected before scoring.
const (
	ChoiceNone = 0
	ChoiceMin  = 1
	ChoiceMax  = 5

	// ChoiceMultiple is the tally bucket for out-of-range submissions.
	ChoiceMultiple = -1
)

// Answer records a student's chosen value for one problem. At most one row
// exists per (student, problem); it stays mutable until the subject is
// confirmed.
type Answer struct {
	ID        string    `db:"id" json:"id"`
	StudentID string    `db:"student_id" json:"student_id"`
	ProblemID string    `db:"problem_id" json:"problem_id"`
	Chosen    int       `db:"chosen" json:"chosen"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// SubjectConfirmation marks the transition of one student's subject answers
// from draft to finalized. Once present, answer writes for the subject are
// rejected and the scoring pipeline has run.
type SubjectConfirmation struct {
	ID          string    `db:"id" json:"id"`
	StudentID   string    `db:"student_id" json:"student_id"`
	SubjectCode string    `db:"subject_code" json:"subject_code"`
	ConfirmedAt time.Time `db:"confirmed_at" json:"confirmed_at"`
}

// SubjectAnswer pairs a problem position with the chosen value, ordered by
// problem number. This is the engine-facing read view over submissions.
type SubjectAnswer struct {
	ProblemID     string `db:"problem_id" json:"problem_id"`
	ProblemNumber int    `db:"problem_number" json:"problem_number"`
	Chosen        int    `db:"chosen" json:"chosen"`
}
