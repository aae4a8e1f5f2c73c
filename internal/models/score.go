package models

import "time"

// Score fields beyond plain subject codes. The aggregate is tracked as its
// own field so statistics and ranks treat it uniformly with subjects.
const (
	FieldTotal   = "total"
	FieldAverage = "average"
)

// Score is one derived score row per (student, field). Subject rows carry the
// correct count and the 0-100 normalised value; the total row carries the sum
// over aggregated subjects, the average row the mean.
type Score struct {
	ID           string    `db:"id" json:"id"`
	StudentID    string    `db:"student_id" json:"student_id"`
	ExamID       string    `db:"exam_id" json:"exam_id"`
	Field        string    `db:"field" json:"field"`
	CorrectCount int       `db:"correct_count" json:"correct_count"`
	Points       float64   `db:"points" json:"points"`
	UpdatedAt    time.Time `db:"updated_at" json:"updated_at"`
}

// SubjectScore is the in-memory scoring result for one subject before
// persistence.
type SubjectScore struct {
	SubjectCode  string  `json:"subject_code"`
	CorrectCount int     `json:"correct_count"`
	Points       float64 `json:"points"`
}

// ScoreSet is a student's complete scoring result across subjects.
type ScoreSet struct {
	StudentID string         `json:"student_id"`
	ExamID    string         `json:"exam_id"`
	Subjects  []SubjectScore `json:"subjects"`
	Total     float64        `json:"total"`
	Average   float64        `json:"average"`
}
