package models

import (
	"time"

	"github.com/lib/pq"
)

// ExamType distinguishes the mock-exam families the platform scores.
type ExamType string

const (
	ExamTypePSAT  ExamType = "psat"
	ExamTypeLEET  ExamType = "leet"
	ExamTypePrime ExamType = "prime"
)

// ExamInstance is one sitting of an exam, identified by year + round + type.
// Immutable after creation apart from lifecycle flags and the official key.
type ExamInstance struct {
	ID               string    `db:"id" json:"id"`
	Year             int       `db:"year" json:"year"`
	Round            int       `db:"round" json:"round"`
	ExamType         ExamType  `db:"exam_type" json:"exam_type"`
	Label            string    `db:"label" json:"label"`
	AnswersPublished bool      `db:"answers_published" json:"answers_published"`
	PredictionOpen   bool      `db:"prediction_open" json:"prediction_open"`
	CreatedAt        time.Time `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time `db:"updated_at" json:"updated_at"`

	Subjects []ExamSubject `json:"subjects,omitempty"`
}

// ExamSubject describes one subject section of an exam instance.
type ExamSubject struct {
	ID                   string    `db:"id" json:"id"`
	ExamID               string    `db:"exam_id" json:"exam_id"`
	Code                 string    `db:"code" json:"code"`
	Name                 string    `db:"name" json:"name"`
	ProblemCount         int       `db:"problem_count" json:"problem_count"`
	Position             int       `db:"position" json:"position"`
	ExcludeFromAggregate bool      `db:"exclude_from_aggregate" json:"exclude_from_aggregate"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
}

// Problem belongs to exactly one exam and subject. OfficialAnswers holds the
// accepted choices explicitly; a disputed key simply carries more than one
// value. Empty means the key has not been published for this problem yet.
type Problem struct {
	ID              string        `db:"id" json:"id"`
	ExamID          string        `db:"exam_id" json:"exam_id"`
	SubjectCode     string        `db:"subject_code" json:"subject_code"`
	Number          int           `db:"number" json:"number"`
	OfficialAnswers pq.Int64Array `db:"official_answers" json:"official_answers"`
	UpdatedAt       time.Time     `db:"updated_at" json:"updated_at"`
}

// AcceptedAnswers returns the official answer set as plain ints.
func (p *Problem) AcceptedAnswers() []int {
	out := make([]int, 0, len(p.OfficialAnswers))
	for _, v := range p.OfficialAnswers {
		out = append(out, int(v))
	}
	return out
}

// Accepts reports whether the submitted choice counts as correct.
func (p *Problem) Accepts(chosen int) bool {
	for _, v := range p.OfficialAnswers {
		if int(v) == chosen {
			return true
		}
	}
	return false
}

// SubjectSpec is the slice of an ExamProfile describing one subject.
type SubjectSpec struct {
	Code                 string `json:"code"`
	Name                 string `json:"name"`
	ProblemCount         int    `json:"problem_count"`
	ExcludeFromAggregate bool   `json:"exclude_from_aggregate"`
}

// ExamProfile is the value object the engines are parameterised with:
// subject layout, percentile cuts and distribution band boundaries for one
// exam instance. Built once per exam from its stored subjects plus the
// scoring configuration, then passed around instead of consulted globally.
type ExamProfile struct {
	ExamID         string        `json:"exam_id"`
	Subjects       []SubjectSpec `json:"subjects"`
	PercentileCuts []int         `json:"percentile_cuts"`
	TopBandPercent int           `json:"top_band_percent"`
	MidBandPercent int           `json:"mid_band_percent"`
}

// Subject returns the spec for the given code.
func (p *ExamProfile) Subject(code string) (SubjectSpec, bool) {
	for _, s := range p.Subjects {
		if s.Code == code {
			return s, true
		}
	}
	return SubjectSpec{}, false
}

// AggregatedSubjects returns the subjects whose scores feed the aggregate.
func (p *ExamProfile) AggregatedSubjects() []SubjectSpec {
	out := make([]SubjectSpec, 0, len(p.Subjects))
	for _, s := range p.Subjects {
		if !s.ExcludeFromAggregate {
			out = append(out, s)
		}
	}
	return out
}

// ExamFilter scopes exam listing.
type ExamFilter struct {
	Year     int
	ExamType string
	Page     int
	PageSize int
}
