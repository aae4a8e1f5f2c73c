package models

import "time"

// RankBand partitions the population for answer-distribution analysis.
type RankBand string

const (
	BandAll RankBand = "all"
	BandTop RankBand = "top"
	BandMid RankBand = "mid"
	BandLow RankBand = "low"
)

// AllRankBands lists the band variants kept per problem.
var AllRankBands = []RankBand{BandAll, BandTop, BandMid, BandLow}

// AnswerCount tallies how many students in one band chose each value for a
// problem. Counts live in explicit columns rather than dynamically named
// attributes; Count0 is "left blank" and CountMultiple absorbs invalid
// multi-value submissions.
type AnswerCount struct {
	ID            string    `db:"id" json:"id"`
	ProblemID     string    `db:"problem_id" json:"problem_id"`
	Band          RankBand  `db:"band" json:"band"`
	Count0        int       `db:"count_0" json:"count_0"`
	Count1        int       `db:"count_1" json:"count_1"`
	Count2        int       `db:"count_2" json:"count_2"`
	Count3        int       `db:"count_3" json:"count_3"`
	Count4        int       `db:"count_4" json:"count_4"`
	Count5        int       `db:"count_5" json:"count_5"`
	CountMultiple int       `db:"count_multiple" json:"count_multiple"`
	CountTotal    int       `db:"count_total" json:"count_total"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// CountFor returns the tally for a choice value, -1 for "multiple".
func (a *AnswerCount) CountFor(choice int) int {
	switch choice {
	case 0:
		return a.Count0
	case 1:
		return a.Count1
	case 2:
		return a.Count2
	case 3:
		return a.Count3
	case 4:
		return a.Count4
	case 5:
		return a.Count5
	default:
		return a.CountMultiple
	}
}

// Record tallies one submission. Out-of-range values count as "multiple".
func (a *AnswerCount) Record(choice int) {
	switch choice {
	case 0:
		a.Count0++
	case 1:
		a.Count1++
	case 2:
		a.Count2++
	case 3:
		a.Count3++
	case 4:
		a.Count4++
	case 5:
		a.Count5++
	default:
		a.CountMultiple++
	}
	a.CountTotal++
}

// PredictedAnswer returns the plurality choice among 1..5, nil when the band
// has no submissions. Ties resolve to the lowest choice value.
func (a *AnswerCount) PredictedAnswer() *int {
	if a.CountTotal == 0 {
		return nil
	}
	best := 1
	for v := 2; v <= 5; v++ {
		if a.CountFor(v) > a.CountFor(best) {
			best = v
		}
	}
	if a.CountFor(best) == 0 {
		return nil
	}
	return &best
}

// AccuracyRate returns the share of submissions matching the predicted
// answer as a percentage, nil when empty.
func (a *AnswerCount) AccuracyRate() *float64 {
	predicted := a.PredictedAnswer()
	if predicted == nil {
		return nil
	}
	rate := float64(a.CountFor(*predicted)) / float64(a.CountTotal) * 100
	return &rate
}

// SelectionRate returns the share of submissions for one choice as a
// percentage, nil when the band is empty.
func (a *AnswerCount) SelectionRate(choice int) *float64 {
	if a.CountTotal == 0 {
		return nil
	}
	rate := float64(a.CountFor(choice)) / float64(a.CountTotal) * 100
	return &rate
}

// ProblemDistribution is the read view for one problem: every band row plus
// the derived rates.
type ProblemDistribution struct {
	ProblemID       string          `json:"problem_id"`
	SubjectCode     string          `json:"subject_code"`
	ProblemNumber   int             `json:"problem_number"`
	OfficialAnswers []int           `json:"official_answers"`
	PredictedAnswer *int            `json:"predicted_answer,omitempty"`
	AccuracyRate    *float64        `json:"accuracy_rate,omitempty"`
	Bands           []AnswerCount   `json:"bands"`
	SelectionRates  map[int]float64 `json:"selection_rates,omitempty"`
}
