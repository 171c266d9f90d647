package scoring

import "math"

// Rationale lists what the submission did well and badly. Both lists are
// always present in JSON, empty or not.
type Rationale struct {
	Positives []string `json:"positives"`
	Negatives []string `json:"negatives"`
}

// ScoreReport is the evaluate-mode output. Score is Points as a percentage of
// the rubric's maximum, rounded to two decimals.
type ScoreReport struct {
	Score     float64   `json:"score"`
	Rationale Rationale `json:"rationale"`
	Points    float64   `json:"points"`
}

func newReport(points, maxPoints float64, positives, negatives []string) ScoreReport {
	if points < 0 {
		points = 0
	}
	if points > maxPoints {
		points = maxPoints
	}
	score := 0.0
	if maxPoints > 0 {
		score = round2(points / maxPoints * 100)
	}
	if positives == nil {
		positives = []string{}
	}
	if negatives == nil {
		negatives = []string{}
	}
	return ScoreReport{
		Score:     score,
		Points:    round2(points),
		Rationale: Rationale{Positives: positives, Negatives: negatives},
	}
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
