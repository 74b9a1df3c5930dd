// Package grade maps a score to the percentage and letter shown after submission.
package grade

import (
	"errors"
	"math"

	"github.com/stemsi/exstem-runtime/internal/model"
)

var (
	ErrNoQuestions  = errors.New("cannot grade an exam with zero questions")
	ErrInvalidCount = errors.New("correct count must be between 0 and total")
)

// PassPercentage is the lowest percentage that is not a Fail.
const PassPercentage = 40

type band struct {
	min    int
	letter string
}

// Inclusive lower bounds, highest first.
var bands = []band{
	{90, "A+"},
	{80, "A"},
	{70, "A-"},
	{60, "B"},
	{50, "C"},
	{PassPercentage, "Pass"},
}

// Grade is the presented outcome of an attempt.
type Grade struct {
	Percentage int    `json:"percentage"`
	Letter     string `json:"letter"`
	Passed     bool   `json:"passed"`
}

// Present computes round(100*correct/total) and its letter band.
func Present(correct, total int) (Grade, error) {
	if total == 0 {
		return Grade{}, ErrNoQuestions
	}
	if total < 0 || correct < 0 || correct > total {
		return Grade{}, ErrInvalidCount
	}

	pct := int(math.Round(100 * float64(correct) / float64(total)))
	for _, b := range bands {
		if pct >= b.min {
			return Grade{Percentage: pct, Letter: b.letter, Passed: true}, nil
		}
	}
	return Grade{Percentage: pct, Letter: "Fail"}, nil
}

// Summary aggregates per-question results for display.
type Summary struct {
	Correct  int   `json:"correct"`
	Answered int   `json:"answered"`
	Total    int   `json:"total"`
	Grade    Grade `json:"grade"`
}

// Summarize counts results and presents the grade.
func Summarize(results []model.PerQuestionResult) (Summary, error) {
	s := Summary{Total: len(results)}
	for _, r := range results {
		if r.SelectedAnswer != "" {
			s.Answered++
		}
		if r.IsCorrect {
			s.Correct++
		}
	}
	g, err := Present(s.Correct, s.Total)
	if err != nil {
		return s, err
	}
	s.Grade = g
	return s, nil
}
