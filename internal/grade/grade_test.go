package grade

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runtime/internal/model"
)

func TestPresent(t *testing.T) {
	tests := []struct {
		correct, total int
		wantPct        int
		wantLetter     string
		wantPassed     bool
	}{
		{100, 100, 100, "A+", true},
		{90, 100, 90, "A+", true},
		{89, 100, 89, "A", true},
		{80, 100, 80, "A", true},
		{70, 100, 70, "A-", true},
		{60, 100, 60, "B", true},
		{50, 100, 50, "C", true},
		{45, 100, 45, "Pass", true},
		{40, 100, 40, "Pass", true},
		{39, 100, 39, "Fail", false},
		{0, 7, 0, "Fail", false},
		{2, 3, 67, "B", true},
		{1, 8, 13, "Fail", false},
		// 179/200 = 89.5 rounds half up to 90.
		{179, 200, 90, "A+", true},
	}
	for _, tt := range tests {
		g, err := Present(tt.correct, tt.total)
		require.NoError(t, err)
		assert.Equal(t, tt.wantPct, g.Percentage, "%d/%d", tt.correct, tt.total)
		assert.Equal(t, tt.wantLetter, g.Letter, "%d/%d", tt.correct, tt.total)
		assert.Equal(t, tt.wantPassed, g.Passed, "%d/%d", tt.correct, tt.total)
	}
}

func TestPresentRejectsBadInput(t *testing.T) {
	_, err := Present(5, 0)
	assert.ErrorIs(t, err, ErrNoQuestions)
	_, err = Present(0, 0)
	assert.ErrorIs(t, err, ErrNoQuestions)

	_, err = Present(-1, 10)
	assert.ErrorIs(t, err, ErrInvalidCount)
	_, err = Present(11, 10)
	assert.ErrorIs(t, err, ErrInvalidCount)
}

func TestSummarize(t *testing.T) {
	results := []model.PerQuestionResult{
		model.NewPerQuestionResult("q1", model.OptionA, model.OptionA),
		model.NewPerQuestionResult("q2", model.OptionB, model.OptionA),
		model.NewPerQuestionResult("q3", "", model.OptionC),
		model.NewPerQuestionResult("q4", model.OptionD, model.OptionD),
	}
	s, err := Summarize(results)
	require.NoError(t, err)
	assert.Equal(t, 2, s.Correct)
	assert.Equal(t, 3, s.Answered)
	assert.Equal(t, 4, s.Total)
	assert.Equal(t, Grade{Percentage: 50, Letter: "C", Passed: true}, s.Grade)

	_, err = Summarize(nil)
	assert.ErrorIs(t, err, ErrNoQuestions)
}
