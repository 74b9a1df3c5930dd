package ledger

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stemsi/exstem-runtime/internal/model"
)

func questions(ids ...string) []model.Question {
	qs := make([]model.Question, len(ids))
	for i, id := range ids {
		qs[i] = model.Question{ID: id, CorrectAnswer: model.OptionA}
	}
	return qs
}

func TestSetAnswerOverwrites(t *testing.T) {
	l := New()
	l.SetAnswer("q1", model.OptionA)
	l.SetAnswer("q1", model.OptionC)

	got, ok := l.Answer("q1")
	assert.True(t, ok)
	assert.Equal(t, model.OptionC, got)
	assert.Equal(t, 1, l.AnsweredCount())

	_, ok = l.Answer("q2")
	assert.False(t, ok)
}

func TestAnsweredCountEqualsDistinctIDs(t *testing.T) {
	r := rand.New(rand.NewSource(42))
	ids := []string{"q1", "q2", "q3", "q4", "q5", "q6"}

	for run := 0; run < 50; run++ {
		l := New()
		distinct := map[string]struct{}{}
		for i := 0; i < r.Intn(40); i++ {
			id := ids[r.Intn(len(ids))]
			l.SetAnswer(id, model.OptionLabels[r.Intn(len(model.OptionLabels))])
			distinct[id] = struct{}{}
		}
		assert.Equal(t, len(distinct), l.AnsweredCount())
	}
}

func TestUnansweredQuestionsKeepsExamOrder(t *testing.T) {
	qs := questions("q1", "q2", "q3", "q4", "q5")
	l := New()
	l.SetAnswer("q4", model.OptionB)
	l.SetAnswer("q1", model.OptionA)

	var got []string
	for _, q := range l.UnansweredQuestions(qs) {
		got = append(got, q.ID)
	}
	assert.Equal(t, []string{"q2", "q3", "q5"}, got)
	assert.False(t, l.IsFullyAnswered(qs))

	for _, id := range got {
		l.SetAnswer(id, model.OptionD)
	}
	assert.True(t, l.IsFullyAnswered(qs))
	assert.Empty(t, l.UnansweredQuestions(qs))
}

func TestSnapshotIsCopy(t *testing.T) {
	l := New()
	l.SetAnswer("q1", model.OptionA)
	snap := l.Snapshot()
	snap["q1"] = model.OptionD
	snap["q2"] = model.OptionB

	got, _ := l.Answer("q1")
	assert.Equal(t, model.OptionA, got)
	assert.Equal(t, 1, l.AnsweredCount())
}

func TestFromAnswersSkipsInvalid(t *testing.T) {
	l := FromAnswers(map[string]model.OptionLabel{
		"q1": model.OptionB,
		"q2": "Z",
		"":   model.OptionA,
	})
	assert.Equal(t, 1, l.AnsweredCount())
}
