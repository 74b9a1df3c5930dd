// Package ledger records the learner's selected option per question for one session.
package ledger

import "github.com/stemsi/exstem-runtime/internal/model"

// Ledger maps question ID to the selected option. Entries are set or replaced,
// never removed; a new session starts a new Ledger. Not safe for concurrent use.
type Ledger struct {
	answers map[string]model.OptionLabel
}

// New returns an empty ledger.
func New() *Ledger {
	return &Ledger{answers: make(map[string]model.OptionLabel)}
}

// FromAnswers seeds a ledger from a stored snapshot, skipping invalid labels.
func FromAnswers(answers map[string]model.OptionLabel) *Ledger {
	l := New()
	for qid, label := range answers {
		if qid != "" && label.Valid() {
			l.answers[qid] = label
		}
	}
	return l
}

// SetAnswer sets or replaces the answer for questionID.
func (l *Ledger) SetAnswer(questionID string, label model.OptionLabel) {
	l.answers[questionID] = label
}

// Answer returns the selected option for questionID, if any.
func (l *Ledger) Answer(questionID string) (model.OptionLabel, bool) {
	label, ok := l.answers[questionID]
	return label, ok
}

// AnsweredCount is the number of distinct questions with an answer.
func (l *Ledger) AnsweredCount() int {
	return len(l.answers)
}

// UnansweredQuestions returns, in exam order, the questions with no entry.
func (l *Ledger) UnansweredQuestions(questions []model.Question) []model.Question {
	var out []model.Question
	for _, q := range questions {
		if _, ok := l.answers[q.ID]; !ok {
			out = append(out, q)
		}
	}
	return out
}

// IsFullyAnswered reports whether every question in questions has an entry.
func (l *Ledger) IsFullyAnswered(questions []model.Question) bool {
	return len(l.UnansweredQuestions(questions)) == 0
}

// Snapshot returns a copy of all entries.
func (l *Ledger) Snapshot() map[string]model.OptionLabel {
	out := make(map[string]model.OptionLabel, len(l.answers))
	for k, v := range l.answers {
		out[k] = v
	}
	return out
}
