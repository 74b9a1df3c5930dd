package model

import (
	"errors"
	"fmt"
)

// ErrExamNotFound is returned when the Exam Service has no exam with the requested ID.
var ErrExamNotFound = errors.New("exam not found")

// ExamErrorKind classifies why an exam payload could not be used.
type ExamErrorKind string

const (
	ExamErrorNotFound   ExamErrorKind = "NOT_FOUND"
	ExamErrorUnparsable ExamErrorKind = "UNPARSABLE"
)

// ExamError reports an exam payload that is missing or only partially valid.
type ExamError struct {
	Kind   ExamErrorKind
	ExamID string
	Reason string
}

func (e *ExamError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("exam %q: %s", e.ExamID, e.Kind)
	}
	return fmt.Sprintf("exam %q: %s: %s", e.ExamID, e.Kind, e.Reason)
}

// Is lets errors.Is(err, ErrExamNotFound) match a NOT_FOUND ExamError.
func (e *ExamError) Is(target error) bool {
	return target == ErrExamNotFound && e.Kind == ExamErrorNotFound
}

// Exam is a scheduled assessment as delivered by the Exam Service.
// ExamDate may be a bare date ("2024-01-01") or a full timestamp.
type Exam struct {
	ID             string     `json:"id"`
	Name           string     `json:"name"`
	Description    string     `json:"description,omitempty"`
	ExamDate       string     `json:"examDate"`
	StartTime      string     `json:"startTime"`
	EndTime        string     `json:"endTime"`
	Duration       int        `json:"duration"`
	TotalQuestions int        `json:"totalQuestions"`
	Questions      []Question `json:"questions"`
	IsActive       bool       `json:"isActive"`
}

// DurationSeconds returns the allotted attempt length in seconds.
func (e *Exam) DurationSeconds() int {
	return e.Duration * 60
}

// QuestionIndex returns the position of the question with the given ID, or -1.
func (e *Exam) QuestionIndex(questionID string) int {
	for i := range e.Questions {
		if e.Questions[i].ID == questionID {
			return i
		}
	}
	return -1
}

// Validate rejects payloads the runtime cannot safely run a session on.
// Window fields are left to the time window evaluator.
func (e *Exam) Validate() error {
	unparsable := func(format string, args ...any) error {
		return &ExamError{Kind: ExamErrorUnparsable, ExamID: e.ID, Reason: fmt.Sprintf(format, args...)}
	}

	if e.ID == "" {
		return unparsable("missing id")
	}
	if e.Duration <= 0 {
		return unparsable("duration must be positive, got %d", e.Duration)
	}
	if len(e.Questions) == 0 {
		return unparsable("exam has no questions")
	}

	seen := make(map[string]struct{}, len(e.Questions))
	for i, q := range e.Questions {
		if q.ID == "" {
			return unparsable("question %d has no id", i)
		}
		if _, dup := seen[q.ID]; dup {
			return unparsable("duplicate question id %q", q.ID)
		}
		seen[q.ID] = struct{}{}
		if !q.CorrectAnswer.Valid() {
			return unparsable("question %q has invalid correct answer %q", q.ID, q.CorrectAnswer)
		}
	}
	return nil
}

// ExamPaper is the learner's view of an exam: questions and options in
// order, without the answer key.
type ExamPaper struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Duration  int             `json:"duration"`
	Questions []PaperQuestion `json:"questions"`
}

// PaperQuestion is a Question without its correct answer and explanation.
type PaperQuestion struct {
	Index   int                    `json:"index"`
	ID      string                 `json:"id"`
	Text    string                 `json:"question"`
	Options map[OptionLabel]string `json:"options"`
}

// Paper strips the answer key from e.
func (e *Exam) Paper() ExamPaper {
	p := ExamPaper{
		ID:        e.ID,
		Name:      e.Name,
		Duration:  e.Duration,
		Questions: make([]PaperQuestion, 0, len(e.Questions)),
	}
	for i, q := range e.Questions {
		p.Questions = append(p.Questions, PaperQuestion{Index: i, ID: q.ID, Text: q.Text, Options: q.Options})
	}
	return p
}
