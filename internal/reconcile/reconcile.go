// Package reconcile turns a session's answers into the per-question results
// shown after submission, either through the Exam Service or by local grading.
package reconcile

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runtime/internal/examservice"
	"github.com/stemsi/exstem-runtime/internal/model"
)

// ErrSubmitFailed matches every *SubmitError.
var ErrSubmitFailed = errors.New("submission failed")

// SubmitError is a manual submission the Exam Service did not accept. The
// learner may retry.
type SubmitError struct {
	ExamID string
	Err    error
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("submit exam %q: %v", e.ExamID, e.Err)
}

func (e *SubmitError) Unwrap() error { return e.Err }

func (e *SubmitError) Is(target error) bool { return target == ErrSubmitFailed }

// Reconciler submits real attempts and grades practice ones.
type Reconciler struct {
	svc examservice.Service
	log zerolog.Logger
}

// New creates a Reconciler backed by svc.
func New(svc examservice.Service, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		svc: svc,
		log: log.With().Str("component", "reconciler").Logger(),
	}
}

// Reconcile produces one result per exam question, in exam order.
//
// Practice mode never calls the Exam Service. In real mode a failed call is
// absorbed into local grading when isAutoSubmit is set, and returned as a
// *SubmitError otherwise.
func (r *Reconciler) Reconcile(ctx context.Context, exam *model.Exam, answers map[string]model.OptionLabel, mode model.Mode, isAutoSubmit bool) ([]model.PerQuestionResult, error) {
	if mode == model.ModePractice {
		return GradeLocally(exam, answers), nil
	}

	res, err := r.svc.SubmitExamAnswers(ctx, exam.ID, Submissions(exam, answers))
	if err != nil {
		if isAutoSubmit {
			r.log.Warn().Err(err).Str("exam_id", exam.ID).Msg("Auto-submit failed, grading locally")
			return GradeLocally(exam, answers), nil
		}
		return nil, &SubmitError{ExamID: exam.ID, Err: err}
	}

	return fromEcho(exam, answers, res.Answers), nil
}

// Submissions is the full answer list: one entry per question, empty for unanswered.
func Submissions(exam *model.Exam, answers map[string]model.OptionLabel) []model.AnswerSubmission {
	out := make([]model.AnswerSubmission, 0, len(exam.Questions))
	for _, q := range exam.Questions {
		out = append(out, model.AnswerSubmission{QuestionID: q.ID, Answer: string(answers[q.ID])})
	}
	return out
}

// GradeLocally compares each answer against the exam's answer key.
func GradeLocally(exam *model.Exam, answers map[string]model.OptionLabel) []model.PerQuestionResult {
	out := make([]model.PerQuestionResult, 0, len(exam.Questions))
	for _, q := range exam.Questions {
		out = append(out, model.NewPerQuestionResult(q.ID, answers[q.ID], q.CorrectAnswer))
	}
	return out
}

// fromEcho prefers what the service recorded and falls back to the local
// selection for questions the echo omits or records unreadably.
func fromEcho(exam *model.Exam, answers map[string]model.OptionLabel, echo []model.RecordedAnswer) []model.PerQuestionResult {
	recorded := make(map[string]model.OptionLabel, len(echo))
	for _, ra := range echo {
		if ra.UserAnswer == "" {
			recorded[ra.QuestionID] = ""
			continue
		}
		if label, err := model.ParseOptionLabel(ra.UserAnswer); err == nil {
			recorded[ra.QuestionID] = label
		}
	}

	out := make([]model.PerQuestionResult, 0, len(exam.Questions))
	for _, q := range exam.Questions {
		selected, ok := recorded[q.ID]
		if !ok {
			selected = answers[q.ID]
		}
		out = append(out, model.NewPerQuestionResult(q.ID, selected, q.CorrectAnswer))
	}
	return out
}
