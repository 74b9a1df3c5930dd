package examservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
)

// ExamStore is the exam lookup the direct adapter reads from.
type ExamStore interface {
	GetByID(ctx context.Context, id string) (*model.Exam, error)
}

// AttemptStore persists real attempts.
type AttemptStore interface {
	HasSubmitted(ctx context.Context, examID string, userID int) (bool, error)
	Begin(ctx context.Context, examID string, userID int) (*repository.Attempt, error)
	Submit(ctx context.Context, examID string, userID int, answers []model.AnswerSubmission) ([]model.RecordedAnswer, error)
}

// DirectService implements Service against the local schema, bypassing HTTP.
// The caller's user id must be attached with WithUserID.
type DirectService struct {
	exams    ExamStore
	attempts AttemptStore
	log      zerolog.Logger
}

var _ Service = (*DirectService)(nil)

// NewDirectService creates a DirectService.
func NewDirectService(exams ExamStore, attempts AttemptStore, log zerolog.Logger) *DirectService {
	return &DirectService{
		exams:    exams,
		attempts: attempts,
		log:      log.With().Str("component", "exam_service_direct").Logger(),
	}
}

func (s *DirectService) GetExamByID(ctx context.Context, examID string) (*model.Exam, error) {
	exam, err := s.exams.GetByID(ctx, examID)
	if err != nil {
		if errors.Is(err, model.ErrExamNotFound) {
			return nil, &model.ExamError{Kind: model.ExamErrorNotFound, ExamID: examID}
		}
		return nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if err := exam.Validate(); err != nil {
		return nil, err
	}
	return exam, nil
}

func (s *DirectService) CheckUserExamAttempt(ctx context.Context, examID string) (AttemptStatus, error) {
	userID, ok := UserID(ctx)
	if !ok {
		return AttemptStatus{}, ErrUnauthenticated
	}
	submitted, err := s.attempts.HasSubmitted(ctx, examID, userID)
	if err != nil {
		return AttemptStatus{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	return AttemptStatus{HasAttempted: submitted}, nil
}

// StartExam opens an attempt. It refuses inactive exams and exams whose
// attempt was already submitted; an unsubmitted attempt is reused.
func (s *DirectService) StartExam(ctx context.Context, examID string) (StartResult, error) {
	userID, ok := UserID(ctx)
	if !ok {
		return StartResult{}, ErrUnauthenticated
	}

	exam, err := s.GetExamByID(ctx, examID)
	if err != nil {
		return StartResult{}, err
	}
	if !exam.IsActive {
		return StartResult{Success: false, Message: "Exam is not active"}, nil
	}

	attempt, err := s.attempts.Begin(ctx, examID, userID)
	if err != nil {
		return StartResult{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if attempt.SubmittedAt != nil {
		return StartResult{Success: false, Message: "You have already attempted this exam"}, nil
	}

	s.log.Info().
		Str("exam_id", examID).
		Int("user_id", userID).
		Time("started_at", attempt.StartedAt.In(time.UTC)).
		Msg("Attempt started")
	return StartResult{Success: true, Message: "Exam started"}, nil
}

func (s *DirectService) SubmitExamAnswers(ctx context.Context, examID string, answers []model.AnswerSubmission) (SubmitResult, error) {
	userID, ok := UserID(ctx)
	if !ok {
		return SubmitResult{}, ErrUnauthenticated
	}

	recorded, err := s.attempts.Submit(ctx, examID, userID, answers)
	if err != nil {
		if errors.Is(err, repository.ErrAttemptNotStarted) || errors.Is(err, repository.ErrAttemptSubmitted) {
			return SubmitResult{}, err
		}
		return SubmitResult{}, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}

	s.log.Info().
		Str("exam_id", examID).
		Int("user_id", userID).
		Int("answers", len(recorded)).
		Msg("Attempt submitted")
	return SubmitResult{Answers: recorded}, nil
}
