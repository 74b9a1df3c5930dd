// Package examservice defines the Exam Service collaborator the session runtime
// calls out to, plus its REST and direct-Postgres adapters.
package examservice

import (
	"context"
	"errors"

	"github.com/stemsi/exstem-runtime/internal/model"
)

var (
	ErrServiceUnavailable = errors.New("exam service unavailable")
	ErrUnauthenticated    = errors.New("exam service: caller identity missing")
)

// AttemptStatus reports whether the caller already attempted an exam.
type AttemptStatus struct {
	HasAttempted bool `json:"hasAttempted"`
}

// StartResult is the Exam Service's answer to a start request.
type StartResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SubmitResult echoes what the Exam Service recorded per question.
type SubmitResult struct {
	Answers []model.RecordedAnswer `json:"answers"`
}

// Service is the contract consumed by the session runtime. Caller identity is
// carried by ctx (see WithAccessToken / WithUserID).
type Service interface {
	GetExamByID(ctx context.Context, examID string) (*model.Exam, error)
	CheckUserExamAttempt(ctx context.Context, examID string) (AttemptStatus, error)
	StartExam(ctx context.Context, examID string) (StartResult, error)
	SubmitExamAnswers(ctx context.Context, examID string, answers []model.AnswerSubmission) (SubmitResult, error)
}

type ctxKey int

const (
	accessTokenKey ctxKey = iota
	userIDKey
)

// WithAccessToken attaches the bearer token forwarded to the REST Exam Service.
func WithAccessToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, accessTokenKey, token)
}

// AccessToken returns the token attached by WithAccessToken.
func AccessToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(accessTokenKey).(string)
	return token, ok && token != ""
}

// WithUserID attaches the caller's user ID, used by the direct adapter.
func WithUserID(ctx context.Context, userID int) context.Context {
	return context.WithValue(ctx, userIDKey, userID)
}

// UserID returns the ID attached by WithUserID.
func UserID(ctx context.Context) (int, bool) {
	id, ok := ctx.Value(userIDKey).(int)
	return id, ok && id > 0
}
