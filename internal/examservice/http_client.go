package examservice

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runtime/internal/model"
)

// APIError is a non-2xx reply from the Exam Service other than 404.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if strings.TrimSpace(e.Message) == "" {
		return fmt.Sprintf("exam service request failed with status %d", e.StatusCode)
	}
	return e.Message
}

// HTTPClient talks to the REST Exam Service, forwarding the caller's bearer token.
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

var _ Service = (*HTTPClient)(nil)

// NewHTTPClient creates a client for baseURL. A nil httpClient uses http.DefaultClient.
func NewHTTPClient(baseURL string, httpClient *http.Client, log zerolog.Logger) *HTTPClient {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		baseURL = "http://127.0.0.1:5000/api"
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL:    baseURL,
		httpClient: httpClient,
		log:        log.With().Str("component", "exam_service_client").Logger(),
	}
}

// ─── Wire types ────────────────────────────────────────────────────────────

type questionPayload struct {
	ID               string `json:"id"`
	Question         string `json:"question"`
	OptionA          string `json:"optionA"`
	OptionB          string `json:"optionB"`
	OptionC          string `json:"optionC"`
	OptionD          string `json:"optionD"`
	CorrectAnswer    string `json:"correctAnswer"`
	Description      string `json:"description"`
	PreviousYearExam string `json:"previousYearExam"`
}

type examPayload struct {
	ID             string            `json:"id"`
	Name           string            `json:"name"`
	Description    string            `json:"description"`
	ExamDate       string            `json:"examDate"`
	StartTime      string            `json:"startTime"`
	EndTime        string            `json:"endTime"`
	Duration       int               `json:"duration"`
	TotalQuestions int               `json:"totalQuestions"`
	Questions      []questionPayload `json:"questions"`
	IsActive       bool              `json:"isActive"`
}

type submitRequest struct {
	Answers []model.AnswerSubmission `json:"answers"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// toModel converts the wire payload and validates it. The correct answer is
// normalized to an option label; an unknown label makes the exam unparsable.
func (p *examPayload) toModel() (*model.Exam, error) {
	exam := &model.Exam{
		ID:             p.ID,
		Name:           p.Name,
		Description:    p.Description,
		ExamDate:       p.ExamDate,
		StartTime:      p.StartTime,
		EndTime:        p.EndTime,
		Duration:       p.Duration,
		TotalQuestions: p.TotalQuestions,
		IsActive:       p.IsActive,
		Questions:      make([]model.Question, 0, len(p.Questions)),
	}
	for _, q := range p.Questions {
		correct, err := model.ParseOptionLabel(q.CorrectAnswer)
		if err != nil {
			return nil, &model.ExamError{Kind: model.ExamErrorUnparsable, ExamID: p.ID, Reason: fmt.Sprintf("question %q: %v", q.ID, err)}
		}
		exam.Questions = append(exam.Questions, model.Question{
			ID:   q.ID,
			Text: q.Question,
			Options: map[model.OptionLabel]string{
				model.OptionA: q.OptionA,
				model.OptionB: q.OptionB,
				model.OptionC: q.OptionC,
				model.OptionD: q.OptionD,
			},
			CorrectAnswer:   correct,
			Description:     q.Description,
			PreviousYearTag: q.PreviousYearExam,
		})
	}
	if exam.TotalQuestions == 0 {
		exam.TotalQuestions = len(exam.Questions)
	}
	if err := exam.Validate(); err != nil {
		return nil, err
	}
	return exam, nil
}

// ─── Service methods ───────────────────────────────────────────────────────

// GetExamByID fetches and validates an exam definition including its answer key.
func (c *HTTPClient) GetExamByID(ctx context.Context, examID string) (*model.Exam, error) {
	var payload examPayload
	if err := c.doJSON(ctx, http.MethodGet, examPath(examID, ""), nil, &payload); err != nil {
		if isNotFound(err) {
			return nil, &model.ExamError{Kind: model.ExamErrorNotFound, ExamID: examID}
		}
		return nil, err
	}
	if payload.ID == "" {
		payload.ID = examID
	}
	return payload.toModel()
}

// CheckUserExamAttempt asks whether the caller already attempted the exam.
func (c *HTTPClient) CheckUserExamAttempt(ctx context.Context, examID string) (AttemptStatus, error) {
	var status AttemptStatus
	err := c.doJSON(ctx, http.MethodGet, examPath(examID, "/attempt"), nil, &status)
	return status, err
}

// StartExam registers the start of a real attempt.
func (c *HTTPClient) StartExam(ctx context.Context, examID string) (StartResult, error) {
	var result StartResult
	err := c.doJSON(ctx, http.MethodPost, examPath(examID, "/start"), struct{}{}, &result)
	return result, err
}

// SubmitExamAnswers sends the full answer list and returns the recorded echo.
func (c *HTTPClient) SubmitExamAnswers(ctx context.Context, examID string, answers []model.AnswerSubmission) (SubmitResult, error) {
	var result SubmitResult
	err := c.doJSON(ctx, http.MethodPost, examPath(examID, "/submit"), submitRequest{Answers: answers}, &result)
	return result, err
}

func examPath(examID, suffix string) string {
	return "/exams/" + url.PathEscape(examID) + suffix
}

func isNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

func (c *HTTPClient) doJSON(ctx context.Context, method, path string, requestBody, responseBody any) error {
	var body io.Reader
	if requestBody != nil {
		encoded, err := json.Marshal(requestBody)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		body = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if requestBody != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token, ok := AccessToken(ctx); ok {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Warn().Err(err).Str("method", method).Str("path", path).Msg("Exam service unreachable")
		return fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var payload errorResponse
		if err := json.NewDecoder(resp.Body).Decode(&payload); err == nil {
			apiErr.Message = strings.TrimSpace(payload.Error)
			if apiErr.Message == "" {
				apiErr.Message = strings.TrimSpace(payload.Message)
			}
		}
		if apiErr.Message == "" {
			apiErr.Message = resp.Status
		}
		c.log.Debug().Int("status", resp.StatusCode).Str("path", path).Msg("Exam service rejected request")
		return apiErr
	}

	if responseBody == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(responseBody); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
