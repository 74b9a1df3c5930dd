package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/examservice"
	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/reconcile"
	"github.com/stemsi/exstem-runtime/internal/response"
	"github.com/stemsi/exstem-runtime/internal/service"
	"github.com/stemsi/exstem-runtime/internal/session"
	"github.com/stemsi/exstem-runtime/internal/validator"
	"github.com/stemsi/exstem-runtime/internal/window"
)

func init() {
	gin.SetMode(gin.TestMode)
	validator.Setup()
}

type fakeExams struct{}

func (fakeExams) GetExamByID(_ context.Context, id string) (*model.Exam, error) {
	switch id {
	case "open", "closed":
	default:
		return nil, &model.ExamError{Kind: model.ExamErrorNotFound, ExamID: id}
	}
	exam := &model.Exam{
		ID: id, Name: "Biology", ExamDate: "2024-01-01",
		StartTime: "09:00", EndTime: "11:00", Duration: 60, TotalQuestions: 2, IsActive: true,
		Questions: []model.Question{
			{ID: "q1", Text: "Which organelle makes ATP?", CorrectAnswer: model.OptionA, Description: "Mitochondria",
				Options: map[model.OptionLabel]string{"A": "Mitochondria", "B": "Ribosome", "C": "Nucleus", "D": "Vacuole"}},
			{ID: "q2", CorrectAnswer: model.OptionB},
		},
	}
	if id == "closed" {
		exam.EndTime = "09:30"
	}
	return exam, nil
}

func (fakeExams) CheckUserExamAttempt(context.Context, string) (examservice.AttemptStatus, error) {
	return examservice.AttemptStatus{}, nil
}

func (fakeExams) StartExam(context.Context, string) (examservice.StartResult, error) {
	return examservice.StartResult{Success: true}, nil
}

func (fakeExams) SubmitExamAnswers(context.Context, string, []model.AnswerSubmission) (examservice.SubmitResult, error) {
	return examservice.SubmitResult{}, nil
}

type testHost struct {
	engine *gin.Engine
	auth   *service.AuthService
}

func newTestHost(t *testing.T) *testHost {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	sessions := service.NewSessionService(fakeExams{}, nil, service.SessionConfig{
		TickInterval: time.Hour,
		Location:     time.UTC,
		Clock:        func() time.Time { return now },
	}, zerolog.Nop())
	t.Cleanup(sessions.Shutdown)

	auth := service.NewAuthService(&config.Config{JWTSecret: "handler-secret"})
	system := NewSystemHandler(rdb, nil, sessions, zerolog.Nop())

	// Routes mirror the router package, which cannot be imported here.
	r := gin.New()
	r.GET("/health", system.Health)
	api := r.Group("/api/v1", middleware.RequireStudentJWT(auth))
	sh := NewSessionHandler(sessions)
	api.POST("/sessions", sh.CreateSession)
	api.GET("/sessions/:id", sh.GetSession)
	api.GET("/sessions/:id/exam", sh.GetExamPaper)
	api.DELETE("/sessions/:id", sh.CloseSession)
	api.POST("/sessions/:id/start", sh.StartSession)
	api.PUT("/sessions/:id/answers", sh.SaveAnswer)
	api.POST("/sessions/:id/navigate", sh.Navigate)
	api.POST("/sessions/:id/submit", sh.Submit)
	api.POST("/sessions/:id/submit-anyway", sh.SubmitAnyway)
	api.GET("/system/metrics", system.Metrics)
	r.GET("/ws/v1/sessions/:id/stream", middleware.RequireStudentWSAuth(auth),
		NewWSHandler(sessions, zerolog.Nop(), nil).SessionStream)

	return &testHost{engine: r, auth: auth}
}

func (h *testHost) token(t *testing.T, userID int) string {
	t.Helper()
	tok, err := h.auth.IssueToken(service.TokenTypeStudent, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

type envelope struct {
	Data  json.RawMessage     `json:"data"`
	Error *response.ErrorBody `json:"error"`
}

func (h *testHost) do(t *testing.T, userID int, method, path string, body interface{}) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+h.token(t, userID))
	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, req)

	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return w.Code, env
}

func (h *testHost) create(t *testing.T, userID int, examID string, practice bool) session.Snapshot {
	t.Helper()
	code, env := h.do(t, userID, http.MethodPost, "/api/v1/sessions", gin.H{"exam_id": examID, "practice": practice})
	require.Equal(t, http.StatusCreated, code, string(env.Data))
	var snap session.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &snap))
	return snap
}

func TestSessionLifecycleOverREST(t *testing.T) {
	h := newTestHost(t)
	snap := h.create(t, 5, "open", false)
	assert.Equal(t, session.PhaseUnstarted, snap.Phase)
	base := "/api/v1/sessions/" + snap.SessionID

	code, _ := h.do(t, 5, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, code)

	code, _ = h.do(t, 5, http.MethodPut, base+"/answers", gin.H{"question_id": "q1", "answer": "a"})
	require.Equal(t, http.StatusOK, code)

	code, env := h.do(t, 5, http.MethodPost, base+"/navigate", gin.H{"action": "next"})
	require.Equal(t, http.StatusOK, code)
	var moved session.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &moved))
	assert.Equal(t, 1, moved.AnsweredCount)

	code, env = h.do(t, 5, http.MethodPost, base+"/submit", nil)
	require.Equal(t, http.StatusConflict, code)
	require.NotNil(t, env.Error)
	assert.Equal(t, response.ErrConfirmationRequired, env.Error.Code)
	assert.Equal(t, map[string]interface{}{"unanswered": []interface{}{"q2"}}, env.Error.Details)

	code, env = h.do(t, 5, http.MethodPost, base+"/submit-anyway", nil)
	require.Equal(t, http.StatusOK, code)
	var done session.Snapshot
	require.NoError(t, json.Unmarshal(env.Data, &done))
	assert.Equal(t, session.PhaseSubmitted, done.Phase)

	code, env = h.do(t, 5, http.MethodPost, base+"/submit", nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrSessionSubmitted, env.Error.Code)

	code, _ = h.do(t, 5, http.MethodDelete, base, nil)
	assert.Equal(t, http.StatusOK, code)
	code, env = h.do(t, 5, http.MethodGet, base, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrNotFound, env.Error.Code)
}

func TestExamPaperHidesAnswerKey(t *testing.T) {
	h := newTestHost(t)
	snap := h.create(t, 5, "open", false)
	base := "/api/v1/sessions/" + snap.SessionID

	code, env := h.do(t, 5, http.MethodGet, base+"/exam", nil)
	require.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrSessionNotRunning, env.Error.Code)

	code, _ = h.do(t, 5, http.MethodPost, base+"/start", nil)
	require.Equal(t, http.StatusOK, code)

	code, env = h.do(t, 5, http.MethodGet, base+"/exam", nil)
	require.Equal(t, http.StatusOK, code)
	assert.NotContains(t, string(env.Data), "correctAnswer")
	assert.NotContains(t, string(env.Data), "description")

	var paper model.ExamPaper
	require.NoError(t, json.Unmarshal(env.Data, &paper))
	require.Len(t, paper.Questions, 2)
	assert.Equal(t, "Which organelle makes ATP?", paper.Questions[0].Text)
	assert.Equal(t, "Ribosome", paper.Questions[0].Options[model.OptionB])
	assert.Equal(t, 1, paper.Questions[1].Index)

	code, _ = h.do(t, 6, http.MethodGet, base+"/exam", nil)
	assert.Equal(t, http.StatusForbidden, code)
}

func TestRequestValidation(t *testing.T) {
	h := newTestHost(t)
	snap := h.create(t, 5, "open", true)
	base := "/api/v1/sessions/" + snap.SessionID

	code, env := h.do(t, 5, http.MethodPost, "/api/v1/sessions", gin.H{"practice": true})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Fields, "exam_id")

	code, env = h.do(t, 5, http.MethodPut, base+"/answers", gin.H{"question_id": "q1", "answer": "F"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Contains(t, env.Error.Fields, "answer")

	code, env = h.do(t, 5, http.MethodPost, base+"/navigate", gin.H{"action": "sideways"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, response.ErrValidation, env.Error.Code)

	code, env = h.do(t, 5, http.MethodPut, base+"/answers", gin.H{"question_id": "q1", "answer": "A"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, response.ErrSessionNotRunning, env.Error.Code)
}

func TestOwnershipAndUnknownExam(t *testing.T) {
	h := newTestHost(t)
	snap := h.create(t, 5, "open", true)

	code, env := h.do(t, 6, http.MethodGet, "/api/v1/sessions/"+snap.SessionID, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, response.ErrNotSessionOwner, env.Error.Code)

	code, env = h.do(t, 5, http.MethodPost, "/api/v1/sessions", gin.H{"exam_id": "nope"})
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, response.ErrExamNotFound, env.Error.Code)
}

func TestStartOutsideWindow(t *testing.T) {
	h := newTestHost(t)
	snap := h.create(t, 5, "closed", false)

	code, env := h.do(t, 5, http.MethodPost, "/api/v1/sessions/"+snap.SessionID+"/start", nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, response.ErrExamNotAvailable, env.Error.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newTestHost(t)
	h.create(t, 5, "open", true)

	w := httptest.NewRecorder()
	h.engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"redis":"up"`)

	code, env := h.do(t, 5, http.MethodGet, "/api/v1/system/metrics", nil)
	require.Equal(t, http.StatusOK, code)
	var m systemMetrics
	require.NoError(t, json.Unmarshal(env.Data, &m))
	assert.Equal(t, 1, m.LiveSessions)
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   response.ErrCode
	}{
		{fmt.Errorf("wrap: %w", service.ErrSessionNotFound), http.StatusNotFound, response.ErrNotFound},
		{session.ErrBusy, http.StatusConflict, response.ErrSessionBusy},
		{&session.StartRejectedError{WindowStatus: window.StatusNotYetOpen}, http.StatusForbidden, response.ErrExamNotAvailable},
		{&session.StartRejectedError{WindowStatus: window.StatusOpen, Reason: "quota"}, http.StatusConflict, response.ErrStartRejected},
		{&reconcile.SubmitError{ExamID: "e", Err: examservice.ErrServiceUnavailable}, http.StatusBadGateway, response.ErrSubmitFailed},
		{examservice.ErrServiceUnavailable, http.StatusServiceUnavailable, response.ErrExamServiceUnavailable},
		{&model.ExamError{Kind: model.ExamErrorUnparsable, ExamID: "e"}, http.StatusBadGateway, response.ErrExamUnparsable},
		{errors.New("boom"), http.StatusInternalServerError, response.ErrInternal},
	}
	for _, tc := range cases {
		t.Run(string(tc.code), func(t *testing.T) {
			status, body := classify(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, body.Code)
		})
	}
}

func TestSessionStream(t *testing.T) {
	h := newTestHost(t)
	snap := h.create(t, 5, "open", true)

	srv := httptest.NewServer(h.engine)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") +
		"/ws/v1/sessions/" + snap.SessionID + "/stream?token=" + h.token(t, 5)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	type event struct {
		Event    string           `json:"event"`
		Code     string           `json:"code"`
		Snapshot session.Snapshot `json:"snapshot"`
	}
	read := func() event {
		t.Helper()
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var ev event
		require.NoError(t, conn.ReadJSON(&ev))
		return ev
	}

	first := read()
	assert.Equal(t, "snapshot", first.Event)
	assert.Equal(t, session.PhaseUnstarted, first.Snapshot.Phase)

	require.NoError(t, conn.WriteJSON(gin.H{"action": "ping"}))
	assert.Equal(t, "pong", read().Event)

	require.NoError(t, conn.WriteJSON(gin.H{"action": "start"}))
	started := read()
	assert.Equal(t, session.PhaseRunning, started.Snapshot.Phase)

	require.NoError(t, conn.WriteJSON(gin.H{"action": "answer", "question_id": "q1", "answer": "Z"}))
	bad := read()
	assert.Equal(t, "error", bad.Event)
	assert.Equal(t, string(response.ErrValidation), bad.Code)

	require.NoError(t, conn.WriteJSON(gin.H{"action": "answer", "question_id": "q1", "answer": "A"}))
	assert.Equal(t, 1, read().Snapshot.AnsweredCount)

	require.NoError(t, conn.WriteJSON(gin.H{"action": "submit"}))
	assert.Equal(t, session.PhaseSubmitted, read().Snapshot.Phase)
}
