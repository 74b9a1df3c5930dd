package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/response"
	"github.com/stemsi/exstem-runtime/internal/service"
	"github.com/stemsi/exstem-runtime/internal/validator"
)

// SessionHandler exposes exam sessions over REST.
type SessionHandler struct {
	sessions *service.SessionService
}

// NewSessionHandler creates a new SessionHandler.
func NewSessionHandler(sessions *service.SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

type createSessionRequest struct {
	ExamID   string `json:"exam_id" binding:"required,max=128"`
	Practice bool   `json:"practice"`
}

type answerRequest struct {
	QuestionID string `json:"question_id" binding:"required,max=128"`
	Answer     string `json:"answer" binding:"required,option_label"`
}

type navigateRequest struct {
	Action string `json:"action" binding:"required,oneof=next previous jump"`
	Index  int    `json:"index" binding:"gte=0"`
}

// CreateSession godoc
// POST /api/v1/sessions
// Opens a session for the exam, or returns the caller's live one.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req createSessionRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.sessions.Create(middleware.CallerContext(c), claims.UserID, req.ExamID, req.Practice)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusCreated, snap)
}

// GetSession godoc
// GET /api/v1/sessions/:id
func (h *SessionHandler) GetSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	snap, err := h.sessions.Get(claims.UserID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// GetExamPaper godoc
// GET /api/v1/sessions/:id/exam
func (h *SessionHandler) GetExamPaper(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	paper, err := h.sessions.Paper(claims.UserID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, paper)
}

// StartSession godoc
// POST /api/v1/sessions/:id/start
func (h *SessionHandler) StartSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	snap, err := h.sessions.Start(middleware.CallerContext(c), claims.UserID, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// SaveAnswer godoc
// PUT /api/v1/sessions/:id/answers
func (h *SessionHandler) SaveAnswer(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req answerRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.sessions.Answer(middleware.CallerContext(c), claims.UserID, c.Param("id"), req.QuestionID, req.Answer)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// Navigate godoc
// POST /api/v1/sessions/:id/navigate
func (h *SessionHandler) Navigate(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	var req navigateRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	snap, err := h.sessions.Navigate(c.Request.Context(), claims.UserID, c.Param("id"), req.Action, req.Index)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// Submit godoc
// POST /api/v1/sessions/:id/submit
// Real attempts with unanswered questions answer 409 CONFIRMATION_REQUIRED.
func (h *SessionHandler) Submit(c *gin.Context) {
	h.submit(c, false)
}

// SubmitAnyway godoc
// POST /api/v1/sessions/:id/submit-anyway
func (h *SessionHandler) SubmitAnyway(c *gin.Context) {
	h.submit(c, true)
}

func (h *SessionHandler) submit(c *gin.Context, anyway bool) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	snap, err := h.sessions.Submit(middleware.CallerContext(c), claims.UserID, c.Param("id"), anyway)
	if err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, snap)
}

// CloseSession godoc
// DELETE /api/v1/sessions/:id
// A running real attempt can be resumed by creating the session again.
func (h *SessionHandler) CloseSession(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	if err := h.sessions.Close(claims.UserID, c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	response.Success(c, http.StatusOK, gin.H{"message": "Session closed"})
}
