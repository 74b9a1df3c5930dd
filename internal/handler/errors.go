package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stemsi/exstem-runtime/internal/examservice"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/reconcile"
	"github.com/stemsi/exstem-runtime/internal/response"
	"github.com/stemsi/exstem-runtime/internal/service"
	"github.com/stemsi/exstem-runtime/internal/session"
	"github.com/stemsi/exstem-runtime/internal/window"
)

// errorStatus maps sentinel errors to an HTTP status and code.
var errorStatus = []struct {
	err    error
	status int
	code   response.ErrCode
}{
	{service.ErrSessionNotFound, http.StatusNotFound, response.ErrNotFound},
	{service.ErrNotSessionOwner, http.StatusForbidden, response.ErrNotSessionOwner},
	{service.ErrUnknownAction, http.StatusBadRequest, response.ErrValidation},
	{model.ErrExamNotFound, http.StatusNotFound, response.ErrExamNotFound},
	{session.ErrAlreadyAttempted, http.StatusConflict, response.ErrAlreadyAttempted},
	{session.ErrAlreadyStarted, http.StatusConflict, response.ErrSessionAlreadyStarted},
	{session.ErrAlreadySubmitted, http.StatusConflict, response.ErrSessionSubmitted},
	{session.ErrNotRunning, http.StatusConflict, response.ErrSessionNotRunning},
	{session.ErrNotOpen, http.StatusConflict, response.ErrSessionNotRunning},
	{session.ErrBusy, http.StatusConflict, response.ErrSessionBusy},
	{session.ErrClosed, http.StatusGone, response.ErrSessionClosed},
	{session.ErrUnknownQuestion, http.StatusBadRequest, response.ErrUnknownQuestion},
	{session.ErrInvalidOption, http.StatusBadRequest, response.ErrInvalidOption},
	{reconcile.ErrSubmitFailed, http.StatusBadGateway, response.ErrSubmitFailed},
	{examservice.ErrUnauthenticated, http.StatusUnauthorized, response.ErrTokenRequired},
	{examservice.ErrServiceUnavailable, http.StatusServiceUnavailable, response.ErrExamServiceUnavailable},
}

// classify turns a service or session error into a status and error body.
func classify(err error) (int, response.ErrorBody) {
	var confirm *session.ConfirmationRequiredError
	if errors.As(err, &confirm) {
		return http.StatusConflict, response.ErrorBody{
			Code:    response.ErrConfirmationRequired,
			Details: gin.H{"unanswered": confirm.Unanswered},
		}
	}

	var rejected *session.StartRejectedError
	if errors.As(err, &rejected) {
		if rejected.WindowStatus != window.StatusOpen {
			return http.StatusForbidden, response.ErrorBody{
				Code:    response.ErrExamNotAvailable,
				Reason:  rejected.Reason,
				Details: gin.H{"window_status": rejected.WindowStatus},
			}
		}
		return http.StatusConflict, response.ErrorBody{Code: response.ErrStartRejected, Reason: rejected.Reason}
	}

	var examErr *model.ExamError
	if errors.As(err, &examErr) && examErr.Kind == model.ExamErrorUnparsable {
		return http.StatusBadGateway, response.ErrorBody{Code: response.ErrExamUnparsable, Reason: examErr.Reason}
	}

	for _, e := range errorStatus {
		if errors.Is(err, e.err) {
			return e.status, response.ErrorBody{Code: e.code}
		}
	}
	return http.StatusInternalServerError, response.ErrorBody{Code: response.ErrInternal}
}

// fail writes err as a JSON error response.
func fail(c *gin.Context, err error) {
	status, body := classify(err)
	if status >= http.StatusInternalServerError {
		_ = c.Error(err)
	}
	response.FailWithBody(c, status, body)
}
