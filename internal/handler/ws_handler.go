package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runtime/internal/middleware"
	"github.com/stemsi/exstem-runtime/internal/response"
	"github.com/stemsi/exstem-runtime/internal/service"
	"github.com/stemsi/exstem-runtime/internal/validator"
	ws "github.com/stemsi/exstem-runtime/internal/websocket"
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler streams session snapshots and accepts session actions over a
// WebSocket.
type WSHandler struct {
	sessions *service.SessionService
	log      zerolog.Logger
	upgrader websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(sessions *service.SessionService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		sessions: sessions,
		log:      log.With().Str("component", "ws_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
	}
}

// SessionStream godoc
// WS /ws/v1/sessions/:id/stream
// Pushes a snapshot on every session change. Successful actions are
// acknowledged by the next snapshot; failures by an error event.
func (h *WSHandler) SessionStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	sessionID := c.Param("id")

	snapshots, cancel, err := h.sessions.Subscribe(claims.UserID, sessionID)
	if err != nil {
		fail(c, err)
		return
	}
	defer cancel()

	raw, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	conn := ws.NewConn(raw)

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Str("session_id", sessionID).
		Logger()
	wsLog.Info().Msg("Student connected")

	pushDone := make(chan struct{})
	go func() {
		defer close(pushDone)
		for snap := range snapshots {
			if err := conn.WriteTyped(ws.SnapshotEvent{Event: ws.EventSnapshot, Snapshot: snap}); err != nil {
				wsLog.Debug().Err(err).Msg("Snapshot push failed")
				break
			}
		}
		// Session gone or socket broken; unblock the reader.
		_ = conn.Close()
	}()

	ctx := middleware.CallerContext(c)
	for {
		data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}
		h.dispatch(ctx, conn, wsLog, claims.UserID, sessionID, data)
	}

	cancel()
	<-pushDone
}

func (h *WSHandler) dispatch(ctx context.Context, conn *ws.Conn, log zerolog.Logger, userID int, sessionID string, data []byte) {
	var env ws.RequestEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		writeWSError(conn, response.ErrorBody{Code: response.ErrInvalidPayload})
		return
	}

	var err error
	switch env.Action {
	case ws.ActionPing:
		_ = conn.WriteTyped(ws.PongResponse{Event: ws.EventPong})
		return
	case ws.ActionStart:
		_, err = h.sessions.Start(ctx, userID, sessionID)
	case ws.ActionAnswer:
		var req ws.AnswerRequest
		if !decodeWS(conn, data, &req) {
			return
		}
		_, err = h.sessions.Answer(ctx, userID, sessionID, req.QuestionID, req.Answer)
	case ws.ActionNavigate:
		var req ws.NavigateRequest
		if !decodeWS(conn, data, &req) {
			return
		}
		_, err = h.sessions.Navigate(ctx, userID, sessionID, req.Direction, req.Index)
	case ws.ActionSubmit:
		_, err = h.sessions.Submit(ctx, userID, sessionID, false)
	case ws.ActionSubmitAnyway:
		_, err = h.sessions.Submit(ctx, userID, sessionID, true)
	default:
		log.Warn().Str("action", string(env.Action)).Msg("Unknown action")
		writeWSError(conn, response.ErrorBody{
			Code:   response.ErrInvalidPayload,
			Reason: "unknown action: " + string(env.Action),
		})
		return
	}

	if err != nil {
		status, body := classify(err)
		if status >= http.StatusInternalServerError {
			log.Error().Err(err).Str("action", string(env.Action)).Msg("Action failed")
		}
		writeWSError(conn, body)
	}
}

func decodeWS(conn *ws.Conn, data []byte, dst interface{}) bool {
	if err := json.Unmarshal(data, dst); err != nil {
		writeWSError(conn, response.ErrorBody{Code: response.ErrInvalidPayload})
		return false
	}
	if fields := validator.Struct(dst); fields != nil {
		writeWSError(conn, response.ErrorBody{Code: response.ErrValidation, Details: fields})
		return false
	}
	return true
}

func writeWSError(conn *ws.Conn, body response.ErrorBody) {
	msg := body.Message
	if msg == "" {
		msg = response.GetMessage(body.Code)
	}
	if body.Reason != "" {
		msg += " " + body.Reason
	}
	_ = conn.WriteError(string(body.Code), msg, body.Details)
}
