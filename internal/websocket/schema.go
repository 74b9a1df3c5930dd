package websocket

import (
	"github.com/stemsi/exstem-runtime/internal/session"
)

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionStart        Action = "start"
	ActionAnswer       Action = "answer"
	ActionNavigate     Action = "navigate"
	ActionSubmit       Action = "submit"
	ActionSubmitAnyway Action = "submit_anyway"
	ActionPing         Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// AnswerRequest selects an option for one question.
type AnswerRequest struct {
	Action     Action `json:"action"`
	QuestionID string `json:"question_id" binding:"required"`
	Answer     string `json:"answer" binding:"required,option_label"`
}

// NavigateRequest moves the cursor. Index is only read for "jump".
type NavigateRequest struct {
	Action    Action `json:"action"`
	Direction string `json:"direction" binding:"required,oneof=next previous jump"`
	Index     int    `json:"index" binding:"gte=0"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventSnapshot Event = "snapshot"
	EventError    Event = "error"
	EventPong     Event = "pong"
)

type SnapshotEvent struct {
	Event    Event            `json:"event"`
	Snapshot session.Snapshot `json:"snapshot"`
}

type ErrorResponse struct {
	Event   Event       `json:"event"`
	Code    string      `json:"code"`
	Error   string      `json:"error"`
	Details interface{} `json:"details,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
