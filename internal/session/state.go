package session

import (
	"encoding/json"
	"fmt"

	"github.com/stemsi/exstem-runtime/internal/grade"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/window"
)

// Phase names the active state variant.
type Phase string

const (
	PhaseUnstarted Phase = "UNSTARTED"
	PhaseRunning   Phase = "RUNNING"
	PhaseSubmitted Phase = "SUBMITTED"
)

// State is one of Unstarted, Running or Submitted.
type State interface {
	Phase() Phase
	sealed()
}

// Unstarted is the state before the learner starts the attempt.
type Unstarted struct {
	WindowStatus  window.Status `json:"window_status"`
	CountdownText string        `json:"countdown_text,omitempty"`
	Reason        string        `json:"reason"`
}

// Running is an attempt in progress.
type Running struct {
	Mode                 model.Mode `json:"mode"`
	TimeLeftSeconds      int        `json:"time_left_seconds"`
	CurrentQuestionIndex int        `json:"current_question_index"`
	AutoSubmitArmed      bool       `json:"auto_submit_armed"`
	ConfirmationPending  bool       `json:"confirmation_pending"`
	Unanswered           []string   `json:"unanswered,omitempty"`
}

// Submitted is terminal.
type Submitted struct {
	Results       []model.PerQuestionResult `json:"results"`
	Summary       grade.Summary             `json:"summary"`
	AutoSubmitted bool                      `json:"auto_submitted"`
}

func (Unstarted) Phase() Phase { return PhaseUnstarted }
func (Running) Phase() Phase   { return PhaseRunning }
func (Submitted) Phase() Phase { return PhaseSubmitted }

func (Unstarted) sealed() {}
func (Running) sealed()   {}
func (Submitted) sealed() {}

// PaletteEntry is one question's cell in the navigation palette.
type PaletteEntry struct {
	Index      int               `json:"index"`
	QuestionID string            `json:"question_id"`
	Answer     model.OptionLabel `json:"answer,omitempty"`
	Current    bool              `json:"current"`
}

// Snapshot is a consistent copy of a machine's observable state. Version
// grows with every change; observers may drop snapshots older than one seen.
type Snapshot struct {
	SessionID      string         `json:"session_id"`
	Version        uint64         `json:"version"`
	ExamID         string         `json:"exam_id"`
	ExamName       string         `json:"exam_name"`
	Mode           model.Mode     `json:"mode"`
	Phase          Phase          `json:"phase"`
	State          State          `json:"state"`
	AnsweredCount  int            `json:"answered_count"`
	TotalQuestions int            `json:"total_questions"`
	Palette        []PaletteEntry `json:"palette"`
}

// UnmarshalJSON decodes State into the variant named by Phase.
func (s *Snapshot) UnmarshalJSON(data []byte) error {
	type plain Snapshot
	var raw struct {
		plain
		State json.RawMessage `json:"state"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*s = Snapshot(raw.plain)

	var state State
	switch s.Phase {
	case PhaseUnstarted:
		var v Unstarted
		if err := json.Unmarshal(raw.State, &v); err != nil {
			return err
		}
		state = v
	case PhaseRunning:
		var v Running
		if err := json.Unmarshal(raw.State, &v); err != nil {
			return err
		}
		state = v
	case PhaseSubmitted:
		var v Submitted
		if err := json.Unmarshal(raw.State, &v); err != nil {
			return err
		}
		state = v
	default:
		return fmt.Errorf("unknown session phase %q", s.Phase)
	}
	s.State = state
	return nil
}
