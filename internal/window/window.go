// Package window classifies an exam's scheduled start/end window against the
// current clock and renders the countdown shown before the exam opens.
package window

import (
	"fmt"
	"strings"
	"time"
)

// Status is the classification of "now" relative to an exam window.
type Status string

const (
	StatusInvalid    Status = "INVALID"
	StatusNotYetOpen Status = "NOT_YET_OPEN"
	StatusOpen       Status = "OPEN"
	StatusClosed     Status = "CLOSED"
)

// Result is the outcome of one evaluation. Start/End are zero when Status is Invalid.
type Result struct {
	Status    Status
	Remaining time.Duration
	Start     time.Time
	End       time.Time
	Reason    string
}

// Countdown is the human-readable time until the window opens, empty unless NotYetOpen.
func (r Result) Countdown() string {
	if r.Status != StatusNotYetOpen {
		return ""
	}
	return Countdown(r.Remaining)
}

const dateTimeSeparator = "T"

var timeLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

// Evaluate classifies now against the window built from examDate, startTime and endTime.
// Instants are interpreted as wall-clock times in now's location. It never panics;
// bad input yields StatusInvalid with a descriptive Reason.
func Evaluate(examDate, startTime, endTime string, now time.Time) Result {
	if strings.TrimSpace(examDate) == "" || strings.TrimSpace(startTime) == "" || strings.TrimSpace(endTime) == "" {
		return Result{Status: StatusInvalid, Reason: "Exam time not set"}
	}

	start, end, err := Instants(examDate, startTime, endTime, now.Location())
	if err != nil {
		return Result{Status: StatusInvalid, Reason: "Invalid exam date/time: " + err.Error()}
	}

	res := Result{Start: start, End: end}
	switch {
	case now.Before(start):
		res.Status = StatusNotYetOpen
		res.Remaining = start.Sub(now)
		res.Reason = "Exam starts in " + Countdown(res.Remaining)
	case now.After(end):
		res.Status = StatusClosed
		res.Reason = "Exam has ended"
	default:
		res.Status = StatusOpen
		res.Reason = "Exam is open"
	}
	return res
}

// Instants builds the start and end instants of the window. examDate may carry a
// time component, which is discarded.
func Instants(examDate, startTime, endTime string, loc *time.Location) (time.Time, time.Time, error) {
	date := strings.TrimSpace(examDate)
	if i := strings.Index(date, dateTimeSeparator); i >= 0 {
		date = date[:i]
	}

	start, err := parseInstant(date, startTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("start: %w", err)
	}
	end, err := parseInstant(date, endTime, loc)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("end: %w", err)
	}
	return start, end, nil
}

func parseInstant(date, clock string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	value := date + dateTimeSeparator + strings.TrimSpace(clock)

	var lastErr error
	for _, layout := range timeLayouts {
		t, err := time.ParseInLocation(layout, value, loc)
		if err == nil {
			return t, nil
		}
		lastErr = err
	}
	return time.Time{}, fmt.Errorf("parse %q: %w", value, lastErr)
}

// Countdown renders d as "Xd Xh Xm Xs", dropping leading day and hour units when
// they are zero. Minutes and seconds are always shown.
func Countdown(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	hours := (total % 86400) / 3600
	minutes := (total % 3600) / 60
	seconds := total % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm %ds", days, hours, minutes, seconds)
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	default:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
}

// Evaluator binds Evaluate to a fixed location so hosts can pin the exam timezone
// independently of the process's local zone.
type Evaluator struct {
	loc *time.Location
}

// NewEvaluator returns an Evaluator for loc; nil means time.Local.
func NewEvaluator(loc *time.Location) *Evaluator {
	if loc == nil {
		loc = time.Local
	}
	return &Evaluator{loc: loc}
}

// Evaluate classifies now (converted to the evaluator's location) against the window.
func (e *Evaluator) Evaluate(examDate, startTime, endTime string, now time.Time) Result {
	return Evaluate(examDate, startTime, endTime, now.In(e.loc))
}

// Location returns the evaluator's timezone.
func (e *Evaluator) Location() *time.Location {
	return e.loc
}
