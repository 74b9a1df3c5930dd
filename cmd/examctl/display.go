package main

import (
	"fmt"
	"sync"

	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/session"
	"github.com/stemsi/exstem-runtime/internal/window"
)

// display prints session changes. Countdown ticks print when the window
// status moves; duration ticks on whole minutes and in the last ten seconds.
type display struct {
	exam *model.Exam

	mu          sync.Mutex
	lastVersion uint64
	lastPhase   session.Phase
	lastStatus  window.Status
	done        chan struct{}
	finished    bool
}

func (d *display) onChange(s session.Snapshot) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if s.Version <= d.lastVersion {
		return
	}
	d.lastVersion = s.Version
	phaseChanged := s.Phase != d.lastPhase
	d.lastPhase = s.Phase

	switch st := s.State.(type) {
	case session.Unstarted:
		if phaseChanged || st.WindowStatus != d.lastStatus {
			d.lastStatus = st.WindowStatus
			fmt.Printf("\r[%s] %s\n", st.WindowStatus, unstartedText(st))
		}
	case session.Running:
		if st.TimeLeftSeconds%60 == 0 || st.TimeLeftSeconds <= 10 {
			fmt.Printf("\r[%s left] %d/%d answered\n", clock(st.TimeLeftSeconds), s.AnsweredCount, s.TotalQuestions)
		}
	case session.Submitted:
		if d.finished {
			return
		}
		d.finished = true
		d.results(st)
		close(d.done)
	}
}

func (d *display) status(s session.Snapshot) {
	switch st := s.State.(type) {
	case session.Unstarted:
		fmt.Printf("[%s] %s\n", st.WindowStatus, unstartedText(st))
	case session.Running:
		fmt.Printf("[%s left] %d/%d answered, on question %d\n",
			clock(st.TimeLeftSeconds), s.AnsweredCount, s.TotalQuestions, st.CurrentQuestionIndex)
	case session.Submitted:
		fmt.Printf("Submitted: %d/%d correct\n", st.Summary.Correct, st.Summary.Total)
	}
}

func (d *display) question(s session.Snapshot) {
	r, ok := s.State.(session.Running)
	if !ok {
		return
	}
	q := d.exam.Questions[r.CurrentQuestionIndex]
	fmt.Printf("\n#%d (%s) %s\n", r.CurrentQuestionIndex, q.ID, q.Text)
	current := s.Palette[r.CurrentQuestionIndex].Answer
	for _, l := range model.OptionLabels {
		mark := " "
		if l == current {
			mark = "*"
		}
		fmt.Printf(" %s %s. %s\n", mark, l, q.Options[l])
	}
}

func (d *display) results(st session.Submitted) {
	if st.AutoSubmitted {
		fmt.Println("\nTime is up, answers submitted automatically.")
	}
	for _, r := range st.Results {
		verdict := "wrong"
		if r.IsCorrect {
			verdict = "ok"
		}
		selected := string(r.SelectedAnswer)
		if selected == "" {
			selected = "-"
		}
		fmt.Printf("  %-12s %s (key %s) %s\n", r.QuestionID, selected, r.CorrectAnswer, verdict)
	}
	g := st.Summary.Grade
	fmt.Printf("Score %d%% (%s), %d/%d correct, %d answered\n",
		g.Percentage, g.Letter, st.Summary.Correct, st.Summary.Total, st.Summary.Answered)
}

func unstartedText(st session.Unstarted) string {
	if st.CountdownText != "" {
		return "opens in " + st.CountdownText
	}
	return st.Reason
}

func clock(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}
