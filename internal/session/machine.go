// Package session runs one learner's timed exam attempt: the countdown to the
// exam window, the duration timer, answer tracking, and the single submission.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runtime/internal/examservice"
	"github.com/stemsi/exstem-runtime/internal/grade"
	"github.com/stemsi/exstem-runtime/internal/ledger"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/reconcile"
	"github.com/stemsi/exstem-runtime/internal/window"
)

// AnswerSink receives every accepted answer of a real attempt.
type AnswerSink interface {
	SaveAnswer(ctx context.Context, questionID string, label model.OptionLabel) error
}

// ResumePoint restores a real attempt that was already started.
type ResumePoint struct {
	StartedAt    time.Time
	CurrentIndex int
	Answers      map[string]model.OptionLabel
}

// Options configures a Machine. Zero values are usable.
type Options struct {
	SessionID    string
	Mode         model.Mode
	Clock        func() time.Time
	Location     *time.Location
	TickInterval time.Duration
	Logger       zerolog.Logger
	Autosave     AnswerSink
	// OnChange is called after every visible change, outside the machine lock.
	OnChange func(Snapshot)
	// OnFinish is called once with the Submitted snapshot, even when the
	// machine was closed while the submission was in flight.
	OnFinish func(Snapshot)
	Resume   *ResumePoint
}

// Machine is the session state machine. All methods are safe for concurrent use.
type Machine struct {
	id         string
	exam       *model.Exam
	mode       model.Mode
	svc        examservice.Service
	reconciler *reconcile.Reconciler
	evaluator  *window.Evaluator
	clock      func() time.Time
	log        zerolog.Logger
	autosave   AnswerSink
	onChange   func(Snapshot)
	onFinish   func(Snapshot)
	resume     *ResumePoint

	countdown *Timer
	duration  *Timer

	// saveMu orders autosaves the same way answers were applied.
	saveMu sync.Mutex

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	// caller carries the latest caller identity for timer-driven calls.
	caller    context.Context
	opened    bool
	closed    bool
	phase     Phase
	unstarted Unstarted
	ledger    *ledger.Ledger
	startedAt time.Time
	timeLeft  int
	index     int
	// autoArmed is set once per Running entry by the duration tick.
	autoArmed      bool
	confirmPending bool
	unanswered     []string
	inFlight       bool
	submitted      bool
	result         Submitted
	version        uint64
}

// New validates exam and returns an unopened machine in the Unstarted state.
func New(exam *model.Exam, svc examservice.Service, opts Options) (*Machine, error) {
	if err := exam.Validate(); err != nil {
		return nil, err
	}
	if opts.Mode == "" {
		opts.Mode = model.ModeReal
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	if opts.SessionID == "" {
		opts.SessionID = uuid.NewString()
	}

	m := &Machine{
		id:         opts.SessionID,
		exam:       exam,
		mode:       opts.Mode,
		svc:        svc,
		reconciler: reconcile.New(svc, opts.Logger),
		evaluator:  window.NewEvaluator(opts.Location),
		clock:      opts.Clock,
		autosave:   opts.Autosave,
		onChange:   opts.OnChange,
		onFinish:   opts.OnFinish,
		resume:     opts.Resume,
		countdown:  NewTimer(opts.TickInterval),
		duration:   NewTimer(opts.TickInterval),
		phase:      PhaseUnstarted,
		ledger:     ledger.New(),
		log: opts.Logger.With().
			Str("component", "session").
			Str("session_id", opts.SessionID).
			Str("exam_id", exam.ID).
			Str("mode", string(opts.Mode)).
			Logger(),
	}
	m.unstarted = m.evaluateUnstarted(m.clock())
	return m, nil
}

// ID returns the session id.
func (m *Machine) ID() string { return m.id }

// Exam returns the exam the session runs. It must not be modified.
func (m *Machine) Exam() *model.Exam { return m.exam }

// Mode returns the session mode.
func (m *Machine) Mode() model.Mode { return m.mode }

// Open binds the session to ctx and arms the timers. ctx supplies caller
// identity for timer-driven calls; its cancellation does not end the session.
// A configured ResumePoint moves a real session straight to Running.
func (m *Machine) Open(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.opened {
		m.mu.Unlock()
		return nil
	}
	m.opened = true
	m.caller = context.WithoutCancel(ctx)
	m.ctx, m.cancel = context.WithCancel(m.caller)

	now := m.clock()
	switch {
	case m.resume != nil && m.mode == model.ModeReal:
		m.ledger = ledger.FromAnswers(m.resume.Answers)
		m.enterRunningLocked(now, m.resumeTimeLeft(now), m.resume.CurrentIndex)
		m.startedAt = m.resume.StartedAt
		m.log.Info().Int("time_left", m.timeLeft).Int("answered", m.ledger.AnsweredCount()).Msg("Session resumed")
	case m.mode == model.ModeReal:
		m.unstarted = m.evaluateUnstarted(now)
		m.countdown.Start(m.onCountdownTick)
	}
	m.unlockAndNotify()
	return nil
}

// Begin starts the attempt. Practice always starts. Real mode needs an open
// window, no previous attempt, and the Exam Service's consent.
func (m *Machine) Begin(ctx context.Context) error {
	m.mu.Lock()
	if err := m.checkStartableLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.mode == model.ModeReal {
		res := m.evaluator.Evaluate(m.exam.ExamDate, m.exam.StartTime, m.exam.EndTime, m.clock())
		if res.Status != window.StatusOpen {
			m.mu.Unlock()
			return &StartRejectedError{WindowStatus: res.Status, Reason: res.Reason}
		}
	}
	m.inFlight = true
	m.mu.Unlock()

	if m.mode == model.ModeReal {
		if err := m.registerStart(ctx); err != nil {
			m.mu.Lock()
			m.inFlight = false
			m.mu.Unlock()
			m.log.Info().Err(err).Msg("Start refused")
			return err
		}
	}

	m.mu.Lock()
	m.inFlight = false
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	now := m.clock()
	m.enterRunningLocked(now, m.seedTimeLeft(now), 0)
	m.log.Info().Int("time_left", m.timeLeft).Msg("Session started")
	m.unlockAndNotify()
	return nil
}

func (m *Machine) checkStartableLocked() error {
	switch {
	case m.closed:
		return ErrClosed
	case !m.opened:
		return ErrNotOpen
	case m.inFlight:
		return ErrBusy
	case m.phase == PhaseSubmitted:
		return ErrAlreadySubmitted
	case m.phase == PhaseRunning:
		return ErrAlreadyStarted
	}
	return nil
}

func (m *Machine) registerStart(ctx context.Context) error {
	status, err := m.svc.CheckUserExamAttempt(ctx, m.exam.ID)
	if err != nil {
		return err
	}
	if status.HasAttempted {
		return ErrAlreadyAttempted
	}

	res, err := m.svc.StartExam(ctx, m.exam.ID)
	if err != nil {
		return err
	}
	if !res.Success {
		return &StartRejectedError{WindowStatus: window.StatusOpen, Reason: res.Message}
	}
	return nil
}

// seedTimeLeft is the full duration for practice or a closed window, and the
// seconds left until the window ends otherwise.
func (m *Machine) seedTimeLeft(now time.Time) int {
	if m.mode == model.ModePractice {
		return m.exam.DurationSeconds()
	}
	res := m.evaluator.Evaluate(m.exam.ExamDate, m.exam.StartTime, m.exam.EndTime, now)
	if res.Status != window.StatusOpen {
		return m.exam.DurationSeconds()
	}
	return secondsUntil(now, res.End)
}

// resumeTimeLeft recomputes the remaining time of a restored attempt from the
// window end. Without a usable window the elapsed time is charged against the
// duration.
func (m *Machine) resumeTimeLeft(now time.Time) int {
	res := m.evaluator.Evaluate(m.exam.ExamDate, m.exam.StartTime, m.exam.EndTime, now)
	switch res.Status {
	case window.StatusOpen:
		return secondsUntil(now, res.End)
	case window.StatusClosed:
		return 0
	}
	return secondsUntil(now, m.resume.StartedAt.Add(time.Duration(m.exam.DurationSeconds())*time.Second))
}

func secondsUntil(now, t time.Time) int {
	left := int(t.Sub(now) / time.Second)
	if left < 0 {
		return 0
	}
	return left
}

func (m *Machine) enterRunningLocked(now time.Time, timeLeft, index int) {
	m.countdown.Stop()
	m.phase = PhaseRunning
	m.startedAt = now
	m.timeLeft = timeLeft
	m.index = clamp(index, len(m.exam.Questions))
	m.autoArmed = false
	m.confirmPending = false
	m.unanswered = nil
	m.duration.Start(m.onDurationTick)
}

// SelectAnswer records an answer. It never moves the current question.
func (m *Machine) SelectAnswer(questionID string, label model.OptionLabel) error {
	m.mu.Lock()
	if err := m.checkRunningLocked(); err != nil {
		m.mu.Unlock()
		return err
	}
	if m.inFlight {
		m.mu.Unlock()
		return ErrBusy
	}
	if m.exam.QuestionIndex(questionID) < 0 {
		m.mu.Unlock()
		return ErrUnknownQuestion
	}
	if !label.Valid() {
		m.mu.Unlock()
		return ErrInvalidOption
	}

	m.ledger.SetAnswer(questionID, label)
	m.confirmPending = false
	m.unanswered = nil
	m.version++

	var snap *Snapshot
	if m.onChange != nil {
		s := m.snapshotLocked()
		snap = &s
	}

	if sink, ctx := m.autosave, m.ctx; sink != nil && m.mode == model.ModeReal {
		// saveMu is taken before mu is released so saves keep answer order.
		m.saveMu.Lock()
		m.mu.Unlock()
		err := sink.SaveAnswer(ctx, questionID, label)
		m.saveMu.Unlock()
		if err != nil {
			m.log.Warn().Err(err).Str("question_id", questionID).Msg("Autosave failed")
		}
	} else {
		m.mu.Unlock()
	}

	if snap != nil {
		m.onChange(*snap)
	}
	return nil
}

// Next moves to the following question, staying on the last one.
func (m *Machine) Next() (int, error) {
	return m.move(func(i int) int { return i + 1 })
}

// Previous moves to the preceding question, staying on the first one.
func (m *Machine) Previous() (int, error) {
	return m.move(func(i int) int { return i - 1 })
}

// Jump moves to index, clamped to the question range.
func (m *Machine) Jump(index int) (int, error) {
	return m.move(func(int) int { return index })
}

func (m *Machine) move(to func(int) int) (int, error) {
	m.mu.Lock()
	if err := m.checkRunningLocked(); err != nil {
		m.mu.Unlock()
		return 0, err
	}
	m.index = clamp(to(m.index), len(m.exam.Questions))
	index := m.index
	m.unlockAndNotify()
	return index, nil
}

func clamp(i, n int) int {
	if i < 0 || n == 0 {
		return 0
	}
	if i > n-1 {
		return n - 1
	}
	return i
}

func (m *Machine) checkRunningLocked() error {
	switch {
	case m.closed:
		return ErrClosed
	case m.phase == PhaseSubmitted:
		return ErrAlreadySubmitted
	case m.phase != PhaseRunning:
		return ErrNotRunning
	}
	return nil
}

// Submit ends the attempt. In real mode with unanswered questions it returns
// a *ConfirmationRequiredError and the session keeps running.
func (m *Machine) Submit(ctx context.Context) ([]model.PerQuestionResult, error) {
	return m.submit(ctx, false)
}

// SubmitAnyway ends the attempt regardless of unanswered questions.
func (m *Machine) SubmitAnyway(ctx context.Context) ([]model.PerQuestionResult, error) {
	return m.submit(ctx, true)
}

func (m *Machine) submit(ctx context.Context, anyway bool) ([]model.PerQuestionResult, error) {
	m.mu.Lock()
	if err := m.checkRunningLocked(); err != nil {
		m.mu.Unlock()
		return nil, err
	}
	if m.inFlight {
		m.mu.Unlock()
		return nil, ErrBusy
	}

	if m.mode == model.ModeReal && !anyway {
		missing := m.ledger.UnansweredQuestions(m.exam.Questions)
		if len(missing) > 0 {
			ids := make([]string, 0, len(missing))
			for _, q := range missing {
				ids = append(ids, q.ID)
			}
			m.confirmPending = true
			m.unanswered = ids
			m.unlockAndNotify()
			return nil, &ConfirmationRequiredError{Unanswered: ids}
		}
	}

	m.inFlight = true
	answers := m.ledger.Snapshot()
	m.mu.Unlock()

	results, err := m.reconciler.Reconcile(ctx, m.exam, answers, m.mode, false)

	m.mu.Lock()
	if err != nil {
		m.inFlight = false
		m.mu.Unlock()
		m.log.Warn().Err(err).Msg("Submit failed")
		return nil, err
	}
	m.finishLocked(results, false)
	m.unlockAndFinish()
	return results, nil
}

// onDurationTick decrements the time left and auto-submits on the tick that
// reaches zero. Once armed, later ticks do nothing.
func (m *Machine) onDurationTick(gen uint64) {
	m.mu.Lock()
	if m.closed || m.phase != PhaseRunning || !m.duration.Current(gen) {
		m.mu.Unlock()
		return
	}
	if m.timeLeft > 1 {
		m.timeLeft--
		m.unlockAndNotify()
		return
	}

	m.timeLeft = 0
	if m.autoArmed || m.inFlight || m.submitted {
		m.mu.Unlock()
		return
	}
	m.autoArmed = true
	m.inFlight = true
	answers := m.ledger.Snapshot()
	ctx, release := m.timerContextLocked()
	m.mu.Unlock()

	m.log.Info().Msg("Time is up, auto-submitting")
	results, err := m.reconciler.Reconcile(ctx, m.exam, answers, m.mode, true)
	release()
	if err != nil {
		m.log.Error().Err(err).Msg("Auto-submit reconcile failed, grading locally")
		results = reconcile.GradeLocally(m.exam, answers)
	}

	m.mu.Lock()
	m.finishLocked(results, true)
	m.unlockAndFinish()
}

// onCountdownTick re-evaluates the window while waiting to start.
func (m *Machine) onCountdownTick(gen uint64) {
	m.mu.Lock()
	if m.closed || m.phase != PhaseUnstarted || !m.countdown.Current(gen) {
		m.mu.Unlock()
		return
	}
	m.unstarted = m.evaluateUnstarted(m.clock())
	m.unlockAndNotify()
}

func (m *Machine) evaluateUnstarted(now time.Time) Unstarted {
	if m.mode == model.ModePractice {
		return Unstarted{WindowStatus: window.StatusOpen, Reason: "Practice mode"}
	}
	res := m.evaluator.Evaluate(m.exam.ExamDate, m.exam.StartTime, m.exam.EndTime, now)
	return Unstarted{WindowStatus: res.Status, CountdownText: res.Countdown(), Reason: res.Reason}
}

func (m *Machine) finishLocked(results []model.PerQuestionResult, auto bool) {
	m.inFlight = false
	m.submitted = true
	m.phase = PhaseSubmitted
	m.countdown.Stop()
	m.duration.Stop()

	summary, err := grade.Summarize(results)
	if err != nil {
		m.log.Error().Err(err).Msg("Cannot grade results")
	}
	m.result = Submitted{Results: results, Summary: summary, AutoSubmitted: auto}
	m.log.Info().
		Bool("auto", auto).
		Int("correct", summary.Correct).
		Int("total", summary.Total).
		Str("grade", summary.Grade.Letter).
		Msg("Session submitted")
}

// Close stops both timers and cancels the session context. Idempotent.
func (m *Machine) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.closed = true
	m.countdown.Stop()
	m.duration.Stop()
	if m.cancel != nil {
		m.cancel()
	}
}

// Rebind replaces the caller identity used by timer-driven calls, so the
// auto-submit carries the most recent access token rather than the one the
// session was opened with.
func (m *Machine) Rebind(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.opened && !m.closed {
		m.caller = context.WithoutCancel(ctx)
	}
}

// timerContextLocked joins the latest caller identity with the session
// lifetime: Close cancels it.
func (m *Machine) timerContextLocked() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(m.caller)
	stop := context.AfterFunc(m.ctx, cancel)
	return ctx, func() {
		stop()
		cancel()
	}
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// Closed reports whether Close was called.
func (m *Machine) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

// Snapshot returns the current observable state.
func (m *Machine) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Snapshot {
	s := Snapshot{
		SessionID:      m.id,
		Version:        m.version,
		ExamID:         m.exam.ID,
		ExamName:       m.exam.Name,
		Mode:           m.mode,
		Phase:          m.phase,
		AnsweredCount:  m.ledger.AnsweredCount(),
		TotalQuestions: len(m.exam.Questions),
		Palette:        make([]PaletteEntry, 0, len(m.exam.Questions)),
	}
	for i, q := range m.exam.Questions {
		answer, _ := m.ledger.Answer(q.ID)
		s.Palette = append(s.Palette, PaletteEntry{
			Index:      i,
			QuestionID: q.ID,
			Answer:     answer,
			Current:    m.phase == PhaseRunning && i == m.index,
		})
	}

	switch m.phase {
	case PhaseUnstarted:
		s.State = m.unstarted
	case PhaseRunning:
		s.State = Running{
			Mode:                 m.mode,
			TimeLeftSeconds:      m.timeLeft,
			CurrentQuestionIndex: m.index,
			AutoSubmitArmed:      m.autoArmed,
			ConfirmationPending:  m.confirmPending,
			Unanswered:           append([]string(nil), m.unanswered...),
		}
	case PhaseSubmitted:
		s.State = m.result
	}
	return s
}

// unlockAndNotify records a change, releases m.mu and reports the new state
// to OnChange.
func (m *Machine) unlockAndNotify() {
	m.version++
	if m.onChange == nil || m.closed {
		m.mu.Unlock()
		return
	}
	snap := m.snapshotLocked()
	m.mu.Unlock()
	m.onChange(snap)
}

// unlockAndFinish is unlockAndNotify for the move to Submitted. OnChange is
// skipped once closed; OnFinish is not.
func (m *Machine) unlockAndFinish() {
	m.version++
	snap := m.snapshotLocked()
	notify := m.onChange != nil && !m.closed
	m.mu.Unlock()
	if notify {
		m.onChange(snap)
	}
	if m.onFinish != nil {
		m.onFinish(snap)
	}
}
