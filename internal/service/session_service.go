package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runtime/internal/examservice"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
	"github.com/stemsi/exstem-runtime/internal/session"
)

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrNotSessionOwner = errors.New("session belongs to another user")
	ErrUnknownAction   = errors.New("unknown navigation action")
)

// SnapshotStore persists running real attempts for resume.
type SnapshotStore interface {
	SaveSession(ctx context.Context, s *repository.SessionSnapshot) error
	SaveAnswer(ctx context.Context, examID string, userID int, questionID string, label model.OptionLabel) error
	SaveCursor(ctx context.Context, examID string, userID, index int) error
	Load(ctx context.Context, examID string, userID int) (*repository.SessionSnapshot, error)
	Delete(ctx context.Context, examID string, userID int) error
}

// Navigation actions.
const (
	NavNext     = "next"
	NavPrevious = "previous"
	NavJump     = "jump"
)

// SessionConfig tunes the machines the service creates.
type SessionConfig struct {
	TickInterval time.Duration
	Location     *time.Location
	Clock        func() time.Time
}

type liveSession struct {
	machine *session.Machine
	userID  int
	hub     *hub
	cleared sync.Once

	mu         sync.Mutex
	finished   time.Time
	lastActive time.Time
}

type sessionKey struct {
	userID int
	examID string
	mode   model.Mode
}

// SessionService owns the live session machines of this host.
type SessionService struct {
	exams     examservice.Service
	snapshots SnapshotStore
	cfg       SessionConfig
	log       zerolog.Logger

	mu       sync.RWMutex
	sessions map[string]*liveSession
	byKey    map[sessionKey]string
}

// NewSessionService creates a SessionService. snapshots may be nil, which
// disables autosave and resume.
func NewSessionService(exams examservice.Service, snapshots SnapshotStore, cfg SessionConfig, log zerolog.Logger) *SessionService {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &SessionService{
		exams:     exams,
		snapshots: snapshots,
		cfg:       cfg,
		log:       log.With().Str("component", "session_service").Logger(),
		sessions:  make(map[string]*liveSession),
		byKey:     make(map[sessionKey]string),
	}
}

// Create opens a session for the caller, or returns the live one for the
// same exam and mode. ctx must carry the caller's identity.
func (s *SessionService) Create(ctx context.Context, userID int, examID string, practice bool) (session.Snapshot, error) {
	mode := model.ModeFromPractice(practice)
	key := sessionKey{userID: userID, examID: examID, mode: mode}

	s.mu.RLock()
	if id, ok := s.byKey[key]; ok {
		if live := s.sessions[id]; live != nil && !live.machine.Closed() {
			s.mu.RUnlock()
			live.touch(s.cfg.Clock())
			return live.machine.Snapshot(), nil
		}
	}
	s.mu.RUnlock()

	exam, err := s.exams.GetExamByID(ctx, examID)
	if err != nil {
		return session.Snapshot{}, err
	}

	live := &liveSession{userID: userID, hub: newHub(), lastActive: s.cfg.Clock()}
	opts := session.Options{
		SessionID:    uuid.NewString(),
		Mode:         mode,
		Clock:        s.cfg.Clock,
		Location:     s.cfg.Location,
		TickInterval: s.cfg.TickInterval,
		Logger:       s.log,
		OnChange:     live.hub.publish,
		OnFinish:     func(snap session.Snapshot) { s.onFinish(live, snap) },
	}
	if mode == model.ModeReal && s.snapshots != nil {
		opts.Autosave = answerSink{store: s.snapshots, examID: examID, userID: userID}
		stored, err := s.snapshots.Load(ctx, examID, userID)
		if err == nil && s.submittedElsewhere(ctx, examID) {
			s.log.Info().Str("session_id", stored.SessionID).Int("user_id", userID).Msg("Dropping snapshot of a submitted attempt")
			s.clearSnapshot(examID, userID, stored.SessionID)
			err = repository.ErrSnapshotNotFound
		}
		if err == nil {
			opts.SessionID = stored.SessionID
			opts.Resume = &session.ResumePoint{
				StartedAt:    stored.StartedAt,
				CurrentIndex: stored.CurrentIndex,
				Answers:      stored.Answers,
			}
		} else if !errors.Is(err, repository.ErrSnapshotNotFound) {
			s.log.Warn().Err(err).Str("exam_id", examID).Int("user_id", userID).Msg("Snapshot lookup failed, starting fresh")
		}
	}

	m, err := session.New(exam, s.exams, opts)
	if err != nil {
		return session.Snapshot{}, err
	}
	live.machine = m

	s.mu.Lock()
	if id, ok := s.byKey[key]; ok {
		if other := s.sessions[id]; other != nil && !other.machine.Closed() {
			s.mu.Unlock()
			m.Close()
			return other.machine.Snapshot(), nil
		}
	}
	s.sessions[m.ID()] = live
	s.byKey[key] = m.ID()
	s.mu.Unlock()

	if err := m.Open(ctx); err != nil {
		s.remove(m.ID())
		return session.Snapshot{}, err
	}

	s.log.Info().
		Str("session_id", m.ID()).
		Str("exam_id", examID).
		Int("user_id", userID).
		Str("mode", string(mode)).
		Bool("resumed", opts.Resume != nil).
		Msg("Session created")
	return m.Snapshot(), nil
}

// Get returns the session's current snapshot.
func (s *SessionService) Get(userID int, sessionID string) (session.Snapshot, error) {
	live, err := s.lookup(userID, sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	return live.machine.Snapshot(), nil
}

// Paper returns the session's questions without the answer key. It is only
// served once the attempt has started.
func (s *SessionService) Paper(userID int, sessionID string) (model.ExamPaper, error) {
	live, err := s.lookup(userID, sessionID)
	if err != nil {
		return model.ExamPaper{}, err
	}
	if live.machine.Phase() == session.PhaseUnstarted {
		return model.ExamPaper{}, session.ErrNotRunning
	}
	return live.machine.Exam().Paper(), nil
}

// Start begins the attempt and records it for resume.
func (s *SessionService) Start(ctx context.Context, userID int, sessionID string) (session.Snapshot, error) {
	live, err := s.lookup(userID, sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	m := live.machine
	m.Rebind(ctx)
	if err := m.Begin(ctx); err != nil {
		return session.Snapshot{}, err
	}

	if m.Mode() == model.ModeReal && s.snapshots != nil {
		err := s.snapshots.SaveSession(ctx, &repository.SessionSnapshot{
			SessionID: m.ID(),
			ExamID:    m.Exam().ID,
			UserID:    userID,
			StartedAt: s.cfg.Clock(),
		})
		if err != nil {
			s.log.Warn().Err(err).Str("session_id", m.ID()).Msg("Failed to record session for resume")
		}
	}
	return m.Snapshot(), nil
}

// Answer records the answer for questionID. answer is parsed case-insensitively.
func (s *SessionService) Answer(ctx context.Context, userID int, sessionID, questionID, answer string) (session.Snapshot, error) {
	live, err := s.lookup(userID, sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	live.machine.Rebind(ctx)
	label, err := model.ParseOptionLabel(answer)
	if err != nil {
		return session.Snapshot{}, session.ErrInvalidOption
	}
	if err := live.machine.SelectAnswer(questionID, label); err != nil {
		return session.Snapshot{}, err
	}
	return live.machine.Snapshot(), nil
}

// Navigate applies next, previous or jump.
func (s *SessionService) Navigate(ctx context.Context, userID int, sessionID, action string, index int) (session.Snapshot, error) {
	live, err := s.lookup(userID, sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	m := live.machine
	m.Rebind(ctx)

	var current int
	switch action {
	case NavNext:
		current, err = m.Next()
	case NavPrevious:
		current, err = m.Previous()
	case NavJump:
		current, err = m.Jump(index)
	default:
		return session.Snapshot{}, ErrUnknownAction
	}
	if err != nil {
		return session.Snapshot{}, err
	}

	if m.Mode() == model.ModeReal && s.snapshots != nil {
		if err := s.snapshots.SaveCursor(ctx, m.Exam().ID, userID, current); err != nil {
			s.log.Debug().Err(err).Str("session_id", m.ID()).Msg("Failed to save cursor")
		}
	}
	return m.Snapshot(), nil
}

// Submit submits the attempt; anyway skips the unanswered confirmation.
func (s *SessionService) Submit(ctx context.Context, userID int, sessionID string, anyway bool) (session.Snapshot, error) {
	live, err := s.lookup(userID, sessionID)
	if err != nil {
		return session.Snapshot{}, err
	}
	live.machine.Rebind(ctx)
	if anyway {
		_, err = live.machine.SubmitAnyway(ctx)
	} else {
		_, err = live.machine.Submit(ctx)
	}
	if err != nil {
		return session.Snapshot{}, err
	}
	return live.machine.Snapshot(), nil
}

// Close tears the session down. A running real attempt stays resumable.
func (s *SessionService) Close(userID int, sessionID string) error {
	if _, err := s.lookup(userID, sessionID); err != nil {
		return err
	}
	s.remove(sessionID)
	return nil
}

// Subscribe streams the session's snapshots until cancel is called or the
// session is closed.
func (s *SessionService) Subscribe(userID int, sessionID string) (<-chan session.Snapshot, func(), error) {
	live, err := s.lookup(userID, sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, cancel := live.hub.subscribe()
	return ch, cancel, nil
}

// Sweep closes sessions that no client needs any more and returns how many
// were removed:
//   - submitted more than retain ago
//   - unstarted, idle for retain and without stream subscribers
//   - practice still running, idle for retain plus the exam duration
//
// Running real attempts stay; they end at the window close and are resumable.
func (s *SessionService) Sweep(retain time.Duration) int {
	now := s.cfg.Clock()
	cutoff := now.Add(-retain)

	s.mu.RLock()
	var stale []string
	for id, live := range s.sessions {
		if live.stale(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()

	for _, id := range stale {
		s.remove(id)
	}
	return len(stale)
}

// RunJanitor sweeps stale sessions every interval until ctx is done.
func (s *SessionService) RunJanitor(ctx context.Context, interval, retain time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(retain); n > 0 {
				s.log.Debug().Int("count", n).Msg("Swept idle sessions")
			}
		}
	}
}

// LiveCount is the number of sessions held by this host.
func (s *SessionService) LiveCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Shutdown closes every live session.
func (s *SessionService) Shutdown() {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()

	for _, id := range ids {
		s.remove(id)
	}
	s.log.Info().Int("count", len(ids)).Msg("Sessions closed")
}

func (s *SessionService) lookup(userID int, sessionID string) (*liveSession, error) {
	s.mu.RLock()
	live, ok := s.sessions[sessionID]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	if live.userID != userID {
		return nil, ErrNotSessionOwner
	}
	live.touch(s.cfg.Clock())
	return live, nil
}

func (s *SessionService) remove(sessionID string) {
	s.mu.Lock()
	live, ok := s.sessions[sessionID]
	if ok {
		delete(s.sessions, sessionID)
		m := live.machine
		key := sessionKey{userID: live.userID, examID: m.Exam().ID, mode: m.Mode()}
		if s.byKey[key] == sessionID {
			delete(s.byKey, key)
		}
	}
	s.mu.Unlock()

	if ok {
		live.machine.Close()
		live.hub.close()
	}
}

// onFinish runs once per session when it reaches Submitted, including a
// submission that completed after the session was closed.
func (s *SessionService) onFinish(live *liveSession, snap session.Snapshot) {
	live.cleared.Do(func() {
		live.markFinished(s.cfg.Clock())
		if snap.Mode == model.ModeReal {
			s.clearSnapshot(snap.ExamID, live.userID, snap.SessionID)
		}
	})
}

// submittedElsewhere reports whether the Exam Service already holds a
// submission for the caller. A failed check lets the resume go ahead.
func (s *SessionService) submittedElsewhere(ctx context.Context, examID string) bool {
	status, err := s.exams.CheckUserExamAttempt(ctx, examID)
	if err != nil {
		s.log.Warn().Err(err).Str("exam_id", examID).Msg("Attempt check before resume failed")
		return false
	}
	return status.HasAttempted
}

func (s *SessionService) clearSnapshot(examID string, userID int, sessionID string) {
	if s.snapshots == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.snapshots.Delete(ctx, examID, userID); err != nil {
		s.log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to clear session snapshot")
	}
}

func (l *liveSession) markFinished(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.finished = t
}

func (l *liveSession) touch(t time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t.After(l.lastActive) {
		l.lastActive = t
	}
}

func (l *liveSession) stale(cutoff time.Time) bool {
	l.mu.Lock()
	finished, lastActive := l.finished, l.lastActive
	l.mu.Unlock()

	if !finished.IsZero() {
		return finished.Before(cutoff)
	}
	m := l.machine
	switch m.Phase() {
	case session.PhaseUnstarted:
		return lastActive.Before(cutoff) && l.hub.subscribers() == 0
	case session.PhaseRunning:
		if m.Mode() != model.ModePractice {
			return false
		}
		grace := time.Duration(m.Exam().DurationSeconds()) * time.Second
		return lastActive.Before(cutoff.Add(-grace))
	}
	return false
}

type answerSink struct {
	store  SnapshotStore
	examID string
	userID int
}

func (a answerSink) SaveAnswer(ctx context.Context, questionID string, label model.OptionLabel) error {
	return a.store.SaveAnswer(ctx, a.examID, a.userID, questionID, label)
}
