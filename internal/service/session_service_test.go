package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exstem-runtime/internal/examservice"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
	"github.com/stemsi/exstem-runtime/internal/session"
)

type stubExamService struct {
	mu        sync.Mutex
	exam      *model.Exam
	submitted []model.AnswerSubmission
	attempted bool

	// When set, SubmitExamAnswers signals entered and waits for release.
	submitEntered chan struct{}
	submitRelease chan struct{}
}

func (s *stubExamService) GetExamByID(_ context.Context, id string) (*model.Exam, error) {
	if s.exam == nil || s.exam.ID != id {
		return nil, &model.ExamError{Kind: model.ExamErrorNotFound, ExamID: id}
	}
	return s.exam, nil
}

func (s *stubExamService) CheckUserExamAttempt(context.Context, string) (examservice.AttemptStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return examservice.AttemptStatus{HasAttempted: s.attempted}, nil
}

func (s *stubExamService) StartExam(context.Context, string) (examservice.StartResult, error) {
	return examservice.StartResult{Success: true}, nil
}

func (s *stubExamService) SubmitExamAnswers(_ context.Context, _ string, answers []model.AnswerSubmission) (examservice.SubmitResult, error) {
	if s.submitEntered != nil {
		s.submitEntered <- struct{}{}
		<-s.submitRelease
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitted = answers
	s.attempted = true
	return examservice.SubmitResult{}, nil
}

func serviceExam() *model.Exam {
	return &model.Exam{
		ID: "exam-1", Name: "History", ExamDate: "2024-01-01",
		StartTime: "09:00", EndTime: "11:00", Duration: 90, TotalQuestions: 3, IsActive: true,
		Questions: []model.Question{
			{ID: "q1", CorrectAnswer: model.OptionA},
			{ID: "q2", CorrectAnswer: model.OptionB},
			{ID: "q3", CorrectAnswer: model.OptionC},
		},
	}
}

func newTestService(t *testing.T) (*SessionService, *repository.SnapshotRepository, *stubExamService) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	snapshots := repository.NewSnapshotRepository(rdb, time.Hour, false)
	exams := &stubExamService{exam: serviceExam()}
	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	svc := NewSessionService(exams, snapshots, SessionConfig{
		TickInterval: time.Hour,
		Location:     time.UTC,
		Clock:        func() time.Time { return now },
	}, zerolog.Nop())
	t.Cleanup(svc.Shutdown)
	return svc, snapshots, exams
}

func TestCreateIsIdempotentPerExamAndMode(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Create(ctx, 1, "exam-1", false)
	require.NoError(t, err)
	assert.Equal(t, session.PhaseUnstarted, first.Phase)

	again, err := svc.Create(ctx, 1, "exam-1", false)
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, again.SessionID)

	practice, err := svc.Create(ctx, 1, "exam-1", true)
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, practice.SessionID)
	assert.Equal(t, model.ModePractice, practice.Mode)
}

func TestCreateUnknownExam(t *testing.T) {
	svc, _, _ := newTestService(t)
	_, err := svc.Create(context.Background(), 1, "missing", false)
	assert.ErrorIs(t, err, model.ErrExamNotFound)
}

func TestLookupChecksOwner(t *testing.T) {
	svc, _, _ := newTestService(t)
	snap, err := svc.Create(context.Background(), 1, "exam-1", false)
	require.NoError(t, err)

	_, err = svc.Get(2, snap.SessionID)
	assert.ErrorIs(t, err, ErrNotSessionOwner)
	_, err = svc.Get(1, "nope")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRealSessionAutosavesAndResumes(t *testing.T) {
	svc, snapshots, _ := newTestService(t)
	ctx := context.Background()

	snap, err := svc.Create(ctx, 7, "exam-1", false)
	require.NoError(t, err)
	_, err = svc.Start(ctx, 7, snap.SessionID)
	require.NoError(t, err)
	_, err = svc.Answer(ctx, 7, snap.SessionID, "q2", "b")
	require.NoError(t, err)
	_, err = svc.Navigate(ctx, 7, snap.SessionID, NavJump, 2)
	require.NoError(t, err)

	stored, err := snapshots.Load(ctx, "exam-1", 7)
	require.NoError(t, err)
	assert.Equal(t, snap.SessionID, stored.SessionID)
	assert.Equal(t, map[string]model.OptionLabel{"q2": model.OptionB}, stored.Answers)
	assert.Equal(t, 2, stored.CurrentIndex)

	require.NoError(t, svc.Close(7, snap.SessionID))
	_, err = svc.Get(7, snap.SessionID)
	require.ErrorIs(t, err, ErrSessionNotFound)

	resumed, err := svc.Create(ctx, 7, "exam-1", false)
	require.NoError(t, err)
	assert.Equal(t, snap.SessionID, resumed.SessionID)
	require.Equal(t, session.PhaseRunning, resumed.Phase)
	r := resumed.State.(session.Running)
	assert.Equal(t, 3600, r.TimeLeftSeconds)
	assert.Equal(t, 2, r.CurrentQuestionIndex)
	assert.Equal(t, 1, resumed.AnsweredCount)
}

func TestPracticeSessionIsNotPersisted(t *testing.T) {
	svc, snapshots, _ := newTestService(t)
	ctx := context.Background()

	snap, err := svc.Create(ctx, 7, "exam-1", true)
	require.NoError(t, err)
	_, err = svc.Start(ctx, 7, snap.SessionID)
	require.NoError(t, err)
	_, err = svc.Answer(ctx, 7, snap.SessionID, "q1", "A")
	require.NoError(t, err)

	_, err = snapshots.Load(ctx, "exam-1", 7)
	assert.ErrorIs(t, err, repository.ErrSnapshotNotFound)
}

func TestSubmitClearsSnapshot(t *testing.T) {
	svc, snapshots, exams := newTestService(t)
	ctx := context.Background()

	snap, err := svc.Create(ctx, 7, "exam-1", false)
	require.NoError(t, err)
	_, err = svc.Start(ctx, 7, snap.SessionID)
	require.NoError(t, err)
	_, err = svc.Answer(ctx, 7, snap.SessionID, "q1", "A")
	require.NoError(t, err)

	_, err = svc.Submit(ctx, 7, snap.SessionID, false)
	var confirm *session.ConfirmationRequiredError
	require.True(t, errors.As(err, &confirm))
	assert.Equal(t, []string{"q2", "q3"}, confirm.Unanswered)

	done, err := svc.Submit(ctx, 7, snap.SessionID, true)
	require.NoError(t, err)
	require.Equal(t, session.PhaseSubmitted, done.Phase)
	assert.Len(t, exams.submitted, 3)

	_, err = snapshots.Load(ctx, "exam-1", 7)
	assert.ErrorIs(t, err, repository.ErrSnapshotNotFound)
}

func TestAnswerAndNavigateValidation(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	snap, err := svc.Create(ctx, 7, "exam-1", true)
	require.NoError(t, err)
	_, err = svc.Start(ctx, 7, snap.SessionID)
	require.NoError(t, err)

	_, err = svc.Answer(ctx, 7, snap.SessionID, "q1", "Z")
	assert.ErrorIs(t, err, session.ErrInvalidOption)
	_, err = svc.Navigate(ctx, 7, snap.SessionID, "sideways", 0)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestSubscribeReceivesChanges(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	snap, err := svc.Create(ctx, 7, "exam-1", true)
	require.NoError(t, err)

	ch, cancel, err := svc.Subscribe(7, snap.SessionID)
	require.NoError(t, err)
	defer cancel()

	// primed with the latest snapshot
	first := <-ch
	assert.Equal(t, session.PhaseUnstarted, first.Phase)

	_, err = svc.Start(ctx, 7, snap.SessionID)
	require.NoError(t, err)
	select {
	case got := <-ch:
		assert.Equal(t, session.PhaseRunning, got.Phase)
	case <-time.After(time.Second):
		t.Fatal("no snapshot after start")
	}

	require.NoError(t, svc.Close(7, snap.SessionID))
	_, open := <-ch
	assert.False(t, open)
}

func TestSweepRemovesStaleSessions(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	start := svc.cfg.Clock()
	at := func(d time.Duration) {
		svc.cfg.Clock = func() time.Time { return start.Add(d) }
	}
	const retain = 30 * time.Minute

	done, err := svc.Create(ctx, 7, "exam-1", true)
	require.NoError(t, err)
	_, err = svc.Start(ctx, 7, done.SessionID)
	require.NoError(t, err)
	_, err = svc.Submit(ctx, 7, done.SessionID, false)
	require.NoError(t, err)

	idle, err := svc.Create(ctx, 8, "exam-1", false)
	require.NoError(t, err)

	watched, err := svc.Create(ctx, 9, "exam-1", false)
	require.NoError(t, err)
	_, unsubscribe, err := svc.Subscribe(9, watched.SessionID)
	require.NoError(t, err)
	defer unsubscribe()

	practice, err := svc.Create(ctx, 10, "exam-1", true)
	require.NoError(t, err)
	_, err = svc.Start(ctx, 10, practice.SessionID)
	require.NoError(t, err)

	attempt, err := svc.Create(ctx, 11, "exam-1", false)
	require.NoError(t, err)
	_, err = svc.Start(ctx, 11, attempt.SessionID)
	require.NoError(t, err)

	at(10 * time.Minute)
	assert.Zero(t, svc.Sweep(retain))
	assert.Equal(t, 5, svc.LiveCount())

	// past retain: the submitted and the idle unstarted session go
	at(31 * time.Minute)
	assert.Equal(t, 2, svc.Sweep(retain))

	// past retain plus the 90 minute duration: the abandoned practice goes
	at(121 * time.Minute)
	assert.Equal(t, 1, svc.Sweep(retain))
	assert.Equal(t, 2, svc.LiveCount())

	for user, id := range map[int]string{7: done.SessionID, 8: idle.SessionID, 10: practice.SessionID} {
		_, err = svc.Get(user, id)
		assert.ErrorIs(t, err, ErrSessionNotFound, "user %d", user)
	}
	_, err = svc.Get(9, watched.SessionID)
	assert.NoError(t, err)
	_, err = svc.Get(11, attempt.SessionID)
	assert.NoError(t, err)
}

func TestActivityKeepsUnstartedSessionAlive(t *testing.T) {
	svc, _, _ := newTestService(t)
	ctx := context.Background()
	start := svc.cfg.Clock()

	snap, err := svc.Create(ctx, 7, "exam-1", false)
	require.NoError(t, err)

	svc.cfg.Clock = func() time.Time { return start.Add(20 * time.Minute) }
	_, err = svc.Get(7, snap.SessionID)
	require.NoError(t, err)

	svc.cfg.Clock = func() time.Time { return start.Add(40 * time.Minute) }
	assert.Zero(t, svc.Sweep(30*time.Minute))
}

func TestSubmissionFinishedAfterCloseIsNotResumed(t *testing.T) {
	svc, snapshots, exams := newTestService(t)
	ctx := context.Background()

	snap, err := svc.Create(ctx, 7, "exam-1", false)
	require.NoError(t, err)
	_, err = svc.Start(ctx, 7, snap.SessionID)
	require.NoError(t, err)
	_, err = svc.Answer(ctx, 7, snap.SessionID, "q1", "A")
	require.NoError(t, err)

	exams.submitEntered = make(chan struct{})
	exams.submitRelease = make(chan struct{})
	submitted := make(chan error, 1)
	go func() {
		_, err := svc.Submit(ctx, 7, snap.SessionID, true)
		submitted <- err
	}()
	<-exams.submitEntered
	require.NoError(t, svc.Close(7, snap.SessionID))
	close(exams.submitRelease)
	require.NoError(t, <-submitted)
	assert.Len(t, exams.submitted, 3)

	_, err = snapshots.Load(ctx, "exam-1", 7)
	assert.ErrorIs(t, err, repository.ErrSnapshotNotFound)

	again, err := svc.Create(ctx, 7, "exam-1", false)
	require.NoError(t, err)
	assert.NotEqual(t, snap.SessionID, again.SessionID)
	assert.Equal(t, session.PhaseUnstarted, again.Phase)

	_, err = svc.Start(ctx, 7, again.SessionID)
	assert.ErrorIs(t, err, session.ErrAlreadyAttempted)
}

func TestCreateDropsSnapshotOfSubmittedAttempt(t *testing.T) {
	svc, snapshots, exams := newTestService(t)
	ctx := context.Background()

	require.NoError(t, snapshots.SaveSession(ctx, &repository.SessionSnapshot{
		SessionID: "stale-session",
		ExamID:    "exam-1",
		UserID:    7,
		StartedAt: time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC),
	}))
	exams.attempted = true

	snap, err := svc.Create(ctx, 7, "exam-1", false)
	require.NoError(t, err)
	assert.NotEqual(t, "stale-session", snap.SessionID)
	assert.Equal(t, session.PhaseUnstarted, snap.Phase)

	_, err = snapshots.Load(ctx, "exam-1", 7)
	assert.ErrorIs(t, err, repository.ErrSnapshotNotFound)
}
