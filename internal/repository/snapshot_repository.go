package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/model"
)

var ErrSnapshotNotFound = errors.New("session snapshot not found")

// SessionSnapshot is what survives a host restart for a running real attempt.
type SessionSnapshot struct {
	SessionID    string
	ExamID       string
	UserID       int
	StartedAt    time.Time
	CurrentIndex int
	Answers      map[string]model.OptionLabel
}

// DraftAnswer is a queued autosave bound for the attempt store.
type DraftAnswer struct {
	UserID     int    `json:"user_id"`
	ExamID     string `json:"exam_id"`
	QuestionID string `json:"question_id"`
	Answer     string `json:"answer"`
}

// SnapshotRepository keeps running sessions in Redis so they can be resumed.
type SnapshotRepository struct {
	rdb *redis.Client
	ttl time.Duration
	// queueDrafts also pushes each answer to the draft answers queue.
	queueDrafts bool
}

// NewSnapshotRepository creates a SnapshotRepository. Keys expire after ttl.
func NewSnapshotRepository(rdb *redis.Client, ttl time.Duration, queueDrafts bool) *SnapshotRepository {
	return &SnapshotRepository{rdb: rdb, ttl: ttl, queueDrafts: queueDrafts}
}

// SaveSession records a session's start. Existing answers are kept.
func (r *SnapshotRepository) SaveSession(ctx context.Context, s *SessionSnapshot) error {
	metaKey := config.CacheKey.SessionMetaKey(s.ExamID, s.UserID)

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, metaKey, map[string]any{
		"session_id":    s.SessionID,
		"started_at":    s.StartedAt.UTC().Format(time.RFC3339Nano),
		"current_index": s.CurrentIndex,
	})
	pipe.Expire(ctx, metaKey, r.ttl)
	pipe.Set(ctx, config.CacheKey.UserActiveSessionKey(s.UserID), s.SessionID, r.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// SaveCursor records the question the learner is looking at.
func (r *SnapshotRepository) SaveCursor(ctx context.Context, examID string, userID, index int) error {
	return r.rdb.HSet(ctx, config.CacheKey.SessionMetaKey(examID, userID), "current_index", index).Err()
}

// SaveAnswer autosaves one answer and, when enabled, queues it for the attempt store.
func (r *SnapshotRepository) SaveAnswer(ctx context.Context, examID string, userID int, questionID string, label model.OptionLabel) error {
	answersKey := config.CacheKey.SessionAnswersKey(examID, userID)

	pipe := r.rdb.TxPipeline()
	pipe.HSet(ctx, answersKey, questionID, string(label))
	pipe.Expire(ctx, answersKey, r.ttl)
	if r.queueDrafts {
		payload, err := json.Marshal(DraftAnswer{UserID: userID, ExamID: examID, QuestionID: questionID, Answer: string(label)})
		if err != nil {
			return err
		}
		pipe.RPush(ctx, config.WorkerKey.PersistDraftAnswersQueue, payload)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// Load returns the stored snapshot or ErrSnapshotNotFound.
func (r *SnapshotRepository) Load(ctx context.Context, examID string, userID int) (*SessionSnapshot, error) {
	meta, err := r.rdb.HGetAll(ctx, config.CacheKey.SessionMetaKey(examID, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if len(meta) == 0 {
		return nil, ErrSnapshotNotFound
	}

	startedAt, err := time.Parse(time.RFC3339Nano, meta["started_at"])
	if err != nil {
		return nil, fmt.Errorf("load session: bad started_at: %w", err)
	}
	index, _ := strconv.Atoi(meta["current_index"])

	raw, err := r.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(examID, userID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load answers: %w", err)
	}
	answers := make(map[string]model.OptionLabel, len(raw))
	for qid, v := range raw {
		if label, err := model.ParseOptionLabel(v); err == nil {
			answers[qid] = label
		}
	}

	return &SessionSnapshot{
		SessionID:    meta["session_id"],
		ExamID:       examID,
		UserID:       userID,
		StartedAt:    startedAt,
		CurrentIndex: index,
		Answers:      answers,
	}, nil
}

// Delete drops the snapshot once the attempt is submitted.
func (r *SnapshotRepository) Delete(ctx context.Context, examID string, userID int) error {
	return r.rdb.Del(ctx,
		config.CacheKey.SessionMetaKey(examID, userID),
		config.CacheKey.SessionAnswersKey(examID, userID),
		config.CacheKey.UserActiveSessionKey(userID),
	).Err()
}
