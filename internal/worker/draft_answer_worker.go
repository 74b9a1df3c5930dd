package worker

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/repository"
)

const (
	DraftPollTimeout    = 1 * time.Second
	DraftRetryDelay     = 5 * time.Second
	DraftRequeueTimeout = 3 * time.Second
)

// DraftStore persists one autosaved answer.
type DraftStore interface {
	SaveDraft(ctx context.Context, d repository.DraftAnswer) (bool, error)
}

// DraftAnswerWorker consumes the draft answers queue and writes each answer to
// the attempt store, so a running real attempt survives a Redis flush.
type DraftAnswerWorker struct {
	store      DraftStore
	rdb        *redis.Client
	log        zerolog.Logger
	retryDelay time.Duration
}

// NewDraftAnswerWorker creates a new DraftAnswerWorker.
func NewDraftAnswerWorker(store DraftStore, rdb *redis.Client, log zerolog.Logger) *DraftAnswerWorker {
	return &DraftAnswerWorker{
		store:      store,
		rdb:        rdb,
		log:        log.With().Str("component", "draft_answer_worker").Logger(),
		retryDelay: DraftRetryDelay,
	}
}

// Start runs the worker loop until ctx is cancelled. Call in a goroutine.
func (w *DraftAnswerWorker) Start(ctx context.Context) {
	w.log.Info().Msg("Worker started")

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopping...")
			w.drain(context.Background())
			w.log.Info().Msg("Worker stopped")
			return
		default:
			w.processNext(ctx)
		}
	}
}

func (w *DraftAnswerWorker) processNext(ctx context.Context) {
	result, err := w.rdb.BLPop(ctx, DraftPollTimeout, config.WorkerKey.PersistDraftAnswersQueue).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
			w.log.Error().Err(err).Msg("BLPop error")
		}
		return
	}
	if len(result) < 2 {
		return
	}

	if err := w.handle(ctx, result[1]); err != nil {
		w.log.Error().Err(err).Dur("retry_in", w.retryDelay).Msg("Persist error, requeueing")
		w.requeue(result[1])
		select {
		case <-ctx.Done():
		case <-time.After(w.retryDelay):
		}
	}
}

// handle persists one raw payload. Malformed payloads are dropped.
func (w *DraftAnswerWorker) handle(ctx context.Context, raw string) error {
	var d repository.DraftAnswer
	if err := json.Unmarshal([]byte(raw), &d); err != nil {
		w.log.Error().Err(err).Msg("Unmarshal error, dropping payload")
		return nil
	}

	saved, err := w.store.SaveDraft(ctx, d)
	if err != nil {
		return err
	}
	if !saved {
		w.log.Debug().
			Int("user_id", d.UserID).
			Str("exam_id", d.ExamID).
			Str("question_id", d.QuestionID).
			Msg("Draft ignored: no open attempt")
	}
	return nil
}

// requeue puts raw back on the queue. It does not use the worker context,
// which is already cancelled when a persist fails during shutdown.
func (w *DraftAnswerWorker) requeue(raw string) {
	ctx, cancel := context.WithTimeout(context.Background(), DraftRequeueTimeout)
	defer cancel()
	if err := w.rdb.RPush(ctx, config.WorkerKey.PersistDraftAnswersQueue, raw).Err(); err != nil {
		w.log.Error().Err(err).Str("payload", raw).Msg("Requeue failed, draft answer lost")
	}
}

// drain persists whatever is left in the queue before shutdown.
func (w *DraftAnswerWorker) drain(ctx context.Context) {
	drained := 0
	for {
		raw, err := w.rdb.LPop(ctx, config.WorkerKey.PersistDraftAnswersQueue).Result()
		if err != nil {
			break
		}
		if err := w.handle(ctx, raw); err != nil {
			w.log.Error().Err(err).Msg("Drain persist error")
			w.requeue(raw)
			break
		}
		drained++
	}

	if drained > 0 {
		w.log.Info().Int("count", drained).Msg("Drained remaining items")
	}
}
