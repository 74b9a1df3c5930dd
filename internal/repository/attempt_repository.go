package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-runtime/internal/model"
)

var (
	ErrAttemptNotStarted = errors.New("attempt has not been started")
	ErrAttemptSubmitted  = errors.New("attempt already submitted")
)

// Attempt is one user's real attempt at an exam.
type Attempt struct {
	ExamID      string
	UserID      int
	StartedAt   time.Time
	SubmittedAt *time.Time
}

// AttemptRepository records real attempts and their submitted answers.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Get returns the attempt for (examID, userID), or pgx.ErrNoRows.
func (r *AttemptRepository) Get(ctx context.Context, examID string, userID int) (*Attempt, error) {
	a := &Attempt{}
	err := r.pool.QueryRow(ctx,
		`SELECT exam_id, user_id, started_at, submitted_at
		 FROM exam_attempts WHERE exam_id = $1 AND user_id = $2`, examID, userID,
	).Scan(&a.ExamID, &a.UserID, &a.StartedAt, &a.SubmittedAt)
	if err != nil {
		return nil, err
	}
	return a, nil
}

// HasSubmitted reports whether the user already submitted a real attempt.
func (r *AttemptRepository) HasSubmitted(ctx context.Context, examID string, userID int) (bool, error) {
	var submitted bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM exam_attempts
		   WHERE exam_id = $1 AND user_id = $2 AND submitted_at IS NOT NULL
		 )`, examID, userID,
	).Scan(&submitted)
	return submitted, err
}

// Begin creates the attempt if missing and returns the stored row (idempotent).
func (r *AttemptRepository) Begin(ctx context.Context, examID string, userID int) (*Attempt, error) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO exam_attempts (exam_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (exam_id, user_id) DO NOTHING`, examID, userID)
	if err != nil {
		return nil, fmt.Errorf("insert attempt: %w", err)
	}
	return r.Get(ctx, examID, userID)
}

// SaveDraft upserts one autosaved answer. Answers for unknown, unstarted or
// already submitted attempts are ignored and reported as not saved.
func (r *AttemptRepository) SaveDraft(ctx context.Context, d DraftAnswer) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_answers (exam_id, user_id, question_id, answer)
		 SELECT a.exam_id, a.user_id, q.id, $4
		 FROM exam_attempts a
		 JOIN questions q ON q.exam_id = a.exam_id AND q.id = $3
		 WHERE a.exam_id = $1 AND a.user_id = $2 AND a.submitted_at IS NULL
		 ON CONFLICT (exam_id, user_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, updated_at = NOW()`,
		d.ExamID, d.UserID, d.QuestionID, d.Answer)
	if err != nil {
		return false, fmt.Errorf("save draft: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Submit upserts every answer and closes the attempt in one transaction, then
// returns what was recorded.
func (r *AttemptRepository) Submit(ctx context.Context, examID string, userID int, answers []model.AnswerSubmission) ([]model.RecordedAnswer, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var submittedAt *time.Time
	err = tx.QueryRow(ctx,
		`SELECT submitted_at FROM exam_attempts
		 WHERE exam_id = $1 AND user_id = $2
		 FOR UPDATE`, examID, userID,
	).Scan(&submittedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAttemptNotStarted
		}
		return nil, fmt.Errorf("lock attempt: %w", err)
	}
	if submittedAt != nil {
		return nil, ErrAttemptSubmitted
	}

	questionIDs := make([]string, 0, len(answers))
	values := make([]string, 0, len(answers))
	for _, a := range answers {
		questionIDs = append(questionIDs, a.QuestionID)
		values = append(values, a.Answer)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO attempt_answers (exam_id, user_id, question_id, answer)
		 SELECT $1, $2, u.question_id, u.answer
		 FROM UNNEST($3::text[], $4::text[]) AS u (question_id, answer)
		 JOIN questions q ON q.id = u.question_id AND q.exam_id = $1
		 ON CONFLICT (exam_id, user_id, question_id) DO UPDATE
		 SET answer = EXCLUDED.answer, updated_at = NOW()`,
		examID, userID, questionIDs, values)
	if err != nil {
		return nil, fmt.Errorf("upsert answers: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`UPDATE exam_attempts SET submitted_at = NOW()
		 WHERE exam_id = $1 AND user_id = $2`, examID, userID); err != nil {
		return nil, fmt.Errorf("close attempt: %w", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT question_id, answer FROM attempt_answers
		 WHERE exam_id = $1 AND user_id = $2`, examID, userID)
	if err != nil {
		return nil, fmt.Errorf("read recorded answers: %w", err)
	}
	var recorded []model.RecordedAnswer
	for rows.Next() {
		var ra model.RecordedAnswer
		if err := rows.Scan(&ra.QuestionID, &ra.UserAnswer); err != nil {
			rows.Close()
			return nil, err
		}
		recorded = append(recorded, ra)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return recorded, nil
}
