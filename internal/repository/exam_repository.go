package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stemsi/exstem-runtime/internal/model"
)

// ExamRepository reads exam definitions and their answer keys.
type ExamRepository struct {
	pool *pgxpool.Pool
}

// NewExamRepository creates a new ExamRepository.
func NewExamRepository(pool *pgxpool.Pool) *ExamRepository {
	return &ExamRepository{pool: pool}
}

// GetByID retrieves an exam with its ordered questions.
// Returns model.ErrExamNotFound when no row matches.
func (r *ExamRepository) GetByID(ctx context.Context, id string) (*model.Exam, error) {
	e := &model.Exam{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, name, description,
		        to_char(exam_date, 'YYYY-MM-DD'),
		        to_char(start_time, 'HH24:MI:SS'),
		        to_char(end_time, 'HH24:MI:SS'),
		        duration_minutes, is_active
		 FROM exams WHERE id = $1`, id,
	).Scan(&e.ID, &e.Name, &e.Description, &e.ExamDate, &e.StartTime, &e.EndTime,
		&e.Duration, &e.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, model.ErrExamNotFound
		}
		return nil, fmt.Errorf("get exam: %w", err)
	}

	questions, err := r.listQuestions(ctx, id)
	if err != nil {
		return nil, err
	}
	e.Questions = questions
	e.TotalQuestions = len(questions)
	return e, nil
}

func (r *ExamRepository) listQuestions(ctx context.Context, examID string) ([]model.Question, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, question_text, option_a, option_b, option_c, option_d,
		        correct_answer, description, previous_year_tag
		 FROM questions WHERE exam_id = $1
		 ORDER BY order_num, id`, examID,
	)
	if err != nil {
		return nil, fmt.Errorf("list questions: %w", err)
	}
	defer rows.Close()

	var questions []model.Question
	for rows.Next() {
		var (
			q                  model.Question
			optA, optB, optC   string
			optD, correctLabel string
		)
		if err := rows.Scan(&q.ID, &q.Text, &optA, &optB, &optC, &optD,
			&correctLabel, &q.Description, &q.PreviousYearTag); err != nil {
			return nil, err
		}
		q.Options = map[model.OptionLabel]string{
			model.OptionA: optA,
			model.OptionB: optB,
			model.OptionC: optC,
			model.OptionD: optD,
		}
		q.CorrectAnswer = model.OptionLabel(correctLabel)
		questions = append(questions, q)
	}
	return questions, rows.Err()
}

// Create inserts an exam and its questions in one transaction. Question order
// follows the slice.
func (r *ExamRepository) Create(ctx context.Context, e *model.Exam) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO exams (id, name, description, exam_date, start_time, end_time, duration_minutes, is_active)
		 VALUES ($1, $2, $3, $4::date, $5::time, $6::time, $7, $8)`,
		e.ID, e.Name, e.Description, e.ExamDate, e.StartTime, e.EndTime, e.Duration, e.IsActive)
	if err != nil {
		return fmt.Errorf("insert exam: %w", err)
	}

	batch := &pgx.Batch{}
	for i, q := range e.Questions {
		batch.Queue(
			`INSERT INTO questions (id, exam_id, order_num, question_text,
			                        option_a, option_b, option_c, option_d,
			                        correct_answer, description, previous_year_tag)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
			q.ID, e.ID, i, q.Text,
			q.Options[model.OptionA], q.Options[model.OptionB], q.Options[model.OptionC], q.Options[model.OptionD],
			string(q.CorrectAnswer), q.Description, q.PreviousYearTag)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("insert questions: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	e.TotalQuestions = len(e.Questions)
	return nil
}
