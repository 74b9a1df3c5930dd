package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/database"
	"github.com/stemsi/exstem-runtime/internal/logger"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/repository"
)

func main() {
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	now := time.Now().In(cfg.Location())
	var (
		name      = flag.String("name", "Ujian Coba", "Exam name")
		date      = flag.String("date", now.Format("2006-01-02"), "Exam date (YYYY-MM-DD)")
		start     = flag.String("start", now.Format("15:04"), "Window start (HH:MM)")
		end       = flag.String("end", now.Add(2*time.Hour).Format("15:04"), "Window end (HH:MM)")
		duration  = flag.Int("duration", 90, "Attempt length in minutes")
		questions = flag.Int("questions", 10, "Number of questions")
	)
	flag.Parse()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	exam := &model.Exam{
		ID:        uuid.NewString(),
		Name:      *name,
		ExamDate:  *date,
		StartTime: *start,
		EndTime:   *end,
		Duration:  *duration,
		IsActive:  true,
	}
	for i := 0; i < *questions; i++ {
		a, b := i+2, i+3
		exam.Questions = append(exam.Questions, model.Question{
			ID:   fmt.Sprintf("%s-q%02d", exam.ID[:8], i+1),
			Text: fmt.Sprintf("Berapakah %d + %d?", a, b),
			Options: map[model.OptionLabel]string{
				model.OptionA: fmt.Sprint(a + b),
				model.OptionB: fmt.Sprint(a + b + 1),
				model.OptionC: fmt.Sprint(a * b),
				model.OptionD: fmt.Sprint(a - b),
			},
			CorrectAnswer: model.OptionA,
		})
	}
	if err := exam.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Generated exam is invalid")
	}

	fmt.Printf("=== Seeding exam %q with %d questions ===\n", exam.Name, len(exam.Questions))
	if err := repository.NewExamRepository(pool).Create(ctx, exam); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	fmt.Printf("\nSeed completed! Exam ID: %s (window %s %s-%s)\n", exam.ID, exam.ExamDate, exam.StartTime, exam.EndTime)
}
