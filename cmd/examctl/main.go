// examctl runs one exam session in the terminal against the REST Exam Service.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/stemsi/exstem-runtime/internal/config"
	"github.com/stemsi/exstem-runtime/internal/examservice"
	"github.com/stemsi/exstem-runtime/internal/logger"
	"github.com/stemsi/exstem-runtime/internal/model"
	"github.com/stemsi/exstem-runtime/internal/session"
)

const help = `Commands:
  start                 begin the attempt
  <A-D>                 answer the current question
  a <question_id> <A-D> answer a question by id
  n | p | j <index>     next, previous, jump (0-based)
  s | s!                submit, submit even with unanswered questions
  status                show time left and progress
  q                     quit (a real attempt stays resumable)`

func main() {
	examID := flag.String("exam", "", "Exam id")
	practice := flag.Bool("practice", false, "Run a practice attempt (graded locally)")
	flag.Parse()
	if *examID == "" {
		fmt.Fprintln(os.Stderr, "Error: -exam is required")
		os.Exit(2)
	}

	cfg := config.Load()
	log := logger.SetupTo(os.Stderr, "warn", "pretty")

	token, err := accessToken()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	ctx = examservice.WithAccessToken(ctx, token)

	client := examservice.NewHTTPClient(cfg.ExamServiceURL, &http.Client{Timeout: cfg.ExamServiceTimeout}, log)
	exam, err := client.GetExamByID(ctx, *examID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	ui := &display{exam: exam, done: make(chan struct{})}
	m, err := session.New(exam, client, session.Options{
		Mode:         model.ModeFromPractice(*practice),
		Location:     cfg.Location(),
		TickInterval: cfg.TickInterval,
		Logger:       log,
		OnChange:     ui.onChange,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer m.Close()

	if err := m.Open(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("%s (%d questions, %d minutes)\n%s\n", exam.Name, len(exam.Questions), exam.Duration, help)
	ui.status(m.Snapshot())

	lines := make(chan string)
	go func() {
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
		close(lines)
	}()

	for {
		fmt.Print("> ")
		select {
		case <-ctx.Done():
			fmt.Println()
			return
		case <-ui.done:
			return
		case line, ok := <-lines:
			if !ok {
				return
			}
			if quit := run(ctx, m, ui, strings.Fields(line)); quit {
				return
			}
		}
	}
}

func accessToken() (string, error) {
	if t := os.Getenv("EXAM_SERVICE_TOKEN"); t != "" {
		return t, nil
	}
	fd := int(syscall.Stdin)
	if !term.IsTerminal(fd) {
		return "", errors.New("EXAM_SERVICE_TOKEN is not set and stdin is not a terminal")
	}
	fmt.Print("Access token: ")
	b, err := term.ReadPassword(fd)
	fmt.Println()
	if err != nil {
		return "", fmt.Errorf("read token: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

func run(ctx context.Context, m *session.Machine, ui *display, args []string) bool {
	if len(args) == 0 {
		return false
	}

	var err error
	switch cmd := strings.ToLower(args[0]); cmd {
	case "q", "quit", "exit":
		return true
	case "help", "?":
		fmt.Println(help)
	case "status":
		ui.status(m.Snapshot())
	case "start":
		if err = m.Begin(ctx); err == nil {
			ui.question(m.Snapshot())
		}
	case "n", "p", "j":
		switch cmd {
		case "n":
			_, err = m.Next()
		case "p":
			_, err = m.Previous()
		default:
			if len(args) < 2 {
				err = errors.New("usage: j <index>")
				break
			}
			var i int
			if i, err = strconv.Atoi(args[1]); err == nil {
				_, err = m.Jump(i)
			}
		}
		if err == nil {
			ui.question(m.Snapshot())
		}
	case "a":
		if len(args) < 3 {
			err = errors.New("usage: a <question_id> <A-D>")
			break
		}
		err = answer(m, args[1], args[2])
	case "s", "s!":
		if cmd == "s!" {
			_, err = m.SubmitAnyway(ctx)
		} else {
			_, err = m.Submit(ctx)
		}
	default:
		snap := m.Snapshot()
		r, ok := snap.State.(session.Running)
		if len(args) != 1 || !ok {
			err = fmt.Errorf("unknown command %q, type help", args[0])
			break
		}
		err = answer(m, snap.Palette[r.CurrentQuestionIndex].QuestionID, args[0])
	}

	var confirm *session.ConfirmationRequiredError
	switch {
	case errors.As(err, &confirm):
		fmt.Printf("%d question(s) unanswered: %s\nType s! to submit anyway.\n",
			len(confirm.Unanswered), strings.Join(confirm.Unanswered, ", "))
	case err != nil:
		fmt.Printf("! %v\n", err)
	}
	return false
}

func answer(m *session.Machine, questionID, raw string) error {
	label, err := model.ParseOptionLabel(raw)
	if err != nil {
		return session.ErrInvalidOption
	}
	return m.SelectAnswer(questionID, label)
}
