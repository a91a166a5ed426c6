package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stemsi/exstem-attempt/internal/config"
	"github.com/stemsi/exstem-attempt/internal/database"
	"github.com/stemsi/exstem-attempt/internal/logger"
	"github.com/stemsi/exstem-attempt/internal/service"
)

var letters = []string{"A", "B", "C", "D", "E"}

// seed creates an exam with questions and one NOT_STARTED session per
// student, then prints a student token for each session.
func main() {
	var (
		students  int
		questions int
		minutes   int
		tokenTTL  time.Duration
	)
	flag.IntVar(&students, "students", 5, "Number of student sessions to create")
	flag.IntVar(&questions, "questions", 10, "Number of questions in the exam")
	flag.IntVar(&minutes, "minutes", 60, "Exam duration in minutes")
	flag.DurationVar(&tokenTTL, "token-ttl", 6*time.Hour, "Lifetime of the printed student tokens")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	pool, err := database.NewPostgresPool(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer pool.Close()

	tokens := service.NewTokenService(cfg.JWTSecret)

	tx, err := pool.Begin(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to begin transaction")
	}
	defer tx.Rollback(ctx)

	var examID uuid.UUID
	title := fmt.Sprintf("Seed Exam %s", time.Now().Format("2006-01-02 15:04"))
	if err := tx.QueryRow(ctx,
		`INSERT INTO exams (title, duration_minutes) VALUES ($1, $2) RETURNING id`,
		title, minutes,
	).Scan(&examID); err != nil {
		log.Fatal().Err(err).Msg("Failed to create exam")
	}

	if err := insertQuestions(ctx, tx, examID, questions); err != nil {
		log.Fatal().Err(err).Msg("Failed to create questions")
	}

	type seeded struct {
		studentID int
		sessionID uuid.UUID
	}
	out := make([]seeded, 0, students)
	for i := 1; i <= students; i++ {
		var id uuid.UUID
		if err := tx.QueryRow(ctx,
			`INSERT INTO exam_sessions (exam_id, student_id, duration_seconds)
			 VALUES ($1, $2, $3) RETURNING id`,
			examID, i, minutes*60,
		).Scan(&id); err != nil {
			log.Fatal().Err(err).Int("student_id", i).Msg("Failed to create session")
		}
		out = append(out, seeded{studentID: i, sessionID: id})
	}

	if err := tx.Commit(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to commit seed")
	}

	fmt.Printf("=== Seeded exam %s (%d questions, %d minutes) ===\n", examID, questions, minutes)
	for _, s := range out {
		token, err := tokens.IssueStudentToken(s.studentID, 0, tokenTTL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to issue token")
		}
		fmt.Printf("student=%d session=%s token=%s\n", s.studentID, s.sessionID, token)
	}
}

func insertQuestions(ctx context.Context, tx pgx.Tx, examID uuid.UUID, n int) error {
	batch := &pgx.Batch{}
	for i := 0; i < n; i++ {
		options := make([]string, 4)
		for j := range options {
			options[j] = fmt.Sprintf("Option %s for question %d", letters[j], i+1)
		}
		optionsJSON, err := json.Marshal(options)
		if err != nil {
			return err
		}
		lettersJSON, err := json.Marshal(letters[:4])
		if err != nil {
			return err
		}
		batch.Queue(
			`INSERT INTO questions (exam_id, subject, question_text, options, option_letters, correct_option, order_num)
			 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			examID, "General", fmt.Sprintf("Question %d", i+1), optionsJSON, lettersJSON, i%4, i,
		)
	}
	return tx.SendBatch(ctx, batch).Close()
}
