package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/classmark/classmark-api/internal/config"
	"github.com/classmark/classmark-api/internal/database"
	"github.com/classmark/classmark-api/internal/handler"
	"github.com/classmark/classmark-api/internal/middleware"
	"github.com/classmark/classmark-api/internal/models"
	"github.com/classmark/classmark-api/internal/repository"
	"github.com/classmark/classmark-api/internal/router"
	"github.com/classmark/classmark-api/internal/service"
	"github.com/classmark/classmark-api/pkg/ai"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	db, err := database.ConnectPostgres(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}

	if err := db.AutoMigrate(&models.Student{}, &models.Exercise{}, &models.Question{}, &models.Submission{}, &models.Answer{}); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	var grader ai.Grader
	if cfg.OpenAIAPIKey != "" {
		openaiGrader, err := ai.NewOpenAIGrader(ai.OpenAIConfig{
			APIKey:  cfg.OpenAIAPIKey,
			Model:   cfg.OpenAIModel,
			Timeout: cfg.Grading.OracleTimeout,
			Logger:  logger,
		})
		if err != nil {
			log.Fatalf("failed to create openai grader: %v", err)
		}
		grader = openaiGrader
	} else {
		logger.Warn().Msg("no openai api key configured; batch grading is disabled")
	}

	var events service.EventPublisher
	if cfg.NATSURL != "" {
		natsConn, err := nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Close()
		events = service.NewNATSPublisher(natsConn, logger)
	}

	cache, err := connectCache(cfg)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	exerciseRepo := repository.NewExerciseRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	studentRepo := repository.NewStudentRepository(db)

	exerciseService := service.NewExerciseService(exerciseRepo, validate, logger)
	submissionService := service.NewSubmissionService(submissionRepo, exerciseRepo, studentRepo, validate, cache, cfg.ResultCacheTTL, logger)
	gradingService := service.NewGradingService(exerciseRepo, submissionRepo, grader, validate, events, cfg.Grading, logger)

	exerciseHandler := handler.NewExerciseHandler(exerciseService, validate, logger)
	submissionHandler := handler.NewSubmissionHandler(submissionService, validate, logger)
	gradingHandler := handler.NewGradingHandler(gradingService, validate, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		ExerciseHandler:   exerciseHandler,
		SubmissionHandler: submissionHandler,
		GradingHandler:    gradingHandler,
		JWTMiddleware:     middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
}

// connectCache returns nil when no redis url is configured; result caching is
// then skipped.
func connectCache(cfg config.Config) (*redis.Client, error) {
	if cfg.RedisURL == "" {
		return nil, nil
	}
	return database.ConnectRedis(cfg.RedisURL)
}

func waitForShutdown(app *fiber.App) {
	shutdownCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-shutdownCtx.Done()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	log.Println("server stopped")
}
