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
	"github.com/rs/zerolog"

	"github.com/scrollu/portal-api/internal/config"
	"github.com/scrollu/portal-api/internal/database"
	"github.com/scrollu/portal-api/internal/grading"
	"github.com/scrollu/portal-api/internal/handler"
	"github.com/scrollu/portal-api/internal/middleware"
	"github.com/scrollu/portal-api/internal/models"
	"github.com/scrollu/portal-api/internal/repository"
	"github.com/scrollu/portal-api/internal/router"
	"github.com/scrollu/portal-api/internal/service"
	"github.com/scrollu/portal-api/pkg/ai"
	sandbox "github.com/scrollu/portal-api/pkg/docker"
	"github.com/scrollu/portal-api/pkg/feedback"
	"github.com/scrollu/portal-api/pkg/plagiarism"
	"github.com/scrollu/portal-api/pkg/transcript"
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

	if err := db.AutoMigrate(
		&models.Student{},
		&models.Assignment{},
		&models.Submission{},
		&models.GradeHistory{},
		&models.ActivityLog{},
	); err != nil {
		log.Fatalf("failed to migrate database: %v", err)
	}

	redisClient, err := database.ConnectRedis(cfg.RedisURL)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer redisClient.Close()

	var natsConn *nats.Conn
	if cfg.NATSURL != "" {
		natsConn, err = nats.Connect(cfg.NATSURL)
		if err != nil {
			log.Fatalf("failed to connect to nats: %v", err)
		}
		defer natsConn.Drain()
	}

	var evaluator ai.Evaluator
	switch {
	case cfg.AIProvider == "anthropic" && cfg.AnthropicAPIKey != "":
		anthropicEvaluator, err := ai.NewAnthropicEvaluator(ai.AnthropicConfig{APIKey: cfg.AnthropicAPIKey})
		if err != nil {
			log.Fatalf("failed to create evaluator: %v", err)
		}
		evaluator = anthropicEvaluator
	case cfg.OpenAIAPIKey != "":
		openaiEvaluator, err := ai.NewOpenAIEvaluator(ai.OpenAIConfig{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("failed to create evaluator: %v", err)
		}
		evaluator = openaiEvaluator
	default:
		logger.Warn().Msg("no inference backend configured, probabilistic grading will degrade to human review")
	}

	var executor sandbox.Executor
	dockerExecutor, err := sandbox.NewDockerExecutor(sandbox.Config{
		Host:          cfg.DockerHost,
		Timeout:       cfg.ExecutionTimeout,
		MemoryLimitMB: int64(cfg.CodeRunMemoryMB),
		CPUShares:     int64(cfg.CodeRunCPUShares),
		Logger:        logger,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("docker unavailable, code submissions will be graded without execution")
	} else {
		executor = dockerExecutor
	}

	var detector plagiarism.Detector
	if cfg.PlagiarismURL != "" {
		httpDetector, err := plagiarism.NewHTTPDetector(plagiarism.Config{
			BaseURL:  cfg.PlagiarismURL,
			CacheTTL: cfg.PlagiarismCacheTTL,
			Logger:   logger,
		}, redisClient)
		if err != nil {
			log.Fatalf("failed to create plagiarism detector: %v", err)
		}
		detector = httpDetector
	} else {
		logger.Warn().Msg("no plagiarism detector configured, essays and code will not be screened")
	}

	var generator feedback.Generator
	if cfg.OpenAIAPIKey != "" {
		openaiGenerator, err := feedback.NewOpenAIGenerator(feedback.Config{
			APIKey: cfg.OpenAIAPIKey,
			Model:  cfg.OpenAIModel,
			Logger: logger,
		})
		if err != nil {
			log.Fatalf("failed to create feedback generator: %v", err)
		}
		generator = openaiGenerator
	}

	var updater transcript.Updater = transcript.Noop{}
	if natsConn != nil {
		natsUpdater, err := transcript.NewNATSUpdater(natsConn, "", logger)
		if err != nil {
			log.Fatalf("failed to create transcript updater: %v", err)
		}
		updater = natsUpdater
	}

	validate := validator.New(validator.WithRequiredStructEnabled())

	assignmentRepo := repository.NewAssignmentRepository(db)
	submissionRepo := repository.NewSubmissionRepository(db)
	historyRepo := repository.NewGradeHistoryRepository(db)
	activityRepo := repository.NewActivityLogRepository(db)

	strategies := grading.NewRegistry(evaluator, executor, logger, grading.Config{
		ExecutionTimeout: cfg.ExecutionTimeout,
		MemoryLimitMB:    int64(cfg.CodeRunMemoryMB),
		CPUShares:        int64(cfg.CodeRunCPUShares),
	})

	activityService := service.NewActivityService(activityRepo, logger)
	eventBus := service.NewGradingEventBus(natsConn, "", logger)
	locks := service.NewSubmissionLocks()

	gradingService := service.NewGradingService(
		submissionRepo,
		assignmentRepo,
		historyRepo,
		strategies,
		detector,
		generator,
		updater,
		activityService,
		eventBus,
		locks,
		logger,
		service.GradingConfig{
			PassTimeout:           cfg.GradingPassTimeout,
			LockWait:              cfg.GradingLockWait,
			FeedbackEncouragement: cfg.FeedbackEncouraging,
		},
	)
	bulkService := service.NewBulkGradingService(gradingService, eventBus, validate, cfg.BulkGradingWorkers, logger)
	manualService := service.NewManualGradingService(
		submissionRepo,
		assignmentRepo,
		historyRepo,
		updater,
		activityService,
		validate,
		locks,
		cfg.GradingLockWait,
		logger,
	)

	gradingHandler := handler.NewGradingHandler(gradingService, bulkService, manualService, eventBus, logger)

	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ServerHeader: cfg.AppName,
	})

	middleware.Register(app, middleware.Config{Logger: &logger})
	router.Register(app, cfg, router.Dependencies{
		GradingHandler: gradingHandler,
		JWTMiddleware:  middleware.JWTProtected(cfg.JWTSecret),
	})

	go func() {
		if err := app.Listen(cfg.HTTPAddress()); err != nil {
			log.Fatalf("failed to start server: %v", err)
		}
	}()

	waitForShutdown(app)
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
