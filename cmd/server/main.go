package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/subosito/gotenv"
	"go.uber.org/zap"

	"github.com/kaiwen/docverify/internal/application/dispatcher"
	"github.com/kaiwen/docverify/internal/application/service"
	"github.com/kaiwen/docverify/internal/config"
	"github.com/kaiwen/docverify/internal/infrastructure/datasink"
	"github.com/kaiwen/docverify/internal/infrastructure/external/ocr"
	"github.com/kaiwen/docverify/internal/infrastructure/external/openai"
	"github.com/kaiwen/docverify/internal/infrastructure/persistence/repository"
	"github.com/kaiwen/docverify/internal/infrastructure/persistence/sqlite"
	"github.com/kaiwen/docverify/internal/infrastructure/storage"
	httpapi "github.com/kaiwen/docverify/internal/interfaces/http"
	"github.com/kaiwen/docverify/internal/verification"
	"github.com/kaiwen/docverify/internal/webhook"
	"github.com/kaiwen/docverify/internal/worker"
	"github.com/kaiwen/docverify/pkg/database"
	"github.com/kaiwen/docverify/pkg/utils"

	"github.com/kaiwen/docverify/internal/domain/event"
)

// maxUploadSize bounds uploads accepted by the ingest service
const maxUploadSize = 50 << 20

func main() {
	// Local development credentials; missing .env is fine in production
	_ = gotenv.Load()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger, err := utils.NewLogger(utils.LoggerConfig{
		Level:      cfg.Logger.Level,
		OutputPath: cfg.Logger.OutputPath,
		Format:     cfg.Logger.Format,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting document verification service",
		zap.String("version", "1.0.0"),
		zap.Int("port", cfg.Server.Port))

	// Database
	db, err := database.New(database.Config{
		Path:            cfg.Database.Path,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	}, logger)
	if err != nil {
		logger.Fatal("Failed to initialize database", zap.Error(err))
	}
	defer db.Close()

	migrator := database.NewMigrator(db, logger)
	if err := migrator.Run(); err != nil {
		logger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	txDB := sqlite.NewDB(db.DB, logger)

	// Repositories
	docRepo := repository.NewDocumentRepository(db.DB, logger)
	templateRepo := repository.NewTemplateRepository(db.DB, logger)
	verificationRepo := repository.NewVerificationRepository(db.DB, logger)
	taskRepo := repository.NewTaskRepository(db.DB, logger)
	webhookRepo := repository.NewWebhookRepository(db.DB, logger)

	// Infrastructure
	objectStorage, err := storage.NewFileStorage(
		cfg.Storage.BaseDir,
		cfg.Storage.BaseURL,
		[]byte(cfg.Storage.SigningKey),
		logger,
	)
	if err != nil {
		logger.Fatal("Failed to initialize object storage", zap.Error(err))
	}

	ocrEngine := ocr.NewTesseractEngine(cfg.OCR.Languages, logger)
	contentValidator := openai.NewValidator(
		cfg.OpenAI.APIKey,
		cfg.OpenAI.Model,
		cfg.OpenAI.Temperature,
		logger,
	)
	sink := datasink.NewSink(db.DB, logger)

	// Event dispatching and webhook fan-out
	kv := utils.NewKVLogger(logger)
	disp := dispatcher.NewDispatcher(dispatcher.WithLogger(kv))

	notifier := webhook.NewNotifier(webhookRepo, logger)
	for _, eventType := range []event.Type{
		event.TypeDocumentUploaded,
		event.TypeDocumentDuplicate,
		event.TypeDocumentProcessed,
		event.TypeDocumentArchived,
		event.TypeVerificationCompleted,
		event.TypeManualReviewRequired,
		event.TypeReviewDecisionRecorded,
		event.TypeTaskFailed,
	} {
		disp.SubscribeNamed(eventType, "webhook_notifier", notifier.Handler())
	}

	// Application services
	decider := verification.NewDecider(verification.DefaultPolicy())

	taskService := service.NewTaskService(taskRepo, kv)
	ingestService := service.NewIngestService(docRepo, objectStorage, taskService, disp, maxUploadSize, kv)
	processingService := service.NewProcessingService(
		docRepo,
		templateRepo,
		verificationRepo,
		objectStorage,
		ocrEngine,
		contentValidator,
		sink,
		decider,
		disp,
		txDB,
		kv,
	)
	reviewService := service.NewReviewService(verificationRepo, docRepo, taskService, disp, txDB, kv)
	documentService := service.NewDocumentService(docRepo, verificationRepo, objectStorage, kv)
	templateService := service.NewTemplateService(templateRepo, kv)

	// Background workers
	retry := worker.NewRetryStrategy()
	manager := worker.NewManager(logger)
	for i := 0; i < cfg.Worker.Concurrency; i++ {
		manager.Register(worker.NewTaskProcessor(taskRepo, processingService, retry, disp, logger,
			worker.WithPollInterval(cfg.Worker.PollInterval),
			worker.WithTimeLimits(cfg.Worker.SoftTimeLimit, cfg.Worker.HardTimeLimit)))
	}
	manager.Register(worker.NewMaintenanceWorker(taskRepo, docRepo, objectStorage, retry, disp, logger,
		worker.WithSweepInterval(cfg.Retention.SweepInterval),
		worker.WithRetention(cfg.Retention.DocumentAge)))
	manager.Register(worker.NewWebhookRetryWorker(notifier, logger))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.StartAll(ctx); err != nil {
		logger.Fatal("Failed to start workers", zap.Error(err))
	}

	// HTTP server
	server := httpapi.NewServer(
		httpapi.ServerConfig{
			Host:         cfg.Server.Host,
			Port:         cfg.Server.Port,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
		},
		httpapi.Services{
			Ingest:    ingestService,
			Documents: documentService,
			Reviews:   reviewService,
			Tasks:     taskService,
			Templates: templateService,
			Webhooks:  webhookRepo,
			Content:   objectStorage,
			Sink:      sink,
		},
		kv,
	)

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.Start(ctx)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("Shutdown signal received", zap.String("signal", sig.String()))
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server exited", zap.Error(err))
		}
	}

	cancel()
	manager.StopAll()
	if err := disp.Close(); err != nil {
		logger.Error("Dispatcher close failed", zap.Error(err))
	}

	logger.Info("Server exited")
}
