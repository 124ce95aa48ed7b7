package main

import (
	"time"

	"github.com/pixlabel/backend/internal/config"
	"github.com/pixlabel/backend/internal/handlers"
	"github.com/pixlabel/backend/internal/models"
	"github.com/pixlabel/backend/internal/services"
	"github.com/pixlabel/backend/internal/storage"
	"github.com/pixlabel/backend/internal/utils"
	"github.com/pixlabel/backend/pkg/logger"
)

// appServices holds all initialized services and handlers needed by the application.
type appServices struct {
	taskQueue   services.TaskQueue
	worker      *services.Worker
	maintenance *services.MaintenanceScheduler

	authHandler      *handlers.AuthHandler
	imageHandler     *handlers.ImageHandler
	projectHandler   *handlers.AnnotationProjectHandler
	exportHandler    *handlers.ExportHandler
	systemLogHandler *handlers.SystemLogHandler
	userHandler      *handlers.UserHandler
	dashboardHandler *handlers.DashboardHandler
	healthHandler    *handlers.HealthHandler
	metricsHandler   *handlers.MetricsHandler
}

// bootstrap initializes all application dependencies: database, storage, services, schedulers.
func bootstrap(cfg *config.Config) *appServices {
	utils.SetJWTSecret(cfg.JWT.Secret)

	if err := models.InitDB(&cfg.Database, cfg.Log.Level == "debug"); err != nil {
		logger.Fatalf("Failed to connect to database: %v", err)
	}
	if err := models.AutoMigrate(); err != nil {
		logger.Fatalf("Failed to migrate database: %v", err)
	}
	db := models.GetDB()

	if err := models.SeedAdmin(db, &cfg.Admin); err != nil {
		logger.Warn().Err(err).Msg("Failed to seed admin user")
	}

	services.InitSystemLogger(db)

	store, err := storage.New(&cfg.Storage)
	if err != nil {
		logger.Fatalf("Failed to initialize storage: %v", err)
	}
	fetchTimeout := time.Duration(cfg.Export.FetchTimeoutSeconds) * time.Second
	fetcher := storage.NewHTTPFetcher(fetchTimeout)

	access := services.NewProjectAccess(db)
	imageService := services.NewImageService(db, store)
	projectService := services.NewAnnotationProjectService(db, access, imageService)
	annotationService := services.NewAnnotationService(db, access)
	exportService := services.NewExportService(db, access, store, fetcher, services.ExportOptions{
		TempDir:      cfg.Export.TempDir,
		Workers:      cfg.Export.Workers,
		FetchTimeout: fetchTimeout,
	})

	// Export queue: Redis when enabled, otherwise a goroutine in this process
	taskQueue := services.InitTaskQueue(cfg)
	jobService := services.NewExportJobService(db, access, exportService, taskQueue)
	if syncQueue, ok := taskQueue.(*services.SyncQueue); ok {
		syncQueue.SetProcessor(jobService.Process)
	}

	var worker *services.Worker
	if taskQueue.IsAsync() {
		worker = services.NewWorker(&cfg.Redis, cfg.Export.Workers)
		if worker != nil {
			worker.SetProcessor(jobService.Process)
			if err := worker.Start(); err != nil {
				logger.Error().Err(err).Msg("Failed to start export worker")
			}
		}
	}

	maintenance := services.NewMaintenanceScheduler(db, services.MaintenanceConfig{
		ExportTempDir:    cfg.Export.TempDir,
		StaleAfter:       time.Duration(cfg.Export.StaleAfterHours) * time.Hour,
		LogRetentionDays: cfg.SystemLog.RetentionDays,
	})
	if err := maintenance.Start(); err != nil {
		logger.Error().Err(err).Msg("Failed to start maintenance scheduler")
	}

	return &appServices{
		taskQueue:        taskQueue,
		worker:           worker,
		maintenance:      maintenance,
		authHandler:      handlers.NewAuthHandler(services.NewAuthService(db, &cfg.JWT)),
		imageHandler:     handlers.NewImageHandler(imageService),
		projectHandler:   handlers.NewAnnotationProjectHandler(projectService, annotationService),
		exportHandler:    handlers.NewExportHandler(exportService, jobService),
		systemLogHandler: handlers.NewSystemLogHandler(services.NewSystemLogService(db)),
		userHandler:      handlers.NewUserHandler(services.NewUserService(db)),
		dashboardHandler: handlers.NewDashboardHandler(services.NewDashboardService(db)),
		healthHandler:    handlers.NewHealthHandler(db),
		metricsHandler:   handlers.NewMetricsHandler(db),
	}
}

// shutdown stops schedulers first, then lets running exports finish.
func (s *appServices) shutdown() {
	s.maintenance.Stop()
	logger.Info().Msg("Maintenance scheduler stopped")

	if s.worker != nil {
		s.worker.Stop()
	}
	if s.taskQueue != nil {
		if err := s.taskQueue.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close task queue")
		}
	}
}
