// Package app wires configuration, storage, queues, services and handlers
// into one runnable application.
package app

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/wrapline/internal/common"
	"github.com/ternarybob/wrapline/internal/handlers"
	"github.com/ternarybob/wrapline/internal/interfaces"
	"github.com/ternarybob/wrapline/internal/models"
	"github.com/ternarybob/wrapline/internal/queue"
	"github.com/ternarybob/wrapline/internal/services/alerts"
	"github.com/ternarybob/wrapline/internal/services/crm"
	"github.com/ternarybob/wrapline/internal/services/extraction"
	"github.com/ternarybob/wrapline/internal/services/matcher"
	"github.com/ternarybob/wrapline/internal/services/reconcile"
	"github.com/ternarybob/wrapline/internal/services/recording"
	"github.com/ternarybob/wrapline/internal/services/scheduler"
	"github.com/ternarybob/wrapline/internal/services/tickets"
	"github.com/ternarybob/wrapline/internal/services/wrapups"
	badgerstore "github.com/ternarybob/wrapline/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	StorageManager interfaces.StorageManager
	QueueManager   *queue.Manager

	RecordingStore    interfaces.RecordingStore
	Matcher           interfaces.TranscriptMatcher
	ExtractionService interfaces.ExtractionService
	CRMService        interfaces.CRMService
	AlertService      interfaces.AlertService
	SchedulerService  interfaces.SchedulerService

	TicketService *tickets.Service
	WrapupService *wrapups.Service
	Worker        *reconcile.Worker
	Poller        *reconcile.Poller

	reconcilePool *queue.WorkerPool
	notesPool     *queue.WorkerPool

	// HTTP handlers
	APIHandler        *handlers.APIHandler
	ReconcileHandler  *handlers.ReconcileHandler
	CallHandler       *handlers.CallHandler
	StatusHandler     *handlers.StatusHandler
	DeadLetterHandler *handlers.DeadLetterHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initQueue(); err != nil {
		return nil, fmt.Errorf("failed to initialize queue: %w", err)
	}

	if err := app.initServices(); err != nil {
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	if err := app.registerSchedules(); err != nil {
		return nil, fmt.Errorf("failed to register schedules: %w", err)
	}

	logger.Info().
		Str("extraction_provider", cfg.Extraction.Provider).
		Bool("tickets_enabled", cfg.Tickets.Enabled).
		Bool("alerts_configured", app.AlertService.IsConfigured()).
		Msg("Application initialization complete")

	return app, nil
}

// initDatabase initializes the storage layer (Badger)
func (a *App) initDatabase() error {
	manager, err := badgerstore.NewManager(a.Logger, &a.Config.Storage.Badger)
	if err != nil {
		return err
	}
	a.StorageManager = manager
	return nil
}

// initQueue opens the queue database and wires the dead-letter failure hook
func (a *App) initQueue() error {
	queuePath := a.Config.Storage.Badger.QueuePath
	if queuePath == "" {
		queuePath = a.Config.Storage.Badger.Path + "-queue"
	}

	manager, err := queue.NewManager(
		queuePath,
		common.MustDuration(a.Config.Queue.VisibilityTimeout),
		a.Config.Queue.MaxAttempts,
		a.Logger,
	)
	if err != nil {
		return err
	}

	manager.SetFailureHook(a.onExhausted)
	a.QueueManager = manager
	return nil
}

// onExhausted records an exhausted queue message into the dead-letter store
// and alerts an operator
func (a *App) onExhausted(queueName string, msg *queue.Message, cause error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	dead := models.NewDeadLetterJob(queueName, msg.ID, msg.Type, msg.Payload, cause.Error(), string(debug.Stack()), msg.Attempts)
	if err := a.StorageManager.DeadLetterStorage().Save(ctx, dead); err != nil {
		a.Logger.Error().
			Err(err).
			Str("queue", queueName).
			Str("message_id", msg.ID).
			Msg("Failed to record dead letter")
	}

	a.AlertService.SendAlert(ctx,
		fmt.Sprintf("Dead letter on queue %s", queueName),
		fmt.Sprintf("Queue: %s\nMessage: %s\nType: %s\nAttempts: %d\nError: %v", queueName, msg.ID, msg.Type, msg.Attempts, cause))
}

// initServices builds the service graph bottom-up
func (a *App) initServices() error {
	a.AlertService = alerts.NewService(&a.Config.Alerts, a.Logger)

	a.RecordingStore = recording.NewClient(
		a.Config.Recording.BaseURL,
		a.Config.Recording.APIKey,
		recording.WithLogger(a.Logger),
		recording.WithTimeout(common.MustDuration(a.Config.Recording.RequestTimeout)),
		recording.WithRateLimit(a.Config.Recording.RateLimit),
	)

	a.Matcher = matcher.NewMatcher(
		a.RecordingStore,
		common.MustDuration(a.Config.Matcher.TimeWindow),
		a.Config.Matcher.SuffixDigits,
		a.Logger,
	)

	extractionSvc, err := extraction.NewExtractionService(&a.Config.Extraction, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create extraction service: %w", err)
	}
	a.ExtractionService = extractionSvc

	a.CRMService = crm.NewClient(
		a.Config.CRM.BaseURL,
		a.Config.CRM.APIKey,
		crm.WithLogger(a.Logger),
		crm.WithTimeout(common.MustDuration(a.Config.CRM.RequestTimeout)),
		crm.WithRateLimit(a.Config.CRM.RateLimit),
	)

	a.TicketService = tickets.NewService(a.StorageManager, a.CRMService, a.Config, a.Logger)
	a.WrapupService = wrapups.NewService(a.StorageManager, a.TicketService, a.CRMService, a.QueueManager, a.Config, a.Logger)

	a.Worker = reconcile.NewWorker(
		a.StorageManager,
		a.Matcher,
		a.ExtractionService,
		a.WrapupService,
		a.AlertService,
		a.QueueManager,
		a.Config,
		a.Logger,
	)

	a.Poller = reconcile.NewPoller(a.StorageManager, a.RecordingStore, a.Worker, a.Config, a.Logger)

	schedulerSvc, err := scheduler.NewService(a.Config.Schedules.Timezone, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	a.SchedulerService = schedulerSvc

	pollInterval := common.MustDuration(a.Config.Queue.PollInterval)

	a.reconcilePool = queue.NewWorkerPool(a.QueueManager, queue.QueueReconcile, a.Config.Queue.Concurrency, pollInterval, a.Config.Queue.RatePerMinute, a.Logger)
	a.Worker.RegisterHandlers(a.reconcilePool)

	a.notesPool = queue.NewWorkerPool(a.QueueManager, queue.QueueNotes, a.Config.Queue.Concurrency, pollInterval, a.Config.Queue.RatePerMinute, a.Logger)
	a.WrapupService.RegisterHandlers(a.notesPool)

	return nil
}

// initHandlers builds the HTTP handler set
func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler()
	a.ReconcileHandler = handlers.NewReconcileHandler(a.Worker, a.Poller, a.WrapupService, a.Logger)
	a.CallHandler = handlers.NewCallHandler(a.StorageManager, a.Worker, a.Logger)
	a.StatusHandler = handlers.NewStatusHandler(a.QueueManager, a.SchedulerService, a.Config, a.Logger)
	a.DeadLetterHandler = handlers.NewDeadLetterHandler(a.StorageManager.DeadLetterStorage(), a.QueueManager, a.Logger)
}

// registerSchedules installs the recurring pipeline jobs
func (a *App) registerSchedules() error {
	jobs := []struct {
		name        string
		schedule    string
		description string
		handler     func() error
	}{
		{
			name:        "reconcile",
			schedule:    a.Config.Schedules.Reconcile,
			description: "Process due transcript jobs",
			handler: func() error {
				_, err := a.Worker.Run(context.Background(), reconcile.TriggerFilter{})
				return err
			},
		},
		{
			name:        "missed-calls",
			schedule:    a.Config.Schedules.MissedCalls,
			description: "Discover calls the webhook path never saw",
			handler: func() error {
				_, err := a.Poller.Run(context.Background())
				return err
			},
		},
		{
			name:        "auto-complete",
			schedule:    a.Config.Schedules.AutoComplete,
			description: "Drive stale wrapups to a terminal state",
			handler: func() error {
				_, err := a.WrapupService.Sweep(context.Background())
				return err
			},
		},
		{
			name:        "stale-cleanup",
			schedule:    a.Config.Schedules.StaleCleanup,
			description: "Recover pending jobs with lost attempt messages",
			handler: func() error {
				_, err := a.Worker.ReapStale(context.Background())
				return err
			},
		},
	}

	for _, job := range jobs {
		if job.schedule == "" {
			continue
		}
		if err := a.SchedulerService.RegisterJob(job.name, job.schedule, job.description, job.handler); err != nil {
			return err
		}
	}
	return nil
}

// Start launches the worker pools and the scheduler
func (a *App) Start() error {
	a.reconcilePool.Start()
	a.notesPool.Start()

	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	a.Logger.Info().Msg("Pipeline started")
	return nil
}

// Close shuts everything down in reverse dependency order
func (a *App) Close() error {
	if a.SchedulerService != nil && a.SchedulerService.IsRunning() {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Scheduler stop failed")
		}
	}

	if a.reconcilePool != nil {
		a.reconcilePool.Stop()
	}
	if a.notesPool != nil {
		a.notesPool.Stop()
	}

	if a.QueueManager != nil {
		if err := a.QueueManager.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Queue close failed")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("storage close failed: %w", err)
		}
	}

	a.Logger.Info().Msg("Application closed")
	return nil
}

// Healthy reports basic liveness for the health endpoint
func (a *App) Healthy() bool {
	return a.StorageManager != nil && a.QueueManager != nil
}
