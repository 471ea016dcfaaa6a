package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/newrelic/go-agent/v3/newrelic"
	"github.com/redis/go-redis/v9"

	"ecard/internal/app"
	"ecard/internal/config"
	"ecard/internal/domain"
	"ecard/internal/handler"
	"ecard/internal/rabbitmq"
	internalRedis "ecard/internal/redis"
	"ecard/internal/repository"
	"ecard/internal/repository/memory"
	"ecard/internal/repository/postgres"
	"ecard/internal/service"
)

// ledger bundles the store-backed repositories the services depend on.
type ledger struct {
	payments  repository.PaymentRepository
	ecards    repository.ECardRepository
	crossings repository.CrossingRepository
	events    repository.EventRepository
	ping      func(ctx context.Context) error
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration.
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Initialize New Relic FIRST (before database so we can instrument DB).
	var nrApp *newrelic.Application
	if cfg.NewRelic.Enabled && cfg.NewRelic.LicenseKey != "" {
		nrApp, err = newrelic.NewApplication(
			newrelic.ConfigAppName(cfg.NewRelic.AppName),
			newrelic.ConfigLicense(cfg.NewRelic.LicenseKey),
			newrelic.ConfigDistributedTracerEnabled(true),
			newrelic.ConfigAppLogForwardingEnabled(true),
		)
		if err != nil {
			logger.Warn("failed to initialize New Relic", "error", err)
		} else {
			logger.Info("New Relic enabled", "app", cfg.NewRelic.AppName)
		}
	}

	// Ledger store.
	var store ledger
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem := memory.NewStore()
		store = ledger{payments: mem.Payments(), ecards: mem.ECards(), crossings: mem.Crossings(), events: mem.Events()}
		logger.Warn("using in-memory ledger store; data is lost on restart")
	default:
		db, err := app.NewDatabase(ctx, cfg.Database, nrApp)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		store = postgresLedger(db)
		logger.Info("connected to PostgreSQL", "auto_migrate", cfg.Database.AutoMigrate)
	}

	// Redis is optional; without it locks are in-process and the read cache is off.
	var redisClient *redis.Client
	if cfg.Redis.Addr != "" {
		redisClient, err = app.NewRedisClient(ctx, cfg.Redis, nrApp)
		if err != nil {
			logger.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer redisClient.Close()
		logger.Info("connected to Redis", "addr", cfg.Redis.Addr)
	}

	// Event publisher, falling back to logging when the broker is unreachable.
	var publisher rabbitmq.Publisher = rabbitmq.NewFallbackProducer(logger)
	if cfg.RabbitMQ.URL != "" {
		producer, err := rabbitmq.NewEventProducer(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Warn("failed to connect to RabbitMQ; events will be logged only", "error", err)
		} else {
			publisher = producer
		}
	}
	defer publisher.Close()

	// Wire dependencies.
	svc := wireServices(store, redisClient, publisher, cfg, logger)
	server := wireServer(svc, store, redisClient, nrApp, cfg)

	// Background jobs.
	var scheduler *app.Scheduler
	if cfg.Scheduler.Enabled {
		jobs := app.NewJobs(svc.reconciler, cfg.Scheduler.BatchSize, time.Minute, logger)
		scheduler = app.NewScheduler(jobs, logger, cfg.Scheduler)
		if err := scheduler.Start(); err != nil {
			logger.Error("failed to start scheduler", "error", err)
			os.Exit(1)
		}
	}

	// Inbound collaborator messages.
	if cfg.RabbitMQ.ConsumerEnabled && cfg.RabbitMQ.URL != "" {
		consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQ.URL, logger)
		if err != nil {
			logger.Error("failed to connect collaborator consumer", "error", err)
			os.Exit(1)
		}
		defer consumer.Close()

		handlers := app.NewCollaboratorHandlers(svc.payments, svc.ecards, cfg.ECard.OperationTimeout*2, logger)
		if err := consumer.ConsumeWithBindings(cfg.RabbitMQ.CollaboratorExchange, cfg.RabbitMQ.CollaboratorQueue, handlers.Bindings()); err != nil {
			logger.Error("failed to start collaborator consumer", "error", err)
			os.Exit(1)
		}
		logger.Info("consuming collaborator messages", "queue", cfg.RabbitMQ.CollaboratorQueue)
	}

	// Start server in goroutine.
	go func() {
		logger.Info("starting server", "port", cfg.Server.Port, "store", cfg.StoreDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down server")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if scheduler != nil {
		select {
		case <-scheduler.Stop().Done():
		case <-shutdownCtx.Done():
			logger.Warn("scheduled jobs still running at shutdown")
		}
	}
	if nrApp != nil {
		nrApp.Shutdown(5 * time.Second)
	}

	logger.Info("server exited")
}

func postgresLedger(db *sql.DB) ledger {
	return ledger{
		payments:  postgres.NewPaymentRepository(db),
		ecards:    postgres.NewECardRepository(db),
		crossings: postgres.NewCrossingRepository(db),
		events:    postgres.NewEventRepository(db),
		ping:      db.PingContext,
	}
}

type services struct {
	payments     *service.PaymentService
	ecards       *service.ECardService
	verification *service.VerificationService
	reconciler   *service.Reconciler
}

// wireServices builds the lifecycle services on top of the chosen store.
func wireServices(store ledger, redisClient *redis.Client, publisher rabbitmq.Publisher, cfg *config.Config, logger *slog.Logger) services {
	var locker repository.Locker = memory.NewLocker()
	var cache service.ECardCache
	if redisClient != nil {
		locker = internalRedis.NewLockStore(redisClient, cfg.ECard.LockTTL)
		cache = internalRedis.NewCacheStore(redisClient)
	}

	notifier := service.NewNotifier(logger,
		service.MetricsSink{},
		service.NewBrokerSink(publisher),
		service.NewNotificationService(logger),
	)

	methods := make([]domain.PaymentMethod, 0, len(cfg.ECard.Methods))
	for _, m := range cfg.ECard.Methods {
		methods = append(methods, domain.PaymentMethod(m))
	}
	svcCfg := service.Config{
		Fee:              domain.Money(cfg.ECard.Fee),
		Methods:          methods,
		Validity:         cfg.ECard.Validity,
		OperationTimeout: cfg.ECard.OperationTimeout,
		MaxRetries:       cfg.ECard.MaxRetries,
	}

	ecards := service.NewECardService(store.ecards, store.payments, store.events, locker, cache, notifier, svcCfg, logger)
	payments := service.NewPaymentService(store.payments, store.events, locker, service.NewMockGateway(logger), ecards, notifier, svcCfg, logger)
	verification := service.NewVerificationService(ecards, store.crossings, cache, notifier, svcCfg, logger)
	reconciler := service.NewReconciler(store.payments, store.ecards, payments, ecards, service.ReconcileConfig{
		Window:         cfg.Scheduler.ReconcileWindow,
		InitiatedGrace: cfg.Scheduler.InitiatedGrace,
	}, logger)

	return services{
		payments:     payments,
		ecards:       ecards,
		verification: verification,
		reconciler:   reconciler,
	}
}

// wireServer builds the handlers and returns the HTTP server.
func wireServer(svc services, store ledger, redisClient *redis.Client, nrApp *newrelic.Application, cfg *config.Config) *http.Server {
	router := app.NewRouter(app.RouterDeps{
		PaymentHandler:      handler.NewPaymentHandler(svc.payments),
		GatewayHandler:      handler.NewGatewayHandler(svc.payments),
		ECardHandler:        handler.NewECardHandler(svc.ecards),
		VerificationHandler: handler.NewVerificationHandler(svc.verification),
		AdminHandler:        handler.NewAdminHandler(svc.reconciler),
		RedisClient:         redisClient,
		NewRelicApp:         nrApp,
		Auth:                cfg.Auth,
		Ping:                store.ping,
	})

	// Create HTTP server.
	return &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
}
