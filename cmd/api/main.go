package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	httptransport "github.com/spec-kit/repair-service/internal/api/http"
	"github.com/spec-kit/repair-service/internal/api/http/handlers"
	"github.com/spec-kit/repair-service/internal/auth"
	"github.com/spec-kit/repair-service/internal/cache"
	"github.com/spec-kit/repair-service/internal/config"
	"github.com/spec-kit/repair-service/internal/events"
	"github.com/spec-kit/repair-service/internal/observability"
	"github.com/spec-kit/repair-service/internal/persistence"
	"github.com/spec-kit/repair-service/internal/repository"
	"github.com/spec-kit/repair-service/internal/schedule"
	"github.com/spec-kit/repair-service/internal/service"
	"github.com/spec-kit/repair-service/internal/worker"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	hours, err := schedule.Parse(cfg.Workshop.BusinessHours)
	if err != nil {
		logger.Fatal("invalid business hours", zap.Error(err))
	}

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		logger.Fatal("failed to connect postgres", zap.Error(err))
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), logger); err != nil {
			logger.Fatal("failed to run migrations", zap.Error(err))
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	pool := pg.PoolHandle()
	txManager := repository.NewTxManager(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	allocationRepo := repository.NewAllocationRepository(pool)
	sparePartRepo := repository.NewSparePartRepository(pool)
	historyRepo := repository.NewTicketHistoryRepository(pool)
	userRepo := repository.NewUserRepository(pool)

	metrics := observability.NewMetrics()
	dispatcher := events.NewInMemoryDispatcher(logger)
	snapshots := cache.NewTicketCache(redis.Client, cfg.Workshop.CacheTTL(), logger)

	partsService := service.NewPartsService(service.PartsDependencies{
		TxManager:      txManager,
		TicketRepo:     ticketRepo,
		AllocationRepo: allocationRepo,
		SparePartRepo:  sparePartRepo,
		HistoryRepo:    historyRepo,
		Dispatcher:     dispatcher,
	})
	workflowService := service.NewWorkflowService(service.WorkflowDependencies{
		TxManager:   txManager,
		TicketRepo:  ticketRepo,
		UserRepo:    userRepo,
		HistoryRepo: historyRepo,
		Parts:       partsService,
		Hours:       hours,
		Snapshots:   snapshots,
		Dispatcher:  dispatcher,
		Metrics:     metrics,
	})
	intakeService := service.NewIntakeService(service.IntakeDependencies{
		TicketRepo:            ticketRepo,
		AllocationRepo:        allocationRepo,
		HistoryRepo:           historyRepo,
		Snapshots:             snapshots,
		Hours:                 hours,
		Dispatcher:            dispatcher,
		DefaultPromiseMinutes: cfg.Workshop.DefaultPromiseMinutes,
	})
	authService := service.NewAuthService(*cfg, userRepo)
	notificationService := service.NewNotificationService(dispatcher, logger, cfg.Notification)
	worker.StartNotificationWorker(notificationService)

	authMiddleware := auth.NewAuthMiddleware(authService.TokenManager(), userRepo)

	app := fiber.New(fiber.Config{AppName: cfg.App.Name})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())

	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health:         handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, pg, redis),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(intakeService, partsService),
		Workflow:       handlers.NewWorkflowHandler(workflowService, partsService),
		AuthMiddleware: authMiddleware,
	})

	go func() {
		if err := app.Listen(cfg.App.Addr()); err != nil {
			logger.Fatal("fiber listen", zap.Error(err))
		}
	}()

	waitForShutdown(logger)

	_ = app.Shutdown()
}

func waitForShutdown(logger *zap.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigCh
	logger.Info("shutting down", zap.String("signal", sig.String()))
}
