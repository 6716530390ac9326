package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/projecthub/projecthub/internal/app"
	"github.com/projecthub/projecthub/internal/auth"
	"github.com/projecthub/projecthub/internal/comments"
	"github.com/projecthub/projecthub/internal/files"
	"github.com/projecthub/projecthub/internal/notifications"
	"github.com/projecthub/projecthub/internal/observability"
	"github.com/projecthub/projecthub/internal/organizations"
	"github.com/projecthub/projecthub/internal/platform/cache"
	"github.com/projecthub/projecthub/internal/platform/db"
	"github.com/projecthub/projecthub/internal/projects"
	"github.com/projecthub/projecthub/internal/ratelimit"
	"github.com/projecthub/projecthub/internal/rbac"
	"github.com/projecthub/projecthub/internal/shared"
	"github.com/projecthub/projecthub/internal/tasks"
	"github.com/projecthub/projecthub/internal/teams"
	"github.com/projecthub/projecthub/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	sessionManager := shared.NewSessionManager(redisClient, "projecthub_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	csrfManager := shared.NewCSRFManager(cfg.CSRFSecret)
	metrics := observability.NewMetrics()

	catalog, err := rbac.DefaultCatalog()
	if err != nil {
		logger.Error("permission catalog", slog.Any("error", err))
		os.Exit(1)
	}
	rbacRepo := rbac.NewRepository(dbpool)
	guard := rbac.NewGuard(catalog, rbac.NewResolver(rbacRepo, rbacRepo), rbac.WithLogger(logger), rbac.WithObserver(metrics))
	limiter := ratelimit.New(redisClient, cfg.RateTiers(), cfg.RateLimitWindow, logger, metrics)
	enforcer := rbac.NewEnforcer(guard, limiter, logger)
	rbacMiddleware := rbac.Middleware{Enforcer: enforcer, Scopes: rbacRepo, Quota: limiter, Logger: logger}

	redisOpts := asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
	jobsClient, err := jobs.NewClient(redisOpts)
	if err != nil {
		logger.Error("init jobs client", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := jobsClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	authService := auth.NewService(auth.NewRepository(dbpool))
	notificationService := notifications.NewService(notifications.NewRepository(dbpool), logger)
	organizationService := organizations.NewService(organizations.NewRepository(dbpool), notificationService, jobsClient, logger)
	projectService := projects.NewService(projects.NewRepository(dbpool), enforcer, logger)
	teamService := teams.NewService(teams.NewRepository(dbpool), enforcer, logger)
	taskRepo := tasks.NewRepository(dbpool)
	taskService := tasks.NewService(taskRepo, enforcer, notificationService, logger)
	commentService := comments.NewService(comments.NewRepository(dbpool), taskRepo, authService, enforcer, notificationService, logger)

	blobs, err := files.NewDiskStore(cfg.UploadDir)
	if err != nil {
		logger.Error("init upload storage", slog.Any("error", err))
		os.Exit(1)
	}
	fileService := files.NewService(files.NewRepository(dbpool), blobs, taskRepo, enforcer, logger, cfg.MaxUploadBytes)

	router := app.NewRouter(app.RouterParams{
		Logger:              logger,
		Config:              cfg,
		SessionManager:      sessionManager,
		CSRFManager:         csrfManager,
		RBACMiddleware:      rbacMiddleware,
		AuthHandler:         auth.NewHandler(logger, authService, sessionManager, csrfManager),
		PermissionsHandler:  rbac.NewPermissionsHandler(logger, guard, rbacRepo),
		OrganizationHandler: organizations.NewHandler(logger, organizationService, rbacMiddleware),
		ProjectHandler:      projects.NewHandler(logger, projectService, rbacMiddleware),
		TeamHandler:         teams.NewHandler(logger, teamService, rbacMiddleware),
		TaskHandler:         tasks.NewHandler(logger, taskService),
		CommentHandler:      comments.NewHandler(logger, commentService),
		FileHandler:         files.NewHandler(logger, fileService),
		NotificationHandler: notifications.NewHandler(logger, notificationService),
		JobHandler:          jobs.NewHandler(inspector, logger),
		Metrics:             metrics,
	})

	server := &http.Server{
		Addr:              cfg.AppAddr,
		Handler:           router,
		ReadTimeout:       cfg.AppReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
