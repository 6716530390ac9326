package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/projecthub/projecthub/internal/app"
	"github.com/projecthub/projecthub/internal/auth"
	jobmetrics "github.com/projecthub/projecthub/internal/jobs"
	"github.com/projecthub/projecthub/internal/notifications"
	"github.com/projecthub/projecthub/internal/platform/db"
	"github.com/projecthub/projecthub/internal/shared"
	"github.com/projecthub/projecthub/internal/tasks"
	"github.com/projecthub/projecthub/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping worker startup")
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

	pool, err := db.New(ctx, cfg.PGDSN, db.PoolConfig{MaxConns: cfg.PGMaxConns, MaxConnLifetime: cfg.PGMaxConnLifetime})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

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

	metrics := jobmetrics.NewMetrics(nil)
	idempotency := shared.NewIdempotencyStore(pool)
	notificationService := notifications.NewService(notifications.NewRepository(pool), logger)
	authService := auth.NewService(auth.NewRepository(pool))

	var mailer jobs.Mailer = jobs.LogMailer{Logger: logger}
	if cfg.SMTPHost != "" {
		mailer = jobs.NewSMTPMailer(jobs.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
	}

	emailJob := &jobs.SendEmailJob{Mailer: mailer, Logger: logger, Metrics: metrics}
	dueTasks := tasks.NewService(tasks.NewRepository(pool), nil, nil, logger)
	reminderJob := jobs.NewDueRemindersJob(dueTasks, notificationService, authService, idempotency, jobsClient, logger, metrics)
	cleanupJob := &jobs.CleanupJob{Notifications: notificationService, Keys: idempotency, Logger: logger, Metrics: metrics}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts:   redisOpts,
		Logger:      logger,
		Concurrency: cfg.WorkerConcurrency,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskTypeSendEmail, Handler: emailJob.Handle},
			{Type: jobs.TaskDueReminders, Handler: reminderJob.Handle},
			{Type: jobs.TaskNotificationsCleanup, Handler: cleanupJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ReminderCron, Task: jobs.NewDueRemindersTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.CleanupCron, Task: jobs.NewNotificationsCleanupTask(), Options: []asynq.Option{asynq.MaxRetry(3)}},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
