// Package main is the entry point for the maintenance Lambda function.
//
// A scheduled rule sends a MaintenancePayload naming the task. The handler
// routes it to the matching service:
//
//	reset_ai_usage  monthly AI-usage rollover (first of the month, UTC)
//	migrate         apply pending schema migrations
//
// The payload may carry reference_time to backfill a past period.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/kelseyhightower/envconfig"

	"viberesume/internal/config"
	"viberesume/internal/core"
	"viberesume/internal/db"
	"viberesume/internal/scheduler"
)

// metricsFlushTimeout bounds the flush after each task.
const metricsFlushTimeout = 5 * time.Second

// RolloverService runs the AI-usage rollover.
type RolloverService interface {
	ResetAIUsage(ctx context.Context, now time.Time) (int64, error)
}

// MigrationService applies schema migrations.
type MigrationService interface {
	Up(ctx context.Context) (int, error)
}

// MetricsFlusher flushes buffered metrics before the invocation ends.
type MetricsFlusher interface {
	Flush(ctx context.Context) error
}

// Handler holds the dependencies for the maintenance Lambda.
type Handler struct {
	Rollover   RolloverService
	Migrations MigrationService
	Metrics    MetricsFlusher
	Logger     *slog.Logger
	Now        func() time.Time
}

// Handle runs one maintenance task and returns a short summary.
func (h *Handler) Handle(ctx context.Context, payload scheduler.MaintenancePayload) (string, error) {
	logger := h.Logger
	if logger == nil {
		logger = slog.Default()
	}

	now := time.Now().UTC()
	if h.Now != nil {
		now = h.Now().UTC()
	}
	if payload.ReferenceTime != nil {
		now = payload.ReferenceTime.UTC()
	}

	if payload.Task == "" {
		return "", fmt.Errorf("empty task type in maintenance payload")
	}

	task := string(payload.Task)
	logger.InfoContext(ctx, "maintenance task invoked",
		"task", task,
		"reference_time", now.Format(time.RFC3339),
	)

	items, err := h.dispatch(ctx, payload.Task, now)
	h.flush(ctx, logger)

	if err != nil {
		logger.ErrorContext(ctx, "maintenance task failed",
			"task", task,
			"error", err,
			"items_before_error", items,
		)
		return "", fmt.Errorf("task %s failed: %w", task, err)
	}

	result := fmt.Sprintf("task %s complete: %d items processed", task, items)
	logger.InfoContext(ctx, result, "task", task, "items", items)
	return result, nil
}

func (h *Handler) dispatch(ctx context.Context, task scheduler.TaskType, now time.Time) (int64, error) {
	switch task {
	case scheduler.TaskResetAIUsage:
		return h.Rollover.ResetAIUsage(ctx, now)

	case scheduler.TaskMigrate:
		n, err := h.Migrations.Up(ctx)
		return int64(n), err

	default:
		return 0, fmt.Errorf("unknown task type: %q", task)
	}
}

func (h *Handler) flush(ctx context.Context, logger *slog.Logger) {
	if h.Metrics == nil {
		return
	}
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), metricsFlushTimeout)
	defer cancel()
	if err := h.Metrics.Flush(fctx); err != nil {
		logger.WarnContext(ctx, "metrics flush failed", "error", err)
	}
}

// jobConfig is the subset of configuration the maintenance function needs.
// It skips the identity and generation settings the API requires.
type jobConfig struct {
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	Database      config.DatabaseConfig
	AWS           config.AWSConfig
	Observability config.ObservabilityConfig
}

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	logger.Info("maintenance Lambda initializing (cold start)")

	if err := config.ResolveSecrets(config.NewSSMProvider(os.Getenv("AWS_REGION"))); err != nil {
		logger.Error("failed to resolve SSM secrets", "error", err)
		os.Exit(1)
	}

	var cfg jobConfig
	if err := envconfig.Process("", &cfg); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	migrator, err := db.NewMigrator(pool, logger)
	if err != nil {
		logger.Error("failed to load migrations", "error", err)
		os.Exit(1)
	}

	var metrics interface {
		scheduler.ResetRecorder
		MetricsFlusher
	} = core.NoopMetrics{}
	if cfg.Observability.MetricsEnabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
		if err != nil {
			logger.Error("failed to load AWS config", "error", err)
			os.Exit(1)
		}
		metrics = core.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger)
	}

	handler := &Handler{
		Rollover:   scheduler.NewUsageRollover(db.NewUsageRolloverStore(pool), metrics, logger),
		Migrations: migrator,
		Metrics:    metrics,
		Logger:     logger,
	}

	logger.Info("maintenance Lambda initialized")
	lambda.Start(handler.Handle)
}
