// Package main is the entry point for the VibeResume API.
//
// It loads configuration, connects to Postgres, wires the identity,
// billing and generation clients into the entitlement engine and the
// portfolio service, and serves the chi router.
//
// Outside Lambda it runs a standard HTTP server with graceful shutdown on
// SIGINT/SIGTERM. Inside Lambda it serves API Gateway HTTP API (v2) events
// through httpadapter and flushes metrics after every invocation.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambda"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	"github.com/awslabs/aws-lambda-go-api-proxy/httpadapter"
	"github.com/jackc/pgx/v5/pgxpool"

	"viberesume/internal/api/handlers"
	"viberesume/internal/auth"
	"viberesume/internal/billing"
	"viberesume/internal/config"
	"viberesume/internal/core"
	"viberesume/internal/db"
	"viberesume/internal/external"
	"viberesume/internal/ratelimit"
	"viberesume/internal/sites"
	"viberesume/internal/types"
)

const (
	sessionLeeway        = 5 * time.Second
	metricsFlushInterval = 60 * time.Second
	rateLimitKeyPrefix   = "viberesume:rl:"
	shutdownTimeout      = 10 * time.Second
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

// run encapsulates the startup lifecycle so that main() can cleanly exit on error.
func run() error {
	cfg, err := config.LoadConfig(config.NewSSMProvider(os.Getenv("AWS_REGION")))
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	logger := newLogger(cfg.LogLevel)
	logger.Info("viberesume API starting",
		"environment", cfg.Environment,
		"version", cfg.Build.Version,
		"commit", cfg.Build.Commit,
		"plan_source", cfg.Billing.PlanSource,
	)

	ctx := context.Background()

	pool, err := db.NewPool(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		migrator, err := db.NewMigrator(pool, logger)
		if err != nil {
			return fmt.Errorf("loading migrations: %w", err)
		}
		applied, err := migrator.Up(ctx)
		if err != nil {
			return fmt.Errorf("applying migrations: %w", err)
		}
		logger.Info("migrations applied", "count", applied)
	}

	metrics, err := newMetrics(ctx, cfg, logger)
	if err != nil {
		return err
	}

	rateStore, closeRate, err := newRateLimitStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeRate()

	deps, err := wireServices(ctx, cfg, pool, metrics, logger)
	if err != nil {
		return err
	}
	deps.RateLimitStore = rateStore
	deps.Metrics = metrics
	deps.Health = []core.HealthProbe{core.DatabaseProbe{Pool: pool}}

	srv, err := buildServer(cfg, logger, deps)
	if err != nil {
		return err
	}

	if isLambdaEnvironment() {
		runLambda(srv, logger)
		return nil
	}
	return runHTTPServer(srv, cfg, metrics, logger)
}

// serverDeps are the collaborators buildServer mounts. Kept as interfaces
// so the router can be assembled in tests without a database.
type serverDeps struct {
	Authenticator  core.Authenticator
	RateLimitStore ratelimit.Store
	Metrics        core.MetricsCollector
	Health         []core.HealthProbe
	Websites       handlers.WebsiteService
	Entitlements   handlers.EntitlementService
	PublicSites    handlers.PublicSiteService
}

// wireServices builds the identity, plan, generation and storage layers and
// the two domain services on top of them.
func wireServices(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, metrics core.MetricsCollector, logger *slog.Logger) (serverDeps, error) {
	clerk := external.NewClerkClient(&http.Client{Timeout: 10 * time.Second}, external.ClerkClientConfig{
		SecretKey: cfg.Identity.SecretKey.Unmask(),
		BaseURL:   cfg.Identity.APIURL,
		Logger:    logger,
	})

	var plans external.PlanChecker
	switch cfg.Billing.PlanSource {
	case config.PlanSourceStripe:
		plans = external.NewStripePlanClient(&http.Client{Timeout: 10 * time.Second}, external.StripeClientConfig{
			SecretKey: cfg.Billing.StripeSecretKey.Unmask(),
			BaseURL:   cfg.Billing.StripeAPIURL,
			Logger:    logger,
		})
	default:
		plans = auth.ClaimsPlanChecker{}
	}

	gemini := external.NewGeminiClient(&http.Client{Timeout: cfg.Generation.Timeout}, external.GeminiClientConfig{
		APIKey:  cfg.Generation.GeminiAPIKey.Unmask(),
		Model:   cfg.Generation.GeminiModel,
		BaseURL: cfg.Generation.GeminiAPIURL,
		Logger:  logger,
	})

	verifier, err := auth.NewSessionVerifier(ctx, auth.SessionVerifierConfig{
		JWKSURL:           cfg.Identity.JWKSURL,
		PEMKey:            cfg.Identity.JWTKey.Unmask(),
		AuthorizedParties: cfg.Identity.AuthorizedParties,
		Leeway:            sessionLeeway,
	}, types.RealClock{})
	if err != nil {
		return serverDeps{}, fmt.Errorf("creating session verifier: %w", err)
	}

	users := db.NewUserRepository(pool)
	siteRepo := db.NewSiteRepository(pool)
	usage := db.NewUsageCounterRepository(pool)

	resolver := auth.NewPrincipalResolver(users, clerk, logger)
	planResolver := billing.NewPlanResolver(clerk, plans, billing.PlanResolverConfig{
		AdminEmail: cfg.Billing.AdminEmail,
		ProPlanID:  cfg.Billing.ProPlanID,
	}, logger)

	entitlements := billing.NewService(planResolver, usage, siteRepo, logger,
		billing.WithDecisionRecorder(metrics),
	)
	siteSvc := sites.NewService(siteRepo, pool, gemini, entitlements, sites.Config{
		MaxUploadBytes: cfg.Server.MaxUploadBytes,
		PublicBaseURL:  cfg.Server.PublicBaseURL,
	}, logger)

	return serverDeps{
		Authenticator: auth.NewAuthenticator(verifier, resolver),
		Websites:      siteSvc,
		Entitlements:  entitlements,
		PublicSites:   siteSvc,
	}, nil
}

// buildServer assembles the core server and mounts every route.
func buildServer(cfg *config.Config, logger *slog.Logger, deps serverDeps) (*core.Server, error) {
	srv, err := core.NewServer(cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("creating server: %w", err)
	}
	srv.Authenticator = deps.Authenticator
	srv.RateLimitStore = deps.RateLimitStore
	srv.Metrics = deps.Metrics
	srv.HealthProbes = deps.Health

	websiteHandler := handlers.NewWebsiteHandler(deps.Websites, srv.Validator, cfg.Server.MaxUploadBytes, logger)
	entitlementHandler := handlers.NewEntitlementHandler(deps.Entitlements, logger)
	publicHandler := handlers.NewPublicSiteHandler(deps.PublicSites, logger)

	srv.V1RouteRegistrars = append(srv.V1RouteRegistrars,
		websiteHandler.RegisterRoutes,
		entitlementHandler.RegisterRoutes,
	)
	srv.PublicRouteRegistrars = append(srv.PublicRouteRegistrars, publicHandler.RegisterRoutes)

	srv.MountRoutes()
	return srv, nil
}

// newMetrics returns a CloudWatch collector when metrics are enabled.
func newMetrics(ctx context.Context, cfg *config.Config, logger *slog.Logger) (core.MetricsCollector, error) {
	if !cfg.Observability.MetricsEnabled {
		return core.NoopMetrics{}, nil
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWS.Region))
	if err != nil {
		return nil, fmt.Errorf("loading AWS config for CloudWatch: %w", err)
	}
	return core.NewCloudWatchMetrics(cloudwatch.NewFromConfig(awsCfg), cfg.Observability.MetricNamespace, logger), nil
}

// newRateLimitStore uses Redis when REDIS_URL is set so limits hold across
// instances; otherwise a per-process memory store.
func newRateLimitStore(cfg *config.Config, logger *slog.Logger) (ratelimit.Store, func(), error) {
	if !cfg.Security.RedisURL.IsSet() {
		logger.Info("rate limiting with in-memory store")
		return ratelimit.NewMemoryStore(), func() {}, nil
	}
	store, client, err := ratelimit.NewRedisStoreFromURL(cfg.Security.RedisURL.Unmask(), rateLimitKeyPrefix)
	if err != nil {
		return nil, nil, fmt.Errorf("creating redis rate limit store: %w", err)
	}
	logger.Info("rate limiting with redis store")
	return store, func() { _ = client.Close() }, nil
}

// isLambdaEnvironment returns true if the process is running inside AWS Lambda.
func isLambdaEnvironment() bool {
	_, hasRuntimeAPI := os.LookupEnv("AWS_LAMBDA_RUNTIME_API")
	_, hasServerPort := os.LookupEnv("_LAMBDA_SERVER_PORT")
	return hasRuntimeAPI || hasServerPort
}

// flusher is implemented by buffering metrics collectors.
type flusher interface {
	Flush(ctx context.Context) error
}

// lambdaHandler adapts the router to API Gateway v2 events and flushes
// metrics before the invocation returns, since the sandbox may be frozen
// afterwards.
func lambdaHandler(h http.Handler, metrics core.MetricsCollector, logger *slog.Logger) func(context.Context, events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
	adapter := httpadapter.NewV2(h)
	return func(ctx context.Context, req events.APIGatewayV2HTTPRequest) (events.APIGatewayV2HTTPResponse, error) {
		resp, err := adapter.ProxyWithContext(ctx, req)
		if f, ok := metrics.(flusher); ok {
			if ferr := f.Flush(context.WithoutCancel(ctx)); ferr != nil {
				logger.WarnContext(ctx, "metrics flush failed", "error", ferr)
			}
		}
		return resp, err
	}
}

// runLambda hands control to the Lambda runtime. It does not return.
func runLambda(srv *core.Server, logger *slog.Logger) {
	logger.Info("starting in Lambda mode")
	lambda.Start(lambdaHandler(srv.Handler(), srv.Metrics, logger))
}

// runHTTPServer starts the server in standard HTTP mode with graceful shutdown.
func runHTTPServer(srv *core.Server, cfg *config.Config, metrics core.MetricsCollector, logger *slog.Logger) error {
	addr := ":" + cfg.Server.Port

	// Generation calls can take most of the configured model timeout.
	writeTimeout := cfg.Generation.Timeout + 30*time.Second

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       120 * time.Second,
	}

	flushCtx, stopFlusher := context.WithCancel(context.Background())
	defer stopFlusher()
	if cw, ok := metrics.(*core.CloudWatchMetrics); ok {
		go cw.RunFlusher(flushCtx, metricsFlushInterval)
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("HTTP server listening", "addr", addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-shutdown:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}

	logger.Info("initiating graceful shutdown")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	}
	stopFlusher()

	if err := srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	logger.Info("server stopped cleanly")
	return nil
}

// newLogger creates a structured slog.Logger configured for the given log level.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}

	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}
