// Package config defines the process configuration for the VibeResume API and
// maintenance jobs. Configuration is loaded once at startup and is immutable
// thereafter.
//
// Values are resolved via a priority chain:
//
//	OS Environment (Highest) -> Dotenv File -> AWS SSM Parameter Store (Lowest)
//
// Any missing required value or invalid format fails startup.
package config

import (
	"time"

	"viberesume/internal/types"
)

// SecretString is an alias for types.SecretString.
type SecretString = types.SecretString

// Plan sources accepted by PLAN_SOURCE.
const (
	PlanSourceClaims = "claims"
	PlanSourceStripe = "stripe"
)

// Config is the top-level configuration struct.
type Config struct {
	Environment string `envconfig:"APP_ENV" default:"local" validate:"required,oneof=local dev staging prod"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info" validate:"oneof=debug info warn error"`

	Server        ServerConfig
	Database      DatabaseConfig
	AWS           AWSConfig
	Identity      IdentityConfig
	Billing       BillingConfig
	Generation    GenerationConfig
	Security      SecurityConfig
	Observability ObservabilityConfig

	// Build Metadata (Injected via ldflags, not Env)
	Build BuildInfo
}

// ServerConfig holds HTTP server and public URL configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
	// PublicBaseURL prefixes generated site links (no trailing slash).
	PublicBaseURL  string `envconfig:"PUBLIC_BASE_URL" default:"http://localhost:8080" validate:"required,url"`
	MaxUploadBytes int64  `envconfig:"MAX_UPLOAD_BYTES" default:"10485760" validate:"gt=0"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required"`

	MaxConns          int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns          int           `envconfig:"DB_MIN_CONNS" default:"0"`
	MaxConnLifetime   time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout    time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
	HealthCheckPeriod time.Duration `envconfig:"DB_HEALTH_CHECK_PERIOD" default:"1m"`
	AutoMigrate       bool          `envconfig:"DB_AUTO_MIGRATE" default:"false"`
}

// AWSConfig holds regional configuration for SSM and CloudWatch.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"us-east-1"`
}

// IdentityConfig holds the identity provider (Clerk) settings. Either
// JWKSURL or JWTKey must be set so session tokens can be verified.
type IdentityConfig struct {
	SecretKey         SecretString `envconfig:"CLERK_SECRET_KEY" validate:"required"`
	APIURL            string       `envconfig:"CLERK_API_URL" default:"https://api.clerk.com" validate:"required,url"`
	JWKSURL           string       `envconfig:"CLERK_JWKS_URL" validate:"omitempty,url"`
	JWTKey            SecretString `envconfig:"CLERK_JWT_KEY"`
	AuthorizedParties []string     `envconfig:"CLERK_AUTHORIZED_PARTIES"`
}

// BillingConfig selects the plan-membership source and holds its credentials.
type BillingConfig struct {
	AdminEmail      string       `envconfig:"ADMIN_EMAIL" validate:"omitempty,email"`
	PlanSource      string       `envconfig:"PLAN_SOURCE" default:"claims" validate:"oneof=claims stripe"`
	ProPlanID       string       `envconfig:"PRO_PLAN_ID" default:"viberesume_pro" validate:"required"`
	StripeSecretKey SecretString `envconfig:"STRIPE_SECRET_KEY"`
	StripeAPIURL    string       `envconfig:"STRIPE_API_URL" default:"https://api.stripe.com" validate:"required,url"`
}

// GenerationConfig holds the generative model settings.
type GenerationConfig struct {
	GeminiAPIKey SecretString  `envconfig:"GEMINI_API_KEY" validate:"required"`
	GeminiModel  string        `envconfig:"GEMINI_MODEL" default:"gemini-2.5-flash" validate:"required"`
	GeminiAPIURL string        `envconfig:"GEMINI_API_URL" default:"https://generativelanguage.googleapis.com" validate:"required,url"`
	Timeout      time.Duration `envconfig:"GEMINI_TIMEOUT" default:"120s"`
}

// SecurityConfig holds CORS and rate-limit settings.
type SecurityConfig struct {
	CorsAllowedOrigins []string     `envconfig:"CORS_ALLOWED_ORIGINS" default:"*"`
	RateLimitPerMinute int          `envconfig:"RATE_LIMIT_PER_MINUTE" default:"30" validate:"gte=0"`
	RedisURL           SecretString `envconfig:"REDIS_URL"`
}

// ObservabilityConfig holds telemetry settings.
type ObservabilityConfig struct {
	MetricsEnabled  bool   `envconfig:"METRICS_ENABLED" default:"false"`
	MetricNamespace string `envconfig:"METRICS_NAMESPACE" default:"VibeResume"`
}

// BuildInfo holds build-time metadata injected via ldflags.
type BuildInfo struct {
	Version   string
	Commit    string
	BuildTime string
}

// ConfigErrorType categorizes configuration loading failures.
type ConfigErrorType string

const (
	ErrMissingEnv    ConfigErrorType = "MISSING_ENV"
	ErrSSMResolution ConfigErrorType = "SSM_FAILURE"
	ErrValidation    ConfigErrorType = "VALIDATION_FAILED"
	ErrParsing       ConfigErrorType = "PARSING_FAILED"
)
