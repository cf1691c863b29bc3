// Package config defines the global configuration structure for the MedEvent
// certificate pipeline. Configuration is loaded once at process
// initialization and is immutable thereafter, following 12-Factor principles.
//
// Values come from the OS environment (highest priority) with an optional
// dotenv file underneath. Any missing required value or invalid format fails
// the process immediately on startup.
package config

import (
	"time"

	"medevent/internal/types"
)

// SecretString is an alias for types.SecretString, the redacted secret type
// used throughout configuration to prevent accidental logging of sensitive
// values.
type SecretString = types.SecretString

// Config is the top-level configuration struct for the certificate pipeline.
// Sub-components receive only the specific subsets they require.
type Config struct {
	// System metadata
	Environment string `envconfig:"APP_ENV" validate:"required,oneof=local dev staging prod"`
	Service     string `envconfig:"SERVICE_NAME" default:"medevent-certs"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	Server     ServerConfig
	Database   DatabaseConfig
	AWS        AWSConfig
	Email      EmailConfig
	Generation GenerationConfig
	Pipeline   PipelineConfig
	Security   SecurityConfig
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8080"`
}

// DatabaseConfig holds database connection and pool tuning parameters.
type DatabaseConfig struct {
	URL SecretString `envconfig:"DATABASE_URL" validate:"required,url"`

	MaxConns        int           `envconfig:"DB_MAX_CONNS" default:"10"`
	MinConns        int           `envconfig:"DB_MIN_CONNS" default:"2"`
	MaxConnLifetime time.Duration `envconfig:"DB_MAX_CONN_LIFETIME" default:"30m"`
	AcquireTimeout  time.Duration `envconfig:"DB_ACQUIRE_TIMEOUT" default:"2s"`
}

// AWSConfig holds AWS resource identifiers and regional configuration.
type AWSConfig struct {
	Region string `envconfig:"AWS_REGION" default:"eu-central-1"`

	EmailQueueURL   string `envconfig:"SQS_EMAIL_QUEUE" validate:"required,url"`
	MetricNamespace string `envconfig:"METRIC_NAMESPACE" default:"MedEvent"`

	// LocalStack support (empty in prod)
	EndpointURL string `envconfig:"AWS_ENDPOINT_URL"`
}

// EmailConfig holds email delivery configuration for the SES-backed worker.
type EmailConfig struct {
	FromAddress   string `envconfig:"EMAIL_FROM_ADDRESS" default:"events@medevent.io"`
	FromName      string `envconfig:"EMAIL_FROM_NAME" default:"MedEvent"`
	ConfigSetName string `envconfig:"SES_CONFIG_SET"`
	Enabled       bool   `envconfig:"FEATURE_ENABLE_EMAIL" default:"true"`
}

// productionFallbackURL is the last-resort callback base URL used when no
// deployment or public URL is configured in the environment. The generation
// call is a same-service callback whose externally visible address is not
// always known to the process at runtime.
const productionFallbackURL = "https://app.medevent.io"

// GenerationConfig holds the settings for calling the certificate-generation
// endpoint back on this same service.
type GenerationConfig struct {
	// Ordered base-URL candidates; the first non-empty one wins. Evaluated
	// once at construction via BaseURLCandidates.
	DeploymentURL string `envconfig:"DEPLOYMENT_URL"`
	AuthURL       string `envconfig:"AUTH_URL"`
	PublicAppURL  string `envconfig:"PUBLIC_APP_URL"`
	PublicSiteURL string `envconfig:"PUBLIC_SITE_URL"`

	// BypassSecret, when set, is attached as the x-service-bypass header so
	// the callback skips the interactive session check.
	BypassSecret SecretString `envconfig:"SERVICE_BYPASS_SECRET"`

	// RendererURL points at the external artifact-rendering service used by
	// the generation endpoint itself.
	RendererURL string `envconfig:"RENDERER_URL" validate:"omitempty,url"`

	Timeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"30s"`
}

// BaseURLCandidates returns the ordered list of callback base URLs, ending
// with the hardcoded production fallback so the chain never comes up empty.
func (g GenerationConfig) BaseURLCandidates() []string {
	return []string{
		g.DeploymentURL,
		g.AuthURL,
		g.PublicAppURL,
		g.PublicSiteURL,
		productionFallbackURL,
	}
}

// PipelineConfig holds batch processor tuning.
type PipelineConfig struct {
	// BatchSize is the hard cap of tasks claimed per sweep. It exists to keep
	// a single invocation within a bounded wall-clock budget on serverless
	// runtimes and must never be treated as a soft target.
	BatchSize int `envconfig:"CERT_BATCH_SIZE" default:"50" validate:"gt=0"`
}

// SecurityConfig guards the internal endpoints (cron sweep, generation
// callback). The token is stored as a bcrypt hash; plaintext never reaches
// the config struct.
type SecurityConfig struct {
	InternalTokenHash SecretString `envconfig:"INTERNAL_TOKEN_HASH" validate:"required"`
}
