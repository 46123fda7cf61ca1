package cfg

import (
	"errors"
	"flag"
	"fmt"
	"math"
	"strings"

	"github.com/linnemanlabs/tandem/internal/authmw"
	"github.com/linnemanlabs/tandem/internal/policy"
)

// Backend kinds accepted by -backend.
const (
	BackendHTTP      = "http"
	BackendAnthropic = "anthropic"
	BackendStub      = "stub"
)

// Config holds gateway-specific configuration, registered alongside the
// go-core package configs in main.
type Config struct {
	DrainSeconds          int
	ShutdownBudgetSeconds int
	APIPort               int
	APITokens             string

	ShadowSamplingRate float64
	RouterSeed         uint64
	AllowedStatuses    string

	DatabaseURL string
	CatalogFile string

	Backend                 string
	InferenceURL            string
	InferenceAPIKey         string
	InferenceTimeoutSeconds int
	AnthropicAPIKey         string
	AnthropicMaxTokens      int

	CollectorURL            string
	CollectorAPIKey         string
	CollectorTimeoutSeconds int
	RedisURL                string
	RedisStream             string

	AuditLogPath string
}

// RegisterFlags binds Config fields to the given FlagSet with defaults inline
func (c *Config) RegisterFlags(fs *flag.FlagSet) {
	fs.IntVar(&c.DrainSeconds, "drain-seconds", 60, "seconds to wait for in-flight requests to drain before shutdown (1..300)")
	fs.IntVar(&c.ShutdownBudgetSeconds, "shutdown-budget-seconds", 90, "total seconds for component shutdown after drain (1..300)")
	fs.IntVar(&c.APIPort, "http-port", 8080, "API listen TCP port (1..65535)")
	fs.StringVar(&c.APITokens, "api-tokens", "", "comma separated bearer tokens accepted on /v1 routes")

	fs.Float64Var(&c.ShadowSamplingRate, "shadow-sampling-rate", 0.1, "probability that a request also runs shadow policies (0..1)")
	fs.Uint64Var(&c.RouterSeed, "router-seed", 0, "seed for shadow sampling (0 = process random)")
	fs.StringVar(&c.AllowedStatuses, "allowed-statuses", "active,shadow", "comma separated policy statuses the catalog serves")

	fs.StringVar(&c.DatabaseURL, "database-url", "", "PostgreSQL connection URL for the policy catalog")
	fs.StringVar(&c.CatalogFile, "catalog-file", "", "YAML policy catalog file, reloaded on change")

	fs.StringVar(&c.Backend, "backend", BackendHTTP, "inference backend: http, anthropic or stub")
	fs.StringVar(&c.InferenceURL, "inference-url", "", "base URL of the HTTP inference backend")
	fs.StringVar(&c.InferenceAPIKey, "inference-api-key", "", "bearer key for the HTTP inference backend")
	fs.IntVar(&c.InferenceTimeoutSeconds, "inference-timeout-seconds", 20, "per-call inference timeout (1..300)")
	fs.StringVar(&c.AnthropicAPIKey, "anthropic-api-key", "", "API key for the anthropic backend")
	fs.IntVar(&c.AnthropicMaxTokens, "anthropic-max-tokens", 1024, "max output tokens per anthropic call")

	fs.StringVar(&c.CollectorURL, "collector-url", "", "base URL of the telemetry collector (empty = disabled)")
	fs.StringVar(&c.CollectorAPIKey, "collector-api-key", "", "bearer key for the telemetry collector")
	fs.IntVar(&c.CollectorTimeoutSeconds, "collector-timeout-seconds", 5, "telemetry submission timeout (1..300)")
	fs.StringVar(&c.RedisURL, "redis-url", "", "Redis URL for the output event stream (empty = disabled)")
	fs.StringVar(&c.RedisStream, "redis-stream", "tandem:interaction.output", "Redis stream receiving output events")

	fs.StringVar(&c.AuditLogPath, "audit-log-path", "data/shadow_audit.jsonl", "append-only shadow comparison log")
}

// Tokens returns the configured API tokens.
func (c *Config) Tokens() []string { return authmw.SplitTokens(c.APITokens) }

// Statuses returns the configured allowed policy statuses.
func (c *Config) Statuses() []policy.Status { return policy.ParseStatuses(c.AllowedStatuses) }

// Validate checks all configuration fields for correctness.
// It returns an error if any field is invalid, or nil if all fields are valid.
func (c *Config) Validate() error {
	var errs []error

	// Drain and shutdown budgets
	if c.DrainSeconds <= 0 || c.DrainSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid DRAIN_SECONDS %d (must be 1..300)", c.DrainSeconds))
	}
	if c.ShutdownBudgetSeconds <= 0 || c.ShutdownBudgetSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid SHUTDOWN_BUDGET_SECONDS %d (must be 1..300)", c.ShutdownBudgetSeconds))
	}

	// Shutdown budget must be greater than drain time
	if c.ShutdownBudgetSeconds <= c.DrainSeconds {
		errs = append(errs, fmt.Errorf("SHUTDOWN_BUDGET_SECONDS %d must be greater than DRAIN_SECONDS %d", c.ShutdownBudgetSeconds, c.DrainSeconds))
	}

	// API port must be valid TCP port number
	if c.APIPort <= 0 || c.APIPort > 65535 {
		errs = append(errs, fmt.Errorf("invalid HTTP_PORT %d (must be 1..65535)", c.APIPort))
	}

	if len(c.Tokens()) == 0 {
		errs = append(errs, errors.New("API_TOKENS is required"))
	}

	// NaN fails both comparisons, so check it explicitly
	if math.IsNaN(c.ShadowSamplingRate) || c.ShadowSamplingRate < 0 || c.ShadowSamplingRate > 1 {
		errs = append(errs, fmt.Errorf("invalid SHADOW_SAMPLING_RATE %v (must be 0..1)", c.ShadowSamplingRate))
	}

	for _, s := range c.Statuses() {
		if s != policy.StatusActive && s != policy.StatusShadow {
			errs = append(errs, fmt.Errorf("invalid ALLOWED_STATUSES entry %q (must be active or shadow)", s))
		}
	}

	// Exactly one catalog source
	switch {
	case c.DatabaseURL == "" && c.CatalogFile == "":
		errs = append(errs, errors.New("one of DATABASE_URL or CATALOG_FILE is required"))
	case c.DatabaseURL != "" && c.CatalogFile != "":
		errs = append(errs, errors.New("DATABASE_URL and CATALOG_FILE are mutually exclusive"))
	}

	switch c.Backend {
	case BackendHTTP:
		if strings.TrimSpace(c.InferenceURL) == "" {
			errs = append(errs, errors.New("INFERENCE_URL is required for the http backend"))
		}
	case BackendAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = append(errs, errors.New("ANTHROPIC_API_KEY is required for the anthropic backend"))
		}
		if c.AnthropicMaxTokens <= 0 {
			errs = append(errs, fmt.Errorf("invalid ANTHROPIC_MAX_TOKENS %d (must be > 0)", c.AnthropicMaxTokens))
		}
	case BackendStub:
	default:
		errs = append(errs, fmt.Errorf("invalid BACKEND %q (must be http, anthropic or stub)", c.Backend))
	}

	if c.InferenceTimeoutSeconds <= 0 || c.InferenceTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid INFERENCE_TIMEOUT_SECONDS %d (must be 1..300)", c.InferenceTimeoutSeconds))
	}
	if c.CollectorTimeoutSeconds <= 0 || c.CollectorTimeoutSeconds > 300 {
		errs = append(errs, fmt.Errorf("invalid COLLECTOR_TIMEOUT_SECONDS %d (must be 1..300)", c.CollectorTimeoutSeconds))
	}

	if c.RedisURL != "" && c.RedisStream == "" {
		errs = append(errs, errors.New("REDIS_STREAM is required when REDIS_URL is set"))
	}

	if c.AuditLogPath == "" {
		errs = append(errs, errors.New("AUDIT_LOG_PATH is required"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
