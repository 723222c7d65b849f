// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings such as
// server timeouts, logging, database selection, webhook verification, the
// completion backend, the outbound platform API, and the pipeline worker pool.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "persona-engine")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// WebhookConfig controls inbound webhook authentication.
type WebhookConfig struct {
	Secret          string        // WEBHOOK_SECRET (HMAC key)
	SignatureHeader string        // WEBHOOK_SIGNATURE_HEADER
	Tolerance       time.Duration // WEBHOOK_TOLERANCE, replay window
	MaxBodyBytes    int64         // WEBHOOK_MAX_BODY_BYTES
}

// LLMConfig points at an OpenAI-compatible chat completion endpoint.
type LLMConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
	Referer string // sent as HTTP-Referer (required by OpenRouter)
}

// PlatformConfig describes the creator-platform API used for delivery and OAuth.
type PlatformConfig struct {
	BaseURL      string
	AuthURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	APIKey       string
	APIVersion   string
	RedirectURI  string
	Scopes       []string
	LoginScopes  []string
	Timeout      time.Duration
	TokenMargin  time.Duration // refresh this long before expiry
	SendRPS      float64
	SendBurst    int
}

// PipelineConfig sizes the deferred message-processing worker pool.
type PipelineConfig struct {
	Workers         int
	QueueSize       int
	EnqueueTimeout  time.Duration
	TaskTimeout     time.Duration
	SerializePerFan bool
	HistoryLimit    int
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	ShutdownTimeout   time.Duration // grace period for in-flight requests and tasks
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging / Docs
	LogLevel          string // debug|info|warn|error|fatal|panic
	LogPretty         bool   // pretty console logs in dev
	SwaggerEnabled    bool   // enable Swagger UI route
	APIBasePath       string // base path for admin API routes
	AdminToken        string // bearer token for the admin API; empty leaves the API unmounted
	AdminAuthDisabled bool   // serve the admin API without a token (local use only)

	// Database
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path
	DatabaseURL string // Postgres DSN

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// OAuth login state
	OAuthStateTTL time.Duration

	// Persona
	PersonaPath string

	Webhook  WebhookConfig
	LLM      LLMConfig
	Platform PlatformConfig
	Pipeline PipelineConfig

	// Observability
	OTEL OTELConfig
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8000"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		ShutdownTimeout:   getdur("SHUTDOWN_TIMEOUT", 30*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:          strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:         getbool("LOG_PRETTY", false),
		SwaggerEnabled:    getbool("SWAGGER_ENABLED", false),
		APIBasePath:       normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),
		AdminToken:        getenv("ADMIN_TOKEN", ""),
		AdminAuthDisabled: getbool("ADMIN_AUTH_DISABLED", false),

		// Database
		DBDriver:    strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:      getenv("DB_PATH", "persona.db"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 20.0),
		RateBurst: getint("RATE_BURST", 40),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		OAuthStateTTL: getdur("OAUTH_STATE_TTL", 10*time.Minute),

		PersonaPath: getenv("PERSONA_CONFIG_PATH", "config/persona.yaml"),

		Webhook: WebhookConfig{
			Secret:          getenv("WEBHOOK_SECRET", ""),
			SignatureHeader: getenv("WEBHOOK_SIGNATURE_HEADER", "X-Fanvue-Signature"),
			Tolerance:       getdur("WEBHOOK_TOLERANCE", 300*time.Second),
			MaxBodyBytes:    int64(getint("WEBHOOK_MAX_BODY_BYTES", 1<<20)),
		},

		LLM: LLMConfig{
			APIKey:  getenv("LLM_API_KEY", getenv("OPENROUTER_API_KEY", "")),
			BaseURL: getenv("LLM_BASE_URL", "https://openrouter.ai/api/v1"),
			Model:   getenv("LLM_MODEL", "aion-labs/aion-2.0"),
			Timeout: getdur("LLM_TIMEOUT", 30*time.Second),
			Referer: getenv("LLM_REFERER", "http://localhost:8000"),
		},

		Platform: PlatformConfig{
			BaseURL:      strings.TrimRight(getenv("PLATFORM_BASE_URL", "https://api.fanvue.com"), "/"),
			AuthURL:      getenv("PLATFORM_AUTH_URL", "https://auth.fanvue.com/oauth2/auth"),
			TokenURL:     getenv("PLATFORM_TOKEN_URL", "https://auth.fanvue.com/oauth2/token"),
			ClientID:     getenv("PLATFORM_CLIENT_ID", ""),
			ClientSecret: getenv("PLATFORM_CLIENT_SECRET", ""),
			APIKey:       getenv("PLATFORM_API_KEY", ""),
			APIVersion:   getenv("PLATFORM_API_VERSION", "2025-06-26"),
			RedirectURI:  getenv("PLATFORM_REDIRECT_URI", ""),
			Scopes:       splitCSV(getenv("PLATFORM_SCOPES", "chat:read,chat:write")),
			LoginScopes:  splitCSV(getenv("PLATFORM_LOGIN_SCOPES", "openid,offline_access,offline,read:self")),
			Timeout:      getdur("PLATFORM_TIMEOUT", 30*time.Second),
			TokenMargin:  getdur("PLATFORM_TOKEN_MARGIN", 5*time.Minute),
			SendRPS:      getfloat("PLATFORM_SEND_RPS", 5.0),
			SendBurst:    getint("PLATFORM_SEND_BURST", 10),
		},

		Pipeline: PipelineConfig{
			Workers:         getint("PIPELINE_WORKERS", 8),
			QueueSize:       getint("PIPELINE_QUEUE_SIZE", 256),
			EnqueueTimeout:  getdur("PIPELINE_ENQUEUE_TIMEOUT", time.Second),
			TaskTimeout:     getdur("PIPELINE_TASK_TIMEOUT", 2*time.Minute),
			SerializePerFan: getbool("PIPELINE_SERIALIZE_PER_FAN", false),
			HistoryLimit:    getint("HISTORY_LIMIT", 6),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "persona-engine"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	if cfg.DBDriver == "postgresql" {
		cfg.DBDriver = "postgres"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.ShutdownTimeout <= 0 {
		return cfg, errors.New("SHUTDOWN_TIMEOUT must be > 0")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	switch cfg.DBDriver {
	case "sqlite":
		if strings.TrimSpace(cfg.DBPath) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return cfg, errors.New("DATABASE_URL must be set when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OAuthStateTTL <= 0 {
		return cfg, errors.New("OAUTH_STATE_TTL must be > 0")
	}
	if cfg.Webhook.Tolerance <= 0 {
		return cfg, errors.New("WEBHOOK_TOLERANCE must be > 0")
	}
	if strings.TrimSpace(cfg.Webhook.SignatureHeader) == "" {
		return cfg, errors.New("WEBHOOK_SIGNATURE_HEADER must not be empty")
	}
	if cfg.Webhook.MaxBodyBytes <= 0 {
		return cfg, errors.New("WEBHOOK_MAX_BODY_BYTES must be > 0")
	}
	if cfg.LLM.Timeout <= 0 || cfg.Platform.Timeout <= 0 {
		return cfg, errors.New("LLM_TIMEOUT and PLATFORM_TIMEOUT must be > 0")
	}
	if cfg.Platform.TokenMargin < 0 {
		return cfg, errors.New("PLATFORM_TOKEN_MARGIN must be >= 0")
	}
	if cfg.Platform.SendRPS <= 0 || cfg.Platform.SendBurst < 1 {
		return cfg, errors.New("PLATFORM_SEND_RPS must be > 0 and PLATFORM_SEND_BURST >= 1")
	}
	if cfg.Pipeline.Workers < 1 {
		return cfg, errors.New("PIPELINE_WORKERS must be >= 1")
	}
	if cfg.Pipeline.QueueSize < 1 {
		return cfg, errors.New("PIPELINE_QUEUE_SIZE must be >= 1")
	}
	if cfg.Pipeline.TaskTimeout <= 0 || cfg.Pipeline.EnqueueTimeout <= 0 {
		return cfg, errors.New("PIPELINE_TASK_TIMEOUT and PIPELINE_ENQUEUE_TIMEOUT must be > 0")
	}
	if cfg.Pipeline.HistoryLimit < 1 {
		return cfg, errors.New("HISTORY_LIMIT must be >= 1")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// RequireServing checks the settings that only the serve command needs:
// a webhook secret to authenticate deliveries and a completion API key.
func (c Config) RequireServing() error {
	if strings.TrimSpace(c.Webhook.Secret) == "" {
		return errors.New("WEBHOOK_SECRET must not be empty")
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("LLM_API_KEY (or OPENROUTER_API_KEY) must not be empty")
	}
	return nil
}

// ---- helpers (no external deps) ----

func getenv(k, def string) string {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "1", "true", "yes", "y", "on":
			return true
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
