// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// CORS, security headers, compression, and rate limiting.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - The webhook acknowledges fast and never waits on reply generation
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	_ "github.com/tbourn/persona-engine/docs"
	"github.com/tbourn/persona-engine/internal/config"
	"github.com/tbourn/persona-engine/internal/domain"
	"github.com/tbourn/persona-engine/internal/http/handlers"
	"github.com/tbourn/persona-engine/internal/http/middleware"
	"github.com/tbourn/persona-engine/internal/repo"
	"github.com/tbourn/persona-engine/internal/services"
)

// WebhookPath is the route the platform delivers events to.
const WebhookPath = "/webhooks/fanvue"

// Deps are the collaborators the routes are bound to. Profiles may be nil.
type Deps struct {
	DB       *gorm.DB
	Pipeline handlers.Processor
	Queue    handlers.Dispatcher
	OAuth    handlers.OAuthFlow
	Tokens   handlers.TokenSeeder
	Profiles handlers.ProfileFetcher
}

// fanRepoShim adapts the repository free functions to the services.FanRepo
// interface expected by the FanService. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type fanRepoShim struct{}

// GetFan proxies repo.GetFan.
func (fanRepoShim) GetFan(ctx context.Context, db *gorm.DB, fanID string) (*domain.Fan, error) {
	return repo.GetFan(ctx, db, fanID)
}

// CountFans proxies repo.CountFans (pagination support).
func (fanRepoShim) CountFans(ctx context.Context, db *gorm.DB) (int64, error) {
	return repo.CountFans(ctx, db)
}

// ListFansPage proxies repo.ListFansPage (pagination support).
func (fanRepoShim) ListFansPage(ctx context.Context, db *gorm.DB, offset, limit int) ([]domain.Fan, error) {
	return repo.ListFansPage(ctx, db, offset, limit)
}

// CountMessages proxies repo.CountMessages.
func (fanRepoShim) CountMessages(ctx context.Context, db *gorm.DB, fanID string) (int64, error) {
	return repo.CountMessages(ctx, db, fanID)
}

// ListMessagesPage proxies repo.ListMessagesPage.
func (fanRepoShim) ListMessagesPage(ctx context.Context, db *gorm.DB, fanID string, offset, limit int) ([]domain.Message, error) {
	return repo.ListMessagesPage(ctx, db, fanID, offset, limit)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with secret and PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Rate limiter (per IP; the webhook route is exempt)
//  8. CORS and Security headers
//
// The admin API under cfg.APIBasePath additionally gets bearer auth and gzip.
func RegisterRoutes(r *gin.Engine, cfg config.Config, d Deps) {
	r.HandleMethodNotAllowed = true

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{cfg.Webhook.SignatureHeader, handlers.FallbackSignatureHeader},
		SkipPaths:   []string{"/metrics", "/health"},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit
	r.Use(limitBody(max(1<<20, cfg.Webhook.MaxBodyBytes)))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics("/metrics"))
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Token-bucket rate limiter per IP
	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByIP()).Exempt(WebhookPath)
	r.Use(rl.Handler())

	// 8) CORS posture (safe defaults: allow all if none configured)
	corsCfg := cors.Config{
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"X-Request-ID", "Content-Length", "ETag"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.CORS.AllowedOrigins
	}
	r.Use(cors.New(corsCfg))

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	health := handlers.Health(cfg.OTEL.ServiceName)
	r.GET("/", health)
	r.GET("/health", health)

	// Swagger UI
	if cfg.SwaggerEnabled {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Platform webhook
	wh := handlers.NewWebhookHandler(cfg.Webhook, d.Pipeline, d.Queue)
	r.POST(WebhookPath, wh.Receive)

	// OAuth login
	auth := handlers.NewAuthHandler(d.DB, d.OAuth, d.Tokens, d.Profiles, cfg.OAuthStateTTL)
	{
		g := r.Group("/auth")
		g.GET("/login", auth.Login)
		g.GET("/callback", auth.Callback)
		g.GET("/refresh", auth.Refresh)
	}

	// Admin API: mounted only with a token, or when auth is explicitly disabled.
	if cfg.AdminToken == "" && !cfg.AdminAuthDisabled {
		log.Warn().Str("base_path", cfg.APIBasePath).Msg("ADMIN_TOKEN not set; admin API not mounted")
		return
	}
	fans := handlers.NewFanHandlers(services.NewFanService(d.DB, fanRepoShim{}))
	api := groupWithPrefix(r, cfg.APIBasePath)
	if !cfg.AdminAuthDisabled {
		api.Use(middleware.AdminAuth(cfg.AdminToken))
	}
	api.Use(gzip.Gzip(gzip.DefaultCompression))
	{
		api.GET("/fans", fans.ListFans)
		api.GET("/fans/:id", fans.GetFan)
		api.GET("/fans/:id/messages", fans.ListMessages)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// groupWithPrefix mounts a group at prefix, treating "/" (or empty) as root.
func groupWithPrefix(r *gin.Engine, prefix string) *gin.RouterGroup {
	if prefix == "" || prefix == "/" {
		return r.Group("")
	}
	return r.Group(prefix)
}
