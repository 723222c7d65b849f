package command

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tbourn/persona-engine/internal/config"
	"github.com/tbourn/persona-engine/internal/dispatch"
	httpapi "github.com/tbourn/persona-engine/internal/http"
	"github.com/tbourn/persona-engine/internal/jobs"
	"github.com/tbourn/persona-engine/internal/llm"
	"github.com/tbourn/persona-engine/internal/observability"
	"github.com/tbourn/persona-engine/internal/platform"
	"github.com/tbourn/persona-engine/internal/repo"
	"github.com/tbourn/persona-engine/internal/safety"
	"github.com/tbourn/persona-engine/internal/services"
)

// NewServeCmd runs the HTTP server until SIGINT or SIGTERM.
func NewServeCmd(version string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the platform webhook, OAuth login and admin API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := cfg.RequireServing(); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, version)
		},
	}
}

func serve(ctx context.Context, cfg config.Config, version string) error {
	persona, err := config.LoadPersona(cfg.PersonaPath)
	if err != nil {
		return err
	}
	logPersona(persona, cfg)

	shutdownOTel, err := observability.SetupOTel(ctx, cfg.OTEL, version)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}

	db, err := repo.Open(cfg)
	if err != nil {
		return err
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}
	if err := repo.AutoMigrate(db); err != nil {
		return err
	}

	completer, err := llm.NewOpenAIClient(cfg.LLM)
	if err != nil {
		return err
	}
	filter := safety.New(persona.ContentFilters.BlockedTopics, persona.ContentFilters.SafeResponses)

	oauth := platform.NewOAuth(cfg.Platform, nil)
	tokens := platform.NewTokenProvider(cfg.Platform, oauth, nil)
	client := platform.NewClient(cfg.Platform, tokens, nil)

	pipeline := services.NewMessagePipeline(
		repo.NewFanStore(db),
		services.NewLoreExtractor(completer, persona.Name),
		services.NewPersonaResponder(persona, completer, filter),
		client,
	)
	pipeline.HistoryLimit = cfg.Pipeline.HistoryLimit

	pool := dispatch.New(dispatch.Options{
		Workers:        cfg.Pipeline.Workers,
		QueueSize:      cfg.Pipeline.QueueSize,
		EnqueueTimeout: cfg.Pipeline.EnqueueTimeout,
		TaskTimeout:    cfg.Pipeline.TaskTimeout,
		SerializeByKey: cfg.Pipeline.SerializePerFan,
	})

	janitor, err := jobs.NewJanitor(db, jobs.DefaultPruneSchedule)
	if err != nil {
		return err
	}
	janitor.Start()

	gin.SetMode(cfg.GinMode)
	r := gin.New()
	httpapi.RegisterRoutes(r, cfg, httpapi.Deps{
		DB:       db,
		Pipeline: pipeline,
		Queue:    pool,
		OAuth:    oauth,
		Tokens:   tokens,
		Profiles: client,
	})

	srv := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Port),
		Handler:           r,
		ReadTimeout:       cfg.ReadTimeout,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		MaxHeaderBytes:    cfg.MaxHeaderBytes,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("version", version).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case serveErr = <-errCh:
		log.Error().Err(serveErr).Msg("http server failed")
	}

	// Stop accepting webhooks first, then drain queued messages.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("pipeline queue did not drain before the deadline")
	}
	if err := janitor.Stop(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("janitor shutdown")
	}
	otelCtx, otelCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer otelCancel()
	if err := shutdownOTel(otelCtx); err != nil {
		log.Warn().Err(err).Msg("otel shutdown")
	}
	log.Info().Msg("stopped")
	return serveErr
}

// logPersona prints the loaded character once at startup.
func logPersona(p config.Persona, cfg config.Config) {
	ev := log.Info().
		Str("persona", p.Name).
		Int("sections", len(p.Sections)).
		Int("blocked_topics", len(p.ContentFilters.BlockedTopics)).
		Int("safe_responses", len(p.ContentFilters.SafeResponses)).
		Str("model", cfg.LLM.Model).
		Int("workers", cfg.Pipeline.Workers).
		Bool("serialize_per_fan", cfg.Pipeline.SerializePerFan)
	for _, s := range p.Sections {
		for _, it := range s.Items {
			log.Debug().Str("section", s.Title).Str(it.Label, it.Value).Msg("persona attribute")
		}
	}
	ev.Msg("persona loaded")
}
