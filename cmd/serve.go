package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"portfolio-agent/config"
	"portfolio-agent/database"
	"portfolio-agent/handlers"
	"portfolio-agent/logger"
	"portfolio-agent/metrics"
	"portfolio-agent/reply"
	"portfolio-agent/services"
	"portfolio-agent/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the chat API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return serve(cmd.Context(), cfg)
	},
}

// app is everything serve builds from configuration
type app struct {
	router  *gin.Engine
	closers []func() error
}

func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// buildApp wires sessions, providers, the archive and the router
func buildApp(ctx context.Context, cfg *config.Config, log *logger.Logger, provider *services.OpenAI) (*app, error) {
	a := &app{}
	m := metrics.New()

	var backend session.Backend
	switch cfg.SessionBackend {
	case config.BackendRedis:
		rdb, err := session.DialRedis(ctx, cfg.RedisURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, rdb.Close)
		backend = session.NewRedisBackend(rdb, cfg.SessionTTL)
		log.Info().Dur("ttl", cfg.SessionTTL).Msg("using redis session store")
	default:
		mem := session.NewMemoryBackend()
		m.TrackSessions(mem.Len)
		backend = mem
		log.Info().Msg("using in-memory session store")
	}

	klog := log.Component("knowledge")
	for _, doc := range cfg.Prompt.Knowledge {
		klog.Info().
			Str("file", doc.Name).
			Int("chars", len([]rune(doc.Content))).
			Bool("truncated", doc.Truncated).
			Msg("loaded knowledge file")
	}

	sessions := session.NewManager(backend, cfg.Prompt.SystemMessage())
	sessions.OnCreate = func(string) { m.SessionsCreated.Inc() }

	var archive services.Archive
	if cfg.ArchiveDSN != "" {
		db, dialect, err := database.Connect(ctx, cfg.ArchiveDSN, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		if err := database.RunMigrations(ctx, db, dialect); err != nil {
			db.Close()
			a.Close()
			return nil, err
		}
		arch := database.NewArchive(db, dialect)
		a.closers = append(a.closers, arch.Close)
		archive = arch
	}

	turns := services.NewTurnProcessor(services.Deps{
		Sessions:    sessions,
		Completer:   provider,
		Synthesizer: provider,
		Transcriber: provider,
		Normalizer: reply.Normalizer{
			BookingURL:   cfg.BookingURL,
			BookingLabel: cfg.BookingLabel,
			Keywords:     cfg.MeetingKeywords,
		},
		Fallback:    cfg.Prompt.FallbackResponse,
		AudioFormat: cfg.AudioFormat,
		Archive:     archive,
		Metrics:     m,
		Logger:      log,
	})

	a.router = handlers.SetupRouter(handlers.RouterConfig{
		Turns:        turns,
		Logger:       log,
		Metrics:      m,
		CORSOrigins:  cfg.CORSOrigins,
		MaxBodyBytes: cfg.MaxBodyBytes,
		Greeting:     cfg.Prompt.Greeting,
	})
	return a, nil
}

func setGinMode(mode string) {
	// Set Gin to release mode in production
	switch mode {
	case gin.DebugMode, gin.TestMode:
		gin.SetMode(mode)
	default:
		gin.SetMode(gin.ReleaseMode)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}
	log := logger.New(logger.Config{Level: cfg.LogLevel, Pretty: cfg.LogPretty})
	log.Info().
		Str("model", cfg.Model).
		Str("voice", cfg.Voice).
		Str("session_backend", cfg.SessionBackend).
		Bool("archive", cfg.ArchiveDSN != "").
		Msg("starting portfolio agent")

	setGinMode(cfg.GinMode)

	a, err := buildApp(ctx, cfg, log, services.NewOpenAI(cfg))
	if err != nil {
		return err
	}
	defer a.Close()

	// Create HTTP server
	srv := &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("port", cfg.ServerPort).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case sig := <-quit:
		log.Info().Str("signal", sig.String()).Msg("shutting down server")
	case <-ctx.Done():
		log.Info().Msg("shutting down server")
	}

	// Graceful shutdown with 5 second timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	log.Info().Msg("server exited")
	return nil
}
