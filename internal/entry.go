// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/sketchmark/internal/api"
	"github.com/starford/sketchmark/internal/drawingservice"
	"github.com/starford/sketchmark/internal/drawsync"
	"github.com/starford/sketchmark/internal/index"
	"github.com/starford/sketchmark/internal/live"
	"github.com/starford/sketchmark/internal/mcpserver"
	"github.com/starford/sketchmark/internal/sse"
	"github.com/starford/sketchmark/internal/storage"
	"github.com/starford/sketchmark/internal/textstore"
	pkgconfig "github.com/starford/sketchmark/pkg/config"
)

// runtime is the state shared by every command: the vault, its index and
// the drawing service on top of them.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *index.DB
	svc    *drawingservice.Service
}

func (rt *runtime) Close() {
	rt.svc.Close()
	if err := rt.db.Close(); err != nil {
		rt.logger.Warn("close index", slog.String("error", err.Error()))
	}
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// start opens the vault and the index, syncs them and builds the drawing
// service. Extra service options are applied after the configured ones.
func (a *application) start(logOutput io.Writer, svcOpts ...drawingservice.Option) (*runtime, error) {
	cfg := a.config
	if a.logOutput != nil {
		logOutput = a.logOutput
	}

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("vault_path", cfg.Vault.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("display_mode", cfg.Display.DefaultMode),
		slog.String("log_level", cfg.App.LogLevel.String()))

	// Ensure vault directory exists.
	if err := os.MkdirAll(cfg.Vault.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create vault dir: %w", err)
	}

	store, err := storage.NewFS(cfg.Vault.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}

	if err := index.Sync(db, store, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	opts := append([]drawingservice.Option{
		drawingservice.WithSettings(cfg.Settings()),
		drawingservice.WithLogger(logger),
	}, svcOpts...)

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		db:     db,
		svc:    drawingservice.New(store, db, opts...),
	}, nil
}

// watch keeps the index current and tells open sessions about changed
// documents until ctx is done.
func (rt *runtime) watch(ctx context.Context, cb index.EventCallback) error {
	return index.Watch(ctx, rt.db, rt.store, rt.cfg.Vault.Path, rt.logger, func(kind, path string) {
		rt.svc.DocumentChanged(path)
		if cb != nil {
			cb(kind, path)
		}
	})
}

// reload reads the config file again and applies its display settings to
// the service and its open sessions. Other sections need a restart.
func (rt *runtime) reload(path string) error {
	cfg := NewDefaultConfig()
	if err := pkgconfig.LoadOptional(path, cfg); err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	n := rt.svc.UpdateSettings(cfg.Settings())
	rt.logger.Info("Configuration reloaded",
		slog.String("path", path),
		slog.String("display_mode", cfg.Display.DefaultMode),
		slog.Int("redisplayed", n))
	return nil
}

// reloadOnHangup calls reload for every SIGHUP until ctx is done.
func (rt *runtime) reloadOnHangup(ctx context.Context, path string) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if path == "" {
				rt.logger.Warn("SIGHUP ignored: no config file")
				continue
			}
			if err := rt.reload(path); err != nil {
				rt.logger.Error("config reload failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := app.start(os.Stdout, drawingservice.WithOnUpdate(func(session, path string, u drawsync.Update) {
		ev := sse.TextEvent{Session: session, Path: path, ID: u.ID, Text: u.Text}
		if u.Kind == drawsync.UpdateEdited {
			broker.PublishTextEdited(ev)
			return
		}
		broker.PublishTextResolved(ev)
	}))
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg, logger := rt.cfg, rt.logger

	liveHandler := live.NewHandler(rt.svc, logger)
	apiRouter := api.NewRouter(rt.svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, liveHandler)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Start file watcher with SSE callback.
	g.Go(func() error {
		if err := rt.watch(gCtx, broker.PublishDocumentEvent); err != nil {
			logger.Error("file watcher stopped", slog.String("error", err.Error()))
		}
		return nil
	})

	g.Go(func() error {
		rt.reloadOnHangup(gCtx, app.configFile)
		return nil
	})

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown ends the errgroup so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the drawing tools over MCP on stdin/stdout.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	rt, err := app.start(os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := rt.watch(ctx, nil); err != nil {
			rt.logger.Error("file watcher stopped", slog.String("error", err.Error()))
		}
	}()
	go rt.reloadOnHangup(ctx, app.configFile)

	version := app.version
	if version == "" {
		version = "dev"
	}
	rt.logger.Info("MCP server starting", slog.String("version", version))
	return mcpserver.New(rt.svc, version).ServeStdio()
}

// Render writes the text elements of the drawing at path to w, one element
// per line as "id<TAB>text". mode is "raw" or "resolved"; empty means the
// configured default.
func Render(ctx context.Context, w io.Writer, path, mode string, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	if mode == "" {
		mode = app.config.Display.DefaultMode
	}
	m, ok := textstore.ParseMode(mode)
	if !ok {
		return fmt.Errorf("unknown mode %q", mode)
	}

	rt, err := app.start(os.Stderr)
	if err != nil {
		return err
	}
	defer rt.Close()

	d, err := rt.svc.Get(ctx, path, m)
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	for _, t := range d.Texts {
		if _, err := fmt.Fprintf(w, "%s\t%s\n", t.ID, strings.ReplaceAll(t.Display, "\n", `\n`)); err != nil {
			return err
		}
	}
	return nil
}
