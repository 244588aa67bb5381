// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/nbrefactor/internal/api"
	"github.com/starford/nbrefactor/internal/history"
	"github.com/starford/nbrefactor/internal/inbox"
	"github.com/starford/nbrefactor/internal/llm"
	"github.com/starford/nbrefactor/internal/mcpserver"
	"github.com/starford/nbrefactor/internal/prompts"
	"github.com/starford/nbrefactor/internal/refactor"
	"github.com/starford/nbrefactor/internal/sse"
	"github.com/starford/nbrefactor/internal/storage"
	"github.com/starford/nbrefactor/internal/web"
)

// runtime holds the components shared by every front end.
type runtime struct {
	cfg    *Config
	logger *slog.Logger
	store  *storage.FS
	db     *history.DB
	crew   *prompts.Crew
	llm    llm.Submitter
}

func (rt *runtime) Close() error {
	return rt.db.Close()
}

// service builds a refactoring service. progress may be nil.
func (rt *runtime) service(progress refactor.ProgressFunc) *refactor.Service {
	return refactor.NewService(rt.crew, rt.llm,
		refactor.WithStore(rt.store),
		refactor.WithHistory(rt.db),
		refactor.WithLogger(rt.logger),
		refactor.WithProgress(progress),
	)
}

// setup applies opts, installs the JSON logger and opens storage, history,
// crew and LLM client.
func setup(opts []Option) (*runtime, error) {
	app := &application{logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_path", cfg.Storage.Path),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("llm_model", cfg.LLM.Model),
		slog.String("log_level", cfg.App.LogLevel.String()))

	if cfg.LLM.APIKey == "" && app.submitter == nil {
		logger.Warn("llm api_key is empty; LLM calls will fail")
	}

	if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	store, err := storage.NewFS(cfg.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("init storage: %w", err)
	}

	crew, err := prompts.Load(cfg.Crew.Path)
	if err != nil {
		return nil, fmt.Errorf("load crew: %w", err)
	}

	if dir := filepath.Dir(cfg.SQLite.Path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create sqlite dir: %w", err)
		}
	}
	db, err := history.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}

	submitter := app.submitter
	if submitter == nil {
		submitter = llm.NewOpenAIClient(cfg.LLM, logger)
	}

	return &runtime{
		cfg:    cfg,
		logger: logger,
		store:  store,
		db:     db,
		crew:   crew,
		llm:    submitter,
	}, nil
}

// Run starts the HTTP server (and the inbox watcher when configured).
func Run(ctx context.Context, opts ...Option) error {
	rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.Close()

	cfg, logger := rt.cfg, rt.logger

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	svc := rt.service(broker.PublishProgress)

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
		if _, _, err := rt.db.ListRuns(1, 0); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// HTML upload UI, behind the same token as /api.
	web.NewHandler(svc, rt.db, rt.store, cfg.App.HTTP.MaxUploadBytes).
		Register(r, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Mount API routes under /api (SSE included, behind the same auth).
	apiHandler := api.NewHandler(svc, rt.db, rt.store, cfg.App.HTTP.MaxUploadBytes)
	r.Mount("/api", api.NewRouter(apiHandler, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker))

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Inbox watcher.
	if cfg.Inbox.Enabled() {
		if err := os.MkdirAll(cfg.Inbox.Path, 0o755); err != nil {
			return fmt.Errorf("create inbox dir: %w", err)
		}
		inboxStore, err := storage.NewFS(cfg.Inbox.Path)
		if err != nil {
			return fmt.Errorf("init inbox: %w", err)
		}
		w := inbox.New(inboxStore, svc, cfg.Inbox.Options, logger, nil)
		g.Go(func() error {
			if err := w.Sync(gCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("inbox: initial sync failed", slog.String("error", err.Error()))
			}
			return w.Watch(gCtx)
		})
	}

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

// errShutdown cancels the group so the inbox watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the MCP tools on stdin/stdout. Logs go to stderr unless
// WithLogOutput says otherwise.
func RunMCP(_ context.Context, opts ...Option) error {
	rt, err := setup(append([]Option{WithLogOutput(os.Stderr)}, opts...))
	if err != nil {
		return err
	}
	defer rt.Close()

	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.service(nil), rt.db).ServeStdio()
}

// RefactorFile runs a single notebook from disk and copies its artifacts
// into outDir.
func RefactorFile(ctx context.Context, path string, in refactor.Input, outDir string, progress refactor.ProgressFunc, opts ...Option) (*refactor.Result, error) {
	rt, err := setup(opts)
	if err != nil {
		return nil, err
	}
	defer rt.Close()

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open notebook: %w", err)
	}
	defer f.Close()

	in.Reader = f
	if in.Name == "" {
		in.Name = filepath.Base(path)
	}
	res, runErr := rt.service(progress).Run(ctx, in)
	if res == nil || outDir == "" {
		return res, runErr
	}

	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return res, errors.Join(runErr, fmt.Errorf("create output dir: %w", err))
	}
	out, err := storage.NewFS(outDir)
	if err != nil {
		return res, errors.Join(runErr, err)
	}
	for _, a := range res.Run.Artifacts {
		data, err := rt.store.Read(a.Path())
		if err != nil {
			return res, errors.Join(runErr, err)
		}
		if err := out.Write(a.Filename, data); err != nil {
			return res, errors.Join(runErr, err)
		}
	}
	return res, runErr
}
