// Truthd is the knowledge PR daemon.
//
// It serves the extraction, PR building, conflict, routing and merge
// pipeline over HTTP. Configuration comes from ~/.config/truthd/config.yaml
// (optional), a .env file in the working directory (optional) and the
// environment. See internal/config for the keys.
//
// Usage:
//
//	# Start server with defaults
//	truthd
//
//	# Run against the in-memory store
//	DATABASE_DRIVER=memory CACHE_BACKEND=memory OPENAI_API_KEY=sk-... truthd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/truthd/internal/cache"
	"github.com/fyrsmithlabs/truthd/internal/config"
	"github.com/fyrsmithlabs/truthd/internal/conflicts"
	"github.com/fyrsmithlabs/truthd/internal/embeddings"
	"github.com/fyrsmithlabs/truthd/internal/extraction"
	"github.com/fyrsmithlabs/truthd/internal/gateway"
	httpapi "github.com/fyrsmithlabs/truthd/internal/http"
	"github.com/fyrsmithlabs/truthd/internal/knowledge"
	"github.com/fyrsmithlabs/truthd/internal/logging"
	"github.com/fyrsmithlabs/truthd/internal/prbuilder"
	"github.com/fyrsmithlabs/truthd/internal/review"
	"github.com/fyrsmithlabs/truthd/internal/router"
	"github.com/fyrsmithlabs/truthd/internal/secrets"
	"github.com/fyrsmithlabs/truthd/internal/store"
	"github.com/fyrsmithlabs/truthd/internal/telemetry"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	flag.Parse()
	args := flag.Args()

	if len(args) > 0 {
		switch args[0] {
		case "version":
			printVersion()
			os.Exit(0)
		default:
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
			fmt.Fprintf(os.Stderr, "\nUsage:\n")
			fmt.Fprintf(os.Stderr, "  truthd           Start the truthd daemon\n")
			fmt.Fprintf(os.Stderr, "  truthd version   Show version information\n")
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received signal %v, shutting down gracefully...", sig)
		cancel()
	}()

	if err := run(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}
	log.Println("Server shutdown complete")
}

func printVersion() {
	fmt.Printf("truthd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// loadDotEnv reads .env from the working directory when present. Variables
// already set in the environment win.
func loadDotEnv() error {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

// run wires every component and serves until ctx is cancelled.
func run(ctx context.Context) error {
	if err := loadDotEnv(); err != nil {
		return err
	}
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.RequireAPIKey(); err != nil {
		return err
	}

	tel := telemetry.New(ctx, cfg.Telemetry, version)
	defer func() { _ = tel.Shutdown(context.Background()) }()

	logger, err := initLogger(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, reason := range tel.Degraded() {
		logger.Warn(ctx, "telemetry degraded", zap.String("reason", reason))
	}
	logger.Info(ctx, "starting truthd",
		zap.String("version", version),
		zap.String("addr", cfg.Server.Addr()),
		zap.String("database", cfg.Database.Driver),
		zap.String("embedding_cache", cfg.Cache.Backend))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	srv, err := initServer(cfg, deps, tel, logger)
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func initLogger(cfg *config.Config) (*logging.Logger, error) {
	lc, err := logging.FromAppConfig(cfg.Log)
	if err != nil {
		return nil, err
	}
	lc.Fields["version"] = version
	lc.Output.OTEL = cfg.Telemetry.Enabled
	return logging.NewLogger(lc, global.GetLoggerProvider())
}

// dependencies holds the infrastructure handles owned by the daemon.
type dependencies struct {
	store  store.Store
	caches *cache.Set
	logger *logging.Logger
}

// Close releases the caches and the store.
func (d *dependencies) Close() {
	ctx := context.Background()
	if d.caches != nil {
		if err := d.caches.Close(); err != nil {
			d.logger.Warn(ctx, "failed to close caches", zap.Error(err))
		}
	}
	if d.store != nil {
		if err := d.store.Close(); err != nil {
			d.logger.Warn(ctx, "failed to close store", zap.Error(err))
		}
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	deps := &dependencies{logger: logger}

	if cfg.Database.Driver == config.DriverMemory {
		deps.store = store.NewMemory()
		caches, err := cache.Open(ctx, cfg.Cache, nil)
		if err != nil {
			return nil, err
		}
		deps.caches = caches
		logger.Info(ctx, "using in-memory store")
		return deps, nil
	}

	pg, err := store.OpenPostgres(ctx, cfg.Database.URL.Value(), cfg.Database.MaxOpenConns)
	if err != nil {
		return nil, err
	}
	deps.store = pg

	if cfg.Database.AutoMigrate {
		if err := store.Migrate(pg.DB, "up", 0); err != nil {
			deps.Close()
			return nil, err
		}
		logger.Info(ctx, "database migrated")
	}

	caches, err := cache.Open(ctx, cfg.Cache, pg.DB)
	if err != nil {
		deps.Close()
		return nil, err
	}
	deps.caches = caches
	logger.Info(ctx, "connected to postgres", zap.Int("max_open_conns", cfg.Database.MaxOpenConns))
	return deps, nil
}

func initServer(cfg *config.Config, deps *dependencies, tel *telemetry.Telemetry, logger *logging.Logger) (*httpapi.Server, error) {
	tracer := func(pkg string) trace.Tracer { return tel.Tracer("github.com/fyrsmithlabs/truthd/internal/" + pkg) }

	gw, err := gateway.New(cfg.OpenAI, cfg.Embeddings, gateway.Options{
		Logger: logger.Named("gateway"),
		Tracer: tracer("gateway"),
		Meter:  tel.Meter("github.com/fyrsmithlabs/truthd/internal/gateway"),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create model gateway: %w", err)
	}

	scrubber, err := newScrubber(cfg.Pipeline, logger)
	if err != nil {
		return nil, err
	}

	ex := extraction.New(gw, deps.caches.Extraction, extraction.Options{
		Model: gw.Model(), Scrubber: scrubber, Logger: logger.Named("extraction"), Tracer: tracer("extraction"),
	})
	emb := embeddings.NewService(gw, deps.caches.Embedding, gw.EmbeddingModel(), embeddings.Options{
		Logger: logger.Named("embeddings"), Meter: tel.Meter("github.com/fyrsmithlabs/truthd/internal/embeddings"),
	})
	kn := knowledge.NewService(deps.store, knowledge.Options{Logger: logger.Named("knowledge"), Tracer: tracer("knowledge")})

	srv, err := httpapi.NewServer(httpapi.Deps{
		Store:     deps.store,
		Extractor: ex,
		Builder:   prbuilder.New(deps.store, ex, emb, kn, prbuilder.Options{Logger: logger.Named("prbuilder"), Tracer: tracer("prbuilder")}),
		Conflicts: conflicts.New(deps.store, gw, conflicts.Options{Logger: logger.Named("conflicts"), Tracer: tracer("conflicts")}),
		Router:    router.New(deps.store, router.Options{Logger: logger.Named("router"), Tracer: tracer("router")}),
		Merger:    kn,
		Review:    review.New(deps.store, review.Options{Tracer: tracer("review")}),
		Logger:    logger.Named("http"),
		Meter:     tel.Meter("github.com/fyrsmithlabs/truthd/internal/http"),
	}, &httpapi.Config{Host: cfg.Server.Host, Port: cfg.Server.Port})
	if err != nil {
		return nil, fmt.Errorf("failed to create http server: %w", err)
	}
	return srv, nil
}

// newScrubber returns nil when scrubbing is disabled. A gitleaks config that
// fails to load leaves the built-in rules in place.
func newScrubber(pc config.PipelineConfig, logger *logging.Logger) (*secrets.Scrubber, error) {
	if !pc.ScrubSecrets {
		return nil, nil
	}
	var opts []secrets.Option
	if pc.Gitleaks {
		gl, err := secrets.NewGitleaks()
		if err != nil {
			logger.Warn(context.Background(), "gitleaks unavailable, using built-in scrub rules", zap.Error(err))
		} else {
			opts = append(opts, secrets.WithDetector(gl))
		}
	}
	s, err := secrets.New(nil, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create scrubber: %w", err)
	}
	return s, nil
}
