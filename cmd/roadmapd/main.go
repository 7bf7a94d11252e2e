// Roadmapd extracts business entities from submitted documents and keeps
// each organization's world model current.
//
// Configuration is loaded from ~/.config/roadmapd/config.yaml (or -config)
// and then from environment variables. See internal/config for details.
//
// Usage:
//
//	# Start server with defaults
//	roadmapd
//
//	# Configure via environment
//	SERVER_HTTP_PORT=8080 LLM_PROVIDER=anthropic LLM_API_KEY=... roadmapd
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/roadmapd/internal/config"
	"github.com/fyrsmithlabs/roadmapd/internal/events"
	httpserver "github.com/fyrsmithlabs/roadmapd/internal/http"
	"github.com/fyrsmithlabs/roadmapd/internal/llm"
	"github.com/fyrsmithlabs/roadmapd/internal/logging"
	"github.com/fyrsmithlabs/roadmapd/internal/memory"
	"github.com/fyrsmithlabs/roadmapd/internal/pipeline"
	"github.com/fyrsmithlabs/roadmapd/internal/run"
	"github.com/fyrsmithlabs/roadmapd/internal/secrets"
	"github.com/fyrsmithlabs/roadmapd/internal/storage"
	"github.com/fyrsmithlabs/roadmapd/internal/telemetry"
	"github.com/fyrsmithlabs/roadmapd/internal/worldmodel"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
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
			fmt.Fprintf(os.Stderr, "  roadmapd [-config path]   Start the roadmapd server\n")
			fmt.Fprintf(os.Stderr, "  roadmapd version          Show version information\n")
			os.Exit(1)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := runServer(ctx, *configPath); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func printVersion() {
	fmt.Printf("roadmapd by Fyrsmith Labs\n")
	fmt.Printf("Version:    %s\n", version)
	fmt.Printf("Commit:     %s\n", gitCommit)
	fmt.Printf("Build Date: %s\n", buildDate)
}

// runServer wires every dependency, serves HTTP and blocks until ctx is
// canceled, then shuts down within the configured timeout.
func runServer(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	tel, err := telemetry.New(ctx, telemetry.ConfigFromObservability(cfg.Observability, version))
	if err != nil {
		return fmt.Errorf("failed to initialize telemetry: %w", err)
	}

	logCfg, err := logging.ConfigFromObservability(cfg.Observability)
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}
	logger, err := logging.NewLogger(logCfg, global.GetLoggerProvider())
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	if degraded, derr := tel.Degraded(); degraded && cfg.Observability.EnableTelemetry {
		logger.Warn(ctx, "telemetry degraded, exporting disabled", zap.Error(derr))
	}

	logger.Info(ctx, "starting roadmapd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.String("llm_provider", cfg.LLM.Provider),
		zap.String("database", cfg.Database.Path))

	deps, err := initDependencies(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize dependencies: %w", err)
	}
	defer deps.Close()

	svc, err := initService(cfg, deps, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize run service: %w", err)
	}

	srv, err := httpserver.NewServer(svc, logger, &httpserver.Config{
		Host: cfg.Server.Host,
		Port: cfg.Server.Port,
	})
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
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout.Duration())
	defer cancel()

	var errs []error
	if err := srv.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	if err := tel.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("telemetry shutdown: %w", err))
	}
	logger.Info(shutdownCtx, "server shutdown complete")
	return errors.Join(errs...)
}

// dependencies holds infrastructure handles.
type dependencies struct {
	db       *storage.DB
	natsConn *nats.Conn
	scrubber secrets.Scrubber
	llm      llm.Client
}

// Close releases infrastructure resources.
func (d *dependencies) Close() {
	if d.natsConn != nil {
		_ = d.natsConn.Drain()
	}
	if d.db != nil {
		_ = d.db.Close()
	}
}

func initDependencies(ctx context.Context, cfg *config.Config, logger *logging.Logger) (*dependencies, error) {
	db, err := storage.Open(ctx, cfg.Database.Path)
	if err != nil {
		return nil, err
	}
	deps := &dependencies{db: db}

	scrubber, err := secrets.New(&secrets.Config{Enabled: cfg.Secrets.Enabled, Rules: secrets.DefaultRules()})
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to build scrubber: %w", err)
	}
	deps.scrubber = scrubber

	client, err := llm.New(cfg.LLM)
	if err != nil {
		deps.Close()
		return nil, fmt.Errorf("failed to build llm client: %w", err)
	}
	deps.llm = client

	if cfg.NATS.Enabled {
		nc, err := nats.Connect(cfg.NATS.URL,
			nats.Name("roadmapd"),
			nats.RetryOnFailedConnect(true),
			nats.MaxReconnects(5),
			nats.ReconnectWait(1*time.Second),
		)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("failed to connect to NATS at %s: %w", cfg.NATS.URL, err)
		}
		deps.natsConn = nc
		logger.Info(ctx, "connected to NATS", zap.String("url", cfg.NATS.URL))
	}
	return deps, nil
}

func initService(cfg *config.Config, deps *dependencies, logger *logging.Logger) (*run.Service, error) {
	orch, err := pipeline.NewFromConfig(cfg.Extraction, cfg.LLM, deps.scrubber, logger.Underlying())
	if err != nil {
		return nil, err
	}

	var sinks []run.SinkFactory
	if deps.natsConn != nil {
		pub := events.NewNATSSink(deps.natsConn, cfg.NATS.SubjectPrefix, logger)
		sinks = append(sinks, func(*run.Run) events.Sink { return pub })
	}

	return run.NewService(run.Deps{
		Orchestrator: orch,
		Runs:         run.NewSQLiteStore(deps.db),
		WorldModels:  worldmodel.NewSQLiteStore(deps.db),
		Memory:       memory.NewSQLiteStore(deps.db),
		LLM:          deps.llm,
		Scrubber:     deps.scrubber,
		Sinks:        sinks,
		Logger:       logger,
	})
}
