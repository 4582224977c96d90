// taskd - Entry Point
//
// taskd is a task-scheduling daemon. Clients register tasks to run once at a
// point in time or on a recurring calendar pattern, and can retrieve, list and
// remove them while the daemon runs. Jobs live in memory only; a restart
// starts with an empty registry.
//
// Configuration is loaded from /etc/taskd/config.yaml (or the path given by
// -config) with TASKD_* environment overrides.
//
// Lifecycle:
//  1. Load configuration and set up the JSON logger
//  2. Build the normalizer, timer engine, registry and command surface
//  3. Open activation history if configured
//  4. Connect to NATS if configured and serve commands on it
//  5. Serve /healthz, /metrics, /ws and /api/commands if http_addr is set
//  6. Notify systemd that the service is ready and start the watchdog
//  7. Wait for SIGTERM/SIGINT, then shut down in reverse order
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/doughall/taskd/internal/commands"
	"github.com/doughall/taskd/internal/config"
	"github.com/doughall/taskd/internal/httpapi"
	"github.com/doughall/taskd/internal/logging"
	"github.com/doughall/taskd/internal/metrics"
	"github.com/doughall/taskd/internal/natsapi"
	"github.com/doughall/taskd/internal/schedule"
	"github.com/doughall/taskd/internal/scheduler"
	"github.com/doughall/taskd/internal/shutdown"
	"github.com/doughall/taskd/internal/stats"
	"github.com/doughall/taskd/internal/sysinfo"
	"github.com/doughall/taskd/internal/systemd"
	"github.com/doughall/taskd/internal/tasks"
	"github.com/doughall/taskd/internal/version"
	"github.com/doughall/taskd/internal/websocket"
)

// Default shutdown timeout - how long to wait for graceful shutdown
const shutdownTimeout = 30 * time.Second

// commandTimeout bounds a single command received over a transport.
const commandTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", config.DefaultConfigPath, "path to configuration file")
	showVersion := flag.Bool("version", false, "print version information and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.Info("taskd"))
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		// Use basic stderr logging before logger is configured
		fmt.Fprintf(os.Stderr, "ERROR: failed to load configuration from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	logger := logging.SetupLogger(cfg.LogLevel)

	logger.Info("taskd starting",
		slog.String("version", version.Version),
		slog.String("commit", version.Commit),
		slog.String("build_time", version.BuildTime),
		slog.String("config_path", *configPath),
		slog.String("instance_id", cfg.InstanceID),
		slog.String("locale", cfg.Locale),
		slog.String("endianness", cfg.Endianness),
	)

	if cfg.InstanceIDGenerated() {
		if err := config.SaveInstanceID(*configPath, cfg.InstanceID); err != nil {
			logger.Warn("failed to persist generated instance id",
				slog.String("instance_id", cfg.InstanceID),
				slog.String("error", err.Error()))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("taskd failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	loc, err := cfg.Location()
	if err != nil {
		return err
	}

	normalizer, err := schedule.NewNormalizer(schedule.Options{
		Locale:     cfg.Locale,
		Endianness: schedule.Endianness(cfg.Endianness),
		Location:   loc,
	})
	if err != nil {
		return fmt.Errorf("normalizer: %w", err)
	}

	coordinator := shutdown.NewCoordinator(logger)

	var history *scheduler.HistoryStore
	if cfg.HistoryEnabled() {
		history, err = scheduler.OpenHistory(cfg.HistoryPath, cfg.HistoryLimit)
		if err != nil {
			logger.Warn("failed to open activation history, history disabled",
				slog.String("path", cfg.HistoryPath),
				slog.String("error", err.Error()),
			)
			history = nil
		} else {
			coordinator.Register("history", shutdown.Func(func(context.Context) error {
				return history.Close()
			}))
			logger.Info("activation history initialized", slog.String("path", cfg.HistoryPath))
		}
	}

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	observer, err := metrics.NewCollector(promRegistry)
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	engine := scheduler.NewCronEngine(loc, logger)
	registry := scheduler.NewRegistry(scheduler.Options{
		Normalizer: normalizer,
		Engine:     engine,
		History:    history,
		Observer:   observer,
		Logger:     logger,
	})
	// Running tasks are cancelled before the engine waits for them.
	coordinator.Register("engine", engine)
	coordinator.Register("registry", registry)
	engine.Start()

	builder := tasks.NewBuilder(tasks.BuilderOptions{
		ExecTimeout:     cfg.ExecTimeout,
		WebhookTimeout:  cfg.WebhookTimeout,
		WebhookRetryMax: cfg.WebhookRetryMax,
		Logger:          logger,
	})

	collector := stats.NewCollector(logger)

	host, err := sysinfo.Collect(ctx)
	if err != nil {
		logger.Warn("failed to collect host info", slog.String("error", err.Error()))
	}

	surface := commands.NewSurface(commands.Options{
		Registry:   registry,
		Builder:    builder,
		History:    history,
		Collector:  collector,
		Host:       host,
		InstanceID: cfg.InstanceID,
		Locale:     cfg.Locale,
		Logger:     logger,
	})

	if cfg.NATSEnabled() {
		if err := startNATS(ctx, cfg, surface, builder, collector, registry, coordinator, logger); err != nil {
			logger.Warn("NATS unavailable, continuing without it",
				slog.String("error", err.Error()),
			)
		}
	}

	var wsServer *websocket.Server
	if cfg.HTTPAddr != "" {
		wsServer = websocket.NewServer(websocket.Options{
			Dispatcher:     surface,
			Rate:           cfg.CommandRate,
			Burst:          cfg.CommandBurst,
			CommandTimeout: commandTimeout,
			Logger:         logger,
		})
		httpServer := httpapi.NewServer(httpapi.Options{
			Addr:       cfg.HTTPAddr,
			Dispatcher: surface,
			WebSocket:  wsServer,
			Jobs:       registry,
			Gatherer:   promRegistry,
			Version:    version.Version,
			Logger:     logger,
		})
		if err := httpServer.Start(); err != nil {
			return err
		}
		coordinator.Register("http", httpServer)
		coordinator.Register("websocket", wsServer)
	}

	notifier := systemd.NewNotifier(logger)
	notifier.NotifyReady()
	notifier.StartWatchdog(ctx, func() bool {
		notifier.NotifyStatus("%d jobs registered", registry.Len())
		return true
	})

	logger.Info("taskd ready", slog.Int("components", coordinator.ComponentCount()))

	<-ctx.Done()
	logger.Info("shutdown signal received, starting graceful shutdown")

	notifier.NotifyStopping()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	return coordinator.Shutdown(shutdownCtx)
}

// startNATS connects to the bus, serves commands on it and attaches the
// publisher to everything that emits messages.
func startNATS(ctx context.Context, cfg *config.Config, surface *commands.Surface, builder *tasks.Builder,
	collector *stats.Collector, registry *scheduler.Registry, coordinator *shutdown.Coordinator, logger *slog.Logger) error {
	logger.Info("NATS enabled, initializing NATS client",
		slog.String("servers", cfg.NATSServers),
		slog.String("subject_prefix", cfg.NATSSubjectPrefix),
	)

	client := natsapi.NewClient(natsapi.Config{
		Servers:    cfg.NATSServers,
		NKeySeed:   cfg.NATSNKeySeed,
		Prefix:     cfg.NATSSubjectPrefix,
		InstanceID: cfg.InstanceID,
	}, logger)

	connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := client.Connect(connectCtx); err != nil {
		return err
	}
	coordinator.Register("nats", client)

	publisher := natsapi.NewPublisher(client, logger)
	builder.SetPublisher(publisher)
	surface.SetEventSink(publisher)

	server := natsapi.NewServer(client, surface, commandTimeout, logger)
	if err := server.Start(); err != nil {
		return err
	}
	coordinator.Register("nats-server", server)

	if cfg.HeartbeatInterval > 0 {
		reporter := stats.NewReporter(collector, publisher, registry, cfg.InstanceID,
			version.Version, cfg.HeartbeatInterval, logger)
		coordinator.Register("heartbeat", reporter)
		go reporter.Run(ctx)
	}

	logger.Info("NATS client initialized")
	return nil
}
