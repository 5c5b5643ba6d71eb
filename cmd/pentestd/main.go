// Pentestd is the autonomous security-testing orchestration daemon.
//
// It drives approval-gated engagement runs against an external tool
// execution service, exposes an HTTP control surface with an SSE event
// stream, and optionally mirrors run events to NATS.
//
// Usage:
//
//	# Start with defaults
//	pentestd
//
//	# Start with a config file; environment overrides apply on top
//	pentestd -config /etc/pentestd/config.yaml
//	PENTESTD_MODEL_API_KEY=... pentestd
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/fulcrumsec/pentestd/internal/config"
	"github.com/fulcrumsec/pentestd/internal/events"
	"github.com/fulcrumsec/pentestd/internal/httpapi"
	"github.com/fulcrumsec/pentestd/internal/logging"
	"github.com/fulcrumsec/pentestd/internal/model"
	"github.com/fulcrumsec/pentestd/internal/playbook"
	"github.com/fulcrumsec/pentestd/internal/run"
	"github.com/fulcrumsec/pentestd/internal/secrets"
	"github.com/fulcrumsec/pentestd/internal/session"
	"github.com/fulcrumsec/pentestd/internal/toolbox"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("pentestd %s (commit %s, built %s)\n", version, gitCommit, buildDate)
		os.Exit(0)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, shutting down", sig)
		cancel()
	}()

	if err := runDaemon(ctx, *configPath); err != nil && err != http.ErrServerClosed {
		log.Fatalf("pentestd: %v", err)
	}
}

// runDaemon wires all services and blocks until ctx is cancelled.
func runDaemon(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("starting pentestd",
		zap.String("version", version),
		zap.Int("port", cfg.Server.Port),
		zap.Duration("shutdown_timeout", cfg.Server.ShutdownTimeout))

	// Event fan-out: in-process bus for SSE subscribers, plus an
	// optional NATS mirror when a URL is configured.
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	var publisher events.Publisher = bus
	if cfg.Events.NATSURL != "" {
		nc, err := nats.Connect(cfg.Events.NATSURL)
		if err != nil {
			return fmt.Errorf("connect to NATS: %w", err)
		}
		defer nc.Close()
		natsPub, err := events.NewNATSPublisher(nc, cfg.Events.SubjectPrefix, logger)
		if err != nil {
			return fmt.Errorf("initialize NATS publisher: %w", err)
		}
		logger.Info("mirroring events to NATS", zap.String("url", cfg.Events.NATSURL))
		publisher = events.Multi(bus, natsPub)
	}

	scrubber := secrets.MustNew(nil)
	sessions := session.NewManager(logger)

	playbooks, err := playbook.NewDirStore(cfg.Playbooks, logger)
	if err != nil {
		return fmt.Errorf("initialize playbook store: %w", err)
	}
	defer playbooks.Close()

	modelClient, err := model.NewAnthropicClient(cfg.Model)
	if err != nil {
		return fmt.Errorf("initialize model client: %w", err)
	}

	toolClient, err := toolbox.NewClient(cfg.Toolbox, logger)
	if err != nil {
		return fmt.Errorf("initialize toolbox client: %w", err)
	}
	dispatcher, err := toolbox.NewDispatcher(toolClient, scrubber, publisher, logger)
	if err != nil {
		return fmt.Errorf("initialize tool dispatcher: %w", err)
	}

	orch, err := run.New(cfg.Runs, sessions, modelClient, dispatcher, playbooks, publisher, logger)
	if err != nil {
		return fmt.Errorf("initialize orchestrator: %w", err)
	}

	server, err := httpapi.NewServer(cfg.Server, sessions, playbooks, orch, bus, logger)
	if err != nil {
		return fmt.Errorf("initialize http server: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Warn("orchestrator shutdown incomplete", zap.Error(err))
	}
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http server shutdown: %w", err)
	}
	logger.Info("shutdown complete")
	return nil
}
