package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/nugget/torque2mqtt/internal/api"
	"github.com/nugget/torque2mqtt/internal/buildinfo"
	"github.com/nugget/torque2mqtt/internal/config"
	"github.com/nugget/torque2mqtt/internal/events"
	"github.com/nugget/torque2mqtt/internal/metrics"
	"github.com/nugget/torque2mqtt/internal/mqtt"
	"github.com/nugget/torque2mqtt/internal/opstate"
	"github.com/nugget/torque2mqtt/internal/payload"
	"github.com/nugget/torque2mqtt/internal/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const shutdownTimeout = 5 * time.Second

// runServe wires the session store, publisher and broker link behind the
// upload server and blocks until a signal, a server failure or a fatal
// link error.
func runServe(ctx context.Context, stdout io.Writer, stderr io.Writer, configPath string) error {
	cfg, cfgPath, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	level, err := config.ParseLogLevel(cfg.LogLevel)
	if err != nil {
		return err
	}
	logger := newLogger(stdout, level, cfg.LogFormat)
	logger.Info("starting torque2mqtt",
		"build", buildinfo.String(),
		"config", cfgPath,
		"format", cfg.MQTT.Format,
		"imperial", cfg.Imperial,
	)

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	history, err := opstate.NewStore(filepath.Join(cfg.DataDir, "torque2mqtt.db"))
	if err != nil {
		return fmt.Errorf("open link history: %w", err)
	}
	defer history.Close()
	if last, ok, err := history.Last(opstate.KindFatal); err != nil {
		logger.Warn("failed to read link history", "error", err)
	} else if ok {
		logger.Warn("previous run ended on a fatal mqtt error", "reason", last.Reason, "at", last.At)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	bus := events.New()

	store := session.NewStore(logger)
	if cfg.SessionTTL > 0 {
		go store.RunEviction(ctx, cfg.SessionTTL, 0)
		logger.Info("session eviction enabled", "ttl", cfg.SessionTTL)
	}

	var (
		link   *mqtt.Link
		sender mqtt.Sender
	)
	if cfg.MQTT.Raw() {
		logger.Info("raw format selected, messages are logged and not published")
	} else {
		clientID, err := mqtt.ClientID(cfg.MQTT, cfg.DataDir)
		if err != nil {
			return fmt.Errorf("resolve mqtt client id: %w", err)
		}
		dialer := mqtt.NewPahoDialer(cfg.MQTT, clientID, logger)
		link = mqtt.NewLink(dialer, mqtt.LinkConfig{}, logger)
		link.SetEventBus(bus)
		link.SetMetrics(m)
		link.SetHistory(history)
		sender = link
		logger.Info("mqtt configured", "broker", dialer.BrokerURL().String(), "client_id", clientID, "prefix", cfg.MQTT.Prefix)
	}

	publisher := mqtt.NewPublisher(store, payload.NewResolver(cfg.Imperial, logger), sender, cfg.MQTT, logger)
	publisher.SetEventBus(bus)

	server := api.NewServer(cfg.Server.IP, cfg.Server.Port, store, publisher, logger)
	server.SetEventBus(bus)
	server.SetMetrics(m, reg)
	server.SetHistory(history)
	if link != nil {
		server.SetLink(link)
	}

	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Start(ctx) }()

	var linkErr chan error
	linkDone := make(chan struct{})
	if link != nil {
		linkErr = make(chan error, 1)
		go func() {
			defer close(linkDone)
			linkErr <- link.Run(ctx)
		}()
	} else {
		close(linkDone)
	}

	runErr := supervise(ctx, logger, serverErr, linkErr)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("upload server shutdown failed", "error", err)
	}
	cancel()
	select {
	case <-linkDone:
	case <-shutdownCtx.Done():
		logger.Warn("mqtt link did not stop in time")
	}

	if runErr == nil {
		logger.Info("torque2mqtt stopped")
	}
	return runErr
}

// supervise waits for the first terminal condition. A cancelled context
// or a closed server is a clean exit; a [*mqtt.FatalError] is returned so
// the process exits non-zero and the service manager restarts it.
func supervise(ctx context.Context, logger *slog.Logger, serverErr, linkErr <-chan error) error {
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
		return nil

	case err := <-serverErr:
		if err == nil || errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("upload server: %w", err)

	case err := <-linkErr:
		var fatal *mqtt.FatalError
		if errors.As(err, &fatal) {
			logger.Error("exiting on fatal mqtt error", "reason", fatal.Reason, "code", fatal.Code, "error", fatal.Err)
			return err
		}
		if err != nil {
			return fmt.Errorf("mqtt link: %w", err)
		}
		return nil
	}
}
