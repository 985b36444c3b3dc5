package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	devhandler "github.com/ehrlich-b/go-devhandler"
	"github.com/ehrlich-b/go-devhandler/internal/config"
	"github.com/ehrlich-b/go-devhandler/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Attach the configured devices and keep them attached",
	Long: `Attach every device listed in the configuration, export handler metrics
and wait for SIGINT or SIGTERM. On shutdown every device is detached within
shutdown_timeout.

Send SIGUSR1 to dump goroutine stacks.

Examples:
  # Serve with the default config file
  devhandler serve

  # Serve with debug logging
  DEVHANDLER_LOGGING_LEVEL=DEBUG devhandler serve --config /etc/devhandler/config.yaml`,
	RunE: runServe,
}

// unitSet closes opened units in reverse order
type unitSet []io.Closer

func (u unitSet) Close() {
	for i := len(u) - 1; i >= 0; i-- {
		u[i].Close()
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return err
	}
	if len(cfg.Devices) == 0 {
		return errors.New("no devices configured")
	}

	logger, closer, err := config.NewLogger(cfg.Logging)
	if err != nil {
		return err
	}
	defer closer.Close()
	logging.SetDefault(logger)

	logger.Info("Log level", "level", cfg.Logging.Level, "format", cfg.Logging.Format)
	logger.Info("Configuration loaded", "source", configSource(GetConfigFile()), "devices", len(cfg.Devices))

	metrics := devhandler.NewMetrics()
	observers := devhandler.MultiObserver{devhandler.NewMetricsObserver(metrics)}
	registry := devhandler.NewRegistry(nil)

	var metricsServer *http.Server
	if cfg.Metrics.Enabled {
		reg := prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		prom, err := devhandler.NewPrometheusObserver(reg)
		if err != nil {
			return fmt.Errorf("failed to register metrics: %w", err)
		}
		observers = append(observers, prom)
		registry.SetIntrospector(prom)
		metricsServer = startMetricsServer(cfg.Metrics, reg, logger)
	} else {
		logger.Info("Metrics collection disabled")
	}

	options := &devhandler.Options{Logger: logger, Observer: observers}
	if _, err := devhandler.RegisterMediaHandlers(registry, cfg.Handler, options); err != nil {
		return err
	}
	defer registry.Reset()
	target := devhandler.NewTarget(registry, options)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stopDumps := watchStackDumps(logger)
	defer stopDumps()

	var units unitSet
	defer units.Close()
	for _, dc := range cfg.Devices {
		dev, unit, err := openDevice(dc)
		if err != nil {
			shutdown(target, metricsServer, cfg.ShutdownTimeout, logger)
			return fmt.Errorf("device %s: %w", dc.Name, err)
		}
		units = append(units, unit)

		if err := target.Attach(ctx, dev); err != nil {
			shutdown(target, metricsServer, cfg.ShutdownTimeout, logger)
			return err
		}
		info := dev.Info()
		logger.Info("Device attached",
			"device", info.Name,
			"id", info.ID,
			"handler", info.Handler,
			"block_size", info.BlockSize,
			"state", info.State)
	}

	fmt.Printf("Attached %d devices. Press Ctrl+C to stop.\n", len(cfg.Devices))

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdown(target, metricsServer, cfg.ShutdownTimeout, logger)

	snap := metrics.Snapshot()
	logger.Info("Shutdown complete",
		"attaches", snap.Attaches,
		"probe_fallbacks", snap.ProbeFallbacks,
		"commands", snap.Commands,
		"shift_updates", snap.ShiftUpdates)
	return nil
}

func startMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry, logger *logging.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	srv := &http.Server{
		Addr:              cfg.Address,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics server failed", "error", err)
		}
	}()
	logger.Info("Metrics enabled", "address", cfg.Address, "path", cfg.Path)
	return srv
}

// shutdown detaches every device and stops the metrics server, giving up
// after timeout
func shutdown(target *devhandler.Target, metricsServer *http.Server, timeout time.Duration, logger *logging.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan struct{})
	go func() {
		target.Close()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("All devices detached")
	case <-ctx.Done():
		logger.Warn("Detach timed out, exiting anyway", "timeout", timeout)
	}

	if metricsServer != nil {
		if err := metricsServer.Shutdown(ctx); err != nil {
			logger.Warn("Metrics server shutdown error", "error", err)
		}
	}
}

func configSource(path string) string {
	if path != "" {
		return path
	}
	return "default (" + config.GetDefaultConfigPath() + ")"
}
