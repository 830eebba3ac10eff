// threadnode -- an IEEE 802.15.4 / 6LoWPAN / Thread mesh node daemon.
package main

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/trace"
	"syscall"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/threadcore/node/internal/buf"
	"github.com/threadcore/node/internal/config"
	"github.com/threadcore/node/internal/netif"
	"github.com/threadcore/node/internal/radio"
	"github.com/threadcore/node/internal/tasklet"
	"github.com/threadcore/node/internal/threadmetrics"
	appversion "github.com/threadcore/node/internal/version"
)

// shutdownTimeout is the maximum time to wait for the metrics server to
// drain active connections during graceful shutdown.
const shutdownTimeout = 10 * time.Second

// flightRecorderMinAge is the minimum window age for the flight recorder.
// Captures the last 500ms of execution traces for debugging mesh failures.
const flightRecorderMinAge = 500 * time.Millisecond

// flightRecorderMaxBytes is the upper bound on flight recorder window size.
const flightRecorderMaxBytes = 2 * 1024 * 1024 // 2 MiB

// eventLoopPollInterval bounds how long the run loop sleeps before
// re-draining the scheduler when no timer is pending, so that tasklets
// posted by a radio driver's background goroutine (e.g. UDPMedium's
// receive loop) are never left queued for long.
const eventLoopPollInterval = 100 * time.Millisecond

func main() {
	os.Exit(run())
}

func run() int {
	// 1. Parse flags.
	configPath := flag.String("config", "", "path to configuration file (YAML)")
	radioIface := flag.String("radio-iface", "", "multicast-capable network interface for the UDP radio medium (empty uses an in-process simulated radio)")
	flag.Parse()

	// 2. Load config.
	cfg, err := loadConfig(*configPath)
	if err != nil {
		// Logger is not set up yet; use a temporary stderr logger.
		slog.New(slog.NewTextHandler(os.Stderr, nil)).Error("failed to load configuration",
			slog.String("error", err.Error()),
		)
		return 1
	}

	// 3. Set up logger with dynamic level support for SIGHUP reload.
	logLevel := new(slog.LevelVar)
	logLevel.Set(config.ParseLogLevel(cfg.Log.Level))
	logger := newLoggerWithLevel(cfg.Log, logLevel)

	logger.Info("threadnode starting",
		slog.String("version", appversion.Version),
		slog.Int("channel", int(cfg.Node.Channel)),
		slog.String("pan_id", fmt.Sprintf("%#04x", cfg.Node.PANID)),
		slog.String("metrics_addr", cfg.Metrics.Addr),
	)

	// 4. Start flight recorder for post-mortem debugging of mesh failures.
	fr := startFlightRecorder(logger)

	// 5. Create Prometheus metrics collector.
	reg := prometheus.NewRegistry()
	collector := threadmetrics.NewCollector(reg)

	// 6. Build the node: scheduler, buffer pool, radio driver, and every
	// layer internal/netif.New wires together.
	n, err := buildNode(cfg, *radioIface, collector)
	if err != nil {
		logger.Error("failed to build node", slog.String("error", err.Error()))
		return 1
	}

	// 7. Run servers.
	if err := runServers(cfg, n, reg, logger, *configPath, logLevel, fr); err != nil {
		logger.Error("threadnode exited with error",
			slog.String("error", err.Error()),
		)
		return 1
	}

	logger.Info("threadnode stopped")
	return 0
}

// buildNode assembles a Disabled ThreadNetif from cfg: a radio driver (a
// real UDP multicast medium when ifaceName is given, otherwise an
// in-process simulated radio), a tasklet scheduler, and an arena buffer
// pool sized from cfg.Buffer.
func buildNode(cfg *config.Config, ifaceName string, collector *threadmetrics.Collector) (*netif.ThreadNetif, error) {
	sched := tasklet.New()
	pool := buf.NewPool(cfg.Buffer.PoolSize)

	var driver radio.Driver
	if ifaceName != "" {
		driver = radio.NewUDPMedium(ifaceName, sched)
	} else {
		driver = radio.NewSimulatedRadio(radio.NewBus(), sched)
	}

	masterKey, err := cfg.Node.MasterKeyBytes()
	if err != nil {
		return nil, err
	}

	extAddr := cfg.Node.ExtendedAddress
	if extAddr == 0 {
		extAddr, err = generateExtendedAddress()
		if err != nil {
			return nil, fmt.Errorf("generate extended address: %w", err)
		}
	}

	netCfg := netif.Config{
		Channel:           cfg.Node.Channel,
		PANID:             cfg.Node.PANID,
		ExtendedAddress:   extAddr,
		MasterKey:         [16]byte(masterKey),
		MeshLocalPrefix:   deriveMeshLocalPrefix(masterKey),
		ReassemblyTimeout: cfg.Mesh.ReassemblyTimeout,
		MPLDedupWindow:    cfg.MPL.DedupWindow,
		MPLEntryLifetime:  cfg.MPL.EntryLifetime,
	}

	n, err := netif.New(netCfg, driver, sched, pool, collector)
	if err != nil {
		return nil, fmt.Errorf("construct netif: %w", err)
	}
	if err := n.Enable(netCfg); err != nil {
		return nil, fmt.Errorf("enable netif: %w", err)
	}
	return n, nil
}

// generateExtendedAddress draws a random 64-bit IEEE extended address for
// nodes that were not assigned one in config, setting the
// locally-administered bit per EUI-64 convention (spec §4.6's Router/
// REED require only that the address be stable for the process lifetime).
func generateExtendedAddress() (uint64, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, err
	}
	b[0] |= 0x02
	var v uint64
	for _, c := range b {
		v = v<<8 | uint64(c)
	}
	return v, nil
}

// deriveMeshLocalPrefix derives this network's 64-bit mesh-local ULA
// prefix deterministically from the network key, so that every node
// provisioned with the same key agrees on the same mesh-local /64 without
// a separate commissioning value to carry in config (spec §4.5's
// mesh-local prefix is otherwise an operator-provisioned constant).
func deriveMeshLocalPrefix(networkKey []byte) [8]byte {
	sum := sha256.Sum256(networkKey)
	var prefix [8]byte
	copy(prefix[:], sum[:8])
	prefix[0] = 0xfd // RFC 4193 ULA
	return prefix
}

// runServers runs the node's event loop and the metrics HTTP server using
// an errgroup with signal-aware context for graceful shutdown.
func runServers(
	cfg *config.Config,
	n *netif.ThreadNetif,
	reg *prometheus.Registry,
	logger *slog.Logger,
	configPath string,
	logLevel *slog.LevelVar,
	fr *trace.FlightRecorder,
) error {
	metricsSrv := newMetricsServer(cfg.Metrics, reg)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return runEventLoop(gCtx, n, logger)
	})

	lc := net.ListenConfig{}
	g.Go(func() error {
		logger.Info("metrics server listening",
			slog.String("addr", cfg.Metrics.Addr),
			slog.String("path", cfg.Metrics.Path),
		)
		return listenAndServe(gCtx, &lc, metricsSrv, cfg.Metrics.Addr)
	})

	g.Go(func() error {
		return runWatchdog(gCtx, logger)
	})

	sigHUP := make(chan os.Signal, 1)
	signal.Notify(sigHUP, syscall.SIGHUP)
	g.Go(func() error {
		defer signal.Stop(sigHUP)
		handleSIGHUP(gCtx, sigHUP, configPath, logLevel, logger)
		return nil
	})

	notifyReady(logger)

	g.Go(func() error {
		<-gCtx.Done()
		return gracefulShutdown(gCtx, n, logger, fr, metricsSrv)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("run servers: %w", err)
	}
	return nil
}

// runEventLoop drives n's tasklet scheduler until ctx is cancelled. Each
// pass drains ready tasklets and due timers (tasklet.Scheduler.Drain),
// then sleeps until either the next timer is due or
// eventLoopPollInterval elapses, whichever comes first, before advancing
// the scheduler's logical clock by the wall-clock time actually slept.
// internal/netif's package doc places this loop here rather than inside
// ThreadNetif itself.
func runEventLoop(ctx context.Context, n *netif.ThreadNetif, logger *slog.Logger) error {
	logger.Info("event loop started")
	last := time.Now()

	for {
		n.Sched.Drain()

		select {
		case <-ctx.Done():
			return nil
		default:
		}

		wait := eventLoopPollInterval
		if deadline, ok := n.Sched.NextTimerDeadline(); ok {
			if remaining := deadline - n.Sched.Now(); remaining < wait {
				wait = remaining
			}
		}
		if wait < 0 {
			wait = 0
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		now := time.Now()
		n.Sched.Advance(now.Sub(last))
		last = now
	}
}

// -------------------------------------------------------------------------
// Systemd Integration — sd_notify + watchdog
// -------------------------------------------------------------------------

// notifyReady sends READY=1 to systemd, indicating the daemon has
// completed initialization and is ready to serve.
func notifyReady(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	if err != nil {
		logger.Warn("failed to notify systemd readiness",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: READY")
	}
}

// notifyStopping sends STOPPING=1 to systemd, indicating the daemon is
// beginning graceful shutdown.
func notifyStopping(logger *slog.Logger) {
	sent, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	if err != nil {
		logger.Warn("failed to notify systemd stopping",
			slog.String("error", err.Error()),
		)
		return
	}
	if sent {
		logger.Info("notified systemd: STOPPING")
	}
}

// runWatchdog sends periodic watchdog keepalives to systemd. The interval
// is WatchdogSec/2 as recommended by the systemd documentation. If the
// watchdog is not configured, the goroutine exits immediately.
func runWatchdog(ctx context.Context, logger *slog.Logger) error {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		logger.Warn("failed to check systemd watchdog",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if interval == 0 {
		logger.Debug("systemd watchdog not configured, skipping keepalive")
		return nil
	}

	tickInterval := interval / 2
	logger.Info("systemd watchdog enabled",
		slog.Duration("watchdog_sec", interval),
		slog.Duration("keepalive_interval", tickInterval),
	)

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, wdErr := daemon.SdNotify(false, daemon.SdNotifyWatchdog); wdErr != nil {
				logger.Warn("failed to send watchdog keepalive",
					slog.String("error", wdErr.Error()),
				)
			}
		}
	}
}

// -------------------------------------------------------------------------
// SIGHUP Reload — log level only
// -------------------------------------------------------------------------

// handleSIGHUP listens for SIGHUP and reloads the dynamic log level from a
// fresh read of configPath. Radio identity (channel, PAN ID, network key)
// is fixed for the process lifetime and is not reloaded: changing it
// mid-run would silently orphan every neighbor and child relationship the
// device FSM has built up. Blocks until ctx is cancelled.
func handleSIGHUP(
	ctx context.Context,
	sigHUP <-chan os.Signal,
	configPath string,
	logLevel *slog.LevelVar,
	logger *slog.Logger,
) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sigHUP:
			logger.Info("received SIGHUP, reloading log level")
			newCfg, err := loadConfig(configPath)
			if err != nil {
				logger.Error("failed to reload configuration, keeping current settings",
					slog.String("error", err.Error()),
				)
				continue
			}

			oldLevel := logLevel.Level()
			newLevel := config.ParseLogLevel(newCfg.Log.Level)
			logLevel.Set(newLevel)

			logger.Info("configuration reloaded",
				slog.String("old_log_level", oldLevel.String()),
				slog.String("new_log_level", newLevel.String()),
			)
		}
	}
}

// -------------------------------------------------------------------------
// Graceful Shutdown
// -------------------------------------------------------------------------

// gracefulShutdown performs an orderly shutdown: signals systemd, disables
// the node's MAC engine and device FSM, dumps the flight recorder trace,
// then shuts down the metrics server.
//
// The parent context is already cancelled when this function is called. A
// fresh timeout context is created internally for server drain.
func gracefulShutdown(
	ctx context.Context,
	n *netif.ThreadNetif,
	logger *slog.Logger,
	fr *trace.FlightRecorder,
	servers ...*http.Server,
) error {
	logger.Info("initiating graceful shutdown")
	notifyStopping(logger)

	if err := n.Disable(); err != nil {
		logger.Warn("failed to disable netif cleanly", slog.String("error", err.Error()))
	}

	if fr != nil {
		fr.Stop()
		logger.Debug("flight recorder stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	var shutdownErr error
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			shutdownErr = errors.Join(shutdownErr, fmt.Errorf("shutdown server: %w", err))
		}
	}
	return shutdownErr
}

// -------------------------------------------------------------------------
// Flight Recorder — Go 1.26 runtime/trace
// -------------------------------------------------------------------------

// startFlightRecorder initializes and starts the Go 1.26 FlightRecorder
// for post-mortem debugging of mesh failures. The recorder maintains a
// rolling window of execution trace data that can be dumped on demand.
func startFlightRecorder(logger *slog.Logger) *trace.FlightRecorder {
	fr := trace.NewFlightRecorder(trace.FlightRecorderConfig{
		MinAge:   flightRecorderMinAge,
		MaxBytes: flightRecorderMaxBytes,
	})

	if err := fr.Start(); err != nil {
		logger.Warn("failed to start flight recorder",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("flight recorder started",
		slog.Duration("min_age", flightRecorderMinAge),
		slog.Uint64("max_bytes", flightRecorderMaxBytes),
	)

	return fr
}

// -------------------------------------------------------------------------
// Server Setup
// -------------------------------------------------------------------------

// listenAndServe creates a TCP listener using the ListenConfig (for noctx
// compliance) and serves HTTP requests until the server is shut down.
func listenAndServe(ctx context.Context, lc *net.ListenConfig, srv *http.Server, addr string) error {
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("serve on %s: %w", addr, err)
	}
	return nil
}

// newMetricsServer creates an HTTP server for the Prometheus metrics endpoint.
func newMetricsServer(cfg config.MetricsConfig, reg *prometheus.Registry) *http.Server {
	mux := http.NewServeMux()
	mux.Handle(cfg.Path, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	return &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// loadConfig loads configuration from a file path or returns defaults.
func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		cfg, err := config.Load(path)
		if err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
		return cfg, nil
	}
	return config.DefaultConfig(), nil
}

// newLoggerWithLevel creates a structured logger using a shared LevelVar
// for dynamic log level changes via SIGHUP reload.
func newLoggerWithLevel(cfg config.LogConfig, level *slog.LevelVar) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch cfg.Format {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
