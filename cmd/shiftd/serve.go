package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/hyprside/shift/pkg/adminclient"
	"github.com/hyprside/shift/pkg/control"
	"github.com/hyprside/shift/pkg/stats"
)

// renderChanCapacity is the bounded Control Plane <-> Render Loop channel
// capacity named in §5 "Backpressure" (documented budget 1000-5000).
const renderChanCapacity = 1024

// metricsAddr is where the Prometheus exposition handler listens, matching
// the teacher pack's metrics-server convention (dantte-lp-gobfd's
// newMetricsServer) rather than folding metrics into the control socket.
const metricsAddr = "127.0.0.1:9469"

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

// serve wires the two core tasks (§5 "Scheduling model") together: the
// Control Plane event loop and the supervised Render Loop, communicating
// over bounded command/event channels, plus the ambient metrics endpoint
// and the optional admin-client launch.
func serve(ctx context.Context, cfg *Config) error {
	logger := newLogger(cfg.LogLevel)
	logger.Info().
		Str("socket", cfg.SocketPath).
		Str("drm_device", cfg.DRMDevice).
		Str("log_level", cfg.LogLevel).
		Msg("starting shiftd")

	collector := stats.New()

	srv, err := control.Bind(cfg.SocketPath, logger.With().Str("component", "control").Logger(), collector)
	if err != nil {
		return fmt.Errorf("shiftd: bind control plane: %w", err)
	}

	adminToken := srv.AddInitialAdminSession("admin")

	renderCmds := make(chan control.Command, renderChanCapacity)
	renderEvents := make(chan control.Event, renderChanCapacity)

	errs := make(chan error, 3)

	go func() {
		errs <- srv.Run(ctx, renderCmds, renderEvents)
	}()

	go func() {
		errs <- runRenderLoopSupervised(ctx, cfg.DRMDevice, logger.With().Str("component", "render").Logger(), renderCmds, renderEvents)
	}()

	metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(collector.Registry(), promhttp.HandlerOpts{})}
	go func() {
		<-ctx.Done()
		_ = metricsSrv.Shutdown(context.Background())
	}()
	go func() {
		logger.Info().Str("addr", metricsAddr).Msg("metrics server listening")
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- fmt.Errorf("shiftd: metrics server: %w", err)
			return
		}
		errs <- nil
	}()

	if len(cfg.AdminCommand) > 0 {
		launcher := adminclient.New(cfg.AdminCommand, cfg.SocketPath, logger.With().Str("component", "adminclient").Logger())
		if err := launcher.Start(ctx, adminToken); err != nil {
			logger.Warn().Err(err).Str("command", strings.Join(cfg.AdminCommand, " ")).Msg("failed to start admin client")
		}
	} else {
		logger.Warn().Msg("no admin-command configured; admin token must be supplied out of band")
		logger.Debug().Str("token", adminToken).Msg("admin session token")
	}

	var firstErr error
	for range 3 {
		if err := <-errs; err != nil && firstErr == nil && !errors.Is(err, context.Canceled) {
			firstErr = err
		}
	}

	if firstErr != nil {
		return firstErr
	}
	logger.Info().Msg("shiftd shutdown complete")
	return nil
}
