package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/crossdesk/relay/internal/api"
	"github.com/crossdesk/relay/internal/auth"
	"github.com/crossdesk/relay/internal/config"
	"github.com/crossdesk/relay/internal/httpserver"
	"github.com/crossdesk/relay/internal/metrics"
	"github.com/crossdesk/relay/internal/ratelimit"
	"github.com/crossdesk/relay/internal/rooms"
	"github.com/crossdesk/relay/internal/session"
	"github.com/crossdesk/relay/internal/signaling"
	"github.com/crossdesk/relay/internal/turnrest"
)

var (
	// Set via -ldflags at build time. Values may be empty in local/dev builds.
	buildCommit = ""
	buildTime   = ""
)

func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	logger, err := config.NewLogger(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	slog.SetDefault(logger)

	logger.Info("starting crossdesk-relay",
		"listen_addr", cfg.ListenAddr,
		"auth_mode", cfg.AuthMode,
		"activity_timeout", cfg.ActivityTimeout,
		"session_timeout", cfg.SessionTimeout,
		"sweep_interval", cfg.SweepInterval,
		"audit_log_capacity", cfg.AuditLogCapacity,
		"max_active_sessions", cfg.MaxActiveSessions,
		"allowed_locations", len(cfg.AllowedLocations),
		"control_relay_mode", cfg.ControlRelayMode,
		"ice_servers", len(cfg.ICEServers),
	)

	logStartupSecurityWarnings(logger, cfg)

	verifier, err := auth.NewVerifier(cfg)
	if err != nil {
		logger.Error("failed to configure auth", "err", err)
		os.Exit(2)
	}

	ln, err := net.Listen("tcp", cfg.ListenAddr)
	if err != nil {
		logger.Error("failed to listen", "err", err)
		os.Exit(1)
	}

	commit, built := resolveBuildInfo(buildCommit, buildTime)
	srv := httpserver.New(cfg, logger, httpserver.BuildInfo{Commit: commit, BuildTime: built})

	turnGen, err := turnrest.FromConfig(cfg)
	if err != nil {
		logger.Error("failed to configure turn rest credentials", "err", err)
		os.Exit(2)
	}
	srv.SetTURNCredentials(turnGen)

	m := &metrics.Metrics{}
	clock := ratelimit.RealClock{}
	registry := rooms.NewRegistry(verifier, m, clock)
	sessions := session.NewManager(cfg, registry, m, clock, logger)

	sig := signaling.NewServer(cfg, registry, sessions, m, clock, logger)
	sig.SetTURNCredentials(turnGen)
	srv.Mux().Handle("GET /signal", sig)
	srv.Mux().Handle("/api/v1/", api.NewServer(cfg, verifier, sessions, registry, logger).Router())

	// Expose internal counters in Prometheus' text format.
	srv.Mux().Handle("GET /metrics", metrics.PrometheusHandler(m))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go sessions.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server exited", "err", err)
			os.Exit(1)
		}
		return
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown failed", "err", err)
	}

	if err := <-errCh; err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server exited after shutdown", "err", err)
		os.Exit(1)
	}
}

func resolveBuildInfo(commit, buildTime string) (string, string) {
	// Prefer ldflags-injected values (production builds) but fall back to the Go
	// build info when available (useful for `go run` / dev builds).
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if commit == "" {
					commit = s.Value
				}
			case "vcs.time":
				if buildTime == "" {
					buildTime = s.Value
				}
			}
		}
	}

	return commit, buildTime
}
