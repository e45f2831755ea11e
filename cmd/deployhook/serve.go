package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"deployhook/internal/eventlog"
	"deployhook/internal/server"
	"deployhook/internal/target"
	"deployhook/pkg/fileutil"

	"github.com/spf13/cobra"
)

var (
	configFile      string
	host            string
	port            int
	logDir          string
	logLevel        string
	testMode        bool
	shutdownTimeout time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the webhook server",
	Long: `Start the HTTP server to receive GitHub and Gitee webhook requests.

Each configured target gets its own route. A merged pull request (GitHub) or
merge request (Gitee) into the branch of the environment resolved from the
request host runs the deploy script for that target.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVarP(&configFile, "config", "c", getEnvOrDefault("DEPLOYHOOK_CONFIG", ""), "Path to deployhook.yaml configuration file")
	serveCmd.Flags().StringVar(&host, "host", getEnvOrDefault("DEPLOYHOOK_HOST", ""), "Host to bind to (overrides listen.host)")
	serveCmd.Flags().IntVarP(&port, "port", "p", getEnvOrDefaultInt("DEPLOYHOOK_PORT", 0), "Port to listen on (overrides listen.port)")
	serveCmd.Flags().StringVar(&logDir, "log-dir", getEnvOrDefault("DEPLOYHOOK_LOG_DIR", ""), "Event log directory (overrides log.dir)")
	serveCmd.Flags().StringVar(&logLevel, "log-level", getEnvOrDefault("DEPLOYHOOK_LOG_LEVEL", "info"), "Console log level (debug, info, warn, error)")
	serveCmd.Flags().BoolVar(&testMode, "test-mode", getEnvBool("DEPLOYHOOK_TEST_MODE"), "Enable test mode (no rate limiting)")
	serveCmd.Flags().DurationVar(&shutdownTimeout, "shutdown-timeout", 10*time.Minute, "How long to wait for running deploys on shutdown")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, path, err := loadConfig(configFile)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	if host != "" {
		cfg.Host = host
	}
	if port != 0 {
		cfg.Port = port
	}
	if logDir != "" {
		cfg.LogDir = fileutil.ResolveRelative(mustGetwd(), logDir)
	}

	level, err := parseLevel(logLevel)
	if err != nil {
		return err
	}

	logger, events, err := setupLogging(cfg, level)
	if err != nil {
		return fmt.Errorf("failed to setup logging: %w", err)
	}
	defer events.Close()

	srv := server.NewServer(cfg, logger, testMode)
	logStartup(logger, srv, path, events.CurrentFile())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start(cfg.Host, cfg.Port)
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server failed", "error", err)
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down, waiting for running deploys", "timeout", shutdownTimeout.String())
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown incomplete", "error", err)
		return err
	}
	logger.Info("deployhook stopped", "dropped_log_lines", events.Dropped())
	return nil
}

// setupLogging builds one logger fanned out to JSON on stdout and the
// day-rotated event log. Event log failures go to a separate stderr logger.
func setupLogging(cfg target.Config, level slog.Level) (*slog.Logger, *eventlog.Log, error) {
	diagnostic := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	events, err := eventlog.New(eventlog.Options{
		Dir:        cfg.LogDir,
		Location:   cfg.Location,
		Diagnostic: diagnostic,
	})
	if err != nil {
		return nil, nil, err
	}

	console := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	logger := slog.New(eventlog.Fanout(console, events.Handler(slog.LevelInfo)))
	return logger, events, nil
}

func logStartup(logger *slog.Logger, srv *server.Server, path, eventFile string) {
	cfg := srv.Config
	logger.Info("deployhook started", "version", version, "config", path, "port", cfg.Port, "host", cfg.Host)

	test, production := srv.Resolver.Profiles()
	logger.Info("deploy branches",
		"test", test.Branch,
		"production", production.Branch,
		"test_hosts", strings.Join(srv.Resolver.TestHosts(), ","))
	logger.Info("event log file", "path", eventFile)

	if srv.Registry.Count() == 0 {
		logger.Warn("no targets configured; the server will not trigger any deploys", "config", path)
	}
	for _, t := range srv.Registry.All() {
		logger.Info("target registered", "target", t.Name, "route", t.Path, "pm2_app_name", t.PM2AppName, "log_path", t.LogPath)
	}
	for _, w := range secretWarnings(cfg) {
		logger.Warn("weak webhook secret", "detail", w)
	}
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("invalid log level %q: %w", s, err)
	}
	return level, nil
}

func mustGetwd() string {
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}
