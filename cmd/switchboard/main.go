// Switchboard is a smart routing proxy for LLM chat traffic.
//
// It exposes an OpenAI-compatible API and forwards each chat completion
// to the cheapest model that can handle it: quick heuristics catch
// vision, heavy-context, title-generation, escalation, and research
// requests, and a small classifier model labels everything else.
// Configuration is a YAML file plus a models.json catalog next to it,
// both hot-reloaded on change.
//
// Usage:
//
//	switchboard serve               Start the proxy
//	switchboard -config FILE serve  Start with an explicit config path
//	switchboard version             Print version and build information
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
	"strings"
	"syscall"
	"time"

	"github.com/nugget/switchboard/internal/api"
	"github.com/nugget/switchboard/internal/buildinfo"
	"github.com/nugget/switchboard/internal/classify"
	"github.com/nugget/switchboard/internal/config"
	"github.com/nugget/switchboard/internal/conversation"
	"github.com/nugget/switchboard/internal/registry"
	"github.com/nugget/switchboard/internal/router"
)

const defaultConfigPath = "config.yaml"

// main is intentionally minimal: it builds the OS-level environment and
// delegates to [run], keeping os.Exit and os.Args out of the logic that
// tests exercise.
func main() {
	ctx := context.Background()

	if err := run(ctx, os.Stdout, os.Stderr, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

// run parses arguments and dispatches to the requested command.
// Arguments are parsed by hand: the flag package's package-level state
// gets in the way of calling run concurrently from tests, and the
// surface here is two flags and two commands.
func run(ctx context.Context, stdout io.Writer, stderr io.Writer, args []string) error {
	var configPath string
	var command string

	for i := 0; i < len(args); i++ {
		switch {
		case args[i] == "-config" && i+1 < len(args):
			configPath = args[i+1]
			i++
		case strings.HasPrefix(args[i], "-config="):
			configPath = strings.TrimPrefix(args[i], "-config=")
		case args[i] == "-h" || args[i] == "-help" || args[i] == "--help":
			return printUsage(stdout)
		case !strings.HasPrefix(args[i], "-") && command == "":
			command = args[i]
		default:
			return fmt.Errorf("unknown flag: %s", args[i])
		}
	}

	if configPath == "" {
		configPath = defaultConfigPath
	}

	switch command {
	case "serve":
		return runServe(ctx, stdout, configPath)
	case "version":
		fmt.Fprintln(stdout, buildinfo.String())
		return nil
	case "", "help":
		return printUsage(stdout)
	default:
		return fmt.Errorf("unknown command: %s", command)
	}
}

func printUsage(w io.Writer) error {
	fmt.Fprintf(w, `switchboard - smart LLM routing proxy

Usage:
  switchboard serve               Start the proxy
  switchboard version             Print version and build information

Flags:
  -config FILE                    Config file path (default %s)
`, defaultConfigPath)
	return nil
}

func runServe(ctx context.Context, stdout io.Writer, configPath string) error {
	// The level var lets config hot reloads adjust verbosity without
	// rebuilding the logger.
	levelVar := new(slog.LevelVar)
	logger := newLogger(stdout, levelVar)
	logger.Info("starting Switchboard",
		"version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := applyLogLevel(cfg, levelVar); err != nil {
		logger.Warn("invalid log level in config, using info", "error", err)
	}

	addr, port := cfg.ListenAddr()
	routing := cfg.Routing()
	logger.Info("config loaded",
		"path", configPath,
		"port", port,
		"classifier_model", routing.ClassifierModel,
		"fallback_model", routing.FallbackModel,
		"token_threshold", routing.TokenThreshold,
	)

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	reg := registry.New(cfg, logger)
	clf := classify.New(reg, logger)
	store := conversation.NewStore(cfg.MaxConversations(), cfg.RetentionHours(), logger)
	engine := router.New(cfg, reg, clf, store, logger)
	server := api.NewServer(addr, port, engine, store, logger)

	if err := cfg.Watch(ctx, logger, func() {
		if err := applyLogLevel(cfg, levelVar); err != nil {
			logger.Warn("invalid log level in config, keeping current", "error", err)
		}
	}); err != nil {
		logger.Warn("config watcher unavailable, hot reload disabled", "error", err)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return server.Shutdown(shutdownCtx)
}

func applyLogLevel(cfg *config.Config, levelVar *slog.LevelVar) error {
	level, err := config.ParseLogLevel(cfg.LogLevel())
	levelVar.Set(level)
	return err
}

func newLogger(w io.Writer, level slog.Leveler) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: config.ReplaceLogLevelNames,
	}))
}
