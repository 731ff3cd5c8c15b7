// Command mindscope is the real-time EEG monitoring server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"

	"github.com/MrWong99/mindscope/internal/app"
	"github.com/MrWong99/mindscope/internal/config"
	"github.com/MrWong99/mindscope/internal/observe"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "", "path to the YAML configuration file (built-in defaults when empty)")
	envFile := flag.String("env", ".env", "path to a .env file with secrets; ignored when missing")
	connect := flag.Bool("connect", false, "connect to the configured acquisition endpoint at startup")
	watch := flag.Bool("watch", true, "reload the configuration file when it changes")
	flag.Parse()

	if err := config.LoadDotEnv(*envFile); err != nil {
		fmt.Fprintf(os.Stderr, "mindscope: %v\n", err)
		return 1
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := loadConfig(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "mindscope: config file %q not found; copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "mindscope: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	level := new(slog.LevelVar)
	level.Set(cfg.Server.LogLevel.Level())
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	slog.Info("mindscope starting",
		"version", version,
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	telemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetry.Shutdown(sctx); err != nil {
			slog.Warn("telemetry shutdown", "err", err)
		}
	}()

	// ── Application ───────────────────────────────────────────────────────────
	application, err := app.New(ctx, cfg,
		app.WithLevelVar(level),
		app.WithMetrics(telemetry.Metrics),
		app.WithMetricsHandler(telemetry.Handler()),
	)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if *configPath != "" && *watch {
		w, err := config.NewWatcher(*configPath, application.Reload)
		if err != nil {
			slog.Warn("config hot reload disabled", "err", err)
		} else {
			defer w.Stop()
		}
	}

	printStartupSummary(cfg, application.Recording())

	if *connect {
		if err := application.ConnectDefault(ctx); err != nil {
			slog.Error("initial connect failed; use POST /api/connect to retry", "err", err)
		}
	}

	slog.Info("server ready; press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		shutdown(application)
		return 1
	}

	slog.Info("shutdown signal received, stopping")
	if err := shutdown(application); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		cfg := config.Default()
		config.ApplyEnv(cfg, os.LookupEnv)
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}
	return config.Load(path)
}

func shutdown(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return a.Shutdown(ctx)
}

// ── Startup summary ───────────────────────────────────────────────────────────

var (
	heading = color.New(color.FgCyan, color.Bold)
	label   = color.New(color.FgWhite)
	good    = color.New(color.FgGreen)
	muted   = color.New(color.FgHiBlack)
)

func printStartupSummary(cfg *config.Config, recording bool) {
	a := cfg.Acquisition
	heading.Println("mindscope: startup summary")
	row("Driver", good.Sprint(a.Driver))
	row("Endpoint", fmt.Sprintf("%s:%d", a.Address, a.Port))
	row("Layout", fmt.Sprintf("%d ch @ %g Hz, batches of %d", a.Channels, a.SampleRate, a.BatchSize))
	if len(a.ChannelNames) > 0 {
		row("Channels", strings.Join(a.ChannelNames, " "))
	}
	row("Classes", strings.Join(cfg.Classification.Labels, ", "))
	row("Spectrum", fmt.Sprintf("%d-sample window on channel %d, up to %g Hz", cfg.Spectral.Window, cfg.Spectral.ReferenceChannel, cfg.Spectral.MaxFreq))
	row("Render", cfg.Render.Interval.String())
	if recording {
		row("Recorder", good.Sprintf("clickhouse %s/%s", cfg.Recorder.Addr, cfg.Recorder.Database))
	} else {
		row("Recorder", muted.Sprint("(disabled)"))
	}
	row("Listen", cfg.Server.ListenAddr)
}

func row(name, value string) {
	label.Printf("  %-10s ", name)
	fmt.Println(value)
}
