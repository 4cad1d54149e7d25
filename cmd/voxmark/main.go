// Command voxmark is the main entry point for the VoxMark marketing studio
// server.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/voxmark/voxmark/internal/app"
	"github.com/voxmark/voxmark/internal/config"
	"github.com/voxmark/voxmark/internal/observe"
	"github.com/voxmark/voxmark/pkg/audio"
	"github.com/voxmark/voxmark/pkg/audio/wavio"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ──────────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	inputWAV := flag.String("input", "", "WAV file used as the microphone source for live sessions")
	outputDir := flag.String("output-dir", "recordings", "directory where live session audio is rendered")
	flag.Parse()

	// .env is optional; explicit environment always wins.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "voxmark: load .env: %v\n", err)
	}

	// ── Load configuration ────────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "voxmark: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "voxmark: %v\n", err)
		}
		return 1
	}

	// ── Logger ────────────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("voxmark starting",
		"config", *configPath,
		"listen_addr", cfg.Server.ListenAddr,
		"log_level", cfg.Server.LogLevel,
	)

	// ── Telemetry ─────────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	otelShutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := otelShutdown(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Audio devices ─────────────────────────────────────────────────────────
	devices, err := buildDevices(*inputWAV, *outputDir)
	if err != nil {
		slog.Error("failed to set up audio devices", "err", err)
		return 1
	}

	printStartupSummary(cfg, *inputWAV, *outputDir)

	application, err := app.New(ctx, cfg, devices)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	slog.Info("server ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// ── Audio device wiring ───────────────────────────────────────────────────────

// buildDevices wires the file-backed audio devices for live sessions: a WAV
// file stands in for the microphone, and each session renders the model's
// speech into a fresh WAV under outputDir. Without an input file, live
// endpoints stay disabled.
func buildDevices(inputWAV, outputDir string) (app.Devices, error) {
	if inputWAV == "" {
		slog.Warn("no -input WAV; live voice endpoints disabled")
		return app.Devices{}, nil
	}
	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		return app.Devices{}, fmt.Errorf("create output dir %q: %w", outputDir, err)
	}

	return app.Devices{
		Capture: &wavio.CaptureDevice{Path: inputWAV},
		NewOutput: func() (audio.OutputDevice, error) {
			path := filepath.Join(outputDir, "session-"+uuid.NewString()+".wav")
			return wavio.NewOutputDevice(path, audio.PlaybackRate), nil
		},
	}, nil
}

// ── Startup summary ───────────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config, inputWAV, outputDir string) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         VoxMark — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printLine("Listen addr", cfg.Server.ListenAddr)
	printLine("Live model", cfg.Gemini.LiveModel)
	printLine("Text model", cfg.Gemini.TextModel)
	printLine("Voice", cfg.Voice.Name)
	if cfg.Library.PostgresDSN != "" {
		printLine("Library", "postgres")
	} else {
		printLine("Library", "(disabled)")
	}
	if inputWAV != "" {
		printLine("Mic source", filepath.Base(inputWAV))
		printLine("Recordings", outputDir)
	} else {
		printLine("Live voice", "(disabled)")
	}
	fmt.Printf("║  Keywords        : %-19d ║\n", len(cfg.Studio.Keywords))
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printLine(kind, value string) {
	if value == "" {
		value = "(not configured)"
	}
	if len(value) > 19 {
		value = value[:16] + "…"
	}
	fmt.Printf("║  %-12s    : %-19s ║\n", kind, value)
}

// ── Logger ─────────────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
