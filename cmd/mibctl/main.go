package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/gavinlouuu-kpt/mib-studio-go/internal/config"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/engine"
	"github.com/gavinlouuu-kpt/mib-studio-go/internal/telemetry/logx"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ────────────────────────────────────────────────────
	configPath := flag.String("config", "config.json", "path to config.json")
	pinsPath := flag.String("pins", "pins.yaml", "path to pins.yaml")
	imageDir := flag.String("image-dir", "", "directory of source images (mock mode)")
	logFile := flag.String("log", "", "optional log file path (stdout is always included)")
	flag.Parse()

	// ── Logger ───────────────────────────────────────────────────────
	logger := logx.Init(logx.INFO, *logFile)
	defer logger.Close()

	logx.L().Info("═══════════════════════════════════════════════════")
	logx.L().Info("  mibctl · high-speed microscopy acquisition")
	logx.L().Info("  GOMAXPROCS=%d · PID=%d", runtime.GOMAXPROCS(0), os.Getpid())
	logx.L().Info("═══════════════════════════════════════════════════")

	// ── Load configs ─────────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		logx.L().Error("load config: %v", err)
		return 1
	}
	pins, err := config.LoadPinsConfig(*pinsPath)
	if err != nil {
		logx.L().Error("load pins config: %v", err)
		return 1
	}

	eng := engine.New(engine.Options{Config: cfg, Pins: pins})

	// ── image_dir resolution: --image-dir flag, else pins.yaml,
	// else MIB_IMAGE_DIR env var ───────────────────────
	dir := *imageDir
	if dir == "" {
		dir = pins.Source.ImageDir
	}
	if dir == "" {
		dir = os.Getenv("MIB_IMAGE_DIR")
	}
	if dir != "" {
		if err := eng.SetParam("image_dir", dir); err != nil {
			logx.L().Error("set_param image_dir: %v", err)
			return 1
		}
	}

	// ── Context with OS signal cancellation ──────────────────────────
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	if err := eng.Start(); err != nil {
		logx.L().Error("engine start: %v", err)
		return 1
	}

	logx.L().Info("pipeline running — press Ctrl+C to stop")

	// ── Stats ticker ─────────────────────────────────────────────────
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	// ── Main event loop ──────────────────────────────────────────────
	for {
		select {
		case sig := <-sigCh:
			logx.L().Info("received signal: %v — shutting down…", sig)
			cancel()
			goto shutdown

		case <-ctx.Done():
			goto shutdown

		case <-statsTicker.C:
			logx.L().Info("── stats ─────────────────────────")
			logx.L().Info("  paused: %v", eng.Paused())
			logx.L().Info("──────────────────────────────────")
		}
	}

shutdown:
	logx.L().Info("draining pipeline…")
	eng.Stop()

	fmt.Println("mibctl finished.")
	return 0
}
