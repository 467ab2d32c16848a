package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
)

//---------------- Main ----------------

func main() {
	configPath := flag.String("config", "", "path to the YAML service config")
	simulate := flag.Bool("simulate", false, "drive an in-memory panel instead of the LED matrix")
	flag.BoolVar(simulate, "s", false, "shorthand for -simulate")
	noSplash := flag.Bool("no-splash", false, "skip the startup splash")
	dump := flag.String("dump", "", "write the last frame to this PNG on exit")
	flag.Parse()

	cfg, err := LoadServiceConfig(*configPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	cfg.Simulate = cfg.Simulate || *simulate
	cfg.Splash = cfg.Splash && !*noSplash

	level, _ := parseLogLevel(cfg.LogLevel)
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	if err := run(cfg, *dump); err != nil {
		slog.Error("service stopped", "error", err)
		os.Exit(1)
	}
}

func run(cfg ServiceConfig, dump string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := newSettingsStore(cfg.SettingsPath)
	settings, err := store.Load()
	if err != nil {
		slog.Warn("settings unreadable, using defaults", "path", cfg.SettingsPath, "error", err)
	}

	ctrl, err := openController(ctx, settings, cfg, store)
	if err != nil {
		return err
	}
	defer func() {
		if dump != "" {
			if err := saveFrameToPng(ctrl.Snapshot(), dump); err != nil {
				slog.Warn("frame dump failed", "path", dump, "error", err)
			} else {
				slog.Info("frame saved", "path", dump)
			}
		}
		if err := ctrl.Close(); err != nil {
			slog.Warn("panel close failed", "error", err)
		}
	}()

	library, err := newLibrary(cfg.LibraryDir)
	if err != nil {
		return err
	}
	web, err := newWebServer(ctrl, library, store, cfg.UploadDir)
	if err != nil {
		return err
	}

	if cfg.Splash {
		if err := runSplash(ctx, ctrl); err != nil {
			slog.Warn("splash failed", "error", err)
		}
	}

	go newRenderLoop(ctrl).Run(ctx)

	if cfg.MQTT.Broker != "" {
		client, err := connectMQTT(cfg.MQTT)
		if err != nil {
			slog.Error("mqtt disabled", "broker", cfg.MQTT.Broker, "error", err)
		} else {
			control := newMQTTControl(cfg.MQTT, client, ctrl, library)
			if err := control.Start(ctx); err != nil {
				slog.Error("mqtt control failed to start", "error", err)
			}
			defer control.Stop()
		}
	}

	if cfg.Poll.Server != "" {
		poller, err := newPollClient(cfg.Poll, ctrl)
		if err != nil {
			slog.Error("poll client disabled", "error", err)
		} else {
			go poller.Run(ctx)
		}
	}

	if cfg.Input.GPIOPin != "" {
		go func() {
			if err := watchGPIOButton(ctx, cfg.Input.GPIOPin, ctrl); err != nil {
				slog.Warn("gpio button disabled", "pin", cfg.Input.GPIOPin, "error", err)
			}
		}()
	}
	if cfg.Input.KeyDevice != "" {
		go func() {
			if err := watchKeyDevice(ctx, cfg.Input.KeyDevice, cfg.Input.KeyCode, ctrl); err != nil {
				slog.Warn("key input disabled", "device", cfg.Input.KeyDevice, "error", err)
			}
		}()
	}

	app := web.app(cfg.MaxUploadMB)
	errCh := make(chan error, 1)
	go func() { errCh <- httpServer(app, cfg.Listen) }()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
		slog.Info("shutting down")
		if err := app.ShutdownWithTimeout(5 * time.Second); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		return nil
	}
}

// openController opens the LED chain, or the in-memory panel when the
// hardware cannot be brought up, so the web interface stays usable.
func openController(ctx context.Context, settings Settings, cfg ServiceConfig, store *SettingsStore) (*Controller, error) {
	opts := ControllerOptions{
		Open:         panelOpener(cfg.Simulate),
		Store:        store,
		BulkTransfer: cfg.BulkTransfer,
	}
	ctrl, err := NewController(ctx, settings, opts)
	if err == nil || cfg.Simulate || !errors.Is(err, ErrHardwareInit) {
		return ctrl, err
	}
	slog.Error("LED hardware unavailable, falling back to simulation", "error", err)
	opts.Open = openMemPanel
	return NewController(ctx, settings, opts)
}
