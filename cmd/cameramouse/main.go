package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/ayusman/cameramouse/internal/app"
	"github.com/ayusman/cameramouse/internal/config"
	"github.com/ayusman/cameramouse/internal/emitter"
	"github.com/ayusman/cameramouse/internal/pointer"
	"github.com/ayusman/cameramouse/internal/server"
	"github.com/ayusman/cameramouse/internal/settings"
	"github.com/ayusman/cameramouse/internal/store"
	"github.com/ayusman/cameramouse/internal/supervisor"
	"github.com/ayusman/cameramouse/internal/tray"
)

// eventRetention is how long tracking events are kept in the database.
const eventRetention = 30 * 24 * time.Hour

func main() {
	configPath := flag.String("config", config.DefaultPath(), "path to the YAML config file")
	noTray := flag.Bool("no-tray", false, "run without the system tray")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	level, err := cfg.SlogLevel()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Invalid log level: %v\n", err)
		os.Exit(1)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	if err := run(cfg, logger, !*noTray); err != nil {
		logger.Error("camera mouse failed", "error", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, withTray bool) error {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}

	st, err := store.New(cfg.DBPath())
	if err != nil {
		return fmt.Errorf("initialize store: %w", err)
	}
	defer st.Close()

	if n, err := st.Events().PruneBefore(time.Now().Add(-eventRetention)); err != nil {
		logger.Warn("failed to prune tracking events", "error", err)
	} else if n > 0 {
		logger.Info("pruned old tracking events", "count", n)
	}

	cs, err := loadSettings(st, logger)
	if err != nil {
		return err
	}

	var em *emitter.MQTTEmitter
	if cfg.MQTT.Broker != "" {
		em = emitter.NewMQTTEmitter(cfg.MQTT, logger.With("component", "mqtt"))
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := em.Connect(ctx); err != nil {
			logger.Warn("mqtt unavailable, events will not be published", "broker", cfg.MQTT.Broker, "error", err)
		}
		cancel()
	}

	a, err := app.New(app.Config{
		CameraID: cfg.CameraID,
		FPS:      cfg.FPS,
		Detector: cfg.Detector,
		Settings: cs,
		Store:    st,
		Emitter:  em,
		Logger:   logger,
	})
	if err != nil {
		return err
	}
	if err := a.Start(); err != nil {
		a.Stop()
		return err
	}
	defer a.Stop()

	staticDir := cfg.StaticDir
	if staticDir == "" {
		staticDir = findWebDir(cfg.DataDir)
	}
	if staticDir != "" {
		logger.Info("serving static files", "dir", staticDir)
	}

	srv := server.New(server.Config{
		StaticDir: staticDir,
		Store:     st,
		App:       a,
		Logger:    logger.With("component", "http"),
	})

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(cfg.HTTPAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var runErr error
	if withTray {
		tr := newTray(a, cs, st, settingsURL(cfg.HTTPAddr), logger)
		go func() {
			select {
			case <-ctx.Done():
			case runErr = <-errCh:
			}
			tr.Quit()
		}()
		tr.Run()
	} else {
		select {
		case <-ctx.Done():
		case runErr = <-errCh:
		}
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", "error", err)
	}
	return runErr
}

// loadSettings reads the stored control settings and sizes the pointer range
// to the primary display.
func loadSettings(st *store.Store, logger *slog.Logger) (*settings.ControlSettings, error) {
	values, err := settings.Load(st.Settings())
	if err != nil {
		logger.Warn("stored settings unreadable, using defaults", "error", err)
	}

	if size, err := pointer.ScreenSize(); err == nil {
		values.ScreenWidth = int(size.X)
		values.ScreenHeight = int(size.Y)
	} else {
		logger.Warn("screen size unavailable, using configured resolution",
			"width", values.ScreenWidth, "height", values.ScreenHeight, "error", err)
	}

	cs, err := settings.New(values)
	if err != nil {
		return nil, fmt.Errorf("control settings: %w", err)
	}
	return cs, nil
}

func newTray(a *app.App, cs *settings.ControlSettings, st *store.Store, url string, logger *slog.Logger) *tray.Tray {
	tr := tray.New(cs.AutoDetectEnabled())
	tr.OnToggle(a.SetEnabled)
	tr.OnAutoDetect(func(enabled bool) {
		cs.SetAutoDetect(enabled)
		if err := settings.Save(st.Settings(), cs.Snapshot()); err != nil {
			logger.Warn("failed to persist auto-detect setting", "error", err)
		}
	})
	tr.OnRecenter(func() {
		if err := a.Recenter(); err != nil {
			logger.Warn("recenter failed", "error", err)
		}
	})
	tr.OnSettings(func() {
		if err := openBrowser(url); err != nil {
			logger.Warn("failed to open browser", "url", url, "error", err)
		}
	})
	a.Subscribe(func(_ supervisor.Event, s app.Status) {
		tr.SetStatus(s.State, s.Remaining)
	})
	return tr
}

func settingsURL(addr string) string {
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr + "/"
}

func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default:
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}

// findWebDir searches for the web directory in common locations.
// It checks: "web", "../web", "../../web", and <dataDir>/web.
// Returns the first existing directory or empty string if none found.
func findWebDir(dataDir string) string {
	candidates := []string{"web", "../web", "../../web", filepath.Join(dataDir, "web")}
	for _, p := range candidates {
		if info, err := os.Stat(p); err == nil && info.IsDir() {
			absPath, err := filepath.Abs(p)
			if err == nil {
				return absPath
			}
			return p
		}
	}
	return ""
}
