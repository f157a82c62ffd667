package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"
	prom "github.com/prometheus/client_golang/prometheus"

	"git.home.luguber.info/inful/contexthub/internal/config"
	"git.home.luguber.info/inful/contexthub/internal/daemon"
	"git.home.luguber.info/inful/contexthub/internal/logfields"
	"git.home.luguber.info/inful/contexthub/internal/metrics"
	"git.home.luguber.info/inful/contexthub/internal/server"
	"git.home.luguber.info/inful/contexthub/internal/store"
)

var CLI struct {
	Config  string `short:"c" help:"Configuration file path" default:"contexthub.yaml"`
	Verbose bool   `short:"v" help:"Enable verbose logging"`

	Serve struct {
		Addr    string `short:"a" help:"Override the control API listen address"`
		Metrics bool   `help:"Expose Prometheus metrics on /metrics" default:"true"`
	} `cmd:"" help:"Run the context hub daemon"`

	Init struct {
		Force bool `help:"Overwrite an existing configuration file"`
	} `cmd:"" help:"Write a default configuration file"`

	Resolve struct {
		Level string `arg:"" help:"Context level (global|project|branch|task)"`
		ID    string `arg:"" help:"Context identifier"`
	} `cmd:"" help:"Resolve a context with inheritance and print it"`
}

func main() {
	kctx := kong.Parse(&CLI)

	var err error
	switch kctx.Command() {
	case "serve":
		err = runServe()
	case "init":
		err = runInit()
	case "resolve <level> <id>":
		err = runResolve()
	default:
		err = fmt.Errorf("unknown command: %s", kctx.Command())
	}
	if err != nil {
		slog.Error("command failed", logfields.Error(err))
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(CLI.Config)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return config.Default(), nil
		}
		return nil, err
	}
	return cfg, nil
}

func setupLogging(cfg *config.Config) {
	level := slog.LevelInfo
	if CLI.Verbose || cfg.Logging.Level == "debug" {
		level = slog.LevelDebug
	} else if cfg.Logging.Level == "warn" {
		level = slog.LevelWarn
	} else if cfg.Logging.Level == "error" {
		level = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler = slog.NewTextHandler(os.Stdout, opts)
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if CLI.Serve.Addr != "" {
		cfg.HTTP.Addr = CLI.Serve.Addr
	}
	setupLogging(cfg)

	var reg *prom.Registry
	var rec metrics.Recorder = metrics.NoopRecorder{}
	if CLI.Serve.Metrics {
		reg = prom.NewRegistry()
		rec = metrics.NewPrometheusRecorder(reg)
	}

	d, err := daemon.New(cfg, rec)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Config edits only retune logging at runtime; store and sync changes
	// need a restart.
	watcher, err := config.NewWatcher(CLI.Config, func(newCfg *config.Config) {
		setupLogging(newCfg)
		slog.Info("configuration reloaded")
	})
	if err == nil {
		if werr := watcher.Start(ctx); werr != nil {
			slog.Warn("config watcher unavailable", logfields.Error(werr))
		} else {
			defer func() { _ = watcher.Stop() }()
		}
	}

	srv := server.New(&cfg.HTTP, d, reg)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(ctx) }()

	if err := d.Run(ctx); err != nil {
		return err
	}
	return <-errCh
}

func runInit() error {
	setupLogging(config.Default())

	if _, err := os.Stat(CLI.Config); err == nil && !CLI.Init.Force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", CLI.Config)
	}
	if err := config.WriteDefault(CLI.Config); err != nil {
		return err
	}
	slog.Info("configuration written", slog.String("path", CLI.Config))
	return nil
}

func runResolve() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	setupLogging(cfg)

	level, err := store.ParseLevel(CLI.Resolve.Level)
	if err != nil {
		return err
	}

	db, err := store.OpenDB(cfg.Store.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	st := store.New(db, store.WithTimeout(cfg.Store.OperationTimeout))
	resolved, err := st.Resolve(context.Background(), level, CLI.Resolve.ID, true)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(resolved)
}
