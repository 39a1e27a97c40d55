// Command diakonosd is the supervisor daemon: it loads unit files, starts
// and restarts services per their dependency graph and restart policy, and
// serves the control protocol other diakonos commands talk to.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"golang.org/x/term"

	"github.com/tim-br/diakonos/internal/config"
	"github.com/tim-br/diakonos/internal/ipc"
	"github.com/tim-br/diakonos/internal/registry"
	"github.com/tim-br/diakonos/internal/supervisor"
)

func newLogger(path, level string) (*slog.Logger, *os.File, error) {
	var w *os.File
	if path == "" {
		w = os.Stderr
	} else {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, nil, fmt.Errorf("creating log dir: %w", err)
		}
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = f
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if path == "" && term.IsTerminal(int(w.Fd())) {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	var closer *os.File
	if w != os.Stderr {
		closer = w
	}
	return slog.New(handler), closer, nil
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	cfgPath := config.DefaultPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("loading config %s: %w", cfgPath, err)
	}
	cfg = cfg.WithDefaults()

	logger, logCloser, err := newLogger(cfg.LogFile, cfg.LogLevel)
	if err != nil {
		return err
	}
	if logCloser != nil {
		defer logCloser.Close()
	}

	if err := os.MkdirAll(filepath.Dir(cfg.PidFile), 0700); err != nil {
		return fmt.Errorf("creating daemon home: %w", err)
	}
	if isDaemonRunning(cfg.PidFile) {
		return fmt.Errorf("a daemon is already running (pid file %s)", cfg.PidFile)
	}
	if err := writePIDFile(cfg.PidFile); err != nil {
		return fmt.Errorf("writing pid file: %w", err)
	}
	defer removePIDFile(cfg.PidFile)

	if err := os.MkdirAll(cfg.ServiceDir, 0755); err != nil {
		return fmt.Errorf("creating service dir: %w", err)
	}

	logger.Info("diakonosd starting", "service_dir", cfg.ServiceDir, "socket", cfg.SocketPath)

	stateFile := registry.NewStateFile(filepath.Join(filepath.Dir(cfg.PidFile), "state.json"))
	reg := registry.New(cfg.ServiceDir, stateFile, logger)

	if err := reg.LoadAll(); err != nil {
		logger.Warn("failed to load services", "error", err)
	}
	if err := reg.AdoptPrevious(); err != nil {
		logger.Warn("failed to adopt previously running services", "error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sup := supervisor.New(reg, cfg.TickPeriod.Duration, logger)
	go sup.Run(ctx)

	watcher := supervisor.NewWatcher(reg, cfg.ServiceDir, logger)
	go func() {
		if err := watcher.Run(ctx); err != nil {
			logger.Error("service directory watcher exited", "error", err)
		}
	}()

	srv := ipc.New(reg, logger, cancel)
	if err := srv.ListenUnix(cfg.SocketPath); err != nil {
		return fmt.Errorf("starting control socket: %w", err)
	}
	defer os.Remove(cfg.SocketPath)

	serveErrCh := make(chan error, 1)
	go func() { serveErrCh <- srv.Serve(ctx) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	logger.Info("diakonosd ready")

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", "signal", sig)
	case <-srv.ShutdownRequested():
		logger.Info("shutdown requested over control socket")
	case err := <-serveErrCh:
		if err != nil {
			logger.Error("control socket server exited", "error", err)
		}
	}

	cancel()

	for _, st := range reg.List() {
		if st.State == registry.Running || st.State == registry.Starting {
			if err := reg.Stop(st.Name); err != nil {
				logger.Warn("failed to stop service during shutdown", "service", st.Name, "error", err)
			}
		}
	}

	logger.Info("diakonosd stopped")
	return nil
}
