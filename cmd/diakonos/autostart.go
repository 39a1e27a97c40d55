package main

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/tim-br/diakonos/internal/config"
	"github.com/tim-br/diakonos/internal/ipc"
)

const daemonStartTimeout = 5 * time.Second

// isDaemonRunning reports whether cfg's pid file names a live process, via
// a null signal — mirrors diakonosd's own startup check.
func isDaemonRunning(cfg *config.Config) bool {
	data, err := os.ReadFile(cfg.PidFile)
	if err != nil {
		return false
	}
	var pid int
	if _, err := fmt.Sscanf(string(data), "%d", &pid); err != nil {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// ensureDaemonStarted spawns diakonosd in the background if it isn't
// already running, then polls for the control socket to appear.
func ensureDaemonStarted(cfg *config.Config) error {
	if isDaemonRunning(cfg) {
		return nil
	}

	exe, err := exec.LookPath("diakonosd")
	if err != nil {
		return fmt.Errorf("diakonosd not found on PATH: %w", err)
	}

	cmd := exec.Command(exe)
	cmd.Stdout = nil
	cmd.Stderr = nil
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting diakonosd: %w", err)
	}
	_ = cmd.Process.Release()

	deadline := time.Now().Add(daemonStartTimeout)
	for time.Now().Before(deadline) {
		if ipc.SocketReady(cfg.SocketPath) {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	return fmt.Errorf("daemon failed to start within %s", daemonStartTimeout)
}

// dial connects to the daemon, auto-starting it first if necessary.
func dial() (*ipc.Client, error) {
	cfg := daemonConfig()
	if err := ensureDaemonStarted(cfg); err != nil {
		return nil, err
	}
	return ipc.Dial(cfg.SocketPath)
}
