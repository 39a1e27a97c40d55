// Package registry is the single source of truth for service state: it
// loads unit files, resolves dependency order, spawns and stops child
// processes, and exposes the non-blocking poll the supervisor loop drives
// on each reconciliation tick.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/tim-br/diakonos/internal/dkerr"
	"github.com/tim-br/diakonos/internal/driver"
	"github.com/tim-br/diakonos/internal/unit"
)

// ServiceState is the closed set of lifecycle states a service record can
// be in. All records start in Stopped.
type ServiceState string

const (
	Stopped  ServiceState = "Stopped"
	Starting ServiceState = "Starting"
	Running  ServiceState = "Running"
	Stopping ServiceState = "Stopping"
	Failed   ServiceState = "Failed"
)

const (
	execStopGrace  = 2 * time.Second
	terminateGrace = 3 * time.Second
	restartQuiesce = 1 * time.Second
)

// ServiceRecord is the mutable, in-memory twin of a unit file.
type ServiceRecord struct {
	Unit         *unit.Unit
	State        ServiceState
	Drv          driver.Driver
	PID          int
	RestartCount int
}

// ServiceStatus is a point-in-time snapshot returned by Status and List.
type ServiceStatus struct {
	Name         string
	State        ServiceState
	PID          int
	RestartCount int
}

// Registry is the name-keyed mapping of ServiceRecord, guarded by a single
// writer-preferring reader/writer lock, per spec: one shared mutable
// structure, not an actor per service.
type Registry struct {
	mu         sync.RWMutex
	records    map[string]*ServiceRecord
	serviceDir string
	state      *StateFile // optional; nil disables crash-recovery persistence
	logger     *slog.Logger
}

// New constructs an empty registry rooted at serviceDir. state may be nil.
func New(serviceDir string, state *StateFile, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		records:    make(map[string]*ServiceRecord),
		serviceDir: serviceDir,
		state:      state,
		logger:     logger.With("component", "registry"),
	}
}

// Load reads the unit file for name and inserts a new Stopped record.
func (r *Registry) Load(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.records[name]; exists {
		return dkerr.ServiceAlreadyExists(name)
	}

	u, err := unit.Load(unit.PathFor(r.serviceDir, name))
	if err != nil {
		return err
	}

	r.records[name] = &ServiceRecord{Unit: u, State: Stopped}
	return nil
}

// LoadAll scans the service directory; per-entry failures are logged and
// do not abort the scan.
func (r *Registry) LoadAll() error {
	names, err := unit.ListDir(r.serviceDir)
	if err != nil {
		return err
	}
	for _, name := range names {
		if err := r.Load(name); err != nil {
			if dkerr.KindOf(err) == dkerr.KindServiceAlreadyExists {
				continue // already loaded; LoadAll is additive, not a refresh
			}
			r.logger.Error("failed to load service", "service", name, "error", err)
		}
	}
	return nil
}

// snapshotUnits returns a read-only copy of every loaded unit, for the
// resolver to walk without touching the registry's own lock.
func (r *Registry) snapshotUnits() depSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	snap := make(depSnapshot, len(r.records))
	for name, rec := range r.records {
		snap[name] = rec.Unit
	}
	return snap
}

// Start resolves name's activation dependencies and starts each in order.
// If a dependency fails to start, the failure is surfaced immediately;
// names that already reached Running are left Running — no rollback.
func (r *Registry) Start(name string) error {
	snap := r.snapshotUnits()
	if _, ok := snap[name]; !ok {
		return dkerr.ServiceNotFound(name)
	}

	order, skippedWants, err := resolveActivationOrder(snap, name)
	if err != nil {
		return err
	}
	for _, w := range skippedWants {
		r.logger.Warn("wants dependency not present in registry, skipping", "service", name, "wants", w)
	}

	for _, n := range order {
		if err := r.startOne(n); err != nil {
			return err
		}
	}
	return nil
}

func buildEnv(overrides []string) []string {
	base := os.Environ()
	index := make(map[string]int, len(base))
	for i, kv := range base {
		if k, _, ok := strings.Cut(kv, "="); ok {
			index[k] = i
		}
	}
	for _, kv := range overrides {
		k, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if i, exists := index[k]; exists {
			base[i] = kv
		} else {
			index[k] = len(base)
			base = append(base, kv)
		}
	}
	return base
}

// startOne transitions a single record: Stopped/Failed -> Starting ->
// Running, or -> Failed on spawn failure. Idempotent if already Running.
func (r *Registry) startOne(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, ok := r.records[name]
	if !ok {
		return dkerr.ServiceNotFound(name)
	}
	if rec.State == Running {
		return nil
	}

	rec.State = Starting

	if rec.Unit.Type != unit.TypeSimple {
		rec.State = Failed
		return dkerr.StartError(name, fmt.Sprintf("service type %q is not supported by this supervisor", rec.Unit.Type), nil)
	}

	if strings.TrimSpace(rec.Unit.ExecStart) == "" {
		rec.State = Failed
		return dkerr.StartError(name, "empty ExecStart", nil)
	}

	drv := driver.NewNative(driver.NativeConfig{
		Command:    rec.Unit.ExecStart,
		Env:        buildEnv(rec.Unit.Environment),
		WorkingDir: rec.Unit.WorkingDirectory,
	})

	if err := drv.Start(context.Background()); err != nil {
		rec.State = Failed
		rec.PID = 0
		rec.Drv = nil
		return dkerr.StartError(name, "spawn failed", err)
	}

	info := drv.Info()
	rec.Drv = drv
	rec.PID = info.PID
	rec.State = Running

	if r.state != nil {
		startTime, _ := driver.ProcessStartTime(info.PID)
		if err := r.state.Set(name, persistedRecord{PID: info.PID, Command: rec.Unit.ExecStart, StartTime: startTime}); err != nil {
			r.logger.Warn("failed to persist service state", "service", name, "error", err)
		}
	}

	return nil
}

// Stop idempotently stops a running service, per the graceful-then-forceful
// sequence in spec.md §4.5: exec_stop fire-and-forget + grace period,
// SIGTERM + grace period, escalate to SIGKILL, then force the state to
// Stopped. Failures of the stop signals are logged, never returned.
func (r *Registry) Stop(name string) error {
	r.mu.Lock()
	rec, ok := r.records[name]
	if !ok {
		r.mu.Unlock()
		return dkerr.ServiceNotFound(name)
	}
	if rec.State == Stopped {
		r.mu.Unlock()
		return nil
	}

	rec.State = Stopping
	execStop := rec.Unit.ExecStop
	drv := rec.Drv
	r.mu.Unlock()

	if strings.TrimSpace(execStop) != "" {
		fields := strings.Fields(execStop)
		cmd := exec.Command(fields[0], fields[1:]...)
		if err := cmd.Start(); err != nil {
			r.logger.Warn("exec_stop failed to launch", "service", name, "error", err)
		}
		time.Sleep(execStopGrace)
	}

	if drv != nil {
		// NativeDriver.Stop sends SIGTERM, waits terminateGrace, and
		// escalates to SIGKILL on timeout — it never re-signals to
		// probe liveness, so PID reuse cannot fool it.
		if err := drv.Stop(context.Background(), terminateGrace); err != nil {
			r.logger.Warn("stop signal failed", "service", name, "error", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	rec.State = Stopped
	rec.PID = 0
	rec.Drv = nil

	if r.state != nil {
		if err := r.state.Remove(name); err != nil {
			r.logger.Warn("failed to clear persisted service state", "service", name, "error", err)
		}
	}

	return nil
}

// Restart stops, waits a fixed quiescence delay, then starts. Errors from
// either sub-step are surfaced.
func (r *Registry) Restart(name string) error {
	if err := r.Stop(name); err != nil {
		return err
	}
	time.Sleep(restartQuiesce)
	return r.Start(name)
}

// Status returns the current state of name, a snapshot read.
func (r *Registry) Status(name string) (ServiceStatus, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[name]
	if !ok {
		return ServiceStatus{}, dkerr.ServiceNotFound(name)
	}
	return ServiceStatus{Name: name, State: rec.State, PID: rec.PID, RestartCount: rec.RestartCount}, nil
}

// List returns a snapshot of every loaded service. Order is unspecified.
func (r *Registry) List() []ServiceStatus {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ServiceStatus, 0, len(r.records))
	for name, rec := range r.records {
		out = append(out, ServiceStatus{Name: name, State: rec.State, PID: rec.PID, RestartCount: rec.RestartCount})
	}
	return out
}

// RestartCandidate is a service the reconciler has determined is eligible
// for an automatic restart, with the delay to honor before retrying.
type RestartCandidate struct {
	Name  string
	Delay time.Duration
}

// Reconcile performs one non-blocking pass over every tracked child: it
// polls each record's driver without blocking, transitions state on exit,
// and returns the set of services whose restart policy makes them eligible
// for a scheduled restart. It never sleeps and never blocks on a child —
// the whole point of the design is that this pass is cheap enough to run
// under a single writer grant.
func (r *Registry) Reconcile() []RestartCandidate {
	r.mu.Lock()
	defer r.mu.Unlock()

	var candidates []RestartCandidate

	for name, rec := range r.records {
		if rec.Drv == nil {
			continue
		}

		select {
		case <-rec.Drv.Done():
			wasStopping := rec.State == Stopping
			info := rec.Drv.Info()
			rec.PID = 0
			rec.Drv = nil

			if wasStopping {
				// Stop() is (or was) already driving this transition
				// synchronously; don't double-schedule a restart.
				rec.State = Stopped
				continue
			}

			if info.ExitCode == 0 {
				rec.State = Stopped
			} else {
				rec.State = Failed
			}

			if r.state != nil {
				if err := r.state.Remove(name); err != nil {
					r.logger.Warn("failed to clear persisted service state", "service", name, "error", err)
				}
			}

			policy := rec.Unit.Restart
			eligible := policy == unit.RestartAlways ||
				(policy == unit.RestartOnFailure && rec.State == Failed)
			if eligible {
				rec.RestartCount++
				candidates = append(candidates, RestartCandidate{
					Name:  name,
					Delay: time.Duration(rec.Unit.RestartSec) * time.Second,
				})
			}
		default:
			rec.State = Running
		}
	}

	return candidates
}

// RestartOne re-reads name's record and invokes startOne if it is still
// Stopped or Failed — the deferred half of a scheduled restart, called
// after the supervisor's delay has elapsed without holding any lock
// across that delay.
func (r *Registry) RestartOne(name string) error {
	r.mu.RLock()
	rec, ok := r.records[name]
	if !ok {
		r.mu.RUnlock()
		return dkerr.ServiceNotFound(name)
	}
	state := rec.State
	r.mu.RUnlock()

	if state != Stopped && state != Failed {
		return nil
	}
	return r.startOne(name)
}

// AdoptPrevious attempts to re-adopt services left running by a previous
// daemon instance, using the persisted state file. A persisted PID is only
// trusted if driver.VerifyProcess confirms it still looks like the same
// process — otherwise the record starts Stopped, as if freshly loaded.
func (r *Registry) AdoptPrevious() error {
	if r.state == nil {
		return nil
	}
	persisted, err := r.state.Load()
	if err != nil {
		return err
	}

	for name, pr := range persisted {
		r.mu.Lock()
		rec, ok := r.records[name]
		r.mu.Unlock()
		if !ok {
			// Unit no longer on disk; drop the stale entry.
			_ = r.state.Remove(name)
			continue
		}

		if !driver.VerifyProcess(pr.PID, pr.Command, pr.StartTime) {
			r.logger.Warn("not adopting stale or reused PID", "service", name, "pid", pr.PID)
			_ = r.state.Remove(name)
			continue
		}

		adopted, err := driver.NewAdopted(pr.PID, time.Now())
		if err != nil {
			r.logger.Warn("failed to adopt previously running service", "service", name, "error", err)
			_ = r.state.Remove(name)
			continue
		}

		r.mu.Lock()
		rec.Drv = adopted
		rec.PID = pr.PID
		rec.State = Running
		r.mu.Unlock()
		r.logger.Info("adopted previously running service", "service", name, "pid", pr.PID)
	}

	return nil
}
