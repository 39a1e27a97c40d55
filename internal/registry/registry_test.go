package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/tim-br/diakonos/internal/dkerr"
)

func writeUnit(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name+".service")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func waitForState(t *testing.T, r *Registry, name string, want ServiceState, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		st, err := r.Status(name)
		if err != nil {
			t.Fatalf("Status(%s): %v", name, err)
		}
		if st.State == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("Status(%s) = %v, want %v (timed out)", name, st.State, want)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestLoadAndStartSimple(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "web", `[Service]
ExecStart=sleep 10
`)

	r := New(dir, nil, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if err := r.Start("web"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop("web")

	st, err := r.Status("web")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != Running {
		t.Errorf("State = %v, want Running", st.State)
	}
	if st.PID == 0 {
		t.Error("expected non-zero PID when Running")
	}
}

func TestStartResolvesRequires(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "db", `[Service]
ExecStart=sleep 10
`)
	writeUnit(t, dir, "api", `[Unit]
Requires=db
[Service]
ExecStart=sleep 10
`)

	r := New(dir, nil, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if err := r.Start("api"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop("api")
	defer r.Stop("db")

	for _, name := range []string{"db", "api"} {
		st, err := r.Status(name)
		if err != nil {
			t.Fatalf("Status(%s): %v", name, err)
		}
		if st.State != Running {
			t.Errorf("Status(%s) = %v, want Running", name, st.State)
		}
	}
}

func TestStartMissingRequiresFails(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "api", `[Unit]
Requires=db
[Service]
ExecStart=sleep 10
`)

	r := New(dir, nil, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if err := r.Start("api"); err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestStartForkingTypeRejected(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "legacy", `[Service]
Type=forking
ExecStart=sleep 10
`)

	r := New(dir, nil, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if err := r.Start("legacy"); err == nil {
		t.Fatal("expected StartError for forking type, got nil")
	}

	st, err := r.Status("legacy")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != Failed {
		t.Errorf("State = %v, want Failed", st.State)
	}
}

// A unit file with a present-but-blank ExecStart= directive parses
// successfully (internal/unit only rejects a wholly absent directive), so
// this is the registry's own StartError boundary to enforce at start time.
func TestStartEmptyExecStartRejected(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "blank", `[Service]
ExecStart=
`)

	r := New(dir, nil, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	if err := r.Start("blank"); err == nil {
		t.Fatal("expected StartError for empty ExecStart, got nil")
	} else if dkerr.KindOf(err) != dkerr.KindStartError {
		t.Fatalf("err = %v, want StartError", err)
	}

	st, err := r.Status("blank")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != Failed {
		t.Errorf("State = %v, want Failed", st.State)
	}
}

func TestStartIdempotentWhenAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "web", `[Service]
ExecStart=sleep 10
`)

	r := New(dir, nil, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if err := r.Start("web"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop("web")

	firstPID, _ := r.Status("web")
	if err := r.Start("web"); err != nil {
		t.Fatalf("second Start: %v", err)
	}
	secondPID, _ := r.Status("web")
	if firstPID.PID != secondPID.PID {
		t.Errorf("starting an already-running service spawned a new process: %d -> %d", firstPID.PID, secondPID.PID)
	}
}

func TestStopClearsHandle(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "web", `[Service]
ExecStart=sleep 10
`)

	r := New(dir, nil, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if err := r.Start("web"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := r.Stop("web"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	r.mu.RLock()
	rec := r.records["web"]
	r.mu.RUnlock()

	if rec.State != Stopped {
		t.Errorf("State = %v, want Stopped", rec.State)
	}
	if rec.Drv != nil {
		t.Error("expected no driver handle retained after Stop")
	}
	if rec.PID != 0 {
		t.Errorf("PID = %d, want 0", rec.PID)
	}
}

func TestReconcileDetectsExitAndSchedulesRestart(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "flaky", `[Service]
ExecStart=false
Restart=always
RestartSec=0
`)

	r := New(dir, nil, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if err := r.Start("flaky"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Give the child a moment to exit before polling.
	time.Sleep(200 * time.Millisecond)

	var candidates []RestartCandidate
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		candidates = r.Reconcile()
		if len(candidates) > 0 {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(candidates) != 1 || candidates[0].Name != "flaky" {
		t.Fatalf("candidates = %v, want one candidate named flaky", candidates)
	}

	st, err := r.Status("flaky")
	if err != nil {
		t.Fatalf("Status: %v", err)
	}
	if st.State != Failed {
		t.Errorf("State = %v, want Failed", st.State)
	}
	if st.RestartCount != 1 {
		t.Errorf("RestartCount = %d, want 1", st.RestartCount)
	}
}

func TestReconcileDoesNotRestartPolicyNo(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "oneoff", `[Service]
ExecStart=true
Restart=no
`)

	r := New(dir, nil, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if err := r.Start("oneoff"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	time.Sleep(200 * time.Millisecond)

	var candidates []RestartCandidate
	deadline := time.Now().Add(1 * time.Second)
	for time.Now().Before(deadline) {
		candidates = r.Reconcile()
		st, _ := r.Status("oneoff")
		if st.State == Stopped {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}

	if len(candidates) != 0 {
		t.Errorf("candidates = %v, want none for Restart=no", candidates)
	}
}

func TestRestartOneIsNoOpWhenAlreadyRunning(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "web", `[Service]
ExecStart=sleep 10
`)

	r := New(dir, nil, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if err := r.Start("web"); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer r.Stop("web")

	firstStatus, _ := r.Status("web")
	if err := r.RestartOne("web"); err != nil {
		t.Fatalf("RestartOne: %v", err)
	}
	secondStatus, _ := r.Status("web")
	if firstStatus.PID != secondStatus.PID {
		t.Errorf("RestartOne spawned a new process for a still-running service")
	}
}

func TestListReturnsAllLoadedServices(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "a", `[Service]
ExecStart=sleep 10
`)
	writeUnit(t, dir, "b", `[Service]
ExecStart=sleep 10
`)

	r := New(dir, nil, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}

	list := r.List()
	if len(list) != 2 {
		t.Fatalf("List() returned %d entries, want 2", len(list))
	}
}

func TestStatusUnknownService(t *testing.T) {
	r := New(t.TempDir(), nil, nil)
	if _, err := r.Status("nope"); err == nil {
		t.Fatal("expected error for unknown service")
	}
}

func TestLoadDuplicateRejected(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "web", `[Service]
ExecStart=sleep 10
`)

	r := New(dir, nil, nil)
	if err := r.Load("web"); err != nil {
		t.Fatalf("first Load: %v", err)
	}
	if err := r.Load("web"); err == nil {
		t.Fatal("expected ServiceAlreadyExists on duplicate Load")
	}
}

func TestPersistedStateWrittenAndClearedAcrossLifecycle(t *testing.T) {
	dir := t.TempDir()
	writeUnit(t, dir, "web", `[Service]
ExecStart=sleep 10
`)

	sf := NewStateFile(filepath.Join(dir, "state.json"))
	r := New(dir, sf, nil)
	if err := r.LoadAll(); err != nil {
		t.Fatalf("LoadAll: %v", err)
	}
	if err := r.Start("web"); err != nil {
		t.Fatalf("Start: %v", err)
	}

	persisted, err := sf.Load()
	if err != nil {
		t.Fatalf("Load state: %v", err)
	}
	if _, ok := persisted["web"]; !ok {
		t.Fatal("expected a persisted record for web after Start")
	}

	if err := r.Stop("web"); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	persisted, err = sf.Load()
	if err != nil {
		t.Fatalf("Load state after Stop: %v", err)
	}
	if _, ok := persisted["web"]; ok {
		t.Error("expected persisted record removed after Stop")
	}
}
