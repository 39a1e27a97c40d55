package registry

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sync"

	"github.com/tim-br/diakonos/internal/dkerr"
)

// persistedRecord is the on-disk twin of a running service, written after
// every successful spawn and removed on stop, so a restarted daemon can
// attempt to re-adopt still-running children instead of losing track of
// them. PID reuse is not assumed safe here — StartTime is compared via
// driver.VerifyProcess before a persisted PID is trusted.
type persistedRecord struct {
	PID       int    `json:"pid"`
	Command   string `json:"command"`
	StartTime int64  `json:"start_time"`
}

// StateFile is a small JSON document of name -> persistedRecord, written
// atomically (write to a temp file, rename over the original).
type StateFile struct {
	path string
	mu   sync.Mutex
}

func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

func (s *StateFile) loadUnsafe() (map[string]persistedRecord, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		return map[string]persistedRecord{}, nil
	}
	if err != nil {
		return nil, dkerr.IoError("reading state file", err)
	}
	if len(data) == 0 {
		return map[string]persistedRecord{}, nil
	}
	out := map[string]persistedRecord{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, dkerr.IoError("parsing state file", err)
	}
	return out, nil
}

func (s *StateFile) saveUnsafe(records map[string]persistedRecord) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return dkerr.IoError("encoding state file", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return dkerr.IoError("creating state dir", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return dkerr.IoError("writing state file", err)
	}
	return os.Rename(tmp, s.path)
}

// Load returns every persisted record.
func (s *StateFile) Load() (map[string]persistedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadUnsafe()
}

// Set persists (or overwrites) the record for name.
func (s *StateFile) Set(name string, rec persistedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadUnsafe()
	if err != nil {
		return err
	}
	records[name] = rec
	return s.saveUnsafe(records)
}

// Remove deletes the persisted record for name, if any.
func (s *StateFile) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadUnsafe()
	if err != nil {
		return err
	}
	if _, ok := records[name]; !ok {
		return nil
	}
	delete(records, name)
	return s.saveUnsafe(records)
}
