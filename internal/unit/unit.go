// Package unit parses systemd-style unit files into the in-memory model the
// registry consumes. A unit file is immutable once loaded; the parser does
// not retain any reference to the source file.
package unit

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tim-br/diakonos/internal/dkerr"
)

// ServiceType mirrors the systemd Type= directive. Only Simple is honoured
// by the supervisor; Forking and Oneshot are parsed and rejected at start
// time with a clear error rather than silently treated as Simple.
type ServiceType string

const (
	TypeSimple  ServiceType = "simple"
	TypeForking ServiceType = "forking"
	TypeOneshot ServiceType = "oneshot"
)

// RestartPolicy mirrors the systemd Restart= directive.
type RestartPolicy string

const (
	RestartAlways    RestartPolicy = "always"
	RestartOnFailure RestartPolicy = "on-failure"
	RestartNo        RestartPolicy = "no"
)

const defaultRestartSec = 5

// Unit is the parsed, immutable twin of one unit file.
type Unit struct {
	Name string // file stem, the service's identity

	Description string
	After       []string
	Requires    []string
	Wants       []string

	Type             ServiceType
	ExecStart        string
	ExecStop         string
	WorkingDirectory string
	Environment      []string // "KEY=VALUE" entries, malformed ones dropped
	User             string
	Restart          RestartPolicy
	RestartSec       int
}

// ActivationDependencies returns requires ++ wants, order preserved,
// duplicates allowed — the resolver is responsible for deduping.
func (u *Unit) ActivationDependencies() []string {
	out := make([]string, 0, len(u.Requires)+len(u.Wants))
	out = append(out, u.Requires...)
	out = append(out, u.Wants...)
	return out
}

// OrderingDependencies returns After, reserved for a future scheduler.
func (u *Unit) OrderingDependencies() []string {
	return u.After
}

// StripSuffix removes a trailing ".service" from a dependency name. It is
// applied to every After/Requires/Wants entry while the unit file is
// parsed, so the resolver only ever sees bare names.
func StripSuffix(name string) string {
	return strings.TrimSuffix(name, ".service")
}

// Load reads and parses one unit file. The service's name is derived from
// the file's stem (base name minus extension).
func Load(path string) (*Unit, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, dkerr.ServiceNotFound(stem(path))
		}
		return nil, dkerr.IoError(fmt.Sprintf("opening %s", path), err)
	}
	defer f.Close()

	u := &Unit{
		Name:       stem(path),
		Type:       TypeSimple,
		Restart:    RestartNo,
		RestartSec: defaultRestartSec,
	}

	var section string
	var sawExecStart bool
	scanner := bufio.NewScanner(f)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, ";") {
			continue
		}
		if strings.HasPrefix(line, "[") && strings.HasSuffix(line, "]") {
			section = strings.ToLower(strings.TrimSuffix(strings.TrimPrefix(line, "["), "]"))
			continue
		}

		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, dkerr.ParseError(
				fmt.Sprintf("%s:%d: expected KEY=VALUE, got %q", path, lineNo, line), nil)
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		if section == "service" && key == "ExecStart" {
			sawExecStart = true
		}

		if err := applyDirective(u, section, key, value); err != nil {
			return nil, dkerr.ParseError(fmt.Sprintf("%s:%d: %s", path, lineNo, err), err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, dkerr.IoError(fmt.Sprintf("reading %s", path), err)
	}

	// A wholly absent ExecStart directive is a parse-time defect: the unit
	// file itself is incomplete. A present-but-empty or whitespace-only
	// value parses fine here and is instead rejected by the registry at
	// start time (StartError), per spec.md §8's boundary behavior.
	if !sawExecStart {
		return nil, dkerr.ParseError(fmt.Sprintf("%s: Service.ExecStart is required", path), nil)
	}

	return u, nil
}

func applyDirective(u *Unit, section, key, value string) error {
	switch section {
	case "unit":
		switch key {
		case "Description":
			u.Description = value
		case "After":
			u.After = splitList(value)
		case "Requires":
			u.Requires = splitList(value)
		case "Wants":
			u.Wants = splitList(value)
		}
	case "service":
		switch key {
		case "Type":
			t := ServiceType(value)
			switch t {
			case TypeSimple, TypeForking, TypeOneshot:
				u.Type = t
			default:
				return fmt.Errorf("unknown Type %q", value)
			}
		case "ExecStart":
			u.ExecStart = value
		case "ExecStop":
			u.ExecStop = value
		case "WorkingDirectory":
			u.WorkingDirectory = value
		case "Environment":
			if strings.Contains(value, "=") {
				u.Environment = append(u.Environment, value)
			}
			// malformed entries (no "=") are silently skipped per spec
		case "User":
			u.User = value
		case "Restart":
			r := RestartPolicy(value)
			switch r {
			case RestartAlways, RestartOnFailure, RestartNo:
				u.Restart = r
			default:
				return fmt.Errorf("unknown Restart %q", value)
			}
		case "RestartSec":
			n, err := strconv.Atoi(value)
			if err != nil || n < 0 {
				return fmt.Errorf("invalid RestartSec %q", value)
			}
			u.RestartSec = n
		}
	}
	return nil
}

func splitList(value string) []string {
	fields := strings.Fields(value)
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		out = append(out, StripSuffix(f))
	}
	return out
}

func stem(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// PathFor returns the expected unit file path for name within dir.
func PathFor(dir, name string) string {
	return filepath.Join(dir, name+".service")
}

// ListDir returns the names (without extension) of every ".service" file
// directly under dir.
func ListDir(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, dkerr.IoError(fmt.Sprintf("reading %s", dir), err)
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if filepath.Ext(e.Name()) != ".service" {
			continue
		}
		names = append(names, stem(e.Name()))
	}
	return names, nil
}
