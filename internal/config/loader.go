package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"tabflow/internal/etl"
)

// LoadFile loads and parses a flow file. Relative paths inside it resolve
// against the file's directory.
func LoadFile(path string) (*Flow, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve flow path %s: %w", path, err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("read flow file %s: %w", path, err)
	}

	f, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	f.Path = abs
	f.BaseDir = filepath.Dir(abs)
	if f.Name == "" {
		f.Name = strings.TrimSuffix(filepath.Base(abs), filepath.Ext(abs))
	}
	return f, nil
}

// Parse parses YAML (or JSON) flow data.
func Parse(data []byte) (*Flow, error) {
	var f Flow
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse flow: %w", err)
	}
	applyDefaults(&f)
	return &f, nil
}

// applyDefaults fills in default values for optional fields.
func applyDefaults(f *Flow) {
	if f.Sink.Mode == "" {
		f.Sink.Mode = etl.SyncReplace
	}
}

// Marshal serializes a flow back to YAML.
func Marshal(f *Flow) ([]byte, error) {
	return yaml.Marshal(f)
}

// ── Settings ───────────────────────────────────────────────
// Process-wide settings come from the environment.

// Settings holds values that are not part of any single flow.
type Settings struct {
	Store      string        // run-log database path
	RunTimeout time.Duration // upper bound for one run
}

// DefaultRunTimeout bounds a run when TABFLOW_RUN_TIMEOUT is unset.
const DefaultRunTimeout = 5 * time.Minute

// LoadSettings reads TABFLOW_STORE and TABFLOW_RUN_TIMEOUT (seconds).
func LoadSettings() (Settings, error) {
	s := Settings{
		Store:      getEnv("TABFLOW_STORE", defaultStore()),
		RunTimeout: DefaultRunTimeout,
	}
	if raw := os.Getenv("TABFLOW_RUN_TIMEOUT"); raw != "" {
		secs, err := strconv.Atoi(raw)
		if err != nil || secs <= 0 {
			return s, fmt.Errorf("TABFLOW_RUN_TIMEOUT: want a positive number of seconds, got %q", raw)
		}
		s.RunTimeout = time.Duration(secs) * time.Second
	}
	return s, nil
}

func defaultStore() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return filepath.Join(".tabflow", "runs.db")
	}
	return filepath.Join(dir, "tabflow", "runs.db")
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
