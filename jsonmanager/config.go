package jsonmanager

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

const defaultPreferencesFile = "preferences.json"

// DefaultConfig returns the configuration used when no preferences exist.
func DefaultConfig() Config {
	cfg := Config{
		FilePattern: "*.json",
		Precision:   IntPtr(DefaultPrecision),
	}
	cfg.ApplyDefaults()
	return cfg
}

// DefaultPreferencesPath returns preferences.json beside the running
// executable, falling back to the working directory.
func DefaultPreferencesPath() string {
	exe, err := os.Executable()
	if err != nil {
		return defaultPreferencesFile
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Join(filepath.Dir(exe), defaultPreferencesFile)
}

// LoadConfig loads configuration from the given path or the default
// preferences file. A missing file yields DefaultConfig.
func LoadConfig(path string) (Config, error) {
	if path == "" {
		path = DefaultPreferencesPath()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return DefaultConfig(), nil
		}
		return DefaultConfig(), fmt.Errorf("read config: %w", err)
	}
	return decodeConfig(data)
}

func decodeConfig(data []byte) (Config, error) {
	var cfg Config
	// An explicit "precision": null disables rounding; only a missing key
	// falls back to the default.
	hasPrecision := bytes.Contains(data, []byte("\"precision\""))
	if err := json.Unmarshal(data, &cfg); err != nil {
		return DefaultConfig(), fmt.Errorf("decode config: %w", err)
	}
	if !hasPrecision {
		cfg.Precision = IntPtr(DefaultPrecision)
	}
	cfg.ApplyDefaults()
	return cfg, nil
}

// SaveConfig persists configuration to disk.
func SaveConfig(path string, cfg Config) error {
	if path == "" {
		path = DefaultPreferencesPath()
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	cfg.ApplyDefaults()
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp config: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("rename config: %w", err)
	}
	return nil
}

// Preferences persists the last-used configuration.
type Preferences interface {
	// Load returns the stored configuration. found is false when nothing
	// was stored; the returned config then holds defaults.
	Load() (cfg Config, found bool, err error)
	Save(cfg Config) error
}

// PreferencesFile stores preferences as a flat JSON object.
type PreferencesFile struct {
	Path string
}

// NewPreferencesFile returns a store at path, or at DefaultPreferencesPath
// when path is empty.
func NewPreferencesFile(path string) *PreferencesFile {
	if path == "" {
		path = DefaultPreferencesPath()
	}
	return &PreferencesFile{Path: path}
}

// Load implements Preferences. A corrupt file returns defaults together with
// the decode error so callers can log it and carry on.
func (p *PreferencesFile) Load() (Config, bool, error) {
	if _, err := os.Stat(p.Path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), false, nil
	}
	cfg, err := LoadConfig(p.Path)
	if err != nil {
		return DefaultConfig(), false, err
	}
	return cfg, true, nil
}

// Save implements Preferences.
func (p *PreferencesFile) Save(cfg Config) error {
	return SaveConfig(p.Path, cfg)
}

// Reset removes the stored preferences.
func (p *PreferencesFile) Reset() error {
	if err := os.Remove(p.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove config: %w", err)
	}
	return nil
}
