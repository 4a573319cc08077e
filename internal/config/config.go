// Package config manages the machine-local configuration file: the shared
// folder path, the stable machine identity, and the last successful sync time.
//
// The configuration is written once at setup and read-mostly afterwards. The
// machine ID is generated on first load and never changes for the lifetime of
// the installation; it serves both as the lock owner identity and as merge
// tie-breaking metadata in the shared snapshot.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// EnvSharedDir is the environment variable that overrides the configured
// shared folder path. When set it takes priority over the config file and
// skips first-run setup entirely.
const EnvSharedDir = "DESKPAD_SHARED_DIR"

// Config is the persisted machine-local configuration.
type Config struct {
	// SharedFolderPath is the network folder holding the shared snapshot.
	// Empty until setup has run (or the environment override is set).
	SharedFolderPath string `json:"shared_folder_path,omitempty"`

	// MachineID is the stable identity of this installation.
	MachineID string `json:"machine_id"`

	// LastSyncAt is the wall-clock millisecond time of the last fully
	// successful sync round, zero if none has completed yet.
	LastSyncAt int64 `json:"last_sync_at"`

	path string
}

// DefaultDir returns the per-user directory holding the config and cache
// files.
func DefaultDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("failed to locate user config directory: %w", err)
	}
	return filepath.Join(base, "deskpad"), nil
}

// DefaultPath returns the default config file location.
func DefaultPath() (string, error) {
	dir, err := DefaultDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the configuration from path, creating it with a freshly
// generated machine ID if it does not exist yet. A corrupt config file is
// replaced with defaults rather than treated as fatal; the machine ID is the
// only state that cannot be regenerated silently, and losing it only costs a
// cosmetic change of lock-owner name.
func Load(path string) (*Config, error) {
	cfg := &Config{path: path}

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		// First run: generate identity and persist.
	case err != nil:
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	default:
		if jsonErr := json.Unmarshal(data, cfg); jsonErr != nil {
			fmt.Fprintf(os.Stderr, "Warning: config file %s is corrupt, using defaults: %v\n", path, jsonErr)
			*cfg = Config{path: path}
		}
	}

	if cfg.MachineID == "" {
		cfg.MachineID = uuid.NewString()
		if err := cfg.Save(); err != nil {
			return nil, fmt.Errorf("failed to persist generated machine id: %w", err)
		}
	}

	return cfg, nil
}

// Save writes the configuration back to its file.
func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(c.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config file %s: %w", c.path, err)
	}
	return nil
}

// SharedDir resolves the effective shared folder path. The environment
// override wins over the configured value. Returns an empty string if
// neither is set (setup has not run).
func (c *Config) SharedDir() string {
	if dir := os.Getenv(EnvSharedDir); dir != "" {
		return dir
	}
	return c.SharedFolderPath
}

// SetSharedDir records the shared folder path and persists the change.
func (c *Config) SetSharedDir(dir string) error {
	c.SharedFolderPath = dir
	return c.Save()
}

// SetLastSyncAt records the completion time of a successful sync round and
// persists the change.
func (c *Config) SetLastSyncAt(ts int64) error {
	c.LastSyncAt = ts
	return c.Save()
}
