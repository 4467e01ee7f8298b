// Package config reads tx's local project configuration: a .txrc.json
// file plus environment overrides, consulted before spf13/viper has been
// initialized (e.g. to locate the database before the rest of the CLI's
// config plumbing is live) or after the working directory has changed
// since viper's init.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
)

// FileName is the local config file's name, resolved relative to the
// project root.
const FileName = ".txrc.json"

// LocalConfig is the subset of .txrc.json fields read directly from disk
// rather than through the viper singleton.
type LocalConfig struct {
	DBPath        string `json:"db_path,omitempty"`
	LockTimeoutMS int    `json:"lock_timeout_ms,omitempty"`
	SyncFile      string `json:"sync_file,omitempty"`
}

// LoadLocalConfig reads and parses .txrc.json from projectRoot. Returns
// an empty (not nil) LocalConfig if the file doesn't exist or can't be
// parsed, since absence of local config is not an error condition.
func LoadLocalConfig(projectRoot string) *LocalConfig {
	path := filepath.Join(projectRoot, FileName)
	data, err := os.ReadFile(path) // #nosec G304 -- path from caller-controlled project root
	if err != nil {
		return &LocalConfig{}
	}

	var cfg LocalConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return &LocalConfig{}
	}
	return &cfg
}

// LoadLocalConfigWithEnv reads .txrc.json and applies the environment
// overrides spec.md §6 names: TX_DB_PATH and TX_LOCK_TIMEOUT take
// precedence over the file's values.
func LoadLocalConfigWithEnv(projectRoot string) *LocalConfig {
	cfg := LoadLocalConfig(projectRoot)

	if v := os.Getenv("TX_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("TX_LOCK_TIMEOUT"); v != "" {
		if ms, err := strconv.Atoi(v); err == nil {
			cfg.LockTimeoutMS = ms
		}
	}
	return cfg
}

const (
	defaultDBPath        = ".tx/tx.db"
	defaultLockTimeoutMS = 5000
	defaultSyncFile      = "tasks.jsonl"
)

// ResolvedDBPath returns cfg.DBPath if set, else the default location
// under projectRoot.
func (c *LocalConfig) ResolvedDBPath(projectRoot string) string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(projectRoot, defaultDBPath)
}

// ResolvedLockTimeoutMS returns cfg.LockTimeoutMS if set, else the
// package default.
func (c *LocalConfig) ResolvedLockTimeoutMS() int {
	if c.LockTimeoutMS > 0 {
		return c.LockTimeoutMS
	}
	return defaultLockTimeoutMS
}

// ResolvedSyncFile returns cfg.SyncFile if set, else the default JSONL
// sync file name under projectRoot.
func (c *LocalConfig) ResolvedSyncFile(projectRoot string) string {
	if c.SyncFile != "" {
		return c.SyncFile
	}
	return filepath.Join(projectRoot, defaultSyncFile)
}
