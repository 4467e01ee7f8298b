package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadLocalConfig_MissingFileReturnsEmpty(t *testing.T) {
	cfg := LoadLocalConfig(t.TempDir())
	if cfg.DBPath != "" || cfg.LockTimeoutMS != 0 {
		t.Fatalf("expected empty config, got %+v", cfg)
	}
}

func TestLoadLocalConfig_ParsesFile(t *testing.T) {
	dir := t.TempDir()
	content := `{"db_path": "/custom/tx.db", "lock_timeout_ms": 2000, "sync_file": "sync.jsonl"}`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg := LoadLocalConfig(dir)
	if cfg.DBPath != "/custom/tx.db" {
		t.Errorf("DBPath = %q", cfg.DBPath)
	}
	if cfg.LockTimeoutMS != 2000 {
		t.Errorf("LockTimeoutMS = %d", cfg.LockTimeoutMS)
	}
	if cfg.SyncFile != "sync.jsonl" {
		t.Errorf("SyncFile = %q", cfg.SyncFile)
	}
}

func TestLoadLocalConfigWithEnv_OverridesFile(t *testing.T) {
	dir := t.TempDir()
	content := `{"db_path": "/file/tx.db", "lock_timeout_ms": 1000}`
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("TX_DB_PATH", "/env/tx.db")
	t.Setenv("TX_LOCK_TIMEOUT", "9000")

	cfg := LoadLocalConfigWithEnv(dir)
	if cfg.DBPath != "/env/tx.db" {
		t.Errorf("expected env override, got %q", cfg.DBPath)
	}
	if cfg.LockTimeoutMS != 9000 {
		t.Errorf("expected env override, got %d", cfg.LockTimeoutMS)
	}
}

func TestResolvedDefaults(t *testing.T) {
	cfg := &LocalConfig{}
	root := "/project"

	if got := cfg.ResolvedDBPath(root); got != filepath.Join(root, defaultDBPath) {
		t.Errorf("ResolvedDBPath = %q", got)
	}
	if got := cfg.ResolvedLockTimeoutMS(); got != defaultLockTimeoutMS {
		t.Errorf("ResolvedLockTimeoutMS = %d", got)
	}
	if got := cfg.ResolvedSyncFile(root); got != filepath.Join(root, defaultSyncFile) {
		t.Errorf("ResolvedSyncFile = %q", got)
	}
}
