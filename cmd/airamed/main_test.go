package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestConfigPath(t *testing.T) {
	t.Setenv("AIRAMED_CONFIG_FILE", "/etc/airamed/env.json")

	path, err := configPath(nil)
	if err != nil || path != "/etc/airamed/env.json" {
		t.Errorf("env path = %q, %v", path, err)
	}

	path, err = configPath([]string{"-config", "/tmp/flag.json"})
	if err != nil || path != "/tmp/flag.json" {
		t.Errorf("flag should win over env, got %q, %v", path, err)
	}

	if _, err := configPath([]string{"-verbose"}); err == nil {
		t.Error("unknown flag should fail")
	}
}

func TestRun_RejectsBadConfiguration(t *testing.T) {
	dir := t.TempDir()

	invalid := filepath.Join(dir, "invalid.json")
	if err := os.WriteFile(invalid, []byte(`{"storage": {"backend": "etcd"}}`), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := run([]string{"-config", invalid}); err == nil || !strings.Contains(err.Error(), "storage backend") {
		t.Errorf("expected storage backend error, got %v", err)
	}

	if err := run([]string{"-config", filepath.Join(dir, "missing.json")}); err == nil {
		t.Error("missing config file should fail")
	}
}
