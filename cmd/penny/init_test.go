package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"

	"github.com/nugget/penny/internal/config"
	"github.com/nugget/penny/internal/defaults"
)

// clearUmask makes file permission assertions deterministic.
func clearUmask(t *testing.T) {
	t.Helper()
	old := syscall.Umask(0)
	t.Cleanup(func() { syscall.Umask(old) })
}

func TestRunInit_FreshDirectory(t *testing.T) {
	clearUmask(t)
	dir := t.TempDir()
	var buf bytes.Buffer

	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	info, err := os.Stat(filepath.Join(dir, "data"))
	if err != nil {
		t.Fatalf("data directory not created: %v", err)
	}
	if !info.IsDir() {
		t.Error("data is not a directory")
	}

	for _, name := range []string{"config.yaml", ".env"} {
		fi, err := os.Stat(filepath.Join(dir, name))
		if err != nil {
			t.Fatalf("%s not created: %v", name, err)
		}
		if got := fi.Mode().Perm(); got != 0o600 {
			t.Errorf("%s permissions = %o, want 0600", name, got)
		}
		if !strings.Contains(buf.String(), "✓ "+filepath.Join(dir, name)) {
			t.Errorf("output missing created line for %s:\n%s", name, buf.String())
		}
	}

	got, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, defaults.ConfigYAML) {
		t.Error("config.yaml does not match the embedded example")
	}
}

func TestRunInit_KeepsExistingFiles(t *testing.T) {
	dir := t.TempDir()
	custom := []byte("listen:\n  port: 9999\n")
	if err := os.WriteFile(filepath.Join(dir, "config.yaml"), custom, 0o600); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := runInit(&buf, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	got, err := os.ReadFile(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, custom) {
		t.Errorf("config.yaml overwritten: %q", got)
	}
	if !strings.Contains(buf.String(), "exists, kept") {
		t.Errorf("output missing kept notice:\n%s", buf.String())
	}
}

func TestRunInit_ExampleConfigLoads(t *testing.T) {
	dir := t.TempDir()
	if err := runInit(&bytes.Buffer{}, dir); err != nil {
		t.Fatalf("runInit failed: %v", err)
	}

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("ASSISTANT_ID", "asst_test")
	t.Setenv("JWT_SECRET", "test-secret")
	t.Setenv("SMTP_HOST", "")

	cfg, err := config.Load(filepath.Join(dir, "config.yaml"))
	if err != nil {
		t.Fatalf("Load example config: %v", err)
	}
	if cfg.Listen.Port == 0 {
		t.Error("example config has no listen port")
	}
}
