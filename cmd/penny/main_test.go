package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/nugget/penny/internal/config"
	"github.com/nugget/penny/internal/database"
)

func TestRun_Version(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	if !strings.HasPrefix(out.String(), "Penny ") {
		t.Errorf("version output = %q, want Penny prefix", out.String())
	}
	if !strings.Contains(out.String(), "go_version:") {
		t.Errorf("version output missing go_version:\n%s", out.String())
	}
}

func TestRun_VersionJSON(t *testing.T) {
	var out bytes.Buffer
	if err := run(context.Background(), &out, io.Discard, []string{"-o", "json", "version"}); err != nil {
		t.Fatalf("run version: %v", err)
	}
	var info map[string]string
	if err := json.Unmarshal(out.Bytes(), &info); err != nil {
		t.Fatalf("decode version json: %v\n%s", err, out.String())
	}
	if info["version"] == "" {
		t.Errorf("version json missing version: %v", info)
	}
}

func TestRun_Usage(t *testing.T) {
	for _, args := range [][]string{nil, {"-h"}, {"--help"}} {
		var out bytes.Buffer
		if err := run(context.Background(), &out, io.Discard, args); err != nil {
			t.Fatalf("run %v: %v", args, err)
		}
		if !strings.Contains(out.String(), "Usage: penny") {
			t.Errorf("run %v output missing usage:\n%s", args, out.String())
		}
	}
}

func TestRun_Errors(t *testing.T) {
	tests := []struct {
		name string
		args []string
		want string
	}{
		{"unknown command", []string{"frobnicate"}, "unknown command: frobnicate"},
		{"unknown flag", []string{"-verbose"}, "unknown flag: -verbose"},
		{"bad output format", []string{"-o", "xml", "version"}, "unknown output format"},
		{"ask without question", []string{"ask"}, "usage: penny [-user id] ask"},
		{"tools without action", []string{"tools"}, "usage: penny tools list|sync"},
		{"tools bad action", []string{"tools", "delete"}, "usage: penny tools list|sync"},
		{"missing config", []string{"-config", "/nonexistent/penny.yaml", "ask", "hi"}, "/nonexistent/penny.yaml"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := run(context.Background(), io.Discard, io.Discard, tt.args)
			if err == nil {
				t.Fatalf("run(%v) = nil, want error", tt.args)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("run(%v) error = %q, want containing %q", tt.args, err, tt.want)
			}
		})
	}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Database.Driver = database.DriverPureGo
	cfg.Database.Path = database.MemoryPath
	cfg.Assistant.APIKey = "sk-test"
	cfg.Assistant.AssistantID = "asst_test"
	cfg.Auth.SessionSecret = "test-secret"
	cfg.Auth.BcryptCost = 4
	return cfg
}

func TestNewApp_ServesOperationalRoutes(t *testing.T) {
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reg := prometheus.NewRegistry()

	a, err := newApp(cfg, logger, reg)
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	ts := httptest.NewServer(a.server(cfg, reg).Handler())
	defer ts.Close()

	for _, path := range []string{"/health", "/v1/version", "/api/data", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s status = %d, want 200", path, resp.StatusCode)
		}
	}
}

func TestNewApp_RegisterAndFetchUser(t *testing.T) {
	cfg := testConfig()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	a, err := newApp(cfg, logger, prometheus.NewRegistry())
	if err != nil {
		t.Fatalf("newApp: %v", err)
	}
	defer a.Close()

	sess, err := a.accounts.Register(context.Background(), "Ada", "ada@example.com", "secret1")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	u, err := a.users.GetByID(context.Background(), sess.User.ID)
	if err != nil {
		t.Fatalf("GetByID: %v", err)
	}
	if u.Email != "ada@example.com" {
		t.Errorf("Email = %q, want %q", u.Email, "ada@example.com")
	}
}

func TestNewToolRegistry(t *testing.T) {
	reg := newToolRegistry(testConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)), nil)
	names := reg.Names()
	if len(names) == 0 {
		t.Fatal("finance registry has no tools")
	}
	if len(reg.Definitions()) != len(names) {
		t.Errorf("Definitions() = %d, want %d", len(reg.Definitions()), len(names))
	}
}
