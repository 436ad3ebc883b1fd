package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "cfg.yaml")
	if err := os.WriteFile(p, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return p
}

func TestLoadFrom_ValidAndDefaults(t *testing.T) {
	p := writeConfig(t, `server:
  grpc_addr: "127.0.0.1:3100"
browser:
  mode: local
  ready_interval: 250ms
queue:
  max_depth: 8
  job_timeout: 30s
site:
  hide_selectors: [".a", ".b"]
`)
	cfg := LoadFrom(p)
	if cfg.Server.GRPCAddr != "127.0.0.1:3100" {
		t.Fatalf("unexpected grpc addr: %q", cfg.Server.GRPCAddr)
	}
	if cfg.Browser.Mode != ModeLocal {
		t.Fatalf("unexpected mode: %q", cfg.Browser.Mode)
	}
	if cfg.Browser.ReadyInterval != 250*time.Millisecond {
		t.Fatalf("unexpected ready interval: %v", cfg.Browser.ReadyInterval)
	}
	if cfg.Queue.MaxDepth != 8 || cfg.Queue.JobTimeout != 30*time.Second {
		t.Fatalf("unexpected queue config: %+v", cfg.Queue)
	}
	if len(cfg.Site.HideSelectors) != 2 {
		t.Fatalf("expected configured hide selectors to win over defaults, got %v", cfg.Site.HideSelectors)
	}
	if cfg.Browser.Window != (Window{X: 0, Y: 0, Width: 1024, Height: 768}) {
		t.Fatalf("unexpected default window: %+v", cfg.Browser.Window)
	}
	if cfg.Render.CardTimeout != 5*time.Second || cfg.Render.ElementTimeout != 2*time.Second {
		t.Fatalf("unexpected default render timeouts: %+v", cfg.Render)
	}
}

func TestLoadFrom_PanicsOnInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		yml  string
	}{
		{name: "unknown mode", yml: "browser:\n  mode: cluster\n"},
		{name: "negative depth", yml: "queue:\n  max_depth: -1\n"},
		{name: "negative job timeout", yml: "queue:\n  job_timeout: -1s\n"},
		{name: "template without id", yml: "site:\n  url_template: https://example.com/\n"},
		{name: "bad window", yml: "browser:\n  window:\n    width: 10\n    height: -5\n"},
		{name: "limiter without max", yml: "rate_limiter:\n  enabled: true\n  max: -2\n"},
		{name: "prefork", yml: "server:\n  prefork: true\n"},
		{name: "broken yaml", yml: "server: [\n"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			p := writeConfig(t, tc.yml)
			defer func() {
				if recover() == nil {
					t.Fatalf("expected panic")
				}
			}()
			_ = LoadFrom(p)
		})
	}
}

func TestLoadFrom_PanicsOnMissingFile(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic")
		}
	}()
	_ = LoadFrom(filepath.Join(t.TempDir(), "missing.yaml"))
}

func TestLoad_UsesConfigPathEnv(t *testing.T) {
	p := writeConfig(t, "server:\n  http_port: \":9100\"\n")
	t.Setenv("CONFIG_PATH", p)
	cfg := Load()
	if cfg.Server.HTTPPort != ":9100" {
		t.Fatalf("expected CONFIG_PATH to be used, got %q", cfg.Server.HTTPPort)
	}
}

func TestLoad_EnvironmentSelectsDeploymentMode(t *testing.T) {
	p := writeConfig(t, "browser:\n  mode: remote\n")
	t.Setenv("CONFIG_PATH", p)
	t.Setenv("DYNSHOT_BROWSER_MODE", "LOCAL")
	t.Setenv("DYNSHOT_GRPC_ADDR", "127.0.0.1:4000")
	cfg := Load()
	if cfg.Browser.Mode != ModeLocal {
		t.Fatalf("expected env to switch to local mode, got %q", cfg.Browser.Mode)
	}
	if cfg.Server.GRPCAddr != "127.0.0.1:4000" {
		t.Fatalf("expected env grpc addr, got %q", cfg.Server.GRPCAddr)
	}
}

func TestLoad_NoFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", "")
	wd, _ := os.Getwd()
	dir := t.TempDir()
	if err := os.Chdir(dir); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(wd) }()

	cfg := Load()
	if cfg.Browser.Mode != ModeRemote || cfg.Server.GRPCAddr != "0.0.0.0:3000" {
		t.Fatalf("unexpected defaults: %+v", cfg.Server)
	}
}

func TestExpand(t *testing.T) {
	if got := Expand(`.card[data-did="{id}"]`, "42"); got != `.card[data-did="42"]` {
		t.Fatalf("unexpected expansion: %q", got)
	}
	if got := Expand("https://t.example/{id}?x={id}", "a/b"); got != "https://t.example/a/b?x=a/b" {
		t.Fatalf("unexpected expansion: %q", got)
	}
}
