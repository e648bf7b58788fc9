package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// mockSecrets is a test double for the secrets file.
type mockSecrets map[string]string

func (m mockSecrets) Get(account string) (string, error) {
	v, ok := m[account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func writeTempConfig(t *testing.T, content string) *fileBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return newFileBackend(path)
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, s := range specs {
		t.Setenv(s.env, "")
	}
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{"auth.jwt_secret": "s3cret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 || cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Server.Addr() != "127.0.0.1:8080" {
		t.Errorf("Addr() = %q", cfg.Server.Addr())
	}
	if cfg.Server.MaxConnections != 256 {
		t.Errorf("MaxConnections = %d, want 256", cfg.Server.MaxConnections)
	}
	if cfg.Agent.Backend != "ollama" {
		t.Errorf("Agent.Backend = %q, want ollama", cfg.Agent.Backend)
	}
	if cfg.OpenAI.BaseURL != "https://openrouter.ai/api/v1" {
		t.Errorf("OpenAI.BaseURL = %q", cfg.OpenAI.BaseURL)
	}
	r := cfg.Router
	if r.MaxAutoMessages != 20 || r.Window != 10*time.Minute || r.Concurrency != 2 || !r.AutoResume || r.Stagger != time.Second {
		t.Errorf("Router = %+v", r)
	}
	if cfg.A2A.MaxTurns != 3 {
		t.Errorf("A2A.MaxTurns = %d, want 3", cfg.A2A.MaxTurns)
	}
	if cfg.Scheduler.PollInterval != 30*time.Second {
		t.Errorf("Scheduler.PollInterval = %v", cfg.Scheduler.PollInterval)
	}
	if cfg.Auth.JWTSecret != "s3cret" {
		t.Errorf("JWTSecret = %q, want secrets file value", cfg.Auth.JWTSecret)
	}
}

// TestFileParsing verifies that fields are correctly read from the JSON file.
func TestFileParsing(t *testing.T) {
	clearEnv(t)
	b := writeTempConfig(t, `{
  "server.port": 9090,
  "server.public_base_url": "https://relay.example",
  "agent.backend": "openai",
  "router.window": "5m",
  "router.auto_resume": "false",
  "router.concurrency": "4",
  "a2a.max_turns": 5,
  "auth.jwt_secret": "ignored-in-file"
}`)
	cfg, err := loadWith(b, mockSecrets{"auth.jwt_secret": "from-secrets"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 9090 || cfg.Server.PublicBaseURL != "https://relay.example" {
		t.Errorf("Server = %+v", cfg.Server)
	}
	if cfg.Agent.Backend != "openai" {
		t.Errorf("Agent.Backend = %q", cfg.Agent.Backend)
	}
	if cfg.Router.Window != 5*time.Minute || cfg.Router.AutoResume || cfg.Router.Concurrency != 4 {
		t.Errorf("Router = %+v", cfg.Router)
	}
	if cfg.A2A.MaxTurns != 5 {
		t.Errorf("A2A.MaxTurns = %d", cfg.A2A.MaxTurns)
	}
	if cfg.Auth.JWTSecret != "from-secrets" {
		t.Errorf("secret read from plain config file: %q", cfg.Auth.JWTSecret)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv("AGENTRELAY_SERVER_PORT", "7000")
	t.Setenv("AGENTRELAY_ROUTER_STAGGER", "250ms")
	t.Setenv("AGENTRELAY_AUTH_JWT_SECRET", "env-secret")
	t.Setenv("AGENTRELAY_ROUTER_CONCURRENCY", "not-a-number")

	cfg, err := loadWith(writeTempConfig(t, `{"server.port": 9090}`), mockSecrets{"auth.jwt_secret": "file-secret"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.Port != 7000 {
		t.Errorf("Server.Port = %d, want 7000", cfg.Server.Port)
	}
	if cfg.Router.Stagger != 250*time.Millisecond {
		t.Errorf("Router.Stagger = %v", cfg.Router.Stagger)
	}
	if cfg.Auth.JWTSecret != "env-secret" {
		t.Errorf("JWTSecret = %q, want env value", cfg.Auth.JWTSecret)
	}
	if cfg.Router.Concurrency != 2 {
		t.Errorf("bad env value replaced default: %d", cfg.Router.Concurrency)
	}
}

// TestMissingJWTSecret verifies a clear error when the signing secret is missing everywhere.
func TestMissingJWTSecret(t *testing.T) {
	clearEnv(t)
	_, err := loadWith(writeTempConfig(t, `{}`), mockSecrets{})
	if err == nil {
		t.Fatal("expected error for missing JWT secret, got nil")
	}
	if !strings.Contains(err.Error(), "AGENTRELAY_AUTH_JWT_SECRET") {
		t.Errorf("error = %q, want it to name the env var", err)
	}
}

func TestBadIntInFile(t *testing.T) {
	clearEnv(t)
	_, err := loadWith(writeTempConfig(t, `{"server.port": 1.5}`), mockSecrets{"auth.jwt_secret": "x"})
	if err == nil {
		t.Fatal("expected error for fractional port")
	}
}

func TestSetKey(t *testing.T) {
	b := newFileBackend(filepath.Join(t.TempDir(), "agentrelay", "config.json"))

	if err := setKey(b, "router.window", "2m"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "server.port", "9000"); err != nil {
		t.Fatalf("setKey: %v", err)
	}
	if err := setKey(b, "router.window", "soon"); err == nil {
		t.Error("expected error for bad duration")
	}
	if err := setKey(b, "auth.jwt_secret", "x"); err == nil {
		t.Error("expected error setting a secret")
	}
	if err := setKey(b, "nope", "x"); err == nil {
		t.Error("expected error for unknown key")
	}

	reread := newFileBackend(b.path)
	if v, ok, _ := reread.GetString("router.window"); !ok || v != "2m" {
		t.Errorf("router.window = %q, %v", v, ok)
	}
	if v, ok, _ := reread.GetInt("server.port"); !ok || v != 9000 {
		t.Errorf("server.port = %d, %v", v, ok)
	}
}

func TestSetSecret(t *testing.T) {
	f := fileSecrets{path: filepath.Join(t.TempDir(), "secrets.json")}

	if err := setSecret(f, "auth.jwt_secret", "abc"); err != nil {
		t.Fatalf("setSecret: %v", err)
	}
	if err := setSecret(f, "server.port", "1"); err == nil {
		t.Error("expected error for non-secret key")
	}
	got, err := f.Get("auth.jwt_secret")
	if err != nil || got != "abc" {
		t.Errorf("Get = %q, %v", got, err)
	}
	info, err := os.Stat(f.path)
	if err != nil {
		t.Fatal(err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}

func TestShowAllMasksSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Auth.JWTSecret = "hunter2"

	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "hunter2") {
			t.Errorf("%s leaks secret value", k.Key)
		}
		switch k.Key {
		case "auth.jwt_secret":
			if k.Value != "(set)" {
				t.Errorf("jwt secret shown as %q", k.Value)
			}
		case "auth.admin_token":
			if k.Value != "(unset)" {
				t.Errorf("admin token shown as %q", k.Value)
			}
		case "router.window":
			if k.Value != "10m0s" {
				t.Errorf("router.window = %q", k.Value)
			}
		}
	}
	for _, k := range ValidKeys() {
		if k == "auth.jwt_secret" || k == "openai.api_key" {
			t.Errorf("ValidKeys includes secret %s", k)
		}
	}
}
