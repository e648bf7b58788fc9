package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Storage   StorageConfig
	Log       LogConfig
	Agent     AgentConfig
	Ollama    OllamaConfig
	OpenAI    OpenAIConfig
	Router    RouterConfig
	A2A       A2AConfig
	Scheduler SchedulerConfig
	Auth      AuthConfig
	MCP       MCPConfig
}

type ServerConfig struct {
	Host           string
	Port           int
	PublicBaseURL  string
	MaxConnections int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

type AgentConfig struct {
	Backend string
	Model   string
}

type OllamaConfig struct {
	BaseURL string
}

type OpenAIConfig struct {
	BaseURL string
	APIKey  string
}

type RouterConfig struct {
	MaxAutoMessages int
	Window          time.Duration
	Concurrency     int
	AutoResume      bool
	Stagger         time.Duration
}

type A2AConfig struct {
	MaxTurns int
}

type SchedulerConfig struct {
	PollInterval time.Duration
}

type AuthConfig struct {
	JWTSecret  string
	AdminToken string
}

type MCPConfig struct {
	Owner string
}

// Addr is the listen address.
func (s ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

func defaults() Config {
	return Config{
		Server: ServerConfig{
			Host:           "127.0.0.1",
			Port:           8080,
			PublicBaseURL:  "http://localhost:8080",
			MaxConnections: 256,
		},
		Storage: StorageConfig{
			DataDir: defaultDataDir(),
		},
		Log: LogConfig{
			Level: "info",
		},
		Agent: AgentConfig{
			Backend: "ollama",
			Model:   "llama3.1",
		},
		Ollama: OllamaConfig{
			BaseURL: "http://localhost:11434",
		},
		OpenAI: OpenAIConfig{
			BaseURL: "https://openrouter.ai/api/v1",
		},
		Router: RouterConfig{
			MaxAutoMessages: 20,
			Window:          10 * time.Minute,
			Concurrency:     2,
			AutoResume:      true,
			Stagger:         time.Second,
		},
		A2A: A2AConfig{
			MaxTurns: 3,
		},
		Scheduler: SchedulerConfig{
			PollInterval: 30 * time.Second,
		},
	}
}

// Load reads configuration in increasing order of precedence: defaults, the
// JSON file at $XDG_CONFIG_HOME/agentrelay/config.json, and AGENTRELAY_*
// environment variables. A .env file in the working directory is loaded into
// the environment first. Secrets not given in the environment are read from
// the secrets file under the data directory.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "[WARN] could not load .env: %v\n", err)
	}
	return loadWith(newFileBackend(configFilePath()), fileSecrets{path: secretsFilePath()})
}

// secretSource abstracts the secrets file for testing.
type secretSource interface {
	Get(account string) (string, error)
}

func loadWith(b ConfigBackend, secrets secretSource) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	applyEnvOverrides(&cfg)

	// Fall back to the secrets file for anything still empty.
	for _, s := range specs {
		if !s.secret || s.extract(cfg).(string) != "" {
			continue
		}
		if v, err := secrets.Get(s.key); err == nil && v != "" {
			s.apply(&cfg, v)
		}
	}

	if cfg.Auth.JWTSecret == "" {
		return Config{}, fmt.Errorf("missing required config: JWT signing secret. " +
			"Set it via environment variable AGENTRELAY_AUTH_JWT_SECRET or run `agentrelay config set-secret auth.jwt_secret <value>`")
	}

	return cfg, nil
}

func dataHome() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return ""
		}
		dir = filepath.Join(home, ".local", "share")
	}
	return dir
}

func defaultDataDir() string {
	dir := dataHome()
	if dir == "" {
		return "agentrelay-data"
	}
	return filepath.Join(dir, "agentrelay")
}
