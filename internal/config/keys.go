package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kDuration
)

type keySpec struct {
	key     string
	typ     keyType
	env     string
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "AGENTRELAY_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "AGENTRELAY_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.public_base_url", typ: kString, env: "AGENTRELAY_SERVER_PUBLIC_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Server.PublicBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.PublicBaseURL },
	},
	{
		key: "server.max_connections", typ: kInt, env: "AGENTRELAY_SERVER_MAX_CONNECTIONS",
		apply:   func(cfg *Config, v any) { cfg.Server.MaxConnections = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.MaxConnections },
	},
	{
		key: "storage.data_dir", typ: kString, env: "AGENTRELAY_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "log.level", typ: kString, env: "AGENTRELAY_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
	{
		key: "agent.backend", typ: kString, env: "AGENTRELAY_AGENT_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Agent.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Backend },
	},
	{
		key: "agent.model", typ: kString, env: "AGENTRELAY_AGENT_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Agent.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Agent.Model },
	},
	{
		key: "ollama.base_url", typ: kString, env: "AGENTRELAY_OLLAMA_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Ollama.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Ollama.BaseURL },
	},
	{
		key: "openai.base_url", typ: kString, env: "AGENTRELAY_OPENAI_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.OpenAI.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.BaseURL },
	},
	{
		key: "openai.api_key", typ: kString, env: "AGENTRELAY_OPENAI_API_KEY",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.OpenAI.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.OpenAI.APIKey },
	},
	{
		key: "router.max_auto_messages", typ: kInt, env: "AGENTRELAY_ROUTER_MAX_AUTO_MESSAGES",
		apply:   func(cfg *Config, v any) { cfg.Router.MaxAutoMessages = v.(int) },
		extract: func(cfg Config) any { return cfg.Router.MaxAutoMessages },
	},
	{
		key: "router.window", typ: kDuration, env: "AGENTRELAY_ROUTER_WINDOW",
		apply:   func(cfg *Config, v any) { cfg.Router.Window = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Router.Window },
	},
	{
		key: "router.concurrency", typ: kInt, env: "AGENTRELAY_ROUTER_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Router.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Router.Concurrency },
	},
	{
		key: "router.auto_resume", typ: kBool, env: "AGENTRELAY_ROUTER_AUTO_RESUME",
		apply:   func(cfg *Config, v any) { cfg.Router.AutoResume = v.(bool) },
		extract: func(cfg Config) any { return cfg.Router.AutoResume },
	},
	{
		key: "router.stagger", typ: kDuration, env: "AGENTRELAY_ROUTER_STAGGER",
		apply:   func(cfg *Config, v any) { cfg.Router.Stagger = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Router.Stagger },
	},
	{
		key: "a2a.max_turns", typ: kInt, env: "AGENTRELAY_A2A_MAX_TURNS",
		apply:   func(cfg *Config, v any) { cfg.A2A.MaxTurns = v.(int) },
		extract: func(cfg Config) any { return cfg.A2A.MaxTurns },
	},
	{
		key: "scheduler.poll_interval", typ: kDuration, env: "AGENTRELAY_SCHEDULER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Scheduler.PollInterval = v.(time.Duration) },
		extract: func(cfg Config) any { return cfg.Scheduler.PollInterval },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "AGENTRELAY_AUTH_JWT_SECRET",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "auth.admin_token", typ: kString, env: "AGENTRELAY_AUTH_ADMIN_TOKEN",
		secret: true,
		apply:   func(cfg *Config, v any) { cfg.Auth.AdminToken = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.AdminToken },
	},
	{
		key: "mcp.owner", typ: kString, env: "AGENTRELAY_MCP_OWNER",
		apply:   func(cfg *Config, v any) { cfg.MCP.Owner = v.(string) },
		extract: func(cfg Config) any { return cfg.MCP.Owner },
	},
}

// parse converts raw into the key's type.
func (s keySpec) parse(raw string) (any, error) {
	switch s.typ {
	case kInt:
		return strconv.Atoi(raw)
	case kBool:
		return strconv.ParseBool(raw)
	case kDuration:
		return time.ParseDuration(raw)
	default:
		return raw, nil
	}
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		if s.typ == kInt {
			v, ok, err := b.GetInt(s.key)
			if err != nil {
				return fmt.Errorf("reading %s: %w", s.key, err)
			}
			if ok {
				s.apply(cfg, v)
			}
			continue
		}
		raw, ok, err := b.GetString(s.key)
		if err != nil {
			return fmt.Errorf("reading %s: %w", s.key, err)
		}
		if !ok || raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse config key %s=%q: %v. Using default value.\n", s.key, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	for _, s := range specs {
		if s.env == "" {
			continue
		}
		raw := os.Getenv(s.env)
		if raw == "" {
			continue
		}
		v, err := s.parse(raw)
		if err != nil {
			fmt.Fprintf(os.Stderr, "[WARN] could not parse env var %s=%q: %v. Using default value.\n", s.env, raw, err)
			continue
		}
		s.apply(cfg, v)
	}
}
