package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"
	"golang.org/x/net/netutil"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/agentrelay/internal/a2a"
	"github.com/kalambet/agentrelay/internal/agent"
	"github.com/kalambet/agentrelay/internal/api"
	"github.com/kalambet/agentrelay/internal/config"
	"github.com/kalambet/agentrelay/internal/gateway"
	"github.com/kalambet/agentrelay/internal/ollama"
	"github.com/kalambet/agentrelay/internal/outbox"
	"github.com/kalambet/agentrelay/internal/profile"
	"github.com/kalambet/agentrelay/internal/router"
	"github.com/kalambet/agentrelay/internal/scheduler"
	"github.com/kalambet/agentrelay/internal/storage"
	"github.com/kalambet/agentrelay/internal/tasks"
	"github.com/kalambet/agentrelay/internal/tools"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the agentrelay server (foreground)",
	RunE: func(cmd *cobra.Command, args []string) error {
		mcpStdio, _ := cmd.Flags().GetBool("mcp")
		return runServer(mcpStdio)
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agentrelay server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return stopServer()
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show agentrelay status",
	RunE: func(cmd *cobra.Command, args []string) error {
		return showStatus()
	},
}

func init() {
	startCmd.Flags().Bool("mcp", false, "also serve the agent tools over MCP on stdio (requires mcp.owner)")
}

func pidFilePath(dataDir string) string {
	return filepath.Join(dataDir, "agentrelay.pid")
}

func writePIDFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644)
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func removePIDFile(path string) {
	os.Remove(path)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return l
}

// lateAgents lets the task runner reach the agent pool, which can only be
// built once the tools (and so the runner) exist.
type lateAgents struct {
	pool *agent.Pool
}

func (l *lateAgents) Get(handle string) (agent.Agent, error) {
	if l.pool == nil {
		return nil, fmt.Errorf("agent pool not ready")
	}
	return l.pool.Get(handle)
}

func runServer(mcpStdio bool) error {
	fmt.Fprintf(os.Stderr, "agentrelay version %s\n", version)

	cfg, err := config.Load()
	if err != nil {
		return err
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.Log.Level)})))

	if mcpStdio && cfg.MCP.Owner == "" {
		return fmt.Errorf("--mcp requires mcp.owner to be set")
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	healthURL := fmt.Sprintf("http://%s/health", cfg.Server.Addr())
	healthClient := &http.Client{Timeout: 2 * time.Second}
	if resp, err := healthClient.Get(healthURL); err == nil {
		resp.Body.Close()
		if pid, pidErr := readPIDFile(pidPath); pidErr == nil {
			printWarning("agentrelay is already running (PID %d)", pid)
			return fmt.Errorf("server already running (PID %d)", pid)
		}
		printWarning("agentrelay is already running on %s", cfg.Server.Addr())
		return fmt.Errorf("server already running on %s", cfg.Server.Addr())
	}
	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer removePIDFile(pidPath)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Agent.Backend == agent.BackendOllama {
		if err := ollama.EnsureReady(ctx, ollama.New(cfg.Ollama.BaseURL), cfg.Agent.Model, os.Stderr); err != nil {
			return err
		}
	}

	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return fmt.Errorf("opening storage: %w", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "warning: closing storage: %v\n", err)
		}
	}()

	addrs := a2a.NewAddresses(cfg.Server.PublicBaseURL)
	trust := a2a.TrustPolicy{Addresses: addrs, Registry: store}
	a2aClient := a2a.NewClient(&http.Client{Timeout: 2 * time.Minute})
	prefs := profile.NewManager(store)

	agents := &lateAgents{}
	runner := tasks.NewRunner(store, agents)
	sched := scheduler.New(store, runner, cfg.Scheduler.PollInterval)

	toolset := tools.New(tools.Deps{
		Contacts:  store,
		Ledger:    store,
		Messenger: a2aClient,
		Trust:     trust,
		Addresses: addrs,
		Tasks:     runner,
		TaskList:  store,
		Schedules: sched,
	})
	build, err := agent.NewBuilder(agent.Config{
		Backend:       cfg.Agent.Backend,
		Model:         cfg.Agent.Model,
		OllamaURL:     cfg.Ollama.BaseURL,
		OpenAIBaseURL: cfg.OpenAI.BaseURL,
		OpenAIAPIKey:  cfg.OpenAI.APIKey,
	}, toolset)
	if err != nil {
		return fmt.Errorf("configuring agents: %w", err)
	}
	agents.pool = agent.NewPool(store, build)
	prefs.OnChange(agents.pool.Invalidate)

	rt := router.New(router.Deps{Ledger: store, Prefs: prefs, Agents: agents.pool}, router.Options{
		MaxAutoMessages: cfg.Router.MaxAutoMessages,
		Window:          cfg.Router.Window,
		Concurrency:     int64(cfg.Router.Concurrency),
		AutoResume:      cfg.Router.AutoResume,
		Stagger:         cfg.Router.Stagger,
	})
	gw := gateway.New(gateway.Deps{
		Directory: store,
		Ledger:    store,
		Agents:    agents.pool,
		Cards:     a2aClient,
		Queue:     store,
	}, gateway.Config{
		Addresses:       addrs,
		DefaultMaxTurns: cfg.A2A.MaxTurns,
		OrganizationURL: cfg.Server.PublicBaseURL,
	})
	worker := outbox.NewWorker(store, a2aClient, 0)

	if cfg.Auth.AdminToken == "" {
		slog.Warn("auth.admin_token is not set; admin routes will reject every request")
	}
	handler := api.NewHandler(api.AppDeps{
		Store:      store,
		Profile:    prefs,
		Router:     rt,
		Agents:     agents.pool,
		Tasks:      runner,
		Scheduler:  sched,
		Gateway:    gw,
		Trust:      trust,
		JWTSecret:  []byte(cfg.Auth.JWTSecret),
		AdminToken: cfg.Auth.AdminToken,
	})

	ln, err := net.Listen("tcp", cfg.Server.Addr())
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Server.Addr(), err)
	}
	if cfg.Server.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.Server.MaxConnections)
	}
	srv := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("agentrelay listening", "addr", ln.Addr().String(), "public_url", cfg.Server.PublicBaseURL)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := sched.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
			return fmt.Errorf("scheduler: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		worker.Run(gctx)
		return nil
	})

	if mcpStdio {
		mcpSrv := api.NewMCPServer(api.MCPDeps{Tools: toolset, Owner: cfg.MCP.Owner, Inbox: store})
		stdioSrv := server.NewStdioServer(mcpSrv)
		g.Go(func() error {
			if err := stdioSrv.Listen(gctx, os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
				slog.Error("MCP stdio server error", "error", err)
			}
			return nil
		})
		slog.Info("MCP server started (stdio transport)", "owner", cfg.MCP.Owner)
	}

	g.Go(func() error {
		<-gctx.Done()
		fmt.Fprintln(os.Stderr, "shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Warn("http shutdown", "error", err)
		}
		if err := rt.Shutdown(shutdownCtx); err != nil {
			slog.Warn("router shutdown", "error", err, "in_flight", rt.InFlight())
		}
		runner.Stop()
		return nil
	})

	return g.Wait()
}

func stopServer() error {
	cfg, err := config.Load()
	if err != nil {
		printError("could not load config: %v", err)
		return err
	}

	pidPath := pidFilePath(cfg.Storage.DataDir)
	pid, err := readPIDFile(pidPath)
	if err != nil {
		printError("agentrelay is not running (no PID file)")
		return fmt.Errorf("not running: %w", err)
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		printError("could not find process %d", pid)
		return err
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		printError("could not stop agentrelay (PID %d): %v", pid, err)
		removePIDFile(pidPath)
		return err
	}

	printSuccess("Sent stop signal to agentrelay (PID %d)", pid)
	return nil
}

func showStatus() error {
	cfg, err := config.Load()
	if err != nil {
		printError("config error: %v", err)
		return nil
	}

	serverURL := "http://" + cfg.Server.Addr()
	client := &http.Client{Timeout: 2 * time.Second}

	resp, err := client.Get(serverURL + "/health")
	if err != nil {
		printStatus("Server", "stopped")
	} else {
		resp.Body.Close()
		if resp.StatusCode == http.StatusOK {
			printStatus("Server", "running on %s", cfg.Server.Addr())
		} else {
			printStatus("Server", "error (HTTP %d)", resp.StatusCode)
		}
	}
	printStatus("Public URL", "%s", cfg.Server.PublicBaseURL)

	printStatus("Agent backend", "%s (%s)", cfg.Agent.Backend, cfg.Agent.Model)
	if cfg.Agent.Backend == agent.BackendOllama {
		if ollamaResp, err := client.Get(cfg.Ollama.BaseURL + "/api/version"); err != nil {
			printStatus("Ollama", "not running")
		} else {
			ollamaResp.Body.Close()
			printStatus("Ollama", "running at %s", cfg.Ollama.BaseURL)
		}
	}

	if resp != nil && resp.StatusCode == http.StatusOK && asHandle != "" {
		if c, err := newAPIClient(); err == nil {
			var count map[string]int
			if r, err := c.get(context.Background(), "/inbox/unread-count"); err == nil && decodeJSON(r, &count) == nil {
				printStatus("Unread", "%d for %s", count["count"], asHandle)
			}
			var list []taskStatus
			if r, err := c.get(context.Background(), "/tasks?limit=100"); err == nil && decodeJSON(r, &list) == nil {
				printStatus("Tasks", "%s (%d running)", countLabel(len(list), 100), countRunning(list))
			}
		}
	}

	printStatus("Data dir", "%s", cfg.Storage.DataDir)
	return nil
}

type taskStatus struct {
	Status string `json:"status"`
}

func countRunning(list []taskStatus) int {
	n := 0
	for _, t := range list {
		if t.Status == storage.TaskRunning {
			n++
		}
	}
	return n
}

func countLabel(count, limit int) string {
	if count >= limit {
		return fmt.Sprintf("%d+", count)
	}
	return fmt.Sprintf("%d", count)
}
