package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/agentrelay/internal/api"
	"github.com/kalambet/agentrelay/internal/config"
)

// call sends one request and decodes the JSON reply into out.
func call(ctx context.Context, c *apiClient, method, path string, body, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	return decodeJSON(resp, out)
}

// --- token ---

var tokenCmd = &cobra.Command{
	Use:   "token <handle>",
	Short: "Print a signed API token for a user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ttl, _ := cmd.Flags().GetDuration("ttl")
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		tok, err := api.IssueToken([]byte(cfg.Auth.JWTSecret), args[0], ttl)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
}

// --- inbox ---

type messageRow struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	SenderName     string    `json:"sender_name"`
	Direction      string    `json:"direction"`
	IsFromMe       bool      `json:"is_from_me"`
	Message        string    `json:"message"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

func printMessages(w io.Writer, msgs []messageRow) {
	if len(msgs) == 0 {
		fmt.Fprintln(w, "No messages.")
		return
	}
	for _, m := range msgs {
		from := m.SenderName
		if m.IsFromMe {
			from = "me"
		}
		fmt.Fprintf(w, "%s  %s  %-10s %-8s %s\n",
			colorize(colorCyan, shortID(m.ID)),
			m.CreatedAt.Local().Format("Jan 02 15:04"),
			from,
			m.Status,
			truncate(m.Message, 80),
		)
	}
}

var inboxCmd = &cobra.Command{
	Use:   "inbox",
	Short: "List recent inbox messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var msgs []messageRow
		if err := call(cmd.Context(), client, "GET", fmt.Sprintf("/inbox?limit=%d", limit), nil, &msgs); err != nil {
			return err
		}
		printMessages(cmd.OutOrStdout(), msgs)
		return nil
	},
}

var inboxUnreadCmd = &cobra.Command{
	Use:   "unread",
	Short: "Show the unread message count",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var res map[string]int
		if err := call(cmd.Context(), client, "GET", "/inbox/unread-count", nil, &res); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%d unread\n", res["count"])
		return nil
	},
}

type agentEvent struct {
	Type      string         `json:"type"`
	Content   string         `json:"content"`
	Name      string         `json:"name"`
	Args      map[string]any `json:"args"`
	Response  any            `json:"response"`
	Partial   bool           `json:"partial"`
	SessionID string         `json:"session_id"`
}

var inboxProcessCmd = &cobra.Command{
	Use:   "process <message-id>",
	Short: "Have your agent answer one inbox message, streaming its work",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.httpClient.Timeout = 0
		resp, err := client.post(cmd.Context(), "/inbox/"+url.PathEscape(args[0])+"/process", nil)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		var failure error
		err = readEvents(resp, func(ev agentEvent) bool {
			switch ev.Type {
			case "function_call":
				fmt.Fprintf(w, "%s %s\n", colorize(colorCyan, "→"), ev.Name)
			case "done":
				fmt.Fprintln(w, ev.Response)
				return false
			case "text":
				if ev.Partial {
					fmt.Fprint(w, ev.Content)
				}
			case "error":
				failure = fmt.Errorf("processing failed: %s", ev.Content)
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		return failure
	},
}

func init() {
	inboxCmd.Flags().Int("limit", 20, "maximum number of messages to list")
	inboxCmd.AddCommand(inboxUnreadCmd, inboxProcessCmd)
}

// --- chat ---

var chatCmd = &cobra.Command{
	Use:   "chat <message>",
	Short: "Chat with your agent, or another user's agent with --to",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		session, _ := cmd.Flags().GetString("session")
		to, _ := cmd.Flags().GetString("to")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		client.httpClient.Timeout = 0
		body := map[string]string{"message": strings.Join(args, " "), "session_id": session, "target": to}
		resp, err := client.post(cmd.Context(), "/chat/stream", body)
		if err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		var failure error
		err = readEvents(resp, func(ev agentEvent) bool {
			switch ev.Type {
			case "function_call":
				fmt.Fprintf(w, "%s %s\n", colorize(colorCyan, "→"), ev.Name)
			case "done":
				fmt.Fprintln(w, ev.Response)
				if ev.SessionID != "" {
					printStatus("Session", "%s", ev.SessionID)
				}
				return false
			case "error":
				failure = fmt.Errorf("chat failed: %s", ev.Content)
				return false
			}
			return true
		})
		if err != nil {
			return err
		}
		return failure
	},
}

func init() {
	chatCmd.Flags().String("session", "", "continue this chat session")
	chatCmd.Flags().String("to", "", "talk to this user's agent instead of your own")
}

// --- conversations ---

var convCmd = &cobra.Command{
	Use:     "conversations",
	Aliases: []string{"conv"},
	Short:   "List and manage conversations",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var convs []struct {
			ID          string `json:"id"`
			Partner     string `json:"partner"`
			Status      string `json:"status"`
			AutoRespond bool   `json:"auto_respond"`
			UnreadCount int    `json:"unread_count"`
			LastMessage *struct {
				Message string `json:"message"`
			} `json:"last_message"`
		}
		if err := call(cmd.Context(), client, "GET", "/inbox/conversations", nil, &convs); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(convs) == 0 {
			fmt.Fprintln(w, "No conversations.")
			return nil
		}
		for _, c := range convs {
			flags := c.Status
			if c.AutoRespond {
				flags += ",auto"
			}
			last := ""
			if c.LastMessage != nil {
				last = truncate(c.LastMessage.Message, 60)
			}
			fmt.Fprintf(w, "%s  %-12s %-14s %2d unread  %s\n", colorize(colorCyan, c.ID), c.Partner, flags, c.UnreadCount, last)
		}
		return nil
	},
}

var convShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a conversation's messages and mark them read",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var msgs []messageRow
		if err := call(cmd.Context(), client, "GET", "/inbox/conversations/"+url.PathEscape(args[0])+"/messages", nil, &msgs); err != nil {
			return err
		}
		printMessages(cmd.OutOrStdout(), msgs)
		return nil
	},
}

var convSendCmd = &cobra.Command{
	Use:   "send <id> <message>",
	Short: "Send a message into a conversation",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var res struct {
			Detail struct {
				AutoResponding bool `json:"auto_responding"`
			} `json:"detail"`
		}
		body := map[string]string{"message": strings.Join(args[1:], " ")}
		if err := call(cmd.Context(), client, "POST", "/inbox/conversations/"+url.PathEscape(args[0])+"/send", body, &res); err != nil {
			return err
		}
		if res.Detail.AutoResponding {
			printSuccess("Sent; their agent is replying")
		} else {
			printSuccess("Sent")
		}
		return nil
	},
}

// convAction builds a subcommand that posts to one conversation endpoint.
func convAction(use, short, method, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			var res map[string]any
			if err := call(cmd.Context(), client, method, "/inbox/conversations/"+url.PathEscape(args[0])+suffix, nil, &res); err != nil {
				return err
			}
			printSuccess("%s %s: %v", use, args[0], res)
			return nil
		},
	}
}

func init() {
	convCmd.AddCommand(convShowCmd, convSendCmd,
		convAction("stop", "Stop automatic replies in a conversation", "POST", "/stop"),
		convAction("resume", "Resume a stopped conversation", "POST", "/resume"),
		convAction("auto", "Toggle auto-respond for a conversation", "POST", "/auto-respond"),
		convAction("delete", "Delete a conversation", "DELETE", ""),
	)
}

// --- tasks ---

type taskRow struct {
	ID            string `json:"id"`
	Intent        string `json:"intent"`
	Status        string `json:"status"`
	Phase         string `json:"phase"`
	ResultSummary string `json:"result_summary"`
	ProgressLog   []struct {
		TS  string `json:"ts"`
		Msg string `json:"msg"`
	} `json:"progress_log"`
}

type taskFrame struct {
	Type   string `json:"type"`
	TS     string `json:"ts"`
	Msg    string `json:"msg"`
	Status string `json:"status"`
	Result string `json:"result"`
}

// watchTask prints progress frames until the task finishes and returns its
// final status.
func watchTask(ctx context.Context, c *apiClient, id string, w io.Writer) (string, error) {
	c.httpClient.Timeout = 0
	resp, err := c.get(ctx, "/tasks/"+url.PathEscape(id)+"/stream")
	if err != nil {
		return "", err
	}
	status := ""
	err = readEvents(resp, func(f taskFrame) bool {
		if f.Type == "done" {
			status = f.Status
			if f.Result != "" {
				fmt.Fprintf(w, "\n%s\n", f.Result)
			}
			return false
		}
		fmt.Fprintf(w, "%s %s\n", colorize(colorCyan, "→"), f.Msg)
		return true
	})
	return status, err
}

var taskCmd = &cobra.Command{
	Use:   "task",
	Short: "Run and inspect background tasks",
}

var taskCreateCmd = &cobra.Command{
	Use:   "create <intent>",
	Short: "Start a background task",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		watch, _ := cmd.Flags().GetBool("watch")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var t taskRow
		if err := call(cmd.Context(), client, "POST", "/tasks", map[string]string{"intent": strings.Join(args, " ")}, &t); err != nil {
			return err
		}
		printSuccess("Started task %s", t.ID)
		if !watch {
			return nil
		}
		status, err := watchTask(cmd.Context(), client, t.ID, cmd.OutOrStdout())
		if err != nil {
			return err
		}
		printStatus("Status", "%s", status)
		return nil
	},
}

var taskListCmd = &cobra.Command{
	Use:   "list",
	Short: "List your tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list []taskRow
		if err := call(cmd.Context(), client, "GET", fmt.Sprintf("/tasks?limit=%d", limit), nil, &list); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(w, "No tasks.")
			return nil
		}
		for _, t := range list {
			fmt.Fprintf(w, "%s  %-10s %-10s %s\n", colorize(colorCyan, t.ID), t.Status, t.Phase, truncate(t.Intent, 60))
		}
		return nil
	},
}

var taskShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a task with its progress log",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var t taskRow
		if err := call(cmd.Context(), client, "GET", "/tasks/"+url.PathEscape(args[0]), nil, &t); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		fmt.Fprintf(w, "%s %s [%s/%s]\n", colorize(colorBold, t.ID), t.Intent, t.Status, t.Phase)
		for _, p := range t.ProgressLog {
			fmt.Fprintf(w, "  %s  %s\n", p.TS, p.Msg)
		}
		if t.ResultSummary != "" {
			fmt.Fprintf(w, "\n%s\n", t.ResultSummary)
		}
		return nil
	},
}

var taskWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "Stream a task's progress until it finishes",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		status, err := watchTask(cmd.Context(), client, args[0], cmd.OutOrStdout())
		if err != nil {
			return err
		}
		printStatus("Status", "%s", status)
		return nil
	},
}

var taskCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a task",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var res map[string]string
		if err := call(cmd.Context(), client, "POST", "/tasks/"+url.PathEscape(args[0])+"/cancel", nil, &res); err != nil {
			return err
		}
		printSuccess("Task %s %s", args[0], res["status"])
		return nil
	},
}

func init() {
	taskCreateCmd.Flags().Bool("watch", false, "stream progress until the task finishes")
	taskListCmd.Flags().Int("limit", 20, "maximum number of tasks to list")
	taskCmd.AddCommand(taskCreateCmd, taskListCmd, taskShowCmd, taskWatchCmd, taskCancelCmd)
}

// --- schedule ---

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Manage scheduled tasks",
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <intent>",
	Short: "Schedule a task",
	Long: `Schedule a task to run at a time, optionally repeating.

Examples:
  agentrelay --as alice schedule add "social pulse" --at 2026-03-01T09:00:00Z --every daily
  agentrelay --as alice schedule add "check flight prices" --in 2h`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		at, _ := cmd.Flags().GetString("at")
		in, _ := cmd.Flags().GetDuration("in")
		every, _ := cmd.Flags().GetString("every")

		trigger, err := triggerTime(at, in, time.Now())
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		body := map[string]string{
			"intent":     strings.Join(args, " "),
			"trigger_at": trigger.Format(time.RFC3339),
			"recurrence": every,
		}
		var res struct {
			ID        string    `json:"id"`
			TriggerAt time.Time `json:"trigger_at"`
		}
		if err := call(cmd.Context(), client, "POST", "/schedule", body, &res); err != nil {
			return err
		}
		printSuccess("Scheduled %s for %s", res.ID, res.TriggerAt.Local().Format(time.RFC1123))
		return nil
	},
}

// triggerTime resolves --at or --in into an absolute time.
func triggerTime(at string, in time.Duration, now time.Time) (time.Time, error) {
	switch {
	case at != "" && in != 0:
		return time.Time{}, fmt.Errorf("use only one of --at or --in")
	case at != "":
		t, err := time.Parse(time.RFC3339, at)
		if err != nil {
			return time.Time{}, fmt.Errorf("--at must be RFC3339: %w", err)
		}
		return t, nil
	case in > 0:
		return now.Add(in), nil
	default:
		return time.Time{}, fmt.Errorf("one of --at or --in is required")
	}
}

var scheduleListCmd = &cobra.Command{
	Use:   "list",
	Short: "List scheduled tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list []struct {
			ID         string    `json:"id"`
			Intent     string    `json:"intent"`
			TriggerAt  time.Time `json:"trigger_at"`
			Recurrence string    `json:"recurrence"`
			Status     string    `json:"status"`
		}
		if err := call(cmd.Context(), client, "GET", "/schedule", nil, &list); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(w, "No scheduled tasks.")
			return nil
		}
		for _, s := range list {
			fmt.Fprintf(w, "%s  %-9s %-7s %s  %s\n", colorize(colorCyan, s.ID), s.Status, s.Recurrence,
				s.TriggerAt.Local().Format("Jan 02 15:04"), truncate(s.Intent, 50))
		}
		return nil
	},
}

func scheduleAction(use, method, suffix string) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a scheduled task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			var res map[string]string
			if err := call(cmd.Context(), client, method, "/schedule/"+url.PathEscape(args[0])+suffix, nil, &res); err != nil {
				return err
			}
			printSuccess("Schedule %s is %s", args[0], res["status"])
			return nil
		},
	}
}

func init() {
	scheduleAddCmd.Flags().String("at", "", "trigger time (RFC3339)")
	scheduleAddCmd.Flags().Duration("in", 0, "trigger after this delay")
	scheduleAddCmd.Flags().String("every", "once", "recurrence: once, daily, weekly or monthly")
	scheduleCmd.AddCommand(scheduleAddCmd, scheduleListCmd,
		scheduleAction("cancel", "DELETE", ""),
		scheduleAction("pause", "POST", "/pause"),
		scheduleAction("resume", "POST", "/resume"),
	)
}

// --- contacts ---

var contactsCmd = &cobra.Command{
	Use:   "contacts",
	Short: "List and manage contacts",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var list []struct {
			ID           string   `json:"id"`
			Name         string   `json:"name"`
			Type         string   `json:"type"`
			Status       string   `json:"status"`
			AgentCardURL string   `json:"agent_card_url"`
			Tags         []string `json:"tags"`
		}
		if err := call(cmd.Context(), client, "GET", "/contacts", nil, &list); err != nil {
			return err
		}
		w := cmd.OutOrStdout()
		if len(list) == 0 {
			fmt.Fprintln(w, "No contacts.")
			return nil
		}
		for _, c := range list {
			fmt.Fprintf(w, "%s  %-16s %-9s %-8s %s\n", colorize(colorCyan, shortID(c.ID)), c.Name, c.Type, c.Status, c.AgentCardURL)
		}
		return nil
	},
}

var contactsAddCmd = &cobra.Command{
	Use:   "add <name> <agent-card-url>",
	Short: "Add a trusted contact",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		desc, _ := cmd.Flags().GetString("description")
		tagsStr, _ := cmd.Flags().GetString("tags")

		body := map[string]any{
			"name":           args[0],
			"agent_card_url": args[1],
			"type":           typ,
			"description":    desc,
		}
		if tagsStr != "" {
			tags := strings.Split(tagsStr, ",")
			for i := range tags {
				tags[i] = strings.TrimSpace(tags[i])
			}
			body["tags"] = tags
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var res map[string]any
		if err := call(cmd.Context(), client, "POST", "/contacts", body, &res); err != nil {
			return err
		}
		printSuccess("Added %s (%v)", args[0], res["agent_card_url"])
		return nil
	},
}

var contactsApproveCmd = &cobra.Command{
	Use:   "approve <id>",
	Short: "Approve a pending contact",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var res map[string]any
		if err := call(cmd.Context(), client, "POST", "/contacts/"+url.PathEscape(args[0])+"/approve", nil, &res); err != nil {
			return err
		}
		printSuccess("Approved %v", res["name"])
		return nil
	},
}

func init() {
	contactsAddCmd.Flags().String("type", "personal", "contact type: personal or merchant")
	contactsAddCmd.Flags().String("description", "", "short description")
	contactsAddCmd.Flags().String("tags", "", "comma-separated tags")
	contactsCmd.AddCommand(contactsAddCmd, contactsApproveCmd)
}

// --- preferences ---

var prefsCmd = &cobra.Command{
	Use:   "prefs",
	Short: "Show or update your agent preferences",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var p any
		if err := call(cmd.Context(), client, "GET", "/me/preferences", nil, &p); err != nil {
			return err
		}
		return printJSON(cmd.OutOrStdout(), p)
	},
}

var prefsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a preference (display_name, agent_instructions, auto_inbox_enabled, a2a_max_turns)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, err := prefValue(args[0], args[1])
		if err != nil {
			return err
		}
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		var p any
		if err := call(cmd.Context(), client, "PATCH", "/me/preferences", map[string]any{args[0]: v}, &p); err != nil {
			return err
		}
		printSuccess("Set %s = %s", args[0], args[1])
		return nil
	},
}

// prefValue converts a command-line value to the JSON type key expects.
func prefValue(key, raw string) (any, error) {
	switch key {
	case "auto_inbox_enabled":
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("%s must be true or false", key)
		}
		return b, nil
	case "a2a_max_turns":
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("%s must be an integer", key)
		}
		return n, nil
	case "display_name", "agent_instructions":
		return raw, nil
	default:
		return nil, fmt.Errorf("unknown preference %q", key)
	}
}

func init() {
	prefsCmd.AddCommand(prefsSetCmd)
}

// --- admin ---

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Directory administration (uses auth.admin_token)",
}

var adminUserCmd = &cobra.Command{
	Use:   "add-user <handle>",
	Short: "Create a platform user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		instructions, _ := cmd.Flags().GetString("instructions")
		autoInbox, _ := cmd.Flags().GetBool("auto-inbox")
		maxTurns, _ := cmd.Flags().GetInt("max-turns")

		client, err := newAdminClient()
		if err != nil {
			return err
		}
		body := map[string]any{
			"handle":             args[0],
			"display_name":       name,
			"agent_instructions": instructions,
			"auto_inbox_enabled": autoInbox,
			"a2a_max_turns":      maxTurns,
		}
		var p map[string]any
		if err := call(cmd.Context(), client, "POST", "/admin/users", body, &p); err != nil {
			return err
		}
		printSuccess("Created user %v", p["handle"])
		return nil
	},
}

var adminAgentCmd = &cobra.Command{
	Use:   "add-agent <name> <agent-card-url>",
	Short: "Register a trusted external agent",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		typ, _ := cmd.Flags().GetString("type")
		desc, _ := cmd.Flags().GetString("description")

		client, err := newAdminClient()
		if err != nil {
			return err
		}
		body := map[string]string{"name": args[0], "agent_card_url": args[1], "type": typ, "description": desc}
		var res map[string]string
		if err := call(cmd.Context(), client, "POST", "/admin/agents", body, &res); err != nil {
			return err
		}
		printSuccess("Registered %s (%s)", res["name"], res["id"])
		return nil
	},
}

func init() {
	adminUserCmd.Flags().String("name", "", "display name")
	adminUserCmd.Flags().String("instructions", "", "agent instructions")
	adminUserCmd.Flags().Bool("auto-inbox", false, "let the agent answer inbox messages on its own")
	adminUserCmd.Flags().Int("max-turns", 0, "agent-to-agent turn budget (default 3)")
	adminAgentCmd.Flags().String("type", "merchant", "agent type")
	adminAgentCmd.Flags().String("description", "", "short description")
	adminCmd.AddCommand(adminUserCmd, adminAgentCmd)
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}
		for _, k := range config.ShowAll(cfg) {
			fmt.Fprintf(cmd.OutOrStdout(), "  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]
		if err := config.SetKey(key, value); err != nil {
			return err
		}
		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var configSetSecretCmd = &cobra.Command{
	Use:   "set-secret <key> <value>",
	Short: "Store a secret (auth.jwt_secret, auth.admin_token, openai.api_key)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := config.SetSecret(args[0], args[1]); err != nil {
			return err
		}
		printSuccess("Stored %s", args[0])
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd, configSetCmd, configSetSecretCmd)
}
