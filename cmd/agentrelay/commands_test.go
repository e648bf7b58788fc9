package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/agentrelay/internal/api"
	"github.com/kalambet/agentrelay/internal/config"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			if strings.HasPrefix(resp, "data: ") {
				w.Header().Set("Content-Type", "text/event-stream")
			} else {
				w.Header().Set("Content-Type", "application/json")
			}
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

// useServer points both client constructors at ts for the rest of the test.
func useServer(t *testing.T, ts *testServer) {
	t.Helper()
	oldUser, oldAdmin := newAPIClient, newAdminClient
	newAPIClient = func() (*apiClient, error) { return ts.client(), nil }
	newAdminClient = func() (*apiClient, error) {
		c := ts.client()
		c.token = "admin-token"
		return c, nil
	}
	t.Cleanup(func() { newAPIClient, newAdminClient = oldUser, oldAdmin })
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	defer func() {
		rootCmd.SetOut(nil)
		rootCmd.SetArgs(nil)
	}()
	err := rootCmd.Execute()
	return out.String(), err
}

func bodyOf(t *testing.T, r recordedRequest) map[string]any {
	t.Helper()
	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v (%q)", err, r.Body)
	}
	return body
}

var ctx = context.Background()

func TestTaskCreateCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /tasks": `{"id":"abc123def456","intent":"find a laptop","status":"pending"}`,
	})
	useServer(t, ts)

	if _, err := runCmd(t, "task", "create", "find", "a", "laptop"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	r := ts.requests[0]
	if r.Method != "POST" || r.Path != "/tasks" {
		t.Errorf("request = %s %s, want POST /tasks", r.Method, r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q", r.Auth)
	}
	if got := bodyOf(t, r)["intent"]; got != "find a laptop" {
		t.Errorf("intent = %v, want joined args", got)
	}
}

func TestTaskWatchCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /tasks/t1/stream": "data: {\"ts\":\"2026-01-01T00:00:00Z\",\"msg\":\"Task started: x\"}\n\n" +
			"data: {\"type\":\"done\",\"status\":\"completed\",\"result\":\"all done\"}\n\n" +
			"data: {\"msg\":\"never read\"}\n\n",
	})
	useServer(t, ts)

	out, err := runCmd(t, "task", "watch", "t1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Task started: x") || !strings.Contains(out, "all done") {
		t.Errorf("output = %q", out)
	}
	if strings.Contains(out, "never read") {
		t.Error("frames after done were printed")
	}
}

func TestTaskListCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /tasks": `[{"id":"t1","intent":"social pulse","status":"running","phase":"WORKING"}]`,
	})
	useServer(t, ts)

	out, err := runCmd(t, "--no-color", "task", "list")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "t1") || !strings.Contains(out, "social pulse") {
		t.Errorf("output = %q", out)
	}
	if ts.requests[0].Path != "/tasks?limit=20" {
		t.Errorf("path = %q", ts.requests[0].Path)
	}
}

func TestConvSendCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /inbox/conversations/c1/send": `{"status":"sent","detail":{"auto_responding":true}}`,
	})
	useServer(t, ts)

	if _, err := runCmd(t, "conv", "send", "c1", "see", "you", "at", "noon"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := bodyOf(t, ts.requests[0])["message"]; got != "see you at noon" {
		t.Errorf("message = %v", got)
	}
}

func TestConvSendCommand_MissingArgs(t *testing.T) {
	_, err := runCmd(t, "conv", "send", "c1")
	if err == nil {
		t.Fatal("expected error for missing message")
	}
	if !strings.Contains(err.Error(), "requires at least 2 arg(s)") {
		t.Errorf("error = %q", err.Error())
	}
}

func TestConvActions(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /inbox/conversations/c1/stop":   `{"status":"stopped"}`,
		"POST /inbox/conversations/c1/resume": `{"status":"active"}`,
		"DELETE /inbox/conversations/c1":      `{"status":"deleted"}`,
	})
	useServer(t, ts)

	for _, action := range []string{"stop", "resume", "delete"} {
		if _, err := runCmd(t, "conv", action, "c1"); err != nil {
			t.Fatalf("%s: %v", action, err)
		}
	}
	want := []string{"POST /inbox/conversations/c1/stop", "POST /inbox/conversations/c1/resume", "DELETE /inbox/conversations/c1"}
	for i, w := range want {
		if got := ts.requests[i].Method + " " + ts.requests[i].Path; got != w {
			t.Errorf("request %d = %q, want %q", i, got, w)
		}
	}
}

func TestInboxProcessCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /inbox/m1/process": "data: {\"type\":\"function_call\",\"name\":\"get_my_contacts\"}\n\n" +
			"data: {\"type\":\"done\",\"response\":\"Sure, Friday works.\"}\n\n",
	})
	useServer(t, ts)

	out, err := runCmd(t, "--no-color", "inbox", "process", "m1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "get_my_contacts") || !strings.Contains(out, "Sure, Friday works.") {
		t.Errorf("output = %q", out)
	}
}

func TestInboxProcessCommand_Error(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /inbox/m1/process": "data: {\"type\":\"error\",\"content\":\"model offline\"}\n\n",
	})
	useServer(t, ts)

	_, err := runCmd(t, "inbox", "process", "m1")
	if err == nil || !strings.Contains(err.Error(), "model offline") {
		t.Errorf("err = %v, want model offline", err)
	}
}

func TestChatCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /chat/stream": "data: {\"type\":\"text\",\"content\":\"Fri\",\"partial\":true}\n\n" +
			"data: {\"type\":\"done\",\"response\":\"Friday works.\",\"session_id\":\"s9\"}\n\n",
	})
	useServer(t, ts)

	out, err := runCmd(t, "chat", "dinner", "friday?", "--to", "bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out, "Friday works.") {
		t.Errorf("output = %q", out)
	}
	body := bodyOf(t, ts.requests[0])
	if body["message"] != "dinner friday?" || body["target"] != "bob" {
		t.Errorf("body = %v", body)
	}
}

func TestAdminAddUserUsesAdminToken(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /admin/users": `{"handle":"carol"}`,
	})
	useServer(t, ts)

	if _, err := runCmd(t, "admin", "add-user", "carol", "--name", "Carol", "--auto-inbox"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	r := ts.requests[0]
	if r.Auth != "Bearer admin-token" {
		t.Errorf("auth = %q, want admin token", r.Auth)
	}
	body := bodyOf(t, r)
	if body["handle"] != "carol" || body["display_name"] != "Carol" || body["auto_inbox_enabled"] != true {
		t.Errorf("body = %v", body)
	}
}

func TestPrefsSetCommand(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"PATCH /me/preferences": `{"handle":"alice","a2a_max_turns":5}`,
	})
	useServer(t, ts)

	if _, err := runCmd(t, "prefs", "set", "a2a_max_turns", "5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got := bodyOf(t, ts.requests[0])["a2a_max_turns"]; got != float64(5) {
		t.Errorf("a2a_max_turns = %#v, want number 5", got)
	}
}

func TestPrefValue(t *testing.T) {
	tests := []struct {
		key, raw string
		want     any
		wantErr  bool
	}{
		{"auto_inbox_enabled", "true", true, false},
		{"auto_inbox_enabled", "maybe", nil, true},
		{"a2a_max_turns", "4", 4, false},
		{"a2a_max_turns", "four", nil, true},
		{"display_name", "Alice A.", "Alice A.", false},
		{"favourite_color", "blue", nil, true},
	}
	for _, tt := range tests {
		got, err := prefValue(tt.key, tt.raw)
		if (err != nil) != tt.wantErr {
			t.Errorf("prefValue(%q, %q) err = %v, wantErr %v", tt.key, tt.raw, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("prefValue(%q, %q) = %#v, want %#v", tt.key, tt.raw, got, tt.want)
		}
	}
}

func TestTriggerTime(t *testing.T) {
	now := time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

	got, err := triggerTime("2026-03-01T09:00:00Z", 0, now)
	if err != nil || !got.Equal(now.Add(time.Hour)) {
		t.Errorf("--at = %v, %v", got, err)
	}
	got, err = triggerTime("", 2*time.Hour, now)
	if err != nil || !got.Equal(now.Add(2*time.Hour)) {
		t.Errorf("--in = %v, %v", got, err)
	}
	if _, err := triggerTime("", 0, now); err == nil {
		t.Error("expected error with neither flag")
	}
	if _, err := triggerTime("2026-03-01T09:00:00Z", time.Hour, now); err == nil {
		t.Error("expected error with both flags")
	}
	if _, err := triggerTime("tomorrow", 0, now); err == nil {
		t.Error("expected error for non-RFC3339 time")
	}
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	t.Setenv("AGENTRELAY_AUTH_JWT_SECRET", "cli-secret")

	out, err := runCmd(t, "token", "Alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	handle, err := api.ParseToken([]byte("cli-secret"), strings.TrimSpace(out))
	if err != nil {
		t.Fatalf("ParseToken: %v", err)
	}
	if handle != "alice" {
		t.Errorf("handle = %q, want alice", handle)
	}
}

func TestReadEvents_StopsEarly(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /events": "data: {\"n\":1}\n\n: keepalive\n\ndata: {\"n\":2}\n\ndata: {\"n\":3}\n\n",
	})

	resp, err := ts.client().get(ctx, "/events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	var seen []int
	err = readEvents(resp, func(ev struct{ N int }) bool {
		seen = append(seen, ev.N)
		return ev.N < 2
	})
	if err != nil {
		t.Fatalf("readEvents: %v", err)
	}
	if len(seen) != 2 || seen[1] != 2 {
		t.Errorf("seen = %v, want [1 2]", seen)
	}
}

func TestReadEvents_ErrorStatus(t *testing.T) {
	ts := newTestServer(t, map[string]string{})

	resp, err := ts.client().get(ctx, "/tasks/missing/stream")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	err = readEvents(resp, func(any) bool { return true })
	if err == nil || !strings.Contains(err.Error(), "404") {
		t.Errorf("err = %v, want 404", err)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestAPIClientAuth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	client := ts.client()
	client.token = "my-secret-token"

	_, err := client.get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Auth != "Bearer my-secret-token" {
		t.Errorf("auth = %q, want 'Bearer my-secret-token'", ts.requests[0].Auth)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"authentication_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/me/preferences")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestConfigShowAll(t *testing.T) {
	cfg := config.Config{}
	cfg.Server.Port = 4000
	cfg.Auth.JWTSecret = "hunter2"

	keys := config.ShowAll(cfg)
	if len(keys) == 0 {
		t.Fatal("expected non-empty keys from ShowAll")
	}

	found := false
	for _, k := range keys {
		if k.Key == "server.port" && k.Value == "4000" {
			found = true
		}
		if strings.Contains(k.Value, "hunter2") {
			t.Errorf("secret leaked in %s", k.Key)
		}
	}
	if !found {
		t.Error("expected to find server.port=4000 in ShowAll output")
	}
}

func TestCountRunning(t *testing.T) {
	list := []taskStatus{{Status: "running"}, {Status: "completed"}, {Status: "running"}}
	if got := countRunning(list); got != 2 {
		t.Errorf("countRunning = %d, want 2", got)
	}
}

func TestCountLabel(t *testing.T) {
	tests := []struct {
		count, limit int
		want         string
	}{
		{5, 100, "5"},
		{0, 100, "0"},
		{100, 100, "100+"},
		{150, 100, "150+"},
	}
	for _, tt := range tests {
		got := countLabel(tt.count, tt.limit)
		if got != tt.want {
			t.Errorf("countLabel(%d, %d) = %q, want %q", tt.count, tt.limit, got, tt.want)
		}
	}
}
