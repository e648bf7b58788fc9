package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kalambet/agentrelay/internal/a2a"
	"github.com/kalambet/agentrelay/internal/agent"
	"github.com/kalambet/agentrelay/internal/gateway"
	"github.com/kalambet/agentrelay/internal/interaction"
	"github.com/kalambet/agentrelay/internal/profile"
	"github.com/kalambet/agentrelay/internal/router"
	"github.com/kalambet/agentrelay/internal/scheduler"
	"github.com/kalambet/agentrelay/internal/storage"
	"github.com/kalambet/agentrelay/internal/tasks"
)

const (
	testSecret = "test-secret-12345"
	testAdmin  = "admin-token-12345"
	testBase   = "https://relay.example"
)

type echoAgent struct{ reply string }

func (a echoAgent) Invoke(context.Context, string, string) (<-chan agent.Event, error) {
	ch := make(chan agent.Event, 2)
	ch <- agent.Event{Type: agent.EventFunctionCall, Name: "get_my_contacts", Args: map[string]any{}}
	ch <- agent.Event{Type: agent.EventText, Content: a.reply}
	close(ch)
	return ch, nil
}

type agentMap map[string]agent.Agent

func (m agentMap) Get(h string) (agent.Agent, error) {
	if a, ok := m[h]; ok {
		return a, nil
	}
	return nil, fmt.Errorf("no agent for %s", h)
}

func setupHandler(t *testing.T) (http.Handler, *storage.Store) {
	t.Helper()
	return setupHandlerWith(t, agentMap{"alice": echoAgent{reply: "hi from alice"}, "bob": echoAgent{reply: "hi from bob"}})
}

func setupHandlerWith(t *testing.T, agents agentMap) (http.Handler, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	for _, h := range []string{"alice", "bob"} {
		if _, err := store.CreateUser(storage.User{Handle: h, DisplayName: strings.ToUpper(h[:1]) + h[1:]}); err != nil {
			t.Fatalf("CreateUser(%s): %v", h, err)
		}
	}

	prefs := profile.NewManager(store)
	addrs := a2a.NewAddresses(testBase)

	rt := router.New(router.Deps{Ledger: store, Prefs: prefs, Agents: agents}, router.Options{})
	t.Cleanup(func() { rt.Shutdown(context.Background()) })
	runner := tasks.NewRunner(store, agents)
	t.Cleanup(runner.Stop)

	handler := NewHandler(AppDeps{
		Store:      store,
		Profile:    prefs,
		Router:     rt,
		Agents:     agents,
		Tasks:      runner,
		Scheduler:  scheduler.New(store, runner, 0),
		Gateway:    gateway.New(gateway.Deps{Directory: store, Ledger: store, Agents: agents, Queue: store}, gateway.Config{Addresses: addrs}),
		Trust:      a2a.TrustPolicy{Addresses: addrs, Registry: store},
		JWTSecret:  []byte(testSecret),
		AdminToken: testAdmin,
		TaskPoll:   10 * time.Millisecond,
	})
	return handler, store
}

func tokenFor(t *testing.T, handle string) string {
	t.Helper()
	tok, err := IssueToken([]byte(testSecret), handle, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken: %v", err)
	}
	return tok
}

func authReq(method, url, body, token string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, url, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	return req
}

func do(t *testing.T, h http.Handler, req *http.Request, want int) *httptest.ResponseRecorder {
	t.Helper()
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != want {
		t.Fatalf("%s %s: status = %d, want %d; body = %s", req.Method, req.URL.Path, rr.Code, want, rr.Body.String())
	}
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rr.Body.Bytes(), &v); err != nil {
		t.Fatalf("decoding %s: %v", rr.Body.String(), err)
	}
	return v
}

func TestHealth(t *testing.T) {
	h, _ := setupHandler(t)
	rr := do(t, h, httptest.NewRequest(http.MethodGet, "/health", nil), http.StatusOK)
	if !strings.Contains(rr.Body.String(), `"ok"`) {
		t.Errorf("body = %s", rr.Body.String())
	}
}

func TestAuthRequired(t *testing.T) {
	h, _ := setupHandler(t)

	do(t, h, authReq(http.MethodGet, "/inbox", "", ""), http.StatusUnauthorized)
	do(t, h, authReq(http.MethodGet, "/inbox", "", "not-a-jwt"), http.StatusUnauthorized)

	other, _ := IssueToken([]byte("other-secret"), "alice", time.Hour)
	do(t, h, authReq(http.MethodGet, "/inbox", "", other), http.StatusUnauthorized)

	do(t, h, authReq(http.MethodPost, "/admin/users", `{"handle":"carol"}`, tokenFor(t, "alice")), http.StatusUnauthorized)
	rr := do(t, h, authReq(http.MethodPost, "/inbox/deliver", `{}`, ""), http.StatusUnauthorized)
	errBody := decode[map[string]map[string]string](t, rr)
	if errBody["error"]["type"] != "authentication_error" {
		t.Errorf("error envelope = %v", errBody)
	}
}

func TestTokenRoundTrip(t *testing.T) {
	tok, err := IssueToken([]byte(testSecret), " Alice ", time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	handle, err := ParseToken([]byte(testSecret), tok)
	if err != nil || handle != "alice" {
		t.Errorf("ParseToken = %q, %v", handle, err)
	}

	expired, _ := IssueToken([]byte(testSecret), "alice", -time.Minute)
	if _, err := ParseToken([]byte(testSecret), expired); err == nil {
		t.Error("expired token accepted")
	}
	if _, err := IssueToken([]byte(testSecret), " ", time.Hour); err == nil {
		t.Error("blank handle accepted")
	}
}

func TestAgentCardRoutes(t *testing.T) {
	h, _ := setupHandler(t)

	for _, path := range []string{"/a2a/bob/.well-known/agent-card.json", "/agents/bob/card"} {
		rr := do(t, h, httptest.NewRequest(http.MethodGet, path, nil), http.StatusOK)
		card := decode[a2a.AgentCard](t, rr)
		if card.Name != "bob_personal_agent" || card.URL != testBase+"/a2a/bob/rpc" {
			t.Errorf("%s: card = %+v", path, card)
		}
	}
	do(t, h, httptest.NewRequest(http.MethodGet, "/a2a/ghost/.well-known/agent-card.json", nil), http.StatusNotFound)
}

func rpcBody(method, text, senderURL string) string {
	params := map[string]any{
		"message":               a2a.NewTextMessage("user", text),
		"sender_name":           "alice",
		"sender_agent_card_url": senderURL,
	}
	b, _ := json.Marshal(map[string]any{"jsonrpc": "2.0", "id": "req-1", "method": method, "params": params})
	return string(b)
}

func TestRPC(t *testing.T) {
	h, _ := setupHandler(t)

	rr := do(t, h, httptest.NewRequest(http.MethodPost, "/a2a/bob/rpc", strings.NewReader(rpcBody("tasks/get", "hi", ""))), http.StatusBadRequest)
	if resp := decode[a2a.Response](t, rr); resp.Error == nil || resp.Error.Code != a2a.CodeMethodNotFound {
		t.Errorf("unsupported method response = %s", rr.Body.String())
	}

	rr = do(t, h, httptest.NewRequest(http.MethodPost, "/a2a/bob/rpc", strings.NewReader("{not json")), http.StatusBadRequest)
	if resp := decode[a2a.Response](t, rr); resp.Error == nil || resp.Error.Code != a2a.CodeParseError {
		t.Errorf("parse error response = %s", rr.Body.String())
	}

	do(t, h, httptest.NewRequest(http.MethodPost, "/a2a/bob/rpc", strings.NewReader(rpcBody(a2a.MethodSendMessage, "  ", ""))), http.StatusBadRequest)
	do(t, h, httptest.NewRequest(http.MethodPost, "/a2a/ghost/rpc", strings.NewReader(rpcBody(a2a.MethodSendMessage, "hi", ""))), http.StatusNotFound)

	rr = do(t, h, httptest.NewRequest(http.MethodPost, "/agents/bob/rpc", strings.NewReader(rpcBody(a2a.MethodSendMessage, "hello", "platform://user/alice"))), http.StatusOK)
	var resp struct {
		ID     string      `json:"id"`
		Result a2a.Message `json:"result"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.ID != "req-1" || resp.Result.Role != "agent" || resp.Result.Text() != "hi from bob" {
		t.Errorf("rpc result = %s", rr.Body.String())
	}
}

func TestInbound(t *testing.T) {
	h, store := setupHandler(t)

	do(t, h, httptest.NewRequest(http.MethodPost, "/a2a/inbound", strings.NewReader(`{"recipient_handle":"bob","message":"hi"}`)), http.StatusBadRequest)
	do(t, h, httptest.NewRequest(http.MethodPost, "/a2a/inbound", strings.NewReader(`{"recipient_handle":"ghost","message":"hi","agent_card_url":"https://x.example/card"}`)), http.StatusNotFound)

	rr := do(t, h, httptest.NewRequest(http.MethodPost, "/a2a/inbound",
		strings.NewReader(`{"recipient_handle":"bob","sender_name":"Shop","message":"sale","agent_card_url":"https://shop.example/card","sender_type":"merchant"}`)), http.StatusOK)
	res := decode[gateway.InboundResult](t, rr)
	if res.Status != "queued" || res.ContactStatus != storage.ContactPending {
		t.Errorf("inbound = %+v", res)
	}
	if n, _ := store.UnreadCount("bob"); n != 1 {
		t.Errorf("unread = %d, want 1", n)
	}
}

func deliver(t *testing.T, h http.Handler, recipient, sender, message, conv string) messageView {
	t.Helper()
	body, _ := json.Marshal(deliverRequest{Recipient: recipient, SenderName: sender, SenderType: "friend", Message: message, ConversationID: conv})
	rr := do(t, h, authReq(http.MethodPost, "/inbox/deliver", string(body), testAdmin), http.StatusOK)
	return decode[messageView](t, rr)
}

func TestInboxFlow(t *testing.T) {
	h, _ := setupHandler(t)
	alice := tokenFor(t, "alice")

	m := deliver(t, h, "alice", "bob", "lunch?", "conv_alice_bob_test")
	if m.Direction != storage.DirectionInbound || m.Status != "unread" || m.IsFromMe {
		t.Fatalf("delivered = %+v", m)
	}

	list := decode[[]messageView](t, do(t, h, authReq(http.MethodGet, "/inbox", "", alice), http.StatusOK))
	if len(list) != 1 || list[0].Message != "lunch?" {
		t.Errorf("inbox = %+v", list)
	}
	count := decode[map[string]int](t, do(t, h, authReq(http.MethodGet, "/inbox/unread-count", "", alice), http.StatusOK))
	if count["count"] != 1 {
		t.Errorf("unread = %v", count)
	}

	convs := decode[[]conversationView](t, do(t, h, authReq(http.MethodGet, "/inbox/conversations", "", alice), http.StatusOK))
	if len(convs) != 1 || convs[0].Partner != "bob" || convs[0].UnreadCount != 1 {
		t.Fatalf("conversations = %+v", convs)
	}

	msgs := decode[[]messageView](t, do(t, h, authReq(http.MethodGet, "/inbox/conversations/conv_alice_bob_test/messages", "", alice), http.StatusOK))
	if len(msgs) != 1 {
		t.Errorf("messages = %+v", msgs)
	}
	count = decode[map[string]int](t, do(t, h, authReq(http.MethodGet, "/inbox/unread-count", "", alice), http.StatusOK))
	if count["count"] != 0 {
		t.Errorf("unread after reading = %v", count)
	}

	toggled := decode[map[string]bool](t, do(t, h, authReq(http.MethodPost, "/inbox/conversations/conv_alice_bob_test/auto-respond", "", alice), http.StatusOK))
	if !toggled["auto_respond"] {
		t.Errorf("auto-respond toggle = %v", toggled)
	}

	stopped := decode[map[string]string](t, do(t, h, authReq(http.MethodPost, "/inbox/conversations/conv_alice_bob_test/stop", "", alice), http.StatusOK))
	if stopped["status"] != "stopped" {
		t.Errorf("stop = %v", stopped)
	}
	resumed := decode[map[string]string](t, do(t, h, authReq(http.MethodPost, "/inbox/conversations/conv_alice_bob_test/resume", "", alice), http.StatusOK))
	if resumed["status"] != "active" {
		t.Errorf("resume = %v", resumed)
	}

	// Someone else's conversation is invisible.
	carol, _ := IssueToken([]byte(testSecret), "carol", time.Hour)
	do(t, h, authReq(http.MethodPost, "/inbox/conversations/conv_alice_bob_test/stop", "", carol), http.StatusNotFound)

	do(t, h, authReq(http.MethodDelete, "/inbox/conversations/conv_alice_bob_test", "", alice), http.StatusOK)
	do(t, h, authReq(http.MethodGet, "/inbox/conversations/conv_alice_bob_test/messages", "", alice), http.StatusNotFound)
}

func TestSendToConversation(t *testing.T) {
	h, store := setupHandler(t)
	alice := tokenFor(t, "alice")
	deliver(t, h, "alice", "bob", "lunch?", "conv_alice_bob_send")

	do(t, h, authReq(http.MethodPost, "/inbox/conversations/conv_alice_bob_send/send", `{"message":" "}`, alice), http.StatusBadRequest)
	rr := do(t, h, authReq(http.MethodPost, "/inbox/conversations/conv_alice_bob_send/send", `{"message":"sure, noon"}`, alice), http.StatusOK)
	body := decode[map[string]any](t, rr)
	if body["status"] != "sent" {
		t.Errorf("send = %v", body)
	}

	bobs, err := store.ConversationMessages("conv_alice_bob_send", "bob")
	if err != nil {
		t.Fatal(err)
	}
	if len(bobs) != 1 || bobs[0].Content != "sure, noon" || bobs[0].SenderName != "alice" {
		t.Errorf("bob's copy = %+v", bobs)
	}
}

func TestDeleteAllConversations(t *testing.T) {
	h, _ := setupHandler(t)
	alice := tokenFor(t, "alice")
	deliver(t, h, "alice", "bob", "one", "")
	deliver(t, h, "alice", "carol", "two", "")

	body := decode[map[string]any](t, do(t, h, authReq(http.MethodDelete, "/inbox/conversations", "", alice), http.StatusOK))
	if body["count"] != float64(2) {
		t.Errorf("delete all = %v", body)
	}
}

func TestProcessMessageStream(t *testing.T) {
	h, store := setupHandler(t)
	m := deliver(t, h, "alice", "bob", "any tips?", "conv_alice_bob_proc")

	do(t, h, authReq(http.MethodPost, "/inbox/"+m.ID+"/process", "", tokenFor(t, "bob")), http.StatusNotFound)

	rr := do(t, h, authReq(http.MethodPost, "/inbox/"+m.ID+"/process", "", tokenFor(t, "alice")), http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	out := rr.Body.String()
	if !strings.Contains(out, `"type":"function_call"`) || !strings.Contains(out, `"type":"done"`) || !strings.Contains(out, `"response":"hi from alice"`) {
		t.Errorf("stream = %s", out)
	}

	got, err := store.GetMessage(m.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != "processed" {
		t.Errorf("status = %q, want processed", got.Status)
	}
	if !strings.Contains(string(got.ProcessingLog), "get_my_contacts") {
		t.Errorf("processing log = %s", got.ProcessingLog)
	}
	conv, _ := store.GetConversation("conv_alice_bob_proc")
	if !conv.AutoRespond {
		t.Error("auto respond not enabled after manual processing")
	}
}

// chatAgent records the session and channel of its last run.
type chatAgent struct {
	session string
	channel string
}

func (a *chatAgent) Invoke(ctx context.Context, session, prompt string) (<-chan agent.Event, error) {
	a.session = session
	a.channel = interaction.Channel(ctx)
	ch := make(chan agent.Event, 3)
	ch <- agent.Event{Type: agent.EventText, Content: "Fri", Partial: true}
	ch <- agent.Event{Type: agent.EventText, Content: "Friday works: " + prompt}
	close(ch)
	return ch, nil
}

func TestChatStream(t *testing.T) {
	alice := &chatAgent{}
	h, store := setupHandlerWith(t, agentMap{"alice": alice, "bob": echoAgent{reply: "hi from bob"}})

	body := `{"message":"dinner?","session_id":"s1"}`
	rr := do(t, h, authReq(http.MethodPost, "/chat/stream", body, tokenFor(t, "alice")), http.StatusOK)
	if ct := rr.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}
	out := rr.Body.String()
	if !strings.Contains(out, `"partial":true`) || !strings.Contains(out, `"response":"Friday works: dinner?"`) || !strings.Contains(out, `"session_id":"s1"`) {
		t.Errorf("stream = %s", out)
	}
	if alice.session != "chat_alice_s1" {
		t.Errorf("session = %q, want chat_alice_s1", alice.session)
	}
	if alice.channel != interaction.ChannelChat {
		t.Errorf("channel = %q, want chat", alice.channel)
	}

	// A new session id is minted when none is given.
	do(t, h, authReq(http.MethodPost, "/chat/stream", `{"message":"hi"}`, tokenFor(t, "alice")), http.StatusOK)
	if !strings.HasPrefix(alice.session, "chat_alice_") || alice.session == "chat_alice_s1" {
		t.Errorf("minted session = %q", alice.session)
	}

	// Chat never touches the inbox.
	if n, _ := store.UnreadCount("alice"); n != 0 {
		t.Errorf("unread = %d, want 0", n)
	}
}

func TestChatStreamDirect(t *testing.T) {
	h, store := setupHandler(t)

	body := `{"message":"are you free?","target":"Bob"}`
	rr := do(t, h, authReq(http.MethodPost, "/chat/stream", body, tokenFor(t, "alice")), http.StatusOK)
	out := rr.Body.String()
	if !strings.Contains(out, `"content":"hi from bob"`) || !strings.Contains(out, `"response":"hi from bob"`) {
		t.Errorf("stream = %s", out)
	}
	if n, _ := store.UnreadCount("bob"); n != 0 {
		t.Errorf("direct chat wrote to bob's inbox: %d unread", n)
	}

	do(t, h, authReq(http.MethodPost, "/chat/stream", `{"message":"x","target":"ghost"}`, tokenFor(t, "alice")), http.StatusNotFound)
}

func TestChatStreamValidation(t *testing.T) {
	h, _ := setupHandler(t)
	do(t, h, authReq(http.MethodPost, "/chat/stream", `{"message":"  "}`, tokenFor(t, "alice")), http.StatusBadRequest)
	do(t, h, authReq(http.MethodPost, "/chat/stream", `{`, tokenFor(t, "alice")), http.StatusBadRequest)
	do(t, h, authReq(http.MethodPost, "/chat/stream", `{"message":"hi"}`, ""), http.StatusUnauthorized)
	do(t, h, authReq(http.MethodPost, "/chat/stream", `{"message":"hi"}`, tokenFor(t, "ghost")), http.StatusNotFound)
}

func waitTask(t *testing.T, store *storage.Store, id string) storage.Task {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		task, err := store.GetTask(id)
		if err != nil {
			t.Fatal(err)
		}
		if finished(task.Status) {
			return task
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("task %s did not finish", id)
	return storage.Task{}
}

func TestTasksAPI(t *testing.T) {
	h, store := setupHandler(t)
	alice := tokenFor(t, "alice")

	do(t, h, authReq(http.MethodPost, "/tasks", `{"intent":"  "}`, alice), http.StatusBadRequest)
	created := decode[taskView](t, do(t, h, authReq(http.MethodPost, "/tasks", `{"intent":"find a laptop"}`, alice), http.StatusOK))
	if created.ID == "" || created.Owner != "alice" {
		t.Fatalf("created = %+v", created)
	}
	done := waitTask(t, store, created.ID)
	if done.Status != storage.TaskCompleted || done.ResultSummary != "hi from alice" {
		t.Errorf("task = %+v", done)
	}

	do(t, h, authReq(http.MethodGet, "/tasks/"+created.ID, "", tokenFor(t, "bob")), http.StatusForbidden)
	do(t, h, authReq(http.MethodGet, "/tasks/missing", "", alice), http.StatusNotFound)

	got := decode[taskView](t, do(t, h, authReq(http.MethodGet, "/tasks/"+created.ID, "", alice), http.StatusOK))
	if got.Phase != "DONE" || len(got.ProgressLog) == 0 {
		t.Errorf("task view = %+v", got)
	}
	list := decode[[]taskView](t, do(t, h, authReq(http.MethodGet, "/tasks", "", alice), http.StatusOK))
	if len(list) != 1 {
		t.Errorf("list = %+v", list)
	}

	stream := do(t, h, authReq(http.MethodGet, "/tasks/"+created.ID+"/stream", "", alice), http.StatusOK).Body.String()
	if !strings.Contains(stream, `"msg":"Task started: find a laptop"`) || !strings.Contains(stream, `"type":"done","status":"completed"`) {
		t.Errorf("stream = %s", stream)
	}

	body := decode[map[string]string](t, do(t, h, authReq(http.MethodPost, "/tasks/"+created.ID+"/cancel", "", alice), http.StatusOK))
	if body["status"] != "cancelled" {
		t.Errorf("cancel = %v", body)
	}
	if task, _ := store.GetTask(created.ID); task.Status != storage.TaskCompleted {
		t.Errorf("finished task status changed to %q", task.Status)
	}
}

func TestTaskWebsocket(t *testing.T) {
	h, store := setupHandler(t)
	srv := httptest.NewServer(h)
	defer srv.Close()

	task, err := store.CreateTask("", "alice", "manual", "")
	if err != nil {
		t.Fatal(err)
	}
	store.AppendProgress(task.ID, "step one")

	header := http.Header{"Authorization": {"Bearer " + tokenFor(t, "alice")}}
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/tasks/"+task.ID+"/ws", header)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer conn.Close()

	var first taskFrame
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatal(err)
	}
	if first.Msg != "step one" {
		t.Errorf("first frame = %+v", first)
	}

	store.SetTaskResult(task.ID, "all done")
	store.UpdateTaskStatus(task.ID, storage.TaskCompleted, "DONE")

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var last taskFrame
	if err := conn.ReadJSON(&last); err != nil {
		t.Fatal(err)
	}
	if last.Type != "done" || last.Result != "all done" {
		t.Errorf("last frame = %+v", last)
	}
}

func TestScheduleAPI(t *testing.T) {
	h, _ := setupHandler(t)
	alice := tokenFor(t, "alice")

	do(t, h, authReq(http.MethodPost, "/schedule", `{"intent":"pulse","trigger_at":"tomorrow"}`, alice), http.StatusBadRequest)
	do(t, h, authReq(http.MethodPost, "/schedule", `{"intent":"pulse","trigger_at":"2026-03-01T09:00:00Z","recurrence":"hourly"}`, alice), http.StatusBadRequest)

	st := decode[scheduleView](t, do(t, h, authReq(http.MethodPost, "/schedule", `{"intent":"social pulse","trigger_at":"2026-03-01T09:00:00Z","recurrence":"daily"}`, alice), http.StatusOK))
	if st.Recurrence != "daily" || st.Status != storage.ScheduleActive {
		t.Fatalf("schedule = %+v", st)
	}

	list := decode[[]scheduleView](t, do(t, h, authReq(http.MethodGet, "/schedule", "", alice), http.StatusOK))
	if len(list) != 1 {
		t.Errorf("list = %+v", list)
	}

	do(t, h, authReq(http.MethodPost, "/schedule/"+st.ID+"/pause", "", tokenFor(t, "bob")), http.StatusForbidden)
	do(t, h, authReq(http.MethodPost, "/schedule/missing/pause", "", alice), http.StatusNotFound)
	do(t, h, authReq(http.MethodPost, "/schedule/"+st.ID+"/pause", "", alice), http.StatusOK)
	do(t, h, authReq(http.MethodPost, "/schedule/"+st.ID+"/resume", "", alice), http.StatusOK)
	body := decode[map[string]string](t, do(t, h, authReq(http.MethodDelete, "/schedule/"+st.ID, "", alice), http.StatusOK))
	if body["status"] != storage.ScheduleCancelled {
		t.Errorf("cancel = %v", body)
	}
}

func TestContactsAPI(t *testing.T) {
	h, store := setupHandler(t)
	alice := tokenFor(t, "alice")

	do(t, h, authReq(http.MethodPost, "/contacts", `{"name":"Rando","agent_card_url":"https://rando.example/card"}`, alice), http.StatusForbidden)
	do(t, h, authReq(http.MethodPost, "/contacts", `{"name":"","agent_card_url":"x"}`, alice), http.StatusBadRequest)

	c := decode[contactView](t, do(t, h, authReq(http.MethodPost, "/contacts", `{"name":"Bob","type":"personal","agent_card_url":"platform://user/bob","tags":["friend"]}`, alice), http.StatusOK))
	if c.AgentCardURL != testBase+"/a2a/bob/.well-known/agent-card.json" || c.Status != storage.ContactActive || len(c.Tags) != 1 {
		t.Errorf("contact = %+v", c)
	}

	pending, err := store.AddContact(storage.Contact{Owner: "alice", Name: "Shop", AgentCardURL: "https://shop.example/card", Status: storage.ContactPending})
	if err != nil {
		t.Fatal(err)
	}
	do(t, h, authReq(http.MethodPost, "/contacts/"+pending.ID+"/approve", "", tokenFor(t, "bob")), http.StatusNotFound)
	approved := decode[contactView](t, do(t, h, authReq(http.MethodPost, "/contacts/"+pending.ID+"/approve", "", alice), http.StatusOK))
	if approved.Status != storage.ContactActive {
		t.Errorf("approved = %+v", approved)
	}

	list := decode[[]contactView](t, do(t, h, authReq(http.MethodGet, "/contacts", "", alice), http.StatusOK))
	if len(list) != 2 {
		t.Errorf("contacts = %+v", list)
	}
}

func TestPreferencesAPI(t *testing.T) {
	h, _ := setupHandler(t)
	alice := tokenFor(t, "alice")

	p := decode[profile.Preferences](t, do(t, h, authReq(http.MethodGet, "/me/preferences", "", alice), http.StatusOK))
	if p.Handle != "alice" || p.A2AMaxTurns != 3 {
		t.Errorf("preferences = %+v", p)
	}

	do(t, h, authReq(http.MethodPatch, "/me/preferences", `{}`, alice), http.StatusBadRequest)
	do(t, h, authReq(http.MethodPatch, "/me/preferences", `{"a2a_max_turns":11}`, alice), http.StatusBadRequest)
	p = decode[profile.Preferences](t, do(t, h, authReq(http.MethodPatch, "/me/preferences", `{"auto_inbox_enabled":true,"a2a_max_turns":5}`, alice), http.StatusOK))
	if !p.AutoInboxEnabled || p.A2AMaxTurns != 5 {
		t.Errorf("patched = %+v", p)
	}

	ghost, _ := IssueToken([]byte(testSecret), "ghost", time.Hour)
	do(t, h, authReq(http.MethodGet, "/me/preferences", "", ghost), http.StatusNotFound)
}

func TestAdminAPI(t *testing.T) {
	h, store := setupHandler(t)

	p := decode[profile.Preferences](t, do(t, h, authReq(http.MethodPost, "/admin/users", `{"handle":"Carol","display_name":"Carol"}`, testAdmin), http.StatusCreated))
	if p.Handle != "carol" {
		t.Errorf("created = %+v", p)
	}
	do(t, h, authReq(http.MethodPost, "/admin/users", `{"handle":"carol"}`, testAdmin), http.StatusConflict)
	do(t, h, authReq(http.MethodPost, "/admin/users", `{"handle":"dave","a2a_max_turns":50}`, testAdmin), http.StatusBadRequest)

	do(t, h, authReq(http.MethodPost, "/admin/agents", `{"name":"Travel","type":"merchant","agent_card_url":"https://travel.example/card"}`, testAdmin), http.StatusCreated)
	if ok, _ := store.IsTrustedAgentURL("https://travel.example/card"); !ok {
		t.Error("registered agent is not trusted")
	}
}
