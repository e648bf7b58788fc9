package tools

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/agentrelay/internal/a2a"
	"github.com/kalambet/agentrelay/internal/interaction"
	"github.com/kalambet/agentrelay/internal/storage"
)

type fakeMessenger struct {
	mu    sync.Mutex
	reply string
	sent  []a2a.Outgoing
	urls  []string
}

func (m *fakeMessenger) MessageAgent(_ context.Context, cardURL string, out a2a.Outgoing) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, out)
	m.urls = append(m.urls, cardURL)
	return m.reply
}

type fakeTrust map[string]bool

func (f fakeTrust) Check(u string) error {
	if f[u] {
		return nil
	}
	return a2a.ErrUntrusted
}

const base = "https://relay.example"

func newContactTool(t *testing.T) (*SendMessageToContact, *storage.Store, *fakeMessenger) {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	addrs := a2a.NewAddresses(base)
	m := &fakeMessenger{reply: "We have two in stock."}
	tool := &SendMessageToContact{
		Contacts:  s,
		Ledger:    s,
		Messenger: m,
		Trust:     a2a.TrustPolicy{Addresses: addrs, Registry: s},
		Addresses: addrs,
	}
	return tool, s, m
}

func TestSendMessageToContact(t *testing.T) {
	tool, s, m := newContactTool(t)
	_, err := s.RegisterAgent(storage.TrustedAgent{Name: "Shop", Type: "merchant", AgentCardURL: "https://shop.example/card"})
	require.NoError(t, err)
	_, err = s.AddContact(storage.Contact{Owner: "alice", Name: "Shop", Type: "merchant", AgentCardURL: "https://shop.example/card"})
	require.NoError(t, err)

	out, err := tool.Call(context.Background(), "alice", map[string]any{"contact_name": "shop", "message": "Any laptops?"})
	require.NoError(t, err)
	assert.Equal(t, "Response from Shop: We have two in stock.", out)

	require.Len(t, m.sent, 1)
	assert.Equal(t, "alice", m.sent[0].SenderName)
	assert.Equal(t, base+"/a2a/alice/.well-known/agent-card.json", m.sent[0].SenderCardURL)
	assert.Equal(t, a2a.ContactConversationID("alice", "https://shop.example/card"), m.sent[0].ConversationID)

	msgs, err := s.ConversationMessages("conv_alice_shop", "alice")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[0].IsFromMe())
	assert.Equal(t, "Any laptops?", msgs[0].Content)
	assert.Equal(t, storage.SenderMerchant, msgs[1].SenderType)
	assert.Equal(t, "We have two in stock.", msgs[1].Content)
}

func TestSendMessageToContact_PlatformUserAndPinnedConversation(t *testing.T) {
	tool, s, m := newContactTool(t)
	_, err := s.AddContact(storage.Contact{Owner: "alice", Name: "bob", Type: "personal", AgentCardURL: "platform://user/bob"})
	require.NoError(t, err)

	ctx := interaction.WithConversationID(context.Background(), "conv_ext_pinned")
	_, err = tool.Call(ctx, "alice", map[string]any{"contact_name": "bob", "message": "dinner?"})
	require.NoError(t, err)

	require.Len(t, m.urls, 1)
	assert.Equal(t, base+"/a2a/bob/.well-known/agent-card.json", m.urls[0])
	assert.Equal(t, "conv_ext_pinned", m.sent[0].ConversationID)
}

func TestSendMessageToContact_UnknownAndUntrusted(t *testing.T) {
	tool, s, m := newContactTool(t)

	out, err := tool.Call(context.Background(), "alice", map[string]any{"contact_name": "nobody", "message": "hi"})
	require.NoError(t, err)
	assert.Contains(t, out, "Contact 'nobody' not found")

	_, err = s.AddContact(storage.Contact{Owner: "alice", Name: "Evil", Type: "merchant", AgentCardURL: "https://evil.example/card", Status: storage.ContactPending})
	require.NoError(t, err)
	out, err = tool.Call(context.Background(), "alice", map[string]any{"contact_name": "Evil", "message": "hi"})
	require.NoError(t, err)
	assert.Contains(t, out, "not trusted")
	assert.Empty(t, m.sent)

	// Approval by the owner admits an otherwise unregistered agent.
	_, err = s.AddContact(storage.Contact{Owner: "alice", Name: "Evil", Type: "merchant", AgentCardURL: "https://evil.example/card", Status: storage.ContactActive})
	require.NoError(t, err)
	_, err = tool.Call(context.Background(), "alice", map[string]any{"contact_name": "Evil", "message": "hi"})
	require.NoError(t, err)
	assert.Len(t, m.sent, 1)

	_, err = tool.Call(context.Background(), "alice", map[string]any{"contact_name": "Evil"})
	assert.Error(t, err)
}

func TestSendMessageToContact_TurnBudget(t *testing.T) {
	tool, s, m := newContactTool(t)
	_, err := s.AddContact(storage.Contact{Owner: "alice", Name: "bob", AgentCardURL: "platform://user/bob"})
	require.NoError(t, err)
	args := map[string]any{"contact_name": "bob", "message": "hi"}

	t.Run("chat checks before writing", func(t *testing.T) {
		m.sent = nil
		_, err := s.DeleteConversationsFor("alice")
		require.NoError(t, err)

		ctx := interaction.WithTurnBudget(context.Background(), 1)
		out, err := tool.Call(ctx, "alice", args)
		require.NoError(t, err)
		assert.Contains(t, out, "Response from bob")

		out, err = tool.Call(ctx, "alice", args)
		require.NoError(t, err)
		assert.Equal(t, interaction.TurnLimitReached, out)
		assert.Len(t, m.sent, 1)

		msgs, _ := s.ConversationMessages("conv_alice_bob", "alice")
		assert.Len(t, msgs, 2, "refused chat turn must not log an outbound copy")
	})

	t.Run("inbox writes before checking", func(t *testing.T) {
		m.sent = nil
		_, err := s.DeleteConversationsFor("alice")
		require.NoError(t, err)

		ctx := interaction.WithChannel(interaction.WithTurnBudget(context.Background(), 1), interaction.ChannelInbox)
		_, err = tool.Call(ctx, "alice", args)
		require.NoError(t, err)
		out, err := tool.Call(ctx, "alice", args)
		require.NoError(t, err)
		assert.Equal(t, interaction.TurnLimitReached, out)
		assert.Len(t, m.sent, 1)

		msgs, _ := s.ConversationMessages("conv_alice_bob", "alice")
		assert.Len(t, msgs, 3)
		assert.True(t, msgs[2].IsFromMe())
	})
}

func TestGetMyContactsAndAddContact(t *testing.T) {
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()
	addrs := a2a.NewAddresses(base)

	list := &GetMyContacts{Contacts: s}
	out, err := list.Call(context.Background(), "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "You have no contacts yet.", out)

	add := &AddContact{Contacts: s, Trust: a2a.TrustPolicy{Addresses: addrs, Registry: s}, Addresses: addrs}
	out, err = add.Call(context.Background(), "alice", map[string]any{"name": "Stranger", "agent_card_url": "https://stranger.example/card"})
	require.NoError(t, err)
	assert.Contains(t, out, "Refused to add contact")

	out, err = add.Call(context.Background(), "alice", map[string]any{"name": "bob", "agent_card_url": "platform://user/bob", "description": "college friend"})
	require.NoError(t, err)
	assert.Equal(t, "Added contact 'bob' (personal).", out)

	out, err = list.Call(context.Background(), "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "Your contacts:\n- bob (personal): college friend [status: active]", out)
}

type fakeTasks struct {
	started []string
	list    []storage.Task
}

func (f *fakeTasks) Start(_ context.Context, owner, intent string) (storage.Task, error) {
	f.started = append(f.started, owner+":"+intent)
	return storage.Task{ID: "abc123", Owner: owner, Intent: intent}, nil
}

func (f *fakeTasks) ListTasks(string, int) ([]storage.Task, error) { return f.list, nil }

type fakeSchedules struct{}

func (fakeSchedules) Create(owner, intent string, at time.Time, recurrence string) (storage.ScheduledTask, error) {
	return storage.ScheduledTask{ID: "sch1", Owner: owner, Intent: intent, TriggerAt: at, Recurrence: recurrence}, nil
}

func TestTaskTools(t *testing.T) {
	ft := &fakeTasks{list: []storage.Task{
		{ID: "t1", Status: storage.TaskRunning, Phase: "RESEARCH", Intent: "find a laptop"},
		{ID: "t2", Status: storage.TaskCompleted, Intent: "old"},
	}}

	out, err := (&CreateTask{Tasks: ft}).Call(context.Background(), "alice", map[string]any{"intent": "find a laptop"})
	require.NoError(t, err)
	assert.Contains(t, out, "ID: abc123")
	assert.Equal(t, []string{"alice:find a laptop"}, ft.started)

	out, err = (&GetActiveTasks{Tasks: ft}).Call(context.Background(), "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "Active tasks:\n- t1 [running, RESEARCH] find a laptop", out)

	sched := &ScheduleTask{Schedules: fakeSchedules{}}
	out, err = sched.Call(context.Background(), "alice", map[string]any{"intent": "social pulse", "trigger_at": "2026-03-01T09:00:00Z", "recurrence": "Daily"})
	require.NoError(t, err)
	assert.Equal(t, "Scheduled! Task 'social pulse' will run at 2026-03-01T09:00:00Z (daily). Schedule ID: sch1", out)

	out, err = sched.Call(context.Background(), "alice", map[string]any{"intent": "x", "trigger_at": "tomorrow"})
	require.NoError(t, err)
	assert.Contains(t, out, "Invalid trigger_at")
}

func TestInboxTools(t *testing.T) {
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.EnsureConversation("c1", "alice", "bob"))
	_, err = s.Deliver(storage.DeliverParams{ConversationID: "c1", RecipientID: "alice", SenderName: "bob", SenderType: "friend", Direction: storage.DirectionInbound, Content: "lunch?"})
	require.NoError(t, err)

	out, err := (&CheckInbox{Ledger: s}).Call(context.Background(), "alice", map[string]any{"limit": float64(5)})
	require.NoError(t, err)
	assert.Equal(t, "1 unread message(s):\n- [c1] from bob (friend): lunch?", out)

	out, err = (&ListConversations{Ledger: s}).Call(context.Background(), "alice", nil)
	require.NoError(t, err)
	assert.Equal(t, "- c1 with bob (active, 1 unread): bob: lunch?", out)
}

func TestNewWiresAvailableTools(t *testing.T) {
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	defer s.Close()

	all := ByName(New(Deps{
		Contacts:  s,
		Ledger:    s,
		Messenger: &fakeMessenger{},
		Trust:     fakeTrust{},
		Tasks:     &fakeTasks{},
		TaskList:  &fakeTasks{},
		Schedules: fakeSchedules{},
	}))
	for _, name := range []string{"send_message_to_contact", "get_my_contacts", "add_contact", "create_task", "schedule_task", "get_active_tasks", "list_conversations", "check_inbox"} {
		assert.Contains(t, all, name)
	}

	only := New(Deps{Tasks: &fakeTasks{}})
	require.Len(t, only, 1)
	assert.Equal(t, "create_task", only[0].Name())
}
