package profile

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/kalambet/agentrelay/internal/storage"
)

// --- Mock store ---

type mockStore struct {
	mu    sync.Mutex
	users map[string]storage.User

	getCalls int
}

func newMockStore(users ...storage.User) *mockStore {
	m := &mockStore{users: make(map[string]storage.User)}
	for _, u := range users {
		m.users[u.Handle] = u
	}
	return m
}

func (m *mockStore) GetUser(handle string) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	u, ok := m.users[handle]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (m *mockStore) UpdateUser(handle string, up storage.UserUpdate) (storage.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[handle]
	if !ok {
		return storage.User{}, storage.ErrNotFound
	}
	if up.DisplayName != nil {
		u.DisplayName = *up.DisplayName
	}
	if up.AgentInstructions != nil {
		u.AgentInstructions = *up.AgentInstructions
	}
	if up.AutoInboxEnabled != nil {
		u.AutoInboxEnabled = *up.AutoInboxEnabled
	}
	if up.A2AMaxTurns != nil {
		u.A2AMaxTurns = *up.A2AMaxTurns
	}
	m.users[handle] = u
	return u, nil
}

func (m *mockStore) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.getCalls
}

// --- Mock clock ---

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// --- Tests ---

func TestGet_Unknown(t *testing.T) {
	mgr := NewManager(newMockStore())

	if _, err := mgr.Get("ghost"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Get(ghost) = %v, want ErrNotFound", err)
	}
	on, err := mgr.AutoInboxEnabled("ghost")
	if err != nil || on {
		t.Errorf("AutoInboxEnabled(ghost) = %v, %v; want false, nil", on, err)
	}
	if got := mgr.MaxTurns("ghost", 3); got != 3 {
		t.Errorf("MaxTurns(ghost) = %d, want 3", got)
	}
}

func TestMaxTurns_ClampsStoredValue(t *testing.T) {
	mgr := NewManager(newMockStore(
		storage.User{Handle: "neg", A2AMaxTurns: -2},
		storage.User{Handle: "big", A2AMaxTurns: 50},
		storage.User{Handle: "unset"},
	))

	if got := mgr.MaxTurns("neg", 3); got != 1 {
		t.Errorf("MaxTurns(neg) = %d, want 1", got)
	}
	if got := mgr.MaxTurns("big", 3); got != 10 {
		t.Errorf("MaxTurns(big) = %d, want 10", got)
	}
	if got := mgr.MaxTurns("unset", 3); got != 3 {
		t.Errorf("MaxTurns(unset) = %d, want 3", got)
	}
}

func TestCacheTTL(t *testing.T) {
	store := newMockStore(storage.User{Handle: "alice", AutoInboxEnabled: true, A2AMaxTurns: 3})
	clock := &mockClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	mgr := NewManagerWithClock(store, clock, 10*time.Second)

	for i := 0; i < 3; i++ {
		if _, err := mgr.Get("alice"); err != nil {
			t.Fatalf("Get: %v", err)
		}
	}
	if store.calls() != 1 {
		t.Errorf("store calls = %d, want 1 (cached)", store.calls())
	}

	clock.Advance(11 * time.Second)
	if _, err := mgr.Get("alice"); err != nil {
		t.Fatal(err)
	}
	if store.calls() != 2 {
		t.Errorf("store calls after TTL = %d, want 2", store.calls())
	}
}

func TestUpdate_InvalidatesAndNotifies(t *testing.T) {
	store := newMockStore(storage.User{Handle: "alice", DisplayName: "Alice", A2AMaxTurns: 3})
	mgr := NewManager(store)

	var notified []string
	mgr.OnChange(func(h string) { notified = append(notified, h) })

	if on, _ := mgr.AutoInboxEnabled("alice"); on {
		t.Fatal("expected auto inbox off initially")
	}

	on := true
	turns := 5
	p, err := mgr.Update("alice", Patch{AutoInboxEnabled: &on, A2AMaxTurns: &turns})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !p.AutoInboxEnabled || p.A2AMaxTurns != 5 || p.DisplayName != "Alice" {
		t.Errorf("Update result = %+v", p)
	}
	if len(notified) != 1 || notified[0] != "alice" {
		t.Errorf("notified = %v", notified)
	}

	if got, _ := mgr.AutoInboxEnabled("alice"); !got {
		t.Error("cache not invalidated after update")
	}
	if got := mgr.MaxTurns("alice", 3); got != 5 {
		t.Errorf("MaxTurns = %d, want 5", got)
	}
}

func TestUpdate_Validation(t *testing.T) {
	mgr := NewManager(newMockStore(storage.User{Handle: "alice", A2AMaxTurns: 3}))

	tooMany := 11
	if _, err := mgr.Update("alice", Patch{A2AMaxTurns: &tooMany}); !errors.Is(err, ErrInvalid) {
		t.Errorf("max turns 11 = %v, want ErrInvalid", err)
	}
	blank := "  "
	if _, err := mgr.Update("alice", Patch{DisplayName: &blank}); !errors.Is(err, ErrInvalid) {
		t.Errorf("blank display name = %v, want ErrInvalid", err)
	}
	if _, err := mgr.Update("ghost", Patch{}); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("Update(ghost) = %v, want ErrNotFound", err)
	}
}

func TestConcurrentGet(t *testing.T) {
	mgr := NewManager(newMockStore(storage.User{Handle: "alice", A2AMaxTurns: 3}))

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := mgr.Get("alice"); err != nil {
				t.Errorf("Get: %v", err)
			}
		}()
	}
	wg.Wait()
}
