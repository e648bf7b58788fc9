package profile

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/kalambet/agentrelay/internal/interaction"
	"github.com/kalambet/agentrelay/internal/storage"
)

// UserStore defines the storage operations the Manager needs.
// Implemented by storage.Store.
type UserStore interface {
	GetUser(handle string) (storage.User, error)
	UpdateUser(handle string, up storage.UserUpdate) (storage.User, error)
}

// Clock abstracts time for testability.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ErrInvalid is returned for patches that fail validation.
var ErrInvalid = errors.New("invalid preferences")

const maxInstructions = 4000

type entry struct {
	prefs Preferences
	at    time.Time
}

// Manager provides cached access to per-user preferences stored in SQLite.
type Manager struct {
	store UserStore
	clock Clock
	ttl   time.Duration

	mu       sync.RWMutex
	cached   map[string]entry
	onChange []func(handle string)
}

// NewManager creates a Manager with a 60-second cache TTL.
func NewManager(store UserStore) *Manager {
	return NewManagerWithClock(store, realClock{}, 60*time.Second)
}

// NewManagerWithClock creates a Manager with a custom clock (for testing).
func NewManagerWithClock(store UserStore, clock Clock, ttl time.Duration) *Manager {
	return &Manager{
		store:  store,
		clock:  clock,
		ttl:    ttl,
		cached: make(map[string]entry),
	}
}

// OnChange registers fn to run after a user's preferences are updated.
func (m *Manager) OnChange(fn func(handle string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = append(m.onChange, fn)
}

// Get returns the user's preferences from cache or storage. Unknown users
// yield storage.ErrNotFound.
func (m *Manager) Get(handle string) (Preferences, error) {
	m.mu.RLock()
	e, ok := m.cached[handle]
	if ok && m.clock.Now().Before(e.at.Add(m.ttl)) {
		m.mu.RUnlock()
		return e.prefs, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	// Double-check after acquiring write lock.
	if e, ok := m.cached[handle]; ok && m.clock.Now().Before(e.at.Add(m.ttl)) {
		return e.prefs, nil
	}

	u, err := m.store.GetUser(handle)
	if err != nil {
		return Preferences{}, err
	}
	p := fromUser(u)
	m.cached[handle] = entry{prefs: p, at: m.clock.Now()}
	return p, nil
}

// AutoInboxEnabled reports whether the user's agent answers inbox messages
// on its own. Unknown users are treated as opted out.
func (m *Manager) AutoInboxEnabled(handle string) (bool, error) {
	p, err := m.Get(handle)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return p.AutoInboxEnabled, nil
}

// MaxTurns returns the user's protocol turn budget clamped into [1, 10], or
// def when the user has none set.
func (m *Manager) MaxTurns(handle string, def int) int {
	p, err := m.Get(handle)
	if err != nil || p.A2AMaxTurns == 0 {
		return interaction.ClampTurns(def)
	}
	return interaction.ClampTurns(p.A2AMaxTurns)
}

// Update validates and persists a patch, then invalidates the cache and
// notifies OnChange listeners.
func (m *Manager) Update(handle string, patch Patch) (Preferences, error) {
	if err := validate(patch); err != nil {
		return Preferences{}, err
	}

	m.mu.Lock()
	u, err := m.store.UpdateUser(handle, storage.UserUpdate{
		DisplayName:       patch.DisplayName,
		AgentInstructions: patch.AgentInstructions,
		AutoInboxEnabled:  patch.AutoInboxEnabled,
		A2AMaxTurns:       patch.A2AMaxTurns,
	})
	delete(m.cached, handle)
	listeners := append([]func(string){}, m.onChange...)
	m.mu.Unlock()
	if err != nil {
		return Preferences{}, fmt.Errorf("updating preferences for %s: %w", handle, err)
	}

	for _, fn := range listeners {
		fn(handle)
	}
	return fromUser(u), nil
}

// Invalidate drops the cached entry for handle.
func (m *Manager) Invalidate(handle string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.cached, handle)
}

func validate(p Patch) error {
	if p.A2AMaxTurns != nil && (*p.A2AMaxTurns < interaction.MinTurns || *p.A2AMaxTurns > interaction.MaxTurns) {
		return fmt.Errorf("%w: a2a_max_turns must be between %d and %d", ErrInvalid, interaction.MinTurns, interaction.MaxTurns)
	}
	if p.DisplayName != nil && strings.TrimSpace(*p.DisplayName) == "" {
		return fmt.Errorf("%w: display_name must not be empty", ErrInvalid)
	}
	if p.AgentInstructions != nil && len(*p.AgentInstructions) > maxInstructions {
		return fmt.Errorf("%w: agent_instructions exceeds %d bytes", ErrInvalid, maxInstructions)
	}
	return nil
}

func fromUser(u storage.User) Preferences {
	return Preferences{
		Handle:            u.Handle,
		DisplayName:       u.DisplayName,
		AgentInstructions: u.AgentInstructions,
		AutoInboxEnabled:  u.AutoInboxEnabled,
		A2AMaxTurns:       u.A2AMaxTurns,
	}
}
