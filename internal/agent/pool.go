package agent

import (
	"fmt"
	"sync"

	"github.com/kalambet/agentrelay/internal/storage"
)

// UserSource looks up the directory entry an agent is built from.
type UserSource interface {
	GetUser(handle string) (storage.User, error)
}

// Builder constructs an agent for a persona.
type Builder func(p Persona) (Agent, error)

// Pool lazily builds one agent per user and caches it until invalidated.
type Pool struct {
	users UserSource
	build Builder

	mu     sync.Mutex
	agents map[string]Agent
}

func NewPool(users UserSource, build Builder) *Pool {
	return &Pool{users: users, build: build, agents: make(map[string]Agent)}
}

// Get returns the cached agent for handle, building it on first use. A
// concurrent first use may build twice; the first stored agent wins.
func (p *Pool) Get(handle string) (Agent, error) {
	p.mu.Lock()
	a, ok := p.agents[handle]
	p.mu.Unlock()
	if ok {
		return a, nil
	}

	u, err := p.users.GetUser(handle)
	if err != nil {
		return nil, fmt.Errorf("loading user %s: %w", handle, err)
	}
	built, err := p.build(PersonaFor(u))
	if err != nil {
		return nil, fmt.Errorf("building agent for %s: %w", handle, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.agents[handle]; ok {
		return existing, nil
	}
	p.agents[handle] = built
	return built, nil
}

// Invalidate drops the cached agent so the next Get rebuilds it from current
// preferences.
func (p *Pool) Invalidate(handle string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.agents, handle)
}

// Len reports how many agents are cached.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.agents)
}
