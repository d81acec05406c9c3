package player

import (
	"context"
	"sync"

	"github.com/calliope-bot/calliope/internal/config"
	"github.com/calliope-bot/calliope/internal/repository"
)

// Manager is the process-wide session registry: one engine per guild the bot
// occupies a voice channel in. Engines are created on the first join command
// and remove themselves on teardown (explicit stop or idle timeout).
type Manager struct {
	cfg  *config.Config
	repo *repository.Repo
	deps Deps

	mu      sync.Mutex
	engines map[string]*Engine
}

func NewManager(cfg *config.Config, repo *repository.Repo, deps Deps) *Manager {
	return &Manager{
		cfg:     cfg,
		repo:    repo,
		deps:    deps,
		engines: make(map[string]*Engine),
	}
}

// Get returns the engine for guildID, creating it if needed. The second
// return reports whether a new session was created, so callers can attach an
// event consumer exactly once.
func (m *Manager) Get(guildID string) (*Engine, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.engines[guildID]; ok {
		return e, false
	}
	e := NewEngine(m.cfg, m.repo, guildID, m.deps, m.remove)
	m.engines[guildID] = e
	return e, true
}

// Peek returns the engine for guildID or nil if no session exists.
func (m *Manager) Peek(guildID string) *Engine {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engines[guildID]
}

func (m *Manager) remove(guildID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.engines, guildID)
}

// Shutdown stops every active session.
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	engines := make([]*Engine, 0, len(m.engines))
	for _, e := range m.engines {
		engines = append(engines, e)
	}
	m.mu.Unlock()

	for _, e := range engines {
		_ = e.Stop(ctx)
	}
}
