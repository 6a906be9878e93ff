package app

import (
	"errors"
	"sort"
	"sync"

	"github.com/dkeye/callsignal/internal/adapters/signal"
	"github.com/dkeye/callsignal/internal/domain"
	"github.com/rs/zerolog/log"
)

var ErrDuplicate = errors.New("app: signaling client already registered")

// Registry holds the live signaling clients of the process, one per user.
type Registry struct {
	mu      sync.RWMutex
	clients map[domain.UserID]*signal.Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[domain.UserID]*signal.Client)}
}

func (r *Registry) Add(id domain.UserID, c *signal.Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[id]; ok {
		return ErrDuplicate
	}
	r.clients[id] = c
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("registered signaling client")
	return nil
}

func (r *Registry) Get(id domain.UserID) (*signal.Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

func (r *Registry) IDs() []domain.UserID {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.UserID, 0, len(r.clients))
	for id := range r.clients {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Remove closes and forgets the client of id.
func (r *Registry) Remove(id domain.UserID) bool {
	r.mu.Lock()
	c, ok := r.clients[id]
	delete(r.clients, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	if err := c.Close(); err != nil {
		log.Warn().Err(err).Str("module", "app.registry").Str("user", string(id)).Msg("close signaling client")
	}
	log.Info().Str("module", "app.registry").Str("user", string(id)).Msg("removed signaling client")
	return true
}

func (r *Registry) CloseAll() {
	for _, id := range r.IDs() {
		r.Remove(id)
	}
}
