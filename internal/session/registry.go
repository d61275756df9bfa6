package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Registry keeps one Controller per browser session.
type Registry struct {
	newRunner func() Runner
	opts      []Option

	mu       sync.Mutex
	sessions map[string]*Controller
}

// NewRegistry returns a registry that builds controllers with a runner from
// newRunner and the given options. The OnFinish hook, if any, is shared.
func NewRegistry(newRunner func() Runner, opts ...Option) *Registry {
	return &Registry{
		newRunner: newRunner,
		opts:      opts,
		sessions:  make(map[string]*Controller),
	}
}

// Get returns the session for id, creating a new one when id is empty or
// unknown. The bool reports whether a new session was created.
func (r *Registry) Get(id string) (*Controller, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.sessions[id]; ok && id != "" {
		return c, false
	}
	newID := uuid.NewString()
	opts := append([]Option{WithID(newID)}, r.opts...)
	c := NewController(r.newRunner(), opts...)
	r.sessions[newID] = c
	log.Debug().Str("session", newID).Msg("session created")
	return c, true
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Prune drops sessions idle for longer than maxIdle. Running sessions are
// kept regardless of age.
func (r *Registry) Prune(now time.Time, maxIdle time.Duration) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, c := range r.sessions {
		state, lastActive := c.activity()
		if state == Running {
			continue
		}
		if now.Sub(lastActive) > maxIdle {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		log.Info().Int("removed", removed).Int("remaining", len(r.sessions)).Msg("pruned idle sessions")
	}
	return removed
}
