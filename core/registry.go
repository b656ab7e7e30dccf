package core

import (
	"fmt"
	"strings"
	"sync"

	"pkt.systems/scrollback/schema"
)

// Registry owns the live sessions. Tasks hold session ids and resolve them
// here on every use, so a removed session is detected instead of dereferenced.
type Registry struct {
	cfg  schema.ServiceConfig
	sink EventSink

	mu       sync.RWMutex
	sessions map[schema.SessionID]*Session
	order    []schema.SessionID
}

// NewRegistry constructs an empty session registry.
func NewRegistry(cfg schema.ServiceConfig, sink EventSink) *Registry {
	return &Registry{
		cfg:      cfg.WithDefaults(),
		sink:     sinkOrNop(sink),
		sessions: make(map[schema.SessionID]*Session),
	}
}

// Create registers a new session with a generated id.
func (r *Registry) Create(title string) *Session {
	for {
		sess, err := r.CreateWithID(newSessionID(), title)
		if err == nil {
			return sess
		}
	}
}

// CreateWithID registers a new session under id.
func (r *Registry) CreateWithID(id schema.SessionID, title string) (*Session, error) {
	if strings.TrimSpace(string(id)) == "" {
		return nil, fmt.Errorf("session id is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.sessions[id]; ok {
		return nil, fmt.Errorf("session %s already exists", id)
	}
	sess := newSession(id, title, r.cfg, r.sink)
	r.sessions[id] = sess
	r.order = append(r.order, id)
	return sess, nil
}

// Lookup resolves a session id to a live session.
func (r *Registry) Lookup(id schema.SessionID) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[id]
	return sess, ok
}

// Remove destroys a session. Tasks still referencing it observe it as dangling.
func (r *Registry) Remove(id schema.SessionID) bool {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
		for i, existing := range r.order {
			if existing == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()
	if ok {
		sess.close()
	}
	return ok
}

// List returns live sessions in creation order.
func (r *Registry) List() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Session, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.sessions[id])
	}
	return out
}

// Config returns the effective service configuration.
func (r *Registry) Config() schema.ServiceConfig {
	return r.cfg
}
