package app

import (
	"context"
	"sync"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/rs/zerolog/log"
)

type connEntry struct {
	Conn   core.SignalConnection
	Cancel context.CancelFunc
}

// Registry maps participants to their live relay connection.
type Registry struct {
	mu    sync.RWMutex
	conns map[domain.SessionID]*connEntry
}

func NewRegistry() *Registry {
	return &Registry{conns: make(map[domain.SessionID]*connEntry)}
}

// Bind registers conn for sid. A previous connection of the same participant
// is canceled.
func (r *Registry) Bind(sid domain.SessionID, conn core.SignalConnection, cancel context.CancelFunc) {
	r.mu.Lock()
	prev := r.conns[sid]
	r.conns[sid] = &connEntry{Conn: conn, Cancel: cancel}
	r.mu.Unlock()

	if prev != nil && prev.Cancel != nil {
		prev.Cancel()
		log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("replaced connection")
		return
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("bound connection")
}

func (r *Registry) Get(sid domain.SessionID) (core.SignalConnection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.conns[sid]; ok {
		return e.Conn, true
	}
	return nil, false
}

// Unbind removes sid only while conn is still its current connection, and
// reports whether it did.
func (r *Registry) Unbind(sid domain.SessionID, conn core.SignalConnection) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.conns[sid]
	if !ok || e.Conn != conn {
		return false
	}
	delete(r.conns, sid)
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("unbind connection")
	return true
}

func (r *Registry) Cancel(sid domain.SessionID) bool {
	r.mu.RLock()
	e, ok := r.conns[sid]
	r.mu.RUnlock()
	if !ok {
		return false
	}
	if e.Cancel != nil {
		e.Cancel()
	}
	log.Info().Str("module", "app.registry").Str("sid", string(sid)).Msg("canceled connection")
	return true
}

func (r *Registry) Online(sid domain.SessionID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.conns[sid]
	return ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
