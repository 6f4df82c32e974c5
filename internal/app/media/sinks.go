package media

import (
	"context"
	"sort"
	"sync"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/rs/zerolog/log"
)

// Sinks tracks the remote tracks of the current call, keyed by track id.
type Sinks struct {
	owner domain.SessionID

	mu    sync.RWMutex
	sinks map[string]*Sink
}

func NewSinks(owner domain.SessionID) *Sinks {
	return &Sinks{
		owner: owner,
		sinks: make(map[string]*Sink),
	}
}

// Attach starts draining src, replacing any sink with the same track id.
func (m *Sinks) Attach(ctx context.Context, src RTPReader) *Sink {
	logger := log.With().
		Str("module", "media.sink").
		Str("sid", string(m.owner)).
		Str("track_id", src.ID()).
		Str("kind", src.Kind().String()).
		Logger()

	sinkCtx, cancel := context.WithCancel(ctx)
	sink := NewSink(src, cancel)

	m.mu.Lock()
	if old, ok := m.sinks[src.ID()]; ok {
		logger.Info().Msg("replacing existing sink for track")
		old.cancel()
	}
	m.sinks[src.ID()] = sink
	m.mu.Unlock()

	logger.Info().Msg("starting sink loop")
	go func() {
		sink.loop(sinkCtx, &logger)
		m.remove(src.ID(), sink)
	}()
	return sink
}

func (m *Sinks) remove(id string, sink *Sink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cur, ok := m.sinks[id]; ok && cur == sink {
		delete(m.sinks, id)
	}
}

// StopAll cancels every sink, typically on hang-up.
func (m *Sinks) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sinks {
		s.cancel()
		delete(m.sinks, id)
	}
}

func (m *Sinks) Stats() []TrackStats {
	m.mu.RLock()
	out := make([]TrackStats, 0, len(m.sinks))
	for _, s := range m.sinks {
		out = append(out, s.Stats())
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].TrackID < out[j].TrackID })
	return out
}

func (m *Sinks) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sinks)
}
