package media

import (
	"context"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// RTPReader is the part of *webrtc.TrackRemote a sink consumes.
type RTPReader interface {
	ID() string
	Kind() webrtc.RTPCodecType
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
}

type TrackStats struct {
	TrackID  string    `json:"track_id"`
	Kind     string    `json:"kind"`
	Packets  uint64    `json:"packets"`
	Bytes    uint64    `json:"bytes"`
	Lost     uint64    `json:"lost"`
	LastSeen time.Time `json:"last_seen"`
}

// Sink drains one remote track and keeps receive statistics.
type Sink struct {
	Src RTPReader

	mu      sync.RWMutex
	stats   TrackStats
	lastSeq uint16
	started bool

	cancel context.CancelFunc
	done   chan struct{}
}

func NewSink(src RTPReader, cancel context.CancelFunc) *Sink {
	return &Sink{
		Src:    src,
		stats:  TrackStats{TrackID: src.ID(), Kind: src.Kind().String()},
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// loop reads RTP packets from the remote track until it ends or ctx is done.
func (s *Sink) loop(ctx context.Context, logger *zerolog.Logger) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("sink ctx done")
			return
		default:
		}
		pkt, _, err := s.Src.ReadRTP()
		if err != nil {
			logger.Info().Err(err).Msg("remote track ended")
			return
		}
		s.record(pkt)
	}
}

func (s *Sink) record(pkt *rtp.Packet) {
	s.mu.Lock()
	defer s.mu.Unlock()

	seq := pkt.SequenceNumber
	if s.started {
		// uint16 arithmetic wraps with the sequence space
		if gap := seq - s.lastSeq; gap > 1 && gap < 1<<15 {
			s.stats.Lost += uint64(gap - 1)
		}
	}
	s.started = true
	s.lastSeq = seq
	s.stats.Packets++
	s.stats.Bytes += uint64(len(pkt.Payload))
	s.stats.LastSeen = time.Now()
}

func (s *Sink) Stats() TrackStats {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stats
}

func (s *Sink) Done() <-chan struct{} { return s.done }
