package rtc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/rtcp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("peer connection closed")

// Connection implements core.Transport on top of a pion PeerConnection.
type Connection struct {
	pc     *webrtc.PeerConnection
	sid    domain.SessionID
	cancel context.CancelFunc
	closed atomic.Bool

	mu      sync.RWMutex
	onICE   func(webrtc.ICECandidateInit)
	onState func(domain.ConnectionState)
	onTrack func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)
}

var _ core.Transport = (*Connection)(nil)

func NewConnection(api *webrtc.API, cfg webrtc.Configuration, sid domain.SessionID) (*Connection, error) {
	pc, err := api.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("new peer connection: %w", err)
	}
	return &Connection{pc: pc, sid: sid}, nil
}

// Start registers the PeerConnection callbacks; remote track readers are bound to ctx.
func (c *Connection) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	c.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("ice_state", s.String()).Msg("ICE state")
	})

	c.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Str("peer_connection_state", s.String()).Msg("Peer state")
		if s == webrtc.PeerConnectionStateFailed || s == webrtc.PeerConnectionStateClosed {
			cancel()
		}
		c.mu.RLock()
		fn := c.onState
		c.mu.RUnlock()
		if fn != nil {
			fn(domain.ConnectionStateFrom(s))
		}
	})

	c.pc.OnICECandidate(func(cand *webrtc.ICECandidate) {
		// nil marks the end of gathering
		if cand == nil {
			log.Debug().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("ICE gathering complete")
			return
		}
		c.mu.RLock()
		fn := c.onICE
		c.mu.RUnlock()
		if fn != nil {
			fn(cand.ToJSON())
		}
	})

	c.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		log.Info().
			Str("module", "webrtc").
			Str("sid", string(c.sid)).
			Str("kind", track.Kind().String()).
			Str("track_id", track.ID()).
			Str("stream_id", track.StreamID()).
			Msg("OnTrack received")
		if track.Kind() == webrtc.RTPCodecTypeVideo {
			c.requestKeyframe(track)
		}
		c.mu.RLock()
		fn := c.onTrack
		c.mu.RUnlock()
		if fn != nil {
			fn(ctx, track, receiver)
		}
	})
}

func (c *Connection) CreateOffer() (domain.SessionDescription, error) {
	offer, err := c.pc.CreateOffer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.FromWebRTC(offer)
}

func (c *Connection) CreateAnswer() (domain.SessionDescription, error) {
	answer, err := c.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SessionDescription{}, err
	}
	return domain.FromWebRTC(answer)
}

func (c *Connection) SetLocalDescription(d domain.SessionDescription) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.pc.SetLocalDescription(d.WebRTC())
}

func (c *Connection) SetRemoteDescription(d domain.SessionDescription) error {
	if c.closed.Load() {
		return ErrClosed
	}
	summary, err := Inspect(d.SDP)
	if err != nil {
		return err
	}
	log.Info().
		Str("module", "webrtc").
		Str("sid", string(c.sid)).
		Str("kind", string(d.Kind)).
		Int("audio", summary.Audio).
		Int("video", summary.Video).
		Msg("applying remote description")
	return c.pc.SetRemoteDescription(d.WebRTC())
}

func (c *Connection) AddICECandidate(ci webrtc.ICECandidateInit) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.pc.AddICECandidate(ci)
}

// AttachMedia adds every local track and drains the RTCP of its sender.
func (c *Connection) AttachMedia(m core.LocalMedia) error {
	for _, track := range m.Tracks() {
		sender, err := c.pc.AddTrack(track)
		if err != nil {
			return fmt.Errorf("add %s track: %w", track.Kind(), err)
		}
		go c.readRTCP(sender, track.Kind())
	}
	return nil
}

func (c *Connection) readRTCP(sender *webrtc.RTPSender, kind webrtc.RTPCodecType) {
	for {
		pkts, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}
		for _, p := range pkts {
			if _, ok := p.(*rtcp.PictureLossIndication); ok {
				log.Debug().Str("module", "webrtc").Str("sid", string(c.sid)).Str("kind", kind.String()).Msg("keyframe requested by peer")
			}
		}
	}
}

func (c *Connection) requestKeyframe(track *webrtc.TrackRemote) {
	err := c.pc.WriteRTCP([]rtcp.Packet{&rtcp.PictureLossIndication{MediaSSRC: uint32(track.SSRC())}})
	if err != nil {
		log.Warn().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("keyframe request failed")
	}
}

func (c *Connection) OnICECandidate(fn func(webrtc.ICECandidateInit)) {
	c.mu.Lock()
	c.onICE = fn
	c.mu.Unlock()
}

func (c *Connection) OnConnectionState(fn func(domain.ConnectionState)) {
	c.mu.Lock()
	c.onState = fn
	c.mu.Unlock()
}

// OnTrack sets application-level callback for remote tracks.
func (c *Connection) OnTrack(fn func(ctx context.Context, track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver)) {
	c.mu.Lock()
	c.onTrack = fn
	c.mu.Unlock()
}

func (c *Connection) LocalDescription() *webrtc.SessionDescription {
	return c.pc.LocalDescription()
}

func (c *Connection) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	if c.cancel != nil {
		c.cancel()
	}
	if err := c.pc.Close(); err != nil {
		log.Error().Err(err).Str("module", "webrtc").Str("sid", string(c.sid)).Msg("close error")
		return err
	}
	log.Info().Str("module", "webrtc").Str("sid", string(c.sid)).Msg("closed")
	return nil
}
