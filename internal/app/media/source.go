package media

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var ErrNoTracks = errors.New("no media tracks enabled")

const (
	silenceInterval = 20 * time.Millisecond
	// samples per 20ms frame at 48kHz
	silenceSamples = 960
)

// silenceFrame is one Opus frame of silence.
var silenceFrame = []byte{0xf8, 0xff, 0xfe}

// Source produces static RTP tracks that a capture pipeline writes into.
type Source struct {
	Owner domain.SessionID
	Audio bool
	Video bool
	// Silence feeds the audio track with generated silence until release.
	Silence bool
}

var _ core.MediaSource = (*Source)(nil)

func (s *Source) Acquire(ctx context.Context) (core.LocalMedia, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !s.Audio && !s.Video {
		return nil, ErrNoTracks
	}

	streamID := "peercall-" + string(s.Owner)
	c := &Capture{owner: s.Owner}
	if s.Audio {
		t, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
			"audio", streamID)
		if err != nil {
			return nil, fmt.Errorf("audio track: %w", err)
		}
		c.audio = NewLocalTrack(t)
	}
	if s.Video {
		t, err := webrtc.NewTrackLocalStaticRTP(
			webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeVP8, ClockRate: 90000},
			"video", streamID)
		if err != nil {
			return nil, fmt.Errorf("video track: %w", err)
		}
		c.video = NewLocalTrack(t)
	}
	if s.Silence && c.audio != nil {
		c.stop = make(chan struct{})
		c.generated = make(chan struct{})
		go c.generateSilence()
	}
	log.Info().Str("module", "media").Str("sid", string(s.Owner)).Bool("audio", s.Audio).Bool("video", s.Video).Msg("local media acquired")
	return c, nil
}

// Capture is the acquired local media of one negotiation.
type Capture struct {
	owner domain.SessionID
	audio *LocalTrack
	video *LocalTrack

	stop      chan struct{}
	generated chan struct{}
	stopOnce  sync.Once
}

func (c *Capture) Tracks() []webrtc.TrackLocal {
	out := make([]webrtc.TrackLocal, 0, 2)
	for _, lt := range c.live() {
		out = append(out, lt.Track)
	}
	return out
}

// WriteRTP feeds a packet of the given kind into the matching track.
func (c *Capture) WriteRTP(kind webrtc.RTPCodecType, pkt *rtp.Packet) error {
	lt := c.track(kind)
	if lt == nil {
		return fmt.Errorf("no %s track", kind)
	}
	return lt.WriteRTP(pkt)
}

func (c *Capture) generateSilence() {
	defer close(c.generated)
	ticker := time.NewTicker(silenceInterval)
	defer ticker.Stop()

	var seq uint16
	var ts uint32
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
		}
		pkt := &rtp.Packet{
			Header: rtp.Header{
				Version:        2,
				SequenceNumber: seq,
				Timestamp:      ts,
			},
			Payload: silenceFrame,
		}
		if err := c.WriteRTP(webrtc.RTPCodecTypeAudio, pkt); err != nil {
			log.Warn().Err(err).Str("module", "media").Str("sid", string(c.owner)).Msg("silence write failed")
		}
		seq++
		ts += silenceSamples
	}
}

func (c *Capture) Release() {
	if c.stop != nil {
		c.stopOnce.Do(func() { close(c.stop) })
	}
	released := false
	for _, lt := range []*LocalTrack{c.audio, c.video} {
		if lt != nil && lt.Release() {
			released = true
		}
	}
	if released {
		log.Info().Str("module", "media").Str("sid", string(c.owner)).Msg("local media released")
	}
}

func (c *Capture) track(kind webrtc.RTPCodecType) *LocalTrack {
	switch kind {
	case webrtc.RTPCodecTypeAudio:
		return c.audio
	case webrtc.RTPCodecTypeVideo:
		return c.video
	default:
		return nil
	}
}

func (c *Capture) live() []*LocalTrack {
	out := make([]*LocalTrack, 0, 2)
	for _, lt := range []*LocalTrack{c.audio, c.video} {
		if lt != nil && lt.GetState() != TrackStateReleased {
			out = append(out, lt)
		}
	}
	return out
}
