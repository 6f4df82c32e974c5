package media

import (
	"sync/atomic"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
)

type TrackState int32

const (
	TrackStateLive TrackState = iota
	TrackStateReleased
)

// LocalTrack is one captured track offered to the peer.
type LocalTrack struct {
	Track *webrtc.TrackLocalStaticRTP
	state atomic.Int32 // Zero by default (TrackStateLive)
}

func NewLocalTrack(track *webrtc.TrackLocalStaticRTP) *LocalTrack {
	return &LocalTrack{Track: track}
}

func (lt *LocalTrack) GetState() TrackState {
	return TrackState(lt.state.Load())
}

// Release is final; a released track never goes live again.
func (lt *LocalTrack) Release() bool {
	return TrackState(lt.state.Swap(int32(TrackStateReleased))) != TrackStateReleased
}

// WriteRTP forwards pkt while the track is live and drops it otherwise.
func (lt *LocalTrack) WriteRTP(pkt *rtp.Packet) error {
	if lt.GetState() != TrackStateLive {
		return nil
	}
	return lt.Track.WriteRTP(pkt)
}
