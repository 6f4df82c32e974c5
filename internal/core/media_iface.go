package core

import (
	"context"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Transport is the peer connection driven by the negotiation machine.
type Transport interface {
	CreateOffer() (domain.SessionDescription, error)
	CreateAnswer() (domain.SessionDescription, error)
	SetLocalDescription(domain.SessionDescription) error
	SetRemoteDescription(domain.SessionDescription) error
	// AddICECandidate applies a remote ICE candidate.
	AddICECandidate(webrtc.ICECandidateInit) error
	// AttachMedia adds local tracks to the underlying PeerConnection.
	AttachMedia(LocalMedia) error
	// OnICECandidate sets a callback for newly gathered local ICE candidates.
	OnICECandidate(func(webrtc.ICECandidateInit))
	OnConnectionState(func(domain.ConnectionState))
	// Close must be safe to call more than once.
	Close() error
}

// LocalMedia is captured audio/video ready to be attached to a transport.
type LocalMedia interface {
	Tracks() []webrtc.TrackLocal
	// Release stops capture; repeated calls are no-ops.
	Release()
}

type MediaSource interface {
	Acquire(ctx context.Context) (LocalMedia, error)
}
