package domain

import "github.com/pion/webrtc/v4"

// NetworkCandidate is a local candidate tagged for the relay.
type NetworkCandidate struct {
	OwnerID   SessionID
	CallID    string
	Kind      SDPKind
	Candidate webrtc.ICECandidateInit
}

// ConnectionState mirrors the transport lifecycle; it is never stored.
type ConnectionState int

const (
	ConnectionNew ConnectionState = iota
	ConnectionNegotiating
	ConnectionConnected
	ConnectionDisconnected
	ConnectionFailed
	ConnectionClosed
)

func (s ConnectionState) String() string {
	switch s {
	case ConnectionNew:
		return "new"
	case ConnectionNegotiating:
		return "negotiating"
	case ConnectionConnected:
		return "connected"
	case ConnectionDisconnected:
		return "disconnected"
	case ConnectionFailed:
		return "failed"
	case ConnectionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

func ConnectionStateFrom(s webrtc.PeerConnectionState) ConnectionState {
	switch s {
	case webrtc.PeerConnectionStateConnecting:
		return ConnectionNegotiating
	case webrtc.PeerConnectionStateConnected:
		return ConnectionConnected
	case webrtc.PeerConnectionStateDisconnected:
		return ConnectionDisconnected
	case webrtc.PeerConnectionStateFailed:
		return ConnectionFailed
	case webrtc.PeerConnectionStateClosed:
		return ConnectionClosed
	default:
		return ConnectionNew
	}
}
