package domain

import (
	"fmt"
	"strings"

	"github.com/pion/webrtc/v4"
)

// SDPKind is the canonical lowercase description type handed to the transport.
type SDPKind string

const (
	SDPOffer  SDPKind = "offer"
	SDPAnswer SDPKind = "answer"
)

// ParseSDPKind accepts any casing of "offer" or "answer".
func ParseSDPKind(s string) (SDPKind, error) {
	switch k := SDPKind(strings.ToLower(strings.TrimSpace(s))); k {
	case SDPOffer, SDPAnswer:
		return k, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownSDPKind, s)
	}
}

// Title is the relay's outbound spelling ("Offer", "Answer").
func (k SDPKind) Title() string {
	if k == "" {
		return ""
	}
	return strings.ToUpper(string(k[:1])) + string(k[1:])
}

func (k SDPKind) WebRTC() webrtc.SDPType {
	if k == SDPAnswer {
		return webrtc.SDPTypeAnswer
	}
	return webrtc.SDPTypeOffer
}

type SessionDescription struct {
	SDP  string
	Kind SDPKind
}

func NewSessionDescription(sdp, kind string) (SessionDescription, error) {
	k, err := ParseSDPKind(kind)
	if err != nil {
		return SessionDescription{}, err
	}
	d := SessionDescription{SDP: sdp, Kind: k}
	return d, d.Validate()
}

func (d SessionDescription) Validate() error {
	if strings.TrimSpace(d.SDP) == "" {
		return ErrEmptySDP
	}
	if d.Kind != SDPOffer && d.Kind != SDPAnswer {
		return fmt.Errorf("%w: %q", ErrUnknownSDPKind, d.Kind)
	}
	return nil
}

func (d SessionDescription) WebRTC() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: d.Kind.WebRTC(), SDP: d.SDP}
}

// FromWebRTC converts a pion description; only offers and answers are accepted.
func FromWebRTC(sd webrtc.SessionDescription) (SessionDescription, error) {
	switch sd.Type {
	case webrtc.SDPTypeOffer:
		return SessionDescription{SDP: sd.SDP, Kind: SDPOffer}, nil
	case webrtc.SDPTypeAnswer:
		return SessionDescription{SDP: sd.SDP, Kind: SDPAnswer}, nil
	default:
		return SessionDescription{}, fmt.Errorf("%w: %s", ErrUnknownSDPKind, sd.Type)
	}
}
