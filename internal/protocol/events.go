// Package protocol defines the relay wire contract shared by the peer and the relay server.
package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/webrtc/v4"
)

// Peer to relay.
const (
	EventCreateCall         = "createCall"
	EventCreateCandidate    = "createCandidate"
	EventGetCallData        = "getCallData"
	EventGetOfferCandidates = "getOfferCandidates"
	EventAddAnswer          = "addAnswer"
	EventPing               = "ping"
)

// Relay to peer.
const (
	EventCallData        = "callData"
	EventAnswer          = "answer"
	EventCandidate       = "candidate"
	EventOfferCandidates = "offerCandidates"
	EventPong            = "pong"
	EventError           = "error"
)

// Synthetic connectivity events raised by the relay client itself.
const (
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// UserIDParam is the query parameter carrying the participant's SessionID.
const UserIDParam = "userId"

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func Encode(event string, payload any) ([]byte, error) {
	env := Envelope{Event: event}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// Description is a session description as the relay carries it.
type Description struct {
	SDP  string `json:"sdp"`
	Type string `json:"type"`
}

// Outbound renders d with the title-cased kind the relay expects.
func Outbound(d domain.SessionDescription) Description {
	return Description{SDP: d.SDP, Type: d.Kind.Title()}
}

// Normalize lowercases the kind and validates the body.
func (d Description) Normalize() (domain.SessionDescription, error) {
	return domain.NewSessionDescription(d.SDP, d.Type)
}

type CallRef struct {
	CallID string `json:"callId"`
}

type CreateCall struct {
	CallID string      `json:"callId"`
	Offer  Description `json:"offer"`
}

type AddAnswer struct {
	CallID string      `json:"callId"`
	Answer Description `json:"answer"`
}

type CreateCandidate struct {
	UserID    string                  `json:"userId"`
	CallID    string                  `json:"callId"`
	Type      string                  `json:"type"`
	Candidate webrtc.ICECandidateInit `json:"candidate"`
}

func NewCreateCandidate(c domain.NetworkCandidate) CreateCandidate {
	return CreateCandidate{
		UserID:    string(c.OwnerID),
		CallID:    c.CallID,
		Type:      string(c.Kind),
		Candidate: c.Candidate,
	}
}

type CallData struct {
	Offer Description `json:"offer"`
}

type Error struct {
	Event string `json:"event,omitempty"`
	Error string `json:"error"`
}
