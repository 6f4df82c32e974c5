package negotiation

import (
	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Event interface{ event() }

// User intents.
type (
	MediaAcquired struct{}
	MediaFailed   struct{ Err error }
	StartCall     struct {
		CallID  string
		RelayUp bool
	}
	JoinCall struct {
		CallID  string
		RelayUp bool
	}
	HangUp struct{}
)

// Results of executed effects.
type (
	OfferCreated    struct{ Desc domain.SessionDescription }
	AnswerCreated   struct{ Desc domain.SessionDescription }
	LocalApplied    struct{ Desc domain.SessionDescription }
	RemoteApplied   struct{ Desc domain.SessionDescription }
	OperationFailed struct {
		Op  string
		Err error
	}
)

// Relay events.
type (
	CallDataReceived struct{ Offer domain.SessionDescription }
	AnswerReceived   struct{ Answer domain.SessionDescription }
	RemoteCandidate  struct{ Candidate webrtc.ICECandidateInit }
	OfferCandidates  struct{ Candidates []webrtc.ICECandidateInit }
	RelayStatus      struct{ Connected bool }
	// RelayRejected is the relay's error reply to one of our requests.
	RelayRejected struct {
		Event  string
		Reason string
	}
)

// Transport and timer events.
type (
	LocalCandidate     struct{ Candidate webrtc.ICECandidateInit }
	TransportChanged   struct{ State domain.ConnectionState }
	NegotiationTimeout struct{ CallID string }
)

func (MediaAcquired) event()      {}
func (MediaFailed) event()        {}
func (StartCall) event()          {}
func (JoinCall) event()           {}
func (HangUp) event()             {}
func (OfferCreated) event()       {}
func (AnswerCreated) event()      {}
func (LocalApplied) event()       {}
func (RemoteApplied) event()      {}
func (OperationFailed) event()    {}
func (CallDataReceived) event()   {}
func (AnswerReceived) event()     {}
func (RemoteCandidate) event()    {}
func (OfferCandidates) event()    {}
func (RelayStatus) event()        {}
func (RelayRejected) event()      {}
func (LocalCandidate) event()     {}
func (TransportChanged) event()   {}
func (NegotiationTimeout) event() {}
