package negotiation

import (
	"github.com/dkeye/peercall/internal/domain"
	"github.com/pion/webrtc/v4"
)

type Effect interface{ effect() }

type (
	AttachMedia  struct{}
	CreateOffer  struct{}
	CreateAnswer struct{}
	SetLocal     struct{ Desc domain.SessionDescription }
	SetRemote    struct{ Desc domain.SessionDescription }

	AddRemoteCandidate struct{ Candidate webrtc.ICECandidateInit }
	SendCandidate      struct{ Candidate domain.NetworkCandidate }
	FlushOutbox        struct{}

	// Emit sends a relay event. A Required emit that cannot be delivered
	// is surfaced to the user; others are dropped with a log line.
	Emit struct {
		Event    string
		Payload  any
		Required bool
	}

	StartTimer struct{ CallID string }
	StopTimer  struct{}

	ReleaseMedia   struct{}
	CloseTransport struct{}

	Notify struct {
		Message  string
		Blocking bool
	}
)

func (AttachMedia) effect()        {}
func (CreateOffer) effect()        {}
func (CreateAnswer) effect()       {}
func (SetLocal) effect()           {}
func (SetRemote) effect()          {}
func (AddRemoteCandidate) effect() {}
func (SendCandidate) effect()      {}
func (FlushOutbox) effect()        {}
func (Emit) effect()               {}
func (StartTimer) effect()         {}
func (StopTimer) effect()          {}
func (ReleaseMedia) effect()       {}
func (CloseTransport) effect()     {}
func (Notify) effect()             {}
