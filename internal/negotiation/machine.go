package negotiation

import (
	"errors"
	"fmt"

	"github.com/dkeye/peercall/internal/candidate"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// Machine owns the current CallSession. It is not safe for concurrent use;
// the session controller feeds it from a single goroutine.
type Machine struct {
	owner   domain.SessionID
	state   State
	session *domain.CallSession
	reason  error
	// restarted machines follow a hung-up call whose peer may still be sending
	restarted bool

	// remote candidates waiting for the remote description
	pending candidate.Queue[webrtc.ICECandidateInit]
	// local candidates discovered before the local description was applied
	held candidate.Queue[webrtc.ICECandidateInit]
}

func New(owner domain.SessionID) *Machine {
	return &Machine{owner: owner}
}

// Restart returns a fresh machine for a negotiation that follows a hang-up.
// Relay traffic arriving before its own call starts belongs to the previous
// call and is ignored instead of failing the new one.
func Restart(owner domain.SessionID) *Machine {
	return &Machine{owner: owner, restarted: true}
}

func (m *Machine) State() State { return m.state }

// Session returns a copy of the active call, if any.
func (m *Machine) Session() (domain.CallSession, bool) {
	if m.session == nil {
		return domain.CallSession{}, false
	}
	return *m.session, true
}

// Err is the reason the machine entered Failed.
func (m *Machine) Err() error { return m.reason }

// QueuedRemote is the number of remote candidates waiting for the remote description.
func (m *Machine) QueuedRemote() int { return m.pending.Len() }

func (m *Machine) CanEnableMedia() bool { return m.state == Idle }
func (m *Machine) CanStartCall() bool   { return m.state == LocalMediaReady }
func (m *Machine) CanJoinCall() bool    { return m.state == LocalMediaReady }
func (m *Machine) CanHangUp() bool      { return m.state != Closed }

// Handle applies ev and returns the effects to execute in order. A non-nil
// error means the event was rejected; the state is Failed for protocol
// violations and unchanged for intents that are not allowed.
func (m *Machine) Handle(ev Event) ([]Effect, error) {
	if hu, ok := ev.(HangUp); ok {
		return m.hangUp(hu), nil
	}
	if rs, ok := ev.(RelayStatus); ok {
		return m.relayStatus(rs), nil
	}
	if m.state.Done() {
		switch ev.(type) {
		case MediaAcquired, StartCall, JoinCall:
			return nil, fmt.Errorf("%w: %s", domain.ErrIntentNotAllowed, m.state)
		}
		// late relay or transport traffic for a finished call
		return nil, nil
	}
	if m.session == nil && m.restarted && relayTraffic(ev) {
		return nil, nil
	}

	switch e := ev.(type) {
	case MediaAcquired:
		return m.mediaAcquired()
	case MediaFailed:
		return m.mediaFailed(e), nil
	case StartCall:
		return m.startCall(e)
	case JoinCall:
		return m.joinCall(e)
	case OfferCreated:
		return m.offerCreated(e)
	case AnswerCreated:
		return m.answerCreated(e)
	case LocalApplied:
		return m.localApplied(e)
	case RemoteApplied:
		return m.remoteApplied(e)
	case CallDataReceived:
		return m.callData(e)
	case AnswerReceived:
		return m.answer(e)
	case RelayRejected:
		return m.relayRejected(e)
	case RemoteCandidate:
		return m.remoteCandidates(e.Candidate)
	case OfferCandidates:
		if m.session == nil || m.session.Role != domain.RoleCallee {
			return m.violation("offer candidates without a joined call")
		}
		return m.remoteCandidates(e.Candidates...)
	case LocalCandidate:
		return m.localCandidate(e), nil
	case TransportChanged:
		return m.transportChanged(e)
	case NegotiationTimeout:
		return m.timeout(e)
	case OperationFailed:
		err := fmt.Errorf("%s: %w", e.Op, e.Err)
		return m.fail(err), err
	default:
		return nil, fmt.Errorf("unknown event %T", ev)
	}
}

func (m *Machine) mediaAcquired() ([]Effect, error) {
	if m.state != Idle {
		return nil, fmt.Errorf("%w: media already enabled", domain.ErrIntentNotAllowed)
	}
	m.state = LocalMediaReady
	return []Effect{AttachMedia{}}, nil
}

func (m *Machine) mediaFailed(e MediaFailed) []Effect {
	if m.state != Idle {
		return nil
	}
	return []Effect{Notify{Message: fmt.Sprintf("Error accessing media devices: %v", e.Err)}}
}

func (m *Machine) startCall(e StartCall) ([]Effect, error) {
	if err := m.beginSession(e.CallID, domain.RoleCaller, e.RelayUp); err != nil {
		return m.rejected(err)
	}
	m.state = Offering
	return []Effect{CreateOffer{}}, nil
}

func (m *Machine) joinCall(e JoinCall) ([]Effect, error) {
	if err := m.beginSession(e.CallID, domain.RoleCallee, e.RelayUp); err != nil {
		return m.rejected(err)
	}
	m.state = AnsweringRemote
	return []Effect{
		StartTimer{CallID: m.session.CallID},
		Emit{Event: protocol.EventGetCallData, Payload: protocol.CallRef{CallID: m.session.CallID}},
	}, nil
}

func (m *Machine) beginSession(callID string, role domain.Role, relayUp bool) error {
	if m.state != LocalMediaReady {
		return fmt.Errorf("%w: %s", domain.ErrIntentNotAllowed, m.state)
	}
	if !relayUp {
		return domain.ErrRelayUnavailable
	}
	s, err := domain.NewCallSession(callID, role)
	if err != nil {
		return err
	}
	m.session = s
	m.pending.Reset()
	m.held.Reset()
	return nil
}

// rejected leaves the state untouched; relay unavailability is shown to the user.
func (m *Machine) rejected(err error) ([]Effect, error) {
	if errors.Is(err, domain.ErrRelayUnavailable) {
		return []Effect{Notify{Message: "Relay not connected", Blocking: true}}, err
	}
	return nil, err
}

func (m *Machine) offerCreated(e OfferCreated) ([]Effect, error) {
	if m.state != Offering || m.session.HasLocal() || e.Desc.Kind != domain.SDPOffer {
		return m.violation("offer created in state %s", m.state)
	}
	return []Effect{SetLocal{Desc: e.Desc}}, nil
}

func (m *Machine) answerCreated(e AnswerCreated) ([]Effect, error) {
	if m.state != AnsweringRemote || !m.session.HasRemote() || m.session.HasLocal() || e.Desc.Kind != domain.SDPAnswer {
		return m.violation("answer created in state %s", m.state)
	}
	return []Effect{SetLocal{Desc: e.Desc}}, nil
}

func (m *Machine) localApplied(e LocalApplied) ([]Effect, error) {
	if m.session == nil || m.session.HasLocal() {
		return m.violation("local description applied twice")
	}
	desc := e.Desc
	m.session.Local = &desc
	callID := m.session.CallID

	var effects []Effect
	switch m.session.Role {
	case domain.RoleCaller:
		if m.state != Offering {
			return m.violation("offer applied in state %s", m.state)
		}
		m.state = Offered
		effects = append(effects, Emit{
			Event:   protocol.EventCreateCall,
			Payload: protocol.CreateCall{CallID: callID, Offer: protocol.Outbound(desc)},
		})
	case domain.RoleCallee:
		if m.state != AnsweringRemote {
			return m.violation("answer applied in state %s", m.state)
		}
		effects = append(effects,
			Emit{
				Event:    protocol.EventAddAnswer,
				Payload:  protocol.AddAnswer{CallID: callID, Answer: protocol.Outbound(desc)},
				Required: true,
			},
			Emit{Event: protocol.EventGetOfferCandidates, Payload: protocol.CallRef{CallID: callID}},
		)
	}
	for _, c := range m.held.Drain() {
		effects = append(effects, m.send(c))
	}
	return effects, nil
}

func (m *Machine) remoteApplied(e RemoteApplied) ([]Effect, error) {
	if m.session == nil || m.session.HasRemote() {
		return m.violation("remote description applied twice")
	}
	desc := e.Desc
	m.session.Remote = &desc

	queued := m.pending.Drain()
	effects := make([]Effect, 0, len(queued)+1)
	for _, c := range queued {
		effects = append(effects, AddRemoteCandidate{Candidate: c})
	}
	if m.session.Role == domain.RoleCallee {
		effects = append(effects, CreateAnswer{})
	}
	return effects, nil
}

func (m *Machine) callData(e CallDataReceived) ([]Effect, error) {
	if m.session == nil || m.session.Role != domain.RoleCallee || m.state != AnsweringRemote || m.session.HasRemote() {
		return m.violation("call data in state %s", m.state)
	}
	if e.Offer.Kind != domain.SDPOffer {
		return m.violation("call data carries %q", e.Offer.Kind)
	}
	if err := e.Offer.Validate(); err != nil {
		return m.violation("call data: %v", err)
	}
	return []Effect{SetRemote{Desc: e.Offer}}, nil
}

func (m *Machine) answer(e AnswerReceived) ([]Effect, error) {
	if m.session == nil || m.session.Role != domain.RoleCaller || m.state != Offered || m.session.HasRemote() {
		return m.violation("answer in state %s", m.state)
	}
	if e.Answer.Kind != domain.SDPAnswer {
		return m.violation("answer carries %q", e.Answer.Kind)
	}
	if err := e.Answer.Validate(); err != nil {
		return m.violation("answer: %v", err)
	}
	// the caller's clock starts once a callee shows up
	return []Effect{StartTimer{CallID: m.session.CallID}, SetRemote{Desc: e.Answer}}, nil
}

// relayRejected fails the negotiation when the relay refuses a request it
// depends on. Replies to other requests, or to a role we do not hold, are ignored.
func (m *Machine) relayRejected(e RelayRejected) ([]Effect, error) {
	if m.session == nil || !m.state.Negotiating() {
		return nil, nil
	}
	switch {
	case e.Event == protocol.EventCreateCall && m.session.Role == domain.RoleCaller,
		e.Event == protocol.EventGetCallData && m.session.Role == domain.RoleCallee,
		e.Event == protocol.EventAddAnswer && m.session.Role == domain.RoleCallee:
		err := fmt.Errorf("%w: %s: %s", domain.ErrRelayRejected, e.Event, e.Reason)
		return m.fail(err), err
	}
	return nil, nil
}

func relayTraffic(ev Event) bool {
	switch ev.(type) {
	case CallDataReceived, AnswerReceived, RemoteCandidate, OfferCandidates, RelayRejected:
		return true
	}
	return false
}

func (m *Machine) remoteCandidates(cands ...webrtc.ICECandidateInit) ([]Effect, error) {
	if m.session == nil {
		return m.violation("candidate before negotiation started")
	}
	var effects []Effect
	for _, c := range cands {
		if m.session.HasRemote() {
			effects = append(effects, AddRemoteCandidate{Candidate: c})
			continue
		}
		m.pending.Push(c)
	}
	return effects, nil
}

func (m *Machine) localCandidate(e LocalCandidate) []Effect {
	if m.session == nil {
		return nil
	}
	if !m.session.HasLocal() {
		m.held.Push(e.Candidate)
		return nil
	}
	return []Effect{m.send(e.Candidate)}
}

func (m *Machine) send(c webrtc.ICECandidateInit) Effect {
	return SendCandidate{Candidate: domain.NetworkCandidate{
		OwnerID:   m.owner,
		CallID:    m.session.CallID,
		Kind:      m.session.Role.CandidateKind(),
		Candidate: c,
	}}
}

func (m *Machine) transportChanged(e TransportChanged) ([]Effect, error) {
	switch e.State {
	case domain.ConnectionConnected:
		if m.state == Offered || m.state == AnsweringRemote {
			m.state = Connected
			return []Effect{StopTimer{}}, nil
		}
	case domain.ConnectionFailed, domain.ConnectionDisconnected:
		err := fmt.Errorf("%w: %s", domain.ErrTransportFailed, e.State)
		return m.fail(err), err
	}
	return nil, nil
}

func (m *Machine) timeout(e NegotiationTimeout) ([]Effect, error) {
	if m.session == nil || m.session.CallID != e.CallID || !m.state.Negotiating() {
		return nil, nil
	}
	err := fmt.Errorf("%w: call %s", domain.ErrNegotiationTimeout, e.CallID)
	return m.fail(err), err
}

func (m *Machine) relayStatus(e RelayStatus) []Effect {
	if e.Connected {
		return []Effect{FlushOutbox{}}
	}
	if m.state == Closed {
		return nil
	}
	return []Effect{Notify{Message: "Relay disconnected", Blocking: true}}
}

func (m *Machine) hangUp(HangUp) []Effect {
	if m.state == Closed {
		return nil
	}
	m.state = Closed
	m.pending.Reset()
	m.held.Reset()
	return []Effect{StopTimer{}, ReleaseMedia{}, CloseTransport{}}
}

func (m *Machine) violation(format string, args ...any) ([]Effect, error) {
	err := fmt.Errorf("%w: %s", domain.ErrProtocolViolation, fmt.Sprintf(format, args...))
	return m.fail(err), err
}

func (m *Machine) fail(err error) []Effect {
	m.state = Failed
	m.reason = err
	m.pending.Reset()
	return []Effect{StopTimer{}, Notify{Message: err.Error(), Blocking: true}}
}
