package negotiation

import (
	"errors"
	"fmt"
	"testing"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	offer  = domain.SessionDescription{SDP: "v=0\r\no=- offer\r\n", Kind: domain.SDPOffer}
	answer = domain.SessionDescription{SDP: "v=0\r\no=- answer\r\n", Kind: domain.SDPAnswer}
)

func ice(n int) webrtc.ICECandidateInit {
	return webrtc.ICECandidateInit{Candidate: fmt.Sprintf("candidate:%d 1 udp 1 10.0.0.%d 5000 typ host", n, n)}
}

func handle(t *testing.T, m *Machine, ev Event) []Effect {
	t.Helper()
	effects, err := m.Handle(ev)
	require.NoError(t, err, "%T", ev)
	return effects
}

func emits(effects []Effect) []Emit {
	var out []Emit
	for _, e := range effects {
		if em, ok := e.(Emit); ok {
			out = append(out, em)
		}
	}
	return out
}

func mediaReady(t *testing.T) *Machine {
	m := New("me")
	assert.Equal(t, []Effect{AttachMedia{}}, handle(t, m, MediaAcquired{}))
	require.Equal(t, LocalMediaReady, m.State())
	return m
}

func offered(t *testing.T) (*Machine, []Effect) {
	m := mediaReady(t)
	var all []Effect
	all = append(all, handle(t, m, StartCall{CallID: "a1b2c3", RelayUp: true})...)
	require.Equal(t, Offering, m.State())
	all = append(all, handle(t, m, OfferCreated{Desc: offer})...)
	all = append(all, handle(t, m, LocalApplied{Desc: offer})...)
	require.Equal(t, Offered, m.State())
	return m, all
}

func joined(t *testing.T) *Machine {
	m := mediaReady(t)
	handle(t, m, JoinCall{CallID: "a1b2c3", RelayUp: true})
	require.Equal(t, AnsweringRemote, m.State())
	return m
}

func TestCallerEmitsSingleCreateCall(t *testing.T) {
	m, effects := offered(t)

	assert.Contains(t, effects, CreateOffer{})
	assert.Contains(t, effects, SetLocal{Desc: offer})

	out := emits(effects)
	require.Len(t, out, 1)
	assert.Equal(t, protocol.EventCreateCall, out[0].Event)
	cc, ok := out[0].Payload.(protocol.CreateCall)
	require.True(t, ok)
	assert.Equal(t, "a1b2c3", cc.CallID)
	assert.NotEmpty(t, cc.Offer.SDP)
	assert.Equal(t, "Offer", cc.Offer.Type)

	s, ok := m.Session()
	require.True(t, ok)
	assert.Equal(t, domain.RoleCaller, s.Role)
	assert.True(t, s.HasLocal())
	assert.False(t, s.HasRemote())
}

func TestCalleeAnswersAfterCallData(t *testing.T) {
	m := mediaReady(t)

	out := emits(handle(t, m, JoinCall{CallID: "a1b2c3", RelayUp: true}))
	require.Len(t, out, 1)
	assert.Equal(t, protocol.EventGetCallData, out[0].Event)
	assert.Equal(t, protocol.CallRef{CallID: "a1b2c3"}, out[0].Payload)

	// remote description first, then the answer
	assert.Equal(t, []Effect{SetRemote{Desc: offer}}, handle(t, m, CallDataReceived{Offer: offer}))
	assert.Equal(t, []Effect{CreateAnswer{}}, handle(t, m, RemoteApplied{Desc: offer}))
	assert.Equal(t, []Effect{SetLocal{Desc: answer}}, handle(t, m, AnswerCreated{Desc: answer}))

	out = emits(handle(t, m, LocalApplied{Desc: answer}))
	require.Len(t, out, 2)
	assert.Equal(t, protocol.EventAddAnswer, out[0].Event)
	assert.True(t, out[0].Required)
	aa := out[0].Payload.(protocol.AddAnswer)
	assert.Equal(t, "a1b2c3", aa.CallID)
	assert.Equal(t, "Answer", aa.Answer.Type)
	assert.Equal(t, protocol.EventGetOfferCandidates, out[1].Event)
	assert.Equal(t, protocol.CallRef{CallID: "a1b2c3"}, out[1].Payload)

	assert.Equal(t, AnsweringRemote, m.State())
}

func TestCalleeNeverAnswersWithoutCallData(t *testing.T) {
	m := joined(t)

	effects, err := m.Handle(AnswerCreated{Desc: answer})
	assert.ErrorIs(t, err, domain.ErrProtocolViolation)
	assert.Empty(t, emits(effects))
	assert.Equal(t, Failed, m.State())
}

func TestRemoteCandidatesQueuedUntilRemoteDescription(t *testing.T) {
	m := joined(t)

	for i := 1; i <= 3; i++ {
		assert.Empty(t, handle(t, m, RemoteCandidate{Candidate: ice(i)}))
	}
	assert.Equal(t, 3, m.QueuedRemote())

	handle(t, m, CallDataReceived{Offer: offer})
	effects := handle(t, m, RemoteApplied{Desc: offer})
	assert.Equal(t, []Effect{
		AddRemoteCandidate{Candidate: ice(1)},
		AddRemoteCandidate{Candidate: ice(2)},
		AddRemoteCandidate{Candidate: ice(3)},
		CreateAnswer{},
	}, effects)
	assert.Zero(t, m.QueuedRemote())

	// once the remote description exists candidates apply directly
	assert.Equal(t, []Effect{AddRemoteCandidate{Candidate: ice(4)}}, handle(t, m, RemoteCandidate{Candidate: ice(4)}))
}

func TestCallerQueuesCandidatesUntilAnswer(t *testing.T) {
	m, _ := offered(t)

	assert.Empty(t, handle(t, m, RemoteCandidate{Candidate: ice(1)}))
	assert.Equal(t, []Effect{SetRemote{Desc: answer}}, handle(t, m, AnswerReceived{Answer: answer}))
	assert.Equal(t, []Effect{AddRemoteCandidate{Candidate: ice(1)}}, handle(t, m, RemoteApplied{Desc: answer}))
}

func TestOfferCandidatesAppliedInOrder(t *testing.T) {
	m := joined(t)
	handle(t, m, CallDataReceived{Offer: offer})
	handle(t, m, RemoteApplied{Desc: offer})

	effects := handle(t, m, OfferCandidates{Candidates: []webrtc.ICECandidateInit{ice(1), ice(2)}})
	assert.Equal(t, []Effect{
		AddRemoteCandidate{Candidate: ice(1)},
		AddRemoteCandidate{Candidate: ice(2)},
	}, effects)
}

func TestOfferCandidatesRejectedForCaller(t *testing.T) {
	m, _ := offered(t)
	_, err := m.Handle(OfferCandidates{Candidates: []webrtc.ICECandidateInit{ice(1)}})
	assert.ErrorIs(t, err, domain.ErrProtocolViolation)
	assert.Equal(t, Failed, m.State())
}

func TestLocalCandidatesTaggedByRole(t *testing.T) {
	m := mediaReady(t)
	handle(t, m, StartCall{CallID: "a1b2c3", RelayUp: true})
	handle(t, m, OfferCreated{Desc: offer})

	// gathered before the local description is recorded: held
	assert.Empty(t, handle(t, m, LocalCandidate{Candidate: ice(1)}))

	effects := handle(t, m, LocalApplied{Desc: offer})
	require.Len(t, effects, 2)
	assert.Equal(t, protocol.EventCreateCall, effects[0].(Emit).Event)
	sc := effects[1].(SendCandidate)
	assert.Equal(t, domain.NetworkCandidate{
		OwnerID: "me", CallID: "a1b2c3", Kind: domain.SDPOffer, Candidate: ice(1),
	}, sc.Candidate)

	effects = handle(t, m, LocalCandidate{Candidate: ice(2)})
	require.Len(t, effects, 1)
	assert.Equal(t, ice(2), effects[0].(SendCandidate).Candidate.Candidate)

	callee := joined(t)
	handle(t, callee, CallDataReceived{Offer: offer})
	handle(t, callee, RemoteApplied{Desc: offer})
	handle(t, callee, AnswerCreated{Desc: answer})
	handle(t, callee, LocalApplied{Desc: answer})
	effects = handle(t, callee, LocalCandidate{Candidate: ice(3)})
	require.Len(t, effects, 1)
	assert.Equal(t, domain.SDPAnswer, effects[0].(SendCandidate).Candidate.Kind)
}

func TestAnswerRejectedOutsideOffered(t *testing.T) {
	t.Run("before_local_offer", func(t *testing.T) {
		m := mediaReady(t)
		handle(t, m, StartCall{CallID: "a1b2c3", RelayUp: true})
		effects, err := m.Handle(AnswerReceived{Answer: answer})
		assert.ErrorIs(t, err, domain.ErrProtocolViolation)
		assert.Equal(t, Failed, m.State())
		assert.Contains(t, effects, StopTimer{})
		assert.NotContains(t, effects, SetRemote{Desc: answer})
	})

	t.Run("callee", func(t *testing.T) {
		m := joined(t)
		_, err := m.Handle(AnswerReceived{Answer: answer})
		assert.ErrorIs(t, err, domain.ErrProtocolViolation)
		assert.Equal(t, Failed, m.State())
	})

	t.Run("second_answer", func(t *testing.T) {
		m, _ := offered(t)
		handle(t, m, AnswerReceived{Answer: answer})
		handle(t, m, RemoteApplied{Desc: answer})
		_, err := m.Handle(AnswerReceived{Answer: answer})
		assert.ErrorIs(t, err, domain.ErrProtocolViolation)
	})

	t.Run("wrong_kind", func(t *testing.T) {
		m, _ := offered(t)
		_, err := m.Handle(AnswerReceived{Answer: offer})
		assert.ErrorIs(t, err, domain.ErrProtocolViolation)
	})
}

func TestCandidateWithoutNegotiationFails(t *testing.T) {
	m := mediaReady(t)
	_, err := m.Handle(RemoteCandidate{Candidate: ice(1)})
	assert.ErrorIs(t, err, domain.ErrProtocolViolation)
	assert.Equal(t, Failed, m.State())
	assert.ErrorIs(t, m.Err(), domain.ErrProtocolViolation)
}

func TestRestartedMachineIgnoresPreviousCallTraffic(t *testing.T) {
	m := Restart("me")
	handle(t, m, MediaAcquired{})

	assert.Empty(t, handle(t, m, RemoteCandidate{Candidate: ice(1)}))
	assert.Empty(t, handle(t, m, OfferCandidates{Candidates: []webrtc.ICECandidateInit{ice(2)}}))
	assert.Empty(t, handle(t, m, AnswerReceived{Answer: answer}))
	assert.Empty(t, handle(t, m, RelayRejected{Event: protocol.EventCreateCall, Reason: "call_exists"}))
	assert.Equal(t, LocalMediaReady, m.State())

	handle(t, m, JoinCall{CallID: "a1b2c3", RelayUp: true})
	handle(t, m, RemoteCandidate{Candidate: ice(3)})
	assert.Equal(t, 1, m.QueuedRemote())
}

func TestRelayRejection(t *testing.T) {
	t.Run("callee_unknown_call", func(t *testing.T) {
		m := joined(t)
		effects, err := m.Handle(RelayRejected{Event: protocol.EventGetCallData, Reason: "call_not_found"})
		assert.ErrorIs(t, err, domain.ErrRelayRejected)
		assert.ErrorContains(t, err, "call_not_found")
		assert.Equal(t, Failed, m.State())
		assert.Contains(t, effects, StopTimer{})
		require.Len(t, effects, 2)
		assert.True(t, effects[1].(Notify).Blocking)
	})

	t.Run("caller_rate_limited", func(t *testing.T) {
		m, _ := offered(t)
		_, err := m.Handle(RelayRejected{Event: protocol.EventCreateCall, Reason: "rate_limited"})
		assert.ErrorIs(t, err, domain.ErrRelayRejected)
		assert.Equal(t, Failed, m.State())
	})

	t.Run("unrelated_request", func(t *testing.T) {
		m := joined(t)
		assert.Empty(t, handle(t, m, RelayRejected{Event: protocol.EventCreateCandidate, Reason: "not_participant"}))
		assert.Empty(t, handle(t, m, RelayRejected{Event: protocol.EventCreateCall, Reason: "call_exists"}))
		assert.Equal(t, AnsweringRemote, m.State())
	})

	t.Run("without_call", func(t *testing.T) {
		m := mediaReady(t)
		assert.Empty(t, handle(t, m, RelayRejected{Event: protocol.EventGetCallData, Reason: "call_not_found"}))
		assert.Equal(t, LocalMediaReady, m.State())
	})
}

func TestCallerTimerStartsOnAnswer(t *testing.T) {
	m, effects := offered(t)
	for _, e := range effects {
		_, isTimer := e.(StartTimer)
		assert.False(t, isTimer, "caller timer started before an answer")
	}

	effects = handle(t, m, AnswerReceived{Answer: answer})
	assert.Equal(t, []Effect{StartTimer{CallID: "a1b2c3"}, SetRemote{Desc: answer}}, effects)
}

func TestStartCallRelayDown(t *testing.T) {
	m := mediaReady(t)

	effects, err := m.Handle(StartCall{CallID: "a1b2c3", RelayUp: false})
	assert.ErrorIs(t, err, domain.ErrRelayUnavailable)
	assert.Empty(t, emits(effects))
	assert.NotContains(t, effects, CreateOffer{})
	require.Len(t, effects, 1)
	assert.True(t, effects[0].(Notify).Blocking)
	assert.Equal(t, LocalMediaReady, m.State())

	_, ok := m.Session()
	assert.False(t, ok)
}

func TestIntentGating(t *testing.T) {
	m := New("me")
	assert.True(t, m.CanEnableMedia())
	assert.False(t, m.CanStartCall())

	_, err := m.Handle(StartCall{CallID: "x", RelayUp: true})
	assert.ErrorIs(t, err, domain.ErrIntentNotAllowed)
	assert.Equal(t, Idle, m.State())

	m = mediaReady(t)
	assert.True(t, m.CanStartCall())
	assert.True(t, m.CanJoinCall())

	handle(t, m, StartCall{CallID: "a1b2c3", RelayUp: true})
	assert.False(t, m.CanStartCall())
	assert.False(t, m.CanJoinCall())

	_, err = m.Handle(StartCall{CallID: "other", RelayUp: true})
	assert.ErrorIs(t, err, domain.ErrIntentNotAllowed)
	_, err = m.Handle(JoinCall{CallID: "other", RelayUp: true})
	assert.ErrorIs(t, err, domain.ErrIntentNotAllowed)
	assert.Equal(t, Offering, m.State())

	s, _ := m.Session()
	assert.Equal(t, "a1b2c3", s.CallID)

	_, err = m.Handle(MediaAcquired{})
	assert.ErrorIs(t, err, domain.ErrIntentNotAllowed)
}

func TestJoinCallRequiresID(t *testing.T) {
	m := mediaReady(t)
	_, err := m.Handle(JoinCall{CallID: "  ", RelayUp: true})
	assert.ErrorIs(t, err, domain.ErrEmptyCallID)
	assert.Equal(t, LocalMediaReady, m.State())
}

func TestMediaFailureStaysIdle(t *testing.T) {
	m := New("me")
	effects := handle(t, m, MediaFailed{Err: errors.New("permission denied")})
	require.Len(t, effects, 1)
	assert.Contains(t, effects[0].(Notify).Message, "permission denied")
	assert.Equal(t, Idle, m.State())
}

func TestHangUpIdempotent(t *testing.T) {
	m, _ := offered(t)

	effects := handle(t, m, HangUp{})
	assert.Equal(t, []Effect{StopTimer{}, ReleaseMedia{}, CloseTransport{}}, effects)
	assert.Equal(t, Closed, m.State())

	assert.Empty(t, handle(t, m, HangUp{}))
	assert.Equal(t, Closed, m.State())
	assert.False(t, m.CanHangUp())

	// absorbing
	assert.Empty(t, handle(t, m, AnswerReceived{Answer: answer}))
	assert.Empty(t, handle(t, m, TransportChanged{State: domain.ConnectionFailed}))
	_, err := m.Handle(StartCall{CallID: "again", RelayUp: true})
	assert.ErrorIs(t, err, domain.ErrIntentNotAllowed)
	assert.Equal(t, Closed, m.State())
}

func TestHangUpFromIdle(t *testing.T) {
	m := New("me")
	handle(t, m, HangUp{})
	handle(t, m, HangUp{})
	assert.Equal(t, Closed, m.State())
}

func TestTransportConnected(t *testing.T) {
	m, _ := offered(t)
	handle(t, m, AnswerReceived{Answer: answer})
	handle(t, m, RemoteApplied{Desc: answer})

	assert.Empty(t, handle(t, m, TransportChanged{State: domain.ConnectionNegotiating}))
	assert.Equal(t, []Effect{StopTimer{}}, handle(t, m, TransportChanged{State: domain.ConnectionConnected}))
	assert.Equal(t, Connected, m.State())

	// late candidates still reach the transport
	assert.Equal(t, []Effect{AddRemoteCandidate{Candidate: ice(9)}}, handle(t, m, RemoteCandidate{Candidate: ice(9)}))
}

func TestTransportFailure(t *testing.T) {
	for _, st := range []domain.ConnectionState{domain.ConnectionFailed, domain.ConnectionDisconnected} {
		m, _ := offered(t)
		_, err := m.Handle(TransportChanged{State: st})
		assert.ErrorIs(t, err, domain.ErrTransportFailed)
		assert.Equal(t, Failed, m.State())

		// only hang-up resets a failed call
		_, err = m.Handle(StartCall{CallID: "next", RelayUp: true})
		assert.ErrorIs(t, err, domain.ErrIntentNotAllowed)
		assert.True(t, m.CanHangUp())
		handle(t, m, HangUp{})
		assert.Equal(t, Closed, m.State())
	}
}

func TestNegotiationTimeout(t *testing.T) {
	m, _ := offered(t)

	assert.Empty(t, handle(t, m, NegotiationTimeout{CallID: "stale"}))
	assert.Equal(t, Offered, m.State())

	_, err := m.Handle(NegotiationTimeout{CallID: "a1b2c3"})
	assert.ErrorIs(t, err, domain.ErrNegotiationTimeout)
	assert.Equal(t, Failed, m.State())
}

func TestTimeoutIgnoredOnceConnected(t *testing.T) {
	m, _ := offered(t)
	handle(t, m, AnswerReceived{Answer: answer})
	handle(t, m, RemoteApplied{Desc: answer})
	handle(t, m, TransportChanged{State: domain.ConnectionConnected})

	assert.Empty(t, handle(t, m, NegotiationTimeout{CallID: "a1b2c3"}))
	assert.Equal(t, Connected, m.State())
}

func TestOperationFailed(t *testing.T) {
	m := mediaReady(t)
	handle(t, m, StartCall{CallID: "a1b2c3", RelayUp: true})

	cause := errors.New("ice gatherer closed")
	_, err := m.Handle(OperationFailed{Op: "create offer", Err: cause})
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, Failed, m.State())
}

func TestRelayStatus(t *testing.T) {
	m := mediaReady(t)

	effects := handle(t, m, RelayStatus{Connected: false})
	require.Len(t, effects, 1)
	assert.True(t, effects[0].(Notify).Blocking)
	assert.Equal(t, LocalMediaReady, m.State())

	assert.Equal(t, []Effect{FlushOutbox{}}, handle(t, m, RelayStatus{Connected: true}))
}

func TestInboundKindCasingNormalized(t *testing.T) {
	m := joined(t)

	wire := protocol.Outbound(offer)
	require.Equal(t, "Offer", wire.Type)
	wire.Type = "offer"
	fromRelay, err := wire.Normalize()
	require.NoError(t, err)
	assert.Equal(t, offer, fromRelay)

	assert.Equal(t, []Effect{SetRemote{Desc: offer}}, handle(t, m, CallDataReceived{Offer: fromRelay}))
}

func TestCallDataRejectsAnswerKind(t *testing.T) {
	m := joined(t)
	_, err := m.Handle(CallDataReceived{Offer: answer})
	assert.ErrorIs(t, err, domain.ErrProtocolViolation)
	assert.Equal(t, Failed, m.State())
}
