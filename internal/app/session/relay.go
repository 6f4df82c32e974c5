package session

import (
	"encoding/json"
	"fmt"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/negotiation"
	"github.com/dkeye/peercall/internal/protocol"
	"github.com/pion/webrtc/v4"
)

// bindRelay maps inbound relay events onto machine events. Handlers only
// decode and post, so receive order is kept per event type.
func (c *Controller) bindRelay() {
	c.relay.On(protocol.EventAnswer, func(raw json.RawMessage) {
		var d protocol.Description
		if err := json.Unmarshal(raw, &d); err != nil {
			c.malformed(protocol.EventAnswer, err)
			return
		}
		desc, err := d.Normalize()
		if err != nil {
			c.malformed(protocol.EventAnswer, err)
			return
		}
		c.post(message{ev: negotiation.AnswerReceived{Answer: desc}})
	})

	c.relay.On(protocol.EventCallData, func(raw json.RawMessage) {
		var cd protocol.CallData
		if err := json.Unmarshal(raw, &cd); err != nil {
			c.malformed(protocol.EventCallData, err)
			return
		}
		desc, err := cd.Offer.Normalize()
		if err != nil {
			c.malformed(protocol.EventCallData, err)
			return
		}
		c.post(message{ev: negotiation.CallDataReceived{Offer: desc}})
	})

	c.relay.On(protocol.EventCandidate, func(raw json.RawMessage) {
		var ci webrtc.ICECandidateInit
		if err := json.Unmarshal(raw, &ci); err != nil {
			c.logger.Warn().Err(err).Msg("bad candidate payload")
			return
		}
		c.post(message{ev: negotiation.RemoteCandidate{Candidate: ci}})
	})

	c.relay.On(protocol.EventOfferCandidates, func(raw json.RawMessage) {
		var list []webrtc.ICECandidateInit
		if err := json.Unmarshal(raw, &list); err != nil {
			c.logger.Warn().Err(err).Msg("bad offer candidates payload")
			return
		}
		c.post(message{ev: negotiation.OfferCandidates{Candidates: list}})
	})

	c.relay.On(protocol.EventError, func(raw json.RawMessage) {
		var e protocol.Error
		if err := json.Unmarshal(raw, &e); err != nil {
			c.logger.Warn().Err(err).Msg("bad error payload")
			return
		}
		c.logger.Warn().Str("event", e.Event).Str("reason", e.Error).Msg("relay rejected request")
		c.post(message{ev: negotiation.RelayRejected{Event: e.Event, Reason: e.Error}})
	})

	c.relay.On(protocol.EventConnect, func(json.RawMessage) {
		c.post(message{ev: negotiation.RelayStatus{Connected: true}})
	})

	c.relay.On(protocol.EventDisconnect, func(json.RawMessage) {
		c.post(message{ev: negotiation.RelayStatus{Connected: false}})
	})
}

// malformed descriptions cannot be applied and end the negotiation.
func (c *Controller) malformed(event string, err error) {
	c.post(message{ev: negotiation.OperationFailed{
		Op:  "decode " + event,
		Err: fmt.Errorf("%w: %v", domain.ErrProtocolViolation, err),
	}})
}
