package signal

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/protocol"
	"github.com/rs/zerolog/log"
)

func errorReason(err error) string {
	switch {
	case errors.Is(err, app.ErrCallExists):
		return "call_exists"
	case errors.Is(err, app.ErrCallNotFound):
		return "call_not_found"
	case errors.Is(err, app.ErrCallTaken):
		return "call_taken"
	case errors.Is(err, app.ErrNotParticipant):
		return "not_participant"
	case errors.Is(err, app.ErrAnswerSubmitted):
		return "answer_submitted"
	default:
		return "internal"
	}
}

func decode(data json.RawMessage, v any) bool {
	return len(data) > 0 && json.Unmarshal(data, v) == nil
}

func validCallID(id string) bool {
	id = strings.TrimSpace(id)
	return id != "" && len(id) <= domain.MaxCallIDLen
}

func (ctl *RelayWSController) handleCreateCall(sid domain.SessionID, c *WsSignalConn, data json.RawMessage) {
	var p protocol.CreateCall
	if !decode(data, &p) || !validCallID(p.CallID) || p.Offer.SDP == "" {
		log.Error().Str("module", "signal").Str("sid", string(sid)).Msg("bad createCall payload")
		ctl.sendError(sid, c, protocol.EventCreateCall, "bad_payload")
		return
	}
	if kind, err := domain.ParseSDPKind(p.Offer.Type); err != nil || kind != domain.SDPOffer {
		ctl.sendError(sid, c, protocol.EventCreateCall, "bad_payload")
		return
	}
	if ctl.Limiter != nil && !ctl.Limiter.Allow(sid) {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Msg("createCall rate limited")
		ctl.sendError(sid, c, protocol.EventCreateCall, "rate_limited")
		return
	}
	if err := ctl.Calls.Create(p.CallID, sid, p.Offer); err != nil {
		ctl.sendError(sid, c, protocol.EventCreateCall, errorReason(err))
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("call_id", p.CallID).Msg("createCall")
}

func (ctl *RelayWSController) handleGetCallData(sid domain.SessionID, c *WsSignalConn, data json.RawMessage) {
	var p protocol.CallRef
	if !decode(data, &p) || !validCallID(p.CallID) {
		ctl.sendError(sid, c, protocol.EventGetCallData, "bad_payload")
		return
	}
	call, err := ctl.Calls.Join(p.CallID, sid)
	if err != nil {
		log.Warn().Err(err).Str("module", "signal").Str("sid", string(sid)).Str("call_id", p.CallID).Msg("getCallData")
		ctl.sendError(sid, c, protocol.EventGetCallData, errorReason(err))
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("call_id", p.CallID).Msg("getCallData")
	ctl.sendEvent(sid, c, protocol.EventCallData, protocol.CallData{Offer: call.Offer})
}

func (ctl *RelayWSController) handleAddAnswer(sid domain.SessionID, c *WsSignalConn, data json.RawMessage) {
	var p protocol.AddAnswer
	if !decode(data, &p) || !validCallID(p.CallID) || p.Answer.SDP == "" {
		ctl.sendError(sid, c, protocol.EventAddAnswer, "bad_payload")
		return
	}
	if kind, err := domain.ParseSDPKind(p.Answer.Type); err != nil || kind != domain.SDPAnswer {
		ctl.sendError(sid, c, protocol.EventAddAnswer, "bad_payload")
		return
	}
	caller, err := ctl.Calls.SetAnswer(p.CallID, sid, p.Answer)
	if err != nil {
		ctl.sendError(sid, c, protocol.EventAddAnswer, errorReason(err))
		return
	}
	log.Info().Str("module", "signal").Str("sid", string(sid)).Str("call_id", p.CallID).Msg("addAnswer")
	if !ctl.sendTo(caller, protocol.EventAnswer, p.Answer) {
		log.Warn().Str("module", "signal").Str("sid", string(caller)).Str("call_id", p.CallID).Msg("caller offline, answer stored")
	}
}

func (ctl *RelayWSController) handleCreateCandidate(sid domain.SessionID, c *WsSignalConn, data json.RawMessage) {
	var p protocol.CreateCandidate
	if !decode(data, &p) || !validCallID(p.CallID) {
		ctl.sendError(sid, c, protocol.EventCreateCandidate, "bad_payload")
		return
	}
	kind, err := domain.ParseSDPKind(p.Type)
	if err != nil {
		ctl.sendError(sid, c, protocol.EventCreateCandidate, "bad_payload")
		return
	}
	if p.UserID != "" && domain.SessionID(p.UserID) != sid {
		log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("user_id", p.UserID).Msg("candidate userId mismatch")
	}
	peer, err := ctl.Calls.AddCandidate(p.CallID, sid, kind, p.Candidate)
	if err != nil {
		ctl.sendError(sid, c, protocol.EventCreateCandidate, errorReason(err))
		return
	}
	log.Debug().Str("module", "signal").Str("sid", string(sid)).Str("call_id", p.CallID).Str("type", string(kind)).Msg("createCandidate")
	// offer candidates reach a callee that joins later through getOfferCandidates
	if peer != "" {
		ctl.sendTo(peer, protocol.EventCandidate, p.Candidate)
	}
}

func (ctl *RelayWSController) handleGetOfferCandidates(sid domain.SessionID, c *WsSignalConn, data json.RawMessage) {
	var p protocol.CallRef
	if !decode(data, &p) || !validCallID(p.CallID) {
		ctl.sendError(sid, c, protocol.EventGetOfferCandidates, "bad_payload")
		return
	}
	cands, err := ctl.Calls.OfferCandidates(p.CallID, sid)
	if err != nil {
		ctl.sendError(sid, c, protocol.EventGetOfferCandidates, errorReason(err))
		return
	}
	ctl.sendEvent(sid, c, protocol.EventOfferCandidates, cands)
}

func (ctl *RelayWSController) handlePing(sid domain.SessionID, c *WsSignalConn) {
	ctl.sendEvent(sid, c, protocol.EventPong, nil)
}
