// Package app holds the relay server's in-memory state: the calls being
// negotiated and the connections of their participants.
package app

import (
	"errors"
	"sync"
	"time"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/protocol"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog/log"
)

var (
	ErrCallExists      = errors.New("call already exists")
	ErrCallNotFound    = errors.New("call not found")
	ErrCallTaken       = errors.New("call already has a callee")
	ErrNotParticipant  = errors.New("not a participant of the call")
	ErrAnswerSubmitted = errors.New("answer already submitted")
)

// Call is what the relay keeps for one callId.
type Call struct {
	ID               string
	Caller           domain.SessionID
	Callee           domain.SessionID
	Offer            protocol.Description
	Answer           *protocol.Description
	OfferCandidates  []webrtc.ICECandidateInit
	AnswerCandidates []webrtc.ICECandidateInit
	CreatedAt        time.Time

	callerGone bool
	calleeGone bool
}

func (c *Call) clone() Call {
	out := *c
	out.OfferCandidates = append([]webrtc.ICECandidateInit(nil), c.OfferCandidates...)
	out.AnswerCandidates = append([]webrtc.ICECandidateInit(nil), c.AnswerCandidates...)
	if c.Answer != nil {
		a := *c.Answer
		out.Answer = &a
	}
	return out
}

// peerOf returns the other participant, empty when not yet known.
func (c *Call) peerOf(sid domain.SessionID) domain.SessionID {
	if sid == c.Caller {
		return c.Callee
	}
	return c.Caller
}

type CallStore struct {
	mu    sync.RWMutex
	calls map[string]*Call
}

func NewCallStore() *CallStore {
	return &CallStore{calls: make(map[string]*Call)}
}

func (s *CallStore) Create(callID string, caller domain.SessionID, offer protocol.Description) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.calls[callID]; ok {
		return ErrCallExists
	}
	s.calls[callID] = &Call{ID: callID, Caller: caller, Offer: offer, CreatedAt: time.Now()}
	log.Info().Str("module", "app.calls").Str("call_id", callID).Str("sid", string(caller)).Msg("call created")
	return nil
}

func (s *CallStore) Get(callID string) (Call, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[callID]
	if !ok {
		return Call{}, false
	}
	return c.clone(), true
}

// Join records callee as the answering side. Joining again as the same
// callee is allowed so a reconnecting peer can fetch the offer.
func (s *CallStore) Join(callID string, callee domain.SessionID) (Call, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return Call{}, ErrCallNotFound
	}
	switch {
	case c.Caller == callee:
		return Call{}, ErrNotParticipant
	case c.Callee != "" && c.Callee != callee:
		return Call{}, ErrCallTaken
	}
	c.Callee = callee
	c.calleeGone = false
	log.Info().Str("module", "app.calls").Str("call_id", callID).Str("sid", string(callee)).Msg("callee joined")
	return c.clone(), nil
}

// SetAnswer stores the callee's answer and returns the caller to deliver it to.
func (s *CallStore) SetAnswer(callID string, from domain.SessionID, answer protocol.Description) (domain.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return "", ErrCallNotFound
	}
	if c.Callee != from {
		return "", ErrNotParticipant
	}
	if c.Answer != nil {
		return "", ErrAnswerSubmitted
	}
	a := answer
	c.Answer = &a
	return c.Caller, nil
}

// AddCandidate stores a candidate under the side named by kind and returns
// the participant it should be forwarded to, if one is known.
func (s *CallStore) AddCandidate(callID string, from domain.SessionID, kind domain.SDPKind, ci webrtc.ICECandidateInit) (domain.SessionID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.calls[callID]
	if !ok {
		return "", ErrCallNotFound
	}
	switch {
	case kind == domain.SDPOffer && from == c.Caller:
		c.OfferCandidates = append(c.OfferCandidates, ci)
	case kind == domain.SDPAnswer && from == c.Callee && from != "":
		c.AnswerCandidates = append(c.AnswerCandidates, ci)
	default:
		return "", ErrNotParticipant
	}
	return c.peerOf(from), nil
}

func (s *CallStore) OfferCandidates(callID string, from domain.SessionID) ([]webrtc.ICECandidateInit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.calls[callID]
	if !ok {
		return nil, ErrCallNotFound
	}
	if c.Callee != from {
		return nil, ErrNotParticipant
	}
	return append([]webrtc.ICECandidateInit{}, c.OfferCandidates...), nil
}

// Leave marks sid as gone from its calls and drops calls that no participant
// is attached to anymore. It returns the dropped call ids.
func (s *CallStore) Leave(sid domain.SessionID) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var dropped []string
	for id, c := range s.calls {
		switch sid {
		case c.Caller:
			c.callerGone = true
		case c.Callee:
			c.calleeGone = true
		default:
			continue
		}
		if c.callerGone && (c.Callee == "" || c.calleeGone) {
			delete(s.calls, id)
			dropped = append(dropped, id)
			log.Info().Str("module", "app.calls").Str("call_id", id).Msg("call dropped")
		}
	}
	return dropped
}

// Return marks sid as attached again after a reconnect.
func (s *CallStore) Return(sid domain.SessionID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.calls {
		if c.Caller == sid {
			c.callerGone = false
		}
		if c.Callee == sid {
			c.calleeGone = false
		}
	}
}

func (s *CallStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.calls)
}
