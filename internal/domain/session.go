// Package domain contains call entities and the normalization rules of their wire forms.
package domain

import "strings"

const MaxCallIDLen = 64

// SessionID identifies one participant for the lifetime of the process.
type SessionID string

type Role int

const (
	RoleCaller Role = iota + 1
	RoleCallee
)

func (r Role) String() string {
	switch r {
	case RoleCaller:
		return "caller"
	case RoleCallee:
		return "callee"
	default:
		return "none"
	}
}

// CandidateKind is the tag carried by candidates produced on this side.
func (r Role) CandidateKind() SDPKind {
	if r == RoleCaller {
		return SDPOffer
	}
	return SDPAnswer
}

// CallSession is one negotiation instance. Local and Remote stay nil until applied.
type CallSession struct {
	CallID string
	Role   Role
	Local  *SessionDescription
	Remote *SessionDescription
}

func NewCallSession(callID string, role Role) (*CallSession, error) {
	callID = strings.TrimSpace(callID)
	if callID == "" {
		return nil, ErrEmptyCallID
	}
	if len(callID) > MaxCallIDLen {
		return nil, ErrCallIDTooLong
	}
	return &CallSession{CallID: callID, Role: role}, nil
}

func (s *CallSession) HasLocal() bool  { return s != nil && s.Local != nil }
func (s *CallSession) HasRemote() bool { return s != nil && s.Remote != nil }
