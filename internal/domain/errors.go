package domain

import "errors"

var (
	ErrEmptyCallID    = errors.New("call id empty")
	ErrCallIDTooLong  = errors.New("call id too long")
	ErrEmptySDP       = errors.New("session description empty")
	ErrUnknownSDPKind = errors.New("unknown session description kind")

	ErrProtocolViolation  = errors.New("protocol violation")
	ErrIntentNotAllowed   = errors.New("action not allowed in current state")
	ErrRelayUnavailable   = errors.New("relay not connected")
	ErrRelayRejected      = errors.New("relay rejected request")
	ErrTransportFailed    = errors.New("peer connection failed")
	ErrNegotiationTimeout = errors.New("negotiation timed out")
)
