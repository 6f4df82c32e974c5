package app

import (
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/protocol"
)

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	DropFrame
	Disconnect
)

func (a BackpressureAction) String() string {
	switch a {
	case DropFrame:
		return "drop_frame"
	case Disconnect:
		return "disconnect"
	default:
		return "none"
	}
}

// Policy decides what happens to a participant whose send queue is full.
type Policy interface {
	OnBackpressure(sid domain.SessionID, event string) BackpressureAction
}

// SimplePolicy drops pong and error replies and disconnects on everything else.
type SimplePolicy struct{}

func (SimplePolicy) OnBackpressure(_ domain.SessionID, event string) BackpressureAction {
	if event == protocol.EventPong || event == protocol.EventError {
		return DropFrame
	}
	return Disconnect
}
