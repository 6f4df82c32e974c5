// Package negotiation implements the offer/answer lifecycle as a pure
// transition function: Handle takes an event and returns the effects the
// caller must execute. The machine performs no I/O.
package negotiation

type State int

const (
	Idle State = iota
	LocalMediaReady
	Offering
	Offered
	AnsweringRemote
	Connected
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case LocalMediaReady:
		return "local_media_ready"
	case Offering:
		return "offering"
	case Offered:
		return "offered"
	case AnsweringRemote:
		return "answering_remote"
	case Connected:
		return "connected"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Negotiating reports whether descriptions are still being exchanged.
func (s State) Negotiating() bool {
	return s == Offering || s == Offered || s == AnsweringRemote
}

// Done reports whether only a hang-up is accepted.
func (s State) Done() bool {
	return s == Closed || s == Failed
}
