package candidate

import (
	"sync"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/protocol"
	"github.com/rs/zerolog/log"
)

const DefaultHoldLimit = 256

// Sender is the part of the relay the outbox needs.
type Sender interface {
	Send(event string, payload any) error
	IsConnected() bool
}

// Outbox streams local candidates to the relay as they are discovered.
// A missing relay connection is not an error: candidates are held and
// flushed in discovery order once Flush is called on reconnect.
type Outbox struct {
	relay Sender
	limit int

	mu   sync.Mutex
	held []domain.NetworkCandidate
}

func NewOutbox(relay Sender, limit int) *Outbox {
	if limit <= 0 {
		limit = DefaultHoldLimit
	}
	return &Outbox{relay: relay, limit: limit}
}

func (o *Outbox) Forward(c domain.NetworkCandidate) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if !o.relay.IsConnected() {
		o.hold(c)
		return
	}
	// Earlier candidates go first.
	if o.flushLocked(); len(o.held) > 0 {
		o.hold(c)
		return
	}
	if err := o.send(c); err != nil {
		o.hold(c)
	}
}

// Flush resends held candidates and reports how many were delivered.
func (o *Outbox) Flush() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.flushLocked()
}

func (o *Outbox) Pending() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.held)
}

// Reset forgets candidates of a finished call.
func (o *Outbox) Reset() {
	o.mu.Lock()
	o.held = nil
	o.mu.Unlock()
}

func (o *Outbox) flushLocked() int {
	if len(o.held) == 0 || !o.relay.IsConnected() {
		return 0
	}
	sent := 0
	for _, c := range o.held {
		if err := o.send(c); err != nil {
			break
		}
		sent++
	}
	o.held = o.held[sent:]
	if len(o.held) == 0 {
		o.held = nil
	}
	if sent > 0 {
		log.Debug().Str("module", "candidate").Int("sent", sent).Int("held", len(o.held)).Msg("flushed held candidates")
	}
	return sent
}

func (o *Outbox) send(c domain.NetworkCandidate) error {
	err := o.relay.Send(protocol.EventCreateCandidate, protocol.NewCreateCandidate(c))
	if err != nil {
		log.Warn().Err(err).Str("module", "candidate").Str("call_id", c.CallID).Msg("candidate send failed, holding")
	}
	return err
}

func (o *Outbox) hold(c domain.NetworkCandidate) {
	if len(o.held) >= o.limit {
		log.Warn().Str("module", "candidate").Str("call_id", c.CallID).Int("limit", o.limit).Msg("candidate hold limit reached, skipping")
		return
	}
	o.held = append(o.held, c)
}
