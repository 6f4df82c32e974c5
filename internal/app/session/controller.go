// Package session runs one participant's negotiation: it owns the machine,
// executes its effects against the transport, the relay and local media,
// and maps user intents and relay events onto machine events.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dkeye/peercall/internal/candidate"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/identity"
	"github.com/dkeye/peercall/internal/negotiation"
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	ErrStopped     = errors.New("session controller stopped")
	errNoTransport = errors.New("no transport")
)

const inboxSize = 128

type Deps struct {
	Owner        domain.SessionID
	Relay        core.Relay
	Media        core.MediaSource
	NewTransport func() (core.Transport, error)
	// NewCallID defaults to identity.NewCallID.
	NewCallID func() (string, error)
	// Timeout bounds the time from starting or joining a call to a connected
	// transport. Zero disables it.
	Timeout   time.Duration
	HoldLimit int
}

type message struct {
	ev negotiation.Event
	// gen binds transport and timer events to the negotiation that produced them; 0 means unbound.
	gen   uint64
	local core.LocalMedia
	reply chan error
}

type Controller struct {
	owner        domain.SessionID
	relay        core.Relay
	media        core.MediaSource
	newTransport func() (core.Transport, error)
	newCallID    func() (string, error)
	timeout      time.Duration
	outbox       *candidate.Outbox
	logger       zerolog.Logger

	inbox   chan message
	done    chan struct{}
	notices chan Notice

	// owned by the loop goroutine
	machine    *negotiation.Machine
	gen        uint64
	transport  core.Transport
	local      core.LocalMedia
	timer      *time.Timer
	lastNotice *Notice

	mu   sync.RWMutex
	snap Snapshot
}

// New builds a controller and registers its relay handlers; call it before
// the relay connects so no inbound event is missed.
func New(d Deps) *Controller {
	if d.NewCallID == nil {
		d.NewCallID = identity.NewCallID
	}
	c := &Controller{
		owner:        d.Owner,
		relay:        d.Relay,
		media:        d.Media,
		newTransport: d.NewTransport,
		newCallID:    d.NewCallID,
		timeout:      d.Timeout,
		outbox:       candidate.NewOutbox(d.Relay, d.HoldLimit),
		logger:       log.With().Str("module", "app.session").Str("sid", string(d.Owner)).Logger(),
		inbox:        make(chan message, inboxSize),
		done:         make(chan struct{}),
		notices:      make(chan Notice, 16),
		machine:      negotiation.New(d.Owner),
		gen:          1,
	}
	c.bindRelay()
	c.publish()
	return c
}

// Run processes events until ctx is done, then hangs up.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)
	c.logger.Info().Msg("session loop started")
	for {
		select {
		case <-ctx.Done():
			c.process(message{ev: negotiation.HangUp{}})
			c.logger.Info().Msg("session loop stopped")
			return ctx.Err()
		case msg := <-c.inbox:
			c.process(msg)
		}
	}
}

// Notices delivers user-visible notices; slow readers miss them.
func (c *Controller) Notices() <-chan Notice { return c.notices }

func (c *Controller) EnableMedia(ctx context.Context) error {
	if !c.Snapshot().CanEnableMedia {
		return fmt.Errorf("%w: media already enabled", domain.ErrIntentNotAllowed)
	}
	local, err := c.media.Acquire(ctx)
	if err != nil {
		_ = c.dispatch(ctx, message{ev: negotiation.MediaFailed{Err: err}})
		return fmt.Errorf("acquire media: %w", err)
	}
	return c.dispatch(ctx, message{ev: negotiation.MediaAcquired{}, local: local})
}

// StartCall opens a call as the caller and returns the id to share.
func (c *Controller) StartCall(ctx context.Context) (string, error) {
	callID, err := c.newCallID()
	if err != nil {
		return "", err
	}
	ev := negotiation.StartCall{CallID: callID, RelayUp: c.relay.IsConnected()}
	if err := c.dispatch(ctx, message{ev: ev}); err != nil {
		return "", err
	}
	return callID, nil
}

func (c *Controller) JoinCall(ctx context.Context, callID string) error {
	ev := negotiation.JoinCall{CallID: callID, RelayUp: c.relay.IsConnected()}
	return c.dispatch(ctx, message{ev: ev})
}

// HangUp is safe in every state and idempotent.
func (c *Controller) HangUp(ctx context.Context) error {
	return c.dispatch(ctx, message{ev: negotiation.HangUp{}})
}

func (c *Controller) dispatch(ctx context.Context, msg message) error {
	msg.reply = make(chan error, 1)
	select {
	case c.inbox <- msg:
	case <-ctx.Done():
		if msg.local != nil {
			msg.local.Release()
		}
		return ctx.Err()
	case <-c.done:
		if msg.local != nil {
			msg.local.Release()
		}
		return ErrStopped
	}
	select {
	case err := <-msg.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return ErrStopped
	}
}

// post delivers an event without waiting for its outcome.
func (c *Controller) post(msg message) {
	select {
	case c.inbox <- msg:
	case <-c.done:
	}
}

func (c *Controller) process(msg message) {
	var err error
	switch {
	case msg.gen != 0 && msg.gen != c.gen:
		c.logger.Debug().Str("event", fmt.Sprintf("%T", msg.ev)).Msg("dropping event of a finished call")
	case msg.local != nil:
		if err = c.prepare(msg.local); err == nil {
			err = c.apply(msg.ev)
		}
	default:
		err = c.apply(msg.ev)
	}
	c.publish()
	if msg.reply != nil {
		msg.reply <- err
	}
}

// prepare starts a fresh negotiation after a hang-up and binds a new transport for the media.
func (c *Controller) prepare(local core.LocalMedia) error {
	if c.machine.State() == negotiation.Closed {
		c.reset()
	}
	if !c.machine.CanEnableMedia() {
		local.Release()
		return fmt.Errorf("%w: %s", domain.ErrIntentNotAllowed, c.machine.State())
	}
	t, err := c.newTransport()
	if err != nil {
		local.Release()
		return fmt.Errorf("new transport: %w", err)
	}
	gen := c.gen
	t.OnICECandidate(func(ci webrtc.ICECandidateInit) {
		c.post(message{ev: negotiation.LocalCandidate{Candidate: ci}, gen: gen})
	})
	t.OnConnectionState(func(s domain.ConnectionState) {
		c.post(message{ev: negotiation.TransportChanged{State: s}, gen: gen})
	})
	c.transport = t
	c.local = local
	return nil
}

func (c *Controller) reset() {
	c.gen++
	c.machine = negotiation.Restart(c.owner)
	c.outbox.Reset()
	c.lastNotice = nil
	c.logger.Info().Uint64("gen", c.gen).Msg("new negotiation")
}

// apply feeds ev and every follow-up event produced by its effects to the
// machine before returning. The first error of the turn is reported.
func (c *Controller) apply(ev negotiation.Event) error {
	var first error
	queue := []negotiation.Event{ev}
	for len(queue) > 0 {
		next := queue[0]
		queue = queue[1:]

		before := c.machine.State()
		effects, err := c.machine.Handle(next)
		if err != nil {
			c.logger.Warn().Err(err).Str("event", fmt.Sprintf("%T", next)).Msg("event rejected")
			if first == nil {
				first = err
			}
		}
		if after := c.machine.State(); after != before {
			c.logger.Info().Str("from", before.String()).Str("to", after.String()).Msg("state changed")
		}
		for _, eff := range effects {
			if follow := c.execute(eff); follow != nil {
				queue = append(queue, follow)
			}
		}
	}
	return first
}
