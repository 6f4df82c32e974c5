package session

import (
	"time"

	"github.com/dkeye/peercall/internal/negotiation"
	"github.com/dkeye/peercall/internal/protocol"
)

// execute performs one effect and returns the event reporting its outcome, if any.
func (c *Controller) execute(eff negotiation.Effect) negotiation.Event {
	switch e := eff.(type) {
	case negotiation.AttachMedia:
		if c.transport == nil || c.local == nil {
			return negotiation.OperationFailed{Op: "attach media", Err: errNoTransport}
		}
		if err := c.transport.AttachMedia(c.local); err != nil {
			return negotiation.OperationFailed{Op: "attach media", Err: err}
		}

	case negotiation.CreateOffer:
		if c.transport == nil {
			return negotiation.OperationFailed{Op: "create offer", Err: errNoTransport}
		}
		d, err := c.transport.CreateOffer()
		if err != nil {
			return negotiation.OperationFailed{Op: "create offer", Err: err}
		}
		return negotiation.OfferCreated{Desc: d}

	case negotiation.CreateAnswer:
		if c.transport == nil {
			return negotiation.OperationFailed{Op: "create answer", Err: errNoTransport}
		}
		d, err := c.transport.CreateAnswer()
		if err != nil {
			return negotiation.OperationFailed{Op: "create answer", Err: err}
		}
		return negotiation.AnswerCreated{Desc: d}

	case negotiation.SetLocal:
		if c.transport == nil {
			return negotiation.OperationFailed{Op: "set local description", Err: errNoTransport}
		}
		if err := c.transport.SetLocalDescription(e.Desc); err != nil {
			return negotiation.OperationFailed{Op: "set local description", Err: err}
		}
		return negotiation.LocalApplied{Desc: e.Desc}

	case negotiation.SetRemote:
		if c.transport == nil {
			return negotiation.OperationFailed{Op: "set remote description", Err: errNoTransport}
		}
		if err := c.transport.SetRemoteDescription(e.Desc); err != nil {
			return negotiation.OperationFailed{Op: "set remote description", Err: err}
		}
		return negotiation.RemoteApplied{Desc: e.Desc}

	case negotiation.AddRemoteCandidate:
		if c.transport == nil {
			return nil
		}
		// one bad candidate does not end the call
		if err := c.transport.AddICECandidate(e.Candidate); err != nil {
			c.logger.Warn().Err(err).Str("candidate", e.Candidate.Candidate).Msg("add remote candidate")
		}

	case negotiation.SendCandidate:
		c.outbox.Forward(e.Candidate)

	case negotiation.FlushOutbox:
		c.outbox.Flush()

	case negotiation.Emit:
		c.emit(e)

	case negotiation.StartTimer:
		c.startTimer(e.CallID)

	case negotiation.StopTimer:
		c.stopTimer()

	case negotiation.ReleaseMedia:
		if c.local != nil {
			c.local.Release()
			c.local = nil
		}

	case negotiation.CloseTransport:
		if c.transport != nil {
			if err := c.transport.Close(); err != nil {
				c.logger.Warn().Err(err).Msg("close transport")
			}
			c.transport = nil
		}

	case negotiation.Notify:
		c.notify(e.Message, e.Blocking)
	}
	return nil
}

func (c *Controller) emit(e negotiation.Emit) {
	if !c.relay.IsConnected() {
		c.logger.Warn().Str("event", e.Event).Msg("relay not connected, skipping send")
		if e.Required {
			c.notify(requiredNotice(e.Event, "relay not connected"), true)
		}
		return
	}
	if err := c.relay.Send(e.Event, e.Payload); err != nil {
		c.logger.Warn().Err(err).Str("event", e.Event).Msg("relay send failed")
		if e.Required {
			c.notify(requiredNotice(e.Event, err.Error()), true)
		}
		return
	}
	c.logger.Debug().Str("event", e.Event).Msg("sent")
}

func requiredNotice(event, reason string) string {
	if event == protocol.EventAddAnswer {
		return "Error answering call: " + reason
	}
	return "Error sending " + event + ": " + reason
}

func (c *Controller) startTimer(callID string) {
	c.stopTimer()
	if c.timeout <= 0 {
		return
	}
	gen := c.gen
	c.timer = time.AfterFunc(c.timeout, func() {
		c.post(message{ev: negotiation.NegotiationTimeout{CallID: callID}, gen: gen})
	})
}

func (c *Controller) stopTimer() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
