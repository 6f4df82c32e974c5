package session

import (
	"time"

	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/negotiation"
)

type Notice struct {
	Message  string    `json:"message"`
	Blocking bool      `json:"blocking"`
	At       time.Time `json:"at"`
}

// Snapshot is the user-facing view of the session, including which intents are enabled.
type Snapshot struct {
	SessionID      domain.SessionID `json:"session_id"`
	State          string           `json:"state"`
	CallID         string           `json:"call_id,omitempty"`
	Role           string           `json:"role,omitempty"`
	RelayConnected bool             `json:"relay_connected"`
	CanEnableMedia bool             `json:"can_enable_media"`
	CanStartCall   bool             `json:"can_start_call"`
	CanJoinCall    bool             `json:"can_join_call"`
	CanHangUp      bool             `json:"can_hang_up"`
	Error          string           `json:"error,omitempty"`
	LastNotice     *Notice          `json:"last_notice,omitempty"`
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	s := c.snap
	c.mu.RUnlock()
	s.RelayConnected = c.relay.IsConnected()
	return s
}

// publish refreshes the snapshot from loop-owned state.
func (c *Controller) publish() {
	m := c.machine
	st := m.State()
	s := Snapshot{
		SessionID:      c.owner,
		State:          st.String(),
		CanEnableMedia: m.CanEnableMedia() || st == negotiation.Closed,
		CanStartCall:   m.CanStartCall(),
		CanJoinCall:    m.CanJoinCall(),
		CanHangUp:      m.CanHangUp(),
	}
	if cs, ok := m.Session(); ok {
		s.CallID = cs.CallID
		s.Role = cs.Role.String()
	}
	if err := m.Err(); err != nil {
		s.Error = err.Error()
	}
	if c.lastNotice != nil {
		n := *c.lastNotice
		s.LastNotice = &n
	}

	c.mu.Lock()
	c.snap = s
	c.mu.Unlock()
}

func (c *Controller) notify(msg string, blocking bool) {
	n := Notice{Message: msg, Blocking: blocking, At: time.Now()}
	c.lastNotice = &n
	if blocking {
		c.logger.Warn().Str("notice", msg).Msg("user notice")
	} else {
		c.logger.Info().Str("notice", msg).Msg("user notice")
	}
	select {
	case c.notices <- n:
	default:
		c.logger.Debug().Msg("notice dropped, no reader")
	}
}
