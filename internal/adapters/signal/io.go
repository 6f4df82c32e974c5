package signal

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeWait = 5 * time.Second

func (ctl *RelayWSController) writePump(ctx context.Context, c *WsSignalConn) {
	ticker := time.NewTicker(ctl.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Debug().Str("module", "signal").Msg("writePump ctx done")
			c.Close()
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "signal").Msg("writePump ping failed")
				c.Close()
				return
			}
		}
	}
}

func (ctl *RelayWSController) readPump(ctx context.Context, cancel context.CancelFunc, sid domain.SessionID, c *WsSignalConn) {
	defer func() {
		log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("readPump closing")
		cancel()
		c.Close()
		ctl.detach(sid, c)
	}()

	pongWait := ctl.opts.PingPeriod * 10 / 9
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	c.conn.SetPingHandler(func(appData string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		err := c.conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(writeWait))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Str("module", "signal").Str("sid", string(sid)).Msg("readPump read error")
			}
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		ctl.handleSignal(sid, c, data)
	}
}

func (ctl *RelayWSController) handleSignal(sid domain.SessionID, c *WsSignalConn, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("bad json")
		ctl.sendError(sid, c, "", "bad_json")
		return
	}

	switch env.Event {
	case protocol.EventCreateCall:
		ctl.handleCreateCall(sid, c, env.Data)
	case protocol.EventGetCallData:
		ctl.handleGetCallData(sid, c, env.Data)
	case protocol.EventAddAnswer:
		ctl.handleAddAnswer(sid, c, env.Data)
	case protocol.EventCreateCandidate:
		ctl.handleCreateCandidate(sid, c, env.Data)
	case protocol.EventGetOfferCandidates:
		ctl.handleGetOfferCandidates(sid, c, env.Data)
	case protocol.EventPing:
		ctl.handlePing(sid, c)
	default:
		log.Warn().Str("module", "signal").Str("event", env.Event).Msg("unknown event")
		ctl.sendError(sid, c, env.Event, "unknown_event")
	}
}

// sendEvent queues an event for c and applies the backpressure policy when
// its queue is full.
func (ctl *RelayWSController) sendEvent(sid domain.SessionID, c *WsSignalConn, event string, payload any) {
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("sendEvent marshal")
		return
	}
	err = c.TrySend(frame)
	if err == nil || !errors.Is(err, ErrBackpressure) {
		return
	}
	action := ctl.Policy.OnBackpressure(sid, event)
	log.Warn().Str("module", "signal").Str("sid", string(sid)).Str("event", event).Str("action", action.String()).Msg("backpressure")
	if action == app.Disconnect {
		ctl.Conns.Cancel(sid)
	}
}

// sendTo delivers an event to another participant if it is online.
func (ctl *RelayWSController) sendTo(sid domain.SessionID, event string, payload any) bool {
	conn, ok := ctl.Conns.Get(sid)
	if !ok {
		return false
	}
	ws, ok := conn.(*WsSignalConn)
	if !ok {
		return false
	}
	ctl.sendEvent(sid, ws, event, payload)
	return true
}

func (ctl *RelayWSController) sendError(sid domain.SessionID, c *WsSignalConn, event, reason string) {
	ctl.sendEvent(sid, c, protocol.EventError, protocol.Error{Event: event, Error: reason})
}
