// Package relay is the websocket client side of the relay protocol.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrNotConnected = errors.New("relay not connected")
)

const writeWait = 5 * time.Second

type Options struct {
	URL        string
	UserID     domain.SessionID
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
	Dialer     *websocket.Dialer
}

// Client implements core.Relay over a single websocket connection.
// Reconnection is left to the caller.
type Client struct {
	opts Options

	hmu      sync.RWMutex
	handlers map[string][]func(json.RawMessage)

	mu        sync.RWMutex
	conn      *websocket.Conn
	send      chan core.Frame
	closed    bool
	connected atomic.Bool
}

var _ core.Relay = (*Client)(nil)

func NewClient(opts Options) *Client {
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 64
	}
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.Dialer == nil {
		opts.Dialer = websocket.DefaultDialer
	}
	return &Client{
		opts:     opts,
		handlers: make(map[string][]func(json.RawMessage)),
	}
}

// On registers handler for event. Handlers run on the read goroutine.
func (c *Client) On(event string, handler func(json.RawMessage)) {
	c.hmu.Lock()
	defer c.hmu.Unlock()
	c.handlers[event] = append(c.handlers[event], handler)
}

func (c *Client) IsConnected() bool { return c.connected.Load() }

// Connect dials the relay and starts the pumps. The connection lives until
// ctx is done, the peer hangs up or Close is called.
func (c *Client) Connect(ctx context.Context) error {
	target, err := c.dialURL()
	if err != nil {
		return err
	}

	ws, _, err := c.opts.Dialer.DialContext(ctx, target, nil)
	if err != nil {
		return fmt.Errorf("relay dial: %w", err)
	}
	if c.opts.ReadLimit > 0 {
		ws.SetReadLimit(c.opts.ReadLimit)
	}

	c.mu.Lock()
	c.conn = ws
	c.send = make(chan core.Frame, c.opts.SendBuffer)
	c.closed = false
	send := c.send
	c.mu.Unlock()

	c.connected.Store(true)
	log.Info().Str("module", "relay").Str("sid", string(c.opts.UserID)).Str("url", c.opts.URL).Msg("relay connected")
	c.dispatch(protocol.EventConnect, nil)

	ctx, cancel := context.WithCancel(ctx)
	go c.writePump(ctx, ws, send)
	go func() {
		defer cancel()
		c.readPump(ws)
	}()
	return nil
}

func (c *Client) dialURL() (string, error) {
	u, err := url.Parse(c.opts.URL)
	if err != nil {
		return "", fmt.Errorf("relay url: %w", err)
	}
	q := u.Query()
	q.Set(protocol.UserIDParam, string(c.opts.UserID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Send encodes payload and queues it for the writer.
func (c *Client) Send(event string, payload any) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	frame, err := protocol.Encode(event, payload)
	if err != nil {
		return err
	}
	return c.TrySend(frame)
}

func (c *Client) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed || c.send == nil {
		return ErrNotConnected
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed || c.conn == nil {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()

	if c.connected.Swap(false) {
		log.Info().Str("module", "relay").Str("sid", string(c.opts.UserID)).Msg("relay disconnected")
		c.dispatch(protocol.EventDisconnect, nil)
	}
}

func (c *Client) writePump(ctx context.Context, ws *websocket.Conn, send <-chan core.Frame) {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.Close()
			return
		case data, ok := <-send:
			if !ok {
				_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
				return
			}
			if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump set deadline")
				c.Close()
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "relay").Msg("writePump write error")
				c.Close()
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				log.Warn().Err(err).Str("module", "relay").Msg("writePump ping failed")
				c.Close()
				return
			}
		}
	}
}

func (c *Client) readPump(ws *websocket.Conn) {
	defer c.Close()

	pongWait := c.opts.PingPeriod * 10 / 9
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Error().Err(err).Str("module", "relay").Msg("readPump read error")
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(pongWait))

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			log.Error().Err(err).Str("module", "relay").Msg("bad json")
			continue
		}
		c.dispatch(env.Event, env.Data)
	}
}

func (c *Client) dispatch(event string, data json.RawMessage) {
	c.hmu.RLock()
	hs := c.handlers[event]
	c.hmu.RUnlock()

	if len(hs) == 0 {
		if event == protocol.EventError {
			log.Warn().Str("module", "relay").Str("data", string(data)).Msg("relay error")
		} else if event != protocol.EventConnect && event != protocol.EventDisconnect {
			log.Debug().Str("module", "relay").Str("event", event).Msg("unhandled event")
		}
		return
	}
	for _, h := range hs {
		h(data)
	}
}
