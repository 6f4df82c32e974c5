// Package signal is the relay server side of the wire protocol: it accepts
// participant websockets and routes call descriptions and candidates
// between the caller and the callee.
package signal

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/dkeye/peercall/internal/app"
	"github.com/dkeye/peercall/internal/core"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/dkeye/peercall/internal/protocol"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ErrBackpressure = errors.New("backpressure")
	ErrConnClosed   = errors.New("connection closed")
)

type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
	SendBuffer int
}

type RelayWSController struct {
	Calls   *app.CallStore
	Conns   *app.Registry
	Policy  app.Policy
	Limiter *RateLimiter
	opts    Options
}

func NewRelayWSController(calls *app.CallStore, conns *app.Registry, policy app.Policy, limiter *RateLimiter, opts Options) *RelayWSController {
	if opts.PingPeriod <= 0 {
		opts.PingPeriod = 54 * time.Second
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 32
	}
	return &RelayWSController{
		Calls:   calls,
		Conns:   conns,
		Policy:  policy,
		Limiter: limiter,
		opts:    opts,
	}
}

type WsSignalConn struct {
	conn *websocket.Conn
	send chan core.Frame

	mu     sync.RWMutex
	closed bool
}

var _ core.SignalConnection = (*WsSignalConn)(nil)

func (c *WsSignalConn) TrySend(f core.Frame) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return ErrConnClosed
	}
	select {
	case c.send <- f:
	default:
		return ErrBackpressure
	}
	return nil
}

func (c *WsSignalConn) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	_ = c.conn.Close()
	c.mu.Unlock()
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// participantID is the userId query parameter; clients that omit it get a
// server-chosen id for the lifetime of the connection.
func participantID(c *gin.Context) domain.SessionID {
	if id := strings.TrimSpace(c.Query(protocol.UserIDParam)); id != "" {
		return domain.SessionID(id)
	}
	return domain.SessionID(uuid.NewString())
}

func (ctl *RelayWSController) HandleRelay(ctx context.Context, c *gin.Context) {
	sid := participantID(c)
	log.Info().Str("module", "signal").Str("sid", string(sid)).Msg("new WS connection")

	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Error().Err(err).Str("module", "signal").Msg("ws upgrade")
		return
	}
	if ctl.opts.ReadLimit > 0 {
		ws.SetReadLimit(ctl.opts.ReadLimit)
	}

	conn := &WsSignalConn{
		conn: ws,
		send: make(chan core.Frame, ctl.opts.SendBuffer),
	}

	ctx, cancel := context.WithCancel(ctx)
	ctl.Conns.Bind(sid, conn, cancel)
	ctl.Calls.Return(sid)

	go ctl.writePump(ctx, conn)
	go ctl.readPump(ctx, cancel, sid, conn)
}

// detach forgets a closed connection; calls whose parties are all gone are dropped.
func (ctl *RelayWSController) detach(sid domain.SessionID, conn *WsSignalConn) {
	if !ctl.Conns.Unbind(sid, conn) {
		return
	}
	ctl.Calls.Leave(sid)
}
