// Package http is the peer's local control API: the user surface that drives
// one session controller.
package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/dkeye/peercall/internal/app/media"
	"github.com/dkeye/peercall/internal/app/session"
	"github.com/dkeye/peercall/internal/domain"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// Session is the part of *session.Controller the API drives.
type Session interface {
	EnableMedia(ctx context.Context) error
	StartCall(ctx context.Context) (string, error)
	JoinCall(ctx context.Context, callID string) error
	HangUp(ctx context.Context) error
	Snapshot() session.Snapshot
}

type StatsSource interface {
	Stats() []media.TrackStats
}

type JoinRequest struct {
	CallID string `json:"callId" binding:"required"`
}

type CallResponse struct {
	CallID string `json:"callId"`
}

type StateResponse struct {
	session.Snapshot
	Tracks []media.TrackStats `json:"tracks"`
}

type handlers struct {
	sess  Session
	stats StatsSource
}

// SetupRouter builds the control API. stats may be nil.
func SetupRouter(mode string, sess Session, stats StatsSource) *gin.Engine {
	if mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	if mode == "debug" {
		router.Use(gin.Logger())
	}
	router.Use(gin.Recovery())

	h := &handlers{sess: sess, stats: stats}
	api := router.Group("/api")
	api.POST("/media", h.enableMedia)
	api.POST("/call", h.startCall)
	api.POST("/join", h.joinCall)
	api.POST("/hangup", h.hangUp)
	api.GET("/state", h.state)

	return router
}

func statusOf(err error) int {
	switch {
	case errors.Is(err, domain.ErrIntentNotAllowed):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRelayUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrEmptyCallID), errors.Is(err, domain.ErrCallIDTooLong):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *handlers) fail(c *gin.Context, op string, err error) {
	log.Warn().Err(err).Str("module", "transport.http").Str("op", op).Msg("request failed")
	c.JSON(statusOf(err), gin.H{"error": err.Error(), "state": h.sess.Snapshot()})
}

func (h *handlers) enableMedia(c *gin.Context) {
	if err := h.sess.EnableMedia(c.Request.Context()); err != nil {
		h.fail(c, "media", err)
		return
	}
	c.JSON(http.StatusOK, h.sess.Snapshot())
}

func (h *handlers) startCall(c *gin.Context) {
	callID, err := h.sess.StartCall(c.Request.Context())
	if err != nil {
		h.fail(c, "call", err)
		return
	}
	c.JSON(http.StatusOK, CallResponse{CallID: callID})
}

func (h *handlers) joinCall(c *gin.Context) {
	var req JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid callId"})
		return
	}
	if err := h.sess.JoinCall(c.Request.Context(), req.CallID); err != nil {
		h.fail(c, "join", err)
		return
	}
	c.JSON(http.StatusOK, h.sess.Snapshot())
}

func (h *handlers) hangUp(c *gin.Context) {
	if err := h.sess.HangUp(c.Request.Context()); err != nil {
		h.fail(c, "hangup", err)
		return
	}
	c.JSON(http.StatusOK, h.sess.Snapshot())
}

func (h *handlers) state(c *gin.Context) {
	resp := StateResponse{Snapshot: h.sess.Snapshot(), Tracks: []media.TrackStats{}}
	if h.stats != nil {
		resp.Tracks = append(resp.Tracks, h.stats.Stats()...)
	}
	c.JSON(http.StatusOK, resp)
}
