// Package api exposes the session controller to a UI over HTTP and a
// websocket snapshot stream.
package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/LingByte/LingMeet/pkg/controller"
	apperrors "github.com/LingByte/LingMeet/pkg/errors"
	"github.com/LingByte/LingMeet/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Session is the part of the controller the API drives.
type Session interface {
	Start() error
	Skip() error
	Disconnect() error
	ToggleCamera() (bool, error)
	ToggleMic() (bool, error)
	SendMessage(text string) error
	Snapshot() controller.Snapshot
	Subscribe() (<-chan controller.Snapshot, func())
}

type Handlers struct {
	session  Session
	gatherer prometheus.Gatherer
	health   func(ctx context.Context) error
	log      *zap.Logger
}

type Option func(*Handlers)

// WithGatherer serves /metrics from g instead of the default registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(h *Handlers) { h.gatherer = g }
}

// WithHealthCheck makes /health report the result of check.
func WithHealthCheck(check func(ctx context.Context) error) Option {
	return func(h *Handlers) { h.health = check }
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Handlers) { h.log = l }
}

func NewHandlers(s Session, opts ...Option) *Handlers {
	h := &Handlers{
		session:  s,
		gatherer: prometheus.DefaultGatherer,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logger.Named("api")
	}
	return h
}

// NewRouter builds a gin engine with every route registered.
func NewRouter(h *Handlers) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.RedirectTrailingSlash = false
	r.RedirectFixedPath = false
	h.Register(r)
	return r
}

func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	r.GET("/ws", h.Websocket)

	api := r.Group("/api")
	{
		api.GET("/state", h.State)
		api.POST("/start", h.Start)
		api.POST("/skip", h.Skip)
		api.POST("/disconnect", h.Disconnect)
		api.POST("/camera/toggle", h.ToggleCamera)
		api.POST("/mic/toggle", h.ToggleMic)
		api.GET("/messages", h.Messages)
		api.POST("/messages", h.SendMessage)
	}
}

// renderError writes err as {code, message} with the status its code maps to.
func renderError(c *gin.Context, err error) {
	appErr, ok := apperrors.AsAppError(err)
	if !ok {
		code := apperrors.ErrCodeInternal
		status := http.StatusInternalServerError
		if errors.Is(err, controller.ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"code": code, "message": err.Error()})
		return
	}
	body := gin.H{"code": appErr.Code, "message": appErr.Message}
	if len(appErr.Details) > 0 {
		body["details"] = appErr.Details
	}
	c.JSON(appErr.HTTPStatus, body)
}

func (h *Handlers) Health(c *gin.Context) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 3*time.Second)
		defer cancel()
		if err := h.health(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handlers) State(c *gin.Context) {
	c.JSON(http.StatusOK, h.session.Snapshot())
}

// transition runs a state-changing call and answers with the new snapshot.
func (h *Handlers) transition(c *gin.Context, name string, fn func() error) {
	if err := fn(); err != nil {
		h.log.Warn("command failed", zap.String("command", name), zap.Error(err))
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, h.session.Snapshot())
}

func (h *Handlers) Start(c *gin.Context) {
	h.transition(c, "start", h.session.Start)
}

func (h *Handlers) Skip(c *gin.Context) {
	h.transition(c, "skip", h.session.Skip)
}

func (h *Handlers) Disconnect(c *gin.Context) {
	h.transition(c, "disconnect", h.session.Disconnect)
}

func (h *Handlers) ToggleCamera(c *gin.Context) {
	h.toggle(c, h.session.ToggleCamera)
}

func (h *Handlers) ToggleMic(c *gin.Context) {
	h.toggle(c, h.session.ToggleMic)
}

func (h *Handlers) toggle(c *gin.Context, fn func() (bool, error)) {
	on, err := fn()
	if err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"enabled": on})
}

func (h *Handlers) Messages(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"messages": h.session.Snapshot().Messages})
}

type sendMessageRequest struct {
	Text string `json:"text" binding:"required"`
}

func (h *Handlers) SendMessage(c *gin.Context) {
	var req sendMessageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		renderError(c, apperrors.NewAppError(apperrors.ErrCodeInvalidInput, err.Error()))
		return
	}
	if err := h.session.SendMessage(req.Text); err != nil {
		renderError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"messages": h.session.Snapshot().Messages})
}
