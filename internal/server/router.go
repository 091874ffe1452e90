// Package server exposes the sync engine's status, a guarded run trigger, and
// a server-sent event stream of run progress.
package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/notesync/internal/syncer"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	operatorContextKey       = "notesync_operator"
	defaultHeartbeatInterval = 15 * time.Second
)

var (
	errMissingRunner        = errors.New("run controller dependency required")
	errMissingEvents        = errors.New("run dispatcher dependency required")
	errInvalidAuthorization = errors.New("authorization header missing or invalid")
)

// RunController is the orchestrator surface the server drives.
type RunController interface {
	Run(ctx context.Context, request syncer.Request) (syncer.RunReport, error)
	Running() bool
	LastReport() (syncer.RunReport, bool)
}

// TokenValidator validates operator bearer tokens and returns their subject.
type TokenValidator interface {
	ValidateToken(token string) (string, error)
}

// Dependencies wires the HTTP handler. Without Tokens the run trigger and
// event stream are not registered.
type Dependencies struct {
	Runner            RunController
	Tokens            TokenValidator
	Events            *RunDispatcher
	DefaultRequest    syncer.Request
	AllowedOrigins    []string
	HeartbeatInterval time.Duration
	Logger            *zap.Logger
}

// NewHTTPHandler builds the gin router.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Runner == nil {
		return nil, errMissingRunner
	}
	if deps.Events == nil {
		return nil, errMissingEvents
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	router.Use(gin.Recovery())
	if len(deps.AllowedOrigins) > 0 {
		router.Use(corsMiddleware(deps.AllowedOrigins))
	}

	handler := &httpHandler{
		runner:         deps.Runner,
		tokens:         deps.Tokens,
		events:         deps.Events,
		defaultRequest: deps.DefaultRequest,
		heartbeat:      heartbeat,
		logger:         logger,
	}

	router.GET("/healthz", handler.handleHealth)
	router.GET("/status", handler.handleStatus)

	if deps.Tokens != nil {
		protected := router.Group("/")
		protected.Use(handler.authorizeRequest)
		protected.POST("/runs", handler.handleTriggerRun)
		protected.GET("/runs/stream", handler.handleRunStream)
	} else {
		logger.Warn("operator secret not configured; run trigger disabled")
	}

	return router, nil
}

// corsMiddleware admits only the listed origins. Without any, no CORS headers
// are sent and browsers keep the status server same-origin.
func corsMiddleware(allowedOrigins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders:     []string{"Authorization", "Content-Type", "Last-Event-ID"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

type httpHandler struct {
	runner         RunController
	tokens         TokenValidator
	events         *RunDispatcher
	defaultRequest syncer.Request
	heartbeat      time.Duration
	logger         *zap.Logger
}

type statusPayload struct {
	Running    bool              `json:"running"`
	LastReport *syncer.RunReport `json:"lastReport"`
}

type runRequestPayload struct {
	Full      *bool  `json:"full"`
	Direction string `json:"direction"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *httpHandler) handleStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.status())
}

func (h *httpHandler) status() statusPayload {
	payload := statusPayload{Running: h.runner.Running()}
	if report, ok := h.runner.LastReport(); ok {
		payload.LastReport = &report
	}
	return payload
}

// handleTriggerRun runs a sync and responds with its report. The run keeps
// going if the client disconnects.
func (h *httpHandler) handleTriggerRun(c *gin.Context) {
	request := h.defaultRequest
	var payload runRequestPayload
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&payload); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
			return
		}
	}
	if payload.Full != nil {
		request.Full = *payload.Full
	}
	if strings.TrimSpace(payload.Direction) != "" {
		direction, err := syncer.ParseDirection(payload.Direction)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_direction"})
			return
		}
		request.Direction = direction
	}

	h.logger.Info("run triggered",
		zap.String("operator", c.GetString(operatorContextKey)),
		zap.String("direction", string(request.Direction)),
		zap.Bool("full", request.Full),
	)
	report, err := h.runner.Run(context.WithoutCancel(c.Request.Context()), request)
	if errors.Is(err, syncer.ErrRunInProgress) {
		c.JSON(http.StatusConflict, gin.H{"error": "run_in_progress"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "run_failed", "report": report})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *httpHandler) handleRunStream(c *gin.Context) {
	ctx := c.Request.Context()
	events, cleanup := h.events.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
	c.SSEvent(eventStatus, h.status())
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	c.Stream(func(io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		case event := <-events:
			c.SSEvent(event.Type, event.Report)
			return true
		case tick := <-ticker.C:
			c.SSEvent(eventHeartbeat, gin.H{"timestamp": tick.UTC()})
			return true
		}
	})
}

// authorizeRequest accepts a bearer header, or an access_token query
// parameter for EventSource clients that cannot set headers.
func (h *httpHandler) authorizeRequest(c *gin.Context) {
	token := ""
	header := c.GetHeader("Authorization")
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	} else if header == "" {
		token = strings.TrimSpace(c.Query("access_token"))
	}
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": errInvalidAuthorization.Error()})
		return
	}
	subject, err := h.tokens.ValidateToken(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(operatorContextKey, subject)
	c.Next()
}
