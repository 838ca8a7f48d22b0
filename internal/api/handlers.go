package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/gin-gonic/gin"

	"codesage/internal/blocks"
	"codesage/internal/models"
	"codesage/internal/service/assistant"
	"codesage/internal/service/session"
	"codesage/internal/worker"
)

const busyMessage = "server is busy, please retry"

// Handler wires HTTP routes to the assistant service. Every request that
// touches sessions runs through the serial queue.
type Handler struct {
	assistant *assistant.Service
	store     *session.Store
	queue     *worker.Queue
	logger    *slog.Logger
}

// NewHandler constructs a Handler instance.
func NewHandler(service *assistant.Service, queue *worker.Queue, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		assistant: service,
		store:     service.Store(),
		queue:     queue,
		logger:    logger,
	}
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.health)
	api := router.Group("/api")
	api.GET("/sessions", h.listSessions)
	api.POST("/sessions", h.createSession)
	api.GET("/sessions/:session_id", h.loadSession)
	api.PATCH("/sessions/:session_id", h.renameSession)
	api.DELETE("/sessions/:session_id", h.deleteSession)
	api.DELETE("/sessions/:session_id/messages", h.clearSession)
	api.DELETE("/sessions/:session_id/messages/:message_id", h.deleteMessage)
	api.POST("/chat", h.chat)
	api.POST("/split", h.split)
}

type titleRequest struct {
	Title string `json:"title"`
}

type chatRequest struct {
	Content string `json:"content"`
}

type splitRequest struct {
	Text string `json:"text"`
}

type messageView struct {
	models.Message
	Segments []blocks.Segment `json:"segments"`
}

func newMessageView(m models.Message) messageView {
	return messageView{Message: m, Segments: blocks.Split(m.Content)}
}

func sessionView(se models.Session) gin.H {
	return gin.H{
		"id":            se.ID,
		"title":         se.Title,
		"created_at":    se.CreatedAt,
		"last_updated":  se.LastUpdated,
		"message_count": len(se.Messages),
	}
}

func (h *Handler) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listSessions(c *gin.Context) {
	var (
		list    []models.SessionSummary
		current string
	)
	if !h.do(c, func(ctx context.Context) error {
		list = h.store.List()
		current, _ = h.store.Current()
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sessions":           list,
		"current_session_id": current,
	})
}

func (h *Handler) createSession(c *gin.Context) {
	var req titleRequest
	// an empty body, chunked or not, means no title
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var (
		se      models.Session
		warning string
	)
	if !h.do(c, func(ctx context.Context) error {
		id, err := h.store.Create(ctx, req.Title)
		if warning, err = persistenceWarning(err); err != nil {
			return err
		}
		se, err = h.store.Get(id)
		return err
	}) {
		return
	}
	c.JSON(http.StatusCreated, withWarning(gin.H{"session": sessionView(se)}, warning))
}

func (h *Handler) loadSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	var (
		se      models.Session
		warning string
	)
	if !h.do(c, func(ctx context.Context) error {
		_, err := h.store.Load(ctx, sessionID)
		if warning, err = persistenceWarning(err); err != nil {
			return err
		}
		se, err = h.store.Get(sessionID)
		return err
	}) {
		return
	}
	messages := make([]messageView, 0, len(se.Messages))
	for _, m := range se.Messages {
		messages = append(messages, newMessageView(m))
	}
	c.JSON(http.StatusOK, withWarning(gin.H{
		"session":  sessionView(se),
		"messages": messages,
	}, warning))
}

func (h *Handler) renameSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	var req titleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	var (
		se      models.Session
		warning string
	)
	if !h.do(c, func(ctx context.Context) error {
		err := h.store.Rename(ctx, sessionID, req.Title)
		if warning, err = persistenceWarning(err); err != nil {
			return err
		}
		se, err = h.store.Get(sessionID)
		return err
	}) {
		return
	}
	c.JSON(http.StatusOK, withWarning(gin.H{"session": sessionView(se)}, warning))
}

func (h *Handler) deleteSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	var current, warning string
	if !h.do(c, func(ctx context.Context) error {
		err := h.store.Delete(ctx, sessionID)
		if warning, err = persistenceWarning(err); err != nil {
			return err
		}
		current, _ = h.store.Current()
		return nil
	}) {
		return
	}
	c.JSON(http.StatusOK, withWarning(gin.H{"current_session_id": current}, warning))
}

func (h *Handler) clearSession(c *gin.Context) {
	sessionID := c.Param("session_id")
	var warning string
	if !h.do(c, func(ctx context.Context) error {
		var err error
		warning, err = persistenceWarning(h.store.Clear(ctx, sessionID))
		return err
	}) {
		return
	}
	c.JSON(http.StatusOK, withWarning(gin.H{"session_id": sessionID}, warning))
}

func (h *Handler) deleteMessage(c *gin.Context) {
	sessionID := c.Param("session_id")
	messageID := c.Param("message_id")
	var warning string
	if !h.do(c, func(ctx context.Context) error {
		var err error
		warning, err = persistenceWarning(h.store.DeleteMessage(ctx, sessionID, messageID))
		return err
	}) {
		return
	}
	c.JSON(http.StatusOK, withWarning(gin.H{
		"session_id": sessionID,
		"message_id": messageID,
	}, warning))
}

func (h *Handler) split(c *gin.Context) {
	var req splitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": blocks.Split(req.Text)})
}

func (h *Handler) chat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": assistant.ErrEmptyInput.Error()})
		return
	}

	// SSE Request construction
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	// The ack callback runs on the queue worker; once this handler returns
	// the writer must not be touched again.
	var (
		mu     sync.Mutex
		closed bool
	)
	defer func() {
		mu.Lock()
		closed = true
		mu.Unlock()
	}()
	sendEvent := func(event string, payload interface{}) error {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return nil
		}
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "event: %s\n", event); err != nil {
			return err
		}
		if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", data); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	var reply *assistant.Reply
	err := h.queue.Do(c.Request.Context(), func(ctx context.Context) error {
		var err error
		reply, err = h.assistant.Submit(ctx, req.Content, func(m models.Message) {
			_ = sendEvent("ack", gin.H{"message": m})
		})
		return err
	})
	if err != nil {
		msg := err.Error()
		if errors.Is(err, worker.ErrDispatcherBusy) {
			msg = busyMessage
		}
		h.logger.Warn("chat request failed", "error", err)
		_ = sendEvent("error", gin.H{"message": msg})
		return
	}

	if reply.Command != nil {
		payload := gin.H{
			"action":     reply.Command.Action,
			"session_id": reply.Command.SessionID,
			"title":      reply.Command.Title,
			"notice":     reply.Command.Notice,
		}
		if reply.Sessions != nil {
			payload["sessions"] = reply.Sessions
		}
		if len(reply.Warnings) > 0 {
			payload["warnings"] = reply.Warnings
		}
		_ = sendEvent("command", payload)
		return
	}

	payload := gin.H{
		"session_id":        reply.SessionID,
		"assistant_message": reply.Assistant,
		"segments":          reply.Segments,
		"refused":           reply.Refused,
	}
	if se, err := h.store.Get(reply.SessionID); err == nil {
		payload["title"] = se.Title
	}
	if len(reply.Warnings) > 0 {
		payload["warnings"] = reply.Warnings
	}
	_ = sendEvent("done", payload)
}

// do runs fn on the queue and writes an error response when it fails.
func (h *Handler) do(c *gin.Context, fn worker.Job) bool {
	err := h.queue.Do(c.Request.Context(), fn)
	if err == nil {
		return true
	}
	h.respondError(c, err)
	return false
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "session not found"})
	case errors.Is(err, session.ErrMessageNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "message not found"})
	case errors.Is(err, worker.ErrDispatcherBusy):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": busyMessage})
	case errors.Is(err, session.ErrEmptyTitle):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "request cancelled"})
	default:
		h.logger.Error("request failed", "path", c.FullPath(), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

// persistenceWarning splits a save failure, which the caller reports as a
// warning, from every other error.
func persistenceWarning(err error) (string, error) {
	if err != nil && errors.Is(err, session.ErrPersistence) {
		return err.Error(), nil
	}
	return "", err
}

func withWarning(body gin.H, warning string) gin.H {
	if warning != "" {
		body["warning"] = warning
	}
	return body
}
