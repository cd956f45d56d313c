package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mikeboe/deep-research/pkg/chat"
	"github.com/mikeboe/deep-research/pkg/database"
	"github.com/mikeboe/deep-research/pkg/research"
)

const heartbeatInterval = 15 * time.Second

// ChatService answers follow-up questions about a job. *chat.Service implements it.
type ChatService interface {
	CreateConversation(ctx context.Context, jobID uuid.UUID) (*chat.Conversation, error)
	ListConversations(ctx context.Context, jobID uuid.UUID) ([]chat.Conversation, error)
	GetHistory(ctx context.Context, conversationID uuid.UUID) ([]chat.Message, error)
	SendMessage(ctx context.Context, jobID, conversationID uuid.UUID, content string) (iter.Seq2[chat.StreamEvent, error], error)
}

type Handler struct {
	Service *Service
	// Chat is optional; the chat routes answer 503 without it.
	Chat ChatService
	// MCP serves the streamable HTTP transport of the MCP server.
	MCP http.Handler

	// EventBuffer is the live channel size per SSE subscriber.
	EventBuffer int
	// Heartbeat is the SSE ping interval. Every tick also backfills
	// events a full subscriber channel dropped.
	Heartbeat time.Duration
}

func NewHandler(s *Service, c ChatService, mcp http.Handler) *Handler {
	return &Handler{Service: s, Chat: c, MCP: mcp, EventBuffer: 256, Heartbeat: heartbeatInterval}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	if h.MCP != nil {
		r.Any("/mcp", gin.WrapH(h.MCP))
	}
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	api := r.Group("/api")
	{
		api.POST("/research", h.createJob)
		api.GET("/research", h.listJobs)
		api.POST("/research/stream", h.streamResearch)
		api.GET("/research/:id", h.getJob)
		api.DELETE("/research/:id", h.cancelJob)
		api.GET("/research/:id/logs", h.getJobLogs)
		api.GET("/research/:id/events", h.streamJobEvents)

		// Chat Routes
		api.POST("/research/:id/conversations", h.createConversation)
		api.GET("/research/:id/conversations", h.listConversations)
		api.GET("/research/:id/conversations/:cid/messages", h.getMessages)
		api.POST("/research/:id/conversations/:cid/messages", h.sendMessage)
	}
}

func errorStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrJobNotRunning):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(errorStatus(err), gin.H{"error": err.Error()})
}

func parseID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid uuid"})
		return uuid.Nil, false
	}
	return id, true
}

func setSSEHeaders(c *gin.Context) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)
}

// writeSSE writes one event. id 0 omits the id line.
func writeSSE(w gin.ResponseWriter, id uint64, event string, data []byte) error {
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	if event != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", event); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	w.Flush()
	return nil
}

func (h *Handler) createJob(c *gin.Context) {
	var req ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	job, err := h.Service.CreateJob(c.Request.Context(), req)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusCreated, job)
}

func (h *Handler) listJobs(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	jobs, err := h.Service.ListJobs(c.Request.Context(), limit)
	if err != nil {
		abortWithError(c, err)
		return
	}
	// Return empty list instead of null
	if jobs == nil {
		jobs = []database.Job{}
	}
	c.JSON(http.StatusOK, jobs)
}

func (h *Handler) getJob(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	job, err := h.Service.GetJob(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, job)
}

func (h *Handler) cancelJob(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	if err := h.Service.CancelJob(id); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"id": id, "status": "cancelling"})
}

func (h *Handler) getJobLogs(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}

	logs, err := h.Service.GetJobLogs(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	if logs == nil {
		logs = []database.LogEntry{}
	}
	c.JSON(http.StatusOK, logs)
}

func terminal(status string) bool {
	switch status {
	case database.StatusCompleted, database.StatusFailed, database.StatusCancelled:
		return true
	}
	return false
}

// streamJobEvents replays the buffered events of a job and then follows it
// live until the done event. Last-Event-ID (or ?last_event_id=) resumes a
// dropped connection.
func (h *Handler) streamJobEvents(c *gin.Context) {
	id, ok := parseID(c, "id")
	if !ok {
		return
	}
	job, err := h.Service.GetJob(c.Request.Context(), id)
	if err != nil {
		abortWithError(c, err)
		return
	}

	lastEventID := c.GetHeader("Last-Event-ID")
	if lastEventID == "" {
		lastEventID = c.Query("last_event_id")
	}
	var since uint64
	if lastEventID != "" {
		if n, err := strconv.ParseUint(lastEventID, 10, 64); err == nil {
			since = n
		}
	}

	key := id.String()
	broker := h.Service.Broker
	ch := broker.Subscribe(key, max(h.EventBuffer, 1))
	defer broker.Unsubscribe(key, ch)

	setSSEHeaders(c)
	w := c.Writer
	if _, err := fmt.Fprint(w, ": connected\n\n"); err != nil {
		return
	}
	w.Flush()

	last := since
	// write sends events newer than last and reports whether the stream is over.
	write := func(events []BrokerEvent) bool {
		for _, ev := range events {
			if ev.Seq <= last {
				continue
			}
			if err := writeSSE(w, ev.Seq, ev.Name, ev.Data); err != nil {
				return true
			}
			last = ev.Seq
			if ev.Name == EventDone {
				return true
			}
		}
		return false
	}

	if write(broker.ReplaySince(key, since)) {
		return
	}

	// No history left for a finished job: report its status and stop.
	if terminal(job.Status) {
		data, _ := json.Marshal(map[string]string{"status": job.Status})
		_ = writeSSE(w, 0, EventDone, data)
		return
	}

	heartbeat := h.Heartbeat
	if heartbeat <= 0 {
		heartbeat = heartbeatInterval
	}
	ticker := time.NewTicker(heartbeat)
	defer ticker.Stop()
	ctx := c.Request.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			events := []BrokerEvent{ev}
			if ev.Seq > last+1 {
				// The channel was full and dropped events; the history has them.
				if missed := broker.ReplaySince(key, last); len(missed) > 0 {
					events = missed
				}
			}
			if write(events) {
				return
			}
		case <-ticker.C:
			if missed := broker.ReplaySince(key, last); len(missed) > 0 {
				if write(missed) {
					return
				}
				continue
			}
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
			w.Flush()
		}
	}
}

// streamResearch runs a research on the request goroutine and streams its
// events. A client disconnect cancels the run.
func (h *Handler) streamResearch(c *gin.Context) {
	var req ResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		abortWithError(c, err)
		return
	}

	ctx := c.Request.Context()
	w := c.Writer
	sink := research.SinkFunc(func(ev research.Event) {
		name, payload := research.Encode(ev)
		data, err := json.Marshal(payload)
		if err != nil {
			return
		}
		_ = writeSSE(w, 0, name, data)
	})

	engine, opts, err := h.Service.Engines.Build(ctx, req, research.MultiSink{sink, NewMetricsSink()}, h.Service.logger())
	if err != nil {
		abortWithError(c, err)
		return
	}

	setSSEHeaders(c)
	started := time.Now()
	RunsActive.Inc()
	defer RunsActive.Dec()

	_, err = engine.Start(ctx, req.Query, opts)
	switch {
	case err == nil:
		observeRun(database.StatusCompleted, started)
	case research.IsCanceled(ctx, err):
		observeRun(database.StatusCancelled, started)
	default:
		observeRun(database.StatusFailed, started)
	}
}

func (h *Handler) chatAvailable(c *gin.Context) bool {
	if h.Chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "chat is not configured"})
		return false
	}
	return true
}

func (h *Handler) createConversation(c *gin.Context) {
	if !h.chatAvailable(c) {
		return
	}
	jobID, ok := parseID(c, "id")
	if !ok {
		return
	}
	if _, err := h.Service.GetJob(c.Request.Context(), jobID); err != nil {
		abortWithError(c, err)
		return
	}

	conv, err := h.Chat.CreateConversation(c.Request.Context(), jobID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, conv)
}

func (h *Handler) listConversations(c *gin.Context) {
	if !h.chatAvailable(c) {
		return
	}
	jobID, ok := parseID(c, "id")
	if !ok {
		return
	}

	convs, err := h.Chat.ListConversations(c.Request.Context(), jobID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if convs == nil {
		convs = []chat.Conversation{}
	}
	c.JSON(http.StatusOK, convs)
}

func (h *Handler) getMessages(c *gin.Context) {
	if !h.chatAvailable(c) {
		return
	}
	convID, ok := parseID(c, "cid")
	if !ok {
		return
	}

	msgs, err := h.Chat.GetHistory(c.Request.Context(), convID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	if msgs == nil {
		msgs = []chat.Message{}
	}
	c.JSON(http.StatusOK, msgs)
}

func (h *Handler) sendMessage(c *gin.Context) {
	if !h.chatAvailable(c) {
		return
	}
	jobID, ok := parseID(c, "id")
	if !ok {
		return
	}
	convID, ok := parseID(c, "cid")
	if !ok {
		return
	}

	var req struct {
		Content string `json:"content" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	next, err := h.Chat.SendMessage(c.Request.Context(), jobID, convID, req.Content)
	if err != nil {
		abortWithError(c, err)
		return
	}

	setSSEHeaders(c)
	for event, err := range next {
		if err != nil {
			errEvent := chat.StreamEvent{Type: "error", Payload: err.Error()}
			if data, err := json.Marshal(errEvent); err == nil {
				_ = writeSSE(c.Writer, 0, "", data)
			}
			return
		}

		data, err := json.Marshal(event)
		if err != nil {
			return
		}
		if err := writeSSE(c.Writer, 0, "", data); err != nil {
			return
		}
	}
}
