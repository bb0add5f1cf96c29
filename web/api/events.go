package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hochfrequenz/vat-batch/internal/domain"
)

// Event types pushed to subscribers
const (
	EventJobStarted     = "job.started"
	EventJobFinished    = "job.finished"
	EventStepStarted    = "step.started"
	EventStepFinished   = "step.finished"
	EventChunkCommitted = "chunk.committed"
)

const (
	clientBuffer = 16
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
)

// Event is one lifecycle notification
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// JobEvent describes a job execution at a lifecycle boundary
type JobEvent struct {
	ExecutionID int64      `json:"executionId"`
	JobName     string     `json:"jobName"`
	Status      string     `json:"status"`
	ExitCode    string     `json:"exitCode"`
	StartTime   *time.Time `json:"startTime,omitempty"`
	EndTime     *time.Time `json:"endTime,omitempty"`
}

// StepEvent describes a step execution and its counters
type StepEvent struct {
	ExecutionID   int64  `json:"executionId"`
	StepName      string `json:"stepName"`
	Status        string `json:"status"`
	ChunkSize     int    `json:"chunkSize,omitempty"`
	ReadCount     int64  `json:"readCount"`
	WriteCount    int64  `json:"writeCount"`
	FilterCount   int64  `json:"filterCount"`
	CommitCount   int64  `json:"commitCount"`
	RollbackCount int64  `json:"rollbackCount"`
}

// Hub fans lifecycle events out to SSE and websocket clients. It implements
// batch.JobListener, batch.StepListener and batch.ChunkListener.
type Hub struct {
	clients    map[chan Event]struct{}
	broadcast  chan Event
	register   chan chan Event
	unregister chan chan Event
	done       chan struct{}
	logger     *slog.Logger
}

// NewHub creates a new event hub
func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[chan Event]struct{}),
		broadcast:  make(chan Event, 64),
		register:   make(chan chan Event),
		unregister: make(chan chan Event),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run dispatches events until ctx is cancelled. Call it once.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for client := range h.clients {
				delete(h.clients, client)
				close(client)
			}
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client)
			}

		case event := <-h.broadcast:
			for client := range h.clients {
				select {
				case client <- event:
				default:
					// slow consumer
					delete(h.clients, client)
					close(client)
				}
			}
		}
	}
}

// Broadcast queues an event without blocking; events are dropped when the queue is full
func (h *Hub) Broadcast(event Event) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Debug("event dropped", "type", event.Type)
	}
}

func (h *Hub) subscribe() (chan Event, bool) {
	client := make(chan Event, clientBuffer)
	select {
	case h.register <- client:
		return client, true
	case <-h.done:
		return nil, false
	}
}

func (h *Hub) unsubscribe(client chan Event) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func jobEvent(exec *domain.JobExecution) JobEvent {
	return JobEvent{
		ExecutionID: exec.ID,
		JobName:     exec.JobName,
		Status:      string(exec.Status),
		ExitCode:    exec.ExitCode,
		StartTime:   exec.StartTime,
		EndTime:     exec.EndTime,
	}
}

func stepEvent(step *domain.StepExecution) StepEvent {
	return StepEvent{
		ExecutionID:   step.JobExecutionID,
		StepName:      step.StepName,
		Status:        string(step.Status),
		ReadCount:     step.ReadCount,
		WriteCount:    step.WriteCount,
		FilterCount:   step.FilterCount,
		CommitCount:   step.CommitCount,
		RollbackCount: step.RollbackCount,
	}
}

func (h *Hub) BeforeJob(_ context.Context, exec *domain.JobExecution) {
	h.Broadcast(Event{Type: EventJobStarted, Data: jobEvent(exec)})
}

func (h *Hub) AfterJob(_ context.Context, exec *domain.JobExecution) {
	h.Broadcast(Event{Type: EventJobFinished, Data: jobEvent(exec)})
}

func (h *Hub) BeforeStep(_ context.Context, _ *domain.JobExecution, step *domain.StepExecution) {
	h.Broadcast(Event{Type: EventStepStarted, Data: stepEvent(step)})
}

func (h *Hub) AfterStep(_ context.Context, _ *domain.JobExecution, step *domain.StepExecution) {
	h.Broadcast(Event{Type: EventStepFinished, Data: stepEvent(step)})
}

func (h *Hub) AfterChunk(_ context.Context, step *domain.StepExecution, size int) {
	ev := stepEvent(step)
	ev.ChunkSize = size
	h.Broadcast(Event{Type: EventChunkCommitted, Data: ev})
}

func (s *Server) sseHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming not supported", http.StatusInternalServerError)
			return
		}

		client, ok := s.hub.subscribe()
		if !ok {
			http.Error(w, "event stream closed", http.StatusServiceUnavailable)
			return
		}
		defer s.hub.unsubscribe(client)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		for {
			select {
			case <-r.Context().Done():
				return
			case event, ok := <-client:
				if !ok {
					return
				}
				data, err := json.Marshal(event)
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: %s\n", event.Type)
				fmt.Fprintf(w, "data: %s\n\n", data)
				flusher.Flush()
			}
		}
	}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

func (s *Server) wsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.logger.Warn("websocket upgrade failed", "error", err)
			return
		}
		defer conn.Close()

		client, ok := s.hub.subscribe()
		if !ok {
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseTryAgainLater, "event stream closed"),
				time.Now().Add(wsWriteWait))
			return
		}
		defer s.hub.unsubscribe(client)

		// drain incoming frames so close and pong control messages are processed
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(wsPingPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-closed:
				return
			case event, ok := <-client:
				if !ok {
					conn.WriteControl(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
						time.Now().Add(wsWriteWait))
					return
				}
				conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
				if err := conn.WriteJSON(event); err != nil {
					if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
						s.logger.Warn("websocket write failed", "error", err)
					}
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}
}
