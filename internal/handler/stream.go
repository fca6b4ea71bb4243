package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/stegline/core/internal/changefeed"
	"github.com/stegline/core/internal/middleware"
	"github.com/stegline/core/internal/model"
	"github.com/stegline/core/internal/service"
	"github.com/stegline/core/internal/timeline"
	"github.com/stegline/core/pkg/logger"
	"github.com/stegline/core/pkg/metrics"
)

// DefaultHeartbeat is the interval between SSE heartbeats.
const DefaultHeartbeat = 30 * time.Second

// StreamHandler serves a live timeline of one conversation over SSE.
type StreamHandler struct {
	directory *service.DirectoryService
	loader    timeline.Loader
	feed      changefeed.Feed
	heartbeat time.Duration
	logger    *logger.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(
	directory *service.DirectoryService,
	loader timeline.Loader,
	feed changefeed.Feed,
	log *logger.Logger,
) *StreamHandler {
	return &StreamHandler{
		directory: directory,
		loader:    loader,
		feed:      feed,
		heartbeat: DefaultHeartbeat,
		logger:    log.Named("stream"),
	}
}

// SetHeartbeat overrides the heartbeat interval.
func (h *StreamHandler) SetHeartbeat(d time.Duration) {
	h.heartbeat = d
}

// SnapshotEvent carries the full timeline after a load.
type SnapshotEvent struct {
	ConversationID string          `json:"conversation_id"`
	Messages       []model.Message `json:"messages"`
}

type sseEvent struct {
	name string
	data interface{}
}

// Stream handles GET /api/v1/conversations/:id/stream
//
// The first event is a snapshot of the stored messages merged with anything
// that arrived meanwhile. Each later insert is sent once as a message event.
func (h *StreamHandler) Stream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := middleware.GetUserID(ctx)
	conversationID := chi.URLParam(r, "id")

	if err := middleware.ValidateConversationID(conversationID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if _, err := h.directory.Authorize(ctx, userID, conversationID); err != nil {
		writeServiceError(w, h.logger, err, "failed to open conversation")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	metrics.IncrementSSEConnections()
	defer metrics.DecrementSSEConnections()

	log := h.logger.WithContext(middleware.GetCorrelationID(ctx), userID).
		With(zap.String("conversation_id", conversationID))

	events := make(chan sseEvent, 16)
	emit := func(ev sseEvent) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}

	tl := timeline.New(h.loader, h.feed, log,
		timeline.WithOnReload(func(msgs []model.Message) {
			emit(sseEvent{name: "snapshot", data: &SnapshotEvent{ConversationID: conversationID, Messages: msgs}})
		}),
		timeline.WithOnInsert(func(msg model.Message) {
			emit(sseEvent{name: "message", data: msg})
		}),
	)
	defer tl.Close()

	opened := make(chan error, 1)
	go func(done chan<- error) {
		done <- tl.Open(ctx, conversationID)
	}(opened)

	sendSSEEvent(w, flusher, "connected", map[string]string{
		"conversation_id": conversationID,
	})

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("SSE client disconnected")
			return

		case err := <-opened:
			opened = nil
			if err != nil && ctx.Err() == nil {
				log.Error("Failed to open timeline", zap.Error(err))
				sendSSEEvent(w, flusher, "error", &model.ErrorEvent{
					Code:    "load_error",
					Message: "Failed to load messages",
				})
				return
			}

		case ev := <-events:
			if err := sendSSEEvent(w, flusher, ev.name, ev.data); err != nil {
				return
			}

		case <-heartbeat.C:
			sendSSEEvent(w, flusher, "heartbeat", &model.HeartbeatEvent{
				Timestamp: time.Now(),
			})
		}
	}
}

// sendSSEEvent sends a Server-Sent Event.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, event string, data interface{}) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, jsonData); err != nil {
		return err
	}

	flusher.Flush()
	return nil
}

