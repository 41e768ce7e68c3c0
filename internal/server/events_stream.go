package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/aristath/restock/internal/events"
	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

const (
	streamBuffer      = 100
	heartbeatInterval = 30 * time.Second
	writeTimeout      = 10 * time.Second
)

// streamMessage is one frame sent to websocket clients
type streamMessage struct {
	Type      string                 `json:"type"`
	Module    string                 `json:"module,omitempty"`
	Timestamp string                 `json:"timestamp"`
	Data      map[string]interface{} `json:"data,omitempty"`
}

// EventsStreamHandler streams bus events to websocket clients
type EventsStreamHandler struct {
	bus       *events.Bus
	log       zerolog.Logger
	heartbeat time.Duration
}

// NewEventsStreamHandler creates a new events stream handler
func NewEventsStreamHandler(bus *events.Bus, log zerolog.Logger) *EventsStreamHandler {
	return &EventsStreamHandler{
		bus:       bus,
		log:       log.With().Str("component", "events_stream").Logger(),
		heartbeat: heartbeatInterval,
	}
}

// ServeHTTP handles GET /api/events/ws
// Optional ?types=RUN_STARTED,RUN_COMPLETED restricts the stream.
func (h *EventsStreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	allowed := parseTypes(r.URL.Query().Get("types"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket handshake failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	eventChan := make(chan *events.Event, streamBuffer)
	unsubscribe := h.bus.SubscribeAll(func(e *events.Event) {
		if allowed != nil && !allowed[e.Type] {
			return
		}
		select {
		case eventChan <- e:
		default:
			h.log.Warn().
				Str("event_type", string(e.Type)).
				Msg("Event channel full, dropping event")
		}
	})
	defer unsubscribe()

	// clients never send; CloseRead handles control frames and cancels ctx on disconnect
	ctx := conn.CloseRead(r.Context())

	h.log.Info().Int("filters", len(allowed)).Msg("Client connected to event stream")

	if err := h.write(ctx, conn, streamMessage{Type: "connected", Timestamp: time.Now().Format(time.RFC3339)}); err != nil {
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			h.log.Info().Msg("Client disconnected from event stream")
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case e := <-eventChan:
			msg := streamMessage{
				Type:      string(e.Type),
				Module:    e.Module,
				Timestamp: e.Timestamp.Format(time.RFC3339),
				Data:      e.Data,
			}
			if err := h.write(ctx, conn, msg); err != nil {
				h.log.Debug().Err(err).Msg("Failed to write event")
				return
			}

		case <-heartbeat.C:
			if err := h.write(ctx, conn, streamMessage{Type: "heartbeat", Timestamp: time.Now().Format(time.RFC3339)}); err != nil {
				return
			}
		}
	}
}

func (h *EventsStreamHandler) write(ctx context.Context, conn *websocket.Conn, msg streamMessage) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return wsjson.Write(ctx, conn, msg)
}

func parseTypes(raw string) map[events.EventType]bool {
	if raw == "" {
		return nil
	}
	allowed := make(map[events.EventType]bool)
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			allowed[events.EventType(t)] = true
		}
	}
	if len(allowed) == 0 {
		return nil
	}
	return allowed
}
