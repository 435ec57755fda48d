package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/storeline/scan-station/internal/scanner"
	"github.com/storeline/scan-station/internal/sse"
)

// StatusSource reports the station a UI subscribes to and its current state.
type StatusSource interface {
	StationID() string
	Status() scanner.Snapshot
}

type EventsHandler struct {
	broker    *sse.Broker
	station   StatusSource
	heartbeat time.Duration
}

func NewEventsHandler(broker *sse.Broker, station StatusSource) *EventsHandler {
	return &EventsHandler{
		broker:    broker,
		station:   station,
		heartbeat: sse.HeartbeatInterval,
	}
}

// GET /v1/scanner/events
func (h *EventsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Streaming not supported"})
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	stationID := h.station.StationID()
	client := h.broker.Subscribe(stationID)
	defer h.broker.Unsubscribe(client)

	log.Info().Str("stationId", stationID).Msg("sse connection established")

	// The snapshot goes out after subscribing so no transition is lost
	// between the two.
	if err := h.sendEvent(w, flusher, sse.EventConnected, h.station.Status()); err != nil {
		log.Debug().Err(err).Msg("failed to send connected event")
		return
	}

	heartbeat := time.NewTicker(h.heartbeat)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("stationId", stationID).Msg("sse connection closed by client")
			return

		case <-client.Done:
			log.Info().Str("stationId", stationID).Msg("sse connection closed by broker")
			return

		case event := <-client.Events:
			if err := h.sendRawEvent(w, flusher, event); err != nil {
				log.Error().Err(err).Msg("failed to send event")
				return
			}

		case <-heartbeat.C:
			if _, err := fmt.Fprintf(w, ": ping\n\n"); err != nil {
				log.Debug().Str("stationId", stationID).Msg("heartbeat failed, closing connection")
				return
			}
			flusher.Flush()
		}
	}
}

func (h *EventsHandler) sendEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, data any) error {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return err
	}

	return h.sendRawEvent(w, flusher, sse.Event{Type: eventType, Data: jsonData})
}

func (h *EventsHandler) sendRawEvent(w http.ResponseWriter, flusher http.Flusher, event sse.Event) error {
	if _, err := fmt.Fprintf(w, "event: %s\n", event.Type); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", event.Data); err != nil {
		return err
	}
	flusher.Flush()
	return nil
}
