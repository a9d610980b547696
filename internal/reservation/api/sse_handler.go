package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/reservation"
	"ms-reservation/internal/slots"
	"ms-reservation/internal/sse"
)

// SSEHandler streams capacity snapshots to slot pickers and the admin
// dashboard. Each pushed event is a full replacement of one slot's state.
type SSEHandler struct {
	Logger  *logger.Logger
	Feed    *sse.CapacityFeed
	Service *reservation.Service
}

func NewSSEHandler(feed *sse.CapacityFeed, service *reservation.Service, log *logger.Logger) *SSEHandler {
	return &SSEHandler{Logger: log, Feed: feed, Service: service}
}

// HandleCapacityStream streams every capacity change. On connect the client
// receives the current snapshot of all records, then one event per committed
// write.
func (h *SSEHandler) HandleCapacityStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)
	ctx := r.Context()

	// Subscribe before reading the snapshot so a write landing in between
	// is not lost; the subscriber then just sees it twice, which full
	// replacement semantics make harmless.
	eventChan := h.Feed.Subscribe(ctx)

	records, err := h.Service.ListCapacities(ctx, "", "")
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Failed to load capacity snapshot: %v", err))
		http.Error(w, "Could not load capacity snapshot", http.StatusServiceUnavailable)
		return
	}
	snapshot, _ := json.Marshal(records)
	fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", snapshot)
	flusher.Flush()

	h.Logger.Info("SSE", "Client connected to capacity stream")
	h.stream(w, r, flusher, eventChan)
}

// HandleSlotCapacityStream streams one slot's capacity record.
func (h *SSEHandler) HandleSlotCapacityStream(w http.ResponseWriter, r *http.Request) {
	slotID := chi.URLParam(r, "slotID")
	if _, _, err := slots.ParseID(slotID); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	setupSSEHeaders(w)
	ctx := r.Context()
	eventChan := h.Feed.SubscribeSlot(ctx, slotID)

	current, err := h.currentRecord(r, slotID)
	if err != nil {
		h.Logger.Error("SSE", fmt.Sprintf("Failed to load capacity for slot %s: %v", slotID, err))
		http.Error(w, "Could not load slot capacity", http.StatusServiceUnavailable)
		return
	}
	snapshot, _ := json.Marshal(current)
	fmt.Fprintf(w, "event: snapshot\ndata: %s\n\n", snapshot)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to capacity stream for slot %s", slotID))
	h.stream(w, r, flusher, eventChan)
}

func (h *SSEHandler) currentRecord(r *http.Request, slotID string) (models.CapacityRecord, error) {
	record, err := h.Service.DB.GetCapacity(r.Context(), slotID)
	if err != nil {
		return models.CapacityRecord{}, err
	}
	if record == nil {
		// No booking has touched the slot yet: it is implicitly at full
		// capacity.
		total := h.Service.Venue.TotalCapacity
		return models.CapacityRecord{
			SlotID:         slotID,
			TotalCapacity:  total,
			BookedSeats:    0,
			RemainingSeats: total,
		}, nil
	}
	return *record, nil
}

func (h *SSEHandler) stream(w http.ResponseWriter, r *http.Request, flusher http.Flusher, eventChan chan models.CapacityRecord) {
	for {
		select {
		case record, ok := <-eventChan:
			if !ok {
				h.Logger.Debug("SSE", "Feed channel closed")
				return
			}
			jsonData, err := json.Marshal(record)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize capacity snapshot: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: capacity\ndata: %s\n\n", jsonData)
			flusher.Flush()

		case <-r.Context().Done():
			h.Logger.Debug("SSE", "Client disconnected from capacity stream")
			return
		}
	}
}

func setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream;charset=UTF-8")
	w.Header().Set("Cache-Control", "no-cache, no-store, max-age=0, must-revalidate")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Content-Type-Options", "nosniff")
}
