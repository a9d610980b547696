package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"ms-reservation/internal/logger"
	"ms-reservation/internal/models"
	"ms-reservation/internal/qr"
	"ms-reservation/internal/reservation"
)

type Handler struct {
	Service *reservation.Service
	QR      *qr.QRGenerator
	Logger  *logger.Logger
}

func NewHandler(service *reservation.Service, qrGen *qr.QRGenerator, log *logger.Logger) *Handler {
	return &Handler{Service: service, QR: qrGen, Logger: log}
}

// writeError maps the service's error kinds onto HTTP statuses. Every failed
// mutation surfaces a distinguishable kind; nothing is swallowed.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, reservation.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, reservation.ErrInsufficientCapacity):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, reservation.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, reservation.ErrTransient):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req models.BookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateBooking: failed to decode request body: %v", err))
		http.Error(w, "Invalid request body: "+err.Error(), http.StatusBadRequest)
		return
	}

	idemKey := r.Header.Get("Idempotency-Key")
	h.Logger.Info("API", fmt.Sprintf("CreateBooking: %q requests %d seats for %s %s", req.Name, req.Persons, req.Date, req.Time))

	resp, err := h.Service.ReserveSeats(r.Context(), req, idemKey)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("CreateBooking: %v", err))
		h.writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	booking, err := h.Service.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, booking)
}

// BookingQR renders the booking confirmation as a QR PNG.
func (h *Handler) BookingQR(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")

	booking, err := h.Service.GetBooking(r.Context(), bookingID)
	if err != nil {
		h.writeError(w, err)
		return
	}

	png, err := h.QR.GenerateConfirmationQR(*booking)
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("BookingQR: failed to generate QR: %v", err))
		http.Error(w, "Could not generate QR code", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(png)
}

// ListSlots returns the slot picker view for one date: each bookable hour
// annotated with remaining seats and past/full flags.
func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	date := r.URL.Query().Get("date")
	if date == "" {
		http.Error(w, "date query parameter is required", http.StatusBadRequest)
		return
	}

	availability, err := h.Service.SlotAvailability(r.Context(), date, time.Now())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, availability)
}

func (h *Handler) ListCapacities(w http.ResponseWriter, r *http.Request) {
	from := r.URL.Query().Get("from")
	to := r.URL.Query().Get("to")

	records, err := h.Service.ListCapacities(r.Context(), from, to)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// ListBookings serves the admin dashboard's filtered, sorted booking table.
func (h *Handler) ListBookings(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := models.BookingFilter{
		NameContains: q.Get("name"),
		Status:       q.Get("status"),
		Date:         q.Get("date"),
		Time:         q.Get("time"),
		SortBy:       q.Get("sort"),
		SortDesc:     q.Get("order") == "desc",
	}
	if v := q.Get("min_persons"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.MinPersons = n
		}
	}
	if v := q.Get("max_persons"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.MaxPersons = n
		}
	}

	bookings, err := h.Service.ListBookings(r.Context(), filter)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookings)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")
	h.Logger.Info("API", fmt.Sprintf("CancelBooking: bookingID=%s", bookingID))

	if err := h.Service.CancelBooking(r.Context(), bookingID); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CancelBooking: %v", err))
		h.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) CompleteBooking(w http.ResponseWriter, r *http.Request) {
	bookingID := chi.URLParam(r, "bookingID")
	h.Logger.Info("API", fmt.Sprintf("CompleteBooking: bookingID=%s", bookingID))

	if err := h.Service.CompleteBooking(r.Context(), bookingID); err != nil {
		h.Logger.Error("API", fmt.Sprintf("CompleteBooking: %v", err))
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "booking marked completed"})
}
