package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/campuslabs/labbooking/internal/auth"
	"github.com/campuslabs/labbooking/internal/booking"
	"github.com/campuslabs/labbooking/internal/schedule"
)

type BookingHandler struct {
	svc    *booking.Service
	logger *slog.Logger
	secret string
}

func NewBookingHandler(svc *booking.Service, logger *slog.Logger, tokenSecret string) *BookingHandler {
	return &BookingHandler{svc: svc, logger: logger, secret: tokenSecret}
}

type slotItem struct {
	Index         int    `json:"index"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	Past          bool   `json:"past"`
	Reserved      bool   `json:"reserved"`
	ReservationID string `json:"reservation_id,omitempty"`
}

type periodItem struct {
	PeriodID string     `json:"period_id"`
	Slots    []slotItem `json:"slots"`
}

type dayScheduleResponse struct {
	Date              string       `json:"date"`
	NonTeaching       bool         `json:"non_teaching"`
	NonTeachingReason string       `json:"non_teaching_reason,omitempty"`
	Periods           []periodItem `json:"periods"`
}

type createReservationRequest struct {
	LabID            string   `json:"lab_id"`
	Date             string   `json:"date"`
	SlotIDs          []string `json:"slot_ids"`
	Occurrences      int      `json:"occurrences"`
	AcademicPeriodID string   `json:"academic_period_id"`
	OwnerID          string   `json:"owner_id"`
	Subject          string   `json:"subject"`
}

type createReservationResponse struct {
	ReservationIDs []string `json:"reservation_ids"`
	GroupID        string   `json:"group_id,omitempty"`
}

type cancelReservationRequest struct {
	ReservationID string `json:"reservation_id"`
	Reason        string `json:"reason"`
	CancelSeries  bool   `json:"cancel_series"`
}

type cancelReservationResponse struct {
	Status           string `json:"status"`
	CancelledAt      string `json:"cancelled_at,omitempty"`
	Cancelled        int64  `json:"cancelled"`
	AlreadyCancelled bool   `json:"already_cancelled"`
}

func (h *BookingHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	labID := strings.TrimSpace(r.URL.Query().Get("lab_id"))
	date := strings.TrimSpace(r.URL.Query().Get("date"))
	if labID == "" || date == "" {
		http.Error(w, "lab_id and date are required", http.StatusBadRequest)
		return
	}

	ds, err := h.svc.DaySchedule(r.Context(), labID, date)
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := dayScheduleResponse{
		Date:              ds.Date,
		NonTeaching:       ds.NonTeaching,
		NonTeachingReason: ds.NonTeachingReason,
		Periods:           make([]periodItem, 0, len(ds.Periods)),
	}
	for _, p := range ds.Periods {
		item := periodItem{PeriodID: p.PeriodID, Slots: make([]slotItem, 0, len(p.Slots))}
		for _, s := range p.Slots {
			si := slotItem{
				Index:     s.Index,
				StartTime: s.Start.Format(time.RFC3339),
				EndTime:   s.End.Format(time.RFC3339),
				Past:      s.Past,
				Reserved:  s.Reserved != nil,
			}
			if s.Reserved != nil {
				si.ReservationID = s.Reserved.ID
			}
			item.Slots = append(item.Slots, si)
		}
		resp.Periods = append(resp.Periods, item)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req createReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.LabID = strings.TrimSpace(req.LabID)
	req.Date = strings.TrimSpace(req.Date)
	if req.LabID == "" || req.Date == "" || len(req.SlotIDs) == 0 {
		http.Error(w, "lab_id, date and slot_ids are required", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Book(r.Context(), actor, booking.BookRequest{
		LabID:            req.LabID,
		Date:             req.Date,
		SlotIDs:          req.SlotIDs,
		Occurrences:      req.Occurrences,
		AcademicPeriodID: strings.TrimSpace(req.AcademicPeriodID),
		OwnerID:          strings.TrimSpace(req.OwnerID),
		Subject:          strings.TrimSpace(req.Subject),
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := createReservationResponse{ReservationIDs: make([]string, 0, len(result.Reservations))}
	for _, res := range result.Reservations {
		resp.ReservationIDs = append(resp.ReservationIDs, res.ID)
	}
	if result.GroupID != nil {
		resp.GroupID = result.GroupID.String()
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	actor, ok := h.actor(w, r)
	if !ok {
		return
	}

	var req cancelReservationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ReservationID = strings.TrimSpace(req.ReservationID)
	if req.ReservationID == "" {
		http.Error(w, "reservation_id required", http.StatusBadRequest)
		return
	}

	result, err := h.svc.Cancel(r.Context(), actor, booking.CancelRequest{
		ReservationID: req.ReservationID,
		Reason:        strings.TrimSpace(req.Reason),
		CancelSeries:  req.CancelSeries,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}

	resp := cancelReservationResponse{
		Status:           "cancelled",
		Cancelled:        result.Cancelled,
		AlreadyCancelled: result.AlreadyCancelled,
	}
	if !result.CancelledAt.IsZero() {
		resp.CancelledAt = result.CancelledAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

// actor resolves the caller from the bearer token issued by the identity
// collaborator.
func (h *BookingHandler) actor(w http.ResponseWriter, r *http.Request) (booking.Actor, bool) {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found || strings.TrimSpace(token) == "" {
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return booking.Actor{}, false
	}
	claims, err := auth.ParseAndVerifyHS256(strings.TrimSpace(token), h.secret)
	if err != nil || claims.Sub == "" {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return booking.Actor{}, false
	}
	return booking.Actor{ID: claims.Sub, Manager: claims.Manager()}, true
}

func (h *BookingHandler) writeError(w http.ResponseWriter, err error) {
	if conflict, ok := booking.IsSlotConflict(err); ok {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":         "slot conflict",
			"conflict_date": conflict.Date,
		})
		return
	}

	switch {
	case errors.Is(err, schedule.ErrInvalidDateFormat),
		errors.Is(err, booking.ErrInvalidSlot):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, booking.ErrCrossDayBooking),
		errors.Is(err, booking.ErrDuplicateSlot),
		errors.Is(err, booking.ErrNonTeachingDay),
		errors.Is(err, booking.ErrDateOutsideAcademicPeriod),
		errors.Is(err, booking.ErrOwnerNotFound):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, booking.ErrForbidden):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, booking.ErrReservationNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	default:
		h.logger.Error("request failed", "err", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
