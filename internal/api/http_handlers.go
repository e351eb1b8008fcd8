package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"petboarding/internal/database"
	"petboarding/internal/models"
	"petboarding/internal/service"

	"github.com/gorilla/mux"
)

type bookRequest struct {
	UserID     string  `json:"user_id"`
	AnimalID   string  `json:"animal_id"`
	AnimalName string  `json:"animal_name"`
	ServiceID  string  `json:"service_id"`
	StartDate  string  `json:"start_date"`
	EndDate    string  `json:"end_date"`
	Comments   *string `json:"comments"`
	Quantity   int     `json:"quantity"`
}

type cancelRequest struct {
	UserID string `json:"user_id"`
}

type rescheduleRequest struct {
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
}

type commentsRequest struct {
	Comments string `json:"comments"`
}

type basketItemRequest struct {
	ReservationID string `json:"reservation_id"`
}

type checkoutRequest struct {
	Method string `json:"method"`
}

type confirmRequest struct {
	TransactionID string `json:"transaction_id"`
}

type failRequest struct {
	Reason string `json:"reason"`
}

type availabilityDay struct {
	Date        string `json:"date"`
	MaxCapacity int    `json:"max_capacity"`
	Reserved    int    `json:"reserved"`
	Available   int    `json:"available"`
	Defined     bool   `json:"defined"`
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	planningID := mux.Vars(r)["id"]

	from, err := parseDateParam(r.URL.Query().Get("from"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid from; expected YYYY-MM-DD")
		return
	}
	to := from
	if raw := strings.TrimSpace(r.URL.Query().Get("to")); raw != "" {
		if to, err = parseDateParam(raw); err != nil {
			writeError(w, http.StatusBadRequest, "invalid to; expected YYYY-MM-DD")
			return
		}
	}

	days, err := s.svc.Booking.GetAvailability(r.Context(), planningID, from, to)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	out := make([]availabilityDay, 0, len(days))
	for _, d := range days {
		out = append(out, availabilityDay{
			Date:        d.Date.Format(models.DateLayout),
			MaxCapacity: d.MaxCapacity,
			Reserved:    d.Reserved,
			Available:   d.Available,
			Defined:     d.Defined,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"planning_id": planningID, "days": out})
}

func (s *HTTPServer) handleBook(w http.ResponseWriter, r *http.Request) {
	var body bookRequest
	if err := decodeJSON(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	start, err := parseDateParam(body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_date; expected YYYY-MM-DD")
		return
	}
	end, err := parseOptionalDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_date; expected YYYY-MM-DD")
		return
	}

	res, err := s.svc.Booking.BookReservation(r.Context(), service.BookingRequest{
		UserID:     strings.TrimSpace(body.UserID),
		AnimalID:   strings.TrimSpace(body.AnimalID),
		AnimalName: strings.TrimSpace(body.AnimalName),
		ServiceID:  strings.TrimSpace(body.ServiceID),
		StartDate:  start,
		EndDate:    end,
		Comments:   body.Comments,
		Quantity:   body.Quantity,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

func (s *HTTPServer) handleGetReservation(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Booking.GetReservation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleUserReservations(w http.ResponseWriter, r *http.Request) {
	list, err := s.svc.Booking.ListUserReservations(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if list == nil {
		list = []*models.Reservation{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"reservations": list})
}

func (s *HTTPServer) handleCancel(w http.ResponseWriter, r *http.Request) {
	var body cancelRequest
	if err := decodeJSON(r, &body, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.svc.Booking.CancelReservation(r.Context(), mux.Vars(r)["id"], strings.TrimSpace(body.UserID))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleReschedule(w http.ResponseWriter, r *http.Request) {
	var body rescheduleRequest
	if err := decodeJSON(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	start, err := parseDateParam(body.StartDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid start_date; expected YYYY-MM-DD")
		return
	}
	end, err := parseOptionalDate(body.EndDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid end_date; expected YYYY-MM-DD")
		return
	}

	res, err := s.svc.Booking.RescheduleReservation(r.Context(), mux.Vars(r)["id"], start, end)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleComments(w http.ResponseWriter, r *http.Request) {
	var body commentsRequest
	if err := decodeJSON(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	res, err := s.svc.Booking.UpdateComments(r.Context(), mux.Vars(r)["id"], body.Comments)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleStart(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Booking.StartReservation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleComplete(w http.ResponseWriter, r *http.Request) {
	res, err := s.svc.Booking.CompleteReservation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *HTTPServer) handleGetBasket(w http.ResponseWriter, r *http.Request) {
	sum, err := s.svc.Baskets.GetBasket(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *HTTPServer) handleAddToBasket(w http.ResponseWriter, r *http.Request) {
	var body basketItemRequest
	if err := decodeJSON(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(body.ReservationID) == "" {
		writeError(w, http.StatusBadRequest, "reservation_id is required")
		return
	}
	b, err := s.svc.Baskets.AddToBasket(r.Context(), mux.Vars(r)["userID"], strings.TrimSpace(body.ReservationID))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleRemoveFromBasket(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	b, err := s.svc.Baskets.RemoveFromBasket(r.Context(), vars["userID"], vars["reservationID"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *HTTPServer) handleClearBasket(w http.ResponseWriter, r *http.Request) {
	removed, err := s.svc.Baskets.ClearBasket(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if removed == nil {
		removed = []string{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

func (s *HTTPServer) handleCheckout(w http.ResponseWriter, r *http.Request) {
	var body checkoutRequest
	if err := decodeJSON(r, &body, false); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := s.svc.Payments.Checkout(r.Context(), mux.Vars(r)["id"], body.Method)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *HTTPServer) handleRetryPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Payments.RetryPayment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleGetPayment(w http.ResponseWriter, r *http.Request) {
	p, err := s.svc.Payments.GetPayment(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleConfirmPayment(w http.ResponseWriter, r *http.Request) {
	var body confirmRequest
	if err := decodeJSON(r, &body, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	p, err := s.svc.Payments.ConfirmPayment(r.Context(), mux.Vars(r)["id"], strings.TrimSpace(body.TransactionID))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *HTTPServer) handleFailPayment(w http.ResponseWriter, r *http.Request) {
	var body failRequest
	if err := decodeJSON(r, &body, true); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	b, err := s.svc.Payments.FailPayment(r.Context(), mux.Vars(r)["id"], strings.TrimSpace(body.Reason))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"basket": b})
}

// statusFor maps service and storage errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrNotOwner):
		return http.StatusForbidden
	case errors.Is(err, models.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, models.ErrCapacity),
		errors.Is(err, models.ErrState),
		errors.Is(err, database.ErrConcurrentModification):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (s *HTTPServer) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("endpoint", routeTemplate(r)).Msg("request failed")
		writeError(w, code, "internal error")
		return
	}

	s.log.Debug().Err(err).Str("endpoint", routeTemplate(r)).Int("status", code).Msg("request rejected")

	var unavailable *models.SlotUnavailableError
	if errors.As(err, &unavailable) {
		writeJSON(w, code, map[string]string{
			"error": err.Error(),
			"date":  unavailable.Date.Format(models.DateLayout),
		})
		return
	}
	writeError(w, code, err.Error())
}

var errEmptyBody = errors.New("empty body")

// decodeJSON reads a strict JSON body. With optional set an empty body leaves dst untouched.
func decodeJSON(r *http.Request, dst any, optional bool) error {
	if r.Body == nil {
		if optional {
			return nil
		}
		return errEmptyBody
	}
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			if optional {
				return nil
			}
			return errEmptyBody
		}
		return err
	}
	return nil
}

func parseDateParam(raw string) (time.Time, error) {
	return models.ParseDate(strings.TrimSpace(raw))
}

func parseOptionalDate(raw string) (*time.Time, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	d, err := parseDateParam(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}
