package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boring-ventures/vivir-feliz/internal/appointment"
)

// AppointmentService is the part of appointment.Service the handlers use.
type AppointmentService interface {
	Availability(ctx context.Context, q appointment.AvailabilityQuery) (*appointment.Availability, error)
	Book(ctx context.Context, in appointment.BookingInput) (*appointment.BookingResult, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	ConfirmAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	CancelAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

func availabilityHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		req := AvailabilityRequest{
			Category: q.Get("category"),
			Start:    q.Get("start"),
			End:      q.Get("end"),
		}
		if err := validate.Struct(req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", formatFirstValidationError(err))
			return
		}

		avail, err := svc.Availability(r.Context(), appointment.AvailabilityQuery{
			Category: appointment.Category(req.Category),
			Start:    req.Start,
			End:      req.End,
		})
		if err != nil {
			if errors.Is(err, appointment.ErrInvalidCategory) {
				writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
				return
			}
			logger.Error("availability query failed",
				zap.String("request_id", GetRequestID(r.Context())),
				zap.String("category", req.Category),
				zap.Error(err),
			)
			writeError(w, http.StatusInternalServerError, "internal_error", "could not compute availability")
			return
		}

		writeJSON(w, http.StatusOK, toAvailabilityResponse(avail))
	}
}

func createAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateAppointmentRequest
		if err := decodeJSON(r, w, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}

		// the validator has already checked every format below
		date, _ := appointment.ParseDate(req.Date)
		start, _ := appointment.ParseClock(req.StartTime)

		res, err := svc.Book(r.Context(), appointment.BookingInput{
			Category:    appointment.Category(req.Category),
			Date:        date,
			StartTime:   start,
			ProviderID:  uuid.MustParse(req.ProviderID),
			RequestKind: appointment.RequestKind(req.RequestKind),
			RequestID:   uuid.MustParse(req.RequestID),
		})
		if err != nil {
			handleBookingError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusCreated, toBookingResponse(res))
	}
}

func getAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		detail, err := svc.GetAppointment(r.Context(), id)
		if err != nil {
			handleTransitionError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(detail.Appointment, detail.Provider))
	}
}

func confirmAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return transitionHandler(svc.ConfirmAppointment, logger)
}

func cancelAppointmentHandler(svc AppointmentService, logger *zap.Logger) http.HandlerFunc {
	return transitionHandler(svc.CancelAppointment, logger)
}

func transitionHandler(apply func(context.Context, uuid.UUID) (*appointment.Appointment, error), logger *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := appointmentIDParam(w, r)
		if !ok {
			return
		}

		appt, err := apply(r.Context(), id)
		if err != nil {
			handleTransitionError(w, r, logger, err)
			return
		}

		writeJSON(w, http.StatusOK, toAppointmentResponse(*appt, nil))
	}
}

func appointmentIDParam(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_appointment_id", "id must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func handleBookingError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrInvalidBooking):
		writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.Is(err, appointment.ErrSlotCrossesMidnight):
		writeError(w, http.StatusBadRequest, "slot_crosses_midnight", err.Error())
	case errors.Is(err, appointment.ErrProviderNotFound):
		writeError(w, http.StatusNotFound, "provider_not_found", err.Error())
	case errors.Is(err, appointment.ErrProviderInactive):
		writeError(w, http.StatusBadRequest, "provider_inactive", err.Error())
	case errors.Is(err, appointment.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", appointment.ErrSlotUnavailable.Error())
	case errors.Is(err, appointment.ErrSlotBeingBooked):
		writeError(w, http.StatusConflict, "slot_being_booked", err.Error())
	case errors.Is(err, appointment.ErrRequestNotFound):
		writeError(w, http.StatusNotFound, "request_not_found", err.Error())
	case errors.Is(err, appointment.ErrRequestAlreadyScheduled):
		writeError(w, http.StatusConflict, "request_already_scheduled", appointment.ErrRequestAlreadyScheduled.Error())
	default:
		logger.Error("booking failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not complete the booking")
	}
}

func handleTransitionError(w http.ResponseWriter, r *http.Request, logger *zap.Logger, err error) {
	switch {
	case errors.Is(err, appointment.ErrAppointmentNotFound):
		writeError(w, http.StatusNotFound, "appointment_not_found", appointment.ErrAppointmentNotFound.Error())
	case errors.Is(err, appointment.ErrInvalidStatusTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		logger.Error("appointment request failed",
			zap.String("request_id", GetRequestID(r.Context())),
			zap.Error(err),
		)
		writeError(w, http.StatusInternalServerError, "internal_error", "could not process the appointment")
	}
}
