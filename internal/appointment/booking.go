package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	redisclient "github.com/boring-ventures/vivir-feliz/internal/redis"
)

var (
	ErrInvalidBooking          = errors.New("invalid booking request")
	ErrProviderInactive        = errors.New("provider is not active or cannot take appointments")
	ErrSlotUnavailable         = errors.New("slot is no longer available")
	ErrSlotBeingBooked         = errors.New("slot is currently being booked, please pick again")
	ErrSlotCrossesMidnight     = errors.New("appointment would run past midnight")
	ErrRequestAlreadyScheduled = errors.New("intake request is already scheduled")
)

type BookingInput struct {
	Category    Category
	Date        time.Time
	StartTime   Clock
	ProviderID  uuid.UUID
	RequestKind RequestKind
	RequestID   uuid.UUID
}

func (in BookingInput) validate() error {
	switch {
	case !in.Category.Valid():
		return fmt.Errorf("%w: %v", ErrInvalidBooking, ErrInvalidCategory)
	case !in.RequestKind.Valid():
		return fmt.Errorf("%w: unknown request kind %q", ErrInvalidBooking, in.RequestKind)
	case in.Date.IsZero():
		return fmt.Errorf("%w: date is required", ErrInvalidBooking)
	case in.StartTime < 0 || in.StartTime >= MinutesPerDay:
		return fmt.Errorf("%w: %v", ErrInvalidBooking, ErrInvalidClock)
	case in.ProviderID == uuid.Nil:
		return fmt.Errorf("%w: provider id is required", ErrInvalidBooking)
	case in.RequestID == uuid.Nil:
		return fmt.Errorf("%w: request id is required", ErrInvalidBooking)
	}
	return nil
}

type BookingResult struct {
	Appointment Appointment
	Provider    Provider
	Contact     Contact
}

// Book turns a chosen slot into a scheduled appointment and marks the intake
// request scheduled in the same transaction. The slot is re-checked here
// regardless of what availability showed earlier; the partial unique index
// on (provider, date, start) is the final word when two bookings race.
func (s *Service) Book(ctx context.Context, in BookingInput) (*BookingResult, error) {
	res, err := s.book(ctx, in)
	s.metrics.ObserveBooking(bookingOutcome(err))
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *Service) book(ctx context.Context, in BookingInput) (*BookingResult, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	date := dateOf(in.Date)

	end, ok := in.StartTime.Add(s.cfg.SessionMinutes)
	if !ok {
		return nil, ErrSlotCrossesMidnight
	}

	provider, err := s.repo.GetProviderByID(ctx, in.ProviderID)
	if err != nil {
		if errors.Is(err, ErrProviderNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load provider: %w", err)
	}
	if !provider.Schedulable() {
		return nil, ErrProviderInactive
	}

	var result *BookingResult

	err = s.locker.WithSlotLock(ctx, slotLockKey(in.ProviderID, date, in.StartTime), func(lockCtx context.Context) error {
		return s.repo.WithinTx(lockCtx, func(tx Repository) error {
			// The request row lock comes first so a resubmitted request is
			// always reported as already scheduled, whatever slot it names.
			req, err := tx.GetIntakeRequestForUpdate(lockCtx, in.RequestKind, in.RequestID)
			if err != nil {
				if errors.Is(err, ErrRequestNotFound) {
					return err
				}
				return fmt.Errorf("load intake request: %w", err)
			}
			if req.Status == RequestScheduled {
				return ErrRequestAlreadyScheduled
			}

			existing, err := tx.GetActiveAppointmentForSlot(lockCtx, in.ProviderID, date, in.StartTime)
			if err != nil && !errors.Is(err, ErrAppointmentNotFound) {
				return fmt.Errorf("check slot: %w", err)
			}
			if existing != nil {
				return ErrSlotUnavailable
			}

			id := uuid.New()
			appt, err := tx.CreateAppointment(lockCtx, Appointment{
				ID:              id,
				DisplayID:       DisplayID(in.Category, id, s.now()),
				Category:        in.Category,
				Date:            date,
				StartTime:       in.StartTime,
				EndTime:         end,
				Status:          StatusScheduled,
				ProviderID:      in.ProviderID,
				ChildName:       req.ChildName,
				ResponsibleName: req.ResponsibleName,
				Phone:           req.Phone,
				Email:           req.Email,
				RequestKind:     in.RequestKind,
				RequestID:       in.RequestID,
			})
			if err != nil {
				if errors.Is(err, ErrSlotUnavailable) || errors.Is(err, ErrRequestAlreadyScheduled) {
					return err
				}
				return fmt.Errorf("create appointment: %w", err)
			}

			if err := tx.MarkIntakeScheduled(lockCtx, in.RequestKind, in.RequestID); err != nil {
				if errors.Is(err, ErrRequestAlreadyScheduled) {
					return err
				}
				return fmt.Errorf("mark intake scheduled: %w", err)
			}

			if err := s.logEvent(lockCtx, tx, appt.ID, EventAppointmentBooked, map[string]any{
				"provider_id":  in.ProviderID.String(),
				"date":         FormatDate(date),
				"start_time":   in.StartTime.String(),
				"request_kind": string(in.RequestKind),
				"request_id":   in.RequestID.String(),
			}); err != nil {
				return err
			}

			result = &BookingResult{
				Appointment: *appt,
				Provider:    *provider,
				Contact: Contact{
					ChildName:       req.ChildName,
					ResponsibleName: req.ResponsibleName,
					Phone:           req.Phone,
					Email:           req.Email,
				},
			}
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, ErrSlotBeingBooked
		}
		return nil, err
	}

	s.invalidateAvailability(ctx)

	s.logger.Info("appointment booked",
		zap.String("appointment_id", result.Appointment.ID.String()),
		zap.String("display_id", result.Appointment.DisplayID),
		zap.String("provider_id", in.ProviderID.String()),
		zap.String("date", FormatDate(date)),
		zap.String("start_time", in.StartTime.String()),
		zap.String("request_kind", string(in.RequestKind)),
		zap.String("request_id", in.RequestID.String()),
	)

	return result, nil
}

func slotLockKey(providerID uuid.UUID, date time.Time, start Clock) string {
	return fmt.Sprintf("%s:%s:%s", providerID, FormatDate(date), start)
}

func bookingOutcome(err error) string {
	switch {
	case err == nil:
		return "booked"
	case errors.Is(err, ErrInvalidBooking), errors.Is(err, ErrSlotCrossesMidnight):
		return "invalid"
	case errors.Is(err, ErrProviderNotFound):
		return "provider_not_found"
	case errors.Is(err, ErrProviderInactive):
		return "provider_inactive"
	case errors.Is(err, ErrSlotUnavailable):
		return "slot_unavailable"
	case errors.Is(err, ErrSlotBeingBooked):
		return "slot_being_booked"
	case errors.Is(err, ErrRequestNotFound):
		return "request_not_found"
	case errors.Is(err, ErrRequestAlreadyScheduled):
		return "request_already_scheduled"
	default:
		return "error"
	}
}
