package appointment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/boring-ventures/vivir-feliz/internal/config"
	"github.com/boring-ventures/vivir-feliz/internal/metrics"
	redisclient "github.com/boring-ventures/vivir-feliz/internal/redis"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentConfirmed = "APPOINTMENT_CONFIRMED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
)

var ErrInvalidStatusTransition = errors.New("invalid status transition")

// AvailabilityCache stores computed availability under a generation number.
// Invalidate moves every reader to a fresh generation.
type AvailabilityCache interface {
	Generation(ctx context.Context) (int64, error)
	Get(ctx context.Context, gen int64, key string, dst any) (bool, error)
	Set(ctx context.Context, gen int64, key string, v any) error
	Invalidate(ctx context.Context) error
}

type Service struct {
	repo    Repository
	locker  redisclient.Locker
	cache   AvailabilityCache
	metrics *metrics.Metrics
	logger  *zap.Logger
	cfg     config.Config
	now     func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ClinicTimezone == nil {
		cfg.ClinicTimezone = time.UTC
	}
	return &Service{
		repo:   repo,
		locker: locker,
		logger: logger,
		cfg:    cfg,
		now:    time.Now,
	}
}

// WithCache enables the availability cache.
func (s *Service) WithCache(c AvailabilityCache) *Service {
	s.cache = c
	return s
}

func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// WithClock replaces the wall clock, for tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

func (s *Service) today() time.Time {
	return dateOf(s.now().In(s.cfg.ClinicTimezone))
}

// GetAppointment retrieves an appointment together with its provider.
func (s *Service) GetAppointment(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	provider, err := s.repo.GetProviderByID(ctx, appt.ProviderID)
	if err != nil && !errors.Is(err, ErrProviderNotFound) {
		return nil, fmt.Errorf("get appointment provider: %w", err)
	}

	return &AppointmentDetail{Appointment: *appt, Provider: provider}, nil
}

// ConfirmAppointment moves a scheduled appointment to confirmed.
func (s *Service) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return s.transition(ctx, id, []AppointmentStatus{StatusScheduled}, StatusConfirmed, EventAppointmentConfirmed)
}

// CancelAppointment releases the slot. The originating intake request stays
// scheduled so it can never be booked a second time.
func (s *Service) CancelAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	appt, err := s.transition(ctx, id, []AppointmentStatus{StatusScheduled, StatusConfirmed}, StatusCancelled, EventAppointmentCancelled)
	if err != nil {
		return nil, err
	}
	s.invalidateAvailability(ctx)
	return appt, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus, event string) (*Appointment, error) {
	appt, err := s.repo.GetAppointmentByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load appointment: %w", err)
	}
	if !statusIn(appt.Status, from) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, appt.Status, to)
	}

	var updated *Appointment
	err = s.repo.WithinTx(ctx, func(tx Repository) error {
		u, err := tx.UpdateAppointmentStatus(ctx, id, from, to)
		if err != nil {
			if errors.Is(err, ErrAppointmentNotFound) {
				// someone else moved it first
				return ErrInvalidStatusTransition
			}
			return fmt.Errorf("update appointment status: %w", err)
		}
		updated = u
		return s.logEvent(ctx, tx, u.ID, event, map[string]any{
			"from": string(appt.Status),
			"to":   string(to),
		})
	})
	if err != nil {
		return nil, err
	}

	s.metrics.ObserveTransition(string(to))
	s.logger.Info("appointment status changed",
		zap.String("appointment_id", id.String()),
		zap.String("from", string(appt.Status)),
		zap.String("to", string(to)),
	)
	return updated, nil
}

func (s *Service) invalidateAvailability(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("availability cache invalidation failed", zap.Error(err))
	}
}

// logEvent writes through the given repository so that, inside a
// transaction, the event commits or rolls back with the change it records.
func (s *Service) logEvent(ctx context.Context, repo Repository, appointmentID uuid.UUID, eventType string, payload map[string]any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		s.logger.Warn("failed to marshal event payload", zap.String("event", eventType), zap.Error(err))
		data = nil
	}

	apptID := appointmentID

	ev := EventLog{
		EventType:     eventType,
		AppointmentID: &apptID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := repo.InsertEvent(ctx, ev); err != nil {
		return fmt.Errorf("insert event %s: %w", eventType, err)
	}
	return nil
}

func statusIn(status AppointmentStatus, set []AppointmentStatus) bool {
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}
