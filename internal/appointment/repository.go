package appointment

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrProviderNotFound    = errors.New("provider not found")
	ErrRequestNotFound     = errors.New("intake request not found")
	ErrAppointmentNotFound = errors.New("appointment not found")
)

// Repository contains all DB interactions needed by the service.
type Repository interface {
	// Availability reads
	ListProviderAgendas(ctx context.Context, category Category, from, to time.Time) ([]ProviderAgenda, error)

	GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error)

	// For conflict checks
	GetActiveAppointmentForSlot(ctx context.Context, providerID uuid.UUID, date time.Time, start Clock) (*Appointment, error)
	GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error)

	// GetIntakeRequestForUpdate loads the request and, inside a transaction,
	// holds its row lock until commit.
	GetIntakeRequestForUpdate(ctx context.Context, kind RequestKind, id uuid.UUID) (*IntakeRequest, error)

	// Creation and updates
	CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error)
	MarkIntakeScheduled(ctx context.Context, kind RequestKind, id uuid.UUID) error
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error)

	// Event logging
	InsertEvent(ctx context.Context, ev EventLog) error

	// WithinTx runs fn against a repository bound to one transaction. fn's
	// error rolls everything back.
	WithinTx(ctx context.Context, fn func(tx Repository) error) error
}
