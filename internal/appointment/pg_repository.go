package appointment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

// Names of the partial unique indexes that back the booking invariants.
const (
	constraintProviderSlot        = "appointments_provider_slot_uniq"
	constraintConsultationRequest = "appointments_consultation_request_uniq"
	constraintInterviewRequest    = "appointments_interview_request_uniq"
)

var intakeTables = map[RequestKind]string{
	RequestConsultation: "consultation_requests",
	RequestInterview:    "interview_requests",
}

// DBTX is the query surface shared by *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Pool is what PgRepository needs from a connection pool.
type Pool interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	pool Pool
	db   DBTX
	inTx bool
}

func NewPgRepository(pool Pool) *PgRepository {
	return &PgRepository{pool: pool, db: pool}
}

const appointmentColumns = `
	id, display_id, category, date,
	to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
	status, provider_id, patient_id,
	child_name, responsible_name, phone, email,
	consultation_request_id, interview_request_id,
	created_at, updated_at`

// Helpers

func scanProvider(row pgx.Row) (*Provider, error) {
	var p Provider
	var role string

	err := row.Scan(&p.ID, &p.Name, &role, &p.Active, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProviderNotFound
		}
		return nil, err
	}

	p.Role = ProviderRole(role)
	return &p, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var (
		a                                  Appointment
		category, status, start, end       string
		childName, responsible, phone, eml *string
		consultationID, interviewID        *uuid.UUID
	)

	err := row.Scan(
		&a.ID,
		&a.DisplayID,
		&category,
		&a.Date,
		&start,
		&end,
		&status,
		&a.ProviderID,
		&a.PatientID,
		&childName,
		&responsible,
		&phone,
		&eml,
		&consultationID,
		&interviewID,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	if a.StartTime, err = ParseClock(start); err != nil {
		return nil, fmt.Errorf("appointment %s start_time: %w", a.ID, err)
	}
	if a.EndTime, err = ParseClock(end); err != nil {
		return nil, fmt.Errorf("appointment %s end_time: %w", a.ID, err)
	}

	a.Category = Category(category)
	a.Status = AppointmentStatus(status)
	a.Date = dateOf(a.Date)
	a.ChildName = deref(childName)
	a.ResponsibleName = deref(responsible)
	a.Phone = deref(phone)
	a.Email = deref(eml)

	switch {
	case consultationID != nil:
		a.RequestKind, a.RequestID = RequestConsultation, *consultationID
	case interviewID != nil:
		a.RequestKind, a.RequestID = RequestInterview, *interviewID
	}

	return &a, nil
}

func scanIntakeRequest(row pgx.Row, kind RequestKind) (*IntakeRequest, error) {
	r := IntakeRequest{Kind: kind}
	var status string
	var email *string

	err := row.Scan(&r.ID, &r.ChildName, &r.ResponsibleName, &r.Phone, &email, &status, &r.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrRequestNotFound
		}
		return nil, err
	}

	r.Email = deref(email)
	r.Status = RequestStatus(status)
	return &r, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

// Interface methods

func (r *PgRepository) WithinTx(ctx context.Context, fn func(tx Repository) error) error {
	if r.inTx {
		return fn(r)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgRepository{pool: r.pool, db: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *PgRepository) GetProviderByID(ctx context.Context, id uuid.UUID) (*Provider, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, role, active, created_at
		FROM providers
		WHERE id = $1
	`, id)
	return scanProvider(row)
}

// ListProviderAgendas loads schedulable providers in evaluation order
// (created_at, id) with their schedule pieces and live bookings in range.
func (r *PgRepository) ListProviderAgendas(ctx context.Context, category Category, from, to time.Time) ([]ProviderAgenda, error) {
	rows, err := r.db.Query(ctx, `
		SELECT p.id, p.name, p.role, p.active, p.created_at,
		       s.id, s.slot_minutes, s.break_minutes, s.active, s.timezone
		FROM providers p
		JOIN schedules s ON s.provider_id = p.id AND s.active
		WHERE p.active AND p.role = 'therapist'
		ORDER BY p.created_at, p.id
	`)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}

	var agendas []ProviderAgenda
	for rows.Next() {
		var a ProviderAgenda
		var role string
		if err := rows.Scan(
			&a.Provider.ID, &a.Provider.Name, &role, &a.Provider.Active, &a.Provider.CreatedAt,
			&a.Schedule.ID, &a.Schedule.SlotMinutes, &a.Schedule.BreakMinutes, &a.Schedule.Active, &a.Schedule.Timezone,
		); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		a.Provider.Role = ProviderRole(role)
		a.Schedule.ProviderID = a.Provider.ID
		agendas = append(agendas, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate providers: %w", err)
	}
	if len(agendas) == 0 {
		return nil, nil
	}

	bySchedule := make(map[uuid.UUID]*ProviderAgenda, len(agendas))
	byProvider := make(map[uuid.UUID]*ProviderAgenda, len(agendas))
	scheduleIDs := make([]uuid.UUID, 0, len(agendas))
	providerIDs := make([]uuid.UUID, 0, len(agendas))
	for i := range agendas {
		a := &agendas[i]
		bySchedule[a.Schedule.ID] = a
		byProvider[a.Provider.ID] = a
		scheduleIDs = append(scheduleIDs, a.Schedule.ID)
		providerIDs = append(providerIDs, a.Provider.ID)
	}

	if err := r.loadWindows(ctx, bySchedule, scheduleIDs, category); err != nil {
		return nil, err
	}
	if err := r.loadRestPeriods(ctx, bySchedule, scheduleIDs); err != nil {
		return nil, err
	}
	if err := r.loadBlocked(ctx, bySchedule, scheduleIDs, from, to); err != nil {
		return nil, err
	}
	if err := r.loadBooked(ctx, byProvider, providerIDs, from, to); err != nil {
		return nil, err
	}

	return agendas, nil
}

func (r *PgRepository) loadWindows(ctx context.Context, bySchedule map[uuid.UUID]*ProviderAgenda, ids []uuid.UUID, category Category) error {
	rows, err := r.db.Query(ctx, `
		SELECT schedule_id, day_of_week,
		       to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
		       categories, available
		FROM weekly_windows
		WHERE schedule_id = ANY($1)
		  AND available
		  AND $2 = ANY(categories)
		ORDER BY schedule_id, start_time
	`, ids, string(category))
	if err != nil {
		return fmt.Errorf("query weekly windows: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scheduleID uuid.UUID
		var day, start, end string
		var categories []string
		var w WeeklyWindow
		if err := rows.Scan(&scheduleID, &day, &start, &end, &categories, &w.Available); err != nil {
			return fmt.Errorf("scan weekly window: %w", err)
		}
		if w.Start, err = ParseClock(start); err != nil {
			return fmt.Errorf("weekly window start: %w", err)
		}
		if w.End, err = ParseClock(end); err != nil {
			return fmt.Errorf("weekly window end: %w", err)
		}
		w.DayOfWeek = DayOfWeek(day)
		for _, c := range categories {
			w.Categories = append(w.Categories, Category(c))
		}
		if a, ok := bySchedule[scheduleID]; ok {
			a.Schedule.Windows = append(a.Schedule.Windows, w)
		}
	}
	return rows.Err()
}

func (r *PgRepository) loadRestPeriods(ctx context.Context, bySchedule map[uuid.UUID]*ProviderAgenda, ids []uuid.UUID) error {
	rows, err := r.db.Query(ctx, `
		SELECT schedule_id, day_of_week,
		       to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI')
		FROM rest_periods
		WHERE schedule_id = ANY($1)
	`, ids)
	if err != nil {
		return fmt.Errorf("query rest periods: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scheduleID uuid.UUID
		var day, start, end string
		var p RestPeriod
		if err := rows.Scan(&scheduleID, &day, &start, &end); err != nil {
			return fmt.Errorf("scan rest period: %w", err)
		}
		if p.Start, err = ParseClock(start); err != nil {
			return fmt.Errorf("rest period start: %w", err)
		}
		if p.End, err = ParseClock(end); err != nil {
			return fmt.Errorf("rest period end: %w", err)
		}
		p.DayOfWeek = DayOfWeek(day)
		if a, ok := bySchedule[scheduleID]; ok {
			a.Schedule.RestPeriods = append(a.Schedule.RestPeriods, p)
		}
	}
	return rows.Err()
}

func (r *PgRepository) loadBlocked(ctx context.Context, bySchedule map[uuid.UUID]*ProviderAgenda, ids []uuid.UUID, from, to time.Time) error {
	rows, err := r.db.Query(ctx, `
		SELECT schedule_id, date,
		       to_char(start_time, 'HH24:MI'), to_char(end_time, 'HH24:MI'),
		       reason, recurring
		FROM blocked_intervals
		WHERE schedule_id = ANY($1)
		  AND date BETWEEN $2 AND $3
	`, ids, from, to)
	if err != nil {
		return fmt.Errorf("query blocked intervals: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var scheduleID uuid.UUID
		var start, end string
		var b BlockedInterval
		if err := rows.Scan(&scheduleID, &b.Date, &start, &end, &b.Reason, &b.Recurring); err != nil {
			return fmt.Errorf("scan blocked interval: %w", err)
		}
		if b.Start, err = ParseClock(start); err != nil {
			return fmt.Errorf("blocked interval start: %w", err)
		}
		if b.End, err = ParseClock(end); err != nil {
			return fmt.Errorf("blocked interval end: %w", err)
		}
		b.Date = dateOf(b.Date)
		if a, ok := bySchedule[scheduleID]; ok {
			a.Schedule.Blocked = append(a.Schedule.Blocked, b)
		}
	}
	return rows.Err()
}

func (r *PgRepository) loadBooked(ctx context.Context, byProvider map[uuid.UUID]*ProviderAgenda, ids []uuid.UUID, from, to time.Time) error {
	rows, err := r.db.Query(ctx, `
		SELECT provider_id, date, to_char(start_time, 'HH24:MI')
		FROM appointments
		WHERE provider_id = ANY($1)
		  AND date BETWEEN $2 AND $3
		  AND status <> 'cancelled'
	`, ids, from, to)
	if err != nil {
		return fmt.Errorf("query booked appointments: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var providerID uuid.UUID
		var start string
		var b BookedSlot
		if err := rows.Scan(&providerID, &b.Date, &start); err != nil {
			return fmt.Errorf("scan booked appointment: %w", err)
		}
		if b.Start, err = ParseClock(start); err != nil {
			return fmt.Errorf("booked appointment start: %w", err)
		}
		b.Date = dateOf(b.Date)
		if a, ok := byProvider[providerID]; ok {
			a.Booked = append(a.Booked, b)
		}
	}
	return rows.Err()
}

func (r *PgRepository) GetActiveAppointmentForSlot(ctx context.Context, providerID uuid.UUID, date time.Time, start Clock) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
		  AND date = $2
		  AND start_time = $3::time
		  AND status <> 'cancelled'
	`, providerID, date, start.String())
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetIntakeRequestForUpdate(ctx context.Context, kind RequestKind, id uuid.UUID) (*IntakeRequest, error) {
	table, ok := intakeTables[kind]
	if !ok {
		return nil, fmt.Errorf("%w: unknown request kind %q", ErrInvalidBooking, kind)
	}

	lock := ""
	if r.inTx {
		lock = "FOR UPDATE"
	}

	row := r.db.QueryRow(ctx, fmt.Sprintf(`
		SELECT id, child_name, responsible_name, phone, email, status, created_at
		FROM %s
		WHERE id = $1
		%s
	`, table, lock), id)
	return scanIntakeRequest(row, kind)
}

func (r *PgRepository) CreateAppointment(ctx context.Context, a Appointment) (*Appointment, error) {
	var consultationID, interviewID *uuid.UUID
	switch a.RequestKind {
	case RequestConsultation:
		consultationID = &a.RequestID
	case RequestInterview:
		interviewID = &a.RequestID
	}

	row := r.db.QueryRow(ctx, `
		INSERT INTO appointments (
			id, display_id, category, date, start_time, end_time, status,
			provider_id, patient_id, child_name, responsible_name, phone, email,
			consultation_request_id, interview_request_id, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5::time, $6::time, $7, $8, $9, $10, $11, $12, $13, $14, $15, now(), now())
		RETURNING `+appointmentColumns,
		a.ID, a.DisplayID, string(a.Category), a.Date, a.StartTime.String(), a.EndTime.String(), string(a.Status),
		a.ProviderID, a.PatientID, nullable(a.ChildName), nullable(a.ResponsibleName), nullable(a.Phone), nullable(a.Email),
		consultationID, interviewID,
	)

	created, err := scanAppointment(row)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return created, nil
}

func (r *PgRepository) MarkIntakeScheduled(ctx context.Context, kind RequestKind, id uuid.UUID) error {
	table, ok := intakeTables[kind]
	if !ok {
		return fmt.Errorf("%w: unknown request kind %q", ErrInvalidBooking, kind)
	}

	tag, err := r.db.Exec(ctx, fmt.Sprintf(`
		UPDATE %s
		SET status = 'scheduled',
		    updated_at = now()
		WHERE id = $1
		  AND status <> 'scheduled'
	`, table), id)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrRequestAlreadyScheduled
	}
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	fromStrings := make([]string, len(from))
	for i, s := range from {
		fromStrings[i] = string(s)
	}

	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = ANY($3)
		RETURNING `+appointmentColumns,
		id, string(to), fromStrings,
	)

	updated, err := scanAppointment(row)
	if err != nil {
		return nil, mapUniqueViolation(err)
	}
	return updated, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.AppointmentID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != pgUniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case constraintProviderSlot:
		return fmt.Errorf("%w: %s", ErrSlotUnavailable, pgErr.ConstraintName)
	case constraintConsultationRequest, constraintInterviewRequest:
		return fmt.Errorf("%w: %s", ErrRequestAlreadyScheduled, pgErr.ConstraintName)
	}
	return err
}
