package appointment

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
)

// memRepo is an in-memory Repository that enforces the same uniqueness rules
// as the partial indexes. WithinTx serializes transactions and restores the
// previous state when fn fails.
type memRepo struct {
	mu   sync.Mutex
	txMu *sync.Mutex

	providers    []Provider
	schedules    map[uuid.UUID]Schedule
	appointments map[uuid.UUID]Appointment
	requests     map[RequestKind]map[uuid.UUID]IntakeRequest
	events       []EventLog

	failMarkScheduled error
}

func newMemRepo() *memRepo {
	return &memRepo{
		txMu:         &sync.Mutex{},
		schedules:    make(map[uuid.UUID]Schedule),
		appointments: make(map[uuid.UUID]Appointment),
		requests: map[RequestKind]map[uuid.UUID]IntakeRequest{
			RequestConsultation: {},
			RequestInterview:    {},
		},
	}
}

func (r *memRepo) addProvider(p Provider, s Schedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Date(2025, 1, 1, 0, 0, len(r.providers), 0, time.UTC)
	}
	s.ProviderID = p.ID
	r.providers = append(r.providers, p)
	r.schedules[p.ID] = s
}

func (r *memRepo) addRequest(req IntakeRequest) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if req.Status == "" {
		req.Status = RequestPending
	}
	r.requests[req.Kind][req.ID] = req
}

func (r *memRepo) request(kind RequestKind, id uuid.UUID) IntakeRequest {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.requests[kind][id]
}

func (r *memRepo) liveAppointments() []Appointment {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Appointment
	for _, a := range r.appointments {
		if a.Status != StatusCancelled {
			out = append(out, a)
		}
	}
	return out
}

func (r *memRepo) eventTypes() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, e := range r.events {
		out = append(out, e.EventType)
	}
	return out
}

func (r *memRepo) ListProviderAgendas(_ context.Context, category Category, from, to time.Time) ([]ProviderAgenda, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []ProviderAgenda
	for _, p := range r.providers {
		s, ok := r.schedules[p.ID]
		if !ok || !s.Active || !p.Schedulable() {
			continue
		}
		agenda := ProviderAgenda{Provider: p, Schedule: s}
		agenda.Schedule.Windows = nil
		for _, w := range s.Windows {
			if w.Available && w.Allows(category) {
				agenda.Schedule.Windows = append(agenda.Schedule.Windows, w)
			}
		}
		for _, a := range r.appointments {
			if a.ProviderID == p.ID && a.Status != StatusCancelled && !a.Date.Before(from) && !a.Date.After(to) {
				agenda.Booked = append(agenda.Booked, BookedSlot{Date: a.Date, Start: a.StartTime})
			}
		}
		out = append(out, agenda)
	}
	return out, nil
}

func (r *memRepo) GetProviderByID(_ context.Context, id uuid.UUID) (*Provider, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.providers {
		if p.ID == id {
			p := p
			return &p, nil
		}
	}
	return nil, ErrProviderNotFound
}

func (r *memRepo) GetActiveAppointmentForSlot(_ context.Context, providerID uuid.UUID, date time.Time, start Clock) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, a := range r.appointments {
		if a.ProviderID == providerID && a.Date.Equal(date) && a.StartTime == start && a.Status != StatusCancelled {
			a := a
			return &a, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (r *memRepo) GetAppointmentByID(_ context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (r *memRepo) GetIntakeRequestForUpdate(_ context.Context, kind RequestKind, id uuid.UUID) (*IntakeRequest, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	req, ok := r.requests[kind][id]
	if !ok {
		return nil, ErrRequestNotFound
	}
	return &req, nil
}

func (r *memRepo) CreateAppointment(_ context.Context, a Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.appointments {
		if existing.Status != StatusCancelled && existing.ProviderID == a.ProviderID &&
			existing.Date.Equal(a.Date) && existing.StartTime == a.StartTime {
			return nil, ErrSlotUnavailable
		}
		if existing.RequestKind == a.RequestKind && existing.RequestID == a.RequestID {
			return nil, ErrRequestAlreadyScheduled
		}
	}
	a.CreatedAt = time.Now()
	a.UpdatedAt = a.CreatedAt
	r.appointments[a.ID] = a
	return &a, nil
}

func (r *memRepo) MarkIntakeScheduled(_ context.Context, kind RequestKind, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMarkScheduled != nil {
		return r.failMarkScheduled
	}
	req, ok := r.requests[kind][id]
	if !ok {
		return ErrRequestNotFound
	}
	if req.Status == RequestScheduled {
		return ErrRequestAlreadyScheduled
	}
	req.Status = RequestScheduled
	r.requests[kind][id] = req
	return nil
}

func (r *memRepo) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from []AppointmentStatus, to AppointmentStatus) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.appointments[id]
	if !ok || !statusIn(a.Status, from) {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	r.appointments[id] = a
	return &a, nil
}

func (r *memRepo) InsertEvent(_ context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	ev.ID = int64(len(r.events) + 1)
	r.events = append(r.events, ev)
	return nil
}

func (r *memRepo) WithinTx(_ context.Context, fn func(tx Repository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()

	snapshot := r.snapshot()
	if err := fn(memTx{r}); err != nil {
		r.restore(snapshot)
		return err
	}
	return nil
}

// memTx is the repository handed to WithinTx callbacks; nested calls join the
// running transaction.
type memTx struct{ *memRepo }

func (t memTx) WithinTx(_ context.Context, fn func(tx Repository) error) error {
	return fn(t)
}

type memState struct {
	appointments map[uuid.UUID]Appointment
	requests     map[RequestKind]map[uuid.UUID]IntakeRequest
	events       []EventLog
}

func (r *memRepo) snapshot() memState {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := memState{
		appointments: make(map[uuid.UUID]Appointment, len(r.appointments)),
		requests:     make(map[RequestKind]map[uuid.UUID]IntakeRequest, len(r.requests)),
		events:       append([]EventLog(nil), r.events...),
	}
	for k, v := range r.appointments {
		s.appointments[k] = v
	}
	for kind, m := range r.requests {
		s.requests[kind] = make(map[uuid.UUID]IntakeRequest, len(m))
		for k, v := range m {
			s.requests[kind][k] = v
		}
	}
	return s
}

func (r *memRepo) restore(s memState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.appointments = s.appointments
	r.requests = s.requests
	r.events = s.events
}

// passLocker always grants the lock so races reach the repository.
type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, _ string, fn func(context.Context) error) error {
	return fn(ctx)
}

type failingLocker struct{ err error }

func (l failingLocker) WithSlotLock(context.Context, string, func(context.Context) error) error {
	return l.err
}

var errStoreDown = errors.New("store down")
