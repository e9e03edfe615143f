package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boring-ventures/vivir-feliz/internal/appointment"
)

type stubService struct {
	availability func(ctx context.Context, q appointment.AvailabilityQuery) (*appointment.Availability, error)
	book         func(ctx context.Context, in appointment.BookingInput) (*appointment.BookingResult, error)
	get          func(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error)
	confirm      func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
	cancel       func(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error)
}

func (s *stubService) Availability(ctx context.Context, q appointment.AvailabilityQuery) (*appointment.Availability, error) {
	return s.availability(ctx, q)
}

func (s *stubService) Book(ctx context.Context, in appointment.BookingInput) (*appointment.BookingResult, error) {
	return s.book(ctx, in)
}

func (s *stubService) GetAppointment(ctx context.Context, id uuid.UUID) (*appointment.AppointmentDetail, error) {
	return s.get(ctx, id)
}

func (s *stubService) ConfirmAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.confirm(ctx, id)
}

func (s *stubService) CancelAppointment(ctx context.Context, id uuid.UUID) (*appointment.Appointment, error) {
	return s.cancel(ctx, id)
}

const testStaffKey = "staff-secret"

func newTestRouter(svc AppointmentService) http.Handler {
	return NewRouter(RouterConfig{
		Service:     svc,
		CORSOrigins: []string{"http://localhost:3000"},
		StaffAPIKey: testStaffKey,
		Env:         "test",
	})
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(HeaderAPIKey, testStaffKey)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return resp
}

func TestAvailabilityHandler(t *testing.T) {
	providerID := uuid.New()
	day := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	var got appointment.AvailabilityQuery
	svc := &stubService{
		availability: func(_ context.Context, q appointment.AvailabilityQuery) (*appointment.Availability, error) {
			got = q
			return &appointment.Availability{
				Category: q.Category,
				Start:    day,
				End:      day.AddDate(0, 0, 1),
				Days: []appointment.DaySlots{
					{Date: day, Slots: []appointment.Slot{
						{Time: appointment.MustParseClock("08:00"), ProviderID: providerID, ProviderName: "Ana"},
						{Time: appointment.MustParseClock("09:15"), ProviderID: providerID, ProviderName: "Ana"},
					}},
					{Date: day.AddDate(0, 0, 1), Slots: nil},
				},
			}, nil
		},
	}

	rec := do(t, newTestRouter(svc), http.MethodGet, "/availability?category=CONSULTATION&start=2025-03-10&end=2025-03-11", "")
	require.Equal(t, http.StatusOK, rec.Code)

	assert.Equal(t, appointment.CategoryConsultation, got.Category)
	assert.Equal(t, "2025-03-10", got.Start)
	assert.Equal(t, "2025-03-11", got.End)

	var resp AvailabilityResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "CONSULTATION", resp.Category)
	assert.Equal(t, "2025-03-10", resp.StartDate)
	assert.Equal(t, "2025-03-11", resp.EndDate)
	require.Len(t, resp.Days["2025-03-10"], 2)
	assert.Equal(t, "08:00", resp.Days["2025-03-10"][0].Time)
	assert.Equal(t, "09:15", resp.Days["2025-03-10"][1].Time)
	assert.Equal(t, providerID, resp.Days["2025-03-10"][0].ProviderID)
	assert.Equal(t, "Ana", resp.Days["2025-03-10"][0].ProviderName)
	assert.Contains(t, resp.Days, "2025-03-11")
	assert.Empty(t, resp.Days["2025-03-11"])
}

func TestAvailabilityHandler_Validation(t *testing.T) {
	svc := &stubService{
		availability: func(context.Context, appointment.AvailabilityQuery) (*appointment.Availability, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	h := newTestRouter(svc)

	for _, target := range []string{"/availability", "/availability?category=MASSAGE"} {
		rec := do(t, h, http.MethodGet, target, "")
		assert.Equal(t, http.StatusBadRequest, rec.Code, target)
		assert.Equal(t, "invalid_request", decodeError(t, rec).Error, target)
	}
}

func TestAvailabilityHandler_StoreFailure(t *testing.T) {
	svc := &stubService{
		availability: func(context.Context, appointment.AvailabilityQuery) (*appointment.Availability, error) {
			return nil, errors.New("connection reset")
		},
	}

	rec := do(t, newTestRouter(svc), http.MethodGet, "/availability?category=SESSION", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	resp := decodeError(t, rec)
	assert.Equal(t, "internal_error", resp.Error)
	assert.NotContains(t, resp.Details, "connection reset")
}

func bookingBody(providerID, requestID uuid.UUID, start string) string {
	return fmt.Sprintf(`{"category":"CONSULTATION","date":"2025-03-10","start_time":%q,"provider_id":%q,"request_kind":"consultation","request_id":%q}`,
		start, providerID, requestID)
}

func TestCreateAppointmentHandler(t *testing.T) {
	providerID, requestID, apptID := uuid.New(), uuid.New(), uuid.New()
	date := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	var got appointment.BookingInput
	svc := &stubService{
		book: func(_ context.Context, in appointment.BookingInput) (*appointment.BookingResult, error) {
			got = in
			return &appointment.BookingResult{
				Appointment: appointment.Appointment{
					ID:          apptID,
					DisplayID:   "CON-" + apptID.String() + "-123456",
					Category:    in.Category,
					Date:        in.Date,
					StartTime:   in.StartTime,
					EndTime:     in.StartTime + 60,
					Status:      appointment.StatusScheduled,
					ProviderID:  in.ProviderID,
					RequestKind: in.RequestKind,
					RequestID:   in.RequestID,
				},
				Provider: appointment.Provider{ID: providerID, Name: "Ana"},
				Contact: appointment.Contact{
					ChildName:       "Mateo",
					ResponsibleName: "Lucia",
					Phone:           "+59170000000",
					Email:           "lucia@example.com",
				},
			}, nil
		},
	}

	rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", bookingBody(providerID, requestID, "14:30"))
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, appointment.CategoryConsultation, got.Category)
	assert.Equal(t, date, got.Date)
	assert.Equal(t, appointment.MustParseClock("14:30"), got.StartTime)
	assert.Equal(t, providerID, got.ProviderID)
	assert.Equal(t, appointment.RequestConsultation, got.RequestKind)
	assert.Equal(t, requestID, got.RequestID)

	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, apptID, resp.ID)
	assert.Equal(t, "14:30", resp.StartTime)
	assert.Equal(t, "15:30", resp.EndTime)
	assert.Equal(t, "scheduled", resp.Status)
	assert.Equal(t, "2025-03-10", resp.Date)
	assert.Equal(t, "Ana", resp.Provider.Name)
	assert.Equal(t, "Mateo", resp.Contact.ChildName)
	assert.Equal(t, "Lucia", resp.Contact.ResponsibleName)
	assert.True(t, strings.HasPrefix(resp.DisplayID, "CON-"))
}

func TestCreateAppointmentHandler_Validation(t *testing.T) {
	svc := &stubService{
		book: func(context.Context, appointment.BookingInput) (*appointment.BookingResult, error) {
			t.Fatal("service must not be called")
			return nil, nil
		},
	}
	h := newTestRouter(svc)
	pid, rid := uuid.New(), uuid.New()

	tests := []struct {
		name    string
		body    string
		details string
	}{
		{"malformed json", `{"category":`, "could not parse JSON"},
		{"unknown field", `{"category":"CONSULTATION","extra":1}`, "could not parse JSON"},
		{"bad category", strings.Replace(bookingBody(pid, rid, "09:00"), "CONSULTATION", "MASSAGE", 1), "category"},
		{"bad time", bookingBody(pid, rid, "9am"), "start_time"},
		{"end of day is not a start", bookingBody(pid, rid, "24:00"), "start_time"},
		{"signed hour", bookingBody(pid, rid, "+9:00"), "start_time"},
		{"bad provider", strings.Replace(bookingBody(pid, rid, "09:00"), pid.String(), "nope", 1), "provider_id"},
		{"bad date", strings.Replace(bookingBody(pid, rid, "09:00"), "2025-03-10", "10/03/2025", 1), "date"},
		{"bad kind", strings.Replace(bookingBody(pid, rid, "09:00"), `"consultation"`, `"walk_in"`, 1), "request_kind"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, http.MethodPost, "/appointments", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decodeError(t, rec)
			assert.Equal(t, "invalid_request", resp.Error)
			assert.Contains(t, resp.Details, tt.details)
		})
	}
}

func TestCreateAppointmentHandler_ErrorMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
		code   string
	}{
		{appointment.ErrProviderNotFound, http.StatusNotFound, "provider_not_found"},
		{appointment.ErrProviderInactive, http.StatusBadRequest, "provider_inactive"},
		{appointment.ErrSlotUnavailable, http.StatusConflict, "slot_unavailable"},
		{fmt.Errorf("%w: appointments_provider_slot_uniq", appointment.ErrSlotUnavailable), http.StatusConflict, "slot_unavailable"},
		{appointment.ErrSlotBeingBooked, http.StatusConflict, "slot_being_booked"},
		{appointment.ErrRequestNotFound, http.StatusNotFound, "request_not_found"},
		{appointment.ErrRequestAlreadyScheduled, http.StatusConflict, "request_already_scheduled"},
		{appointment.ErrSlotCrossesMidnight, http.StatusBadRequest, "slot_crosses_midnight"},
		{fmt.Errorf("%w: date is required", appointment.ErrInvalidBooking), http.StatusBadRequest, "invalid_request"},
		{errors.New("tx aborted"), http.StatusInternalServerError, "internal_error"},
		{fmt.Errorf("acquire slot lock: %w", errors.New("dial tcp: connection refused")), http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			svc := &stubService{
				book: func(context.Context, appointment.BookingInput) (*appointment.BookingResult, error) {
					return nil, tt.err
				},
			}
			rec := do(t, newTestRouter(svc), http.MethodPost, "/appointments", bookingBody(uuid.New(), uuid.New(), "09:00"))
			assert.Equal(t, tt.status, rec.Code)
			assert.Equal(t, tt.code, decodeError(t, rec).Error)
		})
	}
}

func TestGetAppointmentHandler(t *testing.T) {
	id, providerID := uuid.New(), uuid.New()
	svc := &stubService{
		get: func(_ context.Context, got uuid.UUID) (*appointment.AppointmentDetail, error) {
			if got != id {
				return nil, appointment.ErrAppointmentNotFound
			}
			return &appointment.AppointmentDetail{
				Appointment: appointment.Appointment{
					ID:         id,
					Category:   appointment.CategoryInterview,
					Date:       time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC),
					StartTime:  appointment.MustParseClock("10:00"),
					EndTime:    appointment.MustParseClock("11:00"),
					Status:     appointment.StatusConfirmed,
					ProviderID: providerID,
				},
				Provider: &appointment.Provider{ID: providerID, Name: "Ana"},
			}, nil
		},
	}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodGet, "/appointments/"+id.String(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp.Status)
	assert.Equal(t, "Ana", resp.Provider.Name)
	assert.Nil(t, resp.RequestID)

	rec = do(t, h, http.MethodGet, "/appointments/"+uuid.NewString(), "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "appointment_not_found", decodeError(t, rec).Error)

	rec = do(t, h, http.MethodGet, "/appointments/not-a-uuid", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_appointment_id", decodeError(t, rec).Error)
}

func TestTransitionHandlers(t *testing.T) {
	id := uuid.New()
	transitioned := func(status appointment.AppointmentStatus) func(context.Context, uuid.UUID) (*appointment.Appointment, error) {
		return func(_ context.Context, got uuid.UUID) (*appointment.Appointment, error) {
			return &appointment.Appointment{ID: got, Status: status}, nil
		}
	}
	svc := &stubService{
		confirm: transitioned(appointment.StatusConfirmed),
		cancel: func(context.Context, uuid.UUID) (*appointment.Appointment, error) {
			return nil, fmt.Errorf("%w: cancelled -> cancelled", appointment.ErrInvalidStatusTransition)
		},
	}
	h := newTestRouter(svc)

	rec := do(t, h, http.MethodPost, "/appointments/"+id.String()+"/confirm", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var resp AppointmentResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "confirmed", resp.Status)

	rec = do(t, h, http.MethodPost, "/appointments/"+id.String()+"/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_status_transition", decodeError(t, rec).Error)
}
