package api

import (
	"github.com/google/uuid"

	"github.com/boring-ventures/vivir-feliz/internal/appointment"
)

type AvailabilityRequest struct {
	Category string `json:"category" validate:"required,category"`
	Start    string `json:"start"`
	End      string `json:"end"`
}

type CreateAppointmentRequest struct {
	Category    string `json:"category" validate:"required,category"`
	Date        string `json:"date" validate:"required,isodate"`
	StartTime   string `json:"start_time" validate:"required,clock"`
	ProviderID  string `json:"provider_id" validate:"required,uuid"`
	RequestKind string `json:"request_kind" validate:"required,request_kind"`
	RequestID   string `json:"request_id" validate:"required,uuid"`
}

type SlotResponse struct {
	Time         string    `json:"time"`
	ProviderID   uuid.UUID `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
}

type AvailabilityResponse struct {
	Category  string                    `json:"category"`
	StartDate string                    `json:"start_date"`
	EndDate   string                    `json:"end_date"`
	Days      map[string][]SlotResponse `json:"days"`
}

type ProviderSummary struct {
	ID   uuid.UUID `json:"id"`
	Name string    `json:"name,omitempty"`
}

type ContactResponse struct {
	ChildName       string `json:"child_name"`
	ResponsibleName string `json:"responsible_name"`
	Phone           string `json:"phone"`
	Email           string `json:"email,omitempty"`
}

type AppointmentResponse struct {
	ID          uuid.UUID       `json:"id"`
	DisplayID   string          `json:"display_id"`
	Category    string          `json:"category"`
	Date        string          `json:"date"`
	StartTime   string          `json:"start_time"`
	EndTime     string          `json:"end_time"`
	Status      string          `json:"status"`
	RequestKind string          `json:"request_kind,omitempty"`
	RequestID   *uuid.UUID      `json:"request_id,omitempty"`
	Provider    ProviderSummary `json:"provider"`
	Contact     ContactResponse `json:"contact"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toAvailabilityResponse(a *appointment.Availability) AvailabilityResponse {
	days := make(map[string][]SlotResponse, len(a.Days))
	for _, d := range a.Days {
		slots := make([]SlotResponse, 0, len(d.Slots))
		for _, s := range d.Slots {
			slots = append(slots, SlotResponse{
				Time:         s.Time.String(),
				ProviderID:   s.ProviderID,
				ProviderName: s.ProviderName,
			})
		}
		days[appointment.FormatDate(d.Date)] = slots
	}

	return AvailabilityResponse{
		Category:  string(a.Category),
		StartDate: appointment.FormatDate(a.Start),
		EndDate:   appointment.FormatDate(a.End),
		Days:      days,
	}
}

func toAppointmentResponse(a appointment.Appointment, provider *appointment.Provider) AppointmentResponse {
	resp := AppointmentResponse{
		ID:          a.ID,
		DisplayID:   a.DisplayID,
		Category:    string(a.Category),
		Date:        appointment.FormatDate(a.Date),
		StartTime:   a.StartTime.String(),
		EndTime:     a.EndTime.String(),
		Status:      string(a.Status),
		RequestKind: string(a.RequestKind),
		Provider:    ProviderSummary{ID: a.ProviderID},
		Contact: ContactResponse{
			ChildName:       a.ChildName,
			ResponsibleName: a.ResponsibleName,
			Phone:           a.Phone,
			Email:           a.Email,
		},
	}
	if a.RequestID != uuid.Nil {
		id := a.RequestID
		resp.RequestID = &id
	}
	if provider != nil {
		resp.Provider.Name = provider.Name
	}
	return resp
}

func toBookingResponse(res *appointment.BookingResult) AppointmentResponse {
	resp := toAppointmentResponse(res.Appointment, &res.Provider)
	resp.Contact = ContactResponse{
		ChildName:       res.Contact.ChildName,
		ResponsibleName: res.Contact.ResponsibleName,
		Phone:           res.Contact.Phone,
		Email:           res.Contact.Email,
	}
	return resp
}
