package appointment

import (
	"time"

	"github.com/google/uuid"
)

type Category string

const (
	CategoryConsultation Category = "CONSULTATION"
	CategoryInterview    Category = "INTERVIEW"
	CategorySession      Category = "SESSION"
	CategoryFollowUp     Category = "FOLLOW_UP"
)

var categoryTags = map[Category]string{
	CategoryConsultation: "CON",
	CategoryInterview:    "ENT",
	CategorySession:      "SES",
	CategoryFollowUp:     "SEG",
}

func (c Category) Valid() bool {
	_, ok := categoryTags[c]
	return ok
}

// Tag is the short prefix used in display identifiers.
func (c Category) Tag() string {
	if tag, ok := categoryTags[c]; ok {
		return tag
	}
	return "APT"
}

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusConfirmed AppointmentStatus = "confirmed"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
	StatusNoShow    AppointmentStatus = "no_show"
)

type RequestKind string

const (
	RequestConsultation RequestKind = "consultation"
	RequestInterview    RequestKind = "interview"
)

func (k RequestKind) Valid() bool {
	return k == RequestConsultation || k == RequestInterview
}

type RequestStatus string

const (
	RequestPending   RequestStatus = "pending"
	RequestScheduled RequestStatus = "scheduled"
	RequestCompleted RequestStatus = "completed"
	RequestCancelled RequestStatus = "cancelled"
)

type ProviderRole string

const (
	RoleTherapist   ProviderRole = "therapist"
	RoleCoordinator ProviderRole = "coordinator"
	RoleAdmin       ProviderRole = "admin"
)

type DayOfWeek string

const (
	Monday    DayOfWeek = "MONDAY"
	Tuesday   DayOfWeek = "TUESDAY"
	Wednesday DayOfWeek = "WEDNESDAY"
	Thursday  DayOfWeek = "THURSDAY"
	Friday    DayOfWeek = "FRIDAY"
	Saturday  DayOfWeek = "SATURDAY"
	Sunday    DayOfWeek = "SUNDAY"
)

var weekdayNames = [...]DayOfWeek{Sunday, Monday, Tuesday, Wednesday, Thursday, Friday, Saturday}

func DayOfWeekOf(t time.Time) DayOfWeek {
	return weekdayNames[t.Weekday()]
}

type Provider struct {
	ID        uuid.UUID
	Name      string
	Role      ProviderRole
	Active    bool
	CreatedAt time.Time
}

// Schedulable reports whether the provider may hold bookings.
func (p Provider) Schedulable() bool {
	return p.Active && p.Role == RoleTherapist
}

type Schedule struct {
	ID           uuid.UUID
	ProviderID   uuid.UUID
	SlotMinutes  int
	BreakMinutes int
	Active       bool
	Timezone     string
	Windows      []WeeklyWindow
	RestPeriods  []RestPeriod
	Blocked      []BlockedInterval
}

type WeeklyWindow struct {
	DayOfWeek  DayOfWeek
	Start      Clock
	End        Clock
	Categories []Category
	Available  bool
}

func (w WeeklyWindow) Allows(c Category) bool {
	for _, allowed := range w.Categories {
		if allowed == c {
			return true
		}
	}
	return false
}

type RestPeriod struct {
	DayOfWeek DayOfWeek
	Start     Clock
	End       Clock
}

type BlockedInterval struct {
	Date      time.Time
	Start     Clock
	End       Clock
	Reason    *string
	Recurring bool
}

// BookedSlot is the part of an existing appointment the calculator needs.
type BookedSlot struct {
	Date  time.Time
	Start Clock
}

// ProviderAgenda bundles everything availability needs for one provider over
// a date range.
type ProviderAgenda struct {
	Provider Provider
	Schedule Schedule
	Booked   []BookedSlot
}

type Appointment struct {
	ID              uuid.UUID
	DisplayID       string
	Category        Category
	Date            time.Time
	StartTime       Clock
	EndTime         Clock
	Status          AppointmentStatus
	ProviderID      uuid.UUID
	PatientID       *uuid.UUID
	ChildName       string
	ResponsibleName string
	Phone           string
	Email           string
	RequestKind     RequestKind
	RequestID       uuid.UUID
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

type IntakeRequest struct {
	ID              uuid.UUID
	Kind            RequestKind
	ChildName       string
	ResponsibleName string
	Phone           string
	Email           string
	Status          RequestStatus
	CreatedAt       time.Time
}

// Contact is the snapshot copied from an intake request onto an appointment.
type Contact struct {
	ChildName       string
	ResponsibleName string
	Phone           string
	Email           string
}

type EventLog struct {
	ID            int64
	EventType     string
	AppointmentID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}

type AppointmentDetail struct {
	Appointment
	Provider *Provider
}
