package appointment

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var ErrInvalidCategory = errors.New("unknown appointment category")

// AvailabilityQuery carries the raw range strings so that malformed or
// missing dates can fall back to defaults instead of failing.
type AvailabilityQuery struct {
	Category Category
	Start    string
	End      string
}

type Slot struct {
	Time         Clock     `json:"time"`
	ProviderID   uuid.UUID `json:"provider_id"`
	ProviderName string    `json:"provider_name"`
}

type DaySlots struct {
	Date  time.Time `json:"date"`
	Slots []Slot    `json:"slots"`
}

type Availability struct {
	Category Category   `json:"category"`
	Start    time.Time  `json:"start"`
	End      time.Time  `json:"end"`
	Days     []DaySlots `json:"days"`
}

// ResolveRange turns the optional raw dates into an inclusive [start, end]
// range. Anything unparsable falls back to today..today+defaultDays; ranges
// longer than maxDays are cut.
func ResolveRange(rawStart, rawEnd string, today time.Time, defaultDays, maxDays int) (time.Time, time.Time) {
	today = dateOf(today)
	start, end := today, today.AddDate(0, 0, defaultDays)

	if rawStart != "" {
		if s, err := ParseDate(rawStart); err == nil {
			start = s
			end = s.AddDate(0, 0, defaultDays)
		}
	}
	if rawEnd != "" {
		if e, err := ParseDate(rawEnd); err == nil {
			end = e
		}
	}

	if end.Before(start) {
		return today, today.AddDate(0, 0, defaultDays)
	}
	if limit := start.AddDate(0, 0, maxDays); end.After(limit) {
		end = limit
	}
	return start, end
}

// ComputeAvailability walks every date in [start, end] and returns the open
// slots per date. Agendas are evaluated in the order given; when two
// providers offer the same time on a date, the earlier agenda keeps it.
func ComputeAvailability(agendas []ProviderAgenda, category Category, start, end time.Time, sessionMinutes int) []DaySlots {
	booked := make(map[uuid.UUID]map[string]bool, len(agendas))
	for _, a := range agendas {
		set := make(map[string]bool, len(a.Booked))
		for _, b := range a.Booked {
			set[bookedKey(b.Date, b.Start)] = true
		}
		booked[a.Provider.ID] = set
	}

	var days []DaySlots
	for date := dateOf(start); !date.After(dateOf(end)); date = date.AddDate(0, 0, 1) {
		weekday := DayOfWeekOf(date)

		var slots []Slot
		for _, a := range agendas {
			sched := a.Schedule
			for _, w := range sched.Windows {
				if w.DayOfWeek != weekday || !w.Available || !w.Allows(category) {
					continue
				}
				for _, t := range windowCandidates(w, sched.SlotMinutes, sched.BreakMinutes, sessionMinutes) {
					slotEnd := t + Clock(sched.SlotMinutes)
					if blockedOn(sched.Blocked, date, t, slotEnd) {
						continue
					}
					if restingOn(sched.RestPeriods, weekday, t, slotEnd) {
						continue
					}
					if booked[a.Provider.ID][bookedKey(date, t)] {
						continue
					}
					slots = append(slots, Slot{
						Time:         t,
						ProviderID:   a.Provider.ID,
						ProviderName: a.Provider.Name,
					})
				}
			}
		}

		days = append(days, DaySlots{Date: date, Slots: dedupeByTime(slots)})
	}
	return days
}

// windowCandidates steps from the window start in slot+break increments.
// A step is offered while it starts before the window end; generation stops
// once the next step would reach midnight, and a step whose booking would run
// past midnight is never offered.
func windowCandidates(w WeeklyWindow, slotMinutes, breakMinutes, sessionMinutes int) []Clock {
	if slotMinutes <= 0 || breakMinutes < 0 {
		return nil
	}
	step := slotMinutes + breakMinutes
	occupied := max(slotMinutes, sessionMinutes)

	var out []Clock
	for t := w.Start; t < w.End; t += Clock(step) {
		if int(t)+occupied > MinutesPerDay {
			break
		}
		out = append(out, t)
		if int(t)+step >= MinutesPerDay {
			break
		}
	}
	return out
}

// blockedOn and restingOn exclude a slot only when the interval fully
// contains it.
func blockedOn(blocked []BlockedInterval, date time.Time, start, end Clock) bool {
	for _, b := range blocked {
		if dateOf(b.Date).Equal(date) && b.Start <= start && end <= b.End {
			return true
		}
	}
	return false
}

func restingOn(rests []RestPeriod, day DayOfWeek, start, end Clock) bool {
	for _, r := range rests {
		if r.DayOfWeek == day && r.Start <= start && end <= r.End {
			return true
		}
	}
	return false
}

func dedupeByTime(slots []Slot) []Slot {
	sort.SliceStable(slots, func(i, j int) bool {
		return slots[i].Time < slots[j].Time
	})

	out := make([]Slot, 0, len(slots))
	for _, s := range slots {
		if n := len(out); n > 0 && out[n-1].Time == s.Time {
			continue
		}
		out = append(out, s)
	}
	return out
}

func bookedKey(date time.Time, start Clock) string {
	return FormatDate(date) + "T" + start.String()
}

// Availability answers the public slot query. It only reads; callers must
// still go through Book, which re-validates the slot.
func (s *Service) Availability(ctx context.Context, q AvailabilityQuery) (*Availability, error) {
	if !q.Category.Valid() {
		return nil, ErrInvalidCategory
	}

	started := s.now()
	start, end := ResolveRange(q.Start, q.End, s.today(), s.cfg.AvailabilityDefaultDays, s.cfg.AvailabilityMaxDays)
	cacheKey := fmt.Sprintf("%s:%s:%s", q.Category, FormatDate(start), FormatDate(end))

	// The generation is read before Postgres so a booking that commits in
	// between bumps it and our result lands under a key nobody reads.
	var gen int64
	cacheable := false
	if s.cache != nil {
		var err error
		gen, err = s.cache.Generation(ctx)
		if err != nil {
			s.logger.Warn("availability cache generation failed", zap.Error(err))
		} else {
			cacheable = true
			var cached Availability
			hit, err := s.cache.Get(ctx, gen, cacheKey, &cached)
			if err != nil {
				s.logger.Warn("availability cache read failed", zap.Error(err))
			} else if hit {
				s.metrics.ObserveAvailability(string(q.Category), true, s.now().Sub(started))
				return &cached, nil
			}
		}
	}

	agendas, err := s.repo.ListProviderAgendas(ctx, q.Category, start, end)
	if err != nil {
		return nil, fmt.Errorf("list provider agendas: %w", err)
	}

	result := &Availability{
		Category: q.Category,
		Start:    start,
		End:      end,
		Days:     ComputeAvailability(agendas, q.Category, start, end, s.cfg.SessionMinutes),
	}

	if cacheable {
		if err := s.cache.Set(ctx, gen, cacheKey, result); err != nil {
			s.logger.Warn("availability cache write failed", zap.Error(err))
		}
	}

	s.metrics.ObserveAvailability(string(q.Category), false, s.now().Sub(started))
	return result, nil
}
