package usecases

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/domain/availability"
	"github.com/example/quickdrop-slots/internal/internaltypes"
)

type HoursSource interface {
	BusinessHours(ctx context.Context, slug string) (availability.Schedule, error)
}

type BusySource interface {
	BusyTimes(ctx context.Context, slug string, date time.Time) ([]string, error)
}

// LocalBookings reports slots held by handoffs not yet visible upstream.
type LocalBookings interface {
	BookedTimes(ctx context.Context, slug, date string) ([]string, error)
}

// Grid is the slot list of one business on one date.
type Grid struct {
	Business string              `json:"business"`
	Date     string              `json:"date"`
	Step     int                 `json:"appointment_interval"`
	Slots    []availability.Slot `json:"slots"`
	// Partial is set when busy times could not be loaded.
	Partial bool `json:"partial"`
	// DefaultHours is set when the published hours could not be loaded and
	// the storefront defaults were used instead.
	DefaultHours bool `json:"default_hours"`
}

// Find returns the slot at clock ("HH:MM").
func (g Grid) Find(clock string) (availability.Slot, bool) {
	for _, s := range g.Slots {
		if s.Time == clock {
			return s, true
		}
	}
	return availability.Slot{}, false
}

type ListSlots struct {
	Hours    HoursSource
	Busy     BusySource
	Local    LocalBookings // optional
	Location *time.Location
	Log      *zap.Logger
}

// Execute builds the grid for date as seen at now. A failed busy-time lookup
// still returns the generated slots, flagged Partial. A failed hours lookup
// falls back to the default week, flagged DefaultHours, unless the business
// does not exist or ctx is done.
func (u ListSlots) Execute(ctx context.Context, slug string, date, now time.Time) (Grid, error) {
	loc := u.Location
	if loc == nil {
		loc = time.Local
	}
	log := u.Log
	if log == nil {
		log = zap.NewNop()
	}

	date = availability.Midnight(date.In(loc))
	if date.Before(availability.Midnight(now.In(loc))) {
		return Grid{}, fmt.Errorf("slots for %s: %w", date.Format(availability.DateLayout), internaltypes.ErrPastDate)
	}
	key := date.Format(availability.DateLayout)

	defaulted := false
	sched, err := u.Hours.BusinessHours(ctx, slug)
	if err != nil {
		if errors.Is(err, internaltypes.ErrNotFound) || ctx.Err() != nil {
			return Grid{}, fmt.Errorf("hours for %s: %w", slug, err)
		}
		log.Warn("business hours unavailable; using default hours", zap.String("business", slug), zap.Error(err))
		sched, defaulted = availability.Schedule{}, true
	}
	sched = sched.Normalize()

	grid := Grid{Business: slug, Date: key, Step: int(sched.Step), DefaultHours: defaulted}

	busy := availability.BusySet{}
	raw, err := u.Busy.BusyTimes(ctx, slug, date)
	if err != nil {
		grid.Partial = true
		log.Warn("busy times unavailable", zap.String("business", slug), zap.String("date", key), zap.Error(err))
	} else {
		busy = availability.NewBusySet(raw)
	}
	if u.Local != nil {
		held, err := u.Local.BookedTimes(ctx, slug, key)
		if err != nil {
			log.Warn("local bookings unavailable", zap.String("business", slug), zap.String("date", key), zap.Error(err))
		}
		for _, t := range held {
			busy.Add(t)
		}
	}

	times := availability.GenerateSlots(sched.Hours, sched.Step, date, now.In(loc))
	grid.Slots = availability.Annotate(times, busy)
	if grid.Slots == nil {
		grid.Slots = []availability.Slot{}
	}
	return grid, nil
}
