package usecases

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/example/quickdrop-slots/internal/domain/availability"
	"github.com/example/quickdrop-slots/internal/handoff"
	"github.com/example/quickdrop-slots/internal/internaltypes"
)

// HandoffRequest is a customer's confirmed slot.
type HandoffRequest struct {
	TenantID     string `json:"tenant_id" validate:"required"`
	ItemID       string `json:"item_id" validate:"required"`
	Quantity     int    `json:"quantity" validate:"omitempty,min=1,max=20"`
	CustomerName string `json:"customer_name" validate:"required,max=120"`
	Notes        string `json:"notes" validate:"max=500"`
	Date         string `json:"date" validate:"required,datetime=2006-01-02"`
	Time         string `json:"time" validate:"required,datetime=15:04"`
}

type HandoffStore interface {
	Create(ctx context.Context, h handoff.Handoff) (handoff.Handoff, error)
}

type HandoffRecorder interface {
	Handoff(result string)
}

type EnqueueHandoff struct {
	Slots     ListSlots
	Store     HandoffStore
	Validator *validator.Validate
	Metrics   HandoffRecorder // optional
	Now       func() time.Time
}

// Execute re-checks the slot against a fresh grid and queues the handoff.
func (u EnqueueHandoff) Execute(ctx context.Context, slug string, req HandoffRequest) (handoff.Handoff, error) {
	v := u.Validator
	if v == nil {
		v = validator.New()
	}
	if err := v.Struct(req); err != nil {
		u.record("invalid")
		return handoff.Handoff{}, fmt.Errorf("%w: %s", internaltypes.ErrInvalidInput, describe(err))
	}
	if req.Quantity == 0 {
		req.Quantity = 1
	}

	now := time.Now()
	if u.Now != nil {
		now = u.Now()
	}
	loc := u.Slots.Location
	if loc == nil {
		loc = time.Local
	}
	date, err := availability.ParseDate(req.Date, loc)
	if err != nil {
		u.record("invalid")
		return handoff.Handoff{}, fmt.Errorf("%w: %v", internaltypes.ErrInvalidInput, err)
	}

	grid, err := u.Slots.Execute(ctx, slug, date, now)
	if err != nil {
		if errors.Is(err, internaltypes.ErrPastDate) || errors.Is(err, internaltypes.ErrNotFound) {
			u.record("invalid")
		} else {
			u.record("upstream_error")
		}
		return handoff.Handoff{}, err
	}
	if grid.Partial || grid.DefaultHours {
		u.record("unavailable")
		return handoff.Handoff{}, fmt.Errorf("confirm %s %s: %w", req.Date, req.Time, internaltypes.ErrNotReady)
	}
	slot, ok := grid.Find(req.Time)
	if !ok {
		u.record("unknown_slot")
		return handoff.Handoff{}, fmt.Errorf("confirm %s %s: %w", req.Date, req.Time, internaltypes.ErrUnknownSlot)
	}
	if slot.Busy {
		u.record("busy")
		return handoff.Handoff{}, fmt.Errorf("confirm %s %s: %w", req.Date, req.Time, internaltypes.ErrSlotBusy)
	}

	h, err := u.Store.Create(ctx, handoff.Handoff{
		BusinessSlug: slug,
		TenantID:     req.TenantID,
		ItemID:       req.ItemID,
		Quantity:     req.Quantity,
		CustomerName: strings.TrimSpace(req.CustomerName),
		Notes:        strings.TrimSpace(req.Notes),
		Appointment:  grid.Date + "T" + slot.Time,
	})
	if err != nil {
		if errors.Is(err, internaltypes.ErrSlotBusy) {
			u.record("busy")
		}
		return handoff.Handoff{}, err
	}
	u.record("created")
	return h, nil
}

func (u EnqueueHandoff) record(result string) {
	if u.Metrics != nil {
		u.Metrics.Handoff(result)
	}
}

func describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("%s failed %s", fe.Field(), fe.Tag()))
	}
	return strings.Join(parts, ", ")
}
