package handoff

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/domain/order"
	"github.com/example/quickdrop-slots/internal/internaltypes"
)

// Store is the part of Repo the dispatcher needs.
type Store interface {
	Due(ctx context.Context, limit int) ([]Handoff, error)
	MarkAttempt(ctx context.Context, id uuid.UUID, a Attempt) error
}

type OrderPlacer interface {
	PlaceOrder(ctx context.Context, slug string, req order.Request) (order.Receipt, error)
}

type RelayPublisher interface {
	Publish(ctx context.Context, m order.RelayMessage) error
}

type Recorder interface {
	Handoff(result string)
}

// Dispatcher polls for pending handoffs and places them as orders.
type Dispatcher struct {
	Store       Store
	Orders      OrderPlacer
	Relay       RelayPublisher // optional
	Metrics     Recorder       // optional
	Interval    time.Duration
	MaxAttempts int
	Log         *zap.Logger

	now func() time.Time
}

func (d *Dispatcher) Run(ctx context.Context) error {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	t := time.NewTicker(d.Interval)
	defer t.Stop()

	// kick immediately
	d.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			d.tick(ctx)
		}
	}
}

func (d *Dispatcher) clock() time.Time {
	if d.now != nil {
		return d.now()
	}
	return time.Now()
}

// tick submits due handoffs one at a time so two ticks never race on the
// same slot.
func (d *Dispatcher) tick(ctx context.Context) {
	hs, err := d.Store.Due(ctx, 25)
	if err != nil {
		d.Log.Error("due handoffs query failed", zap.Error(err))
		return
	}

	now := d.clock()
	for _, h := range hs {
		if ctx.Err() != nil {
			return
		}
		if h.NextAttemptAt(d.Interval).After(now) {
			continue
		}
		d.attempt(ctx, h)
	}
}

func (d *Dispatcher) attempt(ctx context.Context, h Handoff) {
	log := d.Log.With(zap.String("handoff_id", h.ID.String()), zap.String("business", h.BusinessSlug),
		zap.String("appointment", h.Appointment))

	receipt, err := d.Orders.PlaceOrder(ctx, h.BusinessSlug, h.OrderRequest())
	if err != nil {
		final := h.Attempts+1 >= d.MaxAttempts || permanent(err)
		msg := fmt.Sprintf("place order failed: %v", err)
		if merr := d.Store.MarkAttempt(ctx, h.ID, Attempt{Error: msg, Final: final}); merr != nil {
			log.Error("recording failed attempt", zap.Error(merr))
		}
		if final {
			d.record("failed")
			log.Warn("handoff failed", zap.Int("attempts", h.Attempts+1), zap.Error(err))
		} else {
			d.record("retry")
			log.Info("handoff will retry", zap.Int("attempts", h.Attempts+1), zap.Error(err))
		}
		return
	}

	if err := d.Store.MarkAttempt(ctx, h.ID, Attempt{Success: true, OrderID: receipt.OrderID, Output: "placed"}); err != nil {
		log.Error("recording successful attempt", zap.String("order_id", receipt.OrderID), zap.Error(err))
	}
	d.record("submitted")
	log.Info("handoff submitted", zap.String("order_id", receipt.OrderID))

	if d.Relay == nil || receipt.BusinessPhone == "" {
		return
	}
	// the order is placed; a relay failure is only logged
	if err := d.Relay.Publish(ctx, order.BuildRelayMessage(receipt, h.CustomerName, h.Notes)); err != nil {
		log.Warn("relay publish failed", zap.Error(err))
	}
}

func (d *Dispatcher) record(result string) {
	if d.Metrics != nil {
		d.Metrics.Handoff(result)
	}
}

// permanent reports backend rejections that a retry cannot fix.
func permanent(err error) bool {
	return errors.Is(err, internaltypes.ErrInvalidInput) || errors.Is(err, internaltypes.ErrNotFound)
}
