// Package slotview keeps the bookable slots of one business current while a
// customer picks an appointment time.
package slotview

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/domain/availability"
	"github.com/example/quickdrop-slots/internal/domain/push"
	"github.com/example/quickdrop-slots/internal/internaltypes"
)

// AvailabilitySource returns the raw booked times of a business on date.
type AvailabilitySource interface {
	BusyTimes(ctx context.Context, business string, date time.Time) ([]string, error)
}

// Notification announces a booking that just landed on the selected date.
type Notification struct {
	Date    string
	Time    string
	Message string
	TTL     time.Duration
}

// Notifier surfaces transient notifications (toast, sound).
type Notifier interface {
	Notify(n Notification)
}

// Recorder receives counters; metrics.Recorder implements it.
type Recorder interface {
	BusyFetch(result string)
	PushEvent(outcome string)
}

// ConfirmFunc receives the chosen item and "YYYY-MM-DDTHH:MM".
type ConfirmFunc func(itemID, dateTime string)

type State int

const (
	StateNoDate State = iota
	StateLoading
	StateReady
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateNoDate:
		return "no-date"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

type Config struct {
	Business string // availability lookups
	TenantID string // push channel scope
	ItemID   string
	Schedule availability.Schedule
	Location *time.Location
	// NotifyTTL is how long a booking notification stays visible.
	NotifyTTL time.Duration
}

// Confirmation is the value handed to the booking flow.
type Confirmation struct {
	ItemID   string
	DateTime string
}

type View struct {
	cfg       Config
	source    AvailabilitySource
	channel   push.Channel
	notifier  Notifier
	rec       Recorder
	onConfirm ConfirmFunc
	onChange  func(State)
	now       func() time.Time
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu          sync.Mutex
	state       State
	date        time.Time
	dateKey     string
	epoch       uint64
	busy        availability.BusySet
	live        availability.BusySet
	sub         push.Subscription
	opening     bool
	cancelFetch context.CancelFunc
}

type Option func(*View)

func WithNotifier(n Notifier) Option { return func(v *View) { v.notifier = n } }

func WithRecorder(r Recorder) Option { return func(v *View) { v.rec = r } }

func WithOnConfirm(f ConfirmFunc) Option { return func(v *View) { v.onConfirm = f } }

// WithOnChange is called after every state or busy-set change, outside the lock.
func WithOnChange(f func(State)) Option { return func(v *View) { v.onChange = f } }

func WithClock(now func() time.Time) Option { return func(v *View) { v.now = now } }

func WithLogger(l *zap.Logger) Option { return func(v *View) { v.log = l } }

// New builds a view. channel may be nil, in which case no live updates arrive.
func New(cfg Config, source AvailabilitySource, channel push.Channel, opts ...Option) *View {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.NotifyTTL <= 0 {
		cfg.NotifyTTL = 6 * time.Second
	}
	cfg.Schedule = cfg.Schedule.Normalize()

	v := &View{
		cfg:     cfg,
		source:  source,
		channel: channel,
		now:     time.Now,
		log:     zap.NewNop(),
		busy:    availability.BusySet{},
		live:    availability.BusySet{},
	}
	for _, o := range opts {
		o(v)
	}
	v.ctx, v.cancel = context.WithCancel(context.Background())
	return v
}

// Open subscribes to the business push channel. A failed subscription is
// logged and the view keeps working without live updates. Calls made while a
// subscription is already held or in flight are no-ops.
func (v *View) Open(ctx context.Context) error {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return internaltypes.ErrViewClosed
	}
	if v.sub != nil || v.opening || v.channel == nil {
		v.mu.Unlock()
		return nil
	}
	v.opening = true
	v.mu.Unlock()

	sub, err := v.channel.Subscribe(ctx, v.cfg.TenantID, push.Listener{
		OnMessage:   v.handlePush,
		OnReconnect: v.Revalidate,
	})

	v.mu.Lock()
	v.opening = false
	if err != nil {
		v.mu.Unlock()
		v.log.Warn("push subscribe failed; live updates disabled",
			zap.String("tenant_id", v.cfg.TenantID), zap.Error(err))
		return nil
	}
	if v.state == StateClosed || v.sub != nil {
		v.mu.Unlock()
		return sub.Close()
	}
	v.sub = sub
	v.mu.Unlock()
	return nil
}

// SelectDate switches the view to date, discarding the previous slot list and
// busy set, and starts loading busy times in the background.
func (v *View) SelectDate(date time.Time) error {
	date = availability.Midnight(date.In(v.cfg.Location))
	today := availability.Midnight(v.now().In(v.cfg.Location))
	if date.Before(today) {
		return fmt.Errorf("select %s: %w", date.Format(availability.DateLayout), internaltypes.ErrPastDate)
	}

	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return internaltypes.ErrViewClosed
	}
	v.date = date
	v.dateKey = date.Format(availability.DateLayout)
	v.busy = availability.BusySet{}
	epoch := v.startFetchLocked()
	key := v.dateKey
	v.mu.Unlock()

	v.log.Debug("date selected", zap.String("date", key), zap.Uint64("epoch", epoch))
	v.changed(StateLoading)
	return nil
}

// Revalidate refetches busy times for the current date without clearing what
// is already known. Push adapters call it after reconnecting.
func (v *View) Revalidate() {
	v.mu.Lock()
	if v.state == StateClosed || v.state == StateNoDate {
		v.mu.Unlock()
		return
	}
	v.startFetchLocked()
	v.mu.Unlock()
	v.changed(StateLoading)
}

func (v *View) startFetchLocked() uint64 {
	if v.cancelFetch != nil {
		v.cancelFetch()
	}
	v.epoch++
	v.live = availability.BusySet{}
	v.state = StateLoading

	ctx, cancel := context.WithCancel(v.ctx)
	v.cancelFetch = cancel
	go v.fetch(ctx, v.epoch, v.date)
	return v.epoch
}

func (v *View) fetch(ctx context.Context, epoch uint64, date time.Time) {
	raw, err := v.source.BusyTimes(ctx, v.cfg.Business, date)

	v.mu.Lock()
	if v.epoch != epoch || v.state == StateClosed {
		v.mu.Unlock()
		v.recordFetch("stale")
		v.log.Debug("discarding stale busy times", zap.String("date", date.Format(availability.DateLayout)))
		return
	}
	if err != nil {
		v.state = StateReady
		v.mu.Unlock()
		v.recordFetch("error")
		v.log.Warn("busy times fetch failed; showing last known availability",
			zap.String("business", v.cfg.Business),
			zap.String("date", date.Format(availability.DateLayout)),
			zap.Error(err))
		v.changed(StateReady)
		return
	}
	// keep bookings pushed while the request was in flight
	v.busy = availability.NewBusySet(raw).Union(v.live)
	v.state = StateReady
	n := v.busy.Len()
	v.mu.Unlock()

	v.recordFetch("ok")
	v.log.Debug("busy times loaded", zap.String("date", date.Format(availability.DateLayout)), zap.Int("busy", n))
	v.changed(StateReady)
}

func (v *View) handlePush(payload []byte) {
	ev, err := push.DecodeEvent(payload)
	if err != nil {
		v.recordPush("malformed")
		return
	}
	if ev.Kind != push.KindNewOrder {
		v.recordPush("ignored")
		return
	}
	date, clock, ok := ev.AppointmentSlot()
	if !ok {
		v.recordPush("malformed")
		return
	}

	v.mu.Lock()
	if v.state == StateClosed || v.state == StateNoDate || date != v.dateKey {
		v.mu.Unlock()
		v.recordPush("ignored")
		return
	}
	added := v.busy.Add(clock)
	v.live.Add(clock)
	state := v.state
	v.mu.Unlock()

	if !added {
		v.recordPush("duplicate")
		return
	}
	v.recordPush("applied")
	v.log.Info("slot booked elsewhere", zap.String("date", date), zap.String("time", clock))
	if v.notifier != nil {
		v.notifier.Notify(Notification{
			Date:    date,
			Time:    clock,
			Message: fmt.Sprintf("New booking at %s", clock),
			TTL:     v.cfg.NotifyTTL,
		})
	}
	v.changed(state)
}

// Slots derives the current slot list from the schedule, selected date and clock.
func (v *View) Slots() []availability.Slot {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.state == StateNoDate || v.state == StateClosed {
		return nil
	}
	times := availability.GenerateSlots(v.cfg.Schedule.Hours, v.cfg.Schedule.Step, v.date, v.now())
	return availability.Annotate(times, v.busy)
}

// Confirm hands slot to the booking flow. Busy slots, slots outside the
// generated list and confirmations while busy times load are rejected.
func (v *View) Confirm(slot string) (Confirmation, error) {
	v.mu.Lock()
	switch v.state {
	case StateClosed:
		v.mu.Unlock()
		return Confirmation{}, internaltypes.ErrViewClosed
	case StateNoDate:
		v.mu.Unlock()
		return Confirmation{}, internaltypes.ErrNoDateSelected
	case StateLoading:
		v.mu.Unlock()
		return Confirmation{}, internaltypes.ErrNotReady
	}

	t, ok := availability.NormalizeTime(slot)
	if !ok {
		v.mu.Unlock()
		return Confirmation{}, fmt.Errorf("confirm %q: %w", slot, internaltypes.ErrUnknownSlot)
	}
	if v.busy.Has(t) {
		v.mu.Unlock()
		v.log.Info("rejected confirmation of busy slot", zap.String("date", v.dateKey), zap.String("time", t))
		return Confirmation{}, fmt.Errorf("confirm %s: %w", t, internaltypes.ErrSlotBusy)
	}
	if !contains(availability.GenerateSlots(v.cfg.Schedule.Hours, v.cfg.Schedule.Step, v.date, v.now()), t) {
		v.mu.Unlock()
		return Confirmation{}, fmt.Errorf("confirm %s: %w", t, internaltypes.ErrUnknownSlot)
	}
	c := Confirmation{ItemID: v.cfg.ItemID, DateTime: v.dateKey + "T" + t}
	v.mu.Unlock()

	if v.onConfirm != nil {
		v.onConfirm(c.ItemID, c.DateTime)
	}
	return c, nil
}

func (v *View) State() State {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.state
}

// Date returns the selected date as YYYY-MM-DD, or "" before one is chosen.
func (v *View) Date() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.dateKey
}

// Close unsubscribes synchronously. Results of in-flight fetches are ignored.
func (v *View) Close() error {
	v.mu.Lock()
	if v.state == StateClosed {
		v.mu.Unlock()
		return nil
	}
	v.state = StateClosed
	v.epoch++
	sub := v.sub
	v.sub = nil
	v.mu.Unlock()

	v.cancel()
	var err error
	if sub != nil {
		err = sub.Close()
	}
	v.changed(StateClosed)
	return err
}

func (v *View) changed(s State) {
	if v.onChange != nil {
		v.onChange(s)
	}
}

func (v *View) recordFetch(result string) {
	if v.rec != nil {
		v.rec.BusyFetch(result)
	}
}

func (v *View) recordPush(outcome string) {
	if v.rec != nil {
		v.rec.PushEvent(outcome)
	}
}

func contains(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}
