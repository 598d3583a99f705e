package push

import (
	"context"
	"errors"
	"strings"

	"github.com/goccy/go-json"

	"github.com/example/quickdrop-slots/internal/domain/availability"
)

// KindNewOrder is broadcast to a tenant when an order is placed.
const KindNewOrder = "NEW_ORDER"

// Listener receives frames from a Subscription. OnReconnect, when set, fires
// after a dropped connection has been re-established.
type Listener struct {
	OnMessage   func(payload []byte)
	OnReconnect func()
}

// Subscription is a disposable handle. Close is synchronous: no OnMessage
// call starts after it returns.
type Subscription interface {
	Close() error
}

// Channel opens one server-to-client stream per business scope.
type Channel interface {
	Subscribe(ctx context.Context, scope string, l Listener) (Subscription, error)
}

// Event is an inbound push message.
type Event struct {
	Kind        string `json:"event"`
	OrderID     string `json:"order_id,omitempty"`
	Appointment string `json:"appointment_datetime,omitempty"`
	// older servers send the formatted value under "appointment"
	AppointmentAlt string `json:"appointment,omitempty"`
}

var ErrMalformed = errors.New("malformed push event")

func DecodeEvent(payload []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(payload, &e); err != nil {
		return Event{}, errors.Join(ErrMalformed, err)
	}
	if e.Kind == "" {
		return Event{}, ErrMalformed
	}
	return e, nil
}

// AppointmentSlot splits the appointment value into its calendar date
// (YYYY-MM-DD) and "HH:MM". ok is false when the event carries none.
func (e Event) AppointmentSlot() (date, clock string, ok bool) {
	v := strings.TrimSpace(e.Appointment)
	if v == "" {
		v = strings.TrimSpace(e.AppointmentAlt)
	}
	i := strings.IndexAny(v, "T ")
	if i != len(availability.DateLayout) {
		return "", "", false
	}
	date = v[:i]
	if _, err := availability.ParseDate(date, nil); err != nil {
		return "", "", false
	}
	clock, ok = availability.NormalizeTime(v[i+1:])
	if !ok {
		return "", "", false
	}
	return date, clock, true
}
