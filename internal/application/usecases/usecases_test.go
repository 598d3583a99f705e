package usecases

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/quickdrop-slots/internal/domain/availability"
	"github.com/example/quickdrop-slots/internal/handoff"
	"github.com/example/quickdrop-slots/internal/infrastructure/quickdrop"
	"github.com/example/quickdrop-slots/internal/internaltypes"
)

var (
	now    = time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)
	monday = time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC)
)

type stubHours struct {
	s   availability.Schedule
	err error
}

func (h stubHours) BusinessHours(context.Context, string) (availability.Schedule, error) {
	return h.s, h.err
}

type stubBusy struct {
	times []string
	err   error
}

func (b stubBusy) BusyTimes(context.Context, string, time.Time) ([]string, error) {
	return b.times, b.err
}

type stubLocal []string

func (l stubLocal) BookedTimes(context.Context, string, string) ([]string, error) {
	return l, nil
}

func nineToFive(t *testing.T) availability.Schedule {
	t.Helper()
	w, err := availability.NewWeeklyHours([]availability.DayHours{
		{Weekday: time.Monday, Open: 9 * 60, Close: 17 * 60},
	})
	require.NoError(t, err)
	return availability.Schedule{Step: 60, Hours: w}
}

func TestListSlots(t *testing.T) {
	u := ListSlots{
		Hours:    stubHours{s: nineToFive(t)},
		Busy:     stubBusy{times: []string{"10:00:00"}},
		Local:    stubLocal{"12:00"},
		Location: time.UTC,
	}

	g, err := u.Execute(context.Background(), "barber-shop", monday, now)
	require.NoError(t, err)
	assert.Equal(t, "2026-10-19", g.Date)
	assert.Equal(t, 60, g.Step)
	assert.False(t, g.Partial)
	require.Len(t, g.Slots, 8)

	s, ok := g.Find("10:00")
	require.True(t, ok)
	assert.True(t, s.Busy)
	s, ok = g.Find("12:00")
	require.True(t, ok)
	assert.True(t, s.Busy)
	s, ok = g.Find("11:00")
	require.True(t, ok)
	assert.False(t, s.Busy)
}

func TestListSlotsDegradesWithoutBusyTimes(t *testing.T) {
	u := ListSlots{
		Hours:    stubHours{s: nineToFive(t)},
		Busy:     stubBusy{err: errors.New("timeout")},
		Location: time.UTC,
	}

	g, err := u.Execute(context.Background(), "barber-shop", monday, now)
	require.NoError(t, err)
	assert.True(t, g.Partial)
	assert.Len(t, g.Slots, 8)
}

func TestListSlotsErrors(t *testing.T) {
	u := ListSlots{Hours: stubHours{s: nineToFive(t)}, Busy: stubBusy{}, Location: time.UTC}
	_, err := u.Execute(context.Background(), "barber-shop", now.AddDate(0, 0, -1), now)
	require.ErrorIs(t, err, internaltypes.ErrPastDate)

	u.Hours = stubHours{err: internaltypes.ErrNotFound}
	_, err = u.Execute(context.Background(), "nope", monday, now)
	require.ErrorIs(t, err, internaltypes.ErrNotFound)
}

func TestListSlotsFallsBackToDefaultHours(t *testing.T) {
	u := ListSlots{Hours: stubHours{err: errors.New("status 500")}, Busy: stubBusy{}, Location: time.UTC}
	g, err := u.Execute(context.Background(), "barber-shop", monday, now)
	require.NoError(t, err)
	assert.True(t, g.DefaultHours)
	assert.Equal(t, int(availability.DefaultGranularity), g.Step)
	require.NotEmpty(t, g.Slots)
	assert.Equal(t, "09:00", g.Slots[0].Time)
	assert.Equal(t, "20:30", g.Slots[len(g.Slots)-1].Time)
}

// storefront serves only the public business and availability routes.
func storefront(t *testing.T) *quickdrop.Client {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/business/public/barber-shop", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"business":{"id":1,"name":"Barber","slug":"barber-shop"},"items":[],"total_items":0,"posts":[]}`)
	})
	mux.HandleFunc("/business/public/availability/barber-shop", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "2026-10-19", r.URL.Query().Get("date"))
		_, _ = io.WriteString(w, `{"busy_times":["10:00"]}`)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_, _ = io.WriteString(w, `{"detail":"Not Found"}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return quickdrop.New(srv.URL, quickdrop.Credentials{}, time.Second)
}

func TestListSlotsAgainstStorefrontRoutes(t *testing.T) {
	backend := storefront(t)
	u := ListSlots{Hours: backend, Busy: backend, Location: time.UTC}

	g, err := u.Execute(context.Background(), "barber-shop", monday, now)
	require.NoError(t, err)
	assert.False(t, g.Partial)
	assert.Equal(t, 30, g.Step)
	s, ok := g.Find("10:00")
	require.True(t, ok)
	assert.True(t, s.Busy)
	s, ok = g.Find("10:30")
	require.True(t, ok)
	assert.False(t, s.Busy)

	_, err = u.Execute(context.Background(), "nope", monday, now)
	require.ErrorIs(t, err, internaltypes.ErrNotFound)
}

func TestListSlotsClosedDayIsEmptyNotNil(t *testing.T) {
	u := ListSlots{Hours: stubHours{s: nineToFive(t)}, Busy: stubBusy{}, Location: time.UTC}
	g, err := u.Execute(context.Background(), "barber-shop", monday.AddDate(0, 0, 1), now)
	require.NoError(t, err)
	assert.NotNil(t, g.Slots)
	assert.Empty(t, g.Slots)
}

type memStore struct {
	created []handoff.Handoff
	err     error
}

func (m *memStore) Create(_ context.Context, h handoff.Handoff) (handoff.Handoff, error) {
	if m.err != nil {
		return handoff.Handoff{}, m.err
	}
	h.ID = uuid.New()
	h.Status = handoff.StatusPending
	m.created = append(m.created, h)
	return h, nil
}

type results map[string]int

func (r results) Handoff(result string) { r[result]++ }

func newEnqueue(t *testing.T, busy stubBusy, store *memStore, rec results) EnqueueHandoff {
	return EnqueueHandoff{
		Slots:   ListSlots{Hours: stubHours{s: nineToFive(t)}, Busy: busy, Location: time.UTC},
		Store:   store,
		Metrics: rec,
		Now:     func() time.Time { return now },
	}
}

func validRequest() HandoffRequest {
	return HandoffRequest{
		TenantID:     "42",
		ItemID:       "item-1",
		CustomerName: " Ana ",
		Date:         "2026-10-19",
		Time:         "11:00",
	}
}

func TestEnqueueHandoff(t *testing.T) {
	store := &memStore{}
	rec := results{}
	h, err := newEnqueue(t, stubBusy{times: []string{"10:00"}}, store, rec).
		Execute(context.Background(), "barber-shop", validRequest())
	require.NoError(t, err)

	assert.NotEqual(t, uuid.Nil, h.ID)
	assert.Equal(t, "2026-10-19T11:00", h.Appointment)
	assert.Equal(t, "Ana", h.CustomerName)
	assert.Equal(t, 1, h.Quantity)
	assert.Len(t, store.created, 1)
	assert.Equal(t, 1, rec["created"])
}

func TestEnqueueHandoffRejections(t *testing.T) {
	cases := []struct {
		name   string
		busy   stubBusy
		mutate func(*HandoffRequest)
		store  error
		want   error
		result string
	}{
		{"busy", stubBusy{times: []string{"11:00:00"}}, nil, nil, internaltypes.ErrSlotBusy, "busy"},
		{"not_generated", stubBusy{}, func(r *HandoffRequest) { r.Time = "11:30" }, nil, internaltypes.ErrUnknownSlot, "unknown_slot"},
		{"missing_name", stubBusy{}, func(r *HandoffRequest) { r.CustomerName = "" }, nil, internaltypes.ErrInvalidInput, "invalid"},
		{"bad_time", stubBusy{}, func(r *HandoffRequest) { r.Time = "11h" }, nil, internaltypes.ErrInvalidInput, "invalid"},
		{"past", stubBusy{}, func(r *HandoffRequest) { r.Date = "2026-10-12" }, nil, internaltypes.ErrPastDate, "invalid"},
		{"busy_unknown", stubBusy{err: errors.New("timeout")}, nil, nil, internaltypes.ErrNotReady, "unavailable"},
		{"taken_locally", stubBusy{}, nil, internaltypes.ErrSlotBusy, internaltypes.ErrSlotBusy, "busy"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &memStore{err: tc.store}
			rec := results{}
			req := validRequest()
			if tc.mutate != nil {
				tc.mutate(&req)
			}

			_, err := newEnqueue(t, tc.busy, store, rec).Execute(context.Background(), "barber-shop", req)
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, store.created)
			assert.Equal(t, 1, rec[tc.result])
		})
	}
}

func TestEnqueueHandoffHoursFailures(t *testing.T) {
	cases := []struct {
		name   string
		hours  stubHours
		want   error
		result string
	}{
		{"unknown_business", stubHours{err: internaltypes.ErrNotFound}, internaltypes.ErrNotFound, "invalid"},
		{"hours_down", stubHours{err: errors.New("status 502")}, internaltypes.ErrNotReady, "unavailable"},
		{"hours_timeout", stubHours{err: context.DeadlineExceeded}, internaltypes.ErrNotReady, "unavailable"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := &memStore{}
			rec := results{}
			u := newEnqueue(t, stubBusy{}, store, rec)
			u.Slots.Hours = tc.hours

			_, err := u.Execute(context.Background(), "barber-shop", validRequest())
			require.ErrorIs(t, err, tc.want)
			assert.Empty(t, store.created)
			assert.Equal(t, 1, rec[tc.result])
		})
	}
}

func TestEnqueueHandoffRecordsUpstreamErrors(t *testing.T) {
	store := &memStore{}
	rec := results{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	u := newEnqueue(t, stubBusy{}, store, rec)
	u.Slots.Hours = stubHours{err: ctx.Err()}

	_, err := u.Execute(ctx, "barber-shop", validRequest())
	require.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, store.created)
	assert.Equal(t, 1, rec["upstream_error"])
	assert.Zero(t, rec["invalid"])
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

func TestPingBackend(t *testing.T) {
	require.NoError(t, PingBackend{Backend: pinger{}}.Execute(context.Background()))
	require.Error(t, PingBackend{Backend: pinger{err: errors.New("down")}}.Execute(context.Background()))
	require.Error(t, PingBackend{}.Execute(context.Background()))
}
