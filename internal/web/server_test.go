package web

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/quickdrop-slots/internal/application/usecases"
	"github.com/example/quickdrop-slots/internal/auth"
	"github.com/example/quickdrop-slots/internal/db"
	"github.com/example/quickdrop-slots/internal/domain/availability"
	"github.com/example/quickdrop-slots/internal/handoff"
	"github.com/example/quickdrop-slots/internal/internaltypes"
	"github.com/example/quickdrop-slots/internal/metrics"
)

var handoffID = uuid.MustParse("9b0c3a44-1f5e-4e0a-8d7b-2b3c4d5e6f70")

type stubSlots struct {
	err  error
	date time.Time
	slug string
}

func (s *stubSlots) Execute(_ context.Context, slug string, date, _ time.Time) (usecases.Grid, error) {
	s.slug, s.date = slug, date
	if s.err != nil {
		return usecases.Grid{}, s.err
	}
	return usecases.Grid{
		Business: slug,
		Date:     date.Format("2006-01-02"),
		Step:     30,
		Slots:    []availability.Slot{{Time: "09:00"}, {Time: "09:30", Busy: true}},
	}, nil
}

type stubEnqueue struct {
	err error
	got usecases.HandoffRequest
}

func (s *stubEnqueue) Execute(_ context.Context, _ string, req usecases.HandoffRequest) (handoff.Handoff, error) {
	s.got = req
	if s.err != nil {
		return handoff.Handoff{}, s.err
	}
	return handoff.Handoff{ID: handoffID, Status: handoff.StatusPending, Appointment: req.Date + "T" + req.Time}, nil
}

type stubList struct{ status handoff.Status }

func (s *stubList) List(_ context.Context, status handoff.Status, _ int) ([]handoff.Handoff, error) {
	s.status = status
	return []handoff.Handoff{{ID: handoffID, BusinessSlug: "barber-shop", CustomerName: "Ana", Status: handoff.StatusPending}}, nil
}

type userRow struct{ hash string }

func (r userRow) Scan(dest ...any) error {
	if r.hash == "" {
		return pgx.ErrNoRows
	}
	*dest[0].(*int64) = 1
	*dest[1].(*string) = r.hash
	return nil
}

type users struct{ hash string }

func (u users) Exec(context.Context, string, ...any) error { return nil }

func (u users) QueryRow(_ context.Context, _ string, args ...any) db.Row {
	if args[0] != "ops" {
		return userRow{}
	}
	return userRow{hash: u.hash}
}

type fixture struct {
	srv     *Server
	h       http.Handler
	slots   *stubSlots
	enqueue *stubEnqueue
	list    *stubList
}

func newFixture(t *testing.T, mutate func(*Server)) *fixture {
	t.Helper()
	hash, err := auth.HashPassword("correct horse")
	require.NoError(t, err)

	f := &fixture{slots: &stubSlots{}, enqueue: &stubEnqueue{}, list: &stubList{}}
	f.srv = &Server{
		Auth:     auth.NewStore(users{hash: hash}, bytes.Repeat([]byte{3}, 32), bytes.Repeat([]byte{4}, 32)),
		Slots:    f.slots,
		Enqueue:  f.enqueue,
		Handoffs: f.list,
		Location: time.UTC,
		now:      func() time.Time { return time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC) },
	}
	if mutate != nil {
		mutate(f.srv)
	}
	f.h = f.srv.Routes()
	return f
}

func (f *fixture) do(method, target, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	f.h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	rec := newFixture(t, nil).do(http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok\n", rec.Body.String())
}

func TestSlots(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodGet, "/api/businesses/barber-shop/slots?date=2026-10-19", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "barber-shop", f.slots.slug)
	assert.Equal(t, time.Date(2026, 10, 19, 0, 0, 0, 0, time.UTC), f.slots.date)

	var grid usecases.Grid
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &grid))
	assert.Equal(t, "2026-10-19", grid.Date)
	assert.Equal(t, []availability.Slot{{Time: "09:00"}, {Time: "09:30", Busy: true}}, grid.Slots)
}

func TestSlotsErrors(t *testing.T) {
	cases := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{"missing_date", "/api/businesses/barber-shop/slots", nil, http.StatusBadRequest},
		{"bad_date", "/api/businesses/barber-shop/slots?date=19-10-2026", nil, http.StatusBadRequest},
		{"past", "/api/businesses/barber-shop/slots?date=2026-10-01", internaltypes.ErrPastDate, http.StatusBadRequest},
		{"unknown_business", "/api/businesses/nope/slots?date=2026-10-19", internaltypes.ErrNotFound, http.StatusNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t, nil)
			f.slots.err = tc.err
			rec := f.do(http.MethodGet, tc.target, "")
			assert.Equal(t, tc.want, rec.Code)
			assert.Contains(t, rec.Body.String(), `"error"`)
		})
	}
}

const handoffBody = `{"tenant_id":"42","item_id":"item-1","customer_name":"Ana","date":"2026-10-19","time":"10:30"}`

func TestCreateHandoff(t *testing.T) {
	f := newFixture(t, nil)
	rec := f.do(http.MethodPost, "/api/businesses/barber-shop/handoffs", handoffBody)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Ana", f.enqueue.got.CustomerName)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, handoffID.String(), body["id"])
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, "2026-10-19T10:30", body["appointment"])
}

func TestCreateHandoffErrors(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/api/businesses/barber-shop/handoffs", "{").Code)

	f.enqueue.err = internaltypes.ErrSlotBusy
	assert.Equal(t, http.StatusConflict, f.do(http.MethodPost, "/api/businesses/barber-shop/handoffs", handoffBody).Code)

	f.enqueue.err = internaltypes.ErrUnknownSlot
	assert.Equal(t, http.StatusUnprocessableEntity, f.do(http.MethodPost, "/api/businesses/barber-shop/handoffs", handoffBody).Code)

	f.enqueue.err = context.DeadlineExceeded
	rec := f.do(http.MethodPost, "/api/businesses/barber-shop/handoffs", handoffBody)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.JSONEq(t, `{"error":"internal error"}`, rec.Body.String())
}

func TestHandoffListRequiresSession(t *testing.T) {
	f := newFixture(t, nil)
	assert.Equal(t, http.StatusUnauthorized, f.do(http.MethodGet, "/api/handoffs", "").Code)

	bad := f.do(http.MethodPost, "/login", `{"username":"ops","password":"nope nope"}`)
	assert.Equal(t, http.StatusUnauthorized, bad.Code)

	login := f.do(http.MethodPost, "/login", `{"username":"ops","password":"correct horse"}`)
	require.Equal(t, http.StatusOK, login.Code)
	cookies := login.Result().Cookies()
	require.NotEmpty(t, cookies)

	rec := f.do(http.MethodGet, "/api/handoffs?status=pending", "", cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, handoff.StatusPending, f.list.status)
	assert.Contains(t, rec.Body.String(), `"customer_name":"Ana"`)

	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/handoffs?status=cancelled", "", cookies...).Code)
	assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/api/handoffs?limit=0", "", cookies...).Code)

	logout := f.do(http.MethodPost, "/logout", "", cookies...)
	assert.Equal(t, http.StatusNoContent, logout.Code)
}

func TestRateLimit(t *testing.T) {
	f := newFixture(t, func(s *Server) { s.RatePerMinute = 2 })
	target := "/api/businesses/barber-shop/slots?date=2026-10-19"
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, target, "").Code)
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, target, "").Code)
	assert.Equal(t, http.StatusTooManyRequests, f.do(http.MethodGet, target, "").Code)

	// health checks are not limited
	assert.Equal(t, http.StatusOK, f.do(http.MethodGet, "/healthz", "").Code)
}

func TestMetricsEndpoint(t *testing.T) {
	f := newFixture(t, func(s *Server) { s.Metrics = metrics.New() })
	f.do(http.MethodGet, "/api/businesses/barber-shop/slots?date=2026-10-19", "")

	rec := f.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `route="/api/businesses/{slug}/slots"`)
}
