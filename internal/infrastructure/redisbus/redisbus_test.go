package redisbus

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/example/quickdrop-slots/internal/domain/availability"
	"github.com/example/quickdrop-slots/internal/domain/push"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := NewClient(context.Background(), Options{Addr: mr.Addr()})
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

type collector struct {
	mu   sync.Mutex
	msgs [][]byte
}

func (c *collector) add(p []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, p)
}

func (c *collector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func TestBusDeliversPublishedEvents(t *testing.T) {
	_, client := newRedis(t)
	ctx := context.Background()
	var got collector

	sub, err := NewBus(client, nil).Subscribe(ctx, "42", push.Listener{OnMessage: got.add})
	require.NoError(t, err)

	pub := NewPublisher(client)
	require.NoError(t, pub.Publish(ctx, "42", push.Event{Kind: push.KindNewOrder, Appointment: "2026-10-19T10:00:00"}))
	require.NoError(t, pub.Publish(ctx, "7", push.Event{Kind: push.KindNewOrder}))

	require.Eventually(t, func() bool { return got.count() == 1 }, time.Second, 5*time.Millisecond)
	ev, err := push.DecodeEvent(got.msgs[0])
	require.NoError(t, err)
	date, clock, ok := ev.AppointmentSlot()
	require.True(t, ok)
	assert.Equal(t, "2026-10-19", date)
	assert.Equal(t, "10:00", clock)

	require.NoError(t, sub.Close())
	require.NoError(t, pub.Publish(ctx, "42", push.Event{Kind: push.KindNewOrder}))
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, got.count())
	require.NoError(t, sub.Close())
}

type countingHours struct {
	mu    sync.Mutex
	calls int
	err   error
	s     availability.Schedule
}

func (h *countingHours) BusinessHours(context.Context, string) (availability.Schedule, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls++
	return h.s, h.err
}

func TestHoursCache(t *testing.T) {
	mr, client := newRedis(t)
	ctx := context.Background()
	week, err := availability.NewWeeklyHours([]availability.DayHours{
		{Weekday: time.Monday, Open: 9 * 60, Close: 17 * 60},
	})
	require.NoError(t, err)
	up := &countingHours{s: availability.Schedule{Step: 15, Hours: week}}
	cache := NewHoursCache(client, up, time.Minute, nil)

	first, err := cache.BusinessHours(ctx, "barber-shop")
	require.NoError(t, err)
	second, err := cache.BusinessHours(ctx, "barber-shop")
	require.NoError(t, err)

	assert.Equal(t, 1, up.calls)
	assert.Equal(t, first, second)
	assert.Equal(t, availability.Granularity(15), second.Step)
	assert.True(t, mr.Exists("quickdrop:hours:barber-shop"))

	mr.FastForward(2 * time.Minute)
	_, err = cache.BusinessHours(ctx, "barber-shop")
	require.NoError(t, err)
	assert.Equal(t, 2, up.calls)

	require.NoError(t, cache.Invalidate(ctx, "barber-shop"))
	assert.False(t, mr.Exists("quickdrop:hours:barber-shop"))
}

func TestHoursCacheFallsThroughWhenRedisDown(t *testing.T) {
	mr, client := newRedis(t)
	up := &countingHours{s: availability.Schedule{}.Normalize()}
	cache := NewHoursCache(client, up, time.Minute, nil)
	mr.Close()

	s, err := cache.BusinessHours(context.Background(), "barber-shop")
	require.NoError(t, err)
	assert.Equal(t, availability.DefaultGranularity, s.Step)
	assert.Equal(t, 1, up.calls)
}

func TestHoursCacheUpstreamError(t *testing.T) {
	_, client := newRedis(t)
	boom := errors.New("upstream down")
	cache := NewHoursCache(client, &countingHours{err: boom}, time.Minute, nil)

	_, err := cache.BusinessHours(context.Background(), "barber-shop")
	require.ErrorIs(t, err, boom)
}
