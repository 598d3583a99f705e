// Package notify shows booking notifications on a terminal: a bell, a line
// of text and an entry that disappears after its TTL.
package notify

import (
	"fmt"
	"io"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/application/slotview"
)

// CoalesceWindow suppresses a repeat notification for the same slot.
const CoalesceWindow = time.Second

type Center struct {
	out   io.Writer
	bell  bool
	now   func() time.Time
	after func(time.Duration, func()) *time.Timer
	log   *zap.Logger

	mu     sync.Mutex
	seq    uint64
	active map[uint64]slotview.Notification
	last   map[string]time.Time
	timers map[uint64]*time.Timer
}

type Option func(*Center)

// WithBell rings the terminal bell with each notification.
func WithBell() Option { return func(c *Center) { c.bell = true } }

func WithClock(now func() time.Time) Option { return func(c *Center) { c.now = now } }

func WithLogger(l *zap.Logger) Option { return func(c *Center) { c.log = l } }

func New(out io.Writer, opts ...Option) *Center {
	c := &Center{
		out:    out,
		now:    time.Now,
		after:  time.AfterFunc,
		log:    zap.NewNop(),
		active: map[uint64]slotview.Notification{},
		last:   map[string]time.Time{},
		timers: map[uint64]*time.Timer{},
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Center) Notify(n slotview.Notification) {
	key := n.Date + "T" + n.Time
	now := c.now()

	c.mu.Lock()
	if t, ok := c.last[key]; ok && now.Sub(t) < CoalesceWindow {
		c.mu.Unlock()
		c.log.Debug("notification coalesced", zap.String("slot", key))
		return
	}
	for k, t := range c.last {
		if now.Sub(t) >= CoalesceWindow {
			delete(c.last, k)
		}
	}
	c.last[key] = now
	c.seq++
	id := c.seq
	c.active[id] = n
	if n.TTL > 0 {
		c.timers[id] = c.after(n.TTL, func() { c.dismiss(id) })
	}
	c.mu.Unlock()

	if c.out != nil {
		prefix := ""
		if c.bell {
			prefix = "\a"
		}
		fmt.Fprintf(c.out, "%s[%s] %s\n", prefix, n.Date, n.Message)
	}
	c.log.Info("booking notification", zap.String("slot", key), zap.Duration("ttl", n.TTL))
}

func (c *Center) dismiss(id uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.active, id)
	delete(c.timers, id)
}

// Active lists the notifications still on screen, oldest first.
func (c *Center) Active() []slotview.Notification {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]slotview.Notification, 0, len(c.active))
	for id := uint64(1); id <= c.seq; id++ {
		if n, ok := c.active[id]; ok {
			out = append(out, n)
		}
	}
	return out
}

// Close stops pending dismiss timers and clears the screen.
func (c *Center) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, t := range c.timers {
		t.Stop()
		delete(c.timers, id)
	}
	c.active = map[uint64]slotview.Notification{}
}
