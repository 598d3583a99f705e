// Package ws subscribes to the per-tenant QuickDrop websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/domain/push"
)

type Dialer struct {
	baseURL    string
	reconnect  bool
	minBackoff time.Duration
	maxBackoff time.Duration
	ws         *websocket.Dialer
	log        *zap.Logger
}

type Option func(*Dialer)

// WithReconnect redials dropped connections, backing off from first up to limit.
func WithReconnect(first, limit time.Duration) Option {
	return func(d *Dialer) {
		d.reconnect = true
		d.minBackoff = first
		d.maxBackoff = limit
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(d *Dialer) { d.log = l }
}

// New accepts ws(s):// or http(s):// base URLs.
func New(baseURL string, opts ...Option) *Dialer {
	d := &Dialer{
		baseURL:    WebsocketURL(baseURL),
		minBackoff: 500 * time.Millisecond,
		maxBackoff: 30 * time.Second,
		ws:         &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:        zap.NewNop(),
	}
	for _, o := range opts {
		o(d)
	}
	if d.minBackoff <= 0 {
		d.minBackoff = 500 * time.Millisecond
	}
	if d.maxBackoff < d.minBackoff {
		d.maxBackoff = d.minBackoff
	}
	return d
}

// WebsocketURL swaps an http(s) scheme for ws(s) and drops a trailing slash.
func WebsocketURL(base string) string {
	base = strings.TrimRight(base, "/")
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	}
	return base
}

// Subscribe dials {base}/ws/{tenantID}. The first dial failure is returned;
// later drops are retried in the background when reconnect is enabled.
func (d *Dialer) Subscribe(ctx context.Context, tenantID string, l push.Listener) (push.Subscription, error) {
	u := d.baseURL + "/ws/" + url.PathEscape(tenantID)
	conn, _, err := d.ws.DialContext(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", u, err)
	}
	d.log.Info("push channel connected", zap.String("tenant_id", tenantID))

	s := &subscription{
		d:        d,
		url:      u,
		tenantID: tenantID,
		l:        l,
		conn:     conn,
		done:     make(chan struct{}),
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())
	go s.run()
	return s, nil
}

type subscription struct {
	d        *Dialer
	url      string
	tenantID string
	l        push.Listener

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
}

func (s *subscription) run() {
	defer close(s.done)
	for {
		s.mu.Lock()
		conn := s.conn
		s.mu.Unlock()

		err := s.read(conn)
		if s.ctx.Err() != nil {
			return
		}
		_ = conn.Close()
		s.d.log.Warn("push channel dropped", zap.String("tenant_id", s.tenantID), zap.Error(err))
		if !s.d.reconnect {
			return
		}
		if !s.redial() {
			return
		}
		if s.l.OnReconnect != nil {
			s.l.OnReconnect()
		}
	}
}

func (s *subscription) read(conn *websocket.Conn) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}
		if s.ctx.Err() != nil {
			return s.ctx.Err()
		}
		if s.l.OnMessage != nil {
			s.l.OnMessage(data)
		}
	}
}

// redial retries with capped exponential backoff until it connects or the
// subscription is closed.
func (s *subscription) redial() bool {
	backoff := s.d.minBackoff
	for attempt := 1; ; attempt++ {
		t := time.NewTimer(backoff)
		select {
		case <-s.ctx.Done():
			t.Stop()
			return false
		case <-t.C:
		}

		conn, _, err := s.d.ws.DialContext(s.ctx, s.url, nil)
		if err == nil {
			s.mu.Lock()
			if s.closed {
				s.mu.Unlock()
				_ = conn.Close()
				return false
			}
			s.conn = conn
			s.mu.Unlock()
			s.d.log.Info("push channel reconnected", zap.String("tenant_id", s.tenantID), zap.Int("attempt", attempt))
			return true
		}
		s.d.log.Debug("push redial failed", zap.String("tenant_id", s.tenantID), zap.Int("attempt", attempt), zap.Error(err))

		backoff *= 2
		if backoff > s.d.maxBackoff {
			backoff = s.d.maxBackoff
		}
	}
}

// Close stops the reader and waits for it to exit.
func (s *subscription) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		<-s.done
		return nil
	}
	s.closed = true
	s.cancel()
	conn := s.conn
	s.mu.Unlock()

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	err := conn.Close()
	<-s.done
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}
