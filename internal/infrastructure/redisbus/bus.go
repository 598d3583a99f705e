// Package redisbus carries push events over Redis pub/sub and caches business
// hours in Redis.
package redisbus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/domain/push"
)

// Options mirror the REDIS_* settings.
type Options struct {
	Addr     string
	Password string
	DB       int
}

// NewClient returns a connected client or the ping error.
func NewClient(ctx context.Context, o Options) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     o.Addr,
		Password: o.Password,
		DB:       o.DB,
	})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// ChannelName is the pub/sub channel of a tenant.
func ChannelName(tenantID string) string {
	return "quickdrop:tenant:" + tenantID
}

// Bus implements push.Channel. go-redis re-establishes dropped pub/sub
// connections itself, so OnReconnect never fires.
type Bus struct {
	client *redis.Client
	log    *zap.Logger
}

func NewBus(client *redis.Client, log *zap.Logger) *Bus {
	if log == nil {
		log = zap.NewNop()
	}
	return &Bus{client: client, log: log}
}

func (b *Bus) Subscribe(ctx context.Context, tenantID string, l push.Listener) (push.Subscription, error) {
	name := ChannelName(tenantID)
	ps := b.client.Subscribe(ctx, name)
	// wait for the subscription confirmation so no early publish is lost
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}
	b.log.Info("push channel subscribed", zap.String("channel", name))

	s := &subscription{ps: ps, done: make(chan struct{})}
	go s.run(ps.Channel(), l)
	return s, nil
}

type subscription struct {
	ps      *redis.PubSub
	done    chan struct{}
	stopped atomic.Bool
	once    sync.Once
	err     error
}

func (s *subscription) run(ch <-chan *redis.Message, l push.Listener) {
	defer close(s.done)
	for msg := range ch {
		if s.stopped.Load() {
			continue
		}
		if l.OnMessage != nil {
			l.OnMessage([]byte(msg.Payload))
		}
	}
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.stopped.Store(true)
		s.err = s.ps.Close()
	})
	<-s.done
	return s.err
}

// Publisher bridges events onto the tenant channels.
type Publisher struct {
	client *redis.Client
}

func NewPublisher(client *redis.Client) *Publisher {
	return &Publisher{client: client}
}

func (p *Publisher) Publish(ctx context.Context, tenantID string, ev push.Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, ChannelName(tenantID), payload).Err(); err != nil {
		return fmt.Errorf("redis publish %s: %w", ChannelName(tenantID), err)
	}
	return nil
}
