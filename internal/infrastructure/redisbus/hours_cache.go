package redisbus

import (
	"context"
	"errors"
	"time"

	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/example/quickdrop-slots/internal/domain/availability"
)

// HoursSource loads a business's published schedule.
type HoursSource interface {
	BusinessHours(ctx context.Context, slug string) (availability.Schedule, error)
}

// HoursCache keeps schedules in Redis for ttl. Redis failures fall through to
// the upstream source.
type HoursCache struct {
	client   *redis.Client
	upstream HoursSource
	ttl      time.Duration
	log      *zap.Logger
}

func NewHoursCache(client *redis.Client, upstream HoursSource, ttl time.Duration, log *zap.Logger) *HoursCache {
	if log == nil {
		log = zap.NewNop()
	}
	return &HoursCache{client: client, upstream: upstream, ttl: ttl, log: log}
}

func hoursKey(slug string) string { return "quickdrop:hours:" + slug }

func (c *HoursCache) BusinessHours(ctx context.Context, slug string) (availability.Schedule, error) {
	key := hoursKey(slug)

	raw, err := c.client.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var s availability.Schedule
		uerr := json.Unmarshal(raw, &s)
		if uerr == nil {
			return s.Normalize(), nil
		}
		c.log.Warn("discarding undecodable cached hours", zap.String("key", key), zap.Error(uerr))
	case errors.Is(err, redis.Nil):
	default:
		c.log.Warn("hours cache read failed", zap.String("key", key), zap.Error(err))
	}

	s, err := c.upstream.BusinessHours(ctx, slug)
	if err != nil {
		return availability.Schedule{}, err
	}

	payload, err := json.Marshal(s)
	if err != nil {
		c.log.Warn("hours cache encode failed", zap.String("key", key), zap.Error(err))
		return s, nil
	}
	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		c.log.Warn("hours cache write failed", zap.String("key", key), zap.Error(err))
	}
	return s, nil
}

// Invalidate drops the cached schedule of slug.
func (c *HoursCache) Invalidate(ctx context.Context, slug string) error {
	return c.client.Del(ctx, hoursKey(slug)).Err()
}
