package redis

import (
	"context"
	"encoding/json"
	"math/rand"
	"sync"
	"time"

	"spacescape-service/internal/app"
	"spacescape-service/internal/domain"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// ResultCache caches result listings in Redis and falls back to the backend
// on a miss. Listings are stored as: SET spacescape:results:{roomID} <json>
type ResultCache struct {
	client  *redis.Client
	backend app.ResultRecorder
	ttl     time.Duration
	sf      singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewResultCache(client *redis.Client, backend app.ResultRecorder, ttl time.Duration) *ResultCache {
	return &ResultCache{
		client:  client,
		backend: backend,
		ttl:     ttl,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ResultCache) RecordResult(ctx context.Context, result domain.GameResult) error {
	if err := c.backend.RecordResult(ctx, result); err != nil {
		return err
	}
	_ = c.client.Del(ctx, c.key(result.RoomID)).Err()
	return nil
}

func (c *ResultCache) ListResults(ctx context.Context, roomID string) ([]domain.GameResult, error) {
	if results, ok := c.cached(ctx, roomID); ok {
		return results, nil
	}

	v, err, _ := c.sf.Do(roomID, func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if results, ok := c.cached(ctx, roomID); ok {
			return results, nil
		}
		results, err := c.backend.ListResults(ctx, roomID)
		if err != nil {
			return nil, err
		}
		if data, err := json.Marshal(results); err == nil {
			_ = c.client.Set(ctx, c.key(roomID), data, c.ttlWithJitter()).Err()
		}
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.GameResult), nil
}

func (c *ResultCache) cached(ctx context.Context, roomID string) ([]domain.GameResult, bool) {
	data, err := c.client.Get(ctx, c.key(roomID)).Bytes()
	if err != nil {
		return nil, false
	}
	var results []domain.GameResult
	if err := json.Unmarshal(data, &results); err != nil {
		return nil, false
	}
	return results, true
}

func (c *ResultCache) key(roomID string) string {
	return "spacescape:results:" + roomID
}

func (c *ResultCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	jitter := c.rnd.Int63n(jitterMax + 1)
	c.rndMu.Unlock()
	return c.ttl + time.Duration(jitter)
}
