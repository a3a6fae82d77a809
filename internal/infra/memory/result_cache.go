package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"spacescape-service/internal/app"
	"spacescape-service/internal/domain"
	"golang.org/x/sync/singleflight"
)

// ResultCache caches result listings with TTL to avoid repeated DB hits.
// Recording a result invalidates the room's entry.
type ResultCache struct {
	backend app.ResultRecorder
	ttl     time.Duration
	clock   func() time.Time
	sf      singleflight.Group
	rnd     *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedResults
}

type cachedResults struct {
	results   []domain.GameResult
	expiresAt time.Time
}

func NewResultCache(backend app.ResultRecorder, ttl time.Duration) *ResultCache {
	return &ResultCache{
		backend: backend,
		ttl:     ttl,
		clock:   time.Now,
		rnd:     rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:   make(map[string]cachedResults),
	}
}

func (c *ResultCache) RecordResult(ctx context.Context, result domain.GameResult) error {
	if err := c.backend.RecordResult(ctx, result); err != nil {
		return err
	}
	c.mu.Lock()
	delete(c.cache, result.RoomID)
	c.mu.Unlock()
	return nil
}

func (c *ResultCache) ListResults(ctx context.Context, roomID string) ([]domain.GameResult, error) {
	if results, ok := c.lookup(roomID); ok {
		return results, nil
	}

	v, err, _ := c.sf.Do(roomID, func() (interface{}, error) {
		if results, ok := c.lookup(roomID); ok {
			return results, nil
		}
		results, err := c.backend.ListResults(ctx, roomID)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.cache[roomID] = cachedResults{
			results:   results,
			expiresAt: c.clock().Add(c.ttlWithJitter()),
		}
		c.mu.Unlock()
		return results, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]domain.GameResult), nil
}

func (c *ResultCache) lookup(roomID string) ([]domain.GameResult, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[roomID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return nil, false
	}
	return entry.results, true
}

func (c *ResultCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(c.ttl) / 10
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
