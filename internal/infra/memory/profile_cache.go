package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
	"lrnr-quiz-service/internal/domain"
)

// ProfileLoader builds a profile from the backing store.
type ProfileLoader interface {
	LoadProfile(ctx context.Context, userID string) (domain.Profile, error)
}

// ProfileCache keeps built profiles for a TTL so account pages do not rescan the score ledger.
type ProfileCache struct {
	loader ProfileLoader
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	mu    sync.RWMutex
	rnd   *rand.Rand
	cache map[string]cachedProfile
	// gens counts invalidations per user; a fill only lands if none happened during its load.
	gens map[string]uint64
}

type cachedProfile struct {
	profile   domain.Profile
	expiresAt time.Time
}

func NewProfileCache(loader ProfileLoader, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		loader: loader,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedProfile),
		gens:   make(map[string]uint64),
	}
}

func (c *ProfileCache) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	if p, ok := c.lookup(userID); ok {
		return p, nil
	}

	result, err, _ := c.sf.Do(userID, func() (interface{}, error) {
		if p, ok := c.lookup(userID); ok {
			return p, nil
		}
		c.mu.RLock()
		gen := c.gens[userID]
		c.mu.RUnlock()

		profile, err := c.loader.LoadProfile(ctx, userID)
		if err != nil {
			return domain.Profile{}, err
		}
		if ttl := c.ttlWithJitter(); ttl > 0 {
			c.mu.Lock()
			if c.gens[userID] == gen {
				c.cache[userID] = cachedProfile{profile: profile, expiresAt: c.clock().Add(ttl)}
			}
			c.mu.Unlock()
		}
		return profile, nil
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return result.(domain.Profile), nil
}

// Invalidate drops the cached profile; the next read rebuilds it.
func (c *ProfileCache) Invalidate(_ context.Context, userID string) error {
	c.mu.Lock()
	delete(c.cache, userID)
	c.gens[userID]++
	c.mu.Unlock()
	return nil
}

func (c *ProfileCache) lookup(userID string) (domain.Profile, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	entry, ok := c.cache[userID]
	if !ok || !entry.expiresAt.After(c.clock()) {
		return domain.Profile{}, false
	}
	return entry.profile, true
}

func (c *ProfileCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	// up to 10% jitter spreads expirations
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
