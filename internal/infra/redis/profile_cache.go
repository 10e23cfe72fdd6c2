package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
	"lrnr-quiz-service/internal/config"
	"lrnr-quiz-service/internal/domain"
)

var errStaleFill = errors.New("profile invalidated during fill")

// ProfileLoader builds a profile from the backing store.
type ProfileLoader interface {
	LoadProfile(ctx context.Context, userID string) (domain.Profile, error)
}

// ProfileCache stores built profiles as JSON under profile:{userID} and falls back to the
// loader on a miss. Cache errors degrade to a direct load. Invalidate bumps
// profile:gen:{userID}, and a fill is only written while that counter is unchanged.
type ProfileCache struct {
	client *redis.Client
	loader ProfileLoader
	ttl    time.Duration
	sf     singleflight.Group

	mu  sync.Mutex
	rnd *rand.Rand
}

func NewProfileCache(client *redis.Client, loader ProfileLoader, ttl time.Duration) *ProfileCache {
	return &ProfileCache{
		client: client,
		loader: loader,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *ProfileCache) GetProfile(ctx context.Context, userID string) (domain.Profile, error) {
	if p, ok := c.cached(ctx, userID); ok {
		return p, nil
	}

	result, err, _ := c.sf.Do(userID, func() (interface{}, error) {
		// Another caller may have filled it meanwhile.
		if p, ok := c.cached(ctx, userID); ok {
			return p, nil
		}
		gen, genErr := c.generation(ctx, c.client, userID)
		if genErr != nil {
			config.WithContext(ctx).WithError(genErr).Warn("profile cache read failed")
		}
		profile, err := c.loader.LoadProfile(ctx, userID)
		if err != nil {
			return domain.Profile{}, err
		}
		if genErr == nil {
			c.store(ctx, userID, gen, profile)
		}
		return profile, nil
	})
	if err != nil {
		return domain.Profile{}, err
	}
	return result.(domain.Profile), nil
}

func (c *ProfileCache) Invalidate(ctx context.Context, userID string) error {
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, profileKey(userID))
		pipe.Incr(ctx, generationKey(userID))
		return nil
	})
	return err
}

// store writes profile unless userID was invalidated since gen was read.
func (c *ProfileCache) store(ctx context.Context, userID, gen string, profile domain.Profile) {
	ttl := c.ttlWithJitter()
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(profile)
	if err != nil {
		return
	}
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := c.generation(ctx, tx, userID)
		if err != nil {
			return err
		}
		if current != gen {
			return errStaleFill
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, profileKey(userID), data, ttl)
			return nil
		})
		return err
	}, generationKey(userID))
	switch {
	case err == nil, errors.Is(err, errStaleFill), errors.Is(err, redis.TxFailedErr):
	default:
		config.WithContext(ctx).WithError(err).Warn("profile cache write failed")
	}
}

func (c *ProfileCache) generation(ctx context.Context, cmd redis.Cmdable, userID string) (string, error) {
	gen, err := cmd.Get(ctx, generationKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return gen, err
}

func (c *ProfileCache) cached(ctx context.Context, userID string) (domain.Profile, bool) {
	data, err := c.client.Get(ctx, profileKey(userID)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			config.WithContext(ctx).WithError(err).Warn("profile cache read failed")
		}
		return domain.Profile{}, false
	}
	var p domain.Profile
	if err := json.Unmarshal(data, &p); err != nil {
		return domain.Profile{}, false
	}
	return p, true
}

func profileKey(userID string) string {
	return "profile:" + userID
}

func generationKey(userID string) string {
	return "profile:gen:" + userID
}

func (c *ProfileCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
