package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

const listVersionKey = "courses:list:version"

// LoadFunc loads a listing window from the repository.
type LoadFunc func(ctx context.Context, limit, offset int) ([]*Course, int, error)

// ListCache caches course listing windows.
type ListCache interface {
	ListCourses(ctx context.Context, limit, offset int, load LoadFunc) ([]*Course, int, error)
	Invalidate(ctx context.Context) error
}

// NoCache always loads from the repository.
type NoCache struct{}

func (NoCache) ListCourses(ctx context.Context, limit, offset int, load LoadFunc) ([]*Course, int, error) {
	return load(ctx, limit, offset)
}

func (NoCache) Invalidate(context.Context) error { return nil }

// RedisListCache is a cache-aside listing cache. Keys embed a version counter
// so one INCR invalidates every cached window.
type RedisListCache struct {
	client *redis.Client
	ttl    time.Duration
	group  singleflight.Group
}

func NewRedisListCache(client *redis.Client, ttl time.Duration) *RedisListCache {
	return &RedisListCache{client: client, ttl: ttl}
}

type cachedWindow struct {
	Courses []*Course `json:"courses"`
	Total   int       `json:"total"`
}

func listKey(version string, limit, offset int) string {
	return fmt.Sprintf("courses:list:v%s:%d:%d", version, limit, offset)
}

func (c *RedisListCache) version(ctx context.Context) (string, error) {
	v, err := c.client.Get(ctx, listVersionKey).Result()
	if errors.Is(err, redis.Nil) {
		return "0", nil
	}
	return v, err
}

func (c *RedisListCache) ListCourses(ctx context.Context, limit, offset int, load LoadFunc) ([]*Course, int, error) {
	version, err := c.version(ctx)
	if err != nil {
		log.Printf("course cache unavailable: %v", err)
		return load(ctx, limit, offset)
	}
	key := listKey(version, limit, offset)

	if val, err := c.client.Get(ctx, key).Bytes(); err == nil {
		var w cachedWindow
		if json.Unmarshal(val, &w) == nil {
			return w.Courses, w.Total, nil
		}
	}

	// singleflight collapses concurrent misses for one window into one load.
	// The shared load outlives any one caller's cancellation.
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		ctx := context.WithoutCancel(ctx)
		courses, total, err := load(ctx, limit, offset)
		if err != nil {
			return nil, err
		}
		w := cachedWindow{Courses: courses, Total: total}
		if data, err := json.Marshal(w); err == nil {
			if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
				log.Printf("course cache write %s: %v", key, err)
			}
		}
		return w, nil
	})
	if err != nil {
		return nil, 0, err
	}
	w := v.(cachedWindow)
	return w.Courses, w.Total, nil
}

func (c *RedisListCache) Invalidate(ctx context.Context) error {
	return c.client.Incr(ctx, listVersionKey).Err()
}
