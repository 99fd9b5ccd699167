// Copyright 2025 Fleetbridge
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// DefaultRouteTTL is how long a cached routing entry stays valid in redis.
const DefaultRouteTTL = 15 * time.Minute

// LookupCache is a redis-backed cache for login routing lookups. Login
// resolution sits on the interactive sign-in path, so the SQL table gets a
// hot cache in front of it. Cache misses and redis failures fall through to
// SQL; the cache is never a source of truth.
type LookupCache struct {
	client *redis.Client
	ttl    time.Duration
	logger *log.Logger
}

// NewLookupCache creates a LookupCache from a redis URL
// (redis://host:port/db). A ttl of zero selects DefaultRouteTTL.
func NewLookupCache(redisURL string, ttl time.Duration) (*LookupCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	if ttl <= 0 {
		ttl = DefaultRouteTTL
	}
	return &LookupCache{
		client: client,
		ttl:    ttl,
		logger: log.New(log.Writer(), "[ROUTE_CACHE] ", log.LstdFlags),
	}, nil
}

func routeKey(login string) string {
	return "route:" + login
}

// Put stores a routing entry under its login.
func (c *LookupCache) Put(ctx context.Context, route *UserRoute) error {
	data, err := json.Marshal(route)
	if err != nil {
		return fmt.Errorf("failed to marshal route: %w", err)
	}
	return c.client.Set(ctx, routeKey(route.Login), data, c.ttl).Err()
}

// Get returns the cached routing entry for a login, or false on a miss.
// Redis errors count as misses.
func (c *LookupCache) Get(ctx context.Context, login string) (*UserRoute, bool) {
	data, err := c.client.Get(ctx, routeKey(login)).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Printf("Redis lookup failed for %q: %v", login, err)
		return nil, false
	}

	var route UserRoute
	if err := json.Unmarshal(data, &route); err != nil {
		c.logger.Printf("Corrupt cache entry for %q: %v", login, err)
		return nil, false
	}
	return &route, true
}

// Invalidate drops the cached entry for a login.
func (c *LookupCache) Invalidate(ctx context.Context, login string) error {
	return c.client.Del(ctx, routeKey(login)).Err()
}

// Flush drops every cached routing entry.
func (c *LookupCache) Flush(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, "route:*", 0).Iterator()
	for iter.Next(ctx) {
		if err := c.client.Del(ctx, iter.Val()).Err(); err != nil {
			return err
		}
	}
	return iter.Err()
}

// Close releases the redis connection pool.
func (c *LookupCache) Close() error {
	return c.client.Close()
}
