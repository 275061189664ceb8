// Copyright (c) 2026 John Earle
//
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

package turnlock

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultTTL bounds how long a crashed replica can keep a conversation
	// locked. It must exceed the classifier timeout.
	DefaultTTL = 2 * time.Minute

	keyPrefix = "civic:turn:"
)

// releaseScript deletes the lock only if it still carries our token.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)

// Redis is a Guard shared by every replica using the same Redis.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis creates a Redis-backed guard. A non-positive ttl uses DefaultTTL.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func lockKey(key string) string {
	return fmt.Sprintf("%s%s", keyPrefix, key)
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	token := uuid.New().String()

	// SET NX = set only if key does not exist.
	set, err := r.rdb.SetNX(ctx, lockKey(key), token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("turnlock SETNX: %w", err)
	}
	if !set {
		return nil, ErrBusy
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// The turn's own context may already be cancelled.
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(ctx, r.rdb, []string{lockKey(key)}, token).Err(); err != nil {
				slog.Warn("turnlock release failed, lock will expire", "key", key, "error", err)
			}
		})
	}, nil
}

func (r *Redis) Held(ctx context.Context, key string) (bool, error) {
	n, err := r.rdb.Exists(ctx, lockKey(key)).Result()
	if err != nil {
		return false, fmt.Errorf("turnlock EXISTS: %w", err)
	}
	return n > 0, nil
}
