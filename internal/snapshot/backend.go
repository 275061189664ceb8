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

package snapshot

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
)

// Backend holds the connections behind a KV. Redis is connected whenever a
// URL is given, so other components can share the client.
type Backend struct {
	KV    KV
	Redis *redis.Client
	Pool  *pgxpool.Pool
}

// Open connects the configured driver ("memory", "redis" or "postgres").
func Open(ctx context.Context, driver, redisURL, databaseURL string) (*Backend, error) {
	b := &Backend{}

	if redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("invalid redis url: %w", err)
		}
		b.Redis = redis.NewClient(opt)
		if err := b.Redis.Ping(ctx).Err(); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		slog.Info("connected to Redis")
	}

	switch driver {
	case "redis":
		if b.Redis == nil {
			return nil, fmt.Errorf("redis driver needs a redis url")
		}
		b.KV = NewRedisKV(b.Redis)

	case "postgres":
		pool, err := pgxpool.New(ctx, databaseURL)
		if err != nil {
			b.Close()
			return nil, fmt.Errorf("create postgres pool: %w", err)
		}
		b.Pool = pool
		if err := pool.Ping(ctx); err != nil {
			b.Close()
			return nil, fmt.Errorf("connect to postgres: %w", err)
		}
		slog.Info("connected to PostgreSQL")

		kv, err := NewPostgresKV(ctx, pool)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.KV = kv

	case "memory", "":
		slog.Warn("using in-memory snapshot store, state is lost on restart")
		b.KV = NewMemoryKV()

	default:
		b.Close()
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}

	return b, nil
}

// HealthChecks returns a ping per open connection.
func (b *Backend) HealthChecks() map[string]func(context.Context) error {
	checks := make(map[string]func(context.Context) error)
	if b.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return b.Redis.Ping(ctx).Err() }
	}
	if b.Pool != nil {
		checks["postgres"] = b.Pool.Ping
	}
	return checks
}

// Close releases every connection.
func (b *Backend) Close() {
	if b.Redis != nil {
		b.Redis.Close()
	}
	if b.Pool != nil {
		b.Pool.Close()
	}
}
