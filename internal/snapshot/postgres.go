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
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresKV stores entries in a single kv_entries table.
type PostgresKV struct {
	pool *pgxpool.Pool
}

// NewPostgresKV creates the store and ensures the table exists.
func NewPostgresKV(ctx context.Context, pool *pgxpool.Pool) (*PostgresKV, error) {
	s := &PostgresKV{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure snapshot schema: %w", err)
	}
	slog.Info("postgres snapshot store initialised")
	return s, nil
}

func (s *PostgresKV) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS kv_entries (
			key        TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at TIMESTAMPTZ DEFAULT NOW()
		);
	`)
	return err
}

func (s *PostgresKV) Get(ctx context.Context, key string) ([]byte, error) {
	var value string
	err := s.pool.QueryRow(ctx, `
		SELECT value FROM kv_entries WHERE key = $1
	`, key).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", key, err)
	}
	return []byte(value), nil
}

func (s *PostgresKV) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO kv_entries (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET
			value      = EXCLUDED.value,
			updated_at = NOW()
	`, key, string(value))
	if err != nil {
		return fmt.Errorf("upsert %s: %w", key, err)
	}
	return nil
}

func (s *PostgresKV) Delete(ctx context.Context, key string) error {
	_, err := s.pool.Exec(ctx, `
		DELETE FROM kv_entries WHERE key = $1
	`, key)
	if err != nil {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
