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
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
)

// DefaultNamespace prefixes every key written by a Store.
const DefaultNamespace = "civic"

const (
	keyLogs     = "logs"
	keyMessages = "messages"
	keyIdentity = "identity:"
	keyLease    = "lease"
)

// ErrLeaseHeld is returned when a running service owns the snapshot.
var ErrLeaseHeld = errors.New("snapshot: held by a running service")

// Lease advertises the process currently writing the snapshot.
type Lease struct {
	Owner     string    `json:"owner"`
	RenewedAt time.Time `json:"renewedAt"`
}

// Live reports whether the lease was renewed within ttl of now.
func (l Lease) Live(now time.Time, ttl time.Duration) bool {
	return now.Sub(l.RenewedAt) < ttl
}

// Store reads and writes the three snapshot entries.
type Store struct {
	kv        KV
	namespace string
}

func NewStore(kv KV, namespace string) *Store {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return &Store{kv: kv, namespace: namespace}
}

func (s *Store) key(name string) string {
	return s.namespace + ":" + name
}

func (s *Store) put(ctx context.Context, name string, v any) error {
	body, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	return s.kv.Set(ctx, s.key(name), body)
}

// get decodes the entry into v. It reports false when the entry is absent.
func (s *Store) get(ctx context.Context, name string, v any) (bool, error) {
	body, err := s.kv.Get(ctx, s.key(name))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("decode %s: %w", name, err)
	}
	return true, nil
}

// SaveIdentity records the signed-in user for a client.
func (s *Store) SaveIdentity(ctx context.Context, clientID string, u models.User) error {
	return s.put(ctx, keyIdentity+clientID, u)
}

// LoadIdentity returns the user signed in on clientID, if any.
func (s *Store) LoadIdentity(ctx context.Context, clientID string) (models.User, bool, error) {
	var u models.User
	ok, err := s.get(ctx, keyIdentity+clientID, &u)
	if err != nil || !ok {
		return models.User{}, false, err
	}
	return u, true, nil
}

// ClearIdentity signs the client out.
func (s *Store) ClearIdentity(ctx context.Context, clientID string) error {
	return s.kv.Delete(ctx, s.key(keyIdentity+clientID))
}

func (s *Store) SaveLogs(ctx context.Context, logs []models.CommunityLog) error {
	if logs == nil {
		logs = []models.CommunityLog{}
	}
	return s.put(ctx, keyLogs, logs)
}

func (s *Store) LoadLogs(ctx context.Context) ([]models.CommunityLog, error) {
	var logs []models.CommunityLog
	if _, err := s.get(ctx, keyLogs, &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

func (s *Store) SaveMessages(ctx context.Context, msgs []models.ChatMessage) error {
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	return s.put(ctx, keyMessages, msgs)
}

func (s *Store) LoadMessages(ctx context.Context) ([]models.ChatMessage, error) {
	var msgs []models.ChatMessage
	if _, err := s.get(ctx, keyMessages, &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

func (s *Store) SaveLease(ctx context.Context, l Lease) error {
	return s.put(ctx, keyLease, l)
}

func (s *Store) LoadLease(ctx context.Context) (Lease, bool, error) {
	var l Lease
	ok, err := s.get(ctx, keyLease, &l)
	if err != nil || !ok {
		return Lease{}, false, err
	}
	return l, true, nil
}

func (s *Store) ClearLease(ctx context.Context) error {
	return s.kv.Delete(ctx, s.key(keyLease))
}

// CheckLease returns ErrLeaseHeld when another process renewed its lease
// within ttl of now.
func (s *Store) CheckLease(ctx context.Context, now time.Time, ttl time.Duration) error {
	l, ok, err := s.LoadLease(ctx)
	if err != nil {
		return fmt.Errorf("load lease: %w", err)
	}
	if ok && l.Live(now, ttl) {
		return fmt.Errorf("%w: %s (renewed %s ago)", ErrLeaseHeld, l.Owner, now.Sub(l.RenewedAt).Round(time.Second))
	}
	return nil
}
