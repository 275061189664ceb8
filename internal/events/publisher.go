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

// Package events publishes ticket lifecycle events to a Redis list so that
// downstream workers (notifications, dashboards) can consume them with BRPOP.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
	"github.com/redis/go-redis/v9"
)

// DefaultQueue is the Redis list events are pushed onto.
const DefaultQueue = "civic:events"

// Event types.
const (
	TicketCreated  = "ticket.created"
	TicketResolved = "ticket.resolved"
)

// Envelope is the wire format consumers read from the queue.
type Envelope struct {
	ID         string              `json:"id"`
	Type       string              `json:"type"`
	OccurredAt time.Time           `json:"occurredAt"`
	Log        models.CommunityLog `json:"log"`
	// SessionID is the conversation a resolution was delivered into.
	SessionID string `json:"sessionId,omitempty"`
}

// Publisher pushes ticket events onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
	now       func() time.Time
}

// NewPublisher creates a publisher targeting the given list.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	if queueName == "" {
		queueName = DefaultQueue
	}
	return &Publisher{
		rdb:       rdb,
		queueName: queueName,
		now:       time.Now,
	}
}

func newEnvelope(eventType string, log models.CommunityLog, sessionID string, at time.Time) Envelope {
	return Envelope{
		ID:         uuid.New().String(),
		Type:       eventType,
		OccurredAt: at.UTC(),
		Log:        log,
		SessionID:  sessionID,
	}
}

// TicketCreated publishes a ticket.created event.
func (p *Publisher) TicketCreated(ctx context.Context, log models.CommunityLog) error {
	return p.Publish(ctx, newEnvelope(TicketCreated, log, "", p.now()))
}

// TicketResolved publishes a ticket.resolved event.
func (p *Publisher) TicketResolved(ctx context.Context, log models.CommunityLog, sessionID string) error {
	return p.Publish(ctx, newEnvelope(TicketResolved, log, sessionID, p.now()))
}

// Publish pushes env onto the queue.
func (p *Publisher) Publish(ctx context.Context, env Envelope) error {
	body, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.rdb.LPush(ctx, p.queueName, string(body)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}

	slog.Info("published ticket event",
		"event_id", env.ID,
		"type", env.Type,
		"log_id", env.Log.ID,
		"queue", p.queueName,
	)
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}
