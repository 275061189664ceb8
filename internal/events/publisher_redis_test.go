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

package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
)

func TestPublisher_PushesEnvelopes(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	p := NewPublisher(rdb, "")
	p.now = func() time.Time { return at }

	log := models.CommunityLog{ID: "LOG-AB12C", UserID: "bob@x.org", Status: models.LogStatusPending}
	ctx := context.Background()
	if err := p.TicketCreated(ctx, log); err != nil {
		t.Fatalf("TicketCreated: %v", err)
	}
	log.Status = models.LogStatusResolved
	if err := p.TicketResolved(ctx, log, "sess-1"); err != nil {
		t.Fatalf("TicketResolved: %v", err)
	}

	items, err := mr.List(DefaultQueue)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("queue length = %d, want 2", len(items))
	}

	// LPUSH puts the newest event at the head; consumers BRPOP the oldest.
	var newest, oldest Envelope
	if err := json.Unmarshal([]byte(items[0]), &newest); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if err := json.Unmarshal([]byte(items[1]), &oldest); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if oldest.Type != TicketCreated || oldest.SessionID != "" || oldest.Log.Status != models.LogStatusPending {
		t.Errorf("oldest = %+v", oldest)
	}
	if newest.Type != TicketResolved || newest.SessionID != "sess-1" || !newest.OccurredAt.Equal(at) {
		t.Errorf("newest = %+v", newest)
	}
	if newest.ID == oldest.ID {
		t.Error("event ids must differ")
	}

	if err := p.Ping(ctx); err != nil {
		t.Errorf("Ping: %v", err)
	}
}

func TestPublisher_RedisDown(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer rdb.Close()
	mr.Close()

	p := NewPublisher(rdb, "civic:test")
	if err := p.TicketCreated(context.Background(), models.CommunityLog{ID: "LOG-AB12C"}); err == nil {
		t.Error("expected an error when redis is unreachable")
	}
	if err := p.Ping(context.Background()); err == nil {
		t.Error("expected Ping to fail")
	}
}
