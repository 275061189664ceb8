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
	"sync"
	"sync/atomic"
	"time"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/conversation"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/tickets"
)

// DefaultFlushInterval is how often dirty state is written back.
const DefaultFlushInterval = 5 * time.Second

// LeaseTTL is how long a lease renewed every interval stays live.
func LeaseTTL(interval time.Duration) time.Duration {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return 3 * interval
}

// Hydrate loads the ledger and conversation log from the store. A missing
// entry leaves the corresponding collection empty.
func Hydrate(ctx context.Context, store *Store, conv *conversation.Store, ledger *tickets.Ledger) error {
	logs, err := store.LoadLogs(ctx)
	if err != nil {
		return fmt.Errorf("load logs: %w", err)
	}
	msgs, err := store.LoadMessages(ctx)
	if err != nil {
		return fmt.Errorf("load messages: %w", err)
	}

	if skipped := ledger.Load(logs); skipped > 0 {
		slog.Warn("skipped invalid logs in snapshot", "count", skipped)
	}
	if skipped := conv.Load(msgs); skipped > 0 {
		slog.Warn("skipped invalid messages in snapshot", "count", skipped)
	}

	slog.Info("snapshot hydrated",
		"logs", len(logs),
		"messages", len(msgs),
	)
	return nil
}

// Syncer writes the ledger and conversation log back to the store whenever
// they have been marked dirty.
type Syncer struct {
	store    *Store
	conv     *conversation.Store
	ledger   *tickets.Ledger
	interval time.Duration

	dirty   atomic.Bool
	flushMu sync.Mutex

	owner string
	now   func() time.Time

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewSyncer(store *Store, conv *conversation.Store, ledger *tickets.Ledger, interval time.Duration) *Syncer {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Syncer{
		store:    store,
		conv:     conv,
		ledger:   ledger,
		interval: interval,
		now:      time.Now,
	}
}

// HoldLease makes the syncer advertise owner as the live writer of the
// snapshot from Start until Stop. Offline tools refuse to write while the
// lease is live. Call before Start.
func (s *Syncer) HoldLease(owner string) {
	s.owner = owner
}

func (s *Syncer) renewLease(ctx context.Context) {
	if s.owner == "" {
		return
	}
	if err := s.store.SaveLease(ctx, Lease{Owner: s.owner, RenewedAt: s.now().UTC()}); err != nil {
		slog.Warn("failed to renew snapshot lease", "owner", s.owner, "error", err)
	}
}

// releaseLease deletes the lease if this syncer still owns it.
func (s *Syncer) releaseLease(ctx context.Context) {
	if s.owner == "" {
		return
	}
	l, ok, err := s.store.LoadLease(ctx)
	if err != nil || !ok || l.Owner != s.owner {
		return
	}
	if err := s.store.ClearLease(ctx); err != nil {
		slog.Warn("failed to release snapshot lease", "owner", s.owner, "error", err)
	}
}

// MarkDirty schedules a write on the next flush.
func (s *Syncer) MarkDirty() {
	s.dirty.Store(true)
}

// Dirty reports whether unsaved changes exist.
func (s *Syncer) Dirty() bool {
	return s.dirty.Load()
}

// Flush writes the current state if it is dirty. On failure the state stays
// dirty so the next tick retries.
func (s *Syncer) Flush(ctx context.Context) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	if !s.dirty.Swap(false) {
		return nil
	}

	if err := s.store.SaveLogs(ctx, s.ledger.All()); err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("save logs: %w", err)
	}
	if err := s.store.SaveMessages(ctx, s.conv.All()); err != nil {
		s.dirty.Store(true)
		return fmt.Errorf("save messages: %w", err)
	}
	return nil
}

// Start runs the periodic flush loop until Stop is called.
func (s *Syncer) Start(ctx context.Context) {
	s.renewLease(ctx)

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.wg.Add(1)
	go s.loop(loopCtx)

	slog.Info("snapshot syncer started", "interval", s.interval.String())
}

// Stop ends the loop and performs a final flush.
func (s *Syncer) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.Flush(ctx); err != nil {
		slog.Error("final snapshot flush failed", "error", err)
	}
	s.releaseLease(ctx)
	slog.Info("snapshot syncer stopped")
}

func (s *Syncer) loop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Flush(ctx); err != nil {
				slog.Error("snapshot flush failed", "error", err)
			}
			s.renewLease(ctx)
		}
	}
}
