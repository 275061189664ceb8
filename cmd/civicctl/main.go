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

// civicctl is the operator CLI. It reads community logs and conversations
// from the service's snapshot store. Resolutions go through a running
// service's API when --server is set; offline resolution writes the snapshot
// directly and is refused while a service holds the snapshot lease.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/config"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/conversation"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/engine"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/events"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/identity"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/snapshot"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/tickets"
)

func main() {
	// Logs go to stderr so command output stays pipeable.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelWarn,
	}))
	slog.SetDefault(logger)

	c := &cli{
		open:         openApp,
		defaultAdmin: configuredAdmin,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
	}
	if err := newRootCmd(c).Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// cli carries what commands need beyond their own flags.
type cli struct {
	open         opener
	defaultAdmin func() (string, error)
	httpClient   *http.Client
	server       string // base URL of a running service, empty for offline
}

// app is the state one command operates on.
type app struct {
	conv     *conversation.Store
	ledger   *tickets.Ledger
	engine   *engine.Engine
	identity *identity.Resolver
	adminID  string
	store    *snapshot.Store
	syncer   *snapshot.Syncer
	leaseTTL time.Duration
	close    func()
}

// opener builds the app for a command run.
type opener func(ctx context.Context) (*app, error)

// openApp connects to the configured storage and loads the snapshot.
func openApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}

	backend, err := snapshot.Open(ctx, cfg.Storage.Driver, cfg.Storage.RedisURL, cfg.Storage.DatabaseURL)
	if err != nil {
		return nil, err
	}

	var notifier engine.Notifier
	if backend.Redis != nil {
		notifier = events.NewPublisher(backend.Redis, cfg.EventsQueue)
	}

	a, err := newApp(ctx, snapshot.NewStore(backend.KV, cfg.Storage.Namespace),
		identity.NewResolver(cfg.AdminEmail, cfg.AdminName), notifier)
	if err != nil {
		backend.Close()
		return nil, err
	}
	a.close = backend.Close
	a.leaseTTL = snapshot.LeaseTTL(cfg.Storage.FlushInterval)
	return a, nil
}

// configuredAdmin returns the admin identity from the configuration.
func configuredAdmin() (string, error) {
	cfg, err := config.Load()
	if err != nil {
		return "", fmt.Errorf("load configuration: %w", err)
	}
	return identity.NewResolver(cfg.AdminEmail, cfg.AdminName).AdminID(), nil
}

func newApp(ctx context.Context, store *snapshot.Store, resolver *identity.Resolver, notifier engine.Notifier) (*app, error) {
	conv := conversation.NewStore()
	ledger := tickets.NewLedger()
	if err := snapshot.Hydrate(ctx, store, conv, ledger); err != nil {
		return nil, err
	}

	syncer := snapshot.NewSyncer(store, conv, ledger, 0)
	return &app{
		conv:   conv,
		ledger: ledger,
		engine: engine.New(engine.Config{
			Conversations: conv,
			Ledger:        ledger,
			Notifier:      notifier,
			OnChange:      syncer.MarkDirty,
		}),
		identity: resolver,
		adminID:  resolver.AdminID(),
		store:    store,
		syncer:   syncer,
		leaseTTL: snapshot.LeaseTTL(0),
		close:    func() {},
	}, nil
}

// checkLease fails when a running service owns the snapshot.
func (a *app) checkLease(ctx context.Context) error {
	if err := a.store.CheckLease(ctx, time.Now(), a.leaseTTL); err != nil {
		return fmt.Errorf("%w; resolve through it with --server", err)
	}
	return nil
}
