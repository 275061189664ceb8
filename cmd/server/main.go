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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/api"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/classify"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/config"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/conversation"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/engine"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/events"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/identity"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/snapshot"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/tickets"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/turnlock"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting civic feedback service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"classifier", cfg.Classifier.Provider,
		"streaming", cfg.Classifier.Streaming,
		"storage", cfg.Storage.Driver,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Storage ---
	backend, err := snapshot.Open(ctx, cfg.Storage.Driver, cfg.Storage.RedisURL, cfg.Storage.DatabaseURL)
	if err != nil {
		slog.Error("failed to open snapshot storage", "error", err)
		os.Exit(1)
	}
	defer backend.Close()

	conv := conversation.NewStore()
	ledger := tickets.NewLedger()
	store := snapshot.NewStore(backend.KV, cfg.Storage.Namespace)

	if err := snapshot.Hydrate(ctx, store, conv, ledger); err != nil {
		slog.Error("failed to load snapshot", "error", err)
		os.Exit(1)
	}

	syncer := snapshot.NewSyncer(store, conv, ledger, cfg.Storage.FlushInterval)
	syncer.HoldLease(leaseOwner())
	syncer.Start(ctx)

	// --- Turn guard ---
	// The local guard alone suffices for one replica; Redis extends it
	// across replicas.
	var guard turnlock.Guard = turnlock.NewLocal()
	if backend.Redis != nil {
		guard = turnlock.Chain{guard, turnlock.NewRedis(backend.Redis, cfg.TurnLockTTL)}
	}

	// --- Classifier ---
	classifier, err := buildClassifier(ctx, cfg.Classifier)
	if err != nil {
		slog.Error("failed to initialise classifier", "error", err)
		os.Exit(1)
	}

	engineCfg := engine.Config{
		Conversations: conv,
		Ledger:        ledger,
		Classifier:    classifier,
		Guard:         guard,
		OnChange:      syncer.MarkDirty,
		Timeout:       cfg.Classifier.Timeout,
		Streaming:     cfg.Classifier.Streaming,
	}

	// --- Ticket events ---
	if backend.Redis != nil {
		engineCfg.Notifier = events.NewPublisher(backend.Redis, cfg.EventsQueue)
		slog.Info("ticket events enabled", "queue", cfg.EventsQueue)
	}

	eng := engine.New(engineCfg)

	// --- HTTP API ---
	handler := api.NewHandler(api.Deps{
		Engine:        eng,
		Conversations: conv,
		Ledger:        ledger,
		Identity:      identity.NewResolver(cfg.AdminEmail, cfg.AdminName),
		Snapshot:      store,
		HealthChecks:  backend.HealthChecks(),
	})

	ready, served, err := api.Serve(ctx, cfg.Port, handler.Routes())
	if err != nil {
		slog.Error("failed to start api server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig.String())
	cancel()

	// Requests still running may mutate state; flush only once they return.
	<-served
	syncer.Stop()

	slog.Info("civic feedback service stopped")
}

// buildClassifier returns the configured reply backend.
func buildClassifier(ctx context.Context, cfg config.ClassifierConfig) (classify.Classifier, error) {
	switch cfg.Provider {
	case config.ProviderGemini:
		g, err := classify.NewGemini(ctx, classify.GeminiConfig{
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: &cfg.Temperature,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("classifier ready", "backend", g.Name())
		return g, nil

	case config.ProviderRemote:
		httpClient := &http.Client{}
		if cfg.TokenURL != "" {
			creds := &clientcredentials.Config{
				ClientID:     cfg.ClientID,
				ClientSecret: cfg.ClientSecret,
				TokenURL:     cfg.TokenURL,
				Scopes:       cfg.Scopes,
			}
			httpClient = creds.Client(ctx)
		}
		slog.Info("classifier ready", "backend", "remote", "url", cfg.RemoteURL)
		return classify.NewRemote(httpClient, cfg.RemoteURL, &cfg.Temperature), nil

	case config.ProviderNone:
		slog.Warn("no classifier configured, every reply will be the fallback message")
		return classify.Unavailable{}, nil
	}
	return nil, fmt.Errorf("unknown classifier provider %q", cfg.Provider)
}

// leaseOwner names this process in the snapshot lease.
func leaseOwner() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("civic-server@%s/%d", host, os.Getpid())
}
