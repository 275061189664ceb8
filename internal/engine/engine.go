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

// Package engine runs chat turns: it records citizen and admin messages,
// asks the classifier for a reply, reveals the reply as it streams in and
// opens a community log when the reply carries the issue marker. It also
// handles admin resolution of those logs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/classify"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/conversation"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/tickets"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/turnlock"
)

// DefaultTimeout bounds a single classification call.
const DefaultTimeout = 30 * time.Second

var (
	ErrEmptyMessage      = errors.New("engine: message text is empty")
	ErrEmptyResolution   = errors.New("engine: resolution text is empty")
	ErrMissingTargetUser = errors.New("engine: admin message has no target citizen")
	ErrForbidden         = errors.New("engine: operation requires the admin role")
	ErrInvalidFeedback   = errors.New("engine: feedback must rate an assistant reply up or down")

	// ErrBusy is returned while a reply for the same citizen is in flight.
	ErrBusy = turnlock.ErrBusy

	errEmptyReply = errors.New("classifier returned an empty reply")
)

// Notifier receives ticket lifecycle events.
type Notifier interface {
	TicketCreated(ctx context.Context, log models.CommunityLog) error
	TicketResolved(ctx context.Context, log models.CommunityLog, sessionID string) error
}

// Config wires an Engine.
type Config struct {
	Conversations *conversation.Store
	Ledger        *tickets.Ledger
	Classifier    classify.Classifier
	Guard         turnlock.Guard

	// Notifier is optional.
	Notifier Notifier
	// OnChange is called after every state mutation.
	OnChange func()

	Timeout   time.Duration
	Streaming bool
}

// Engine is safe for concurrent use.
type Engine struct {
	conv       *conversation.Store
	ledger     *tickets.Ledger
	classifier classify.Classifier
	guard      turnlock.Guard
	notifier   Notifier
	onChange   func()
	timeout    time.Duration
	streaming  bool

	now   func() time.Time
	newID func(prefix string) string
}

func New(cfg Config) *Engine {
	e := &Engine{
		conv:       cfg.Conversations,
		ledger:     cfg.Ledger,
		classifier: cfg.Classifier,
		guard:      cfg.Guard,
		notifier:   cfg.Notifier,
		onChange:   cfg.OnChange,
		timeout:    cfg.Timeout,
		streaming:  cfg.Streaming,
		now:        func() time.Time { return time.Now().UTC() },
		newID:      conversation.NewMessageID,
	}
	if e.classifier == nil {
		e.classifier = classify.Unavailable{}
	}
	if e.guard == nil {
		e.guard = turnlock.NewLocal()
	}
	if e.timeout <= 0 {
		e.timeout = DefaultTimeout
	}
	return e
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}

// NewSessionID mints a conversation thread id.
func (e *Engine) NewSessionID() string {
	return fmt.Sprintf("sess-%d", e.now().UnixMilli())
}

// Busy reports whether a reply for userID is in flight.
func (e *Engine) Busy(ctx context.Context, userID string) bool {
	held, err := e.guard.Held(ctx, userID)
	if err != nil {
		slog.Warn("turn guard check failed", "user_id", userID, "error", err)
		return false
	}
	return held
}
