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

// Package turnlock enforces at most one in-flight assistant turn per
// conversation. A Local guard covers a single process; a Redis guard extends
// the rule across replicas sharing the same store.
package turnlock

import (
	"context"
	"errors"
	"sync"
)

// ErrBusy is returned when a turn is already in flight for the conversation.
var ErrBusy = errors.New("turnlock: a reply is already in progress")

// Guard grants exclusive turns keyed by conversation owner.
type Guard interface {
	// Acquire claims the turn for key. The returned release func is safe to
	// call more than once.
	Acquire(ctx context.Context, key string) (release func(), err error)
	// Held reports whether a turn is currently in flight for key.
	Held(ctx context.Context, key string) (bool, error)
}

// Local is an in-process Guard.
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal creates an empty in-process guard.
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

func (l *Local) Acquire(_ context.Context, key string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.held[key]; ok {
		return nil, ErrBusy
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
	}, nil
}

func (l *Local) Held(_ context.Context, key string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.held[key]
	return ok, nil
}

// Chain acquires every guard in order and releases them in reverse.
type Chain []Guard

func (c Chain) Acquire(ctx context.Context, key string) (func(), error) {
	releases := make([]func(), 0, len(c))
	releaseAll := func() {
		for i := len(releases) - 1; i >= 0; i-- {
			releases[i]()
		}
	}

	for _, g := range c {
		release, err := g.Acquire(ctx, key)
		if err != nil {
			releaseAll()
			return nil, err
		}
		releases = append(releases, release)
	}

	var once sync.Once
	return func() { once.Do(releaseAll) }, nil
}

func (c Chain) Held(ctx context.Context, key string) (bool, error) {
	for _, g := range c {
		held, err := g.Held(ctx, key)
		if err != nil {
			return false, err
		}
		if held {
			return true, nil
		}
	}
	return false, nil
}
