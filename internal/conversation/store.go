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

// Package conversation holds the append-only chat message log, partitioned
// by citizen and session, and the indexes used to query it.
package conversation

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/identity"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
)

var (
	// ErrMalformed is returned when a message lacks a user or session id.
	ErrMalformed = errors.New("conversation: message requires userId and sessionId")

	// ErrNotFound is returned when a message id is unknown.
	ErrNotFound = errors.New("conversation: message not found")

	// ErrDuplicateID is returned when appending a message whose id exists.
	ErrDuplicateID = errors.New("conversation: duplicate message id")

	// ErrNotOwner is returned when a user touches a message in another thread.
	ErrNotOwner = errors.New("conversation: message belongs to another user")
)

// session indexes the messages of one thread.
type session struct {
	id       string
	messages []*models.ChatMessage
	last     *models.ChatMessage // latest append holding the max timestamp
}

// thread indexes everything one citizen has exchanged.
type thread struct {
	sessions map[string]*session
	latestID string
	latestAt time.Time
}

// Store is an in-memory, mutex-guarded message log.
type Store struct {
	mu       sync.RWMutex
	messages []*models.ChatMessage // append order
	byID     map[string]*models.ChatMessage
	threads  map[string]*thread
	users    []string // first-seen order
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		byID:    make(map[string]*models.ChatMessage),
		threads: make(map[string]*thread),
	}
}

// NewMessageID mints a message id with the given prefix ("msg", "ai", "admin").
func NewMessageID(prefix string) string {
	return fmt.Sprintf("%s-%s", prefix, uuid.New().String())
}

// Append adds msg to the log. An empty id is replaced with a fresh one and
// the stored copy is returned.
func (s *Store) Append(msg models.ChatMessage) (models.ChatMessage, error) {
	if strings.TrimSpace(msg.UserID) == "" || strings.TrimSpace(msg.SessionID) == "" {
		return models.ChatMessage{}, ErrMalformed
	}
	if msg.ID == "" {
		msg.ID = NewMessageID("msg")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.byID[msg.ID]; exists {
		return models.ChatMessage{}, fmt.Errorf("%w: %s", ErrDuplicateID, msg.ID)
	}

	s.insert(&msg)
	return cloneMessage(&msg), nil
}

// insert indexes m. Caller holds the write lock.
func (s *Store) insert(m *models.ChatMessage) {
	s.messages = append(s.messages, m)
	s.byID[m.ID] = m

	th, ok := s.threads[m.UserID]
	if !ok {
		th = &thread{sessions: make(map[string]*session)}
		s.threads[m.UserID] = th
		s.users = append(s.users, m.UserID)
	}

	sess, ok := th.sessions[m.SessionID]
	if !ok {
		sess = &session{id: m.SessionID}
		th.sessions[m.SessionID] = sess
	}
	sess.messages = append(sess.messages, m)
	// Ties go to the later append.
	if sess.last == nil || !m.Timestamp.Before(sess.last.Timestamp) {
		sess.last = m
	}
	if th.latestID == "" || !m.Timestamp.Before(th.latestAt) {
		th.latestID = m.SessionID
		th.latestAt = m.Timestamp
	}
}

// PatchContent overwrites the content and type of a message. Repeating the
// same call leaves the message unchanged.
func (s *Store) PatchContent(id, content string, msgType models.MessageType) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.Content = content
	m.Type = msgType
	return nil
}

// SetLogID cross-links a message to a community log.
func (s *Store) SetLogID(id, logID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	m.LogID = logID
	return nil
}

// SetFeedback records userID's rating on one of their messages.
func (s *Store) SetFeedback(id, userID string, fb models.UserFeedback) (models.ChatMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.byID[id]
	if !ok {
		return models.ChatMessage{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if m.UserID != userID {
		return models.ChatMessage{}, ErrNotOwner
	}
	m.Feedback = &fb
	return cloneMessage(m), nil
}

// Message returns a copy of the message with the given id.
func (s *Store) Message(id string) (models.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.byID[id]
	if !ok {
		return models.ChatMessage{}, false
	}
	return cloneMessage(m), true
}

// FindFlagged returns the assistant message that carried the reply which
// opened logID.
func (s *Store) FindFlagged(logID string) (models.ChatMessage, bool) {
	if logID == "" {
		return models.ChatMessage{}, false
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, m := range s.messages {
		if m.LogID == logID && m.Role == models.MessageRoleAssistant {
			return cloneMessage(m), true
		}
	}
	return models.ChatMessage{}, false
}

// LatestSession returns the session holding userID's most recent message.
func (s *Store) LatestSession(userID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.threads[userID]
	if !ok {
		return "", false
	}
	return th.latestID, true
}

// SessionsFor lists userID's sessions, most recent first.
func (s *Store) SessionsFor(userID string) []models.SessionSummary {
	s.mu.RLock()
	defer s.mu.RUnlock()

	th, ok := s.threads[userID]
	if !ok {
		return []models.SessionSummary{}
	}

	out := make([]models.SessionSummary, 0, len(th.sessions))
	for _, sess := range th.sessions {
		out = append(out, models.SessionSummary{
			SessionID:          sess.id,
			LastMessageContent: sess.last.Content,
			LastMessageTime:    sess.last.Timestamp,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastMessageTime.Equal(out[j].LastMessageTime) {
			return out[i].LastMessageTime.After(out[j].LastMessageTime)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// DistinctCounterparts lists every user with at least one message, except
// excluding, in the order they first appeared.
func (s *Store) DistinctCounterparts(excluding string) []models.Counterpart {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Counterpart, 0, len(s.users))
	for _, id := range s.users {
		if id == excluding {
			continue
		}
		out = append(out, models.Counterpart{UserID: id, Name: identity.DisplayName(id)})
	}
	return out
}

// MessagesFor returns the transcript of one session, oldest first.
func (s *Store) MessagesFor(userID, sessionID string) []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.ChatMessage{}
	th, ok := s.threads[userID]
	if !ok {
		return out
	}
	sess, ok := th.sessions[sessionID]
	if !ok {
		return out
	}

	for _, m := range sess.messages {
		out = append(out, cloneMessage(m))
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// All returns every message in append order.
func (s *Store) All() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChatMessage, 0, len(s.messages))
	for _, m := range s.messages {
		out = append(out, cloneMessage(m))
	}
	return out
}

// Load replaces the store contents with msgs and rebuilds every index.
// Malformed and duplicate entries are skipped and counted.
func (s *Store) Load(msgs []models.ChatMessage) (skipped int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.byID = make(map[string]*models.ChatMessage, len(msgs))
	s.threads = make(map[string]*thread)
	s.users = nil

	for i := range msgs {
		m := msgs[i]
		if m.ID == "" || m.UserID == "" || m.SessionID == "" {
			skipped++
			continue
		}
		if _, dup := s.byID[m.ID]; dup {
			skipped++
			continue
		}
		s.insert(&m)
	}
	return skipped
}

// Len returns the number of stored messages.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func cloneMessage(m *models.ChatMessage) models.ChatMessage {
	c := *m
	if m.Feedback != nil {
		fb := *m.Feedback
		c.Feedback = &fb
	}
	return c
}
