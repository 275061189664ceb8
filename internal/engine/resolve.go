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

package engine

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
)

// ResolveRequest is an admin's answer to a community log.
type ResolveRequest struct {
	LogID    string
	Response string
	Admin    models.User
	// ActiveSessionID is the thread the admin currently has open. It is
	// used only when the flagged message can no longer be found.
	ActiveSessionID string
}

// ResolveResult holds the resolved log and the message delivered to the
// citizen.
type ResolveResult struct {
	Log     models.CommunityLog `json:"log"`
	Message models.ChatMessage  `json:"message"`
}

// Resolve closes a pending log and writes the admin's response into the
// citizen's conversation.
func (e *Engine) Resolve(ctx context.Context, req ResolveRequest) (*ResolveResult, error) {
	if strings.TrimSpace(req.Response) == "" {
		return nil, ErrEmptyResolution
	}
	if !req.Admin.IsAdmin() {
		return nil, ErrForbidden
	}

	current, err := e.ledger.Get(req.LogID)
	if err != nil {
		return nil, err
	}
	sessionID := e.resolutionSession(current, req.ActiveSessionID)

	log, err := e.ledger.Resolve(req.LogID, req.Response, req.Admin.ID, e.now())
	if err != nil {
		return nil, err
	}
	e.changed()

	msg, err := e.conv.Append(models.ChatMessage{
		ID:        e.newID("admin"),
		UserID:    log.UserID,
		Role:      models.MessageRoleAdmin,
		Content:   req.Response,
		Type:      models.MessageTypeAdminResponse,
		Timestamp: e.now(),
		LogID:     log.ID,
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("append resolution message: %w", err)
	}
	e.changed()

	slog.Info("community log resolved",
		"log_id", log.ID,
		"admin_id", req.Admin.ID,
		"session_id", sessionID,
	)
	e.notify(ctx, func(ctx context.Context, n Notifier) error { return n.TicketResolved(ctx, log, sessionID) })

	return &ResolveResult{Log: log, Message: msg}, nil
}

// resolutionSession picks the thread the resolution is delivered into: the
// session of the flagged reply, then the admin's active session, then the
// citizen's most recent session.
func (e *Engine) resolutionSession(log models.CommunityLog, active string) string {
	if flagged, ok := e.conv.FindFlagged(log.ID); ok {
		return flagged.SessionID
	}

	slog.Warn("flagged message not found for log, using fallback session",
		"log_id", log.ID,
		"active_session_id", active,
	)
	if active != "" {
		return active
	}
	if latest, ok := e.conv.LatestSession(log.UserID); ok {
		return latest
	}
	return e.NewSessionID()
}

// Rate records a citizen's verdict on one of their assistant replies.
func (e *Engine) Rate(_ context.Context, user models.User, messageID string, rating models.Rating, comment string) (models.ChatMessage, error) {
	if !rating.Valid() {
		return models.ChatMessage{}, ErrInvalidFeedback
	}

	msg, ok := e.conv.Message(messageID)
	if ok && msg.UserID == user.ID && msg.Role != models.MessageRoleAssistant {
		return models.ChatMessage{}, ErrInvalidFeedback
	}

	updated, err := e.conv.SetFeedback(messageID, user.ID, models.UserFeedback{
		Rating:    rating,
		Comment:   strings.TrimSpace(comment),
		Timestamp: e.now(),
	})
	if err != nil {
		return models.ChatMessage{}, err
	}
	e.changed()
	return updated, nil
}
