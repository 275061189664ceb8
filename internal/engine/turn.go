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
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/classify"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/conversation"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/tickets"
)

// SendRequest is one message typed by a citizen or an admin.
type SendRequest struct {
	Sender models.User
	// TargetUserID is the citizen an admin is writing to. Ignored for
	// citizens, who always write into their own thread.
	TargetUserID string
	// SessionID may be empty to start a new session.
	SessionID string
	Text      string
	ReplyToID string
}

// Update is the state of the assistant reply after one increment.
type Update struct {
	MessageID string             `json:"messageId"`
	Content   string             `json:"content"`
	Type      models.MessageType `json:"type"`
	Flagged   bool               `json:"flagged"`
}

// TurnResult is what a Send produced.
type TurnResult struct {
	Message models.ChatMessage   `json:"message"`
	Reply   *models.ChatMessage  `json:"reply,omitempty"`
	Log     *models.CommunityLog `json:"log,omitempty"`
}

// Send records req and, for citizens, runs a classification turn. onUpdate
// may be nil; when set it is called after every applied increment.
func (e *Engine) Send(ctx context.Context, req SendRequest, onUpdate func(Update)) (*TurnResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyMessage
	}

	if req.Sender.IsAdmin() {
		return e.sendAsAdmin(req)
	}

	citizen := req.Sender
	release, err := e.guard.Acquire(ctx, citizen.ID)
	if err != nil {
		return nil, err
	}
	defer release()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = e.NewSessionID()
	}

	msg := models.ChatMessage{
		ID:        e.newID("msg"),
		UserID:    citizen.ID,
		Role:      models.MessageRoleUser,
		Content:   req.Text,
		Timestamp: e.now(),
		SessionID: sessionID,
	}
	if err := e.attachReply(&msg, req.ReplyToID); err != nil {
		return nil, err
	}

	msg, err = e.conv.Append(msg)
	if err != nil {
		return nil, fmt.Errorf("append user message: %w", err)
	}

	placeholder, err := e.conv.Append(models.ChatMessage{
		ID:        e.newID("ai"),
		UserID:    citizen.ID,
		Role:      models.MessageRoleAssistant,
		Type:      models.MessageTypeGeneral,
		Timestamp: e.now(),
		SessionID: sessionID,
	})
	if err != nil {
		return nil, fmt.Errorf("append reply placeholder: %w", err)
	}
	e.changed()

	result := &TurnResult{Message: msg}

	final, err := e.classifyInto(ctx, placeholder.ID, req.Text, onUpdate)
	if err != nil {
		// Cancelled by the caller: the last applied content stands.
		if reply, ok := e.conv.Message(placeholder.ID); ok {
			result.Reply = &reply
		}
		return result, err
	}

	if final.Flagged {
		log, err := e.ledger.Open(tickets.NewTicket{
			UserID:          citizen.ID,
			UserName:        citizen.Name,
			OriginalMessage: req.Text,
			AIAnalysis:      final.Display,
			Category:        final.Category,
		}, e.now())
		if err != nil {
			return result, fmt.Errorf("open community log: %w", err)
		}
		if err := e.conv.SetLogID(placeholder.ID, log.ID); err != nil {
			return result, fmt.Errorf("link community log: %w", err)
		}
		e.changed()
		result.Log = &log

		slog.Info("community log opened",
			"log_id", log.ID,
			"user_id", citizen.ID,
			"category", log.Category,
		)
		e.notify(ctx, func(ctx context.Context, n Notifier) error { return n.TicketCreated(ctx, log) })
	}

	reply, _ := e.conv.Message(placeholder.ID)
	result.Reply = &reply
	return result, nil
}

// sendAsAdmin appends an admin message to a citizen's thread.
func (e *Engine) sendAsAdmin(req SendRequest) (*TurnResult, error) {
	target := strings.TrimSpace(req.TargetUserID)
	if target == "" {
		return nil, ErrMissingTargetUser
	}

	sessionID := req.SessionID
	if sessionID == "" {
		if latest, ok := e.conv.LatestSession(target); ok {
			sessionID = latest
		} else {
			sessionID = e.NewSessionID()
		}
	}

	msg := models.ChatMessage{
		ID:        e.newID("admin"),
		UserID:    target,
		Role:      models.MessageRoleAdmin,
		Content:   req.Text,
		Timestamp: e.now(),
		SessionID: sessionID,
	}
	if err := e.attachReply(&msg, req.ReplyToID); err != nil {
		return nil, err
	}

	msg, err := e.conv.Append(msg)
	if err != nil {
		return nil, fmt.Errorf("append admin message: %w", err)
	}
	e.changed()
	return &TurnResult{Message: msg}, nil
}

// attachReply copies the quoted message's content into msg. The quoted
// message must belong to the same citizen.
func (e *Engine) attachReply(msg *models.ChatMessage, replyToID string) error {
	if replyToID == "" {
		return nil
	}
	quoted, ok := e.conv.Message(replyToID)
	if !ok || quoted.UserID != msg.UserID {
		return fmt.Errorf("reply target: %w: %s", conversation.ErrNotFound, replyToID)
	}
	msg.ReplyToID = quoted.ID
	msg.ReplyToContent = quoted.Content
	return nil
}

// classifyInto fills the placeholder message with the classifier's reply.
// A classifier failure or timeout is recovered with the fallback message;
// only caller cancellation is returned as an error.
func (e *Engine) classifyInto(ctx context.Context, messageID, input string, onUpdate func(Update)) (classify.Result, error) {
	cctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	apply := func(res classify.Result) {
		msgType := models.MessageTypeGeneral
		if res.Flagged {
			msgType = models.MessageTypeCommunityLogged
		}
		if err := e.conv.PatchContent(messageID, res.Display, msgType); err != nil {
			slog.Error("patch reply failed", "message_id", messageID, "error", err)
			return
		}
		e.changed()
		if onUpdate != nil {
			onUpdate(Update{MessageID: messageID, Content: res.Display, Type: msgType, Flagged: res.Flagged})
		}
	}

	var (
		final classify.Result
		err   error
	)
	if e.streaming {
		final, err = e.stream(ctx, cctx, input, apply)
	} else {
		var text string
		text, err = e.classifier.Complete(cctx, input)
		if err == nil {
			final = classify.Parse(text)
		}
	}

	if err == nil && !final.Flagged && final.Display == "" {
		err = errEmptyReply
	}

	if err != nil {
		if ctx.Err() != nil {
			slog.Info("turn cancelled by caller", "message_id", messageID)
			return classify.Result{}, ctx.Err()
		}
		slog.Warn("classification unavailable, using fallback",
			"message_id", messageID,
			"error", err,
		)
		final = classify.Result{Display: classify.FallbackMessage}
	}

	apply(final)
	return final, nil
}

// stream applies each increment in arrival order. It stops applying as soon
// as the caller's ctx is done.
func (e *Engine) stream(ctx, cctx context.Context, input string, apply func(classify.Result)) (classify.Result, error) {
	out, errc := e.classifier.Stream(cctx, input)

	var acc classify.Accumulator
	for {
		select {
		case <-cctx.Done():
			go drain(out, errc)
			return classify.Result{}, cctx.Err()
		case delta, ok := <-out:
			if !ok {
				if err := <-errc; err != nil {
					return classify.Result{}, err
				}
				return acc.Result(), nil
			}
			if ctx.Err() != nil {
				go drain(out, errc)
				return classify.Result{}, ctx.Err()
			}
			apply(acc.Add(delta))
		}
	}
}

func drain(out <-chan string, errc <-chan error) {
	for range out {
	}
	<-errc
}

func (e *Engine) notify(ctx context.Context, send func(context.Context, Notifier) error) {
	if e.notifier == nil {
		return
	}
	// Publish even if the request context has just been cancelled.
	if err := send(context.WithoutCancel(ctx), e.notifier); err != nil {
		if !errors.Is(err, context.Canceled) {
			slog.Warn("ticket event not published", "error", err)
		}
	}
}
