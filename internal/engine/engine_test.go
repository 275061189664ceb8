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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/classify"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/conversation"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/tickets"
)

// fakeClassifier replays a canned reply. When block is set, calls wait for
// it to close or for the context to end.
type fakeClassifier struct {
	reply  string
	deltas []string
	err    error
	block  chan struct{}
}

func (f *fakeClassifier) wait(ctx context.Context) error {
	if f.block == nil {
		return nil
	}
	select {
	case <-f.block:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *fakeClassifier) Complete(ctx context.Context, _ string) (string, error) {
	if err := f.wait(ctx); err != nil {
		return "", err
	}
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeClassifier) Stream(ctx context.Context, _ string) (<-chan string, <-chan error) {
	out := make(chan string)
	errc := make(chan error, 1)
	go func() {
		defer close(errc)
		defer close(out)
		for _, d := range f.deltas {
			select {
			case out <- d:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
		if err := f.wait(ctx); err != nil {
			errc <- err
			return
		}
		if f.err != nil {
			errc <- f.err
		}
	}()
	return out, errc
}

type recordingNotifier struct {
	mu       sync.Mutex
	created  []string
	resolved []string
}

func (n *recordingNotifier) TicketCreated(_ context.Context, log models.CommunityLog) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.created = append(n.created, log.ID)
	return nil
}

func (n *recordingNotifier) TicketResolved(_ context.Context, log models.CommunityLog, sessionID string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolved = append(n.resolved, log.ID+"@"+sessionID)
	return nil
}

type harness struct {
	engine   *Engine
	conv     *conversation.Store
	ledger   *tickets.Ledger
	notifier *recordingNotifier
	changes  int
}

func newHarness(c classify.Classifier, streaming bool) *harness {
	h := &harness{
		conv:     conversation.NewStore(),
		ledger:   tickets.NewLedger(),
		notifier: &recordingNotifier{},
	}
	h.engine = New(Config{
		Conversations: h.conv,
		Ledger:        h.ledger,
		Classifier:    c,
		Notifier:      h.notifier,
		OnChange:      func() { h.changes++ },
		Streaming:     streaming,
	})

	clock := time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)
	h.engine.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return h
}

var (
	jdoe  = models.User{ID: "j.doe@example.com", Email: "j.doe@example.com", Role: models.RoleUser, Name: "J.doe"}
	admin = models.User{ID: "admin@vdm.ai", Email: "admin@vdm.ai", Role: models.RoleAdmin, Name: "System Administrator"}
)

func TestSend_GeneralReply(t *testing.T) {
	h := newHarness(&fakeClassifier{reply: "I'm sorry to hear that. Try resting."}, false)

	res, err := h.engine.Send(context.Background(), SendRequest{
		Sender: jdoe, SessionID: "sess-1", Text: "My cough won't go away",
	}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if res.Message.Role != models.MessageRoleUser || res.Message.Content != "My cough won't go away" {
		t.Errorf("user message = %+v", res.Message)
	}
	if res.Reply == nil {
		t.Fatal("expected a reply")
	}
	if res.Reply.Type != models.MessageTypeGeneral || res.Reply.Content != "I'm sorry to hear that. Try resting." {
		t.Errorf("reply = %+v", res.Reply)
	}
	if res.Log != nil || len(h.ledger.All()) != 0 {
		t.Error("no community log should be created")
	}
	if !strings.HasPrefix(res.Message.ID, "msg-") || !strings.HasPrefix(res.Reply.ID, "ai-") {
		t.Errorf("ids = %q, %q", res.Message.ID, res.Reply.ID)
	}
	if h.changes == 0 {
		t.Error("OnChange should fire")
	}
}

func TestSend_FlaggedReplyOpensLog(t *testing.T) {
	h := newHarness(&fakeClassifier{reply: "[[LOG_ISSUE: Safety]] I have logged this."}, false)
	input := "The whole block has no streetlights and it's unsafe at night"

	res, err := h.engine.Send(context.Background(), SendRequest{Sender: jdoe, SessionID: "sess-1", Text: input}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if res.Reply.Type != models.MessageTypeCommunityLogged || res.Reply.Content != "I have logged this." {
		t.Errorf("reply = %+v", res.Reply)
	}
	if res.Log == nil {
		t.Fatal("expected a community log")
	}
	log := *res.Log
	if log.Status != models.LogStatusPending || log.OriginalMessage != input || log.AIAnalysis != "I have logged this." {
		t.Errorf("log = %+v", log)
	}
	if log.Category != "Safety" || log.UserID != jdoe.ID || log.UserName != "J.doe" {
		t.Errorf("log = %+v", log)
	}
	if !tickets.ValidID(log.ID) {
		t.Errorf("log id %q has the wrong shape", log.ID)
	}
	if res.Reply.LogID != log.ID {
		t.Errorf("reply LogID = %q, want %q", res.Reply.LogID, log.ID)
	}
	if len(h.notifier.created) != 1 || h.notifier.created[0] != log.ID {
		t.Errorf("created events = %v", h.notifier.created)
	}
}

func TestSend_ClassifierFailureUsesFallback(t *testing.T) {
	h := newHarness(&fakeClassifier{err: errors.New("model offline")}, false)

	res, err := h.engine.Send(context.Background(), SendRequest{Sender: jdoe, SessionID: "sess-1", Text: "hello"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Reply.Content != classify.FallbackMessage || res.Reply.Type != models.MessageTypeGeneral {
		t.Errorf("reply = %+v", res.Reply)
	}
	if res.Log != nil || len(h.ledger.All()) != 0 {
		t.Error("no log on failure")
	}
}

func TestSend_EmptyReplyUsesFallback(t *testing.T) {
	h := newHarness(&fakeClassifier{reply: "   "}, false)

	res, err := h.engine.Send(context.Background(), SendRequest{Sender: jdoe, SessionID: "sess-1", Text: "hello"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Reply.Content != classify.FallbackMessage {
		t.Errorf("reply = %q", res.Reply.Content)
	}
}

func TestSend_TimeoutUsesFallback(t *testing.T) {
	fc := &fakeClassifier{reply: "late", block: make(chan struct{})}
	defer close(fc.block)
	h := newHarness(fc, false)
	h.engine.timeout = 20 * time.Millisecond

	res, err := h.engine.Send(context.Background(), SendRequest{Sender: jdoe, SessionID: "sess-1", Text: "hello"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Reply.Content != classify.FallbackMessage {
		t.Errorf("reply = %q", res.Reply.Content)
	}
}

func TestSend_Validation(t *testing.T) {
	h := newHarness(&fakeClassifier{reply: "ok"}, false)
	ctx := context.Background()

	if _, err := h.engine.Send(ctx, SendRequest{Sender: jdoe, Text: "  \n"}, nil); !errors.Is(err, ErrEmptyMessage) {
		t.Errorf("blank text error = %v", err)
	}
	if _, err := h.engine.Send(ctx, SendRequest{Sender: admin, Text: "hello"}, nil); !errors.Is(err, ErrMissingTargetUser) {
		t.Errorf("admin without target error = %v", err)
	}
	if _, err := h.engine.Send(ctx, SendRequest{Sender: jdoe, Text: "hi", ReplyToID: "msg-missing"}, nil); !errors.Is(err, conversation.ErrNotFound) {
		t.Errorf("unknown reply target error = %v", err)
	}
	if h.conv.Len() != 0 {
		t.Errorf("rejected sends appended %d messages", h.conv.Len())
	}
}

func TestSend_MintsSessionID(t *testing.T) {
	h := newHarness(&fakeClassifier{reply: "ok"}, false)

	res, err := h.engine.Send(context.Background(), SendRequest{Sender: jdoe, Text: "hello"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if !strings.HasPrefix(res.Message.SessionID, "sess-") {
		t.Errorf("session id = %q", res.Message.SessionID)
	}
	if res.Reply.SessionID != res.Message.SessionID {
		t.Errorf("reply session %q != message session %q", res.Reply.SessionID, res.Message.SessionID)
	}
}

func TestSend_ReplyTo(t *testing.T) {
	h := newHarness(&fakeClassifier{reply: "Try resting."}, false)
	ctx := context.Background()

	first, err := h.engine.Send(ctx, SendRequest{Sender: jdoe, SessionID: "sess-1", Text: "cough"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	second, err := h.engine.Send(ctx, SendRequest{Sender: jdoe, SessionID: "sess-1", Text: "how long?", ReplyToID: first.Reply.ID}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if second.Message.ReplyToID != first.Reply.ID || second.Message.ReplyToContent != "Try resting." {
		t.Errorf("reply-to = %q / %q", second.Message.ReplyToID, second.Message.ReplyToContent)
	}
}

func TestSend_AdminMessage(t *testing.T) {
	h := newHarness(&fakeClassifier{reply: "ok"}, false)
	ctx := context.Background()

	if _, err := h.engine.Send(ctx, SendRequest{Sender: jdoe, SessionID: "sess-7", Text: "hi"}, nil); err != nil {
		t.Fatalf("citizen Send: %v", err)
	}

	res, err := h.engine.Send(ctx, SendRequest{Sender: admin, TargetUserID: jdoe.ID, Text: "We are looking into it"}, nil)
	if err != nil {
		t.Fatalf("admin Send: %v", err)
	}
	if res.Reply != nil {
		t.Error("admin messages are not classified")
	}
	m := res.Message
	if m.Role != models.MessageRoleAdmin || m.UserID != jdoe.ID || m.SessionID != "sess-7" {
		t.Errorf("admin message = %+v", m)
	}
	if !strings.HasPrefix(m.ID, "admin-") {
		t.Errorf("id = %q", m.ID)
	}
}

func TestSend_BusyRejectsSecondTurn(t *testing.T) {
	fc := &fakeClassifier{reply: "ok", block: make(chan struct{})}
	h := newHarness(fc, false)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := h.engine.Send(ctx, SendRequest{Sender: jdoe, SessionID: "sess-1", Text: "first"}, nil)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for !h.engine.Busy(ctx, jdoe.ID) {
		if time.Now().After(deadline) {
			t.Fatal("turn never became busy")
		}
		time.Sleep(5 * time.Millisecond)
	}

	if _, err := h.engine.Send(ctx, SendRequest{Sender: jdoe, SessionID: "sess-1", Text: "second"}, nil); !errors.Is(err, ErrBusy) {
		t.Errorf("second Send error = %v, want ErrBusy", err)
	}

	close(fc.block)
	if err := <-done; err != nil {
		t.Fatalf("first Send: %v", err)
	}
	if h.engine.Busy(ctx, jdoe.ID) {
		t.Error("busy flag should clear after the turn")
	}
}

func TestSend_StreamingNeverShowsMarker(t *testing.T) {
	h := newHarness(&fakeClassifier{deltas: []string{"[[LOG_", "ISSUE: Water]] ", "Logged", " for the city team."}}, true)

	var updates []Update
	res, err := h.engine.Send(context.Background(), SendRequest{Sender: jdoe, SessionID: "sess-1", Text: "Burst main on 5th"},
		func(u Update) { updates = append(updates, u) })
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(updates) < 4 {
		t.Fatalf("got %d updates, want one per delta plus the final state", len(updates))
	}
	for i, u := range updates {
		if strings.Contains(u.Content, "LOG_ISSUE") {
			t.Errorf("update %d exposes the marker: %q", i, u.Content)
		}
	}
	last := updates[len(updates)-1]
	if last.Content != "Logged for the city team." || last.Type != models.MessageTypeCommunityLogged {
		t.Errorf("last update = %+v", last)
	}
	if res.Log == nil || res.Log.Category != "Water" || res.Log.AIAnalysis != "Logged for the city team." {
		t.Errorf("log = %+v", res.Log)
	}
	if res.Reply.Content != "Logged for the city team." {
		t.Errorf("reply = %q", res.Reply.Content)
	}
}

func TestSend_StreamingFailureUsesFallback(t *testing.T) {
	h := newHarness(&fakeClassifier{deltas: []string{"Partial"}, err: errors.New("stream reset")}, true)

	res, err := h.engine.Send(context.Background(), SendRequest{Sender: jdoe, SessionID: "sess-1", Text: "hi"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Reply.Content != classify.FallbackMessage || res.Reply.Type != models.MessageTypeGeneral {
		t.Errorf("reply = %+v", res.Reply)
	}
}

func TestSend_CancelKeepsLastContent(t *testing.T) {
	fc := &fakeClassifier{deltas: []string{"Hello"}, block: make(chan struct{})}
	defer close(fc.block)
	h := newHarness(fc, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := h.engine.Send(ctx, SendRequest{Sender: jdoe, SessionID: "sess-1", Text: "The bridge is cracked"},
		func(Update) { cancel() })
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
	if res == nil || res.Reply == nil {
		t.Fatal("expected the partial reply")
	}
	if res.Reply.Content != "Hello" {
		t.Errorf("reply = %q, want the last applied content", res.Reply.Content)
	}
	if len(h.ledger.All()) != 0 {
		t.Error("no log after cancellation")
	}
	if h.engine.Busy(context.Background(), jdoe.ID) {
		t.Error("busy flag should clear after cancellation")
	}
}

func flaggedTurn(t *testing.T, h *harness) *TurnResult {
	t.Helper()
	res, err := h.engine.Send(context.Background(), SendRequest{
		Sender: jdoe, SessionID: "sess-1", Text: "The whole block has no streetlights and it's unsafe at night",
	}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Log == nil {
		t.Fatal("expected a log")
	}
	return res
}

func TestResolve(t *testing.T) {
	h := newHarness(&fakeClassifier{reply: "[[LOG_ISSUE: Safety]] I have logged this."}, false)
	turn := flaggedTurn(t, h)

	res, err := h.engine.Resolve(context.Background(), ResolveRequest{
		LogID: turn.Log.ID, Response: "Crew dispatched for Monday", Admin: admin, ActiveSessionID: "sess-other",
	})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	if res.Log.Status != models.LogStatusResolved || res.Log.AdminResponse != "Crew dispatched for Monday" || res.Log.AdminID != admin.ID {
		t.Errorf("log = %+v", res.Log)
	}
	if !res.Log.UpdatedAt.After(res.Log.CreatedAt) {
		t.Error("updatedAt should advance")
	}

	m := res.Message
	if m.Role != models.MessageRoleAdmin || m.Type != models.MessageTypeAdminResponse || m.LogID != turn.Log.ID {
		t.Errorf("message = %+v", m)
	}
	if m.UserID != jdoe.ID || m.SessionID != "sess-1" {
		t.Errorf("message delivered to %s/%s, want %s/sess-1", m.UserID, m.SessionID, jdoe.ID)
	}

	transcript := h.conv.MessagesFor(jdoe.ID, "sess-1")
	if got := transcript[len(transcript)-1]; got.ID != m.ID {
		t.Errorf("last transcript message = %+v", got)
	}
	if len(h.notifier.resolved) != 1 || h.notifier.resolved[0] != turn.Log.ID+"@sess-1" {
		t.Errorf("resolved events = %v", h.notifier.resolved)
	}
}

func TestResolve_Rejections(t *testing.T) {
	h := newHarness(&fakeClassifier{reply: "[[LOG_ISSUE: Safety]] I have logged this."}, false)
	turn := flaggedTurn(t, h)
	ctx := context.Background()
	before := h.conv.Len()

	if _, err := h.engine.Resolve(ctx, ResolveRequest{LogID: turn.Log.ID, Response: "  ", Admin: admin}); !errors.Is(err, ErrEmptyResolution) {
		t.Errorf("blank response error = %v", err)
	}
	if _, err := h.engine.Resolve(ctx, ResolveRequest{LogID: turn.Log.ID, Response: "done", Admin: jdoe}); !errors.Is(err, ErrForbidden) {
		t.Errorf("citizen resolve error = %v", err)
	}
	if _, err := h.engine.Resolve(ctx, ResolveRequest{LogID: "LOG-ZZZZZ", Response: "done", Admin: admin}); !errors.Is(err, tickets.ErrNotFound) {
		t.Errorf("unknown log error = %v", err)
	}

	log, _ := h.ledger.Get(turn.Log.ID)
	if log.Status != models.LogStatusPending {
		t.Errorf("status = %s, want pending", log.Status)
	}
	if h.conv.Len() != before {
		t.Errorf("rejected resolutions appended messages")
	}

	if _, err := h.engine.Resolve(ctx, ResolveRequest{LogID: turn.Log.ID, Response: "done", Admin: admin}); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if _, err := h.engine.Resolve(ctx, ResolveRequest{LogID: turn.Log.ID, Response: "again", Admin: admin}); !errors.Is(err, tickets.ErrAlreadyResolved) {
		t.Errorf("second resolve error = %v", err)
	}
}

func TestResolve_SessionFallback(t *testing.T) {
	h := newHarness(&fakeClassifier{reply: "ok"}, false)
	ctx := context.Background()

	if _, err := h.engine.Send(ctx, SendRequest{Sender: jdoe, SessionID: "sess-latest", Text: "hi"}, nil); err != nil {
		t.Fatalf("Send: %v", err)
	}

	orphan := func(id string) {
		if err := h.ledger.Create(models.CommunityLog{ID: id, UserID: jdoe.ID, Status: models.LogStatusPending}); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}
	orphan("LOG-AAAAA")
	orphan("LOG-BBBBB")

	res, err := h.engine.Resolve(ctx, ResolveRequest{LogID: "LOG-AAAAA", Response: "done", Admin: admin})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Message.SessionID != "sess-latest" {
		t.Errorf("session = %q, want the citizen's latest session", res.Message.SessionID)
	}

	res, err = h.engine.Resolve(ctx, ResolveRequest{LogID: "LOG-BBBBB", Response: "done", Admin: admin, ActiveSessionID: "sess-admin"})
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if res.Message.SessionID != "sess-admin" {
		t.Errorf("session = %q, want the admin's active session", res.Message.SessionID)
	}
}

func TestRate(t *testing.T) {
	h := newHarness(&fakeClassifier{reply: "Try resting."}, false)
	ctx := context.Background()

	turn, err := h.engine.Send(ctx, SendRequest{Sender: jdoe, SessionID: "sess-1", Text: "cough"}, nil)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}

	rated, err := h.engine.Rate(ctx, jdoe, turn.Reply.ID, models.RatingUp, " helpful ")
	if err != nil {
		t.Fatalf("Rate: %v", err)
	}
	if rated.Feedback == nil || rated.Feedback.Rating != models.RatingUp || rated.Feedback.Comment != "helpful" {
		t.Errorf("feedback = %+v", rated.Feedback)
	}

	other := models.User{ID: "eve@x.org", Role: models.RoleUser}
	if _, err := h.engine.Rate(ctx, other, turn.Reply.ID, models.RatingDown, ""); !errors.Is(err, conversation.ErrNotOwner) {
		t.Errorf("foreign rate error = %v", err)
	}
	if _, err := h.engine.Rate(ctx, jdoe, turn.Reply.ID, "meh", ""); !errors.Is(err, ErrInvalidFeedback) {
		t.Errorf("invalid rating error = %v", err)
	}
	if _, err := h.engine.Rate(ctx, jdoe, turn.Message.ID, models.RatingUp, ""); !errors.Is(err, ErrInvalidFeedback) {
		t.Errorf("rating own message error = %v", err)
	}
}
