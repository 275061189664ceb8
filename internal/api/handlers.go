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

package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/engine"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/identity"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
)

// ServeHealth pings every configured dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	for name, check := range h.checks {
		if err := check(ctx); err != nil {
			slog.Warn("health check failed", "dependency", name, "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": name + " unhealthy"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type loginRequest struct {
	Email string `json:"email"`
}

type loginResponse struct {
	User  models.User `json:"user"`
	Token string      `json:"token"`
}

// HandleLogin resolves an email into an identity and remembers it for the
// calling client.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decode(r, &req); err != nil {
		writeError(w, err)
		return
	}

	user, err := h.identity.Resolve(req.Email)
	if err != nil {
		writeError(w, err)
		return
	}

	if h.snapshot != nil {
		if err := h.snapshot.SaveIdentity(r.Context(), clientID(r), user); err != nil {
			slog.Warn("failed to persist identity", "client_id", clientID(r), "error", err)
		}
	}

	slog.Info("user signed in", "user_id", user.ID, "role", user.Role)
	writeJSON(w, http.StatusOK, loginResponse{User: user, Token: user.ID})
}

// HandleLogout forgets the client's remembered identity.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	if h.snapshot != nil {
		if err := h.snapshot.ClearIdentity(r.Context(), clientID(r)); err != nil {
			slog.Warn("failed to clear identity", "client_id", clientID(r), "error", err)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

// ServeMe returns the bearer's identity, or the identity remembered for the
// client when no token is presented.
func (h *Handler) ServeMe(w http.ResponseWriter, r *http.Request) {
	if token := bearer(r); token != "" {
		user, err := h.identity.Resolve(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "sign in required"})
			return
		}
		writeJSON(w, http.StatusOK, loginResponse{User: user, Token: user.ID})
		return
	}

	if h.snapshot != nil {
		user, ok, err := h.snapshot.LoadIdentity(r.Context(), clientID(r))
		if err != nil {
			writeError(w, err)
			return
		}
		if ok {
			writeJSON(w, http.StatusOK, loginResponse{User: user, Token: user.ID})
			return
		}
	}
	writeJSON(w, http.StatusUnauthorized, errorBody{Error: "sign in required"})
}

// subject is the citizen whose thread a request concerns: the caller for
// citizens, the userId query parameter for admins.
func subject(r *http.Request) (string, error) {
	u, _ := UserFrom(r.Context())
	if !u.IsAdmin() {
		return u.ID, nil
	}
	target := identity.Normalize(r.URL.Query().Get("userId"))
	if target == "" {
		return "", engine.ErrMissingTargetUser
	}
	return target, nil
}

func (h *Handler) ServeSessions(w http.ResponseWriter, r *http.Request) {
	userID, err := subject(r)
	if err != nil {
		writeError(w, err)
		return
	}

	sessions := h.conv.SessionsFor(userID)
	if sessions == nil {
		sessions = []models.SessionSummary{}
	}
	latest, _ := h.conv.LatestSession(userID)

	writeJSON(w, http.StatusOK, map[string]any{
		"sessions":      sessions,
		"latestSession": latest,
	})
}

func (h *Handler) HandleNewSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, map[string]string{"sessionId": h.engine.NewSessionID()})
}

func (h *Handler) ServeMessages(w http.ResponseWriter, r *http.Request) {
	userID, err := subject(r)
	if err != nil {
		writeError(w, err)
		return
	}

	msgs := h.conv.MessagesFor(userID, chi.URLParam(r, "sessionID"))
	if msgs == nil {
		msgs = []models.ChatMessage{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

type sendRequest struct {
	Text         string `json:"text"`
	SessionID    string `json:"sessionId"`
	TargetUserID string `json:"targetUserId"`
	ReplyToID    string `json:"replyToId"`
}

// streamLine is one NDJSON line of a streamed turn.
type streamLine struct {
	Event  string             `json:"event"`
	Update *engine.Update     `json:"update,omitempty"`
	Result *engine.TurnResult `json:"result,omitempty"`
	Error  string             `json:"error,omitempty"`
}

// HandleSend records a message and, for citizens, returns the assistant
// reply. With Accept: application/x-ndjson the reply is streamed as it
// grows.
func (h *Handler) HandleSend(w http.ResponseWriter, r *http.Request) {
	var body sendRequest
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}

	user, _ := UserFrom(r.Context())
	req := engine.SendRequest{
		Sender:       user,
		TargetUserID: identity.Normalize(body.TargetUserID),
		SessionID:    strings.TrimSpace(body.SessionID),
		Text:         body.Text,
		ReplyToID:    body.ReplyToID,
	}

	if !strings.Contains(r.Header.Get("Accept"), contentTypeNDJSON) {
		res, err := h.engine.Send(r.Context(), req, nil)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
		return
	}

	flusher, _ := w.(http.Flusher)
	enc := json.NewEncoder(w)
	started := false
	emit := func(line streamLine) {
		if !started {
			w.Header().Set("Content-Type", contentTypeNDJSON)
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(line); err != nil {
			slog.Debug("stream write failed", "error", err)
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}

	res, err := h.engine.Send(r.Context(), req, func(u engine.Update) {
		emit(streamLine{Event: "update", Update: &u})
	})
	switch {
	case err == nil:
		emit(streamLine{Event: "done", Result: res})
	case !started:
		writeError(w, err)
	default:
		if r.Context().Err() == nil {
			slog.Warn("streamed turn failed", "error", err)
		}
		emit(streamLine{Event: "error", Error: err.Error()})
	}
}

func (h *Handler) ServeStatus(w http.ResponseWriter, r *http.Request) {
	userID, err := subject(r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"busy": h.engine.Busy(r.Context(), userID)})
}

type feedbackRequest struct {
	Rating  models.Rating `json:"rating"`
	Comment string        `json:"comment"`
}

func (h *Handler) HandleFeedback(w http.ResponseWriter, r *http.Request) {
	var body feedbackRequest
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}

	user, _ := UserFrom(r.Context())
	msg, err := h.engine.Rate(r.Context(), user, chi.URLParam(r, "messageID"), body.Rating, body.Comment)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (h *Handler) ServeCitizens(w http.ResponseWriter, r *http.Request) {
	citizens := h.conv.DistinctCounterparts(h.identity.AdminID())
	if citizens == nil {
		citizens = []models.Counterpart{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"citizens": citizens})
}

func (h *Handler) ServeLogs(w http.ResponseWriter, r *http.Request) {
	status := models.LogStatus(r.URL.Query().Get("status"))
	if status != "" && !status.Valid() {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "unknown status " + string(status)})
		return
	}

	logs := h.ledger.List(status)
	if logs == nil {
		logs = []models.CommunityLog{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":   logs,
		"counts": h.ledger.Counts(),
	})
}

type resolveRequest struct {
	Response        string `json:"response"`
	ActiveSessionID string `json:"activeSessionId"`
}

func (h *Handler) HandleResolve(w http.ResponseWriter, r *http.Request) {
	var body resolveRequest
	if err := decode(r, &body); err != nil {
		writeError(w, err)
		return
	}

	admin, _ := UserFrom(r.Context())
	res, err := h.engine.Resolve(r.Context(), engine.ResolveRequest{
		LogID:           chi.URLParam(r, "logID"),
		Response:        body.Response,
		Admin:           admin,
		ActiveSessionID: strings.TrimSpace(body.ActiveSessionID),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
