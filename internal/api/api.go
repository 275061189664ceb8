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

// Package api exposes the citizen chat and the admin dashboard over HTTP.
//
// Identity is asserted, not proven: the bearer token is the user's email
// address and any caller presenting it acts as that user.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/conversation"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/engine"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/identity"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/snapshot"
	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/tickets"
)

const (
	contentTypeJSON   = "application/json"
	contentTypeNDJSON = "application/x-ndjson"

	// clientHeader names the device whose sign-in is remembered.
	clientHeader    = "X-Client-ID"
	defaultClientID = "default"
)

var errBadRequest = errors.New("malformed request body")

// Deps are the collaborators a Handler serves.
type Deps struct {
	Engine        *engine.Engine
	Conversations *conversation.Store
	Ledger        *tickets.Ledger
	Identity      *identity.Resolver
	// Snapshot remembers signed-in identities per client. Optional.
	Snapshot *snapshot.Store
	// HealthChecks are run by /health, keyed by dependency name.
	HealthChecks map[string]func(context.Context) error
}

// Handler serves the HTTP API.
type Handler struct {
	engine   *engine.Engine
	conv     *conversation.Store
	ledger   *tickets.Ledger
	identity *identity.Resolver
	snapshot *snapshot.Store
	checks   map[string]func(context.Context) error
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		engine:   d.Engine,
		conv:     d.Conversations,
		ledger:   d.Ledger,
		identity: d.Identity,
		snapshot: d.Snapshot,
		checks:   d.HealthChecks,
	}
}

// Routes returns the full router, mounted at "/".
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.ServeHealth)

	r.Route("/api", func(r chi.Router) {
		r.Post("/login", h.HandleLogin)
		r.Get("/me", h.ServeMe)

		r.Group(func(pr chi.Router) {
			pr.Use(h.RequireSignedIn)

			pr.Post("/logout", h.HandleLogout)

			pr.Get("/sessions", h.ServeSessions)
			pr.Post("/sessions", h.HandleNewSession)
			pr.Get("/sessions/{sessionID}/messages", h.ServeMessages)

			pr.Post("/messages", h.HandleSend)
			pr.Post("/messages/{messageID}/feedback", h.HandleFeedback)
			pr.Get("/status", h.ServeStatus)
		})

		r.Group(func(pr chi.Router) {
			pr.Use(h.RequireSignedIn)
			pr.Use(RequireAdmin)

			pr.Get("/admin/citizens", h.ServeCitizens)
			pr.Get("/admin/logs", h.ServeLogs)
			pr.Post("/admin/logs/{logID}/resolve", h.HandleResolve)
		})
	})

	return r
}

type ctxKey struct{}

func withUser(ctx context.Context, u models.User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// UserFrom returns the signed-in user stored by RequireSignedIn.
func UserFrom(ctx context.Context) (models.User, bool) {
	u, ok := ctx.Value(ctxKey{}).(models.User)
	return u, ok
}

func bearer(r *http.Request) string {
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return ""
	}
	return strings.TrimSpace(token)
}

func clientID(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(clientHeader)); id != "" {
		return id
	}
	return defaultClientID
}

// RequireSignedIn resolves the bearer token into a user.
func (h *Handler) RequireSignedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, err := h.identity.Resolve(bearer(r))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Error: "sign in required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), user)))
	})
}

// RequireAdmin rejects callers without the admin role.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, ok := UserFrom(r.Context())
		if !ok || !u.IsAdmin() {
			writeError(w, engine.ErrForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type errorBody struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", contentTypeJSON)
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, identity.ErrEmptyInput),
		errors.Is(err, engine.ErrEmptyMessage),
		errors.Is(err, engine.ErrEmptyResolution),
		errors.Is(err, engine.ErrInvalidFeedback):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrMissingTargetUser):
		return http.StatusUnprocessableEntity
	case errors.Is(err, engine.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrBusy),
		errors.Is(err, tickets.ErrAlreadyResolved):
		return http.StatusConflict
	case errors.Is(err, conversation.ErrNotFound),
		errors.Is(err, conversation.ErrNotOwner),
		errors.Is(err, tickets.ErrNotFound):
		return http.StatusNotFound
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		slog.Error("request failed", "error", err)
		msg = "internal error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func decode(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errBadRequest
	}
	return nil
}
