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

package tickets

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

// TestNewLogID verifies the id shape.
func TestNewLogID(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id := NewLogID()
		if !ValidID(id) {
			t.Fatalf("invalid id %q", id)
		}
		if strings.ToUpper(id) != id {
			t.Fatalf("id %q is not uppercase", id)
		}
		seen[id] = true
	}
	if len(seen) < 190 {
		t.Errorf("only %d distinct ids out of 200", len(seen))
	}
}

// TestValidID verifies rejection of malformed ids.
func TestValidID(t *testing.T) {
	for _, id := range []string{"", "LOG-", "LOG-abcde", "LOG-ABCD", "LOG-ABCDEF", "TKT-ABCDE", "LOG-AB_DE"} {
		if ValidID(id) {
			t.Errorf("ValidID(%q) = true", id)
		}
	}
	if !ValidID("LOG-0A9Z1") {
		t.Error("ValidID(LOG-0A9Z1) = false")
	}
}

// TestOpen verifies a new log starts pending with matching timestamps.
func TestOpen(t *testing.T) {
	l := NewLedger()

	log, err := l.Open(NewTicket{
		UserID:          "j.doe@example.com",
		UserName:        "J.doe",
		OriginalMessage: "No streetlights",
		AIAnalysis:      "I have logged this.",
		Category:        "Safety",
	}, now)
	if err != nil {
		t.Fatal(err)
	}

	if log.Status != models.LogStatusPending {
		t.Errorf("status = %q, want pending", log.Status)
	}
	if !log.CreatedAt.Equal(now) || !log.UpdatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v", log.CreatedAt, log.UpdatedAt)
	}
	if log.AdminResponse != "" || log.AdminID != "" {
		t.Error("new log should have no admin response")
	}

	got, err := l.Get(log.ID)
	if err != nil || got.OriginalMessage != "No streetlights" {
		t.Errorf("Get = %+v, %v", got, err)
	}
}

// TestOpen_RetriesOnCollision verifies the mint loop skips taken ids.
func TestOpen_RetriesOnCollision(t *testing.T) {
	l := NewLedger()
	ids := []string{"LOG-AAAAA", "LOG-AAAAA", "LOG-BBBBB"}
	l.newID = func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}

	first, err := l.Open(NewTicket{UserID: "u"}, now)
	if err != nil || first.ID != "LOG-AAAAA" {
		t.Fatalf("first = %q, %v", first.ID, err)
	}
	second, err := l.Open(NewTicket{UserID: "u"}, now)
	if err != nil || second.ID != "LOG-BBBBB" {
		t.Fatalf("second = %q, %v", second.ID, err)
	}
}

// TestOpen_GivesUp verifies exhaustion surfaces an error.
func TestOpen_GivesUp(t *testing.T) {
	l := NewLedger()
	l.newID = func() string { return "LOG-AAAAA" }

	if _, err := l.Open(NewTicket{}, now); err != nil {
		t.Fatal(err)
	}
	if _, err := l.Open(NewTicket{}, now); !errors.Is(err, ErrDuplicateID) {
		t.Errorf("error = %v, want ErrDuplicateID", err)
	}
}

// TestResolve verifies the pending -> resolved transition.
func TestResolve(t *testing.T) {
	l := NewLedger()
	log, _ := l.Open(NewTicket{UserID: "u"}, now)

	later := now.Add(time.Hour)
	got, err := l.Resolve(log.ID, "Crew dispatched for Monday", "admin@vdm.ai", later)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.LogStatusResolved {
		t.Errorf("status = %q", got.Status)
	}
	if got.AdminResponse != "Crew dispatched for Monday" || got.AdminID != "admin@vdm.ai" {
		t.Errorf("got %+v", got)
	}
	if !got.UpdatedAt.Equal(later) || !got.CreatedAt.Equal(now) {
		t.Errorf("timestamps = %v/%v", got.CreatedAt, got.UpdatedAt)
	}

	if _, err := l.Resolve(log.ID, "again", "admin@vdm.ai", later); !errors.Is(err, ErrAlreadyResolved) {
		t.Errorf("error = %v, want ErrAlreadyResolved", err)
	}
	if _, err := l.Resolve("LOG-NOPE0", "x", "a", later); !errors.Is(err, ErrNotFound) {
		t.Errorf("error = %v, want ErrNotFound", err)
	}
}

// TestResolve_FromInProgress verifies the declared in_progress state still resolves.
func TestResolve_FromInProgress(t *testing.T) {
	l := NewLedger()
	if err := l.Create(models.CommunityLog{ID: "LOG-INPRG", Status: models.LogStatusInProgress, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatal(err)
	}
	got, err := l.Resolve("LOG-INPRG", "done", "admin", now)
	if err != nil || got.Status != models.LogStatusResolved {
		t.Errorf("got %+v, %v", got, err)
	}
}

// TestList verifies newest-first ordering and status filtering.
func TestList(t *testing.T) {
	l := NewLedger()
	a, _ := l.Open(NewTicket{UserID: "a"}, now)
	b, _ := l.Open(NewTicket{UserID: "b"}, now.Add(time.Minute))
	c, _ := l.Open(NewTicket{UserID: "c"}, now.Add(2*time.Minute))
	_, _ = l.Resolve(b.ID, "ok", "admin", now.Add(3*time.Minute))

	all := l.List("")
	if len(all) != 3 || all[0].ID != c.ID || all[2].ID != a.ID {
		t.Errorf("List(all) order wrong: %v", all)
	}

	pending := l.List(models.LogStatusPending)
	if len(pending) != 2 {
		t.Errorf("pending = %d, want 2", len(pending))
	}
	resolved := l.List(models.LogStatusResolved)
	if len(resolved) != 1 || resolved[0].ID != b.ID {
		t.Errorf("resolved = %v", resolved)
	}

	counts := l.Counts()
	if counts[models.LogStatusPending] != 2 || counts[models.LogStatusResolved] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

// TestLoad verifies snapshot replacement.
func TestLoad(t *testing.T) {
	l := NewLedger()
	_, _ = l.Open(NewTicket{UserID: "stale"}, now)

	skipped := l.Load([]models.CommunityLog{
		{ID: "LOG-AAAAA", Status: models.LogStatusPending},
		{ID: "LOG-AAAAA", Status: models.LogStatusResolved},
		{ID: ""},
	})
	if skipped != 2 {
		t.Errorf("skipped = %d, want 2", skipped)
	}
	if got := l.All(); len(got) != 1 || got[0].Status != models.LogStatusPending {
		t.Errorf("All = %+v", got)
	}
}
