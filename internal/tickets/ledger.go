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

// Package tickets keeps the registry of community logs raised by the
// classifier and enforces their status transitions.
package tickets

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
)

const (
	idPrefix   = "LOG-"
	idLength   = 5
	idAlphabet = "0123456789ABCDEFGHIJKLMNOPQRSTUVWXYZ"

	// maxMintAttempts bounds retries when a freshly minted id collides.
	maxMintAttempts = 8
)

var (
	// ErrNotFound is returned for an unknown log id.
	ErrNotFound = errors.New("tickets: log not found")

	// ErrAlreadyResolved is returned when resolving a log twice.
	ErrAlreadyResolved = errors.New("tickets: log already resolved")

	// ErrDuplicateID is returned when creating a log whose id exists.
	ErrDuplicateID = errors.New("tickets: duplicate log id")
)

// NewLogID returns "LOG-" followed by five random uppercase base-36 characters.
func NewLogID() string {
	var b strings.Builder
	b.WriteString(idPrefix)
	max := big.NewInt(int64(len(idAlphabet)))
	for i := 0; i < idLength; i++ {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic(fmt.Sprintf("tickets: crypto/rand failed: %v", err))
		}
		b.WriteByte(idAlphabet[n.Int64()])
	}
	return b.String()
}

// ValidID reports whether id has the LOG-XXXXX shape.
func ValidID(id string) bool {
	rest, ok := strings.CutPrefix(id, idPrefix)
	if !ok || len(rest) != idLength {
		return false
	}
	for i := 0; i < len(rest); i++ {
		if !strings.ContainsRune(idAlphabet, rune(rest[i])) {
			return false
		}
	}
	return true
}

// NewTicket describes a log about to be opened.
type NewTicket struct {
	UserID          string
	UserName        string
	OriginalMessage string
	AIAnalysis      string
	Category        string
}

// Ledger is an in-memory, mutex-guarded set of community logs.
type Ledger struct {
	mu    sync.RWMutex
	logs  map[string]*models.CommunityLog
	order []string // creation order

	newID func() string
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		logs:  make(map[string]*models.CommunityLog),
		newID: NewLogID,
	}
}

// Open mints an id and stores a pending log created at now.
func (l *Ledger) Open(t NewTicket, now time.Time) (models.CommunityLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for attempt := 0; attempt < maxMintAttempts; attempt++ {
		id := l.newID()
		if _, taken := l.logs[id]; taken {
			continue
		}

		log := &models.CommunityLog{
			ID:              id,
			UserID:          t.UserID,
			UserName:        t.UserName,
			OriginalMessage: t.OriginalMessage,
			AIAnalysis:      t.AIAnalysis,
			Category:        t.Category,
			Status:          models.LogStatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		l.insert(log)
		return *log, nil
	}

	return models.CommunityLog{}, fmt.Errorf("mint log id: %w after %d attempts", ErrDuplicateID, maxMintAttempts)
}

// Create stores an externally built log.
func (l *Ledger) Create(log models.CommunityLog) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, taken := l.logs[log.ID]; taken {
		return fmt.Errorf("%w: %s", ErrDuplicateID, log.ID)
	}
	l.insert(&log)
	return nil
}

func (l *Ledger) insert(log *models.CommunityLog) {
	l.logs[log.ID] = log
	l.order = append(l.order, log.ID)
}

// Get returns a copy of the log with the given id.
func (l *Ledger) Get(id string) (models.CommunityLog, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	log, ok := l.logs[id]
	if !ok {
		return models.CommunityLog{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return *log, nil
}

// List returns logs newest first. An empty status matches all.
func (l *Ledger) List(status models.LogStatus) []models.CommunityLog {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.CommunityLog, 0, len(l.order))
	for i := len(l.order) - 1; i >= 0; i-- {
		log := l.logs[l.order[i]]
		if status != "" && log.Status != status {
			continue
		}
		out = append(out, *log)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// Resolve moves an open log to resolved with the admin's response.
func (l *Ledger) Resolve(id, response, adminID string, at time.Time) (models.CommunityLog, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	log, ok := l.logs[id]
	if !ok {
		return models.CommunityLog{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if !log.Status.Open() {
		return models.CommunityLog{}, fmt.Errorf("%w: %s", ErrAlreadyResolved, id)
	}

	log.Status = models.LogStatusResolved
	log.AdminResponse = response
	log.AdminID = adminID
	log.UpdatedAt = at
	return *log, nil
}

// Counts returns the number of logs per status.
func (l *Ledger) Counts() map[models.LogStatus]int {
	l.mu.RLock()
	defer l.mu.RUnlock()

	counts := make(map[models.LogStatus]int, 3)
	for _, log := range l.logs {
		counts[log.Status]++
	}
	return counts
}

// All returns every log in creation order.
func (l *Ledger) All() []models.CommunityLog {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]models.CommunityLog, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, *l.logs[id])
	}
	return out
}

// Load replaces the ledger contents. Entries with empty or duplicate ids
// are skipped and counted.
func (l *Ledger) Load(logs []models.CommunityLog) (skipped int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.logs = make(map[string]*models.CommunityLog, len(logs))
	l.order = nil

	for i := range logs {
		log := logs[i]
		if log.ID == "" {
			skipped++
			continue
		}
		if _, dup := l.logs[log.ID]; dup {
			skipped++
			continue
		}
		l.insert(&log)
	}
	return skipped
}
