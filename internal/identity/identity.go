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

// Package identity derives users from asserted email addresses.
//
// There is no credential check: whoever presents an address owns that
// identity. The reserved admin address is the only way to obtain ADMIN.
package identity

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/qwertyuiopapoiuy9-beep/vdm2.22/internal/models"
)

const (
	// DefaultAdminEmail is the reserved address that resolves to ADMIN.
	DefaultAdminEmail = "admin@vdm.ai"

	// DefaultAdminName is the display name given to the admin.
	DefaultAdminName = "System Administrator"
)

// ErrEmptyInput is returned when the identity string is blank.
var ErrEmptyInput = errors.New("identity: empty input")

// Resolver maps raw identity strings to users.
type Resolver struct {
	adminEmail string
	adminName  string
}

// NewResolver creates a resolver. Empty arguments fall back to the defaults.
func NewResolver(adminEmail, adminName string) *Resolver {
	adminEmail = Normalize(adminEmail)
	if adminEmail == "" {
		adminEmail = DefaultAdminEmail
	}
	if strings.TrimSpace(adminName) == "" {
		adminName = DefaultAdminName
	}
	return &Resolver{adminEmail: adminEmail, adminName: adminName}
}

// AdminID returns the id the admin resolves to.
func (r *Resolver) AdminID() string {
	return r.adminEmail
}

// Resolve normalizes raw and returns the user it identifies.
func (r *Resolver) Resolve(raw string) (models.User, error) {
	id := Normalize(raw)
	if id == "" {
		return models.User{}, ErrEmptyInput
	}

	if id == r.adminEmail {
		return models.User{ID: id, Email: id, Role: models.RoleAdmin, Name: r.adminName}, nil
	}

	return models.User{ID: id, Email: id, Role: models.RoleUser, Name: DisplayName(id)}, nil
}

// Normalize trims and lowercases an identity string.
func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

// DisplayName returns the local part of an email with its first character
// upper-cased. No validation is applied.
func DisplayName(email string) string {
	local, _, _ := strings.Cut(email, "@")
	r, size := utf8.DecodeRuneInString(local)
	if r == utf8.RuneError {
		return local
	}
	return string(unicode.ToUpper(r)) + local[size:]
}
