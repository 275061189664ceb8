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

// Package models defines the data structures shared across the feedback service.
//
// JSON field names and timestamp encoding (RFC 3339) match the format the
// browser client persisted, so snapshots written by either side load in the other.
package models

import "time"

// Role is the identity role of a User.
type Role string

const (
	RoleUser  Role = "USER"
	RoleAdmin Role = "ADMIN"
)

// User is a resolved identity. ID is the normalized email.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Role  Role   `json:"role"`
	Name  string `json:"name"`
}

// IsAdmin reports whether the user holds the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// MessageRole identifies who authored a ChatMessage.
type MessageRole string

const (
	MessageRoleUser      MessageRole = "user"
	MessageRoleAssistant MessageRole = "assistant"
	MessageRoleAdmin     MessageRole = "admin"
)

// MessageType classifies a message for rendering and routing.
type MessageType string

const (
	MessageTypeGeneral         MessageType = "general"
	MessageTypeCommunityLogged MessageType = "community_logged"
	MessageTypeAdminResponse   MessageType = "admin_response"
)

// Rating is a thumbs up/down verdict on an assistant reply.
type Rating string

const (
	RatingUp   Rating = "up"
	RatingDown Rating = "down"
)

// Valid reports whether r is a known rating.
func (r Rating) Valid() bool {
	return r == RatingUp || r == RatingDown
}

// UserFeedback is a citizen's rating of an assistant reply.
type UserFeedback struct {
	Rating    Rating    `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ChatMessage is one entry in a citizen's conversation.
//
// UserID is always the citizen, including for admin replies written into
// that citizen's thread. Once appended, only Content, Type, LogID and
// Feedback change.
type ChatMessage struct {
	ID             string        `json:"id"`
	UserID         string        `json:"userId"`
	Role           MessageRole   `json:"role"`
	Content        string        `json:"content"`
	Type           MessageType   `json:"type,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
	Feedback       *UserFeedback `json:"feedback,omitempty"`
	LogID          string        `json:"logId,omitempty"`
	ReplyToID      string        `json:"replyToId,omitempty"`
	ReplyToContent string        `json:"replyToContent,omitempty"`
	SessionID      string        `json:"sessionId"`
}

// LogStatus is the lifecycle state of a CommunityLog.
type LogStatus string

const (
	LogStatusPending LogStatus = "pending"
	// LogStatusInProgress is part of the persisted vocabulary but no
	// operation moves a log into it.
	LogStatusInProgress LogStatus = "in_progress"
	LogStatusResolved   LogStatus = "resolved"
)

// Valid reports whether s is a known status.
func (s LogStatus) Valid() bool {
	switch s {
	case LogStatusPending, LogStatusInProgress, LogStatusResolved:
		return true
	}
	return false
}

// Open reports whether a log in this status still awaits an admin response.
func (s LogStatus) Open() bool {
	return s == LogStatusPending || s == LogStatusInProgress
}

// CommunityLog is a ticket raised when the classifier flags a community problem.
type CommunityLog struct {
	ID              string    `json:"id"`
	UserID          string    `json:"userId"`
	UserName        string    `json:"userName"`
	OriginalMessage string    `json:"originalMessage"`
	AIAnalysis      string    `json:"aiAnalysis"`
	Category        string    `json:"category,omitempty"`
	Status          LogStatus `json:"status"`
	AdminResponse   string    `json:"adminResponse,omitempty"`
	AdminID         string    `json:"adminId,omitempty"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// SessionSummary describes one conversation thread of a user.
type SessionSummary struct {
	SessionID          string    `json:"sessionId"`
	LastMessageContent string    `json:"lastMessageContent"`
	LastMessageTime    time.Time `json:"lastMessageTime"`
}

// Counterpart is a citizen listed in the admin roster.
type Counterpart struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}
