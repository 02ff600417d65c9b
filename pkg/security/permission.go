// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package security enforces per-user tool permissions, hourly rate limits,
// and content filtering, and records every decision in a bounded audit log.
package security

import (
	"time"
)

// Level is a tool permission level.
type Level string

const (
	// LevelNone denies all access. A user whose global level is none needs
	// per-tool grants.
	LevelNone Level = "none"
	// LevelRead permits read-only methods.
	LevelRead Level = "read"
	// LevelWrite permits read and write methods.
	LevelWrite Level = "write"
	// LevelAdmin permits everything. As a global level it short-circuits
	// authorization entirely.
	LevelAdmin Level = "admin"
)

// Valid reports whether l is a known level.
func (l Level) Valid() bool {
	switch l {
	case LevelNone, LevelRead, LevelWrite, LevelAdmin:
		return true
	}
	return false
}

// ToolPermission grants a user access to one tool, optionally restricted to
// a method set, rate-limited per hour, and expiring.
type ToolPermission struct {
	UserID string `json:"user_id"`
	Tool   string `json:"tool"`
	Level  Level  `json:"level"`

	// AllowedMethods restricts which methods may be called; empty admits
	// every method.
	AllowedMethods []string `json:"allowed_methods,omitempty"`

	// RateLimit is the maximum authorized calls per sliding hour.
	// Zero means unlimited.
	RateLimit int `json:"rate_limit,omitempty"`

	// ExpiresAt invalidates the permission after this instant.
	// Zero means the permission never expires.
	ExpiresAt time.Time `json:"expires_at,omitempty"`

	GrantedAt time.Time `json:"granted_at"`

	// Sliding-window usage state, maintained by the manager.
	WindowStart time.Time `json:"window_start,omitempty"`
	WindowCount int       `json:"window_count,omitempty"`
}

// IsValid reports whether the permission is live at the given instant.
func (p *ToolPermission) IsValid(now time.Time) bool {
	return p.ExpiresAt.IsZero() || now.Before(p.ExpiresAt)
}

// CanExecute reports whether the permission admits the given method at the
// given instant.
func (p *ToolPermission) CanExecute(method string, now time.Time) bool {
	if !p.IsValid(now) || p.Level == LevelNone || p.Level == "" {
		return false
	}
	if len(p.AllowedMethods) == 0 {
		return true
	}
	for _, m := range p.AllowedMethods {
		if m == method {
			return true
		}
	}
	return false
}

// recordUsage applies the hourly sliding window: the window resets once an
// hour has passed since it opened, and the call is denied when the counter
// would exceed the rate limit. Returns false on denial without consuming
// the slot.
func (p *ToolPermission) recordUsage(now time.Time) bool {
	if p.RateLimit <= 0 {
		return true
	}
	if p.WindowStart.IsZero() || now.Sub(p.WindowStart) >= time.Hour {
		p.WindowStart = now
		p.WindowCount = 0
	}
	if p.WindowCount+1 > p.RateLimit {
		return false
	}
	p.WindowCount++
	return true
}

// PermissionOption configures a grant.
type PermissionOption func(*ToolPermission)

// WithMethods restricts the grant to the given methods.
func WithMethods(methods ...string) PermissionOption {
	return func(p *ToolPermission) {
		p.AllowedMethods = methods
	}
}

// WithRateLimit caps authorized calls per sliding hour.
func WithRateLimit(perHour int) PermissionOption {
	return func(p *ToolPermission) {
		p.RateLimit = perHour
	}
}

// WithExpiry invalidates the grant after the given instant.
func WithExpiry(at time.Time) PermissionOption {
	return func(p *ToolPermission) {
		p.ExpiresAt = at
	}
}
