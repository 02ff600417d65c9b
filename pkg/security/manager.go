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
package security

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/tool"
)

// DefaultBlocklist is the sensitive-content fragment list scanned in tool
// parameters and redacted from logs.
var DefaultBlocklist = []string{
	"password",
	"api_key",
	"secret_key",
	"private_key",
	"token",
	"credential",
}

// Config configures a Manager. Zero values get defaults.
type Config struct {
	// AuditCapacity bounds the in-memory audit log (default 10000).
	AuditCapacity int

	// Blocklist replaces DefaultBlocklist when non-empty.
	Blocklist []string

	// GlobalLevels maps user id to a global permission level. Admin
	// short-circuits authorization; none (or unset) requires per-tool
	// grants.
	GlobalLevels map[string]Level

	// Sink, when set, receives a durable copy of every audit entry.
	Sink AuditSink

	Logger *zap.Logger
}

// Manager enforces the tool authorization pipeline: permission check,
// hourly rate limit, then sensitive-content scan. Every decision is
// audited.
type Manager struct {
	mu          sync.Mutex
	permissions map[string]map[string]*ToolPermission // user -> tool -> grant
	globals     map[string]Level
	blocklist   []string
	audit       *AuditLog
	logger      *zap.Logger
	nowFn       func() time.Time
}

// NewManager creates a security manager.
func NewManager(cfg Config) *Manager {
	blocklist := cfg.Blocklist
	if len(blocklist) == 0 {
		blocklist = DefaultBlocklist
	}
	globals := make(map[string]Level, len(cfg.GlobalLevels))
	for user, level := range cfg.GlobalLevels {
		globals[user] = level
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		permissions: make(map[string]map[string]*ToolPermission),
		globals:     globals,
		blocklist:   blocklist,
		audit:       NewAuditLog(cfg.AuditCapacity, cfg.Sink),
		logger:      logger,
		nowFn:       time.Now,
	}
}

// Audit exposes the audit log for inspection and aggregation.
func (m *Manager) Audit() *AuditLog {
	return m.audit
}

// SetGlobalLevel sets a user's global permission level.
func (m *Manager) SetGlobalLevel(userID string, level Level) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.globals[userID] = level
}

// GlobalLevel returns a user's global level, defaulting to none.
func (m *Manager) GlobalLevel(userID string) Level {
	m.mu.Lock()
	defer m.mu.Unlock()
	if level, ok := m.globals[userID]; ok {
		return level
	}
	return LevelNone
}

// GrantToolPermission grants a user access to a tool and audits the grant.
// Granting again replaces the previous grant, resetting its usage window.
func (m *Manager) GrantToolPermission(userID, toolName string, level Level, opts ...PermissionOption) *ToolPermission {
	perm := &ToolPermission{
		UserID:    userID,
		Tool:      toolName,
		Level:     level,
		GrantedAt: m.nowFn(),
	}
	for _, opt := range opts {
		opt(perm)
	}

	m.mu.Lock()
	if m.permissions[userID] == nil {
		m.permissions[userID] = make(map[string]*ToolPermission)
	}
	m.permissions[userID][toolName] = perm
	m.mu.Unlock()

	m.audit.Append(AuditEntry{
		EventType: EventPermissionGranted,
		UserID:    userID,
		Details: map[string]interface{}{
			"tool":       toolName,
			"level":      string(level),
			"rate_limit": perm.RateLimit,
		},
	})
	return perm
}

// RevokeToolPermission removes a grant and audits the revocation.
// Revoking an absent grant is a no-op.
func (m *Manager) RevokeToolPermission(userID, toolName string) {
	m.mu.Lock()
	grants := m.permissions[userID]
	_, existed := grants[toolName]
	delete(grants, toolName)
	m.mu.Unlock()

	if !existed {
		return
	}
	m.audit.Append(AuditEntry{
		EventType: EventPermissionRevoked,
		UserID:    userID,
		Details:   map[string]interface{}{"tool": toolName},
	})
}

// PruneExpiredPermissions drops grants past their expiry, returning how
// many were removed. The maintenance sweep calls this periodically so the
// grant map does not accumulate dead entries.
func (m *Manager) PruneExpiredPermissions() int {
	now := m.nowFn()
	m.mu.Lock()
	defer m.mu.Unlock()

	pruned := 0
	for user, grants := range m.permissions {
		for toolName, perm := range grants {
			if !perm.IsValid(now) {
				delete(grants, toolName)
				pruned++
			}
		}
		if len(grants) == 0 {
			delete(m.permissions, user)
		}
	}
	return pruned
}

// Permission returns a copy of the user's grant for the tool, if any.
func (m *Manager) Permission(userID, toolName string) (ToolPermission, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	perm, ok := m.permissions[userID][toolName]
	if !ok {
		return ToolPermission{}, false
	}
	return *perm, true
}

// AuthzRequest identifies one tool call under authorization.
type AuthzRequest struct {
	UserID     string
	Tool       string
	Method     string
	Params     map[string]interface{}
	WorkflowID string
	Mode       string
}

// Authorize runs the authorization pipeline for one tool call:
//
//  1. global admin short-circuits to allow;
//  2. a live, valid grant must admit the method;
//  3. the hourly sliding rate window must have room;
//  4. parameters must not contain blocklisted fragments.
//
// Each decision is audited. A nil return means the call may execute.
func (m *Manager) Authorize(ctx context.Context, req AuthzRequest) error {
	_ = ctx

	if method := req.Method; method == "" {
		req.Method = "execute"
	}

	m.mu.Lock()
	global := m.globals[req.UserID]
	if global == LevelAdmin {
		m.mu.Unlock()
		m.auditAuthorized(req, "global_admin")
		return nil
	}

	now := m.nowFn()
	perm, ok := m.permissions[req.UserID][req.Tool]
	if !ok || !perm.CanExecute(req.Method, now) {
		m.mu.Unlock()
		return m.deny(req, ReasonInsufficientPermissions)
	}
	if !perm.recordUsage(now) {
		m.mu.Unlock()
		return m.denyRateLimit(req)
	}
	m.mu.Unlock()

	if field, found := m.scan(req.Params); found {
		return m.denySensitive(req, field)
	}

	m.auditAuthorized(req, "")
	return nil
}

func (m *Manager) auditAuthorized(req AuthzRequest, via string) {
	details := map[string]interface{}{
		"tool":   req.Tool,
		"method": req.Method,
	}
	if via != "" {
		details["via"] = via
	}
	m.audit.Append(AuditEntry{
		EventType:    EventToolExecutionAuthorized,
		UserID:       req.UserID,
		WorkflowID:   req.WorkflowID,
		WorkflowMode: req.Mode,
		Details:      details,
	})
}

func (m *Manager) deny(req AuthzRequest, reason string) error {
	m.auditDenied(req, reason, nil)
	return fault.New(fault.Authorization, "user %s may not execute tool %s", req.UserID, req.Tool).
		WithDetail("reason", reason)
}

func (m *Manager) denyRateLimit(req AuthzRequest) error {
	m.auditDenied(req, ReasonRateLimitExceeded, nil)
	return fault.New(fault.RateLimit, "rate limit exceeded for tool %s", req.Tool).
		WithDetail("reason", ReasonRateLimitExceeded)
}

func (m *Manager) denySensitive(req AuthzRequest, field string) error {
	m.auditDenied(req, ReasonSensitiveContent, map[string]interface{}{"field": field})
	return fault.New(fault.Validation, "parameters for tool %s contain sensitive content", req.Tool).
		WithDetail("reason", ReasonSensitiveContent)
}

func (m *Manager) auditDenied(req AuthzRequest, reason string, extra map[string]interface{}) {
	details := map[string]interface{}{
		"tool":   req.Tool,
		"method": req.Method,
		"reason": reason,
	}
	for k, v := range extra {
		details[k] = v
	}
	m.audit.Append(AuditEntry{
		EventType:    EventToolAccessDenied,
		UserID:       req.UserID,
		WorkflowID:   req.WorkflowID,
		WorkflowMode: req.Mode,
		Details:      details,
	})
	m.logger.Warn("tool access denied",
		zap.String("user_id", req.UserID),
		zap.String("tool", req.Tool),
		zap.String("reason", reason))
}

// ContainsSensitiveContent reports whether any string value in params
// matches the blocklist, case-insensitively, recursing into nested maps
// and slices.
func (m *Manager) ContainsSensitiveContent(params map[string]interface{}) bool {
	_, found := m.scan(params)
	return found
}

// scan walks params and returns the first offending key.
func (m *Manager) scan(params map[string]interface{}) (string, bool) {
	for key, value := range params {
		if m.matches(key) {
			return key, true
		}
		if field, found := m.scanValue(key, value); found {
			return field, true
		}
	}
	return "", false
}

func (m *Manager) scanValue(key string, value interface{}) (string, bool) {
	switch v := value.(type) {
	case string:
		if m.matches(v) {
			return key, true
		}
	case map[string]interface{}:
		return m.scan(v)
	case []interface{}:
		for _, item := range v {
			if field, found := m.scanValue(key, item); found {
				return field, true
			}
		}
	}
	return "", false
}

func (m *Manager) matches(s string) bool {
	lower := strings.ToLower(s)
	for _, fragment := range m.blocklist {
		if strings.Contains(lower, fragment) {
			return true
		}
	}
	return false
}

// Redact masks blocklist-matching fragments in s for log output.
func (m *Manager) Redact(s string) string {
	lower := strings.ToLower(s)
	for _, fragment := range m.blocklist {
		for {
			idx := strings.Index(lower, fragment)
			if idx < 0 {
				break
			}
			s = s[:idx] + "[REDACTED]" + s[idx+len(fragment):]
			lower = strings.ToLower(s)
		}
	}
	return s
}

// FilterTools returns the tools the user could plausibly execute: under a
// global admin level, all of them; otherwise those with a live grant whose
// level is not none. Used at build time to shape the model's tool list.
func (m *Manager) FilterTools(userID string, tools []tool.Tool) []tool.Tool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.globals[userID] == LevelAdmin {
		return tools
	}
	now := m.nowFn()
	out := make([]tool.Tool, 0, len(tools))
	for _, t := range tools {
		perm, ok := m.permissions[userID][t.Name()]
		if !ok {
			continue
		}
		if perm.IsValid(now) && perm.Level != LevelNone {
			out = append(out, t)
		}
	}
	return out
}
