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
	"sort"
	"sync"
	"time"

	"github.com/teradata-labs/warp/pkg/types"
)

// Audit event types emitted by the manager.
const (
	EventToolExecutionAuthorized = "tool_execution_authorized"
	EventToolAccessDenied        = "tool_access_denied"
	EventPermissionGranted       = "permission_granted"
	EventPermissionRevoked       = "permission_revoked"
)

// Denial reasons recorded in tool_access_denied details.
const (
	ReasonInsufficientPermissions = "insufficient_permissions"
	ReasonRateLimitExceeded       = "rate_limit_exceeded"
	ReasonSensitiveContent        = "sensitive_content"
)

// DefaultAuditCapacity bounds the in-memory audit log.
const DefaultAuditCapacity = 10000

// AuditEntry records one security decision. Entries are append-only; the
// log drops its oldest entries at capacity.
type AuditEntry struct {
	ID           string                 `json:"id"`
	EventType    string                 `json:"event_type"`
	UserID       string                 `json:"user_id"`
	WorkflowID   string                 `json:"workflow_id,omitempty"`
	WorkflowMode string                 `json:"workflow_mode,omitempty"`
	Details      map[string]interface{} `json:"details,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
}

// AuditSink receives every entry for durable write-through, e.g. the
// storage audit table. Sinks must not block; failures are the sink's to
// handle.
type AuditSink interface {
	WriteAudit(entry AuditEntry)
}

// AuditAggregates summarizes the log over a trailing window.
type AuditAggregates struct {
	Total      int
	Authorized int
	Denied     int

	// ErrorRate is denied / (authorized + denied); zero when the window
	// holds no tool decisions.
	ErrorRate float64

	// TopUsers and TopEventTypes are ordered by descending count.
	TopUsers      []CountedKey
	TopEventTypes []CountedKey
}

// CountedKey pairs an aggregation key with its count.
type CountedKey struct {
	Key   string
	Count int
}

// AuditLog is a bounded in-memory FIFO of audit entries.
type AuditLog struct {
	mu       sync.Mutex
	entries  []AuditEntry
	capacity int
	sink     AuditSink
}

// NewAuditLog creates a log bound to capacity; non-positive capacity uses
// the default.
func NewAuditLog(capacity int, sink AuditSink) *AuditLog {
	if capacity <= 0 {
		capacity = DefaultAuditCapacity
	}
	return &AuditLog{
		entries:  make([]AuditEntry, 0, capacity),
		capacity: capacity,
		sink:     sink,
	}
}

// Append records an entry, assigning its id and timestamp when unset.
func (l *AuditLog) Append(entry AuditEntry) {
	if entry.ID == "" {
		entry.ID = types.NewID()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.entries = append(l.entries, entry)
	if len(l.entries) > l.capacity {
		l.entries = l.entries[len(l.entries)-l.capacity:]
	}
	sink := l.sink
	l.mu.Unlock()

	if sink != nil {
		sink.WriteAudit(entry)
	}
}

// Len returns the number of retained entries.
func (l *AuditLog) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Entries returns the newest entries, most recent first, up to limit.
// Non-positive limit returns everything retained.
func (l *AuditLog) Entries(limit int) []AuditEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := len(l.entries)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]AuditEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = l.entries[n-1-i]
	}
	return out
}

// Aggregates computes summary counts over the trailing window. A zero
// window covers the whole retained log.
func (l *AuditLog) Aggregates(window time.Duration) AuditAggregates {
	l.mu.Lock()
	defer l.mu.Unlock()

	var cutoff time.Time
	if window > 0 {
		cutoff = time.Now().Add(-window)
	}

	users := make(map[string]int)
	events := make(map[string]int)
	agg := AuditAggregates{}

	for _, e := range l.entries {
		if !cutoff.IsZero() && e.Timestamp.Before(cutoff) {
			continue
		}
		agg.Total++
		events[e.EventType]++
		if e.UserID != "" {
			users[e.UserID]++
		}
		switch e.EventType {
		case EventToolExecutionAuthorized:
			agg.Authorized++
		case EventToolAccessDenied:
			agg.Denied++
		}
	}
	if decided := agg.Authorized + agg.Denied; decided > 0 {
		agg.ErrorRate = float64(agg.Denied) / float64(decided)
	}
	agg.TopUsers = rankCounts(users)
	agg.TopEventTypes = rankCounts(events)
	return agg
}

func rankCounts(counts map[string]int) []CountedKey {
	out := make([]CountedKey, 0, len(counts))
	for k, n := range counts {
		out = append(out, CountedKey{Key: k, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Key < out[j].Key
	})
	return out
}
