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
package storage

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/types"
)

// Validation bounds for conversation fields.
const (
	MaxTitleLength   = 500
	MaxTemperature   = 2.0
	MaxTokensCeiling = 32000
)

// ConversationFilter narrows ListConversations results. Zero-value fields
// are ignored.
type ConversationFilter struct {
	Status           types.ConversationStatus
	Provider         string
	Model            string
	Tags             []string
	RetrievalEnabled *bool
}

// Page bounds a listing. Limit is capped at 100; zero means the cap.
type Page struct {
	Offset int
	Limit  int
}

const maxPageLimit = 100

func (p Page) normalize() Page {
	if p.Offset < 0 {
		p.Offset = 0
	}
	if p.Limit <= 0 || p.Limit > maxPageLimit {
		p.Limit = maxPageLimit
	}
	return p
}

// sortColumns is the allowlist for ListConversations ordering; anything
// else falls back to updated_at.
var sortColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"title":      true,
}

const conversationColumns = `id, user_id, title, description, status, system_prompt,
	profile_id, provider, model, temperature, max_tokens, workflow_config,
	metadata, tags, retrieval_enabled, message_count, total_tokens,
	total_cost, created_at, updated_at`

// CreateConversation validates and persists a new conversation. The store
// assigns the ID and timestamps; counters start at zero.
func (s *Store) CreateConversation(ctx context.Context, conv *types.Conversation) (*types.Conversation, error) {
	if conv == nil {
		return nil, fault.New(fault.Validation, "conversation is required")
	}
	if strings.TrimSpace(conv.UserID) == "" {
		return nil, fault.New(fault.Validation, "user_id is required")
	}
	if err := validateConversationFields(conv.Title, conv.Temperature, conv.MaxTokens); err != nil {
		return nil, err
	}
	if conv.Status == "" {
		conv.Status = types.ConversationActive
	}
	if !conv.Status.Valid() {
		return nil, fault.New(fault.Validation, "unknown conversation status %q", conv.Status)
	}

	out := *conv
	out.ID = types.NewID()
	now := s.now()
	out.CreatedAt = now
	out.UpdatedAt = now
	out.MessageCount = 0
	out.TotalTokens = 0
	out.TotalCost = 0
	out.Messages = nil

	_, err := s.exec(ctx, `INSERT INTO conversations (
		id, user_id, title, description, status, system_prompt, profile_id,
		provider, model, temperature, max_tokens, workflow_config, metadata,
		tags, retrieval_enabled, message_count, total_tokens, total_cost,
		created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, ?, ?)`,
		out.ID, out.UserID, out.Title, out.Description, string(out.Status),
		out.SystemPrompt, out.ProfileID, out.Provider, out.Model,
		out.Temperature, out.MaxTokens, marshalJSON(out.WorkflowConfig),
		marshalJSON(out.Metadata), marshalList(out.Tags), out.RetrievalEnabled,
		now, now)
	if err != nil {
		return nil, storeErr(err, "creating conversation")
	}

	s.logger.Debug("conversation created",
		zap.String("conversation_id", out.ID),
		zap.String("user_id", out.UserID))
	return &out, nil
}

func validateConversationFields(title string, temperature float64, maxTokens int) error {
	if strings.TrimSpace(title) == "" {
		return fault.New(fault.Validation, "title is required")
	}
	if len(title) > MaxTitleLength {
		return fault.New(fault.Validation, "title exceeds %d characters", MaxTitleLength)
	}
	if temperature < 0 || temperature > MaxTemperature {
		return fault.New(fault.Validation, "temperature %.2f outside [0, %.0f]", temperature, MaxTemperature)
	}
	if maxTokens != 0 && (maxTokens < 1 || maxTokens > MaxTokensCeiling) {
		return fault.New(fault.Validation, "max_tokens %d outside [1, %d]", maxTokens, MaxTokensCeiling)
	}
	return nil
}

// GetConversation loads one conversation, enforcing ownership. Soft-deleted
// conversations read as not found. Messages are attached only when
// includeMessages is set, ordered by sequence number.
func (s *Store) GetConversation(ctx context.Context, id, userID string, includeMessages bool) (*types.Conversation, error) {
	row := s.queryRow(ctx, `SELECT `+conversationColumns+`
		FROM conversations WHERE id = ?`, id)
	conv, err := scanConversation(row)
	if err != nil {
		return nil, storeErr(err, "loading conversation %s", id)
	}
	if conv.Status == types.ConversationDeleted {
		return nil, fault.New(fault.NotFound, "conversation %s not found", id)
	}
	if conv.UserID != userID {
		return nil, fault.New(fault.Authorization, "conversation %s does not belong to user", id)
	}

	if includeMessages {
		msgs, err := s.conversationMessages(ctx, id)
		if err != nil {
			return nil, err
		}
		conv.Messages = msgs
	}
	return conv, nil
}

// ListConversations returns a page of the user's conversations plus the
// total matching count. Soft-deleted conversations are excluded unless the
// filter asks for them explicitly.
func (s *Store) ListConversations(ctx context.Context, userID string, filter ConversationFilter, page Page, sortBy string) ([]*types.Conversation, int, error) {
	if strings.TrimSpace(userID) == "" {
		return nil, 0, fault.New(fault.Validation, "user_id is required")
	}
	page = page.normalize()
	if !sortColumns[sortBy] {
		sortBy = "updated_at"
	}

	where := []string{"user_id = ?"}
	args := []interface{}{userID}
	if filter.Status != "" {
		where = append(where, "status = ?")
		args = append(args, string(filter.Status))
	} else {
		where = append(where, "status <> ?")
		args = append(args, string(types.ConversationDeleted))
	}
	if filter.Provider != "" {
		where = append(where, "provider = ?")
		args = append(args, filter.Provider)
	}
	if filter.Model != "" {
		where = append(where, "model = ?")
		args = append(args, filter.Model)
	}
	if filter.RetrievalEnabled != nil {
		where = append(where, "retrieval_enabled = ?")
		args = append(args, *filter.RetrievalEnabled)
	}
	// Tag filtering matches the JSON-encoded tag as a substring; tags are
	// short identifiers so quoted matching is exact enough across dialects.
	for _, tag := range filter.Tags {
		where = append(where, "tags LIKE ?")
		args = append(args, "%"+`"`+tag+`"`+"%")
	}
	clause := strings.Join(where, " AND ")

	var total int
	if err := s.queryRow(ctx, `SELECT COUNT(*) FROM conversations WHERE `+clause, args...).Scan(&total); err != nil {
		return nil, 0, storeErr(err, "counting conversations")
	}

	listArgs := append(append([]interface{}{}, args...), page.Limit, page.Offset)
	rows, err := s.query(ctx, fmt.Sprintf(`SELECT %s FROM conversations
		WHERE %s ORDER BY %s DESC LIMIT ? OFFSET ?`,
		conversationColumns, clause, sortBy), listArgs...)
	if err != nil {
		return nil, 0, storeErr(err, "listing conversations")
	}
	defer func() { _ = rows.Close() }()

	var out []*types.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, 0, storeErr(err, "scanning conversation")
		}
		out = append(out, conv)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, storeErr(err, "listing conversations")
	}
	return out, total, nil
}

// updatableConversationFields is the allowlist for UpdateConversation patch
// keys.
var updatableConversationFields = map[string]bool{
	"title":           true,
	"description":     true,
	"status":          true,
	"temperature":     true,
	"max_tokens":      true,
	"workflow_config": true,
	"metadata":        true,
}

// UpdateConversation applies a partial update. Unknown keys fail with
// Validation so typos never silently no-op. Metadata merges key-by-key;
// every other field replaces.
func (s *Store) UpdateConversation(ctx context.Context, id, userID string, patch map[string]interface{}) (*types.Conversation, error) {
	if len(patch) == 0 {
		return nil, fault.New(fault.Validation, "update patch is empty")
	}
	for key := range patch {
		if !updatableConversationFields[key] {
			return nil, fault.New(fault.Validation, "unknown conversation field %q", key)
		}
	}

	conv, err := s.GetConversation(ctx, id, userID, false)
	if err != nil {
		return nil, err
	}

	if raw, ok := patch["title"]; ok {
		title, ok := raw.(string)
		if !ok {
			return nil, fault.New(fault.Validation, "title must be a string")
		}
		if err := validateConversationFields(title, conv.Temperature, conv.MaxTokens); err != nil {
			return nil, err
		}
		conv.Title = title
	}
	if raw, ok := patch["description"]; ok {
		desc, ok := raw.(string)
		if !ok {
			return nil, fault.New(fault.Validation, "description must be a string")
		}
		conv.Description = desc
	}
	if raw, ok := patch["status"]; ok {
		str, ok := raw.(string)
		if !ok || !types.ConversationStatus(str).Valid() {
			return nil, fault.New(fault.Validation, "invalid conversation status %v", raw)
		}
		conv.Status = types.ConversationStatus(str)
	}
	if raw, ok := patch["temperature"]; ok {
		temp, ok := toFloat(raw)
		if !ok {
			return nil, fault.New(fault.Validation, "temperature must be a number")
		}
		if err := validateConversationFields(conv.Title, temp, conv.MaxTokens); err != nil {
			return nil, err
		}
		conv.Temperature = temp
	}
	if raw, ok := patch["max_tokens"]; ok {
		mt, ok := toInt(raw)
		if !ok {
			return nil, fault.New(fault.Validation, "max_tokens must be an integer")
		}
		if err := validateConversationFields(conv.Title, conv.Temperature, mt); err != nil {
			return nil, err
		}
		conv.MaxTokens = mt
	}
	if raw, ok := patch["workflow_config"]; ok {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fault.New(fault.Validation, "workflow_config must be an object")
		}
		conv.WorkflowConfig = m
	}
	if raw, ok := patch["metadata"]; ok {
		m, ok := raw.(map[string]interface{})
		if !ok {
			return nil, fault.New(fault.Validation, "metadata must be an object")
		}
		if conv.Metadata == nil {
			conv.Metadata = make(map[string]interface{}, len(m))
		}
		for k, v := range m {
			conv.Metadata[k] = v
		}
	}

	conv.UpdatedAt = s.now()
	_, err = s.exec(ctx, `UPDATE conversations SET
		title = ?, description = ?, status = ?, temperature = ?,
		max_tokens = ?, workflow_config = ?, metadata = ?, updated_at = ?
		WHERE id = ?`,
		conv.Title, conv.Description, string(conv.Status), conv.Temperature,
		conv.MaxTokens, marshalJSON(conv.WorkflowConfig),
		marshalJSON(conv.Metadata), conv.UpdatedAt, id)
	if err != nil {
		return nil, storeErr(err, "updating conversation %s", id)
	}
	return conv, nil
}

// DeleteConversation soft-deletes: the row stays for audit but reads as
// not found afterwards.
func (s *Store) DeleteConversation(ctx context.Context, id, userID string) error {
	if _, err := s.GetConversation(ctx, id, userID, false); err != nil {
		return err
	}
	_, err := s.exec(ctx, `UPDATE conversations SET status = ?, updated_at = ?
		WHERE id = ?`, string(types.ConversationDeleted), s.now(), id)
	return storeErr(err, "deleting conversation %s", id)
}

// ArchiveIdleConversations moves active conversations with no updates for
// idleFor into archived status, returning how many changed.
func (s *Store) ArchiveIdleConversations(ctx context.Context, idleFor time.Duration) (int64, error) {
	cutoff := s.now().Add(-idleFor)
	res, err := s.exec(ctx, `UPDATE conversations SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ?`,
		string(types.ConversationArchived), s.now(),
		string(types.ConversationActive), cutoff)
	if err != nil {
		return 0, storeErr(err, "archiving idle conversations")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storeErr(err, "archiving idle conversations")
	}
	if n > 0 {
		s.logger.Info("idle conversations archived", zap.Int64("count", n))
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConversation(row rowScanner) (*types.Conversation, error) {
	var (
		conv                          types.Conversation
		status                        string
		workflowConfig, metadata, tag string
	)
	err := row.Scan(&conv.ID, &conv.UserID, &conv.Title, &conv.Description,
		&status, &conv.SystemPrompt, &conv.ProfileID, &conv.Provider,
		&conv.Model, &conv.Temperature, &conv.MaxTokens, &workflowConfig,
		&metadata, &tag, &conv.RetrievalEnabled, &conv.MessageCount,
		&conv.TotalTokens, &conv.TotalCost, &conv.CreatedAt, &conv.UpdatedAt)
	if err != nil {
		return nil, err
	}
	conv.Status = types.ConversationStatus(status)
	conv.WorkflowConfig = unmarshalMap(workflowConfig)
	conv.Metadata = unmarshalMap(metadata)
	conv.Tags = unmarshalStrings(tag)
	return &conv, nil
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func toInt(v interface{}) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n == float64(int(n)) {
			return int(n), true
		}
	}
	return 0, false
}
