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
	"database/sql"
	"encoding/json"
	"strings"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/types"
)

// MaxMessageLength bounds message content.
const MaxMessageLength = 10000

// sequenceRetries bounds the insert retry loop when a concurrent writer
// races the MAX(sequence_number) read.
const sequenceRetries = 3

const messageColumns = `id, conversation_id, role, content, sequence_number,
	tool_calls, tool_call_id, provider, model, prompt_tokens,
	completion_tokens, cost, response_time_ms, rating_avg, rating_count,
	metadata, created_at`

// AddMessage appends a message to its conversation, assigning the next
// gap-free sequence number. The insert and the conversation counter update
// share one transaction, so a crash never leaves the count out of step
// with the rows.
//
// Writers for the same conversation serialise on a per-conversation lock;
// cross-process writers are caught by the unique (conversation_id,
// sequence_number) constraint and retried.
func (s *Store) AddMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	if msg == nil {
		return nil, fault.New(fault.Validation, "message is required")
	}
	if strings.TrimSpace(msg.ConversationID) == "" {
		return nil, fault.New(fault.Validation, "conversation_id is required")
	}
	if !msg.Role.Valid() {
		return nil, fault.New(fault.Validation, "unknown message role %q", msg.Role)
	}
	if msg.Content == "" && len(msg.ToolCalls) == 0 {
		return nil, fault.New(fault.Validation, "message content is required")
	}
	if len(msg.Content) > MaxMessageLength {
		return nil, fault.New(fault.Validation, "message exceeds %d characters", MaxMessageLength)
	}

	mu := s.convLock(msg.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < sequenceRetries; attempt++ {
		out, err := s.insertMessage(ctx, msg)
		if err == nil {
			return out, nil
		}
		if fault.KindOf(err) != fault.Conflict {
			return nil, err
		}
		lastErr = err
	}
	return nil, fault.Wrap(fault.Conflict, lastErr,
		"sequence contention on conversation %s after %d attempts",
		msg.ConversationID, sequenceRetries)
}

func (s *Store) insertMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, storeErr(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	var status string
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT status FROM conversations WHERE id = ?`), msg.ConversationID).Scan(&status)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fault.New(fault.NotFound, "conversation %s not found", msg.ConversationID)
		}
		return nil, storeErr(err, "loading conversation %s", msg.ConversationID)
	}
	if types.ConversationStatus(status) == types.ConversationDeleted {
		return nil, fault.New(fault.NotFound, "conversation %s not found", msg.ConversationID)
	}

	var maxSeq sql.NullInt64
	err = tx.QueryRowContext(ctx, s.rebind(
		`SELECT MAX(sequence_number) FROM messages WHERE conversation_id = ?`),
		msg.ConversationID).Scan(&maxSeq)
	if err != nil {
		return nil, storeErr(err, "reading sequence for conversation %s", msg.ConversationID)
	}

	out := *msg
	out.ID = types.NewID()
	out.SequenceNumber = int(maxSeq.Int64) + 1
	out.CreatedAt = s.now()

	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO messages (
		id, conversation_id, role, content, sequence_number, tool_calls,
		tool_call_id, provider, model, prompt_tokens, completion_tokens,
		cost, response_time_ms, rating_avg, rating_count, metadata, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?, ?)`),
		out.ID, out.ConversationID, string(out.Role), out.Content,
		out.SequenceNumber, marshalList(out.ToolCalls), out.ToolCallID,
		out.Provider, out.Model, out.PromptTokens, out.CompletionTokens,
		out.Cost, out.ResponseTimeMs, marshalJSON(out.Metadata), out.CreatedAt)
	if err != nil {
		return nil, storeErr(err, "inserting message")
	}

	_, err = tx.ExecContext(ctx, s.rebind(`UPDATE conversations SET
		message_count = message_count + 1,
		total_tokens = total_tokens + ?,
		total_cost = total_cost + ?,
		updated_at = ?
		WHERE id = ?`),
		out.PromptTokens+out.CompletionTokens, out.Cost, out.CreatedAt,
		out.ConversationID)
	if err != nil {
		return nil, storeErr(err, "updating conversation counters")
	}

	if err := tx.Commit(); err != nil {
		return nil, storeErr(err, "committing message")
	}
	s.logger.Debug("message appended",
		zap.String("conversation_id", out.ConversationID),
		zap.String("message_id", out.ID),
		zap.Int("sequence", out.SequenceNumber))
	return &out, nil
}

// GetMessage loads a single message by id.
func (s *Store) GetMessage(ctx context.Context, id string) (*types.Message, error) {
	row := s.queryRow(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	msg, err := scanMessage(row)
	if err != nil {
		return nil, storeErr(err, "loading message %s", id)
	}
	return msg, nil
}

// RecentMessages returns the newest limit messages of a conversation in
// chronological (ascending sequence) order.
func (s *Store) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*types.Message, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.query(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence_number DESC LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, storeErr(err, "loading recent messages")
	}
	msgs, err := collectMessages(rows)
	if err != nil {
		return nil, err
	}
	// Newest-first from the query; flip to chronological.
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

func (s *Store) conversationMessages(ctx context.Context, conversationID string) ([]*types.Message, error) {
	rows, err := s.query(ctx, `SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY sequence_number ASC`, conversationID)
	if err != nil {
		return nil, storeErr(err, "loading messages")
	}
	return collectMessages(rows)
}

// DeleteMessage removes one message and decrements the conversation
// counters. Remaining sequence numbers keep their values; gaps from
// deletion are expected, only assignment is gap-free.
func (s *Store) DeleteMessage(ctx context.Context, id string) error {
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return err
	}

	mu := s.convLock(msg.ConversationID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE id = ?`), id); err != nil {
		return storeErr(err, "deleting message %s", id)
	}
	if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE conversations SET
		message_count = message_count - 1,
		total_tokens = total_tokens - ?,
		total_cost = total_cost - ?,
		updated_at = ?
		WHERE id = ?`),
		msg.PromptTokens+msg.CompletionTokens, msg.Cost, s.now(),
		msg.ConversationID); err != nil {
		return storeErr(err, "updating conversation counters")
	}
	if err := tx.Commit(); err != nil {
		return storeErr(err, "committing delete")
	}
	return nil
}

// BulkDeleteMessages removes several messages from one conversation in a
// single transaction, returning how many were deleted.
func (s *Store) BulkDeleteMessages(ctx context.Context, conversationID string, ids []string) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	mu := s.convLock(conversationID)
	mu.Lock()
	defer mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, storeErr(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	deleted := 0
	var tokens int
	var cost float64
	for _, id := range ids {
		var msg types.Message
		err := tx.QueryRowContext(ctx, s.rebind(
			`SELECT prompt_tokens, completion_tokens, cost FROM messages
			WHERE id = ? AND conversation_id = ?`), id, conversationID).
			Scan(&msg.PromptTokens, &msg.CompletionTokens, &msg.Cost)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, storeErr(err, "loading message %s", id)
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`DELETE FROM messages WHERE id = ?`), id); err != nil {
			return 0, storeErr(err, "deleting message %s", id)
		}
		deleted++
		tokens += msg.PromptTokens + msg.CompletionTokens
		cost += msg.Cost
	}
	if deleted > 0 {
		if _, err := tx.ExecContext(ctx, s.rebind(`UPDATE conversations SET
			message_count = message_count - ?,
			total_tokens = total_tokens - ?,
			total_cost = total_cost - ?,
			updated_at = ?
			WHERE id = ?`),
			deleted, tokens, cost, s.now(), conversationID); err != nil {
			return 0, storeErr(err, "updating conversation counters")
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, storeErr(err, "committing bulk delete")
	}
	return deleted, nil
}

// UpdateMessageRating folds a new rating into the running mean. Ratings
// are bounded to [0, 5].
func (s *Store) UpdateMessageRating(ctx context.Context, id string, rating float64) (*types.Message, error) {
	if rating < 0 || rating > 5 {
		return nil, fault.New(fault.Validation, "rating %.2f outside [0, 5]", rating)
	}
	msg, err := s.GetMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	newCount := msg.RatingCount + 1
	newAvg := (msg.RatingAvg*float64(msg.RatingCount) + rating) / float64(newCount)

	_, err = s.exec(ctx, `UPDATE messages SET rating_avg = ?, rating_count = ?
		WHERE id = ?`, newAvg, newCount, id)
	if err != nil {
		return nil, storeErr(err, "updating rating for message %s", id)
	}
	msg.RatingAvg = newAvg
	msg.RatingCount = newCount
	return msg, nil
}

func collectMessages(rows *sql.Rows) ([]*types.Message, error) {
	defer func() { _ = rows.Close() }()
	var out []*types.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, storeErr(err, "scanning message")
		}
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "reading messages")
	}
	return out, nil
}

func scanMessage(row rowScanner) (*types.Message, error) {
	var (
		msg                       types.Message
		role, toolCalls, metadata string
	)
	err := row.Scan(&msg.ID, &msg.ConversationID, &role, &msg.Content,
		&msg.SequenceNumber, &toolCalls, &msg.ToolCallID, &msg.Provider,
		&msg.Model, &msg.PromptTokens, &msg.CompletionTokens, &msg.Cost,
		&msg.ResponseTimeMs, &msg.RatingAvg, &msg.RatingCount, &metadata,
		&msg.CreatedAt)
	if err != nil {
		return nil, err
	}
	msg.Role = types.Role(role)
	msg.Metadata = unmarshalMap(metadata)
	if toolCalls != "" && toolCalls != "[]" {
		_ = json.Unmarshal([]byte(toolCalls), &msg.ToolCalls)
	}
	return &msg, nil
}
