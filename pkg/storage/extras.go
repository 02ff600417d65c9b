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
	"encoding/json"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/prompts"
	"github.com/teradata-labs/warp/pkg/security"
	"github.com/teradata-labs/warp/pkg/types"
)

const profileColumns = `id, name, type, system_prompt, allowed_tools,
	preferred_provider, fallback_provider, temperature, max_tokens, top_p,
	presence_penalty, frequency_penalty, interactions, successes, failures,
	total_tokens, total_cost, created_at, updated_at`

// SaveProfile inserts a new agent profile (empty ID) or replaces an
// existing one. Performance counters are store-maintained and ignored on
// update.
func (s *Store) SaveProfile(ctx context.Context, p *types.AgentProfile) (*types.AgentProfile, error) {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return nil, fault.New(fault.Validation, "profile name is required")
	}
	if p.Type != "" && !p.Type.Valid() {
		return nil, fault.New(fault.Validation, "unknown profile type %q", p.Type)
	}
	if p.Type == "" {
		p.Type = types.ProfileConversational
	}

	out := *p
	now := s.now()
	out.UpdatedAt = now

	if out.ID == "" {
		out.ID = types.NewID()
		out.CreatedAt = now
		out.Interactions, out.Successes, out.Failures = 0, 0, 0
		out.TotalTokens, out.TotalCost = 0, 0
		_, err := s.exec(ctx, `INSERT INTO agent_profiles (
			id, name, type, system_prompt, allowed_tools, preferred_provider,
			fallback_provider, temperature, max_tokens, top_p,
			presence_penalty, frequency_penalty, interactions, successes,
			failures, total_tokens, total_cost, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, 0, ?, ?)`,
			out.ID, out.Name, string(out.Type), out.SystemPrompt,
			marshalList(out.AllowedTools), out.PreferredProvider,
			out.FallbackProvider, out.Temperature, out.MaxTokens, out.TopP,
			out.PresencePenalty, out.FrequencyPenalty, now, now)
		if err != nil {
			return nil, storeErr(err, "creating profile %s", out.Name)
		}
		return &out, nil
	}

	res, err := s.exec(ctx, `UPDATE agent_profiles SET
		name = ?, type = ?, system_prompt = ?, allowed_tools = ?,
		preferred_provider = ?, fallback_provider = ?, temperature = ?,
		max_tokens = ?, top_p = ?, presence_penalty = ?,
		frequency_penalty = ?, updated_at = ?
		WHERE id = ?`,
		out.Name, string(out.Type), out.SystemPrompt,
		marshalList(out.AllowedTools), out.PreferredProvider,
		out.FallbackProvider, out.Temperature, out.MaxTokens, out.TopP,
		out.PresencePenalty, out.FrequencyPenalty, now, out.ID)
	if err != nil {
		return nil, storeErr(err, "updating profile %s", out.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fault.New(fault.NotFound, "profile %s not found", out.ID)
	}
	return s.GetProfile(ctx, out.ID)
}

// GetProfile loads one agent profile.
func (s *Store) GetProfile(ctx context.Context, id string) (*types.AgentProfile, error) {
	row := s.queryRow(ctx, `SELECT `+profileColumns+` FROM agent_profiles WHERE id = ?`, id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, storeErr(err, "loading profile %s", id)
	}
	return p, nil
}

// ListProfiles returns all profiles ordered by name.
func (s *Store) ListProfiles(ctx context.Context) ([]*types.AgentProfile, error) {
	rows, err := s.query(ctx, `SELECT `+profileColumns+` FROM agent_profiles ORDER BY name`)
	if err != nil {
		return nil, storeErr(err, "listing profiles")
	}
	defer func() { _ = rows.Close() }()

	var out []*types.AgentProfile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, storeErr(err, "scanning profile")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "listing profiles")
	}
	return out, nil
}

// RecordInteraction appends an interaction record and rolls its outcome
// into the profile counters in one transaction.
func (s *Store) RecordInteraction(ctx context.Context, profileID, conversationID string, success bool, usage types.Usage, duration time.Duration) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storeErr(err, "starting transaction")
	}
	defer func() { _ = tx.Rollback() }()

	now := s.now()
	_, err = tx.ExecContext(ctx, s.rebind(`INSERT INTO agent_interactions (
		id, profile_id, conversation_id, success, tokens, cost, duration_ms,
		created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		types.NewID(), profileID, conversationID, success, usage.TotalTokens,
		usage.Cost, duration.Milliseconds(), now)
	if err != nil {
		return storeErr(err, "recording interaction")
	}

	successes, failures := 0, 0
	if success {
		successes = 1
	} else {
		failures = 1
	}
	res, err := tx.ExecContext(ctx, s.rebind(`UPDATE agent_profiles SET
		interactions = interactions + 1,
		successes = successes + ?,
		failures = failures + ?,
		total_tokens = total_tokens + ?,
		total_cost = total_cost + ?,
		updated_at = ?
		WHERE id = ?`),
		successes, failures, usage.TotalTokens, usage.Cost, now, profileID)
	if err != nil {
		return storeErr(err, "updating profile counters")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fault.New(fault.NotFound, "profile %s not found", profileID)
	}
	return storeErr(tx.Commit(), "committing interaction")
}

// SavePrompt inserts (empty ID) or updates a stored prompt. Prompt names
// are unique; inserting a duplicate name fails with Conflict.
func (s *Store) SavePrompt(ctx context.Context, p *prompts.Prompt) (*prompts.Prompt, error) {
	if p == nil || strings.TrimSpace(p.Name) == "" {
		return nil, fault.New(fault.Validation, "prompt name is required")
	}
	if p.Content == "" {
		return nil, fault.New(fault.Validation, "prompt content is required")
	}

	out := *p
	now := s.now()
	out.UpdatedAt = now

	if out.ID == "" {
		out.ID = types.NewID()
		out.CreatedAt = now
		_, err := s.exec(ctx, `INSERT INTO prompts (
			id, name, content, dialect, variables, required_variables,
			input_schema, output_schema, chain_steps, version, tags,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			out.ID, out.Name, out.Content, string(out.Dialect),
			marshalList(out.Variables), marshalList(out.RequiredVariables),
			marshalJSON(out.InputSchema), marshalJSON(out.OutputSchema),
			marshalList(out.ChainSteps), out.Version, marshalList(out.Tags),
			now, now)
		if err != nil {
			return nil, storeErr(err, "creating prompt %q", out.Name)
		}
		return &out, nil
	}

	res, err := s.exec(ctx, `UPDATE prompts SET
		name = ?, content = ?, dialect = ?, variables = ?,
		required_variables = ?, input_schema = ?, output_schema = ?,
		chain_steps = ?, version = ?, tags = ?, updated_at = ?
		WHERE id = ?`,
		out.Name, out.Content, string(out.Dialect),
		marshalList(out.Variables), marshalList(out.RequiredVariables),
		marshalJSON(out.InputSchema), marshalJSON(out.OutputSchema),
		marshalList(out.ChainSteps), out.Version, marshalList(out.Tags),
		now, out.ID)
	if err != nil {
		return nil, storeErr(err, "updating prompt %s", out.ID)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, fault.New(fault.NotFound, "prompt %s not found", out.ID)
	}
	return &out, nil
}

// GetPrompt loads a prompt by name.
func (s *Store) GetPrompt(ctx context.Context, name string) (*prompts.Prompt, error) {
	row := s.queryRow(ctx, `SELECT id, name, content, dialect, variables,
		required_variables, input_schema, output_schema, chain_steps,
		version, tags, created_at, updated_at
		FROM prompts WHERE name = ?`, name)

	var (
		p                            prompts.Prompt
		dialect                      string
		vars, reqVars, inSch, outSch string
		chainSteps, tags             string
	)
	err := row.Scan(&p.ID, &p.Name, &p.Content, &dialect, &vars, &reqVars,
		&inSch, &outSch, &chainSteps, &p.Version, &tags, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, storeErr(err, "loading prompt %q", name)
	}
	p.Dialect = prompts.Dialect(dialect)
	p.Variables = unmarshalStrings(vars)
	p.RequiredVariables = unmarshalStrings(reqVars)
	p.InputSchema = unmarshalMap(inSch)
	p.OutputSchema = unmarshalMap(outSch)
	p.Tags = unmarshalStrings(tags)
	if chainSteps != "" && chainSteps != "[]" {
		_ = json.Unmarshal([]byte(chainSteps), &p.ChainSteps)
	}
	return &p, nil
}

// SetPreference upserts the JSON blob stored for (user, preference type).
func (s *Store) SetPreference(ctx context.Context, userID, prefType string, value map[string]interface{}) error {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(prefType) == "" {
		return fault.New(fault.Validation, "user_id and preference type are required")
	}
	now := s.now()

	res, err := s.exec(ctx, `UPDATE user_preferences SET value = ?, updated_at = ?
		WHERE user_id = ? AND preference_type = ?`,
		marshalJSON(value), now, userID, prefType)
	if err != nil {
		return storeErr(err, "updating preference")
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return nil
	}

	_, err = s.exec(ctx, `INSERT INTO user_preferences (
		user_id, preference_type, value, updated_at
	) VALUES (?, ?, ?, ?)`, userID, prefType, marshalJSON(value), now)
	if isUniqueViolation(err) {
		// Lost the insert race; the other writer's value wins the update.
		_, err = s.exec(ctx, `UPDATE user_preferences SET value = ?, updated_at = ?
			WHERE user_id = ? AND preference_type = ?`,
			marshalJSON(value), now, userID, prefType)
	}
	return storeErr(err, "saving preference")
}

// GetPreference loads the blob for (user, preference type); missing
// preferences return NotFound.
func (s *Store) GetPreference(ctx context.Context, userID, prefType string) (map[string]interface{}, error) {
	var raw string
	err := s.queryRow(ctx, `SELECT value FROM user_preferences
		WHERE user_id = ? AND preference_type = ?`, userID, prefType).Scan(&raw)
	if err != nil {
		return nil, storeErr(err, "loading preference %s/%s", userID, prefType)
	}
	out := unmarshalMap(raw)
	if out == nil {
		out = map[string]interface{}{}
	}
	return out, nil
}

// WriteAudit implements security.AuditSink, persisting entries as they are
// appended to the in-memory log. Sinks must not block or fail the caller,
// so write errors are logged and swallowed.
func (s *Store) WriteAudit(entry security.AuditEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	id := entry.ID
	if id == "" {
		id = types.NewID()
	}
	_, err := s.exec(ctx, `INSERT INTO audit_entries (
		id, event_type, user_id, workflow_id, workflow_mode, details,
		created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		id, entry.EventType, entry.UserID, entry.WorkflowID,
		entry.WorkflowMode, marshalJSON(entry.Details), entry.Timestamp.UTC())
	if err != nil {
		s.logger.Warn("audit write failed",
			zap.String("event_type", entry.EventType),
			zap.Error(err))
	}
}

// AuditEntries returns the newest limit persisted entries for a user.
func (s *Store) AuditEntries(ctx context.Context, userID string, limit int) ([]security.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.query(ctx, `SELECT id, event_type, user_id, workflow_id,
		workflow_mode, details, created_at
		FROM audit_entries WHERE user_id = ?
		ORDER BY created_at DESC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, storeErr(err, "listing audit entries")
	}
	defer func() { _ = rows.Close() }()

	var out []security.AuditEntry
	for rows.Next() {
		var e security.AuditEntry
		var details string
		if err := rows.Scan(&e.ID, &e.EventType, &e.UserID, &e.WorkflowID,
			&e.WorkflowMode, &details, &e.Timestamp); err != nil {
			return nil, storeErr(err, "scanning audit entry")
		}
		e.Details = unmarshalMap(details)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr(err, "listing audit entries")
	}
	return out, nil
}

// PurgeAuditBefore deletes persisted audit entries older than cutoff,
// returning the number removed. Used by the retention sweep.
func (s *Store) PurgeAuditBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM audit_entries WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, storeErr(err, "purging audit entries")
	}
	return res.RowsAffected()
}

// PurgeInteractionsBefore deletes agent interaction records older than
// cutoff.
func (s *Store) PurgeInteractionsBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM agent_interactions WHERE created_at < ?`, cutoff)
	if err != nil {
		return 0, storeErr(err, "purging interactions")
	}
	return res.RowsAffected()
}

func scanProfile(row rowScanner) (*types.AgentProfile, error) {
	var (
		p            types.AgentProfile
		profileType  string
		allowedTools string
	)
	err := row.Scan(&p.ID, &p.Name, &profileType, &p.SystemPrompt,
		&allowedTools, &p.PreferredProvider, &p.FallbackProvider,
		&p.Temperature, &p.MaxTokens, &p.TopP, &p.PresencePenalty,
		&p.FrequencyPenalty, &p.Interactions, &p.Successes, &p.Failures,
		&p.TotalTokens, &p.TotalCost, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	p.Type = types.ProfileType(profileType)
	p.AllowedTools = unmarshalStrings(allowedTools)
	return &p, nil
}

var _ security.AuditSink = (*Store)(nil)
