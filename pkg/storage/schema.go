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

// Embedded DDL bootstrap. Types are chosen to be portable across sqlite,
// postgres and mysql; ids are 26-char ULIDs. The messages table enforces
// the gap-free sequence invariant with UNIQUE(conversation_id,
// sequence_number).
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id VARCHAR(26) PRIMARY KEY,
		name VARCHAR(255) NOT NULL DEFAULT '',
		created_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS conversations (
		id VARCHAR(26) PRIMARY KEY,
		user_id VARCHAR(26) NOT NULL,
		title VARCHAR(500) NOT NULL,
		description TEXT NOT NULL,
		status VARCHAR(16) NOT NULL DEFAULT 'active',
		system_prompt TEXT NOT NULL,
		profile_id VARCHAR(26) NOT NULL DEFAULT '',
		provider VARCHAR(64) NOT NULL DEFAULT '',
		model VARCHAR(128) NOT NULL DEFAULT '',
		temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_tokens INTEGER NOT NULL DEFAULT 0,
		workflow_config TEXT NOT NULL DEFAULT '{}',
		metadata TEXT NOT NULL DEFAULT '{}',
		tags TEXT NOT NULL DEFAULT '[]',
		retrieval_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		message_count INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_conversations_user
		ON conversations(user_id, status)`,

	`CREATE TABLE IF NOT EXISTS messages (
		id VARCHAR(26) PRIMARY KEY,
		conversation_id VARCHAR(26) NOT NULL,
		role VARCHAR(16) NOT NULL,
		content TEXT NOT NULL,
		sequence_number INTEGER NOT NULL,
		tool_calls TEXT NOT NULL DEFAULT '[]',
		tool_call_id VARCHAR(64) NOT NULL DEFAULT '',
		provider VARCHAR(64) NOT NULL DEFAULT '',
		model VARCHAR(128) NOT NULL DEFAULT '',
		prompt_tokens INTEGER NOT NULL DEFAULT 0,
		completion_tokens INTEGER NOT NULL DEFAULT 0,
		cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		response_time_ms BIGINT NOT NULL DEFAULT 0,
		rating_avg DOUBLE PRECISION NOT NULL DEFAULT 0,
		rating_count INTEGER NOT NULL DEFAULT 0,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL,
		CONSTRAINT uq_messages_sequence UNIQUE (conversation_id, sequence_number)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_messages_conversation
		ON messages(conversation_id, sequence_number)`,

	`CREATE TABLE IF NOT EXISTS prompts (
		id VARCHAR(26) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		content TEXT NOT NULL,
		dialect VARCHAR(16) NOT NULL DEFAULT 'simple',
		variables TEXT NOT NULL DEFAULT '[]',
		required_variables TEXT NOT NULL DEFAULT '[]',
		input_schema TEXT NOT NULL DEFAULT '{}',
		output_schema TEXT NOT NULL DEFAULT '{}',
		chain_steps TEXT NOT NULL DEFAULT '[]',
		version VARCHAR(32) NOT NULL DEFAULT '',
		tags TEXT NOT NULL DEFAULT '[]',
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL,
		CONSTRAINT uq_prompts_name UNIQUE (name)
	)`,

	`CREATE TABLE IF NOT EXISTS agent_profiles (
		id VARCHAR(26) PRIMARY KEY,
		name VARCHAR(255) NOT NULL,
		type VARCHAR(32) NOT NULL,
		system_prompt TEXT NOT NULL,
		allowed_tools TEXT NOT NULL DEFAULT '[]',
		preferred_provider VARCHAR(64) NOT NULL DEFAULT '',
		fallback_provider VARCHAR(64) NOT NULL DEFAULT '',
		temperature DOUBLE PRECISION NOT NULL DEFAULT 0,
		max_tokens INTEGER NOT NULL DEFAULT 0,
		top_p DOUBLE PRECISION NOT NULL DEFAULT 0,
		presence_penalty DOUBLE PRECISION NOT NULL DEFAULT 0,
		frequency_penalty DOUBLE PRECISION NOT NULL DEFAULT 0,
		interactions INTEGER NOT NULL DEFAULT 0,
		successes INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0,
		total_tokens INTEGER NOT NULL DEFAULT 0,
		total_cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS agent_interactions (
		id VARCHAR(26) PRIMARY KEY,
		profile_id VARCHAR(26) NOT NULL,
		conversation_id VARCHAR(26) NOT NULL,
		success BOOLEAN NOT NULL,
		tokens INTEGER NOT NULL DEFAULT 0,
		cost DOUBLE PRECISION NOT NULL DEFAULT 0,
		duration_ms BIGINT NOT NULL DEFAULT 0,
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_interactions_profile
		ON agent_interactions(profile_id, created_at)`,

	`CREATE TABLE IF NOT EXISTS user_preferences (
		user_id VARCHAR(26) NOT NULL,
		preference_type VARCHAR(64) NOT NULL,
		value TEXT NOT NULL DEFAULT '{}',
		updated_at TIMESTAMP NOT NULL,
		CONSTRAINT uq_preferences UNIQUE (user_id, preference_type)
	)`,

	`CREATE TABLE IF NOT EXISTS audit_entries (
		id VARCHAR(26) PRIMARY KEY,
		event_type VARCHAR(64) NOT NULL,
		user_id VARCHAR(26) NOT NULL,
		workflow_id VARCHAR(64) NOT NULL DEFAULT '',
		workflow_mode VARCHAR(16) NOT NULL DEFAULT '',
		details TEXT NOT NULL DEFAULT '{}',
		created_at TIMESTAMP NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_user
		ON audit_entries(user_id, created_at)`,
}
