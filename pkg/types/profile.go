// Copyright © 2026 Teradata Corporation - All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package types

import "time"

// ProfileType selects the behavioral preset for an agent profile.
type ProfileType string

const (
	ProfileConversational ProfileType = "conversational"
	ProfileTaskOriented   ProfileType = "task_oriented"
	ProfileAnalytical     ProfileType = "analytical"
	ProfileCreative       ProfileType = "creative"
	ProfileResearch       ProfileType = "research"
	ProfileSupport        ProfileType = "support"
	ProfileSpecialist     ProfileType = "specialist"
)

// Valid reports whether t is a known profile type.
func (t ProfileType) Valid() bool {
	switch t {
	case ProfileConversational, ProfileTaskOriented, ProfileAnalytical,
		ProfileCreative, ProfileResearch, ProfileSupport, ProfileSpecialist:
		return true
	}
	return false
}

// AgentProfile configures a reusable agent persona. The executor consumes a
// profile as immutable input per run; the performance counters are updated
// by the orchestrator after each run through the store.
type AgentProfile struct {
	ID   string      `json:"id"`
	Name string      `json:"name"`
	Type ProfileType `json:"type"`

	SystemPrompt string `json:"system_prompt,omitempty"`

	// AllowedTools restricts tool resolution for runs under this profile;
	// empty means no profile-level restriction.
	AllowedTools []string `json:"allowed_tools,omitempty"`

	// PreferredProvider is tried first; FallbackProvider is tried when the
	// preferred one is unavailable.
	PreferredProvider string `json:"preferred_provider,omitempty"`
	FallbackProvider  string `json:"fallback_provider,omitempty"`

	// Generation hyperparameters.
	Temperature      float64 `json:"temperature"`
	MaxTokens        int     `json:"max_tokens"`
	TopP             float64 `json:"top_p,omitempty"`
	PresencePenalty  float64 `json:"presence_penalty,omitempty"`
	FrequencyPenalty float64 `json:"frequency_penalty,omitempty"`

	// Performance counters, maintained by the store.
	Interactions int     `json:"interactions"`
	Successes    int     `json:"successes"`
	Failures     int     `json:"failures"`
	TotalTokens  int     `json:"total_tokens"`
	TotalCost    float64 `json:"total_cost"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SuccessRate returns the fraction of successful interactions, or zero when
// the profile has none recorded.
func (p *AgentProfile) SuccessRate() float64 {
	if p.Interactions == 0 {
		return 0
	}
	return float64(p.Successes) / float64(p.Interactions)
}
