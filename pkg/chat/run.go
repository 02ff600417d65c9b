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
package chat

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/llm"
	"github.com/teradata-labs/warp/pkg/observability"
	"github.com/teradata-labs/warp/pkg/tool"
	"github.com/teradata-labs/warp/pkg/types"
	"github.com/teradata-labs/warp/pkg/workflow"
)

// plan carries everything prepare resolved for one chat turn.
type plan struct {
	conv         *types.Conversation
	profile      *types.AgentProfile
	providerName string
	model        string
	mode         workflow.Mode
	wf           *workflow.Workflow
	initial      workflow.Context
	runID        string
	started      time.Time
}

// Chat runs one synchronous chat turn: resolve, build (or reuse) the
// workflow, run it, persist both sides of the exchange, and report usage.
func (o *Orchestrator) Chat(ctx context.Context, req ChatRequest) (*ChatResponse, error) {
	p, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	final, err := o.runWithRetry(ctx, p)
	if err != nil {
		o.finishRun(p, final, err)
		return nil, err
	}

	msg, err := o.persistAssistant(ctx, p, final)
	if err != nil {
		o.finishRun(p, final, err)
		return nil, err
	}
	o.finishRun(p, final, nil)

	return &ChatResponse{
		ConversationID: p.conv.ID,
		MessageID:      msg.ID,
		Content:        msg.Content,
		Usage:          runUsage(final),
	}, nil
}

// ChatStream runs one streaming chat turn. Events reach the returned
// channel in real time; the assistant message is persisted after the run
// ends, but only when the accumulated content is non-empty and the run was
// not cancelled.
func (o *Orchestrator) ChatStream(ctx context.Context, req ChatRequest) (<-chan workflow.Event, error) {
	p, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	result := make(chan workflow.StreamResult, 1)
	events, err := o.executor.Stream(ctx, p.wf, p.initial, p.conv.ID, result)
	if err != nil {
		o.finishRun(p, p.initial, err)
		return nil, err
	}

	out := make(chan workflow.Event)
	go func() {
		defer close(out)

		var content string
		forwarding := true
		for ev := range events {
			if ev.Type == workflow.EventToken {
				content += ev.Content
			}
			if !forwarding {
				continue
			}
			// A gone consumer cancels ctx; stop forwarding but keep
			// draining so the run still finalizes.
			select {
			case out <- ev:
			case <-ctx.Done():
				forwarding = false
			}
		}
		res := <-result

		if content != "" && fault.KindOf(res.Err) != fault.Cancelled {
			final := res.Context
			if res.Err != nil {
				// Keep what streamed before the failure.
				final.Metadata = ensureMeta(final.Metadata)
				final.Metadata["partial"] = true
			}
			if _, err := o.persistAssistantContent(context.Background(), p, final, content); err != nil {
				o.logger.Warn("persisting streamed assistant message failed",
					zap.String("conversation_id", p.conv.ID),
					zap.Error(err))
			}
		}
		o.finishRun(p, res.Context, res.Err)
	}()
	return out, nil
}

// prepare executes the shared front half of a chat turn: validation,
// conversation and provider resolution, workflow lookup/build, and user
// message persistence.
func (o *Orchestrator) prepare(ctx context.Context, req ChatRequest) (*plan, error) {
	if err := validateRequest(req); err != nil {
		return nil, err
	}

	conv, err := o.resolveConversation(ctx, req)
	if err != nil {
		return nil, err
	}

	var profile *types.AgentProfile
	if conv.ProfileID != "" {
		profile, err = o.store.GetProfile(ctx, conv.ProfileID)
		if err != nil {
			o.logger.Warn("conversation references unknown profile",
				zap.String("conversation_id", conv.ID),
				zap.String("profile_id", conv.ProfileID))
			profile = nil
		}
	}

	provider, providerName, model, err := o.resolveProvider(req, conv, profile)
	if err != nil {
		return nil, err
	}

	mode, cfg, tplName, err := o.resolveWorkflowConfig(req, conv, profile)
	if err != nil {
		return nil, err
	}

	wf, err := o.resolveWorkflow(ctx, req, conv, profile, provider, providerName, model, mode, cfg, tplName)
	if err != nil {
		return nil, err
	}

	userMsg := &types.Message{
		ConversationID: conv.ID,
		Role:           types.RoleUser,
		Content:        req.Message,
	}
	if _, err := o.store.AddMessage(ctx, userMsg); err != nil {
		return nil, err
	}

	history, err := o.store.RecentMessages(ctx, conv.ID, o.historyWindow)
	if err != nil {
		return nil, err
	}
	msgs := make([]types.Message, len(history))
	for i, m := range history {
		msgs[i] = *m
	}

	p := &plan{
		conv:         conv,
		profile:      profile,
		providerName: providerName,
		model:        model,
		mode:         mode,
		wf:           wf,
		initial:      workflow.NewContext(req.UserID, conv.ID, msgs),
		started:      time.Now(),
	}
	if o.collector != nil {
		p.runID = o.collector.StartWorkflow(string(mode), req.UserID, conv.ID,
			providerName, model, map[string]interface{}{"template": tplName})
	}
	return p, nil
}

func (o *Orchestrator) resolveConversation(ctx context.Context, req ChatRequest) (*types.Conversation, error) {
	if req.ConversationID != "" {
		return o.store.GetConversation(ctx, req.ConversationID, req.UserID, false)
	}

	title := req.Message
	if len(title) > 60 {
		title = title[:57] + "..."
	}
	conv := &types.Conversation{
		UserID:       req.UserID,
		Title:        title,
		SystemPrompt: req.SystemPrompt,
		Provider:     req.Provider,
		Model:        req.Model,
		MaxTokens:    req.MaxTokens,
	}
	if req.Temperature != nil {
		conv.Temperature = *req.Temperature
	}
	if req.EnableRetrieval != nil {
		conv.RetrievalEnabled = *req.EnableRetrieval
	}
	return o.store.CreateConversation(ctx, conv)
}

// resolveProvider picks the provider name by precedence (request >
// conversation > configured default > first available), then resolves it,
// falling back to the profile's fallback provider when the preferred one
// is unavailable.
func (o *Orchestrator) resolveProvider(req ChatRequest, conv *types.Conversation, profile *types.AgentProfile) (llm.Provider, string, string, error) {
	name := req.Provider
	if name == "" {
		name = conv.Provider
	}
	if name == "" && profile != nil {
		name = profile.PreferredProvider
	}
	if name == "" {
		name = o.defaultProvider
	}
	if name == "" {
		if available := o.providers.Available(); len(available) > 0 {
			name = available[0]
		}
	}
	if name == "" {
		return nil, "", "", fault.New(fault.ProviderUnavailable, "no provider available")
	}

	model := req.Model
	if model == "" {
		model = conv.Model
	}
	if model == "" {
		model = o.defaultModel
	}

	provider, err := o.providers.Resolve(name, model)
	if err != nil && profile != nil && profile.FallbackProvider != "" &&
		profile.FallbackProvider != name &&
		fault.KindOf(err) == fault.ProviderUnavailable {
		o.logger.Warn("preferred provider unavailable, trying fallback",
			zap.String("preferred", name),
			zap.String("fallback", profile.FallbackProvider),
			zap.Error(err))
		name = profile.FallbackProvider
		provider, err = o.providers.Resolve(name, model)
	}
	if err != nil {
		return nil, "", "", err
	}
	return provider, name, model, nil
}

// resolveWorkflowConfig determines the mode and node config for the run.
// Source precedence: template > inline definition > conversation's stored
// definition > dynamic mode + flags.
func (o *Orchestrator) resolveWorkflowConfig(req ChatRequest, conv *types.Conversation, profile *types.AgentProfile) (workflow.Mode, workflow.Config, string, error) {
	if req.Template != "" && len(req.Definition) > 0 {
		o.logger.Warn("request carries both template and definition, template wins",
			zap.String("template", req.Template))
	}

	var (
		mode workflow.Mode
		cfg  workflow.Config
		err  error
	)
	switch {
	case req.Template != "":
		// Defaults merge in at build time; the mode is read here so
		// metrics and cache keys reflect the template's shape.
		mode = workflow.ModePlain
		if o.templates != nil {
			if tpl, tplErr := o.templates.Get(req.Template); tplErr == nil {
				mode = tpl.Mode
			} else {
				return "", workflow.Config{}, "", tplErr
			}
		}

	case len(req.Definition) > 0:
		mode, cfg, err = parseDefinition(req.Definition)
		if err != nil {
			return "", workflow.Config{}, "", err
		}

	case len(conv.WorkflowConfig) > 0:
		mode, cfg, err = parseDefinition(conv.WorkflowConfig)
		if err != nil {
			return "", workflow.Config{}, "", err
		}

	default:
		mode = o.dynamicMode(req, conv)
	}

	// Request-level overrides.
	if req.SystemPrompt != "" {
		cfg.SystemMessage = req.SystemPrompt
	}
	if cfg.SystemMessage == "" {
		cfg.SystemMessage = conv.SystemPrompt
	}
	if cfg.SystemMessage == "" && profile != nil {
		cfg.SystemMessage = profile.SystemPrompt
	}
	if req.EnableMemory != nil {
		cfg.EnableMemory = *req.EnableMemory
	}
	if len(req.AllowedTools) > 0 {
		cfg.Tools = append([]string(nil), req.AllowedTools...)
	}
	return mode, cfg, req.Template, nil
}

// parseDefinition splits the "mode" key out of an inline definition and
// validates the rest as a mode config.
func parseDefinition(def map[string]interface{}) (workflow.Mode, workflow.Config, error) {
	modeTag, _ := def["mode"].(string)
	mode, ok := workflow.ParseMode(modeTag)
	if !ok && modeTag != "" {
		return "", workflow.Config{}, fault.New(fault.Configuration,
			"unknown workflow mode %q", modeTag)
	}

	raw := make(map[string]interface{}, len(def))
	for k, v := range def {
		if k == "mode" {
			continue
		}
		raw[k] = v
	}
	cfg, err := workflow.ParseConfig(mode, raw)
	if err != nil {
		return "", workflow.Config{}, err
	}
	return mode, cfg, nil
}

// dynamicMode derives the mode from the request flags, defaulting
// retrieval to the conversation preference.
func (o *Orchestrator) dynamicMode(req ChatRequest, conv *types.Conversation) workflow.Mode {
	if req.Mode != "" {
		mode, ok := workflow.ParseMode(req.Mode)
		if !ok {
			o.logger.Warn("unknown workflow mode requested, using plain",
				zap.String("mode", req.Mode))
		}
		return mode
	}

	retrievalOn := conv.RetrievalEnabled
	if req.EnableRetrieval != nil {
		retrievalOn = *req.EnableRetrieval
	}
	toolsOn := req.EnableTools != nil && *req.EnableTools

	switch {
	case retrievalOn && toolsOn:
		return workflow.ModeFull
	case retrievalOn:
		return workflow.ModeRAG
	case toolsOn:
		return workflow.ModeTools
	default:
		return workflow.ModePlain
	}
}

// resolveWorkflow checks the cache, building (at most once per key, via
// singleflight) on a miss.
func (o *Orchestrator) resolveWorkflow(ctx context.Context, req ChatRequest, conv *types.Conversation, profile *types.AgentProfile, provider llm.Provider, providerName, model string, mode workflow.Mode, cfg workflow.Config, tplName string) (*workflow.Workflow, error) {
	cacheProvider := providerName + "/" + model
	if tplName != "" {
		cacheProvider += "/" + tplName
	}
	key := workflow.KeyFor(cacheProvider, mode, cfg)
	if wf, ok := o.cache.Get(key); ok {
		return wf, nil
	}

	v, err, _ := o.builds.Do(key, func() (interface{}, error) {
		if wf, ok := o.cache.Get(key); ok {
			return wf, nil
		}

		builder := &workflow.Builder{
			Provider:  llm.NewInstrumented(provider, o.tracer),
			Security:  o.security,
			Logger:    o.logger,
			Options:   o.generateOptions(req, conv, profile),
			Tools:     o.resolveTools(req, conv, profile),
			Retriever: o.retriever,
		}

		var (
			wf  *workflow.Workflow
			err error
		)
		if tplName != "" {
			if o.templates == nil {
				return nil, fault.New(fault.Configuration, "no template registry configured")
			}
			wf, err = o.templates.CreateFromTemplate(ctx, tplName, builder, cfg)
		} else {
			wf, err = builder.Build(mode, cfg)
		}
		if err != nil {
			return nil, err
		}
		o.cache.Put(key, wf)
		return wf, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*workflow.Workflow), nil
}

func (o *Orchestrator) generateOptions(req ChatRequest, conv *types.Conversation, profile *types.AgentProfile) llm.GenerateOptions {
	opts := llm.GenerateOptions{}
	switch {
	case req.Temperature != nil:
		opts.Temperature = *req.Temperature
	case conv.Temperature != 0:
		opts.Temperature = conv.Temperature
	case profile != nil:
		opts.Temperature = profile.Temperature
	}
	switch {
	case req.MaxTokens > 0:
		opts.MaxTokens = req.MaxTokens
	case conv.MaxTokens > 0:
		opts.MaxTokens = conv.MaxTokens
	case profile != nil:
		opts.MaxTokens = profile.MaxTokens
	}
	if profile != nil {
		opts.TopP = profile.TopP
		opts.PresencePenalty = profile.PresencePenalty
		opts.FrequencyPenalty = profile.FrequencyPenalty
	}
	return opts
}

// resolveTools narrows the registry's tools by the request allowlist, the
// profile allowlist, and the user's security grants, in that order.
func (o *Orchestrator) resolveTools(req ChatRequest, conv *types.Conversation, profile *types.AgentProfile) []tool.Tool {
	if o.tools == nil {
		return nil
	}
	tools := o.tools.List()

	allow := func(names []string) {
		if len(names) == 0 {
			return
		}
		set := make(map[string]bool, len(names))
		for _, n := range names {
			set[n] = true
		}
		kept := tools[:0]
		for _, t := range tools {
			if set[t.Name()] {
				kept = append(kept, t)
			}
		}
		tools = kept
	}
	allow(req.AllowedTools)
	if profile != nil {
		allow(profile.AllowedTools)
	}

	if o.security != nil {
		tools = o.security.FilterTools(conv.UserID, tools)
	}
	return tools
}

// runWithRetry retries the run on Transient failures with capped
// exponential backoff.
func (o *Orchestrator) runWithRetry(ctx context.Context, p *plan) (workflow.Context, error) {
	backoff := retryInitialBackoff
	var (
		final workflow.Context
		err   error
	)
	for attempt := 1; attempt <= retryAttempts; attempt++ {
		final, err = o.executor.Run(ctx, p.wf, p.initial, p.conv.ID)
		if err == nil || fault.KindOf(err) != fault.Transient {
			return final, err
		}
		if attempt == retryAttempts {
			break
		}
		o.logger.Warn("transient run failure, retrying",
			zap.String("conversation_id", p.conv.ID),
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		select {
		case <-ctx.Done():
			return final, fault.Wrap(fault.Cancelled, ctx.Err(), "run cancelled during retry backoff")
		default:
		}
		o.sleepFn(backoff)
		backoff = time.Duration(float64(backoff) * retryMultiplier)
		if backoff > retryMaxBackoff {
			backoff = retryMaxBackoff
		}
	}
	return final, err
}

func (o *Orchestrator) persistAssistant(ctx context.Context, p *plan, final workflow.Context) (*types.Message, error) {
	last := final.LastMessage()
	if last == nil || last.Role != types.RoleAssistant {
		return nil, fault.New(fault.Internal, "run produced no assistant message")
	}
	return o.persistAssistantContent(ctx, p, final, last.Content)
}

func (o *Orchestrator) persistAssistantContent(ctx context.Context, p *plan, final workflow.Context, content string) (*types.Message, error) {
	usage := runUsage(final)
	msg := &types.Message{
		ConversationID:   p.conv.ID,
		Role:             types.RoleAssistant,
		Content:          content,
		Provider:         p.providerName,
		Model:            p.model,
		PromptTokens:     usage.PromptTokens,
		CompletionTokens: usage.CompletionTokens,
		Cost:             usage.Cost,
		ResponseTimeMs:   time.Since(p.started).Milliseconds(),
	}
	if last := final.LastMessage(); last != nil && last.Role == types.RoleAssistant {
		msg.ToolCalls = last.ToolCalls
	}
	return o.store.AddMessage(ctx, msg)
}

// finishRun closes out metrics and profile counters for a completed (or
// failed) run.
func (o *Orchestrator) finishRun(p *plan, final workflow.Context, runErr error) {
	usage := runUsage(final)
	elapsed := time.Since(p.started)

	if o.collector != nil && p.runID != "" {
		delta := observability.Delta{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			Cost:             usage.Cost,
			ToolCalls:        final.ToolCallCount,
			RetrievalDocs:    len(final.RetrievalContext),
		}
		if runErr != nil {
			delta.Error = runErr.Error()
		}
		o.collector.Update(p.runID, delta)
		o.collector.Finish(p.runID, nil)
	}

	if p.profile != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := o.store.RecordInteraction(ctx, p.profile.ID, p.conv.ID,
			runErr == nil, usage, elapsed); err != nil {
			o.logger.Warn("recording profile interaction failed",
				zap.String("profile_id", p.profile.ID),
				zap.Error(err))
		}
	}
}

// runUsage extracts the accumulated usage the model node recorded.
func runUsage(c workflow.Context) types.Usage {
	if u, ok := c.Metadata["usage"].(types.Usage); ok {
		return u
	}
	return types.Usage{}
}

func ensureMeta(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return make(map[string]interface{})
	}
	return m
}
