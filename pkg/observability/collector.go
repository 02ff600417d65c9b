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
package observability

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultHistoryCapacity bounds the finished-run history.
const DefaultHistoryCapacity = 10000

// RunMetrics is the lifecycle record of one workflow run. It is mutable
// between StartWorkflow and Finish; the value appended to history is an
// immutable snapshot.
type RunMetrics struct {
	RunID          string
	WorkflowType   string
	UserID         string
	ConversationID string
	Provider       string
	Model          string
	Config         map[string]interface{}

	StartedAt  time.Time
	FinishedAt time.Time
	Duration   time.Duration

	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
	Cost             float64
	ToolCalls        int
	MemoryMB         float64
	RetrievalDocs    int

	Success      bool
	Errors       []string
	Satisfaction *float64
}

// Delta accumulates usage into an active run.
type Delta struct {
	PromptTokens     int
	CompletionTokens int
	Cost             float64
	ToolCalls        int
	MemoryMB         float64
	RetrievalDocs    int
	Error            string
}

// StatsFilter narrows Stats and Anomalies to a workflow type, a user, or a
// trailing window in hours. Zero values mean "no restriction".
type StatsFilter struct {
	WorkflowType string
	UserID       string
	Hours        int
}

// Stats aggregates finished runs.
type Stats struct {
	TotalRuns   int
	Succeeded   int
	Failed      int
	SuccessRate float64

	MeanDuration time.Duration
	MinDuration  time.Duration
	MaxDuration  time.Duration

	TotalTokens    int
	TotalCost      float64
	TotalToolCalls int

	ByType     map[string]int
	ByProvider map[string]int
}

// Collector tracks workflow run lifecycles and keeps a bounded history of
// finished runs. Active runs live in a map guarded by the mutex; history is
// FIFO-bounded at capacity.
type Collector struct {
	mu       sync.Mutex
	active   map[string]*RunMetrics
	history  []*RunMetrics
	capacity int
	logger   *zap.Logger
	prom     *PromMetrics
	nowFn    func() time.Time
}

// CollectorConfig configures a Collector. Zero values get defaults.
type CollectorConfig struct {
	HistoryCapacity int
	Logger          *zap.Logger

	// Prom, when set, mirrors run outcomes into Prometheus metrics.
	Prom *PromMetrics
}

// NewCollector creates a metrics collector.
func NewCollector(cfg CollectorConfig) *Collector {
	if cfg.HistoryCapacity <= 0 {
		cfg.HistoryCapacity = DefaultHistoryCapacity
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Collector{
		active:   make(map[string]*RunMetrics),
		capacity: cfg.HistoryCapacity,
		logger:   cfg.Logger,
		prom:     cfg.Prom,
		nowFn:    time.Now,
	}
}

// StartWorkflow registers a new active run and returns its run id.
func (c *Collector) StartWorkflow(workflowType, userID, conversationID, provider, model string, config map[string]interface{}) string {
	runID := fmt.Sprintf("run-%s", uuid.New().String()[:8])

	c.mu.Lock()
	defer c.mu.Unlock()

	c.active[runID] = &RunMetrics{
		RunID:          runID,
		WorkflowType:   workflowType,
		UserID:         userID,
		ConversationID: conversationID,
		Provider:       provider,
		Model:          model,
		Config:         config,
		StartedAt:      c.nowFn(),
	}
	if c.prom != nil {
		c.prom.ActiveRuns.Inc()
	}
	return runID
}

// Update accumulates a delta into an active run. Unknown run ids are
// ignored with a warning; Finish may already have snapshotted the run.
func (c *Collector) Update(runID string, d Delta) {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.active[runID]
	if !ok {
		c.logger.Warn("metrics update for unknown run", zap.String("run_id", runID))
		return
	}
	run.PromptTokens += d.PromptTokens
	run.CompletionTokens += d.CompletionTokens
	run.TotalTokens += d.PromptTokens + d.CompletionTokens
	run.Cost += d.Cost
	run.ToolCalls += d.ToolCalls
	run.RetrievalDocs += d.RetrievalDocs
	if d.MemoryMB > run.MemoryMB {
		run.MemoryMB = d.MemoryMB
	}
	if d.Error != "" {
		run.Errors = append(run.Errors, d.Error)
	}
}

// Finish closes an active run, snapshots it into history, and returns the
// snapshot. A run with recorded errors finishes with Success=false.
// Finishing an unknown run id returns nil.
func (c *Collector) Finish(runID string, satisfaction *float64) *RunMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	run, ok := c.active[runID]
	if !ok {
		c.logger.Warn("finish for unknown run", zap.String("run_id", runID))
		return nil
	}
	delete(c.active, runID)

	run.FinishedAt = c.nowFn()
	run.Duration = run.FinishedAt.Sub(run.StartedAt)
	run.Success = len(run.Errors) == 0
	run.Satisfaction = satisfaction

	snapshot := *run
	if snapshot.Satisfaction != nil {
		v := *satisfaction
		snapshot.Satisfaction = &v
	}

	c.history = append(c.history, &snapshot)
	if len(c.history) > c.capacity {
		c.history = c.history[len(c.history)-c.capacity:]
	}

	if c.prom != nil {
		c.prom.ActiveRuns.Dec()
		c.prom.ObserveRun(&snapshot)
	}
	return &snapshot
}

// ActiveRuns returns the number of runs started but not finished.
func (c *Collector) ActiveRuns() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// filtered returns history entries matching the filter, newest last.
// Caller must hold c.mu.
func (c *Collector) filtered(f StatsFilter) []*RunMetrics {
	var cutoff time.Time
	if f.Hours > 0 {
		cutoff = c.nowFn().Add(-time.Duration(f.Hours) * time.Hour)
	}
	out := make([]*RunMetrics, 0, len(c.history))
	for _, run := range c.history {
		if f.WorkflowType != "" && run.WorkflowType != f.WorkflowType {
			continue
		}
		if f.UserID != "" && run.UserID != f.UserID {
			continue
		}
		if !cutoff.IsZero() && run.FinishedAt.Before(cutoff) {
			continue
		}
		out = append(out, run)
	}
	return out
}

// Stats aggregates the finished runs matching the filter.
func (c *Collector) Stats(f StatsFilter) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	runs := c.filtered(f)
	stats := Stats{
		ByType:     make(map[string]int),
		ByProvider: make(map[string]int),
	}
	if len(runs) == 0 {
		return stats
	}

	var totalDur time.Duration
	stats.MinDuration = runs[0].Duration
	for _, run := range runs {
		stats.TotalRuns++
		if run.Success {
			stats.Succeeded++
		} else {
			stats.Failed++
		}
		totalDur += run.Duration
		if run.Duration < stats.MinDuration {
			stats.MinDuration = run.Duration
		}
		if run.Duration > stats.MaxDuration {
			stats.MaxDuration = run.Duration
		}
		stats.TotalTokens += run.TotalTokens
		stats.TotalCost += run.Cost
		stats.TotalToolCalls += run.ToolCalls
		stats.ByType[run.WorkflowType]++
		if run.Provider != "" {
			stats.ByProvider[run.Provider]++
		}
	}
	stats.SuccessRate = float64(stats.Succeeded) / float64(stats.TotalRuns)
	stats.MeanDuration = totalDur / time.Duration(stats.TotalRuns)
	return stats
}

// RecentErrors returns the newest error-bearing runs, most recent first,
// up to limit.
func (c *Collector) RecentErrors(limit int) []*RunMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	if limit <= 0 {
		limit = 10
	}
	out := make([]*RunMetrics, 0, limit)
	for i := len(c.history) - 1; i >= 0 && len(out) < limit; i-- {
		if len(c.history[i].Errors) > 0 {
			out = append(out, c.history[i])
		}
	}
	return out
}

// Anomalies flags runs whose duration exceeds k times the mean of all runs
// matching the filter. k defaults to 3 when non-positive. Results are
// sorted by duration descending.
func (c *Collector) Anomalies(f StatsFilter, k float64) []*RunMetrics {
	if k <= 0 {
		k = 3
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	runs := c.filtered(f)
	if len(runs) == 0 {
		return nil
	}
	var total time.Duration
	for _, run := range runs {
		total += run.Duration
	}
	mean := total / time.Duration(len(runs))
	threshold := time.Duration(float64(mean) * k)

	var out []*RunMetrics
	for _, run := range runs {
		if run.Duration > threshold {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Duration > out[j].Duration })
	return out
}
