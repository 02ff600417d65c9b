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
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// PromMetrics mirrors engine activity into Prometheus collectors. The
// /metrics endpoint of the transport adapter exposes them.
type PromMetrics struct {
	WorkflowRuns     *prometheus.CounterVec
	WorkflowDuration *prometheus.HistogramVec
	TokensUsed       *prometheus.CounterVec
	ToolExecutions   *prometheus.CounterVec
	CacheEvents      *prometheus.CounterVec
	ActiveRuns       prometheus.Gauge
}

// NewPromMetrics registers warp collectors on the given registerer.
// Pass prometheus.DefaultRegisterer for the default registry.
func NewPromMetrics(reg prometheus.Registerer) *PromMetrics {
	factory := promauto.With(reg)
	return &PromMetrics{
		WorkflowRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warp",
			Name:      "workflow_runs_total",
			Help:      "Workflow runs by type and final status.",
		}, []string{"type", "status"}),
		WorkflowDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "warp",
			Name:      "workflow_duration_seconds",
			Help:      "Workflow run duration by type.",
			Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
		}, []string{"type"}),
		TokensUsed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warp",
			Name:      "tokens_total",
			Help:      "Tokens consumed by provider, model, and kind.",
		}, []string{"provider", "model", "kind"}),
		ToolExecutions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warp",
			Name:      "tool_executions_total",
			Help:      "Tool executions by tool and outcome.",
		}, []string{"tool", "status"}),
		CacheEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warp",
			Name:      "workflow_cache_events_total",
			Help:      "Workflow cache lookups by result.",
		}, []string{"result"}),
		ActiveRuns: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "warp",
			Name:      "active_runs",
			Help:      "Workflow runs currently executing.",
		}),
	}
}

// ObserveRun records token consumption for a finished run. Run counts and
// durations come from the executor, which sees every attempt; recording
// them here too would double-count when both share one PromMetrics.
func (m *PromMetrics) ObserveRun(run *RunMetrics) {
	if run.Provider != "" {
		m.TokensUsed.WithLabelValues(run.Provider, run.Model, "prompt").Add(float64(run.PromptTokens))
		m.TokensUsed.WithLabelValues(run.Provider, run.Model, "completion").Add(float64(run.CompletionTokens))
	}
}

// ObserveCache records a cache lookup result ("hit" or "miss").
func (m *PromMetrics) ObserveCache(hit bool) {
	if hit {
		m.CacheEvents.WithLabelValues("hit").Inc()
		return
	}
	m.CacheEvents.WithLabelValues("miss").Inc()
}

// ObserveTool records one tool execution outcome.
func (m *PromMetrics) ObserveTool(tool string, success bool) {
	status := "success"
	if !success {
		status = "failure"
	}
	m.ToolExecutions.WithLabelValues(tool, status).Inc()
}
