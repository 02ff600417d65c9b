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
package workflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/observability"
)

// DefaultQueueSize bounds the streaming event channel. A full channel
// exerts backpressure on the producer; tokens are never dropped.
const DefaultQueueSize = 64

// ExecutorConfig configures an Executor.
type ExecutorConfig struct {
	// QueueSize is the streaming event channel capacity (default 64).
	QueueSize int

	// Timeout bounds each run; zero means the caller's ctx rules alone.
	Timeout time.Duration

	Tracer observability.Tracer
	Prom   *observability.PromMetrics
	Logger *zap.Logger
}

// Executor runs compiled workflows. Runs for the same thread (conversation)
// are serialised by a keyed mutex; distinct threads run concurrently.
type Executor struct {
	queueSize int
	timeout   time.Duration
	tracer    observability.Tracer
	prom      *observability.PromMetrics
	logger    *zap.Logger

	mu      sync.Mutex
	threads map[string]*sync.Mutex
}

// NewExecutor creates an executor, applying defaults to zero config.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = DefaultQueueSize
	}
	if cfg.Tracer == nil {
		cfg.Tracer = observability.NewNoOpTracer()
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Executor{
		queueSize: cfg.QueueSize,
		timeout:   cfg.Timeout,
		tracer:    cfg.Tracer,
		prom:      cfg.Prom,
		logger:    cfg.Logger,
		threads:   make(map[string]*sync.Mutex),
	}
}

// threadLock returns the mutex serialising runs for threadID.
func (e *Executor) threadLock(threadID string) *sync.Mutex {
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.threads[threadID]
	if !ok {
		lock = &sync.Mutex{}
		e.threads[threadID] = lock
	}
	return lock
}

// Run executes wf synchronously. Nodes run in order, each observing its
// predecessor's output; a node error attaches to ErrorState and the
// partial context is returned alongside the error.
func (e *Executor) Run(ctx context.Context, wf *Workflow, initial Context, threadID string) (Context, error) {
	lock := e.threadLock(threadID)
	lock.Lock()
	defer lock.Unlock()

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	correlationID := fmt.Sprintf("run-%s", uuid.New().String()[:8])
	ctx, span := e.tracer.StartSpan(ctx, "workflow.run",
		observability.WithAttribute("workflow.mode", string(wf.Mode)),
		observability.WithAttribute("workflow.provider", wf.Provider),
		observability.WithAttribute("correlation_id", correlationID))
	defer e.tracer.EndSpan(span)

	ec := &ExecContext{
		Provider:   wf.provider,
		Security:   wf.security,
		Logger:     e.logger,
		WorkflowID: wf.ID,
		Mode:       wf.Mode,
	}

	start := time.Now()
	wc, err := e.runNodes(ctx, wf, ec, initial, nil, correlationID)
	e.observeRun(wf, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		wc.ErrorState = err.Error()
		return wc, err
	}
	return wc, nil
}

// StreamResult carries the final context of a streaming run once the
// event channel has closed.
type StreamResult struct {
	Context Context
	Err     error
}

// Stream executes wf with a single producer goroutine pushing events into
// a bounded channel. Ordering per node X: node_start(X) < token(X)* <
// node_complete(X); exactly one usage event follows the terminal node on
// success; failures emit error then end. The channel closes after end.
//
// Cancellation is checked between nodes and after every token: the run
// stops with error("cancelled") then end. A non-nil result channel
// receives the final context exactly once.
func (e *Executor) Stream(ctx context.Context, wf *Workflow, initial Context, threadID string, result chan<- StreamResult) (<-chan Event, error) {
	if wf == nil {
		return nil, fault.New(fault.Validation, "nil workflow")
	}
	events := make(chan Event, e.queueSize)

	go func() {
		defer close(events)

		lock := e.threadLock(threadID)
		lock.Lock()
		defer lock.Unlock()

		runCtx := ctx
		if e.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(ctx, e.timeout)
			defer cancel()
		}

		correlationID := fmt.Sprintf("run-%s", uuid.New().String()[:8])
		emit := func(ev Event) bool {
			ev.CorrelationID = correlationID
			ev.Timestamp = time.Now()
			select {
			case events <- ev:
				return true
			default:
			}
			select {
			case events <- ev:
				return true
			case <-ctx.Done():
				// The run is cancelled but the consumer may still be
				// draining; give terminal events a bounded grace so
				// error/end reach an attached reader.
				select {
				case events <- ev:
					return true
				case <-time.After(100 * time.Millisecond):
					return false
				}
			}
		}

		emit(Event{Type: EventStart, Metadata: map[string]interface{}{
			"mode":     string(wf.Mode),
			"provider": wf.Provider,
		}})

		ec := &ExecContext{
			Provider:   wf.provider,
			Security:   wf.security,
			Logger:     e.logger,
			WorkflowID: wf.ID,
			Mode:       wf.Mode,
		}
		currentNode := ""
		ec.EmitToken = func(token string) bool {
			if runCtx.Err() != nil {
				return false
			}
			return emit(Event{Type: EventToken, Node: currentNode, Content: token})
		}

		start := time.Now()
		wc, err := e.runNodes(runCtx, wf, ec, initial, func(name string, done bool) bool {
			currentNode = name
			if done {
				return emit(Event{Type: EventNodeComplete, Node: name})
			}
			return emit(Event{Type: EventNodeStart, Node: name})
		}, correlationID)
		e.observeRun(wf, time.Since(start), err)

		if err == nil && runCtx.Err() != nil {
			err = fault.Wrap(fault.Cancelled, runCtx.Err(), "run cancelled")
		}
		if err != nil {
			reason := "error"
			switch {
			case fault.KindOf(err) == fault.Timeout || runCtx.Err() == context.DeadlineExceeded:
				reason = "timeout"
			case fault.KindOf(err) == fault.Cancelled:
				reason = "cancelled"
			}
			wc.ErrorState = err.Error()
			emit(Event{Type: EventError, Content: reason, Metadata: map[string]interface{}{
				"detail": err.Error(),
			}})
		} else {
			emit(Event{Type: EventUsage, Metadata: map[string]interface{}{
				"prompt_tokens":     ec.Usage.PromptTokens,
				"completion_tokens": ec.Usage.CompletionTokens,
				"total_tokens":      ec.Usage.TotalTokens,
				"cost":              ec.Usage.Cost,
			}})
		}
		emit(Event{Type: EventEnd})

		if result != nil {
			result <- StreamResult{Context: wc, Err: err}
		}
	}()

	return events, nil
}

// runNodes drives the node sequence. notify, when non-nil, observes node
// boundaries and reports whether the consumer is still there.
func (e *Executor) runNodes(ctx context.Context, wf *Workflow, ec *ExecContext, wc Context, notify func(name string, done bool) bool, correlationID string) (Context, error) {
	for _, node := range wf.nodes {
		if err := ctx.Err(); err != nil {
			return wc, wrapCtxErr(err)
		}
		if notify != nil && !notify(node.Name(), false) {
			return wc, fault.New(fault.Cancelled, "consumer gone before node %s", node.Name())
		}

		nodeCtx, nodeSpan := e.tracer.StartSpan(ctx, "workflow.node."+node.Name(),
			observability.WithAttribute("correlation_id", correlationID))
		next, err := node.Run(nodeCtx, ec, wc)
		if err != nil {
			nodeSpan.RecordError(err)
		}
		e.tracer.EndSpan(nodeSpan)
		if err != nil {
			e.logger.Warn("workflow node failed",
				zap.String("node", node.Name()),
				zap.String("correlation_id", correlationID),
				zap.Error(err))
			if ctxErr := ctx.Err(); ctxErr != nil {
				return wc, wrapCtxErr(ctxErr)
			}
			return wc, err
		}
		next.History = append(next.History, node.Name())
		wc = next

		if notify != nil && !notify(node.Name(), true) {
			return wc, fault.New(fault.Cancelled, "consumer gone after node %s", node.Name())
		}
	}
	return wc, nil
}

func (e *Executor) observeRun(wf *Workflow, elapsed time.Duration, err error) {
	if e.prom == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	e.prom.WorkflowRuns.WithLabelValues(string(wf.Mode), status).Inc()
	e.prom.WorkflowDuration.WithLabelValues(string(wf.Mode)).Observe(elapsed.Seconds())
}

func wrapCtxErr(err error) error {
	if err == context.DeadlineExceeded {
		return fault.Wrap(fault.Timeout, err, "run timed out")
	}
	return fault.Wrap(fault.Cancelled, err, "run cancelled")
}
