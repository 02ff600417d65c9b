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

// Package maintenance runs the background housekeeping sweeps: archiving
// idle conversations, purging aged audit and interaction records, and
// expiring stale tool permissions.
package maintenance

import (
	"context"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/teradata-labs/warp/pkg/fault"
	"github.com/teradata-labs/warp/pkg/security"
	"github.com/teradata-labs/warp/pkg/storage"
)

// Sweep defaults; all overridable through Config.
const (
	DefaultSchedule       = "17 3 * * *" // daily, off the hour
	DefaultIdleAfter      = 30 * 24 * time.Hour
	DefaultAuditRetention = 90 * 24 * time.Hour
	DefaultSweepTimeout   = 5 * time.Minute
)

// Config configures the maintenance runner. Store is required.
type Config struct {
	Store    *storage.Store
	Security *security.Manager
	Logger   *zap.Logger

	// Schedule is a standard 5-field cron expression.
	Schedule string

	// IdleAfter is how long an active conversation may sit untouched
	// before the sweep archives it.
	IdleAfter time.Duration

	// AuditRetention bounds how long persisted audit entries and agent
	// interaction records are kept.
	AuditRetention time.Duration

	// SweepTimeout bounds one full sweep.
	SweepTimeout time.Duration
}

// Runner owns the cron engine driving the sweeps.
type Runner struct {
	store    *storage.Store
	security *security.Manager
	logger   *zap.Logger

	schedule       string
	idleAfter      time.Duration
	auditRetention time.Duration
	sweepTimeout   time.Duration

	cronEngine *cron.Cron

	mu       sync.Mutex
	lastRun  time.Time
	lastErrs []error
}

// New creates a maintenance runner.
func New(cfg Config) (*Runner, error) {
	if cfg.Store == nil {
		return nil, fault.New(fault.Configuration, "maintenance requires a store")
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.IdleAfter <= 0 {
		cfg.IdleAfter = DefaultIdleAfter
	}
	if cfg.AuditRetention <= 0 {
		cfg.AuditRetention = DefaultAuditRetention
	}
	if cfg.SweepTimeout <= 0 {
		cfg.SweepTimeout = DefaultSweepTimeout
	}

	return &Runner{
		store:          cfg.Store,
		security:       cfg.Security,
		logger:         cfg.Logger,
		schedule:       cfg.Schedule,
		idleAfter:      cfg.IdleAfter,
		auditRetention: cfg.AuditRetention,
		sweepTimeout:   cfg.SweepTimeout,
		cronEngine:     cron.New(),
	}, nil
}

// Start registers the sweep with the cron engine and begins scheduling.
func (r *Runner) Start() error {
	_, err := r.cronEngine.AddFunc(r.schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), r.sweepTimeout)
		defer cancel()
		r.Sweep(ctx)
	})
	if err != nil {
		return fault.Wrap(fault.Configuration, err, "invalid maintenance schedule %q", r.schedule)
	}
	r.cronEngine.Start()
	r.logger.Info("maintenance scheduled", zap.String("schedule", r.schedule))
	return nil
}

// Stop halts scheduling and waits for a running sweep to finish.
func (r *Runner) Stop() {
	stopCtx := r.cronEngine.Stop()
	<-stopCtx.Done()
}

// SweepReport summarises one sweep.
type SweepReport struct {
	ArchivedConversations int64
	PurgedAuditEntries    int64
	PurgedInteractions    int64
	ExpiredPermissions    int
	Errors                []error
}

// Sweep runs every housekeeping task once. Tasks are independent; one
// failing does not stop the others.
func (r *Runner) Sweep(ctx context.Context) SweepReport {
	var report SweepReport

	archived, err := r.store.ArchiveIdleConversations(ctx, r.idleAfter)
	if err != nil {
		report.Errors = append(report.Errors, err)
		r.logger.Warn("archiving idle conversations failed", zap.Error(err))
	}
	report.ArchivedConversations = archived

	cutoff := time.Now().Add(-r.auditRetention)
	purged, err := r.store.PurgeAuditBefore(ctx, cutoff)
	if err != nil {
		report.Errors = append(report.Errors, err)
		r.logger.Warn("purging audit entries failed", zap.Error(err))
	}
	report.PurgedAuditEntries = purged

	interactions, err := r.store.PurgeInteractionsBefore(ctx, cutoff)
	if err != nil {
		report.Errors = append(report.Errors, err)
		r.logger.Warn("purging interactions failed", zap.Error(err))
	}
	report.PurgedInteractions = interactions

	if r.security != nil {
		report.ExpiredPermissions = r.security.PruneExpiredPermissions()
	}

	r.mu.Lock()
	r.lastRun = time.Now()
	r.lastErrs = report.Errors
	r.mu.Unlock()

	r.logger.Info("maintenance sweep complete",
		zap.Int64("archived_conversations", report.ArchivedConversations),
		zap.Int64("purged_audit_entries", report.PurgedAuditEntries),
		zap.Int64("purged_interactions", report.PurgedInteractions),
		zap.Int("expired_permissions", report.ExpiredPermissions),
		zap.Int("errors", len(report.Errors)))
	return report
}

// LastRun reports when the most recent sweep finished and whether it saw
// errors.
func (r *Runner) LastRun() (time.Time, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.lastRun, r.lastErrs
}
