/* Copyright (c) 2025 Hamed Shams <https://hamedshams.com>
 * SPDX-License-Identifier: BSD-3-Clause */
package jobs

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/ankit10009/jira-cloud-api/internal/config"
	"github.com/ankit10009/jira-cloud-api/internal/domain"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

type service interface {
	SyncYesterday(ctx context.Context, issueType string) (domain.SaveResult, error)
	Cleanup(ctx context.Context, retentionDays int) (int64, error)
}

// Locker guards a job so only one replica runs it at a time.
type Locker interface {
	WithJobLock(ctx context.Context, name string, fn func(context.Context) error) (bool, error)
}

// Job is one scheduled entry.
type Job struct {
	Name string
	Spec string
	run  func(ctx context.Context) error
}

const (
	JobConfigured = "sync-configured"
	JobRetention  = "retention"
	JobHeartbeat  = "heartbeat"
)

// fixed per-type syncs, staggered after the configured-types run
var typeSchedule = []struct{ spec, issueType string }{
	{"0 30 1 * * ?", "Story"},
	{"0 45 1 * * ?", "Epic"},
	{"0 0 2 * * ?", "Bug"},
	{"0 15 2 * * ?", "Task"},
}

type Cron struct {
	cfg  config.Config
	log  zerolog.Logger
	svc  service
	lock Locker
	c    *cron.Cron
	jobs map[string]Job

	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	stopping bool
	wg       sync.WaitGroup
}

// cronLogger routes the scheduler's own logs to zerolog.
type cronLogger struct{ log zerolog.Logger }

func (l cronLogger) Info(msg string, kv ...interface{}) {
	l.log.Debug().Fields(kv).Msg("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, kv ...interface{}) {
	l.log.Error().Err(err).Fields(kv).Msg("cron: " + msg)
}

func NewCron(cfg config.Config, log zerolog.Logger, svc service, lock Locker) (*Cron, error) {
	adapter := cronLogger{log: log}
	c := cron.New(
		cron.WithLocation(cfg.Location()),
		cron.WithSeconds(),
		cron.WithLogger(adapter),
		cron.WithChain(cron.Recover(adapter), cron.SkipIfStillRunning(adapter)),
	)
	ctx, cancel := context.WithCancel(context.Background())
	cr := &Cron{cfg: cfg, log: log, svc: svc, lock: lock, c: c, jobs: map[string]Job{}, ctx: ctx, cancel: cancel}

	add := []Job{{Name: JobConfigured, Spec: "0 0 1 * * ?", run: cr.syncConfigured}}
	for _, ts := range typeSchedule {
		issueType := ts.issueType
		add = append(add, Job{Name: "sync-" + issueType, Spec: ts.spec, run: func(ctx context.Context) error {
			return cr.sync(ctx, issueType)
		}})
	}
	add = append(add,
		Job{Name: JobRetention, Spec: "0 0 3 * * ?", run: cr.retention},
		Job{Name: JobHeartbeat, Spec: "@every 300s", run: cr.heartbeat},
	)
	for _, j := range add {
		j := j
		if _, err := c.AddFunc(j.Spec, func() { cr.Run(j.Name) }); err != nil {
			cancel()
			return nil, fmt.Errorf("schedule %s (%s): %w", j.Name, j.Spec, err)
		}
		cr.jobs[j.Name] = j
	}
	return cr, nil
}

func (cr *Cron) Start() {
	cr.c.Start()
	cr.log.Info().Int("jobs", len(cr.jobs)).Str("tz", cr.cfg.Location().String()).Msg("scheduler started")
}

// Stop halts scheduling, cancels running jobs between pages and waits for
// them to finish, at most until ctx is done.
func (cr *Cron) Stop(ctx context.Context) error {
	cr.mu.Lock()
	cr.stopping = true
	cr.mu.Unlock()

	stopped := cr.c.Stop()
	cr.cancel()
	done := make(chan struct{})
	go func() {
		<-stopped.Done()
		cr.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		cr.log.Info().Msg("scheduler stopped")
		return nil
	case <-ctx.Done():
		cr.log.Warn().Err(ctx.Err()).Msg("scheduler stop timed out")
		return ctx.Err()
	}
}

// Jobs lists the registered jobs sorted by name.
func (cr *Cron) Jobs() []Job {
	out := make([]Job, 0, len(cr.jobs))
	for _, j := range cr.jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out
}

func (cr *Cron) Known(name string) bool {
	_, ok := cr.jobs[name]
	return ok
}

// Run executes the named job now, in the caller's goroutine. It reports false
// for an unknown name and once Stop has been called.
func (cr *Cron) Run(name string) bool {
	j, ok := cr.jobs[name]
	if !ok {
		return false
	}
	cr.mu.Lock()
	if cr.stopping {
		cr.mu.Unlock()
		cr.log.Warn().Str("job", name).Msg("scheduler stopping; job not started")
		return false
	}
	cr.wg.Add(1)
	cr.mu.Unlock()
	defer cr.wg.Done()

	log := cr.log.With().Str("job", j.Name).Str("run_id", uuid.NewString()).Logger()
	if j.Name == JobHeartbeat {
		_ = j.run(log.WithContext(cr.ctx))
		return true
	}

	ctx := cr.ctx
	if cr.cfg.JobTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cr.cfg.JobTimeout)
		defer cancel()
	}
	ctx = log.WithContext(ctx)

	start := time.Now()
	log.Info().Msg("job started")
	ran, err := cr.lock.WithJobLock(ctx, j.Name, j.run)
	switch {
	case !ran && err == nil:
		log.Info().Msg("job already running elsewhere; skipped")
	case err != nil:
		log.Error().Err(err).Dur("took", time.Since(start)).Msg("job failed")
	default:
		log.Info().Dur("took", time.Since(start)).Msg("job finished")
	}
	return true
}

func (cr *Cron) sync(ctx context.Context, issueType string) error {
	res, err := cr.svc.SyncYesterday(ctx, issueType)
	zerolog.Ctx(ctx).Info().Str("issue_type", issueType).
		Int("inserted", res.Inserted).Int("updated", res.Updated).Int("failed", res.Failed).
		Msg("sync done")
	return err
}

func (cr *Cron) syncConfigured(ctx context.Context) error {
	if len(cr.cfg.JiraIssueTypes) == 0 {
		zerolog.Ctx(ctx).Warn().Msg("no issue types configured")
		return nil
	}
	var failed []string
	for _, t := range cr.cfg.JiraIssueTypes {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := cr.sync(ctx, t); err != nil {
			zerolog.Ctx(ctx).Error().Err(err).Str("issue_type", t).Msg("sync failed")
			failed = append(failed, t)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("sync failed for %v", failed)
	}
	return nil
}

func (cr *Cron) retention(ctx context.Context) error {
	_, err := cr.svc.Cleanup(ctx, cr.cfg.RetentionDays)
	return err
}

func (cr *Cron) heartbeat(ctx context.Context) error {
	zerolog.Ctx(ctx).Debug().Int("entries", len(cr.c.Entries())).Msg("scheduler alive")
	return nil
}
