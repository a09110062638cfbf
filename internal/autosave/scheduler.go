// ABOUTME: Periodically flushes dirty cache state rows to the persistent store
// ABOUTME: Runs on a cron schedule off the dispatch path and once more at shutdown

package autosave

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/2389/whitelist-bot/internal/cachestate"
	"github.com/2389/whitelist-bot/internal/metrics"
	"github.com/2389/whitelist-bot/internal/store"
)

// Result summarizes one flush.
type Result struct {
	Written int
	Failed  int
}

// Scheduler writes the tracker's dirty entries to the store on a fixed period.
type Scheduler struct {
	tracker  *cachestate.Tracker
	store    store.CacheStore
	interval time.Duration
	logger   *slog.Logger

	cron    *cron.Cron
	flushMu sync.Mutex // one flush at a time, ticks and Stop included
}

// New creates a Scheduler. It does nothing until Start is called.
func New(tracker *cachestate.Tracker, s store.CacheStore, interval time.Duration, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		tracker:  tracker,
		store:    s,
		interval: interval,
		logger:   logger,
		cron: cron.New(
			cron.WithLogger(cronLogger{logger}),
			cron.WithChain(cron.Recover(cronLogger{logger})),
		),
	}
}

// Start schedules the periodic flush on the cron's own goroutine.
func (s *Scheduler) Start() {
	s.cron.Schedule(cron.Every(s.interval), cron.FuncJob(func() {
		s.Flush(context.Background())
	}))
	s.cron.Start()
	s.logger.Info("autosave scheduled", "interval", s.interval)
}

// finalFlushTimeout bounds the last flush independently of the caller's
// shutdown deadline, which a slow tick may already have used up.
const finalFlushTimeout = 5 * time.Second

// Stop halts the schedule, waits for a running tick, and performs one final
// synchronous flush. Call it before closing the store.
func (s *Scheduler) Stop(ctx context.Context) Result {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.logger.Warn("autosave tick still running at shutdown")
	}

	flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), finalFlushTimeout)
	defer cancel()
	res := s.Flush(flushCtx)
	s.logger.Info("autosave final flush", "written", res.Written, "failed", res.Failed)
	return res
}

// Flush writes every dirty entry. Each row is independent: a failure is
// logged and the entry stays dirty for the next attempt, but the remaining
// rows are still written. A row whose guild is no longer registered is
// dropped from the tracker instead.
func (s *Scheduler) Flush(ctx context.Context) Result {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	var res Result
	for _, state := range s.tracker.Dirty() {
		err := s.store.SaveCacheState(ctx, state)
		if errors.Is(err, store.ErrNotFound) {
			s.tracker.Forget(state.GuildID)
			s.logger.Debug("dropping cache state for removed guild", "guild", state.GuildID)
			continue
		}
		if err != nil {
			res.Failed++
			s.logger.Warn("saving cache state", "guild", state.GuildID, "error", err)
			continue
		}
		s.tracker.MarkClean(state.GuildID, state.LastRefresh)
		res.Written++
	}

	metrics.AutosaveRowsTotal.WithLabelValues("written").Add(float64(res.Written))
	metrics.AutosaveRowsTotal.WithLabelValues("failed").Add(float64(res.Failed))
	if res.Written > 0 || res.Failed > 0 {
		s.logger.Debug("autosave flush complete", "written", res.Written, "failed", res.Failed)
	}
	return res
}

// cronLogger adapts slog to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
