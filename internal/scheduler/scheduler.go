// Package scheduler runs the price update tick on a fixed cadence.
// Jobs are wrapped with skip-if-still-running semantics: if a tick
// outlasts its interval the next invocation is skipped, never run
// concurrently.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Runner schedules periodic jobs over a base context.
type Runner struct {
	cron    *cron.Cron
	baseCtx context.Context
}

// New creates a runner. Jobs receive baseCtx and should honor its
// cancellation.
func New(baseCtx context.Context) *Runner {
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	logger := cronLogger{}
	return &Runner{
		cron: cron.New(
			cron.WithChain(cron.SkipIfStillRunning(logger)),
		),
		baseCtx: baseCtx,
	}
}

// Every schedules job at a fixed interval.
func (r *Runner) Every(interval time.Duration, job func(context.Context)) {
	r.cron.Schedule(cron.Every(interval), cron.FuncJob(func() {
		job(r.baseCtx)
	}))
}

// Start begins dispatching jobs in the cron's own goroutine.
func (r *Runner) Start() {
	slog.Info("scheduler started")
	r.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (r *Runner) Stop() {
	ctx := r.cron.Stop()
	<-ctx.Done()
	slog.Info("scheduler stopped")
}

// cronLogger adapts slog to the cron logger interface.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...interface{}) {
	slog.Info("scheduler: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...interface{}) {
	slog.Error("scheduler: "+msg, append([]interface{}{"err", fmt.Sprint(err)}, kv...)...)
}
