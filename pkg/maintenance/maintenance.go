// Package maintenance runs cron-scheduled housekeeping jobs: purging
// expired pairing requests and optional rate-limit resets.
package maintenance

import (
	"context"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/bridgeclaw/pkg/logger"
)

// Job is one scheduled task. An empty Expr disables the job.
type Job struct {
	Name string
	Expr string
	Run  func()
}

type Scheduler struct {
	jobs     []Job
	gron     *gronx.Gronx
	interval time.Duration
}

func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{
		jobs:     jobs,
		gron:     gronx.New(),
		interval: time.Minute,
	}
}

// Run ticks once per interval and fires every job whose expression is due
// at that instant. Returns when ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.tick(now)
		}
	}
}

func (s *Scheduler) tick(now time.Time) {
	for _, job := range s.jobs {
		if job.Expr == "" {
			continue
		}
		due, err := s.gron.IsDue(job.Expr, now)
		if err != nil {
			logger.WarnCF("maintenance", "bad cron expression", map[string]any{
				"job": job.Name, "expr": job.Expr, "error": err.Error(),
			})
			continue
		}
		if due {
			logger.DebugCF("maintenance", "running job", map[string]any{"job": job.Name})
			job.Run()
		}
	}
}
