// Package healthcheck schedules periodic check_segments runs against a
// fixed set of jobs (a job being a file's segment ids plus the provider
// index to probe) and reports each run's Result to a Sink.
package healthcheck

import (
	"context"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/javi11/usenetstream/internal/health"
)

// Job names one file to probe periodically.
type Job struct {
	Key         string // opaque identifier, e.g. the Provider Stat Record's job_key
	SegmentIDs  []string
	ProviderIdx int
}

// Sink receives the outcome of each scheduled probe.
type Sink interface {
	ReportHealth(job Job, result health.Result, err error)
}

// Scheduler runs health.CheckSegments against a set of Jobs on a cron
// schedule, using robfig/cron/v3 the way a long-running daemon would
// drive any periodic maintenance task.
type Scheduler struct {
	cron *cron.Cron
	pool health.ConnPool
	cfg  health.Config
	sink Sink
	log  *slog.Logger

	mu   sync.Mutex
	jobs []Job
}

// NewScheduler builds a Scheduler. The cron schedule is given later to
// Start (standard 5-field cron syntax, e.g. "0 */6 * * *" for every six
// hours).
func NewScheduler(pool health.ConnPool, cfg health.Config, sink Sink, log *slog.Logger) *Scheduler {
	return &Scheduler{
		cron: cron.New(),
		pool: pool,
		cfg:  cfg,
		sink: sink,
		log:  log,
	}
}

// SetJobs replaces the set of files probed on each tick.
func (s *Scheduler) SetJobs(jobs []Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs = jobs
}

// Start schedules a check_segments sweep over every registered Job at
// spec (standard cron syntax) and begins running it in the background.
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, s.runSweep)
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

// Stop cancels the schedule and waits for any in-flight sweep to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *Scheduler) runSweep() {
	s.mu.Lock()
	jobs := append([]Job(nil), s.jobs...)
	s.mu.Unlock()

	for _, job := range jobs {
		result, err := health.CheckSegments(context.Background(), s.pool, job.ProviderIdx, job.SegmentIDs, s.cfg, s.log)
		if err != nil {
			s.log.Warn("healthcheck: sweep failed", "job", job.Key, "error", err)
		}
		s.sink.ReportHealth(job, result, err)
	}
}
