package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/gookit/slog"
	"github.com/robfig/cron/v3"
)

// DefaultJobTimeout bounds a single run of a job.
const DefaultJobTimeout = 10 * time.Minute

// Job is a periodic task. An empty Spec disables it.
type Job struct {
	Name    string
	Spec    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

// Scheduler runs jobs on cron specs. A job never overlaps with its own previous run.
type Scheduler struct {
	cron   *cron.Cron
	ctx    context.Context
	cancel context.CancelFunc
	names  []string
}

type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	slog.WithFields(fields(keysAndValues)).Debug("scheduler: " + msg)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	f := fields(keysAndValues)
	f["error"] = err
	slog.WithFields(f).Error("scheduler: " + msg)
}

func fields(keysAndValues []any) slog.M {
	m := make(slog.M, len(keysAndValues)/2+1)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		m[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return m
}

func New(jobs ...Job) (*Scheduler, error) {
	logger := cronLogger{}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron:   cron.New(cron.WithLogger(logger), cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger))),
		ctx:    ctx,
		cancel: cancel,
	}
	for _, job := range jobs {
		if job.Spec == "" {
			continue
		}
		if _, err := s.cron.AddFunc(job.Spec, s.wrap(job)); err != nil {
			cancel()
			return nil, fmt.Errorf("scheduling %s with %q: %w", job.Name, job.Spec, err)
		}
		s.names = append(s.names, job.Name)
	}
	return s, nil
}

func (s *Scheduler) wrap(job Job) func() {
	timeout := job.Timeout
	if timeout <= 0 {
		timeout = DefaultJobTimeout
	}
	return func() {
		ctx, cancel := context.WithTimeout(s.ctx, timeout)
		defer cancel()
		start := time.Now()
		if err := job.Run(ctx); err != nil {
			slog.WithFields(slog.M{"job": job.Name, "error": err}).Error("scheduled job failed")
			return
		}
		slog.WithFields(slog.M{"job": job.Name, "duration": time.Since(start).String()}).Debug("scheduled job finished")
	}
}

// Jobs returns the names of the enabled jobs.
func (s *Scheduler) Jobs() []string {
	return s.names
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop cancels running jobs and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.cancel()
	select {
	case <-s.cron.Stop().Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
