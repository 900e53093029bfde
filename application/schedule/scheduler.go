// Package schedule runs the periodic refresh jobs that keep cached sports
// data warm: team rosters daily, schedules hourly, odds every few minutes.
package schedule

import (
	"context"
	"sync"
	"time"

	"github.com/apexsports/apexfeed/infrastructure/logging"
)

// Job is one periodic refresh task.
type Job struct {
	// Name identifies the job in logs.
	Name string

	// Interval is the time between runs. Jobs with a non-positive
	// interval are skipped.
	Interval time.Duration

	// Run performs one refresh. Errors are logged, not fatal; the job
	// runs again at the next tick.
	Run func(ctx context.Context) error
}

// Scheduler runs refresh jobs on their intervals. Each job gets its own
// goroutine and fires once immediately on start.
type Scheduler struct {
	jobs []Job

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	started bool
}

// NewScheduler creates a scheduler for the given jobs.
func NewScheduler(jobs ...Job) *Scheduler {
	return &Scheduler{jobs: jobs}
}

// Start launches all job loops. It returns immediately; the loops stop
// when ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})

	var wg sync.WaitGroup
	for _, job := range s.jobs {
		if job.Interval <= 0 || job.Run == nil {
			logging.Warn().
				Add(logging.Job(job.Name)).
				Msg("skipping misconfigured job")
			continue
		}
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.loop(ctx, job)
		}(job)
	}

	done := s.done
	go func() {
		wg.Wait()
		close(done)
	}()
}

// Stop cancels the job loops and waits for in-flight runs to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel, done, started := s.cancel, s.done, s.started
	s.started = false
	s.mu.Unlock()

	if !started {
		return
	}
	cancel()
	<-done
}

// loop runs a job once, then on every tick until the context ends.
func (s *Scheduler) loop(ctx context.Context, job Job) {
	s.run(ctx, job)

	ticker := time.NewTicker(job.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.run(ctx, job)
		}
	}
}

// run executes one job iteration and logs the outcome.
func (s *Scheduler) run(ctx context.Context, job Job) {
	start := time.Now()
	err := job.Run(ctx)
	elapsed := time.Since(start)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		logging.Warn().
			Add(logging.Job(job.Name)).
			Add(logging.Duration(elapsed)).
			Add(logging.ErrorField(err)).
			Msg("refresh job failed")
		return
	}

	logging.Info().
		Add(logging.Job(job.Name)).
		Add(logging.Duration(elapsed)).
		Msg("refresh job completed")
}
