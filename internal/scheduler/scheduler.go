package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Handler is the unit of work a job executes on each fire.
type Handler func(ctx context.Context) error

// State models the lifecycle of a registered job.
type State int

const (
	StateIdle State = iota
	StateRunning
	StatePaused
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// Job describes a periodic unit of work. Spec is a standard 5-field cron
// expression or a descriptor such as @every 5m; Every, when positive, takes
// precedence and fires at a constant interval without cron's one-second floor.
type Job struct {
	ID         string
	Name       string
	Spec       string
	Every      time.Duration
	Handler    Handler
	MaxRetries int
}

// Status is a point-in-time snapshot of one registered job.
type Status struct {
	ID                string
	Name              string
	State             State
	ConsecutiveErrors int
	NextFire          time.Time
}

type jobState struct {
	job               Job
	schedule          cron.Schedule
	state             State
	consecutiveErrors int
	nextFire          time.Time
}

type constantSchedule time.Duration

func (s constantSchedule) Next(t time.Time) time.Time { return t.Add(time.Duration(s)) }

// Options tune scheduler behaviour.
type Options struct {
	MaxConcurrent  int
	Location       *time.Location
	DefaultRetries int
}

// Scheduler keeps an explicit registry of periodic jobs and drives them from
// a single timer loop. At most MaxConcurrent handlers run at once; a job that
// fails MaxRetries times in a row is paused until explicitly resumed.
type Scheduler struct {
	opts   Options
	logger zerolog.Logger
	parser cron.Parser

	mu      sync.Mutex
	jobs    map[string]*jobState
	running int
	wake    chan struct{}

	wg sync.WaitGroup
}

// New constructs a Scheduler.
func New(opts Options, logger zerolog.Logger) *Scheduler {
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = 8
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.DefaultRetries <= 0 {
		opts.DefaultRetries = 3
	}

	return &Scheduler{
		opts:   opts,
		logger: logger.With().Str("component", "scheduler").Logger(),
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		jobs:   make(map[string]*jobState),
		wake:   make(chan struct{}, 1),
	}
}

// Schedule registers a job, replacing any existing job with the same id.
// The replaced registration stops firing immediately; a run already in
// flight completes but no longer updates registry state.
func (s *Scheduler) Schedule(job Job) error {
	if job.ID == "" {
		return fmt.Errorf("scheduler: job id required")
	}
	if job.Handler == nil {
		return fmt.Errorf("scheduler: job %q has no handler", job.ID)
	}
	if job.MaxRetries <= 0 {
		job.MaxRetries = s.opts.DefaultRetries
	}

	var schedule cron.Schedule
	if job.Every > 0 {
		schedule = constantSchedule(job.Every)
	} else {
		parsed, err := s.parser.Parse(job.Spec)
		if err != nil {
			return fmt.Errorf("scheduler: parse spec %q for job %q: %w", job.Spec, job.ID, err)
		}
		schedule = parsed
	}

	now := time.Now().In(s.opts.Location)
	js := &jobState{
		job:      job,
		schedule: schedule,
		state:    StateIdle,
		nextFire: schedule.Next(now),
	}

	s.mu.Lock()
	if _, replaced := s.jobs[job.ID]; replaced {
		s.logger.Info().Str("job", job.ID).Msg("replacing existing job")
	}
	s.jobs[job.ID] = js
	s.mu.Unlock()

	s.logger.Info().Str("job", job.ID).Str("name", job.Name).Time("next_fire", js.nextFire).Msg("job scheduled")
	s.kick()
	return nil
}

// Unschedule stops and removes a job. A run already in flight completes.
func (s *Scheduler) Unschedule(id string) {
	s.mu.Lock()
	_, ok := s.jobs[id]
	delete(s.jobs, id)
	s.mu.Unlock()
	if ok {
		s.logger.Info().Str("job", id).Msg("job unscheduled")
		s.kick()
	}
}

// Pause stops a job from firing without removing it.
func (s *Scheduler) Pause(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	js, ok := s.jobs[id]
	if !ok {
		return false
	}
	js.state = StatePaused
	s.logger.Info().Str("job", id).Msg("job paused")
	return true
}

// Resume reactivates a paused job and clears its failure counter, so a
// recovered job gets a full retry budget again.
func (s *Scheduler) Resume(id string) bool {
	s.mu.Lock()
	js, ok := s.jobs[id]
	if !ok || js.state != StatePaused {
		s.mu.Unlock()
		return false
	}
	js.state = StateIdle
	js.consecutiveErrors = 0
	js.nextFire = js.schedule.Next(time.Now().In(s.opts.Location))
	s.mu.Unlock()

	s.logger.Info().Str("job", id).Msg("job resumed")
	s.kick()
	return true
}

// Snapshot reports the current registry state.
func (s *Scheduler) Snapshot() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.jobs))
	for _, js := range s.jobs {
		out = append(out, Status{
			ID:                js.job.ID,
			Name:              js.job.Name,
			State:             js.state,
			ConsecutiveErrors: js.consecutiveErrors,
			NextFire:          js.nextFire,
		})
	}
	return out
}

// Run drives the timer loop until ctx is cancelled, then waits for in-flight
// handlers to finish.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info().Int("max_concurrent", s.opts.MaxConcurrent).Msg("scheduler loop starting")

	for {
		next, ok := s.earliestFire()

		var timerC <-chan time.Time
		var timer *time.Timer
		if ok {
			delay := time.Until(next)
			if delay < 0 {
				delay = 0
			}
			timer = time.NewTimer(delay)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			s.wg.Wait()
			s.logger.Info().Msg("scheduler loop stopped")
			return ctx.Err()
		case <-s.wake:
			if timer != nil {
				timer.Stop()
			}
		case <-timerC:
			s.fireDue(ctx)
		}
	}
}

func (s *Scheduler) kick() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) earliestFire() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var next time.Time
	found := false
	for _, js := range s.jobs {
		if js.state == StatePaused {
			continue
		}
		if !found || js.nextFire.Before(next) {
			next = js.nextFire
			found = true
		}
	}
	return next, found
}

// fireDue starts every due job, enforcing the concurrency ceiling with an
// atomic check-and-increment under the registry lock.
func (s *Scheduler) fireDue(ctx context.Context) {
	now := time.Now().In(s.opts.Location)

	s.mu.Lock()
	for _, js := range s.jobs {
		if js.state == StatePaused || js.nextFire.After(now) {
			continue
		}

		// Advance regardless of outcome; a skipped fire is not rescheduled.
		js.nextFire = js.schedule.Next(now)

		if js.state == StateRunning {
			s.logger.Debug().Str("job", js.job.ID).Msg("previous run still in progress, skipping fire")
			continue
		}
		if s.running >= s.opts.MaxConcurrent {
			s.logger.Warn().Str("job", js.job.ID).Int("running", s.running).Msg("concurrency ceiling reached, skipping fire")
			continue
		}

		s.running++
		js.state = StateRunning
		s.wg.Add(1)
		go s.execute(ctx, js)
	}
	s.mu.Unlock()
}

func (s *Scheduler) execute(ctx context.Context, js *jobState) {
	defer s.wg.Done()

	start := time.Now()
	err := s.runHandler(ctx, js.job)
	elapsed := time.Since(start)

	s.mu.Lock()
	s.running--

	// The registration may have been replaced or removed mid-run; in that
	// case the outcome only affects the global running count.
	current, ok := s.jobs[js.job.ID]
	if !ok || current != js {
		s.mu.Unlock()
		return
	}

	if err == nil {
		js.consecutiveErrors = 0
		if js.state == StateRunning {
			js.state = StateIdle
		}
		s.mu.Unlock()
		s.logger.Debug().Str("job", js.job.ID).Dur("elapsed", elapsed).Msg("job completed")
		s.kick()
		return
	}

	js.consecutiveErrors++
	paused := false
	if js.consecutiveErrors >= js.job.MaxRetries {
		js.state = StatePaused
		paused = true
	} else if js.state == StateRunning {
		js.state = StateIdle
	}
	errCount := js.consecutiveErrors
	s.mu.Unlock()

	if paused {
		s.logger.Error().Err(err).Str("job", js.job.ID).Int("consecutive_errors", errCount).
			Msg("job auto-paused after repeated failures; resume explicitly to re-enable")
	} else {
		s.logger.Warn().Err(err).Str("job", js.job.ID).Int("consecutive_errors", errCount).Dur("elapsed", elapsed).
			Msg("job execution failed")
	}
	s.kick()
}

// runHandler isolates handler faults: a panic is converted into an ordinary
// job failure so one bad task cannot take the process down.
func (s *Scheduler) runHandler(ctx context.Context, job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job %q panicked: %v", job.ID, r)
		}
	}()
	return job.Handler(ctx)
}
