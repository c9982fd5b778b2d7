// Package scheduler runs named recurring jobs on top of robfig/cron.
//
// Jobs are registered by name; re-registering a name replaces the previous
// definition. Interval jobs can request a shorter first delay so work starts
// soon after boot instead of a full interval later.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/runasharp/telegram-hotel-bot/internal/runtime/supervisor"
	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

type OverlapPolicy int

const (
	// OverlapAllow lets a new run start even while the previous is active.
	OverlapAllow OverlapPolicy = iota
	// OverlapSkipIfRunning drops a tick when the previous run has not finished.
	OverlapSkipIfRunning
)

type TaskOptions struct {
	Overlap OverlapPolicy
	// FirstDelay, when > 0, schedules the first run FirstDelay after
	// registration instead of a full interval later.
	FirstDelay time.Duration
	// Timeout bounds a single run; zero means no per-run deadline.
	Timeout time.Duration
}

// RunState tracks whether a job run is in flight.
type RunState struct {
	running atomic.Bool
}

// TryBegin marks the run active; it reports false if one is already active.
func (r *RunState) TryBegin() bool { return r.running.CompareAndSwap(false, true) }
func (r *RunState) End()           { r.running.Store(false) }
func (r *RunState) Running() bool  { return r.running.Load() }

type TaskFunc func(ctx context.Context) error

type taskDef struct {
	name    string
	every   time.Duration
	opts    TaskOptions
	fn      TaskFunc
	entryID cron.EntryID
	state   *RunState
	skipped atomic.Int64
	runs    atomic.Int64
	lastErr atomic.Value // stores string
}

type TaskInfo struct {
	Name    string
	Every   time.Duration
	Runs    int64
	Skipped int64
	Running bool
	LastErr string
}

type Config struct {
	Enabled  bool
	Timezone string
}

type Service struct {
	log logx.Logger
	sup *supervisor.Supervisor

	mu    sync.Mutex
	cron  *cron.Cron
	tasks map[string]*taskDef

	started bool
}

func New(log logx.Logger, sup *supervisor.Supervisor, cfg Config) (*Service, error) {
	loc := time.Local
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}

	s := &Service{
		log:   log.With(logx.String("svc", "scheduler")),
		sup:   sup,
		cron:  cron.New(cron.WithLocation(loc)),
		tasks: make(map[string]*taskDef),
	}
	return s, nil
}

// AddInterval registers (or replaces) a job running every `every`.
func (s *Service) AddInterval(name string, every time.Duration, fn TaskFunc) error {
	return s.AddIntervalOpt(name, every, TaskOptions{}, fn)
}

// AddIntervalOpt registers (or replaces) a job with explicit options.
func (s *Service) AddIntervalOpt(name string, every time.Duration, opts TaskOptions, fn TaskFunc) error {
	if name == "" {
		return fmt.Errorf("scheduler: empty task name")
	}
	if every <= 0 {
		return fmt.Errorf("scheduler: task %q: interval must be positive", name)
	}
	if fn == nil {
		return fmt.Errorf("scheduler: task %q: nil func", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if prev, ok := s.tasks[name]; ok {
		s.cron.Remove(prev.entryID)
		delete(s.tasks, name)
	}

	def := &taskDef{name: name, every: every, opts: opts, fn: fn, state: &RunState{}}

	var sched cron.Schedule = cron.Every(every)
	if opts.FirstDelay > 0 && opts.FirstDelay < every {
		sched = &firstThenEvery{first: time.Now().Add(opts.FirstDelay), every: every}
	}

	def.entryID = s.cron.Schedule(sched, cron.FuncJob(func() { s.runTask(def) }))
	s.tasks[name] = def

	s.log.Debug("task registered",
		logx.String("task", name),
		logx.Duration("every", every),
		logx.Duration("first_delay", opts.FirstDelay))
	return nil
}

func (s *Service) Remove(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if def, ok := s.tasks[name]; ok {
		s.cron.Remove(def.entryID)
		delete(s.tasks, name)
	}
}

func (s *Service) runTask(def *taskDef) {
	if def.opts.Overlap == OverlapSkipIfRunning {
		if !def.state.TryBegin() {
			def.skipped.Add(1)
			s.log.Debug("tick skipped, previous run still active", logx.String("task", def.name))
			return
		}
	} else {
		def.state.running.Store(true)
	}

	s.sup.Go0("task."+def.name, func(ctx context.Context) {
		defer def.state.End()

		if def.opts.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, def.opts.Timeout)
			defer cancel()
		}

		start := time.Now()
		err := def.fn(ctx)
		def.runs.Add(1)
		if err != nil {
			def.lastErr.Store(err.Error())
			s.log.Warn("task run failed",
				logx.String("task", def.name),
				logx.Duration("took", time.Since(start)),
				logx.Err(err))
			return
		}
		def.lastErr.Store("")
		s.log.Debug("task run done",
			logx.String("task", def.name),
			logx.Duration("took", time.Since(start)))
	})
}

// Snapshot returns the registered tasks sorted by name.
func (s *Service) Snapshot() []TaskInfo {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]TaskInfo, 0, len(s.tasks))
	for _, def := range s.tasks {
		lastErr, _ := def.lastErr.Load().(string)
		out = append(out, TaskInfo{
			Name:    def.name,
			Every:   def.every,
			Runs:    def.runs.Load(),
			Skipped: def.skipped.Load(),
			Running: def.state.Running(),
			LastErr: lastErr,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.cron.Start()
	s.log.Info("scheduler started", logx.Int("tasks", len(s.tasks)))
}

// Stop halts scheduling of new runs. In-flight runs finish under the
// supervisor's lifecycle, not here.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	stopCtx := s.cron.Stop()
	s.mu.Unlock()

	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// firstThenEvery fires once at a fixed time, then every `every` after each
// activation.
type firstThenEvery struct {
	first time.Time
	every time.Duration
}

func (s *firstThenEvery) Next(t time.Time) time.Time {
	if t.Before(s.first) {
		return s.first
	}
	return t.Add(s.every)
}
