// Package supervisor provides a tiny goroutine supervisor:
//   - named goroutines
//   - context cancellation
//   - panic recovery
//   - first-error capture
//   - optional restart loops with backoff
package supervisor

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

type Supervisor struct {
	ctx    context.Context
	cancel context.CancelFunc

	wg sync.WaitGroup

	mu       sync.Mutex
	firstErr error

	log logx.Logger

	cancelOnError bool
}

type Option func(*Supervisor)

func WithLogger(log logx.Logger) Option {
	return func(s *Supervisor) { s.log = log }
}

// WithCancelOnError cancels the whole supervisor as soon as any goroutine
// returns a non-nil error or panics.
func WithCancelOnError() Option {
	return func(s *Supervisor) { s.cancelOnError = true }
}

func New(parent context.Context, opts ...Option) *Supervisor {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	s := &Supervisor{ctx: ctx, cancel: cancel, log: logx.Nop()}
	for _, o := range opts {
		if o != nil {
			o(s)
		}
	}
	return s
}

func (s *Supervisor) Context() context.Context { return s.ctx }

func (s *Supervisor) Cancel() { s.cancel() }

// Err returns the first recorded error, if any.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.firstErr
}

// Wait blocks until all supervised goroutines have returned.
func (s *Supervisor) Wait() error {
	s.wg.Wait()
	return s.Err()
}

// Stop cancels and waits.
func (s *Supervisor) Stop() error {
	s.cancel()
	return s.Wait()
}

func (s *Supervisor) record(name string, err error) {
	if err == nil {
		return
	}
	s.mu.Lock()
	if s.firstErr == nil {
		s.firstErr = fmt.Errorf("%s: %w", name, err)
	}
	s.mu.Unlock()
	if s.cancelOnError {
		s.cancel()
	}
}

// Go runs fn in a supervised goroutine. A panic is recovered and recorded
// as an error; it never crashes the process.
func (s *Supervisor) Go(name string, fn func(ctx context.Context) error) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("goroutine panic",
					logx.String("goroutine", name),
					logx.Any("panic", r),
					logx.String("stack", string(debug.Stack())))
				s.record(name, fmt.Errorf("panic: %v", r))
			}
		}()
		if err := fn(s.ctx); err != nil && s.ctx.Err() == nil {
			s.log.Error("goroutine failed", logx.String("goroutine", name), logx.Err(err))
			s.record(name, err)
		}
	}()
}

// Go0 runs a function that reports no error.
func (s *Supervisor) Go0(name string, fn func(ctx context.Context)) {
	s.Go(name, func(ctx context.Context) error {
		fn(ctx)
		return nil
	})
}

type restartOptions struct {
	backoffMin      time.Duration
	backoffMax      time.Duration
	publishFirstErr bool
	stopOnCleanExit bool
}

type RestartOption func(*restartOptions)

func WithRestartBackoff(min, max time.Duration) RestartOption {
	return func(o *restartOptions) {
		if min > 0 {
			o.backoffMin = min
		}
		if max >= o.backoffMin {
			o.backoffMax = max
		}
	}
}

// WithPublishFirstError records the first failure even though the loop restarts.
func WithPublishFirstError() RestartOption {
	return func(o *restartOptions) { o.publishFirstErr = true }
}

// WithStopOnCleanExit stops the restart loop when fn returns nil.
func WithStopOnCleanExit() RestartOption {
	return func(o *restartOptions) { o.stopOnCleanExit = true }
}

// GoRestart runs fn in a loop, restarting it with exponential backoff on
// failure or panic, until the supervisor is cancelled.
func (s *Supervisor) GoRestart(name string, fn func(ctx context.Context) error, opts ...RestartOption) {
	ro := restartOptions{backoffMin: time.Second, backoffMax: 30 * time.Second}
	for _, o := range opts {
		if o != nil {
			o(&ro)
		}
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		backoff := ro.backoffMin
		for {
			err := runRecovered(s.ctx, fn)

			if s.ctx.Err() != nil {
				return
			}
			if err == nil {
				if ro.stopOnCleanExit {
					return
				}
				backoff = ro.backoffMin
			} else {
				s.log.Warn("goroutine restarting",
					logx.String("goroutine", name),
					logx.Duration("backoff", backoff),
					logx.Err(err))
				if ro.publishFirstErr {
					s.record(name, err)
				}
			}

			select {
			case <-s.ctx.Done():
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > ro.backoffMax {
				backoff = ro.backoffMax
			}
		}
	}()
}

func runRecovered(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}
