// Package notifier delivers outbound messages through the chat adapter with
// rate limiting, retries, and duplicate suppression.
package notifier

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/runasharp/telegram-hotel-bot/internal/eventbus"
	"github.com/runasharp/telegram-hotel-bot/internal/runtime/supervisor"
	"github.com/runasharp/telegram-hotel-bot/internal/storage"
	kit "github.com/runasharp/telegram-hotel-bot/internal/transport"
	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

var (
	ErrDisabled  = errors.New("notifier: disabled")
	ErrQueueFull = errors.New("notifier: queue full")
	ErrStopped   = errors.New("notifier: stopped")
)

type Config struct {
	Enabled       bool
	Workers       int
	QueueSize     int
	RatePerSec    float64
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	DedupWindow   time.Duration
	PersistDedup  bool
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 128
	}
	if c.RatePerSec <= 0 {
		c.RatePerSec = 1
	}
	if c.RetryMax < 0 {
		c.RetryMax = 0
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryMaxDelay <= 0 {
		c.RetryMaxDelay = 15 * time.Second
	}
	return c
}

type job struct {
	notif    kit.Notification
	dedupKey string
}

// Service is the outbound delivery pipeline.
type Service struct {
	cfg     Config
	adapter kit.Adapter
	log     logx.Logger
	bus     *eventbus.Bus
	store   storage.Store

	limiter *rate.Limiter

	queue chan job
	sup   *supervisor.Supervisor

	mu      sync.Mutex
	dedup   map[string]time.Time
	started bool
	stopped bool
}

func New(cfg Config, adapter kit.Adapter, store storage.Store, bus *eventbus.Bus, log logx.Logger) *Service {
	cfg = cfg.withDefaults()
	return &Service{
		cfg:     cfg,
		adapter: adapter,
		store:   store,
		bus:     bus,
		log:     log.With(logx.String("svc", "notifier")),
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		queue:   make(chan job, cfg.QueueSize),
		dedup:   make(map[string]time.Time),
	}
}

// Apply updates rate, retry, and dedup settings at runtime. Enabled state and
// worker/queue sizing are fixed at construction; a change there takes effect
// on restart and is logged.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()

	s.mu.Lock()
	prev := s.cfg
	resized := cfg.Workers != prev.Workers || cfg.QueueSize != prev.QueueSize
	cfg.Enabled = prev.Enabled
	cfg.Workers = prev.Workers
	cfg.QueueSize = prev.QueueSize
	s.cfg = cfg
	s.mu.Unlock()

	s.limiter.SetLimit(rate.Limit(cfg.RatePerSec))

	if resized {
		s.log.Warn("notifier worker/queue sizing changed; restart required to apply")
	}
}

// Start launches the worker pool. With persistence enabled, the dedup map is
// warmed from storage so restarts do not re-send recent notifications.
func (s *Service) Start(ctx context.Context) error {
	if !s.cfg.Enabled {
		return nil
	}

	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if s.cfg.PersistDedup && s.cfg.DedupWindow > 0 && s.store != nil {
		since := time.Now().Add(-s.cfg.DedupWindow)
		entries, err := s.store.LoadDedup(ctx, since)
		if err != nil {
			s.log.Warn("dedup warmup failed", logx.Err(err))
		} else {
			s.mu.Lock()
			for _, e := range entries {
				s.dedup[e.Key] = e.SentAt
			}
			s.mu.Unlock()
			s.log.Info("dedup state restored", logx.Int("entries", len(entries)))
		}
	}

	s.sup = supervisor.New(ctx, supervisor.WithLogger(s.log))
	for i := 0; i < s.cfg.Workers; i++ {
		name := "notifier.worker"
		s.sup.Go0(name, s.workerLoop)
	}
	s.log.Info("notifier started",
		logx.Int("workers", s.cfg.Workers),
		logx.Int("queue_size", s.cfg.QueueSize))
	return nil
}

func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started || s.stopped {
		s.mu.Unlock()
		return nil
	}
	s.stopped = true
	s.mu.Unlock()

	s.sup.Cancel()

	done := make(chan struct{})
	go func() {
		_ = s.sup.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Enqueue queues a notification for delivery. An empty dedupKey disables
// duplicate suppression for this message.
func (s *Service) Enqueue(notif kit.Notification, dedupKey string) error {
	if !s.cfg.Enabled {
		return ErrDisabled
	}
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	if dedupKey != "" && s.isDupLocked(dedupKey) {
		s.mu.Unlock()
		s.bus.Publish("notifier.deduped", map[string]any{"key": dedupKey})
		s.log.Debug("notification suppressed as duplicate", logx.String("key", dedupKey))
		return nil
	}
	s.mu.Unlock()

	select {
	case s.queue <- job{notif: notif, dedupKey: dedupKey}:
		s.bus.Publish("notifier.queued", map[string]any{"chat": notif.Target.ChatID})
		return nil
	default:
		s.bus.Publish("notifier.dropped", map[string]any{"chat": notif.Target.ChatID})
		return ErrQueueFull
	}
}

func (s *Service) isDupLocked(key string) bool {
	if s.cfg.DedupWindow <= 0 {
		return false
	}
	sent, ok := s.dedup[key]
	if !ok {
		return false
	}
	if time.Since(sent) > s.cfg.DedupWindow {
		delete(s.dedup, key)
		return false
	}
	return true
}

func (s *Service) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.queue:
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	if err := s.limiter.Wait(ctx); err != nil {
		return
	}

	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt <= cfg.RetryMax; attempt++ {
		if attempt > 0 {
			delay := backoffDelay(cfg.RetryBase, cfg.RetryMaxDelay, attempt)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
		}

		_, err := s.adapter.SendText(ctx, j.notif.Target, j.notif.Text, j.notif.Options)
		if err == nil {
			s.markSent(ctx, j.dedupKey)
			s.bus.Publish("notifier.sent", map[string]any{"chat": j.notif.Target.ChatID})
			return
		}
		lastErr = err
		s.log.Warn("delivery attempt failed",
			logx.Int64("chat", j.notif.Target.ChatID),
			logx.Int("attempt", attempt+1),
			logx.Err(err))
	}

	s.bus.Publish("notifier.failed", map[string]any{"chat": j.notif.Target.ChatID})
	s.log.Error("notification dropped after retries",
		logx.Int64("chat", j.notif.Target.ChatID),
		logx.Err(lastErr))
}

func (s *Service) markSent(ctx context.Context, key string) {
	if key == "" {
		return
	}
	now := time.Now()

	s.mu.Lock()
	window := s.cfg.DedupWindow
	persist := s.cfg.PersistDedup
	s.dedup[key] = now
	// Opportunistic sweep of expired entries.
	if window > 0 && len(s.dedup) > 1024 {
		for k, v := range s.dedup {
			if now.Sub(v) > window {
				delete(s.dedup, k)
			}
		}
	}
	s.mu.Unlock()

	if persist && s.store != nil {
		if err := s.store.PutDedup(ctx, storage.DedupEntry{Key: key, SentAt: now}); err != nil {
			s.log.Warn("dedup persist failed", logx.String("key", key), logx.Err(err))
		}
	}
}

func backoffDelay(base, max time.Duration, attempt int) time.Duration {
	d := base << uint(attempt-1)
	if d > max || d <= 0 {
		d = max
	}
	// Jitter in [d/2, d) spreads retries from concurrent workers.
	return d/2 + time.Duration(rand.Int63n(int64(d/2)+1))
}
