package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/runasharp/telegram-hotel-bot/internal/eventbus"
	"github.com/runasharp/telegram-hotel-bot/internal/storage"
	"github.com/runasharp/telegram-hotel-bot/internal/task/scheduler"
	kit "github.com/runasharp/telegram-hotel-bot/internal/transport"
	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

// Extractor pulls the lowest advertised price out of a page.
type Extractor interface {
	MinPrice(ctx context.Context, url string) (decimal.Decimal, error)
}

// NotifySender queues an outbound message for delivery.
type NotifySender interface {
	Enqueue(notif kit.Notification, dedupKey string) error
}

type PollerConfig struct {
	Interval       time.Duration
	InitialDelay   time.Duration
	ExtractTimeout time.Duration
	Currency       string
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = 150 * time.Second
	}
	if c.InitialDelay <= 0 {
		c.InitialDelay = 10 * time.Second
	}
	if c.ExtractTimeout <= 0 {
		c.ExtractTimeout = 15 * time.Second
	}
	if c.Currency == "" {
		c.Currency = "EUR"
	}
	return c
}

const pollTaskName = "tracker.poll"

// Poller walks all tracked items on a schedule, extracts current prices, and
// queues drop notifications.
type Poller struct {
	mu  sync.RWMutex
	cfg PollerConfig

	store   *Store
	extract Extractor
	notify  NotifySender
	journal storage.Store
	bus     *eventbus.Bus
	log     logx.Logger
}

func NewPoller(cfg PollerConfig, store *Store, extract Extractor, notify NotifySender, journal storage.Store, bus *eventbus.Bus, log logx.Logger) *Poller {
	return &Poller{
		cfg:     cfg.withDefaults(),
		store:   store,
		extract: extract,
		notify:  notify,
		journal: journal,
		bus:     bus,
		log:     log.With(logx.String("svc", "tracker.poller")),
	}
}

// Register installs the poll task on the scheduler. The first tick fires
// after InitialDelay, then every Interval; ticks never overlap.
func (p *Poller) Register(sched *scheduler.Service) error {
	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	return sched.AddIntervalOpt(pollTaskName, cfg.Interval, scheduler.TaskOptions{
		Overlap:    scheduler.OverlapSkipIfRunning,
		FirstDelay: cfg.InitialDelay,
	}, p.Tick)
}

// Apply updates the poll configuration and reschedules when the interval
// changed. A nil sched only swaps the config.
func (p *Poller) Apply(cfg PollerConfig, sched *scheduler.Service) error {
	cfg = cfg.withDefaults()

	p.mu.Lock()
	changed := cfg.Interval != p.cfg.Interval
	p.cfg = cfg
	p.mu.Unlock()

	if changed && sched != nil {
		return sched.AddIntervalOpt(pollTaskName, cfg.Interval, scheduler.TaskOptions{
			Overlap:    scheduler.OverlapSkipIfRunning,
			FirstDelay: cfg.InitialDelay,
		}, p.Tick)
	}
	return nil
}

// Tick runs one full poll pass over every tracked item. Failures on one item
// never stop the rest of the pass.
func (p *Poller) Tick(ctx context.Context) error {
	items := p.store.All()
	if len(items) == 0 {
		return nil
	}

	start := time.Now()
	var notified, failed int
	for _, oi := range items {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// Items without a target are not armed; nothing to extract for them.
		if oi.Item.Target == nil {
			continue
		}
		_, sent, err := p.evaluateItem(ctx, oi.Owner, oi.Item)
		if err != nil {
			failed++
			p.log.Debug("item poll failed",
				logx.Int64("owner", oi.Owner),
				logx.Int("slot", oi.Item.Slot),
				logx.Err(err))
			continue
		}
		if sent {
			notified++
		}
	}

	p.bus.Publish("tracker.tick", map[string]any{
		"items":    len(items),
		"notified": notified,
		"failed":   failed,
	})
	p.log.Info("poll pass done",
		logx.Int("items", len(items)),
		logx.Int("notified", notified),
		logx.Int("failed", failed),
		logx.Duration("took", time.Since(start)))
	return nil
}

// evaluateItem extracts the current price for one item and queues a
// notification when the policy says so.
func (p *Poller) evaluateItem(ctx context.Context, owner int64, it Item) (decimal.Decimal, bool, error) {
	p.mu.RLock()
	cfg := p.cfg
	p.mu.RUnlock()

	ectx, cancel := context.WithTimeout(ctx, cfg.ExtractTimeout)
	price, err := p.extract.MinPrice(ectx, it.URL)
	cancel()
	if err != nil {
		return decimal.Decimal{}, false, err
	}

	if p.journal != nil {
		if err := p.journal.AppendObservation(ctx, storage.Observation{
			At:    time.Now(),
			Owner: owner,
			Slot:  it.Slot,
			URL:   it.URL,
			Price: price,
		}); err != nil {
			p.log.Warn("observation journal append failed", logx.Err(err))
		}
	}

	dec := Evaluate(&price, it)
	if !dec.Notify {
		return price, false, nil
	}

	text := fmt.Sprintf("The price has dropped to %s %s for URL ID %d! Check it out at %s",
		dec.Price.String(), cfg.Currency, it.Slot, it.URL)
	key := fmt.Sprintf("%d:%d:%s", owner, it.Slot, dec.Price.String())

	if err := p.notify.Enqueue(kit.Notification{
		Target: kit.ChatTarget{ChatID: owner},
		Text:   text,
	}, key); err != nil {
		return price, false, fmt.Errorf("enqueue notification: %w", err)
	}

	// Commit notification memory only if the slot still holds the same
	// url and target; otherwise the owner reconfigured it mid-poll and
	// this result is stale.
	if !p.store.RecordNotified(owner, it.Slot, it.URL, it.Target, dec.Price) {
		p.log.Debug("notification memory discarded, item changed mid-poll",
			logx.Int64("owner", owner),
			logx.Int("slot", it.Slot))
	}
	return price, true, nil
}

// CheckNow evaluates a single slot immediately, outside the poll schedule,
// applying the full notification policy. It returns the observed price and
// whether a notification was queued. This backs the evaluation a target-price
// change triggers.
func (p *Poller) CheckNow(ctx context.Context, owner int64, slot int) (decimal.Decimal, bool, error) {
	it, err := p.store.Get(owner, slot)
	if err != nil {
		return decimal.Decimal{}, false, err
	}
	return p.evaluateItem(ctx, owner, it)
}

// EvaluateOne polls a single slot on demand and returns the current price.
// It does not touch notification memory; it is the read path for commands.
func (p *Poller) EvaluateOne(ctx context.Context, owner int64, slot int) (decimal.Decimal, error) {
	it, err := p.store.Get(owner, slot)
	if err != nil {
		return decimal.Decimal{}, err
	}

	p.mu.RLock()
	timeout := p.cfg.ExtractTimeout
	p.mu.RUnlock()

	ectx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	price, err := p.extract.MinPrice(ectx, it.URL)
	if err != nil {
		return decimal.Decimal{}, err
	}

	if p.journal != nil {
		if jerr := p.journal.AppendObservation(ctx, storage.Observation{
			At:    time.Now(),
			Owner: owner,
			Slot:  slot,
			URL:   it.URL,
			Price: price,
		}); jerr != nil {
			p.log.Warn("observation journal append failed", logx.Err(jerr))
		}
	}
	return price, nil
}

// Currency returns the configured currency label for messages.
func (p *Poller) Currency() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.cfg.Currency
}
