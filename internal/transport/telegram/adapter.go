// Package telegram adapts the Telegram Bot API (via telebot) to the
// transport kit.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	tele "gopkg.in/telebot.v4"

	"github.com/runasharp/telegram-hotel-bot/internal/runtime/supervisor"
	kit "github.com/runasharp/telegram-hotel-bot/internal/transport"
	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

// Telegram rejects messages above this length.
const maxMessageLen = 4096

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Adapter struct {
	cfg Config
	log logx.Logger

	bot *tele.Bot
	sup *supervisor.Supervisor

	out     atomic.Pointer[chan kit.Update]
	dropped atomic.Int64

	mu      sync.Mutex
	started bool

	menuHash atomic.Uint64
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if cfg.Token == "" {
		return nil, errors.New("telegram: empty token")
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	return &Adapter{cfg: cfg, log: log.With(logx.String("svc", "telegram"))}, nil
}

func (a *Adapter) Start(ctx context.Context) (<-chan kit.Update, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return nil, errors.New("telegram: already started")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  a.cfg.Token,
		Poller: &tele.LongPoller{Timeout: a.cfg.PollTimeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: create bot: %w", err)
	}
	a.bot = bot

	out := make(chan kit.Update, 256)
	a.out.Store(&out)

	bot.Handle(tele.OnText, func(c tele.Context) error {
		msg := c.Message()
		if msg == nil {
			return nil
		}
		u := kit.Update{
			Kind: kit.UpdateMessage,
			Message: &kit.Message{
				ID:     msg.ID,
				ChatID: msg.Chat.ID,
				Text:   msg.Text,
			},
		}
		if msg.Sender != nil {
			u.Message.FromID = msg.Sender.ID
			u.Message.FromUsername = msg.Sender.Username
		}

		ch := a.out.Load()
		if ch == nil {
			return nil
		}
		select {
		case *ch <- u:
		default:
			a.dropped.Add(1)
		}
		return nil
	})

	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log))
	a.sup.GoRestart("telegram.poll", func(ctx context.Context) error {
		go func() {
			<-ctx.Done()
			bot.Stop()
		}()
		bot.Start()
		return nil
	}, supervisor.WithRestartBackoff(2*time.Second, time.Minute), supervisor.WithStopOnCleanExit())

	a.sup.Go0("telegram.dropreport", func(ctx context.Context) {
		t := time.NewTicker(time.Minute)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if n := a.dropped.Swap(0); n > 0 {
					a.log.Warn("updates dropped, consumer too slow", logx.Int64("count", n))
				}
			}
		}
	})

	a.started = true
	a.log.Info("telegram adapter started",
		logx.String("bot", bot.Me.Username),
		logx.Duration("poll_timeout", a.cfg.PollTimeout))
	return out, nil
}

func (a *Adapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started {
		a.mu.Unlock()
		return nil
	}
	a.started = false
	sup := a.sup
	a.mu.Unlock()

	sup.Cancel()

	done := make(chan struct{})
	go func() {
		_ = sup.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if ch := a.out.Swap(nil); ch != nil {
		close(*ch)
	}
	return nil
}

func (a *Adapter) SendText(ctx context.Context, target kit.ChatTarget, text string, opts *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	bot := a.bot
	a.mu.Unlock()
	if bot == nil {
		return kit.MessageRef{}, errors.New("telegram: not started")
	}

	text = truncateMessage(text)

	var sendOpts []interface{}
	if opts != nil {
		sendOpts = append(sendOpts, &tele.SendOptions{
			ParseMode:             opts.ParseMode,
			DisableWebPagePreview: opts.DisablePreview,
		})
	}

	msg, err := bot.Send(&tele.Chat{ID: target.ChatID}, text, sendOpts...)
	if err != nil {
		return kit.MessageRef{}, fmt.Errorf("telegram: send: %w", err)
	}
	return kit.MessageRef{ChatID: target.ChatID, MessageID: msg.ID}, nil
}

// truncateMessage clamps text to Telegram's message limit. The limit counts
// characters, not bytes, so the cut lands on a rune boundary.
func truncateMessage(text string) string {
	if len(text) <= maxMessageLen {
		return text
	}
	r := []rune(text)
	if len(r) <= maxMessageLen {
		return text
	}
	return string(r[:maxMessageLen-1]) + "…"
}

// UpdateMenuCommands publishes the command menu through setMyCommands.
// A hash of the list skips redundant API calls on restarts and reloads.
func (a *Adapter) UpdateMenuCommands(ctx context.Context, commands []kit.BotCommand) error {
	type apiCommand struct {
		Command     string `json:"command"`
		Description string `json:"description"`
	}

	list := make([]apiCommand, 0, len(commands))
	h := fnv.New64a()
	for _, c := range commands {
		list = append(list, apiCommand{Command: c.Name, Description: c.Description})
		fmt.Fprintf(h, "%s\x00%s\x00", c.Name, c.Description)
	}
	sum := h.Sum64()
	if a.menuHash.Load() == sum {
		return nil
	}

	body, err := json.Marshal(map[string]any{"commands": list})
	if err != nil {
		return err
	}

	url := fmt.Sprintf("https://api.telegram.org/bot%s/setMyCommands", a.cfg.Token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: setMyCommands: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("telegram: setMyCommands: status %d", resp.StatusCode)
	}

	a.menuHash.Store(sum)
	a.log.Debug("command menu updated", logx.Int("commands", len(list)))
	return nil
}
