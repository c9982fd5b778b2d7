package router

import (
	"context"
	"sync"
	"testing"
	"time"

	kit "github.com/runasharp/telegram-hotel-bot/internal/transport"
	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

type recordAdapter struct {
	mu   sync.Mutex
	sent []string
}

func (a *recordAdapter) Start(context.Context) (<-chan kit.Update, error) { return nil, nil }
func (a *recordAdapter) Stop(context.Context) error                       { return nil }

func (a *recordAdapter) SendText(_ context.Context, target kit.ChatTarget, text string, _ *kit.SendOptions) (kit.MessageRef, error) {
	a.mu.Lock()
	a.sent = append(a.sent, text)
	a.mu.Unlock()
	return kit.MessageRef{ChatID: target.ChatID}, nil
}

func (a *recordAdapter) messages() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.sent...)
}

func textUpdate(chatID int64, text string) kit.Update {
	return kit.Update{
		Kind:    kit.UpdateMessage,
		Message: &kit.Message{ChatID: chatID, FromID: chatID, Text: text},
	}
}

func TestSplitCommand(t *testing.T) {
	t.Parallel()

	cases := []struct {
		text     string
		name     string
		argCount int
		ok       bool
	}{
		{"/seturl 1 https://example.com", "seturl", 2, true},
		{"/SetURL@MyBot 2 url", "seturl", 2, true},
		{"/help", "help", 0, true},
		{"  /start  ", "start", 0, true},
		{"hello there", "", 0, false},
		{"/", "", 0, false},
		{"", "", 0, false},
	}
	for _, tc := range cases {
		name, args, ok := splitCommand(tc.text)
		if ok != tc.ok || name != tc.name || len(args) != tc.argCount {
			t.Fatalf("splitCommand(%q) = (%q, %d args, %v), want (%q, %d, %v)",
				tc.text, name, len(args), ok, tc.name, tc.argCount, tc.ok)
		}
	}
}

func TestDispatchRoutesCommandAndFallback(t *testing.T) {
	t.Parallel()

	ad := &recordAdapter{}
	m := NewManager(ad, 2, logx.Nop())

	var mu sync.Mutex
	var gotArgs []string
	if err := m.Register(Command{
		Name:        "seturl",
		Description: "set a tracking URL",
		Handle: func(ctx context.Context, req *Request) error {
			mu.Lock()
			gotArgs = append([]string(nil), req.Args...)
			mu.Unlock()
			return req.Reply(ctx, "ok")
		},
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	m.SetFallback(func(ctx context.Context, req *Request) error {
		return req.Reply(ctx, "You said: "+req.Update.Message.Text)
	})

	updates := make(chan kit.Update, 3)
	updates <- textUpdate(1, "/seturl 2 https://example.com")
	updates <- textUpdate(1, "just chatting")
	updates <- textUpdate(1, "/nosuchcmd")
	close(updates)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.DispatchLoop(ctx, updates)

	mu.Lock()
	if len(gotArgs) != 2 || gotArgs[0] != "2" {
		t.Fatalf("handler args = %v", gotArgs)
	}
	mu.Unlock()

	msgs := ad.messages()
	if len(msgs) != 3 {
		t.Fatalf("sent %d messages, want 3: %v", len(msgs), msgs)
	}
	var sawOK, sawEcho, sawUnknown bool
	for _, s := range msgs {
		switch {
		case s == "ok":
			sawOK = true
		case s == "You said: just chatting":
			sawEcho = true
		case s == "Unknown command. Use /help to see what I can do.":
			sawUnknown = true
		}
	}
	if !sawOK || !sawEcho || !sawUnknown {
		t.Fatalf("missing replies: %v", msgs)
	}
}

func TestMenuCommandsSorted(t *testing.T) {
	t.Parallel()

	m := NewManager(&recordAdapter{}, 1, logx.Nop())
	noop := func(context.Context, *Request) error { return nil }
	_ = m.Register(
		Command{Name: "seturl", Description: "b", Handle: noop},
		Command{Name: "help", Description: "a", Handle: noop},
	)

	menu := m.MenuCommands()
	if len(menu) != 2 || menu[0].Name != "help" || menu[1].Name != "seturl" {
		t.Fatalf("menu = %+v", menu)
	}
}

func TestRegisterAlias(t *testing.T) {
	t.Parallel()

	ad := &recordAdapter{}
	m := NewManager(ad, 1, logx.Nop())
	_ = m.Register(Command{
		Name:    "listurls",
		Aliases: []string{"list"},
		Handle: func(ctx context.Context, req *Request) error {
			return req.Reply(ctx, "listed")
		},
	})

	updates := make(chan kit.Update, 1)
	updates <- textUpdate(5, "/list")
	close(updates)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	m.DispatchLoop(ctx, updates)

	if msgs := ad.messages(); len(msgs) != 1 || msgs[0] != "listed" {
		t.Fatalf("alias dispatch failed: %v", msgs)
	}
}
