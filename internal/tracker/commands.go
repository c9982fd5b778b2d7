package tracker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/runasharp/telegram-hotel-bot/internal/extract"
	"github.com/runasharp/telegram-hotel-bot/internal/router"
	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

const helpText = `I watch hotel listing pages and tell you when the price drops.

/seturl <id> <url> - track a URL under ID 1-10
/setprice <id> <price> - set the target price for a URL ID
/currentprice <id> - fetch the current minimum price right now
/listurls - show everything you are tracking
/deleteurl <id> - stop tracking a URL ID`

// Handlers implements the chat command surface of the tracker.
type Handlers struct {
	store  *Store
	poller *Poller
	log    logx.Logger
}

func NewHandlers(store *Store, poller *Poller, log logx.Logger) *Handlers {
	return &Handlers{store: store, poller: poller, log: log.With(logx.String("svc", "tracker.commands"))}
}

// Commands returns the command manifest for router registration.
func (h *Handlers) Commands() []router.Command {
	return []router.Command{
		{
			Name:        "start",
			Description: "what this bot does",
			Handle:      h.handleStart,
		},
		{
			Name:        "help",
			Description: "list available commands",
			Handle:      h.handleHelp,
		},
		{
			Name:        "seturl",
			Description: "track a URL under an ID (1-10)",
			Usage:       "/seturl <id> <url>",
			Handle:      h.handleSetURL,
		},
		{
			Name:        "setprice",
			Description: "set the target price for a URL ID",
			Usage:       "/setprice <id> <price>",
			Handle:      h.handleSetPrice,
		},
		{
			Name:        "currentprice",
			Description: "fetch the current minimum price for a URL ID",
			Usage:       "/currentprice <id>",
			Handle:      h.handleCurrentPrice,
		},
		{
			Name:        "listurls",
			Description: "show tracked URLs and target prices",
			Handle:      h.handleListURLs,
		},
		{
			Name:        "deleteurl",
			Description: "stop tracking a URL ID",
			Usage:       "/deleteurl <id>",
			Handle:      h.handleDeleteURL,
		},
	}
}

// Fallback echoes plain text back, so owners know the bot is alive.
func (h *Handlers) Fallback(ctx context.Context, req *router.Request) error {
	msg := req.Update.Message
	if msg == nil || strings.TrimSpace(msg.Text) == "" {
		return nil
	}
	return req.Reply(ctx, "You said: "+msg.Text)
}

func (h *Handlers) handleStart(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, "Hello! I track hotel prices for you.\n\n"+helpText)
}

func (h *Handlers) handleHelp(ctx context.Context, req *router.Request) error {
	return req.Reply(ctx, helpText)
}

func (h *Handlers) handleSetURL(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, "Usage: /seturl <url_id> <url>")
	}
	slot, err := parseSlot(req.Args[0])
	if err != nil {
		return req.Reply(ctx, fmt.Sprintf("Please provide a URL ID between %d and %d.", MinSlot, MaxSlot))
	}
	url := req.Args[1]

	if err := h.store.SetURL(req.FromID, slot, url); err != nil {
		switch {
		case errors.Is(err, ErrInvalidSlot):
			return req.Reply(ctx, fmt.Sprintf("Please provide a URL ID between %d and %d.", MinSlot, MaxSlot))
		case errors.Is(err, ErrInvalidURL):
			return req.Reply(ctx, "Usage: /seturl <url_id> <url>")
		default:
			return err
		}
	}

	h.log.Info("url registered",
		logx.Int64("owner", req.FromID),
		logx.Int("slot", slot))
	return req.Reply(ctx, fmt.Sprintf("Tracking URL %d has been set to: %s\nNow set a target with /setprice %d <price>.", slot, url, slot))
}

func (h *Handlers) handleSetPrice(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 2 {
		return req.Reply(ctx, "Usage: /setprice <url_id> <price>")
	}
	slot, err := parseSlot(req.Args[0])
	if err != nil {
		return req.Reply(ctx, fmt.Sprintf("Please provide a URL ID between %d and %d.", MinSlot, MaxSlot))
	}
	price, err := decimal.NewFromString(strings.ReplaceAll(req.Args[1], ",", "."))
	if err != nil {
		return req.Reply(ctx, "Please provide a valid price, e.g. /setprice 1 99.50")
	}

	if err := h.store.SetTargetPrice(req.FromID, slot, price); err != nil {
		switch {
		case errors.Is(err, ErrInvalidSlot):
			return req.Reply(ctx, fmt.Sprintf("Please provide a URL ID between %d and %d.", MinSlot, MaxSlot))
		case errors.Is(err, ErrInvalidPrice):
			return req.Reply(ctx, "The target price must be greater than zero.")
		case errors.Is(err, ErrNotFound):
			return req.Reply(ctx, fmt.Sprintf("No URL set for ID %d. Use /seturl %d <url> first.", slot, slot))
		default:
			return err
		}
	}

	h.log.Info("target price set",
		logx.Int64("owner", req.FromID),
		logx.Int("slot", slot))

	// Evaluate the slot right away so the owner sees tracking work without
	// waiting for the next scheduled pass.
	reply := fmt.Sprintf("Target price for URL ID %d has been set to: %s %s",
		slot, price.String(), h.poller.Currency())
	current, notified, err := h.poller.CheckNow(ctx, req.FromID, slot)
	switch {
	case err != nil:
		reply += "\nCould not fetch the current price right now; I will keep checking."
	case notified:
		reply += fmt.Sprintf("\nGood news: the current price %s %s is already at or below your target!",
			current.String(), h.poller.Currency())
	default:
		reply += fmt.Sprintf("\nCurrent minimum price: %s %s.", current.String(), h.poller.Currency())
	}
	return req.Reply(ctx, reply)
}

func (h *Handlers) handleCurrentPrice(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 1 {
		return req.Reply(ctx, "Usage: /currentprice <url_id>")
	}
	slot, err := parseSlot(req.Args[0])
	if err != nil {
		return req.Reply(ctx, fmt.Sprintf("Please provide a URL ID between %d and %d.", MinSlot, MaxSlot))
	}

	price, err := h.poller.EvaluateOne(ctx, req.FromID, slot)
	if err != nil {
		switch {
		case errors.Is(err, ErrNotFound):
			return req.Reply(ctx, fmt.Sprintf("No URL set for ID %d. Use /seturl %d <url> first.", slot, slot))
		case errors.Is(err, extract.ErrUnavailable):
			return req.Reply(ctx, fmt.Sprintf("Could not fetch a price for URL ID %d right now. Try again later.", slot))
		default:
			return err
		}
	}

	return req.Reply(ctx, fmt.Sprintf("The current minimum price for URL ID %d is: %s %s",
		slot, price.String(), h.poller.Currency()))
}

func (h *Handlers) handleListURLs(ctx context.Context, req *router.Request) error {
	items := h.store.List(req.FromID)
	if len(items) == 0 {
		return req.Reply(ctx, "You are not tracking any URLs yet. Use /seturl <url_id> <url> to start.")
	}

	var b strings.Builder
	b.WriteString("Your tracked URLs:\n")
	for _, it := range items {
		fmt.Fprintf(&b, "%d: %s", it.Slot, it.URL)
		if it.Target != nil {
			fmt.Fprintf(&b, " (target: %s %s)", it.Target.String(), h.poller.Currency())
		} else {
			b.WriteString(" (no target price)")
		}
		b.WriteString("\n")
	}
	return req.Reply(ctx, strings.TrimRight(b.String(), "\n"))
}

func (h *Handlers) handleDeleteURL(ctx context.Context, req *router.Request) error {
	if len(req.Args) < 1 {
		return req.Reply(ctx, "Usage: /deleteurl <url_id>")
	}
	slot, err := parseSlot(req.Args[0])
	if err != nil {
		return req.Reply(ctx, fmt.Sprintf("Please provide a URL ID between %d and %d.", MinSlot, MaxSlot))
	}

	if err := h.store.Delete(req.FromID, slot); err != nil {
		switch {
		case errors.Is(err, ErrInvalidSlot):
			return req.Reply(ctx, fmt.Sprintf("Please provide a URL ID between %d and %d.", MinSlot, MaxSlot))
		case errors.Is(err, ErrNotFound):
			return req.Reply(ctx, fmt.Sprintf("No URL set for ID %d.", slot))
		default:
			return err
		}
	}

	h.log.Info("url deleted",
		logx.Int64("owner", req.FromID),
		logx.Int("slot", slot))
	return req.Reply(ctx, fmt.Sprintf("URL ID %d has been deleted.", slot))
}

func parseSlot(arg string) (int, error) {
	slot, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return 0, ErrInvalidSlot
	}
	if !validSlot(slot) {
		return 0, ErrInvalidSlot
	}
	return slot, nil
}
