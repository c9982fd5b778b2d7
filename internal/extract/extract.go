// Package extract fetches a listing page and pulls the lowest advertised
// price out of it.
package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/shopspring/decimal"

	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

// ErrUnavailable means the page could not be fetched or no price was found
// on it. Callers treat it as transient.
var ErrUnavailable = errors.New("extract: price unavailable")

const (
	defaultTimeout    = 10 * time.Second
	defaultPriceClass = "a53cbfa6de"
	// The site serves a different page layout to unknown clients; this UA
	// keeps the price markup stable.
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
		"(KHTML, like Gecko) Chrome/58.0.3029.110 Safari/537.3"
)

type Config struct {
	Timeout    time.Duration
	UserAgent  string
	PriceClass string
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	if c.UserAgent == "" {
		c.UserAgent = defaultUserAgent
	}
	if c.PriceClass == "" {
		c.PriceClass = defaultPriceClass
	}
	return c
}

// Client extracts prices from listing pages.
type Client struct {
	mu   sync.RWMutex
	cfg  Config
	http *http.Client
	log  logx.Logger
}

func New(cfg Config, log logx.Logger) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  log.With(logx.String("svc", "extract")),
	}
}

// Apply swaps the configuration at runtime.
func (c *Client) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	c.mu.Lock()
	c.cfg = cfg
	c.http = &http.Client{Timeout: cfg.Timeout}
	c.mu.Unlock()
}

func (c *Client) snapshot() (Config, *http.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg, c.http
}

// MinPrice fetches url and returns the lowest price advertised on the page.
//
// Listing prices appear as ranges like "€ 95,50 - € 120,00" inside elements
// carrying the configured price class; the low end of the cheapest range
// wins. Any fetch or parse problem maps to ErrUnavailable.
func (c *Client) MinPrice(ctx context.Context, url string) (decimal.Decimal, error) {
	cfg, httpc := c.snapshot()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: build request: %v", ErrUnavailable, err)
	}
	req.Header.Set("User-Agent", cfg.UserAgent)

	resp, err := httpc.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: fetch: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: parse html: %v", ErrUnavailable, err)
	}

	price, found := minPriceFromDoc(doc, cfg.PriceClass)
	if !found {
		return decimal.Decimal{}, fmt.Errorf("%w: no price elements matched", ErrUnavailable)
	}
	return price, nil
}

func minPriceFromDoc(doc *goquery.Document, class string) (decimal.Decimal, bool) {
	var min decimal.Decimal
	found := false

	doc.Find("div." + class).Each(func(_ int, sel *goquery.Selection) {
		text := strings.TrimSpace(sel.Text())
		if !strings.Contains(text, "€") || !strings.Contains(text, "-") {
			return
		}
		low, ok := parseRangeLow(text)
		if !ok {
			return
		}
		if !found || low.LessThan(min) {
			min = low
			found = true
		}
	})

	return min, found
}

// parseRangeLow takes "€ 95,50 - € 120,00" and returns 95.50. Texts that do
// not split into exactly two parts on "-" are rejected.
func parseRangeLow(text string) (decimal.Decimal, bool) {
	parts := strings.Split(text, "-")
	if len(parts) != 2 {
		return decimal.Decimal{}, false
	}
	low := strings.ReplaceAll(parts[0], "€", "")
	low = strings.ReplaceAll(low, ",", ".")
	low = strings.TrimSpace(low)
	if low == "" {
		return decimal.Decimal{}, false
	}
	d, err := decimal.NewFromString(low)
	if err != nil {
		return decimal.Decimal{}, false
	}
	return d, true
}
