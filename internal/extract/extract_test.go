package extract

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

func servePage(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestMinPricePicksLowestRange(t *testing.T) {
	t.Parallel()

	srv := servePage(t, `
<html><body>
  <div class="a53cbfa6de">€ 120,00 - € 150,00</div>
  <div class="a53cbfa6de">€ 95,50 - € 110,00</div>
  <div class="a53cbfa6de">no price here</div>
  <div class="other">€ 10,00 - € 20,00</div>
</body></html>`)

	c := New(Config{}, logx.Nop())
	got, err := c.MinPrice(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("MinPrice: %v", err)
	}
	if got.String() != "95.5" {
		t.Fatalf("MinPrice = %s, want 95.5", got)
	}
}

func TestMinPriceCustomClass(t *testing.T) {
	t.Parallel()

	srv := servePage(t, `<div class="price-tag">€ 42,00 - € 60,00</div>`)

	c := New(Config{PriceClass: "price-tag"}, logx.Nop())
	got, err := c.MinPrice(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("MinPrice: %v", err)
	}
	if got.String() != "42" {
		t.Fatalf("MinPrice = %s, want 42", got)
	}
}

func TestMinPriceTrailingEuroSign(t *testing.T) {
	t.Parallel()

	// The currency sign may trail the number; it is stripped wherever it sits.
	srv := servePage(t, `<div class="a53cbfa6de">95,50 € - 110,00 €</div>`)

	c := New(Config{}, logx.Nop())
	got, err := c.MinPrice(context.Background(), srv.URL)
	if err != nil {
		t.Fatalf("MinPrice: %v", err)
	}
	if got.String() != "95.5" {
		t.Fatalf("MinPrice = %s, want 95.5", got)
	}
}

func TestMinPriceUnavailable(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		body string
	}{
		{"empty page", "<html><body></body></html>"},
		{"no euro sign", `<div class="a53cbfa6de">95,50 - 110,00</div>`},
		{"no range dash", `<div class="a53cbfa6de">€ 95,50</div>`},
		{"garbage number", `<div class="a53cbfa6de">€ abc - € def</div>`},
		{"too many dashes", `<div class="a53cbfa6de">€ 95,50 - € 110,00 - € 120,00</div>`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := servePage(t, tc.body)
			c := New(Config{}, logx.Nop())
			if _, err := c.MinPrice(context.Background(), srv.URL); !errors.Is(err, ErrUnavailable) {
				t.Fatalf("MinPrice = %v, want ErrUnavailable", err)
			}
		})
	}
}

func TestMinPriceHTTPError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusServiceUnavailable)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{}, logx.Nop())
	if _, err := c.MinPrice(context.Background(), srv.URL); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("MinPrice = %v, want ErrUnavailable", err)
	}
}

func TestMinPriceHonorsContext(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	c := New(Config{}, logx.Nop())
	if _, err := c.MinPrice(ctx, srv.URL); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("MinPrice = %v, want ErrUnavailable", err)
	}
}

func TestMinPriceSendsUserAgent(t *testing.T) {
	t.Parallel()

	gotUA := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA <- r.Header.Get("User-Agent")
		fmt.Fprint(w, `<div class="a53cbfa6de">€ 1,00 - € 2,00</div>`)
	}))
	t.Cleanup(srv.Close)

	c := New(Config{UserAgent: "test-agent/1.0"}, logx.Nop())
	if _, err := c.MinPrice(context.Background(), srv.URL); err != nil {
		t.Fatalf("MinPrice: %v", err)
	}
	if ua := <-gotUA; ua != "test-agent/1.0" {
		t.Fatalf("User-Agent = %q", ua)
	}
}
