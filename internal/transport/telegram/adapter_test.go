package telegram

import (
	"strings"
	"testing"
	"unicode/utf8"
)

func TestTruncateMessage(t *testing.T) {
	t.Parallel()

	if got := truncateMessage("short"); got != "short" {
		t.Fatalf("short text changed: %q", got)
	}

	exact := strings.Repeat("a", maxMessageLen)
	if got := truncateMessage(exact); got != exact {
		t.Fatalf("text at the limit must pass unchanged")
	}

	long := strings.Repeat("a", maxMessageLen+100)
	got := truncateMessage(long)
	if n := utf8.RuneCountInString(got); n != maxMessageLen {
		t.Fatalf("truncated length = %d runes, want %d", n, maxMessageLen)
	}
	if !strings.HasSuffix(got, "…") {
		t.Fatalf("truncated text should end with ellipsis: %q", got[len(got)-8:])
	}
}

func TestTruncateMessageKeepsRunesIntact(t *testing.T) {
	t.Parallel()

	// Multi-byte runes: byte length exceeds the limit well before the rune
	// count does, and a byte-offset cut would split a rune.
	long := strings.Repeat("ü", maxMessageLen-10)
	got := truncateMessage(long)
	if !utf8.ValidString(got) {
		t.Fatal("truncation produced invalid UTF-8")
	}
	if got != long {
		t.Fatalf("text under the character limit must pass unchanged (%d runes)", utf8.RuneCountInString(long))
	}

	over := strings.Repeat("ü", maxMessageLen+10)
	got = truncateMessage(over)
	if !utf8.ValidString(got) {
		t.Fatal("truncation produced invalid UTF-8")
	}
	if n := utf8.RuneCountInString(got); n != maxMessageLen {
		t.Fatalf("truncated length = %d runes, want %d", n, maxMessageLen)
	}
}
