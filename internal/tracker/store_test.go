package tracker

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }
func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func TestSetURLValidation(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if err := s.SetURL(1, 0, "https://example.com"); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("slot 0: %v", err)
	}
	if err := s.SetURL(1, 11, "https://example.com"); !errors.Is(err, ErrInvalidSlot) {
		t.Fatalf("slot 11: %v", err)
	}
	if err := s.SetURL(1, 3, "   "); !errors.Is(err, ErrInvalidURL) {
		t.Fatalf("blank url: %v", err)
	}
	if err := s.SetURL(1, 3, "https://example.com"); err != nil {
		t.Fatalf("valid: %v", err)
	}
}

func TestSetURLReplacesAndResets(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if err := s.SetURL(1, 2, "https://a.example"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTargetPrice(1, 2, dec("100")); err != nil {
		t.Fatal(err)
	}
	if !s.RecordNotified(1, 2, "https://a.example", decPtr("100"), dec("90")) {
		t.Fatal("RecordNotified should apply")
	}

	// New URL on the same slot wipes target and notification memory.
	if err := s.SetURL(1, 2, "https://b.example"); err != nil {
		t.Fatal(err)
	}
	it, err := s.Get(1, 2)
	if err != nil {
		t.Fatal(err)
	}
	if it.URL != "https://b.example" || it.Target != nil || it.LastNotified != nil {
		t.Fatalf("item after replace = %+v", it)
	}
}

func TestSetTargetPrice(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if err := s.SetTargetPrice(1, 1, dec("50")); !errors.Is(err, ErrNotFound) {
		t.Fatalf("no url yet: %v", err)
	}
	if err := s.SetURL(1, 1, "https://example.com"); err != nil {
		t.Fatal(err)
	}
	if err := s.SetTargetPrice(1, 1, dec("0")); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("zero price: %v", err)
	}
	if err := s.SetTargetPrice(1, 1, dec("-5")); !errors.Is(err, ErrInvalidPrice) {
		t.Fatalf("negative price: %v", err)
	}
	if err := s.SetTargetPrice(1, 1, dec("99.5")); err != nil {
		t.Fatal(err)
	}

	it, _ := s.Get(1, 1)
	if it.Target == nil || !it.Target.Equal(dec("99.5")) {
		t.Fatalf("target = %v", it.Target)
	}
}

func TestSetTargetPriceResetsNotificationMemory(t *testing.T) {
	t.Parallel()
	s := NewStore()

	_ = s.SetURL(7, 4, "https://example.com")
	_ = s.SetTargetPrice(7, 4, dec("100"))
	s.RecordNotified(7, 4, "https://example.com", decPtr("100"), dec("95"))

	if err := s.SetTargetPrice(7, 4, dec("90")); err != nil {
		t.Fatal(err)
	}
	it, _ := s.Get(7, 4)
	if it.LastNotified != nil {
		t.Fatalf("LastNotified should be cleared, got %v", it.LastNotified)
	}
}

func TestListAscendingSlotOrder(t *testing.T) {
	t.Parallel()
	s := NewStore()

	_ = s.SetURL(5, 3, "https://c.example")
	_ = s.SetURL(5, 1, "https://a.example")

	items := s.List(5)
	if len(items) != 2 || items[0].Slot != 1 || items[1].Slot != 3 {
		t.Fatalf("List = %+v", items)
	}

	if got := s.List(999); len(got) != 0 {
		t.Fatalf("List(unknown owner) = %+v", got)
	}
}

func TestDelete(t *testing.T) {
	t.Parallel()
	s := NewStore()

	if err := s.Delete(1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("delete missing: %v", err)
	}
	_ = s.SetURL(1, 1, "https://example.com")
	if err := s.Delete(1, 1); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Get(1, 1); !errors.Is(err, ErrNotFound) {
		t.Fatalf("get after delete: %v", err)
	}
}

func TestOwnersAreIsolated(t *testing.T) {
	t.Parallel()
	s := NewStore()

	_ = s.SetURL(1, 1, "https://one.example")
	_ = s.SetURL(2, 1, "https://two.example")

	a, _ := s.Get(1, 1)
	b, _ := s.Get(2, 1)
	if a.URL == b.URL {
		t.Fatal("owners must not share slots")
	}

	all := s.All()
	if len(all) != 2 || all[0].Owner != 1 || all[1].Owner != 2 {
		t.Fatalf("All = %+v", all)
	}
}

func TestRecordNotifiedCAS(t *testing.T) {
	t.Parallel()
	s := NewStore()

	_ = s.SetURL(1, 1, "https://example.com")
	_ = s.SetTargetPrice(1, 1, dec("100"))

	// Stale URL: rejected.
	if s.RecordNotified(1, 1, "https://old.example", decPtr("100"), dec("90")) {
		t.Fatal("stale url must be rejected")
	}
	// Stale target: rejected.
	if s.RecordNotified(1, 1, "https://example.com", decPtr("80"), dec("70")) {
		t.Fatal("stale target must be rejected")
	}
	// Deleted item: rejected.
	if s.RecordNotified(2, 1, "https://example.com", decPtr("100"), dec("90")) {
		t.Fatal("missing item must be rejected")
	}
	// Matching snapshot: applied.
	if !s.RecordNotified(1, 1, "https://example.com", decPtr("100"), dec("90")) {
		t.Fatal("matching snapshot must apply")
	}
	it, _ := s.Get(1, 1)
	if it.LastNotified == nil || !it.LastNotified.Equal(dec("90")) {
		t.Fatalf("LastNotified = %v", it.LastNotified)
	}
}

func TestGetReturnsCopies(t *testing.T) {
	t.Parallel()
	s := NewStore()

	_ = s.SetURL(1, 1, "https://example.com")
	_ = s.SetTargetPrice(1, 1, dec("100"))

	it, _ := s.Get(1, 1)
	mutated := dec("1")
	it.Target = &mutated

	again, _ := s.Get(1, 1)
	if !again.Target.Equal(dec("100")) {
		t.Fatal("Get must return a copy, not the stored pointer")
	}
}
