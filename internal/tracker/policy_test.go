package tracker

import "testing"

func TestEvaluate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		observed string // "" = extraction failed
		item     Item
		notify   bool
	}{
		{
			name:     "at target notifies",
			observed: "100",
			item:     Item{Target: decPtr("100")},
			notify:   true,
		},
		{
			name:     "below target notifies",
			observed: "95.5",
			item:     Item{Target: decPtr("100")},
			notify:   true,
		},
		{
			name:     "above target silent",
			observed: "120",
			item:     Item{Target: decPtr("100")},
			notify:   false,
		},
		{
			name:     "repeat of last notified suppressed",
			observed: "95.5",
			item:     Item{Target: decPtr("100"), LastNotified: decPtr("95.5")},
			notify:   false,
		},
		{
			name:     "different drop after previous notification notifies",
			observed: "92",
			item:     Item{Target: decPtr("100"), LastNotified: decPtr("95.5")},
			notify:   true,
		},
		{
			name:     "equal value different scale still suppressed",
			observed: "95.50",
			item:     Item{Target: decPtr("100"), LastNotified: decPtr("95.5")},
			notify:   false,
		},
		{
			name:     "no target never notifies",
			observed: "1",
			item:     Item{},
			notify:   false,
		},
		{
			name:   "no observation never notifies",
			item:   Item{Target: decPtr("100"), LastNotified: decPtr("95.5")},
			notify: false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			var observed = tc.observed
			decision := Decision{}
			if observed == "" {
				decision = Evaluate(nil, tc.item)
			} else {
				d := dec(observed)
				decision = Evaluate(&d, tc.item)
			}
			if decision.Notify != tc.notify {
				t.Fatalf("Evaluate notify = %v, want %v", decision.Notify, tc.notify)
			}
		})
	}
}

func TestEvaluateRiseThenDropBackStaysSuppressed(t *testing.T) {
	t.Parallel()

	// 95.5 notified once; the price rises above target, then drops back to
	// exactly 95.5. Memory holds only the last notified price, so the
	// repeat stays suppressed.
	it := Item{Target: decPtr("100"), LastNotified: decPtr("95.5")}

	up := dec("120")
	if d := Evaluate(&up, it); d.Notify {
		t.Fatal("above target must not notify")
	}
	back := dec("95.5")
	if d := Evaluate(&back, it); d.Notify {
		t.Fatal("repeat of last notified price must stay suppressed")
	}

	// A different drop in between rewrites the memory and 95.5 would then
	// notify again.
	it.LastNotified = decPtr("92")
	if d := Evaluate(&back, it); !d.Notify {
		t.Fatal("95.5 should notify after a different price was notified")
	}
}
