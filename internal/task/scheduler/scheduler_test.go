package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/runasharp/telegram-hotel-bot/internal/runtime/supervisor"
	"github.com/runasharp/telegram-hotel-bot/pkg/logx"
)

func newTestService(t *testing.T) (*Service, *supervisor.Supervisor) {
	t.Helper()
	sup := supervisor.New(context.Background())
	svc, err := New(logx.Nop(), sup, Config{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = svc.Stop(ctx)
		_ = sup.Stop()
	})
	return svc, sup
}

func TestRunStateOverlap(t *testing.T) {
	t.Parallel()

	var st RunState
	if !st.TryBegin() {
		t.Fatal("first TryBegin should succeed")
	}
	if st.TryBegin() {
		t.Fatal("second TryBegin should fail while running")
	}
	st.End()
	if !st.TryBegin() {
		t.Fatal("TryBegin after End should succeed")
	}
}

func TestFirstThenEverySchedule(t *testing.T) {
	t.Parallel()

	base := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := &firstThenEvery{first: base.Add(10 * time.Second), every: 150 * time.Second}

	got := s.Next(base)
	if want := base.Add(10 * time.Second); !got.Equal(want) {
		t.Fatalf("first activation = %v, want %v", got, want)
	}
	// cron calls Next with the activation time after each fire.
	got = s.Next(base.Add(10 * time.Second))
	if want := base.Add(160 * time.Second); !got.Equal(want) {
		t.Fatalf("second activation = %v, want %v", got, want)
	}
	got = s.Next(base.Add(160 * time.Second))
	if want := base.Add(310 * time.Second); !got.Equal(want) {
		t.Fatalf("third activation = %v, want %v", got, want)
	}
}

func TestAddIntervalValidation(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	if err := svc.AddInterval("", time.Second, func(context.Context) error { return nil }); err == nil {
		t.Fatal("empty name should be rejected")
	}
	if err := svc.AddInterval("x", 0, func(context.Context) error { return nil }); err == nil {
		t.Fatal("zero interval should be rejected")
	}
	if err := svc.AddInterval("x", time.Second, nil); err == nil {
		t.Fatal("nil func should be rejected")
	}
}

func TestAddIntervalUpsertAndRemove(t *testing.T) {
	t.Parallel()
	svc, _ := newTestService(t)

	noop := func(context.Context) error { return nil }
	if err := svc.AddInterval("poll", time.Hour, noop); err != nil {
		t.Fatalf("AddInterval: %v", err)
	}
	if err := svc.AddInterval("poll", 2*time.Hour, noop); err != nil {
		t.Fatalf("AddInterval (replace): %v", err)
	}

	snap := svc.Snapshot()
	if len(snap) != 1 {
		t.Fatalf("expected 1 task after upsert, got %d", len(snap))
	}
	if snap[0].Name != "poll" || snap[0].Every != 2*time.Hour {
		t.Fatalf("snapshot = %+v", snap[0])
	}

	svc.Remove("poll")
	if snap := svc.Snapshot(); len(snap) != 0 {
		t.Fatalf("expected 0 tasks after remove, got %d", len(snap))
	}
}

func TestRunTaskSkipsWhileRunning(t *testing.T) {
	t.Parallel()
	svc, sup := newTestService(t)

	release := make(chan struct{})
	started := make(chan struct{})
	if err := svc.AddIntervalOpt("slow", time.Hour, TaskOptions{Overlap: OverlapSkipIfRunning}, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	}); err != nil {
		t.Fatalf("AddIntervalOpt: %v", err)
	}

	svc.mu.Lock()
	def := svc.tasks["slow"]
	svc.mu.Unlock()

	svc.runTask(def)
	<-started

	// Second tick while the first is still running must be skipped.
	svc.runTask(def)
	if got := def.skipped.Load(); got != 1 {
		t.Fatalf("skipped = %d, want 1", got)
	}

	close(release)
	_ = sup.Stop()
	if got := def.runs.Load(); got != 1 {
		t.Fatalf("runs = %d, want 1", got)
	}
}
