package timer

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestNewRejectsInvalidSources(t *testing.T) {
	t.Parallel()
	if _, err := New(nil); !errors.Is(err, ErrNilSource) {
		t.Fatalf("New(nil) err = %v, want ErrNilSource", err)
	}
	if _, err := New(Every(0)); !errors.Is(err, ErrInvalidInterval) {
		t.Fatalf("New(Every(0)) err = %v, want ErrInvalidInterval", err)
	}
	if _, err := New(Every(time.Second), WithJitter(-time.Second)); err == nil {
		t.Fatal("expected error for negative jitter")
	}
}

func TestCycleElapsesNaturally(t *testing.T) {
	t.Parallel()
	tm, err := New(Every(10 * time.Millisecond))
	if err != nil {
		t.Fatal(err)
	}
	defer tm.Stop()

	c := tm.Tick(context.Background())
	if c == nil {
		t.Fatal("Tick returned nil")
	}
	if !c.Wait() {
		t.Fatal("Wait() = false, want true")
	}
	if c.Seq() != 1 {
		t.Fatalf("Seq = %d, want 1", c.Seq())
	}
}

func TestCycleCanceledBeforeDeadline(t *testing.T) {
	t.Parallel()
	tm, err := New(Every(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	defer tm.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	c := tm.Tick(ctx)
	cancel()

	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("cycle did not resolve after cancel")
	}
	if c.Wait() {
		t.Fatal("Wait() = true, want false after cancel")
	}
	if tm.Stopped() {
		t.Fatal("canceling a cycle must not stop the timer")
	}
}

func TestTickWithDoneContextResolvesFalse(t *testing.T) {
	t.Parallel()
	tm, err := New(Every(time.Millisecond), WithImmediate())
	if err != nil {
		t.Fatal(err)
	}
	defer tm.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	c := tm.Tick(ctx)
	if c == nil {
		t.Fatal("Tick returned nil")
	}
	if c.Wait() {
		t.Fatal("Wait() = true, want false for an already canceled context")
	}
}

func TestStopResolvesPendingAndReturnsNil(t *testing.T) {
	t.Parallel()
	tm, err := New(Every(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	c := tm.Tick(context.Background())
	tm.Stop()
	if c.Wait() {
		t.Fatal("pending cycle should resolve false on Stop")
	}
	for i := 0; i < 3; i++ {
		if got := tm.Tick(context.Background()); got != nil {
			t.Fatalf("Tick after Stop #%d = %v, want nil", i, got)
		}
	}
	tm.Stop()
}

func TestNextDescriptor(t *testing.T) {
	t.Parallel()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	instants := []time.Time{base.Add(time.Hour), base.Add(2 * time.Hour)}
	src := SourceFunc(func(after time.Time) (time.Time, bool) {
		for _, at := range instants {
			if at.After(after) {
				return at, true
			}
		}
		return time.Time{}, false
	})

	tm, err := New(src)
	if err != nil {
		t.Fatal(err)
	}
	defer tm.Stop()
	tm.now = func() time.Time { return base }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	c1 := tm.Tick(ctx)
	if !c1.Deadline().Equal(instants[0]) {
		t.Fatalf("deadline = %v, want %v", c1.Deadline(), instants[0])
	}
	if n := c1.Next(); n.Kind != NextAt || !n.At.Equal(instants[1]) {
		t.Fatalf("next = %v, want at %v", n, instants[1])
	}

	c2 := tm.Tick(ctx)
	if !c2.Deadline().Equal(instants[1]) {
		t.Fatalf("second deadline = %v, want %v", c2.Deadline(), instants[1])
	}
	if n := c2.Next(); n.Kind != NextNone {
		t.Fatalf("next = %v, want none", n)
	}

	if c3 := tm.Tick(ctx); c3 != nil {
		t.Fatal("exhausted source should return nil")
	}
	if !tm.Stopped() {
		t.Fatal("exhausted timer should report Stopped")
	}
	cancel()
	if c1.Wait() || c2.Wait() {
		t.Fatal("canceled cycles should resolve false")
	}
}

func TestJitterMakesNextUnknown(t *testing.T) {
	t.Parallel()
	tm, err := New(Every(time.Hour), WithJitter(time.Minute), WithName("jitter"))
	if err != nil {
		t.Fatal(err)
	}
	defer tm.Stop()

	start := time.Now()
	c := tm.Tick(context.Background())
	if c.Next().Kind != NextUnknown {
		t.Fatalf("next kind = %v, want unknown", c.Next().Kind)
	}
	lo := start.Add(time.Hour)
	hi := time.Now().Add(time.Hour + time.Minute)
	if c.Deadline().Before(lo) || !c.Deadline().Before(hi) {
		t.Fatalf("deadline %v outside [%v,%v)", c.Deadline(), lo, hi)
	}
}

func TestImmediateFirstCycle(t *testing.T) {
	t.Parallel()
	tm, err := New(Every(time.Hour), WithImmediate())
	if err != nil {
		t.Fatal(err)
	}
	defer tm.Stop()

	c := tm.Tick(context.Background())
	select {
	case <-c.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("immediate cycle did not fire")
	}
	if !c.Wait() {
		t.Fatal("immediate cycle should elapse")
	}
	if n := c.Next(); n.Kind != NextAt || !n.At.Equal(c.Deadline().Add(time.Hour)) {
		t.Fatalf("next = %v, want deadline+1h", n)
	}
}

func TestCanceledCycleIsNotRearmed(t *testing.T) {
	t.Parallel()
	tm, err := New(Every(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	defer tm.Stop()

	ctx, cancel := context.WithCancel(context.Background())
	first := tm.Tick(ctx)
	cancel()
	first.Wait()

	second := tm.Tick(context.Background())
	if !second.Deadline().After(first.Deadline()) {
		t.Fatalf("second deadline %v should be after canceled %v", second.Deadline(), first.Deadline())
	}
}

func TestJitterDoesNotShiftGrid(t *testing.T) {
	t.Parallel()
	tm, err := New(Every(time.Hour), WithJitter(10*time.Minute), WithName("grid"))
	if err != nil {
		t.Fatal(err)
	}
	defer tm.Stop()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := base
	tm.now = func() time.Time { return clock }
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	for i := 1; i <= 4; i++ {
		c := tm.Tick(ctx)
		slot := base.Add(time.Duration(i) * time.Hour)
		if d := c.Deadline(); d.Before(slot) || !d.Before(slot.Add(10*time.Minute)) {
			t.Fatalf("cycle %d deadline %v outside [%v, +10m)", i, d, slot)
		}
		// the cycle fires at its jittered deadline
		clock = c.Deadline()
	}

	// Ticking well past the jitter window skips the missed slots.
	clock = base.Add(4*time.Hour + 30*time.Minute)
	c := tm.Tick(ctx)
	slot := clock.Add(time.Hour)
	if d := c.Deadline(); d.Before(slot) || !d.Before(slot.Add(10*time.Minute)) {
		t.Fatalf("deadline after a miss = %v, want within [%v, +10m)", c.Deadline(), slot)
	}
}
