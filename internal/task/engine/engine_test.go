package engine

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"planner/internal/eventbus"
	logx "planner/pkg/logx"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startEngine(t *testing.T, cfg Config) (*Service, eventbus.Bus) {
	t.Helper()
	cfg.Enabled = true
	bus := eventbus.New()
	s := New(cfg, logx.Nop(), bus)
	s.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.Stop(ctx)
	})
	return s, bus
}

func waitEvent(t *testing.T, ch <-chan eventbus.Event) eventbus.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for event")
		return eventbus.Event{}
	}
}

func TestEnqueueRunsTask(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	done, unsub := bus.Subscribe(4, eventbus.TaskFinished)
	defer unsub()

	var ran atomic.Bool
	if err := s.Enqueue(Task{Name: "hello", Run: func(context.Context) error { ran.Store(true); return nil }}); err != nil {
		t.Fatal(err)
	}
	ev := waitEvent(t, done).Data.(TaskEvent)
	if !ran.Load() || ev.Name != "hello" || ev.Attempts != 1 || ev.ID == "" {
		t.Fatalf("event = %+v, ran = %v", ev, ran.Load())
	}
}

func TestRetriesThenSucceeds(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1})
	done, unsub := bus.Subscribe(4, eventbus.TaskFinished, eventbus.TaskFailed)
	defer unsub()

	var calls atomic.Int32
	err := s.Enqueue(Task{
		Name: "flaky",
		Opt:  TaskOptions{RetryMax: 3, RetryBase: time.Millisecond, RetryMaxDelay: 5 * time.Millisecond},
		Run: func(context.Context) error {
			if calls.Add(1) < 3 {
				return errors.New("transient")
			}
			return nil
		},
	})
	if err != nil {
		t.Fatal(err)
	}
	e := waitEvent(t, done)
	if e.Type != eventbus.TaskFinished || e.Data.(TaskEvent).Attempts != 3 {
		t.Fatalf("event = %+v", e)
	}
}

func TestNoRetryStopsImmediately(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: 5})
	failed, unsub := bus.Subscribe(4, eventbus.TaskFailed)
	defer unsub()

	var calls atomic.Int32
	_ = s.Enqueue(Task{Name: "permanent", Run: func(context.Context) error {
		calls.Add(1)
		return NoRetry(errors.New("bad input"))
	}})
	ev := waitEvent(t, failed).Data.(TaskEvent)
	if calls.Load() != 1 || ev.Error != "bad input" {
		t.Fatalf("calls = %d, event = %+v", calls.Load(), ev)
	}
}

func TestPanicBecomesFailure(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: -1})
	failed, unsub := bus.Subscribe(4, eventbus.TaskFailed)
	defer unsub()

	_ = s.Enqueue(Task{Name: "panics", Run: func(context.Context) error { panic("kaboom") }})
	ev := waitEvent(t, failed).Data.(TaskEvent)
	if ev.Error != "panic: kaboom" {
		t.Fatalf("error = %q", ev.Error)
	}
}

func TestTimeoutCancelsRun(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: -1})
	failed, unsub := bus.Subscribe(4, eventbus.TaskFailed)
	defer unsub()

	_ = s.Enqueue(Task{Name: "slow", Timeout: 20 * time.Millisecond, Run: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})
	ev := waitEvent(t, failed).Data.(TaskEvent)
	if ev.Error != context.DeadlineExceeded.Error() {
		t.Fatalf("error = %q", ev.Error)
	}
}

func TestOverlapSkipAndQueueFull(t *testing.T) {
	t.Parallel()
	s, _ := startEngine(t, Config{Workers: 1, QueueSize: 1})

	started := make(chan struct{})
	release := make(chan struct{})
	block := func(context.Context) error {
		close(started)
		<-release
		return nil
	}
	noop := func(context.Context) error { return nil }

	if err := s.Enqueue(Task{Name: "long", Run: block}); err != nil {
		t.Fatal(err)
	}
	<-started
	if err := s.Enqueue(Task{Name: "long", Run: noop}); !errors.Is(err, ErrOverlapSkip) {
		t.Fatalf("err = %v, want ErrOverlapSkip", err)
	}
	if err := s.Enqueue(Task{Name: "a", Run: noop, Opt: TaskOptions{Overlap: OverlapAllow}}); err != nil {
		t.Fatal(err)
	}
	if err := s.Enqueue(Task{Name: "b", Run: noop, Opt: TaskOptions{Overlap: OverlapAllow}}); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
	close(release)

	if snap := s.Snapshot(); snap.DroppedQueueFull != 1 || !snap.Running {
		t.Fatalf("snapshot = %+v", snap)
	}
}

func TestCircuitOpensAfterConsecutiveFailures(t *testing.T) {
	t.Parallel()
	s, bus := startEngine(t, Config{Workers: 1, RetryMax: -1, CircuitTripFailures: 2, CircuitBaseDelay: time.Hour})
	failed, unsub := bus.Subscribe(4, eventbus.TaskFailed)
	defer unsub()

	fail := func(context.Context) error { return errors.New("down") }
	for i := 0; i < 2; i++ {
		if err := s.Enqueue(Task{Name: "remote", Run: fail}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
		waitEvent(t, failed)
	}
	// The gate is released after the failed event is published; poll briefly.
	deadline := time.Now().Add(2 * time.Second)
	for {
		err := s.Enqueue(Task{Name: "remote", Run: fail})
		if errors.Is(err, ErrCircuitOpen) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("err = %v, want ErrCircuitOpen", err)
		}
		time.Sleep(5 * time.Millisecond)
	}
	if snap := s.Snapshot(); snap.CircuitOpen != 1 {
		t.Fatalf("open circuits = %d", snap.CircuitOpen)
	}
}

func TestEnqueueStates(t *testing.T) {
	t.Parallel()
	noop := func(context.Context) error { return nil }

	off := New(Config{}, logx.Nop(), nil)
	if err := off.Enqueue(Task{Name: "x", Run: noop}); !errors.Is(err, ErrDisabled) {
		t.Fatalf("disabled: %v", err)
	}
	idle := New(Config{Enabled: true}, logx.Nop(), nil)
	if err := idle.Enqueue(Task{Name: "x", Run: noop}); !errors.Is(err, ErrStopped) {
		t.Fatalf("not started: %v", err)
	}
	if err := idle.Enqueue(Task{Name: "x"}); err == nil {
		t.Fatal("nil Run should fail")
	}
	if err := idle.Enqueue(Task{Run: noop}); err == nil {
		t.Fatal("empty name should fail")
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()
	opt := TaskOptions{RetryBase: 100 * time.Millisecond, RetryMaxDelay: time.Second}
	tests := []struct {
		retry int
		want  time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{4, 800 * time.Millisecond},
		{10, time.Second},
	}
	for _, tc := range tests {
		if got := backoffDelay(opt, tc.retry, nil); got != tc.want {
			t.Errorf("backoffDelay(%d) = %s, want %s", tc.retry, got, tc.want)
		}
	}
	hinted := RetryAfter(errors.New("429"), 5*time.Second)
	if got := backoffDelayWithHint(opt, 1, hinted, nil); got != time.Second {
		t.Errorf("hint should be capped: %s", got)
	}
}
