package timer

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	logx "planner/pkg/logx"
)

// NextKind classifies what follows a cycle.
type NextKind int

const (
	// NextNone means no further cycle will be produced.
	NextNone NextKind = iota
	// NextAt means the following cycle is due at Next.At.
	NextAt
	// NextUnknown means a following cycle exists but its instant is not fixed yet.
	NextUnknown
)

func (k NextKind) String() string {
	switch k {
	case NextNone:
		return "none"
	case NextAt:
		return "at"
	case NextUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("NextKind(%d)", int(k))
	}
}

// Next describes the cycle after the current one.
type Next struct {
	Kind NextKind
	At   time.Time // set only when Kind == NextAt
}

func (n Next) String() string {
	if n.Kind == NextAt {
		return "at " + n.At.Format(time.RFC3339)
	}
	return n.Kind.String()
}

type Option func(*Timer)

// WithImmediate makes the first cycle due at the time of the first Tick.
func WithImmediate() Option { return func(t *Timer) { t.immediate = true } }

// WithJitter delays each deadline by a random duration in [0,max).
// Cycles of a jittered timer report NextUnknown instead of NextAt.
func WithJitter(max time.Duration) Option { return func(t *Timer) { t.jitter = max } }

func WithLogger(log logx.Logger) Option { return func(t *Timer) { t.log = log } }

// WithName tags log lines and seeds jitter.
func WithName(name string) Option { return func(t *Timer) { t.name = name } }

var ErrNilSource = errors.New("timer: source is nil")

// Timer arms cycles from a Source. It is safe for concurrent use.
type Timer struct {
	src       Source
	immediate bool
	jitter    time.Duration
	name      string
	log       logx.Logger
	now       func() time.Time

	mu      sync.Mutex
	stopped bool
	started bool
	last    time.Time // last scheduled instant (before jitter)
	seq     uint64
	pending map[uint64]*Cycle
	rng     *rand.Rand
}

var seedSeq uint64

func New(src Source, opts ...Option) (*Timer, error) {
	if src == nil {
		return nil, ErrNilSource
	}
	if v, ok := src.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, err
		}
	}
	t := &Timer{src: src, now: time.Now, pending: map[uint64]*Cycle{}}
	for _, o := range opts {
		o(t)
	}
	if t.jitter < 0 {
		return nil, fmt.Errorf("timer: jitter must be >= 0 (got %s)", t.jitter)
	}
	if t.log.IsZero() {
		t.log = logx.Nop()
	}
	seed := time.Now().UnixNano() ^ int64(atomic.AddUint64(&seedSeq, 1)) ^ int64(fnv64a(t.name))
	t.rng = rand.New(rand.NewSource(seed))
	return t, nil
}

// Tick arms the next cycle and returns immediately.
//
// It returns nil when the timer is stopped or the source has no further
// instant. If ctx is already done the returned cycle is resolved to false.
func (t *Timer) Tick(ctx context.Context) *Cycle {
	if ctx == nil {
		ctx = context.Background()
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.stopped {
		return nil
	}

	now := t.now()
	var base time.Time
	if !t.started && t.immediate {
		base = now
	} else {
		// Never re-arm an instant at or before the previous one, and skip
		// instants that were missed while nobody was ticking. A cycle that
		// fired late only by its jitter is not a miss: the next instant is
		// still taken from the un-jittered one.
		after := t.last
		if now.After(t.last.Add(t.jitter)) {
			after = now
		}
		at, ok := t.src.Next(after)
		if !ok {
			t.stopped = true
			t.log.Debug("timer exhausted", logx.String("timer", t.name), logx.Uint64("cycles", t.seq))
			return nil
		}
		base = at
	}
	t.started = true
	t.last = base
	t.seq++

	c := &Cycle{t: t, seq: t.seq, deadline: base, done: make(chan struct{})}
	if t.jitter > 0 {
		c.deadline = base.Add(time.Duration(t.rng.Int63n(int64(t.jitter))))
	}
	switch at, ok := t.src.Next(base); {
	case !ok:
		c.next = Next{Kind: NextNone}
	case t.jitter > 0:
		c.next = Next{Kind: NextUnknown}
	default:
		c.next = Next{Kind: NextAt, At: at}
	}

	if ctx.Err() != nil {
		c.resolve(false)
		return c
	}

	t.pending[c.seq] = c
	delay := c.deadline.Sub(now)
	if delay < 0 {
		delay = 0
	}
	c.tm = time.AfterFunc(delay, func() { t.finish(c, true) })
	c.stopCtx = context.AfterFunc(ctx, func() { t.finish(c, false) })

	t.log.Trace("timer cycle armed",
		logx.String("timer", t.name),
		logx.Uint64("seq", c.seq),
		logx.Time("deadline", c.deadline),
		logx.String("next", c.next.String()),
	)
	return c
}

// Stop stops the timer permanently and resolves pending cycles to false.
// It is safe to call more than once.
func (t *Timer) Stop() {
	t.mu.Lock()
	t.stopped = true
	pending := make([]*Cycle, 0, len(t.pending))
	for _, c := range t.pending {
		pending = append(pending, c)
	}
	t.mu.Unlock()

	for _, c := range pending {
		t.finish(c, false)
	}
}

// Stopped reports whether Tick will return nil from now on.
func (t *Timer) Stopped() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.stopped
}

func (t *Timer) finish(c *Cycle, elapsed bool) {
	if !c.resolve(elapsed) {
		return
	}
	// tm/stopCtx are assigned under t.mu in Tick; a zero-delay timer can fire
	// before Tick returns.
	t.mu.Lock()
	tm, stopCtx := c.tm, c.stopCtx
	delete(t.pending, c.seq)
	t.mu.Unlock()
	if tm != nil {
		tm.Stop()
	}
	if stopCtx != nil {
		stopCtx()
	}
}

// Cycle is one armed wait.
type Cycle struct {
	t        *Timer
	seq      uint64
	deadline time.Time
	next     Next

	tm      *time.Timer
	stopCtx func() bool

	once    sync.Once
	done    chan struct{}
	elapsed bool
}

func (c *Cycle) resolve(elapsed bool) (first bool) {
	c.once.Do(func() {
		c.elapsed = elapsed
		close(c.done)
		first = true
	})
	return first
}

// Wait blocks until the cycle resolves. It returns true when the deadline
// elapsed and false when the cycle was canceled first.
func (c *Cycle) Wait() bool {
	<-c.done
	return c.elapsed
}

// Done is closed once the cycle resolves.
func (c *Cycle) Done() <-chan struct{} { return c.done }

// Deadline is the instant the cycle is due.
func (c *Cycle) Deadline() time.Time { return c.deadline }

// Next describes the cycle that will follow this one.
func (c *Cycle) Next() Next { return c.next }

// Seq is the 1-based index of the cycle within its timer.
func (c *Cycle) Seq() uint64 { return c.seq }

func fnv64a(s string) uint64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return h.Sum64()
}
