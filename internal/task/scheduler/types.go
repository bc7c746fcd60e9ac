package scheduler

import (
	"context"
	"errors"
	"time"

	"planner/internal/plan"
	"planner/internal/task/engine"
	"planner/pkg/timer"
)

var (
	ErrNameRequired = errors.New("plan name required")
	ErrNilJob       = errors.New("plan job is nil")
	ErrNilTrigger   = errors.New("plan trigger is nil")
	ErrUnknownPlan  = errors.New("unknown plan")
	ErrNoNextDate   = errors.New("start plans have no next date")
)

// Config controls the scheduler (trigger) service.
type Config struct {
	Enabled  bool
	Timezone string        // IANA TZ, e.g. "Europe/Berlin"; empty means Local
	Jitter   time.Duration // max random delay added to each timing firing
}

// Re-exported execution types.
type (
	OverlapPolicy = engine.OverlapPolicy
	TaskOptions   = engine.TaskOptions
	HistoryItem   = engine.HistoryItem
)

const (
	OverlapAllow         = engine.OverlapAllow
	OverlapSkipIfRunning = engine.OverlapSkipIfRunning
)

type Job = func(ctx context.Context) error

// planDef is a registered plan. Runtime fields are guarded by Service.mu.
type planDef struct {
	name    string
	desc    *plan.Descriptor // set when registered from config
	trigger plan.Trigger
	timeout time.Duration
	opt     TaskOptions
	job     Job
	state   *engine.RunState
	// immediate makes the first cycle fire at once (one-shots already due).
	immediate bool

	run       *planRun
	fired     uint64
	lastFire  time.Time
	lastErr   string
	nextAt    time.Time
	next      timer.Next
	exhausted bool
}

// planRun is one live timer loop of a timing plan.
type planRun struct {
	cancel context.CancelFunc
	tm     *timer.Timer
}

func (r *planRun) stop() {
	if r == nil {
		return
	}
	r.cancel()
	r.tm.Stop()
}

// PlanInfo describes a plan for diagnostics.
type PlanInfo struct {
	Name      string
	Kind      string
	Trigger   string
	Repeat    int // 0 = unbounded
	Anchor    time.Time
	Timeout   time.Duration
	Fired     uint64
	LastFire  time.Time
	LastError string
	Next      time.Time
	NextKind  string
	Exhausted bool
	Busy      bool
}

// FireEvent is the payload of plan.* bus events.
type FireEvent struct {
	ID          string    `json:"id"`
	Plan        string    `json:"plan"`
	Trigger     string    `json:"trigger"`
	Seq         uint64    `json:"seq"`
	ScheduledAt time.Time `json:"scheduled_at"`
	Next        string    `json:"next,omitempty"`
	Error       string    `json:"error,omitempty"`
}

type Snapshot struct {
	Enabled  bool
	Running  bool
	Timezone string
	Jitter   time.Duration

	Plans []PlanInfo

	// Effective retry defaults of the executor.
	RetryMax      int
	RetryBase     time.Duration
	RetryMaxDelay time.Duration
	RetryJitter   float64

	Engine engine.Snapshot
}
