package scheduler

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"planner/internal/eventbus"
	"planner/internal/plan"
	rtsup "planner/internal/runtime/supervisor"
	"planner/internal/storage"
	"planner/internal/task/engine"
	logx "planner/pkg/logx"
)

type Service struct {
	mu sync.Mutex

	log   logx.Logger
	cfg   Config
	loc   *time.Location
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service

	sup     *rtsup.Supervisor
	running bool
	// wanted is set between Start and Stop; Apply uses it to (re)start a
	// scheduler that was disabled when Start ran.
	wanted bool

	plans map[string]*planDef
	// booted is set by the first effective Start; start plans fire only then.
	booted bool

	enqMu   sync.Mutex
	enqWarn map[string]*rate.Limiter

	now func() time.Time
}

func New(cfg Config, eng *engine.Service, store storage.Store, log logx.Logger, bus eventbus.Bus) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Service{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "scheduler")),
		bus:     bus,
		store:   store,
		engine:  eng,
		plans:   map[string]*planDef{},
		enqWarn: map[string]*rate.Limiter{},
		now:     time.Now,
	}
	s.loc = s.loadLocationLocked()
	return s
}

// Enabled reports the current config flag.
func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Location is the timezone plans are evaluated in.
func (s *Service) Location() *time.Location {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loc
}

// Apply swaps the configuration. A timezone or jitter change restarts every
// timer loop; disabling stops them.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	running, wanted := s.running, s.wanted
	tzChanged := strings.TrimSpace(prev.Timezone) != strings.TrimSpace(cfg.Timezone)
	if tzChanged {
		s.loc = s.loadLocationLocked()
		s.rebuildTriggersLocked()
	}
	if running && cfg.Enabled && (tzChanged || prev.Jitter != cfg.Jitter) {
		s.restartLocked()
	}
	s.mu.Unlock()

	switch {
	case running && !cfg.Enabled:
		s.halt(context.Background())
		s.log.Info("scheduler disabled")
	case !running && wanted && cfg.Enabled:
		s.Start(context.Background())
	}
}

// Start launches timer loops for timing plans. The first Start that finds
// the scheduler enabled also fires every registered start plan; later ones
// do not.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	s.wanted = true
	if s.running {
		s.mu.Unlock()
		return
	}
	if !s.cfg.Enabled {
		s.mu.Unlock()
		s.log.Info("scheduler disabled; not starting")
		return
	}
	s.sup = rtsup.New(context.WithoutCancel(ctx), rtsup.WithLogger(s.log))
	s.running = true

	var starts []*planDef
	for _, d := range s.sortedPlansLocked() {
		switch d.trigger.(type) {
		case plan.Timing:
			s.startLoopLocked(d)
		case plan.Start:
			if !s.booted {
				starts = append(starts, d)
			}
		}
	}
	s.booted = true
	loc := s.loc
	n := len(s.plans)
	s.mu.Unlock()

	for _, d := range starts {
		s.fireStart(ctx, d)
	}
	s.log.Info("scheduler started", logx.String("tz", loc.String()), logx.Int("plans", n), logx.Int("start_plans", len(starts)))
}

// Stop stops every timer loop and waits for them until ctx is done.
// Registered plans are kept for the next Start.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	s.wanted = false
	s.mu.Unlock()
	s.halt(ctx)
}

func (s *Service) halt(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	for _, d := range s.plans {
		d.run.stop()
		d.run = nil
	}
	sup := s.sup
	s.sup = nil
	s.mu.Unlock()

	if err := sup.Stop(ctx); err != nil {
		s.log.Warn("scheduler stop incomplete", logx.Err(err))
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) restartLocked() {
	for _, d := range s.plans {
		d.run.stop()
		d.run = nil
		if _, ok := d.trigger.(plan.Timing); ok {
			s.startLoopLocked(d)
		}
	}
	s.log.Info("scheduler loops restarted", logx.String("tz", s.loc.String()), logx.Int("plans", len(s.plans)))
}

// rebuildTriggersLocked moves every timing trigger into s.loc.
func (s *Service) rebuildTriggersLocked() {
	for _, d := range s.plans {
		if d.desc == nil {
			if tm, ok := d.trigger.(plan.Timing); ok {
				d.trigger = tm.WithLocation(s.loc)
			}
			continue
		}
		tr, err := d.desc.Build(s.loc)
		if err != nil {
			s.log.Error("plan rebuild failed", logx.String("plan", d.name), logx.Err(err))
			continue
		}
		d.trigger = tr
	}
}

func (s *Service) loadLocationLocked() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}
