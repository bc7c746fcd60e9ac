package scheduler

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"planner/internal/plan"
	"planner/internal/storage"
	"planner/internal/task/engine"
	logx "planner/pkg/logx"
)

// Add registers (or replaces) the plan name. Timing triggers are evaluated
// in the scheduler timezone.
func (s *Service) Add(name string, tr plan.Trigger, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	if tr == nil {
		return "", ErrNilTrigger
	}
	return s.add(&planDef{name: name, trigger: tr, timeout: timeout, opt: opt, job: job})
}

// AddSchedule registers an unbounded timing plan parsed from schedule
// (see plan.ParseSpec). Overlapping runs are skipped.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job Job) (string, error) {
	tr, err := plan.ParseTiming(schedule)
	if err != nil {
		return "", err
	}
	return s.Add(name, tr, timeout, TaskOptions{Overlap: OverlapSkipIfRunning}, job)
}

// AddOnce registers a plan that fires once at at. An instant already in the
// past fires as soon as the scheduler runs.
func (s *Service) AddOnce(name string, at time.Time, timeout time.Duration, job Job) (string, error) {
	now := s.now()
	due := !at.After(now)
	if due {
		at = now
	}
	tr, err := plan.Once(at)
	if err != nil {
		return "", err
	}
	return s.add(&planDef{name: name, trigger: tr, timeout: timeout, job: job, immediate: due})
}

// AddPlan registers a plan from its config descriptor. A bounded timing
// descriptor without an anchor reuses the anchor persisted for name (when
// the schedule is unchanged) or gets a new one, which is then persisted.
func (s *Service) AddPlan(ctx context.Context, name string, desc plan.Descriptor, timeout time.Duration, opt TaskOptions, job Job) (string, error) {
	if desc.Bounded() && desc.Anchor.IsZero() {
		anchor, err := s.resolveAnchor(ctx, strings.TrimSpace(name), desc)
		if err != nil {
			return "", fmt.Errorf("plan %q: %w", name, err)
		}
		desc.Anchor = anchor
	}
	tr, err := desc.Build(s.Location())
	if err != nil {
		return "", fmt.Errorf("plan %q: %w", name, err)
	}
	return s.add(&planDef{name: name, desc: &desc, trigger: tr, timeout: timeout, opt: opt, job: job})
}

func (s *Service) resolveAnchor(ctx context.Context, name string, desc plan.Descriptor) (time.Time, error) {
	fp := desc.Fingerprint()
	s.mu.Lock()
	prev := s.plans[name]
	s.mu.Unlock()
	if prev != nil && prev.desc != nil && prev.desc.Fingerprint() == fp && !prev.desc.Anchor.IsZero() {
		return prev.desc.Anchor, nil
	}
	if s.store != nil {
		a, ok, err := s.store.GetAnchor(ctx, name)
		switch {
		case err != nil:
			s.log.Warn("anchor lookup failed; starting a new count", logx.String("plan", name), logx.Err(err))
		case ok && a.Fingerprint == fp && !a.At.IsZero():
			return a.At, nil
		}
	}
	at, err := desc.DefaultAnchor(s.now())
	if err != nil {
		return time.Time{}, err
	}
	if s.store != nil {
		if err := s.store.PutAnchor(ctx, storage.Anchor{Plan: name, Fingerprint: fp, At: at}); err != nil {
			s.log.Warn("anchor persist failed", logx.String("plan", name), logx.Err(err))
		}
	}
	return at, nil
}

func (s *Service) add(d *planDef) (string, error) {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return "", ErrNameRequired
	}
	if d.job == nil {
		return "", ErrNilJob
	}
	if d.trigger == nil {
		return "", ErrNilTrigger
	}
	if d.state == nil {
		if s.engine != nil {
			d.state = s.engine.State(d.name)
		} else {
			d.state = &engine.RunState{}
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if old := s.plans[d.name]; old != nil {
		old.run.stop()
		old.run = nil
	}
	if tm, ok := d.trigger.(plan.Timing); ok {
		d.trigger = tm.WithLocation(s.loc)
	}
	s.plans[d.name] = d
	if s.running {
		if _, ok := d.trigger.(plan.Timing); ok {
			s.startLoopLocked(d)
		}
	}
	s.log.Debug("plan registered",
		logx.String("plan", d.name),
		logx.String("trigger", triggerString(d.trigger)),
		logx.Duration("timeout", d.timeout),
		logx.String("next", s.previewLocked(d, 3)),
	)
	return d.name, nil
}

// Remove unregisters name and stops its loop. It reports whether name existed.
func (s *Service) Remove(name string) bool {
	name = strings.TrimSpace(name)
	s.mu.Lock()
	d := s.plans[name]
	if d != nil {
		d.run.stop()
		d.run = nil
		delete(s.plans, name)
	}
	s.mu.Unlock()
	if d != nil {
		s.log.Debug("plan removed", logx.String("plan", name))
	}
	return d != nil
}

// Names returns registered plan names, sorted.
func (s *Service) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.plans))
	for n := range s.plans {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Preview returns up to n upcoming firings of a timing plan from now.
func (s *Service) Preview(name string, n int) ([]time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.plans[strings.TrimSpace(name)]
	if d == nil {
		return nil, fmt.Errorf("%w %q", ErrUnknownPlan, name)
	}
	tm, ok := d.trigger.(plan.Timing)
	if !ok {
		return nil, ErrNoNextDate
	}
	return tm.Upcoming(s.now(), n), nil
}

// History returns the most recent persisted firings of name, newest first.
func (s *Service) History(ctx context.Context, name string, limit int) ([]storage.FireRecord, error) {
	if s.store == nil {
		return nil, storage.ErrDisabled
	}
	return s.store.ListFires(ctx, strings.TrimSpace(name), limit)
}

func (s *Service) sortedPlansLocked() []*planDef {
	out := make([]*planDef, 0, len(s.plans))
	for _, d := range s.plans {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

// previewLocked renders the next n firings for debug logs.
func (s *Service) previewLocked(d *planDef, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	tm, ok := d.trigger.(plan.Timing)
	if !ok {
		return "at start"
	}
	var b strings.Builder
	for i, at := range tm.Upcoming(s.now(), n) {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(at.Format("2006-01-02 15:04:05"))
	}
	return b.String()
}

func triggerString(tr plan.Trigger) string {
	if st, ok := tr.(fmt.Stringer); ok {
		return st.String()
	}
	return plan.KindOf(tr).String()
}
