package scheduler

import (
	"planner/internal/plan"
	"planner/internal/task/engine"
	"planner/pkg/timer"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	snap := Snapshot{
		Enabled:  s.cfg.Enabled,
		Running:  s.running,
		Timezone: s.loc.String(),
		Jitter:   s.cfg.Jitter,
	}
	for _, d := range s.sortedPlansLocked() {
		desc := plan.Describe(d.trigger)
		it := PlanInfo{
			Name:      d.name,
			Kind:      plan.KindOf(d.trigger).String(),
			Trigger:   triggerString(d.trigger),
			Anchor:    desc.Anchor,
			Timeout:   d.timeout,
			Fired:     d.fired,
			LastFire:  d.lastFire,
			LastError: d.lastErr,
			Exhausted: d.exhausted,
			Busy:      d.state != nil && d.state.Busy(),
		}
		if desc.Repeat != nil {
			it.Repeat = *desc.Repeat
		}
		if d.run != nil {
			it.Next = d.nextAt
			it.NextKind = d.next.Kind.String()
		} else if d.exhausted {
			it.NextKind = timer.NextNone.String()
		}
		snap.Plans = append(snap.Plans, it)
	}
	eng := s.engine
	s.mu.Unlock()

	if eng != nil {
		snap.Engine = eng.Snapshot()
		opt := engine.DefaultTaskOptions(eng.Config())
		snap.RetryMax = opt.RetryMax
		snap.RetryBase = opt.RetryBase
		snap.RetryMaxDelay = opt.RetryMaxDelay
		snap.RetryJitter = opt.RetryJitter
	}
	return snap
}
