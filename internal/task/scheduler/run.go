package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"planner/internal/eventbus"
	"planner/internal/plan"
	rtsup "planner/internal/runtime/supervisor"
	"planner/internal/storage"
	"planner/internal/task/engine"
	logx "planner/pkg/logx"
	"planner/pkg/timer"
)

// startLoopLocked arms a timer over d's trigger and runs it under the
// supervisor. Caller holds s.mu and s.running is true.
func (s *Service) startLoopLocked(d *planDef) {
	tm, ok := d.trigger.(plan.Timing)
	if !ok || s.sup == nil {
		return
	}
	opts := []timer.Option{
		timer.WithName("plan." + d.name),
		timer.WithLogger(s.log),
		timer.WithJitter(s.cfg.Jitter),
	}
	if d.immediate && d.fired == 0 {
		opts = append(opts, timer.WithImmediate())
	}
	tmr, err := timer.New(plan.AsSource(tm), opts...)
	if err != nil {
		s.log.Error("plan timer rejected", logx.String("plan", d.name), logx.Err(err))
		return
	}
	ctx, cancel := context.WithCancel(s.sup.Context())
	r := &planRun{cancel: cancel, tm: tmr}
	d.run = r
	d.exhausted = false
	s.sup.GoRestart("plan."+d.name, func(context.Context) error {
		return s.loop(ctx, d, r)
	}, rtsup.WithRestartBackoff(time.Second, time.Minute))
}

// loop waits on successive cycles and fires d when one elapses. It returns
// nil when the plan is stopped or its trigger has no further date.
func (s *Service) loop(ctx context.Context, d *planDef, r *planRun) error {
	for {
		c := r.tm.Tick(ctx)
		if c == nil {
			if ctx.Err() == nil && r.tm.Stopped() {
				s.exhaust(d, r)
			}
			return nil
		}
		s.mu.Lock()
		if d.run == r {
			d.nextAt = c.Deadline()
			d.next = c.Next()
		}
		s.mu.Unlock()

		if !c.Wait() {
			if ctx.Err() != nil {
				return nil
			}
			continue
		}
		s.fire(ctx, d, plan.KindTiming, c.Deadline(), c.Next())
	}
}

func (s *Service) exhaust(d *planDef, r *planRun) {
	s.mu.Lock()
	if d.run != r {
		s.mu.Unlock()
		return
	}
	d.exhausted = true
	d.run = nil
	d.nextAt = time.Time{}
	d.next = timer.Next{Kind: timer.NextNone}
	fired := d.fired
	s.mu.Unlock()
	r.cancel()

	s.log.Info("plan exhausted", logx.String("plan", d.name), logx.Uint64("fired", fired))
	s.publish(eventbus.PlanExhausted, FireEvent{Plan: d.name, Trigger: plan.KindTiming.String(), Seq: fired})
}

func (s *Service) fireStart(ctx context.Context, d *planDef) {
	s.fire(ctx, d, plan.KindStart, s.now(), timer.Next{Kind: timer.NextNone})
}

// fire hands one firing of d to the engine, then records and announces it.
func (s *Service) fire(ctx context.Context, d *planDef, kind plan.Kind, scheduled time.Time, next timer.Next) {
	id := uuid.NewString()
	now := s.now()

	s.mu.Lock()
	d.fired++
	seq := d.fired
	d.lastFire = now
	name, job, timeout, opt, st := d.name, d.job, d.timeout, d.opt, d.state
	s.mu.Unlock()

	err := errors.New("no engine")
	if s.engine != nil {
		err = s.engine.Enqueue(engine.Task{
			ID:      id,
			Name:    name,
			Key:     name,
			Timeout: timeout,
			Run:     job,
			Opt:     opt,
			State:   st,
		})
	}

	rec := storage.FireRecord{
		ID:          id,
		Plan:        name,
		Trigger:     kind.String(),
		Seq:         seq,
		ScheduledAt: scheduled,
		FiredAt:     now,
		Outcome:     storage.OutcomeEnqueued,
	}
	ev := FireEvent{ID: id, Plan: name, Trigger: kind.String(), Seq: seq, ScheduledAt: scheduled, Next: next.String()}

	switch {
	case err == nil:
		s.setLastErr(d, "")
		typ := eventbus.PlanFired
		if kind == plan.KindStart {
			typ = eventbus.PlanStartFired
		}
		s.publish(typ, ev)
		s.log.Debug("plan fired",
			logx.String("plan", name), logx.String("id", id), logx.Uint64("seq", seq), logx.String("next", next.String()))
	case errors.Is(err, engine.ErrOverlapSkip):
		rec.Outcome = storage.OutcomeSkipped
		rec.Error = err.Error()
		s.log.Debug("plan skipped: previous run still active", logx.String("plan", name), logx.Uint64("seq", seq))
	default:
		rec.Outcome = storage.OutcomeFailed
		rec.Error = err.Error()
		ev.Error = err.Error()
		s.setLastErr(d, err.Error())
		s.publish(eventbus.PlanMissed, ev)
		s.reportEnqueueError(name, seq, err)
	}

	if s.store != nil {
		if werr := s.store.RecordFire(context.WithoutCancel(ctx), rec); werr != nil {
			s.log.Warn("fire record failed", logx.String("plan", name), logx.Err(werr))
		}
	}
}

func (s *Service) setLastErr(d *planDef, msg string) {
	s.mu.Lock()
	d.lastErr = msg
	s.mu.Unlock()
}

func (s *Service) publish(typ string, ev FireEvent) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Time: s.now(), Data: ev})
}
