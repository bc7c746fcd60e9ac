package scheduler

import (
	"time"

	"golang.org/x/time/rate"

	logx "planner/pkg/logx"
)

const enqueueWarnEvery = 5 * time.Second

// reportEnqueueError warns about a firing the engine refused. Queue-full and
// stopping errors come in bursts, so warnings are limited per plan.
func (s *Service) reportEnqueueError(name string, seq uint64, err error) {
	s.enqMu.Lock()
	lim := s.enqWarn[name]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(enqueueWarnEvery), 1)
		s.enqWarn[name] = lim
	}
	s.enqMu.Unlock()

	if !lim.Allow() {
		return
	}
	s.log.Warn("plan failed to enqueue task",
		logx.String("plan", name), logx.Uint64("seq", seq), logx.Err(err))
}
