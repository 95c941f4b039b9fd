package scheduler

import (
	"context"
	"errors"
	"time"

	logx "autodaily/pkg/logx"
)

const errorWarnThrottle = 5 * time.Minute

// reportError logs a periodic job failure at most once per throttle window
// per job. Cancellation during shutdown is not reported.
func (s *Service) reportError(name string, err error) {
	if err == nil || errors.Is(err, context.Canceled) {
		return
	}

	now := time.Now()
	s.errMu.Lock()
	last := s.lastErrWarn[name]
	if !last.IsZero() && now.Sub(last) < errorWarnThrottle {
		s.errMu.Unlock()
		s.log.Debug("periodic job failed", logx.String("job", name), logx.Err(err))
		return
	}
	s.lastErrWarn[name] = now
	s.errMu.Unlock()

	s.log.Warn("periodic job failed", logx.String("job", name), logx.Err(err))
}
