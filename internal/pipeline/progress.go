package pipeline

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// ProgressFunc receives the number of items completed so far in a stage.
// Implementations typically write a counter to the execution record; errors
// are logged by the reporter and never propagate into stage processing.
type ProgressFunc func(completed int) error

// progressReporter throttles progress writes to at most one per interval.
// The final count of a stage is flushed unconditionally so the stored
// counter converges on the true total.
type progressReporter struct {
	fn       ProgressFunc
	interval time.Duration

	mu   sync.Mutex
	last time.Time
	now  func() time.Time
}

func newProgressReporter(fn ProgressFunc, interval time.Duration) *progressReporter {
	return &progressReporter{
		fn:       fn,
		interval: interval,
		now:      time.Now,
	}
}

// report writes the count if the throttle window has elapsed.
func (p *progressReporter) report(completed int) {
	if p.fn == nil {
		return
	}

	p.mu.Lock()
	now := p.now()
	if !p.last.IsZero() && now.Sub(p.last) < p.interval {
		p.mu.Unlock()
		return
	}
	p.last = now
	p.mu.Unlock()

	p.write(completed)
}

// flush writes the count unconditionally, bypassing the throttle.
func (p *progressReporter) flush(completed int) {
	if p.fn == nil {
		return
	}
	p.mu.Lock()
	p.last = p.now()
	p.mu.Unlock()

	p.write(completed)
}

func (p *progressReporter) write(completed int) {
	if err := p.fn(completed); err != nil {
		// Progress is advisory. A failed write must not disturb processing.
		zap.L().Warn("progress update failed",
			zap.Int("completed", completed),
			zap.Error(err),
		)
	}
}
