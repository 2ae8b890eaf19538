package pipeline

import (
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
)

func TestProgressReporter_Throttles(t *testing.T) {
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	var writes []int
	p := newProgressReporter(func(n int) error {
		writes = append(writes, n)
		return nil
	}, 2*time.Second)
	p.now = func() time.Time { return now }

	p.report(1) // first write goes through
	p.report(2) // throttled
	p.report(3) // throttled

	now = now.Add(2 * time.Second)
	p.report(4) // window elapsed

	assert.Equal(t, []int{1, 4}, writes)
}

func TestProgressReporter_FlushBypassesThrottle(t *testing.T) {
	now := time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC)
	var writes []int
	p := newProgressReporter(func(n int) error {
		writes = append(writes, n)
		return nil
	}, 2*time.Second)
	p.now = func() time.Time { return now }

	p.report(1)
	p.flush(2)

	assert.Equal(t, []int{1, 2}, writes)
}

func TestProgressReporter_SwallowsErrors(t *testing.T) {
	p := newProgressReporter(func(int) error {
		return eris.New("write refused")
	}, time.Millisecond)

	assert.NotPanics(t, func() {
		p.report(1)
		p.flush(2)
	})
}

func TestProgressReporter_NilFunc(t *testing.T) {
	p := newProgressReporter(nil, time.Second)
	assert.NotPanics(t, func() {
		p.report(1)
		p.flush(2)
	})
}
