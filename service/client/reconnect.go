package client

import (
	"time"
)

// reconnector schedules retries walking an escalating interval list.
// The index advances on every scheduled retry and sticks to the last interval.
type reconnector struct {
	intervals []time.Duration
	idx       int
	timer     *time.Timer
	timerCh   <-chan time.Time
}

// schedule arms the retry timer (replacing a running one) and returns its delay.
func (r *reconnector) schedule() time.Duration {
	if r.idx < len(r.intervals)-1 {
		r.idx++
	}
	delay := r.intervals[r.idx]

	r.stop()
	r.timer = time.NewTimer(delay)
	r.timerCh = r.timer.C

	return delay
}

// reset moves back to the first interval, a running retry is kept.
func (r *reconnector) reset() {
	r.idx = 0
}

// C returns the channel that fires when a retry is due (nil if none is scheduled).
func (r *reconnector) C() <-chan time.Time {
	return r.timerCh
}

// fired must be called once C has fired.
func (r *reconnector) fired() {
	r.timer = nil
	r.timerCh = nil
}

// stop cancels a scheduled retry.
func (r *reconnector) stop() {
	if r.timer != nil {
		r.timer.Stop()
	}
	r.fired()
}

func newReconnector(intervals []time.Duration) *reconnector {
	return &reconnector{
		intervals: intervals,
	}
}
