package client

import (
	"time"
)

// observer coalesces local mutations into a single diff cycle.
// It is armed by the first mutation and fires once the window expires, later mutations join the same cycle.
type observer struct {
	window  time.Duration
	timer   *time.Timer
	timerCh <-chan time.Time
}

// arm starts the window unless it is already running.
func (o *observer) arm() {
	if o.timer != nil {
		return
	}

	o.timer = time.NewTimer(o.window)
	o.timerCh = o.timer.C
}

// C returns the channel that fires when the window expires (nil if not armed).
func (o *observer) C() <-chan time.Time {
	return o.timerCh
}

// fired must be called once C has fired.
func (o *observer) fired() {
	o.timer = nil
	o.timerCh = nil
}

// stop cancels a running window.
func (o *observer) stop() {
	if o.timer != nil {
		o.timer.Stop()
	}
	o.fired()
}

func newObserver(window time.Duration) *observer {
	return &observer{
		window: window,
	}
}
