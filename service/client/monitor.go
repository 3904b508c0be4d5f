package client

import (
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/golang/glog"
)

type (
	// Monitor keeps Client stats.
	Monitor struct {
		sync.Mutex
		name             string
		period           time.Duration
		patchReqDur      *movingaverage.MovingAverage
		consistencyDur   *movingaverage.MovingAverage
		patchesSent      int
		opsSent          int
		patchesReceived  int
		opsReceived      int
		consistencyReset time.Time
		stopCh           chan struct{}
	}

	// MonitorStats is a Monitor counters snapshot.
	MonitorStats struct {
		PatchesSent     int
		OpsSent         int
		PatchesReceived int
		OpsReceived     int
	}
)

// PatchSent updates the outgoing patch metrics.
func (m *Monitor) PatchSent(opsCount int, dur time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.patchesSent++
	m.opsSent += opsCount
	m.patchReqDur.Add(float64(dur/time.Microsecond) / 1000.0)
}

// PatchReceived updates the inbound patch metrics.
func (m *Monitor) PatchReceived(opsCount int) {
	m.Lock()
	defer m.Unlock()

	m.patchesReceived++
	m.opsReceived += opsCount
}

// ConsistencyReset marks the moment the local document diverged from the remote one.
func (m *Monitor) ConsistencyReset(ts time.Time) {
	m.Lock()
	defer m.Unlock()

	if m.consistencyReset.IsZero() {
		m.consistencyReset = ts
	}
}

// ConsistencyAchieved marks the moment all local changes were acknowledged.
func (m *Monitor) ConsistencyAchieved(ts time.Time) {
	m.Lock()
	defer m.Unlock()

	if m.consistencyReset.IsZero() {
		return
	}

	dur := ts.Sub(m.consistencyReset)
	m.consistencyDur.Add(float64(dur/time.Microsecond) / 1000.0)
	m.consistencyReset = time.Time{}
}

// Stats returns the counters accumulated since the Monitor creation.
func (m *Monitor) Stats() MonitorStats {
	m.Lock()
	defer m.Unlock()

	return MonitorStats{
		PatchesSent:     m.patchesSent,
		OpsSent:         m.opsSent,
		PatchesReceived: m.patchesReceived,
		OpsReceived:     m.opsReceived,
	}
}

// Start starts the Monitor worker (no-op for a non-positive period).
func (m *Monitor) Start() {
	if m.stopCh != nil || m.period <= 0 {
		return
	}

	m.stopCh = make(chan struct{})
	go m.worker(m.stopCh)
}

// Stop stops the Monitor worker.
func (m *Monitor) Stop() {
	if m.stopCh == nil {
		return
	}

	close(m.stopCh)
	m.stopCh = nil
}

// worker does the actual job.
func (m *Monitor) worker(stopCh <-chan struct{}) {
	ticker := time.NewTicker(m.period)
	defer ticker.Stop()

	prev := MonitorStats{}
	for {
		select {
		case <-stopCh:
			// Stop the monitor
			return
		case <-ticker.C:
			// Print the report
			m.Lock()

			secs := float64(m.period) / float64(time.Second)
			sentPerSec := float64(m.patchesSent-prev.PatchesSent) / secs
			receivedPerSec := float64(m.patchesReceived-prev.PatchesReceived) / secs
			glog.V(1).Infof("%s monitor:", m.name)
			glog.V(1).Infof("  - Patches sent / s:         %.2f", sentPerSec)
			glog.V(1).Infof("  - Patches received / s:     %.2f", receivedPerSec)
			glog.V(1).Infof("  - Patch request dur [ms]:   %.2f", m.patchReqDur.Avg())
			glog.V(1).Infof("  - Consistency dur [ms]:     %.2f", m.consistencyDur.Avg())
			prev.PatchesSent, prev.PatchesReceived = m.patchesSent, m.patchesReceived

			m.Unlock()
		}
	}
}

// NewMonitor creates a new Monitor object reporting every period.
func NewMonitor(name string, period time.Duration) *Monitor {
	return &Monitor{
		name:           name,
		period:         period,
		patchReqDur:    movingaverage.New(3),
		consistencyDur: movingaverage.New(3),
	}
}
