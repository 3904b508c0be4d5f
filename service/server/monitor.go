package server

import (
	"sync"
	"time"

	movingaverage "github.com/RobinUS2/golang-moving-average"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	patchesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "collaborate_doc_patches_total",
		Help: "Patches received by the document service, by result",
	}, []string{"result"})

	snapshotsServed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "collaborate_doc_snapshots_served_total",
		Help: "Full documents served",
	})

	socketSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "collaborate_doc_socket_sessions",
		Help: "Open websocket sessions",
	})

	patchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "collaborate_doc_patch_duration_seconds",
		Help:    "Patch handling duration",
		Buckets: prometheus.DefBuckets,
	})
)

const (
	resultApplied  = "applied"
	resultInvalid  = "invalid"
	resultConflict = "conflict"
)

// Monitor keeps DocumentService stats.
type Monitor struct {
	sync.Mutex
	period      time.Duration
	opsHandled  int
	diffHandled int
	diffReqDur  *movingaverage.MovingAverage
	stopCh      chan struct{}
}

// PatchHandled updates the patch metrics.
func (m *Monitor) PatchHandled(result string, opsCount int, dur time.Duration) {
	patchesTotal.WithLabelValues(result).Inc()
	patchDuration.Observe(dur.Seconds())

	if result != resultApplied {
		return
	}

	m.Lock()
	defer m.Unlock()

	m.opsHandled += opsCount
}

// DiffRequestServed updates the session diff building duration metric.
func (m *Monitor) DiffRequestServed(dur time.Duration) {
	m.Lock()
	defer m.Unlock()

	m.diffReqDur.Add(float64(dur/time.Microsecond) / 1000.0)
	m.diffHandled++
}

// SnapshotServed updates the full document metric.
func (m *Monitor) SnapshotServed() {
	snapshotsServed.Inc()
}

// SocketOpened updates the open sockets metric.
func (m *Monitor) SocketOpened() {
	socketSessions.Inc()
}

// SocketClosed updates the open sockets metric.
func (m *Monitor) SocketClosed() {
	socketSessions.Dec()
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

	for {
		select {
		case <-stopCh:
			// Stop the monitor
			return
		case <-ticker.C:
			// Print the report
			m.Lock()

			secs := float64(m.period) / float64(time.Second)
			glog.Infof("Monitor:")
			glog.Infof("  - Patch ops / s:         %.2f", float64(m.opsHandled)/secs)
			glog.Infof("  - Diff requests / s:     %.2f", float64(m.diffHandled)/secs)
			glog.Infof("  - Diff request dur [ms]: %.2f", m.diffReqDur.Avg())
			m.opsHandled = 0
			m.diffHandled = 0

			m.Unlock()
		}
	}
}

// NewMonitor creates a new Monitor object reporting every period.
func NewMonitor(period time.Duration) *Monitor {
	return &Monitor{
		period:     period,
		diffReqDur: movingaverage.New(5),
	}
}
