package devhandler

import (
	"sync/atomic"
	"time"

	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// LatencyBuckets defines the latency histogram buckets in nanoseconds.
// Buckets cover from 1us to 100s with logarithmic spacing; the top bucket
// leaves room for probes that run into the per-attempt timeout.
var LatencyBuckets = []uint64{
	1_000,           // 1us
	10_000,          // 10us
	100_000,         // 100us
	1_000_000,       // 1ms
	10_000_000,      // 10ms
	100_000_000,     // 100ms
	1_000_000_000,   // 1s
	10_000_000_000,  // 10s
	100_000_000_000, // 100s
}

const numLatencyBuckets = 9

// ShiftChange describes what a completion did to a device's block shift.
type ShiftChange int

const (
	ShiftUnchanged ShiftChange = iota
	ShiftUpdated
	ShiftReset
)

// latencyHistogram is a cumulative histogram over LatencyBuckets.
type latencyHistogram struct {
	totalNs atomic.Uint64
	count   atomic.Uint64
	buckets [numLatencyBuckets]atomic.Uint64
}

func (h *latencyHistogram) record(latencyNs uint64) {
	h.totalNs.Add(latencyNs)
	h.count.Add(1)

	for i, bucket := range LatencyBuckets {
		if latencyNs <= bucket {
			h.buckets[i].Add(1)
		}
	}
}

func (h *latencyHistogram) reset() {
	h.totalNs.Store(0)
	h.count.Store(0)
	for i := 0; i < numLatencyBuckets; i++ {
		h.buckets[i].Store(0)
	}
}

// percentile estimates the latency at the given percentile (0.0-1.0)
// using linear interpolation between histogram buckets.
func (h *latencyHistogram) percentile(percentile float64) uint64 {
	total := h.count.Load()
	if total == 0 {
		return 0
	}

	targetCount := uint64(float64(total) * percentile)

	prevBucket := uint64(0)
	for i, bucket := range LatencyBuckets {
		bucketCount := h.buckets[i].Load()
		if bucketCount >= targetCount {
			prevCount := uint64(0)
			if i > 0 {
				prevCount = h.buckets[i-1].Load()
			}
			if bucketCount == prevCount {
				return bucket
			}
			fraction := float64(targetCount-prevCount) / float64(bucketCount-prevCount)
			return prevBucket + uint64(fraction*float64(bucket-prevBucket))
		}
		prevBucket = bucket
	}

	return LatencyBuckets[numLatencyBuckets-1]
}

// Metrics tracks lifecycle and command statistics for attached devices
type Metrics struct {
	// Lifecycle counters
	Attaches       atomic.Uint64 // Successful attaches
	AttachFailures atomic.Uint64 // Attaches that returned an error
	Detaches       atomic.Uint64 // Completed detaches

	// Capacity probe counters
	Probes               atomic.Uint64 // Probe runs
	ProbeAttempts        atomic.Uint64 // Capacity query commands issued
	UnitAttentionRetries atomic.Uint64 // Attempts repeated because of a unit attention
	ProbeFallbacks       atomic.Uint64 // Probes that installed the default shift

	// Command path counters
	Parses       atomic.Uint64 // Commands annotated before dispatch
	Completions  atomic.Uint64 // Commands adjusted after completion
	ShiftUpdates atomic.Uint64 // Completions that stored a new shift
	ShiftResets  atomic.Uint64 // Completions that restored the default shift

	// Dispatch counters
	Commands      atomic.Uint64 // Commands executed through a Target
	CommandErrors atomic.Uint64 // Commands that failed at the transport or with a non-GOOD status
	ReadBytes     atomic.Uint64 // Bytes transferred from devices
	WriteBytes    atomic.Uint64 // Bytes transferred to devices

	probeLatency   latencyHistogram
	commandLatency latencyHistogram

	StartTime atomic.Int64 // Creation timestamp (UnixNano)
	StopTime  atomic.Int64 // Stop timestamp (UnixNano)
}

// NewMetrics creates a new metrics instance
func NewMetrics() *Metrics {
	m := &Metrics{}
	m.StartTime.Store(time.Now().UnixNano())
	return m
}

// RecordAttach records the result of an attach
func (m *Metrics) RecordAttach(success bool) {
	if success {
		m.Attaches.Add(1)
	} else {
		m.AttachFailures.Add(1)
	}
}

// RecordDetach records a completed detach
func (m *Metrics) RecordDetach() {
	m.Detaches.Add(1)
}

// RecordProbe records one capacity probe run
func (m *Metrics) RecordProbe(attempts int, fellBack bool, latencyNs uint64) {
	m.Probes.Add(1)
	if attempts > 0 {
		m.ProbeAttempts.Add(uint64(attempts))
		m.UnitAttentionRetries.Add(uint64(attempts - 1))
	}
	if fellBack {
		m.ProbeFallbacks.Add(1)
	}
	m.probeLatency.record(latencyNs)
}

// RecordParse records a command annotation
func (m *Metrics) RecordParse() {
	m.Parses.Add(1)
}

// RecordDone records a completion and its effect on the block shift
func (m *Metrics) RecordDone(change ShiftChange) {
	m.Completions.Add(1)
	switch change {
	case ShiftUpdated:
		m.ShiftUpdates.Add(1)
	case ShiftReset:
		m.ShiftResets.Add(1)
	}
}

// RecordCommand records a dispatched command
func (m *Metrics) RecordCommand(dir scsi.DataDirection, bytes uint64, latencyNs uint64, success bool) {
	m.Commands.Add(1)
	if !success {
		m.CommandErrors.Add(1)
	} else {
		switch dir {
		case scsi.DataRead:
			m.ReadBytes.Add(bytes)
		case scsi.DataWrite:
			m.WriteBytes.Add(bytes)
		}
	}
	m.commandLatency.record(latencyNs)
}

// Stop marks the metrics as stopped
func (m *Metrics) Stop() {
	m.StopTime.Store(time.Now().UnixNano())
}

// MetricsSnapshot is a point-in-time copy of Metrics
type MetricsSnapshot struct {
	Attaches       uint64
	AttachFailures uint64
	Detaches       uint64

	Probes               uint64
	ProbeAttempts        uint64
	UnitAttentionRetries uint64
	ProbeFallbacks       uint64

	Parses       uint64
	Completions  uint64
	ShiftUpdates uint64
	ShiftResets  uint64

	Commands      uint64
	CommandErrors uint64
	ReadBytes     uint64
	WriteBytes    uint64

	// Probe latency (in nanoseconds)
	AvgProbeLatencyNs uint64
	ProbeLatencyP50Ns uint64
	ProbeLatencyP99Ns uint64

	// Command latency (in nanoseconds)
	AvgCommandLatencyNs  uint64
	CommandLatencyP50Ns  uint64
	CommandLatencyP99Ns  uint64
	CommandLatencyP999Ns uint64

	// Histogram bucket counts (cumulative)
	ProbeLatencyHistogram   [numLatencyBuckets]uint64
	CommandLatencyHistogram [numLatencyBuckets]uint64

	// Computed statistics
	UptimeNs     uint64
	CommandRate  float64 // Commands per second
	FallbackRate float64 // Percentage of probes that fell back
	ErrorRate    float64 // Percentage of failed commands
}

// Snapshot creates a point-in-time snapshot of metrics
func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := MetricsSnapshot{
		Attaches:             m.Attaches.Load(),
		AttachFailures:       m.AttachFailures.Load(),
		Detaches:             m.Detaches.Load(),
		Probes:               m.Probes.Load(),
		ProbeAttempts:        m.ProbeAttempts.Load(),
		UnitAttentionRetries: m.UnitAttentionRetries.Load(),
		ProbeFallbacks:       m.ProbeFallbacks.Load(),
		Parses:               m.Parses.Load(),
		Completions:          m.Completions.Load(),
		ShiftUpdates:         m.ShiftUpdates.Load(),
		ShiftResets:          m.ShiftResets.Load(),
		Commands:             m.Commands.Load(),
		CommandErrors:        m.CommandErrors.Load(),
		ReadBytes:            m.ReadBytes.Load(),
		WriteBytes:           m.WriteBytes.Load(),
	}

	if n := m.probeLatency.count.Load(); n > 0 {
		snap.AvgProbeLatencyNs = m.probeLatency.totalNs.Load() / n
		snap.ProbeLatencyP50Ns = m.probeLatency.percentile(0.50)
		snap.ProbeLatencyP99Ns = m.probeLatency.percentile(0.99)
	}
	if n := m.commandLatency.count.Load(); n > 0 {
		snap.AvgCommandLatencyNs = m.commandLatency.totalNs.Load() / n
		snap.CommandLatencyP50Ns = m.commandLatency.percentile(0.50)
		snap.CommandLatencyP99Ns = m.commandLatency.percentile(0.99)
		snap.CommandLatencyP999Ns = m.commandLatency.percentile(0.999)
	}

	for i := 0; i < numLatencyBuckets; i++ {
		snap.ProbeLatencyHistogram[i] = m.probeLatency.buckets[i].Load()
		snap.CommandLatencyHistogram[i] = m.commandLatency.buckets[i].Load()
	}

	startTime := m.StartTime.Load()
	stopTime := m.StopTime.Load()
	if stopTime > 0 {
		snap.UptimeNs = uint64(stopTime - startTime)
	} else {
		snap.UptimeNs = uint64(time.Now().UnixNano() - startTime)
	}

	if snap.UptimeNs > 0 {
		snap.CommandRate = float64(snap.Commands) / (float64(snap.UptimeNs) / 1e9)
	}
	if snap.Probes > 0 {
		snap.FallbackRate = float64(snap.ProbeFallbacks) / float64(snap.Probes) * 100.0
	}
	if snap.Commands > 0 {
		snap.ErrorRate = float64(snap.CommandErrors) / float64(snap.Commands) * 100.0
	}

	return snap
}

// Reset resets all metrics counters (useful for testing)
func (m *Metrics) Reset() {
	m.Attaches.Store(0)
	m.AttachFailures.Store(0)
	m.Detaches.Store(0)
	m.Probes.Store(0)
	m.ProbeAttempts.Store(0)
	m.UnitAttentionRetries.Store(0)
	m.ProbeFallbacks.Store(0)
	m.Parses.Store(0)
	m.Completions.Store(0)
	m.ShiftUpdates.Store(0)
	m.ShiftResets.Store(0)
	m.Commands.Store(0)
	m.CommandErrors.Store(0)
	m.ReadBytes.Store(0)
	m.WriteBytes.Store(0)
	m.probeLatency.reset()
	m.commandLatency.reset()
	m.StartTime.Store(time.Now().UnixNano())
	m.StopTime.Store(0)
}

// Observer interface allows pluggable metrics collection
type Observer interface {
	// ObserveAttach is called once per attach attempt
	ObserveAttach(handler string, success bool)

	// ObserveDetach is called once per detach
	ObserveDetach(handler string)

	// ObserveProbe is called after each capacity probe
	ObserveProbe(handler string, attempts int, fellBack bool, latencyNs uint64)

	// ObserveParse is called for each annotated command
	ObserveParse(handler string)

	// ObserveDone is called for each completed command
	ObserveDone(handler string, change ShiftChange)

	// ObserveCommand is called for each command dispatched through a Target
	ObserveCommand(handler string, dir scsi.DataDirection, bytes uint64, latencyNs uint64, success bool)
}

// NoOpObserver is a no-op implementation of Observer
type NoOpObserver struct{}

func (NoOpObserver) ObserveAttach(string, bool)                                     {}
func (NoOpObserver) ObserveDetach(string)                                           {}
func (NoOpObserver) ObserveProbe(string, int, bool, uint64)                         {}
func (NoOpObserver) ObserveParse(string)                                            {}
func (NoOpObserver) ObserveDone(string, ShiftChange)                                {}
func (NoOpObserver) ObserveCommand(string, scsi.DataDirection, uint64, uint64, bool) {}

// MetricsObserver implements Observer using the built-in Metrics
type MetricsObserver struct {
	metrics *Metrics
}

// NewMetricsObserver creates an observer that records to the given metrics
func NewMetricsObserver(m *Metrics) *MetricsObserver {
	return &MetricsObserver{metrics: m}
}

func (o *MetricsObserver) ObserveAttach(_ string, success bool) {
	o.metrics.RecordAttach(success)
}

func (o *MetricsObserver) ObserveDetach(string) {
	o.metrics.RecordDetach()
}

func (o *MetricsObserver) ObserveProbe(_ string, attempts int, fellBack bool, latencyNs uint64) {
	o.metrics.RecordProbe(attempts, fellBack, latencyNs)
}

func (o *MetricsObserver) ObserveParse(string) {
	o.metrics.RecordParse()
}

func (o *MetricsObserver) ObserveDone(_ string, change ShiftChange) {
	o.metrics.RecordDone(change)
}

func (o *MetricsObserver) ObserveCommand(_ string, dir scsi.DataDirection, bytes uint64, latencyNs uint64, success bool) {
	o.metrics.RecordCommand(dir, bytes, latencyNs, success)
}

// Compile-time interface check
var _ Observer = (*MetricsObserver)(nil)
var _ Observer = (*NoOpObserver)(nil)
