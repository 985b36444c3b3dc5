package devhandler

import (
	"testing"
	"time"

	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

func TestMetrics(t *testing.T) {
	m := NewMetrics()

	snap := m.Snapshot()
	if snap.Attaches != 0 || snap.Commands != 0 {
		t.Errorf("Expected empty snapshot, got %+v", snap)
	}

	m.RecordAttach(true)
	m.RecordAttach(true)
	m.RecordAttach(false)
	m.RecordDetach()
	m.RecordParse()
	m.RecordParse()
	m.RecordDone(ShiftUnchanged)
	m.RecordDone(ShiftUpdated)
	m.RecordDone(ShiftReset)

	snap = m.Snapshot()

	if snap.Attaches != 2 {
		t.Errorf("Expected 2 attaches, got %d", snap.Attaches)
	}
	if snap.AttachFailures != 1 {
		t.Errorf("Expected 1 attach failure, got %d", snap.AttachFailures)
	}
	if snap.Detaches != 1 {
		t.Errorf("Expected 1 detach, got %d", snap.Detaches)
	}
	if snap.Parses != 2 {
		t.Errorf("Expected 2 parses, got %d", snap.Parses)
	}
	if snap.Completions != 3 {
		t.Errorf("Expected 3 completions, got %d", snap.Completions)
	}
	if snap.ShiftUpdates != 1 || snap.ShiftResets != 1 {
		t.Errorf("Expected 1 update and 1 reset, got %d and %d", snap.ShiftUpdates, snap.ShiftResets)
	}
}

func TestMetricsProbe(t *testing.T) {
	m := NewMetrics()

	m.RecordProbe(1, false, 1_000_000)
	m.RecordProbe(3, true, 3_000_000)

	snap := m.Snapshot()

	if snap.Probes != 2 {
		t.Errorf("Expected 2 probes, got %d", snap.Probes)
	}
	if snap.ProbeAttempts != 4 {
		t.Errorf("Expected 4 probe attempts, got %d", snap.ProbeAttempts)
	}
	if snap.UnitAttentionRetries != 2 {
		t.Errorf("Expected 2 unit attention retries, got %d", snap.UnitAttentionRetries)
	}
	if snap.ProbeFallbacks != 1 {
		t.Errorf("Expected 1 fallback, got %d", snap.ProbeFallbacks)
	}
	if snap.FallbackRate < 49.9 || snap.FallbackRate > 50.1 {
		t.Errorf("Expected fallback rate ~50%%, got %.1f%%", snap.FallbackRate)
	}
	if snap.AvgProbeLatencyNs != 2_000_000 {
		t.Errorf("Expected avg probe latency 2000000 ns, got %d ns", snap.AvgProbeLatencyNs)
	}
}

func TestMetricsCommands(t *testing.T) {
	m := NewMetrics()

	m.RecordCommand(scsi.DataRead, 2048, 1_000_000, true)
	m.RecordCommand(scsi.DataWrite, 4096, 2_000_000, true)
	m.RecordCommand(scsi.DataRead, 512, 500_000, false)

	snap := m.Snapshot()

	if snap.Commands != 3 {
		t.Errorf("Expected 3 commands, got %d", snap.Commands)
	}
	// Only successful transfers count toward bytes
	if snap.ReadBytes != 2048 {
		t.Errorf("Expected 2048 read bytes, got %d", snap.ReadBytes)
	}
	if snap.WriteBytes != 4096 {
		t.Errorf("Expected 4096 write bytes, got %d", snap.WriteBytes)
	}

	expectedErrorRate := float64(1) / float64(3) * 100.0
	if snap.ErrorRate < expectedErrorRate-0.1 || snap.ErrorRate > expectedErrorRate+0.1 {
		t.Errorf("Expected error rate ~%.1f%%, got %.1f%%", expectedErrorRate, snap.ErrorRate)
	}
}

func TestMetricsUptime(t *testing.T) {
	m := NewMetrics()

	time.Sleep(10 * time.Millisecond)

	snap := m.Snapshot()
	if snap.UptimeNs < 10*1000000 {
		t.Errorf("Expected uptime >= 10ms, got %d ns", snap.UptimeNs)
	}

	m.Stop()
	stopped := m.Snapshot()
	time.Sleep(5 * time.Millisecond)

	again := m.Snapshot()
	if again.UptimeNs != stopped.UptimeNs {
		t.Errorf("Uptime changed after stop: %d -> %d", stopped.UptimeNs, again.UptimeNs)
	}
}

func TestMetricsReset(t *testing.T) {
	m := NewMetrics()

	m.RecordAttach(true)
	m.RecordProbe(2, false, 1000)
	m.RecordCommand(scsi.DataRead, 1024, 1000, true)

	m.Reset()

	snap := m.Snapshot()
	if snap.Attaches != 0 || snap.Probes != 0 || snap.Commands != 0 {
		t.Errorf("Expected counters cleared after reset, got %+v", snap)
	}
	if snap.ReadBytes != 0 {
		t.Errorf("Expected 0 bytes after reset, got %d", snap.ReadBytes)
	}
	for i, n := range snap.ProbeLatencyHistogram {
		if n != 0 {
			t.Errorf("Expected empty probe bucket %d after reset, got %d", i, n)
		}
	}
}

func TestObserver(t *testing.T) {
	// NoOpObserver must accept every call
	observer := &NoOpObserver{}
	observer.ObserveAttach("dev_cdrom", true)
	observer.ObserveDetach("dev_cdrom")
	observer.ObserveProbe("dev_cdrom", 3, true, 1000)
	observer.ObserveParse("dev_cdrom")
	observer.ObserveDone("dev_cdrom", ShiftReset)
	observer.ObserveCommand("dev_cdrom", scsi.DataRead, 2048, 1000, true)

	m := NewMetrics()
	metricsObserver := NewMetricsObserver(m)

	metricsObserver.ObserveAttach("dev_cdrom", true)
	metricsObserver.ObserveProbe("dev_cdrom", 3, true, 1000)
	metricsObserver.ObserveDone("dev_cdrom", ShiftUpdated)
	metricsObserver.ObserveCommand("dev_cdrom", scsi.DataRead, 2048, 1000, true)

	snap := m.Snapshot()
	if snap.Attaches != 1 {
		t.Errorf("Expected 1 attach from observer, got %d", snap.Attaches)
	}
	if snap.ProbeFallbacks != 1 {
		t.Errorf("Expected 1 fallback from observer, got %d", snap.ProbeFallbacks)
	}
	if snap.ShiftUpdates != 1 {
		t.Errorf("Expected 1 shift update from observer, got %d", snap.ShiftUpdates)
	}
	if snap.ReadBytes != 2048 {
		t.Errorf("Expected 2048 read bytes from observer, got %d", snap.ReadBytes)
	}
}

func TestMetricsRates(t *testing.T) {
	m := NewMetrics()

	startTime := time.Now()
	m.StartTime.Store(startTime.UnixNano())

	m.RecordCommand(scsi.DataRead, 1024, 1000000, true)
	m.RecordCommand(scsi.DataWrite, 2048, 2000000, true)

	// Simulate 1 second has passed
	m.StopTime.Store(startTime.Add(1 * time.Second).UnixNano())

	snap := m.Snapshot()
	if snap.CommandRate < 1.9 || snap.CommandRate > 2.1 {
		t.Errorf("Expected CommandRate ~2.0, got %.2f", snap.CommandRate)
	}
}

func TestMetricsHistogram(t *testing.T) {
	m := NewMetrics()

	// 50 commands at 500us, 49 at 5ms, 1 at 50ms
	for i := 0; i < 50; i++ {
		m.RecordCommand(scsi.DataRead, 1024, 500_000, true)
	}
	for i := 0; i < 49; i++ {
		m.RecordCommand(scsi.DataWrite, 1024, 5_000_000, true)
	}
	m.RecordCommand(scsi.DataWrite, 1024, 50_000_000, true)

	snap := m.Snapshot()

	if snap.Commands != 100 {
		t.Errorf("Expected 100 commands, got %d", snap.Commands)
	}

	if snap.CommandLatencyP50Ns < 100_000 || snap.CommandLatencyP50Ns > 1_000_000 {
		t.Errorf("Expected P50 in 100us-1ms range, got %d ns", snap.CommandLatencyP50Ns)
	}

	if snap.CommandLatencyP99Ns < 5_000_000 || snap.CommandLatencyP99Ns > 100_000_000 {
		t.Errorf("Expected P99 in 5ms-100ms range, got %d ns", snap.CommandLatencyP99Ns)
	}

	if snap.CommandLatencyHistogram[numLatencyBuckets-1] != 100 {
		t.Errorf("Expected top bucket to hold every command, got %d", snap.CommandLatencyHistogram[numLatencyBuckets-1])
	}
}
