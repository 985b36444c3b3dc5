package devhandler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ehrlich-b/go-devhandler/internal/scsi"
)

// PrometheusObserver exports handler activity as Prometheus metrics.
//
// All metrics use the "devhandler_" prefix and carry a handler label. A nil
// *PrometheusObserver is a no-op. It also implements Introspector, exposing
// the registered handlers as devhandler_handler_info.
type PrometheusObserver struct {
	// AttachTotal counts attaches by result.
	// Labels: handler, result=[success, failure]
	AttachTotal *prometheus.CounterVec

	// DetachTotal counts detaches.
	DetachTotal *prometheus.CounterVec

	// ProbeDuration tracks the time spent negotiating the block size.
	ProbeDuration *prometheus.HistogramVec

	// ProbeAttemptsTotal counts capacity query commands issued.
	ProbeAttemptsTotal *prometheus.CounterVec

	// ProbeFallbackTotal counts probes that installed the default block size.
	ProbeFallbackTotal *prometheus.CounterVec

	// ParseTotal counts commands annotated before dispatch.
	ParseTotal *prometheus.CounterVec

	// ShiftChangeTotal counts completions that changed the block shift.
	// Labels: handler, change=[updated, reset]
	ShiftChangeTotal *prometheus.CounterVec

	// CommandDuration tracks dispatched command latency.
	// Labels: handler, result=[success, failure]
	CommandDuration *prometheus.HistogramVec

	// CommandBytesTotal counts bytes moved by dispatched commands.
	// Labels: handler, direction=[read, write]
	CommandBytesTotal *prometheus.CounterVec

	// HandlerInfo is 1 for every registered handler.
	// Labels: handler, type
	HandlerInfo *prometheus.GaugeVec
}

// NewPrometheusObserver creates and registers the handler metrics.
// If registerer is nil, prometheus.DefaultRegisterer is used.
func NewPrometheusObserver(registerer prometheus.Registerer) (*PrometheusObserver, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	o := &PrometheusObserver{
		AttachTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devhandler_attach_total",
				Help: "Total device attaches by result",
			},
			[]string{"handler", "result"},
		),
		DetachTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devhandler_detach_total",
				Help: "Total device detaches",
			},
			[]string{"handler"},
		),
		ProbeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devhandler_probe_duration_seconds",
				Help:    "Time to negotiate a device's block size at attach",
				Buckets: []float64{0.001, 0.01, 0.1, 1, 10, 60, 180},
			},
			[]string{"handler"},
		),
		ProbeAttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devhandler_probe_attempts_total",
				Help: "Total capacity query commands issued",
			},
			[]string{"handler"},
		),
		ProbeFallbackTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devhandler_probe_fallback_total",
				Help: "Total probes that fell back to the default block size",
			},
			[]string{"handler"},
		),
		ParseTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devhandler_parse_total",
				Help: "Total commands annotated before dispatch",
			},
			[]string{"handler"},
		),
		ShiftChangeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devhandler_shift_change_total",
				Help: "Total completions that changed the block shift",
			},
			[]string{"handler", "change"},
		),
		CommandDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "devhandler_command_duration_seconds",
				Help:    "Latency of commands dispatched through a target",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"handler", "result"},
		),
		CommandBytesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "devhandler_command_bytes_total",
				Help: "Total bytes moved by dispatched commands",
			},
			[]string{"handler", "direction"},
		),
		HandlerInfo: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "devhandler_handler_info",
				Help: "Registered device handlers",
			},
			[]string{"handler", "type"},
		),
	}

	collectors := []prometheus.Collector{
		o.AttachTotal,
		o.DetachTotal,
		o.ProbeDuration,
		o.ProbeAttemptsTotal,
		o.ProbeFallbackTotal,
		o.ParseTotal,
		o.ShiftChangeTotal,
		o.CommandDuration,
		o.CommandBytesTotal,
		o.HandlerInfo,
	}
	for _, c := range collectors {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return o, nil
}

func result(success bool) string {
	if success {
		return "success"
	}
	return "failure"
}

func (o *PrometheusObserver) ObserveAttach(handler string, success bool) {
	if o == nil {
		return
	}
	o.AttachTotal.WithLabelValues(handler, result(success)).Inc()
}

func (o *PrometheusObserver) ObserveDetach(handler string) {
	if o == nil {
		return
	}
	o.DetachTotal.WithLabelValues(handler).Inc()
}

func (o *PrometheusObserver) ObserveProbe(handler string, attempts int, fellBack bool, latencyNs uint64) {
	if o == nil {
		return
	}
	o.ProbeDuration.WithLabelValues(handler).Observe(float64(latencyNs) / 1e9)
	o.ProbeAttemptsTotal.WithLabelValues(handler).Add(float64(attempts))
	if fellBack {
		o.ProbeFallbackTotal.WithLabelValues(handler).Inc()
	}
}

func (o *PrometheusObserver) ObserveParse(handler string) {
	if o == nil {
		return
	}
	o.ParseTotal.WithLabelValues(handler).Inc()
}

func (o *PrometheusObserver) ObserveDone(handler string, change ShiftChange) {
	if o == nil {
		return
	}
	switch change {
	case ShiftUpdated:
		o.ShiftChangeTotal.WithLabelValues(handler, "updated").Inc()
	case ShiftReset:
		o.ShiftChangeTotal.WithLabelValues(handler, "reset").Inc()
	}
}

func (o *PrometheusObserver) ObserveCommand(handler string, dir scsi.DataDirection, bytes uint64, latencyNs uint64, success bool) {
	if o == nil {
		return
	}
	o.CommandDuration.WithLabelValues(handler, result(success)).Observe(float64(latencyNs) / 1e9)
	if bytes > 0 && (dir == scsi.DataRead || dir == scsi.DataWrite) {
		o.CommandBytesTotal.WithLabelValues(handler, dir.String()).Add(float64(bytes))
	}
}

// AddHandler implements Introspector
func (o *PrometheusObserver) AddHandler(h DeviceHandler) error {
	if o == nil {
		return nil
	}
	o.HandlerInfo.WithLabelValues(h.Name(), h.Type().String()).Set(1)
	return nil
}

// RemoveHandler implements Introspector
func (o *PrometheusObserver) RemoveHandler(h DeviceHandler) {
	if o == nil {
		return
	}
	o.HandlerInfo.DeleteLabelValues(h.Name(), h.Type().String())
}

// MultiObserver fans out to several observers
type MultiObserver []Observer

func (m MultiObserver) ObserveAttach(handler string, success bool) {
	for _, o := range m {
		o.ObserveAttach(handler, success)
	}
}

func (m MultiObserver) ObserveDetach(handler string) {
	for _, o := range m {
		o.ObserveDetach(handler)
	}
}

func (m MultiObserver) ObserveProbe(handler string, attempts int, fellBack bool, latencyNs uint64) {
	for _, o := range m {
		o.ObserveProbe(handler, attempts, fellBack, latencyNs)
	}
}

func (m MultiObserver) ObserveParse(handler string) {
	for _, o := range m {
		o.ObserveParse(handler)
	}
}

func (m MultiObserver) ObserveDone(handler string, change ShiftChange) {
	for _, o := range m {
		o.ObserveDone(handler, change)
	}
}

func (m MultiObserver) ObserveCommand(handler string, dir scsi.DataDirection, bytes uint64, latencyNs uint64, success bool) {
	for _, o := range m {
		o.ObserveCommand(handler, dir, bytes, latencyNs, success)
	}
}

var (
	_ Observer     = (*PrometheusObserver)(nil)
	_ Introspector = (*PrometheusObserver)(nil)
	_ Observer     = MultiObserver(nil)
)
