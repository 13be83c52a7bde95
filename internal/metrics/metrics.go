package metrics

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"govee-gateway/internal/decoder"
	"govee-gateway/internal/scanner"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "govee"

var phases = []scanner.Phase{scanner.Idle, scanner.Scanning, scanner.Stopping, scanner.Unavailable}

// Metrics owns its registry so tests and multiple gateways in one process do
// not collide on the global one.
type Metrics struct {
	reg *prometheus.Registry

	temperature *prometheus.GaugeVec
	humidity    *prometheus.GaugeVec
	rssi        *prometheus.GaugeVec
	lastSeen    *prometheus.GaugeVec

	readingsTotal *prometheus.CounterVec
	rejected      *prometheus.CounterVec
	dropped       prometheus.Counter
	sinkErrors    *prometheus.CounterVec

	phase        *prometheus.GaugeVec
	scanCycles   prometheus.Counter
	scanFailures prometheus.Counter

	httpRequestsTotal *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

func New() *Metrics {
	device := []string{"address"}
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		temperature: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last decoded temperature (units: degrees Celsius).",
		}, device),
		humidity: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "humidity_percent",
			Help:      "Last decoded relative humidity (units: %).",
		}, device),
		rssi: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "rssi_dbm",
			Help:      "Signal strength of the last accepted advertisement (units: dBm).",
		}, device),
		lastSeen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_seen_timestamp_seconds",
			Help:      "Unix time of the last accepted advertisement.",
		}, device),
		readingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_total",
			Help:      "Readings decoded, by device.",
		}, device),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "advertisements_rejected_total",
			Help:      "Advertisements rejected by the decoder, by reason.",
		}, []string{"reason"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readings_dropped_total",
			Help:      "Readings discarded because the dispatch queue was full.",
		}),
		sinkErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sink_errors_total",
			Help:      "Failed sink publishes, by sink.",
		}, []string{"sink"}),
		phase: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scanner_phase",
			Help:      "Current scanner phase (1 for the active phase, 0 otherwise).",
		}, []string{"phase"}),
		scanCycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_cycles_total",
			Help:      "Scan windows started.",
		}),
		scanFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scan_failures_total",
			Help:      "Transient scan failures.",
		}),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}

	m.reg.MustRegister(
		m.temperature,
		m.humidity,
		m.rssi,
		m.lastSeen,
		m.readingsTotal,
		m.rejected,
		m.dropped,
		m.sinkErrors,
		m.phase,
		m.scanCycles,
		m.scanFailures,
		m.httpRequestsTotal,
		m.httpDuration,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewBuildInfoCollector(),
	)

	m.SetPhase(scanner.Idle)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{
		// Opt into OpenMetrics to support exemplars.
		EnableOpenMetrics: true,
	})
}

func (*Metrics) Name() string { return "metrics" }

// Publish updates the per-device gauges. It implements ble.Sink.
func (m *Metrics) Publish(_ context.Context, r decoder.Reading) error {
	if m == nil {
		return nil
	}
	m.temperature.WithLabelValues(r.Address).Set(r.Temperature)
	m.humidity.WithLabelValues(r.Address).Set(r.Humidity)
	if r.RSSI != decoder.NoRSSI {
		m.rssi.WithLabelValues(r.Address).Set(float64(r.RSSI))
	}
	m.lastSeen.WithLabelValues(r.Address).Set(float64(r.SeenAt.Unix()))
	return nil
}

// ObserveReading counts every decoded reading, before deduplication.
func (m *Metrics) ObserveReading(r decoder.Reading) {
	if m == nil {
		return
	}
	m.readingsTotal.WithLabelValues(r.Address).Inc()
}

func (m *Metrics) ObserveReject(err error) {
	if m == nil {
		return
	}
	m.rejected.WithLabelValues(decoder.RejectReason(err)).Inc()
}

func (m *Metrics) ObserveDrop() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}

func (m *Metrics) ObserveSinkError(sink string) {
	if m == nil {
		return
	}
	m.sinkErrors.WithLabelValues(sink).Inc()
}

func (m *Metrics) ObserveScanFailure() {
	if m == nil {
		return
	}
	m.scanFailures.Inc()
}

// SetPhase marks p as the active scanner phase and counts scan starts.
func (m *Metrics) SetPhase(p scanner.Phase) {
	if m == nil {
		return
	}
	for _, ph := range phases {
		v := 0.0
		if ph == p {
			v = 1
		}
		m.phase.WithLabelValues(ph.String()).Set(v)
	}
	if p == scanner.Scanning {
		m.scanCycles.Inc()
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
		}
	})
}
