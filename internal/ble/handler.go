package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"govee-gateway/internal/decoder"
	"govee-gateway/internal/utils"
)

const (
	dedupMaxDevices   = 500
	defaultQueueSize  = 64
	sinkPublishBudget = 10 * time.Second
)

// Sink receives every reading that survives deduplication.
type Sink interface {
	Name() string
	Publish(ctx context.Context, r decoder.Reading) error
}

type lastReading struct {
	temperature int64
	humidity    int64
	at          time.Time
}

// Handler decouples the scan callback from the sinks: readings are queued
// and dispatched by Run, so a slow sink never stalls the radio.
type Handler struct {
	logger      *slog.Logger
	sinks       []Sink
	dedupWindow time.Duration
	queue       chan decoder.Reading

	dedupMu sync.Mutex
	last    map[string]lastReading

	onDrop      func(decoder.Reading)
	onSinkError func(sink string, err error)
}

type HandlerOptions struct {
	Logger      *slog.Logger
	DedupWindow time.Duration
	QueueSize   int
	// OnDrop is called when the queue is full and a reading is discarded.
	OnDrop func(decoder.Reading)
	// OnSinkError is called for every failed sink publish.
	OnSinkError func(sink string, err error)
}

func NewHandler(opts HandlerOptions, sinks ...Sink) *Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = defaultQueueSize
	}
	return &Handler{
		logger:      opts.Logger,
		sinks:       sinks,
		dedupWindow: opts.DedupWindow,
		queue:       make(chan decoder.Reading, opts.QueueSize),
		last:        make(map[string]lastReading),
		onDrop:      opts.OnDrop,
		onSinkError: opts.OnSinkError,
	}
}

// HandleReading is the scanner's reading observer. It never blocks.
func (h *Handler) HandleReading(r decoder.Reading) {
	if h.duplicate(r) {
		return
	}
	select {
	case h.queue <- r:
	default:
		h.logger.Warn("ble: reading queue full, dropping reading", "addr", r.Address)
		if h.onDrop != nil {
			h.onDrop(r)
		}
	}
}

// HandleReject logs rejected advertisements at debug level.
func (h *Handler) HandleReject(a decoder.Advertisement, err error) {
	h.logger.Debug("ble: ignore advertisement",
		"name", a.Name,
		"addr", a.Address,
		"reason", decoder.RejectReason(err),
		"error", err,
		"data", utils.BytesToHex(a.Payload),
	)
}

// Run dispatches queued readings to the sinks until ctx is done.
func (h *Handler) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case r := <-h.queue:
			h.dispatch(ctx, r)
		}
	}
}

func (h *Handler) dispatch(ctx context.Context, r decoder.Reading) {
	pubCtx, cancel := context.WithTimeout(ctx, sinkPublishBudget)
	defer cancel()
	for _, s := range h.sinks {
		if err := s.Publish(pubCtx, r); err != nil {
			h.logger.Warn("ble: sink publish failed",
				"sink", s.Name(),
				"addr", r.Address,
				"error", err,
			)
			if h.onSinkError != nil {
				h.onSinkError(s.Name(), err)
			}
		}
	}
}

// duplicate reports whether r repeats the last reading from the same address
// inside the dedup window, and records r otherwise.
func (h *Handler) duplicate(r decoder.Reading) bool {
	if h.dedupWindow <= 0 {
		return false
	}
	h.dedupMu.Lock()
	defer h.dedupMu.Unlock()

	prev, ok := h.last[r.Address]
	if ok && prev.temperature == r.TemperatureRaw && prev.humidity == r.HumidityRaw && r.SeenAt.Sub(prev.at) < h.dedupWindow {
		return true
	}
	if !ok && len(h.last) >= dedupMaxDevices {
		h.last = make(map[string]lastReading)
	}
	h.last[r.Address] = lastReading{temperature: r.TemperatureRaw, humidity: r.HumidityRaw, at: r.SeenAt}
	return false
}

// LogSink writes each reading as a structured log line.
type LogSink struct {
	Logger *slog.Logger
}

func (LogSink) Name() string { return "log" }

func (s LogSink) Publish(_ context.Context, r decoder.Reading) error {
	n := r.Notification()
	s.Logger.Info("ble: sensor reading",
		"name", n.DeviceName,
		"addr", n.DeviceAddress,
		"rssi", n.RSSI,
		"T", n.Temperature,
		"H", n.Humidity,
	)
	return nil
}
