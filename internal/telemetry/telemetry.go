package telemetry

import (
	"time"

	"govee-gateway/internal/decoder"
	"govee-gateway/internal/scanner"
)

// Telemetry is the wire form of a decoded reading, shared by MQTT, Kafka and
// the HTTP API.
type Telemetry struct {
	ID          string    `json:"id"`
	DeviceName  string    `json:"device_name"`
	Address     string    `json:"address"`
	RSSI        int       `json:"rssi"`
	Timestamp   time.Time `json:"timestamp"`
	Temperature float64   `json:"temperature_c"`
	Humidity    float64   `json:"humidity_pct"`

	Display decoder.Notification `json:"display"`
}

// ScannerStatus is published retained so late subscribers see the radio state.
type ScannerStatus struct {
	Phase     string    `json:"phase"`
	UpdatedAt time.Time `json:"updated_at"`
	StartedAt time.Time `json:"started_at,omitempty"`
	Cycles    uint64    `json:"cycles"`
	Failures  uint64    `json:"failures"`
	LastError string    `json:"last_error,omitempty"`
}

func FromReading(r decoder.Reading) Telemetry {
	n := r.Notification()
	return Telemetry{
		ID:          r.ID.String(),
		DeviceName:  n.DeviceName,
		Address:     r.Address,
		RSSI:        r.RSSI,
		Timestamp:   r.SeenAt,
		Temperature: r.Temperature,
		Humidity:    r.Humidity,
		Display:     n,
	}
}

// StatusFromSession converts a scanner snapshot to its published form.
func StatusFromSession(s scanner.Session, now time.Time) ScannerStatus {
	return ScannerStatus{
		Phase:     s.Phase.String(),
		UpdatedAt: now,
		StartedAt: s.StartedAt,
		Cycles:    s.Cycles,
		Failures:  s.Failures,
		LastError: s.LastError,
	}
}
