package telemetry

import (
	"encoding/json"
	"testing"
	"time"

	"govee-gateway/internal/decoder"
	"govee-gateway/internal/scanner"

	"github.com/google/uuid"
)

func TestFromReading(t *testing.T) {
	id := uuid.New()
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	got := FromReading(decoder.Reading{
		ID:          id,
		Address:     "A4:C1:38:00:00:01",
		RSSI:        decoder.NoRSSI,
		Temperature: -0.01,
		Humidity:    5,
		SeenAt:      at,
	})

	if got.ID != id.String() || got.Address != "A4:C1:38:00:00:01" || !got.Timestamp.Equal(at) {
		t.Errorf("telemetry = %+v", got)
	}
	if got.DeviceName != decoder.MissingName {
		t.Errorf("DeviceName = %q, want %q", got.DeviceName, decoder.MissingName)
	}
	if got.Display.RSSI != -1000 || got.Display.Temperature != "-0.0" || got.Display.Humidity != "5.0%" {
		t.Errorf("Display = %+v", got.Display)
	}

	b, err := json.Marshal(got)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	for _, key := range []string{"temperature_c", "humidity_pct", "display", "rssi"} {
		if _, ok := m[key]; !ok {
			t.Errorf("json missing %q: %s", key, b)
		}
	}
}

func TestStatusFromSession(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 1, 0, time.UTC)
	got := StatusFromSession(scanner.Session{
		Phase:     scanner.Unavailable,
		Cycles:    2,
		Failures:  1,
		LastError: "no adapter",
	}, now)

	want := ScannerStatus{Phase: "unavailable", UpdatedAt: now, Cycles: 2, Failures: 1, LastError: "no adapter"}
	if got != want {
		t.Errorf("StatusFromSession = %+v, want %+v", got, want)
	}
}
