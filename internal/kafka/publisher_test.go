package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"govee-gateway/internal/decoder"
	"govee-gateway/internal/telemetry"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
)

type recordingWriter struct {
	msgs   []kafka.Message
	err    error
	closed bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func testReading() decoder.Reading {
	return decoder.Reading{
		ID:          uuid.MustParse("9f1c2a56-3a1b-4d4e-8f00-112233445566"),
		DeviceName:  "Govee_H5074_1A2B",
		Address:     "A4:C1:38:1A:2B:3C",
		RSSI:        -71,
		Temperature: 21.37,
		Humidity:    48.02,
		SeenAt:      time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestPublish_KeyedByAddress(t *testing.T) {
	w := &recordingWriter{}
	p := newPublisher(w, "govee.readings", slog.New(slog.NewTextHandler(io.Discard, nil)))

	if err := p.Publish(context.Background(), testReading()); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages, want 1", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "A4:C1:38:1A:2B:3C" {
		t.Errorf("Key = %q", m.Key)
	}
	if !m.Time.Equal(testReading().SeenAt) {
		t.Errorf("Time = %v, want %v", m.Time, testReading().SeenAt)
	}
	if len(m.Headers) != 1 || string(m.Headers[0].Value) != "9f1c2a56-3a1b-4d4e-8f00-112233445566" {
		t.Errorf("Headers = %+v", m.Headers)
	}

	var got telemetry.Telemetry
	if err := json.Unmarshal(m.Value, &got); err != nil {
		t.Fatalf("unmarshal value: %v", err)
	}
	if got.Display.Temperature != "21.4" || got.Display.Humidity != "48.0%" {
		t.Errorf("Display = %+v", got.Display)
	}
	if got.RSSI != -71 || got.DeviceName != "Govee_H5074_1A2B" {
		t.Errorf("payload = %+v", got)
	}
}

func TestPublish_WrapsWriteError(t *testing.T) {
	sentinel := errors.New("broker down")
	w := &recordingWriter{err: sentinel}
	p := newPublisher(w, "govee.readings", slog.New(slog.NewTextHandler(io.Discard, nil)))

	err := p.Publish(context.Background(), testReading())
	if !errors.Is(err, sentinel) {
		t.Fatalf("Publish() error = %v, want wrapping %v", err, sentinel)
	}
}

func TestNewPublisher_Validates(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	if _, err := NewPublisher(nil, "t", log); err == nil {
		t.Error("NewPublisher(no brokers) error = nil")
	}
	if _, err := NewPublisher([]string{"localhost:9092"}, "", log); err == nil {
		t.Error("NewPublisher(empty topic) error = nil")
	}
	p, err := NewPublisher([]string{"localhost:9092"}, "govee.readings", log)
	if err != nil {
		t.Fatalf("NewPublisher() error = %v", err)
	}
	if p.Name() != "kafka" {
		t.Errorf("Name() = %q", p.Name())
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
}
