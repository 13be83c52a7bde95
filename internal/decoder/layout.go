package decoder

import (
	"errors"
	"fmt"
)

// Govee H5074 advertisement layout. Offsets index into the full scan record
// (advertising data followed by the scan response).
const (
	DefaultNamePrefix        = "Govee_"
	DefaultMarkerOffset      = 44
	DefaultMarkerValue       = 0x00
	DefaultTemperatureOffset = 34
	DefaultHumidityOffset    = 36
	DefaultFieldLength       = 2
	DefaultScale             = 100.0
)

// Field describes a fixed-width integer inside the payload.
type Field struct {
	Offset    int
	Length    int
	BigEndian bool
}

// End is the first byte offset past the field.
func (f Field) End() int {
	return f.Offset + f.Length
}

// Layout holds everything needed to recognise and decode a sensor frame.
type Layout struct {
	NamePrefix   string
	MarkerOffset int
	MarkerValue  byte
	Temperature  Field
	Humidity     Field
	Scale        float64
}

func DefaultLayout() Layout {
	return Layout{
		NamePrefix:   DefaultNamePrefix,
		MarkerOffset: DefaultMarkerOffset,
		MarkerValue:  DefaultMarkerValue,
		Temperature:  Field{Offset: DefaultTemperatureOffset, Length: DefaultFieldLength},
		Humidity:     Field{Offset: DefaultHumidityOffset, Length: DefaultFieldLength},
		Scale:        DefaultScale,
	}
}

// MinPayloadLen is the shortest payload that contains the marker byte and both fields.
func (l Layout) MinPayloadLen() int {
	n := l.MarkerOffset + 1
	if e := l.Temperature.End(); e > n {
		n = e
	}
	if e := l.Humidity.End(); e > n {
		n = e
	}
	return n
}

func (l Layout) Validate() error {
	if l.NamePrefix == "" {
		return errors.New("layout: name prefix must not be empty")
	}
	if l.MarkerOffset < 0 {
		return fmt.Errorf("layout: marker offset must not be negative, got %d", l.MarkerOffset)
	}
	if l.Scale == 0 {
		return errors.New("layout: scale must not be zero")
	}
	if err := l.Temperature.validate("temperature"); err != nil {
		return err
	}
	return l.Humidity.validate("humidity")
}

func (f Field) validate(name string) error {
	if f.Offset < 0 {
		return fmt.Errorf("layout: %s offset must not be negative, got %d", name, f.Offset)
	}
	if f.Length < 1 || f.Length > 8 {
		return fmt.Errorf("layout: %s length must be 1..8, got %d", name, f.Length)
	}
	return nil
}
