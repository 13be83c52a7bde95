// Package decoder recognises Govee thermo-hygrometer advertisements and
// extracts temperature and relative humidity from them.
//
// Each sensor emits two advertisements roughly every second: the data frame
// and a second frame that carries no measurements. The marker byte check is
// what tells them apart. It is a heuristic observed on H5074 firmware, not a
// documented protocol field.
package decoder

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrRejected is wrapped by every rejection; rejections are expected and not failures.
	ErrRejected = errors.New("advertisement rejected")

	ErrNameMismatch = fmt.Errorf("%w: name mismatch", ErrRejected)
	ErrShortPayload = fmt.Errorf("%w: payload too short", ErrRejected)
	ErrDecoyFrame   = fmt.Errorf("%w: decoy frame", ErrRejected)
)

// NoRSSI marks an advertisement whose signal strength was not reported.
const NoRSSI = -1000

// Advertisement is one scan callback's worth of data. Name is empty when the
// advertiser did not send one.
type Advertisement struct {
	Name    string
	Address string
	RSSI    int
	Payload []byte
	SeenAt  time.Time
}

// Reading is a decoded sensor frame. Raw values are the signed integers read
// from the payload before scaling.
type Reading struct {
	ID             uuid.UUID
	DeviceName     string
	Address        string
	RSSI           int
	TemperatureRaw int64
	HumidityRaw    int64
	Temperature    float64
	Humidity       float64
	SeenAt         time.Time
}

// RejectReason returns a short label for a rejection error, for metrics.
func RejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNameMismatch):
		return "name"
	case errors.Is(err, ErrShortPayload):
		return "short"
	case errors.Is(err, ErrDecoyFrame):
		return "decoy"
	default:
		return "other"
	}
}

// TryDecode filters adv and, if it is a data frame, decodes it. Filtering is
// ordered and short-circuits: name prefix, payload length, marker byte. The
// returned error wraps ErrRejected whenever no Reading is produced.
func (l Layout) TryDecode(adv Advertisement) (Reading, error) {
	if adv.Name == "" || !strings.HasPrefix(adv.Name, l.NamePrefix) {
		return Reading{}, ErrNameMismatch
	}
	if n := l.MinPayloadLen(); len(adv.Payload) < n {
		return Reading{}, fmt.Errorf("%w: got %d bytes, need %d", ErrShortPayload, len(adv.Payload), n)
	}
	if m := adv.Payload[l.MarkerOffset]; m != l.MarkerValue {
		return Reading{}, fmt.Errorf("%w: marker 0x%02X at %d", ErrDecoyFrame, m, l.MarkerOffset)
	}

	t := DecodeField(adv.Payload, l.Temperature)
	h := DecodeField(adv.Payload, l.Humidity)

	seenAt := adv.SeenAt
	if seenAt.IsZero() {
		seenAt = time.Now()
	}
	return Reading{
		ID:             uuid.New(),
		DeviceName:     adv.Name,
		Address:        adv.Address,
		RSSI:           adv.RSSI,
		TemperatureRaw: t,
		HumidityRaw:    h,
		Temperature:    float64(t) / l.Scale,
		Humidity:       float64(h) / l.Scale,
		SeenAt:         seenAt,
	}, nil
}

// DecodeField reads f from b as a two's-complement signed integer. The caller
// guarantees b is long enough.
func DecodeField(b []byte, f Field) int64 {
	raw := b[f.Offset:f.End()]
	var u uint64
	for i := range raw {
		idx := i
		if !f.BigEndian {
			idx = len(raw) - 1 - i
		}
		u = u<<8 | uint64(raw[idx])
	}
	return toSigned(u, f.Length)
}

// EncodeField writes v into b at f using the same representation DecodeField reads.
func EncodeField(b []byte, f Field, v int64) {
	u := uint64(v)
	for i := 0; i < f.Length; i++ {
		idx := f.Offset + i
		if f.BigEndian {
			idx = f.End() - 1 - i
		}
		b[idx] = byte(u >> (8 * i))
	}
}

func toSigned(u uint64, n int) int64 {
	if n >= 8 {
		return int64(u)
	}
	bits := uint(8 * n)
	if u >= 1<<(bits-1) {
		return int64(u) - int64(1)<<bits
	}
	return int64(u)
}
