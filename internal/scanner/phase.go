package scanner

import (
	"fmt"
	"time"
)

type Phase int

const (
	Idle Phase = iota
	Scanning
	Stopping
	Unavailable
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case Scanning:
		return "scanning"
	case Stopping:
		return "stopping"
	case Unavailable:
		return "unavailable"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Timer is the part of *time.Timer the scanner needs.
type Timer interface {
	Stop() bool
}

// Clock schedules the scan cycle. Tests substitute a manual clock.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
