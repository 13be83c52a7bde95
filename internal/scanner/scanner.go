// Package scanner runs the BLE scan cycle: scan for a bounded window, stop,
// wait a short delay, scan again. Restarting keeps platform stacks from
// throttling long-running scans.
package scanner

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"govee-gateway/internal/decoder"
)

const (
	DefaultWindow       = 60 * time.Second
	DefaultRestartDelay = 50 * time.Millisecond
)

// ErrUnavailable is returned by Start when the radio could not be enabled.
var ErrUnavailable = errors.New("bluetooth radio unavailable")

// Radio is the platform scanning primitive. StartScan must not block and
// must not invoke its callbacks before returning. StopScan on a stopped
// radio is allowed and may return an error, which the scanner ignores.
type Radio interface {
	Enable() error
	StartScan(onAdv func(decoder.Advertisement), onErr func(error)) error
	StopScan() error
}

type Options struct {
	Window       time.Duration
	RestartDelay time.Duration
	Layout       decoder.Layout

	OnReading func(decoder.Reading)
	OnReject  func(decoder.Advertisement, error)
	OnPhase   func(Phase)
	OnFailure func(error)

	Clock  Clock
	Logger *slog.Logger
}

// Session is a snapshot of the scanner's state.
type Session struct {
	Phase        Phase         `json:"phase"`
	StartedAt    time.Time     `json:"started_at"`
	Window       time.Duration `json:"window"`
	RestartDelay time.Duration `json:"restart_delay"`
	Cycles       uint64        `json:"cycles"`
	Failures     uint64        `json:"failures"`
	LastError    string        `json:"last_error,omitempty"`
}

type Scanner struct {
	radio  Radio
	opts   Options
	clock  Clock
	logger *slog.Logger

	mu      sync.Mutex
	enabled bool
	session Session
	gen     uint64
	timer   Timer
	pending []Phase

	// radioMu serialises calls into the radio. mu is never held while
	// waiting for radioMu.
	radioMu sync.Mutex
}

func New(radio Radio, opts Options) *Scanner {
	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}
	if opts.RestartDelay <= 0 {
		opts.RestartDelay = DefaultRestartDelay
	}
	if opts.Layout.NamePrefix == "" {
		opts.Layout = decoder.DefaultLayout()
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{
		radio:  radio,
		opts:   opts,
		clock:  clock,
		logger: logger,
		session: Session{
			Phase:        Idle,
			Window:       opts.Window,
			RestartDelay: opts.RestartDelay,
		},
	}
}

// Session returns a copy of the current scan session.
func (s *Scanner) Session() Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.session
}

// Start enables the radio on first use and begins scanning. It returns an
// error wrapping ErrUnavailable if the radio cannot be enabled; the scanner
// then stays Unavailable. Start while a cycle is running is a no-op.
func (s *Scanner) Start() error {
	s.mu.Lock()
	if s.session.Phase == Unavailable {
		err := fmt.Errorf("%w: %s", ErrUnavailable, s.session.LastError)
		s.mu.Unlock()
		return err
	}
	if !s.enabled {
		if err := s.radio.Enable(); err != nil {
			s.session.LastError = err.Error()
			s.transition(Unavailable)
			s.unlockAndNotify()
			s.logger.Error("ble: radio unavailable, scanning disabled", "error", err)
			return fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		s.enabled = true
	}
	if s.session.Phase != Idle {
		s.mu.Unlock()
		return nil
	}
	gen := s.beginCycle()
	s.unlockAndNotify()

	s.logger.Info("ble: scanning started", "window", s.opts.Window, "restart_delay", s.opts.RestartDelay)
	s.startRadio(gen)
	return nil
}

// Stop cancels pending timers and stops the radio. It is safe to call at any
// time and more than once. A timer that fires after Stop never resumes
// scanning.
func (s *Scanner) Stop() {
	s.mu.Lock()
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	active := s.session.Phase == Scanning || s.session.Phase == Stopping
	if s.session.Phase != Unavailable {
		s.transition(Idle)
	}
	s.unlockAndNotify()

	if active {
		s.stopRadio()
		s.logger.Info("ble: scanning stopped")
	}
}

// Run starts the scanner and keeps it cycling until ctx is done.
func (s *Scanner) Run(ctx context.Context) error {
	if ctx.Err() != nil {
		return nil
	}
	if err := s.Start(); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// beginCycle moves to Scanning and schedules the end of the window.
// Caller holds mu.
func (s *Scanner) beginCycle() uint64 {
	s.gen++
	gen := s.gen
	s.session.Cycles++
	s.session.StartedAt = s.clock.Now()
	s.transition(Scanning)
	s.schedule(s.opts.Window, func() { s.windowElapsed(gen) })
	return gen
}

// schedule replaces the pending timer. Caller holds mu.
func (s *Scanner) schedule(d time.Duration, f func()) {
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = s.clock.AfterFunc(d, f)
}

func (s *Scanner) startRadio(gen uint64) {
	if err := s.startRadioLocked(gen); err != nil {
		s.scanFailed(gen, err)
	}
}

func (s *Scanner) startRadioLocked(gen uint64) error {
	s.radioMu.Lock()
	defer s.radioMu.Unlock()

	if !s.current(gen) {
		return nil
	}
	return s.radio.StartScan(
		func(a decoder.Advertisement) { s.handleAdvertisement(gen, a) },
		func(err error) { s.scanFailed(gen, err) },
	)
}

func (s *Scanner) stopRadio() {
	s.radioMu.Lock()
	defer s.radioMu.Unlock()
	if err := s.radio.StopScan(); err != nil {
		s.logger.Debug("ble: stop scan", "error", err)
	}
}

func (s *Scanner) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen
}

func (s *Scanner) windowElapsed(gen uint64) {
	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	wasScanning := s.session.Phase == Scanning
	if wasScanning {
		s.transition(Stopping)
	}
	s.unlockAndNotify()

	if wasScanning {
		s.stopRadio()
		s.logger.Debug("ble: scan window elapsed", "window", s.opts.Window)
	}

	s.mu.Lock()
	if gen != s.gen {
		s.mu.Unlock()
		return
	}
	s.transition(Idle)
	s.schedule(s.opts.RestartDelay, func() { s.restart(gen) })
	s.unlockAndNotify()
}

func (s *Scanner) restart(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.session.Phase != Idle {
		s.mu.Unlock()
		return
	}
	next := s.beginCycle()
	s.unlockAndNotify()

	s.logger.Debug("ble: restarting scan", "gen", next)
	s.startRadio(next)
}

// scanFailed abandons the current cycle. The window timer is left in place
// so the next restart happens on schedule.
func (s *Scanner) scanFailed(gen uint64, err error) {
	s.mu.Lock()
	if gen != s.gen || s.session.Phase != Scanning {
		s.mu.Unlock()
		return
	}
	s.session.Failures++
	s.session.LastError = err.Error()
	s.transition(Idle)
	s.unlockAndNotify()

	s.logger.Warn("ble: scan failed, waiting for next cycle", "error", err)
	if s.opts.OnFailure != nil {
		s.opts.OnFailure(err)
	}
}

func (s *Scanner) handleAdvertisement(gen uint64, a decoder.Advertisement) {
	s.mu.Lock()
	accept := gen == s.gen && s.session.Phase == Scanning
	s.mu.Unlock()
	if !accept {
		return
	}

	r, err := s.opts.Layout.TryDecode(a)
	if err != nil {
		if s.opts.OnReject != nil {
			s.opts.OnReject(a, err)
		}
		return
	}
	if s.opts.OnReading != nil {
		s.opts.OnReading(r)
	}
}

// transition records a phase change. Caller holds mu.
func (s *Scanner) transition(p Phase) {
	if s.session.Phase == p {
		return
	}
	s.session.Phase = p
	s.pending = append(s.pending, p)
}

// unlockAndNotify releases mu and then reports queued phase changes.
func (s *Scanner) unlockAndNotify() {
	pending := s.pending
	s.pending = nil
	s.mu.Unlock()

	if s.opts.OnPhase == nil {
		return
	}
	for _, p := range pending {
		s.opts.OnPhase(p)
	}
}
