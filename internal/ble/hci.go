package ble

import (
	"context"
	"log/slog"
	"sync"
	"time"

	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux"
	"github.com/pkg/errors"

	"govee-gateway/internal/decoder"
)

// rawAdvertisement is implemented by the linux hci advertisement, which
// keeps the undecoded AD structures of the report and the scan response.
type rawAdvertisement interface {
	Data() []byte
	ScanResponse() []byte
}

// HCIRadio scans on a raw HCI socket, bypassing BlueZ.
type HCIRadio struct {
	index  int
	logger *slog.Logger

	mu     sync.Mutex
	dev    goble.Device
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHCIRadio(index int, logger *slog.Logger) *HCIRadio {
	if logger == nil {
		logger = slog.Default()
	}
	return &HCIRadio{index: index, logger: logger}
}

func (r *HCIRadio) Enable() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev != nil {
		return nil
	}
	d, err := linux.NewDevice(goble.OptDeviceID(r.index))
	if err != nil {
		return errors.Wrapf(err, "open hci%d", r.index)
	}
	r.dev = d
	r.logger.Info("ble: hci device opened", "index", r.index)
	return nil
}

func (r *HCIRadio) StartScan(onAdv func(decoder.Advertisement), onErr func(error)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return errors.New("hci device not enabled")
	}
	if r.done != nil {
		return errors.New("hci scan already running")
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.cancel, r.done = cancel, done
	dev := r.dev

	go func() {
		defer close(done)
		err := dev.Scan(ctx, true, func(a goble.Advertisement) {
			onAdv(advertisementFromGoBLE(a))
		})
		r.mu.Lock()
		if r.done == done {
			r.cancel, r.done = nil, nil
		}
		r.mu.Unlock()

		switch errors.Cause(err) {
		case nil, context.Canceled, context.DeadlineExceeded:
		default:
			onErr(errors.Wrap(err, "hci scan"))
		}
	}()
	return nil
}

func (r *HCIRadio) StopScan() error {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	select {
	case <-done:
		return nil
	case <-time.After(stopScanTimeout):
		return errors.Errorf("hci scan did not stop within %v", stopScanTimeout)
	}
}

// Close releases the HCI socket.
func (r *HCIRadio) Close() error {
	if err := r.StopScan(); err != nil {
		r.logger.Debug("ble: stop scan on close", "error", err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.dev == nil {
		return nil
	}
	err := r.dev.Stop()
	r.dev = nil
	return errors.Wrap(err, "close hci device")
}

func advertisementFromGoBLE(a goble.Advertisement) decoder.Advertisement {
	var payload []byte
	if raw, ok := a.(rawAdvertisement); ok {
		payload = append(payload, raw.Data()...)
		payload = append(payload, raw.ScanResponse()...)
	}
	if len(payload) == 0 {
		var mfg []ManufacturerData
		if md := a.ManufacturerData(); len(md) >= 2 {
			mfg = append(mfg, ManufacturerData{
				CompanyID: uint16(md[0]) | uint16(md[1])<<8,
				Data:      append([]byte(nil), md[2:]...),
			})
		}
		payload = BuildRecord(a.LocalName(), mfg)
	}
	return decoder.Advertisement{
		Name:    a.LocalName(),
		Address: a.Addr().String(),
		RSSI:    a.RSSI(),
		Payload: payload,
		SeenAt:  time.Now(),
	}
}
