package ble

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"tinygo.org/x/bluetooth"

	"govee-gateway/internal/decoder"
)

const stopScanTimeout = 5 * time.Second

// BlueZRadio scans through BlueZ over D-Bus.
type BlueZRadio struct {
	adapter   *bluetooth.Adapter
	adapterID string
	logger    *slog.Logger

	mu       sync.Mutex
	done     chan struct{}
	stopping bool
}

func NewBlueZRadio(adapterID string, logger *slog.Logger) *BlueZRadio {
	if adapterID == "" {
		adapterID = "hci0"
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &BlueZRadio{
		adapter:   bluetooth.NewAdapter(adapterID),
		adapterID: adapterID,
		logger:    logger,
	}
}

func (r *BlueZRadio) Enable() error {
	r.logger.Info("ble: enabling adapter", "adapter", r.adapterID)
	if err := r.adapter.Enable(); err != nil {
		return fmt.Errorf("ble enable (%s): %w", r.adapterID, err)
	}
	r.logger.Info("ble: adapter enabled", "adapter", r.adapterID)
	return nil
}

// StartScan runs adapter.Scan in its own goroutine; Scan blocks until
// StopScan or an error.
func (r *BlueZRadio) StartScan(onAdv func(decoder.Advertisement), onErr func(error)) error {
	r.mu.Lock()
	if r.done != nil {
		r.mu.Unlock()
		return errors.New("ble: scan already running")
	}
	done := make(chan struct{})
	r.done = done
	r.mu.Unlock()

	go func() {
		err := r.adapter.Scan(func(_ *bluetooth.Adapter, res bluetooth.ScanResult) {
			onAdv(advertisementFromScanResult(res))
		})

		r.mu.Lock()
		stopping := r.stopping
		if r.done == done {
			r.done = nil
		}
		r.mu.Unlock()
		close(done)

		if err != nil && !stopping {
			onErr(fmt.Errorf("ble scan (%s): %w", r.adapterID, err))
		}
	}()
	return nil
}

func (r *BlueZRadio) StopScan() error {
	r.mu.Lock()
	done := r.done
	if done == nil {
		r.mu.Unlock()
		return nil
	}
	r.stopping = true
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.stopping = false
		r.mu.Unlock()
	}()

	if err := r.adapter.StopScan(); err != nil {
		return fmt.Errorf("ble stop scan (%s): %w", r.adapterID, err)
	}
	select {
	case <-done:
		return nil
	case <-time.After(stopScanTimeout):
		return fmt.Errorf("ble stop scan (%s): scan did not return within %v", r.adapterID, stopScanTimeout)
	}
}

func advertisementFromScanResult(res bluetooth.ScanResult) decoder.Advertisement {
	name := res.LocalName()
	payload := res.Bytes()
	if len(payload) == 0 {
		var mfg []ManufacturerData
		for _, md := range res.ManufacturerData() {
			mfg = append(mfg, ManufacturerData{CompanyID: md.CompanyID, Data: append([]byte(nil), md.Data...)})
		}
		payload = BuildRecord(name, mfg)
	} else {
		payload = append([]byte(nil), payload...)
	}
	return decoder.Advertisement{
		Name:    name,
		Address: res.Address.String(),
		RSSI:    int(res.RSSI),
		Payload: payload,
		SeenAt:  time.Now(),
	}
}
