package ble

import (
	"bytes"
	"testing"

	goble "github.com/go-ble/ble"
	"github.com/go-ble/ble/linux/hci"
	"tinygo.org/x/bluetooth"

	"govee-gateway/internal/decoder"
)

var _ rawAdvertisement = (*hci.Advertisement)(nil)

type goBLEAdv struct {
	goble.Advertisement
	name string
	mfg  []byte
	addr string
	rssi int
}

func (a goBLEAdv) LocalName() string        { return a.name }
func (a goBLEAdv) ManufacturerData() []byte { return a.mfg }
func (a goBLEAdv) Addr() goble.Addr         { return goble.NewAddr(a.addr) }
func (a goBLEAdv) RSSI() int                { return a.rssi }

type rawGoBLEAdv struct {
	goBLEAdv
	data, scanResp []byte
}

func (a rawGoBLEAdv) Data() []byte         { return a.data }
func (a rawGoBLEAdv) ScanResponse() []byte { return a.scanResp }

type scanPayload struct {
	bluetooth.AdvertisementPayload
	name string
	raw  []byte
	mfg  []bluetooth.ManufacturerDataElement
}

func (p scanPayload) LocalName() string { return p.name }
func (p scanPayload) Bytes() []byte     { return p.raw }
func (p scanPayload) ManufacturerData() []bluetooth.ManufacturerDataElement {
	return p.mfg
}

// goveeFrame returns a 62 byte report + scan response with 21.37 C / 48.04 %
// at the default offsets.
func goveeFrame() []byte {
	l := decoder.DefaultLayout()
	frame := make([]byte, 62)
	decoder.EncodeField(frame, l.Temperature, 2137)
	decoder.EncodeField(frame, l.Humidity, 4804)
	return frame
}

func scanResult(t *testing.T, addr string, rssi int16, p scanPayload) bluetooth.ScanResult {
	t.Helper()
	mac, err := bluetooth.ParseMAC(addr)
	if err != nil {
		t.Fatalf("ParseMAC(%q): %v", addr, err)
	}
	return bluetooth.ScanResult{
		Address:              bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: mac}},
		RSSI:                 rssi,
		AdvertisementPayload: p,
	}
}

func TestAdvertisementFromGoBLE(t *testing.T) {
	frame := goveeFrame()
	base := goBLEAdv{name: "Govee_H5074_1A2B", addr: "A4:C1:38:1A:2B:3C", rssi: -71}

	tests := []struct {
		name string
		adv  goble.Advertisement
		want []byte
	}{
		{
			name: "raw report and scan response",
			adv:  rawGoBLEAdv{goBLEAdv: base, data: frame[:31], scanResp: frame[31:]},
			want: frame,
		},
		{
			name: "report without scan response",
			adv:  rawGoBLEAdv{goBLEAdv: base, data: frame[:31]},
			want: frame[:31],
		},
		{
			name: "parsed fields only",
			adv: goBLEAdv{
				name: base.name, addr: base.addr, rssi: base.rssi,
				mfg: []byte{0x88, 0xEC, 0x00, 0x0A},
			},
			want: BuildRecord(base.name, []ManufacturerData{{CompanyID: 0xEC88, Data: []byte{0x00, 0x0A}}}),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := advertisementFromGoBLE(tt.adv)
			if got.Name != "Govee_H5074_1A2B" {
				t.Errorf("Name = %q", got.Name)
			}
			if got.Address != "a4:c1:38:1a:2b:3c" {
				t.Errorf("Address = %q", got.Address)
			}
			if got.RSSI != -71 {
				t.Errorf("RSSI = %d, want -71", got.RSSI)
			}
			if !bytes.Equal(got.Payload, tt.want) {
				t.Errorf("Payload = % X, want % X", got.Payload, tt.want)
			}
			if got.SeenAt.IsZero() {
				t.Error("SeenAt is zero")
			}
		})
	}
}

func TestAdvertisementFromGoBLE_RawFrameDecodes(t *testing.T) {
	frame := goveeFrame()
	adv := advertisementFromGoBLE(rawGoBLEAdv{
		goBLEAdv: goBLEAdv{name: "Govee_H5074_1A2B", addr: "A4:C1:38:1A:2B:3C", rssi: -60},
		data:     frame[:31],
		scanResp: frame[31:],
	})

	r, err := decoder.DefaultLayout().TryDecode(adv)
	if err != nil {
		t.Fatalf("TryDecode() error = %v", err)
	}
	if r.Temperature != 21.37 || r.Humidity != 48.04 {
		t.Fatalf("reading = %.2f / %.2f, want 21.37 / 48.04", r.Temperature, r.Humidity)
	}
}

func TestAdvertisementFromGoBLE_CopiesRawBytes(t *testing.T) {
	data := []byte{0x02, 0x01, 0x06}
	adv := advertisementFromGoBLE(rawGoBLEAdv{goBLEAdv: goBLEAdv{addr: "A4:C1:38:1A:2B:3C"}, data: data})
	data[0] = 0xFF
	if adv.Payload[0] != 0x02 {
		t.Fatal("payload aliases the event buffer")
	}
}

func TestAdvertisementFromScanResult(t *testing.T) {
	frame := goveeFrame()
	mfg := []bluetooth.ManufacturerDataElement{
		{CompanyID: 0xEC88, Data: []byte{0x00, 0x0A, 0x00}},
		{CompanyID: 0x004C, Data: []byte{0x02, 0x15}},
	}

	tests := []struct {
		name    string
		payload scanPayload
		want    []byte
	}{
		{
			name:    "raw bytes",
			payload: scanPayload{name: "Govee_5074", raw: frame},
			want:    frame,
		},
		{
			name:    "manufacturer data",
			payload: scanPayload{name: "Govee_5074", mfg: mfg},
			want: BuildRecord("Govee_5074", []ManufacturerData{
				{CompanyID: 0x004C, Data: []byte{0x02, 0x15}},
				{CompanyID: 0xEC88, Data: []byte{0x00, 0x0A, 0x00}},
			}),
		},
		{
			name:    "no name",
			payload: scanPayload{},
			want:    []byte{0x02, 0x01, 0x06},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := advertisementFromScanResult(scanResult(t, "A4:C1:38:1A:2B:3C", -82, tt.payload))
			if got.Name != tt.payload.name {
				t.Errorf("Name = %q, want %q", got.Name, tt.payload.name)
			}
			if got.Address != "A4:C1:38:1A:2B:3C" {
				t.Errorf("Address = %q", got.Address)
			}
			if got.RSSI != -82 {
				t.Errorf("RSSI = %d, want -82", got.RSSI)
			}
			if !bytes.Equal(got.Payload, tt.want) {
				t.Errorf("Payload = % X, want % X", got.Payload, tt.want)
			}
		})
	}
}

func TestAdvertisementFromScanResult_ManufacturerOrderIsStable(t *testing.T) {
	apple := bluetooth.ManufacturerDataElement{CompanyID: 0x004C, Data: []byte{0x02, 0x15, 0x01}}
	govee := bluetooth.ManufacturerDataElement{CompanyID: 0xEC88, Data: []byte{0x00, 0x0A, 0x00, 0xF4}}

	first := advertisementFromScanResult(scanResult(t, "A4:C1:38:1A:2B:3C", -60,
		scanPayload{name: "Govee_5074", mfg: []bluetooth.ManufacturerDataElement{apple, govee}}))
	second := advertisementFromScanResult(scanResult(t, "A4:C1:38:1A:2B:3C", -60,
		scanPayload{name: "Govee_5074", mfg: []bluetooth.ManufacturerDataElement{govee, apple}}))

	if !bytes.Equal(first.Payload, second.Payload) {
		t.Fatalf("payload depends on element order:\n% X\n% X", first.Payload, second.Payload)
	}
}
