package ble

import (
	"bytes"
	"testing"
)

func TestBuildRecord(t *testing.T) {
	got := BuildRecord("Govee_5074", []ManufacturerData{{CompanyID: 0xEC88, Data: []byte{0x00, 0x0A, 0x00}}})
	want := []byte{
		0x02, 0x01, 0x06,
		0x0B, 0x09, 'G', 'o', 'v', 'e', 'e', '_', '5', '0', '7', '4',
		0x06, 0xFF, 0x88, 0xEC, 0x00, 0x0A, 0x00,
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("BuildRecord() = % X, want % X", got, want)
	}
}

func TestBuildRecord_NoName(t *testing.T) {
	got := BuildRecord("", nil)
	if !bytes.Equal(got, []byte{0x02, 0x01, 0x06}) {
		t.Fatalf("BuildRecord() = % X", got)
	}
}

func TestBuildRecord_TruncatesOversizedElement(t *testing.T) {
	got := BuildRecord("", []ManufacturerData{{CompanyID: 1, Data: make([]byte, 300)}})
	// flags (3) + length byte + type + 254 bytes of body
	if len(got) != 3+2+254 {
		t.Fatalf("len = %d, want %d", len(got), 3+2+254)
	}
	if got[3] != 0xFF {
		t.Fatalf("length byte = 0x%02X, want 0xFF", got[3])
	}
}
