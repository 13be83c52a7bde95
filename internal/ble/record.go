package ble

import (
	"cmp"
	"encoding/binary"
	"slices"
)

// AD structure types used when rebuilding a scan record.
const (
	adTypeFlags            = 0x01
	adTypeCompleteName     = 0x09
	adTypeManufacturerData = 0xFF

	adFlagsGeneralNoBREDR = 0x06
	adMaxLen              = 0xFF
)

// ManufacturerData is one manufacturer specific AD element.
type ManufacturerData struct {
	CompanyID uint16
	Data      []byte
}

// BuildRecord rebuilds an advertisement record from parsed fields, for
// stacks that do not hand out the raw bytes. Layout is flags, complete local
// name, then manufacturer data elements sorted by company ID, so the same
// elements always land at the same offsets. Offsets match the over-the-air
// record only when the device sent exactly these elements in that order.
func BuildRecord(name string, mfg []ManufacturerData) []byte {
	out := make([]byte, 0, 62)
	out = appendAD(out, adTypeFlags, []byte{adFlagsGeneralNoBREDR})
	if name != "" {
		out = appendAD(out, adTypeCompleteName, []byte(name))
	}
	sorted := slices.Clone(mfg)
	slices.SortStableFunc(sorted, func(a, b ManufacturerData) int {
		return cmp.Compare(a.CompanyID, b.CompanyID)
	})
	for _, m := range sorted {
		body := make([]byte, 2, 2+len(m.Data))
		binary.LittleEndian.PutUint16(body, m.CompanyID)
		body = append(body, m.Data...)
		out = appendAD(out, adTypeManufacturerData, body)
	}
	return out
}

func appendAD(out []byte, typ byte, data []byte) []byte {
	if len(data)+1 > adMaxLen {
		data = data[:adMaxLen-1]
	}
	out = append(out, byte(len(data)+1), typ)
	return append(out, data...)
}
