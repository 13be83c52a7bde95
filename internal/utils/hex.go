package utils

// BytesToHex renders b as space separated upper-case hex pairs ("0A 00 F4"),
// the format used when logging raw advertisement records.
func BytesToHex(b []byte) string {
	const hexd = "0123456789ABCDEF"
	if len(b) == 0 {
		return ""
	}
	out := make([]byte, 0, len(b)*3-1)
	for i, x := range b {
		if i > 0 {
			out = append(out, ' ')
		}
		out = append(out, hexd[x>>4], hexd[x&0x0F])
	}
	return string(out)
}
