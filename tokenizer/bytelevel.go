package tokenizer

import "strings"

// Byte-level BPE vocabularies store token pieces over a fixed
// bijection between the 256 byte values and printable code points.
// Printable ASCII and most of Latin-1 map to themselves; the
// remaining bytes are shifted into U+0100..U+0143 in ascending order,
// which is exactly the GPT-2 bytes_to_unicode table.
var byteToRune [256]rune

func init() {
	for b := range byteToRune {
		r := rune(b)
		switch {
		case r == 0x00ad:
			r = 0x0143
		case r <= 0x0020:
			r = r + 0x0100
		case r >= 0x007f && r <= 0x00a0:
			r = r + 0x00a2
		}
		byteToRune[b] = r
	}
}

// encodeBytes maps every byte of s to its byte-level code point.
func encodeBytes(s string) string {
	var sb strings.Builder
	sb.Grow(len(s))
	for _, b := range []byte(s) {
		sb.WriteRune(byteToRune[b])
	}
	return sb.String()
}

// decodeByteRune inverts the byte-level mapping for a single code
// point. The second result is false for code points outside the
// table.
func decodeByteRune(r rune) (byte, bool) {
	switch {
	case r == 0x0143:
		return 0x00ad, true
	case r > 0x0120 && r <= 0x0142:
		return byte(r - 0x00a2), true
	case r >= 0x0100 && r <= 0x0120:
		return byte(r - 0x0100), true
	case r >= 0x0021 && r <= 0x007e, r >= 0x00a1 && r <= 0x00ac, r >= 0x00ae && r <= 0x00ff:
		return byte(r), true
	default:
		return 0, false
	}
}
