package tokenizer

import "testing"

func TestByteLevelBijection(t *testing.T) {
	seen := make(map[rune]byte, 256)
	for b := range 256 {
		r := byteToRune[b]
		if prev, ok := seen[r]; ok {
			t.Fatalf("rune %U maps bytes %#x and %#x", r, prev, b)
		}
		seen[r] = byte(b)

		back, ok := decodeByteRune(r)
		if !ok {
			t.Fatalf("rune %U for byte %#x does not decode", r, b)
		}
		if back != byte(b) {
			t.Fatalf("byte %#x round trips to %#x", b, back)
		}
	}
}

func TestByteLevelKnownMappings(t *testing.T) {
	cases := []struct {
		b byte
		r rune
	}{
		{b: ' ', r: 'Ġ'},   // 0x20 -> U+0120
		{b: '\n', r: 'Ċ'},  // 0x0a -> U+010A
		{b: 0x00, r: 'Ā'},  // 0x00 -> U+0100
		{b: 0xad, r: 'Ń'},  // soft hyphen -> U+0143
		{b: 'A', r: 'A'},   // printable ASCII is identity
		{b: 0xe9, r: 'é'},  // upper Latin-1 is identity
	}

	for _, tt := range cases {
		if got := byteToRune[tt.b]; got != tt.r {
			t.Errorf("byteToRune[%#x] = %U, want %U", tt.b, got, tt.r)
		}
	}
}

func TestEncodeBytes(t *testing.T) {
	if got, want := encodeBytes(" world"), "Ġworld"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestDecodeByteRuneOutOfTable(t *testing.T) {
	for _, r := range []rune{'▁', 0x0144, 0x2028, '世'} {
		if _, ok := decodeByteRune(r); ok {
			t.Errorf("rune %U should not decode", r)
		}
	}
}
