package tokenizer

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func bpeTestVocabulary(t *testing.T, overrides func(*Metadata)) *Vocabulary {
	t.Helper()

	md := Metadata{
		Model: "gpt2",
		Pre:   "gpt2",
		Tokens: []string{
			"hello", "Ġworld",
			"h", "e", "l", "o", "he", "hel", "hell",
			"Ġ", "w", "r", "d", "Ġw", "Ġwo", "Ġwor", "Ġworl",
			"<unk>", "!",
		},
		TokenTypes: []int32{
			1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1,
			int32(TokenTypeUnknown), 1,
		},
		Merges: []string{
			"h e", "he l", "hel l", "hell o",
			"Ġ w", "Ġw o", "Ġwo r", "Ġwor l", "Ġworl d",
		},
		UNK: ptr(int32(17)),
	}

	if overrides != nil {
		overrides(&md)
	}

	vocab, err := NewVocabulary(md)
	require.NoError(t, err)
	return vocab
}

func TestBytePairEncodingEncode(t *testing.T) {
	bpe, err := NewBytePairEncoding(bpeTestVocabulary(t, nil))
	require.NoError(t, err)

	cases := []struct {
		name  string
		input string
		want  []int32
	}{
		{name: "empty", input: "", want: nil},
		{name: "single word", input: "hello", want: []int32{0}},
		{name: "two words", input: "hello world", want: []int32{0, 1}},
		{name: "partial merges", input: "hell", want: []int32{8}},
		{name: "punctuation splits", input: "hello!", want: []int32{0, 18}},
		{name: "unknown fallback", input: "z", want: []int32{17}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := bpe.Encode(tt.input)
			require.NoError(t, err)

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("no match (-want +got):\n%s", diff)
			}
		})
	}
}

func TestBytePairEncodingDecode(t *testing.T) {
	bpe, err := NewBytePairEncoding(bpeTestVocabulary(t, nil))
	require.NoError(t, err)

	got, err := bpe.Decode([]int32{0, 1})
	require.NoError(t, err)
	require.Equal(t, "hello world", got)
}

func TestBytePairEncodingRoundTrip(t *testing.T) {
	bpe, err := NewBytePairEncoding(bpeTestVocabulary(t, nil))
	require.NoError(t, err)

	for _, input := range []string{"hello", "hello world", "hello world hello"} {
		ids, err := bpe.Encode(input)
		require.NoError(t, err)

		decoded, err := bpe.Decode(ids)
		require.NoError(t, err)
		require.Equal(t, input, decoded)
	}
}

func TestBytePairEncodingIgnoreMerges(t *testing.T) {
	vocab := bpeTestVocabulary(t, func(md *Metadata) {
		md.IgnoreMerges = ptr(true)
		// No merge rules at all: the whole-fragment lookup must carry
		// the encode on its own.
		md.Merges = nil
	})

	bpe, err := NewBytePairEncoding(vocab)
	require.NoError(t, err)

	got, err := bpe.Encode("hello world")
	require.NoError(t, err)
	require.Equal(t, []int32{0, 1}, got)
}

func TestBytePairEncodingUnknownPreType(t *testing.T) {
	vocab := bpeTestVocabulary(t, func(md *Metadata) {
		md.Pre = "some-future-model"
	})

	// Unknown pre-tokenizer kinds fall back to the gpt2 pattern.
	bpe, err := NewBytePairEncoding(vocab)
	require.NoError(t, err)

	got, err := bpe.Encode("hello world")
	require.NoError(t, err)
	require.Equal(t, []int32{0, 1}, got)
}

func TestBytePairEncodingByteRoundTrip(t *testing.T) {
	// A vocabulary holding every byte-level code point as a token can
	// represent arbitrary bytes; decode(encode(x)) must be identity.
	tokens := make([]string, 256)
	for b := range tokens {
		tokens[b] = string(byteToRune[b])
	}

	vocab, err := NewVocabulary(Metadata{
		Model:  "gpt2",
		Pre:    "gpt2",
		Tokens: tokens,
	})
	require.NoError(t, err)

	bpe, err := NewBytePairEncoding(vocab)
	require.NoError(t, err)

	input := "héllo wörld ⚡\nmixed\tws"
	ids, err := bpe.Encode(input)
	require.NoError(t, err)

	decoded, err := bpe.Decode(ids)
	require.NoError(t, err)
	require.Equal(t, input, decoded)
}

func TestBytePairEncodingOutputCap(t *testing.T) {
	vocab := bpeTestVocabulary(t, nil)
	bpe, err := NewBytePairEncoding(vocab)
	require.NoError(t, err)

	// Each "h " pair costs two tokens: the gpt2 split attaches every
	// space to the following "h", and with no "Ġ h" merge each " h"
	// fragment encodes as "Ġ" and "h".
	input := strings.Repeat("h ", maxOutputTokens/2+1)
	_, err = bpe.Encode(input)
	require.ErrorIs(t, err, ErrTokenizationFailed)
}
