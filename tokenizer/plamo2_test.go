package tokenizer

import (
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func plamo2TestVocabulary(t *testing.T, extra []string, scores []float32) *Vocabulary {
	t.Helper()

	tokens := make([]string, 0, 256+len(extra))
	types := make([]int32, 0, 256+len(extra))
	allScores := make([]float32, 0, 256+len(extra))

	for b := range 256 {
		tokens = append(tokens, fmt.Sprintf("<0x%02X>", b))
		types = append(types, int32(TokenTypeByte))
		allScores = append(allScores, 0)
	}

	for i, tok := range extra {
		tokens = append(tokens, tok)
		types = append(types, int32(TokenTypeNormal))
		allScores = append(allScores, scores[i])
	}

	vocab, err := NewVocabulary(Metadata{
		Model:      "plamo2",
		Tokens:     tokens,
		Scores:     allScores,
		TokenTypes: types,
	})
	require.NoError(t, err)
	return vocab
}

func TestPlamo2Encode(t *testing.T) {
	vocab := plamo2TestVocabulary(t,
		[]string{"a", "b", "ab", "cd"},
		[]float32{1.0, 1.0, 3.0, 2.0},
	)

	p, err := NewPlamo2(vocab)
	require.NoError(t, err)

	cases := []struct {
		name  string
		input string
		want  []int32
	}{
		{name: "empty", input: "", want: nil},
		// "ab" at 3.0 beats "a"+"b" at 2.0.
		{name: "single best token", input: "ab", want: []int32{258}},
		{name: "reverse order", input: "ba", want: []int32{257, 256}},
		{name: "mixed", input: "abcd", want: []int32{258, 259}},
		// 'z' has no token; it expands through the byte table.
		{name: "byte fallback ascii", input: "z", want: []int32{int32('z')}},
		// U+00A1 is two UTF-8 bytes.
		{name: "byte fallback multibyte", input: "¡", want: []int32{0xC2, 0xA1}},
		{name: "fallback between tokens", input: "azb", want: []int32{256, int32('z'), 257}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := p.Encode(tt.input)
			require.NoError(t, err)

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("no match (-want +got):\n%s", diff)
			}
		})
	}
}

func TestPlamo2ByteFallbackCover(t *testing.T) {
	vocab := plamo2TestVocabulary(t, []string{"ab"}, []float32{1.0})

	p, err := NewPlamo2(vocab)
	require.NoError(t, err)

	// Every code point without a single-token path must expand to
	// exactly its UTF-8 byte count.
	for _, input := range []string{"é", "世", "🦀"} {
		ids, err := p.Encode(input)
		require.NoError(t, err)
		require.Len(t, ids, len(input), "input %q", input)
	}
}

func TestPlamo2RoundTrip(t *testing.T) {
	vocab := plamo2TestVocabulary(t,
		[]string{"a", "b", "ab", "cd"},
		[]float32{1.0, 1.0, 3.0, 2.0},
	)

	p, err := NewPlamo2(vocab)
	require.NoError(t, err)

	for _, input := range []string{"ab", "abcd", "a🦀b", "¡hola!"} {
		ids, err := p.Encode(input)
		require.NoError(t, err)

		decoded, err := p.Decode(ids)
		require.NoError(t, err)
		require.Equal(t, input, decoded)
	}
}

func TestPlamo2RequiresByteTokens(t *testing.T) {
	_, err := NewVocabulary(Metadata{
		Model:      "plamo2",
		Tokens:     []string{"a", "b"},
		Scores:     []float32{0, 0},
		TokenTypes: []int32{1, 1},
	})
	require.ErrorIs(t, err, ErrInvalidMetadata)
}
