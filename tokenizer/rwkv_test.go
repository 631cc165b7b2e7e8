package tokenizer

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestUnescapeRWKV(t *testing.T) {
	cases := []struct {
		in   string
		want []byte
	}{
		{in: "abc", want: []byte("abc")},
		{in: `\n`, want: []byte{'\n'}},
		{in: `\t`, want: []byte{'\t'}},
		{in: `\r`, want: []byte{'\r'}},
		{in: `\x41`, want: []byte{'A'}},
		{in: `\x00`, want: []byte{0}},
		{in: `\xff`, want: []byte{0xff}},
		{in: `\\`, want: []byte{'\\'}},
		{in: `hello\nworld`, want: []byte("hello\nworld")},
	}

	for _, tt := range cases {
		t.Run(tt.in, func(t *testing.T) {
			if diff := cmp.Diff(tt.want, unescapeRWKV(tt.in)); diff != "" {
				t.Errorf("no match (-want +got):\n%s", diff)
			}
		})
	}
}

func rwkvTestVocabulary(t *testing.T, tokens []string, types []int32) *Vocabulary {
	t.Helper()

	vocab, err := NewVocabulary(Metadata{
		Model:      "rwkv",
		Tokens:     tokens,
		TokenTypes: types,
		UNK:        ptr(int32(0)),
	})
	require.NoError(t, err)
	return vocab
}

func TestRWKVEncode(t *testing.T) {
	vocab := rwkvTestVocabulary(t,
		[]string{"<unk>", "a", "b", "ab", "abc", `\n`, `\x41`},
		[]int32{int32(TokenTypeUnknown), 1, 1, 1, 1, 1, 1},
	)

	r, err := NewRWKV(vocab)
	require.NoError(t, err)

	cases := []struct {
		name  string
		input string
		want  []int32
	}{
		{name: "empty", input: "", want: nil},
		{name: "greedy longest match", input: "abc", want: []int32{4}},
		{name: "longest then rest", input: "abab", want: []int32{3, 3}},
		{name: "backoff to shorter", input: "abb", want: []int32{3, 2}},
		{name: "escaped newline", input: "a\nb", want: []int32{1, 5, 2}},
		{name: "escaped hex byte", input: "A", want: []int32{6}},
		{name: "unknown byte", input: "z", want: []int32{0}},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			got, err := r.Encode(tt.input)
			require.NoError(t, err)

			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("no match (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRWKVDecode(t *testing.T) {
	vocab := rwkvTestVocabulary(t,
		[]string{"<unk>", "a", "b", "ab", "abc", `\n`, `\x41`},
		[]int32{int32(TokenTypeUnknown), 1, 1, 1, 1, 1, 1},
	)

	r, err := NewRWKV(vocab)
	require.NoError(t, err)

	got, err := r.Decode([]int32{4, 5, 6})
	require.NoError(t, err)
	require.Equal(t, "abc\nA", got)
}

func TestRWKVCollision(t *testing.T) {
	// "A" and "\x41" unescape to the same byte.
	vocab := rwkvTestVocabulary(t,
		[]string{"<unk>", "A", `\x41`},
		[]int32{int32(TokenTypeUnknown), 1, 1},
	)

	_, err := NewRWKV(vocab)
	require.ErrorIs(t, err, ErrInvalidMetadata)
}
