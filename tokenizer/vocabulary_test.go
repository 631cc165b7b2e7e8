package tokenizer

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewVocabularyValidation(t *testing.T) {
	valid := func() Metadata {
		return Metadata{
			Model:      "llama",
			Tokens:     []string{"<unk>", "a", "b"},
			Scores:     []float32{0, -1, -2},
			TokenTypes: []int32{2, 1, 1},
			UNK:        ptr(int32(0)),
		}
	}

	cases := []struct {
		name     string
		mutate   func(*Metadata)
		wantErr  error
	}{
		{
			name:    "valid",
			mutate:  func(md *Metadata) {},
			wantErr: nil,
		},
		{
			name:    "empty vocabulary",
			mutate:  func(md *Metadata) { md.Tokens = nil },
			wantErr: ErrInvalidMetadata,
		},
		{
			name:    "score length mismatch",
			mutate:  func(md *Metadata) { md.Scores = []float32{0} },
			wantErr: ErrInvalidMetadata,
		},
		{
			name:    "token type length mismatch",
			mutate:  func(md *Metadata) { md.TokenTypes = []int32{1} },
			wantErr: ErrInvalidMetadata,
		},
		{
			name:    "bad token type code",
			mutate:  func(md *Metadata) { md.TokenTypes = []int32{2, 1, 99} },
			wantErr: ErrInvalidMetadata,
		},
		{
			name:    "duplicate token",
			mutate:  func(md *Metadata) { md.Tokens = []string{"<unk>", "a", "a"} },
			wantErr: ErrInvalidMetadata,
		},
		{
			name:    "empty normal token",
			mutate:  func(md *Metadata) { md.Tokens = []string{"<unk>", "a", ""} },
			wantErr: ErrInvalidMetadata,
		},
		{
			name:    "oversized token",
			mutate:  func(md *Metadata) { md.Tokens = []string{"<unk>", "a", strings.Repeat("x", maxTokenLen+1)} },
			wantErr: ErrInvalidMetadata,
		},
		{
			name:    "special id out of range",
			mutate:  func(md *Metadata) { md.BOS = ptr(int32(3)) },
			wantErr: ErrInvalidMetadata,
		},
		{
			name:    "two unknown tokens",
			mutate:  func(md *Metadata) { md.TokenTypes = []int32{2, 2, 1} },
			wantErr: ErrInvalidMetadata,
		},
		{
			name:    "malformed merge",
			mutate:  func(md *Metadata) { md.Merges = []string{"ab"} },
			wantErr: ErrInvalidMetadata,
		},
		{
			name:    "merge references unknown token",
			mutate:  func(md *Metadata) { md.Merges = []string{"a z"} },
			wantErr: ErrInvalidMetadata,
		},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			md := valid()
			tt.mutate(&md)

			_, err := NewVocabulary(md)
			if tt.wantErr == nil {
				require.NoError(t, err)
			} else if !errors.Is(err, tt.wantErr) {
				t.Errorf("got %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestVocabularyLookups(t *testing.T) {
	vocab, err := NewVocabulary(Metadata{
		Model:      "gpt2",
		Tokens:     []string{"a", "b", "ab", "<|eot|>", "<0x41>"},
		TokenTypes: []int32{1, 1, 1, 3, 6},
		Merges:     []string{"a b"},
	})
	require.NoError(t, err)

	if id := vocab.Encode("ab"); id != 2 {
		t.Errorf("Encode(ab) = %d, want 2", id)
	}
	if id := vocab.Encode("missing"); id != -1 {
		t.Errorf("Encode(missing) = %d, want -1", id)
	}
	if got := vocab.Decode(2); got != "ab" {
		t.Errorf("Decode(2) = %q, want %q", got, "ab")
	}

	if rank := vocab.Merge("a", "b"); rank != 0 {
		t.Errorf("Merge(a, b) = %d, want 0", rank)
	}
	if rank := vocab.Merge("b", "a"); rank != -1 {
		t.Errorf("Merge(b, a) = %d, want -1", rank)
	}

	if id := vocab.ByteToken(0x41); id != 4 {
		t.Errorf("ByteToken(0x41) = %d, want 4", id)
	}
	if id := vocab.ByteToken(0x61); id != 0 {
		// No <0x61> token, but "a" is the raw byte string.
		t.Errorf("ByteToken(0x61) = %d, want 0", id)
	}

	require.Equal(t, []string{"<|eot|>"}, vocab.SpecialVocabulary())
	require.True(t, vocab.IsSpecial(3))
	require.False(t, vocab.IsSpecial(2))
}

func TestVocabularySpecialOrdering(t *testing.T) {
	vocab, err := NewVocabulary(Metadata{
		Model:      "gpt2",
		Tokens:     []string{"<|a|>", "<|aa|>", "x"},
		TokenTypes: []int32{3, 3, 1},
	})
	require.NoError(t, err)

	// Longest first, so the longer of two overlapping matches wins.
	require.Equal(t, []string{"<|aa|>", "<|a|>"}, vocab.SpecialVocabulary())
}

func TestVocabularyPlamo2ByteCover(t *testing.T) {
	tokens := make([]string, 255)
	for b := range tokens {
		tokens[b] = fmt.Sprintf("<0x%02X>", b)
	}

	// One byte token short of the full cover.
	_, err := NewVocabulary(Metadata{Model: "plamo2", Tokens: tokens})
	require.ErrorIs(t, err, ErrInvalidMetadata)
}
