package tokenizer

import (
	"cmp"
	"fmt"
	"iter"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/dlclark/regexp2"
	heap "github.com/emirpasic/gods/v2/trees/binaryheap"

	"github.com/ggtok/ggtok/logutil"
)

// BytePairEncoding tokenizes gpt2-family models: regex
// pre-tokenization into fragments, a byte-level remapping of each
// fragment, then lowest-rank-first pair merging against the
// vocabulary's merge table.
type BytePairEncoding struct {
	vocab   *Vocabulary
	regexps []*regexp2.Regexp
}

var _ TextProcessor = (*BytePairEncoding)(nil)

func NewBytePairEncoding(vocab *Vocabulary) (*BytePairEncoding, error) {
	patterns, known := pretokenizerPatterns(vocab.Pre)
	if !known && vocab.Pre != "" {
		slog.Warn("unknown pre-tokenizer, using gpt2 splitting", "pre", vocab.Pre)
	}

	regexps := make([]*regexp2.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp2.Compile(pattern, regexp2.Unicode)
		if err != nil {
			return nil, fmt.Errorf("%w: pre-tokenizer pattern %q: %v", ErrInvalidMetadata, pattern, err)
		}
		regexps = append(regexps, re)
	}

	return &BytePairEncoding{
		vocab:   vocab,
		regexps: regexps,
	}, nil
}

// split applies the pattern sequence. Every pattern divides the
// fragments produced so far; text between matches is kept as its own
// fragment so later patterns (and the merge loop) still see it.
func (bpe *BytePairEncoding) split(s string) iter.Seq[string] {
	parts := []string{s}
	for _, re := range bpe.regexps {
		parts = slices.Collect(func(yield func(string) bool) {
			for _, part := range parts {
				runes := []rune(part)
				var offset int
				for m, _ := re.FindRunesMatch(runes); m != nil; m, _ = re.FindNextMatch(m) {
					if m.Index > offset {
						if !yield(string(runes[offset:m.Index])) {
							return
						}
					}

					if m.Length > 0 {
						if !yield(m.String()) {
							return
						}
					}

					offset = m.Index + m.Length
					if m.Length == 0 {
						// Zero-width match: avoid spinning in place.
						break
					}
				}

				if offset < len(runes) {
					if !yield(string(runes[offset:])) {
						return
					}
				}
			}
		})
	}

	return slices.Values(parts)
}

// bpePair is a candidate merge of two adjacent symbols, ordered by
// merge rank and then by position.
type bpePair struct {
	left, right int
	rank        int
	value       string
}

type bpeSymbol struct {
	prev, next int
	runes      []rune
}

func (bpe *BytePairEncoding) Encode(s string) ([]int32, error) {
	var ids []int32
	for fragment := range bpe.split(s) {
		if fragment == "" {
			continue
		}

		tokens := bpe.merge(fragment)
		if len(ids)+len(tokens) > maxOutputTokens {
			return nil, fmt.Errorf("%w: output exceeds %d tokens", ErrTokenizationFailed, maxOutputTokens)
		}

		ids = append(ids, tokens...)
	}

	logutil.Trace("encoded", "string", s, "ids", ids)
	return ids, nil
}

func (bpe *BytePairEncoding) merge(fragment string) []int32 {
	encoded := encodeBytes(fragment)

	// Some vocabularies carry frequent fragments as whole tokens and
	// ask for the merge walk to be skipped for them.
	if bpe.vocab.IgnoreMerges {
		if id := bpe.vocab.Encode(encoded); id >= 0 {
			return []int32{id}
		}
	}

	runes := []rune(encoded)
	symbols := make([]bpeSymbol, len(runes))
	for i := range runes {
		symbols[i] = bpeSymbol{
			prev:  i - 1,
			next:  i + 1,
			runes: runes[i : i+1],
		}
	}

	pairwise := func(left, right int) *bpePair {
		if left < 0 || right >= len(symbols) {
			return nil
		}

		ls, rs := string(symbols[left].runes), string(symbols[right].runes)
		rank := bpe.vocab.Merge(ls, rs)
		if rank < 0 {
			return nil
		}

		return &bpePair{
			left:  left,
			right: right,
			rank:  rank,
			value: ls + rs,
		}
	}

	pairs := heap.NewWith(func(a, b *bpePair) int {
		if n := cmp.Compare(a.rank, b.rank); n != 0 {
			return n
		}
		return cmp.Compare(a.left, b.left)
	})

	for i := range len(symbols) - 1 {
		if pair := pairwise(i, i+1); pair != nil {
			pairs.Push(pair)
		}
	}

	for !pairs.Empty() {
		pair, _ := pairs.Pop()

		left, right := &symbols[pair.left], &symbols[pair.right]
		if len(left.runes) == 0 || len(right.runes) == 0 ||
			string(left.runes)+string(right.runes) != pair.value {
			continue
		}

		left.runes = append(slices.Clip(left.runes), right.runes...)
		right.runes = nil

		left.next = right.next
		if right.next < len(symbols) {
			symbols[right.next].prev = pair.left
		}

		if pair := pairwise(left.prev, pair.left); pair != nil {
			pairs.Push(pair)
		}

		if pair := pairwise(pair.left, left.next); pair != nil {
			pairs.Push(pair)
		}
	}

	var ids []int32
	for _, sym := range symbols {
		if len(sym.runes) == 0 {
			continue
		}

		if id := bpe.vocab.Encode(string(sym.runes)); id >= 0 {
			ids = append(ids, id)
			continue
		}

		// Unmerged leftovers fall back to their single-character byte
		// tokens, then to the unknown token.
		for _, r := range sym.runes {
			if id := bpe.vocab.Encode(string(r)); id >= 0 {
				ids = append(ids, id)
			} else if bpe.vocab.UNK >= 0 {
				ids = append(ids, bpe.vocab.UNK)
			}
		}
	}

	return ids
}

func (bpe *BytePairEncoding) appendPiece(dst []byte, id int32) []byte {
	for _, r := range bpe.vocab.Decode(id) {
		if b, ok := decodeByteRune(r); ok {
			dst = append(dst, b)
		} else {
			dst = utf8.AppendRune(dst, utf8.RuneError)
		}
	}

	return dst
}

func (bpe *BytePairEncoding) Decode(ids []int32) (string, error) {
	var buf []byte
	for _, id := range ids {
		if id < 0 || int(id) >= len(bpe.vocab.Values) {
			return "", fmt.Errorf("%w: id %d out of range", ErrInvalidToken, id)
		}

		buf = bpe.appendPiece(buf, id)
		if len(buf) > maxDecodeSize {
			return "", fmt.Errorf("%w: decoded text exceeds %d bytes", ErrTokenizationFailed, maxDecodeSize)
		}
	}

	// Byte-level vocabularies can legitimately produce partial UTF-8
	// sequences; invalid bytes become replacement characters rather
	// than errors.
	out := strings.ToValidUTF8(string(buf), string(utf8.RuneError))

	logutil.Trace("decoded", "string", out, "from", ids)
	return out, nil
}

func (bpe *BytePairEncoding) encodeFragment(s string) ([]int32, error) {
	return bpe.Encode(s)
}
