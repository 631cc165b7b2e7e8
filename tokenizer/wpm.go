package tokenizer

import (
	"fmt"
	"iter"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"

	"github.com/ggtok/ggtok/logutil"
)

// WordPiece tokenizes bert-family models: normalized words are
// matched greedily against the vocabulary, longest prefix first, with
// a phantom space marking word starts. A word with any unmatchable
// position collapses to the unknown token.
type WordPiece struct {
	vocab *Vocabulary
}

var _ TextProcessor = (*WordPiece)(nil)

func NewWordPiece(vocab *Vocabulary) *WordPiece {
	return &WordPiece{vocab: vocab}
}

func isCJK(r rune) bool {
	switch {
	case r >= 0x4E00 && r <= 0x9FFF,
		r >= 0x3400 && r <= 0x4DBF,
		r >= 0x20000 && r <= 0x2A6DF,
		r >= 0x2A700 && r <= 0x2B73F,
		r >= 0x2B740 && r <= 0x2B81F,
		r >= 0x2B820 && r <= 0x2CEAF,
		r >= 0xF900 && r <= 0xFAFF,
		r >= 0x2F800 && r <= 0x2FA1F:
		return true
	}
	return false
}

// words normalizes (NFD, lowercase) and splits into words on
// whitespace. ASCII punctuation and CJK characters are words of their
// own.
func (wpm *WordPiece) words(s string) iter.Seq[string] {
	normalized := strings.ToLower(norm.NFD.String(s))

	return func(yield func(string) bool) {
		var word strings.Builder
		flush := func() bool {
			if word.Len() == 0 {
				return true
			}
			w := word.String()
			word.Reset()
			return yield(w)
		}

		for _, r := range normalized {
			switch {
			case unicode.IsSpace(r):
				if !flush() {
					return
				}
			case r < 0x80 && unicode.IsPunct(r) || isCJK(r):
				if !flush() {
					return
				}
				if !yield(string(r)) {
					return
				}
			default:
				word.WriteRune(r)
			}
		}

		flush()
	}
}

func (wpm *WordPiece) Encode(s string) ([]int32, error) {
	var ids []int32
	for word := range wpm.words(s) {
		word = spmWhitespaceSep + word
		checkpoint := len(ids)

		for i := 0; i < len(word); {
			var matched int
			for j := min(len(word), i+wpm.vocab.MaxTokenLen()+1); j > i; j-- {
				if id := wpm.vocab.Encode(word[i:j]); id >= 0 {
					ids = append(ids, id)
					matched = j - i
					break
				}
			}

			if matched == 0 {
				// A single unmatchable position voids the whole word.
				ids = ids[:checkpoint]
				break
			}

			i += matched
		}

		if len(ids) == checkpoint && wpm.vocab.UNK >= 0 {
			ids = append(ids, wpm.vocab.UNK)
		}
	}

	logutil.Trace("encoded", "string", s, "ids", ids)
	return ids, nil
}

func (wpm *WordPiece) appendPiece(dst []byte, id int32) []byte {
	piece := wpm.vocab.Decode(id)
	if cut, ok := strings.CutPrefix(piece, spmWhitespaceSep); ok {
		dst = append(dst, ' ')
		piece = cut
	}

	return append(dst, piece...)
}

func (wpm *WordPiece) Decode(ids []int32) (string, error) {
	var buf []byte
	for _, id := range ids {
		if id < 0 || int(id) >= len(wpm.vocab.Values) {
			return "", fmt.Errorf("%w: id %d out of range", ErrInvalidToken, id)
		}

		buf = wpm.appendPiece(buf, id)
	}

	return strings.TrimPrefix(string(buf), " "), nil
}

func (wpm *WordPiece) encodeFragment(s string) ([]int32, error) {
	return wpm.Encode(s)
}
