package tokenizer

import (
	"container/heap"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ggtok/ggtok/logutil"
)

const spmWhitespaceSep = "▁"

// maxResegmentDepth caps the merge-history recursion in the final
// output pass.
const maxResegmentDepth = 1000

// SentencePiece tokenizes with the llama-family unigram merge
// algorithm: adjacent symbol pairs whose concatenation is in the
// vocabulary are merged best-score first, then the surviving symbols
// are re-segmented against the vocabulary using the recorded merge
// history.
type SentencePiece struct {
	vocab *Vocabulary
}

var _ TextProcessor = (*SentencePiece)(nil)

func NewSentencePiece(vocab *Vocabulary) *SentencePiece {
	return &SentencePiece{vocab: vocab}
}

// spmSymbol covers a byte range of the processed text. A merged-away
// symbol keeps its position but has n == 0.
type spmSymbol struct {
	pos, n     int
	prev, next int
}

type spmCandidate struct {
	left, right int
	score       float32
	size        int
}

type spmQueue []*spmCandidate

func (q spmQueue) Len() int { return len(q) }

func (q spmQueue) Less(i, j int) bool {
	a, b := q[i], q[j]
	aNaN, bNaN := math.IsNaN(float64(a.score)), math.IsNaN(float64(b.score))
	switch {
	case aNaN && bNaN:
		return a.left < b.left
	case aNaN:
		return false
	case bNaN:
		return true
	case a.score != b.score:
		return a.score > b.score
	default:
		return a.left < b.left
	}
}

func (q spmQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *spmQueue) Push(x any) {
	*q = append(*q, x.(*spmCandidate))
}

func (q *spmQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	*q = old[:n-1]
	return item
}

func (spm *SentencePiece) Encode(s string) ([]int32, error) {
	if s == "" {
		return nil, nil
	}

	text := s
	if spm.vocab.AddSpacePrefix && !strings.HasPrefix(text, " ") && !strings.HasPrefix(text, spmWhitespaceSep) {
		text = " " + text
	}

	return spm.encode(s, text)
}

// encodeFragment skips the space prefix: segments between parsed
// special tokens continue the surrounding text.
func (spm *SentencePiece) encodeFragment(s string) ([]int32, error) {
	if s == "" {
		return nil, nil
	}

	return spm.encode(s, s)
}

func (spm *SentencePiece) encode(s, text string) ([]int32, error) {
	text = strings.ReplaceAll(text, " ", spmWhitespaceSep)

	if len(text) > maxInputSize {
		return nil, fmt.Errorf("%w: input is %d bytes after whitespace escaping", ErrTokenizationFailed, len(text))
	}

	symbols := make([]spmSymbol, 0, utf8.RuneCountInString(text))
	for pos := 0; pos < len(text); {
		_, n := utf8.DecodeRuneInString(text[pos:])
		symbols = append(symbols, spmSymbol{
			pos:  pos,
			n:    n,
			prev: len(symbols) - 1,
			next: len(symbols) + 1,
		})
		pos += n
	}
	symbols[len(symbols)-1].next = -1

	// revMerge records, for every enqueued pair, which two symbols
	// produced the concatenation. The output pass uses it to split
	// merged pieces that never became whole vocabulary tokens.
	revMerge := make(map[string][2]int)

	q := &spmQueue{}
	heap.Init(q)

	tryAdd := func(left, right int) {
		if left < 0 || right < 0 || right >= len(symbols) {
			return
		}

		ls, rs := &symbols[left], &symbols[right]
		if ls.n == 0 || rs.n == 0 {
			return
		}

		piece := text[ls.pos : ls.pos+ls.n+rs.n]
		id := spm.vocab.Encode(piece)
		if id < 0 {
			return
		}

		heap.Push(q, &spmCandidate{
			left:  left,
			right: right,
			score: spm.vocab.Score(id),
			size:  ls.n + rs.n,
		})
		revMerge[piece] = [2]int{left, right}
	}

	for i := 1; i < len(symbols); i++ {
		tryAdd(i-1, i)
	}

	maxIterations := max(100000, 10*len(symbols))
	var iterations int
	for q.Len() > 0 {
		iterations++
		if iterations > maxIterations {
			return nil, fmt.Errorf("%w: merge iteration limit exceeded", ErrTokenizationFailed)
		}

		c := heap.Pop(q).(*spmCandidate)
		left, right := &symbols[c.left], &symbols[c.right]

		// The pair may be stale: either side merged away, or a
		// neighbor merge changed what the positions cover.
		if left.n == 0 || right.n == 0 || left.next != c.right || left.n+right.n != c.size {
			continue
		}

		left.n += right.n
		right.n = 0
		left.next = right.next
		if right.next >= 0 {
			symbols[right.next].prev = c.left
		}

		tryAdd(left.prev, c.left)
		tryAdd(c.left, left.next)
	}

	var ids []int32
	var err error
	for i := 0; i >= 0; i = symbols[i].next {
		if symbols[i].n == 0 {
			continue
		}

		piece := text[symbols[i].pos : symbols[i].pos+symbols[i].n]
		if ids, err = spm.resegment(text, symbols, revMerge, piece, ids, 0); err != nil {
			return nil, err
		}
	}

	logutil.Trace("encoded", "string", s, "ids", ids)
	return ids, nil
}

func (spm *SentencePiece) resegment(text string, symbols []spmSymbol, revMerge map[string][2]int, piece string, ids []int32, depth int) ([]int32, error) {
	if depth > maxResegmentDepth {
		return nil, fmt.Errorf("%w: resegment depth limit exceeded", ErrTokenizationFailed)
	}

	if id := spm.vocab.Encode(piece); id >= 0 {
		return append(ids, id), nil
	}

	if p, ok := revMerge[piece]; ok {
		var err error
		for _, idx := range p {
			sym := symbols[idx]
			if sym.n == 0 {
				continue
			}

			if ids, err = spm.resegment(text, symbols, revMerge, text[sym.pos:sym.pos+sym.n], ids, depth+1); err != nil {
				return nil, err
			}
		}
		return ids, nil
	}

	// No vocabulary token and no merge history: fall back to byte
	// tokens, or the unknown token for vocabularies without them.
	for i := 0; i < len(piece); i++ {
		if id := spm.vocab.Encode(fmt.Sprintf("<0x%02X>", piece[i])); id >= 0 {
			ids = append(ids, id)
		} else if spm.vocab.UNK >= 0 {
			ids = append(ids, spm.vocab.UNK)
		}
	}

	return ids, nil
}

func (spm *SentencePiece) appendPiece(dst []byte, id int32) []byte {
	piece := spm.vocab.Decode(id)

	// Byte tokens carry one raw byte each; everything else is text
	// with the whitespace marker mapped back to a space.
	if isByteToken(piece) {
		if b, err := strconv.ParseUint(piece[1:5], 0, 8); err == nil {
			return append(dst, byte(b))
		}
	}

	return append(dst, strings.ReplaceAll(piece, spmWhitespaceSep, " ")...)
}

func isByteToken(piece string) bool {
	return len(piece) == 6 && strings.HasPrefix(piece, "<0x") && strings.HasSuffix(piece, ">")
}

func (spm *SentencePiece) Decode(ids []int32) (string, error) {
	var buf []byte
	for _, id := range ids {
		if id < 0 || int(id) >= len(spm.vocab.Values) {
			return "", fmt.Errorf("%w: id %d out of range", ErrInvalidToken, id)
		}

		buf = spm.appendPiece(buf, id)
	}

	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%w: decoded bytes are not valid utf-8", ErrInvalidUTF8)
	}

	logutil.Trace("decoded", "ids", ids, "string", string(buf))
	return string(buf), nil
}
