package tokenizer

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ggtok/ggtok/logutil"
)

// Integer-scaled score sentinels for the suffix table. Scores are
// stored as round(score * 1e4) so DP comparisons stay exact.
const (
	plamo2InvalidScore = -20_000_000
	plamo2UnknownScore = -10_000_000
)

// Plamo2 tokenizes plamo2 models with a table-driven reverse dynamic
// program. The table enumerates, for every suffix of every token, the
// vocabulary pieces that prefix it, longest first, closed by an
// unknown sentinel row; a state map steps the current suffix through
// the next code point.
type Plamo2 struct {
	vocab *Vocabulary

	byteTokens [256]int32

	// table rows are [pieceLen, tokenID, score, pieceID]; suffix IDs
	// index the first row of their suffix's block.
	table [][4]int32

	// toSuffixID maps (codepoint << 32 | suffixID) to the suffix ID
	// reached by prepending that code point.
	toSuffixID map[uint64]int32
}

var _ TextProcessor = (*Plamo2)(nil)

func NewPlamo2(vocab *Vocabulary) (*Plamo2, error) {
	p := &Plamo2{
		vocab:      vocab,
		toSuffixID: make(map[uint64]int32),
	}

	for b := range p.byteTokens {
		id := vocab.Encode(fmt.Sprintf("<0x%02X>", b))
		if id < 0 {
			return nil, fmt.Errorf("%w: missing byte token <0x%02X>", ErrInvalidMetadata, b)
		}
		p.byteTokens[b] = id
	}

	// suffixToScore tracks every token suffix; hasScore is false for
	// suffixes that exist only structurally.
	type suffixScore struct {
		score    float64
		hasScore bool
	}
	suffixToScore := make(map[string]suffixScore)

	for id, token := range vocab.Values {
		if vocab.Type(int32(id)) == TokenTypeByte {
			continue
		}

		suffixToScore[token] = suffixScore{score: float64(vocab.Score(int32(id))), hasScore: true}

		runes := []rune(token)
		for i := 1; i < len(runes); i++ {
			suffix := string(runes[i:])
			if _, ok := suffixToScore[suffix]; !ok {
				suffixToScore[suffix] = suffixScore{}
			}
		}
	}

	suffixes := make([]string, 0, len(suffixToScore)+1)
	for suffix := range suffixToScore {
		suffixes = append(suffixes, suffix)
	}
	suffixes = append(suffixes, "")

	reverse := func(s string) string {
		runes := []rune(s)
		slices.Reverse(runes)
		return string(runes)
	}
	slices.SortFunc(suffixes, func(a, b string) int {
		return strings.Compare(reverse(a), reverse(b))
	})

	suffixToID := make(map[string]int32, len(suffixes))
	var numPieces int32
	for _, suffix := range suffixes {
		suffixToID[suffix] = numPieces

		if suffix != "" {
			first, size := utf8.DecodeRuneInString(suffix)
			code := uint64(first)<<32 | uint64(uint32(suffixToID[suffix[size:]]))
			p.toSuffixID[code] = numPieces
		}

		numPieces++
		runes := []rune(suffix)
		for i := 1; i <= len(runes); i++ {
			if _, ok := suffixToScore[string(runes[:i])]; ok {
				numPieces++
			}
		}
	}

	p.table = make([][4]int32, 0, numPieces)
	for _, suffix := range suffixes {
		runes := []rune(suffix)

		for pieceLen := len(runes); pieceLen >= 1; pieceLen-- {
			piece := string(runes[:pieceLen])
			entry, ok := suffixToScore[piece]
			if !ok {
				continue
			}

			tokenID := vocab.Encode(piece)
			score := int32(plamo2InvalidScore)
			if entry.hasScore {
				score = int32(math.Round(entry.score * 1e4))
			}

			p.table = append(p.table, [4]int32{int32(pieceLen), tokenID, score, suffixToID[piece]})
		}

		p.table = append(p.table, [4]int32{1, -1, plamo2UnknownScore, 0})
	}

	return p, nil
}

func (p *Plamo2) Encode(s string) ([]int32, error) {
	cps := []rune(s)
	n := len(cps)
	if n == 0 {
		return nil, nil
	}

	scores := make([]int64, n+1)
	for i := range scores {
		scores[i] = math.MaxInt64 / 4
	}
	scores[n] = 0

	// path rows are [tokenLenInCodepoints, tokenID, tokenCount].
	path := make([][3]int32, n+1)

	var suffixID int32
	for i := n - 1; i >= 0; i-- {
		c := uint64(uint32(cps[i]))

		// Step the suffix state through this code point.
		for pos := suffixID; int(pos) < len(p.table); pos++ {
			code := c<<32 | uint64(uint32(p.table[pos][3]))
			suffixID = p.toSuffixID[code]

			if suffixID > 0 || p.table[pos][2] == plamo2UnknownScore {
				break
			}
		}

		// Scan this suffix's candidate block, sentinel-terminated.
		for pos := suffixID; int(pos) < len(p.table); pos++ {
			score := p.table[pos][2]
			if score > plamo2InvalidScore {
				pieceLen := int(p.table[pos][0])
				if i+pieceLen <= n {
					if s := scores[i+pieceLen] - int64(score); s < scores[i] {
						scores[i] = s
						path[i][0] = int32(pieceLen)
						path[i][1] = p.table[pos][1]
						path[i][2] = path[i+pieceLen][2] + 1

						if score == plamo2UnknownScore {
							// Byte fallback expands the code point to
							// its UTF-8 length.
							c32 := uint32(cps[i])
							path[i][2] += int32(b2i(c32 >= 0x80) + b2i(c32 >= 0x800) + b2i(c32 >= 0x10000))
						}
					}
				}
			}

			if score == plamo2UnknownScore {
				break
			}
		}

		if path[i][0] <= 0 {
			// Fail closed: always advance one code point as unknown.
			path[i][0] = 1
			path[i][1] = -1
			path[i][2] = path[i+1][2] + 1
		}
	}

	ids := make([]int32, 0, path[0][2])
	for pos := 0; pos < n; {
		if tokenID := path[pos][1]; tokenID >= 0 {
			ids = append(ids, tokenID)
		} else {
			var buf [4]byte
			for _, b := range utf8.AppendRune(buf[:0], cps[pos]) {
				ids = append(ids, p.byteTokens[b])
			}
		}

		pos += max(int(path[pos][0]), 1)
	}

	logutil.Trace("encoded", "string", s, "ids", ids)
	return ids, nil
}

func b2i(b bool) int {
	if b {
		return 1
	}
	return 0
}

func (p *Plamo2) appendPiece(dst []byte, id int32) []byte {
	piece := p.vocab.Decode(id)
	if p.vocab.Type(id) == TokenTypeByte && isByteToken(piece) {
		if b, err := strconv.ParseUint(piece[1:5], 0, 8); err == nil {
			return append(dst, byte(b))
		}
	}

	return append(dst, piece...)
}

func (p *Plamo2) Decode(ids []int32) (string, error) {
	var buf []byte
	for _, id := range ids {
		if id < 0 || int(id) >= len(p.vocab.Values) {
			return "", fmt.Errorf("%w: id %d out of range", ErrInvalidToken, id)
		}

		buf = p.appendPiece(buf, id)
	}

	if !utf8.Valid(buf) {
		return "", fmt.Errorf("%w: decoded bytes are not valid utf-8", ErrInvalidUTF8)
	}

	return string(buf), nil
}

func (p *Plamo2) encodeFragment(s string) ([]int32, error) {
	return p.Encode(s)
}
