package tokenizer

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"slices"
	"strings"
	"unicode/utf8"

	"github.com/ggtok/ggtok/logutil"
)

const ugmUnknownScorePenalty = 10.0

// Unigram tokenizes t5-family models with a Viterbi pass over a byte
// trie of the vocabulary, preceded by the model's precompiled
// character-map normalization when one is supplied.
type Unigram struct {
	vocab *Vocabulary

	matcher            byteTrie
	userDefinedMatcher byteTrie

	// xcda is the packed double-array trie of the precompiled
	// character map; prefixReplacements holds its NUL-terminated
	// replacement strings. Both are empty without a charsmap, in
	// which case normalization reduces to the whitespace handling
	// driven by the vocabulary flags.
	xcda               []uint32
	prefixReplacements []byte

	minScore     float32
	maxScore     float32
	unknownScore float32
}

var _ TextProcessor = (*Unigram)(nil)

func NewUnigram(vocab *Vocabulary) (*Unigram, error) {
	u := &Unigram{
		vocab:    vocab,
		minScore: math.MaxFloat32,
		maxScore: -math.MaxFloat32,
	}

	if err := u.parseCharsMap(vocab.PrecompiledCharsMap); err != nil {
		return nil, err
	}

	for id, tokenType := range vocab.Types {
		if tokenType == TokenTypeNormal {
			score := vocab.Score(int32(id))
			u.minScore = min(u.minScore, score)
			u.maxScore = max(u.maxScore, score)
		}

		switch tokenType {
		case TokenTypeNormal, TokenTypeUserDefined, TokenTypeUnused:
			u.matcher.Insert(vocab.Values[id], int32(id))
		}

		if tokenType == TokenTypeUserDefined {
			u.userDefinedMatcher.Insert(vocab.Values[id], int32(id))
		}
	}

	u.unknownScore = u.minScore - ugmUnknownScorePenalty
	return u, nil
}

func (u *Unigram) parseCharsMap(blob []byte) error {
	if len(blob) == 0 {
		return nil
	}

	if len(blob) < 4 {
		return fmt.Errorf("%w: precompiled charsmap too short", ErrInvalidMetadata)
	}

	xcdaSize := int(binary.LittleEndian.Uint32(blob))
	if xcdaSize%4 != 0 || 4+xcdaSize > len(blob) {
		return fmt.Errorf("%w: precompiled charsmap xcda size %d out of bounds", ErrInvalidMetadata, xcdaSize)
	}

	u.xcda = make([]uint32, xcdaSize/4)
	for i := range u.xcda {
		u.xcda[i] = binary.LittleEndian.Uint32(blob[4+4*i:])
	}

	u.prefixReplacements = blob[4+xcdaSize:]
	return nil
}

// Packed node accessors for the double-array trie. The layout packs
// value, leaf flag and shifted base into one uint32 per node.
func (u *Unigram) xcdaBase(index uint32) (uint32, error) {
	node, err := u.xcdaNode(index)
	if err != nil {
		return 0, err
	}
	shift := (node & (1 << 9)) >> 6
	return (node >> 10) << shift, nil
}

func (u *Unigram) xcdaLCheck(index uint32) (uint32, error) {
	node, err := u.xcdaNode(index)
	if err != nil {
		return 0, err
	}
	return node & ((1 << 31) | 0xff), nil
}

func (u *Unigram) xcdaLeaf(index uint32) (bool, error) {
	node, err := u.xcdaNode(index)
	if err != nil {
		return false, err
	}
	return (node>>8)&1 == 1, nil
}

func (u *Unigram) xcdaValue(index uint32) (uint32, error) {
	node, err := u.xcdaNode(index)
	if err != nil {
		return 0, err
	}
	return node & ((1 << 31) - 1), nil
}

func (u *Unigram) xcdaNode(index uint32) (uint32, error) {
	if int(index) >= len(u.xcda) {
		return 0, fmt.Errorf("%w: charsmap index %d out of bounds", ErrTokenizationFailed, index)
	}
	return u.xcda[index], nil
}

// normalizePrefix maps the longest matching prefix of input to its
// replacement. User-defined tokens pass through untouched, then the
// charsmap is consulted, then the raw code point is kept.
func (u *Unigram) normalizePrefix(input string) (string, int, error) {
	if prefixLen := u.userDefinedMatcher.LongestPrefix(input); prefixLen > 0 {
		return input[:prefixLen], prefixLen, nil
	}

	longest, replacement, err := u.matchCharsMap(input)
	if err != nil {
		return "", 0, err
	}

	if longest > 0 {
		return replacement, longest, nil
	}

	if r, size := utf8.DecodeRuneInString(input); r != utf8.RuneError || size > 1 {
		return input[:size], size, nil
	}

	return "�", 1, nil
}

func (u *Unigram) matchCharsMap(input string) (int, string, error) {
	if len(u.xcda) == 0 {
		return 0, "", nil
	}

	nodeIndex, err := u.xcdaBase(0)
	if err != nil {
		return 0, "", err
	}

	var longestLen int
	var longestOffset uint32

	for i := 0; i < len(input); i++ {
		c := uint32(input[i])
		if c == 0 {
			break
		}

		nodeIndex ^= c

		lcheck, err := u.xcdaLCheck(nodeIndex)
		if err != nil {
			return 0, "", err
		}
		if lcheck != c {
			break
		}

		leaf, err := u.xcdaLeaf(nodeIndex)
		if err != nil {
			return 0, "", err
		}

		base, err := u.xcdaBase(nodeIndex)
		if err != nil {
			return 0, "", err
		}
		nodeIndex ^= base

		if leaf {
			longestLen = i + 1
			if longestOffset, err = u.xcdaValue(nodeIndex); err != nil {
				return 0, "", err
			}
		}
	}

	if longestLen == 0 {
		return 0, "", nil
	}

	if int(longestOffset) >= len(u.prefixReplacements) {
		return 0, "", fmt.Errorf("%w: charsmap replacement offset out of bounds", ErrTokenizationFailed)
	}

	replacement := u.prefixReplacements[longestOffset:]
	end := bytes.IndexByte(replacement, 0)
	if end < 0 {
		return 0, "", fmt.Errorf("%w: unterminated charsmap replacement", ErrTokenizationFailed)
	}

	return longestLen, string(replacement[:end]), nil
}

func (u *Unigram) normalize(input string) (string, error) {
	var normalized strings.Builder
	normalized.Grow(len(input) + 10)

	prependSpace := !u.vocab.TreatWhitespaceAsSuffix && u.vocab.AddSpacePrefix
	appendSpace := u.vocab.TreatWhitespaceAsSuffix && u.vocab.AddSpacePrefix
	mergeSpaces := u.vocab.RemoveExtraWhitespaces

	var spacePrepended bool
	var processingNonWS bool

	for len(input) > 0 {
		replacement, consumed, err := u.normalizePrefix(input)
		if err != nil {
			return "", err
		}

		for i := 0; i < len(replacement); i++ {
			c := replacement[i]
			if c != ' ' {
				if !processingNonWS {
					processingNonWS = true
					if (prependSpace && !spacePrepended) || mergeSpaces {
						normalized.WriteString(spmWhitespaceSep)
						spacePrepended = true
					}
				}
				normalized.WriteByte(c)
			} else {
				processingNonWS = false
				if !mergeSpaces {
					normalized.WriteString(spmWhitespaceSep)
				}
			}
		}

		input = input[consumed:]
	}

	if appendSpace {
		normalized.WriteString(spmWhitespaceSep)
	}

	return normalized.String(), nil
}

type ugmState struct {
	id    int32
	start int
	score float64
}

func (u *Unigram) Encode(s string) ([]int32, error) {
	normalized, err := u.normalize(s)
	if err != nil {
		return nil, err
	}

	if normalized == "" {
		return nil, nil
	}

	best := make([]ugmState, len(normalized)+1)
	for i := range best {
		best[i] = ugmState{id: u.vocab.UNK, score: math.Inf(-1)}
	}
	best[0].score = 0

	for offset := 0; offset < len(normalized); {
		cpLen := min(utf8CodeUnitLen(normalized[offset]), len(normalized)-offset)
		current := best[offset]

		// Walk the trie, challenging the best state at every prefix
		// that ends a token.
		var coveredCodepoint bool
		node := u.matcher.Traverse(normalized[offset])
		for end := offset + 1; end <= len(normalized) && node != nil; end++ {
			if node.hasValue {
				id := node.value
				if end-offset == cpLen {
					coveredCodepoint = true
				}

				score := current.score
				if u.vocab.Type(id) != TokenTypeUserDefined {
					score += float64(u.vocab.Score(id))
				}

				if score > best[end].score {
					best[end] = ugmState{id: id, start: offset, score: score}
				}
			}

			if end >= len(normalized) {
				break
			}
			node = node.Traverse(normalized[end])
		}

		// No token spans exactly this code point: offer the unknown
		// transition so the DP always reaches the end.
		if !coveredCodepoint {
			end := offset + cpLen
			if score := current.score + float64(u.unknownScore); score > best[end].score {
				best[end] = ugmState{id: u.vocab.UNK, start: offset, score: score}
			}
		}

		offset += cpLen
	}

	var ids []int32
	var prevUnknown bool
	for state, first := best[len(normalized)], true; ; state, first = best[state.start], false {
		unknown := state.id == u.vocab.UNK
		if !(unknown && prevUnknown && !first) && state.id >= 0 {
			ids = append(ids, state.id)
		}

		if state.start == 0 {
			break
		}
		prevUnknown = unknown
	}

	slices.Reverse(ids)

	logutil.Trace("encoded", "string", s, "ids", ids)
	return ids, nil
}

func utf8CodeUnitLen(c byte) int {
	return []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 1, 2, 2, 3, 4}[c>>4]
}

func (u *Unigram) appendPiece(dst []byte, id int32) []byte {
	piece := u.vocab.Decode(id)
	return append(dst, strings.ReplaceAll(piece, spmWhitespaceSep, " ")...)
}

func (u *Unigram) Decode(ids []int32) (string, error) {
	var buf []byte
	for _, id := range ids {
		if id < 0 || int(id) >= len(u.vocab.Values) {
			return "", fmt.Errorf("%w: id %d out of range", ErrInvalidToken, id)
		}

		buf = u.appendPiece(buf, id)
	}

	return strings.TrimPrefix(string(buf), " "), nil
}

func (u *Unigram) encodeFragment(s string) ([]int32, error) {
	return u.Encode(s)
}
