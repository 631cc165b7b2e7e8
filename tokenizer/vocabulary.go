package tokenizer

import (
	"fmt"
	"slices"
	"strings"
	"sync"
)

// TokenType classifies a vocabulary entry. The numeric values match
// the tokenizer.ggml.token_type codes in GGUF files.
type TokenType int32

const (
	TokenTypeUndefined TokenType = iota
	TokenTypeNormal
	TokenTypeUnknown
	TokenTypeControl
	TokenTypeUserDefined
	TokenTypeUnused
	TokenTypeByte
)

func (t TokenType) String() string {
	switch t {
	case TokenTypeNormal:
		return "normal"
	case TokenTypeUnknown:
		return "unknown"
	case TokenTypeControl:
		return "control"
	case TokenTypeUserDefined:
		return "user_defined"
	case TokenTypeUnused:
		return "unused"
	case TokenTypeByte:
		return "byte"
	default:
		return "undefined"
	}
}

const (
	// maxVocabSize bounds every downstream allocation keyed by token ID.
	maxVocabSize = 1 << 20

	// maxTokenLen bounds a single token string.
	maxTokenLen = 64 << 10

	// maxTokenData bounds the aggregate byte length of all token strings.
	maxTokenData = 100 << 20
)

// Vocabulary is the validated, queryable form of a Metadata record.
// It is immutable after construction; the lazy lookup maps are built
// once on first use and are safe for concurrent readers.
type Vocabulary struct {
	Values []string
	Scores []float32
	Types  []TokenType
	Merges []string

	Model string
	Pre   string

	// Special token IDs, -1 when not defined.
	BOS, EOS, UNK, PAD     int32
	EOT, EOG, SEP, NL      int32
	Mask                   int32
	FIMPre, FIMMid, FIMSuf int32

	AddBOS                  bool
	AddEOS                  bool
	AddSpacePrefix          bool
	CleanSpaces             bool
	RemoveExtraWhitespaces  bool
	EscapeWhitespaces       bool
	TreatWhitespaceAsSuffix bool
	IgnoreMerges            bool

	PrecompiledCharsMap []byte

	maxTokenLen int

	valuesOnce sync.Once
	values     map[string]int32

	mergeOnce sync.Once
	merge     map[string]int32

	specialOnce sync.Once
	special     []string

	byteOnce   sync.Once
	byteTokens [256]int32
}

func boolOr(p *bool, def bool) bool {
	if p != nil {
		return *p
	}
	return def
}

func idOr(p *int32, def int32) int32 {
	if p != nil {
		return *p
	}
	return def
}

// NewVocabulary validates a metadata record and builds the immutable
// vocabulary all engines consume. Violations return
// ErrInvalidMetadata.
func NewVocabulary(md Metadata) (*Vocabulary, error) {
	n := len(md.Tokens)
	if n == 0 {
		return nil, fmt.Errorf("%w: empty vocabulary", ErrInvalidMetadata)
	}

	if n > maxVocabSize {
		return nil, fmt.Errorf("%w: %d tokens exceeds %d", ErrInvalidMetadata, n, maxVocabSize)
	}

	if len(md.Scores) != 0 && len(md.Scores) != n {
		return nil, fmt.Errorf("%w: %d scores for %d tokens", ErrInvalidMetadata, len(md.Scores), n)
	}

	if len(md.TokenTypes) != 0 && len(md.TokenTypes) != n {
		return nil, fmt.Errorf("%w: %d token types for %d tokens", ErrInvalidMetadata, len(md.TokenTypes), n)
	}

	v := &Vocabulary{
		Values: md.Tokens,
		Scores: md.Scores,
		Merges: md.Merges,

		Model: md.Model,
		Pre:   md.Pre,

		BOS:    idOr(md.BOS, -1),
		EOS:    idOr(md.EOS, -1),
		UNK:    idOr(md.UNK, -1),
		PAD:    idOr(md.PAD, -1),
		EOT:    idOr(md.EOT, -1),
		EOG:    idOr(md.EOG, -1),
		SEP:    idOr(md.SEP, -1),
		NL:     idOr(md.NL, -1),
		Mask:   idOr(md.Mask, -1),
		FIMPre: idOr(md.FIMPre, -1),
		FIMMid: idOr(md.FIMMid, -1),
		FIMSuf: idOr(md.FIMSuf, -1),

		AddBOS:                  boolOr(md.AddBOS, true),
		AddEOS:                  boolOr(md.AddEOS, false),
		AddSpacePrefix:          boolOr(md.AddSpacePrefix, true),
		CleanSpaces:             boolOr(md.CleanSpaces, false),
		RemoveExtraWhitespaces:  boolOr(md.RemoveExtraWhitespaces, false),
		EscapeWhitespaces:       boolOr(md.EscapeWhitespaces, true),
		TreatWhitespaceAsSuffix: boolOr(md.TreatWhitespaceAsSuffix, false),
		IgnoreMerges:            boolOr(md.IgnoreMerges, false),

		PrecompiledCharsMap: md.PrecompiledCharsMap,
	}

	v.Types = make([]TokenType, n)
	if len(md.TokenTypes) == n {
		for i, t := range md.TokenTypes {
			if t < int32(TokenTypeUndefined) || t > int32(TokenTypeByte) {
				return nil, fmt.Errorf("%w: token %d has type code %d", ErrInvalidMetadata, i, t)
			}
			v.Types[i] = TokenType(t)
		}
	} else {
		for i := range v.Types {
			v.Types[i] = TokenTypeNormal
		}
	}

	var unknowns int
	var tokenData int
	seen := make(map[string]int32, n)
	for i, tok := range md.Tokens {
		if len(tok) > maxTokenLen {
			return nil, fmt.Errorf("%w: token %d is %d bytes", ErrInvalidMetadata, i, len(tok))
		}

		if tok == "" && v.Types[i] == TokenTypeNormal {
			return nil, fmt.Errorf("%w: token %d is empty", ErrInvalidMetadata, i)
		}

		tokenData += len(tok)
		if tokenData > maxTokenData {
			return nil, fmt.Errorf("%w: token data exceeds %d bytes", ErrInvalidMetadata, maxTokenData)
		}

		if prev, ok := seen[tok]; ok {
			return nil, fmt.Errorf("%w: duplicate token %q at %d and %d", ErrInvalidMetadata, tok, prev, i)
		}
		seen[tok] = int32(i)

		if v.Types[i] == TokenTypeUnknown {
			unknowns++
		}

		switch v.Types[i] {
		case TokenTypeNormal, TokenTypeUserDefined, TokenTypeUnused:
			v.maxTokenLen = max(v.maxTokenLen, len(tok))
		}
	}

	if unknowns > 1 {
		return nil, fmt.Errorf("%w: %d unknown tokens", ErrInvalidMetadata, unknowns)
	}

	for _, id := range []int32{v.BOS, v.EOS, v.UNK, v.PAD, v.EOT, v.EOG, v.SEP, v.NL, v.Mask, v.FIMPre, v.FIMMid, v.FIMSuf} {
		if id < -1 || id >= int32(n) {
			return nil, fmt.Errorf("%w: special token id %d out of range", ErrInvalidMetadata, id)
		}
	}

	for rank, m := range md.Merges {
		left, right, ok := strings.Cut(m, " ")
		if !ok || left == "" || right == "" {
			return nil, fmt.Errorf("%w: malformed merge %q at rank %d", ErrInvalidMetadata, m, rank)
		}

		if _, ok := seen[left]; !ok {
			return nil, fmt.Errorf("%w: merge %d references unknown token %q", ErrInvalidMetadata, rank, left)
		}
		if _, ok := seen[right]; !ok {
			return nil, fmt.Errorf("%w: merge %d references unknown token %q", ErrInvalidMetadata, rank, right)
		}
	}

	if md.Model == "plamo2" {
		for b := range 256 {
			if _, ok := seen[fmt.Sprintf("<0x%02X>", b)]; !ok {
				return nil, fmt.Errorf("%w: missing byte token <0x%02X>", ErrInvalidMetadata, b)
			}
		}
	}

	// seen is exactly the lookup map Encode builds lazily; publish it
	// now so the first Encode does no work.
	v.valuesOnce.Do(func() { v.values = seen })

	return v, nil
}

// Encode returns the ID of the exact token string s, or -1.
func (v *Vocabulary) Encode(s string) int32 {
	v.valuesOnce.Do(func() {
		v.values = make(map[string]int32, len(v.Values))
		for i, value := range v.Values {
			v.values[value] = int32(i)
		}
	})

	if id, ok := v.values[s]; ok {
		return id
	}

	return -1
}

// Decode returns the piece for id. The caller guarantees id is in
// range; the facade validates external input first.
func (v *Vocabulary) Decode(id int32) string {
	return v.Values[id]
}

// Score returns the token's score, or 0 when the model carries none.
func (v *Vocabulary) Score(id int32) float32 {
	if id >= 0 && int(id) < len(v.Scores) {
		return v.Scores[id]
	}
	return 0
}

// Type returns the token's kind code.
func (v *Vocabulary) Type(id int32) TokenType {
	if id < 0 || int(id) >= len(v.Types) {
		return TokenTypeUndefined
	}
	return v.Types[id]
}

// MaxTokenLen is the byte length of the longest matchable token.
func (v *Vocabulary) MaxTokenLen() int {
	return v.maxTokenLen
}

// SpecialVocabulary lists the token strings that are matched verbatim
// when parsing specials, ordered longest first so the longer of two
// overlapping candidates wins.
func (v *Vocabulary) SpecialVocabulary() []string {
	v.specialOnce.Do(func() {
		for i := range v.Values {
			if v.Types[i] == TokenTypeControl || v.Types[i] == TokenTypeUserDefined {
				if v.Values[i] != "" {
					v.special = append(v.special, v.Values[i])
				}
			}
		}

		slices.SortStableFunc(v.special, func(a, b string) int {
			return len(b) - len(a)
		})
	})

	return v.special
}

// IsSpecial reports whether id is a control-plane token: a control or
// unknown type, or one of the designated special IDs.
func (v *Vocabulary) IsSpecial(id int32) bool {
	switch v.Type(id) {
	case TokenTypeControl, TokenTypeUnknown:
		return true
	}

	switch id {
	case -1:
		return false
	case v.BOS, v.EOS, v.UNK, v.PAD:
		return true
	}

	return false
}

// Merge returns the rank of the merge (left, right), or -1.
func (v *Vocabulary) Merge(left, right string) int {
	v.mergeOnce.Do(func() {
		v.merge = make(map[string]int32, len(v.Merges))
		for i, merge := range v.Merges {
			v.merge[merge] = int32(i)
		}
	})

	if rank, ok := v.merge[left+" "+right]; ok {
		return int(rank)
	}

	return -1
}

// ByteToken returns the ID of the fallback token for byte b: the
// <0xNN> form if present, else the raw single-byte string, else -1.
func (v *Vocabulary) ByteToken(b byte) int32 {
	v.byteOnce.Do(func() {
		for i := range v.byteTokens {
			v.byteTokens[i] = v.Encode(fmt.Sprintf("<0x%02X>", i))
			if v.byteTokens[i] < 0 {
				v.byteTokens[i] = v.Encode(string([]byte{byte(i)}))
			}
		}
	})

	return v.byteTokens[b]
}
