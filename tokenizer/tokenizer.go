// Package tokenizer converts text to token IDs and back using the
// vocabulary embedded in a GGUF model file. The algorithm is selected
// from the file's tokenizer model kind; all six supported families
// reproduce the token streams of the reference C++ implementation.
package tokenizer

import (
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"unicode/utf8"

	"golang.org/x/sync/errgroup"

	"github.com/ggtok/ggtok/fs/gguf"
)

const (
	// maxInputSize caps the text accepted by a single encode call.
	maxInputSize = 10 << 20

	// maxOutputTokens caps the token count produced by a single call.
	maxOutputTokens = 1 << 20

	// maxDecodeSize caps the reconstructed text of a single decode.
	maxDecodeSize = 100 << 20
)

// TextProcessor is one tokenization engine bound to a vocabulary.
// Engines are immutable once constructed and safe for concurrent use.
//
// The interface is sealed: appendPiece keeps outside packages from
// implementing it, so the facade's per-token decode stays in step
// with the engines it ships with.
type TextProcessor interface {
	// Encode converts text to token IDs with no special-token
	// handling; the Tokenizer facade layers BOS/EOS and special
	// parsing on top.
	Encode(s string) ([]int32, error)

	// Decode reconstructs text from token IDs.
	Decode(ids []int32) (string, error)

	// encodeFragment encodes a gap between parsed special tokens.
	// It differs from Encode only for engines whose whole-input
	// preprocessing (the SentencePiece space prefix) must not apply
	// inside segments.
	encodeFragment(s string) ([]int32, error)

	// appendPiece appends the raw surface bytes of one token.
	appendPiece(dst []byte, id int32) []byte
}

// Tokenizer owns a vocabulary and the engine selected for it. It is
// immutable and safe to share across goroutines without
// synchronization.
type Tokenizer struct {
	vocab     *Vocabulary
	processor TextProcessor
}

// Load reads tokenizer metadata from the GGUF file at path and
// constructs the matching tokenizer.
func Load(path string) (*Tokenizer, error) {
	f, err := gguf.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMetadata, err)
	}

	return New(MetadataFromGGUF(f))
}

// New validates a metadata record and constructs the tokenizer for
// its model kind.
func New(md Metadata) (*Tokenizer, error) {
	vocab, err := NewVocabulary(md)
	if err != nil {
		return nil, err
	}

	var processor TextProcessor
	switch md.Model {
	case "llama", "mistral", "gemma":
		processor = NewSentencePiece(vocab)
	case "gpt2", "qwen", "qwen2":
		processor, err = NewBytePairEncoding(vocab)
	case "bert":
		processor = NewWordPiece(vocab)
	case "t5":
		processor, err = NewUnigram(vocab)
	case "rwkv":
		processor, err = NewRWKV(vocab)
	case "plamo2":
		processor, err = NewPlamo2(vocab)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedModel, md.Model)
	}

	if err != nil {
		return nil, err
	}

	return &Tokenizer{vocab: vocab, processor: processor}, nil
}

// EncodeOptions controls a single encode call.
type EncodeOptions struct {
	// AddSpecial applies the vocabulary's BOS/EOS policy around the
	// result.
	AddSpecial bool

	// ParseSpecial scans the input for the textual form of special
	// tokens and substitutes their IDs verbatim instead of encoding
	// them as ordinary text.
	ParseSpecial bool
}

// Encode converts text to token IDs. When addSpecial is set, BOS is
// prepended if the vocabulary both defines it and asks for it, and
// likewise EOS is appended.
func (t *Tokenizer) Encode(text string, addSpecial bool) ([]int32, error) {
	return t.EncodeWithOptions(text, EncodeOptions{AddSpecial: addSpecial})
}

// EncodeWithOptions is Encode with the full option set.
func (t *Tokenizer) EncodeWithOptions(text string, opts EncodeOptions) ([]int32, error) {
	if len(text) > maxInputSize {
		return nil, fmt.Errorf("%w: input is %d bytes, limit %d", ErrTokenizationFailed, len(text), maxInputSize)
	}

	var ids []int32
	if opts.ParseSpecial {
		for _, frag := range splitSpecialTokens(text, t.vocab) {
			if len(frag.ids) > 0 {
				ids = append(ids, frag.ids...)
				continue
			}

			encoded, err := t.processor.encodeFragment(frag.value)
			if err != nil {
				return nil, err
			}
			ids = append(ids, encoded...)
		}
	} else {
		var err error
		if ids, err = t.processor.Encode(text); err != nil {
			return nil, err
		}
	}

	if opts.AddSpecial {
		ids = t.addSpecials(ids)
	}

	if len(ids) > maxOutputTokens {
		return nil, fmt.Errorf("%w: output is %d tokens, limit %d", ErrTokenizationFailed, len(ids), maxOutputTokens)
	}

	return ids, nil
}

func (t *Tokenizer) addSpecials(ids []int32) []int32 {
	if t.vocab.AddBOS && t.vocab.BOS >= 0 {
		if len(ids) > 0 && ids[0] == t.vocab.BOS {
			slog.Warn("adding bos token to prompt which already has it", "id", t.vocab.BOS)
		}

		ids = append([]int32{t.vocab.BOS}, ids...)
	}

	if t.vocab.AddEOS && t.vocab.EOS >= 0 {
		if len(ids) > 0 && ids[len(ids)-1] == t.vocab.EOS {
			slog.Warn("adding eos token to prompt which already has it", "id", t.vocab.EOS)
		}

		ids = append(ids, t.vocab.EOS)
	}

	return ids
}

// EncodeBatch encodes each text independently, preserving order.
// Inputs are processed concurrently; the tokenizer itself is
// stateless across calls.
func (t *Tokenizer) EncodeBatch(texts []string, addSpecial bool) ([][]int32, error) {
	results := make([][]int32, len(texts))

	var g errgroup.Group
	for i, text := range texts {
		g.Go(func() error {
			ids, err := t.Encode(text, addSpecial)
			if err != nil {
				return fmt.Errorf("text %d: %w", i, err)
			}
			results[i] = ids
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return results, nil
}

// DecodeOptions controls a single decode call.
type DecodeOptions struct {
	// SkipSpecial drops special tokens from the output entirely.
	SkipSpecial bool

	// LStrip removes a single leading space from each piece.
	LStrip bool

	// IncludeSpecialText renders special tokens as their textual
	// form. Without it (and without SkipSpecial) they decode to
	// nothing.
	IncludeSpecialText bool
}

// cleanSpacesReplacer undoes the space padding around punctuation and
// contractions that word-level decoding introduces.
var cleanSpacesReplacer = strings.NewReplacer(
	" .", ".",
	" ?", "?",
	" !", "!",
	" ,", ",",
	" ' ", "'",
	" n't", "n't",
	" 'm", "'m",
	" do not", " don't",
	" 's", "'s",
	" 've", "'ve",
	" 're", "'re",
)

// Decode reconstructs text from token IDs. Out-of-range IDs fail with
// ErrInvalidToken.
func (t *Tokenizer) Decode(ids []int32, opts DecodeOptions) (string, error) {
	var buf []byte
	for _, id := range ids {
		if id < 0 || int(id) >= len(t.vocab.Values) {
			return "", fmt.Errorf("%w: id %d out of range", ErrInvalidToken, id)
		}

		if t.vocab.IsSpecial(id) {
			if !opts.SkipSpecial && opts.IncludeSpecialText {
				buf = append(buf, t.vocab.Decode(id)...)
			}
			continue
		}

		start := len(buf)
		buf = t.processor.appendPiece(buf, id)
		if opts.LStrip && len(buf) > start && buf[start] == ' ' {
			buf = slices.Delete(buf, start, start+1)
		}

		if len(buf) > maxDecodeSize {
			return "", fmt.Errorf("%w: decoded text exceeds %d bytes", ErrTokenizationFailed, maxDecodeSize)
		}
	}

	out := string(buf)
	switch t.processor.(type) {
	case *WordPiece, *Unigram:
		out = strings.TrimPrefix(out, " ")
	}

	if t.vocab.CleanSpaces {
		out = cleanSpacesReplacer.Replace(out)
	}

	if !utf8.ValidString(out) {
		// Byte-level vocabularies can split code points across
		// tokens; partial sequences degrade to replacement characters
		// there, and are errors everywhere else.
		if _, ok := t.processor.(*BytePairEncoding); !ok {
			return "", fmt.Errorf("%w: decoded bytes are not valid utf-8", ErrInvalidUTF8)
		}
		out = strings.ToValidUTF8(out, string(utf8.RuneError))
	}

	return out, nil
}

// DecodeSingle decodes one token with default options. Intended for
// streaming output, where tokens arrive one at a time.
func (t *Tokenizer) DecodeSingle(id int32) (string, error) {
	return t.Decode([]int32{id}, DecodeOptions{})
}

// VocabSize returns the number of tokens in the vocabulary.
func (t *Tokenizer) VocabSize() int {
	return len(t.vocab.Values)
}

// Vocabulary exposes the underlying vocabulary for engines and tools
// that need direct access. The returned value must not be mutated.
func (t *Tokenizer) Vocabulary() *Vocabulary {
	return t.vocab
}

// ModelType returns the tokenizer model kind string, e.g. "llama".
func (t *Tokenizer) ModelType() string {
	return t.vocab.Model
}

// PreType returns the pre-tokenizer kind string for BPE models.
func (t *Tokenizer) PreType() string {
	return t.vocab.Pre
}

// Special token accessors return -1 when the vocabulary does not
// define the token.
func (t *Tokenizer) BOSToken() int32    { return t.vocab.BOS }
func (t *Tokenizer) EOSToken() int32    { return t.vocab.EOS }
func (t *Tokenizer) UnkToken() int32    { return t.vocab.UNK }
func (t *Tokenizer) PadToken() int32    { return t.vocab.PAD }
func (t *Tokenizer) EOTToken() int32    { return t.vocab.EOT }
func (t *Tokenizer) EOGToken() int32    { return t.vocab.EOG }
func (t *Tokenizer) SepToken() int32    { return t.vocab.SEP }
func (t *Tokenizer) NLToken() int32     { return t.vocab.NL }
func (t *Tokenizer) MaskToken() int32   { return t.vocab.Mask }
func (t *Tokenizer) FIMPreToken() int32 { return t.vocab.FIMPre }
func (t *Tokenizer) FIMMidToken() int32 { return t.vocab.FIMMid }
func (t *Tokenizer) FIMSufToken() int32 { return t.vocab.FIMSuf }

// TokenToPiece returns the vocabulary entry for id.
func (t *Tokenizer) TokenToPiece(id int32) (string, error) {
	if id < 0 || int(id) >= len(t.vocab.Values) {
		return "", fmt.Errorf("%w: id %d out of range", ErrInvalidToken, id)
	}
	return t.vocab.Decode(id), nil
}

// TokenType returns the kind of id, or TokenTypeUndefined when id is
// out of range.
func (t *Tokenizer) TokenType(id int32) TokenType {
	return t.vocab.Type(id)
}

// IsSpecialToken reports whether id is a control-plane token.
func (t *Tokenizer) IsSpecialToken(id int32) bool {
	if id < 0 || int(id) >= len(t.vocab.Values) {
		return false
	}
	return t.vocab.IsSpecial(id)
}
