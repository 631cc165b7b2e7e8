package tokenizer

import (
	"github.com/ggtok/ggtok/fs/gguf"
)

// Metadata is the decoded tokenizer section of a GGUF file. It is a
// plain record: no validation happens here. NewVocabulary consumes it
// and enforces the invariants.
//
// Optional IDs and flags are pointers so that an absent key is
// distinguishable from an explicit zero or false.
type Metadata struct {
	// Model selects the tokenization algorithm: llama, mistral and
	// gemma map to SentencePiece, gpt2/qwen/qwen2 to byte-pair
	// encoding, bert to WordPiece, t5 to unigram, rwkv and plamo2 to
	// their namesake engines.
	Model string

	// Pre names the pre-tokenizer regex family for BPE models.
	Pre string

	Tokens     []string
	Scores     []float32
	TokenTypes []int32

	// Merges holds BPE merge rules in their GGUF on-disk form,
	// "left right". Index order defines rank.
	Merges []string

	BOS    *int32
	EOS    *int32
	UNK    *int32
	PAD    *int32
	EOT    *int32
	EOG    *int32
	SEP    *int32
	NL     *int32
	Mask   *int32
	FIMPre *int32
	FIMMid *int32
	FIMSuf *int32

	// Flags, with defaults applied by NewVocabulary when nil:
	// AddBOS true, AddEOS false, AddSpacePrefix true, CleanSpaces
	// false, RemoveExtraWhitespaces false, EscapeWhitespaces true,
	// TreatWhitespaceAsSuffix false, IgnoreMerges false.
	AddBOS                  *bool
	AddEOS                  *bool
	AddSpacePrefix          *bool
	CleanSpaces             *bool
	RemoveExtraWhitespaces  *bool
	EscapeWhitespaces       *bool
	TreatWhitespaceAsSuffix *bool
	IgnoreMerges            *bool

	// PrecompiledCharsMap is the unigram normalizer blob, when
	// present.
	PrecompiledCharsMap []byte
}

// MetadataFromGGUF maps the tokenizer.ggml.* key family onto a
// Metadata record.
func MetadataFromGGUF(f *gguf.File) Metadata {
	md := Metadata{
		Model:  f.KeyValue("tokenizer.ggml.model").String(),
		Pre:    f.KeyValue("tokenizer.ggml.pre").String(),
		Tokens: f.KeyValue("tokenizer.ggml.tokens").Strings(),
		Scores: f.KeyValue("tokenizer.ggml.scores").Float32s(),
		Merges: f.KeyValue("tokenizer.ggml.merges").Strings(),

		PrecompiledCharsMap: f.KeyValue("tokenizer.ggml.precompiled_charsmap").Bytes(),
	}

	md.TokenTypes = f.KeyValue("tokenizer.ggml.token_type").Int32s()

	ids := []struct {
		key string
		dst **int32
	}{
		{"bos_token_id", &md.BOS},
		{"eos_token_id", &md.EOS},
		{"unknown_token_id", &md.UNK},
		{"padding_token_id", &md.PAD},
		{"eot_token_id", &md.EOT},
		{"eog_token_id", &md.EOG},
		{"seperator_token_id", &md.SEP},
		{"nl_token_id", &md.NL},
		{"mask_token_id", &md.Mask},
		{"fim_pre_token_id", &md.FIMPre},
		{"fim_mid_token_id", &md.FIMMid},
		{"fim_suf_token_id", &md.FIMSuf},
	}

	for _, id := range ids {
		if v := f.KeyValue("tokenizer.ggml." + id.key); v.Valid() {
			n := int32(v.Int())
			*id.dst = &n
		}
	}

	flags := []struct {
		key string
		dst **bool
	}{
		{"add_bos_token", &md.AddBOS},
		{"add_eos_token", &md.AddEOS},
		{"add_space_prefix", &md.AddSpacePrefix},
		{"clean_spaces", &md.CleanSpaces},
		{"remove_extra_whitespaces", &md.RemoveExtraWhitespaces},
		{"escape_whitespaces", &md.EscapeWhitespaces},
		{"treat_whitespace_as_suffix", &md.TreatWhitespaceAsSuffix},
		{"ignore_merges", &md.IgnoreMerges},
	}

	for _, flag := range flags {
		if v := f.KeyValue("tokenizer.ggml." + flag.key); v.Valid() {
			b := v.Bool()
			*flag.dst = &b
		}
	}

	return md
}
