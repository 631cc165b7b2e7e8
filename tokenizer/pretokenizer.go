package tokenizer

// Pre-tokenizer regex families for byte-pair-encoding models, keyed
// by the tokenizer.ggml.pre metadata string. Most families are a
// single pattern; a few split in successive passes, each pattern
// further dividing the fragments left by the previous one.
//
// The patterns rely on Unicode property classes and lookahead
// (notably the trailing-whitespace split `\s+(?!\S)`), which is why
// they compile under regexp2 rather than the standard library engine.

const (
	pretokenizeDefault = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

	pretokenizeLlama3 = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`

	pretokenizeQwen2 = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`

	pretokenizeFalcon = `\n| ?[\p{L}\p{N}]+| ?[^\s\p{L}\p{N}]+|\s+`

	pretokenizeBloom = `\s+|\S+`

	pretokenizeViking = ` ?[^(\s|.,!?…。，、।۔،)]+`

	pretokenizeTekken = `[^\r\n\p{L}\p{N}]?((?=[\p{L}])([^a-z]))*((?=[\p{L}])([^A-Z]))+|[^\r\n\p{L}\p{N}]?((?=[\p{L}])([^a-z]))+((?=[\p{L}])([^A-Z]))*|\p{N}| ?[^\s\p{L}\p{N}]+[\r\n/]*|\s*[\r\n]+|\s+(?!\S)|\s+`

	pretokenizeChameleon = `<sentinel:[0-9]+>|(IMGIMG)((A|B|C|D|E|F|G|H|I){1,4})Z|([\t\n]|    |  )|\p{N}|[\p{P}!-/:-@\[-` + "`" + `{-~]|'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)`

	pretokenizeGPT4o = `[^\r\n\p{L}\p{N}]?((?=[\p{L}])([^a-z]))*((?=[\p{L}])([^A-Z]))+(?:'s|'t|'re|'ve|'m|'ll|'d)?|[^\r\n\p{L}\p{N}]?((?=[\p{L}])([^a-z]))+((?=[\p{L}])([^A-Z]))*(?:'s|'t|'re|'ve|'m|'ll|'d)?|\p{N}{1,3}| ?[^\s\p{L}\p{N}]+[\r\n/]*|\s*[\r\n]+|\s+(?!\S)|\s+`

	pretokenizeBailingMoe = `'(?:[sSdDmMtT]|[lL][lL]|[vV][eE]|[rR][eE])|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}| ?[^\s\p{L}\p{N}]+[\r\n]*|\s*[\r\n]|\s+(?!\S)|\s+`

	pretokenizeSeedCoder = `(?i:'s|'t|'re|'ve|'m|'ll|'d)|[^\r\n\p{L}\p{N}]?\p{L}+|\p{N}{1}| ?[^\s\p{L}\p{N}\r\n]+|\s*[\r\n]+|\s+(?!\S)|\s+`

	// Han runs, written as explicit ranges; the script class \p{Han}
	// is not available in the regex engine.
	pretokenizeKimiK2 = `[一-龥぀-ゟ゠-ヿ]+`

	pretokenizeSuperBPE = `\p{N}+|(?=(\d{3})+(?!\d))`

	pretokenizeGPT2Word = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+`

	pretokenizeStarcoderTail = `'s|'t|'re|'ve|'m|'ll|'d| ?\p{L}+| ?\p{N}+| ?[^\s\p{L}\p{N}]+|\s+(?!\S)|\s+`

	pretokenizeDeepseekV3Tail = `[!#$%&'()*+,\-./:;<=>?@\[\\\]^_` + "`" + `{|}~][A-Za-z]+|[^\r\n\p{L}\p{P}\p{S}]?[\p{L}\p{M}]+| ?[\p{P}\p{S}]+[\r\n]*|\s*[\r\n]+|\s+(?!\S)|\s+`
)

var pretokenizers = map[string][]string{
	"default": {pretokenizeDefault},
	"gpt2":    {pretokenizeDefault},
	"gpt-2":   {pretokenizeDefault},

	// GPT-2 style splits shared by several families.
	"mpt":             {pretokenizeDefault},
	"gpt-neox":        {pretokenizeDefault},
	"olmo":            {pretokenizeDefault},
	"jais":            {pretokenizeDefault},
	"phi-2":           {pretokenizeDefault},
	"jina-es":         {pretokenizeDefault},
	"jina-de":         {pretokenizeDefault},
	"chatglm3":        {pretokenizeDefault},
	"trillion":        {pretokenizeDefault},
	"granite-docling": {pretokenizeDefault},
	"exaone4":         {pretokenizeDefault},

	"llama3":    {pretokenizeLlama3},
	"llama-bpe": {pretokenizeLlama3},
	"dbrx":      {pretokenizeLlama3},
	"smaug":     {pretokenizeLlama3},
	"smaug-bpe": {pretokenizeLlama3},

	"qwen2":            {pretokenizeQwen2},
	"stablelm2":        {pretokenizeQwen2},
	"hunyuan":          {pretokenizeQwen2},
	"megrez":           {pretokenizeQwen2},
	"deepseek-r1-qwen": {pretokenizeQwen2},
	"grok-2":           {pretokenizeQwen2},

	"chatglm4":    {pretokenizeLlama3},
	"glm4":        {pretokenizeLlama3},
	"chatglm-bpe": {pretokenizeLlama3},

	"falcon": {pretokenizeFalcon},

	"bloom":        {pretokenizeBloom},
	"poro":         {pretokenizeBloom},
	"poro-chat":    {pretokenizeBloom},
	"gpt3-finnish": {pretokenizeBloom},

	// StarCoder splits single digits first, then words.
	"starcoder": {`\p{N}`, pretokenizeStarcoderTail},
	"refact":    {`\p{N}`, pretokenizeStarcoderTail},
	"command-r": {`\p{N}`, pretokenizeStarcoderTail},
	"smollm":    {`\p{N}`, pretokenizeStarcoderTail},
	"codeshell": {`\p{N}`, pretokenizeStarcoderTail},
	"exaone":    {`\p{N}`, pretokenizeStarcoderTail},
	"minerva":   {`\p{N}`, pretokenizeStarcoderTail},

	// DeepSeek splits newline runs and punctuation before words.
	"deepseek-llm":   {`[\r\n]+`, `[\p{P}\p{S}]`, pretokenizeGPT2Word},
	"deepseek-coder": {`[\r\n]+`, `[\p{P}\p{S}\$]`, pretokenizeGPT2Word},
	"deepseek-v3":    {`\p{N}{1,3}`, `[一-龥぀-ゟ゠-ヿ]+`, pretokenizeDeepseekV3Tail},
	"hunyuan-dense":  {`\p{N}{1,3}`, `[一-龥぀-ゟ゠-ヿ]+`, pretokenizeDeepseekV3Tail},

	"viking": {pretokenizeViking},
	"vikhr":  {pretokenizeViking},

	"tekken":    {pretokenizeTekken},
	"chameleon": {pretokenizeChameleon},
	"gpt-4o":    {pretokenizeGPT4o},
	"llama4":    {pretokenizeGPT4o},
	"kimi-k2":   {pretokenizeKimiK2},
	"superbpe":  {pretokenizeSuperBPE},

	"bailingmoe":  {pretokenizeBailingMoe},
	"bailingmoe2": {pretokenizeBailingMoe},
	"llada-moe":   {pretokenizeBailingMoe},

	"seed-coder": {pretokenizeSeedCoder},
}

// pretokenizerPatterns resolves a pre-tokenizer kind, falling back to
// the gpt2 split for unknown kinds.
func pretokenizerPatterns(pre string) ([]string, bool) {
	if patterns, ok := pretokenizers[pre]; ok {
		return patterns, true
	}
	return pretokenizers["gpt2"], false
}
