package tokenizer

import (
	"slices"
	"strings"
)

// fragment is a run of input text, or an already-resolved special
// token carrying its ID.
type fragment struct {
	value string
	ids   []int32
}

// splitSpecialTokens splits s around exact occurrences of the
// vocabulary's special token strings. Specials are tried longest
// first: of two candidates starting at the same position the longer
// wins, and a longer special also wins over a shorter one that starts
// earlier and overlaps it.
func splitSpecialTokens(s string, vocab *Vocabulary) []fragment {
	fragments := []fragment{{value: s}}
	for _, special := range vocab.SpecialVocabulary() {
		if !strings.Contains(s, special) {
			continue
		}

		id := vocab.Encode(special)
		for i := 0; i < len(fragments); i++ {
			frag := fragments[i]
			if len(frag.ids) > 0 {
				continue
			}

			var middle []fragment
			switch idx := strings.Index(frag.value, special); {
			case idx < 0:
				middle = append(middle, frag)
			case idx > 0:
				middle = append(middle, fragment{value: frag.value[:idx]})
				fallthrough
			default:
				middle = append(middle, fragment{value: special, ids: []int32{id}})
				if rest := frag.value[idx+len(special):]; rest != "" {
					middle = append(middle, fragment{value: rest})
				}
			}

			fragments = slices.Replace(fragments, i, i+1, middle...)
		}
	}

	return fragments
}
