package tokenize

import "unicode"

// Word is a pre-tokenized unit of the input. Start and End are byte offsets
// into the original text, half-open.
type Word struct {
	Text       string
	Start, End int
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || unicode.IsMark(r) || r == '_'
}

func isJoiner(r rune) bool {
	return r == '-' || r == '_'
}

// SplitWords splits text the way GLiNER's whitespace splitter does: runs of
// word characters, optionally chained with '-' or '_', form one word and every
// other non-space rune stands on its own.
func SplitWords(text string) []Word {
	words := make([]Word, 0, len(text)/5+1)
	runes := make([]rune, 0, len(text))
	offsets := make([]int, 0, len(text)+1)
	for i, r := range text {
		runes = append(runes, r)
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(text))

	i := 0
	for i < len(runes) {
		r := runes[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case isWordRune(r):
			start := i
			for i < len(runes) && isWordRune(runes[i]) {
				i++
			}
			for i+1 < len(runes) && isJoiner(runes[i]) && isWordRune(runes[i+1]) {
				i++
				for i < len(runes) && isWordRune(runes[i]) {
					i++
				}
			}
			words = append(words, Word{Text: text[offsets[start]:offsets[i]], Start: offsets[start], End: offsets[i]})
		default:
			words = append(words, Word{Text: text[offsets[i]:offsets[i+1]], Start: offsets[i], End: offsets[i+1]})
			i++
		}
	}
	return words
}
