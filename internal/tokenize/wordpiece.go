package tokenize

import "unicode"

// Piece is one sub-word unit of a word. Start and End are byte offsets
// relative to the word.
type Piece struct {
	ID         int64
	Start, End int
}

type subwordModel interface {
	Pieces(word string) []Piece
}

type wordPiece struct {
	vocab      map[string]int64
	unkID      int64
	prefix     string
	maxWordLen int
	lowercase  bool
}

func newWordPiece(def *definition, unkID int64) *wordPiece {
	return &wordPiece{
		vocab:      def.vocab,
		unkID:      unkID,
		prefix:     def.prefix,
		maxWordLen: def.maxChars,
		lowercase:  def.lowercase,
	}
}

func (t *wordPiece) Pieces(word string) []Piece {
	whole := []Piece{{ID: t.unkID, Start: 0, End: len(word)}}
	if word == "" {
		return whole
	}
	runes := make([]rune, 0, len(word))
	offsets := make([]int, 0, len(word)+1)
	for i, r := range word {
		if t.lowercase {
			r = unicode.ToLower(r)
		}
		runes = append(runes, r)
		offsets = append(offsets, i)
	}
	offsets = append(offsets, len(word))
	if len(runes) > t.maxWordLen {
		return whole
	}
	if id, ok := t.vocab[string(runes)]; ok {
		return []Piece{{ID: id, Start: 0, End: len(word)}}
	}

	pieces := make([]Piece, 0, 4)
	start := 0
	for start < len(runes) {
		end := len(runes)
		found := int64(-1)
		for end > start {
			piece := string(runes[start:end])
			if start > 0 {
				piece = t.prefix + piece
			}
			if id, ok := t.vocab[piece]; ok {
				found = id
				break
			}
			end--
		}
		if found == -1 {
			return whole
		}
		pieces = append(pieces, Piece{ID: found, Start: offsets[start], End: offsets[end]})
		start = end
	}
	return pieces
}
