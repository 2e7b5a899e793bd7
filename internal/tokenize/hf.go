package tokenize

import (
	"fmt"
	"strings"

	"github.com/gomlx/go-huggingface/tokenizers/hftokenizer"
)

// hfModel delegates sub-word encoding of Unigram and BPE definitions to the
// go-huggingface tokenizer and recovers piece offsets from the decoded text.
type hfModel struct {
	tok     *hftokenizer.Tokenizer
	special map[int64]bool
	unkID   int64
}

func newHFModel(def *definition, unkID int64) (*hfModel, error) {
	tok, err := hftokenizer.NewFromContent(nil, def.raw)
	if err != nil {
		return nil, fmt.Errorf("load %s tokenizer: %w", def.modelType, err)
	}
	return &hfModel{tok: tok, special: def.special, unkID: unkID}, nil
}

func (m *hfModel) Pieces(word string) []Piece {
	ids := m.tok.Encode(word)
	kept := make([]int64, 0, len(ids))
	for _, id := range ids {
		if m.special[int64(id)] {
			continue
		}
		kept = append(kept, int64(id))
	}
	if len(kept) == 0 {
		return []Piece{{ID: m.unkID, Start: 0, End: len(word)}}
	}
	texts := make([]string, len(kept))
	for i, id := range kept {
		texts[i] = m.tok.Decode([]int{int(id)})
	}
	return alignPieces(word, kept, texts)
}

// alignPieces assigns word-relative offsets to pieces by matching their
// surface text left to right. Pieces that cannot be located get the rest of
// the word (first miss) or a zero-width span at the word end, so offsets stay
// monotone and non-overlapping.
func alignPieces(word string, ids []int64, texts []string) []Piece {
	pieces := make([]Piece, len(ids))
	folded := strings.ToLower(word)
	canMatch := len(folded) == len(word)
	cursor := 0
	for i, id := range ids {
		surface := strings.TrimSpace(texts[i])
		surface = strings.TrimPrefix(surface, "##")
		surface = strings.TrimPrefix(surface, "▁")
		surface = strings.ToLower(surface)
		if canMatch && surface != "" {
			if at := strings.Index(folded[cursor:], surface); at >= 0 {
				start := cursor + at
				if i == 0 {
					start = 0
				}
				pieces[i] = Piece{ID: id, Start: start, End: cursor + at + len(surface)}
				cursor = pieces[i].End
				continue
			}
		}
		pieces[i] = Piece{ID: id, Start: cursor, End: len(word)}
		cursor = len(word)
	}
	return pieces
}
