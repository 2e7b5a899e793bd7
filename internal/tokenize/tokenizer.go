package tokenize

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

var (
	ErrInvalidUTF8  = errors.New("text is not valid UTF-8")
	ErrTextTooLong  = errors.New("text exceeds maximum length")
	ErrMissingToken = errors.New("tokenizer definition is missing a required token")
)

// Token is one sub-word token. Start and End are byte offsets into the source
// text; tokens that do not come from the text carry -1 for both and for Word.
type Token struct {
	ID         int64
	Start, End int
	Word       int
}

// Sentinel returns a token that maps to no text.
func Sentinel(id int64) Token {
	return Token{ID: id, Start: -1, End: -1, Word: -1}
}

// Encoding is the tokenized form of one text.
type Encoding struct {
	Text   string
	Tokens []Token
	Words  []Word
}

// SpecialIDs are the ids the model input layout needs.
type SpecialIDs struct {
	Start     int64
	End       int64
	Pad       int64
	Unknown   int64
	EntMarker int64
	SepMarker int64
}

type Options struct {
	EntToken     string
	SepToken     string
	MaxTextBytes int
}

type Tokenizer struct {
	model        subwordModel
	kind         string
	ids          SpecialIDs
	maxTextBytes int
}

// Load reads a Hugging Face tokenizer.json. WordPiece definitions are handled
// in-process; other model types go through go-huggingface.
func Load(path string, opts Options) (*Tokenizer, error) {
	if opts.EntToken == "" {
		opts.EntToken = "<<ENT>>"
	}
	if opts.SepToken == "" {
		opts.SepToken = "<<SEP>>"
	}
	def, err := loadDefinition(path)
	if err != nil {
		return nil, err
	}

	var ids SpecialIDs
	var missing []error
	need := func(dst *int64, what string, candidates ...string) {
		id, ok := def.lookup(candidates...)
		if !ok {
			missing = append(missing, fmt.Errorf("%w: %s", ErrMissingToken, what))
			return
		}
		*dst = id
	}
	unk := []string{"[UNK]", "<unk>"}
	if def.unkToken != "" {
		unk = append([]string{def.unkToken}, unk...)
	}
	need(&ids.Unknown, "unknown token", unk...)
	need(&ids.Start, "start token", "[CLS]", "<s>", "<cls>")
	need(&ids.End, "end token", "[SEP]", "</s>", "<sep>")
	need(&ids.EntMarker, opts.EntToken, opts.EntToken)
	need(&ids.SepMarker, opts.SepToken, opts.SepToken)
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	if pad, ok := def.lookup("[PAD]", "<pad>"); ok {
		ids.Pad = pad
	}

	t := &Tokenizer{kind: def.modelType, ids: ids, maxTextBytes: opts.MaxTextBytes}
	if def.modelType == "WordPiece" {
		t.model = newWordPiece(def, ids.Unknown)
	} else {
		m, err := newHFModel(def, ids.Unknown)
		if err != nil {
			return nil, err
		}
		t.model = m
	}
	return t, nil
}

func (t *Tokenizer) Kind() string { return t.kind }

func (t *Tokenizer) SpecialIDs() SpecialIDs { return t.ids }

// Tokenize splits text into words and sub-word tokens. It never truncates.
func (t *Tokenizer) Tokenize(text string) (*Encoding, error) {
	if !utf8.ValidString(text) {
		return nil, ErrInvalidUTF8
	}
	if t.maxTextBytes > 0 && len(text) > t.maxTextBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTextTooLong, len(text), t.maxTextBytes)
	}
	words := SplitWords(text)
	enc := &Encoding{Text: text, Words: words, Tokens: make([]Token, 0, len(words)+len(words)/2)}
	for wi, w := range words {
		for _, p := range t.model.Pieces(w.Text) {
			enc.Tokens = append(enc.Tokens, Token{ID: p.ID, Start: w.Start + p.Start, End: w.Start + p.End, Word: wi})
		}
	}
	return enc, nil
}

// EncodePhrase returns the sub-word ids of a short phrase such as a label.
func (t *Tokenizer) EncodePhrase(phrase string) ([]int64, error) {
	if !utf8.ValidString(phrase) {
		return nil, ErrInvalidUTF8
	}
	var ids []int64
	for _, w := range SplitWords(phrase) {
		for _, p := range t.model.Pieces(w.Text) {
			ids = append(ids, p.ID)
		}
	}
	return ids, nil
}
