package tokenize

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gliner/internal/testmodel"
)

func loadTestTokenizer(t *testing.T, opts Options) *Tokenizer {
	t.Helper()
	tok, err := Load(testmodel.WriteTokenizer(t, t.TempDir()), opts)
	require.NoError(t, err)
	return tok
}

func TestSplitWordsOffsets(t *testing.T) {
	in := "My name is James Bond."
	words := SplitWords(in)
	require.Len(t, words, 6)
	assert.Equal(t, Word{Text: "James", Start: 11, End: 16}, words[3])
	assert.Equal(t, Word{Text: ".", Start: 21, End: 22}, words[5])
	for _, w := range words {
		assert.Equal(t, w.Text, in[w.Start:w.End])
	}
}

func TestSplitWordsJoinersAndUnicode(t *testing.T) {
	words := SplitWords("e-mail  state_of-art, café -x Zürich!")
	texts := make([]string, len(words))
	for i, w := range words {
		texts[i] = w.Text
	}
	assert.Equal(t, []string{"e-mail", "state_of-art", ",", "café", "-", "x", "Zürich", "!"}, texts)
	assert.Equal(t, 22, words[3].Start)
	assert.Equal(t, 27, words[3].End)
}

func TestSplitWordsEmpty(t *testing.T) {
	assert.Empty(t, SplitWords(""))
	assert.Empty(t, SplitWords(" \t\n"))
}

func TestTokenizeRecordsSpans(t *testing.T) {
	tok := loadTestTokenizer(t, Options{})
	vocab := testmodel.Vocab()
	in := "Alice is unbelievable in New York."
	enc, err := tok.Tokenize(in)
	require.NoError(t, err)
	require.Len(t, enc.Words, 7)

	ids := make([]int64, len(enc.Tokens))
	for i, tk := range enc.Tokens {
		ids[i] = tk.ID
	}
	assert.Equal(t, []int64{
		vocab["alice"], vocab["is"], vocab["un"], vocab["##believ"], vocab["##able"], vocab["in"], vocab["new"], vocab["york"], vocab["."],
	}, ids)

	un, believ, able := enc.Tokens[2], enc.Tokens[3], enc.Tokens[4]
	assert.Equal(t, "un", in[un.Start:un.End])
	assert.Equal(t, "believ", in[believ.Start:believ.End])
	assert.Equal(t, "able", in[able.Start:able.End])
	assert.Equal(t, un.Word, believ.Word)
	assert.Equal(t, un.Word, able.Word)

	// A whole-word vocab entry wins over its pieces.
	flying, err := tok.Tokenize("flying")
	require.NoError(t, err)
	require.Len(t, flying.Tokens, 1)
	assert.Equal(t, vocab["flying"], flying.Tokens[0].ID)

	prevEnd := 0
	for _, tk := range enc.Tokens {
		assert.GreaterOrEqual(t, tk.Start, prevEnd)
		assert.LessOrEqual(t, tk.Start, tk.End)
		prevEnd = tk.End
	}
}

func TestTokenizeUnknownWord(t *testing.T) {
	tok := loadTestTokenizer(t, Options{})
	enc, err := tok.Tokenize("Bob met Zelda")
	require.NoError(t, err)
	require.Len(t, enc.Tokens, 3)
	assert.Equal(t, testmodel.UnkID, enc.Tokens[2].ID)
	assert.Equal(t, 8, enc.Tokens[2].Start)
	assert.Equal(t, 13, enc.Tokens[2].End)
}

func TestTokenizeIsDeterministic(t *testing.T) {
	tok := loadTestTokenizer(t, Options{})
	a, err := tok.Tokenize("Unbelievable flying cafés in Zürich")
	require.NoError(t, err)
	b, err := tok.Tokenize("Unbelievable flying cafés in Zürich")
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestTokenizeRejectsInvalidUTF8(t *testing.T) {
	tok := loadTestTokenizer(t, Options{})
	_, err := tok.Tokenize("bad \xff byte")
	assert.ErrorIs(t, err, ErrInvalidUTF8)
}

func TestTokenizeRejectsLongText(t *testing.T) {
	tok := loadTestTokenizer(t, Options{MaxTextBytes: 16})
	_, err := tok.Tokenize(strings.Repeat("a ", 9))
	assert.ErrorIs(t, err, ErrTextTooLong)

	_, err = tok.Tokenize(strings.Repeat("a ", 8))
	assert.NoError(t, err)
}

func TestEncodePhrase(t *testing.T) {
	tok := loadTestTokenizer(t, Options{})
	vocab := testmodel.Vocab()
	ids, err := tok.EncodePhrase("New York")
	require.NoError(t, err)
	assert.Equal(t, []int64{vocab["new"], vocab["york"]}, ids)

	ids, err = tok.EncodePhrase("   ")
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestLoadResolvesSpecialIDs(t *testing.T) {
	tok := loadTestTokenizer(t, Options{})
	assert.Equal(t, SpecialIDs{
		Start:     testmodel.ClsID,
		End:       testmodel.SepID,
		Pad:       testmodel.PadID,
		Unknown:   testmodel.UnkID,
		EntMarker: testmodel.EntID,
		SepMarker: testmodel.MarkerSepID,
	}, tok.SpecialIDs())
	assert.Equal(t, "WordPiece", tok.Kind())
}

func TestLoadMissingMarker(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(testmodel.WriteTokenizer(t, dir), Options{EntToken: "[E]"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.Contains(t, err.Error(), "[E]")
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(filepath.Join(dir, "missing.json"), Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o644))
	_, err = Load(bad, Options{})
	assert.Error(t, err)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`{"model":{"type":"WordPiece","vocab":{}}}`), 0o644))
	_, err = Load(empty, Options{})
	assert.ErrorContains(t, err, "vocab is empty")
}

func TestAlignPieces(t *testing.T) {
	pieces := alignPieces("Unbelievable", []int64{1, 2, 3}, []string{"▁un", "believ", "able"})
	assert.Equal(t, []Piece{{ID: 1, Start: 0, End: 2}, {ID: 2, Start: 2, End: 8}, {ID: 3, Start: 8, End: 12}}, pieces)

	pieces = alignPieces("Zelda", []int64{1, 2}, []string{"[UNK]", "a"})
	assert.Equal(t, []Piece{{ID: 1, Start: 0, End: 5}, {ID: 2, Start: 5, End: 5}}, pieces)
}
