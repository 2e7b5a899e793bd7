// Package testmodel provides a small WordPiece tokenizer definition and an
// in-memory GLiNER session for tests that must not depend on real weights.
package testmodel

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
)

const (
	PadID int64 = iota
	UnkID
	ClsID
	SepID
	EntID
	MarkerSepID
)

var special = []string{"[PAD]", "[UNK]", "[CLS]", "[SEP]", "<<ENT>>", "<<SEP>>"}

var words = []string{
	".", ",", "-", "my", "name", "is", "james", "bond", "i", "drive", "an", "aston", "martin",
	"alice", "met", "bob", "in", "paris", "before", "flying", "to", "new", "york",
	"mary", "and", "john", "visited", "berlin", "person", "vehicle", "city", "location",
	"organization", "acme", "corp", "works", "at", "the", "fly", "##ing", "##s", "un", "##believ",
	"##able", "e", "-", "mail", "san", "francisco", "café", "zürich", "a", "b", "c",
}

// Vocab maps every token string of the test definition to its id.
func Vocab() map[string]int64 {
	vocab := make(map[string]int64, len(special)+len(words))
	for i, s := range special {
		vocab[s] = int64(i)
	}
	next := int64(len(special))
	for _, w := range words {
		if _, ok := vocab[w]; ok {
			continue
		}
		vocab[w] = next
		next++
	}
	return vocab
}

// Pieces is the inverse of Vocab.
func Pieces() map[int64]string {
	out := map[int64]string{}
	for k, v := range Vocab() {
		out[v] = k
	}
	return out
}

type addedToken struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

// TokenizerJSON renders the test definition in Hugging Face tokenizer.json form.
func TokenizerJSON() []byte {
	added := make([]addedToken, 0, len(special))
	for i, s := range special {
		added = append(added, addedToken{ID: int64(i), Content: s, Special: !strings.HasPrefix(s, "<<")})
	}
	sort.Slice(added, func(i, j int) bool { return added[i].ID < added[j].ID })
	doc := map[string]any{
		"version":      "1.0",
		"added_tokens": added,
		"normalizer":   map[string]any{"type": "BertNormalizer", "lowercase": true},
		"model": map[string]any{
			"type":                      "WordPiece",
			"unk_token":                 "[UNK]",
			"continuing_subword_prefix": "##",
			"max_input_chars_per_word":  100,
			"vocab":                     Vocab(),
		},
	}
	raw, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		panic(err)
	}
	return raw
}

// WriteTokenizer writes tokenizer.json into dir and returns its path.
func WriteTokenizer(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "tokenizer.json")
	if err := os.WriteFile(path, TokenizerJSON(), 0o644); err != nil {
		t.Fatalf("write tokenizer: %v", err)
	}
	return path
}

// WriteModel writes a placeholder weights file into dir and returns its path.
func WriteModel(t testing.TB, dir string) string {
	t.Helper()
	path := filepath.Join(dir, "model.onnx")
	if err := os.WriteFile(path, []byte("onnx"), 0o644); err != nil {
		t.Fatalf("write model: %v", err)
	}
	return path
}
