package tokenize

import (
	"encoding/json"
	"fmt"
	"os"
)

type addedToken struct {
	ID      int64  `json:"id"`
	Content string `json:"content"`
	Special bool   `json:"special"`
}

type normalizerJSON struct {
	Type        string           `json:"type"`
	Lowercase   *bool            `json:"lowercase"`
	Normalizers []normalizerJSON `json:"normalizers"`
}

type tokenizerJSON struct {
	AddedTokens []addedToken    `json:"added_tokens"`
	Normalizer  *normalizerJSON `json:"normalizer"`
	Model       struct {
		Type                    string          `json:"type"`
		Vocab                   json.RawMessage `json:"vocab"`
		UnkToken                string          `json:"unk_token"`
		ContinuingSubwordPrefix string          `json:"continuing_subword_prefix"`
		MaxInputCharsPerWord    int             `json:"max_input_chars_per_word"`
	} `json:"model"`
}

// definition is the subset of a tokenizer.json this package needs in order to
// resolve marker ids and, for WordPiece models, to tokenize without help.
type definition struct {
	raw       []byte
	modelType string
	added     map[string]addedToken
	special   map[int64]bool
	vocab     map[string]int64
	lowercase bool
	unkToken  string
	prefix    string
	maxChars  int
}

func loadDefinition(path string) (*definition, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tokenizer definition: %w", err)
	}
	var cfg tokenizerJSON
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse tokenizer definition: %w", err)
	}
	def := &definition{
		raw:       raw,
		modelType: cfg.Model.Type,
		added:     make(map[string]addedToken, len(cfg.AddedTokens)),
		special:   map[int64]bool{},
		lowercase: true,
		unkToken:  cfg.Model.UnkToken,
		prefix:    cfg.Model.ContinuingSubwordPrefix,
		maxChars:  cfg.Model.MaxInputCharsPerWord,
	}
	for _, t := range cfg.AddedTokens {
		def.added[t.Content] = t
		if t.Special {
			def.special[t.ID] = true
		}
	}
	if cfg.Normalizer != nil {
		def.lowercase = findLowercase(*cfg.Normalizer)
	}
	if def.prefix == "" {
		def.prefix = "##"
	}
	if def.maxChars <= 0 {
		def.maxChars = 100
	}
	if def.modelType == "" && len(cfg.Model.Vocab) > 0 && cfg.Model.Vocab[0] == '{' {
		def.modelType = "WordPiece"
	}
	if def.modelType == "WordPiece" {
		if err := json.Unmarshal(cfg.Model.Vocab, &def.vocab); err != nil {
			return nil, fmt.Errorf("parse wordpiece vocab: %w", err)
		}
		if len(def.vocab) == 0 {
			return nil, fmt.Errorf("tokenizer.json model.vocab is empty")
		}
	}
	return def, nil
}

func findLowercase(n normalizerJSON) bool {
	if n.Lowercase != nil {
		return *n.Lowercase
	}
	if n.Type == "Lowercase" {
		return true
	}
	for _, child := range n.Normalizers {
		if findLowercase(child) {
			return true
		}
	}
	return false
}

// lookup resolves a token string to its id, preferring added tokens.
func (d *definition) lookup(candidates ...string) (int64, bool) {
	for _, c := range candidates {
		if t, ok := d.added[c]; ok {
			return t.ID, true
		}
		if id, ok := d.vocab[c]; ok {
			return id, true
		}
	}
	return 0, false
}
