package labels

import (
	"errors"
	"fmt"
	"strings"

	"gliner/internal/tokenize"
)

var (
	ErrNoLabels          = errors.New("at least one label is required")
	ErrEmptyLabel        = errors.New("label is empty")
	ErrDuplicateLabel    = errors.New("duplicate label")
	ErrUnknownLabelToken = errors.New("label cannot be tokenized")
)

type phraseEncoder interface {
	EncodePhrase(phrase string) ([]int64, error)
	SpecialIDs() tokenize.SpecialIDs
}

// Prompt is the encoded label block: <<ENT>> label <<ENT>> label ... <<SEP>>.
// Markers[i] is the position of the <<ENT>> that opens Labels[i].
type Prompt struct {
	Labels  []string
	Tokens  []tokenize.Token
	Markers []int
}

// IDs returns the prompt token ids in order.
func (p *Prompt) IDs() []int64 {
	ids := make([]int64, len(p.Tokens))
	for i, t := range p.Tokens {
		ids[i] = t.ID
	}
	return ids
}

type Encoder struct {
	tok phraseEncoder
}

func NewEncoder(tok phraseEncoder) *Encoder {
	return &Encoder{tok: tok}
}

// Validate checks the label set without tokenizing it.
func Validate(labels []string) error {
	if len(labels) == 0 {
		return ErrNoLabels
	}
	seen := make(map[string]int, len(labels))
	for i, l := range labels {
		if l == "" {
			return fmt.Errorf("%w: position %d", ErrEmptyLabel, i)
		}
		if j, ok := seen[l]; ok {
			return fmt.Errorf("%w: %q at positions %d and %d", ErrDuplicateLabel, l, j, i)
		}
		seen[l] = i
	}
	return nil
}

// Encode builds the prompt for labels, keeping their order. A label that
// yields no tokens fails the whole call.
func (e *Encoder) Encode(labels []string) (*Prompt, error) {
	if err := Validate(labels); err != nil {
		return nil, err
	}
	ids := e.tok.SpecialIDs()
	p := &Prompt{
		Labels:  append([]string(nil), labels...),
		Tokens:  make([]tokenize.Token, 0, 3*len(labels)+1),
		Markers: make([]int, 0, len(labels)),
	}
	for i, l := range labels {
		pieces, err := e.tok.EncodePhrase(l)
		if err != nil {
			return nil, fmt.Errorf("%w: %q at position %d: %v", ErrUnknownLabelToken, l, i, err)
		}
		if len(pieces) == 0 {
			return nil, fmt.Errorf("%w: %q at position %d", ErrUnknownLabelToken, strings.TrimSpace(l), i)
		}
		p.Markers = append(p.Markers, len(p.Tokens))
		p.Tokens = append(p.Tokens, tokenize.Sentinel(ids.EntMarker))
		for _, id := range pieces {
			p.Tokens = append(p.Tokens, tokenize.Sentinel(id))
		}
	}
	p.Tokens = append(p.Tokens, tokenize.Sentinel(ids.SepMarker))
	return p, nil
}
