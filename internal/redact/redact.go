// Package redact replaces recognized entities with numbered placeholders
// such as [PERSON_1] and restores them afterwards.
package redact

import (
	"context"
	"sort"
	"strconv"
	"strings"
	"unicode"

	"gliner/pkg/gliner"
)

type Predictor interface {
	PredictSingle(ctx context.Context, text string, labels []string) ([]gliner.EntitySpan, error)
}

// Item records one placeholder and the value it stands for.
type Item struct {
	Label       string `json:"label" yaml:"label"`
	Original    string `json:"original" yaml:"original"`
	Placeholder string `json:"placeholder" yaml:"placeholder"`
}

type Redactor struct {
	predictor       Predictor
	labels          []string
	minScore        float64
	maxReplacements int
}

func New(p Predictor, labels []string) *Redactor {
	return &Redactor{predictor: p, labels: labels}
}

// WithMinScore drops entities scoring below v, on top of the engine threshold.
func (r *Redactor) WithMinScore(v float64) *Redactor {
	r.minScore = v
	return r
}

func (r *Redactor) WithMaxReplacements(v int) *Redactor {
	r.maxReplacements = v
	return r
}

func (r *Redactor) Redact(ctx context.Context, text string) (string, []Item, error) {
	spans, err := r.predictor.PredictSingle(ctx, text, r.labels)
	if err != nil {
		return "", nil, err
	}
	kept := spans[:0:0]
	for _, s := range spans {
		if s.Score >= r.minScore {
			kept = append(kept, s)
		}
	}
	out, items := Apply(text, kept, r.maxReplacements)
	return out, items, nil
}

// Apply substitutes spans in text. Overlapping spans keep the earliest,
// longest one. Equal values with the same label share a placeholder.
// maxReplacements <= 0 means no limit.
func Apply(text string, spans []gliner.EntitySpan, maxReplacements int) (string, []Item) {
	all := make([]gliner.EntitySpan, 0, len(spans))
	for _, s := range spans {
		if s.Start < 0 || s.End > len(text) || s.Start >= s.End {
			continue
		}
		all = append(all, s)
	}
	if len(all) == 0 {
		return text, []Item{}
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].Start == all[j].Start {
			return all[i].End > all[j].End
		}
		return all[i].Start < all[j].Start
	})

	chosen := make([]gliner.EntitySpan, 0, len(all))
	lastEnd := -1
	for _, s := range all {
		if s.Start < lastEnd {
			continue
		}
		lastEnd = s.End
		chosen = append(chosen, s)
	}

	counters := map[string]int{}
	byValue := map[string]string{}
	items := make([]Item, 0, len(chosen))
	var out strings.Builder
	cursor := 0
	for n, s := range chosen {
		if maxReplacements > 0 && n >= maxReplacements {
			break
		}
		tag := placeholderTag(s.Label)
		value := text[s.Start:s.End]
		key := tag + "|" + value
		placeholder, ok := byValue[key]
		if !ok {
			counters[tag]++
			placeholder = "[" + tag + "_" + strconv.Itoa(counters[tag]) + "]"
			byValue[key] = placeholder
			items = append(items, Item{Label: s.Label, Original: value, Placeholder: placeholder})
		}
		out.WriteString(text[cursor:s.Start])
		out.WriteString(placeholder)
		cursor = s.End
	}
	out.WriteString(text[cursor:])
	return out.String(), items
}

// placeholderTag turns a label such as "phone number" into PHONE_NUMBER.
func placeholderTag(label string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.TrimSpace(label) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(unicode.ToUpper(r))
			underscore = false
		case !underscore && b.Len() > 0:
			b.WriteByte('_')
			underscore = true
		}
	}
	tag := strings.TrimSuffix(b.String(), "_")
	if tag == "" {
		return "ENTITY"
	}
	return tag
}

func Restore(text string, items []Item) string {
	pairs := make([]string, 0, 2*len(items))
	for _, item := range items {
		pairs = append(pairs, item.Placeholder, item.Original)
	}
	return strings.NewReplacer(pairs...).Replace(text)
}
