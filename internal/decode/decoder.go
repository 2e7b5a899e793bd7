// Package decode turns span logits into entity predictions.
//
// Each (start word, width, label) slot of the score tensor holds one logit.
// The span probability for a label is sigmoid(logit) and a span's label is the
// argmax over labels, earliest label winning ties. Overlaps are resolved
// greedily: candidates are visited by descending score, then longer span, then
// earlier start, and a candidate is kept when it does not collide with one
// already kept. This is a local policy, not a search for the best
// non-overlapping set.
package decode

import (
	"math"
	"sort"

	"github.com/viterin/vek/vek32"

	"gliner/internal/executor"
	"gliner/internal/tokenize"
)

type Span struct {
	Text       string
	Label      string
	LabelIndex int
	Score      float64
	Start      int
	End        int
	Sequence   int
}

func (s Span) overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

func (s Span) nests(o Span) bool {
	return (s.Start <= o.Start && o.End <= s.End) || (o.Start <= s.Start && s.End <= o.End)
}

func (s Span) sameRange(o Span) bool {
	return s.Start == o.Start && s.End == o.End
}

type Options struct {
	Threshold float64
	// FlatNER forbids any overlap. When false, spans may nest but may not
	// cross.
	FlatNER bool
	// MultiLabel lets one span carry every label above the threshold.
	MultiLabel bool
}

type Decoder struct {
	opts Options
}

func New(opts Options) *Decoder {
	return &Decoder{opts: opts}
}

func Sigmoid(x float32) float64 {
	return 1 / (1 + math.Exp(-float64(x)))
}

// argmax returns the index of the largest logit, preferring the earliest on
// ties.
func argmax(row []float32) int {
	best := vek32.ArgMax(row)
	for j := 0; j < best; j++ {
		if row[j] == row[best] {
			return j
		}
	}
	return best
}

// Decode returns the entities of one text sorted by start, then descending
// score. The result is never nil.
func (d *Decoder) Decode(scores *executor.ScoreTensor, enc *tokenize.Encoding, labels []string, sequence int) []Span {
	candidates := d.candidates(scores, enc, labels, sequence)
	kept := d.resolve(candidates)
	sort.SliceStable(kept, func(i, j int) bool {
		a, b := kept[i], kept[j]
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.End != b.End {
			return a.End < b.End
		}
		return a.LabelIndex < b.LabelIndex
	})
	return kept
}

func (d *Decoder) candidates(scores *executor.ScoreTensor, enc *tokenize.Encoding, labels []string, sequence int) []Span {
	out := make([]Span, 0)
	if scores.NumLabels == 0 || len(scores.Logits) == 0 {
		return out
	}
	numWords := min(scores.NumWords, len(enc.Words))
	for start := 0; start < numWords; start++ {
		for width := 1; width <= scores.MaxWidth; width++ {
			end := start + width - 1
			if end >= numWords {
				break
			}
			row := scores.Labels(start, width)
			span := Span{
				Start:    enc.Words[start].Start,
				End:      enc.Words[end].End,
				Sequence: sequence,
			}
			span.Text = enc.Text[span.Start:span.End]
			if d.opts.MultiLabel {
				for c, logit := range row {
					if p := Sigmoid(logit); p >= d.opts.Threshold {
						s := span
						s.Label, s.LabelIndex, s.Score = labels[c], c, p
						out = append(out, s)
					}
				}
				continue
			}
			c := argmax(row)
			if p := Sigmoid(row[c]); p >= d.opts.Threshold {
				span.Label, span.LabelIndex, span.Score = labels[c], c, p
				out = append(out, span)
			}
		}
	}
	return out
}

func (d *Decoder) resolve(candidates []Span) []Span {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if la, lb := a.End-a.Start, b.End-b.Start; la != lb {
			return la > lb
		}
		if a.Start != b.Start {
			return a.Start < b.Start
		}
		return a.LabelIndex < b.LabelIndex
	})
	kept := make([]Span, 0, len(candidates))
	for _, c := range candidates {
		if !d.collides(c, kept) {
			kept = append(kept, c)
		}
	}
	return kept
}

func (d *Decoder) collides(c Span, kept []Span) bool {
	for _, k := range kept {
		if !c.overlaps(k) {
			continue
		}
		if d.opts.MultiLabel && c.sameRange(k) {
			continue
		}
		if !d.opts.FlatNER && c.nests(k) {
			continue
		}
		return true
	}
	return false
}
