package testmodel

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"gliner/internal/backend"
)

// Oracle is a backend.Session that reads the prompt and words back out of the
// GLiNER input tensors and scores spans from a lookup table. Masked span slots
// get MaskedLogit so that a decoder reading them is caught.
type Oracle struct {
	MaxWidth int
	// Scores maps label -> phrase -> logit. Labels and phrases are lowercase,
	// phrase words joined by single spaces.
	Scores      map[string]map[string]float32
	Default     float32
	MaskedLogit float32
	Concurrent  bool
	Err         error
	Delay       time.Duration

	calls    atomic.Int32
	inflight atomic.Int32
	peak     atomic.Int32
	closed   atomic.Bool
}

func NewOracle(maxWidth int, scores map[string]map[string]float32) *Oracle {
	return &Oracle{MaxWidth: maxWidth, Scores: scores, Default: -8, MaskedLogit: 25}
}

func (o *Oracle) Calls() int        { return int(o.calls.Load()) }
func (o *Oracle) PeakInflight() int { return int(o.peak.Load()) }
func (o *Oracle) Closed() bool      { return o.closed.Load() }
func (o *Oracle) Reentrant() bool   { return o.Concurrent }

func (o *Oracle) InputInfo() []backend.TensorInfo {
	return []backend.TensorInfo{
		{Name: "input_ids", Shape: []int64{-1, -1}, DataType: backend.DataTypeInt64},
		{Name: "attention_mask", Shape: []int64{-1, -1}, DataType: backend.DataTypeInt64},
		{Name: "words_mask", Shape: []int64{-1, -1}, DataType: backend.DataTypeInt64},
		{Name: "text_lengths", Shape: []int64{-1, 1}, DataType: backend.DataTypeInt64},
		{Name: "span_idx", Shape: []int64{-1, -1, 2}, DataType: backend.DataTypeInt64},
		{Name: "span_mask", Shape: []int64{-1, -1}, DataType: backend.DataTypeBool},
	}
}

func (o *Oracle) OutputInfo() []backend.TensorInfo {
	return []backend.TensorInfo{{Name: "logits", Shape: []int64{-1, -1, -1, -1}, DataType: backend.DataTypeFloat32}}
}

func (o *Oracle) Close() error {
	o.closed.Store(true)
	return nil
}

func (o *Oracle) Run(inputs []backend.NamedTensor) ([]backend.NamedTensor, error) {
	n := o.inflight.Add(1)
	defer o.inflight.Add(-1)
	for {
		p := o.peak.Load()
		if n <= p || o.peak.CompareAndSwap(p, n) {
			break
		}
	}
	o.calls.Add(1)
	if o.closed.Load() {
		return nil, backend.ErrSessionClosed
	}
	if o.Err != nil {
		return nil, o.Err
	}
	if o.Delay > 0 {
		time.Sleep(o.Delay)
	}

	byName := map[string]backend.NamedTensor{}
	for _, in := range inputs {
		byName[in.Name] = in
	}
	ids, err := int64s(byName, "input_ids")
	if err != nil {
		return nil, err
	}
	attn, err := int64s(byName, "attention_mask")
	if err != nil {
		return nil, err
	}
	wmask, err := int64s(byName, "words_mask")
	if err != nil {
		return nil, err
	}
	lengths, err := int64s(byName, "text_lengths")
	if err != nil {
		return nil, err
	}
	spanIdx, err := int64s(byName, "span_idx")
	if err != nil {
		return nil, err
	}
	spanMask, ok := byName["span_mask"].Data.([]bool)
	if !ok {
		return nil, fmt.Errorf("span_mask: want []bool, got %T", byName["span_mask"].Data)
	}

	shape := byName["input_ids"].Shape
	batch, seqLen := int(shape[0]), int(shape[1])
	numSpans := int(byName["span_mask"].Shape[1])
	if numSpans%o.MaxWidth != 0 {
		return nil, fmt.Errorf("span count %d is not a multiple of max width %d", numSpans, o.MaxWidth)
	}
	numWords := numSpans / o.MaxWidth
	pieces := Pieces()

	var labels []string
	var logits []float32
	for b := 0; b < batch; b++ {
		lo, hi := b*seqLen, (b+1)*seqLen
		rowLabels, rowWords, err := parseRow(ids[lo:hi], attn[lo:hi], wmask[lo:hi], pieces)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", b, err)
		}
		if int(lengths[b]) != len(rowWords) {
			return nil, fmt.Errorf("row %d: text_lengths %d, found %d words", b, lengths[b], len(rowWords))
		}
		if b == 0 {
			labels = rowLabels
			logits = make([]float32, batch*numWords*o.MaxWidth*len(labels))
		} else if strings.Join(rowLabels, "|") != strings.Join(labels, "|") {
			return nil, fmt.Errorf("row %d: prompt differs from row 0", b)
		}

		for s := 0; s < numSpans; s++ {
			pos, width := s/o.MaxWidth, s%o.MaxWidth+1
			base := ((b*numWords+pos)*o.MaxWidth + (width - 1)) * len(labels)
			if !spanMask[b*numSpans+s] {
				for c := range labels {
					logits[base+c] = o.MaskedLogit
				}
				continue
			}
			start, end := spanIdx[(b*numSpans+s)*2], spanIdx[(b*numSpans+s)*2+1]
			if int(start) != pos || int(end) != pos+width-1 || int(end) >= len(rowWords) {
				return nil, fmt.Errorf("row %d: bad span %d = (%d,%d)", b, s, start, end)
			}
			phrase := strings.Join(rowWords[pos:pos+width], " ")
			for c, label := range labels {
				v := o.Default
				if byPhrase, ok := o.Scores[label]; ok {
					if x, ok := byPhrase[phrase]; ok {
						v = x
					}
				}
				logits[base+c] = v
			}
		}
	}
	return []backend.NamedTensor{{
		Name:  "logits",
		Shape: []int64{int64(batch), int64(numWords), int64(o.MaxWidth), int64(len(labels))},
		Data:  logits,
	}}, nil
}

func int64s(byName map[string]backend.NamedTensor, name string) ([]int64, error) {
	t, ok := byName[name]
	if !ok {
		return nil, fmt.Errorf("missing input %s", name)
	}
	data, ok := t.Data.([]int64)
	if !ok {
		return nil, fmt.Errorf("%s: want []int64, got %T", name, t.Data)
	}
	return data, nil
}

func parseRow(ids, attn, wmask []int64, pieces map[int64]string) ([]string, []string, error) {
	if len(ids) == 0 || ids[0] != ClsID {
		return nil, nil, fmt.Errorf("row does not start with [CLS]")
	}
	i := 1
	var labels []string
	for i < len(ids) && ids[i] == EntID {
		i++
		var label strings.Builder
		for i < len(ids) && ids[i] != EntID && ids[i] != MarkerSepID {
			appendPiece(&label, pieces[ids[i]])
			i++
		}
		labels = append(labels, label.String())
	}
	if i >= len(ids) || ids[i] != MarkerSepID {
		return nil, nil, fmt.Errorf("prompt is not closed by <<SEP>>")
	}
	i++

	var words []string
	for ; i < len(ids) && attn[i] == 1 && ids[i] != SepID; i++ {
		switch {
		case wmask[i] > 0:
			if int(wmask[i]) != len(words)+1 {
				return nil, nil, fmt.Errorf("words_mask %d out of order at %d", wmask[i], i)
			}
			words = append(words, strings.TrimPrefix(pieces[ids[i]], "##"))
		case len(words) == 0:
			return nil, nil, fmt.Errorf("continuation piece before first word at %d", i)
		default:
			words[len(words)-1] += strings.TrimPrefix(pieces[ids[i]], "##")
		}
	}
	if i >= len(ids) || ids[i] != SepID || attn[i] != 1 {
		return nil, nil, fmt.Errorf("text is not closed by [SEP]")
	}
	for i++; i < len(ids); i++ {
		if attn[i] != 0 || wmask[i] != 0 || ids[i] != PadID {
			return nil, nil, fmt.Errorf("padding at %d is not inert", i)
		}
	}
	return labels, words, nil
}

func appendPiece(b *strings.Builder, piece string) {
	if rest, ok := strings.CutPrefix(piece, "##"); ok {
		b.WriteString(rest)
		return
	}
	if b.Len() > 0 {
		b.WriteByte(' ')
	}
	b.WriteString(piece)
}
