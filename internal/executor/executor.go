package executor

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"gliner/internal/backend"
	"gliner/internal/labels"
	"gliner/internal/tokenize"
)

var (
	ErrSequenceTooLong = errors.New("sequence exceeds model maximum length")
	ErrMissingInput    = errors.New("model does not declare a required input")
	ErrBadOutput       = errors.New("unexpected model output")
)

// RequiredInputs are the graph inputs of a span-mode GLiNER export.
var RequiredInputs = []string{"input_ids", "attention_mask", "words_mask", "text_lengths", "span_idx", "span_mask"}

// ScoreTensor holds raw logits for one text, laid out [word][width-1][label].
type ScoreTensor struct {
	NumWords  int
	MaxWidth  int
	NumLabels int
	Logits    []float32
}

func (s *ScoreTensor) At(word, width, label int) float32 {
	return s.Logits[(word*s.MaxWidth+width-1)*s.NumLabels+label]
}

// Labels returns the per-label logits of the span starting at word with the
// given width. The slice aliases Logits.
func (s *ScoreTensor) Labels(word, width int) []float32 {
	off := (word*s.MaxWidth + width - 1) * s.NumLabels
	return s.Logits[off : off+s.NumLabels]
}

// Options size the model inputs. MaxLen bounds the input positions,
// MaxWords the words of one text, 0 meaning no word limit.
type Options struct {
	MaxWidth int
	MaxLen   int
	MaxWords int
	Logger   *zap.Logger
}

type Executor struct {
	session  backend.Session
	ids      tokenize.SpecialIDs
	maxWidth int
	maxLen   int
	maxWords int
	serial   bool
	mu       sync.Mutex
	logger   *zap.Logger
}

func New(session backend.Session, ids tokenize.SpecialIDs, opts Options) (*Executor, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	declared := map[string]bool{}
	for _, in := range session.InputInfo() {
		declared[in.Name] = true
	}
	var missing []error
	for _, name := range RequiredInputs {
		if !declared[name] {
			missing = append(missing, fmt.Errorf("%w: %s", ErrMissingInput, name))
		}
	}
	if err := errors.Join(missing...); err != nil {
		return nil, err
	}
	return &Executor{
		session:  session,
		ids:      ids,
		maxWidth: opts.MaxWidth,
		maxLen:   opts.MaxLen,
		maxWords: opts.MaxWords,
		serial:   !backend.Reentrant(session),
		logger:   opts.Logger,
	}, nil
}

func (x *Executor) MaxWidth() int { return x.maxWidth }

// SequenceLength is the number of model input positions enc occupies.
func SequenceLength(enc *tokenize.Encoding, prompt *labels.Prompt) int {
	return 2 + len(prompt.Tokens) + len(enc.Tokens)
}

// Check fails with ErrSequenceTooLong when enc does not fit the model.
func (x *Executor) Check(enc *tokenize.Encoding, prompt *labels.Prompt) error {
	if n := SequenceLength(enc, prompt); n > x.maxLen {
		return fmt.Errorf("%w: %d tokens (%d label, %d text), limit %d", ErrSequenceTooLong, n, len(prompt.Tokens), len(enc.Tokens), x.maxLen)
	}
	if x.maxWords > 0 && len(enc.Words) > x.maxWords {
		return fmt.Errorf("%w: %d words, limit %d", ErrSequenceTooLong, len(enc.Words), x.maxWords)
	}
	return nil
}

type batchInputs struct {
	tensors  []backend.NamedTensor
	maxWords int
}

func (x *Executor) build(encs []*tokenize.Encoding, prompt *labels.Prompt) batchInputs {
	batch := len(encs)
	seqLen, maxWords := 0, 0
	for _, enc := range encs {
		seqLen = max(seqLen, SequenceLength(enc, prompt))
		maxWords = max(maxWords, len(enc.Words))
	}
	numSpans := max(maxWords, 1) * x.maxWidth

	inputIDs := make([]int64, batch*seqLen)
	attention := make([]int64, batch*seqLen)
	wordsMask := make([]int64, batch*seqLen)
	textLengths := make([]int64, batch)
	spanIdx := make([]int64, batch*numSpans*2)
	spanMask := make([]bool, batch*numSpans)

	for b, enc := range encs {
		row := b * seqLen
		pos := 0
		put := func(id int64) {
			inputIDs[row+pos] = id
			attention[row+pos] = 1
			pos++
		}
		put(x.ids.Start)
		for _, t := range prompt.Tokens {
			put(t.ID)
		}
		prevWord := -1
		for _, t := range enc.Tokens {
			if t.Word != prevWord {
				wordsMask[row+pos] = int64(t.Word + 1)
				prevWord = t.Word
			}
			put(t.ID)
		}
		put(x.ids.End)
		for ; pos < seqLen; pos++ {
			inputIDs[row+pos] = x.ids.Pad
		}

		numWords := len(enc.Words)
		textLengths[b] = int64(numWords)
		for start := 0; start < numWords; start++ {
			for width := 1; width <= x.maxWidth; width++ {
				end := start + width - 1
				if end >= numWords {
					break
				}
				s := b*numSpans + start*x.maxWidth + width - 1
				spanIdx[2*s] = int64(start)
				spanIdx[2*s+1] = int64(end)
				spanMask[s] = true
			}
		}
	}

	b64, l64, s64 := int64(batch), int64(seqLen), int64(numSpans)
	return batchInputs{
		maxWords: maxWords,
		tensors: []backend.NamedTensor{
			{Name: "input_ids", Shape: []int64{b64, l64}, Data: inputIDs},
			{Name: "attention_mask", Shape: []int64{b64, l64}, Data: attention},
			{Name: "words_mask", Shape: []int64{b64, l64}, Data: wordsMask},
			{Name: "text_lengths", Shape: []int64{b64, 1}, Data: textLengths},
			{Name: "span_idx", Shape: []int64{b64, s64, 2}, Data: spanIdx},
			{Name: "span_mask", Shape: []int64{b64, s64}, Data: spanMask},
		},
	}
}

// Execute runs one padded forward pass over encs and returns one ScoreTensor
// per encoding, in order. Texts without words get an empty tensor.
func (x *Executor) Execute(encs []*tokenize.Encoding, prompt *labels.Prompt) ([]*ScoreTensor, error) {
	numLabels := len(prompt.Labels)
	out := make([]*ScoreTensor, len(encs))
	for i, enc := range encs {
		if err := x.Check(enc, prompt); err != nil {
			return nil, fmt.Errorf("text %d: %w", i, err)
		}
		out[i] = &ScoreTensor{NumWords: len(enc.Words), MaxWidth: x.maxWidth, NumLabels: numLabels}
	}
	in := x.build(encs, prompt)
	if in.maxWords == 0 {
		return out, nil
	}

	start := time.Now()
	if x.serial {
		x.mu.Lock()
	}
	outputs, err := x.session.Run(in.tensors)
	if x.serial {
		x.mu.Unlock()
	}
	if err != nil {
		return nil, fmt.Errorf("forward pass: %w", err)
	}
	logits, ok := backend.FindOutput(outputs)
	if !ok {
		return nil, fmt.Errorf("%w: no float32 output", ErrBadOutput)
	}
	numWords, err := x.outputWords(logits, len(encs), numLabels, in.maxWords)
	if err != nil {
		return nil, err
	}
	data := logits.Data.([]float32)
	rowSize := numWords * x.maxWidth * numLabels
	for i, st := range out {
		n := st.NumWords * x.maxWidth * numLabels
		st.Logits = append([]float32(nil), data[i*rowSize:i*rowSize+n]...)
	}
	x.logger.Debug("Forward pass complete",
		zap.Int("batch", len(encs)),
		zap.Int64("seq_len", in.tensors[0].Shape[1]),
		zap.Int("max_words", in.maxWords),
		zap.Int("labels", numLabels),
		zap.Bool("serialized", x.serial),
		zap.Duration("took", time.Since(start)))
	return out, nil
}

// outputWords validates the logits shape and returns its word dimension.
// Both [B, W, K, C] and the flattened [B, W*K, C] layouts are accepted.
func (x *Executor) outputWords(t backend.NamedTensor, batch, numLabels, maxWords int) (int, error) {
	var words int
	switch len(t.Shape) {
	case 4:
		if int(t.Shape[2]) != x.maxWidth || int(t.Shape[3]) != numLabels {
			return 0, fmt.Errorf("%w: shape %v, want [%d, W, %d, %d]", ErrBadOutput, t.Shape, batch, x.maxWidth, numLabels)
		}
		words = int(t.Shape[1])
	case 3:
		if int(t.Shape[1])%x.maxWidth != 0 || int(t.Shape[2]) != numLabels {
			return 0, fmt.Errorf("%w: shape %v, want [%d, W*%d, %d]", ErrBadOutput, t.Shape, batch, x.maxWidth, numLabels)
		}
		words = int(t.Shape[1]) / x.maxWidth
	default:
		return 0, fmt.Errorf("%w: rank %d output %s", ErrBadOutput, len(t.Shape), t.Name)
	}
	if int(t.Shape[0]) != batch || words < maxWords {
		return 0, fmt.Errorf("%w: shape %v for batch %d with %d words", ErrBadOutput, t.Shape, batch, maxWords)
	}
	if want := batch * words * x.maxWidth * numLabels; len(t.Data.([]float32)) != want {
		return 0, fmt.Errorf("%w: %d values, want %d", ErrBadOutput, len(t.Data.([]float32)), want)
	}
	return words, nil
}
