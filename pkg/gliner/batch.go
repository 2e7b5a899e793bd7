package gliner

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"gliner/internal/decode"
	"gliner/internal/executor"
	"gliner/internal/labels"
	"gliner/internal/metrics"
	"gliner/internal/tokenize"
)

const (
	opSingle = "predict_single"
	opBatch  = "predict_batch"
)

// PredictSingle returns the entities of one text. It is equivalent to the
// first result of PredictBatch on a one-element batch.
func (e *Engine) PredictSingle(ctx context.Context, text string, labelSet []string) ([]EntitySpan, error) {
	out, err := e.predict(ctx, opSingle, []string{text}, labelSet)
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

// PredictBatch returns one entity list per text, index-aligned with texts.
// Texts without entities get an empty, non-nil list. Any failing text fails
// the whole call and no partial result is returned.
func (e *Engine) PredictBatch(ctx context.Context, texts []string, labelSet []string) ([][]EntitySpan, error) {
	return e.predict(ctx, opBatch, texts, labelSet)
}

func (e *Engine) predict(ctx context.Context, op string, texts, labelSet []string) (out [][]EntitySpan, err error) {
	start := time.Now()
	logger := e.logger.With(zap.String("call_id", uuid.NewString()), zap.String("op", op))
	defer func() {
		if err != nil {
			e.metrics.Failed(op, kindLabel(err))
			logger.Debug("Prediction failed", zap.Error(err))
			return
		}
		entities := 0
		for _, spans := range out {
			entities += len(spans)
		}
		e.metrics.Succeeded(op, len(texts), entities)
		logger.Debug("Prediction complete",
			zap.Int("texts", len(texts)),
			zap.Int("labels", len(labelSet)),
			zap.Int("entities", entities),
			zap.Duration("took", time.Since(start)))
	}()

	if e.closed.Load() {
		return nil, wrap(op, -1, errClosed)
	}
	if len(texts) == 0 {
		return nil, wrap(op, -1, errNoTexts)
	}
	if err := ctx.Err(); err != nil {
		return nil, wrap(op, -1, err)
	}

	stage := time.Now()
	prompt, err := e.labels.Encode(labelSet)
	if err != nil {
		return nil, wrap(op, -1, err)
	}
	e.metrics.ObserveStage(metrics.StageEncode, stage)

	// Every text is tokenized and length-checked before any forward pass.
	stage = time.Now()
	encs := make([]*tokenize.Encoding, len(texts))
	for i, text := range texts {
		enc, err := e.tok.Tokenize(text)
		if err != nil {
			return nil, wrap(op, i, err)
		}
		if err := e.exec.Check(enc, prompt); err != nil {
			return nil, wrap(op, i, err)
		}
		encs[i] = enc
	}
	e.metrics.ObserveStage(metrics.StageTokenize, stage)

	stage = time.Now()
	scores, err := e.execute(ctx, encs, prompt)
	if err != nil {
		return nil, wrap(op, -1, err)
	}
	e.metrics.ObserveStage(metrics.StageExecute, stage)

	stage = time.Now()
	out = make([][]EntitySpan, len(texts))
	for i, enc := range encs {
		out[i] = entitySpans(e.decoder.Decode(scores[i], enc, prompt.Labels, i))
	}
	e.metrics.ObserveStage(metrics.StageDecode, stage)
	return out, nil
}

type chunk struct {
	indices []int
}

// chunks groups text indices of similar token length into batches of at
// most size, so each padded forward pass wastes little.
func chunks(encs []*tokenize.Encoding, size int) []chunk {
	order := make([]int, len(encs))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(encs[order[a]].Tokens) < len(encs[order[b]].Tokens)
	})
	var out []chunk
	for lo := 0; lo < len(order); lo += size {
		hi := min(lo+size, len(order))
		out = append(out, chunk{indices: order[lo:hi]})
	}
	return out
}

func (e *Engine) execute(ctx context.Context, encs []*tokenize.Encoding, prompt *labels.Prompt) ([]*executor.ScoreTensor, error) {
	scores := make([]*executor.ScoreTensor, len(encs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Parallelism)
	for _, c := range chunks(encs, e.cfg.BatchSize) {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			batch := make([]*tokenize.Encoding, len(c.indices))
			for j, idx := range c.indices {
				batch[j] = encs[idx]
			}
			out, err := e.exec.Execute(batch, prompt)
			if err != nil {
				return err
			}
			for j, idx := range c.indices {
				scores[idx] = out[j]
			}
			e.metrics.Chunks.Inc()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return scores, nil
}

func entitySpans(spans []decode.Span) []EntitySpan {
	out := make([]EntitySpan, len(spans))
	for i, s := range spans {
		out[i] = EntitySpan{
			Text:     s.Text,
			Label:    s.Label,
			Score:    s.Score,
			Start:    s.Start,
			End:      s.End,
			Sequence: s.Sequence,
		}
	}
	return out
}
