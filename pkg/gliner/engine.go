// Package gliner runs zero-shot named entity recognition with GLiNER span
// models. An Engine is built once from a tokenizer.json and an exported model
// and is safe for concurrent use.
package gliner

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"gliner/internal/backend"
	"gliner/internal/config"
	"gliner/internal/decode"
	"gliner/internal/executor"
	"gliner/internal/labels"
	"gliner/internal/metrics"
	"gliner/internal/tokenize"
)

// EntitySpan is one recognized entity. Start and End are byte offsets into
// the input text with Text == text[Start:End]. Sequence is the index of the
// text within the call.
type EntitySpan struct {
	Text     string  `json:"text"`
	Label    string  `json:"label"`
	Score    float64 `json:"score"`
	Start    int     `json:"start"`
	End      int     `json:"end"`
	Sequence int     `json:"sequence"`
}

// Engine holds a loaded tokenizer and model session. All prediction methods
// are safe for concurrent use until Close.
type Engine struct {
	cfg      config.Config
	tok      *tokenize.Tokenizer
	labels   *labels.Encoder
	exec     *executor.Executor
	decoder  *decode.Decoder
	session  backend.Session
	logger   *zap.Logger
	metrics  *metrics.Metrics
	closed   atomic.Bool
	closeErr error
	once     sync.Once
}

// New loads the tokenizer at tokenizerPath and the model weights at
// modelPath. A gliner_config.json next to the weights overrides the
// model-shape settings of the configured defaults.
func New(tokenizerPath, modelPath string, opts ...Option) (*Engine, error) {
	o := options{cfg: config.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	logger := o.logger.Named("gliner")

	// Every failure closes an injected session.
	fail := func(err *Error) (*Engine, error) {
		if o.session != nil {
			_ = o.session.Close()
		}
		return nil, err
	}
	loadErr := func(err error) *Error {
		return &Error{Kind: KindModelLoad, Op: "new", Index: -1, Err: err}
	}

	mcPath := config.ModelConfigPath(modelPath)
	if o.modelConfigPath != nil {
		mcPath = *o.modelConfigPath
	}
	cfg := o.cfg
	if mcPath != "" {
		var err error
		if cfg, err = config.LoadModelConfig(mcPath, o.cfg); err != nil {
			return fail(loadErr(err))
		}
	}
	if err := cfg.Validate(); err != nil {
		return fail(&Error{Kind: KindInvalidInput, Op: "new", Index: -1, Err: err})
	}

	tok, err := tokenize.Load(tokenizerPath, tokenize.Options{
		EntToken:     cfg.EntToken,
		SepToken:     cfg.SepToken,
		MaxTextBytes: cfg.MaxTextBytes,
	})
	if err != nil {
		return fail(loadErr(err))
	}

	session := o.session
	if session == nil {
		session, err = backend.Open(modelPath, backend.Options{
			Kind:             cfg.Backend,
			LibraryPath:      cfg.ONNXRuntimeLib,
			IntraOpThreads:   cfg.IntraOpThreads,
			PythonExecutable: cfg.PythonExecutable,
			Logger:           logger,
		})
		if err != nil {
			return nil, loadErr(err)
		}
	} else if err := checkWeights(modelPath); err != nil {
		return fail(loadErr(err))
	}

	exec, err := executor.New(session, tok.SpecialIDs(), executor.Options{
		MaxWidth: cfg.MaxWidth,
		MaxLen:   cfg.MaxLen,
		MaxWords: cfg.MaxWords,
		Logger:   logger,
	})
	if err != nil {
		_ = session.Close()
		return nil, loadErr(err)
	}

	e := &Engine{
		cfg:    cfg,
		tok:    tok,
		labels: labels.NewEncoder(tok),
		exec:   exec,
		decoder: decode.New(decode.Options{
			Threshold:  cfg.Threshold,
			FlatNER:    cfg.FlatNER,
			MultiLabel: cfg.MultiLabel,
		}),
		session: session,
		logger:  logger,
		metrics: metrics.New(o.registerer),
	}
	logger.Info("Engine ready",
		zap.String("tokenizer", tokenizerPath),
		zap.String("tokenizer_kind", tok.Kind()),
		zap.String("model", modelPath),
		zap.Int("max_width", cfg.MaxWidth),
		zap.Int("max_len", cfg.MaxLen),
		zap.Int("max_words", cfg.MaxWords),
		zap.Float64("threshold", cfg.Threshold),
		zap.Bool("flat_ner", cfg.FlatNER),
		zap.Bool("multi_label", cfg.MultiLabel))
	return e, nil
}

func checkWeights(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("model weights: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf("model weights: %s is a directory", path)
	}
	return nil
}

// Config returns the effective settings, after the model config overlay.
func (e *Engine) Config() Config { return e.cfg }

// InputInfo lists the tensors the model session accepts.
func (e *Engine) InputInfo() []TensorInfo { return e.session.InputInfo() }

// OutputInfo lists the tensors the model session produces.
func (e *Engine) OutputInfo() []TensorInfo { return e.session.OutputInfo() }

// Close releases the model session. Further predictions fail with
// ErrInvalidInput. Close is idempotent.
func (e *Engine) Close() error {
	e.once.Do(func() {
		e.closed.Store(true)
		if err := e.session.Close(); err != nil && !errors.Is(err, backend.ErrSessionClosed) {
			e.closeErr = err
		}
		e.logger.Debug("Engine closed")
	})
	return e.closeErr
}
