package gliner

import (
	"context"
	"errors"
	"fmt"

	"gliner/internal/executor"
	"gliner/internal/labels"
	"gliner/internal/tokenize"
)

// Kind tells callers which class of failure an Error is.
type Kind int

const (
	KindUnknown Kind = iota
	// KindModelLoad: tokenizer or model files missing, unreadable or invalid.
	KindModelLoad
	// KindTokenization: a text is not valid UTF-8 or exceeds the byte limit.
	KindTokenization
	// KindSequenceTooLong: a text plus the label prompt exceeds the model
	// maximum length. Callers must split or truncate and retry.
	KindSequenceTooLong
	// KindUnknownLabelToken: a label produced no tokens.
	KindUnknownLabelToken
	// KindInvalidInput: empty or duplicate labels, no texts, bad settings or
	// a closed engine.
	KindInvalidInput
	// KindExecution: the forward pass failed or returned an unusable tensor.
	KindExecution
)

func (k Kind) String() string {
	switch k {
	case KindModelLoad:
		return "model_load"
	case KindTokenization:
		return "tokenization"
	case KindSequenceTooLong:
		return "sequence_too_long"
	case KindUnknownLabelToken:
		return "unknown_label_token"
	case KindInvalidInput:
		return "invalid_input"
	case KindExecution:
		return "execution"
	default:
		return "unknown"
	}
}

// Error is returned by every engine operation. Index is the position of the
// offending text in the call, or -1.
type Error struct {
	Kind  Kind
	Op    string
	Index int
	Err   error
}

func (e *Error) Error() string {
	msg := "gliner"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	msg += ": " + e.Kind.String()
	if e.Index >= 0 {
		msg += fmt.Sprintf(": text %d", e.Index)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the bare kind sentinels below.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrModelLoad         = &Error{Kind: KindModelLoad, Index: -1}
	ErrTokenization      = &Error{Kind: KindTokenization, Index: -1}
	ErrSequenceTooLong   = &Error{Kind: KindSequenceTooLong, Index: -1}
	ErrUnknownLabelToken = &Error{Kind: KindUnknownLabelToken, Index: -1}
	ErrInvalidInput      = &Error{Kind: KindInvalidInput, Index: -1}
	ErrExecution         = &Error{Kind: KindExecution, Index: -1}
)

var (
	errClosed  = errors.New("engine is closed")
	errNoTexts = errors.New("at least one text is required")
)

// KindOf returns the kind of err, or KindUnknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

func classify(err error) Kind {
	switch {
	case errors.Is(err, tokenize.ErrInvalidUTF8), errors.Is(err, tokenize.ErrTextTooLong):
		return KindTokenization
	case errors.Is(err, executor.ErrSequenceTooLong):
		return KindSequenceTooLong
	case errors.Is(err, labels.ErrUnknownLabelToken):
		return KindUnknownLabelToken
	case errors.Is(err, labels.ErrNoLabels), errors.Is(err, labels.ErrEmptyLabel), errors.Is(err, labels.ErrDuplicateLabel),
		errors.Is(err, errClosed), errors.Is(err, errNoTexts):
		return KindInvalidInput
	default:
		return KindExecution
	}
}

// wrap tags err with its kind. Context errors stay untagged so callers can
// test them with errors.Is directly.
func wrap(op string, index int, err error) error {
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("gliner: %s: %w", op, err)
	}
	return &Error{Kind: classify(err), Op: op, Index: index, Err: err}
}

func kindLabel(err error) string {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return "canceled"
	}
	return KindOf(err).String()
}
