package backend

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
)

var (
	ErrUnavailable   = errors.New("inference backend unavailable")
	ErrSessionClosed = errors.New("session is closed")
)

type DataType string

const (
	DataTypeFloat32 DataType = "float32"
	DataTypeInt64   DataType = "int64"
	DataTypeInt32   DataType = "int32"
	DataTypeBool    DataType = "bool"
)

// NamedTensor is a dense row-major tensor. Data is one of []float32, []int64,
// []int32 or []bool.
type NamedTensor struct {
	Name  string
	Shape []int64
	Data  any
}

type TensorInfo struct {
	Name     string
	Shape    []int64
	DataType DataType
}

// Session runs a loaded model graph.
type Session interface {
	Run(inputs []NamedTensor) ([]NamedTensor, error)
	InputInfo() []TensorInfo
	OutputInfo() []TensorInfo
	Close() error
}

// Reentrant reports whether s may be called from several goroutines at once.
// Sessions that do not say so are treated as non-reentrant.
func Reentrant(s Session) bool {
	r, ok := s.(interface{ Reentrant() bool })
	return ok && r.Reentrant()
}

const (
	KindAuto        = "auto"
	KindONNXRuntime = "onnxruntime"
	KindPython      = "python"
)

type Options struct {
	Kind             string
	LibraryPath      string
	IntraOpThreads   int
	PythonExecutable string
	Logger           *zap.Logger
}

// Open loads the model at modelPath with the configured backend. "auto"
// prefers the native runtime when the binary was built with it.
func Open(modelPath string, opts Options) (Session, error) {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	info, err := os.Stat(modelPath)
	if err != nil {
		return nil, fmt.Errorf("model weights: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("model weights: %s is a directory", modelPath)
	}

	kind := strings.ToLower(strings.TrimSpace(opts.Kind))
	if kind == "" {
		kind = KindAuto
	}
	if env := strings.ToLower(strings.TrimSpace(os.Getenv("GLINER_BACKEND"))); env != "" && kind == KindAuto {
		kind = env
	}
	switch kind {
	case KindAuto:
		if nativeBuilt {
			return openNative(modelPath, opts)
		}
		return openPython(modelPath, opts)
	case KindONNXRuntime:
		return openNative(modelPath, opts)
	case KindPython:
		return openPython(modelPath, opts)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrUnavailable, opts.Kind)
	}
}

// FindOutput returns the first float32 output whose name mentions "logits",
// falling back to the first float32 output.
func FindOutput(outputs []NamedTensor) (NamedTensor, bool) {
	for _, out := range outputs {
		if _, ok := out.Data.([]float32); ok && strings.Contains(strings.ToLower(out.Name), "logits") {
			return out, true
		}
	}
	for _, out := range outputs {
		if _, ok := out.Data.([]float32); ok {
			return out, true
		}
	}
	return NamedTensor{}, false
}
