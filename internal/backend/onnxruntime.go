//go:build onnxruntime

package backend

import (
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const nativeBuilt = true

var (
	envOnce sync.Once
	envErr  error
)

func initEnvironment(libraryPath string) error {
	envOnce.Do(func() {
		if libraryPath != "" {
			ort.SetSharedLibraryPath(libraryPath)
		}
		envErr = ort.InitializeEnvironment()
	})
	return envErr
}

type ortSession struct {
	mu          sync.RWMutex
	session     *ort.DynamicAdvancedSession
	sessionOpts *ort.SessionOptions
	inputInfo   []TensorInfo
	outputInfo  []TensorInfo
}

func openNative(modelPath string, opts Options) (Session, error) {
	if err := initEnvironment(opts.LibraryPath); err != nil {
		return nil, fmt.Errorf("%w: initializing onnxruntime: %v", ErrUnavailable, err)
	}
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("reading model graph: %w", err)
	}
	inputNames := make([]string, len(inputs))
	inputInfo := make([]TensorInfo, len(inputs))
	for i, info := range inputs {
		inputNames[i] = info.Name
		inputInfo[i] = TensorInfo{Name: info.Name, Shape: info.Dimensions, DataType: ortDataType(info.DataType)}
	}
	outputNames := make([]string, len(outputs))
	outputInfo := make([]TensorInfo, len(outputs))
	for i, info := range outputs {
		outputNames[i] = info.Name
		outputInfo[i] = TensorInfo{Name: info.Name, Shape: info.Dimensions, DataType: ortDataType(info.DataType)}
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("creating session options: %w", err)
	}
	if opts.IntraOpThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			sessionOpts.Destroy()
			return nil, fmt.Errorf("setting thread count: %w", err)
		}
	}
	session, err := ort.NewDynamicAdvancedSession(modelPath, inputNames, outputNames, sessionOpts)
	if err != nil {
		sessionOpts.Destroy()
		return nil, fmt.Errorf("creating onnxruntime session: %w", err)
	}
	opts.Logger.Info("Loaded model with onnxruntime",
		zap.String("path", modelPath),
		zap.Strings("inputs", inputNames),
		zap.Strings("outputs", outputNames),
		zap.Int("intra_op_threads", opts.IntraOpThreads))
	return &ortSession{session: session, sessionOpts: sessionOpts, inputInfo: inputInfo, outputInfo: outputInfo}, nil
}

func ortDataType(dt ort.TensorElementDataType) DataType {
	switch dt {
	case ort.TensorElementDataTypeInt64:
		return DataTypeInt64
	case ort.TensorElementDataTypeInt32:
		return DataTypeInt32
	case ort.TensorElementDataTypeBool:
		return DataTypeBool
	default:
		return DataTypeFloat32
	}
}

// Reentrant is true: onnxruntime allows concurrent Run calls on one session.
func (s *ortSession) Reentrant() bool { return true }

func (s *ortSession) Run(inputs []NamedTensor) ([]NamedTensor, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.session == nil {
		return nil, ErrSessionClosed
	}

	ortInputs := make([]ort.Value, 0, len(inputs))
	defer func() {
		for _, v := range ortInputs {
			v.Destroy()
		}
	}()
	for _, in := range inputs {
		v, err := newOrtTensor(in)
		if err != nil {
			return nil, fmt.Errorf("creating input tensor %s: %w", in.Name, err)
		}
		ortInputs = append(ortInputs, v)
	}

	ortOutputs := make([]ort.Value, len(s.outputInfo))
	if err := s.session.Run(ortInputs, ortOutputs); err != nil {
		return nil, fmt.Errorf("running onnxruntime session: %w", err)
	}
	defer func() {
		for _, v := range ortOutputs {
			if v != nil {
				v.Destroy()
			}
		}
	}()

	outputs := make([]NamedTensor, 0, len(ortOutputs))
	for i, v := range ortOutputs {
		if v == nil {
			continue
		}
		out, err := copyOrtTensor(v, s.outputInfo[i].Name)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, out)
	}
	return outputs, nil
}

func (s *ortSession) InputInfo() []TensorInfo  { return s.inputInfo }
func (s *ortSession) OutputInfo() []TensorInfo { return s.outputInfo }

func (s *ortSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.session != nil {
		s.session.Destroy()
		s.session = nil
	}
	if s.sessionOpts != nil {
		s.sessionOpts.Destroy()
		s.sessionOpts = nil
	}
	return nil
}

func newOrtTensor(in NamedTensor) (ort.Value, error) {
	shape := ort.NewShape(in.Shape...)
	switch data := in.Data.(type) {
	case []float32:
		return ort.NewTensor(shape, data)
	case []int64:
		return ort.NewTensor(shape, data)
	case []int32:
		return ort.NewTensor(shape, data)
	case []bool:
		return ort.NewTensor(shape, data)
	default:
		return nil, fmt.Errorf("unsupported data type %T", in.Data)
	}
}

func copyOrtTensor(v ort.Value, name string) (NamedTensor, error) {
	shape := []int64(v.GetShape())
	switch t := v.(type) {
	case *ort.Tensor[float32]:
		return NamedTensor{Name: name, Shape: shape, Data: append([]float32(nil), t.GetData()...)}, nil
	case *ort.Tensor[int64]:
		return NamedTensor{Name: name, Shape: shape, Data: append([]int64(nil), t.GetData()...)}, nil
	default:
		return NamedTensor{}, fmt.Errorf("output %s: unsupported tensor type %T", name, v)
	}
}
