package backend

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"sync"

	"go.uber.org/zap"
)

// pythonSession keeps one python onnxruntime worker alive for the lifetime of
// the session and exchanges one JSON line per request. The worker handles a
// single request at a time.
type pythonSession struct {
	mu         sync.Mutex
	cmd        *exec.Cmd
	stdin      io.WriteCloser
	stdout     *bufio.Reader
	stderr     *tailBuffer
	inputInfo  []TensorInfo
	outputInfo []TensorInfo
	closed     bool
	logger     *zap.Logger
}

type pythonTensor struct {
	Name  string   `json:"name"`
	Shape []int64  `json:"shape"`
	Type  DataType `json:"type"`
	Data  any      `json:"data,omitempty"`
}

type pythonHello struct {
	Inputs  []pythonTensor `json:"inputs"`
	Outputs []pythonTensor `json:"outputs"`
	Error   string         `json:"error"`
}

type pythonRequest struct {
	Inputs []pythonTensor `json:"inputs"`
}

type pythonOutput struct {
	Name  string    `json:"name"`
	Shape []int64   `json:"shape"`
	Data  []float32 `json:"data"`
}

type pythonResponse struct {
	Outputs []pythonOutput `json:"outputs"`
	Error   string         `json:"error"`
}

func openPython(modelPath string, opts Options) (Session, error) {
	exe := opts.PythonExecutable
	if exe == "" {
		exe = "python3"
	}
	cmd := exec.Command(exe, "-u", "-c", pythonWorkerScript, modelPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	stderr := &tailBuffer{limit: stderrTail}
	cmd.Stderr = stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: starting %s: %v", ErrUnavailable, exe, err)
	}

	s := &pythonSession{cmd: cmd, stdin: stdin, stdout: bufio.NewReader(stdout), stderr: stderr, logger: opts.Logger}
	line, err := s.stdout.ReadBytes('\n')
	if err != nil {
		s.kill()
		return nil, s.workerError("python worker exited during startup", err)
	}
	var hello pythonHello
	if err := json.Unmarshal(line, &hello); err != nil {
		s.kill()
		return nil, fmt.Errorf("parse python worker handshake: %w", err)
	}
	if hello.Error != "" {
		s.kill()
		return nil, fmt.Errorf("%w: python onnxruntime: %s", ErrUnavailable, hello.Error)
	}
	for _, in := range hello.Inputs {
		s.inputInfo = append(s.inputInfo, TensorInfo{Name: in.Name, Shape: in.Shape, DataType: in.Type})
	}
	for _, out := range hello.Outputs {
		s.outputInfo = append(s.outputInfo, TensorInfo{Name: out.Name, Shape: out.Shape, DataType: out.Type})
	}
	opts.Logger.Info("Started python onnxruntime worker",
		zap.String("path", modelPath),
		zap.String("python", exe),
		zap.Int("pid", cmd.Process.Pid),
		zap.Int("inputs", len(s.inputInfo)),
		zap.Int("outputs", len(s.outputInfo)))
	return s, nil
}

func (s *pythonSession) Run(inputs []NamedTensor) ([]NamedTensor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrSessionClosed
	}

	req := pythonRequest{Inputs: make([]pythonTensor, len(inputs))}
	for i, in := range inputs {
		dt, err := dataTypeOf(in.Data)
		if err != nil {
			return nil, fmt.Errorf("input %s: %w", in.Name, err)
		}
		req.Inputs[i] = pythonTensor{Name: in.Name, Shape: in.Shape, Type: dt, Data: in.Data}
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	payload = append(payload, '\n')
	if _, err := s.stdin.Write(payload); err != nil {
		s.closed = true
		s.kill()
		return nil, s.workerError("write to python worker", err)
	}
	line, err := s.stdout.ReadBytes('\n')
	if err != nil {
		s.closed = true
		s.kill()
		return nil, s.workerError("read from python worker", err)
	}

	var resp pythonResponse
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("parse python onnx output: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("python onnx inference error: %s", resp.Error)
	}
	outputs := make([]NamedTensor, len(resp.Outputs))
	for i, out := range resp.Outputs {
		outputs[i] = NamedTensor{Name: out.Name, Shape: out.Shape, Data: out.Data}
	}
	return outputs, nil
}

func (s *pythonSession) InputInfo() []TensorInfo  { return s.inputInfo }
func (s *pythonSession) OutputInfo() []TensorInfo { return s.outputInfo }

func (s *pythonSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed && s.cmd.ProcessState != nil {
		return nil
	}
	s.closed = true
	_ = s.stdin.Close()
	err := s.cmd.Wait()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		s.logger.Debug("Python worker exited", zap.Int("code", exitErr.ExitCode()))
		return nil
	}
	return err
}

func (s *pythonSession) kill() {
	_ = s.stdin.Close()
	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	_ = s.cmd.Wait()
}

func (s *pythonSession) workerError(what string, err error) error {
	if msg := s.stderr.String(); msg != "" {
		return fmt.Errorf("%s: %w: %s", what, err, msg)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// stderrTail is how much of the worker's stderr is kept for error messages.
const stderrTail = 4 << 10

// tailBuffer keeps the last limit bytes written to it. os/exec copies the
// worker's stderr from its own goroutine, so access is locked.
type tailBuffer struct {
	mu    sync.Mutex
	limit int
	buf   []byte
}

func (b *tailBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(p)
	if n >= b.limit {
		b.buf = append(b.buf[:0], p[n-b.limit:]...)
		return n, nil
	}
	if over := len(b.buf) + n - b.limit; over > 0 {
		b.buf = append(b.buf[:0], b.buf[over:]...)
	}
	b.buf = append(b.buf, p...)
	return n, nil
}

func (b *tailBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return string(bytes.TrimSpace(b.buf))
}

func dataTypeOf(data any) (DataType, error) {
	switch data.(type) {
	case []float32:
		return DataTypeFloat32, nil
	case []int64:
		return DataTypeInt64, nil
	case []int32:
		return DataTypeInt32, nil
	case []bool:
		return DataTypeBool, nil
	default:
		return "", fmt.Errorf("unsupported data type %T", data)
	}
}

const pythonWorkerScript = `
import json
import sys

try:
    import numpy as np
    import onnxruntime as ort
except Exception as exc:
    print(json.dumps({"error": f"missing python dependencies (onnxruntime, numpy): {exc}"}), flush=True)
    sys.exit(0)

DTYPES = {"int64": np.int64, "int32": np.int32, "float32": np.float32, "bool": np.bool_}
TYPES = {"tensor(int64)": "int64", "tensor(int32)": "int32", "tensor(bool)": "bool"}


def describe(items):
    return [
        {"name": i.name, "shape": [d if isinstance(d, int) else -1 for d in i.shape], "type": TYPES.get(i.type, "float32")}
        for i in items
    ]


try:
    sess = ort.InferenceSession(sys.argv[1], providers=["CPUExecutionProvider"])
except Exception as exc:
    print(json.dumps({"error": str(exc)}), flush=True)
    sys.exit(0)

print(json.dumps({"inputs": describe(sess.get_inputs()), "outputs": describe(sess.get_outputs())}), flush=True)
names = [o.name for o in sess.get_outputs()]

for line in sys.stdin:
    line = line.strip()
    if not line:
        continue
    try:
        req = json.loads(line)
        feed = {
            t["name"]: np.array(t["data"], dtype=DTYPES[t["type"]]).reshape(t["shape"])
            for t in req["inputs"]
        }
        outs = sess.run(names, feed)
        resp = {
            "outputs": [
                {"name": n, "shape": list(o.shape), "data": o.astype(np.float32).ravel().tolist()}
                for n, o in zip(names, outs)
            ]
        }
    except Exception as exc:
        resp = {"error": str(exc)}
    print(json.dumps(resp), flush=True)
`
