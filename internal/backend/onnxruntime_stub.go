//go:build !onnxruntime

package backend

import "fmt"

const nativeBuilt = false

func openNative(string, Options) (Session, error) {
	return nil, fmt.Errorf("%w: native onnxruntime backend requires build tag 'onnxruntime'", ErrUnavailable)
}
