// Package onnx runs classifier models with ONNX Runtime.
//
// The cgo binding to the ONNX Runtime C API is compiled only with the
// onnxruntime build tag, which links libonnxruntime:
//
//	go build -tags onnxruntime ./...
//
// Without the tag every constructor returns [ErrUnavailable], so binaries
// that never load an ONNX model keep building without the library.
//
// Usage flow:
//
//	env, _ := onnx.SharedEnv()
//	model, _ := onnx.NewClassifier(env, modelData)
//	defer model.Close()
//	out, _ := model.Forward(ctx, classifier.Tensor{Shape: dims, Data: data})
//
// # Thread Safety
//
// Env is safe for concurrent use. Session.Run is thread-safe; ONNX Runtime
// locks internally.
package onnx

import (
	"errors"
	"sync"
)

// ErrUnavailable is returned when the package was built without the
// onnxruntime tag.
var ErrUnavailable = errors.New("onnx: built without onnxruntime support")

var (
	sharedOnce sync.Once
	sharedEnv  *Env
	sharedErr  error
)

// SharedEnv returns a process-wide environment, created on first use.
func SharedEnv() (*Env, error) {
	sharedOnce.Do(func() {
		sharedEnv, sharedErr = NewEnv("birdnet")
	})
	return sharedEnv, sharedErr
}
