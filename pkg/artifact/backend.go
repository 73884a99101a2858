package artifact

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/FrLars21/bioacoustics/pkg/classifier"
	"github.com/FrLars21/bioacoustics/pkg/onnx"
)

// Backend decodes model bytes into a classifier.
type Backend func(ctx context.Context, spec ModelSpec, data []byte) (classifier.Classifier, error)

var (
	backendsMu sync.RWMutex
	backends   = map[string]Backend{
		"dense": denseBackend,
		"onnx":  onnxBackend,
	}
)

// RegisterBackend makes a backend available to manifests under name,
// replacing any previous registration.
func RegisterBackend(name string, b Backend) {
	backendsMu.Lock()
	defer backendsMu.Unlock()
	backends[name] = b
}

// Backends returns the registered backend names, sorted.
func Backends() []string {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	names := make([]string, 0, len(backends))
	for n := range backends {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func lookupBackend(name string) (Backend, bool) {
	backendsMu.RLock()
	defer backendsMu.RUnlock()
	b, ok := backends[name]
	return b, ok
}

func denseBackend(_ context.Context, _ ModelSpec, data []byte) (classifier.Classifier, error) {
	return classifier.DecodeDense(data)
}

func onnxBackend(_ context.Context, spec ModelSpec, data []byte) (classifier.Classifier, error) {
	env, err := onnx.SharedEnv()
	if err != nil {
		return nil, fmt.Errorf("artifact: onnx backend: %w", err)
	}
	return onnx.NewClassifier(env, data,
		onnx.WithTensorNames(spec.Input, spec.Output),
		onnx.WithThreads(spec.Threads),
	)
}
