// Package classifier holds a loaded species classifier and its label
// vocabulary, and maps feature maps to probability vectors.
//
// The classifier itself is opaque: anything that implements [Classifier]
// can be plugged in. [Dense] is a pure Go linear head; the onnx package
// provides an ONNX Runtime backend.
//
// Usage flow:
//
//	eng := classifier.NewEngine(classifier.WithLogger(logger))
//	if err := eng.Init(ctx, loader); err != nil {
//		return err
//	}
//	probs, err := eng.Predict(ctx, featureMap)
//
// The request lifecycle has no terminal state: Uninitialized, Initializing
// and Ready, with a failed Init returning to Uninitialized. Closed sits
// outside it and only releases the loaded model; after Close, Predict
// reports [ErrNotInitialized] and Init reports [ErrClosed].
package classifier

import (
	"context"
	"fmt"
)

// Tensor is a dense float32 tensor in row-major order.
type Tensor struct {
	Shape []int
	Data  []float32
}

// Size returns the element count implied by Shape.
func (t Tensor) Size() int {
	if len(t.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Validate checks that Data holds exactly Size() elements.
func (t Tensor) Validate() error {
	if n := t.Size(); n != len(t.Data) {
		return fmt.Errorf("classifier: tensor shape %v needs %d values, has %d", t.Shape, n, len(t.Data))
	}
	return nil
}

// Classifier runs a forward pass over one input tensor.
//
// Implementations must not retain the input after Forward returns.
type Classifier interface {
	Forward(ctx context.Context, in Tensor) (Tensor, error)
	Close() error
}

// Loader produces a classifier and its vocabulary. A Loader fetches and
// decodes artifacts; it is called once per successful initialization.
type Loader interface {
	Load(ctx context.Context) (Classifier, Vocabulary, error)
}

// LoaderFunc adapts a function to [Loader].
type LoaderFunc func(ctx context.Context) (Classifier, Vocabulary, error)

// Load implements [Loader].
func (f LoaderFunc) Load(ctx context.Context) (Classifier, Vocabulary, error) {
	return f(ctx)
}
