package onnx

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/FrLars21/bioacoustics/pkg/classifier"
)

// Classifier implements [classifier.Classifier] with an ONNX session.
type Classifier struct {
	mu      sync.Mutex
	session *Session
	input   string
	output  string
	threads int
}

// Option configures a Classifier.
type Option func(*Classifier)

// WithTensorNames sets the input and output tensor names. Empty names are
// discovered from the model: its first input and first output.
func WithTensorNames(input, output string) Option {
	return func(c *Classifier) {
		c.input = input
		c.output = output
	}
}

// WithThreads sets intra-op threads. Default: runtime choice.
func WithThreads(n int) Option {
	return func(c *Classifier) {
		c.threads = n
	}
}

// NewClassifier loads modelData into a session on env.
func NewClassifier(env *Env, modelData []byte, opts ...Option) (*Classifier, error) {
	c := &Classifier{}
	for _, opt := range opts {
		opt(c)
	}
	if env == nil {
		return nil, fmt.Errorf("onnx: nil env")
	}
	session, err := env.NewSession(modelData, c.threads)
	if err != nil {
		return nil, err
	}

	inputs, err := session.InputNames()
	if err != nil {
		session.Close()
		return nil, err
	}
	outputs, err := session.OutputNames()
	if err != nil {
		session.Close()
		return nil, err
	}
	if c.input, err = pickName("input", c.input, inputs); err != nil {
		session.Close()
		return nil, err
	}
	if c.output, err = pickName("output", c.output, outputs); err != nil {
		session.Close()
		return nil, err
	}
	c.session = session
	return c, nil
}

func pickName(kind, want string, have []string) (string, error) {
	if len(have) == 0 {
		return "", fmt.Errorf("onnx: model declares no %s", kind)
	}
	if want == "" {
		return have[0], nil
	}
	if !slices.Contains(have, want) {
		return "", fmt.Errorf("onnx: model has no %s %q (have %v)", kind, want, have)
	}
	return want, nil
}

// InputName returns the bound input tensor name.
func (c *Classifier) InputName() string { return c.input }

// OutputName returns the bound output tensor name.
func (c *Classifier) OutputName() string { return c.output }

// Forward implements [classifier.Classifier].
func (c *Classifier) Forward(ctx context.Context, in classifier.Tensor) (classifier.Tensor, error) {
	if err := ctx.Err(); err != nil {
		return classifier.Tensor{}, err
	}
	c.mu.Lock()
	session := c.session
	c.mu.Unlock()
	if session == nil {
		return classifier.Tensor{}, fmt.Errorf("onnx: classifier closed")
	}

	shape := make([]int64, len(in.Shape))
	for i, d := range in.Shape {
		shape[i] = int64(d)
	}
	input, err := NewTensor(shape, in.Data)
	if err != nil {
		return classifier.Tensor{}, err
	}
	defer input.Close()

	outputs, err := session.Run([]string{c.input}, []*Tensor{input}, []string{c.output})
	if err != nil {
		return classifier.Tensor{}, err
	}
	defer outputs[0].Close()

	outShape, err := outputs[0].Shape()
	if err != nil {
		return classifier.Tensor{}, err
	}
	data, err := outputs[0].FloatData()
	if err != nil {
		return classifier.Tensor{}, err
	}
	dims := make([]int, len(outShape))
	for i, d := range outShape {
		dims[i] = int(d)
	}
	return classifier.Tensor{Shape: dims, Data: data}, nil
}

// Close implements [classifier.Classifier].
func (c *Classifier) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session == nil {
		return nil
	}
	err := c.session.Close()
	c.session = nil
	return err
}

var _ classifier.Classifier = (*Classifier)(nil)
