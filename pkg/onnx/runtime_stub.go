//go:build !onnxruntime

package onnx

// Available reports whether the package was built against ONNX Runtime.
const Available = false

// Env is a placeholder when built without the onnxruntime tag.
type Env struct{}

// NewEnv returns ErrUnavailable.
func NewEnv(string) (*Env, error) { return nil, ErrUnavailable }

func (e *Env) NewSession([]byte, int) (*Session, error) { return nil, ErrUnavailable }
func (e *Env) Close() error                            { return nil }

// Session is a placeholder when built without the onnxruntime tag.
type Session struct{}

func (s *Session) InputNames() ([]string, error)  { return nil, ErrUnavailable }
func (s *Session) OutputNames() ([]string, error) { return nil, ErrUnavailable }
func (s *Session) Run([]string, []*Tensor, []string) ([]*Tensor, error) {
	return nil, ErrUnavailable
}
func (s *Session) Close() error { return nil }

// Tensor is a placeholder when built without the onnxruntime tag.
type Tensor struct{}

func NewTensor([]int64, []float32) (*Tensor, error) { return nil, ErrUnavailable }

func (t *Tensor) Shape() ([]int64, error)       { return nil, ErrUnavailable }
func (t *Tensor) FloatData() ([]float32, error) { return nil, ErrUnavailable }
func (t *Tensor) Close() error                  { return nil }
