package classifier

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/vmihailenco/msgpack/v5"
	"gonum.org/v1/gonum/mat"
)

// Activation names accepted in DenseWeights.
const (
	ActivationSigmoid  = "sigmoid"
	ActivationSoftmax  = "softmax"
	ActivationIdentity = "identity"
)

// Pooling names accepted in DenseWeights.
const (
	// PoolNone feeds the flattened input to the layer.
	PoolNone = "none"
	// PoolTimeMean averages a [1, mels, frames, 1] input over frames,
	// leaving one feature per mel row.
	PoolTimeMean = "time_mean"
)

// DenseWeights is the serialized form of a Dense classifier.
// Weights is row-major [Outputs][Inputs].
type DenseWeights struct {
	Inputs     int       `msgpack:"inputs"`
	Outputs    int       `msgpack:"outputs"`
	Weights    []float32 `msgpack:"weights"`
	Bias       []float32 `msgpack:"bias"`
	Activation string    `msgpack:"activation"`
	Pool       string    `msgpack:"pool"`
}

// Dense is a single fully connected layer with an output activation.
// It is safe for concurrent use.
type Dense struct {
	w          *mat.Dense
	b          *mat.VecDense
	activation string
	pool       string
}

// NewDense builds a Dense classifier from weights.
func NewDense(dw DenseWeights) (*Dense, error) {
	if dw.Inputs <= 0 || dw.Outputs <= 0 {
		return nil, fmt.Errorf("classifier: dense size %dx%d", dw.Outputs, dw.Inputs)
	}
	if len(dw.Weights) != dw.Inputs*dw.Outputs {
		return nil, fmt.Errorf("classifier: dense has %d weights, want %d", len(dw.Weights), dw.Inputs*dw.Outputs)
	}
	if dw.Bias != nil && len(dw.Bias) != dw.Outputs {
		return nil, fmt.Errorf("classifier: dense has %d biases, want %d", len(dw.Bias), dw.Outputs)
	}
	act := strings.ToLower(dw.Activation)
	switch act {
	case "":
		act = ActivationSigmoid
	case ActivationSigmoid, ActivationSoftmax, ActivationIdentity:
	default:
		return nil, fmt.Errorf("classifier: unknown activation %q", dw.Activation)
	}
	pool := strings.ToLower(dw.Pool)
	switch pool {
	case "":
		pool = PoolNone
	case PoolNone, PoolTimeMean:
	default:
		return nil, fmt.Errorf("classifier: unknown pooling %q", dw.Pool)
	}

	w := mat.NewDense(dw.Outputs, dw.Inputs, nil)
	for i, v := range dw.Weights {
		w.Set(i/dw.Inputs, i%dw.Inputs, float64(v))
	}
	b := mat.NewVecDense(dw.Outputs, nil)
	for i, v := range dw.Bias {
		b.SetVec(i, float64(v))
	}
	return &Dense{w: w, b: b, activation: act, pool: pool}, nil
}

// DecodeDense decodes msgpack encoded DenseWeights into a classifier.
func DecodeDense(data []byte) (*Dense, error) {
	var dw DenseWeights
	if err := msgpack.Unmarshal(data, &dw); err != nil {
		return nil, fmt.Errorf("classifier: decode dense: %w", err)
	}
	return NewDense(dw)
}

// EncodeDense encodes weights with msgpack.
func EncodeDense(dw DenseWeights) ([]byte, error) {
	return msgpack.Marshal(&dw)
}

// Inputs returns the feature count the layer expects after pooling.
func (d *Dense) Inputs() int {
	_, c := d.w.Dims()
	return c
}

// Outputs returns the number of class scores.
func (d *Dense) Outputs() int {
	r, _ := d.w.Dims()
	return r
}

// Forward implements [Classifier].
func (d *Dense) Forward(ctx context.Context, in Tensor) (Tensor, error) {
	if err := ctx.Err(); err != nil {
		return Tensor{}, err
	}
	x, err := d.features(in)
	if err != nil {
		return Tensor{}, err
	}

	var y mat.VecDense
	y.MulVec(d.w, x)
	y.AddVec(&y, d.b)

	out := make([]float32, y.Len())
	switch d.activation {
	case ActivationSigmoid:
		for i := range out {
			out[i] = float32(1 / (1 + math.Exp(-y.AtVec(i))))
		}
	case ActivationSoftmax:
		maxv := mat.Max(&y)
		var sum float64
		for i := range out {
			sum += math.Exp(y.AtVec(i) - maxv)
		}
		for i := range out {
			out[i] = float32(math.Exp(y.AtVec(i)-maxv) / sum)
		}
	default:
		for i := range out {
			out[i] = float32(y.AtVec(i))
		}
	}
	return Tensor{Shape: []int{1, len(out)}, Data: out}, nil
}

func (d *Dense) features(in Tensor) (*mat.VecDense, error) {
	if err := in.Validate(); err != nil {
		return nil, err
	}
	n := d.Inputs()
	if d.pool == PoolTimeMean {
		if len(in.Shape) != 4 || in.Shape[0] != 1 || in.Shape[3] != 1 {
			return nil, fmt.Errorf("classifier: time pooling needs [1 mels frames 1], got %v", in.Shape)
		}
		mels, frames := in.Shape[1], in.Shape[2]
		if mels != n {
			return nil, fmt.Errorf("classifier: dense expects %d mel rows, got %d", n, mels)
		}
		x := mat.NewVecDense(n, nil)
		for m := 0; m < mels; m++ {
			var sum float64
			for _, v := range in.Data[m*frames : (m+1)*frames] {
				sum += float64(v)
			}
			x.SetVec(m, sum/float64(frames))
		}
		return x, nil
	}
	if len(in.Data) != n {
		return nil, fmt.Errorf("classifier: dense expects %d inputs, got %d", n, len(in.Data))
	}
	x := mat.NewVecDense(n, nil)
	for i, v := range in.Data {
		x.SetVec(i, float64(v))
	}
	return x, nil
}

// Close implements [Classifier].
func (d *Dense) Close() error { return nil }
