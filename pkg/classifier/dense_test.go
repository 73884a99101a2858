package classifier

import (
	"context"
	"math"
	"testing"
)

func TestDenseIdentity(t *testing.T) {
	d, err := NewDense(DenseWeights{
		Inputs:     2,
		Outputs:    2,
		Weights:    []float32{1, 2, 3, 4},
		Bias:       []float32{0.5, -1},
		Activation: ActivationIdentity,
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.Forward(context.Background(), Tensor{Shape: []int{1, 2}, Data: []float32{1, 1}})
	if err != nil {
		t.Fatal(err)
	}
	// [1+2+0.5, 3+4-1]
	if out.Data[0] != 3.5 || out.Data[1] != 6 {
		t.Errorf("out = %v, want [3.5 6]", out.Data)
	}
}

func TestDenseSigmoidDefault(t *testing.T) {
	d, err := NewDense(DenseWeights{Inputs: 1, Outputs: 1, Weights: []float32{0}})
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.Forward(context.Background(), Tensor{Shape: []int{1}, Data: []float32{5}})
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(out.Data[0])-0.5) > 1e-6 {
		t.Errorf("sigmoid(0) = %f", out.Data[0])
	}
}

func TestDenseSoftmaxSumsToOne(t *testing.T) {
	d, err := NewDense(DenseWeights{
		Inputs:     1,
		Outputs:    3,
		Weights:    []float32{1, 2, 3},
		Activation: ActivationSoftmax,
	})
	if err != nil {
		t.Fatal(err)
	}
	out, err := d.Forward(context.Background(), Tensor{Shape: []int{1}, Data: []float32{100}})
	if err != nil {
		t.Fatal(err)
	}
	var sum float64
	for _, v := range out.Data {
		if math.IsNaN(float64(v)) {
			t.Fatal("softmax overflowed")
		}
		sum += float64(v)
	}
	if math.Abs(sum-1) > 1e-5 {
		t.Errorf("sum = %f", sum)
	}
	if !(out.Data[2] > out.Data[1] && out.Data[1] >= out.Data[0]) {
		t.Errorf("order = %v", out.Data)
	}
}

func TestDenseTimeMeanPooling(t *testing.T) {
	d, err := NewDense(DenseWeights{
		Inputs:     2,
		Outputs:    1,
		Weights:    []float32{1, 10},
		Activation: ActivationIdentity,
		Pool:       PoolTimeMean,
	})
	if err != nil {
		t.Fatal(err)
	}
	// Row 0 mean 2, row 1 mean 0.5.
	in := Tensor{Shape: []int{1, 2, 3, 1}, Data: []float32{1, 2, 3, 0, 1, 0.5}}
	out, err := d.Forward(context.Background(), in)
	if err != nil {
		t.Fatal(err)
	}
	if math.Abs(float64(out.Data[0])-7) > 1e-6 {
		t.Errorf("out = %v, want [7]", out.Data)
	}
	if _, err := d.Forward(context.Background(), Tensor{Shape: []int{1, 3, 2, 1}, Data: make([]float32, 6)}); err == nil {
		t.Error("expected error for wrong mel count")
	}
}

func TestDenseCodec(t *testing.T) {
	dw := DenseWeights{Inputs: 2, Outputs: 1, Weights: []float32{0.25, 0.75}, Bias: []float32{0}, Activation: ActivationIdentity}
	data, err := EncodeDense(dw)
	if err != nil {
		t.Fatal(err)
	}
	d, err := DecodeDense(data)
	if err != nil {
		t.Fatal(err)
	}
	if d.Inputs() != 2 || d.Outputs() != 1 {
		t.Fatalf("dims = %dx%d", d.Outputs(), d.Inputs())
	}
	out, err := d.Forward(context.Background(), Tensor{Shape: []int{2}, Data: []float32{4, 4}})
	if err != nil {
		t.Fatal(err)
	}
	if out.Data[0] != 4 {
		t.Errorf("out = %v", out.Data)
	}
	if _, err := DecodeDense([]byte{0xc1}); err == nil {
		t.Error("expected decode error")
	}
}

func TestNewDenseValidation(t *testing.T) {
	bad := []DenseWeights{
		{Inputs: 0, Outputs: 1},
		{Inputs: 2, Outputs: 1, Weights: []float32{1}},
		{Inputs: 1, Outputs: 2, Weights: []float32{1, 2}, Bias: []float32{1}},
		{Inputs: 1, Outputs: 1, Weights: []float32{1}, Activation: "relu"},
		{Inputs: 1, Outputs: 1, Weights: []float32{1}, Pool: "max"},
	}
	for i, dw := range bad {
		if _, err := NewDense(dw); err == nil {
			t.Errorf("case %d: expected error", i)
		}
	}
}

func TestDenseCanceledContext(t *testing.T) {
	d, _ := NewDense(DenseWeights{Inputs: 1, Outputs: 1, Weights: []float32{1}})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.Forward(ctx, Tensor{Shape: []int{1}, Data: []float32{1}}); err == nil {
		t.Error("expected context error")
	}
}
