//go:build onnxruntime

package onnx

import "testing"

func TestNewEnv(t *testing.T) {
	env, err := NewEnv("test")
	if err != nil {
		t.Fatal(err)
	}
	env.Close()
	env.Close()
}

func TestNewTensor(t *testing.T) {
	data := []float32{1, 2, 3, 4, 5, 6}
	tensor, err := NewTensor([]int64{2, 3}, data)
	if err != nil {
		t.Fatal(err)
	}
	defer tensor.Close()

	shape, err := tensor.Shape()
	if err != nil {
		t.Fatal(err)
	}
	if len(shape) != 2 || shape[0] != 2 || shape[1] != 3 {
		t.Errorf("shape = %v, want [2,3]", shape)
	}
	out, err := tensor.FloatData()
	if err != nil {
		t.Fatal(err)
	}
	for i, v := range out {
		if v != data[i] {
			t.Errorf("[%d] = %f, want %f", i, v, data[i])
		}
	}
}

func TestTensorShapeMismatch(t *testing.T) {
	if _, err := NewTensor([]int64{2, 3}, []float32{1, 2, 3}); err == nil {
		t.Error("expected error for short data")
	}
	if _, err := NewTensor(nil, nil); err == nil {
		t.Error("expected error for empty tensor")
	}
}

func TestSessionRejectsGarbage(t *testing.T) {
	env, err := SharedEnv()
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.NewSession([]byte("not a model"), 1); err == nil {
		t.Error("expected error for invalid model")
	}
	if _, err := env.NewSession(nil, 0); err == nil {
		t.Error("expected error for empty model")
	}
}
