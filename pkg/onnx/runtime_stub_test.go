//go:build !onnxruntime

package onnx

import (
	"errors"
	"testing"
)

func TestStubUnavailable(t *testing.T) {
	if Available {
		t.Fatal("stub build reports runtime available")
	}
	if _, err := SharedEnv(); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("SharedEnv err = %v", err)
	}
	if _, err := NewClassifier(&Env{}, []byte{1}); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("NewClassifier err = %v", err)
	}
}
