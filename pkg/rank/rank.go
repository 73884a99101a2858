// Package rank reduces classifier probability vectors to their top entries.
package rank

import (
	"cmp"
	"fmt"
	"math"
	"slices"
)

// DefaultK is the number of predictions reported per chunk.
const DefaultK = 3

// Prediction is one labeled confidence.
type Prediction struct {
	Species    string  `json:"species" yaml:"species" msgpack:"species"`
	Confidence float32 `json:"confidence" yaml:"confidence" msgpack:"confidence"`
}

// TopK returns the k highest confidences in probs, labeled from labels.
//
// The result has min(k, len(labels)) entries ordered by descending
// confidence. Equal confidences keep vocabulary order, and NaN ranks below
// every number.
func TopK(probs []float32, labels []string, k int) ([]Prediction, error) {
	if len(probs) != len(labels) {
		return nil, fmt.Errorf("rank: %d probabilities for %d labels", len(probs), len(labels))
	}
	if k < 0 {
		return nil, fmt.Errorf("rank: negative k %d", k)
	}
	k = min(k, len(labels))

	idx := make([]int, len(probs))
	for i := range idx {
		idx[i] = i
	}
	slices.SortStableFunc(idx, func(a, b int) int {
		return compare(probs[b], probs[a])
	})

	out := make([]Prediction, k)
	for i := range out {
		j := idx[i]
		out[i] = Prediction{Species: labels[j], Confidence: probs[j]}
	}
	return out, nil
}

// compare orders a before b when a < b, treating NaN as the smallest value.
func compare(a, b float32) int {
	an, bn := math.IsNaN(float64(a)), math.IsNaN(float64(b))
	switch {
	case an && bn:
		return 0
	case an:
		return -1
	case bn:
		return 1
	}
	return cmp.Compare(a, b)
}
