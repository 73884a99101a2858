// Package resampler converts mono float32 audio between sample rates.
//
// It wraps the pure Go resampler from github.com/tphakala/go-audio-resampling
// (no CGO) with a whole-buffer API: the pipeline receives complete sample
// buffers and needs them at the classifier's sample rate before chunking.
//
// Example:
//
//	out, err := resampler.Resample(samples, 44100, 48000)
package resampler

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// OutputLen returns the number of samples n input samples map to.
func OutputLen(n, srcRate, dstRate int) int {
	if srcRate <= 0 || dstRate <= 0 {
		return 0
	}
	return int((int64(n)*int64(dstRate) + int64(srcRate)/2) / int64(srcRate))
}

// Resample converts samples from srcRate to dstRate using the high quality
// preset. The output has exactly OutputLen(len(samples), srcRate, dstRate)
// samples. Equal rates return a copy of the input.
func Resample(samples []float32, srcRate, dstRate int) ([]float32, error) {
	if srcRate <= 0 || dstRate <= 0 {
		return nil, fmt.Errorf("resampler: invalid rates %d -> %d", srcRate, dstRate)
	}
	if srcRate == dstRate {
		out := make([]float32, len(samples))
		copy(out, samples)
		return out, nil
	}
	want := OutputLen(len(samples), srcRate, dstRate)
	if want == 0 {
		return []float32{}, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(srcRate),
		OutputRate: float64(dstRate),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("resampler: %w", err)
	}

	// The filter holds back part of the signal; a tenth of a second of
	// trailing silence pushes it out.
	tail := srcRate / 10
	input := make([]float64, len(samples)+tail)
	for i, s := range samples {
		input[i] = float64(s)
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("resampler: process: %w", err)
	}

	out := make([]float32, want)
	for i := 0; i < want && i < len(output); i++ {
		out[i] = float32(output[i])
	}
	return out, nil
}
