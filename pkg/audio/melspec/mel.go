package melspec

import "math"

// HannWindow generates a Hann window of length n.
//
// Even lengths use the periodic form (denominator n), odd lengths the
// symmetric form (denominator n-1), matching tf.signal.hannWindow.
func HannWindow(n int) []float64 {
	w := make([]float64, n)
	if n == 1 {
		w[0] = 1
		return w
	}
	even := 1 - n%2
	denom := float64(n + even - 1)
	for i := range w {
		w[i] = 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/denom)
	}
	return w
}

// hzToMel converts Hz to the HTK mel scale with a natural log,
// 1127 * ln(1 + f/700).
func hzToMel(hz float64) float64 {
	return 1127.0 * math.Log(1.0+hz/700.0)
}

// melToHz is the inverse of hzToMel.
func melToHz(mel float64) float64 {
	return 700.0 * (math.Exp(mel/1127.0) - 1.0)
}

// MelWeightMatrix returns a [spectrumBins][melBins] matrix of triangular
// filters spaced evenly on the mel scale between fmin and fmax.
//
// It follows tf.signal.linear_to_mel_weight_matrix: spectrum bin k sits at
// k*nyquist/(spectrumBins-1), the DC row is all zero, and each filter is
// max(0, min(lower slope, upper slope)) in the mel domain.
func MelWeightMatrix(melBins, spectrumBins, sampleRate int, fmin, fmax float64) [][]float64 {
	nyquist := float64(sampleRate) / 2

	lowMel := hzToMel(fmin)
	highMel := hzToMel(fmax)
	edges := make([]float64, melBins+2)
	step := (highMel - lowMel) / float64(melBins+1)
	for i := range edges {
		edges[i] = lowMel + float64(i)*step
	}

	w := make([][]float64, spectrumBins)
	w[0] = make([]float64, melBins)
	for k := 1; k < spectrumBins; k++ {
		row := make([]float64, melBins)
		var hz float64
		if spectrumBins > 1 {
			hz = float64(k) * nyquist / float64(spectrumBins-1)
		}
		binMel := hzToMel(hz)
		for m := 0; m < melBins; m++ {
			lower, center, upper := edges[m], edges[m+1], edges[m+2]
			lo := (binMel - lower) / (center - lower)
			up := (upper - binMel) / (upper - center)
			row[m] = math.Max(0, math.Min(lo, up))
		}
		w[k] = row
	}
	return w
}
