// Package melspec computes compressed mel power spectrograms from fixed
// length waveform chunks.
//
// The transform reproduces the front-end layer the BirdNET classifier was
// trained with. The order of operations is part of the contract:
//
//  1. min-max normalize the chunk to [-1, 1] (epsilon guarded)
//  2. short-time Fourier transform, Hann window of FrameLength samples,
//     FFT length FrameLength, hop FrameStep
//  3. project the spectrum onto mel bins (frames × bins · bins × mels)
//  4. square to power
//  5. compress with pow(v, 1/(1+exp(CompressionScale)))
//  6. flip the mel axis (highest frequency first) and transpose to
//     mels × frames
//  7. append a singleton channel axis
//
// Default parameters match the first BirdNET mel branch:
//
//	SampleRate:       48000
//	FrameLength:      2048
//	FrameStep:        278
//	FMin:             0
//	FMax:             3000
//	MelBins:          96
//	CompressionScale: 1.23
//
// For a 3 s chunk (144000 samples) this yields a [96, 511, 1] feature map.
package melspec

import (
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"strings"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/mat"
)

// normEpsilon keeps the normalization finite on silent or constant chunks.
const normEpsilon = 1e-6

// SpectrumMode selects how complex STFT coefficients become real values
// before mel projection.
type SpectrumMode int

const (
	// SpectrumMagnitude uses |X|.
	SpectrumMagnitude SpectrumMode = iota

	// SpectrumReal uses Re(X). This is what a plain complex-to-float cast
	// produces in TensorFlow, which some exported BirdNET front-ends do.
	SpectrumReal
)

func (m SpectrumMode) String() string {
	switch m {
	case SpectrumMagnitude:
		return "magnitude"
	case SpectrumReal:
		return "real"
	default:
		return fmt.Sprintf("SpectrumMode(%d)", int(m))
	}
}

// ParseSpectrumMode parses "magnitude" (or "") and "real".
func ParseSpectrumMode(s string) (SpectrumMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "magnitude", "abs":
		return SpectrumMagnitude, nil
	case "real":
		return SpectrumReal, nil
	}
	return 0, fmt.Errorf("melspec: unknown spectrum mode %q", s)
}

// Params controls the spectrogram transform.
type Params struct {
	SampleRate  int     // audio sample rate in Hz (default 48000)
	FrameLength int     // STFT frame and FFT length in samples (default 2048)
	FrameStep   int     // STFT hop in samples (default 278)
	FMin        float64 // lowest mel edge in Hz (default 0)
	FMax        float64 // highest mel edge in Hz (default 3000)
	MelBins     int     // number of mel bins (default 96)

	// Filterbank is the [FrameLength/2+1][MelBins] projection matrix. When
	// nil it is generated with MelWeightMatrix from the fields above.
	Filterbank [][]float32

	// CompressionScale is the learned scalar s of pow(v, 1/(1+exp(s))).
	CompressionScale float64

	Spectrum SpectrumMode
}

// DefaultParams returns the parameters of the first BirdNET mel branch.
func DefaultParams() Params {
	return Params{
		SampleRate:       48000,
		FrameLength:      2048,
		FrameStep:        278,
		FMin:             0,
		FMax:             3000,
		MelBins:          96,
		CompressionScale: 1.23,
		Spectrum:         SpectrumMagnitude,
	}
}

// Bins returns the number of one-sided spectrum bins, FrameLength/2+1.
func (p Params) Bins() int {
	return p.FrameLength/2 + 1
}

// Frames returns the number of STFT frames for a chunk of n samples.
func (p Params) Frames(n int) int {
	if p.FrameStep <= 0 || n < p.FrameLength {
		return 0
	}
	return (n-p.FrameLength)/p.FrameStep + 1
}

// Exponent returns the compression exponent 1/(1+exp(CompressionScale)).
func (p Params) Exponent() float64 {
	return 1 / (1 + math.Exp(p.CompressionScale))
}

// Validate checks the parameters against a chunk length.
func (p Params) Validate(chunkLen int) error {
	switch {
	case p.SampleRate <= 0:
		return errors.New("melspec: sample rate must be positive")
	case p.FrameLength < 2:
		return errors.New("melspec: frame length must be at least 2")
	case p.FrameStep <= 0:
		return errors.New("melspec: frame step must be positive")
	case p.MelBins <= 0:
		return errors.New("melspec: mel bins must be positive")
	case chunkLen < p.FrameLength:
		return fmt.Errorf("melspec: chunk length %d shorter than frame length %d", chunkLen, p.FrameLength)
	case math.IsNaN(p.CompressionScale) || math.IsInf(p.CompressionScale, 0):
		return errors.New("melspec: compression scale must be finite")
	}
	if p.Filterbank == nil {
		nyquist := float64(p.SampleRate) / 2
		if p.FMin < 0 || p.FMax <= p.FMin || p.FMax > nyquist {
			return fmt.Errorf("melspec: invalid frequency range [%g, %g] for nyquist %g", p.FMin, p.FMax, nyquist)
		}
		return nil
	}
	if len(p.Filterbank) != p.Bins() {
		return fmt.Errorf("melspec: filterbank has %d rows, want %d", len(p.Filterbank), p.Bins())
	}
	for i, row := range p.Filterbank {
		if len(row) != p.MelBins {
			return fmt.Errorf("melspec: filterbank row %d has %d columns, want %d", i, len(row), p.MelBins)
		}
	}
	return nil
}

// Extractor turns waveform chunks into feature maps. It holds only
// read-only state (window and filterbank) and is safe for concurrent use.
type Extractor struct {
	params     Params
	chunkLen   int
	frames     int
	exponent   float64
	window     []float64
	filterbank *mat.Dense // bins × mels
}

// New creates an Extractor for chunks of chunkLen samples.
func New(params Params, chunkLen int) (*Extractor, error) {
	if err := params.Validate(chunkLen); err != nil {
		return nil, err
	}
	bins := params.Bins()

	fb := mat.NewDense(bins, params.MelBins, nil)
	if params.Filterbank != nil {
		for i, row := range params.Filterbank {
			for j, v := range row {
				fb.Set(i, j, float64(v))
			}
		}
	} else {
		w := MelWeightMatrix(params.MelBins, bins, params.SampleRate, params.FMin, params.FMax)
		for i, row := range w {
			fb.SetRow(i, row)
		}
	}

	return &Extractor{
		params:     params,
		chunkLen:   chunkLen,
		frames:     params.Frames(chunkLen),
		exponent:   params.Exponent(),
		window:     HannWindow(params.FrameLength),
		filterbank: fb,
	}, nil
}

// Params returns the extractor parameters.
func (e *Extractor) Params() Params {
	return e.params
}

// ChunkLen returns the chunk length the extractor accepts.
func (e *Extractor) ChunkLen() int {
	return e.chunkLen
}

// Shape returns the fixed output shape [mels, frames, 1].
func (e *Extractor) Shape() [3]int {
	return [3]int{e.params.MelBins, e.frames, 1}
}

// Extract computes the feature map of one chunk.
func (e *Extractor) Extract(samples []float32) (*FeatureMap, error) {
	fm := &FeatureMap{}
	if err := e.ExtractInto(fm, samples); err != nil {
		return nil, err
	}
	return fm, nil
}

// ExtractInto computes the feature map of one chunk into dst, reusing
// dst.Data when it is large enough.
func (e *Extractor) ExtractInto(dst *FeatureMap, samples []float32) error {
	if len(samples) != e.chunkLen {
		return fmt.Errorf("melspec: chunk has %d samples, want %d", len(samples), e.chunkLen)
	}

	// Step 1: per-chunk min-max normalization to [-1, 1].
	x := normalize(samples)

	// Step 2: STFT.
	spec := e.stft(x)

	// Step 3: mel projection.
	var mel mat.Dense
	mel.Mul(spec, e.filterbank)

	// Steps 4-7: power, compression, flip, transpose, channel axis.
	mels, frames := e.params.MelBins, e.frames
	dst.Shape = e.Shape()
	if cap(dst.Data) < mels*frames {
		dst.Data = make([]float32, mels*frames)
	}
	dst.Data = dst.Data[:mels*frames]
	for t := 0; t < frames; t++ {
		for m := 0; m < mels; m++ {
			v := mel.At(t, m)
			p := math.Pow(v*v, e.exponent)
			dst.Data[(mels-1-m)*frames+t] = float32(p)
		}
	}
	return nil
}

// normalize maps samples to [-1, 1] using the chunk minimum and maximum.
func normalize(samples []float32) []float64 {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, s := range samples {
		v := float64(s)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	scale := hi - lo + normEpsilon
	x := make([]float64, len(samples))
	for i, s := range samples {
		x[i] = ((float64(s)-lo)/scale - 0.5) * 2
	}
	return x
}

// stft returns the frames × bins real spectrum of x. The FFT plan carries
// a work buffer, so each call builds its own.
func (e *Extractor) stft(x []float64) *mat.Dense {
	n := e.params.FrameLength
	step := e.params.FrameStep
	bins := e.params.Bins()

	fft := fourier.NewFFT(n)
	frame := make([]float64, n)
	coeffs := make([]complex128, bins)
	spec := mat.NewDense(e.frames, bins, nil)
	row := make([]float64, bins)

	for f := 0; f < e.frames; f++ {
		off := f * step
		for i := 0; i < n; i++ {
			frame[i] = x[off+i] * e.window[i]
		}
		coeffs = fft.Coefficients(coeffs, frame)
		for k, c := range coeffs {
			if e.params.Spectrum == SpectrumReal {
				row[k] = real(c)
			} else {
				row[k] = cmplx.Abs(c)
			}
		}
		spec.SetRow(f, row)
	}
	return spec
}
