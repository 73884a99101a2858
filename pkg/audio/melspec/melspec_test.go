package melspec

import (
	"fmt"
	"math"
	"math/rand"
	"sync"
	"testing"
)

const chunkLen = 144000

func sine(n int, freq, rate, amp float64) []float32 {
	s := make([]float32, n)
	for i := range s {
		s[i] = float32(amp * math.Sin(2*math.Pi*freq*float64(i)/rate))
	}
	return s
}

func newDefault(t testing.TB) *Extractor {
	t.Helper()
	e, err := New(DefaultParams(), chunkLen)
	if err != nil {
		t.Fatal(err)
	}
	return e
}

func assertFinite(t *testing.T, fm *FeatureMap) {
	t.Helper()
	for i, v := range fm.Data {
		if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
			t.Fatalf("Data[%d] = %f (not finite)", i, v)
		}
	}
}

func TestHannWindow(t *testing.T) {
	w := HannWindow(4)
	want := []float64{0, 0.5, 1, 0.5}
	for i := range want {
		if math.Abs(w[i]-want[i]) > 1e-12 {
			t.Errorf("hann(4)[%d] = %f, want %f", i, w[i], want[i])
		}
	}
	// Odd lengths are symmetric with both endpoints at zero.
	w = HannWindow(5)
	if w[0] != 0 || math.Abs(w[4]) > 1e-12 || math.Abs(w[2]-1) > 1e-12 {
		t.Errorf("hann(5) = %v", w)
	}
}

func TestMelConversion(t *testing.T) {
	// 1127 * ln(1 + 1000/700) ≈ 999.99
	if m := hzToMel(1000); math.Abs(m-1000) > 0.1 {
		t.Errorf("hzToMel(1000) = %f, want ~1000", m)
	}
	if hz := melToHz(hzToMel(3000)); math.Abs(hz-3000) > 1e-6 {
		t.Errorf("round trip = %f, want 3000", hz)
	}
}

func TestMelWeightMatrix(t *testing.T) {
	w := MelWeightMatrix(96, 1025, 48000, 0, 3000)
	if len(w) != 1025 {
		t.Fatalf("expected 1025 rows, got %d", len(w))
	}
	for _, v := range w[0] {
		if v != 0 {
			t.Fatal("DC row must be zero")
		}
	}
	// Every filter must cover at least one bin and weights stay in [0, 1].
	for m := 0; m < 96; m++ {
		nonZero := false
		for k := range w {
			v := w[k][m]
			if v < 0 || v > 1 {
				t.Fatalf("w[%d][%d] = %f out of range", k, m, v)
			}
			if v > 0 {
				nonZero = true
			}
		}
		if !nonZero {
			t.Errorf("filter %d is all zeros", m)
		}
	}
	// Bins above fmax contribute nothing.
	above := int(math.Ceil(3000.0/24000.0*1024)) + 1
	for k := above; k < len(w); k++ {
		for m, v := range w[k] {
			if v != 0 {
				t.Fatalf("bin %d (above fmax) has weight %f in filter %d", k, v, m)
			}
		}
	}
}

func TestDefaultShape(t *testing.T) {
	e := newDefault(t)
	if got := e.Shape(); got != [3]int{96, 511, 1} {
		t.Fatalf("shape = %v, want [96 511 1]", got)
	}
}

func TestExtractKnownValues(t *testing.T) {
	// One 4-sample frame, with a filterbank that picks bin 1 and bin 2.
	p := Params{
		SampleRate:  8,
		FrameLength: 4,
		FrameStep:   4,
		MelBins:     2,
		Filterbank: [][]float32{
			{0, 0},
			{1, 0},
			{0, 1},
		},
		CompressionScale: 0, // exponent 1/2
	}
	e, err := New(p, 4)
	if err != nil {
		t.Fatal(err)
	}
	fm, err := e.Extract([]float32{0, 1, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	// normalized: [-1, 1, -1, 1]; windowed: [0, .5, -1, .5]
	// |X| = [0, 1, 2]; mel = [1, 2]; power^(1/2) = [1, 2]; flipped = [2, 1]
	if fm.Shape != [3]int{2, 1, 1} {
		t.Fatalf("shape = %v", fm.Shape)
	}
	if math.Abs(float64(fm.At(0, 0))-2) > 1e-4 {
		t.Errorf("row 0 = %f, want 2 (highest mel first)", fm.At(0, 0))
	}
	if math.Abs(float64(fm.At(1, 0))-1) > 1e-4 {
		t.Errorf("row 1 = %f, want 1", fm.At(1, 0))
	}
}

func TestExtractTransposesFrames(t *testing.T) {
	// Two frames: the first silent-ish, the second loud in bin 2.
	p := Params{
		SampleRate:  8,
		FrameLength: 4,
		FrameStep:   4,
		MelBins:     1,
		Filterbank:  [][]float32{{0}, {0}, {1}},
	}
	e, err := New(p, 8)
	if err != nil {
		t.Fatal(err)
	}
	fm, err := e.Extract([]float32{0, 0, 0, 0, 0, 1, 0, 1})
	if err != nil {
		t.Fatal(err)
	}
	if fm.Shape != [3]int{1, 2, 1} {
		t.Fatalf("shape = %v, want [1 2 1]", fm.Shape)
	}
	if !(fm.At(0, 1) > fm.At(0, 0)) {
		t.Errorf("frame 1 (%f) should exceed frame 0 (%f)", fm.At(0, 1), fm.At(0, 0))
	}
}

func TestExtractDeterministic(t *testing.T) {
	e := newDefault(t)
	pcm := sine(chunkLen, 2000, 48000, 0.3)
	a, err := e.Extract(pcm)
	if err != nil {
		t.Fatal(err)
	}
	b, err := e.Extract(pcm)
	if err != nil {
		t.Fatal(err)
	}
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatalf("Data[%d] differs: %f vs %f", i, a.Data[i], b.Data[i])
		}
	}
	orig := sine(chunkLen, 2000, 48000, 0.3)
	for i := range pcm {
		if pcm[i] != orig[i] {
			t.Fatalf("input sample %d was modified", i)
		}
	}
}

func TestExtractShapeInvariant(t *testing.T) {
	e := newDefault(t)
	rng := rand.New(rand.NewSource(1))
	noise := make([]float32, chunkLen)
	for i := range noise {
		noise[i] = float32(rng.NormFloat64())
	}
	constant := make([]float32, chunkLen)
	for i := range constant {
		constant[i] = 0.7
	}
	inputs := map[string][]float32{
		"zeros":    make([]float32, chunkLen),
		"constant": constant,
		"noise":    noise,
		"sine":     sine(chunkLen, 1500, 48000, 1),
	}
	for name, pcm := range inputs {
		fm, err := e.Extract(pcm)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if fm.Shape != e.Shape() {
			t.Errorf("%s: shape %v, want %v", name, fm.Shape, e.Shape())
		}
		if len(fm.Data) != 96*511 {
			t.Errorf("%s: len %d", name, len(fm.Data))
		}
		assertFinite(t, fm)
	}
}

func TestExtractScaleInvariant(t *testing.T) {
	// Min-max normalization makes the transform gain independent, except
	// for the epsilon term: it leaves a DC offset of about eps/(max-min),
	// which lands in spectrum bin 1. Rows fed by that bin are skipped.
	e := newDefault(t)
	mels, frames := e.Shape()[0], e.Shape()[1]
	dcRow := make([]bool, mels)
	for m := 0; m < mels; m++ {
		if e.filterbank.At(1, m) > 0 {
			dcRow[mels-1-m] = true
		}
	}

	quiet, err := e.Extract(sine(chunkLen, 2500, 48000, 0.3))
	if err != nil {
		t.Fatal(err)
	}
	loud, err := e.Extract(sine(chunkLen, 2500, 48000, 0.9))
	if err != nil {
		t.Fatal(err)
	}
	for i := range quiet.Data {
		if dcRow[i/frames] {
			continue
		}
		d := math.Abs(float64(quiet.Data[i] - loud.Data[i]))
		if d > 1e-3*math.Max(1, math.Abs(float64(loud.Data[i]))) {
			t.Fatalf("Data[%d]: %f vs %f", i, quiet.Data[i], loud.Data[i])
		}
	}
}

func TestExtractConcurrent(t *testing.T) {
	e := newDefault(t)
	pcm := sine(chunkLen, 1800, 48000, 0.5)
	want, err := e.Extract(pcm)
	if err != nil {
		t.Fatal(err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := e.Extract(pcm)
			if err != nil {
				errs <- err
				return
			}
			for i := range want.Data {
				if got.Data[i] != want.Data[i] {
					errs <- fmt.Errorf("Data[%d] = %f, want %f", i, got.Data[i], want.Data[i])
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestExtractToneLandsInMelBand(t *testing.T) {
	e := newDefault(t)
	fm, err := e.Extract(sine(chunkLen, 2000, 48000, 0.5))
	if err != nil {
		t.Fatal(err)
	}
	frame := fm.Frames() / 2
	best, bestRow := float32(-1), -1
	for m := 0; m < fm.Mels(); m++ {
		if v := fm.At(m, frame); v > best {
			best, bestRow = v, m
		}
	}
	// 2 kHz out of 0-3 kHz sits in the upper part of the mel range, which
	// after the flip is the first half of the rows.
	if bestRow < 0 || bestRow >= fm.Mels()/2 {
		t.Errorf("peak row = %d, expected in first half", bestRow)
	}
}

func TestExtractIntoReusesBuffer(t *testing.T) {
	e := newDefault(t)
	var fm FeatureMap
	if err := e.ExtractInto(&fm, sine(chunkLen, 1000, 48000, 0.5)); err != nil {
		t.Fatal(err)
	}
	first := &fm.Data[0]
	if err := e.ExtractInto(&fm, sine(chunkLen, 1200, 48000, 0.5)); err != nil {
		t.Fatal(err)
	}
	if &fm.Data[0] != first {
		t.Error("ExtractInto reallocated a large enough buffer")
	}
	fm.Release()
	if fm.Data != nil {
		t.Error("Release did not drop data")
	}
}

func TestExtractWrongLength(t *testing.T) {
	e := newDefault(t)
	if _, err := e.Extract(make([]float32, 1000)); err == nil {
		t.Fatal("expected error for short chunk")
	}
}

func TestSpectrumModes(t *testing.T) {
	p := DefaultParams()
	p.Spectrum = SpectrumReal
	re, err := New(p, chunkLen)
	if err != nil {
		t.Fatal(err)
	}
	mag := newDefault(t)
	pcm := sine(chunkLen, 1234, 48000, 0.5)
	a, _ := re.Extract(pcm)
	b, _ := mag.Extract(pcm)
	assertFinite(t, a)
	same := true
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			same = false
			break
		}
	}
	if same {
		t.Error("real and magnitude spectra should differ")
	}

	if m, err := ParseSpectrumMode("REAL"); err != nil || m != SpectrumReal {
		t.Errorf("ParseSpectrumMode(REAL) = %v, %v", m, err)
	}
	if _, err := ParseSpectrumMode("phase"); err == nil {
		t.Error("expected error for unknown mode")
	}
}

func TestValidate(t *testing.T) {
	bad := []func(*Params){
		func(p *Params) { p.SampleRate = 0 },
		func(p *Params) { p.FrameStep = 0 },
		func(p *Params) { p.MelBins = 0 },
		func(p *Params) { p.FMax = 30000 },
		func(p *Params) { p.FMin = 4000 },
		func(p *Params) { p.Filterbank = [][]float32{{1}} },
		func(p *Params) { p.CompressionScale = math.NaN() },
	}
	for i, mutate := range bad {
		p := DefaultParams()
		mutate(&p)
		if _, err := New(p, chunkLen); err == nil {
			t.Errorf("case %d: expected validation error", i)
		}
	}
	if _, err := New(DefaultParams(), 1000); err == nil {
		t.Error("expected error for chunk shorter than frame")
	}
}

func TestExponent(t *testing.T) {
	p := DefaultParams()
	want := 1 / (1 + math.Exp(1.23))
	if math.Abs(p.Exponent()-want) > 1e-15 {
		t.Fatalf("exponent = %f, want %f", p.Exponent(), want)
	}
}

func BenchmarkExtract(b *testing.B) {
	e := newDefault(b)
	pcm := sine(chunkLen, 2000, 48000, 0.5)
	var fm FeatureMap

	b.ResetTimer()
	b.ReportAllocs()
	for range b.N {
		_ = e.ExtractInto(&fm, pcm)
	}
}
