package melspec

// FeatureMap is a [mels, frames, 1] power spectrogram stored row-major:
// Data[m*frames+t] is mel bin m (0 = highest frequency) at frame t.
type FeatureMap struct {
	Shape [3]int
	Data  []float32
}

// Mels returns the number of mel rows.
func (f *FeatureMap) Mels() int { return f.Shape[0] }

// Frames returns the number of time columns.
func (f *FeatureMap) Frames() int { return f.Shape[1] }

// At returns the value at mel row m and frame t.
func (f *FeatureMap) At(m, t int) float32 {
	return f.Data[m*f.Shape[1]+t]
}

// Dims returns the shape with a leading batch dimension of 1, the layout
// classifiers consume: [1, mels, frames, 1].
func (f *FeatureMap) Dims() []int {
	return []int{1, f.Shape[0], f.Shape[1], f.Shape[2]}
}

// Release drops the backing buffer.
func (f *FeatureMap) Release() {
	f.Data = nil
}
