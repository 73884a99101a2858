// Package chunker splits a continuous waveform into fixed-length windows.
//
// Every window has exactly the requested size. The last window is
// zero-padded on the right when the waveform length is not a multiple of
// the window size, so a waveform of L samples always yields ceil(L/C)
// windows of C samples.
//
// Example:
//
//	w := chunker.Waveform{Samples: samples, SampleRate: 48000}
//	for c := range chunker.All(w, chunker.ChunkSize(w.SampleRate)) {
//	    // c.Samples has len 144000
//	}
package chunker

import (
	"iter"
	"time"
)

// ChunkDuration is the duration of audio covered by one chunk.
const ChunkDuration = 3 * time.Second

// Waveform is a mono sample buffer at a fixed sample rate.
// The sample slice is treated as read-only.
type Waveform struct {
	Samples    []float32
	SampleRate int
}

// Len returns the total number of samples.
func (w Waveform) Len() int {
	return len(w.Samples)
}

// Duration returns the playback duration of the waveform.
func (w Waveform) Duration() time.Duration {
	if w.SampleRate <= 0 {
		return 0
	}
	return time.Duration(len(w.Samples)) * time.Second / time.Duration(w.SampleRate)
}

// Chunk is one fixed-length window of a Waveform.
type Chunk struct {
	// Index is the zero-based position of the chunk in the waveform.
	Index int

	// Samples holds exactly the chunk size samples. Samples beyond the end
	// of the waveform are zero.
	Samples []float32
}

// ChunkSize returns the number of samples in a ChunkDuration window at the
// given sample rate.
func ChunkSize(sampleRate int) int {
	return int(int64(sampleRate) * int64(ChunkDuration) / int64(time.Second))
}

// Count returns the number of chunks a waveform of length samples produces,
// ceil(length/size). It returns 0 when length or size is not positive.
func Count(length, size int) int {
	if length <= 0 || size <= 0 {
		return 0
	}
	return (length + size - 1) / size
}

// Split returns all chunks of w. It is a pure function; the returned chunks
// never alias w.Samples.
func Split(w Waveform, size int) []Chunk {
	chunks := make([]Chunk, 0, Count(w.Len(), size))
	for c := range All(w, size) {
		chunks = append(chunks, c)
	}
	return chunks
}

// All returns an iterator producing the chunks of w one at a time. Each
// chunk gets a freshly allocated sample slice, so a consumer that drops the
// chunk before advancing keeps at most one chunk alive.
func All(w Waveform, size int) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		n := Count(w.Len(), size)
		for i := 0; i < n; i++ {
			if !yield(At(w, size, i)) {
				return
			}
		}
	}
}

// At returns the chunk with the given index. Indexes at or beyond
// Count(w.Len(), size) produce an all-zero chunk.
func At(w Waveform, size, index int) Chunk {
	samples := make([]float32, size)
	start := index * size
	if start < w.Len() {
		end := min(start+size, w.Len())
		copy(samples, w.Samples[start:end])
	}
	return Chunk{Index: index, Samples: samples}
}
