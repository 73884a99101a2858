package pcm

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// Encoding is a raw sample encoding.
type Encoding int

const (
	// F32LE is 32-bit IEEE float, little endian.
	F32LE Encoding = iota
	// S16LE is 16-bit signed integer, little endian.
	S16LE
)

// String returns the canonical encoding name.
func (e Encoding) String() string {
	switch e {
	case F32LE:
		return "f32le"
	case S16LE:
		return "s16le"
	}
	return fmt.Sprintf("Encoding(%d)", int(e))
}

// Width returns the size in bytes of one sample.
func (e Encoding) Width() int {
	switch e {
	case F32LE:
		return 4
	case S16LE:
		return 2
	}
	panic("pcm: invalid encoding")
}

// ParseEncoding parses an encoding name. An empty name means F32LE.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "f32le", "float32":
		return F32LE, nil
	case "s16le", "int16", "l16":
		return S16LE, nil
	}
	return 0, fmt.Errorf("pcm: unknown encoding %q", s)
}

// Frames returns the number of sample frames in n bytes.
func (e Encoding) Frames(n, channels int) int {
	if channels <= 0 {
		return 0
	}
	return n / (e.Width() * channels)
}

// Decode converts interleaved sample bytes into mono float32 samples.
// S16LE samples are scaled to [-1, 1).
func Decode(data []byte, enc Encoding, channels int) ([]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("pcm: invalid channel count %d", channels)
	}
	if enc != F32LE && enc != S16LE {
		return nil, fmt.Errorf("pcm: invalid encoding %v", enc)
	}
	frame := enc.Width() * channels
	if len(data)%frame != 0 {
		return nil, fmt.Errorf("pcm: %d bytes is not a whole number of %d-byte frames", len(data), frame)
	}

	out := make([]float32, len(data)/frame)
	inv := 1 / float32(channels)
	for i := range out {
		var sum float32
		base := i * frame
		for c := 0; c < channels; c++ {
			off := base + c*enc.Width()
			sum += sample(data[off:], enc)
		}
		out[i] = sum * inv
	}
	return out, nil
}

func sample(b []byte, enc Encoding) float32 {
	if enc == S16LE {
		return float32(int16(binary.LittleEndian.Uint16(b))) / 32768
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// EncodeF32LE writes mono samples as f32le bytes.
func EncodeF32LE(samples []float32) []byte {
	out := make([]byte, 4*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint32(out[4*i:], math.Float32bits(s))
	}
	return out
}
