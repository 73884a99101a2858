// Package pcm decodes raw PCM sample bytes into mono float32 buffers.
//
// Only headerless little-endian sample data is handled. Interleaved
// multi-channel input is downmixed by averaging channels.
//
// Example usage:
//
//	enc, _ := pcm.ParseEncoding("s16le")
//	samples, err := pcm.Decode(data, enc, 2)
package pcm
