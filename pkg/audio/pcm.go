// Package audio holds helpers for raw 16-bit little-endian PCM, the only
// sample format that crosses the voice pipeline.
package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// BitsPerSample is fixed at 16 for every stream handled by parley.
const BitsPerSample = 16

// fullScale is the magnitude of the largest 16-bit sample.
const fullScale = 32768.0

// RMS returns the root-mean-square energy of pcm in sample units (0-32767).
// A trailing odd byte is ignored. Returns 0 for buffers shorter than one
// sample.
func RMS(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}
	var sum float64
	for i := range n {
		v := float64(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
		sum += v * v
	}
	return math.Sqrt(sum / float64(n))
}

// NormalizedRMS returns RMS scaled to [0.0, 1.0] of full scale.
func NormalizedRMS(pcm []byte) float64 {
	return min(RMS(pcm)/fullScale, 1.0)
}

// BytesPerSecond is the byte rate of a 16-bit stream.
func BytesPerSecond(sampleRate, channels int) int {
	return sampleRate * channels * BitsPerSample / 8
}

// Duration returns the playback length of pcm. Returns 0 for a non-positive
// sample rate or channel count.
func Duration(pcm []byte, sampleRate, channels int) time.Duration {
	bps := BytesPerSecond(sampleRate, channels)
	if bps <= 0 {
		return 0
	}
	return time.Duration(len(pcm)) * time.Second / time.Duration(bps)
}

// EncodeWAV wraps pcm in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate, channels int) []byte {
	out := make([]byte, 44+len(pcm))
	le := binary.LittleEndian

	copy(out[0:], "RIFF")
	le.PutUint32(out[4:], uint32(36+len(pcm)))
	copy(out[8:], "WAVE")

	copy(out[12:], "fmt ")
	le.PutUint32(out[16:], 16)
	le.PutUint16(out[20:], 1) // linear PCM
	le.PutUint16(out[22:], uint16(channels))
	le.PutUint32(out[24:], uint32(sampleRate))
	le.PutUint32(out[28:], uint32(BytesPerSecond(sampleRate, channels)))
	le.PutUint16(out[32:], uint16(channels*BitsPerSample/8))
	le.PutUint16(out[34:], BitsPerSample)

	copy(out[36:], "data")
	le.PutUint32(out[40:], uint32(len(pcm)))
	copy(out[44:], pcm)
	return out
}
