// Package audio provides the PCM helpers and WAV codec used by the relay.
//
// All PCM in this codebase is little-endian signed 16-bit mono unless stated
// otherwise. Outbound audio is wrapped in a WAV envelope holding normalized
// 32-bit float samples; see [EncodeWAVFloat32].
package audio

import "fmt"

// ValidPCM16 reports whether b decodes to a whole number of 16-bit samples.
// A zero-length slice is valid (an empty frame carries no samples).
func ValidPCM16(b []byte) bool {
	return len(b)%2 == 0
}

// DecodePCM16 converts little-endian PCM bytes to int16 samples.
// Returns an error if the byte length is not a multiple of 2.
func DecodePCM16(b []byte) ([]int16, error) {
	if !ValidPCM16(b) {
		return nil, fmt.Errorf("audio: pcm length %d is not a multiple of 2", len(b))
	}
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(b[i*2]) | int16(b[i*2+1])<<8
	}
	return samples, nil
}

// EncodePCM16 converts int16 samples back to little-endian PCM bytes.
func EncodePCM16(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCM16ToFloat32 normalizes int16 samples to float32 in [-1, 1].
//
// The divisor is fixed at 32768: positive full scale lands just below 1.0
// (32767/32768) and negative full scale at exactly -1.0. Results are clipped
// so the invariant holds even for adversarial inputs.
func PCM16ToFloat32(samples []int16) []float32 {
	out := make([]float32, len(samples))
	for i, s := range samples {
		f := float32(s) / 32768
		if f > 1 {
			f = 1
		} else if f < -1 {
			f = -1
		}
		out[i] = f
	}
	return out
}
