// Package audio converts realtime PCM16 payloads and schedules synthesized
// speech for playback.
package audio

import (
	"encoding/base64"
	"fmt"
	"math"
)

// DecodeError reports a malformed base64 PCM16 payload.
type DecodeError struct {
	Len int
	Err error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("audio: decode %d-byte payload: %v", e.Len, e.Err)
	}
	return fmt.Sprintf("audio: decode %d-byte payload: odd byte count", e.Len)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// FloatToInt16 converts a normalised sample to PCM16. Values are clamped to
// [-1, 1]; negatives scale by 32768, non-negatives by 32767. NaN maps to 0.
func FloatToInt16(s float32) int16 {
	v := float64(s)
	switch {
	case math.IsNaN(v):
		return 0
	case v > 1:
		v = 1
	case v < -1:
		v = -1
	}
	if v < 0 {
		return int16(math.Round(v * 32768))
	}
	return int16(math.Round(v * 32767))
}

// Int16ToFloat converts a PCM16 sample back to [-1, 1].
func Int16ToFloat(s int16) float32 {
	if s < 0 {
		return float32(float64(s) / 32768)
	}
	return float32(float64(s) / 32767)
}

// EncodeInt16 packs samples as little-endian PCM16 and base64-encodes them.
func EncodeInt16(samples []int16) string {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		buf[i*2] = byte(s)
		buf[i*2+1] = byte(s >> 8)
	}
	return base64.StdEncoding.EncodeToString(buf)
}

// DecodeInt16 reverses EncodeInt16.
func DecodeInt16(payload string) ([]int16, error) {
	buf, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, &DecodeError{Len: len(payload), Err: err}
	}
	if len(buf)%2 != 0 {
		return nil, &DecodeError{Len: len(buf)}
	}
	out := make([]int16, len(buf)/2)
	for i := range out {
		out[i] = int16(buf[i*2]) | int16(buf[i*2+1])<<8
	}
	return out, nil
}

// Encode converts normalised samples to base64 PCM16.
func Encode(samples []float32) string {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		pcm[i] = FloatToInt16(s)
	}
	return EncodeInt16(pcm)
}

// Decode converts base64 PCM16 to normalised samples.
func Decode(payload string) ([]float32, error) {
	pcm, err := DecodeInt16(payload)
	if err != nil {
		return nil, err
	}
	out := make([]float32, len(pcm))
	for i, s := range pcm {
		out[i] = Int16ToFloat(s)
	}
	return out, nil
}
