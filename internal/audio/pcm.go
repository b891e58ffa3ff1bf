package audio

import (
	"bytes"
	"encoding/base64"
	"errors"
)

// FloatToPCM16 converts normalized float32 samples to signed 16-bit PCM.
// Each sample is clamped to [-1, 1] before scaling.
func FloatToPCM16(samples []float32) []int16 {
	pcm := make([]int16, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		pcm[i] = int16(s * 0x7FFF)
	}
	return pcm
}

// PCM16ToBytes reinterprets PCM-16 samples as little-endian bytes
func PCM16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(s)
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

// BytesToPCM16 converts little-endian bytes back to PCM-16 samples
func BytesToPCM16(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(data[i*2]) | int16(data[i*2+1])<<8
	}
	return samples
}

// Base64 encoding path selection. Buffers below directEncodeLimit take the
// single-pass conversion; larger buffers are streamed through fixed windows
// to bound per-call work. All paths produce byte-identical output.
const (
	directEncodeLimit = 50000
	encodeWindowSize  = 32768
)

// EncodeChunkBase64 converts raw chunk bytes to their base64 transport form
func EncodeChunkBase64(data []byte) string {
	if len(data) < directEncodeLimit {
		return base64.StdEncoding.EncodeToString(data)
	}

	encoded, err := encodeWindowed(data)
	if err == nil {
		return encoded
	}

	// Last resort: feed the encoder one byte at a time
	return encodeByteByByte(data)
}

func encodeWindowed(data []byte) (encoded string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errEncodePanic
		}
	}()

	var buf bytes.Buffer
	buf.Grow(base64.StdEncoding.EncodedLen(len(data)))

	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	for off := 0; off < len(data); off += encodeWindowSize {
		end := off + encodeWindowSize
		if end > len(data) {
			end = len(data)
		}
		if _, werr := enc.Write(data[off:end]); werr != nil {
			return "", werr
		}
	}
	if cerr := enc.Close(); cerr != nil {
		return "", cerr
	}

	return buf.String(), nil
}

func encodeByteByByte(data []byte) string {
	var buf bytes.Buffer
	buf.Grow(base64.StdEncoding.EncodedLen(len(data)))

	enc := base64.NewEncoder(base64.StdEncoding, &buf)
	for i := range data {
		enc.Write(data[i : i+1])
	}
	enc.Close()

	return buf.String()
}

var errEncodePanic = errors.New("windowed base64 encode failed")
