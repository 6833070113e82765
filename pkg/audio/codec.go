package audio

import (
	"encoding/base64"
	"errors"
	"fmt"
)

// ErrMalformedPayload reports an inbound payload whose byte length is not a
// whole number of 16-bit samples for the declared channel count. The
// offending chunk should be dropped; the error is local and never
// session-fatal.
var ErrMalformedPayload = errors.New("audio: malformed PCM payload")

// Encode converts a frame of normalized float32 samples into a wire [Packet].
// Each sample is scaled by 32768 and truncated to a signed 16-bit integer
// (no dithering), packed little-endian, base64-encoded, and tagged with the
// frame's sample rate.
func Encode(frame Frame) Packet {
	pcm := make([]byte, len(frame.Samples)*2)
	for i, s := range frame.Samples {
		v := int32(s * 32768)
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		pcm[i*2] = byte(v)
		pcm[i*2+1] = byte(v >> 8)
	}
	return Packet{
		MIMEType: PCMMimeType(frame.SampleRate),
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// EncodePCM wraps raw 16-bit little-endian PCM bytes in a wire [Packet]
// without resampling or conversion.
func EncodePCM(pcm []byte, sampleRate int) Packet {
	return Packet{
		MIMEType: PCMMimeType(sampleRate),
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}
}

// Decode unwraps a wire [Packet] into one normalized sample buffer per
// channel, aligned in time. The payload is reinterpreted as interleaved
// 16-bit little-endian signed samples, de-interleaved by channels, and
// normalized by dividing by 32768.
//
// A byte length that is not a multiple of 2×channels fails with
// [ErrMalformedPayload]. An empty payload decodes to empty buffers, not an
// error.
func Decode(p Packet, channels int) ([][]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: decode: invalid channel count %d", channels)
	}

	pcm, err := base64.StdEncoding.DecodeString(p.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid base64: %v", ErrMalformedPayload, err)
	}
	return DecodePCM(pcm, channels)
}

// DecodePCM de-interleaves raw 16-bit little-endian PCM bytes into one
// normalized float32 buffer per channel. See [Decode] for error semantics.
func DecodePCM(pcm []byte, channels int) ([][]float32, error) {
	if channels <= 0 {
		return nil, fmt.Errorf("audio: decode: invalid channel count %d", channels)
	}
	stride := 2 * channels
	if len(pcm)%stride != 0 {
		return nil, fmt.Errorf("%w: %d bytes is not a multiple of %d (2 × %d channels)",
			ErrMalformedPayload, len(pcm), stride, channels)
	}

	frames := len(pcm) / stride
	out := make([][]float32, channels)
	for ch := range out {
		out[ch] = make([]float32, frames)
	}
	for i := range frames {
		for ch := range channels {
			off := i*stride + ch*2
			s := int16(pcm[off]) | int16(pcm[off+1])<<8
			out[ch][i] = float32(s) / 32768
		}
	}
	return out, nil
}
