// Package audio defines the audio data types flowing through the liveline
// pipeline and the PCM16 wire codec used to exchange audio with the remote
// agent endpoint.
//
// Audio inside the process is represented as normalized float32 samples in
// [-1, 1]. On the wire, audio travels as base64-encoded 16-bit little-endian
// PCM wrapped in a [Packet] envelope tagged with its sample rate.
package audio

import (
	"fmt"
	"time"
)

// Frame is one block of normalized audio samples captured from or destined
// for a device. Frames are ephemeral — created per capture callback and
// consumed immediately by the encoder.
type Frame struct {
	// Samples are normalized to [-1, 1].
	Samples []float32

	// SampleRate in Hz (e.g., 16000 for capture, 24000 for playback).
	SampleRate int

	// Channels: 1 for mono. Samples are interleaved when Channels > 1.
	Channels int
}

// Duration returns the playback duration of the frame.
func (f Frame) Duration() time.Duration {
	if f.SampleRate <= 0 || f.Channels <= 0 {
		return 0
	}
	return SamplesDuration(len(f.Samples)/f.Channels, f.SampleRate)
}

// Packet is the wire-safe envelope for one encoded audio chunk: base64 text
// wrapping 16-bit little-endian PCM, plus a mime descriptor carrying the
// sample rate. Packets are created per outbound frame and discarded after
// send; no acknowledgment is tracked.
type Packet struct {
	// MIMEType describes the payload, e.g. "audio/pcm;rate=16000".
	MIMEType string

	// Data is the base64-encoded PCM payload.
	Data string
}

// PCMMimeType returns the mime descriptor for raw PCM at the given rate.
func PCMMimeType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// SamplesDuration converts a per-channel sample count at the given rate into
// a duration.
func SamplesDuration(samples, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(int64(samples) * int64(time.Second) / int64(sampleRate))
}
