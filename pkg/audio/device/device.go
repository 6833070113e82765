// Package device defines the interfaces for audio device connectivity: a
// capture source delivering fixed-size microphone blocks and a playback sink
// that schedules decoded buffers at absolute times on a monotonic clock.
//
// Implementations are provided by adapter packages (device/native for real
// hardware via malgo and oto, device/mock for tests). The interfaces are
// intentionally narrow so the session controller stays decoupled from driver
// details.
//
// This package lives under pkg/ because external code (alternative device
// adapters) is expected to implement [Platform].
package device

import (
	"context"
	"errors"
	"time"

	"github.com/liveline-audio/liveline/pkg/audio"
)

// ErrPermissionDenied reports that the operating system refused access to the
// capture device. It is fatal to the attempted session; recovery requires an
// explicit manual restart after the user grants access.
var ErrPermissionDenied = errors.New("device: capture permission denied")

// Format describes the sample rate and channel count of a device stream.
type Format struct {
	SampleRate int
	Channels   int
}

// CaptureStream is an open microphone stream delivering fixed-format sample
// blocks to a subscribed callback.
//
// Implementations must be safe for concurrent use.
type CaptureStream interface {
	// Subscribe registers cb to receive capture blocks. Only one callback may
	// be registered at a time; subsequent calls replace the previous
	// registration. The callback runs on the driver's capture goroutine and
	// must never block.
	Subscribe(cb func(audio.Frame))

	// Unsubscribe clears the registered callback. Blocks delivered after
	// Unsubscribe returns are discarded.
	Unsubscribe()

	// Close stops capture and releases the device handle. Idempotent.
	Close() error
}

// Playback is a handle to one buffer scheduled on a [PlaybackSink].
type Playback interface {
	// Stop cancels the scheduled buffer immediately. Stopping a buffer that
	// has already finished is a no-op.
	Stop()
}

// PlaybackSink is an open output stream that plays decoded buffers at
// absolute positions on its own monotonic clock.
//
// Implementations must be safe for concurrent use.
type PlaybackSink interface {
	// Clock returns the current playback time since the sink was opened.
	// It is monotonic and advances in real time while the sink is open.
	Clock() time.Duration

	// Play schedules one decoded buffer (one []float32 per channel, aligned
	// in time) to start at the absolute clock position start. onDone is
	// invoked exactly once per buffer, when playback completes naturally or
	// the returned handle is stopped; it runs on an internal goroutine and
	// must not block.
	Play(buffers [][]float32, sampleRate int, start time.Duration, onDone func()) Playback

	// Close stops all scheduled buffers and releases the device handle.
	// Idempotent.
	Close() error
}

// Platform opens capture and playback device streams.
//
// Implementations wrap a concrete audio backend and must be safe for
// concurrent use.
type Platform interface {
	// OpenCapture acquires the capture device in the given format. It blocks
	// until the device is ready or ctx is cancelled. Access refusal is
	// reported with an error wrapping [ErrPermissionDenied].
	OpenCapture(ctx context.Context, f Format) (CaptureStream, error)

	// OpenPlayback acquires the playback device in the given format.
	OpenPlayback(ctx context.Context, f Format) (PlaybackSink, error)
}
