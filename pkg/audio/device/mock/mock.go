// Package mock provides in-memory mock implementations of the
// [device.Platform], [device.CaptureStream], and [device.PlaybackSink]
// interfaces for use in unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields the test can set to control return values. The playback
// sink's clock is fully manual: tests advance it with [PlaybackSink.SetClock]
// and complete buffers with [PlaybackSink.Complete].
package mock

import (
	"context"
	"sync"
	"time"

	"github.com/liveline-audio/liveline/pkg/audio"
	"github.com/liveline-audio/liveline/pkg/audio/device"
)

// Compile-time interface assertions.
var (
	_ device.Platform      = (*Platform)(nil)
	_ device.CaptureStream = (*CaptureStream)(nil)
	_ device.PlaybackSink  = (*PlaybackSink)(nil)
)

// ─── CaptureStream ────────────────────────────────────────────────────────────

// CaptureStream is a mock implementation of [device.CaptureStream].
// Use [CaptureStream.EmitFrame] to simulate a capture callback firing.
type CaptureStream struct {
	mu sync.Mutex
	cb func(audio.Frame)

	// CloseError is returned by [CaptureStream.Close].
	CloseError error

	// CallCountSubscribe records how many times Subscribe was called.
	CallCountSubscribe int

	// CallCountUnsubscribe records how many times Unsubscribe was called.
	CallCountUnsubscribe int

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Subscribe implements [device.CaptureStream].
func (c *CaptureStream) Subscribe(cb func(audio.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountSubscribe++
	c.cb = cb
}

// Unsubscribe implements [device.CaptureStream].
func (c *CaptureStream) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountUnsubscribe++
	c.cb = nil
}

// Close implements [device.CaptureStream]. Returns CloseError.
func (c *CaptureStream) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountClose++
	return c.CloseError
}

// EmitFrame invokes the registered callback with frame, simulating the
// driver's capture goroutine. Frames emitted while no callback is registered
// are discarded, matching real driver behaviour.
func (c *CaptureStream) EmitFrame(frame audio.Frame) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb != nil {
		cb(frame)
	}
}

// ─── PlaybackSink ─────────────────────────────────────────────────────────────

// PlayCall records the arguments of a single [PlaybackSink.Play] invocation.
type PlayCall struct {
	Buffers    [][]float32
	SampleRate int
	Start      time.Duration
}

// playback is the handle returned by the mock sink.
type playback struct {
	sink *PlaybackSink
	idx  int
}

// Stop implements [device.Playback]. It marks the call stopped and fires its
// onDone exactly once.
func (p *playback) Stop() {
	p.sink.finish(p.idx, true)
}

// PlaybackSink is a mock implementation of [device.PlaybackSink] with a
// manually driven clock.
type PlaybackSink struct {
	mu    sync.Mutex
	clock time.Duration
	dones []func()
	done  []bool

	// Calls holds one [PlayCall] per Play invocation, in order.
	Calls []PlayCall

	// Stopped[i] is true once the handle for Calls[i] was stopped.
	Stopped []bool

	// CloseError is returned by [PlaybackSink.Close].
	CloseError error

	// CallCountClose records how many times Close was called.
	CallCountClose int
}

// Clock implements [device.PlaybackSink]. Returns the manual clock value.
func (s *PlaybackSink) Clock() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// SetClock sets the manual playback clock returned by [PlaybackSink.Clock].
func (s *PlaybackSink) SetClock(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = d
}

// Play implements [device.PlaybackSink]. The call is recorded; the buffer
// never completes until the test calls [PlaybackSink.Complete] or stops the
// returned handle.
func (s *PlaybackSink) Play(buffers [][]float32, sampleRate int, start time.Duration, onDone func()) device.Playback {
	s.mu.Lock()
	defer s.mu.Unlock()
	idx := len(s.Calls)
	s.Calls = append(s.Calls, PlayCall{Buffers: buffers, SampleRate: sampleRate, Start: start})
	s.Stopped = append(s.Stopped, false)
	s.dones = append(s.dones, onDone)
	s.done = append(s.done, false)
	return &playback{sink: s, idx: idx}
}

// Close implements [device.PlaybackSink]. Returns CloseError.
func (s *PlaybackSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.CallCountClose++
	return s.CloseError
}

// PlayCount returns the number of Play calls made so far. Unlike reading
// [PlaybackSink.Calls] directly, it is safe while other goroutines play.
func (s *PlaybackSink) PlayCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Calls)
}

// PlayCalls returns a snapshot of all Play calls made so far.
func (s *PlaybackSink) PlayCalls() []PlayCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]PlayCall, len(s.Calls))
	copy(out, s.Calls)
	return out
}

// StoppedCalls returns a snapshot of the per-call stopped flags.
func (s *PlaybackSink) StoppedCalls() []bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]bool, len(s.Stopped))
	copy(out, s.Stopped)
	return out
}

// Complete fires the onDone notification for the i-th Play call, simulating
// natural end of playback. Completing twice is a no-op.
func (s *PlaybackSink) Complete(i int) {
	s.finish(i, false)
}

// finish fires onDone for call i at most once; stopped marks interruption.
func (s *PlaybackSink) finish(i int, stopped bool) {
	s.mu.Lock()
	if i >= len(s.dones) || s.done[i] {
		s.mu.Unlock()
		return
	}
	s.done[i] = true
	if stopped {
		s.Stopped[i] = true
	}
	onDone := s.dones[i]
	s.mu.Unlock()
	if onDone != nil {
		onDone()
	}
}

// ─── Platform ─────────────────────────────────────────────────────────────────

// OpenCall records the format argument of one Open* invocation.
type OpenCall struct {
	Format device.Format
}

// Platform is a mock implementation of [device.Platform].
// Set the Result/Error fields before use; inspect the Calls fields after.
type Platform struct {
	mu sync.Mutex

	// CaptureResult is returned by [Platform.OpenCapture]. Defaults to a
	// fresh [CaptureStream] if left nil.
	CaptureResult *CaptureStream

	// CaptureError, when non-nil, is returned by OpenCapture instead.
	CaptureError error

	// PlaybackResult is returned by [Platform.OpenPlayback]. Defaults to a
	// fresh [PlaybackSink] if left nil.
	PlaybackResult *PlaybackSink

	// PlaybackError, when non-nil, is returned by OpenPlayback instead.
	PlaybackError error

	// CaptureCalls records every OpenCapture invocation in order.
	CaptureCalls []OpenCall

	// PlaybackCalls records every OpenPlayback invocation in order.
	PlaybackCalls []OpenCall
}

// OpenCapture implements [device.Platform].
func (p *Platform) OpenCapture(_ context.Context, f device.Format) (device.CaptureStream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CaptureCalls = append(p.CaptureCalls, OpenCall{Format: f})
	if p.CaptureError != nil {
		return nil, p.CaptureError
	}
	if p.CaptureResult == nil {
		p.CaptureResult = &CaptureStream{}
	}
	return p.CaptureResult, nil
}

// OpenPlayback implements [device.Platform].
func (p *Platform) OpenPlayback(_ context.Context, f device.Format) (device.PlaybackSink, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.PlaybackCalls = append(p.PlaybackCalls, OpenCall{Format: f})
	if p.PlaybackError != nil {
		return nil, p.PlaybackError
	}
	if p.PlaybackResult == nil {
		p.PlaybackResult = &PlaybackSink{}
	}
	return p.PlaybackResult, nil
}
