// Package native implements [device.Platform] on real hardware: microphone
// capture through malgo (miniaudio) and speaker output through oto.
package native

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"

	"github.com/liveline-audio/liveline/pkg/audio"
	"github.com/liveline-audio/liveline/pkg/audio/device"
)

// Compile-time assertions that the adapter satisfies the device interfaces.
var (
	_ device.Platform      = (*Platform)(nil)
	_ device.CaptureStream = (*captureStream)(nil)
)

// captureBlockMs is the fixed capture callback period. 20 ms at 16 kHz mono
// is 320 samples per block.
const captureBlockMs = 20

// Platform is a [device.Platform] backed by the host's default audio devices.
type Platform struct {
	mu       sync.Mutex
	malgoCtx *malgo.AllocatedContext
	sink     *otoSink
}

// NewPlatform initialises the miniaudio backend. Call [Platform.Close] when
// no more device streams will be opened.
func NewPlatform() (*Platform, error) {
	cfg := malgo.ContextConfig{}
	cfg.ThreadPriority = malgo.ThreadPriorityRealtime

	ctx, err := malgo.InitContext(nil, cfg, nil)
	if err != nil {
		return nil, fmt.Errorf("native: init audio context: %w", err)
	}
	return &Platform{malgoCtx: ctx}, nil
}

// OpenCapture implements [device.Platform]. It acquires the default capture
// device in the given format. Device-access refusal surfaces as an error
// wrapping [device.ErrPermissionDenied].
func (p *Platform) OpenCapture(ctx context.Context, f device.Format) (device.CaptureStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("native: open capture: %w", err)
	}

	stream := &captureStream{
		sampleRate: f.SampleRate,
		channels:   f.Channels,
	}

	devCfg := malgo.DefaultDeviceConfig(malgo.Capture)
	devCfg.Capture.Format = malgo.FormatS16
	devCfg.Capture.Channels = uint32(f.Channels)
	devCfg.SampleRate = uint32(f.SampleRate)
	devCfg.PeriodSizeInMilliseconds = captureBlockMs

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, input []byte, _ uint32) {
			stream.deliver(input)
		},
	}

	dev, err := malgo.InitDevice(p.malgoCtx.Context, devCfg, callbacks)
	if err != nil {
		// The OS hides the distinction between a missing device and a
		// denied one; treat capture init failure as an access problem.
		return nil, fmt.Errorf("%w: %v", device.ErrPermissionDenied, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return nil, fmt.Errorf("%w: start capture: %v", device.ErrPermissionDenied, err)
	}

	stream.device = dev
	return stream, nil
}

// OpenPlayback implements [device.Platform]. The underlying oto context is
// created on first use and reused; oto permits one context per process, so a
// second call with a different format fails.
func (p *Platform) OpenPlayback(ctx context.Context, f device.Format) (device.PlaybackSink, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("native: open playback: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.sink != nil {
		if p.sink.sampleRate != f.SampleRate || p.sink.channels != f.Channels {
			return nil, fmt.Errorf("native: playback already open at %dHz/%dch; cannot reopen at %dHz/%dch",
				p.sink.sampleRate, p.sink.channels, f.SampleRate, f.Channels)
		}
		p.sink.reopen()
		return p.sink, nil
	}

	sink, err := newOtoSink(f)
	if err != nil {
		return nil, err
	}
	p.sink = sink
	return sink, nil
}

// Close releases the miniaudio backend. Open streams must be closed first.
func (p *Platform) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.malgoCtx == nil {
		return nil
	}
	err := p.malgoCtx.Uninit()
	p.malgoCtx = nil
	if err != nil {
		return fmt.Errorf("native: uninit audio context: %w", err)
	}
	return nil
}

// ─── captureStream ────────────────────────────────────────────────────────────

// captureStream wraps one malgo capture device.
type captureStream struct {
	device     *malgo.Device
	sampleRate int
	channels   int

	mu     sync.Mutex
	cb     func(audio.Frame)
	closed bool
}

// Subscribe implements [device.CaptureStream]. Last writer wins.
func (c *captureStream) Subscribe(cb func(audio.Frame)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = cb
}

// Unsubscribe implements [device.CaptureStream].
func (c *captureStream) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cb = nil
}

// Close implements [device.CaptureStream]. Idempotent.
func (c *captureStream) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.cb = nil
	dev := c.device
	c.mu.Unlock()

	if dev != nil {
		_ = dev.Stop()
		dev.Uninit()
	}
	return nil
}

// deliver runs on the miniaudio capture thread. It converts the raw s16le
// block to a normalized [audio.Frame] and hands it to the subscriber without
// blocking.
func (c *captureStream) deliver(input []byte) {
	c.mu.Lock()
	cb := c.cb
	c.mu.Unlock()
	if cb == nil {
		return
	}

	samples := make([]float32, len(input)/2)
	for i := range samples {
		s := int16(input[i*2]) | int16(input[i*2+1])<<8
		samples[i] = float32(s) / 32768
	}
	cb(audio.Frame{
		Samples:    samples,
		SampleRate: c.sampleRate,
		Channels:   c.channels,
	})
}
