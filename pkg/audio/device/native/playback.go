package native

import (
	"bytes"
	"fmt"
	"sync"
	"time"

	"github.com/ebitengine/oto/v3"

	"github.com/liveline-audio/liveline/pkg/audio/device"
)

var (
	_ device.PlaybackSink = (*otoSink)(nil)
	_ device.Playback     = (*otoPlayback)(nil)
)

// playerPollInterval is how often a playback goroutine checks whether its oto
// player has drained. oto exposes no completion callback.
const playerPollInterval = 10 * time.Millisecond

// otoSink is a [device.PlaybackSink] backed by one oto context. The sink's
// clock is wall time since the sink was opened; oto does not expose the
// device clock.
type otoSink struct {
	otoCtx     *oto.Context
	sampleRate int
	channels   int
	epoch      time.Time

	mu      sync.Mutex
	handles map[*otoPlayback]struct{}
	closed  bool
}

func newOtoSink(f device.Format) (*otoSink, error) {
	otoCtx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   f.SampleRate,
		ChannelCount: f.Channels,
		Format:       oto.FormatSignedInt16LE,
		// 100 ms keeps latency low without starving the device.
		BufferSize: 100 * time.Millisecond,
	})
	if err != nil {
		return nil, fmt.Errorf("native: init playback: %w", err)
	}
	<-ready

	return &otoSink{
		otoCtx:     otoCtx,
		sampleRate: f.SampleRate,
		channels:   f.Channels,
		epoch:      time.Now(),
		handles:    make(map[*otoPlayback]struct{}),
	}, nil
}

// reopen resets the sink for reuse after Close. The oto context survives
// because the process may hold only one.
func (s *otoSink) reopen() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = false
	s.epoch = time.Now()
}

// Clock implements [device.PlaybackSink].
func (s *otoSink) Clock() time.Duration {
	return time.Since(s.epoch)
}

// Play implements [device.PlaybackSink]. The buffer is interleaved back to
// s16le PCM and handed to a goroutine that sleeps until the scheduled start,
// streams it through a fresh oto player, and fires onDone when the player
// drains or the handle is stopped.
func (s *otoSink) Play(buffers [][]float32, sampleRate int, start time.Duration, onDone func()) device.Playback {
	pb := &otoPlayback{
		sink:   s,
		cancel: make(chan struct{}),
		onDone: onDone,
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		pb.finish()
		return pb
	}
	s.handles[pb] = struct{}{}
	s.mu.Unlock()

	go pb.run(interleavePCM16(buffers), start)
	return pb
}

// Close implements [device.PlaybackSink]. It stops every scheduled buffer.
// The oto context itself is kept for reuse.
func (s *otoSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	pending := make([]*otoPlayback, 0, len(s.handles))
	for pb := range s.handles {
		pending = append(pending, pb)
	}
	s.mu.Unlock()

	for _, pb := range pending {
		pb.Stop()
	}
	return nil
}

func (s *otoSink) remove(pb *otoPlayback) {
	s.mu.Lock()
	delete(s.handles, pb)
	s.mu.Unlock()
}

// ─── otoPlayback ──────────────────────────────────────────────────────────────

// otoPlayback is the handle for one scheduled buffer.
type otoPlayback struct {
	sink     *otoSink
	cancel   chan struct{}
	stopOnce sync.Once
	doneOnce sync.Once
	onDone   func()
}

// Stop implements [device.Playback].
func (p *otoPlayback) Stop() {
	p.stopOnce.Do(func() { close(p.cancel) })
}

// finish fires the end-of-playback notification exactly once.
func (p *otoPlayback) finish() {
	p.doneOnce.Do(func() {
		p.sink.remove(p)
		if p.onDone != nil {
			p.onDone()
		}
	})
}

// run waits for the scheduled start, then plays pcm to completion or Stop.
func (p *otoPlayback) run(pcm []byte, start time.Duration) {
	defer p.finish()

	if delay := start - p.sink.Clock(); delay > 0 {
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-p.cancel:
			return
		case <-timer.C:
		}
	}

	player := p.sink.otoCtx.NewPlayer(bytes.NewReader(pcm))
	defer player.Close()
	player.Play()

	ticker := time.NewTicker(playerPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.cancel:
			player.Pause()
			return
		case <-ticker.C:
			if !player.IsPlaying() {
				return
			}
		}
	}
}

// interleavePCM16 converts channel-separated normalized buffers back to
// interleaved s16le PCM bytes.
func interleavePCM16(buffers [][]float32) []byte {
	if len(buffers) == 0 {
		return nil
	}
	frames := len(buffers[0])
	channels := len(buffers)
	out := make([]byte, frames*channels*2)
	for i := range frames {
		for ch := range channels {
			v := int32(buffers[ch][i] * 32768)
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			off := (i*channels + ch) * 2
			out[off] = byte(v)
			out[off+1] = byte(v >> 8)
		}
	}
	return out
}
