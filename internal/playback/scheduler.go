// Package playback schedules decoded agent audio for gapless output.
//
// Chunks arrive from the network faster than real time and in bursts. The
// [Scheduler] maintains a timeline cursor on the output device's clock:
// each chunk is scheduled to start exactly where the previous one ends, so
// consecutive chunks of one agent turn play back seamlessly regardless of
// arrival jitter. On interruption every queued and playing chunk is stopped
// at once and the timeline resets for the next turn.
package playback

import (
	"log/slog"
	"sync"
	"time"

	"github.com/liveline-audio/liveline/pkg/audio"
	"github.com/liveline-audio/liveline/pkg/audio/device"
)

// Scheduler sequences audio chunks onto a [device.PlaybackSink]. All
// methods are safe for concurrent use, though in practice a single event
// loop drives Schedule and Interrupt.
type Scheduler struct {
	sink device.PlaybackSink

	mu       sync.Mutex
	cursor   time.Duration
	inflight map[int]device.Playback
	nextID   int
}

// NewScheduler creates a Scheduler over the given sink. The sink is not
// owned: closing it remains the caller's responsibility.
func NewScheduler(sink device.PlaybackSink) *Scheduler {
	return &Scheduler{
		sink:     sink,
		inflight: make(map[int]device.Playback),
	}
}

// Schedule queues one decoded chunk for playback immediately after
// everything already scheduled. If the timeline has fallen behind the
// device clock (silence between turns), the cursor snaps forward so the
// chunk starts now rather than in the past.
func (s *Scheduler) Schedule(buffers [][]float32, sampleRate int) {
	if len(buffers) == 0 || len(buffers[0]) == 0 {
		return
	}
	dur := audio.SamplesDuration(len(buffers[0]), sampleRate)

	s.mu.Lock()
	if now := s.sink.Clock(); s.cursor < now {
		s.cursor = now
	}
	start := s.cursor
	s.cursor += dur

	id := s.nextID
	s.nextID++
	s.inflight[id] = nil // reserved; the handle lands below
	s.mu.Unlock()

	// Play outside the lock: a sink may fire onDone synchronously (e.g. when
	// it is already closed), and onDone takes the lock.
	handle := s.sink.Play(buffers, sampleRate, start, func() {
		s.mu.Lock()
		delete(s.inflight, id)
		s.mu.Unlock()
	})

	s.mu.Lock()
	if _, pending := s.inflight[id]; pending {
		s.inflight[id] = handle
	}
	s.mu.Unlock()
}

// Interrupt stops every queued and playing chunk and resets the timeline.
// It is idempotent; interrupting an idle scheduler is a no-op.
func (s *Scheduler) Interrupt() {
	s.mu.Lock()
	stopped := make([]device.Playback, 0, len(s.inflight))
	for id, h := range s.inflight {
		if h != nil {
			stopped = append(stopped, h)
		}
		delete(s.inflight, id)
	}
	s.cursor = 0
	s.mu.Unlock()

	// Stop outside the lock: the sink invokes onDone callbacks that take it.
	for _, h := range stopped {
		h.Stop()
	}
	if len(stopped) > 0 {
		slog.Debug("playback: interrupted", "stopped", len(stopped))
	}
}

// InFlight reports how many chunks are queued or playing.
func (s *Scheduler) InFlight() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.inflight)
}

// Buffered reports how far the scheduled timeline extends past the device
// clock, i.e. how much audio is queued ahead of real time.
func (s *Scheduler) Buffered() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.cursor - s.sink.Clock()
	if d < 0 {
		return 0
	}
	return d
}
