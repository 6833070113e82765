// Package controller owns the lifecycle of one live voice session: device
// streams, the transport session, playback scheduling, and transcript
// aggregation, tied together by a single event loop.
//
// A [Controller] moves through Idle → Connecting → Active → Closing → Idle.
// Start is a guarded no-op unless the controller is Idle, so concurrent
// callers cannot open a second session. Every exit path — manual Stop,
// handshake failure, transport death, remote close — funnels through one
// teardown routine. There is no automatic reconnect: a failed session ends
// in Idle and the caller decides what happens next.
package controller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/liveline-audio/liveline/internal/observe"
	"github.com/liveline-audio/liveline/internal/playback"
	"github.com/liveline-audio/liveline/internal/transcript"
	"github.com/liveline-audio/liveline/internal/transport"
	"github.com/liveline-audio/liveline/pkg/audio"
	"github.com/liveline-audio/liveline/pkg/audio/device"
)

// defaultSendQueueDepth bounds outbound frames waiting for the sender
// goroutine. At 20ms capture blocks this is over half a second of audio;
// a transport that lags further than that is better served by dropping.
const defaultSendQueueDepth = 32

// State is the controller's lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateActive
	StateClosing
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Session is the slice of [transport.Session] the controller drives.
type Session interface {
	Send(audio.Packet)
	Events() <-chan transport.Event
	Err() error
	Close() error
}

// Opener opens transport sessions. Satisfied by [TransportOpener] in
// production and by mocks in tests.
type Opener interface {
	Open(ctx context.Context, cfg transport.Config) (Session, error)
}

// dialerOpener adapts a [transport.Dialer] to the [Opener] interface.
type dialerOpener struct {
	d *transport.Dialer
}

func (o dialerOpener) Open(ctx context.Context, cfg transport.Config) (Session, error) {
	return o.d.Open(ctx, cfg)
}

// TransportOpener wraps a [transport.Dialer] as an [Opener].
func TransportOpener(d *transport.Dialer) Opener {
	return dialerOpener{d: d}
}

// Config carries the per-session settings of a Controller.
type Config struct {
	// SessionID labels this controller's sessions in logs and the turn log.
	SessionID string

	// Session is the transport session configuration.
	Session transport.Config

	// SendQueueDepth bounds the outbound frame queue. Zero means the
	// default.
	SendQueueDepth int
}

// Option is a functional option for configuring a [Controller].
type Option func(*Controller)

// WithMetrics sets the metrics instance. Defaults to
// [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(c *Controller) { c.metrics = m }
}

// WithTurnSink registers fn to receive every committed transcript turn, in
// commit order. fn is called from the event loop and must not block.
func WithTurnSink(fn func(transcript.Turn)) Option {
	return func(c *Controller) { c.turnSink = fn }
}

// Controller drives one voice session at a time over a device platform and
// a transport opener. Safe for concurrent use.
type Controller struct {
	platform device.Platform
	opener   Opener
	cfg      Config
	metrics  *observe.Metrics
	turnSink func(transcript.Turn)

	mu      sync.Mutex
	state   State
	cur     *run
	lastErr error
}

// run bundles the resources of one session attempt. A fresh run is built on
// every successful Start; teardown releases it exactly once.
type run struct {
	sess    Session
	capture device.CaptureStream
	sink    device.PlaybackSink
	sched   *playback.Scheduler
	agg     *transcript.Aggregator

	sendQ chan audio.Packet
	stop  chan struct{}
	done  chan struct{}

	closeOnce sync.Once
}

// New creates a Controller. It opens nothing until [Controller.Start].
func New(platform device.Platform, opener Opener, cfg Config, opts ...Option) *Controller {
	if cfg.SendQueueDepth <= 0 {
		cfg.SendQueueDepth = defaultSendQueueDepth
	}
	if cfg.Session.CaptureRate <= 0 {
		cfg.Session.CaptureRate = 16000
	}
	if cfg.Session.PlaybackRate <= 0 {
		cfg.Session.PlaybackRate = 24000
	}
	if cfg.Session.Channels <= 0 {
		cfg.Session.Channels = 1
	}
	c := &Controller{
		platform: platform,
		opener:   opener,
		cfg:      cfg,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.metrics == nil {
		c.metrics = observe.DefaultMetrics()
	}
	return c
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Err returns the error that ended the most recent session, or nil when the
// last session closed cleanly (or none has run yet).
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Done returns a channel that closes once the current session has fully
// torn down. With no session running it returns an already closed channel.
func (c *Controller) Done() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cur != nil {
		return c.cur.done
	}
	closed := make(chan struct{})
	close(closed)
	return closed
}

// Start opens the capture stream, the playback sink, and the transport
// session, then begins streaming. While the controller is not Idle the call
// is a no-op returning nil; exactly one session open is attempted per
// transition out of Idle. On failure everything already opened is released
// and the controller returns to Idle with the error.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateIdle {
		st := c.state
		c.mu.Unlock()
		slog.Debug("controller: start ignored", "state", st.String())
		return nil
	}
	c.state = StateConnecting
	c.lastErr = nil
	c.mu.Unlock()

	err := c.connect(ctx)
	if err != nil {
		c.mu.Lock()
		c.state = StateIdle
		c.lastErr = err
		c.mu.Unlock()
		return err
	}
	return nil
}

// connect performs the open sequence for one session attempt. The caller
// owns the Connecting state and resets it on error.
func (c *Controller) connect(ctx context.Context) error {
	ctx, span := observe.StartSpan(ctx, "controller.start")
	defer span.End()

	capture, err := c.platform.OpenCapture(ctx, device.Format{
		SampleRate: c.cfg.Session.CaptureRate,
		Channels:   c.cfg.Session.Channels,
	})
	if err != nil {
		return fmt.Errorf("controller: open capture: %w", err)
	}

	sink, err := c.platform.OpenPlayback(ctx, device.Format{
		SampleRate: c.cfg.Session.PlaybackRate,
		Channels:   c.cfg.Session.Channels,
	})
	if err != nil {
		_ = capture.Close()
		return fmt.Errorf("controller: open playback: %w", err)
	}

	handshakeStart := time.Now()
	sess, err := c.opener.Open(ctx, c.cfg.Session)
	if err != nil {
		_ = capture.Close()
		_ = sink.Close()
		return fmt.Errorf("controller: open session: %w", err)
	}
	c.metrics.HandshakeDuration.Record(ctx, time.Since(handshakeStart).Seconds())

	r := &run{
		sess:    sess,
		capture: capture,
		sink:    sink,
		sched:   playback.NewScheduler(sink),
		agg:     transcript.NewAggregator(),
		sendQ:   make(chan audio.Packet, c.cfg.SendQueueDepth),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	c.state = StateActive
	c.cur = r
	c.mu.Unlock()
	c.metrics.ActiveSessions.Add(ctx, 1)

	// Capture runs on the driver's thread: encode and hand off without ever
	// blocking. A full queue drops the frame.
	capture.Subscribe(func(frame audio.Frame) {
		pkt := audio.Encode(frame)
		select {
		case r.sendQ <- pkt:
		default:
			c.metrics.FramesDropped.Add(context.Background(), 1)
		}
	})

	go c.sendLoop(r)
	go c.eventLoop(r)

	slog.Info("controller: session active",
		"session_id", c.cfg.SessionID,
		"capture_rate", c.cfg.Session.CaptureRate,
		"playback_rate", c.cfg.Session.PlaybackRate,
	)
	return nil
}

// Stop tears the current session down and blocks until the controller is
// Idle. It does not drain queued outbound audio. Stopping an idle
// controller is a no-op.
func (c *Controller) Stop() {
	c.mu.Lock()
	r := c.cur
	c.mu.Unlock()
	if r == nil {
		return
	}
	c.teardown(r, nil)
	<-r.done
}

// sendLoop is the single sender: it forwards queued packets to the session
// in capture order until teardown.
func (c *Controller) sendLoop(r *run) {
	for {
		select {
		case <-r.stop:
			return
		case pkt := <-r.sendQ:
			r.sess.Send(pkt)
			c.metrics.FramesSent.Add(context.Background(), 1)
		}
	}
}

// eventLoop is the single consumer of session events and the only mutator
// of the scheduler and aggregator. It runs until the session ends, then
// performs teardown.
func (c *Controller) eventLoop(r *run) {
	events := r.sess.Events()
	for ev := range events {
		if terminal := c.dispatch(r, ev); terminal {
			break
		}
	}
	c.teardown(r, r.sess.Err())
	// The channel is closed once teardown closes the session; discard
	// whatever arrived after the terminal event.
	audio.Drain(events)
}

// dispatch handles one session event. It reports whether the event ends
// the session.
func (c *Controller) dispatch(r *run, ev transport.Event) bool {
	ctx := context.Background()

	switch ev.Type {
	case transport.EventAudio:
		buffers, err := audio.Decode(ev.Audio, c.cfg.Session.Channels)
		if err != nil {
			// A malformed chunk is dropped; the session stays up.
			if errors.Is(err, audio.ErrMalformedPayload) {
				c.metrics.DecodeFailures.Add(ctx, 1)
				slog.Warn("controller: dropped malformed chunk", "error", err)
				return false
			}
			c.metrics.DecodeFailures.Add(ctx, 1)
			slog.Warn("controller: dropped undecodable chunk", "error", err)
			return false
		}
		r.sched.Schedule(buffers, c.cfg.Session.PlaybackRate)
		c.metrics.ChunksScheduled.Add(ctx, 1)
		c.metrics.RecordBuffered(ctx, r.sched.Buffered().Seconds())

	case transport.EventTranscript:
		r.agg.Append(roleOf(ev.Role), ev.Text)

	case transport.EventTurnComplete:
		for _, turn := range r.agg.CommitTurn() {
			c.metrics.RecordTurnCommitted(ctx, string(turn.Role))
			if c.turnSink != nil {
				c.turnSink(turn)
			}
		}

	case transport.EventInterrupted:
		r.sched.Interrupt()
		c.metrics.Interruptions.Add(ctx, 1)

	case transport.EventClosed:
		slog.Info("controller: session closed by server", "session_id", c.cfg.SessionID)
		return true

	case transport.EventError:
		slog.Error("controller: session failed", "session_id", c.cfg.SessionID, "error", ev.Err)
		return true
	}
	return false
}

// roleOf maps a transport role onto a transcript role.
func roleOf(r transport.Role) transcript.Role {
	if r == transport.RoleAgent {
		return transcript.RoleAgent
	}
	return transcript.RoleUser
}

// teardown releases everything a run holds. It is the single cleanup path
// for every exit and runs at most once per run; r.done closes when it has
// finished.
func (c *Controller) teardown(r *run, cause error) {
	r.closeOnce.Do(func() {
		c.mu.Lock()
		c.state = StateClosing
		c.mu.Unlock()

		r.capture.Unsubscribe()
		if err := r.capture.Close(); err != nil {
			slog.Warn("controller: close capture", "error", err)
		}
		close(r.stop)

		r.sched.Interrupt()
		if err := r.sess.Close(); err != nil {
			slog.Warn("controller: close session", "error", err)
		}
		if err := r.sink.Close(); err != nil {
			slog.Warn("controller: close playback", "error", err)
		}

		c.metrics.ActiveSessions.Add(context.Background(), -1)

		c.mu.Lock()
		c.state = StateIdle
		c.cur = nil
		if cause != nil {
			c.lastErr = cause
		}
		c.mu.Unlock()

		slog.Info("controller: session ended",
			"session_id", c.cfg.SessionID, "error", cause)
		close(r.done)
	})
}
